package orderqueue

import (
	"fmt"
	"sync"
	"testing"

	"github.com/krobus00/execution-engine/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(id string, priority entity.OrderPriority) *entity.Order {
	return &entity.Order{
		OrderID:  id,
		Symbol:   "BTCUSDT",
		Side:     entity.OrderSideBuy,
		Type:     entity.OrderTypeMarket,
		Amount:   decimal.NewFromInt(1),
		Priority: priority,
	}
}

func TestOrderQueue_PriorityOrdering(t *testing.T) {
	q := NewOrderQueue(100, 100)

	require.NoError(t, q.Enqueue(newOrder("low-1", entity.PriorityLow)))
	require.NoError(t, q.Enqueue(newOrder("critical-1", entity.PriorityCritical)))
	require.NoError(t, q.Enqueue(newOrder("high-1", entity.PriorityHigh)))
	require.NoError(t, q.Enqueue(newOrder("low-2", entity.PriorityLow)))

	var dequeued []string
	for {
		order, ok := q.Dequeue()
		if !ok {
			break
		}
		dequeued = append(dequeued, order.OrderID)
	}

	assert.Equal(t, []string{"critical-1", "high-1", "low-1", "low-2"}, dequeued)
}

func TestOrderQueue_FIFOWithinPriority(t *testing.T) {
	q := NewOrderQueue(100, 100)

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(newOrder(fmt.Sprintf("order-%d", i), entity.PriorityNormal)))
	}

	for i := 0; i < 10; i++ {
		order, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("order-%d", i), order.OrderID)
	}
}

func TestOrderQueue_DuplicateRejected(t *testing.T) {
	q := NewOrderQueue(100, 100)

	require.NoError(t, q.Enqueue(newOrder("dup", entity.PriorityNormal)))
	err := q.Enqueue(newOrder("dup", entity.PriorityNormal))
	assert.ErrorIs(t, err, ErrDuplicateOrder)

	assert.Equal(t, 1, q.Depth())
}

func TestOrderQueue_DuplicateRejectedAfterTerminal(t *testing.T) {
	q := NewOrderQueue(100, 100)

	require.NoError(t, q.Enqueue(newOrder("dup", entity.PriorityNormal)))
	_, ok := q.Dequeue()
	require.True(t, ok)
	require.NoError(t, q.MarkTerminal("dup", entity.OrderStatusFailed, entity.ExecutionResult{FailureReason: "boom"}))

	err := q.Enqueue(newOrder("dup", entity.PriorityNormal))
	assert.ErrorIs(t, err, ErrDuplicateOrder)
}

func TestOrderQueue_Saturation(t *testing.T) {
	q := NewOrderQueue(2, 100)

	require.NoError(t, q.Enqueue(newOrder("a", entity.PriorityNormal)))
	require.NoError(t, q.Enqueue(newOrder("b", entity.PriorityNormal)))

	err := q.Enqueue(newOrder("c", entity.PriorityNormal))
	assert.ErrorIs(t, err, ErrQueueSaturated)
}

func TestOrderQueue_TerminalIdempotency(t *testing.T) {
	q := NewOrderQueue(100, 100)

	require.NoError(t, q.Enqueue(newOrder("once", entity.PriorityNormal)))
	_, ok := q.Dequeue()
	require.True(t, ok)

	result := entity.ExecutionResult{
		FilledAmount: decimal.NewFromInt(1),
		FillPrice:    decimal.NewFromInt(100),
		Cost:         decimal.NewFromInt(100),
	}
	require.NoError(t, q.MarkTerminal("once", entity.OrderStatusFilled, result))

	err := q.MarkTerminal("once", entity.OrderStatusFilled, result)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	stats := q.Stats()
	assert.Equal(t, int64(1), stats.TotalExecuted)
}

func TestOrderQueue_MarkTerminalRejectsNonTerminalStatus(t *testing.T) {
	q := NewOrderQueue(100, 100)

	require.NoError(t, q.Enqueue(newOrder("pending", entity.PriorityNormal)))

	err := q.MarkTerminal("pending", entity.OrderStatusSubmitted, entity.ExecutionResult{})
	assert.ErrorIs(t, err, ErrInvalidTerminal)
}

func TestOrderQueue_FillInvariant(t *testing.T) {
	q := NewOrderQueue(100, 100)

	order := newOrder("inv", entity.PriorityNormal)
	order.Amount = decimal.NewFromInt(10)
	require.NoError(t, q.Enqueue(order))

	got, ok := q.Get("inv")
	require.True(t, ok)
	assert.True(t, got.RemainingAmount.Equal(decimal.NewFromInt(10)))

	_, ok = q.Dequeue()
	require.True(t, ok)
	require.NoError(t, q.MarkTerminal("inv", entity.OrderStatusPartiallyFilled, entity.ExecutionResult{
		FilledAmount: decimal.NewFromInt(4),
		FillPrice:    decimal.NewFromInt(100),
		Cost:         decimal.NewFromInt(400),
	}))

	got, ok = q.Get("inv")
	require.True(t, ok)
	assert.True(t, got.FilledAmount.Add(got.RemainingAmount).Equal(got.Amount))
}

func TestOrderQueue_Cancel(t *testing.T) {
	q := NewOrderQueue(100, 100)

	require.NoError(t, q.Enqueue(newOrder("keep", entity.PriorityNormal)))
	require.NoError(t, q.Enqueue(newOrder("drop", entity.PriorityNormal)))

	require.NoError(t, q.Cancel("drop"))
	assert.Equal(t, 1, q.Depth())

	got, ok := q.Get("drop")
	require.True(t, ok)
	assert.Equal(t, entity.OrderStatusCancelled, got.Status)

	err := q.Cancel("drop")
	assert.ErrorIs(t, err, ErrOrderNotPending)

	order, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "keep", order.OrderID)
}

func TestOrderQueue_RetentionEviction(t *testing.T) {
	q := NewOrderQueue(100, 3)

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("order-%d", i)
		require.NoError(t, q.Enqueue(newOrder(id, entity.PriorityNormal)))
		_, ok := q.Dequeue()
		require.True(t, ok)
		require.NoError(t, q.MarkTerminal(id, entity.OrderStatusFailed, entity.ExecutionResult{FailureReason: "x"}))
	}

	_, ok := q.Get("order-0")
	assert.False(t, ok, "evicted order should be gone")
	_, ok = q.Get("order-4")
	assert.True(t, ok)

	recent := q.Recent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, "order-4", recent[0].OrderID)

	// An evicted ID may be resubmitted.
	assert.NoError(t, q.Enqueue(newOrder("order-0", entity.PriorityNormal)))
}

func TestOrderQueue_ConcurrentEnqueueAssignsUniqueSequences(t *testing.T) {
	q := NewOrderQueue(1000, 1000)

	const producers = 8
	const perProducer = 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				id := fmt.Sprintf("p%d-o%d", p, i)
				assert.NoError(t, q.Enqueue(newOrder(id, entity.PriorityNormal)))
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, producers*perProducer, q.Depth())

	seen := make(map[uint64]bool)
	for {
		order, ok := q.Dequeue()
		if !ok {
			break
		}
		assert.False(t, seen[order.Sequence], "sequence %d assigned twice", order.Sequence)
		seen[order.Sequence] = true
	}
	assert.Len(t, seen, producers*perProducer)
}

func TestOrderQueue_WakeSignalledOnEnqueue(t *testing.T) {
	q := NewOrderQueue(100, 100)

	require.NoError(t, q.Enqueue(newOrder("wake", entity.PriorityNormal)))

	select {
	case <-q.Wake():
	default:
		t.Fatal("expected wake signal after enqueue")
	}
}
