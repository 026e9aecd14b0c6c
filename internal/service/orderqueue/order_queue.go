package orderqueue

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/krobus00/execution-engine/internal/entity"
)

var (
	ErrDuplicateOrder  = errors.New("duplicate order")
	ErrQueueSaturated  = errors.New("order queue saturated")
	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderNotPending = errors.New("order is not pending")
	ErrAlreadyTerminal = errors.New("order already in terminal state")
	ErrInvalidTerminal = errors.New("status is not terminal")
)

const (
	defaultMaxDepth  = 1000
	defaultRetention = 1000
)

// OrderQueue holds pending orders ordered by priority, then submission
/// sequence (FIFO within equal priority). It owns every order it has seen:
// terminal orders stay in a bounded recent-order history so duplicate IDs are
// rejected within the retention window and status queries keep working after
// execution. All reads return copies; mutation happens only under the lock.
//
// A continuous stream of CRITICAL/HIGH orders can starve LOW orders
// indefinitely. There is no aging or boosting; callers pick priorities
// accordingly.
type OrderQueue struct {
	mu sync.Mutex

	pending   orderHeap
	orders    map[string]*entity.Order
	recent    []string // terminal order IDs, oldest first
	nextSeq   uint64
	maxDepth  int
	retention int

	totalSubmitted int64
	totalExecuted  int64
	totalFailed    int64
	totalCancelled int64

	wake chan struct{}
}

func NewOrderQueue(maxDepth, retention int) *OrderQueue {
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	if retention <= 0 {
		retention = defaultRetention
	}

	return &OrderQueue{
		pending:   orderHeap{},
		orders:    make(map[string]*entity.Order),
		maxDepth:  maxDepth,
		retention: retention,
		nextSeq:   1,
		wake:      make(chan struct{}, 1),
	}
}

// Wake is signalled on every enqueue so the execution worker can block
// instead of polling.
func (q *OrderQueue) Wake() <-chan struct{} {
	return q.wake
}

// Enqueue assigns the submission sequence and adds the order as PENDING.
func (q *OrderQueue) Enqueue(order *entity.Order) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.orders[order.OrderID]; exists {
		return ErrDuplicateOrder
	}

	if q.pending.Len() >= q.maxDepth {
		return ErrQueueSaturated
	}

	if order.Sequence == 0 {
		order.Sequence = q.nextSeq
		q.nextSeq++
	}

	order.Status = entity.OrderStatusPending
	order.RemainingAmount = order.Amount
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	q.orders[order.OrderID] = order
	heap.Push(&q.pending, order)
	q.totalSubmitted++

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return nil
}

// Dequeue removes and returns a copy of the highest-priority pending order.
// Equal priorities resolve to the lowest sequence (earliest submission).
func (q *OrderQueue) Dequeue() (entity.Order, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending.Len() == 0 {
		return entity.Order{}, false
	}

	order := heap.Pop(&q.pending).(*entity.Order)
	return *order, true
}

// MarkSubmitted records the dequeue-to-exchange transition.
func (q *OrderQueue) MarkSubmitted(orderID string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	order, ok := q.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if order.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}

	order.Status = entity.OrderStatusSubmitted
	submittedAt := at.UTC()
	order.SubmittedAt = &submittedAt

	return nil
}

// MarkTerminal applies the terminal status and execution result. Terminal
// states are one-shot: a second call for the same order is rejected so
// volume and analytics are never double counted.
func (q *OrderQueue) MarkTerminal(orderID string, status entity.OrderStatus, result entity.ExecutionResult) error {
	if !status.IsTerminal() {
		return ErrInvalidTerminal
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	order, ok := q.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if order.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}

	order.Status = status
	order.FilledAmount = result.FilledAmount
	order.RemainingAmount = order.Amount.Sub(result.FilledAmount)
	order.Cost = result.Cost
	order.Slippage = result.Slippage
	order.FailureReason = result.FailureReason

	switch status {
	case entity.OrderStatusFilled, entity.OrderStatusPartiallyFilled:
		filledAt := time.Now().UTC()
		order.FilledAt = &filledAt
		q.totalExecuted++
	case entity.OrderStatusFailed:
		q.totalFailed++
	case entity.OrderStatusCancelled, entity.OrderStatusExpired:
		q.totalCancelled++
	}

	q.retainLocked(orderID)

	return nil
}

// Cancel removes a still-PENDING order from the queue and marks it CANCELLED.
func (q *OrderQueue) Cancel(orderID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	order, ok := q.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if order.Status != entity.OrderStatusPending {
		return ErrOrderNotPending
	}

	for idx, pending := range q.pending {
		if pending.OrderID == orderID {
			heap.Remove(&q.pending, idx)
			break
		}
	}

	order.Status = entity.OrderStatusCancelled
	q.totalCancelled++
	q.retainLocked(orderID)

	return nil
}

func (q *OrderQueue) retainLocked(orderID string) {
	q.recent = append(q.recent, orderID)
	for len(q.recent) > q.retention {
		evicted := q.recent[0]
		q.recent = q.recent[1:]
		delete(q.orders, evicted)
	}
}

// Get returns a copy of any known order, pending or terminal.
func (q *OrderQueue) Get(orderID string) (entity.Order, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	order, ok := q.orders[orderID]
	if !ok {
		return entity.Order{}, false
	}

	return *order, true
}

// Recent returns up to limit terminal orders, most recently terminal first.
func (q *OrderQueue) Recent(limit int) []entity.Order {
	q.mu.Lock()
	defer q.mu.Unlock()

	if limit <= 0 || limit > len(q.recent) {
		limit = len(q.recent)
	}

	orders := make([]entity.Order, 0, limit)
	for idx := len(q.recent) - 1; idx >= 0 && len(orders) < limit; idx-- {
		if order, ok := q.orders[q.recent[idx]]; ok {
			orders = append(orders, *order)
		}
	}

	return orders
}

func (q *OrderQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.pending.Len()
}

func (q *OrderQueue) Stats() entity.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return entity.QueueStats{
		Depth:          q.pending.Len(),
		TotalSubmitted: q.totalSubmitted,
		TotalExecuted:  q.totalExecuted,
		TotalFailed:    q.totalFailed,
		TotalCancelled: q.totalCancelled,
	}
}

type orderHeap []*entity.Order

func (h orderHeap) Len() int { return len(h) }

func (h orderHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].Sequence < h[j].Sequence
}

func (h orderHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *orderHeap) Push(x any) {
	*h = append(*h, x.(*entity.Order))
}

func (h *orderHeap) Pop() any {
	old := *h
	n := len(old)
	order := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return order
}
