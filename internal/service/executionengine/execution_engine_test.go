package executionengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/krobus00/execution-engine/internal/config"
	"github.com/krobus00/execution-engine/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	mu      sync.Mutex
	execute func(ctx context.Context, req entity.ExecutionRequest) (*entity.ExchangeFill, error)
}

func (a *stubAdapter) Execute(ctx context.Context, req entity.ExecutionRequest) (*entity.ExchangeFill, error) {
	a.mu.Lock()
	execute := a.execute
	a.mu.Unlock()

	return execute(ctx, req)
}

func (a *stubAdapter) set(execute func(ctx context.Context, req entity.ExecutionRequest) (*entity.ExchangeFill, error)) {
	a.mu.Lock()
	a.execute = execute
	a.mu.Unlock()
}

func fillAt(price int64) func(ctx context.Context, req entity.ExecutionRequest) (*entity.ExchangeFill, error) {
	return func(ctx context.Context, req entity.ExecutionRequest) (*entity.ExchangeFill, error) {
		p := decimal.NewFromInt(price)
		return &entity.ExchangeFill{
			FilledAmount:    req.Amount,
			FillPrice:       p,
			Cost:            req.Amount.Mul(p),
			ExchangeOrderID: "x-" + req.OrderID,
		}, nil
	}
}

func testConfig() config.EngineConfig {
	return config.EngineConfig{
		MaxQueueDepth:        100,
		AdapterTimeout:       200 * time.Millisecond,
		ShutdownGracePeriod:  100 * time.Millisecond,
		PollInterval:         5 * time.Millisecond,
		AnalyticsBufferSize:  100,
		RecentOrderRetention: 100,
	}
}

func newTestEngine(t *testing.T, adapter entity.ExchangeAdapter) *ExecutionEngineService {
	t.Helper()

	engine := NewExecutionEngineService(testConfig(), adapter, nil, nil, nil)
	require.NoError(t, engine.Start())
	t.Cleanup(func() {
		_ = engine.Stop()
	})

	return engine
}

func marketBuy(amount int64) entity.OrderRequest {
	return entity.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     entity.OrderSideBuy,
		Type:     entity.OrderTypeMarket,
		Amount:   decimal.NewFromInt(amount),
		Priority: entity.PriorityNormal,
	}
}

func waitTerminal(t *testing.T, engine *ExecutionEngineService, orderID string) entity.Order {
	t.Helper()

	var order entity.Order
	require.Eventually(t, func() bool {
		got, err := engine.GetOrder(orderID)
		if err != nil {
			return false
		}
		order = got
		return got.Status.IsTerminal()
	}, 2*time.Second, 5*time.Millisecond, "order %s never reached a terminal state", orderID)

	return order
}

func TestSubmitOrder_Validation(t *testing.T) {
	adapter := &stubAdapter{}
	adapter.set(fillAt(100))
	engine := newTestEngine(t, adapter)

	price := decimal.NewFromInt(100)

	tests := []struct {
		name string
		req  entity.OrderRequest
	}{
		{
			name: "missing symbol",
			req: entity.OrderRequest{
				Side:     entity.OrderSideBuy,
				Type:     entity.OrderTypeMarket,
				Amount:   decimal.NewFromInt(1),
				Priority: entity.PriorityNormal,
			},
		},
		{
			name: "non-positive amount",
			req: entity.OrderRequest{
				Symbol:   "BTCUSDT",
				Side:     entity.OrderSideBuy,
				Type:     entity.OrderTypeMarket,
				Amount:   decimal.Zero,
				Priority: entity.PriorityNormal,
			},
		},
		{
			name: "limit without price",
			req: entity.OrderRequest{
				Symbol:   "BTCUSDT",
				Side:     entity.OrderSideBuy,
				Type:     entity.OrderTypeLimit,
				Amount:   decimal.NewFromInt(1),
				Priority: entity.PriorityNormal,
			},
		},
		{
			name: "stop without stop price",
			req: entity.OrderRequest{
				Symbol:   "BTCUSDT",
				Side:     entity.OrderSideSell,
				Type:     entity.OrderTypeStop,
				Amount:   decimal.NewFromInt(1),
				Price:    &price,
				Priority: entity.PriorityNormal,
			},
		},
		{
			name: "unknown side",
			req: entity.OrderRequest{
				Symbol:   "BTCUSDT",
				Side:     entity.OrderSide("HOLD"),
				Type:     entity.OrderTypeMarket,
				Amount:   decimal.NewFromInt(1),
				Priority: entity.PriorityNormal,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.SubmitOrder(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidOrder)
		})
	}
}

func TestSubmitOrder_RejectedWhileStopped(t *testing.T) {
	adapter := &stubAdapter{}
	adapter.set(fillAt(100))

	engine := NewExecutionEngineService(testConfig(), adapter, nil, nil, nil)

	_, err := engine.SubmitOrder(context.Background(), marketBuy(1))
	assert.ErrorIs(t, err, ErrEngineNotRunning)
}

func TestEngine_StartIdempotent(t *testing.T) {
	adapter := &stubAdapter{}
	adapter.set(fillAt(100))

	engine := NewExecutionEngineService(testConfig(), adapter, nil, nil, nil)
	require.NoError(t, engine.Start())
	defer engine.Stop()

	require.NoError(t, engine.Start())
	assert.Equal(t, entity.EngineStateRunning, engine.State())
}

func TestEngine_ExecutesOrder(t *testing.T) {
	adapter := &stubAdapter{}
	adapter.set(fillAt(100))
	engine := newTestEngine(t, adapter)

	orderID, err := engine.SubmitOrder(context.Background(), marketBuy(2))
	require.NoError(t, err)

	order := waitTerminal(t, engine, orderID)
	assert.Equal(t, entity.OrderStatusFilled, order.Status)
	assert.True(t, order.FilledAmount.Equal(decimal.NewFromInt(2)))
	assert.True(t, order.RemainingAmount.IsZero())
	assert.True(t, order.Cost.Equal(decimal.NewFromInt(200)))
	require.NotNil(t, order.FilledAt)

	pos, ok := engine.PositionTracker().GetPosition("BTCUSDT")
	require.True(t, ok)
	assert.True(t, pos.Amount.Equal(decimal.NewFromInt(2)))
	assert.True(t, pos.EntryPrice.Equal(decimal.NewFromInt(100)))

	report := engine.GetAnalytics()
	assert.Equal(t, int64(1), report.Basic.TotalExecutions)
	assert.Equal(t, int64(1), report.Basic.SuccessfulExecutions)
}

func TestEngine_LimitOrderSlippage(t *testing.T) {
	adapter := &stubAdapter{}
	adapter.set(fillAt(101))
	engine := newTestEngine(t, adapter)

	price := decimal.NewFromInt(100)
	orderID, err := engine.SubmitOrder(context.Background(), entity.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     entity.OrderSideBuy,
		Type:     entity.OrderTypeLimit,
		Amount:   decimal.NewFromInt(1),
		Price:    &price,
		Priority: entity.PriorityNormal,
	})
	require.NoError(t, err)

	order := waitTerminal(t, engine, orderID)
	assert.Equal(t, entity.OrderStatusFilled, order.Status)
	assert.True(t, order.Slippage.Equal(decimal.RequireFromString("0.01")), "slippage = %s", order.Slippage)
}

func TestEngine_AdapterFailureIsolated(t *testing.T) {
	adapter := &stubAdapter{}
	adapter.set(func(ctx context.Context, req entity.ExecutionRequest) (*entity.ExchangeFill, error) {
		return nil, errors.New("exchange rejected order")
	})
	engine := newTestEngine(t, adapter)

	failedID, err := engine.SubmitOrder(context.Background(), marketBuy(1))
	require.NoError(t, err)

	failed := waitTerminal(t, engine, failedID)
	assert.Equal(t, entity.OrderStatusFailed, failed.Status)
	assert.Equal(t, "exchange rejected order", failed.FailureReason)
	assert.True(t, failed.FilledAmount.IsZero())

	// The loop keeps going: the next order succeeds.
	adapter.set(fillAt(100))
	okID, err := engine.SubmitOrder(context.Background(), marketBuy(1))
	require.NoError(t, err)

	ok := waitTerminal(t, engine, okID)
	assert.Equal(t, entity.OrderStatusFilled, ok.Status)

	stats := engine.GetEngineStatus().QueueStats
	assert.Equal(t, int64(1), stats.TotalExecuted)
	assert.Equal(t, int64(1), stats.TotalFailed)
}

func TestEngine_AdapterPanicIsolated(t *testing.T) {
	adapter := &stubAdapter{}
	adapter.set(func(ctx context.Context, req entity.ExecutionRequest) (*entity.ExchangeFill, error) {
		panic("adapter blew up")
	})
	engine := newTestEngine(t, adapter)

	orderID, err := engine.SubmitOrder(context.Background(), marketBuy(1))
	require.NoError(t, err)

	order := waitTerminal(t, engine, orderID)
	assert.Equal(t, entity.OrderStatusFailed, order.Status)
	assert.Contains(t, order.FailureReason, "adapter panic")
	assert.Equal(t, entity.EngineStateRunning, engine.State())
}

func TestEngine_AdapterTimeout(t *testing.T) {
	adapter := &stubAdapter{}
	adapter.set(func(ctx context.Context, req entity.ExecutionRequest) (*entity.ExchangeFill, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	engine := newTestEngine(t, adapter)

	orderID, err := engine.SubmitOrder(context.Background(), marketBuy(1))
	require.NoError(t, err)

	order := waitTerminal(t, engine, orderID)
	assert.Equal(t, entity.OrderStatusFailed, order.Status)
	assert.Equal(t, "adapter_timeout", order.FailureReason)
}

func TestEngine_InvalidAdapterResponse(t *testing.T) {
	adapter := &stubAdapter{}
	adapter.set(func(ctx context.Context, req entity.ExecutionRequest) (*entity.ExchangeFill, error) {
		return &entity.ExchangeFill{
			FilledAmount: decimal.Zero,
			FillPrice:    decimal.Zero,
		}, nil
	})
	engine := newTestEngine(t, adapter)

	orderID, err := engine.SubmitOrder(context.Background(), marketBuy(1))
	require.NoError(t, err)

	order := waitTerminal(t, engine, orderID)
	assert.Equal(t, entity.OrderStatusFailed, order.Status)
	assert.Equal(t, "invalid_adapter_response", order.FailureReason)
}

func TestEngine_PartialFillIsTerminal(t *testing.T) {
	adapter := &stubAdapter{}
	adapter.set(func(ctx context.Context, req entity.ExecutionRequest) (*entity.ExchangeFill, error) {
		half := req.Amount.Div(decimal.NewFromInt(2))
		p := decimal.NewFromInt(100)
		return &entity.ExchangeFill{
			FilledAmount: half,
			FillPrice:    p,
			Cost:         half.Mul(p),
		}, nil
	})
	engine := newTestEngine(t, adapter)

	orderID, err := engine.SubmitOrder(context.Background(), marketBuy(2))
	require.NoError(t, err)

	order := waitTerminal(t, engine, orderID)
	assert.Equal(t, entity.OrderStatusPartiallyFilled, order.Status)
	assert.True(t, order.FilledAmount.Equal(decimal.NewFromInt(1)))
	assert.True(t, order.RemainingAmount.Equal(decimal.NewFromInt(1)))

	// The remainder is not re-queued.
	assert.Equal(t, 0, engine.GetEngineStatus().QueueStats.Depth)
}

func TestEngine_SellUpdatesRealizedPnl(t *testing.T) {
	adapter := &stubAdapter{}
	adapter.set(fillAt(100))
	engine := newTestEngine(t, adapter)

	buyID, err := engine.SubmitOrder(context.Background(), marketBuy(1))
	require.NoError(t, err)
	waitTerminal(t, engine, buyID)

	adapter.set(fillAt(130))
	sellID, err := engine.SubmitOrder(context.Background(), entity.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     entity.OrderSideSell,
		Type:     entity.OrderTypeMarket,
		Amount:   decimal.NewFromInt(1),
		Priority: entity.PriorityNormal,
	})
	require.NoError(t, err)
	waitTerminal(t, engine, sellID)

	pos, ok := engine.PositionTracker().GetPosition("BTCUSDT")
	require.True(t, ok)
	assert.True(t, pos.Amount.IsZero())
	assert.True(t, pos.RealizedPnl.Equal(decimal.NewFromInt(30)), "realized = %s", pos.RealizedPnl)
}

func TestEngine_NoOrderLoss(t *testing.T) {
	adapter := &stubAdapter{}
	adapter.set(func(ctx context.Context, req entity.ExecutionRequest) (*entity.ExchangeFill, error) {
		// Roughly half the orders fail; none may be lost either way.
		if len(req.OrderID)%2 == 0 {
			return nil, errors.New("rejected")
		}
		p := decimal.NewFromInt(100)
		return &entity.ExchangeFill{FilledAmount: req.Amount, FillPrice: p, Cost: req.Amount.Mul(p)}, nil
	})

	cfg := testConfig()
	cfg.MaxQueueDepth = 1000
	cfg.RecentOrderRetention = 1000
	engine := NewExecutionEngineService(cfg, adapter, nil, nil, nil)
	require.NoError(t, engine.Start())
	defer engine.Stop()

	const producers = 5
	const perProducer = 20

	var wg sync.WaitGroup
	ids := make(chan string, producers*perProducer)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				req := marketBuy(1)
				req.OrderID = fmt.Sprintf("p%d-o%d", p, i)
				id, err := engine.SubmitOrder(context.Background(), req)
				assert.NoError(t, err)
				ids <- id
			}
		}(p)
	}
	wg.Wait()
	close(ids)

	for id := range ids {
		order := waitTerminal(t, engine, id)
		assert.Contains(t, []entity.OrderStatus{entity.OrderStatusFilled, entity.OrderStatusFailed}, order.Status)
	}

	stats := engine.GetEngineStatus().QueueStats
	assert.Equal(t, int64(producers*perProducer), stats.TotalSubmitted)
	assert.Equal(t, int64(producers*perProducer), stats.TotalExecuted+stats.TotalFailed)
}

func TestEngine_GracefulShutdownForcesInFlightOrder(t *testing.T) {
	blocking := make(chan struct{})
	adapter := &stubAdapter{}
	adapter.set(func(ctx context.Context, req entity.ExecutionRequest) (*entity.ExchangeFill, error) {
		close(blocking)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	cfg := testConfig()
	cfg.AdapterTimeout = 10 * time.Second // longer than the grace period
	cfg.ShutdownGracePeriod = 50 * time.Millisecond
	engine := NewExecutionEngineService(cfg, adapter, nil, nil, nil)
	require.NoError(t, engine.Start())

	orderID, err := engine.SubmitOrder(context.Background(), marketBuy(1))
	require.NoError(t, err)

	// Wait until the order is actually in flight.
	select {
	case <-blocking:
	case <-time.After(2 * time.Second):
		t.Fatal("order never reached the adapter")
	}

	require.NoError(t, engine.Stop())

	order, err := engine.GetOrder(orderID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusFailed, order.Status)
	assert.Equal(t, "engine_shutdown", order.FailureReason)

	status := engine.GetEngineStatus()
	assert.False(t, status.IsRunning)
	assert.Equal(t, entity.EngineStateStopped, status.State)
}

func TestEngine_StopThenRestart(t *testing.T) {
	adapter := &stubAdapter{}
	adapter.set(fillAt(100))

	engine := NewExecutionEngineService(testConfig(), adapter, nil, nil, nil)
	require.NoError(t, engine.Start())
	require.NoError(t, engine.Stop())
	require.NoError(t, engine.Stop()) // stop is a no-op when already stopped

	require.NoError(t, engine.Start())
	defer engine.Stop()

	orderID, err := engine.SubmitOrder(context.Background(), marketBuy(1))
	require.NoError(t, err)

	order := waitTerminal(t, engine, orderID)
	assert.Equal(t, entity.OrderStatusFilled, order.Status)
}

func TestEngine_CancelPendingOrder(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	adapter := &stubAdapter{}
	var once sync.Once
	adapter.set(func(ctx context.Context, req entity.ExecutionRequest) (*entity.ExchangeFill, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return fillAt(100)(ctx, req)
	})
	engine := newTestEngine(t, adapter)

	blockerID, err := engine.SubmitOrder(context.Background(), marketBuy(1))
	require.NoError(t, err)
	<-started

	pendingID, err := engine.SubmitOrder(context.Background(), marketBuy(1))
	require.NoError(t, err)

	require.NoError(t, engine.CancelOrder(pendingID))
	close(release)

	cancelled, err := engine.GetOrder(pendingID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusCancelled, cancelled.Status)

	blocker := waitTerminal(t, engine, blockerID)
	assert.Equal(t, entity.OrderStatusFilled, blocker.Status)
}

func TestEngine_DuplicateSubmitRejected(t *testing.T) {
	adapter := &stubAdapter{}
	adapter.set(func(ctx context.Context, req entity.ExecutionRequest) (*entity.ExchangeFill, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	engine := newTestEngine(t, adapter)

	req := marketBuy(1)
	req.OrderID = "same-id"

	_, err := engine.SubmitOrder(context.Background(), req)
	require.NoError(t, err)

	_, err = engine.SubmitOrder(context.Background(), req)
	assert.ErrorIs(t, err, ErrDuplicateOrder)
}

func TestEngine_QueueSaturation(t *testing.T) {
	blocking := make(chan struct{})
	adapter := &stubAdapter{}
	var once sync.Once
	adapter.set(func(ctx context.Context, req entity.ExecutionRequest) (*entity.ExchangeFill, error) {
		once.Do(func() { close(blocking) })
		<-ctx.Done()
		return nil, ctx.Err()
	})

	cfg := testConfig()
	cfg.MaxQueueDepth = 2
	cfg.AdapterTimeout = 10 * time.Second
	cfg.ShutdownGracePeriod = 10 * time.Millisecond
	engine := NewExecutionEngineService(cfg, adapter, nil, nil, nil)
	require.NoError(t, engine.Start())
	defer engine.Stop()

	_, err := engine.SubmitOrder(context.Background(), marketBuy(1))
	require.NoError(t, err)
	<-blocking // first order is in flight, queue is empty again

	_, err = engine.SubmitOrder(context.Background(), marketBuy(1))
	require.NoError(t, err)
	_, err = engine.SubmitOrder(context.Background(), marketBuy(1))
	require.NoError(t, err)

	_, err = engine.SubmitOrder(context.Background(), marketBuy(1))
	assert.ErrorIs(t, err, ErrQueueSaturated)
}

func TestEngine_UpdateConfig(t *testing.T) {
	adapter := &stubAdapter{}
	adapter.set(fillAt(100))
	engine := newTestEngine(t, adapter)

	updated := engine.UpdateConfig(config.EngineConfig{
		AdapterTimeout: 50 * time.Millisecond,
		PollInterval:   time.Millisecond,
	})

	assert.Equal(t, 50*time.Millisecond, updated.AdapterTimeout)
	assert.Equal(t, time.Millisecond, updated.PollInterval)
	// Construction-time sizes are preserved.
	assert.Equal(t, testConfig().MaxQueueDepth, updated.MaxQueueDepth)
	assert.Equal(t, updated, engine.Config())
}

func TestEngine_RecentOrders(t *testing.T) {
	adapter := &stubAdapter{}
	adapter.set(fillAt(100))
	engine := newTestEngine(t, adapter)

	var lastID string
	for i := 0; i < 3; i++ {
		id, err := engine.SubmitOrder(context.Background(), marketBuy(1))
		require.NoError(t, err)
		waitTerminal(t, engine, id)
		lastID = id
	}

	recent := engine.GetRecentOrders(2)
	require.Len(t, recent, 2)
	assert.Equal(t, lastID, recent[0].OrderID)
}
