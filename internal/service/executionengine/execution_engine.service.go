package executionengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/krobus00/execution-engine/internal/config"
	"github.com/krobus00/execution-engine/internal/constant"
	"github.com/krobus00/execution-engine/internal/entity"
	"github.com/krobus00/execution-engine/internal/repository"
	"github.com/krobus00/execution-engine/internal/service/analytics"
	"github.com/krobus00/execution-engine/internal/service/orderqueue"
	"github.com/krobus00/execution-engine/internal/service/position"
	"github.com/krobus00/execution-engine/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidOrder     = errors.New("invalid order")
	ErrEngineNotRunning = errors.New("engine is not running")
	ErrEngineNotStopped = errors.New("engine is not stopped")
	ErrOrderNotFound    = orderqueue.ErrOrderNotFound
	ErrDuplicateOrder   = orderqueue.ErrDuplicateOrder
	ErrQueueSaturated   = orderqueue.ErrQueueSaturated
)

const (
	failureReasonAdapterTimeout  = "adapter_timeout"
	failureReasonEngineShutdown  = "engine_shutdown"
	failureReasonInvalidResponse = "invalid_adapter_response"

	defaultAdapterTimeout = 10 * time.Second
	defaultShutdownGrace  = 5 * time.Second
	defaultPollInterval   = 100 * time.Millisecond
	historyWriteTimeout   = 5 * time.Second
)

// ExecutionEngineService owns the priority order queue and drives the single
// execution worker that turns pending orders into terminal ones. Submission
// is fully concurrent; execution is deliberately single-consumer so exchange
// interactions happen in a deterministic, auditable order.
//
// The JetStream context, order history repository, and snapshot store are
// all optional; a nil value disables that write-through path.
type ExecutionEngineService struct {
	queue     *orderqueue.OrderQueue
	positions *position.Tracker
	analytics *analytics.Collector
	adapter   entity.ExchangeAdapter

	js            nats.JetStreamContext
	historyRepo   *repository.OrderHistoryRepository
	snapshotStore position.SnapshotStore

	cfgMu sync.RWMutex
	cfg   config.EngineConfig

	stateMu    sync.Mutex
	state      entity.EngineState
	loopCancel context.CancelFunc
	stopCh     chan struct{}
	done       chan struct{}
}

func NewExecutionEngineService(
	cfg config.EngineConfig,
	adapter entity.ExchangeAdapter,
	js nats.JetStreamContext,
	historyRepo *repository.OrderHistoryRepository,
	snapshotStore position.SnapshotStore,
) *ExecutionEngineService {
	cfg = normalizeConfig(cfg)

	return &ExecutionEngineService{
		queue:         orderqueue.NewOrderQueue(cfg.MaxQueueDepth, cfg.RecentOrderRetention),
		positions:     position.NewTracker(),
		analytics:     analytics.NewCollector(cfg.AnalyticsBufferSize),
		adapter:       adapter,
		js:            js,
		historyRepo:   historyRepo,
		snapshotStore: snapshotStore,
		cfg:           cfg,
		state:         entity.EngineStateStopped,
	}
}

func normalizeConfig(cfg config.EngineConfig) config.EngineConfig {
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = defaultAdapterTimeout
	}
	if cfg.ShutdownGracePeriod <= 0 {
		cfg.ShutdownGracePeriod = defaultShutdownGrace
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	return cfg
}

// Config returns the current effective configuration.
func (e *ExecutionEngineService) Config() config.EngineConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()

	return e.cfg
}

// UpdateConfig swaps the runtime tunables and returns the new effective
// configuration. Queue depth, retention, and the analytics buffer are fixed
// at construction; only the loop tunables take effect here.
func (e *ExecutionEngineService) UpdateConfig(cfg config.EngineConfig) config.EngineConfig {
	cfg = normalizeConfig(cfg)

	e.cfgMu.Lock()
	cfg.MaxQueueDepth = e.cfg.MaxQueueDepth
	cfg.RecentOrderRetention = e.cfg.RecentOrderRetention
	cfg.AnalyticsBufferSize = e.cfg.AnalyticsBufferSize
	e.cfg = cfg
	e.cfgMu.Unlock()

	return cfg
}

func (e *ExecutionEngineService) State() entity.EngineState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	return e.state
}

// Start launches the execution worker. Calling Start while already RUNNING
// is a no-op.
func (e *ExecutionEngineService) Start() error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if e.state == entity.EngineStateRunning {
		return nil
	}
	if e.state != entity.EngineStateStopped {
		return fmt.Errorf("%w: state is %s", ErrEngineNotStopped, e.state)
	}

	e.state = entity.EngineStateStarting

	ctx, cancel := context.WithCancel(context.Background())
	e.loopCancel = cancel
	e.stopCh = make(chan struct{})
	e.done = make(chan struct{})

	go e.run(ctx)

	e.state = entity.EngineStateRunning
	logrus.Info("execution engine started")

	return nil
}

// Stop drains the in-flight execution gracefully. If the worker does not
// finish within the configured grace period, the in-flight adapter call is
// cancelled and its order goes terminal FAILED with reason engine_shutdown.
func (e *ExecutionEngineService) Stop() error {
	e.stateMu.Lock()
	if e.state != entity.EngineStateRunning {
		e.stateMu.Unlock()
		return nil
	}
	e.state = entity.EngineStateStopping
	stopCh := e.stopCh
	done := e.done
	cancel := e.loopCancel
	e.stateMu.Unlock()

	close(stopCh)

	select {
	case <-done:
	case <-time.After(e.Config().ShutdownGracePeriod):
		logrus.Warn("shutdown grace period elapsed, cancelling in-flight execution")
		cancel()
		<-done
	}
	cancel()

	e.stateMu.Lock()
	e.state = entity.EngineStateStopped
	e.stateMu.Unlock()

	logrus.Info("execution engine stopped")

	return nil
}

// run is the single execution worker. It wakes on enqueue signals with a
// fallback poll interval, and never exits on a per-order failure.
func (e *ExecutionEngineService) run(ctx context.Context) {
	defer close(e.done)

	for {
		order, ok := e.queue.Dequeue()
		if ok {
			e.executeOrder(ctx, order)
		}

		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		default:
		}

		if ok {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-e.queue.Wake():
		case <-time.After(e.Config().PollInterval):
		}
	}
}

func (e *ExecutionEngineService) executeOrder(ctx context.Context, order entity.Order) {
	dequeuedAt := time.Now().UTC()

	if err := e.queue.MarkSubmitted(order.OrderID, dequeuedAt); err != nil {
		// Cancelled between dequeue and here.
		logrus.WithField("order_id", order.OrderID).Warnf("skipping execution: %v", err)
		return
	}

	fill, err := e.callAdapter(ctx, order)
	latency := time.Since(dequeuedAt)

	if err == nil && !validFill(order, fill) {
		err = errors.New(failureReasonInvalidResponse)
	}

	if err != nil {
		e.failOrder(ctx, order, latency, err)
		return
	}

	slippage := computeSlippage(order, fill.FillPrice)

	status := entity.OrderStatusFilled
	if fill.FilledAmount.LessThan(order.Amount) {
		status = entity.OrderStatusPartiallyFilled
	}

	markErr := e.queue.MarkTerminal(order.OrderID, status, entity.ExecutionResult{
		FilledAmount: fill.FilledAmount,
		FillPrice:    fill.FillPrice,
		Cost:         fill.Cost,
		Slippage:     slippage,
	})
	if markErr != nil {
		logrus.WithField("order_id", order.OrderID).Error(markErr)
		return
	}

	updated := e.positions.ApplyFill(entity.Fill{
		OrderID:      order.OrderID,
		Symbol:       order.Symbol,
		Side:         order.Side,
		FilledAmount: fill.FilledAmount,
		FillPrice:    fill.FillPrice,
		Cost:         fill.Cost,
		FilledAt:     time.Now().UTC(),
	})
	e.saveSnapshot(updated)

	e.analytics.Record(entity.ExecutionRecord{
		OrderID:   order.OrderID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Amount:    fill.FilledAmount,
		Success:   true,
		Latency:   latency,
		Slippage:  slippage,
		Timestamp: time.Now().UTC(),
	})

	e.finishOrder(order.OrderID, latency)
}

func (e *ExecutionEngineService) failOrder(ctx context.Context, order entity.Order, latency time.Duration, execErr error) {
	reason := failureReason(ctx, execErr)

	logrus.WithFields(logrus.Fields{
		"order_id": order.OrderID,
		"symbol":   order.Symbol,
		"reason":   reason,
	}).Warn("order execution failed")

	err := e.queue.MarkTerminal(order.OrderID, entity.OrderStatusFailed, entity.ExecutionResult{
		FailureReason: reason,
	})
	if err != nil {
		logrus.WithField("order_id", order.OrderID).Error(err)
		return
	}

	e.analytics.Record(entity.ExecutionRecord{
		OrderID:   order.OrderID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Amount:    order.Amount,
		Success:   false,
		Latency:   latency,
		Timestamp: time.Now().UTC(),
	})

	e.finishOrder(order.OrderID, latency)
}

// callAdapter bounds the exchange call with the configured timeout. The call
// runs in its own goroutine so a hung or panicking adapter can never wedge
// the execution loop.
func (e *ExecutionEngineService) callAdapter(ctx context.Context, order entity.Order) (*entity.ExchangeFill, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.Config().AdapterTimeout)
	defer cancel()

	type adapterResult struct {
		fill *entity.ExchangeFill
		err  error
	}

	done := make(chan adapterResult, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- adapterResult{err: fmt.Errorf("adapter panic: %v", recovered)}
			}
		}()

		fill, err := e.adapter.Execute(callCtx, entity.ExecutionRequest{
			OrderID: order.OrderID,
			Symbol:  order.Symbol,
			Side:    order.Side,
			Type:    order.Type,
			Amount:  order.Amount,
			Price:   order.Price,
		})
		done <- adapterResult{fill: fill, err: err}
	}()

	select {
	case <-callCtx.Done():
		return nil, callCtx.Err()
	case result := <-done:
		return result.fill, result.err
	}
}

func failureReason(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return failureReasonEngineShutdown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failureReasonAdapterTimeout
	}

	return err.Error()
}

func validFill(order entity.Order, fill *entity.ExchangeFill) bool {
	if fill == nil {
		return false
	}
	if !fill.FilledAmount.IsPositive() || !fill.FillPrice.IsPositive() {
		return false
	}

	return fill.FilledAmount.LessThanOrEqual(order.Amount)
}

// computeSlippage is the signed relative difference between the realized
// fill price and the order's reference price; zero when no reference price
// exists (market orders without a quote).
func computeSlippage(order entity.Order, fillPrice decimal.Decimal) decimal.Decimal {
	if order.Price == nil || !order.Price.IsPositive() {
		return decimal.Zero
	}

	return fillPrice.Sub(*order.Price).Div(*order.Price)
}

func (e *ExecutionEngineService) saveSnapshot(pos entity.Position) {
	if e.snapshotStore == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
		defer cancel()

		if err := e.snapshotStore.Save(ctx, pos); err != nil {
			logrus.WithField("symbol", pos.Symbol).Errorf("failed to save position snapshot: %v", err)
		}
	}()
}

// finishOrder fans the terminal order out to the event stream and the
// order history write-through. Both paths are best effort and off the hot
// loop; failures only log.
func (e *ExecutionEngineService) finishOrder(orderID string, latency time.Duration) {
	order, ok := e.queue.Get(orderID)
	if !ok {
		return
	}

	if e.js != nil {
		event := buildOrderExecutedEvent(order, latency)
		if err := util.PublishEvent(e.js, constant.ExecutionStreamSubjectOrderExecuted, event); err != nil {
			logrus.WithField("order_id", orderID).Errorf("failed to publish execution event: %v", err)
		}
	}

	if e.historyRepo != nil {
		history := entity.NewOrderHistory(order)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
			defer cancel()

			if err := e.historyRepo.Create(ctx, history); err != nil {
				logrus.WithField("order_id", orderID).Errorf("failed to persist order history: %v", err)
			}
		}()
	}
}

func buildOrderExecutedEvent(order entity.Order, latency time.Duration) entity.OrderExecutedEvent {
	signalID := ""
	if order.SignalID != nil {
		signalID = *order.SignalID
	}

	return entity.OrderExecutedEvent{
		OrderID:       order.OrderID,
		SignalID:      signalID,
		Symbol:        order.Symbol,
		Side:          string(order.Side),
		Type:          string(order.Type),
		Priority:      order.Priority.String(),
		Status:        string(order.Status),
		Amount:        order.Amount.String(),
		FilledAmount:  order.FilledAmount.String(),
		Cost:          order.Cost.String(),
		Slippage:      order.Slippage.String(),
		FailureReason: order.FailureReason,
		LatencyMs:     latency.Milliseconds(),
		ExecutedAt:    time.Now().UTC().UnixMilli(),
	}
}

// SubmitOrder validates and enqueues an order, returning its identifier.
// Submission while the engine is not RUNNING is rejected rather than queued
// for a later Start.
func (e *ExecutionEngineService) SubmitOrder(ctx context.Context, req entity.OrderRequest) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	if e.State() != entity.EngineStateRunning {
		return "", ErrEngineNotRunning
	}

	if err := validateOrderRequest(req); err != nil {
		return "", err
	}

	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		orderID = uuid.NewString()
	}

	order := &entity.Order{
		OrderID:   orderID,
		SignalID:  req.SignalID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Amount:    req.Amount,
		Price:     req.Price,
		StopPrice: req.StopPrice,
		Priority:  req.Priority,
		CreatedAt: time.Now().UTC(),
	}

	if err := e.queue.Enqueue(order); err != nil {
		return "", err
	}

	return orderID, nil
}

func validateOrderRequest(req entity.OrderRequest) error {
	if strings.TrimSpace(req.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	if !req.Side.Valid() {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, req.Side)
	}
	if !req.Type.Valid() {
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, req.Type)
	}
	if !req.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority", ErrInvalidOrder)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}
	if req.Type == entity.OrderTypeLimit && (req.Price == nil || !req.Price.IsPositive()) {
		return fmt.Errorf("%w: limit orders require a positive price", ErrInvalidOrder)
	}
	if req.Type == entity.OrderTypeStop && (req.StopPrice == nil || !req.StopPrice.IsPositive()) {
		return fmt.Errorf("%w: stop orders require a positive stop price", ErrInvalidOrder)
	}

	return nil
}

// CancelOrder cancels a still-pending order. Orders already handed to the
// exchange adapter cannot be cancelled.
func (e *ExecutionEngineService) CancelOrder(orderID string) error {
	return e.queue.Cancel(orderID)
}

func (e *ExecutionEngineService) GetOrder(orderID string) (entity.Order, error) {
	order, ok := e.queue.Get(orderID)
	if !ok {
		return entity.Order{}, ErrOrderNotFound
	}

	return order, nil
}

func (e *ExecutionEngineService) GetRecentOrders(limit int) []entity.Order {
	return e.queue.Recent(limit)
}

func (e *ExecutionEngineService) GetEngineStatus() entity.EngineStatus {
	state := e.State()

	return entity.EngineStatus{
		IsRunning:     state == entity.EngineStateRunning,
		State:         state,
		QueueStats:    e.queue.Stats(),
		Performance:   e.analytics.Report(),
		PositionCount: e.positions.Count(),
	}
}

func (e *ExecutionEngineService) GetPositions() []entity.Position {
	return e.positions.GetAllPositions()
}

func (e *ExecutionEngineService) GetPortfolioPnl() entity.PortfolioPnl {
	return e.positions.PortfolioPnl()
}

func (e *ExecutionEngineService) GetAnalytics() entity.PerformanceReport {
	return e.analytics.Report()
}

// PositionTracker exposes the tracker so mark prices can be fed in from the
// market-data side.
func (e *ExecutionEngineService) PositionTracker() *position.Tracker {
	return e.positions
}

// JetstreamEventInit creates or updates the execution event stream,
// following the same init sequence as the other publishers in this codebase.
func (e *ExecutionEngineService) JetstreamEventInit(ctx context.Context) error {
	if e.js == nil {
		return nil
	}

	streamConfig := &nats.StreamConfig{
		Name:      constant.ExecutionStreamName,
		Subjects:  []string{constant.ExecutionStreamSubjectAll},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    24 * time.Hour,
	}

	stream, err := e.js.StreamInfo(constant.ExecutionStreamName, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logrus.Error(err)
		return err
	}

	if stream == nil {
		logrus.Infof("creating stream: %s", constant.ExecutionStreamName)
		_, err = e.js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	logrus.Infof("updating stream: %s", constant.ExecutionStreamName)
	_, err = e.js.UpdateStream(streamConfig, nats.Context(ctx))
	if err != nil {
		logrus.Error(err)
		return err
	}

	return nil
}
