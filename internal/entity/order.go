package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string
type OrderType string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"

	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

func (t OrderType) Valid() bool {
	return t == OrderTypeMarket || t == OrderTypeLimit || t == OrderTypeStop
}

// OrderPriority is ordered: a numerically higher priority is dequeued first.
type OrderPriority int

const (
	PriorityLow OrderPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[OrderPriority]string{
	PriorityLow:      "LOW",
	PriorityNormal:   "NORMAL",
	PriorityHigh:     "HIGH",
	PriorityCritical: "CRITICAL",
}

func (p OrderPriority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "UNKNOWN"
}

func (p OrderPriority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

func ParsePriority(raw string) (OrderPriority, bool) {
	for priority, name := range priorityNames {
		if name == raw {
			return priority, true
		}
	}
	return PriorityNormal, false
}

type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusSubmitted       OrderStatus = "SUBMITTED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFailed          OrderStatus = "FAILED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether no further status transition is allowed.
// PARTIALLY_FILLED is terminal under the default policy: the adapter response
// settles the order in a single round trip and the remainder is not re-queued.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusPartiallyFilled, OrderStatusFailed, OrderStatusCancelled, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// OrderRequest carries the caller-supplied parameters of a submission.
// OrderID is optional; the engine generates one when absent.
type OrderRequest struct {
	OrderID   string
	SignalID  *string
	Symbol    string
	Side      OrderSide
	Type      OrderType
	Amount    decimal.Decimal
	Price     *decimal.Decimal
	StopPrice *decimal.Decimal
	Priority  OrderPriority
}

// Order is the engine-owned execution state of a request. The economic
// parameters are fixed at submission; only the execution fields mutate, and
// all mutation happens under the order queue lock.
type Order struct {
	OrderID   string
	SignalID  *string
	Symbol    string
	Side      OrderSide
	Type      OrderType
	Amount    decimal.Decimal
	Price     *decimal.Decimal
	StopPrice *decimal.Decimal
	Priority  OrderPriority
	Sequence  uint64

	Status          OrderStatus
	FilledAmount    decimal.Decimal
	RemainingAmount decimal.Decimal
	Cost            decimal.Decimal
	Slippage        decimal.Decimal
	FailureReason   string

	CreatedAt   time.Time
	SubmittedAt *time.Time
	FilledAt    *time.Time
}

// ExecutionResult carries the terminal outcome applied to an order.
type ExecutionResult struct {
	FilledAmount  decimal.Decimal
	FillPrice     decimal.Decimal
	Cost          decimal.Decimal
	Slippage      decimal.Decimal
	FailureReason string
}

type QueueStats struct {
	Depth          int   `json:"depth"`
	TotalSubmitted int64 `json:"total_submitted"`
	TotalExecuted  int64 `json:"total_executed"`
	TotalFailed    int64 `json:"total_failed"`
	TotalCancelled int64 `json:"total_cancelled"`
}

type EngineState string

const (
	EngineStateStopped  EngineState = "STOPPED"
	EngineStateStarting EngineState = "STARTING"
	EngineStateRunning  EngineState = "RUNNING"
	EngineStateStopping EngineState = "STOPPING"
)

type EngineStatus struct {
	IsRunning     bool              `json:"is_running"`
	State         EngineState       `json:"state"`
	QueueStats    QueueStats        `json:"queue_stats"`
	Performance   PerformanceReport `json:"performance_metrics"`
	PositionCount int               `json:"position_count"`
}
