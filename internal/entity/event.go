package entity

import "context"

type Publisher interface {
	JetstreamEventInit(ctx context.Context) error
}

// OrderExecutedEvent is published to JetStream after every terminal order.
type OrderExecutedEvent struct {
	OrderID       string `json:"order_id"`
	SignalID      string `json:"signal_id,omitempty"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Priority      string `json:"priority"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	FilledAmount  string `json:"filled_amount"`
	Cost          string `json:"cost"`
	Slippage      string `json:"slippage"`
	FailureReason string `json:"failure_reason,omitempty"`
	LatencyMs     int64  `json:"latency_ms"`
	ExecutedAt    int64  `json:"executed_at"`
}
