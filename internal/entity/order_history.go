package entity

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// OrderHistory is the persisted write-through record of a terminal order.
type OrderHistory struct {
	ID            string           `db:"id" json:"id"`
	OrderID       string           `db:"order_id" json:"order_id"`
	SignalID      sql.NullString   `db:"signal_id" json:"signal_id"`
	Symbol        string           `db:"symbol" json:"symbol"`
	Side          OrderSide        `db:"side" json:"side"`
	Type          OrderType        `db:"type" json:"type"`
	Priority      string           `db:"priority" json:"priority"`
	Sequence      int64            `db:"sequence" json:"sequence"`
	Amount        decimal.Decimal  `db:"amount" json:"amount"`
	Price         *decimal.Decimal `db:"price" json:"price"`
	StopPrice     *decimal.Decimal `db:"stop_price" json:"stop_price"`
	FilledAmount  decimal.Decimal  `db:"filled_amount" json:"filled_amount"`
	Cost          decimal.Decimal  `db:"cost" json:"cost"`
	Slippage      decimal.Decimal  `db:"slippage" json:"slippage"`
	Status        string           `db:"status" json:"status"`
	FailureReason sql.NullString   `db:"failure_reason" json:"failure_reason"`
	SubmittedAt   sql.NullTime     `db:"submitted_at" json:"submitted_at"`
	FilledAt      sql.NullTime     `db:"filled_at" json:"filled_at"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
}

func (o OrderHistory) TableName() string {
	return "order_histories"
}

// NewOrderHistory maps a terminal order into its persisted form.
func NewOrderHistory(order Order) *OrderHistory {
	signalID := sql.NullString{}
	if order.SignalID != nil && *order.SignalID != "" {
		signalID = sql.NullString{String: *order.SignalID, Valid: true}
	}

	failureReason := sql.NullString{}
	if order.FailureReason != "" {
		failureReason = sql.NullString{String: order.FailureReason, Valid: true}
	}

	submittedAt := sql.NullTime{}
	if order.SubmittedAt != nil {
		submittedAt = sql.NullTime{Time: *order.SubmittedAt, Valid: true}
	}

	filledAt := sql.NullTime{}
	if order.FilledAt != nil {
		filledAt = sql.NullTime{Time: *order.FilledAt, Valid: true}
	}

	return &OrderHistory{
		OrderID:       order.OrderID,
		SignalID:      signalID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Type:          order.Type,
		Priority:      order.Priority.String(),
		Sequence:      int64(order.Sequence),
		Amount:        order.Amount,
		Price:         order.Price,
		StopPrice:     order.StopPrice,
		FilledAmount:  order.FilledAmount,
		Cost:          order.Cost,
		Slippage:      order.Slippage,
		Status:        string(order.Status),
		FailureReason: failureReason,
		SubmittedAt:   submittedAt,
		FilledAt:      filledAt,
		CreatedAt:     order.CreatedAt,
	}
}
