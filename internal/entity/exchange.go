package entity

import (
	"context"

	"github.com/shopspring/decimal"
)

// ExecutionRequest is the subset of an order handed to the exchange adapter.
type ExecutionRequest struct {
	OrderID string
	Symbol  string
	Side    OrderSide
	Type    OrderType
	Amount  decimal.Decimal
	Price   *decimal.Decimal
}

// ExchangeFill is the adapter's report of an executed order.
type ExchangeFill struct {
	FilledAmount    decimal.Decimal
	FillPrice       decimal.Decimal
	Cost            decimal.Decimal
	ExchangeOrderID string
}

// ExchangeAdapter performs the actual fill against an exchange. Any error,
// timeout, or malformed response is treated identically by the engine: the
// order goes terminal FAILED and the loop continues.
type ExchangeAdapter interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExchangeFill, error)
}
