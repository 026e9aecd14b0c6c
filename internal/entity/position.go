package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the net holding of a symbol with weighted-average cost basis.
// Invariant: Amount == 0 implies EntryPrice == 0 and TotalCost == 0.
type Position struct {
	Symbol        string          `json:"symbol"`
	Amount        decimal.Decimal `json:"amount"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	RealizedPnl   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	LastUpdated   time.Time       `json:"last_updated"`
}

// Fill is the bookkeeping view of an executed order handed to the position
// tracker and analytics collector.
type Fill struct {
	OrderID      string
	Symbol       string
	Side         OrderSide
	FilledAmount decimal.Decimal
	FillPrice    decimal.Decimal
	Cost         decimal.Decimal
	FilledAt     time.Time
}

type PortfolioPnl struct {
	RealizedPnl   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	TotalPnl      decimal.Decimal `json:"total_pnl"`
	PositionCount int             `json:"position_count"`
}
