package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type ExecutionRecord struct {
	OrderID   string          `json:"order_id"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Amount    decimal.Decimal `json:"amount"`
	Success   bool            `json:"success"`
	Latency   time.Duration   `json:"latency"`
	Slippage  decimal.Decimal `json:"slippage"`
	Timestamp time.Time       `json:"timestamp"`
}

type BasicMetrics struct {
	TotalExecutions      int64           `json:"total_executions"`
	SuccessfulExecutions int64           `json:"successful_executions"`
	FailedExecutions     int64           `json:"failed_executions"`
	SuccessRate          decimal.Decimal `json:"success_rate"`
	TotalVolume          decimal.Decimal `json:"total_volume"`
}

type QualityMetrics struct {
	AvgExecutionTimeMs decimal.Decimal `json:"avg_execution_time_ms"`
	AvgSlippage        decimal.Decimal `json:"avg_slippage"`
}

type LatencyStats struct {
	AvgMs decimal.Decimal `json:"avg_ms"`
	MinMs decimal.Decimal `json:"min_ms"`
	MaxMs decimal.Decimal `json:"max_ms"`
}

// PerformanceReport combines lifetime counters with distributional stats
// computed over the current ring buffer contents only.
type PerformanceReport struct {
	Basic   BasicMetrics   `json:"basic_metrics"`
	Quality QualityMetrics `json:"quality_metrics"`
	Latency LatencyStats   `json:"latency_stats"`
}
