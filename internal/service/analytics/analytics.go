package analytics

import (
	"sync"

	"github.com/krobus00/execution-engine/internal/entity"
	"github.com/shopspring/decimal"
)

const defaultBufferSize = 1000

var msPerNs = decimal.New(1, 6) // nanoseconds per millisecond

// Collector records execution outcomes in a fixed-capacity ring buffer.
// Lifetime totals come from running counters; distributional stats are
// computed over the current buffer contents only, so memory stays bounded
// no matter how many orders pass through.
type Collector struct {
	mu sync.Mutex

	records  []entity.ExecutionRecord
	next     int
	filled   bool
	capacity int

	totalExecutions      int64
	successfulExecutions int64
	failedExecutions     int64
	totalVolume          decimal.Decimal
}

func NewCollector(capacity int) *Collector {
	if capacity <= 0 {
		capacity = defaultBufferSize
	}

	return &Collector{
		records:  make([]entity.ExecutionRecord, capacity),
		capacity: capacity,
	}
}

func (c *Collector) Record(record entity.ExecutionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records[c.next] = record
	c.next++
	if c.next == c.capacity {
		c.next = 0
		c.filled = true
	}

	c.totalExecutions++
	if record.Success {
		c.successfulExecutions++
		c.totalVolume = c.totalVolume.Add(record.Amount)
	} else {
		c.failedExecutions++
	}
}

func (c *Collector) snapshot() []entity.ExecutionRecord {
	if c.filled {
		buffered := make([]entity.ExecutionRecord, 0, c.capacity)
		buffered = append(buffered, c.records[c.next:]...)
		buffered = append(buffered, c.records[:c.next]...)
		return buffered
	}

	return append([]entity.ExecutionRecord(nil), c.records[:c.next]...)
}

func (c *Collector) Report() entity.PerformanceReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	report := entity.PerformanceReport{
		Basic: entity.BasicMetrics{
			TotalExecutions:      c.totalExecutions,
			SuccessfulExecutions: c.successfulExecutions,
			FailedExecutions:     c.failedExecutions,
			TotalVolume:          c.totalVolume,
		},
	}

	if c.totalExecutions > 0 {
		report.Basic.SuccessRate = decimal.NewFromInt(c.successfulExecutions).
			Div(decimal.NewFromInt(c.totalExecutions))
	}

	buffered := c.snapshot()
	if len(buffered) == 0 {
		return report
	}

	var (
		latencySum  decimal.Decimal
		slippageSum decimal.Decimal
		minLatency  decimal.Decimal
		maxLatency  decimal.Decimal
	)

	for idx, record := range buffered {
		latencyMs := decimal.NewFromInt(int64(record.Latency)).Div(msPerNs)
		latencySum = latencySum.Add(latencyMs)
		slippageSum = slippageSum.Add(record.Slippage)

		if idx == 0 || latencyMs.LessThan(minLatency) {
			minLatency = latencyMs
		}
		if idx == 0 || latencyMs.GreaterThan(maxLatency) {
			maxLatency = latencyMs
		}
	}

	count := decimal.NewFromInt(int64(len(buffered)))
	avgLatency := latencySum.Div(count)

	report.Quality = entity.QualityMetrics{
		AvgExecutionTimeMs: avgLatency,
		AvgSlippage:        slippageSum.Div(count),
	}
	report.Latency = entity.LatencyStats{
		AvgMs: avgLatency,
		MinMs: minLatency,
		MaxMs: maxLatency,
	}

	return report
}

// BufferedCount reports how many records the ring buffer currently holds.
func (c *Collector) BufferedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filled {
		return c.capacity
	}
	return c.next
}
