package position

import (
	"sort"
	"sync"
	"time"

	"github.com/krobus00/execution-engine/internal/entity"
	"github.com/shopspring/decimal"
)

// Tracker maintains per-symbol cost basis and PnL. Each symbol has its own
// lock so concurrent fills on different symbols do not serialize against each
// other; the outer lock only guards the symbol map itself.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]*symbolPosition
}

type symbolPosition struct {
	mu        sync.Mutex
	position  entity.Position
	markPrice decimal.Decimal
	hasMark   bool
}

func NewTracker() *Tracker {
	return &Tracker{
		positions: make(map[string]*symbolPosition),
	}
}

func (t *Tracker) symbol(symbol string) *symbolPosition {
	t.mu.RLock()
	sp, ok := t.positions[symbol]
	t.mu.RUnlock()
	if ok {
		return sp
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if sp, ok = t.positions[symbol]; ok {
		return sp
	}

	sp = &symbolPosition{position: entity.Position{Symbol: symbol}}
	t.positions[symbol] = sp
	return sp
}

// ApplyFill is the only mutator. BUY fills extend the weighted-average cost
// basis; SELL fills realize PnL against the current entry price and leave the
// entry price of the remaining lot unchanged. A position sold to zero is
// zeroed entirely (entry price and total cost included).
func (t *Tracker) ApplyFill(fill entity.Fill) entity.Position {
	sp := t.symbol(fill.Symbol)

	sp.mu.Lock()
	defer sp.mu.Unlock()

	pos := &sp.position

	switch fill.Side {
	case entity.OrderSideBuy:
		pos.Amount = pos.Amount.Add(fill.FilledAmount)
		pos.TotalCost = pos.TotalCost.Add(fill.Cost)
		if pos.Amount.IsPositive() {
			pos.EntryPrice = pos.TotalCost.Div(pos.Amount)
		} else {
			pos.EntryPrice = decimal.Zero
		}
	case entity.OrderSideSell:
		realized := fill.FilledAmount.Mul(fill.FillPrice.Sub(pos.EntryPrice))
		pos.RealizedPnl = pos.RealizedPnl.Add(realized)

		pos.Amount = pos.Amount.Sub(fill.FilledAmount)
		if pos.Amount.IsPositive() {
			pos.TotalCost = pos.Amount.Mul(pos.EntryPrice)
		} else {
			pos.Amount = decimal.Zero
			pos.TotalCost = decimal.Zero
			pos.EntryPrice = decimal.Zero
		}
	}

	sp.refreshUnrealizedLocked()

	if fill.FilledAt.IsZero() {
		pos.LastUpdated = time.Now().UTC()
	} else {
		pos.LastUpdated = fill.FilledAt.UTC()
	}

	return *pos
}

// SetMarkPrice feeds the current market price used for unrealized PnL.
// Mark prices arrive from the market-data pipeline, which lives outside
// this subsystem.
func (t *Tracker) SetMarkPrice(symbol string, price decimal.Decimal) {
	sp := t.symbol(symbol)

	sp.mu.Lock()
	defer sp.mu.Unlock()

	sp.markPrice = price
	sp.hasMark = true
	sp.refreshUnrealizedLocked()
}

func (sp *symbolPosition) refreshUnrealizedLocked() {
	if !sp.hasMark || sp.position.Amount.IsZero() {
		sp.position.UnrealizedPnl = decimal.Zero
		return
	}

	sp.position.UnrealizedPnl = sp.position.Amount.Mul(sp.markPrice.Sub(sp.position.EntryPrice))
}

func (t *Tracker) GetPosition(symbol string) (entity.Position, bool) {
	t.mu.RLock()
	sp, ok := t.positions[symbol]
	t.mu.RUnlock()
	if !ok {
		return entity.Position{}, false
	}

	sp.mu.Lock()
	defer sp.mu.Unlock()

	return sp.position, true
}

func (t *Tracker) GetAllPositions() []entity.Position {
	t.mu.RLock()
	symbols := make([]*symbolPosition, 0, len(t.positions))
	for _, sp := range t.positions {
		symbols = append(symbols, sp)
	}
	t.mu.RUnlock()

	positions := make([]entity.Position, 0, len(symbols))
	for _, sp := range symbols {
		sp.mu.Lock()
		positions = append(positions, sp.position)
		sp.mu.Unlock()
	}

	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})

	return positions
}

func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.positions)
}

func (t *Tracker) PortfolioPnl() entity.PortfolioPnl {
	positions := t.GetAllPositions()

	summary := entity.PortfolioPnl{PositionCount: len(positions)}
	for _, pos := range positions {
		summary.RealizedPnl = summary.RealizedPnl.Add(pos.RealizedPnl)
		summary.UnrealizedPnl = summary.UnrealizedPnl.Add(pos.UnrealizedPnl)
	}
	summary.TotalPnl = summary.RealizedPnl.Add(summary.UnrealizedPnl)

	return summary
}
