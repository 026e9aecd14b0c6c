package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/krobus00/execution-engine/internal/config"
	"github.com/krobus00/execution-engine/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var ErrNoReferencePrice = errors.New("no reference price available")

var bpsDivisor = decimal.NewFromInt(10000)

// PaperExchange simulates fills without touching a real exchange. Limit and
// stop orders fill at the requested price shifted by the configured slippage;
// market orders fill at the last mark price fed in, falling back to the
// configured fallback price. It is the default adapter when no real exchange
// integration is wired in.
type PaperExchange struct {
	mu          sync.RWMutex
	markPrices  map[string]decimal.Decimal
	fillLatency time.Duration
	slippageBps decimal.Decimal
	fallback    decimal.Decimal
	fillSeq     uint64
}

func NewPaperExchange(cfg config.PaperExchangeConfig) *PaperExchange {
	return &PaperExchange{
		markPrices:  make(map[string]decimal.Decimal),
		fillLatency: cfg.FillLatency,
		slippageBps: cfg.SlippageBps,
		fallback:    cfg.FallbackPrice,
	}
}

// SetMarkPrice feeds the simulated market price for a symbol.
func (e *PaperExchange) SetMarkPrice(symbol string, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.markPrices[symbol] = price
}

func (e *PaperExchange) Execute(ctx context.Context, req entity.ExecutionRequest) (*entity.ExchangeFill, error) {
	if e.fillLatency > 0 {
		select {
		case <-time.After(e.fillLatency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	referencePrice, err := e.referencePrice(req)
	if err != nil {
		return nil, err
	}

	fillPrice := e.applySlippage(req.Side, referencePrice)
	cost := req.Amount.Mul(fillPrice)

	e.mu.Lock()
	e.fillSeq++
	fillID := e.fillSeq
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"order_id":   req.OrderID,
		"symbol":     req.Symbol,
		"side":       req.Side,
		"type":       req.Type,
		"amount":     req.Amount.String(),
		"fill_price": fillPrice.String(),
	}).Debug("paper order filled")

	return &entity.ExchangeFill{
		FilledAmount:    req.Amount,
		FillPrice:       fillPrice,
		Cost:            cost,
		ExchangeOrderID: fmt.Sprintf("paper-%d", fillID),
	}, nil
}

func (e *PaperExchange) referencePrice(req entity.ExecutionRequest) (decimal.Decimal, error) {
	if req.Price != nil && req.Price.IsPositive() {
		return *req.Price, nil
	}

	e.mu.RLock()
	markPrice, ok := e.markPrices[req.Symbol]
	e.mu.RUnlock()
	if ok && markPrice.IsPositive() {
		return markPrice, nil
	}

	if e.fallback.IsPositive() {
		return e.fallback, nil
	}

	return decimal.Zero, ErrNoReferencePrice
}

// applySlippage moves the price against the taker: buys fill above the
// reference, sells below it.
func (e *PaperExchange) applySlippage(side entity.OrderSide, price decimal.Decimal) decimal.Decimal {
	if e.slippageBps.IsZero() {
		return price
	}

	shift := price.Mul(e.slippageBps).Div(bpsDivisor)
	if side == entity.OrderSideBuy {
		return price.Add(shift)
	}
	return price.Sub(shift)
}
