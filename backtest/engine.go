package backtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/gridbot/storage"
	"github.com/web3guy0/gridbot/strategy"
	"github.com/web3guy0/gridbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BACKTEST ENGINE - Bar-driven strategy simulation
// ═══════════════════════════════════════════════════════════════════════════════
//
// Each bar: advance the simulated venue, replay resulting fills into the
// strategy, synthesize a ticker from the close, and record equity. The
// strategy code is exactly what runs live; only the execution context
// differs.
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	synthBidFactor = decimal.NewFromFloat(0.9999)
	synthAskFactor = decimal.NewFromFloat(1.0001)
)

// ClosedTrade is one completed cycle from a run
type ClosedTrade struct {
	Symbol    string
	OpenDate  time.Time
	CloseDate time.Time
	OpenRate  decimal.Decimal
	CloseRate decimal.Decimal
	Amount    decimal.Decimal
	Profit    decimal.Decimal
	Fee       decimal.Decimal
}

// Result is everything a run produces
type Result struct {
	StartEquity decimal.Decimal
	FinalEquity decimal.Decimal
	EquityCurve []types.EquityPoint
	Trades      []ClosedTrade
	OpenCycles  int
	Metrics     Metrics
}

// Engine configures repeated runs over candle data
type Engine struct {
	Timeframe       string
	InitialBalances map[string]decimal.Decimal
	Fees            FeeModel
	Slippage        SlippageModel
	Latency         *LatencyModel
}

// Run drives one grid configuration over the candles
func (e *Engine) Run(ctx context.Context, cfg strategy.GridConfig, candles []types.Candle) (*Result, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("backtest: no candles")
	}

	sim := NewSimContext(e.InitialBalances, e.Fees, e.Slippage, e.Latency)
	store := newMemCycleStore()
	grid, err := strategy.NewGrid(cfg, sim, store, nil)
	if err != nil {
		return nil, err
	}

	symbol := cfg.Symbol
	// seed the venue with the first bar's open so Initialize sees a price
	sim.SetMarketState(candles[0].Timestamp,
		map[string]decimal.Decimal{symbol: candles[0].Open},
		map[string]decimal.Decimal{symbol: candles[0].Volume})
	startEquity := sim.Equity(symbol)

	if err := grid.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("backtest: initialize: %w", err)
	}

	curve := make([]types.EquityPoint, 0, len(candles))
	for _, bar := range candles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fills := sim.SetMarketState(bar.Timestamp,
			map[string]decimal.Decimal{symbol: bar.Close},
			map[string]decimal.Decimal{symbol: bar.Volume})
		for _, o := range fills {
			if err := grid.OnOrderFilled(ctx, o); err != nil {
				return nil, fmt.Errorf("backtest: fill at %s: %w", bar.Timestamp, err)
			}
		}

		ticker := types.Ticker{
			Symbol:    symbol,
			Bid:       bar.Close.Mul(synthBidFactor),
			Ask:       bar.Close.Mul(synthAskFactor),
			Last:      bar.Close,
			Timestamp: bar.Timestamp,
		}
		if err := grid.OnTick(ctx, ticker); err != nil {
			return nil, err
		}

		curve = append(curve, types.EquityPoint{Timestamp: bar.Timestamp, Equity: sim.Equity(symbol)})
	}

	result := &Result{
		StartEquity: startEquity,
		FinalEquity: sim.Equity(symbol),
		EquityCurve: curve,
		Trades:      store.closedTrades(),
		OpenCycles:  store.openCount(),
	}
	result.Metrics = ComputeMetrics(result.EquityCurve, result.Trades, e.Timeframe)

	log.Info().
		Int("bars", len(candles)).
		Int("trades", len(result.Trades)).
		Str("start_equity", startEquity.String()).
		Str("final_equity", result.FinalEquity.String()).
		Msg("🧪 Backtest complete")
	return result, nil
}

// ─── in-memory cycle store ─────────────────────────────────────────────────────

// memCycleStore satisfies strategy.CycleStore without a database; the
// engine reads the closed cycles back out as trades
type memCycleStore struct {
	mu     sync.Mutex
	nextID uint
	open   map[uint]*storage.TradeCycle
	closed []storage.TradeCycle
}

func newMemCycleStore() *memCycleStore {
	return &memCycleStore{nextID: 1, open: make(map[uint]*storage.TradeCycle)}
}

func (m *memCycleStore) CreateCycle(_ context.Context, c *storage.TradeCycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.nextID
	m.nextID++
	c.IsOpen = true
	cp := *c
	m.open[c.ID] = &cp
	return nil
}

func (m *memCycleStore) CloseCycle(_ context.Context, id uint, closeRate decimal.Decimal, closeDate time.Time, profit, profitPct, fee decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.open[id]
	if !ok {
		return fmt.Errorf("backtest: close of unknown cycle %d", id)
	}
	delete(m.open, id)
	c.IsOpen = false
	c.CloseRate = &closeRate
	c.CloseDate = &closeDate
	c.Profit = &profit
	c.ProfitPct = &profitPct
	c.Fee = &fee
	m.closed = append(m.closed, *c)
	return nil
}

func (m *memCycleStore) OpenCycles(_ context.Context, strategyName, symbol string) ([]storage.TradeCycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.TradeCycle
	for _, c := range m.open {
		if (strategyName == "" || c.Strategy == strategyName) && (symbol == "" || c.Symbol == symbol) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memCycleStore) closedTrades() []ClosedTrade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ClosedTrade, 0, len(m.closed))
	for _, c := range m.closed {
		t := ClosedTrade{
			Symbol:   c.Symbol,
			OpenDate: c.OpenDate,
			OpenRate: c.OpenRate,
			Amount:   c.Amount,
		}
		if c.CloseDate != nil {
			t.CloseDate = *c.CloseDate
		}
		if c.CloseRate != nil {
			t.CloseRate = *c.CloseRate
		}
		if c.Profit != nil {
			t.Profit = *c.Profit
		}
		if c.Fee != nil {
			t.Fee = *c.Fee
		}
		out = append(out, t)
	}
	return out
}

func (m *memCycleStore) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}
