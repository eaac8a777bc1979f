package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/gridbot/strategy"
	"github.com/web3guy0/gridbot/types"
)

// oscillatingCandles opens high and then ping-pongs the close between
// lo and hi, so a grid in between fills buys on every down bar and
// their paired sells on every up bar
func oscillatingCandles(n int, lo, hi string) []types.Candle {
	candles := make([]types.Candle, n)
	prices := []decimal.Decimal{d(hi), d(lo)}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		p := prices[i%2]
		candles[i] = types.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      p,
			High:      p,
			Low:       p,
			Close:     p,
			Volume:    d("1000"),
		}
	}
	return candles
}

func gridCfg() strategy.GridConfig {
	return strategy.GridConfig{
		Name:            "bt-grid",
		Symbol:          "BTC/USDT",
		LowerPrice:      d("90"),
		UpperPrice:      d("120"),
		NumGrids:        4, // levels 90 100 110 120
		TotalInvestment: d("400"),
	}
}

func TestEngineRunCompletesCyclesOnOscillation(t *testing.T) {
	e := &Engine{
		Timeframe:       "1m",
		InitialBalances: map[string]decimal.Decimal{"USDT": d("1000")},
	}

	// close swings 95 ↔ 125: the 100/110 buys fill on the way down and
	// their paired sells at 110/120 fill on the way up
	result, err := e.Run(context.Background(), gridCfg(), oscillatingCandles(40, "95", "125"))
	require.NoError(t, err)

	assert.Greater(t, len(result.Trades), 0, "oscillation must complete cycles")
	assert.Len(t, result.EquityCurve, 40)
	assert.Greater(t, result.Metrics.TotalTrades, 0)

	// frictionless fills, and every sell level sits at or above every
	// buy level the swing reaches: no completed cycle can lose
	for _, tr := range result.Trades {
		assert.False(t, tr.Profit.IsNegative(), "cycle %s closed at a loss", tr.Symbol)
	}
	assert.True(t, result.FinalEquity.GreaterThan(result.StartEquity))
}

func TestEngineRunNoCandlesFails(t *testing.T) {
	e := &Engine{Timeframe: "1m", InitialBalances: map[string]decimal.Decimal{"USDT": d("1000")}}
	_, err := e.Run(context.Background(), gridCfg(), nil)
	assert.Error(t, err)
}

func TestEngineRunHonorsContextCancel(t *testing.T) {
	e := &Engine{Timeframe: "1m", InitialBalances: map[string]decimal.Decimal{"USDT": d("1000")}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Run(ctx, gridCfg(), oscillatingCandles(10, "95", "125"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOptimizerSearchRanksBestFirst(t *testing.T) {
	e := &Engine{Timeframe: "1m", InitialBalances: map[string]decimal.Decimal{"USDT": d("1000")}}
	opt := &Optimizer{
		Engine:    e,
		Base:      gridCfg(),
		Grid:      ParamGrid{NumGrids: []int{4, 5, 8}},
		Objective: ObjectiveTotalReturn,
	}

	candidates, err := opt.Search(context.Background(), oscillatingCandles(60, "95", "125"))
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	for i := 1; i < len(candidates); i++ {
		assert.GreaterOrEqual(t, candidates[i-1].Score, candidates[i].Score, "candidates sorted best-first")
	}
}

func TestOptimizerSearchSkipsInvertedBand(t *testing.T) {
	e := &Engine{Timeframe: "1m", InitialBalances: map[string]decimal.Decimal{"USDT": d("1000")}}
	opt := &Optimizer{
		Engine: e,
		Base:   gridCfg(),
		Grid: ParamGrid{
			LowerPrices: []decimal.Decimal{d("90"), d("140")},
			UpperPrices: []decimal.Decimal{d("130")},
		},
	}

	candidates, err := opt.Search(context.Background(), oscillatingCandles(40, "95", "125"))
	require.NoError(t, err)
	assert.Len(t, candidates, 1, "lower ≥ upper combinations are never evaluated")
}

func TestWalkForwardFoldsAndRobustness(t *testing.T) {
	e := &Engine{Timeframe: "1m", InitialBalances: map[string]decimal.Decimal{"USDT": d("1000")}}
	opt := &Optimizer{
		Engine:    e,
		Base:      gridCfg(),
		Grid:      ParamGrid{NumGrids: []int{4, 5}},
		Objective: ObjectiveTotalReturn,
	}

	report, err := opt.WalkForward(context.Background(), oscillatingCandles(120, "95", "125"), 3, 0.7)
	require.NoError(t, err)
	require.Len(t, report.Folds, 3)

	rob, ok := report.Robustness["num_grids"]
	require.True(t, ok)
	assert.GreaterOrEqual(t, rob, 0.0)
	assert.LessOrEqual(t, rob, 1.0)

	_, err = opt.WalkForward(context.Background(), oscillatingCandles(120, "95", "125"), 1, 0.7)
	assert.Error(t, err, "needs at least two folds")

	_, err = opt.WalkForward(context.Background(), oscillatingCandles(12, "95", "125"), 3, 0.7)
	assert.Error(t, err, "windows below 10 candles are refused")
}
