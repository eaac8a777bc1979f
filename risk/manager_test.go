package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/gridbot/types"
)

func newTestManager(cfg ManagerConfig) *Manager {
	return NewManager(cfg, d("10000"))
}

func TestManagerApprovesWithinLimits(t *testing.T) {
	m := newTestManager(ManagerConfig{
		MaxOrderValue:  d("1000"),
		MaxPositionPct: d("0.10"),
		MaxOpenOrders:  5,
	})
	err := m.Approve(context.Background(), "BTC/USDT", types.SideBuy, d("100"), d("5"))
	assert.NoError(t, err)
}

func TestManagerRejectsWhenBreakerTripped(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	m.Breaker.Trip(TripManual)

	err := m.Approve(context.Background(), "BTC/USDT", types.SideBuy, d("100"), d("1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHalted)
}

func TestManagerRejectsNonPositiveInputs(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	err := m.Approve(context.Background(), "BTC/USDT", types.SideBuy, decimal.Zero, d("1"))
	assert.ErrorIs(t, err, ErrRejected)

	err = m.Approve(context.Background(), "BTC/USDT", types.SideSell, d("100"), d("-1"))
	assert.ErrorIs(t, err, ErrRejected)
}

func TestManagerMaxOrderValue(t *testing.T) {
	m := newTestManager(ManagerConfig{MaxOrderValue: d("500")})
	err := m.Approve(context.Background(), "BTC/USDT", types.SideBuy, d("100"), d("6"))
	assert.ErrorIs(t, err, ErrRejected)
}

func TestManagerMaxPositionPct(t *testing.T) {
	m := newTestManager(ManagerConfig{MaxPositionPct: d("0.10")}) // 1000 of 10000
	err := m.Approve(context.Background(), "BTC/USDT", types.SideSell, d("100"), d("11"))
	assert.ErrorIs(t, err, ErrRejected)

	err = m.Approve(context.Background(), "BTC/USDT", types.SideSell, d("100"), d("10"))
	assert.NoError(t, err)
}

func TestManagerSymbolExposureCountsBuysOnly(t *testing.T) {
	m := newTestManager(ManagerConfig{MaxSymbolExposurePct: d("0.10")}) // 1000 of 10000

	m.RecordOrderOpened("BTC/USDT", types.SideBuy, d("900"))
	err := m.Approve(context.Background(), "BTC/USDT", types.SideBuy, d("100"), d("2"))
	assert.ErrorIs(t, err, ErrRejected, "900 + 200 exceeds the 1000 limit")

	// sells do not add exposure
	err = m.Approve(context.Background(), "BTC/USDT", types.SideSell, d("100"), d("2"))
	assert.NoError(t, err)

	// another symbol has its own budget
	err = m.Approve(context.Background(), "ETH/USDT", types.SideBuy, d("100"), d("2"))
	assert.NoError(t, err)

	// releasing the resting buy frees the budget
	m.RecordOrderClosed("BTC/USDT", types.SideBuy, d("900"))
	err = m.Approve(context.Background(), "BTC/USDT", types.SideBuy, d("100"), d("2"))
	assert.NoError(t, err)
}

func TestManagerMaxOpenOrders(t *testing.T) {
	m := newTestManager(ManagerConfig{MaxOpenOrders: 2})
	m.RecordOrderOpened("BTC/USDT", types.SideBuy, d("100"))
	m.RecordOrderOpened("BTC/USDT", types.SideSell, d("100"))

	err := m.Approve(context.Background(), "BTC/USDT", types.SideBuy, d("100"), d("1"))
	assert.ErrorIs(t, err, ErrRejected)

	m.RecordOrderClosed("BTC/USDT", types.SideSell, d("100"))
	err = m.Approve(context.Background(), "BTC/USDT", types.SideBuy, d("100"), d("1"))
	assert.NoError(t, err)
}

func TestManagerTradeResultFlowsIntoBreaker(t *testing.T) {
	m := NewManager(ManagerConfig{
		Breaker: BreakerConfig{MaxDrawdownPct: d("0.10")},
	}, d("10000"))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.RecordTradeResult(d("500"), at) // peak 10500
	m.RecordTradeResult(d("-1100"), at.Add(time.Minute))

	assert.Equal(t, "9400", m.Equity().String())
	// drawdown (10500−9400)/10500 ≈ 10.5% trips the breaker
	err := m.Approve(context.Background(), "BTC/USDT", types.SideBuy, d("100"), d("1"))
	assert.ErrorIs(t, err, ErrHalted)
}

func validationConfig() ManagerConfig {
	return ManagerConfig{
		RiskPerTradePct:    d("0.01"),
		DefaultStopLossPct: d("0.05"),
	}
}

func TestValidateTradeSizesWithDefaultStop(t *testing.T) {
	m := newTestManager(validationConfig())

	v := m.ValidateTrade("BTC/USDT", types.SideBuy, d("100"), d("10000"), decimal.Zero)
	require.True(t, v.Allowed, v.Reason)
	assert.Equal(t, "95", v.StopPrice.String(), "default 5% stop below entry")
	// risking 1% of 10000 = 100 over the 5-wide stop → 20 units
	assert.Equal(t, "20", v.Size.String())
	assert.Empty(t, v.Warnings)
}

func TestValidateTradeHonorsProvidedStopPct(t *testing.T) {
	m := newTestManager(validationConfig())

	v := m.ValidateTrade("BTC/USDT", types.SideBuy, d("100"), d("10000"), d("0.10"))
	require.True(t, v.Allowed, v.Reason)
	assert.Equal(t, "90", v.StopPrice.String())
	assert.Equal(t, "10", v.Size.String())
}

func TestValidateTradeRejectsWhenBreakerOpen(t *testing.T) {
	m := newTestManager(validationConfig())
	m.Breaker.Trip(TripManual)

	v := m.ValidateTrade("BTC/USDT", types.SideBuy, d("100"), d("10000"), decimal.Zero)
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "circuit breaker")
}

func TestValidateTradeRejectsAtDrawdownLimit(t *testing.T) {
	cfg := validationConfig()
	cfg.Breaker.MaxDrawdownPct = d("0.10")
	m := newTestManager(cfg)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.Drawdown.Update(d("10000"), at)
	m.Drawdown.Update(d("8000"), at.Add(time.Minute)) // 20% underwater

	v := m.ValidateTrade("BTC/USDT", types.SideBuy, d("100"), d("8000"), decimal.Zero)
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "drawdown")
}

func TestValidateTradeWarnsOnPositionPctWithoutRejecting(t *testing.T) {
	cfg := validationConfig()
	cfg.MaxPositionPct = d("0.10") // limit 1000, sized notional is 2000
	m := newTestManager(cfg)

	v := m.ValidateTrade("BTC/USDT", types.SideBuy, d("100"), d("10000"), decimal.Zero)
	require.True(t, v.Allowed, v.Reason)
	assert.Equal(t, "20", v.Size.String(), "warning does not shrink the size")
	require.Len(t, v.Warnings, 1)
	assert.Contains(t, v.Warnings[0], "exceeds 10%")
}

func TestValidateTradeCutsSizeToBalance(t *testing.T) {
	cfg := validationConfig()
	cfg.RiskPerTradePct = d("0.10")
	m := newTestManager(cfg)

	// a tight 2% stop sizes 500 units = 50000 notional on a 10000 balance
	v := m.ValidateTrade("BTC/USDT", types.SideBuy, d("100"), d("10000"), d("0.02"))
	require.True(t, v.Allowed, v.Reason)
	assert.Equal(t, "95", v.Size.String(), "cut to 0.95 · balance / entry")
	require.NotEmpty(t, v.Warnings)
	assert.Contains(t, v.Warnings[len(v.Warnings)-1], "95% of balance")
}

func TestValidateTradeRejectsZeroStopRange(t *testing.T) {
	cfg := validationConfig()
	cfg.DefaultStopLossPct = decimal.Zero
	m := newTestManager(cfg)

	// no stop distance at all: stop equals entry, sizing cannot divide
	v := m.ValidateTrade("BTC/USDT", types.SideBuy, d("100"), d("10000"), decimal.Zero)
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "equal")
}

func TestManagerRegisterAndCheckStopLosses(t *testing.T) {
	m := newTestManager(validationConfig())

	m.RegisterStopLoss(1, types.SideBuy, d("100"), decimal.Zero)  // default 5% → 95
	m.RegisterStopLoss(2, types.SideBuy, d("100"), d("0.02"))     // 98
	m.RegisterStopLoss(3, types.SideSell, d("100"), decimal.Zero) // short, 105
	require.Equal(t, 3, m.Stops.Armed())

	tripped := m.CheckStopLosses(d("97"))
	assert.Equal(t, []uint{2}, tripped)
	assert.Equal(t, 2, m.Stops.Armed())

	tripped = m.CheckStopLosses(d("106"))
	assert.Equal(t, []uint{3}, tripped, "short stop trips above its level")
}

func TestPresetByName(t *testing.T) {
	for _, name := range []string{"conservative", "moderate", "aggressive", ""} {
		cfg, err := PresetByName(name)
		require.NoError(t, err, name)
		assert.True(t, cfg.MaxPositionPct.IsPositive())
	}
	_, err := PresetByName("yolo")
	assert.Error(t, err)
}
