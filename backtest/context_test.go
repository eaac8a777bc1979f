package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/gridbot/exchange"
	"github.com/web3guy0/gridbot/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func bar(n int) time.Time {
	return time.Date(2026, 1, 1, 0, n, 0, 0, time.UTC)
}

func price(p string) map[string]decimal.Decimal {
	return map[string]decimal.Decimal{"BTC/USDT": d(p)}
}

func newSim(quote string) *SimContext {
	return NewSimContext(map[string]decimal.Decimal{"USDT": d(quote)}, nil, nil, nil)
}

func limitReq(side types.Side, p, amount string) exchange.OrderRequest {
	lp := d(p)
	return exchange.OrderRequest{
		Symbol: "BTC/USDT",
		Type:   types.OrderTypeLimit,
		Side:   side,
		Amount: d(amount),
		Price:  &lp,
	}
}

func TestSimLimitBuyFillsWhenCrossed(t *testing.T) {
	sim := newSim("1000")
	sim.SetMarketState(bar(0), price("100"), nil)

	o, err := sim.PlaceOrder(context.Background(), limitReq(types.SideBuy, "95", "2"))
	require.NoError(t, err)

	fills := sim.SetMarketState(bar(1), price("96"), nil)
	assert.Empty(t, fills, "price above the limit")

	fills = sim.SetMarketState(bar(2), price("94"), nil)
	require.Len(t, fills, 1)
	assert.Equal(t, o.ID, fills[0].ID)
	assert.Equal(t, "95", fills[0].Price.String(), "limit fills at the limit, not the bar close")

	b, _ := sim.Balance(context.Background(), "BTC")
	assert.Equal(t, "2", b.Free.String())
	q, _ := sim.Balance(context.Background(), "USDT")
	assert.Equal(t, "810", q.Free.String())
}

func TestSimMarketOrderFillsAtBarPrice(t *testing.T) {
	sim := newSim("1000")
	sim.SetMarketState(bar(0), price("100"), nil)

	_, err := sim.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol: "BTC/USDT", Type: types.OrderTypeMarket, Side: types.SideBuy, Amount: d("1"),
	})
	require.NoError(t, err)

	fills := sim.SetMarketState(bar(1), price("103"), nil)
	require.Len(t, fills, 1)
	assert.Equal(t, "103", fills[0].Price.String())
}

func TestSimSlippageOnlyWorsensLimits(t *testing.T) {
	// adverse slippage on a sell pushes the price DOWN, below the limit
	sim := NewSimContext(map[string]decimal.Decimal{"BTC": d("1"), "USDT": d("0")},
		nil, FixedSlippage{Rate: d("0.01")}, nil)
	sim.SetMarketState(bar(0), price("100"), nil)

	_, err := sim.PlaceOrder(context.Background(), limitReq(types.SideSell, "110", "1"))
	require.NoError(t, err)
	fills := sim.SetMarketState(bar(1), price("115"), nil)
	require.Len(t, fills, 1)
	assert.Equal(t, "108.9", fills[0].Price.String(), "110 · 0.99, worse for the seller")

	// adverse slippage on a buy pushes the price UP, above the limit
	sim2 := NewSimContext(map[string]decimal.Decimal{"USDT": d("1000")},
		nil, FixedSlippage{Rate: d("0.01")}, nil)
	sim2.SetMarketState(bar(0), price("100"), nil)
	_, err = sim2.PlaceOrder(context.Background(), limitReq(types.SideBuy, "95", "1"))
	require.NoError(t, err)
	fills = sim2.SetMarketState(bar(1), price("90"), nil)
	require.Len(t, fills, 1)
	assert.Equal(t, "95.95", fills[0].Price.String(), "95 · 1.01, worse for the buyer")
}

func TestSimInsufficientQuoteCancelsFill(t *testing.T) {
	sim := newSim("50") // cannot afford 95 · 1
	sim.SetMarketState(bar(0), price("100"), nil)

	o, err := sim.PlaceOrder(context.Background(), limitReq(types.SideBuy, "95", "1"))
	require.NoError(t, err, "placement succeeds, settlement is what fails")

	fills := sim.SetMarketState(bar(1), price("90"), nil)
	assert.Empty(t, fills, "unfunded fill is cancelled, never partial")

	_, err = sim.OrderStatus(context.Background(), o.ID, "BTC/USDT")
	assert.Equal(t, exchange.KindOrderNotFound, exchange.KindOf(err), "cancelled order leaves the book")

	q, _ := sim.Balance(context.Background(), "USDT")
	assert.Equal(t, "50", q.Free.String(), "balance untouched")
}

func TestSimLatencyDelaysFill(t *testing.T) {
	lat := &LatencyModel{Min: 90 * time.Second, Max: 90 * time.Second}
	sim := NewSimContext(map[string]decimal.Decimal{"USDT": d("1000")}, nil, nil, lat)
	sim.SetMarketState(bar(0), price("100"), nil)

	_, err := sim.PlaceOrder(context.Background(), limitReq(types.SideBuy, "95", "1"))
	require.NoError(t, err)

	// one minute later the venue has not seen the order yet
	fills := sim.SetMarketState(bar(1), price("90"), nil)
	assert.Empty(t, fills)

	fills = sim.SetMarketState(bar(2), price("90"), nil)
	assert.Len(t, fills, 1)
}

func TestSimMakerTakerFees(t *testing.T) {
	fees := PercentageFee{MakerPct: d("0.001"), TakerPct: d("0.002")}
	sim := NewSimContext(map[string]decimal.Decimal{"USDT": d("1000")}, fees, nil, nil)
	sim.SetMarketState(bar(0), price("100"), nil)

	// resting limit pays maker
	_, err := sim.PlaceOrder(context.Background(), limitReq(types.SideBuy, "95", "1"))
	require.NoError(t, err)
	fills := sim.SetMarketState(bar(1), price("90"), nil)
	require.Len(t, fills, 1)
	require.NotNil(t, fills[0].Fee)
	assert.Equal(t, "0.095", fills[0].Fee.Cost.String())

	// market order pays taker
	_, err = sim.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol: "BTC/USDT", Type: types.OrderTypeMarket, Side: types.SideSell, Amount: d("1"),
	})
	require.NoError(t, err)
	fills = sim.SetMarketState(bar(2), price("90"), nil)
	require.Len(t, fills, 1)
	assert.Equal(t, "0.18", fills[0].Fee.Cost.String())
}

func TestSimEquityMarksInventoryToMarket(t *testing.T) {
	sim := newSim("1000")
	sim.SetMarketState(bar(0), price("100"), nil)
	_, err := sim.PlaceOrder(context.Background(), limitReq(types.SideBuy, "100", "2"))
	require.NoError(t, err)
	sim.SetMarketState(bar(1), price("100"), nil)

	assert.Equal(t, "1000", sim.Equity("BTC/USDT").String())
	sim.SetMarketState(bar(2), price("110"), nil)
	assert.Equal(t, "1020", sim.Equity("BTC/USDT").String())
}

func TestTieredFeePicksDeepestQualifyingTier(t *testing.T) {
	fees := NewTieredFee([]FeeTier{
		{MinVolume: d("1000000"), MakerPct: d("0.0008"), TakerPct: d("0.001")},
		{MinVolume: d("0"), MakerPct: d("0.001"), TakerPct: d("0.002")},
	})

	assert.Equal(t, "0.2", fees.Fee(d("100"), false, d("0")).String())
	assert.Equal(t, "0.1", fees.Fee(d("100"), false, d("1000000")).String())
	assert.Equal(t, "0.08", fees.Fee(d("100"), true, d("5000000")).String())
}

func TestSlippageIsAlwaysAdverse(t *testing.T) {
	s := FixedSlippage{Rate: d("0.005")}
	assert.Equal(t, "100.5", s.Slip(d("100"), types.SideBuy, d("1"), d("100")).String())
	assert.Equal(t, "99.5", s.Slip(d("100"), types.SideSell, d("1"), d("100")).String())

	v := VolumeSlippage{Base: d("0.001"), Impact: d("0.1")}
	// rate = 0.001 + (10/100)·0.1 = 0.011
	assert.Equal(t, "101.1", v.Slip(d("100"), types.SideBuy, d("10"), d("100")).String())
	// zero bar volume falls back to the base rate
	assert.Equal(t, "100.1", v.Slip(d("100"), types.SideBuy, d("10"), d("0")).String())
}

func TestRandomSlippageWithoutExplicitRng(t *testing.T) {
	// an unseeded model still draws inside [Min, Max], adversely
	s := RandomSlippage{Min: d("0.001"), Max: d("0.002")}
	for i := 0; i < 50; i++ {
		p := s.Slip(d("100"), types.SideBuy, d("1"), d("100"))
		assert.True(t, p.GreaterThanOrEqual(d("100.1")), "got %s", p)
		assert.True(t, p.LessThanOrEqual(d("100.2")), "got %s", p)
	}
}

func TestLatencyModelWithoutExplicitRng(t *testing.T) {
	// spikes force a random draw; no seeded source configured
	l := &LatencyModel{
		Min:              time.Millisecond,
		Max:              5 * time.Millisecond,
		SpikeProbability: 0.5,
		SpikeMax:         20 * time.Millisecond,
	}
	for i := 0; i < 50; i++ {
		delay := l.Delay()
		assert.GreaterOrEqual(t, delay, time.Duration(0))
		assert.LessOrEqual(t, delay, 20*time.Millisecond)
	}
}
