package exchange

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/gridbot/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func btcMarket() Market {
	return Market{
		Symbol:      "BTC/USDT",
		BaseAsset:   "BTC",
		QuoteAsset:  "USDT",
		MinQty:      dec("0.0001"),
		MaxQty:      dec("9000"),
		StepSize:    dec("0.0001"),
		MinPrice:    dec("0.01"),
		MaxPrice:    dec("1000000"),
		TickSize:    dec("0.01"),
		MinNotional: dec("10"),
	}
}

func TestRoundQuantityStepLaw(t *testing.T) {
	m := btcMarket()
	for _, raw := range []string{"0.00015", "0.12345678", "1.99999", "0.0001"} {
		q := m.RoundQuantity(dec(raw))
		// (q − min_qty) mod step = 0
		rem := q.Sub(m.MinQty).Mod(m.StepSize)
		assert.True(t, rem.IsZero(), "quantity %s not on step grid", q)
		assert.True(t, q.LessThanOrEqual(dec(raw)), "rounding must never increase quantity")
	}
}

func TestRoundPriceTickLaw(t *testing.T) {
	m := btcMarket()
	p := m.RoundPrice(dec("50000.119"))
	assert.Equal(t, "50000.11", p.String())
	assert.True(t, p.Mod(m.TickSize).IsZero())
}

func TestValidateOrderAcceptsRoundedOrder(t *testing.T) {
	m := btcMarket()
	price := dec("50000.123")
	qty, rounded, err := m.ValidateOrder(OrderRequest{
		Symbol: "BTC/USDT",
		Type:   types.OrderTypeLimit,
		Side:   types.SideBuy,
		Amount: dec("0.00123456"),
		Price:  &price,
	})
	require.NoError(t, err)
	assert.Equal(t, "0.0012", qty.String())
	assert.Equal(t, "50000.12", rounded.String())
	assert.True(t, rounded.Mul(qty).GreaterThanOrEqual(m.MinNotional))
}

func TestValidateOrderRejectsBelowMinQty(t *testing.T) {
	m := btcMarket()
	price := dec("50000")
	_, _, err := m.ValidateOrder(OrderRequest{
		Symbol: "BTC/USDT",
		Type:   types.OrderTypeLimit,
		Side:   types.SideBuy,
		Amount: dec("0.00005"),
		Price:  &price,
	})
	require.Error(t, err)
	assert.Equal(t, KindInvalidOrder, KindOf(err))
}

func TestValidateOrderRejectsBelowMinNotional(t *testing.T) {
	m := btcMarket()
	price := dec("10") // 0.0005 BTC · 10 USDT = 0.005, far below 10
	_, _, err := m.ValidateOrder(OrderRequest{
		Symbol: "BTC/USDT",
		Type:   types.OrderTypeLimit,
		Side:   types.SideBuy,
		Amount: dec("0.0005"),
		Price:  &price,
	})
	require.ErrorIs(t, err, ErrInsufficientNotional)
}

func TestValidateOrderMarketSkipsNotional(t *testing.T) {
	m := btcMarket()
	// market order: no price, so the notional check cannot run
	qty, _, err := m.ValidateOrder(OrderRequest{
		Symbol: "BTC/USDT",
		Type:   types.OrderTypeMarket,
		Side:   types.SideSell,
		Amount: dec("0.0005"),
	})
	require.NoError(t, err)
	assert.Equal(t, "0.0005", qty.String())
}

func TestValidateOrderZeroBoundsMeanUnlimited(t *testing.T) {
	m := Market{Symbol: "X/Y", StepSize: dec("0.01"), TickSize: dec("0.01")}
	price := dec("123456789.99")
	qty, p, err := m.ValidateOrder(OrderRequest{
		Symbol: "X/Y",
		Type:   types.OrderTypeLimit,
		Side:   types.SideBuy,
		Amount: dec("99999"),
		Price:  &price,
	})
	require.NoError(t, err)
	assert.Equal(t, "99999", qty.String())
	assert.Equal(t, "123456789.99", p.String())
}
