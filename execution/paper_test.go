package execution

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

// fakeVenue is the minimal exchange surface the paper context touches
type fakeVenue struct {
	ticker  types.Ticker
	markets map[string]exchange.Market
}

func (f *fakeVenue) Name() string { return "fake" }

func (f *fakeVenue) FetchTicker(_ context.Context, _ string) (types.Ticker, error) {
	return f.ticker, nil
}

func (f *fakeVenue) FetchBalance(_ context.Context) (map[string]types.Balance, error) {
	return nil, nil
}

func (f *fakeVenue) CreateOrder(_ context.Context, _ exchange.OrderRequest) (types.Order, error) {
	return types.Order{}, nil
}

func (f *fakeVenue) CancelOrder(_ context.Context, orderID, _ string) (types.Order, error) {
	return types.Order{ID: orderID}, nil
}

func (f *fakeVenue) FetchOrder(_ context.Context, orderID, _ string) (types.Order, error) {
	return types.Order{ID: orderID}, nil
}

func (f *fakeVenue) FetchOpenOrders(_ context.Context, _ string) ([]types.Order, error) {
	return nil, nil
}

func (f *fakeVenue) FetchOHLCV(_ context.Context, _, _ string, _ int) ([]types.Candle, error) {
	return nil, nil
}

func (f *fakeVenue) FetchMyTrades(_ context.Context, _ string, _ int) ([]types.Trade, error) {
	return nil, nil
}

func (f *fakeVenue) Market(symbol string) (exchange.Market, bool) {
	m, ok := f.markets[symbol]
	return m, ok
}

func newPaperFixture(quoteSeed string) *Paper {
	venue := &fakeVenue{
		ticker: types.Ticker{Symbol: "BTC/USDT", Last: d("100"), Timestamp: time.Now()},
	}
	return NewPaper(venue, map[string]decimal.Decimal{"USDT": d(quoteSeed)}, d("0.001"))
}

func limit(side types.Side, price, amount string) exchange.OrderRequest {
	p := d(price)
	return exchange.OrderRequest{
		Symbol:        "BTC/USDT",
		Type:          types.OrderTypeLimit,
		Side:          side,
		Amount:        d(amount),
		Price:         &p,
		ClientOrderID: NewClientOrderID(),
	}
}

func TestPaperReservesQuoteOnBuy(t *testing.T) {
	p := newPaperFixture("1000")

	o, err := p.PlaceOrder(context.Background(), limit(types.SideBuy, "90", "5"))
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusOpen, o.Status)

	b, _ := p.Balance(context.Background(), "USDT")
	assert.Equal(t, "550", b.Free.String())
	assert.Equal(t, "450", b.Used.String())
	assert.Equal(t, "1000", b.Total.String())
}

func TestPaperRejectsInsufficientFunds(t *testing.T) {
	p := newPaperFixture("100")

	_, err := p.PlaceOrder(context.Background(), limit(types.SideBuy, "90", "5"))
	require.Error(t, err)
	assert.Equal(t, exchange.KindInsufficientFunds, exchange.KindOf(err))
}

func TestPaperLimitBuyFillsWhenCrossed(t *testing.T) {
	p := newPaperFixture("1000")
	o, err := p.PlaceOrder(context.Background(), limit(types.SideBuy, "90", "5"))
	require.NoError(t, err)

	// ticker above the limit does nothing
	fills := p.OnTicker(types.Ticker{Symbol: "BTC/USDT", Last: d("95")})
	assert.Empty(t, fills)

	// crossing fills at the limit price, not the ticker price
	fills = p.OnTicker(types.Ticker{Symbol: "BTC/USDT", Last: d("89")})
	require.Len(t, fills, 1)
	assert.Equal(t, o.ID, fills[0].ID)
	assert.Equal(t, types.OrderStatusClosed, fills[0].Status)
	assert.Equal(t, "90", fills[0].Price.String())
	assert.True(t, fills[0].Filled.Equal(d("5")))

	base, _ := p.Balance(context.Background(), "BTC")
	assert.Equal(t, "5", base.Free.String())

	// 1000 − 450 cost − 0.45 fee
	quote, _ := p.Balance(context.Background(), "USDT")
	assert.Equal(t, "549.55", quote.Free.String())
	assert.True(t, quote.Used.IsZero())
}

func TestPaperSellRoundTrip(t *testing.T) {
	p := newPaperFixture("1000")
	p.OnTicker(types.Ticker{Symbol: "BTC/USDT", Last: d("89")})

	// acquire inventory, then ladder a sell above
	_, err := p.PlaceOrder(context.Background(), limit(types.SideBuy, "90", "5"))
	require.NoError(t, err)
	fills := p.OnTicker(types.Ticker{Symbol: "BTC/USDT", Last: d("88")})
	require.Len(t, fills, 1)

	_, err = p.PlaceOrder(context.Background(), limit(types.SideSell, "95", "5"))
	require.NoError(t, err)

	base, _ := p.Balance(context.Background(), "BTC")
	assert.True(t, base.Free.IsZero(), "sell reserves the base inventory")
	assert.Equal(t, "5", base.Used.String())

	fills = p.OnTicker(types.Ticker{Symbol: "BTC/USDT", Last: d("96")})
	require.Len(t, fills, 1)
	assert.Equal(t, "95", fills[0].Price.String())

	// 1000 − 450 − 0.45 + 475 − 0.475
	quote, _ := p.Balance(context.Background(), "USDT")
	assert.Equal(t, "1024.075", quote.Free.String())
}

func TestPaperCancelReleasesReservation(t *testing.T) {
	p := newPaperFixture("1000")
	o, err := p.PlaceOrder(context.Background(), limit(types.SideBuy, "90", "5"))
	require.NoError(t, err)

	cancelled, err := p.CancelOrder(context.Background(), o.ID, o.Symbol)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusCanceled, cancelled.Status)

	b, _ := p.Balance(context.Background(), "USDT")
	assert.Equal(t, "1000", b.Free.String())
	assert.True(t, b.Used.IsZero())

	_, err = p.CancelOrder(context.Background(), o.ID, o.Symbol)
	assert.Equal(t, exchange.KindOrderNotFound, exchange.KindOf(err))
}

func TestPaperMarketOrderFillsImmediately(t *testing.T) {
	p := newPaperFixture("1000")
	p.OnTicker(types.Ticker{Symbol: "BTC/USDT", Last: d("100")})

	o, err := p.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol: "BTC/USDT",
		Type:   types.OrderTypeMarket,
		Side:   types.SideBuy,
		Amount: d("2"),
	})
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusClosed, o.Status)
	assert.Equal(t, "100", o.Price.String())

	base, _ := p.Balance(context.Background(), "BTC")
	assert.Equal(t, "2", base.Free.String())
}

func TestClientOrderIDPrefix(t *testing.T) {
	id := NewClientOrderID()
	assert.True(t, Ours(id))
	assert.False(t, Ours("x-"+id))
	assert.False(t, Ours("web_abc123"))
}

func TestSymbolAssetSplit(t *testing.T) {
	assert.Equal(t, "BTC", BaseAsset("BTC/USDT"))
	assert.Equal(t, "USDT", QuoteAsset("BTC/USDT"))
	assert.Equal(t, "SOL", BaseAsset("SOL"))
	assert.Equal(t, "", QuoteAsset("SOL"))
}
