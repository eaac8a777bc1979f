package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/gridbot/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCycleLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	opened := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	c := &TradeCycle{
		Exchange: "binance",
		Symbol:   "BTC/USDT",
		Strategy: "grid-btc",
		Side:     "buy",
		OpenRate: d("50000"),
		Amount:   d("0.01"),
		OpenDate: opened,
	}
	require.NoError(t, s.CreateCycle(ctx, c))
	require.NotZero(t, c.ID)

	open, err := s.OpenCycles(ctx, "grid-btc", "BTC/USDT")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].IsOpen)

	closed := opened.Add(2 * time.Hour)
	require.NoError(t, s.CloseCycle(ctx, c.ID, d("51000"), closed, d("10"), d("2"), d("0.5")))

	open, err = s.OpenCycles(ctx, "grid-btc", "BTC/USDT")
	require.NoError(t, err)
	assert.Empty(t, open)

	since, err := s.ClosedCyclesSince(ctx, opened)
	require.NoError(t, err)
	require.Len(t, since, 1)
	require.NotNil(t, since[0].Profit)
	assert.True(t, since[0].Profit.Equal(d("10")))
	assert.True(t, since[0].CloseRate.Equal(d("51000")))
}

func TestUpsertOrderIsIdempotentByOrderID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	price := d("50000")
	rem := d("0.01")

	rec := &OrderRecord{
		OrderID: "ex-1", Exchange: "binance", Symbol: "BTC/USDT",
		Side: "buy", OrderType: "limit", Status: "open",
		Price: &price, Amount: d("0.01"), Remaining: &rem,
	}
	require.NoError(t, s.UpsertOrder(ctx, rec))

	// same order id again with fresh status must update, not duplicate
	rem2 := decimal.Zero
	require.NoError(t, s.UpsertOrder(ctx, &OrderRecord{
		OrderID: "ex-1", Exchange: "binance", Symbol: "BTC/USDT",
		Side: "buy", OrderType: "limit", Status: "closed",
		Price: &price, Amount: d("0.01"), Filled: d("0.01"), Remaining: &rem2,
	}))

	got, err := s.OrderByID(ctx, "ex-1")
	require.NoError(t, err)
	assert.Equal(t, "closed", got.Status)

	open, err := s.OpenOrders(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestStrategyStateUpsert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveStrategyState(ctx, "grid-btc", `{"v":1}`, 1))
	require.NoError(t, s.SaveStrategyState(ctx, "grid-btc", `{"v":2}`, 2))

	st, err := s.LoadStrategyState(ctx, "grid-btc")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, `{"v":2}`, st.StateJSON)
	assert.Equal(t, 2, st.Version)

	missing, err := s.LoadStrategyState(ctx, "grid-eth")
	require.NoError(t, err)
	assert.Nil(t, missing, "absent snapshot is nil, not an error")
}

func TestCandleRoundTripAndDedup(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	candles := []types.Candle{
		{Timestamp: start, Open: d("100"), High: d("101"), Low: d("99"), Close: d("100.5"), Volume: d("10")},
		{Timestamp: start.Add(time.Hour), Open: d("100.5"), High: d("102"), Low: d("100"), Close: d("101"), Volume: d("12")},
	}
	require.NoError(t, s.SaveCandles(ctx, "binance", "BTC/USDT", "1h", candles))
	// saving the same window twice must not duplicate rows
	require.NoError(t, s.SaveCandles(ctx, "binance", "BTC/USDT", "1h", candles))

	got, err := s.LoadCandles(ctx, "binance", "BTC/USDT", "1h", start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Close.Equal(d("100.5")))
	assert.True(t, got[1].Timestamp.Equal(start.Add(time.Hour)))
}

func TestBalanceSnapshots(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendBalanceSnapshot(ctx, &BalanceSnapshot{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Exchange:  "binance",
			Currency:  "USDT",
			Total:     d("1000").Add(decimal.NewFromInt(int64(i))),
			Free:      d("900"),
			Used:      d("100"),
		}))
	}

	snaps, err := s.BalanceSnapshots(ctx, "binance", "USDT", start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, snaps, 2, "since filter drops the first sample")
	assert.True(t, snaps[0].Timestamp.Before(snaps[1].Timestamp), "oldest first")
}
