package ohlcv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/gridbot/types"
)

func series(tf time.Duration, offsets ...int) []types.Candle {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.Candle, len(offsets))
	for i, off := range offsets {
		out[i] = types.Candle{Timestamp: start.Add(time.Duration(off) * tf)}
	}
	return out
}

func TestFindGapsContiguousSeriesIsClean(t *testing.T) {
	candles := series(time.Hour, 0, 1, 2, 3, 4)
	assert.Empty(t, FindGaps(candles, "1h"))
}

func TestFindGapsDetectsMissingBars(t *testing.T) {
	// bars at hours 0,1,2,5,6: hours 3 and 4 are missing
	candles := series(time.Hour, 0, 1, 2, 5, 6)
	gaps := FindGaps(candles, "1h")
	require.Len(t, gaps, 1)
	assert.Equal(t, candles[2].Timestamp, gaps[0].From)
	assert.Equal(t, candles[3].Timestamp, gaps[0].To)
}

func TestFindGapsToleratesClockJitter(t *testing.T) {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	candles := []types.Candle{
		{Timestamp: start},
		{Timestamp: start.Add(time.Hour + 20*time.Minute)}, // 1.33×, inside tolerance
		{Timestamp: start.Add(2*time.Hour + 20*time.Minute)},
	}
	assert.Empty(t, FindGaps(candles, "1h"))
}

func TestFindGapsUnknownTimeframe(t *testing.T) {
	assert.Nil(t, FindGaps(series(time.Hour, 0, 1, 5), "2y"))
	assert.Nil(t, FindGaps(series(time.Hour, 0), "1h"), "one candle cannot gap")
}

func TestCoversRequiresFullWindow(t *testing.T) {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(4 * time.Hour)

	assert.True(t, covers(series(time.Hour, 0, 1, 2, 3, 4), "1h", start, end))
	// series starting too late
	assert.False(t, covers(series(time.Hour, 2, 3, 4), "1h", start, end))
	// series ending too early
	assert.False(t, covers(series(time.Hour, 0, 1, 2), "1h", start, end))
	// gap in the middle
	assert.False(t, covers(series(time.Hour, 0, 1, 4), "1h", start, end))
	assert.False(t, covers(nil, "1h", start, end))
}
