package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour int) time.Time {
	return time.Date(2026, 3, 1, hour, 0, 0, 0, time.UTC)
}

func TestDrawdownTracksPeakAndFraction(t *testing.T) {
	tr := NewDrawdownTracker(0)

	assert.True(t, tr.Update(d("10000"), at(1)).IsZero())
	assert.True(t, tr.Update(d("11000"), at(2)).IsZero(), "new peak means zero drawdown")

	dd := tr.Update(d("9900"), at(3))
	assert.Equal(t, "0.1", dd.String()) // (11000-9900)/11000
	assert.Equal(t, "11000", tr.Peak().String())
	assert.Equal(t, "0.1", tr.Max().String())
}

func TestDrawdownMaxIsMonotonic(t *testing.T) {
	tr := NewDrawdownTracker(0)
	tr.Update(d("10000"), at(1))
	tr.Update(d("8000"), at(2)) // 20% down
	tr.Update(d("9500"), at(3)) // partial recovery

	assert.Equal(t, "0.05", tr.Current().String())
	assert.Equal(t, "0.2", tr.Max().String(), "max never shrinks on recovery")
}

func TestDrawdownZeroEquityStart(t *testing.T) {
	tr := NewDrawdownTracker(0)
	// no peak yet; a zero sample must not divide by zero
	assert.True(t, tr.Update(decimal.Zero, at(1)).IsZero())
	assert.True(t, tr.Update(d("100"), at(2)).IsZero())
}

func TestDrawdownUnderwaterPeriods(t *testing.T) {
	tr := NewDrawdownTracker(0)
	tr.Update(d("10000"), at(1)) // peak
	tr.Update(d("9000"), at(2))  // underwater opens
	tr.Update(d("8500"), at(3))  // deeper trough
	tr.Update(d("10100"), at(4)) // recovery closes the period
	tr.Update(d("9800"), at(5))  // a second period opens

	periods := tr.UnderwaterPeriods()
	require.Len(t, periods, 2)

	assert.Equal(t, at(1), periods[0].Start)
	assert.Equal(t, at(4), periods[0].End)
	assert.Equal(t, "8500", periods[0].Trough.String())
	assert.Equal(t, "0.15", periods[0].MaxDepth.String())

	assert.True(t, periods[1].End.IsZero(), "second period still open")
	assert.Equal(t, at(4), periods[1].Start)
}

func TestDrawdownHistoryIsBounded(t *testing.T) {
	tr := NewDrawdownTracker(5)
	for i := 0; i < 20; i++ {
		tr.Update(d("100").Add(decimal.NewFromInt(int64(i))), at(1).Add(time.Duration(i)*time.Minute))
	}
	h := tr.History()
	require.Len(t, h, 5)
	assert.Equal(t, "119", h[4].Equity.String(), "newest samples survive the bound")
	assert.Equal(t, "115", h[0].Equity.String())
}
