package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestFIFOMatchConsumesOldestFirst(t *testing.T) {
	f := NewFIFO()
	f.Push(Lot{CycleID: 1, Price: d("100"), Amount: d("1")})
	f.Push(Lot{CycleID: 2, Price: d("101"), Amount: d("1")})

	parts := f.Match(d("1"))
	require.Len(t, parts, 1)
	assert.Equal(t, uint(1), parts[0].Lot.CycleID)
	assert.True(t, parts[0].Closed)
	assert.Equal(t, 1, f.Len())
	assert.Equal(t, uint(2), f.Lots()[0].CycleID)
}

func TestFIFOPartialMatchLeavesRemainderAtHead(t *testing.T) {
	f := NewFIFO()
	f.Push(Lot{CycleID: 7, Price: d("50"), Amount: d("2")})

	parts := f.Match(d("0.5"))
	require.Len(t, parts, 1)
	assert.False(t, parts[0].Closed)
	assert.Equal(t, "0.5", parts[0].Consumed.String())

	// the head keeps its identity and sheds only the consumed amount
	require.Equal(t, 1, f.Len())
	head := f.Lots()[0]
	assert.Equal(t, uint(7), head.CycleID)
	assert.Equal(t, "1.5", head.Amount.String())
}

func TestFIFOMatchSpillsAcrossLots(t *testing.T) {
	f := NewFIFO()
	f.Push(Lot{CycleID: 1, Price: d("100"), Amount: d("1")})
	f.Push(Lot{CycleID: 2, Price: d("101"), Amount: d("1")})
	f.Push(Lot{CycleID: 3, Price: d("102"), Amount: d("1")})

	parts := f.Match(d("2.25"))
	require.Len(t, parts, 3)
	assert.True(t, parts[0].Closed)
	assert.True(t, parts[1].Closed)
	assert.False(t, parts[2].Closed)
	assert.Equal(t, "0.25", parts[2].Consumed.String())
	assert.Equal(t, "0.75", f.TotalAmount().String())
}

func TestFIFOMatchBeyondInventoryReturnsWhatExists(t *testing.T) {
	f := NewFIFO()
	f.Push(Lot{CycleID: 1, Price: d("100"), Amount: d("1")})

	parts := f.Match(d("5"))
	require.Len(t, parts, 1)
	assert.True(t, parts[0].Closed)
	assert.Equal(t, "1", parts[0].Consumed.String())
	assert.Equal(t, 0, f.Len())
}

func TestFIFOAccrueHeadCarriesPartialProfit(t *testing.T) {
	f := NewFIFO()
	f.Push(Lot{CycleID: 9, Price: d("100"), Amount: d("2")})

	f.Match(d("1"))
	f.AccrueHead(d("3.50"), d("0.10"))
	f.AccrueHead(d("1.25"), d("0.05"))

	head := f.Lots()[0]
	assert.Equal(t, "4.75", head.Accrued.String())
	assert.Equal(t, "0.15", head.AccruedFee.String())

	// the accrued totals travel with the lot into the final match
	parts := f.Match(d("1"))
	require.Len(t, parts, 1)
	assert.True(t, parts[0].Closed)
	assert.Equal(t, "4.75", parts[0].Lot.Accrued.String())
}

func TestFIFORemoveCycleExtractsMidQueue(t *testing.T) {
	f := NewFIFO(
		Lot{CycleID: 1, Price: d("100"), Amount: d("1")},
		Lot{CycleID: 2, Price: d("101"), Amount: d("1")},
		Lot{CycleID: 3, Price: d("102"), Amount: d("1")},
	)

	lot, ok := f.RemoveCycle(2)
	require.True(t, ok)
	assert.Equal(t, "101", lot.Price.String())
	assert.Equal(t, 2, f.Len())

	// FIFO order of the survivors is untouched
	parts := f.Match(d("2"))
	require.Len(t, parts, 2)
	assert.Equal(t, uint(1), parts[0].Lot.CycleID)
	assert.Equal(t, uint(3), parts[1].Lot.CycleID)

	_, ok = f.RemoveCycle(99)
	assert.False(t, ok)
}

func TestFIFORestoreFromSnapshot(t *testing.T) {
	f := NewFIFO(
		Lot{CycleID: 4, Price: d("90"), Amount: d("1")},
		Lot{CycleID: 5, Price: d("95"), Amount: d("0.5")},
	)
	assert.Equal(t, 2, f.Len())
	assert.Equal(t, "1.5", f.TotalAmount().String())

	parts := f.Match(d("1"))
	require.Len(t, parts, 1)
	assert.Equal(t, uint(4), parts[0].Lot.CycleID)
}
