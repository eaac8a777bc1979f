package ohlcv

import (
	"time"

	"github.com/web3guy0/gridbot/types"
)

// Gap is a missing stretch between two successive candles
type Gap struct {
	From time.Time // last candle before the gap
	To   time.Time // first candle after the gap
}

// FindGaps reports gaps in an ascending candle series. Two successive
// candles more than 1.5× the bar interval apart count as a gap; the
// tolerance absorbs venue clock jitter without flagging every bar.
func FindGaps(candles []types.Candle, timeframe string) []Gap {
	d, ok := types.TimeframeDuration(timeframe)
	if !ok || len(candles) < 2 {
		return nil
	}
	threshold := d + d/2

	var gaps []Gap
	for i := 1; i < len(candles); i++ {
		if candles[i].Timestamp.Sub(candles[i-1].Timestamp) > threshold {
			gaps = append(gaps, Gap{From: candles[i-1].Timestamp, To: candles[i].Timestamp})
		}
	}
	return gaps
}

// covers reports whether a series spans [start, end] without gaps
func covers(candles []types.Candle, timeframe string, start, end time.Time) bool {
	if len(candles) == 0 {
		return false
	}
	d, ok := types.TimeframeDuration(timeframe)
	if !ok {
		return false
	}
	if candles[0].Timestamp.Sub(start) > d || end.Sub(candles[len(candles)-1].Timestamp) > d {
		return false
	}
	return len(FindGaps(candles, timeframe)) == 0
}
