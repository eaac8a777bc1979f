package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/gridbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DRAWDOWN TRACKER
// ═══════════════════════════════════════════════════════════════════════════════
//
// Tracks the equity peak, the current and maximum drawdown off it, and
// the underwater periods (peak → trough → recovery). Equity history is
// bounded so a long-running bot does not grow without limit.
//
// ═══════════════════════════════════════════════════════════════════════════════

// UnderwaterPeriod is one peak-to-recovery stretch; End is zero while
// the period is still open
type UnderwaterPeriod struct {
	Start    time.Time       `json:"start"`
	End      time.Time       `json:"end,omitempty"`
	Trough   decimal.Decimal `json:"trough"`
	MaxDepth decimal.Decimal `json:"max_depth"` // deepest drawdown fraction
}

// DrawdownTracker maintains peak/drawdown state over an equity stream
type DrawdownTracker struct {
	mu         sync.Mutex
	maxHistory int

	peak         decimal.Decimal
	peakAt       time.Time
	current      decimal.Decimal // fraction 0..1
	max          decimal.Decimal
	history      []types.EquityPoint
	underwater   []UnderwaterPeriod
	inUnderwater bool
}

// NewDrawdownTracker bounds history to maxHistory points (0 → 10000)
func NewDrawdownTracker(maxHistory int) *DrawdownTracker {
	if maxHistory <= 0 {
		maxHistory = 10000
	}
	return &DrawdownTracker{maxHistory: maxHistory}
}

// Update observes one equity sample and returns the current drawdown
// fraction. A new peak closes any open underwater period.
func (d *DrawdownTracker) Update(equity decimal.Decimal, at time.Time) decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.history = append(d.history, types.EquityPoint{Timestamp: at, Equity: equity})
	if len(d.history) > d.maxHistory {
		d.history = d.history[len(d.history)-d.maxHistory:]
	}

	if equity.GreaterThanOrEqual(d.peak) {
		if d.inUnderwater {
			d.underwater[len(d.underwater)-1].End = at
			d.inUnderwater = false
		}
		d.peak = equity
		d.peakAt = at
		d.current = decimal.Zero
		return d.current
	}

	if !d.peak.IsPositive() {
		return decimal.Zero
	}
	d.current = d.peak.Sub(equity).Div(d.peak)
	if d.current.GreaterThan(d.max) {
		d.max = d.current
	}

	if !d.inUnderwater {
		d.inUnderwater = true
		d.underwater = append(d.underwater, UnderwaterPeriod{Start: d.peakAt, Trough: equity, MaxDepth: d.current})
	} else {
		p := &d.underwater[len(d.underwater)-1]
		if equity.LessThan(p.Trough) {
			p.Trough = equity
		}
		if d.current.GreaterThan(p.MaxDepth) {
			p.MaxDepth = d.current
		}
	}
	return d.current
}

// Current is the drawdown fraction off the peak right now
func (d *DrawdownTracker) Current() decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Max is the deepest drawdown fraction ever seen
func (d *DrawdownTracker) Max() decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.max
}

// Peak is the equity high-water mark
func (d *DrawdownTracker) Peak() decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peak
}

// History returns a copy of the bounded equity curve
func (d *DrawdownTracker) History() []types.EquityPoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.EquityPoint, len(d.history))
	copy(out, d.history)
	return out
}

// UnderwaterPeriods returns a copy of all recorded underwater periods
func (d *DrawdownTracker) UnderwaterPeriods() []UnderwaterPeriod {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]UnderwaterPeriod, len(d.underwater))
	copy(out, d.underwater)
	return out
}
