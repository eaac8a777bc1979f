package risk

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/gridbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STOP-LOSS HANDLERS
// ═══════════════════════════════════════════════════════════════════════════════
//
// One handler watches one position. The position's side is bound at
// construction: a long stop sits below price and trips on price ≤ stop,
// a short stop mirrors it above and trips on price ≥ stop. Trailing
// variants only ever move the stop in the position's favor.
//
// ═══════════════════════════════════════════════════════════════════════════════

// StopLoss observes prices for one position and reports the trip.
// Update must be called with every price; Level is the current stop.
type StopLoss interface {
	// Update observes a price and reports whether the stop tripped
	Update(price decimal.Decimal) bool
	// Level is the current stop price
	Level() decimal.Decimal
}

// short reports whether a position side is short-like
func short(side types.Side) bool { return side == types.SideSell }

// crossed is the side-aware trigger check
func crossed(price, stop decimal.Decimal, side types.Side) bool {
	if short(side) {
		return price.GreaterThanOrEqual(stop)
	}
	return price.LessThanOrEqual(stop)
}

// ─── fixed ─────────────────────────────────────────────────────────────────────

// FixedStop trips at an absolute price; Side defaults to long
type FixedStop struct {
	Stop decimal.Decimal
	Side types.Side
}

func (s *FixedStop) Update(price decimal.Decimal) bool {
	return crossed(price, s.Stop, s.Side)
}

func (s *FixedStop) Level() decimal.Decimal { return s.Stop }

// NewPercentageStop trips a fixed fraction from the entry price:
// below it for a long, above it for a short
func NewPercentageStop(entry, pct decimal.Decimal, side types.Side) *FixedStop {
	one := decimal.NewFromInt(1)
	stop := entry.Mul(one.Sub(pct))
	if short(side) {
		stop = entry.Mul(one.Add(pct))
	}
	return &FixedStop{Stop: stop, Side: side}
}

// ─── trailing ──────────────────────────────────────────────────────────────────

// TrailingStop follows the best price seen at a fixed distance. For a
// long the stop only ever rises with new highs; for a short it only
// ever descends with new lows. Activation defers arming until unrealized
// profit reaches the threshold; zero arms immediately.
type TrailingStop struct {
	TrailPct   decimal.Decimal
	Side       types.Side
	Activation decimal.Decimal // profit fraction required before the stop arms

	entry  decimal.Decimal
	best   decimal.Decimal
	stop   decimal.Decimal
	active bool
}

// NewTrailingStop arms a trailing stop from the entry price
func NewTrailingStop(entry, trailPct decimal.Decimal, side types.Side) *TrailingStop {
	s := &TrailingStop{TrailPct: trailPct, Side: side, entry: entry, best: entry}
	s.rearm()
	s.active = true
	return s
}

// NewActivatedTrailingStop defers arming until profit reaches activation
func NewActivatedTrailingStop(entry, trailPct, activation decimal.Decimal, side types.Side) *TrailingStop {
	s := &TrailingStop{TrailPct: trailPct, Side: side, Activation: activation, entry: entry, best: entry}
	s.rearm()
	return s
}

// rearm recomputes the stop from the best price seen
func (s *TrailingStop) rearm() {
	one := decimal.NewFromInt(1)
	if short(s.Side) {
		s.stop = s.best.Mul(one.Add(s.TrailPct))
		return
	}
	s.stop = s.best.Mul(one.Sub(s.TrailPct))
}

func (s *TrailingStop) Update(price decimal.Decimal) bool {
	improved := price.GreaterThan(s.best)
	if short(s.Side) {
		improved = price.LessThan(s.best)
	}
	if improved {
		s.best = price
		s.rearm()
	}

	if !s.active {
		if s.profit().LessThan(s.Activation) {
			return false
		}
		s.active = true
	}
	return crossed(price, s.stop, s.Side)
}

// profit is the unrealized fraction from entry to the best price seen
func (s *TrailingStop) profit() decimal.Decimal {
	if !s.entry.IsPositive() {
		return decimal.Zero
	}
	one := decimal.NewFromInt(1)
	if short(s.Side) {
		return one.Sub(s.best.Div(s.entry))
	}
	return s.best.Div(s.entry).Sub(one)
}

func (s *TrailingStop) Level() decimal.Decimal { return s.stop }

// Active reports whether the activation threshold has been met
func (s *TrailingStop) Active() bool { return s.active }

// HighWaterMark is the most favorable price seen since arming
func (s *TrailingStop) HighWaterMark() decimal.Decimal { return s.best }

// ─── ATR ───────────────────────────────────────────────────────────────────────

// ATRStop keeps the stop a multiple of the average true range away from
// the most favorable price seen, so it trails like a volatility-scaled
// trailing stop; ATR is computed by the caller from recent candles
type ATRStop struct {
	ATR      decimal.Decimal
	Multiple decimal.Decimal
	Side     types.Side

	ref  decimal.Decimal // most favorable price seen
	stop decimal.Decimal
}

// NewATRStop arms an ATR stop with the entry as the first reference
func NewATRStop(entry, atr, multiple decimal.Decimal, side types.Side) *ATRStop {
	s := &ATRStop{ATR: atr, Multiple: multiple, Side: side, ref: entry}
	s.rearm()
	return s
}

func (s *ATRStop) rearm() {
	dist := s.ATR.Mul(s.Multiple)
	if short(s.Side) {
		s.stop = s.ref.Add(dist)
		return
	}
	s.stop = s.ref.Sub(dist)
}

func (s *ATRStop) Update(price decimal.Decimal) bool {
	improved := price.GreaterThan(s.ref)
	if short(s.Side) {
		improved = price.LessThan(s.ref)
	}
	if improved {
		s.ref = price
		s.rearm()
	}
	return crossed(price, s.stop, s.Side)
}

func (s *ATRStop) Level() decimal.Decimal { return s.stop }

// Reference is the price the stop currently hangs off
func (s *ATRStop) Reference() decimal.Decimal { return s.ref }

// ─── registry ──────────────────────────────────────────────────────────────────

// StopManager tracks one stop per open cycle and reports trips in
// cycle-id order on each price
type StopManager struct {
	mu    sync.Mutex
	stops map[uint]StopLoss
}

func NewStopManager() *StopManager {
	return &StopManager{stops: make(map[uint]StopLoss)}
}

// Arm registers (or replaces) the stop for a cycle
func (m *StopManager) Arm(cycleID uint, s StopLoss) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops[cycleID] = s
}

// Disarm drops a cycle's stop (position closed)
func (m *StopManager) Disarm(cycleID uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stops, cycleID)
}

// Check feeds a price to every armed stop and returns the cycle ids
// that tripped, ascending; tripped stops are disarmed
func (m *StopManager) Check(price decimal.Decimal) []uint {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tripped []uint
	for id, s := range m.stops {
		if s.Update(price) {
			tripped = append(tripped, id)
			delete(m.stops, id)
		}
	}
	sort.Slice(tripped, func(i, j int) bool { return tripped[i] < tripped[j] })
	return tripped
}

// Armed reports the number of active stops
func (m *StopManager) Armed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stops)
}
