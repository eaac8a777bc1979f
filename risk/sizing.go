package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION SIZING
// ═══════════════════════════════════════════════════════════════════════════════

// SizingInput carries everything a sizer may consult. Sizers ignore the
// fields they do not use.
type SizingInput struct {
	Balance decimal.Decimal // account equity in quote currency
	Entry   decimal.Decimal // intended entry price
	Stop    decimal.Decimal // stop price; zero when no stop is set
}

// Sizer converts account state into an order quantity (base asset)
type Sizer interface {
	Size(in SizingInput) (decimal.Decimal, error)
}

// ─── fixed fractional ──────────────────────────────────────────────────────────

var (
	riskPctMin = decimal.NewFromFloat(0.001)
	riskPctMax = decimal.NewFromFloat(0.10)
)

// FixedFractional risks a fixed fraction of equity per trade:
// qty = (balance · risk_pct) / |entry − stop|. RiskPct is bounded to
// [0.001, 0.10]; anything outside is a config error, not a clamp.
type FixedFractional struct {
	RiskPct decimal.Decimal // e.g. 0.01 risks 1% of equity
}

func (s FixedFractional) Size(in SizingInput) (decimal.Decimal, error) {
	if s.RiskPct.LessThan(riskPctMin) || s.RiskPct.GreaterThan(riskPctMax) {
		return decimal.Zero, fmt.Errorf("fixed-fractional risk_pct must be in [0.001, 0.10], got %s", s.RiskPct)
	}
	if in.Stop.IsZero() {
		return decimal.Zero, fmt.Errorf("fixed-fractional sizing requires a stop price")
	}
	riskPerUnit := in.Entry.Sub(in.Stop).Abs()
	if riskPerUnit.IsZero() {
		return decimal.Zero, fmt.Errorf("entry and stop price are equal")
	}
	return in.Balance.Mul(s.RiskPct).Div(riskPerUnit), nil
}

// ─── kelly criterion ───────────────────────────────────────────────────────────

// kellyCap caps the applied Kelly fraction; full Kelly is too volatile
// for a bot that cannot renegotiate its bankroll
var kellyCap = decimal.NewFromFloat(0.25)

// Kelly sizes by the Kelly criterion f* = W − (1−W)/R, scaled by a
// Fraction multiplier in (0, 1] (0.5 = half-Kelly; zero means full
// Kelly). The applied fraction is clamp(max(0, Fraction·f*), 0, 0.25).
// W and R come from realized trade history.
type Kelly struct {
	WinRate      decimal.Decimal // W, fraction of winning trades
	WinLossRatio decimal.Decimal // R, avg win / avg loss
	Fraction     decimal.Decimal // multiplier on f*, (0, 1]
}

// SizeFraction returns the applied (scaled and clamped) Kelly fraction
func (s Kelly) SizeFraction() decimal.Decimal {
	if !s.WinLossRatio.IsPositive() {
		return decimal.Zero
	}
	one := decimal.NewFromInt(1)
	frac := s.Fraction
	if frac.IsZero() {
		frac = one
	}
	f := s.WinRate.Sub(one.Sub(s.WinRate).Div(s.WinLossRatio)).Mul(frac)
	if f.IsNegative() {
		return decimal.Zero
	}
	if f.GreaterThan(kellyCap) {
		return kellyCap
	}
	return f
}

func (s Kelly) Size(in SizingInput) (decimal.Decimal, error) {
	if s.Fraction.IsNegative() || s.Fraction.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("kelly fraction must be in (0, 1], got %s", s.Fraction)
	}
	if !in.Entry.IsPositive() {
		return decimal.Zero, fmt.Errorf("kelly sizing requires a positive entry price")
	}
	return in.Balance.Mul(s.SizeFraction()).Div(in.Entry), nil
}

// ─── grid allocation ───────────────────────────────────────────────────────────

// GridAllocation splits a fixed equity fraction evenly across active
// grid slots: quote per slot = allocation_pct · balance / num_grids.
// ReservePct is equity held back entirely; allocation_pct + reserve_pct
// must not exceed 1.
type GridAllocation struct {
	AllocationPct decimal.Decimal
	ReservePct    decimal.Decimal
	NumGrids      int
}

func (s GridAllocation) Size(in SizingInput) (decimal.Decimal, error) {
	if s.NumGrids <= 0 {
		return decimal.Zero, fmt.Errorf("grid allocation requires num_grids > 0")
	}
	if s.AllocationPct.Add(s.ReservePct).GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("grid allocation_pct %s + reserve_pct %s exceeds 1",
			s.AllocationPct, s.ReservePct)
	}
	if !in.Entry.IsPositive() {
		return decimal.Zero, fmt.Errorf("grid allocation requires a positive entry price")
	}
	perGrid := in.Balance.Mul(s.AllocationPct).Div(decimal.NewFromInt(int64(s.NumGrids)))
	return perGrid.Div(in.Entry), nil
}

// ─── dynamic wrapper ───────────────────────────────────────────────────────────

var (
	volScaleTrigger = decimal.NewFromFloat(1.5)
	volMultFloor    = decimal.NewFromFloat(0.5)
	ddScaleTrigger  = decimal.NewFromFloat(0.05)
	ddScaleSlope    = decimal.NewFromInt(5)
	ddMultFloor     = decimal.NewFromFloat(0.25)
)

// Dynamic wraps a base sizer and scales its output down in rough
// markets and deep drawdowns; it never scales up. Volatility: once
// current_atr/average_atr exceeds 1.5, multiply by max(1/ratio, 0.5).
// Drawdown: past 5% underwater, multiply by max(1 − 5·dd, 0.25).
type Dynamic struct {
	Base       Sizer
	CurrentATR decimal.Decimal
	AverageATR decimal.Decimal
	Drawdown   decimal.Decimal // current drawdown fraction, 0..1
}

func (s Dynamic) Size(in SizingInput) (decimal.Decimal, error) {
	qty, err := s.Base.Size(in)
	if err != nil {
		return decimal.Zero, err
	}
	one := decimal.NewFromInt(1)

	if s.CurrentATR.IsPositive() && s.AverageATR.IsPositive() {
		ratio := s.CurrentATR.Div(s.AverageATR)
		if ratio.GreaterThan(volScaleTrigger) {
			mult := one.Div(ratio)
			if mult.LessThan(volMultFloor) {
				mult = volMultFloor
			}
			qty = qty.Mul(mult)
		}
	}

	if s.Drawdown.GreaterThan(ddScaleTrigger) {
		mult := one.Sub(ddScaleSlope.Mul(s.Drawdown))
		if mult.LessThan(ddMultFloor) {
			mult = ddMultFloor
		}
		qty = qty.Mul(mult)
	}

	return qty, nil
}
