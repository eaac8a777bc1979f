package backtest

import (
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/gridbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SLIPPAGE MODELS
// ═══════════════════════════════════════════════════════════════════════════════
//
// Slippage is always adverse: buys pay more, sells receive less. Models
// return the slipped price; composition applies them in sequence.
//
// ═══════════════════════════════════════════════════════════════════════════════

// SlippageModel adjusts a fill price against the trader
type SlippageModel interface {
	Slip(price decimal.Decimal, side types.Side, amount, barVolume decimal.Decimal) decimal.Decimal
}

// adverse moves price against the given side by rate
func adverse(price decimal.Decimal, side types.Side, rate decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if side == types.SideBuy {
		return price.Mul(one.Add(rate))
	}
	return price.Mul(one.Sub(rate))
}

// FixedSlippage applies a constant rate
type FixedSlippage struct {
	Rate decimal.Decimal
}

func (s FixedSlippage) Slip(price decimal.Decimal, side types.Side, _, _ decimal.Decimal) decimal.Decimal {
	return adverse(price, side, s.Rate)
}

// VolumeSlippage scales with the order's share of bar volume:
// rate = base + (amount / volume) · impact
type VolumeSlippage struct {
	Base   decimal.Decimal
	Impact decimal.Decimal
}

func (s VolumeSlippage) Slip(price decimal.Decimal, side types.Side, amount, barVolume decimal.Decimal) decimal.Decimal {
	rate := s.Base
	if barVolume.IsPositive() {
		rate = rate.Add(amount.Div(barVolume).Mul(s.Impact))
	}
	return adverse(price, side, rate)
}

// RandomSlippage draws a rate uniformly from [Min, Max]
type RandomSlippage struct {
	Min decimal.Decimal
	Max decimal.Decimal
	Rng *rand.Rand
}

func (s RandomSlippage) Slip(price decimal.Decimal, side types.Side, _, _ decimal.Decimal) decimal.Decimal {
	rng := s.Rng
	if rng == nil {
		rng = fallbackRng
	}
	span := s.Max.Sub(s.Min)
	rate := s.Min.Add(span.Mul(decimal.NewFromFloat(rng.Float64())))
	return adverse(price, side, rate)
}

// ComposedSlippage applies models in order
type ComposedSlippage struct {
	Models []SlippageModel
}

func (s ComposedSlippage) Slip(price decimal.Decimal, side types.Side, amount, barVolume decimal.Decimal) decimal.Decimal {
	for _, m := range s.Models {
		price = m.Slip(price, side, amount, barVolume)
	}
	return price
}
