package backtest

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// FEE MODELS
// ═══════════════════════════════════════════════════════════════════════════════

// FeeModel prices one fill. notional is price·amount in quote currency;
// volume30d is the rolling 30-day traded volume for tiered schedules.
type FeeModel interface {
	Fee(notional decimal.Decimal, maker bool, volume30d decimal.Decimal) decimal.Decimal
}

// PercentageFee charges a flat maker/taker rate
type PercentageFee struct {
	MakerPct decimal.Decimal
	TakerPct decimal.Decimal
}

func (f PercentageFee) Fee(notional decimal.Decimal, maker bool, _ decimal.Decimal) decimal.Decimal {
	if maker {
		return notional.Mul(f.MakerPct)
	}
	return notional.Mul(f.TakerPct)
}

// FixedFee charges a constant amount per fill
type FixedFee struct {
	Amount decimal.Decimal
}

func (f FixedFee) Fee(_ decimal.Decimal, _ bool, _ decimal.Decimal) decimal.Decimal {
	return f.Amount
}

// FeeTier is one rung of a volume-tiered schedule
type FeeTier struct {
	MinVolume decimal.Decimal // 30d volume threshold to qualify
	MakerPct  decimal.Decimal
	TakerPct  decimal.Decimal
}

// TieredFee picks the deepest tier the rolling 30-day volume qualifies
// for; tiers are sorted by threshold at construction
type TieredFee struct {
	tiers []FeeTier
}

func NewTieredFee(tiers []FeeTier) TieredFee {
	sorted := make([]FeeTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinVolume.LessThan(sorted[j].MinVolume)
	})
	return TieredFee{tiers: sorted}
}

func (f TieredFee) Fee(notional decimal.Decimal, maker bool, volume30d decimal.Decimal) decimal.Decimal {
	if len(f.tiers) == 0 {
		return decimal.Zero
	}
	tier := f.tiers[0]
	for _, t := range f.tiers {
		if volume30d.GreaterThanOrEqual(t.MinVolume) {
			tier = t
		}
	}
	if maker {
		return notional.Mul(tier.MakerPct)
	}
	return notional.Mul(tier.TakerPct)
}
