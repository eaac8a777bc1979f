package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/gridbot/strategy"
	"github.com/web3guy0/gridbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// OPTIMIZER - Cartesian grid search and walk-forward analysis
// ═══════════════════════════════════════════════════════════════════════════════

// Objective selects the score a search maximizes
type Objective string

const (
	ObjectiveSharpe       Objective = "sharpe"
	ObjectiveTotalReturn  Objective = "total_return"
	ObjectiveCalmar       Objective = "calmar"
	ObjectiveProfitFactor Objective = "profit_factor"
)

func score(m Metrics, obj Objective) float64 {
	switch obj {
	case ObjectiveTotalReturn:
		return m.TotalReturn
	case ObjectiveCalmar:
		return m.CalmarRatio
	case ObjectiveProfitFactor:
		return m.ProfitFactor
	default:
		return m.SharpeRatio
	}
}

// ParamGrid lists candidate values per parameter; an empty dimension
// keeps the base config's value
type ParamGrid struct {
	NumGrids    []int
	Spacings    []strategy.SpacingMode
	LowerPrices []decimal.Decimal
	UpperPrices []decimal.Decimal
}

// Candidate is one evaluated configuration
type Candidate struct {
	Config strategy.GridConfig
	Score  float64
	Result *Result
}

// Optimizer evaluates every Cartesian combination of the grid
type Optimizer struct {
	Engine    *Engine
	Base      strategy.GridConfig
	Grid      ParamGrid
	Objective Objective
}

// configs expands the Cartesian product
func (o *Optimizer) configs() []strategy.GridConfig {
	numGrids := o.Grid.NumGrids
	if len(numGrids) == 0 {
		numGrids = []int{o.Base.NumGrids}
	}
	spacings := o.Grid.Spacings
	if len(spacings) == 0 {
		spacings = []strategy.SpacingMode{o.Base.Spacing}
	}
	lowers := o.Grid.LowerPrices
	if len(lowers) == 0 {
		lowers = []decimal.Decimal{o.Base.LowerPrice}
	}
	uppers := o.Grid.UpperPrices
	if len(uppers) == 0 {
		uppers = []decimal.Decimal{o.Base.UpperPrice}
	}

	var out []strategy.GridConfig
	for _, n := range numGrids {
		for _, sp := range spacings {
			for _, lo := range lowers {
				for _, hi := range uppers {
					if !hi.GreaterThan(lo) {
						continue
					}
					cfg := o.Base
					cfg.NumGrids = n
					cfg.Spacing = sp
					cfg.LowerPrice = lo
					cfg.UpperPrice = hi
					out = append(out, cfg)
				}
			}
		}
	}
	return out
}

// Search runs every combination and returns candidates best-first
func (o *Optimizer) Search(ctx context.Context, candles []types.Candle) ([]Candidate, error) {
	configs := o.configs()
	if len(configs) == 0 {
		return nil, fmt.Errorf("optimizer: empty parameter grid")
	}

	candidates := make([]Candidate, 0, len(configs))
	for _, cfg := range configs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := o.Engine.Run(ctx, cfg, candles)
		if err != nil {
			log.Warn().Err(err).Int("num_grids", cfg.NumGrids).Msg("⚠️ Candidate skipped")
			continue
		}
		candidates = append(candidates, Candidate{
			Config: cfg,
			Score:  score(result.Metrics, o.Objective),
			Result: result,
		})
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("optimizer: every candidate failed")
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	log.Info().
		Int("evaluated", len(candidates)).
		Float64("best_score", candidates[0].Score).
		Str("objective", string(o.Objective)).
		Msg("✅ Grid search complete")
	return candidates, nil
}

// ─── walk-forward ──────────────────────────────────────────────────────────────

// Fold is one walk-forward window
type Fold struct {
	BestConfig strategy.GridConfig
	InScore    float64
	OutScore   float64
	OutResult  *Result
}

// WalkForwardReport aggregates folds; Robustness is per parameter,
// 1 − coefficient_of_variation of the chosen values across folds
// (clamped at zero), so 1.0 means every fold picked the same value
type WalkForwardReport struct {
	Folds      []Fold
	Robustness map[string]float64
}

// WalkForward partitions the candles into numFolds consecutive windows,
// splits each by inSampleRatio, optimizes in-sample and evaluates the
// winner out-of-sample
func (o *Optimizer) WalkForward(ctx context.Context, candles []types.Candle, numFolds int, inSampleRatio float64) (*WalkForwardReport, error) {
	if numFolds < 2 {
		return nil, fmt.Errorf("walk-forward: need at least 2 folds")
	}
	if inSampleRatio <= 0 || inSampleRatio >= 1 {
		return nil, fmt.Errorf("walk-forward: in-sample ratio must be in (0, 1)")
	}
	window := len(candles) / numFolds
	if window < 10 {
		return nil, fmt.Errorf("walk-forward: %d candles too few for %d folds", len(candles), numFolds)
	}

	report := &WalkForwardReport{Robustness: map[string]float64{}}
	var chosenGrids, chosenLowers, chosenUppers []float64

	for i := 0; i < numFolds; i++ {
		fold := candles[i*window : (i+1)*window]
		split := int(float64(len(fold)) * inSampleRatio)
		inSample, outSample := fold[:split], fold[split:]

		candidates, err := o.Search(ctx, inSample)
		if err != nil {
			return nil, fmt.Errorf("walk-forward fold %d: %w", i, err)
		}
		best := candidates[0]

		outResult, err := o.Engine.Run(ctx, best.Config, outSample)
		if err != nil {
			return nil, fmt.Errorf("walk-forward fold %d out-of-sample: %w", i, err)
		}

		report.Folds = append(report.Folds, Fold{
			BestConfig: best.Config,
			InScore:    best.Score,
			OutScore:   score(outResult.Metrics, o.Objective),
			OutResult:  outResult,
		})

		chosenGrids = append(chosenGrids, float64(best.Config.NumGrids))
		lo, _ := best.Config.LowerPrice.Float64()
		hi, _ := best.Config.UpperPrice.Float64()
		chosenLowers = append(chosenLowers, lo)
		chosenUppers = append(chosenUppers, hi)
	}

	report.Robustness["num_grids"] = robustness(chosenGrids)
	report.Robustness["lower_price"] = robustness(chosenLowers)
	report.Robustness["upper_price"] = robustness(chosenUppers)
	return report, nil
}

// robustness = 1 − stdev/|mean| of the values, floored at zero
func robustness(values []float64) float64 {
	mean, stdev := meanStdev(values)
	if mean == 0 {
		return 0
	}
	r := 1 - stdev/math.Abs(mean)
	if r < 0 {
		return 0
	}
	return r
}
