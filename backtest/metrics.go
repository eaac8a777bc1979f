package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/web3guy0/gridbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PERFORMANCE METRICS
// ═══════════════════════════════════════════════════════════════════════════════
//
// Statistics are float64 on purpose: they are derived analytics, not
// money, and the sqrt/pow math has no decimal equivalent worth having.
//
// ═══════════════════════════════════════════════════════════════════════════════

// periodsPerYear annualizes per-bar statistics. Crypto trades around
// the clock, so a minute bar really does occur 525,600 times a year.
var periodsPerYear = map[string]float64{
	"1m":  525600,
	"3m":  175200,
	"5m":  105120,
	"15m": 35040,
	"30m": 17520,
	"1h":  8760,
	"2h":  4380,
	"4h":  2190,
	"6h":  1460,
	"8h":  1095,
	"12h": 730,
	"1d":  365,
	"1w":  52,
}

// Metrics is the full performance report for one run
type Metrics struct {
	TotalReturn float64 `json:"total_return"`
	CAGR        float64 `json:"cagr"`

	MonthlyReturns map[string]float64 `json:"monthly_returns"`
	BestMonth      float64            `json:"best_month"`
	WorstMonth     float64            `json:"worst_month"`

	AnnualVolatility float64       `json:"annual_volatility"`
	MaxDrawdown      float64       `json:"max_drawdown"`
	AvgDrawdown      float64       `json:"avg_drawdown"`
	LongestDrawdown  time.Duration `json:"longest_drawdown"`
	VaR95            float64       `json:"var_95"`
	VaR99            float64       `json:"var_99"`
	CVaR95           float64       `json:"cvar_95"`

	SharpeRatio  float64 `json:"sharpe_ratio"`
	SortinoRatio float64 `json:"sortino_ratio"`
	CalmarRatio  float64 `json:"calmar_ratio"`
	OmegaRatio   float64 `json:"omega_ratio"`

	TotalTrades      int           `json:"total_trades"`
	WinRate          float64       `json:"win_rate"`
	ProfitFactor     float64       `json:"profit_factor"`
	Expectancy       float64       `json:"expectancy"`
	AvgTradeDuration time.Duration `json:"avg_trade_duration"`
}

// ComputeMetrics derives the full report from an equity curve and the
// closed trades of a run
func ComputeMetrics(curve []types.EquityPoint, trades []ClosedTrade, timeframe string) Metrics {
	var m Metrics
	m.MonthlyReturns = map[string]float64{}
	if len(curve) < 2 {
		return m
	}

	periods := periodsPerYear[timeframe]
	if periods == 0 {
		periods = 365
	}

	equities := make([]float64, len(curve))
	for i, p := range curve {
		equities[i], _ = p.Equity.Float64()
	}
	start, final := equities[0], equities[len(equities)-1]

	// returns
	if start > 0 {
		m.TotalReturn = final/start - 1
	}
	elapsed := curve[len(curve)-1].Timestamp.Sub(curve[0].Timestamp)
	if years := elapsed.Hours() / (24 * 365); years > 0 && start > 0 && final > 0 {
		m.CAGR = math.Pow(final/start, 1/years) - 1
	}
	m.MonthlyReturns, m.BestMonth, m.WorstMonth = monthlyReturns(curve, equities)

	// per-bar return series
	returns := make([]float64, 0, len(equities)-1)
	for i := 1; i < len(equities); i++ {
		if equities[i-1] > 0 {
			returns = append(returns, equities[i]/equities[i-1]-1)
		}
	}
	mean, stdev := meanStdev(returns)
	m.AnnualVolatility = stdev * math.Sqrt(periods)

	if stdev > 0 {
		m.SharpeRatio = mean / stdev * math.Sqrt(periods)
	}
	if dd := downsideDeviation(returns); dd > 0 {
		m.SortinoRatio = mean / dd * math.Sqrt(periods)
	}
	m.OmegaRatio = omega(returns)
	m.VaR95, m.CVaR95 = valueAtRisk(returns, 0.95)
	m.VaR99, _ = valueAtRisk(returns, 0.99)

	// drawdowns
	m.MaxDrawdown, m.AvgDrawdown, m.LongestDrawdown = drawdownStats(curve, equities)
	if m.MaxDrawdown > 0 {
		m.CalmarRatio = m.CAGR / m.MaxDrawdown
	}

	// trades
	m.TotalTrades = len(trades)
	m.WinRate, m.ProfitFactor, m.Expectancy, m.AvgTradeDuration = tradeStats(trades)
	return m
}

// ─── helpers ───────────────────────────────────────────────────────────────────

func meanStdev(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}

// downsideDeviation is the root-mean-square of negative returns
func downsideDeviation(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	var ss float64
	for _, r := range returns {
		if r < 0 {
			ss += r * r
		}
	}
	return math.Sqrt(ss / float64(len(returns)))
}

// omega is total gains over total losses around a zero threshold
func omega(returns []float64) float64 {
	var gains, losses float64
	for _, r := range returns {
		if r > 0 {
			gains += r
		} else {
			losses -= r
		}
	}
	if losses == 0 {
		return 0
	}
	return gains / losses
}

// valueAtRisk returns the historical VaR and CVaR at the confidence
// level, both as positive loss fractions
func valueAtRisk(returns []float64, confidence float64) (float64, float64) {
	if len(returns) == 0 {
		return 0, 0
	}
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)) * (1 - confidence))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	vaR := -sorted[idx]
	if vaR < 0 {
		vaR = 0
	}

	var tail float64
	for i := 0; i <= idx; i++ {
		tail += sorted[i]
	}
	cvaR := -tail / float64(idx+1)
	if cvaR < 0 {
		cvaR = 0
	}
	return vaR, cvaR
}

func drawdownStats(curve []types.EquityPoint, equities []float64) (maxDD, avgDD float64, longest time.Duration) {
	peak := equities[0]
	peakAt := curve[0].Timestamp
	var ddSum float64
	var ddCount int
	for i, e := range equities {
		if e >= peak {
			peak = e
			peakAt = curve[i].Timestamp
			continue
		}
		dd := (peak - e) / peak
		ddSum += dd
		ddCount++
		if dd > maxDD {
			maxDD = dd
		}
		if under := curve[i].Timestamp.Sub(peakAt); under > longest {
			longest = under
		}
	}
	if ddCount > 0 {
		avgDD = ddSum / float64(ddCount)
	}
	return maxDD, avgDD, longest
}

func monthlyReturns(curve []types.EquityPoint, equities []float64) (map[string]float64, float64, float64) {
	type span struct{ first, last float64 }
	months := map[string]*span{}
	var order []string
	for i, p := range curve {
		key := p.Timestamp.UTC().Format("2006-01")
		s, ok := months[key]
		if !ok {
			s = &span{first: equities[i]}
			months[key] = s
			order = append(order, key)
		}
		s.last = equities[i]
	}

	out := make(map[string]float64, len(months))
	best, worst := math.Inf(-1), math.Inf(1)
	for _, key := range order {
		s := months[key]
		if s.first <= 0 {
			continue
		}
		r := s.last/s.first - 1
		out[key] = r
		if r > best {
			best = r
		}
		if r < worst {
			worst = r
		}
	}
	if len(out) == 0 {
		return out, 0, 0
	}
	return out, best, worst
}

func tradeStats(trades []ClosedTrade) (winRate, profitFactor, expectancy float64, avgDuration time.Duration) {
	if len(trades) == 0 {
		return 0, 0, 0, 0
	}
	var wins, losses int
	var winSum, lossSum float64
	var durSum time.Duration
	for _, t := range trades {
		p, _ := t.Profit.Float64()
		if p > 0 {
			wins++
			winSum += p
		} else {
			losses++
			lossSum -= p
		}
		if !t.CloseDate.IsZero() {
			durSum += t.CloseDate.Sub(t.OpenDate)
		}
	}
	winRate = float64(wins) / float64(len(trades))
	if lossSum > 0 {
		profitFactor = winSum / lossSum
	}
	avgWin, avgLoss := 0.0, 0.0
	if wins > 0 {
		avgWin = winSum / float64(wins)
	}
	if losses > 0 {
		avgLoss = lossSum / float64(losses)
	}
	expectancy = winRate*avgWin - (1-winRate)*avgLoss
	avgDuration = durSum / time.Duration(len(trades))
	return winRate, profitFactor, expectancy, avgDuration
}
