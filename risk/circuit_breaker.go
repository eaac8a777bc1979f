package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER - Hard stop on runaway losses
// ═══════════════════════════════════════════════════════════════════════════════
//
// While tripped, every trade is rejected. The breaker re-arms itself
// after the cooldown, except a manual trip which only a manual reset
// clears. Daily counters roll at UTC midnight.
//
// Triggers are checked in a fixed order so a day that violates several
// limits always reports the same reason: daily loss, then consecutive
// losses, then drawdown, then error rate.
//
// ═══════════════════════════════════════════════════════════════════════════════

// TripReason identifies what tripped the breaker
type TripReason string

const (
	TripNone              TripReason = ""
	TripDailyLoss         TripReason = "daily_loss"
	TripConsecutiveLosses TripReason = "consecutive_losses"
	TripMaxDrawdown       TripReason = "max_drawdown"
	TripErrorRate         TripReason = "error_rate"
	TripManual            TripReason = "manual"
)

// BreakerConfig holds the trip thresholds; a zero threshold disables
// that trigger
type BreakerConfig struct {
	MaxDailyLossPct      decimal.Decimal // fraction of day-start equity
	MaxConsecutiveLosses int
	MaxDrawdownPct       decimal.Decimal // fraction off the equity peak
	MaxErrorRate         decimal.Decimal // daily errors / daily trades
	Cooldown             time.Duration
}

// CircuitBreaker is the trading kill switch
type CircuitBreaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu                sync.Mutex
	tripped           bool
	reason            TripReason
	trippedAt         time.Time
	day               time.Time // UTC midnight of the current day
	dayStartEquity    decimal.Decimal
	dailyPnL          decimal.Decimal
	consecutiveLosses int
	dailyTrades       int
	dailyErrors       int
	drawdown          decimal.Decimal
	equity            decimal.Decimal
}

// NewCircuitBreaker builds an armed breaker with day-start equity
func NewCircuitBreaker(cfg BreakerConfig, startEquity decimal.Decimal) *CircuitBreaker {
	b := &CircuitBreaker{cfg: cfg, now: time.Now}
	b.dayStartEquity = startEquity
	b.equity = startEquity
	b.day = b.now().UTC().Truncate(24 * time.Hour)
	return b
}

// Allow reports whether trading may proceed, re-arming after cooldown
func (b *CircuitBreaker) Allow() (bool, TripReason) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDay()

	if !b.tripped {
		return true, TripNone
	}
	// manual trips never auto-clear. The auto-reset also zeroes the
	// losing streak so the stale count cannot re-trip the next event;
	// equity and daily counters survive.
	if b.reason != TripManual && b.cfg.Cooldown > 0 && b.now().Sub(b.trippedAt) >= b.cfg.Cooldown {
		log.Info().Str("reason", string(b.reason)).Msg("🔌 Circuit breaker cooldown elapsed, re-armed")
		b.clear()
		b.consecutiveLosses = 0
		return true, TripNone
	}
	return false, b.reason
}

// Trip forces the breaker open
func (b *CircuitBreaker) Trip(reason TripReason) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trip(reason)
}

// Reset clears any trip, including a manual one, and zeroes the streak
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clear()
	b.consecutiveLosses = 0
	log.Info().Msg("🔌 Circuit breaker manually reset")
}

// RecordTradeResult feeds one realized trade P&L and the new equity
func (b *CircuitBreaker) RecordTradeResult(pnl, equity decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDay()

	b.equity = equity
	b.dailyPnL = b.dailyPnL.Add(pnl)
	b.dailyTrades++
	if pnl.IsNegative() {
		b.consecutiveLosses++
	} else {
		b.consecutiveLosses = 0
	}
	b.evaluate()
}

// ObserveDrawdown feeds the current drawdown fraction off the peak
func (b *CircuitBreaker) ObserveDrawdown(dd decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDay()
	b.drawdown = dd
	b.evaluate()
}

// RecordError counts one failed operation against today's trade count
func (b *CircuitBreaker) RecordError() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDay()
	b.dailyErrors++
	b.evaluate()
}

// Status returns the current trip state for the API surface
func (b *CircuitBreaker) Status() (tripped bool, reason TripReason, since time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped, b.reason, b.trippedAt
}

// ConsecutiveLosses is the current losing streak
func (b *CircuitBreaker) ConsecutiveLosses() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveLosses
}

// DailyPnL returns today's realized result
func (b *CircuitBreaker) DailyPnL() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDay()
	return b.dailyPnL
}

// ─── internals (caller holds b.mu) ─────────────────────────────────────────────

// rollDay resets daily counters at UTC midnight
func (b *CircuitBreaker) rollDay() {
	today := b.now().UTC().Truncate(24 * time.Hour)
	if today.Equal(b.day) {
		return
	}
	b.day = today
	b.dailyPnL = decimal.Zero
	b.dailyTrades = 0
	b.dailyErrors = 0
	b.dayStartEquity = b.equity
	// a daily-loss trip clears with the day it belongs to
	if b.tripped && b.reason == TripDailyLoss {
		b.clear()
	}
	log.Debug().Str("equity", b.dayStartEquity.String()).Msg("🕐 Circuit breaker daily counters rolled")
}

// evaluate checks triggers in the documented order
func (b *CircuitBreaker) evaluate() {
	if b.tripped {
		return
	}
	if b.cfg.MaxDailyLossPct.IsPositive() && b.dayStartEquity.IsPositive() {
		limit := b.dayStartEquity.Mul(b.cfg.MaxDailyLossPct).Neg()
		if b.dailyPnL.LessThanOrEqual(limit) {
			b.trip(TripDailyLoss)
			return
		}
	}
	if b.cfg.MaxConsecutiveLosses > 0 && b.consecutiveLosses >= b.cfg.MaxConsecutiveLosses {
		b.trip(TripConsecutiveLosses)
		return
	}
	if b.cfg.MaxDrawdownPct.IsPositive() && b.drawdown.GreaterThanOrEqual(b.cfg.MaxDrawdownPct) {
		b.trip(TripMaxDrawdown)
		return
	}
	// error rate is errors per executed trade, undefined until the
	// first trade of the day
	if b.cfg.MaxErrorRate.IsPositive() && b.dailyTrades > 0 {
		rate := decimal.NewFromInt(int64(b.dailyErrors)).Div(decimal.NewFromInt(int64(b.dailyTrades)))
		if rate.GreaterThanOrEqual(b.cfg.MaxErrorRate) {
			b.trip(TripErrorRate)
		}
	}
}

func (b *CircuitBreaker) trip(reason TripReason) {
	if b.tripped {
		return
	}
	b.tripped = true
	b.reason = reason
	b.trippedAt = b.now()
	log.Error().
		Str("reason", string(reason)).
		Str("daily_pnl", b.dailyPnL.String()).
		Int("consecutive_losses", b.consecutiveLosses).
		Str("drawdown", b.drawdown.String()).
		Msg("🚨 CIRCUIT BREAKER TRIPPED - trading halted")
}

func (b *CircuitBreaker) clear() {
	b.tripped = false
	b.reason = TripNone
	b.trippedAt = time.Time{}
}
