package exchange

import (
	"context"
	"math/rand"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RETRY POLICY - Exponential backoff with jitter over classified errors
// ═══════════════════════════════════════════════════════════════════════════════

// RetryConfig controls the backoff schedule.
// Delay for attempt n is min(Base · Factor^n, MaxDelay), optionally
// multiplied by a jitter factor uniform in [0.5, 1.5].
type RetryConfig struct {
	MaxRetries int
	Base       time.Duration
	Factor     float64
	MaxDelay   time.Duration
	Jitter     bool
}

// DefaultRetryConfig matches the adapter defaults: up to 3 retries,
// 500ms base doubling to a 30s cap.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		Base:       500 * time.Millisecond,
		Factor:     2.0,
		MaxDelay:   30 * time.Second,
		Jitter:     true,
	}
}

// Retrier wraps calls with the retry policy
type Retrier struct {
	cfg RetryConfig
}

// NewRetrier creates a retrier
func NewRetrier(cfg RetryConfig) *Retrier {
	if cfg.Factor <= 1 {
		cfg.Factor = 2.0
	}
	if cfg.Base <= 0 {
		cfg.Base = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &Retrier{cfg: cfg}
}

// Do runs fn, retrying retryable errors per the schedule. With
// MaxRetries=0 the first failure is returned without sleeping.
func (r *Retrier) Do(ctx context.Context, op string, fn func() error) error {
	b := &backoff.Backoff{
		Min:    r.cfg.Base,
		Max:    r.cfg.MaxDelay,
		Factor: r.cfg.Factor,
		Jitter: false, // jitter applied below so the multiplier range is ours
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt >= r.cfg.MaxRetries {
			return err
		}

		delay := b.Duration()
		if r.cfg.Jitter {
			delay = time.Duration(float64(delay) * (0.5 + rand.Float64()))
		}

		log.Warn().
			Str("op", op).
			Int("attempt", attempt+1).
			Int("max_retries", r.cfg.MaxRetries).
			Dur("delay", delay).
			Err(err).
			Msg("⏳ Retrying exchange call")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
