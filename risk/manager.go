package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/gridbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK MANAGER - Single gate in front of every order
// ═══════════════════════════════════════════════════════════════════════════════
//
// The manager owns the circuit breaker, the drawdown tracker and the
// stop registry, and exposes one Approve call strategies must pass
// before any order reaches the venue. Checks run in a fixed order and
// the first failure wins.
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	// ErrHalted means the circuit breaker is open
	ErrHalted = errors.New("trading halted by circuit breaker")
	// ErrRejected wraps every non-breaker rejection
	ErrRejected = errors.New("trade rejected by risk limits")
)

// ManagerConfig bounds order flow; zero values disable a check
type ManagerConfig struct {
	MaxOrderValue        decimal.Decimal // hard cap per order, quote currency
	MaxPositionPct       decimal.Decimal // per-order notional as fraction of equity
	MaxSymbolExposurePct decimal.Decimal // summed buy-side notional per symbol
	MaxOpenOrders        int
	RiskPerTradePct      decimal.Decimal // fixed-fractional risk per validated trade
	DefaultStopLossPct   decimal.Decimal // stop distance when the caller passes none
	Breaker              BreakerConfig
}

// Manager is the risk front door
type Manager struct {
	cfg      ManagerConfig
	Breaker  *CircuitBreaker
	Drawdown *DrawdownTracker
	Stops    *StopManager

	mu         sync.Mutex
	equity     decimal.Decimal
	exposure   map[string]decimal.Decimal // buy-side notional per symbol
	openOrders int
}

// NewManager builds a manager seeded with starting equity
func NewManager(cfg ManagerConfig, startEquity decimal.Decimal) *Manager {
	return &Manager{
		cfg:      cfg,
		Breaker:  NewCircuitBreaker(cfg.Breaker, startEquity),
		Drawdown: NewDrawdownTracker(0),
		Stops:    NewStopManager(),
		equity:   startEquity,
		exposure: make(map[string]decimal.Decimal),
	}
}

// Approve runs the pre-trade checks, first failure wins:
// breaker, price/amount sanity, per-order cap, per-order equity
// fraction, symbol exposure, open-order count
func (m *Manager) Approve(ctx context.Context, symbol string, side types.Side, price, amount decimal.Decimal) error {
	if ok, reason := m.Breaker.Allow(); !ok {
		return fmt.Errorf("%w (%s)", ErrHalted, reason)
	}
	if !price.IsPositive() || !amount.IsPositive() {
		return fmt.Errorf("%w: non-positive price %s or amount %s", ErrRejected, price, amount)
	}

	notional := price.Mul(amount)
	if m.cfg.MaxOrderValue.IsPositive() && notional.GreaterThan(m.cfg.MaxOrderValue) {
		return fmt.Errorf("%w: order value %s exceeds max %s", ErrRejected, notional, m.cfg.MaxOrderValue)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxPositionPct.IsPositive() && m.equity.IsPositive() {
		limit := m.equity.Mul(m.cfg.MaxPositionPct)
		if notional.GreaterThan(limit) {
			return fmt.Errorf("%w: order value %s exceeds %s%% of equity (%s)",
				ErrRejected, notional, m.cfg.MaxPositionPct.Mul(decimal.NewFromInt(100)), limit)
		}
	}
	if side == types.SideBuy && m.cfg.MaxSymbolExposurePct.IsPositive() && m.equity.IsPositive() {
		limit := m.equity.Mul(m.cfg.MaxSymbolExposurePct)
		if m.exposure[symbol].Add(notional).GreaterThan(limit) {
			return fmt.Errorf("%w: %s exposure %s + %s exceeds limit %s",
				ErrRejected, symbol, m.exposure[symbol], notional, limit)
		}
	}
	if m.cfg.MaxOpenOrders > 0 && m.openOrders >= m.cfg.MaxOpenOrders {
		return fmt.Errorf("%w: open order count %d at limit", ErrRejected, m.openOrders)
	}
	return nil
}

// TradeValidation is the outcome of a full pre-trade check: a verdict,
// the sized quantity with its stop, and any non-fatal warnings
type TradeValidation struct {
	Allowed   bool
	Reason    string
	Size      decimal.Decimal
	StopPrice decimal.Decimal
	Warnings  []string
}

// ValidateTrade runs the whole entry pipeline for one prospective
// trade: breaker and drawdown gates, stop placement, fixed-fractional
// sizing, and balance fitting. Limit breaches that only indicate an
// oversized config produce warnings; the size is cut to fit the balance
// rather than rejected.
func (m *Manager) ValidateTrade(symbol string, side types.Side, entry, balance, stopLossPct decimal.Decimal) TradeValidation {
	var v TradeValidation

	if ok, reason := m.Breaker.Allow(); !ok {
		v.Reason = fmt.Sprintf("circuit breaker open (%s)", reason)
		return v
	}
	if m.cfg.Breaker.MaxDrawdownPct.IsPositive() &&
		m.Drawdown.Current().GreaterThanOrEqual(m.cfg.Breaker.MaxDrawdownPct) {
		v.Reason = fmt.Sprintf("drawdown %s at limit %s", m.Drawdown.Current(), m.cfg.Breaker.MaxDrawdownPct)
		return v
	}
	if !entry.IsPositive() || !balance.IsPositive() {
		v.Reason = fmt.Sprintf("non-positive entry %s or balance %s", entry, balance)
		return v
	}

	pct := stopLossPct
	if pct.IsZero() {
		pct = m.cfg.DefaultStopLossPct
	}
	v.StopPrice = NewPercentageStop(entry, pct, side).Level()

	qty, err := FixedFractional{RiskPct: m.cfg.RiskPerTradePct}.Size(SizingInput{
		Balance: balance,
		Entry:   entry,
		Stop:    v.StopPrice,
	})
	if err != nil {
		v.Reason = err.Error()
		return v
	}

	notional := entry.Mul(qty)
	if m.cfg.MaxPositionPct.IsPositive() {
		limit := balance.Mul(m.cfg.MaxPositionPct)
		if notional.GreaterThan(limit) {
			v.Warnings = append(v.Warnings, fmt.Sprintf(
				"position value %s exceeds %s%% of balance (%s)",
				notional, m.cfg.MaxPositionPct.Mul(decimal.NewFromInt(100)), limit))
		}
	}
	if notional.GreaterThan(balance) {
		qty = balance.Mul(decimal.NewFromFloat(0.95)).Div(entry)
		v.Warnings = append(v.Warnings, fmt.Sprintf(
			"position value %s exceeds balance %s, size cut to 95%% of balance", notional, balance))
	}

	v.Allowed = true
	v.Size = qty

	log.Debug().
		Str("symbol", symbol).
		Str("side", string(side)).
		Str("size", v.Size.String()).
		Str("stop", v.StopPrice.String()).
		Int("warnings", len(v.Warnings)).
		Msg("Trade validated")
	return v
}

// RegisterStopLoss arms a percentage stop for one position, falling
// back to the configured default distance
func (m *Manager) RegisterStopLoss(positionID uint, side types.Side, entry, pct decimal.Decimal) {
	if pct.IsZero() {
		pct = m.cfg.DefaultStopLossPct
	}
	m.Stops.Arm(positionID, NewPercentageStop(entry, pct, side))
}

// CheckStopLosses feeds the latest price to every armed stop and
// returns the tripped position ids in ascending order
func (m *Manager) CheckStopLosses(price decimal.Decimal) []uint {
	return m.Stops.Check(price)
}

// RecordError feeds one failed operation to the breaker
func (m *Manager) RecordError() {
	m.Breaker.RecordError()
}

// RecordOrderOpened tracks a resting order for exposure accounting
func (m *Manager) RecordOrderOpened(symbol string, side types.Side, notional decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openOrders++
	if side == types.SideBuy {
		m.exposure[symbol] = m.exposure[symbol].Add(notional)
	}
}

// RecordOrderClosed releases a resting order's exposure (filled or
// cancelled)
func (m *Manager) RecordOrderClosed(symbol string, side types.Side, notional decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openOrders > 0 {
		m.openOrders--
	}
	if side == types.SideBuy {
		m.exposure[symbol] = m.exposure[symbol].Sub(notional)
		if m.exposure[symbol].IsNegative() {
			m.exposure[symbol] = decimal.Zero
		}
	}
}

// RecordTradeResult feeds one realized P&L: equity moves, the drawdown
// tracker updates first, then the breaker sees both the trade and the
// fresh drawdown
func (m *Manager) RecordTradeResult(pnl decimal.Decimal, at time.Time) {
	m.mu.Lock()
	m.equity = m.equity.Add(pnl)
	equity := m.equity
	m.mu.Unlock()

	dd := m.Drawdown.Update(equity, at)
	m.Breaker.ObserveDrawdown(dd)
	m.Breaker.RecordTradeResult(pnl, equity)

	log.Debug().
		Str("pnl", pnl.String()).
		Str("equity", equity.String()).
		Str("drawdown", dd.String()).
		Msg("Trade result recorded")
}

// UpdateEquity feeds a mark-to-market equity sample outside trades
func (m *Manager) UpdateEquity(equity decimal.Decimal, at time.Time) {
	m.mu.Lock()
	m.equity = equity
	m.mu.Unlock()
	dd := m.Drawdown.Update(equity, at)
	m.Breaker.ObserveDrawdown(dd)
}

// Equity is the last known account equity
func (m *Manager) Equity() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.equity
}

// ─── presets ───────────────────────────────────────────────────────────────────

// ConservativePreset trips early and sizes small
func ConservativePreset() ManagerConfig {
	return ManagerConfig{
		MaxPositionPct:       decimal.NewFromFloat(0.05),
		MaxSymbolExposurePct: decimal.NewFromFloat(0.20),
		MaxOpenOrders:        50,
		RiskPerTradePct:      decimal.NewFromFloat(0.005),
		DefaultStopLossPct:   decimal.NewFromFloat(0.02),
		Breaker: BreakerConfig{
			MaxDailyLossPct:      decimal.NewFromFloat(0.02),
			MaxConsecutiveLosses: 3,
			MaxDrawdownPct:       decimal.NewFromFloat(0.10),
			MaxErrorRate:         decimal.NewFromFloat(0.25),
			Cooldown:             4 * time.Hour,
		},
	}
}

// ModeratePreset is the default profile
func ModeratePreset() ManagerConfig {
	return ManagerConfig{
		MaxPositionPct:       decimal.NewFromFloat(0.10),
		MaxSymbolExposurePct: decimal.NewFromFloat(0.40),
		MaxOpenOrders:        100,
		RiskPerTradePct:      decimal.NewFromFloat(0.01),
		DefaultStopLossPct:   decimal.NewFromFloat(0.05),
		Breaker: BreakerConfig{
			MaxDailyLossPct:      decimal.NewFromFloat(0.05),
			MaxConsecutiveLosses: 5,
			MaxDrawdownPct:       decimal.NewFromFloat(0.20),
			MaxErrorRate:         decimal.NewFromFloat(0.50),
			Cooldown:             time.Hour,
		},
	}
}

// AggressivePreset tolerates deep swings
func AggressivePreset() ManagerConfig {
	return ManagerConfig{
		MaxPositionPct:       decimal.NewFromFloat(0.25),
		MaxSymbolExposurePct: decimal.NewFromFloat(0.80),
		MaxOpenOrders:        200,
		RiskPerTradePct:      decimal.NewFromFloat(0.02),
		DefaultStopLossPct:   decimal.NewFromFloat(0.08),
		Breaker: BreakerConfig{
			MaxDailyLossPct:      decimal.NewFromFloat(0.10),
			MaxConsecutiveLosses: 10,
			MaxDrawdownPct:       decimal.NewFromFloat(0.35),
			MaxErrorRate:         decimal.NewFromFloat(0.75),
			Cooldown:             30 * time.Minute,
		},
	}
}

// PresetByName resolves a profile name, defaulting to moderate
func PresetByName(name string) (ManagerConfig, error) {
	switch name {
	case "conservative":
		return ConservativePreset(), nil
	case "moderate", "":
		return ModeratePreset(), nil
	case "aggressive":
		return AggressivePreset(), nil
	default:
		return ManagerConfig{}, fmt.Errorf("unknown risk preset %q", name)
	}
}
