package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/gridbot/storage"
	"github.com/web3guy0/gridbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STRATEGY PROTOCOL
// ═══════════════════════════════════════════════════════════════════════════════

// Strategy is the lifecycle every trading strategy implements. The engine
// guarantees the calls never overlap for one strategy instance.
type Strategy interface {
	// Name is the unique instance name, used as the state-snapshot key
	Name() string

	// Symbol is the market this instance trades
	Symbol() string

	// Initialize places the initial order set; called once after
	// reconciliation and before the first tick
	Initialize(ctx context.Context) error

	// OnTick receives every ticker for the subscribed symbol
	OnTick(ctx context.Context, t types.Ticker) error

	// OnOrderFilled handles a confirmed full fill of one of our orders
	OnOrderFilled(ctx context.Context, o types.Order) error

	// OnOrderCancelled handles an externally cancelled order
	OnOrderCancelled(ctx context.Context, o types.Order) error

	// State returns a JSON snapshot sufficient to resume after a restart
	State() ([]byte, error)

	// Shutdown flushes state; open orders are left working by design
	Shutdown(ctx context.Context) error
}

// CycleStore persists trade cycles; *storage.Store satisfies it
type CycleStore interface {
	CreateCycle(ctx context.Context, c *storage.TradeCycle) error
	CloseCycle(ctx context.Context, id uint, closeRate decimal.Decimal, closeDate time.Time, profit, profitPct, fee decimal.Decimal) error
	OpenCycles(ctx context.Context, strategy, symbol string) ([]storage.TradeCycle, error)
}

// Gate approves or rejects a proposed order before it reaches the venue;
// the risk manager satisfies it
type Gate interface {
	Approve(ctx context.Context, symbol string, side types.Side, price, amount decimal.Decimal) error
}
