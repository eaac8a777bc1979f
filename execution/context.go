package execution

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/gridbot/exchange"
	"github.com/web3guy0/gridbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTION CONTEXT - What a strategy is allowed to do
// ═══════════════════════════════════════════════════════════════════════════════
//
// Strategies never touch the exchange directly. They see this narrow
// surface, which live trading, paper trading and backtests all implement,
// so strategy code is identical across the three.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Context is the execution surface handed to strategies
type Context interface {
	// Now is the engine clock (wall clock live, bar clock in backtests)
	Now() time.Time

	// IsLive reports whether orders reach a real venue
	IsLive() bool

	// CurrentPrice returns the last traded/mid price for a symbol
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// Balance returns the balance for one currency
	Balance(ctx context.Context, currency string) (types.Balance, error)

	// Position returns the free base-asset holdings for a symbol
	Position(ctx context.Context, symbol string) (decimal.Decimal, error)

	// PlaceOrder submits an order after filter validation
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (types.Order, error)

	// CancelOrder cancels by exchange order id
	CancelOrder(ctx context.Context, orderID, symbol string) (types.Order, error)

	// OrderStatus returns the authoritative order state
	OrderStatus(ctx context.Context, orderID, symbol string) (types.Order, error)

	// OpenOrders lists open orders, optionally filtered by symbol
	OpenOrders(ctx context.Context, symbol string) ([]types.Order, error)
}

// FillHandler receives order lifecycle events discovered outside the
// strategy's own calls (stream fills, reconciliation replays).
type FillHandler interface {
	OnOrderFilled(ctx context.Context, order types.Order) error
	OnOrderCancelled(ctx context.Context, order types.Order) error
}

// ClientOrderPrefix marks orders this bot placed. The reconciler uses it
// to tell our orphans from foreign orders on the same account.
const ClientOrderPrefix = "gb-"

// NewClientOrderID mints a prefixed idempotency id
func NewClientOrderID() string {
	return ClientOrderPrefix + uuid.NewString()
}

// Ours reports whether a client order id carries our prefix
func Ours(clientOrderID string) bool {
	return strings.HasPrefix(clientOrderID, ClientOrderPrefix)
}

// BaseAsset extracts the base currency from a "BASE/QUOTE" symbol
func BaseAsset(symbol string) string {
	if i := strings.Index(symbol, "/"); i > 0 {
		return symbol[:i]
	}
	return symbol
}

// QuoteAsset extracts the quote currency from a "BASE/QUOTE" symbol
func QuoteAsset(symbol string) string {
	if i := strings.Index(symbol, "/"); i >= 0 && i < len(symbol)-1 {
		return symbol[i+1:]
	}
	return ""
}
