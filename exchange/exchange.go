package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/gridbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXCHANGE PROTOCOL - Uniform capability set over spot venues
// ═══════════════════════════════════════════════════════════════════════════════
//
// Implementations must be safe for concurrent reads. Order writes are
// serialized per symbol by the caller when the venue requires it.
//
// ═══════════════════════════════════════════════════════════════════════════════

// OrderRequest describes an order to be created. Price must be nil for
// market orders.
type OrderRequest struct {
	Symbol        string
	Type          types.OrderType
	Side          types.Side
	Amount        decimal.Decimal
	Price         *decimal.Decimal
	ClientOrderID string
}

// Exchange is the uniform exchange capability set
type Exchange interface {
	// Name returns the venue identifier
	Name() string

	// FetchTicker returns the current top of book for a symbol
	FetchTicker(ctx context.Context, symbol string) (types.Ticker, error)

	// FetchBalance returns per-currency balances
	FetchBalance(ctx context.Context) (map[string]types.Balance, error)

	// CreateOrder validates, rounds per market filters, and places an order
	CreateOrder(ctx context.Context, req OrderRequest) (types.Order, error)

	// CancelOrder cancels by exchange order id
	CancelOrder(ctx context.Context, orderID, symbol string) (types.Order, error)

	// FetchOrder returns the authoritative order state
	FetchOrder(ctx context.Context, orderID, symbol string) (types.Order, error)

	// FetchOpenOrders lists open orders, optionally filtered by symbol
	FetchOpenOrders(ctx context.Context, symbol string) ([]types.Order, error)

	// FetchOHLCV returns up to limit candles, newest last
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error)

	// FetchMyTrades returns recent own fills for a symbol
	FetchMyTrades(ctx context.Context, symbol string, limit int) ([]types.Trade, error)

	// Market returns the cached market metadata for a symbol
	Market(symbol string) (Market, bool)
}
