package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Market data and order lifecycle
// ═══════════════════════════════════════════════════════════════════════════════
//
// All money values are decimal.Decimal. Binary floats never touch a price,
// amount, cost or fee.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Side is the order side
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the flip side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType is the order type
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus is the exchange-side order status
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusClosed   OrderStatus = "closed"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusExpired  OrderStatus = "expired"
)

// Terminal reports whether the status is a final one
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusClosed || s == OrderStatusCanceled || s == OrderStatusExpired
}

// Ticker is an immutable top-of-book snapshot
type Ticker struct {
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      decimal.Decimal
	Timestamp time.Time
}

// Candle is an immutable OHLCV bar
type Candle struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Fee is an order fee in a given currency
type Fee struct {
	Cost     decimal.Decimal
	Currency string
}

// Order mirrors the exchange view of an order. The exchange order ID is
// authoritative; ClientOrderID is ours when we set one.
// Invariant: Filled + Remaining = Amount; closed ⇒ Filled = Amount.
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	Status        OrderStatus
	Price         decimal.Decimal // zero for market orders
	Amount        decimal.Decimal
	Filled        decimal.Decimal
	Remaining     decimal.Decimal
	Cost          decimal.Decimal
	Fee           *Fee
	Timestamp     time.Time
}

// IsFilled reports a fully filled terminal order
func (o *Order) IsFilled() bool {
	return o.Status == OrderStatusClosed && o.Filled.Equal(o.Amount)
}

// Trade is a single exchange fill (not a cycle)
type Trade struct {
	ID        string
	OrderID   string
	Symbol    string
	Side      Side
	Price     decimal.Decimal
	Amount    decimal.Decimal
	Cost      decimal.Decimal
	Fee       *Fee
	IsMaker   bool
	Timestamp time.Time
}

// Balance is the per-currency account balance; Total = Free + Used
type Balance struct {
	Currency string
	Free     decimal.Decimal
	Used     decimal.Decimal
	Total    decimal.Decimal
}

// EquityPoint is one sample of the equity curve
type EquityPoint struct {
	Timestamp time.Time
	Equity    decimal.Decimal
}

// TimeframeDuration returns the bar interval for the usual exchange
// timeframe strings ("1m", "5m", "1h", "4h", "1d", ...).
func TimeframeDuration(tf string) (time.Duration, bool) {
	d, ok := timeframes[tf]
	return d, ok
}

var timeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}
