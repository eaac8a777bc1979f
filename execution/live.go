package execution

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/gridbot/exchange"
	"github.com/web3guy0/gridbot/storage"
	"github.com/web3guy0/gridbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LIVE EXECUTION - Real orders, persisted as they move
// ═══════════════════════════════════════════════════════════════════════════════

// Live routes orders to a real venue and mirrors them into the store
type Live struct {
	ex    exchange.Exchange
	store *storage.Store
}

// NewLive builds the live execution context. store may be nil in tests.
func NewLive(ex exchange.Exchange, store *storage.Store) *Live {
	return &Live{ex: ex, store: store}
}

func (l *Live) Now() time.Time { return time.Now() }
func (l *Live) IsLive() bool   { return true }

func (l *Live) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	t, err := l.ex.FetchTicker(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return t.Last, nil
}

func (l *Live) Balance(ctx context.Context, currency string) (types.Balance, error) {
	balances, err := l.ex.FetchBalance(ctx)
	if err != nil {
		return types.Balance{}, err
	}
	b, ok := balances[currency]
	if !ok {
		return types.Balance{Currency: currency}, nil
	}
	return b, nil
}

func (l *Live) Position(ctx context.Context, symbol string) (decimal.Decimal, error) {
	b, err := l.Balance(ctx, BaseAsset(symbol))
	if err != nil {
		return decimal.Zero, err
	}
	return b.Free, nil
}

// PlaceOrder submits to the venue and persists the result. A missing
// client order id gets a minted prefixed one so reconciliation can claim
// the order after a crash between submit and persist.
func (l *Live) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (types.Order, error) {
	if req.ClientOrderID == "" {
		req.ClientOrderID = NewClientOrderID()
	}

	order, err := l.ex.CreateOrder(ctx, req)
	if err != nil {
		return types.Order{}, err
	}

	l.persist(ctx, order)
	log.Info().
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Str("type", string(order.Type)).
		Str("price", order.Price.String()).
		Str("amount", order.Amount.String()).
		Str("order_id", order.ID).
		Msg("✅ Order placed")
	return order, nil
}

func (l *Live) CancelOrder(ctx context.Context, orderID, symbol string) (types.Order, error) {
	order, err := l.ex.CancelOrder(ctx, orderID, symbol)
	if err != nil {
		return types.Order{}, err
	}
	l.persist(ctx, order)
	log.Info().Str("symbol", symbol).Str("order_id", orderID).Msg("Order cancelled")
	return order, nil
}

func (l *Live) OrderStatus(ctx context.Context, orderID, symbol string) (types.Order, error) {
	order, err := l.ex.FetchOrder(ctx, orderID, symbol)
	if err != nil {
		return types.Order{}, err
	}
	l.persist(ctx, order)
	return order, nil
}

func (l *Live) OpenOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	return l.ex.FetchOpenOrders(ctx, symbol)
}

// persist mirrors an order into the store; persistence failure never
// blocks trading, it only logs
func (l *Live) persist(ctx context.Context, o types.Order) {
	if l.store == nil {
		return
	}
	rec := Record(l.ex.Name(), o)
	if err := l.store.UpsertOrder(ctx, rec); err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Msg("🚨 Failed to persist order")
	}
}

// Record converts an exchange order into its storage row
func Record(exchangeName string, o types.Order) *storage.OrderRecord {
	rec := &storage.OrderRecord{
		OrderID:   o.ID,
		Exchange:  exchangeName,
		Symbol:    o.Symbol,
		Side:      string(o.Side),
		OrderType: string(o.Type),
		Status:    string(o.Status),
		Amount:    o.Amount,
		Filled:    o.Filled,
	}
	if !o.Price.IsZero() {
		p := o.Price
		rec.Price = &p
	}
	r := o.Remaining
	rec.Remaining = &r
	if !o.Cost.IsZero() {
		c := o.Cost
		rec.Cost = &c
	}
	if o.Fee != nil {
		f := o.Fee.Cost
		rec.Fee = &f
		rec.FeeCurrency = o.Fee.Currency
	}
	return rec
}
