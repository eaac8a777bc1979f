package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/gridbot/exchange"
	"github.com/web3guy0/gridbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PAPER EXECUTION - Real market data, simulated fills
// ═══════════════════════════════════════════════════════════════════════════════
//
// Dry-run mode. Market data and filters come from the real venue; orders
// and balances live in memory. Limit orders fill when a ticker crosses
// the limit price, at the limit price. Nothing is persisted.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Paper simulates execution against live market data
type Paper struct {
	ex     exchange.Exchange
	feePct decimal.Decimal // taker-equivalent fee fraction, e.g. 0.001

	mu       sync.Mutex
	seq      int
	balances map[string]decimal.Decimal // free funds per currency
	locked   map[string]decimal.Decimal // funds reserved by open orders
	orders   map[string]types.Order     // open orders by id
	last     map[string]decimal.Decimal // last seen price per symbol
}

// NewPaper builds a dry-run context seeded with starting balances
func NewPaper(ex exchange.Exchange, seed map[string]decimal.Decimal, feePct decimal.Decimal) *Paper {
	balances := make(map[string]decimal.Decimal, len(seed))
	for cur, amt := range seed {
		balances[cur] = amt
	}
	return &Paper{
		ex:       ex,
		feePct:   feePct,
		balances: balances,
		locked:   make(map[string]decimal.Decimal),
		orders:   make(map[string]types.Order),
		last:     make(map[string]decimal.Decimal),
	}
}

func (p *Paper) Now() time.Time { return time.Now() }
func (p *Paper) IsLive() bool   { return false }

func (p *Paper) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p.mu.Lock()
	price, ok := p.last[symbol]
	p.mu.Unlock()
	if ok {
		return price, nil
	}
	t, err := p.ex.FetchTicker(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return t.Last, nil
}

func (p *Paper) Balance(ctx context.Context, currency string) (types.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	free := p.balances[currency]
	used := p.locked[currency]
	return types.Balance{Currency: currency, Free: free, Used: used, Total: free.Add(used)}, nil
}

func (p *Paper) Position(ctx context.Context, symbol string) (decimal.Decimal, error) {
	b, _ := p.Balance(ctx, BaseAsset(symbol))
	return b.Free, nil
}

// PlaceOrder validates against real market filters, reserves funds, and
// either fills immediately (market) or parks the order until a ticker
// crosses it
func (p *Paper) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (types.Order, error) {
	qty := req.Amount
	var price decimal.Decimal
	if m, ok := p.ex.Market(req.Symbol); ok {
		var err error
		qty, price, err = m.ValidateOrder(req)
		if err != nil {
			return types.Order{}, err
		}
	} else if req.Price != nil {
		price = *req.Price
	}

	if req.Type == types.OrderTypeMarket {
		cur, err := p.CurrentPrice(ctx, req.Symbol)
		if err != nil {
			return types.Order{}, err
		}
		price = cur
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// reserve funds like the venue would
	var reserveCur string
	var reserveAmt decimal.Decimal
	if req.Side == types.SideBuy {
		reserveCur, reserveAmt = QuoteAsset(req.Symbol), price.Mul(qty)
	} else {
		reserveCur, reserveAmt = BaseAsset(req.Symbol), qty
	}
	if p.balances[reserveCur].LessThan(reserveAmt) {
		return types.Order{}, exchange.NewError(exchange.KindInsufficientFunds, 0,
			fmt.Sprintf("paper: %s balance %s < required %s", reserveCur, p.balances[reserveCur], reserveAmt), nil)
	}
	p.balances[reserveCur] = p.balances[reserveCur].Sub(reserveAmt)
	p.locked[reserveCur] = p.locked[reserveCur].Add(reserveAmt)

	p.seq++
	order := types.Order{
		ID:            fmt.Sprintf("paper-%d", p.seq),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Status:        types.OrderStatusOpen,
		Price:         price,
		Amount:        qty,
		Remaining:     qty,
		Timestamp:     time.Now(),
	}

	if req.Type == types.OrderTypeMarket {
		p.fill(&order, price)
		return order, nil
	}

	p.orders[order.ID] = order
	log.Debug().Str("symbol", order.Symbol).Str("side", string(order.Side)).
		Str("price", price.String()).Str("amount", qty.String()).Msg("🧪 Paper order parked")
	return order, nil
}

func (p *Paper) CancelOrder(ctx context.Context, orderID, symbol string) (types.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return types.Order{}, exchange.NewError(exchange.KindOrderNotFound, 0, "paper: unknown order "+orderID, nil)
	}
	delete(p.orders, orderID)

	// release the reservation
	if order.Side == types.SideBuy {
		cur, amt := QuoteAsset(order.Symbol), order.Price.Mul(order.Remaining)
		p.locked[cur] = p.locked[cur].Sub(amt)
		p.balances[cur] = p.balances[cur].Add(amt)
	} else {
		cur := BaseAsset(order.Symbol)
		p.locked[cur] = p.locked[cur].Sub(order.Remaining)
		p.balances[cur] = p.balances[cur].Add(order.Remaining)
	}

	order.Status = types.OrderStatusCanceled
	return order, nil
}

func (p *Paper) OrderStatus(ctx context.Context, orderID, symbol string) (types.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if order, ok := p.orders[orderID]; ok {
		return order, nil
	}
	return types.Order{}, exchange.NewError(exchange.KindOrderNotFound, 0, "paper: unknown order "+orderID, nil)
}

func (p *Paper) OpenOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []types.Order
	for _, o := range p.orders {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

// OnTicker advances the simulation with a fresh ticker and returns any
// orders it filled, for the caller to feed to the strategy
func (p *Paper) OnTicker(t types.Ticker) []types.Order {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.last[t.Symbol] = t.Last

	var filled []types.Order
	for id, o := range p.orders {
		if o.Symbol != t.Symbol {
			continue
		}
		crossed := (o.Side == types.SideBuy && t.Last.LessThanOrEqual(o.Price)) ||
			(o.Side == types.SideSell && t.Last.GreaterThanOrEqual(o.Price))
		if !crossed {
			continue
		}
		delete(p.orders, id)
		p.fill(&o, o.Price)
		filled = append(filled, o)
	}
	return filled
}

// fill settles an order at the given price; caller holds p.mu
func (p *Paper) fill(o *types.Order, price decimal.Decimal) {
	base, quote := BaseAsset(o.Symbol), QuoteAsset(o.Symbol)
	cost := price.Mul(o.Amount)
	fee := cost.Mul(p.feePct)

	if o.Side == types.SideBuy {
		// release quote reservation at the reserved price, pay at fill price
		reserved := o.Price.Mul(o.Remaining)
		p.locked[quote] = p.locked[quote].Sub(reserved)
		p.balances[quote] = p.balances[quote].Add(reserved).Sub(cost).Sub(fee)
		p.balances[base] = p.balances[base].Add(o.Amount)
	} else {
		p.locked[base] = p.locked[base].Sub(o.Remaining)
		p.balances[quote] = p.balances[quote].Add(cost).Sub(fee)
	}

	o.Status = types.OrderStatusClosed
	o.Filled = o.Amount
	o.Remaining = decimal.Zero
	o.Cost = cost
	o.Fee = &types.Fee{Cost: fee, Currency: quote}
	o.Price = price
}
