package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/gridbot/exchange"
	"github.com/web3guy0/gridbot/execution"
	"github.com/web3guy0/gridbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SIMULATED EXECUTION - In-memory venue driven by historical bars
// ═══════════════════════════════════════════════════════════════════════════════
//
// Implements the same execution surface strategies use live, plus
// SetMarketState which the engine calls once per bar: advance the sim
// clock, fill crossed limit orders (at the slipped limit), fill matured
// market orders at the slipped bar price, and settle balances. A fill
// the quote balance cannot cover is cancelled, not partially filled.
//
// ═══════════════════════════════════════════════════════════════════════════════

type simOrder struct {
	order   types.Order
	readyAt time.Time // latency model: venue sees the order at this time
}

type volumePoint struct {
	at       time.Time
	notional decimal.Decimal
}

// SimContext is the backtest execution context
type SimContext struct {
	fees     FeeModel
	slippage SlippageModel
	latency  *LatencyModel

	clock    time.Time
	seq      int
	balances map[string]decimal.Decimal
	orders   map[string]*simOrder
	prices   map[string]decimal.Decimal
	volumes  map[string]decimal.Decimal
	traded   []volumePoint // rolling window for tiered fees
}

// NewSimContext seeds balances; fees and slippage may be nil (free,
// frictionless fills), latency may be nil (orders arrive instantly)
func NewSimContext(balances map[string]decimal.Decimal, fees FeeModel, slippage SlippageModel, latency *LatencyModel) *SimContext {
	b := make(map[string]decimal.Decimal, len(balances))
	for cur, amt := range balances {
		b[cur] = amt
	}
	return &SimContext{
		fees:     fees,
		slippage: slippage,
		latency:  latency,
		balances: b,
		orders:   make(map[string]*simOrder),
		prices:   make(map[string]decimal.Decimal),
		volumes:  make(map[string]decimal.Decimal),
	}
}

func (s *SimContext) Now() time.Time { return s.clock }
func (s *SimContext) IsLive() bool   { return false }

func (s *SimContext) CurrentPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	p, ok := s.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("sim: no price for %s yet", symbol)
	}
	return p, nil
}

func (s *SimContext) Balance(_ context.Context, currency string) (types.Balance, error) {
	free := s.balances[currency]
	return types.Balance{Currency: currency, Free: free, Total: free}, nil
}

func (s *SimContext) Position(_ context.Context, symbol string) (decimal.Decimal, error) {
	return s.balances[execution.BaseAsset(symbol)], nil
}

func (s *SimContext) PlaceOrder(_ context.Context, req exchange.OrderRequest) (types.Order, error) {
	if !req.Amount.IsPositive() {
		return types.Order{}, exchange.NewError(exchange.KindInvalidOrder, 0, "sim: non-positive amount", nil)
	}
	var price decimal.Decimal
	if req.Price != nil {
		price = *req.Price
	} else if req.Type == types.OrderTypeLimit {
		return types.Order{}, exchange.NewError(exchange.KindInvalidOrder, 0, "sim: limit order without price", nil)
	}

	s.seq++
	order := types.Order{
		ID:            fmt.Sprintf("sim-%d", s.seq),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Status:        types.OrderStatusOpen,
		Price:         price,
		Amount:        req.Amount,
		Remaining:     req.Amount,
		Timestamp:     s.clock,
	}
	s.orders[order.ID] = &simOrder{order: order, readyAt: s.clock.Add(s.latency.Delay())}
	return order, nil
}

func (s *SimContext) CancelOrder(_ context.Context, orderID, _ string) (types.Order, error) {
	so, ok := s.orders[orderID]
	if !ok {
		return types.Order{}, exchange.NewError(exchange.KindOrderNotFound, 0, "sim: unknown order "+orderID, nil)
	}
	delete(s.orders, orderID)
	so.order.Status = types.OrderStatusCanceled
	return so.order, nil
}

func (s *SimContext) OrderStatus(_ context.Context, orderID, _ string) (types.Order, error) {
	if so, ok := s.orders[orderID]; ok {
		return so.order, nil
	}
	return types.Order{}, exchange.NewError(exchange.KindOrderNotFound, 0, "sim: unknown order "+orderID, nil)
}

func (s *SimContext) OpenOrders(_ context.Context, symbol string) ([]types.Order, error) {
	var out []types.Order
	for _, so := range s.orders {
		if symbol == "" || so.order.Symbol == symbol {
			out = append(out, so.order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetMarketState advances one bar and returns the orders it filled, in
// deterministic id order
func (s *SimContext) SetMarketState(ts time.Time, prices, volumes map[string]decimal.Decimal) []types.Order {
	s.clock = ts
	for sym, p := range prices {
		s.prices[sym] = p
	}
	for sym, v := range volumes {
		s.volumes[sym] = v
	}

	ids := make([]string, 0, len(s.orders))
	for id := range s.orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var filled []types.Order
	for _, id := range ids {
		so := s.orders[id]
		if ts.Before(so.readyAt) {
			continue
		}
		price, ok := s.prices[so.order.Symbol]
		if !ok {
			continue
		}

		var fillPrice decimal.Decimal
		maker := false
		switch so.order.Type {
		case types.OrderTypeMarket:
			fillPrice = s.slip(price, so.order)
		default:
			limit := so.order.Price
			crossed := (so.order.Side == types.SideBuy && price.LessThanOrEqual(limit)) ||
				(so.order.Side == types.SideSell && price.GreaterThanOrEqual(limit))
			if !crossed {
				continue
			}
			maker = true
			// slippage only ever worsens the limit, never improves it
			slipped := s.slip(limit, so.order)
			fillPrice = limit
			if so.order.Side == types.SideBuy && slipped.GreaterThan(limit) {
				fillPrice = slipped
			}
			if so.order.Side == types.SideSell && slipped.LessThan(limit) {
				fillPrice = slipped
			}
		}

		delete(s.orders, id)
		if order, ok := s.settle(so.order, fillPrice, maker); ok {
			filled = append(filled, order)
		}
	}
	return filled
}

// slip applies the slippage model against the order's side
func (s *SimContext) slip(price decimal.Decimal, o types.Order) decimal.Decimal {
	if s.slippage == nil {
		return price
	}
	return s.slippage.Slip(price, o.Side, o.Amount, s.volumes[o.Symbol])
}

// settle pays fees and moves balances atomically; a fill the balance
// cannot cover is cancelled
func (s *SimContext) settle(o types.Order, fillPrice decimal.Decimal, maker bool) (types.Order, bool) {
	base, quote := execution.BaseAsset(o.Symbol), execution.QuoteAsset(o.Symbol)
	cost := fillPrice.Mul(o.Amount)

	fee := decimal.Zero
	if s.fees != nil {
		fee = s.fees.Fee(cost, maker, s.rolling30dVolume())
	}

	if o.Side == types.SideBuy {
		if s.balances[quote].LessThan(cost.Add(fee)) {
			o.Status = types.OrderStatusCanceled
			return o, false
		}
		s.balances[quote] = s.balances[quote].Sub(cost).Sub(fee)
		s.balances[base] = s.balances[base].Add(o.Amount)
	} else {
		if s.balances[base].LessThan(o.Amount) {
			o.Status = types.OrderStatusCanceled
			return o, false
		}
		s.balances[base] = s.balances[base].Sub(o.Amount)
		s.balances[quote] = s.balances[quote].Add(cost).Sub(fee)
	}

	s.traded = append(s.traded, volumePoint{at: s.clock, notional: cost})

	o.Status = types.OrderStatusClosed
	o.Filled = o.Amount
	o.Remaining = decimal.Zero
	o.Price = fillPrice
	o.Cost = cost
	o.Fee = &types.Fee{Cost: fee, Currency: quote}
	o.Timestamp = s.clock
	return o, true
}

// rolling30dVolume sums traded notional over the trailing 30 days,
// dropping aged points as it goes
func (s *SimContext) rolling30dVolume() decimal.Decimal {
	cutoff := s.clock.Add(-30 * 24 * time.Hour)
	i := 0
	for i < len(s.traded) && s.traded[i].at.Before(cutoff) {
		i++
	}
	s.traded = s.traded[i:]

	total := decimal.Zero
	for _, p := range s.traded {
		total = total.Add(p.notional)
	}
	return total
}

// Equity values the quote balance plus base inventory at the last price
func (s *SimContext) Equity(symbol string) decimal.Decimal {
	base, quote := execution.BaseAsset(symbol), execution.QuoteAsset(symbol)
	return s.balances[quote].Add(s.balances[base].Mul(s.prices[symbol]))
}
