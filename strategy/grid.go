package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/gridbot/execution"
	"github.com/web3guy0/gridbot/exchange"
	"github.com/web3guy0/gridbot/risk"
	"github.com/web3guy0/gridbot/storage"
	"github.com/web3guy0/gridbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// GRID STRATEGY - Ladder of resting limit orders in a price band
// ═══════════════════════════════════════════════════════════════════════════════
//
// Levels 0..n-1 span [lower, upper]. A buy filling at level i opens a
// cycle and rests a sell at level i+1; that sell filling closes the
// oldest open inventory FIFO and rests a buy back at level i-1. The
// ladder is therefore self-replenishing while price stays in the band.
//
// Level prices are kept at full precision here; the venue adapter rounds
// to the tick on placement.
//
// ═══════════════════════════════════════════════════════════════════════════════

// SpacingMode selects how levels divide the band
type SpacingMode string

const (
	SpacingArithmetic SpacingMode = "arithmetic"
	SpacingGeometric  SpacingMode = "geometric"
)

// GridConfig is the full grid parameter set
type GridConfig struct {
	Name              string          `json:"name"`
	Symbol            string          `json:"symbol"`
	LowerPrice        decimal.Decimal `json:"lower_price"`
	UpperPrice        decimal.Decimal `json:"upper_price"`
	NumGrids          int             `json:"num_grids"`
	TotalInvestment   decimal.Decimal `json:"total_investment"` // quote currency
	Spacing           SpacingMode     `json:"spacing"`
	PlaceInitialSells bool            `json:"place_initial_sells"`
	TickSize          decimal.Decimal `json:"tick_size,omitempty"` // market tick, when known
}

// Validate checks ranges and defaults the spacing mode
func (c *GridConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("grid: name is required")
	}
	if c.Symbol == "" {
		return fmt.Errorf("grid: symbol is required")
	}
	if c.NumGrids < 3 || c.NumGrids > 100 {
		return fmt.Errorf("grid: num_grids must be in [3, 100], got %d", c.NumGrids)
	}
	if !c.LowerPrice.IsPositive() {
		return fmt.Errorf("grid: lower_price must be positive, got %s", c.LowerPrice)
	}
	if !c.UpperPrice.GreaterThan(c.LowerPrice) {
		return fmt.Errorf("grid: upper_price %s must exceed lower_price %s", c.UpperPrice, c.LowerPrice)
	}
	if !c.TotalInvestment.IsPositive() {
		return fmt.Errorf("grid: total_investment must be positive, got %s", c.TotalInvestment)
	}
	switch c.Spacing {
	case "":
		c.Spacing = SpacingArithmetic
	case SpacingArithmetic, SpacingGeometric:
	default:
		return fmt.Errorf("grid: unknown spacing %q", c.Spacing)
	}
	return nil
}

// Warnings flags config smells that trade badly but are not errors:
// a band wider than 200% of the lower bound, a sparse ladder, spacing
// tighter than the market tick. Tick checks are skipped while TickSize
// is unknown.
func (c GridConfig) Warnings() []string {
	var w []string
	if c.UpperPrice.Sub(c.LowerPrice).GreaterThan(c.LowerPrice.Mul(decimal.NewFromInt(2))) {
		w = append(w, fmt.Sprintf("price range %s-%s is wider than 200%% of the lower bound",
			c.LowerPrice, c.UpperPrice))
	}
	if c.NumGrids < 10 {
		w = append(w, fmt.Sprintf("only %d levels; grids usually run 10 or more", c.NumGrids))
	}
	if c.TickSize.IsPositive() && c.NumGrids > 1 {
		spacing := c.UpperPrice.Sub(c.LowerPrice).Div(decimal.NewFromInt(int64(c.NumGrids - 1)))
		if spacing.LessThan(c.TickSize) {
			w = append(w, fmt.Sprintf("level spacing %s is below the market tick %s", spacing, c.TickSize))
		}
	}
	return w
}

// GridLevels computes the n level prices for a validated config.
// Arithmetic: equal price steps. Geometric: equal ratio steps, so every
// completed cycle yields the same percentage. The last level is pinned
// to upper_price exactly.
func GridLevels(c GridConfig) []decimal.Decimal {
	n := c.NumGrids
	levels := make([]decimal.Decimal, n)
	levels[0] = c.LowerPrice
	levels[n-1] = c.UpperPrice

	switch c.Spacing {
	case SpacingGeometric:
		lo, _ := c.LowerPrice.Float64()
		hi, _ := c.UpperPrice.Float64()
		ratio := decimal.NewFromFloat(math.Pow(hi/lo, 1/float64(n-1)))
		for i := 1; i < n-1; i++ {
			levels[i] = levels[i-1].Mul(ratio)
		}
	default:
		step := c.UpperPrice.Sub(c.LowerPrice).Div(decimal.NewFromInt(int64(n - 1)))
		for i := 1; i < n-1; i++ {
			levels[i] = c.LowerPrice.Add(step.Mul(decimal.NewFromInt(int64(i))))
		}
	}
	return levels
}

// GridStats is the running performance summary
type GridStats struct {
	BuyFills        int             `json:"buy_fills"`
	SellFills       int             `json:"sell_fills"`
	CompletedCycles int             `json:"completed_cycles"`
	RealizedProfit  decimal.Decimal `json:"realized_profit"`
	TotalFees       decimal.Decimal `json:"total_fees"`
}

// gridOrder maps a resting order to its ladder slot
type gridOrder struct {
	Level int        `json:"level"`
	Side  types.Side `json:"side"`
}

// Grid is one grid strategy instance
type Grid struct {
	cfg    GridConfig
	ec     execution.Context
	store  CycleStore
	gate   Gate
	levels []decimal.Decimal

	// splits the investment evenly across slots; qty at level i is
	// sized against price_i
	sizer risk.GridAllocation

	mu         sync.Mutex
	orders     map[string]gridOrder
	fifo       *FIFO
	stats      GridStats
	lastPrice  decimal.Decimal
	outOfRange bool
}

// NewGrid validates the config and builds an idle instance; store and
// gate may be nil (no persistence / no risk gating)
func NewGrid(cfg GridConfig, ec execution.Context, store CycleStore, gate Gate) (*Grid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, w := range cfg.Warnings() {
		log.Warn().Str("strategy", cfg.Name).Str("detail", w).Msg("⚠️ Grid config warning")
	}
	return &Grid{
		cfg:    cfg,
		ec:     ec,
		store:  store,
		gate:   gate,
		levels: GridLevels(cfg),
		sizer: risk.GridAllocation{
			AllocationPct: decimal.NewFromInt(1),
			NumGrids:      cfg.NumGrids,
		},
		orders: make(map[string]gridOrder),
		fifo:   NewFIFO(),
	}, nil
}

// levelQty sizes one ladder slot: the allocation sizer splits the
// investment across all levels and converts to base units at the
// slot's price
func (g *Grid) levelQty(price decimal.Decimal) (decimal.Decimal, error) {
	return g.sizer.Size(risk.SizingInput{Balance: g.cfg.TotalInvestment, Entry: price})
}

func (g *Grid) Name() string   { return g.cfg.Name }
func (g *Grid) Symbol() string { return g.cfg.Symbol }

// Levels returns a copy of the ladder prices
func (g *Grid) Levels() []decimal.Decimal {
	out := make([]decimal.Decimal, len(g.levels))
	copy(out, g.levels)
	return out
}

// Stats returns the current performance summary
func (g *Grid) Stats() GridStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// OpenOrderCount reports resting ladder orders
func (g *Grid) OpenOrderCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.orders)
}

// Inventory is the total open base-asset inventory held by the ladder
func (g *Grid) Inventory() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fifo.TotalAmount()
}

// Initialize seeds the ladder around the current price: buys at every
// level strictly below price, and (optionally) sells at levels above,
// capped by the base inventory actually held
func (g *Grid) Initialize(ctx context.Context) error {
	price, err := g.ec.CurrentPrice(ctx, g.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("grid %s: fetch price: %w", g.cfg.Name, err)
	}

	g.mu.Lock()
	g.lastPrice = price
	g.mu.Unlock()

	if price.LessThan(g.cfg.LowerPrice) || price.GreaterThan(g.cfg.UpperPrice) {
		log.Warn().
			Str("strategy", g.cfg.Name).
			Str("price", price.String()).
			Str("lower", g.cfg.LowerPrice.String()).
			Str("upper", g.cfg.UpperPrice.String()).
			Msg("⚠️ Current price outside grid range, ladder will idle until re-entry")
	}

	placed := 0
	for i := 0; i < g.cfg.NumGrids-1; i++ { // top level is sell-only
		if g.levels[i].GreaterThanOrEqual(price) {
			break
		}
		if err := g.placeLadderOrder(ctx, types.SideBuy, i); err != nil {
			return err
		}
		placed++
	}

	if g.cfg.PlaceInitialSells {
		available, err := g.ec.Position(ctx, g.cfg.Symbol)
		if err != nil {
			return fmt.Errorf("grid %s: fetch position: %w", g.cfg.Name, err)
		}
		for i := 1; i < g.cfg.NumGrids; i++ { // bottom level is buy-only
			if g.levels[i].LessThanOrEqual(price) {
				continue
			}
			qty, err := g.levelQty(g.levels[i])
			if err != nil {
				return fmt.Errorf("grid %s: size level %d: %w", g.cfg.Name, i, err)
			}
			if available.LessThan(qty) {
				break
			}
			if err := g.placeLadderOrder(ctx, types.SideSell, i); err != nil {
				return err
			}
			available = available.Sub(qty)
			placed++
		}
	}

	log.Info().
		Str("strategy", g.cfg.Name).
		Str("symbol", g.cfg.Symbol).
		Int("levels", g.cfg.NumGrids).
		Int("orders", placed).
		Str("spacing", string(g.cfg.Spacing)).
		Msg("✅ Grid initialized")
	return nil
}

// OnTick tracks price and logs band exit/entry transitions once each
func (g *Grid) OnTick(ctx context.Context, t types.Ticker) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.lastPrice = t.Last
	outside := t.Last.LessThan(g.cfg.LowerPrice) || t.Last.GreaterThan(g.cfg.UpperPrice)
	if outside != g.outOfRange {
		g.outOfRange = outside
		if outside {
			log.Warn().Str("strategy", g.cfg.Name).Str("price", t.Last.String()).Msg("⚠️ Price left grid range")
		} else {
			log.Info().Str("strategy", g.cfg.Name).Str("price", t.Last.String()).Msg("Price re-entered grid range")
		}
	}
	return nil
}

// OnOrderFilled flips the filled slot: buy → open cycle + sell above,
// sell → close FIFO inventory + buy below
func (g *Grid) OnOrderFilled(ctx context.Context, o types.Order) error {
	g.mu.Lock()
	slot, ok := g.orders[o.ID]
	if !ok {
		g.mu.Unlock()
		return nil // not one of ours
	}
	delete(g.orders, o.ID)
	g.mu.Unlock()

	if slot.Side == types.SideBuy {
		return g.onBuyFilled(ctx, o, slot.Level)
	}
	return g.onSellFilled(ctx, o, slot.Level)
}

func (g *Grid) onBuyFilled(ctx context.Context, o types.Order, level int) error {
	cycle := &storage.TradeCycle{
		Symbol:   o.Symbol,
		Strategy: g.cfg.Name,
		Side:     string(types.SideBuy),
		OpenRate: o.Price,
		Amount:   o.Filled,
		OpenDate: g.ec.Now(),
	}
	if g.store != nil {
		if err := g.store.CreateCycle(ctx, cycle); err != nil {
			return fmt.Errorf("grid %s: open cycle: %w", g.cfg.Name, err)
		}
	}

	g.mu.Lock()
	g.stats.BuyFills++
	g.fifo.Push(Lot{CycleID: cycle.ID, Price: o.Price, Amount: o.Filled})
	g.mu.Unlock()

	log.Info().
		Str("strategy", g.cfg.Name).
		Int("level", level).
		Str("price", o.Price.String()).
		Str("amount", o.Filled.String()).
		Msg("✅ Grid buy filled")

	if level+1 < g.cfg.NumGrids {
		return g.placeLadderOrder(ctx, types.SideSell, level+1)
	}
	return nil
}

func (g *Grid) onSellFilled(ctx context.Context, o types.Order, level int) error {
	sellFee := decimal.Zero
	if o.Fee != nil {
		sellFee = o.Fee.Cost
	}

	g.mu.Lock()
	g.stats.SellFills++
	parts := g.fifo.Match(o.Filled)

	for _, part := range parts {
		feeShare := decimal.Zero
		if o.Filled.IsPositive() {
			feeShare = sellFee.Mul(part.Consumed).Div(o.Filled)
		}
		profit := o.Price.Sub(part.Lot.Price).Mul(part.Consumed).Sub(feeShare)
		g.stats.RealizedProfit = g.stats.RealizedProfit.Add(profit)
		g.stats.TotalFees = g.stats.TotalFees.Add(feeShare)

		if !part.Closed {
			g.fifo.AccrueHead(profit, feeShare)
			continue
		}

		g.stats.CompletedCycles++
		if g.store != nil {
			total := part.Lot.Accrued.Add(profit)
			totalFee := part.Lot.AccruedFee.Add(feeShare)
			pct := decimal.Zero
			if part.Lot.Price.IsPositive() {
				pct = o.Price.Sub(part.Lot.Price).Div(part.Lot.Price).Mul(decimal.NewFromInt(100))
			}
			if err := g.store.CloseCycle(ctx, part.Lot.CycleID, o.Price, g.ec.Now(), total, pct, totalFee); err != nil {
				g.mu.Unlock()
				return fmt.Errorf("grid %s: close cycle %d: %w", g.cfg.Name, part.Lot.CycleID, err)
			}
		}
	}
	realized := g.stats.RealizedProfit
	g.mu.Unlock()

	log.Info().
		Str("strategy", g.cfg.Name).
		Int("level", level).
		Str("price", o.Price.String()).
		Str("amount", o.Filled.String()).
		Str("realized_total", realized.String()).
		Msg("✅ Grid sell filled")

	if level-1 >= 0 {
		return g.placeLadderOrder(ctx, types.SideBuy, level-1)
	}
	return nil
}

// OnOrderCancelled re-arms the slot so an external cancel does not leave
// a permanent hole in the ladder
func (g *Grid) OnOrderCancelled(ctx context.Context, o types.Order) error {
	g.mu.Lock()
	slot, ok := g.orders[o.ID]
	if !ok {
		g.mu.Unlock()
		return nil
	}
	delete(g.orders, o.ID)
	g.mu.Unlock()

	log.Warn().
		Str("strategy", g.cfg.Name).
		Str("order_id", o.ID).
		Int("level", slot.Level).
		Msg("⚠️ Grid order cancelled externally, re-placing")
	return g.placeLadderOrder(ctx, slot.Side, slot.Level)
}

// CloseCycleAtMarket force-exits one open cycle with a market order,
// removing its lot from inventory and closing the cycle at the realized
// price. This is the stop-loss path; the ladder itself is untouched.
func (g *Grid) CloseCycleAtMarket(ctx context.Context, cycleID uint) error {
	g.mu.Lock()
	lot, ok := g.fifo.RemoveCycle(cycleID)
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("grid %s: no open lot for cycle %d", g.cfg.Name, cycleID)
	}

	order, err := g.ec.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:        g.cfg.Symbol,
		Type:          types.OrderTypeMarket,
		Side:          types.SideSell,
		Amount:        lot.Amount,
		ClientOrderID: execution.NewClientOrderID(),
	})
	if err != nil {
		// exit failed: the lot is still ours
		g.mu.Lock()
		g.fifo.Push(lot)
		g.mu.Unlock()
		return fmt.Errorf("grid %s: market exit for cycle %d: %w", g.cfg.Name, cycleID, err)
	}

	fee := decimal.Zero
	if order.Fee != nil {
		fee = order.Fee.Cost
	}
	fillPrice := order.Price
	if order.Filled.IsPositive() && order.Cost.IsPositive() {
		fillPrice = order.Cost.Div(order.Filled)
	}
	if !fillPrice.IsPositive() {
		g.mu.Lock()
		fillPrice = g.lastPrice
		g.mu.Unlock()
	}
	profit := fillPrice.Sub(lot.Price).Mul(lot.Amount).Sub(fee)

	g.mu.Lock()
	g.stats.SellFills++
	g.stats.CompletedCycles++
	g.stats.RealizedProfit = g.stats.RealizedProfit.Add(profit)
	g.stats.TotalFees = g.stats.TotalFees.Add(fee)
	g.mu.Unlock()

	if g.store != nil {
		total := lot.Accrued.Add(profit)
		totalFee := lot.AccruedFee.Add(fee)
		pct := decimal.Zero
		if lot.Price.IsPositive() {
			pct = fillPrice.Sub(lot.Price).Div(lot.Price).Mul(decimal.NewFromInt(100))
		}
		if err := g.store.CloseCycle(ctx, cycleID, fillPrice, g.ec.Now(), total, pct, totalFee); err != nil {
			return fmt.Errorf("grid %s: close cycle %d: %w", g.cfg.Name, cycleID, err)
		}
	}

	log.Warn().
		Str("strategy", g.cfg.Name).
		Uint("cycle_id", cycleID).
		Str("price", fillPrice.String()).
		Str("amount", lot.Amount.String()).
		Str("profit", profit.String()).
		Msg("⚠️ Cycle force-closed at market")
	return nil
}

// placeLadderOrder rests one limit order at a ladder level. A duplicate
// slot (same level and side already resting) is skipped so replays stay
// idempotent.
func (g *Grid) placeLadderOrder(ctx context.Context, side types.Side, level int) error {
	price := g.levels[level]
	qty, err := g.levelQty(price)
	if err != nil {
		return fmt.Errorf("grid %s: size level %d: %w", g.cfg.Name, level, err)
	}

	g.mu.Lock()
	for _, slot := range g.orders {
		if slot.Level == level && slot.Side == side {
			g.mu.Unlock()
			return nil
		}
	}
	g.mu.Unlock()

	if g.gate != nil {
		if err := g.gate.Approve(ctx, g.cfg.Symbol, side, price, qty); err != nil {
			log.Warn().Err(err).
				Str("strategy", g.cfg.Name).
				Str("side", string(side)).
				Int("level", level).
				Msg("⚠️ Order rejected by risk gate")
			return nil // rejected, not failed; the ladder resumes on the next event
		}
	}

	order, err := g.ec.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:        g.cfg.Symbol,
		Type:          types.OrderTypeLimit,
		Side:          side,
		Amount:        qty,
		Price:         &price,
		ClientOrderID: execution.NewClientOrderID(),
	})
	if err != nil {
		if exchange.KindOf(err) == exchange.KindInvalidOrder {
			// below min notional or lot size at this level; skip the slot
			log.Warn().Err(err).Str("strategy", g.cfg.Name).Int("level", level).Msg("⚠️ Level skipped")
			return nil
		}
		return fmt.Errorf("grid %s: place %s at level %d: %w", g.cfg.Name, side, level, err)
	}

	g.mu.Lock()
	g.orders[order.ID] = gridOrder{Level: level, Side: side}
	g.mu.Unlock()
	return nil
}

// ─── snapshot / restore ────────────────────────────────────────────────────────

type gridState struct {
	Config    GridConfig           `json:"config"`
	Orders    map[string]gridOrder `json:"orders"`
	Lots      []Lot                `json:"lots"`
	Stats     GridStats            `json:"stats"`
	LastPrice decimal.Decimal      `json:"last_price"`
}

// State snapshots everything needed to resume: config, resting-order
// slots, open inventory and stats
func (g *Grid) State() ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return json.Marshal(gridState{
		Config:    g.cfg,
		Orders:    g.orders,
		Lots:      g.fifo.Lots(),
		Stats:     g.stats,
		LastPrice: g.lastPrice,
	})
}

// NewGridFromState rebuilds an instance from a State() snapshot. The
// reconciler resolves snapshot orders that died while the bot was down.
func NewGridFromState(data []byte, ec execution.Context, store CycleStore, gate Gate) (*Grid, error) {
	var st gridState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("grid: decode snapshot: %w", err)
	}
	g, err := NewGrid(st.Config, ec, store, gate)
	if err != nil {
		return nil, err
	}
	if st.Orders != nil {
		g.orders = st.Orders
	}
	g.fifo = NewFIFO(st.Lots...)
	g.stats = st.Stats
	g.lastPrice = st.LastPrice
	return g, nil
}

// Shutdown logs the session summary; resting orders are intentionally
// left working so the ladder survives restarts
func (g *Grid) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	log.Info().
		Str("strategy", g.cfg.Name).
		Int("open_orders", len(g.orders)).
		Int("open_lots", g.fifo.Len()).
		Int("completed_cycles", g.stats.CompletedCycles).
		Str("realized_profit", g.stats.RealizedProfit.String()).
		Msg("Grid strategy shut down")
	return nil
}
