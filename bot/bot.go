package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/gridbot/alert"
	"github.com/web3guy0/gridbot/exchange"
	"github.com/web3guy0/gridbot/execution"
	"github.com/web3guy0/gridbot/feeds"
	"github.com/web3guy0/gridbot/internal/config"
	"github.com/web3guy0/gridbot/ohlcv"
	"github.com/web3guy0/gridbot/risk"
	"github.com/web3guy0/gridbot/storage"
	"github.com/web3guy0/gridbot/strategy"
	"github.com/web3guy0/gridbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BOT ORCHESTRATOR
// ═══════════════════════════════════════════════════════════════════════════════
//
// Owns the top-level context and composes exchange, feed, persistence,
// strategy and risk. All strategy callbacks run on one event loop, so
// the strategy never sees concurrent calls. Tickers are latest-wins
// (a slow strategy drops stale prices, never queues them); order events
// are buffered and never dropped.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	fillScanInterval  = 10 * time.Second
	snapshotEveryTick = 10
	heartbeatStale    = 60 * time.Second
)

type orderEvent struct {
	order  types.Order
	filled bool // false → cancelled
}

// Bot wires the whole trading system together
type Bot struct {
	cfg     *config.Config
	ex      *exchange.Binance
	store   *storage.Store
	feed    *feeds.Handler
	ec      execution.Context
	paper   *execution.Paper // non-nil in dry-run
	grid    *strategy.Grid
	riskMgr *risk.Manager
	alerts  *alert.Dispatcher
	audit   *AuditLogger
	candles *ohlcv.Cache
	api     *APIServer

	startedAt time.Time
	tickCh    chan types.Ticker
	eventCh   chan orderEvent

	// touched only from the event loop
	armedStops map[uint]bool

	mu             sync.Mutex
	running        bool
	heartbeat      time.Time
	lastPrice      decimal.Decimal
	lastRealized   decimal.Decimal
	breakerAlerted bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles a bot from config; nothing connects yet
func New(cfg *config.Config) (*Bot, error) {
	ex := exchange.NewBinance(exchange.BinanceConfig{
		APIKey:     cfg.Exchange.APIKey,
		APISecret:  cfg.Exchange.APISecret,
		Testnet:    cfg.Exchange.Testnet,
		RecvWindow: cfg.Exchange.RecvWindow,
		RateLimit:  cfg.Exchange.RateLimit,
		Timeout:    cfg.Exchange.Timeout,
		Retry: exchange.RetryConfig{
			MaxRetries: cfg.Exchange.MaxRetries,
			Base:       500 * time.Millisecond,
			Factor:     2,
			MaxDelay:   30 * time.Second,
			Jitter:     true,
		},
	})

	auditLog, err := NewAuditLogger(cfg.Audit.Path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	b := &Bot{
		cfg:        cfg,
		ex:         ex,
		audit:      auditLog,
		tickCh:     make(chan types.Ticker, 1),
		eventCh:    make(chan orderEvent, 256),
		armedStops: make(map[uint]bool),
	}
	return b, nil
}

// Run starts everything and blocks until ctx is cancelled or a fatal
// error occurs
func (b *Bot) Run(ctx context.Context) error {
	ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()
	b.startedAt = time.Now()

	// 1. exchange
	if err := b.ex.Connect(ctx, []string{b.cfg.Grid.Symbol}); err != nil {
		return fmt.Errorf("connect exchange: %w", err)
	}

	// 2. persistence
	store, err := storage.OpenWithOptions(b.cfg.DB.URL, storage.Options{
		Echo:     b.cfg.DB.Echo,
		PoolSize: b.cfg.DB.PoolSize,
	})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	b.store = store
	b.candles = ohlcv.NewCache(b.ex, store, b.cfg.Cache.MemoryCapacity)

	// alerts
	b.alerts = b.buildAlerts(store)

	// risk manager seeded with current equity
	startEquity, err := b.fetchEquityBootstrap(ctx)
	if err != nil {
		return fmt.Errorf("fetch starting equity: %w", err)
	}
	riskCfg, err := risk.PresetByName(b.cfg.Risk.Preset)
	if err != nil {
		return err
	}
	if b.cfg.Risk.MaxOrderValue.IsPositive() {
		riskCfg.MaxOrderValue = b.cfg.Risk.MaxOrderValue
	}
	if b.cfg.Trading.MaxPositionPct.IsPositive() {
		riskCfg.MaxPositionPct = b.cfg.Trading.MaxPositionPct
	}
	if b.cfg.Risk.MaxDailyLossPct.IsPositive() {
		riskCfg.Breaker.MaxDailyLossPct = b.cfg.Risk.MaxDailyLossPct
	}
	if b.cfg.Risk.MaxConsecutiveLosses > 0 {
		riskCfg.Breaker.MaxConsecutiveLosses = b.cfg.Risk.MaxConsecutiveLosses
	}
	if b.cfg.Risk.MaxDrawdownPct.IsPositive() {
		riskCfg.Breaker.MaxDrawdownPct = b.cfg.Risk.MaxDrawdownPct
	}
	if b.cfg.Risk.MaxErrorRate.IsPositive() {
		riskCfg.Breaker.MaxErrorRate = b.cfg.Risk.MaxErrorRate
	}
	if b.cfg.Risk.CooldownMinutes > 0 {
		riskCfg.Breaker.Cooldown = time.Duration(b.cfg.Risk.CooldownMinutes) * time.Minute
	}
	b.riskMgr = risk.NewManager(riskCfg, startEquity)

	// 3. reconcile before any new orders go out (live only)
	if !b.cfg.Trading.DryRun {
		b.ec = execution.NewLive(b.ex, store)
	} else {
		quote := execution.QuoteAsset(b.cfg.Grid.Symbol)
		b.paper = execution.NewPaper(b.ex, map[string]decimal.Decimal{
			quote: b.cfg.Trading.PaperQuoteSeed,
		}, b.cfg.Trading.PaperFeePct)
		b.ec = b.paper
	}

	// 4. strategy: resume from snapshot when one exists
	if err := b.buildStrategy(ctx); err != nil {
		return err
	}

	if !b.cfg.Trading.DryRun {
		if err := b.reconcile(ctx); err != nil {
			return fmt.Errorf("startup reconciliation: %w", err)
		}
	}

	// pre-trade validation: make sure the configured grid is tradeable
	// with the equity we actually have before any order goes out
	startPrice, err := b.ec.CurrentPrice(ctx, b.cfg.Grid.Symbol)
	if err != nil {
		return fmt.Errorf("fetch starting price: %w", err)
	}
	check := b.riskMgr.ValidateTrade(b.cfg.Grid.Symbol, types.SideBuy, startPrice, startEquity, b.cfg.Grid.StopLossPct)
	for _, w := range check.Warnings {
		log.Warn().Str("warning", w).Msg("⚠️ Pre-trade check warning")
	}
	if !check.Allowed {
		return fmt.Errorf("pre-trade validation failed: %s", check.Reason)
	}

	if err := b.grid.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize strategy: %w", err)
	}

	// 5. market data
	streamURL := ""
	if b.cfg.Trading.StreamEnabled {
		streamURL = feeds.BinanceStreamURL
	}
	b.feed = feeds.NewHandler(b.ex, feeds.Config{
		StreamURL:    streamURL,
		PollInterval: b.cfg.Trading.PollInterval,
	})
	b.feed.Subscribe(b.cfg.Grid.Symbol, b.onTicker)
	b.feed.Start(ctx)

	// 6. background loops
	b.wg.Add(1)
	go b.equityLoop(ctx)
	if !b.cfg.Trading.DryRun {
		b.wg.Add(1)
		go b.fillScanLoop(ctx)
	}

	// API surface
	if b.cfg.API.Enabled {
		b.api = NewAPIServer(b, b.cfg.API.ListenAddr)
		b.api.Start()
	}

	b.setRunning(true)
	b.touchHeartbeat()
	b.audit.Append("lifecycle", "bot", "started", map[string]interface{}{
		"symbol":  b.cfg.Grid.Symbol,
		"dry_run": b.cfg.Trading.DryRun,
	})
	b.alerts.Send(ctx, alert.KindStartup,
		fmt.Sprintf("Grid bot started on %s (%d levels, dry_run=%v)",
			b.cfg.Grid.Symbol, b.cfg.Grid.NumGrids, b.cfg.Trading.DryRun), nil)
	log.Info().Str("symbol", b.cfg.Grid.Symbol).Bool("dry_run", b.cfg.Trading.DryRun).Msg("🚀 Bot running")

	// 7. event loop
	err = b.eventLoop(ctx)

	// 8. graceful shutdown
	b.shutdown()
	return err
}

// Stop requests a graceful shutdown from outside
func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

// ─── event loop ────────────────────────────────────────────────────────────────

func (b *Bot) eventLoop(ctx context.Context) error {
	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-b.eventCh:
			b.touchHeartbeat()
			if ev.filled {
				b.handleFill(ctx, ev.order)
			} else {
				if err := b.grid.OnOrderCancelled(ctx, ev.order); err != nil {
					log.Error().Err(err).Msg("🚨 Cancel handler failed")
				}
			}

		case t := <-b.tickCh:
			b.touchHeartbeat()
			b.mu.Lock()
			b.lastPrice = t.Last
			b.mu.Unlock()

			if b.paper != nil {
				for _, filled := range b.paper.OnTicker(t) {
					b.handleFill(ctx, filled)
				}
			}
			if err := b.grid.OnTick(ctx, t); err != nil {
				log.Error().Err(err).Msg("🚨 Tick handler failed")
			}
			b.scanStops(ctx, t.Last)

			ticks++
			if ticks%snapshotEveryTick == 0 {
				b.snapshotStrategy(ctx)
			}
		}
	}
}

// onTicker runs on the feed's goroutine: latest-wins into the loop
func (b *Bot) onTicker(t types.Ticker) {
	select {
	case b.tickCh <- t:
	default:
		select {
		case <-b.tickCh:
		default:
		}
		select {
		case b.tickCh <- t:
		default:
		}
	}
}

// handleFill routes one confirmed fill through strategy, risk and audit
func (b *Bot) handleFill(ctx context.Context, o types.Order) {
	if err := b.grid.OnOrderFilled(ctx, o); err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Msg("🚨 Fill handler failed")
		b.riskMgr.RecordError()
		return
	}

	// realized P&L delta since the last fill feeds the risk kernel
	stats := b.grid.Stats()
	b.mu.Lock()
	delta := stats.RealizedProfit.Sub(b.lastRealized)
	b.lastRealized = stats.RealizedProfit
	b.mu.Unlock()
	if !delta.IsZero() {
		b.riskMgr.RecordTradeResult(delta, time.Now())
		b.notifyBreaker(ctx)
	}

	b.audit.Append("order", "exchange", "filled", map[string]interface{}{
		"order_id": o.ID,
		"symbol":   o.Symbol,
		"side":     string(o.Side),
		"price":    o.Price.String(),
		"amount":   o.Filled.String(),
	})
	b.alerts.Send(ctx, alert.KindFill,
		fmt.Sprintf("%s %s %s @ %s", o.Symbol, o.Side, o.Filled, o.Price),
		map[string]interface{}{"order_id": o.ID})

	b.refreshStops(ctx)
}

// refreshStops keeps one percentage stop armed per open cycle and drops
// stops whose cycle closed
func (b *Bot) refreshStops(ctx context.Context) {
	if !b.cfg.Grid.StopLossPct.IsPositive() {
		return
	}
	cycles, err := b.store.OpenCycles(ctx, b.grid.Name(), b.cfg.Grid.Symbol)
	if err != nil {
		log.Debug().Err(err).Msg("Stop refresh failed")
		return
	}
	open := make(map[uint]bool, len(cycles))
	for _, c := range cycles {
		open[c.ID] = true
		if !b.armedStops[c.ID] {
			// grid cycles hold long inventory, so the stop sits below entry
			b.riskMgr.RegisterStopLoss(c.ID, types.SideBuy, c.OpenRate, b.cfg.Grid.StopLossPct)
			b.armedStops[c.ID] = true
		}
	}
	for id := range b.armedStops {
		if !open[id] {
			b.riskMgr.Stops.Disarm(id)
			delete(b.armedStops, id)
		}
	}
}

// notifyBreaker alerts on breaker state transitions, once per edge
func (b *Bot) notifyBreaker(ctx context.Context) {
	tripped, reason, _ := b.riskMgr.Breaker.Status()

	b.mu.Lock()
	changed := tripped != b.breakerAlerted
	b.breakerAlerted = tripped
	b.mu.Unlock()
	if !changed {
		return
	}

	if tripped {
		log.Error().Str("reason", string(reason)).Msg("⛔ Circuit breaker tripped, trading halted")
		b.audit.Append("risk", "circuit_breaker", "tripped", map[string]interface{}{
			"reason": string(reason),
		})
		b.alerts.Send(ctx, alert.KindBreaker, "Circuit breaker tripped: "+string(reason), nil)
	} else {
		log.Info().Msg("✅ Circuit breaker re-armed")
		b.audit.Append("risk", "circuit_breaker", "reset", nil)
		b.alerts.Send(ctx, alert.KindBreaker, "Circuit breaker re-armed, trading resumed", nil)
	}
}

// scanStops checks armed stop-losses against the latest price and
// force-exits every tripped cycle at market
func (b *Bot) scanStops(ctx context.Context, price decimal.Decimal) {
	for _, cycleID := range b.riskMgr.CheckStopLosses(price) {
		log.Warn().Uint("cycle_id", cycleID).Str("price", price.String()).Msg("⚠️ Stop-loss triggered")
		delete(b.armedStops, cycleID)

		if err := b.grid.CloseCycleAtMarket(ctx, cycleID); err != nil {
			log.Error().Err(err).Uint("cycle_id", cycleID).Msg("🚨 Stop-loss exit failed")
			b.riskMgr.RecordError()
			continue
		}

		// the forced exit realizes a loss; feed it to the risk kernel
		stats := b.grid.Stats()
		b.mu.Lock()
		delta := stats.RealizedProfit.Sub(b.lastRealized)
		b.lastRealized = stats.RealizedProfit
		b.mu.Unlock()
		if !delta.IsZero() {
			b.riskMgr.RecordTradeResult(delta, time.Now())
			b.notifyBreaker(ctx)
		}

		b.audit.Append("risk", "stop_loss", "triggered", map[string]interface{}{
			"cycle_id": cycleID,
			"price":    price.String(),
			"realized": delta.String(),
		})
		b.alerts.Send(ctx, alert.KindTrade,
			fmt.Sprintf("Stop-loss exit for cycle %d at %s", cycleID, price), nil)
	}
}

// ─── FillHandler (reconciler replay path) ──────────────────────────────────────

// startupFills handles reconciler replays before the event loop exists.
// Events are applied inline; queueing them would fill eventCh with
// nobody draining it.
type startupFills struct {
	b *Bot
}

func (s startupFills) OnOrderFilled(ctx context.Context, o types.Order) error {
	s.b.handleFill(ctx, o)
	return nil
}

func (s startupFills) OnOrderCancelled(ctx context.Context, o types.Order) error {
	return s.b.grid.OnOrderCancelled(ctx, o)
}

// OnOrderFilled queues a reconciler-discovered fill onto the event loop
func (b *Bot) OnOrderFilled(ctx context.Context, o types.Order) error {
	select {
	case b.eventCh <- orderEvent{order: o, filled: true}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnOrderCancelled queues a reconciler-discovered cancel
func (b *Bot) OnOrderCancelled(ctx context.Context, o types.Order) error {
	select {
	case b.eventCh <- orderEvent{order: o, filled: false}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ─── background loops ──────────────────────────────────────────────────────────

// equityLoop snapshots mark-to-market equity and feeds the risk kernel
func (b *Bot) equityLoop(ctx context.Context) {
	defer b.wg.Done()
	interval := b.cfg.Risk.SnapshotInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			equity, err := b.markToMarket(ctx)
			if err != nil {
				log.Debug().Err(err).Msg("Equity snapshot failed")
				continue
			}
			now := time.Now()
			b.riskMgr.UpdateEquity(equity, now)
			b.notifyBreaker(ctx)

			quote := execution.QuoteAsset(b.cfg.Grid.Symbol)
			bal, err := b.ec.Balance(ctx, quote)
			if err == nil {
				if err := b.store.AppendBalanceSnapshot(ctx, &storage.BalanceSnapshot{
					Timestamp: now,
					Exchange:  b.ex.Name(),
					Currency:  quote,
					Total:     equity,
					Free:      bal.Free,
					Used:      bal.Used,
				}); err != nil {
					log.Debug().Err(err).Msg("Balance snapshot write failed")
				}
			}
		}
	}
}

// fillScanLoop runs the reconciler periodically as the live fill
// detector; it is idempotent so overlap with startup reconciliation is
// harmless
func (b *Bot) fillScanLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(fillScanInterval)
	defer ticker.Stop()

	policy, _ := execution.ParsePolicy(b.cfg.Trading.ReconcilePolicy)
	rec := execution.NewReconciler(b.ex, b.store, b, policy)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rec.Reconcile(ctx, []string{b.cfg.Grid.Symbol}); err != nil {
				log.Warn().Err(err).Msg("⚠️ Fill scan failed")
				b.riskMgr.RecordError()
			}
		}
	}
}

// ─── assembly helpers ──────────────────────────────────────────────────────────

func (b *Bot) buildAlerts(store *storage.Store) *alert.Dispatcher {
	var notifiers []alert.Notifier
	if !b.cfg.Alert.Enabled {
		return alert.NewDispatcher(store)
	}
	if b.cfg.Alert.TelegramToken != "" && b.cfg.Alert.TelegramChatID != 0 {
		tg, err := alert.NewTelegram(b.cfg.Alert.TelegramToken, b.cfg.Alert.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Telegram alerts disabled")
		} else {
			notifiers = append(notifiers, tg)
		}
	}
	if b.cfg.Alert.DiscordWebhook != "" {
		notifiers = append(notifiers, alert.NewDiscord(b.cfg.Alert.DiscordWebhook))
	}
	return alert.NewDispatcher(store, notifiers...)
}

// buildStrategy restores the grid from its snapshot or builds it fresh
func (b *Bot) buildStrategy(ctx context.Context) error {
	gridCfg := strategy.GridConfig{
		Name:              "grid-" + b.cfg.Grid.Symbol,
		Symbol:            b.cfg.Grid.Symbol,
		LowerPrice:        b.cfg.Grid.LowerPrice,
		UpperPrice:        b.cfg.Grid.UpperPrice,
		NumGrids:          b.cfg.Grid.NumGrids,
		TotalInvestment:   b.cfg.Grid.TotalInvestment,
		Spacing:           strategy.SpacingMode(b.cfg.Grid.Spacing),
		PlaceInitialSells: b.cfg.Grid.PlaceInitialSells,
	}
	if mkt, ok := b.ex.Market(b.cfg.Grid.Symbol); ok {
		gridCfg.TickSize = mkt.TickSize
	}

	if snap, err := b.store.LoadStrategyState(ctx, gridCfg.Name); err != nil {
		return fmt.Errorf("load strategy state: %w", err)
	} else if snap != nil {
		g, err := strategy.NewGridFromState([]byte(snap.StateJSON), b.ec, b.store, b.riskMgr)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Strategy snapshot unusable, starting fresh")
		} else if g.Symbol() == gridCfg.Symbol {
			log.Info().Str("strategy", g.Name()).Int("version", snap.Version).Msg("✅ Strategy restored from snapshot")
			b.grid = g
			b.mu.Lock()
			b.lastRealized = g.Stats().RealizedProfit
			b.mu.Unlock()
			return nil
		}
	}

	g, err := strategy.NewGrid(gridCfg, b.ec, b.store, b.riskMgr)
	if err != nil {
		return err
	}
	b.grid = g
	return nil
}

func (b *Bot) reconcile(ctx context.Context) error {
	policy, err := execution.ParsePolicy(b.cfg.Trading.ReconcilePolicy)
	if err != nil {
		return err
	}
	rec := execution.NewReconciler(b.ex, b.store, startupFills{b}, policy)
	report, err := rec.Reconcile(ctx, []string{b.cfg.Grid.Symbol})
	if err != nil {
		return err
	}
	b.audit.Append("lifecycle", "reconciler", "completed", map[string]interface{}{
		"checked":        report.Checked,
		"updated":        report.Updated,
		"fills_replayed": report.FillsReplayed,
		"adopted":        report.Adopted,
		"conflicts":      report.Conflicts,
	})
	if len(report.Conflicts) > 0 {
		b.alerts.Send(ctx, alert.KindError,
			fmt.Sprintf("Reconciliation found %d conflicts, manual review needed", len(report.Conflicts)), nil)
	}
	return nil
}

// fetchEquityBootstrap reads starting equity: quote balance live, the
// paper seed in dry-run
func (b *Bot) fetchEquityBootstrap(ctx context.Context) (decimal.Decimal, error) {
	if b.cfg.Trading.DryRun {
		return b.cfg.Trading.PaperQuoteSeed, nil
	}
	balances, err := b.ex.FetchBalance(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	quote := execution.QuoteAsset(b.cfg.Grid.Symbol)
	return balances[quote].Total, nil
}

// markToMarket values quote balance plus base inventory at last price
func (b *Bot) markToMarket(ctx context.Context) (decimal.Decimal, error) {
	quote, err := b.ec.Balance(ctx, execution.QuoteAsset(b.cfg.Grid.Symbol))
	if err != nil {
		return decimal.Zero, err
	}
	base, err := b.ec.Balance(ctx, execution.BaseAsset(b.cfg.Grid.Symbol))
	if err != nil {
		return decimal.Zero, err
	}
	b.mu.Lock()
	price := b.lastPrice
	b.mu.Unlock()
	return quote.Total.Add(base.Total.Mul(price)), nil
}

// snapshotStrategy persists the strategy state, versioned
func (b *Bot) snapshotStrategy(ctx context.Context) {
	data, err := b.grid.State()
	if err != nil {
		log.Error().Err(err).Msg("🚨 Strategy snapshot failed")
		return
	}
	version := 1
	if prev, err := b.store.LoadStrategyState(ctx, b.grid.Name()); err == nil && prev != nil {
		version = prev.Version + 1
	}
	if err := b.store.SaveStrategyState(ctx, b.grid.Name(), string(data), version); err != nil {
		log.Error().Err(err).Msg("🚨 Strategy snapshot write failed")
	}
}

// ─── shutdown ──────────────────────────────────────────────────────────────────

func (b *Bot) shutdown() {
	log.Info().Msg("⏳ Shutting down...")
	b.setRunning(false)

	// flush strategy state with a fresh context; the run context is gone
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if b.grid != nil {
		if b.cfg.Grid.CancelOnShutdown {
			b.cancelRestingOrders(ctx)
		}
		b.grid.Shutdown(ctx)
		b.snapshotStrategy(ctx)
	}
	if b.feed != nil {
		b.feed.Stop()
	}
	b.wg.Wait()
	if b.api != nil {
		b.api.Stop(ctx)
	}
	b.audit.Append("lifecycle", "bot", "stopped", nil)
	b.audit.Close()
	if b.store != nil {
		b.store.Close()
	}
	log.Info().Msg("✅ Shutdown complete")
}

// cancelRestingOrders pulls the ladder before exit; foreign orders on
// the same account are left alone
func (b *Bot) cancelRestingOrders(ctx context.Context) {
	orders, err := b.ec.OpenOrders(ctx, b.cfg.Grid.Symbol)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Could not list orders for shutdown cancel")
		return
	}
	cancelled := 0
	for _, o := range orders {
		if !execution.Ours(o.ClientOrderID) {
			continue
		}
		if _, err := b.ec.CancelOrder(ctx, o.ID, o.Symbol); err != nil {
			log.Warn().Err(err).Str("order_id", o.ID).Msg("⚠️ Shutdown cancel failed")
			continue
		}
		cancelled++
	}
	log.Info().Int("cancelled", cancelled).Msg("Resting ladder cancelled on shutdown")
}

// ─── state helpers ─────────────────────────────────────────────────────────────

func (b *Bot) setRunning(v bool) {
	b.mu.Lock()
	b.running = v
	b.mu.Unlock()
}

func (b *Bot) isRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *Bot) touchHeartbeat() {
	b.mu.Lock()
	b.heartbeat = time.Now()
	b.mu.Unlock()
}

func (b *Bot) heartbeatAge() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.heartbeat.IsZero() {
		return heartbeatStale + time.Second
	}
	return time.Since(b.heartbeat)
}
