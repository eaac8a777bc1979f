package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/gridbot/execution"
	"github.com/web3guy0/gridbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP API - Read-only observability surface for the dashboard
// ═══════════════════════════════════════════════════════════════════════════════
//
// Everything here is GET and side-effect free; control stays with the
// process signals. JSON and Prometheus views are built from the same
// snapshot so the two never disagree.
//
// ═══════════════════════════════════════════════════════════════════════════════

// APIServer serves the observability endpoints
type APIServer struct {
	bot *Bot
	srv *http.Server
}

// NewAPIServer builds the server and registers the Prometheus gauges
func NewAPIServer(b *Bot, addr string) *APIServer {
	a := &APIServer{bot: b}

	registry := prometheus.NewRegistry()
	gauge := func(name, help string, fn func() float64) {
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: name, Help: help,
		}, fn))
	}
	gauge("trading_bot_uptime_seconds", "Seconds since start", func() float64 {
		return time.Since(b.startedAt).Seconds()
	})
	gauge("trading_bot_heartbeat_age_seconds", "Seconds since the event loop last ran", func() float64 {
		return b.heartbeatAge().Seconds()
	})
	gauge("trading_bot_running", "1 while the bot is running", func() float64 {
		if b.isRunning() {
			return 1
		}
		return 0
	})
	gauge("trading_bot_circuit_breaker_tripped", "1 while the breaker is open", func() float64 {
		if tripped, _, _ := b.riskMgr.Breaker.Status(); tripped {
			return 1
		}
		return 0
	})
	gauge("trading_bot_consecutive_losses", "Current losing streak", func() float64 {
		return float64(b.riskMgr.Breaker.ConsecutiveLosses())
	})
	gauge("trading_bot_completed_cycles", "Completed grid cycles", func() float64 {
		return float64(b.grid.Stats().CompletedCycles)
	})
	gauge("trading_bot_active_orders", "Resting ladder orders", func() float64 {
		return float64(b.grid.OpenOrderCount())
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/ready", a.handleReady)
	mux.HandleFunc("/metrics", a.handleMetrics)
	mux.Handle("/metrics/prometheus", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/trades", a.handleTrades)
	mux.HandleFunc("/api/positions", a.handlePositions)
	mux.HandleFunc("/api/pnl", a.handlePnL)
	mux.HandleFunc("/api/equity", a.handleEquity)
	mux.HandleFunc("/api/orders", a.handleOrders)
	mux.HandleFunc("/api/ohlcv", a.handleOHLCV)
	mux.HandleFunc("/api/config", a.handleConfig)

	a.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return a
}

// Start listens in the background
func (a *APIServer) Start() {
	go func() {
		log.Info().Str("addr", a.srv.Addr).Msg("📡 API listening")
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("🚨 API server failed")
		}
	}()
}

// Stop drains in-flight requests
func (a *APIServer) Stop(ctx context.Context) {
	if err := a.srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("API shutdown incomplete")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ─── liveness ──────────────────────────────────────────────────────────────────

func (a *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	var message string
	if tripped, reason, _ := a.bot.riskMgr.Breaker.Status(); tripped {
		status = "degraded"
		message = "circuit breaker tripped: " + string(reason)
	}
	if !a.bot.isRunning() {
		status = "error"
		message = "bot not running"
	}
	resp := map[string]interface{}{
		"status":         status,
		"uptime_seconds": time.Since(a.bot.startedAt).Seconds(),
	}
	if message != "" {
		resp["message"] = message
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *APIServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.bot.isRunning() && a.bot.heartbeatAge() < heartbeatStale {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
}

// ─── metrics and status ────────────────────────────────────────────────────────

func (a *APIServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats := a.bot.grid.Stats()
	tripped, reason, _ := a.bot.riskMgr.Breaker.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds":     time.Since(a.bot.startedAt).Seconds(),
		"heartbeat_age":      a.bot.heartbeatAge().Seconds(),
		"running":            a.bot.isRunning(),
		"completed_cycles":   stats.CompletedCycles,
		"buy_fills":          stats.BuyFills,
		"sell_fills":         stats.SellFills,
		"realized_profit":    stats.RealizedProfit,
		"total_fees":         stats.TotalFees,
		"active_orders":      a.bot.grid.OpenOrderCount(),
		"breaker_tripped":    tripped,
		"breaker_reason":     reason,
		"current_drawdown":   a.bot.riskMgr.Drawdown.Current(),
		"max_drawdown":       a.bot.riskMgr.Drawdown.Max(),
		"equity":             a.bot.riskMgr.Equity(),
		"daily_pnl":          a.bot.riskMgr.Breaker.DailyPnL(),
		"consecutive_losses": a.bot.riskMgr.Breaker.ConsecutiveLosses(),
	})
}

func (a *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	a.bot.mu.Lock()
	lastPrice := a.bot.lastPrice
	a.bot.mu.Unlock()

	tripped, reason, since := a.bot.riskMgr.Breaker.Status()
	levels := a.bot.grid.Levels()
	levelStrs := make([]string, len(levels))
	for i, l := range levels {
		levelStrs[i] = l.String()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running":        a.bot.isRunning(),
		"dry_run":        a.bot.cfg.Trading.DryRun,
		"symbol":         a.bot.cfg.Grid.Symbol,
		"uptime_seconds": time.Since(a.bot.startedAt).Seconds(),
		"last_price":     lastPrice,
		"grid": map[string]interface{}{
			"levels":      levelStrs,
			"spacing":     a.bot.cfg.Grid.Spacing,
			"stats":       a.bot.grid.Stats(),
			"open_orders": a.bot.grid.OpenOrderCount(),
			"inventory":   a.bot.grid.Inventory(),
		},
		"risk": map[string]interface{}{
			"breaker_tripped":  tripped,
			"breaker_reason":   reason,
			"breaker_since":    since,
			"current_drawdown": a.bot.riskMgr.Drawdown.Current(),
			"max_drawdown":     a.bot.riskMgr.Drawdown.Max(),
			"equity_peak":      a.bot.riskMgr.Drawdown.Peak(),
			"equity":           a.bot.riskMgr.Equity(),
			"armed_stops":      a.bot.riskMgr.Stops.Armed(),
		},
	})
}

// ─── persistence views ─────────────────────────────────────────────────────────

func (a *APIServer) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	symbol := r.URL.Query().Get("symbol")
	cycles, err := a.bot.store.TradeHistory(r.Context(), symbol, nil, nil, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, cycles)
}

func (a *APIServer) handlePositions(w http.ResponseWriter, r *http.Request) {
	cycles, err := a.bot.store.OpenCycles(r.Context(), "", a.bot.cfg.Grid.Symbol)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	a.bot.mu.Lock()
	lastPrice := a.bot.lastPrice
	a.bot.mu.Unlock()

	type position struct {
		Cycle         interface{}     `json:"cycle"`
		UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	}
	out := make([]position, 0, len(cycles))
	for _, c := range cycles {
		unrealized := decimal.Zero
		if lastPrice.IsPositive() {
			unrealized = lastPrice.Sub(c.OpenRate).Mul(c.Amount)
		}
		out = append(out, position{Cycle: c, UnrealizedPnL: unrealized})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *APIServer) handlePnL(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	period := r.URL.Query().Get("period")
	switch period {
	case "weekly":
		since = time.Now().AddDate(0, 0, -7)
	case "monthly":
		since = time.Now().AddDate(0, -1, 0)
	default:
		period = "daily"
		since = time.Now().AddDate(0, 0, -1)
	}

	cycles, err := a.bot.store.ClosedCyclesSince(r.Context(), since)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	total := decimal.Zero
	fees := decimal.Zero
	wins := 0
	for _, c := range cycles {
		if c.Profit != nil {
			total = total.Add(*c.Profit)
			if c.Profit.IsPositive() {
				wins++
			}
		}
		if c.Fee != nil {
			fees = fees.Add(*c.Fee)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"period": period,
		"since":  since,
		"trades": len(cycles),
		"wins":   wins,
		"pnl":    total,
		"fees":   fees,
	})
}

func (a *APIServer) handleEquity(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	since := time.Now().AddDate(0, 0, -days)
	quote := execution.QuoteAsset(a.bot.cfg.Grid.Symbol)
	snaps, err := a.bot.store.BalanceSnapshots(r.Context(), a.bot.ex.Name(), quote, since)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (a *APIServer) handleOrders(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		symbol = a.bot.cfg.Grid.Symbol
	}
	orders, err := a.bot.ec.OpenOrders(r.Context(), symbol)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (a *APIServer) handleOHLCV(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		symbol = a.bot.cfg.Grid.Symbol
	}
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "1h"
	}
	limit := queryInt(r, "limit", 100)
	d, ok := types.TimeframeDuration(timeframe)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown timeframe " + timeframe})
		return
	}
	end := time.Now()
	start := end.Add(-time.Duration(limit) * d)
	candles, err := a.bot.candles.Get(r.Context(), symbol, timeframe, start, end)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, candles)
}

// handleConfig exposes the running configuration with secrets redacted
func (a *APIServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	c := a.bot.cfg
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"exchange": map[string]interface{}{
			"name":    c.Exchange.Name,
			"testnet": c.Exchange.Testnet,
		},
		"trading": map[string]interface{}{
			"dry_run":          c.Trading.DryRun,
			"stream_enabled":   c.Trading.StreamEnabled,
			"reconcile_policy": c.Trading.ReconcilePolicy,
		},
		"grid": map[string]interface{}{
			"symbol":              c.Grid.Symbol,
			"lower_price":         c.Grid.LowerPrice,
			"upper_price":         c.Grid.UpperPrice,
			"num_grids":           c.Grid.NumGrids,
			"total_investment":    c.Grid.TotalInvestment,
			"spacing":             c.Grid.Spacing,
			"place_initial_sells": c.Grid.PlaceInitialSells,
		},
		"risk": map[string]interface{}{
			"preset":          c.Risk.Preset,
			"max_order_value": c.Risk.MaxOrderValue,
		},
	})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
