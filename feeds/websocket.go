package feeds

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/gridbot/exchange"
	"github.com/web3guy0/gridbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WEBSOCKET HANDLER - Ticker subscriptions with reconnect and REST fallback
// ═══════════════════════════════════════════════════════════════════════════════
//
// One background task per subscribed symbol. Callbacks for a symbol run in
// arrival order on that symbol's task; there is no cross-symbol ordering.
// When no stream URL is configured the handler polls fetch_ticker at a
// fixed interval with the same callback contract.
//
// ═══════════════════════════════════════════════════════════════════════════════

// BinanceStreamURL is the spot combined-stream base
const BinanceStreamURL = "wss://stream.binance.com:9443"

// Callback receives tickers for a subscribed symbol
type Callback func(types.Ticker)

// Config tunes the handler
type Config struct {
	StreamURL    string        // empty → REST polling fallback
	PollInterval time.Duration // fallback poll interval
}

// Handler manages per-symbol ticker subscriptions
type Handler struct {
	ex  exchange.Exchange
	cfg Config

	mu      sync.Mutex
	subs    map[string][]Callback
	running bool
	ctx     context.Context // lifetime shared with late subscriptions
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewHandler creates a subscription manager over the given exchange
func NewHandler(ex exchange.Exchange, cfg Config) *Handler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Handler{
		ex:   ex,
		cfg:  cfg,
		subs: make(map[string][]Callback),
	}
}

// Subscribe registers a callback for a symbol. Subscribing while running
// spawns the symbol task immediately.
func (h *Handler) Subscribe(symbol string, cb Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, existed := h.subs[symbol]
	h.subs[symbol] = append(h.subs[symbol], cb)

	if h.running && !existed {
		h.spawn(symbol)
	}
}

// Start spawns one task per subscribed symbol
func (h *Handler) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return
	}
	ctx, h.cancel = context.WithCancel(ctx)
	h.ctx = ctx
	h.running = true

	for symbol := range h.subs {
		h.spawn(symbol)
	}
	log.Info().Int("symbols", len(h.subs)).Bool("ws", h.cfg.StreamURL != "").Msg("📡 Ticker feed started")
}

// Stop cancels all tasks and waits for them to return
func (h *Handler) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	cancel := h.cancel
	h.mu.Unlock()

	cancel()
	h.wg.Wait()
	log.Info().Msg("Ticker feed stopped")
}

// spawn starts the per-symbol task; caller holds h.mu
func (h *Handler) spawn(symbol string) {
	ctx := h.ctx
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if h.cfg.StreamURL != "" {
			h.streamLoop(ctx, symbol)
		} else {
			h.pollLoop(ctx, symbol)
		}
	}()
}

// dispatch invokes all callbacks for a symbol in registration order
func (h *Handler) dispatch(symbol string, t types.Ticker) {
	h.mu.Lock()
	cbs := make([]Callback, len(h.subs[symbol]))
	copy(cbs, h.subs[symbol])
	h.mu.Unlock()

	for _, cb := range cbs {
		cb(t)
	}
}

// ─── websocket path ────────────────────────────────────────────────────────────

// bookTickerEvent is the binance <symbol>@bookTicker payload
type bookTickerEvent struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
}

// streamLoop holds one connection per symbol, reconnecting with
// exponential backoff 1s..60s; the backoff resets on the first message
// after a reconnect.
func (h *Handler) streamLoop(ctx context.Context, symbol string) {
	b := &backoff.Backoff{Min: time.Second, Max: 60 * time.Second, Factor: 2}

	stream := strings.ToLower(strings.ReplaceAll(symbol, "/", "")) + "@bookTicker"
	url := h.cfg.StreamURL + "/ws/" + stream

	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			delay := b.Duration()
			log.Warn().Err(err).Str("symbol", symbol).Dur("retry_in", delay).Msg("⚠️ Stream dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		// unblock ReadMessage on shutdown
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-done:
			}
		}()

		first := true
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("symbol", symbol).Msg("⚠️ Stream read failed, reconnecting")
				}
				break
			}
			if first {
				b.Reset()
				first = false
			}

			var ev bookTickerEvent
			if err := json.Unmarshal(msg, &ev); err != nil {
				continue
			}
			bid, err1 := decimal.NewFromString(ev.Bid)
			ask, err2 := decimal.NewFromString(ev.Ask)
			if err1 != nil || err2 != nil {
				continue
			}
			h.dispatch(symbol, types.Ticker{
				Symbol:    symbol,
				Bid:       bid,
				Ask:       ask,
				Last:      bid.Add(ask).Div(decimal.NewFromInt(2)),
				Timestamp: time.Now(),
			})
		}

		close(done)
		conn.Close()
	}
}

// ─── polling fallback ──────────────────────────────────────────────────────────

func (h *Handler) pollLoop(ctx context.Context, symbol string) {
	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t, err := h.ex.FetchTicker(ctx, symbol)
			if err != nil {
				log.Debug().Err(err).Str("symbol", symbol).Msg("Ticker poll failed")
				continue
			}
			h.dispatch(symbol, t)
		}
	}
}
