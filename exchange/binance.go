package exchange

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/web3guy0/gridbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BINANCE ADAPTER - Spot exchange with filters, time-sync and retries
// ═══════════════════════════════════════════════════════════════════════════════
//
// Pre-flight on Connect: load market metadata, sync the clock, enter
// testnet mode if configured. The clock is re-synced before any signed
// call when the last sync is older than 5 minutes.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	timeSyncInterval  = 5 * time.Minute
	defaultRecvWindow = int64(60000)
)

// BinanceConfig configures the adapter
type BinanceConfig struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RateLimit  time.Duration // min interval between REST calls
	Timeout    time.Duration // per-call timeout
	RecvWindow int64         // ms
	Retry      RetryConfig
}

// Binance is the concrete spot exchange adapter
type Binance struct {
	client  *binance.Client
	limiter *rate.Limiter
	retrier *Retrier
	timeout time.Duration
	recvWin int64

	mu       sync.RWMutex
	markets  map[string]Market // unified symbol -> market
	lastSync time.Time
}

// NewBinance creates the adapter. Call Connect before trading.
func NewBinance(cfg BinanceConfig) *Binance {
	if cfg.Testnet {
		binance.UseTestnet = true
		log.Warn().Msg("🧪 Binance TESTNET mode enabled")
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = defaultRecvWindow
	}

	client := binance.NewClient(cfg.APIKey, cfg.APISecret)

	return &Binance{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(cfg.RateLimit), 1),
		retrier: NewRetrier(cfg.Retry),
		timeout: cfg.Timeout,
		recvWin: cfg.RecvWindow,
		markets: make(map[string]Market),
	}
}

// Name returns the venue identifier
func (b *Binance) Name() string { return "binance" }

// Connect loads market metadata and synchronizes the clock
func (b *Binance) Connect(ctx context.Context, symbols []string) error {
	if err := b.syncTime(ctx); err != nil {
		return err
	}
	if err := b.loadMarkets(ctx, symbols); err != nil {
		return err
	}
	log.Info().Int("markets", len(symbols)).Msg("🔌 Binance connected")
	return nil
}

// Market returns the cached metadata for a unified symbol
func (b *Binance) Market(symbol string) (Market, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.markets[symbol]
	return m, ok
}

// syncTime performs a single round-trip clock sync and stores the offset
// on the client
func (b *Binance) syncTime(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	offset, err := b.client.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return mapError(err)
	}

	b.mu.Lock()
	b.lastSync = time.Now()
	b.mu.Unlock()

	log.Debug().Int64("offset_ms", offset).Msg("🕐 Clock synced with exchange")
	return nil
}

// ensureTimeSync re-syncs before signed operations when stale
func (b *Binance) ensureTimeSync(ctx context.Context) {
	b.mu.RLock()
	stale := time.Since(b.lastSync) > timeSyncInterval
	b.mu.RUnlock()
	if stale {
		if err := b.syncTime(ctx); err != nil {
			log.Warn().Err(err).Msg("⚠️ Clock re-sync failed, keeping previous offset")
		}
	}
}

// loadMarkets fetches precision and filters for the given symbols
func (b *Binance) loadMarkets(ctx context.Context, symbols []string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	raw := make([]string, len(symbols))
	for i, s := range symbols {
		raw[i] = venueSymbol(s)
	}

	info, err := b.client.NewExchangeInfoService().Symbols(raw...).Do(ctx)
	if err != nil {
		return mapError(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sym := range info.Symbols {
		m := Market{
			Symbol:     unifiedSymbol(sym.BaseAsset, sym.QuoteAsset),
			BaseAsset:  sym.BaseAsset,
			QuoteAsset: sym.QuoteAsset,
		}
		for _, f := range sym.Filters {
			switch f["filterType"] {
			case "LOT_SIZE":
				m.MinQty = filterDecimal(f, "minQty")
				m.MaxQty = filterDecimal(f, "maxQty")
				m.StepSize = filterDecimal(f, "stepSize")
			case "PRICE_FILTER":
				m.MinPrice = filterDecimal(f, "minPrice")
				m.MaxPrice = filterDecimal(f, "maxPrice")
				m.TickSize = filterDecimal(f, "tickSize")
			case "MIN_NOTIONAL", "NOTIONAL":
				m.MinNotional = filterDecimal(f, "minNotional")
			}
		}
		b.markets[m.Symbol] = m
		log.Debug().
			Str("symbol", m.Symbol).
			Str("step", m.StepSize.String()).
			Str("tick", m.TickSize.String()).
			Str("min_notional", m.MinNotional.String()).
			Msg("Market loaded")
	}
	return nil
}

func filterDecimal(f map[string]interface{}, key string) decimal.Decimal {
	if v, ok := f[key].(string); ok {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.Zero
}

// FetchTicker returns the current top of book
func (b *Binance) FetchTicker(ctx context.Context, symbol string) (types.Ticker, error) {
	var t types.Ticker
	err := b.call(ctx, "fetch_ticker", func(ctx context.Context) error {
		books, err := b.client.NewListBookTickersService().Symbol(venueSymbol(symbol)).Do(ctx)
		if err != nil {
			return mapError(err)
		}
		if len(books) == 0 {
			return NewError(KindExchange, 0, "no book ticker for "+symbol, nil)
		}
		bid, _ := decimal.NewFromString(books[0].BidPrice)
		ask, _ := decimal.NewFromString(books[0].AskPrice)

		prices, err := b.client.NewListPricesService().Symbol(venueSymbol(symbol)).Do(ctx)
		if err != nil {
			return mapError(err)
		}
		last := decimal.Zero
		if len(prices) > 0 {
			last, _ = decimal.NewFromString(prices[0].Price)
		}
		t = types.Ticker{Symbol: symbol, Bid: bid, Ask: ask, Last: last, Timestamp: time.Now()}
		return nil
	})
	return t, err
}

// FetchBalance returns per-currency balances
func (b *Binance) FetchBalance(ctx context.Context) (map[string]types.Balance, error) {
	b.ensureTimeSync(ctx)
	out := make(map[string]types.Balance)
	err := b.call(ctx, "fetch_balance", func(ctx context.Context) error {
		acct, err := b.client.NewGetAccountService().Do(ctx, binance.WithRecvWindow(b.recvWin))
		if err != nil {
			return mapError(err)
		}
		for _, bal := range acct.Balances {
			free, _ := decimal.NewFromString(bal.Free)
			used, _ := decimal.NewFromString(bal.Locked)
			if free.IsZero() && used.IsZero() {
				continue
			}
			out[bal.Asset] = types.Balance{
				Currency: bal.Asset,
				Free:     free,
				Used:     used,
				Total:    free.Add(used),
			}
		}
		return nil
	})
	return out, err
}

// CreateOrder validates against market filters, rounds and places an order
func (b *Binance) CreateOrder(ctx context.Context, req OrderRequest) (types.Order, error) {
	var out types.Order

	market, ok := b.Market(req.Symbol)
	if !ok {
		return out, NewError(KindInvalidOrder, 0, "unknown market "+req.Symbol, nil)
	}
	if req.Type == types.OrderTypeMarket && req.Price != nil {
		return out, NewError(KindInvalidOrder, 0, "market order must not carry a price", nil)
	}

	qty, price, err := market.ValidateOrder(req)
	if err != nil {
		return out, err
	}

	b.ensureTimeSync(ctx)
	err = b.call(ctx, "create_order", func(ctx context.Context) error {
		svc := b.client.NewCreateOrderService().
			Symbol(venueSymbol(req.Symbol)).
			Side(venueSide(req.Side)).
			Quantity(qty.String())

		if req.Type == types.OrderTypeLimit {
			svc = svc.Type(binance.OrderTypeLimit).
				TimeInForce(binance.TimeInForceTypeGTC).
				Price(price.String())
		} else {
			svc = svc.Type(binance.OrderTypeMarket)
		}
		if req.ClientOrderID != "" {
			svc = svc.NewClientOrderID(req.ClientOrderID)
		}

		resp, err := svc.Do(ctx, binance.WithRecvWindow(b.recvWin))
		if err != nil {
			return mapError(err)
		}

		filled, _ := decimal.NewFromString(resp.ExecutedQuantity)
		cost, _ := decimal.NewFromString(resp.CummulativeQuoteQuantity)
		out = types.Order{
			ID:            strconv.FormatInt(resp.OrderID, 10),
			ClientOrderID: resp.ClientOrderID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Type:          req.Type,
			Status:        unifiedStatus(resp.Status),
			Price:         price,
			Amount:        qty,
			Filled:        filled,
			Remaining:     qty.Sub(filled),
			Cost:          cost,
			Timestamp:     time.UnixMilli(resp.TransactTime),
		}
		return nil
	})
	return out, err
}

// CancelOrder cancels by exchange order id
func (b *Binance) CancelOrder(ctx context.Context, orderID, symbol string) (types.Order, error) {
	var out types.Order
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return out, NewError(KindInvalidOrder, 0, "bad order id "+orderID, err)
	}

	b.ensureTimeSync(ctx)
	err = b.call(ctx, "cancel_order", func(ctx context.Context) error {
		resp, err := b.client.NewCancelOrderService().
			Symbol(venueSymbol(symbol)).
			OrderID(id).
			Do(ctx, binance.WithRecvWindow(b.recvWin))
		if err != nil {
			return mapError(err)
		}
		price, _ := decimal.NewFromString(resp.Price)
		amount, _ := decimal.NewFromString(resp.OrigQuantity)
		filled, _ := decimal.NewFromString(resp.ExecutedQuantity)
		out = types.Order{
			ID:            strconv.FormatInt(resp.OrderID, 10),
			ClientOrderID: resp.ClientOrderID,
			Symbol:        symbol,
			Side:          unifiedSide(resp.Side),
			Status:        unifiedStatus(resp.Status),
			Price:         price,
			Amount:        amount,
			Filled:        filled,
			Remaining:     amount.Sub(filled),
			Timestamp:     time.Now(),
		}
		return nil
	})
	return out, err
}

// FetchOrder returns the authoritative order state
func (b *Binance) FetchOrder(ctx context.Context, orderID, symbol string) (types.Order, error) {
	var out types.Order
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return out, NewError(KindInvalidOrder, 0, "bad order id "+orderID, err)
	}

	b.ensureTimeSync(ctx)
	err = b.call(ctx, "fetch_order", func(ctx context.Context) error {
		o, err := b.client.NewGetOrderService().
			Symbol(venueSymbol(symbol)).
			OrderID(id).
			Do(ctx, binance.WithRecvWindow(b.recvWin))
		if err != nil {
			return mapError(err)
		}
		out = unifiedOrder(symbol, o)
		return nil
	})
	return out, err
}

// FetchOpenOrders lists open orders, optionally filtered by symbol
func (b *Binance) FetchOpenOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	var out []types.Order
	b.ensureTimeSync(ctx)
	err := b.call(ctx, "fetch_open_orders", func(ctx context.Context) error {
		svc := b.client.NewListOpenOrdersService()
		if symbol != "" {
			svc = svc.Symbol(venueSymbol(symbol))
		}
		orders, err := svc.Do(ctx, binance.WithRecvWindow(b.recvWin))
		if err != nil {
			return mapError(err)
		}
		out = make([]types.Order, 0, len(orders))
		for _, o := range orders {
			out = append(out, unifiedOrder(b.unify(o.Symbol), o))
		}
		return nil
	})
	return out, err
}

// FetchOHLCV returns up to limit candles, newest last
func (b *Binance) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error) {
	var out []types.Candle
	err := b.call(ctx, "fetch_ohlcv", func(ctx context.Context) error {
		klines, err := b.client.NewKlinesService().
			Symbol(venueSymbol(symbol)).
			Interval(timeframe).
			Limit(limit).
			Do(ctx)
		if err != nil {
			return mapError(err)
		}
		out = make([]types.Candle, 0, len(klines))
		for _, k := range klines {
			open, _ := decimal.NewFromString(k.Open)
			high, _ := decimal.NewFromString(k.High)
			low, _ := decimal.NewFromString(k.Low)
			clos, _ := decimal.NewFromString(k.Close)
			vol, _ := decimal.NewFromString(k.Volume)
			out = append(out, types.Candle{
				Timestamp: time.UnixMilli(k.OpenTime),
				Open:      open,
				High:      high,
				Low:       low,
				Close:     clos,
				Volume:    vol,
			})
		}
		return nil
	})
	return out, err
}

// FetchMyTrades returns recent own fills for a symbol
func (b *Binance) FetchMyTrades(ctx context.Context, symbol string, limit int) ([]types.Trade, error) {
	var out []types.Trade
	b.ensureTimeSync(ctx)
	err := b.call(ctx, "fetch_my_trades", func(ctx context.Context) error {
		trades, err := b.client.NewListTradesService().
			Symbol(venueSymbol(symbol)).
			Limit(limit).
			Do(ctx, binance.WithRecvWindow(b.recvWin))
		if err != nil {
			return mapError(err)
		}
		out = make([]types.Trade, 0, len(trades))
		for _, t := range trades {
			price, _ := decimal.NewFromString(t.Price)
			qty, _ := decimal.NewFromString(t.Quantity)
			cost, _ := decimal.NewFromString(t.QuoteQuantity)
			fee, _ := decimal.NewFromString(t.Commission)
			side := types.SideSell
			if t.IsBuyer {
				side = types.SideBuy
			}
			out = append(out, types.Trade{
				ID:        strconv.FormatInt(t.ID, 10),
				OrderID:   strconv.FormatInt(t.OrderID, 10),
				Symbol:    symbol,
				Side:      side,
				Price:     price,
				Amount:    qty,
				Cost:      cost,
				Fee:       &types.Fee{Cost: fee, Currency: t.CommissionAsset},
				IsMaker:   t.IsMaker,
				Timestamp: time.UnixMilli(t.Time),
			})
		}
		return nil
	})
	return out, err
}

// call wraps a REST operation with rate limiting, a per-call timeout and
// the retry policy
func (b *Binance) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return b.retrier.Do(ctx, op, func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		return fn(callCtx)
	})
}

// unify maps a raw venue symbol back to the unified form using loaded markets
func (b *Binance) unify(raw string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for unified, m := range b.markets {
		if m.BaseAsset+m.QuoteAsset == raw {
			return unified
		}
	}
	return raw
}

// ─── mapping helpers ───────────────────────────────────────────────────────────

func venueSymbol(unified string) string {
	return strings.ReplaceAll(unified, "/", "")
}

func unifiedSymbol(base, quote string) string {
	return base + "/" + quote
}

func venueSide(s types.Side) binance.SideType {
	if s == types.SideBuy {
		return binance.SideTypeBuy
	}
	return binance.SideTypeSell
}

func unifiedSide(s binance.SideType) types.Side {
	if s == binance.SideTypeBuy {
		return types.SideBuy
	}
	return types.SideSell
}

func unifiedStatus(s binance.OrderStatusType) types.OrderStatus {
	switch s {
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePartiallyFilled, binance.OrderStatusTypePendingCancel:
		return types.OrderStatusOpen
	case binance.OrderStatusTypeFilled:
		return types.OrderStatusClosed
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeRejected:
		return types.OrderStatusCanceled
	case binance.OrderStatusTypeExpired:
		return types.OrderStatusExpired
	}
	return types.OrderStatusOpen
}

func unifiedOrder(symbol string, o *binance.Order) types.Order {
	price, _ := decimal.NewFromString(o.Price)
	amount, _ := decimal.NewFromString(o.OrigQuantity)
	filled, _ := decimal.NewFromString(o.ExecutedQuantity)
	cost, _ := decimal.NewFromString(o.CummulativeQuoteQuantity)
	typ := types.OrderTypeLimit
	if o.Type == binance.OrderTypeMarket {
		typ = types.OrderTypeMarket
	}
	return types.Order{
		ID:            strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Symbol:        symbol,
		Side:          unifiedSide(o.Side),
		Type:          typ,
		Status:        unifiedStatus(o.Status),
		Price:         price,
		Amount:        amount,
		Filled:        filled,
		Remaining:     amount.Sub(filled),
		Cost:          cost,
		Timestamp:     time.UnixMilli(o.Time),
	}
}

// mapError translates venue error codes into the taxonomy
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1002, -1022, -2014, -2015:
			return NewError(KindAuthentication, apiErr.Code, apiErr.Message, err)
		case -2010:
			if strings.Contains(strings.ToLower(apiErr.Message), "insufficient") {
				return NewError(KindInsufficientFunds, apiErr.Code, apiErr.Message, err)
			}
			return NewError(KindInvalidOrder, apiErr.Code, apiErr.Message, err)
		case -2011, -2013:
			return NewError(KindOrderNotFound, apiErr.Code, apiErr.Message, err)
		case -1003, -1015:
			return NewError(KindRateLimit, apiErr.Code, apiErr.Message, err)
		case -1021:
			// timestamp outside recvWindow; next call re-syncs the clock
			return NewError(KindTimeout, apiErr.Code, apiErr.Message, err)
		case -1013, -1100, -1102, -1111, -1121:
			return NewError(KindInvalidOrder, apiErr.Code, apiErr.Message, err)
		}
		return NewError(KindExchange, apiErr.Code, apiErr.Message, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, 0, "request timed out", err)
	}
	return NewError(KindNetwork, 0, err.Error(), err)
}
