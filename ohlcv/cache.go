package ohlcv

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/gridbot/exchange"
	"github.com/web3guy0/gridbot/storage"
	"github.com/web3guy0/gridbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// OHLCV CACHE - Two-tier candle cache (memory LRU over DB)
// ═══════════════════════════════════════════════════════════════════════════════
//
// Lookups go memory → disk → exchange. A disk hit is promoted to memory;
// an exchange fetch is written through to both tiers. One cache entry is
// one (exchange, symbol, timeframe) series.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Cache is the two-tier candle cache
type Cache struct {
	ex    exchange.Exchange
	store *storage.Store

	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element // key → lru element
	lru      *list.List               // front = most recent
}

type cacheEntry struct {
	key     string
	candles []types.Candle // ascending by timestamp
}

// NewCache builds a cache over the exchange with a DB disk tier.
// store may be nil; the disk tier is then skipped.
func NewCache(ex exchange.Exchange, store *storage.Store, capacity int) *Cache {
	if capacity <= 0 {
		capacity = 64
	}
	return &Cache{
		ex:       ex,
		store:    store,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
	}
}

func cacheKey(exchangeName, symbol, timeframe string) string {
	return exchangeName + "|" + symbol + "|" + timeframe
}

// Get returns candles for [start, end]. Memory and disk are tried before
// the exchange; a fresh fetch is persisted to both tiers.
func (c *Cache) Get(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]types.Candle, error) {
	key := cacheKey(c.ex.Name(), symbol, timeframe)

	if candles, ok := c.fromMemory(key, start, end); ok {
		return candles, nil
	}

	if c.store != nil {
		candles, err := c.store.LoadCandles(ctx, c.ex.Name(), symbol, timeframe, start, end)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("⚠️ Candle disk tier read failed")
		} else if covers(candles, timeframe, start, end) {
			c.promote(key, candles)
			return candles, nil
		}
	}

	limit := fetchLimit(timeframe, start, end)
	candles, err := c.ex.FetchOHLCV(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}
	candles = window(candles, start, end)

	c.promote(key, candles)
	if c.store != nil {
		if err := c.store.SaveCandles(ctx, c.ex.Name(), symbol, timeframe, candles); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("⚠️ Candle disk tier write failed")
		}
	}
	return candles, nil
}

// Invalidate drops the memory entry for a series
func (c *Cache) Invalidate(symbol, timeframe string) {
	key := cacheKey(c.ex.Name(), symbol, timeframe)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.lru.Remove(el)
		delete(c.entries, key)
	}
}

// fromMemory returns the windowed slice on a covering memory hit
func (c *Cache) fromMemory(key string, start, end time.Time) ([]types.Candle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if len(entry.candles) == 0 {
		return nil, false
	}
	if entry.candles[0].Timestamp.After(start) || entry.candles[len(entry.candles)-1].Timestamp.Before(end) {
		return nil, false
	}
	c.lru.MoveToFront(el)
	return window(entry.candles, start, end), true
}

// promote installs or refreshes a memory entry, evicting the LRU tail
func (c *Cache) promote(key string, candles []types.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).candles = candles
		c.lru.MoveToFront(el)
		return
	}
	c.entries[key] = c.lru.PushFront(&cacheEntry{key: key, candles: candles})

	for c.lru.Len() > c.capacity {
		tail := c.lru.Back()
		c.lru.Remove(tail)
		delete(c.entries, tail.Value.(*cacheEntry).key)
	}
}

// window filters candles to [start, end]; input is ascending
func window(candles []types.Candle, start, end time.Time) []types.Candle {
	out := make([]types.Candle, 0, len(candles))
	for _, cd := range candles {
		if cd.Timestamp.Before(start) || cd.Timestamp.After(end) {
			continue
		}
		out = append(out, cd)
	}
	return out
}

// fetchLimit sizes the exchange request to cover the window with headroom
func fetchLimit(timeframe string, start, end time.Time) int {
	d, ok := types.TimeframeDuration(timeframe)
	if !ok || d <= 0 {
		return 500
	}
	n := int(end.Sub(start)/d) + 2
	if n < 1 {
		n = 1
	}
	if n > 1000 {
		n = 1000
	}
	return n
}
