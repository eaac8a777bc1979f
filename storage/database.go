package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/gridbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STORE - Durable trade/order history and strategy state
// ═══════════════════════════════════════════════════════════════════════════════
//
// Postgres URLs get the postgres driver, anything else is treated as a
// SQLite path. All multi-step writes go through WithTx so a crash leaves
// the DB at the last committed state.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Store struct {
	db *gorm.DB
}

// Options tunes the connection; the zero value is sane
type Options struct {
	Echo     bool // log every SQL statement
	PoolSize int  // max open connections, 0 → driver default
}

// Open connects and migrates the schema with default options
func Open(url string) (*Store, error) {
	return OpenWithOptions(url, Options{})
}

// OpenWithOptions connects, applies pool settings and migrates the schema
func OpenWithOptions(url string, opts Options) (*Store, error) {
	logMode := logger.Silent
	if opts.Echo {
		logMode = logger.Info
	}

	var db *gorm.DB
	var err error

	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		db, err = gorm.Open(postgres.Open(url), &gorm.Config{
			Logger: logger.Default.LogMode(logMode),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("💾 Database connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(url)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		db, err = gorm.Open(sqlite.Open(url), &gorm.Config{
			Logger: logger.Default.LogMode(logMode),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", url).Msg("💾 Database initialized (SQLite)")
	}

	if opts.PoolSize > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(opts.PoolSize)
		sqlDB.SetMaxIdleConns(opts.PoolSize)
	}

	if err := db.AutoMigrate(
		&TradeCycle{}, &OrderRecord{}, &StrategyState{},
		&BalanceSnapshot{}, &CandleRow{}, &AlertLog{},
	); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx runs fn inside one transaction; fn sees a transactional Store
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// ─── orders ────────────────────────────────────────────────────────────────────

// UpsertOrder inserts or updates by exchange order id
func (s *Store) UpsertOrder(ctx context.Context, o *OrderRecord) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "filled", "remaining", "cost", "fee", "fee_currency", "trade_id", "updated_at",
		}),
	}).Create(o).Error
}

// OrderByID looks an order up by exchange order id, nil if unknown
func (s *Store) OrderByID(ctx context.Context, orderID string) (*OrderRecord, error) {
	var rec OrderRecord
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateOrderStatus sets status and filled amount by exchange order id
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, status types.OrderStatus, filled decimal.Decimal) error {
	remaining := decimal.Zero
	return s.db.WithContext(ctx).Model(&OrderRecord{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"status":    string(status),
			"filled":    filled,
			"remaining": remaining,
		}).Error
}

// OpenOrders lists persisted orders still marked open
func (s *Store) OpenOrders(ctx context.Context, symbol string) ([]OrderRecord, error) {
	var recs []OrderRecord
	q := s.db.WithContext(ctx).Where("status = ?", string(types.OrderStatusOpen))
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	err := q.Order("id").Find(&recs).Error
	return recs, err
}

// ─── trade cycles ──────────────────────────────────────────────────────────────

// CreateCycle opens a new trade cycle
func (s *Store) CreateCycle(ctx context.Context, c *TradeCycle) error {
	c.IsOpen = true
	return s.db.WithContext(ctx).Create(c).Error
}

// CloseCycle finalizes a cycle with realized result
func (s *Store) CloseCycle(ctx context.Context, id uint, closeRate decimal.Decimal, closeDate time.Time, profit, profitPct, fee decimal.Decimal) error {
	return s.db.WithContext(ctx).Model(&TradeCycle{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_open":    false,
			"close_rate": closeRate,
			"close_date": closeDate,
			"profit":     profit,
			"profit_pct": profitPct,
			"fee":        fee,
		}).Error
}

// OpenCycles queries open cycles by strategy and/or symbol
func (s *Store) OpenCycles(ctx context.Context, strategy, symbol string) ([]TradeCycle, error) {
	var cycles []TradeCycle
	q := s.db.WithContext(ctx).Where("is_open = ?", true)
	if strategy != "" {
		q = q.Where("strategy = ?", strategy)
	}
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	err := q.Order("open_date").Find(&cycles).Error
	return cycles, err
}

// TradeHistory returns cycles with optional symbol and date-range filters,
// newest first
func (s *Store) TradeHistory(ctx context.Context, symbol string, from, to *time.Time, limit int) ([]TradeCycle, error) {
	var cycles []TradeCycle
	q := s.db.WithContext(ctx).Model(&TradeCycle{})
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if from != nil {
		q = q.Where("open_date >= ?", *from)
	}
	if to != nil {
		q = q.Where("open_date <= ?", *to)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Order("open_date DESC").Find(&cycles).Error
	return cycles, err
}

// ClosedCyclesSince returns cycles closed on or after the given time
func (s *Store) ClosedCyclesSince(ctx context.Context, since time.Time) ([]TradeCycle, error) {
	var cycles []TradeCycle
	err := s.db.WithContext(ctx).
		Where("is_open = ? AND close_date >= ?", false, since).
		Order("close_date").Find(&cycles).Error
	return cycles, err
}

// ─── strategy state ────────────────────────────────────────────────────────────

// SaveStrategyState upserts the single snapshot row for a strategy name
func (s *Store) SaveStrategyState(ctx context.Context, name, stateJSON string, version int) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"state_json", "version", "updated_at"}),
	}).Create(&StrategyState{Name: name, StateJSON: stateJSON, Version: version}).Error
}

// LoadStrategyState returns the snapshot for a strategy name, nil if absent
func (s *Store) LoadStrategyState(ctx context.Context, name string) (*StrategyState, error) {
	var st StrategyState
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&st).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ─── balance snapshots ─────────────────────────────────────────────────────────

// AppendBalanceSnapshot records one balance observation
func (s *Store) AppendBalanceSnapshot(ctx context.Context, snap *BalanceSnapshot) error {
	return s.db.WithContext(ctx).Create(snap).Error
}

// BalanceSnapshots returns snapshots for charting, oldest first
func (s *Store) BalanceSnapshots(ctx context.Context, exchange, currency string, since time.Time) ([]BalanceSnapshot, error) {
	var snaps []BalanceSnapshot
	err := s.db.WithContext(ctx).
		Where("exchange = ? AND currency = ? AND timestamp >= ?", exchange, currency, since).
		Order("timestamp").Find(&snaps).Error
	return snaps, err
}

// ─── candle cache tier ─────────────────────────────────────────────────────────

// SaveCandles upserts candles into the disk tier
func (s *Store) SaveCandles(ctx context.Context, exchangeName, symbol, timeframe string, candles []types.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	rows := make([]CandleRow, 0, len(candles))
	for _, c := range candles {
		rows = append(rows, CandleRow{
			Exchange:  exchangeName,
			Symbol:    symbol,
			Timeframe: timeframe,
			Timestamp: c.Timestamp.UnixMilli(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "exchange"}, {Name: "symbol"}, {Name: "timeframe"}, {Name: "timestamp"}},
		DoNothing: true,
	}).CreateInBatches(rows, 500).Error
}

// LoadCandles reads candles within [start, end], oldest first
func (s *Store) LoadCandles(ctx context.Context, exchangeName, symbol, timeframe string, start, end time.Time) ([]types.Candle, error) {
	var rows []CandleRow
	err := s.db.WithContext(ctx).
		Where("exchange = ? AND symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?",
			exchangeName, symbol, timeframe, start.UnixMilli(), end.UnixMilli()).
		Order("timestamp").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	candles := make([]types.Candle, 0, len(rows))
	for _, r := range rows {
		candles = append(candles, types.Candle{
			Timestamp: time.UnixMilli(r.Timestamp),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	return candles, nil
}

// ─── alert log ─────────────────────────────────────────────────────────────────

// LogAlert records one alert dispatch attempt
func (s *Store) LogAlert(ctx context.Context, alertType, channel, message, metadataJSON string, delivered bool) error {
	return s.db.WithContext(ctx).Create(&AlertLog{
		AlertType:    alertType,
		Channel:      channel,
		Message:      message,
		MetadataJSON: metadataJSON,
		Delivered:    delivered,
	}).Error
}
