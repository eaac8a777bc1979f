package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MODELS - Persisted schema
// ═══════════════════════════════════════════════════════════════════════════════

// TradeCycle is a domain trade: one matched buy→sell (or sell→buy) pair the
// strategy treats as a single realized-profit event. It aggregates one or
// more exchange fills and is distinct from an exchange order.
type TradeCycle struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Exchange   string `gorm:"size:32"`
	Symbol     string `gorm:"size:32;index:idx_cycles_symbol_open"`
	Strategy   string `gorm:"size:64;index:idx_cycles_strategy_open"`
	IsOpen     bool   `gorm:"index:idx_cycles_symbol_open;index:idx_cycles_strategy_open"`
	Side       string `gorm:"size:8"` // entry side
	OpenRate   decimal.Decimal `gorm:"type:decimal(30,12)"`
	Amount     decimal.Decimal `gorm:"type:decimal(30,12)"`
	OpenDate   time.Time
	CloseRate  *decimal.Decimal `gorm:"type:decimal(30,12)"`
	CloseDate  *time.Time       `gorm:"index"`
	StopLoss   *decimal.Decimal `gorm:"type:decimal(30,12)"`
	TakeProfit *decimal.Decimal `gorm:"type:decimal(30,12)"`
	Profit     *decimal.Decimal `gorm:"type:decimal(30,12)"`
	ProfitPct  *decimal.Decimal `gorm:"type:decimal(20,10)"`
	Fee        *decimal.Decimal `gorm:"type:decimal(30,12)"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderRecord is our durable copy of an exchange order. The exchange holds
// the authoritative status; the reconciler resolves disagreements.
type OrderRecord struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	OrderID     string `gorm:"size:64;uniqueIndex"`
	TradeID     *uint  `gorm:"index"`
	Exchange    string `gorm:"size:32"`
	Symbol      string `gorm:"size:32;index:idx_orders_status_symbol"`
	Side        string `gorm:"size:8"`
	OrderType   string `gorm:"size:8"`
	Status      string `gorm:"size:16;index:idx_orders_status_symbol"`
	Price       *decimal.Decimal `gorm:"type:decimal(30,12)"`
	Amount      decimal.Decimal  `gorm:"type:decimal(30,12)"`
	Filled      decimal.Decimal  `gorm:"type:decimal(30,12)"`
	Remaining   *decimal.Decimal `gorm:"type:decimal(30,12)"`
	Cost        *decimal.Decimal `gorm:"type:decimal(30,12)"`
	Fee         *decimal.Decimal `gorm:"type:decimal(30,12)"`
	FeeCurrency string           `gorm:"size:16"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StrategyState is one snapshot per strategy name, updated atomically
type StrategyState struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"size:64;uniqueIndex"`
	StateJSON string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BalanceSnapshot is an append-only equity record; Total = Free + Used
type BalanceSnapshot struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"index:idx_balance_lookup"`
	Exchange  string    `gorm:"size:32;index:idx_balance_lookup,priority:1"`
	Currency  string    `gorm:"size:16;index:idx_balance_lookup,priority:2"`
	Total     decimal.Decimal `gorm:"type:decimal(30,12)"`
	Free      decimal.Decimal `gorm:"type:decimal(30,12)"`
	Used      decimal.Decimal `gorm:"type:decimal(30,12)"`
}

// CandleRow is the on-disk tier of the OHLCV cache
type CandleRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Exchange  string `gorm:"size:32;uniqueIndex:idx_candle_key,priority:1"`
	Symbol    string `gorm:"size:32;uniqueIndex:idx_candle_key,priority:2"`
	Timeframe string `gorm:"size:8;uniqueIndex:idx_candle_key,priority:3"`
	Timestamp int64  `gorm:"uniqueIndex:idx_candle_key,priority:4"` // unix ms
	Open      decimal.Decimal `gorm:"type:decimal(30,12)"`
	High      decimal.Decimal `gorm:"type:decimal(30,12)"`
	Low       decimal.Decimal `gorm:"type:decimal(30,12)"`
	Close     decimal.Decimal `gorm:"type:decimal(30,12)"`
	Volume    decimal.Decimal `gorm:"type:decimal(30,12)"`
}

// AlertLog records every alert dispatch attempt
type AlertLog struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	AlertType    string `gorm:"size:32"`
	Channel      string `gorm:"size:32"`
	Message      string
	MetadataJSON string
	Delivered    bool
	CreatedAt    time.Time
}
