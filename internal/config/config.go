package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION - Environment driven, SECTION__KEY naming
// ═══════════════════════════════════════════════════════════════════════════════
//
// Everything comes from environment variables, optionally seeded from a
// .env file. Names follow SECTION__KEY (double underscore), matching
// the section structure below. Validation happens once at load; a bad
// value fails startup rather than surfacing mid-trade.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Config struct {
	LogLevel string
	JSONLogs bool

	Exchange ExchangeConfig
	DB       DBConfig
	Trading  TradingConfig
	Grid     GridConfig
	Risk     RiskConfig
	Alert    AlertConfig
	API      APIConfig
	Cache    CacheConfig
	Audit    AuditConfig
}

type ExchangeConfig struct {
	Name       string
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64
	RateLimit  time.Duration // min interval between REST calls
	Timeout    time.Duration
	MaxRetries int
}

type DBConfig struct {
	URL      string // postgres:// URL or sqlite file path
	Echo     bool   // log every SQL statement
	PoolSize int
}

type TradingConfig struct {
	DryRun          bool
	StreamEnabled   bool
	PollInterval    time.Duration
	ReconcilePolicy string
	MaxPositionPct  decimal.Decimal // 0 → preset default
	PaperQuoteSeed  decimal.Decimal // starting quote balance in dry-run
	PaperFeePct     decimal.Decimal
}

type GridConfig struct {
	Symbol            string
	LowerPrice        decimal.Decimal
	UpperPrice        decimal.Decimal
	NumGrids          int
	TotalInvestment   decimal.Decimal
	Spacing           string
	PlaceInitialSells bool
	StopLossPct       decimal.Decimal // 0 → per-cycle stops disabled
	CancelOnShutdown  bool
}

// RiskConfig selects a preset; any non-zero field below overrides the
// matching preset value
type RiskConfig struct {
	Preset               string
	MaxOrderValue        decimal.Decimal
	MaxDailyLossPct      decimal.Decimal
	MaxConsecutiveLosses int
	MaxDrawdownPct       decimal.Decimal
	MaxErrorRate         decimal.Decimal
	CooldownMinutes      int
	SnapshotInterval     time.Duration
}

type AlertConfig struct {
	Enabled        bool
	TelegramToken  string
	TelegramChatID int64
	DiscordWebhook string
}

type APIConfig struct {
	Enabled    bool
	ListenAddr string
}

type CacheConfig struct {
	MemoryCapacity int
}

type AuditConfig struct {
	Path string
}

// Load reads .env (if present) and the environment, then validates
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env file")
	}

	cfg := &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		JSONLogs: getEnvBool("JSON_LOGS", false),

		Exchange: ExchangeConfig{
			Name:       getEnv("EXCHANGE__NAME", "binance"),
			APIKey:     getEnv("EXCHANGE__API_KEY", ""),
			APISecret:  getEnv("EXCHANGE__API_SECRET", ""),
			Testnet:    getEnvBool("EXCHANGE__TESTNET", false),
			RecvWindow: getEnvInt64("EXCHANGE__RECV_WINDOW", 60000),
			RateLimit:  getEnvDuration("EXCHANGE__RATE_LIMIT_MS", 100),
			Timeout:    getEnvDuration("EXCHANGE__TIMEOUT_MS", 10000),
			MaxRetries: int(getEnvInt64("EXCHANGE__MAX_RETRIES", 3)),
		},
		DB: DBConfig{
			URL:      getEnv("DB__URL", "data/gridbot.db"),
			Echo:     getEnvBool("DB__ECHO", false),
			PoolSize: int(getEnvInt64("DB__POOL_SIZE", 5)),
		},
		Trading: TradingConfig{
			DryRun:          getEnvBool("TRADING__DRY_RUN", true),
			StreamEnabled:   getEnvBool("TRADING__STREAM_ENABLED", true),
			PollInterval:    getEnvDuration("TRADING__POLL_INTERVAL_MS", 1000),
			ReconcilePolicy: getEnv("TRADING__RECONCILE_POLICY", "trust_exchange"),
			MaxPositionPct:  getEnvDecimal("TRADING__MAX_POSITION_PCT", "0"),
			PaperQuoteSeed:  getEnvDecimal("TRADING__PAPER_QUOTE_SEED", "10000"),
			PaperFeePct:     getEnvDecimal("TRADING__PAPER_FEE_PCT", "0.001"),
		},
		Grid: GridConfig{
			// the traded symbol lives in the TRADING__ section
			Symbol:            getEnv("TRADING__SYMBOL", "BTC/USDT"),
			LowerPrice:        getEnvDecimal("GRID__LOWER_PRICE", "0"),
			UpperPrice:        getEnvDecimal("GRID__UPPER_PRICE", "0"),
			NumGrids:          int(getEnvInt64("GRID__NUM_GRIDS", 10)),
			TotalInvestment:   getEnvDecimal("GRID__TOTAL_INVESTMENT", "0"),
			Spacing:           getEnv("GRID__SPACING", "arithmetic"),
			PlaceInitialSells: getEnvBool("GRID__PLACE_INITIAL_SELLS", false),
			StopLossPct:       getEnvDecimal("GRID__STOP_LOSS_PCT", "0"),
			CancelOnShutdown:  getEnvBool("GRID__CANCEL_ON_SHUTDOWN", false),
		},
		Risk: RiskConfig{
			Preset:               getEnv("RISK__PRESET", "moderate"),
			MaxOrderValue:        getEnvDecimal("RISK__MAX_ORDER_VALUE", "0"),
			MaxDailyLossPct:      getEnvDecimal("RISK__MAX_DAILY_LOSS_PCT", "0"),
			MaxConsecutiveLosses: int(getEnvInt64("RISK__MAX_CONSECUTIVE_LOSSES", 0)),
			MaxDrawdownPct:       getEnvDecimal("RISK__MAX_DRAWDOWN_PCT", "0"),
			MaxErrorRate:         getEnvDecimal("RISK__MAX_ERROR_RATE", "0"),
			CooldownMinutes:      int(getEnvInt64("RISK__COOLDOWN_MINUTES", 0)),
			SnapshotInterval:     time.Duration(getEnvInt64("RISK__SNAPSHOT_INTERVAL_S", 60)) * time.Second,
		},
		Alert: AlertConfig{
			Enabled:        getEnvBool("ALERT__ENABLED", true),
			TelegramToken:  getEnv("ALERT__TELEGRAM_BOT_TOKEN", ""),
			TelegramChatID: getEnvInt64("ALERT__TELEGRAM_CHAT_ID", 0),
			DiscordWebhook: getEnv("ALERT__DISCORD_WEBHOOK_URL", ""),
		},
		API: APIConfig{
			Enabled:    getEnvBool("API__ENABLED", true),
			ListenAddr: getEnv("API__LISTEN_ADDR", ":8080"),
		},
		Cache: CacheConfig{
			MemoryCapacity: int(getEnvInt64("CACHE__MEMORY_CAPACITY", 64)),
		},
		Audit: AuditConfig{
			Path: getEnv("AUDIT__PATH", "data/audit.jsonl"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects out-of-range values before anything connects
func (c *Config) Validate() error {
	if c.Exchange.Name != "binance" {
		return fmt.Errorf("config: unsupported exchange %q", c.Exchange.Name)
	}
	if !c.Trading.DryRun && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return fmt.Errorf("config: live trading requires EXCHANGE__API_KEY and EXCHANGE__API_SECRET")
	}
	if c.Exchange.RateLimit < 50*time.Millisecond || c.Exchange.RateLimit > 1000*time.Millisecond {
		return fmt.Errorf("config: EXCHANGE__RATE_LIMIT_MS must be in [50, 1000], got %s", c.Exchange.RateLimit)
	}
	if c.Exchange.Timeout < 5*time.Second || c.Exchange.Timeout > 60*time.Second {
		return fmt.Errorf("config: EXCHANGE__TIMEOUT_MS must be in [5000, 60000], got %s", c.Exchange.Timeout)
	}
	if c.Exchange.MaxRetries < 0 {
		return fmt.Errorf("config: EXCHANGE__MAX_RETRIES must be >= 0")
	}
	if c.DB.PoolSize < 1 || c.DB.PoolSize > 20 {
		return fmt.Errorf("config: DB__POOL_SIZE must be in [1, 20], got %d", c.DB.PoolSize)
	}
	if !c.Trading.MaxPositionPct.IsZero() {
		lo, _ := decimal.NewFromString("0.01")
		if c.Trading.MaxPositionPct.LessThan(lo) || c.Trading.MaxPositionPct.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("config: TRADING__MAX_POSITION_PCT must be in [0.01, 1.0], got %s", c.Trading.MaxPositionPct)
		}
	}
	if c.Grid.StopLossPct.IsNegative() || c.Grid.StopLossPct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("config: GRID__STOP_LOSS_PCT must be in [0, 1), got %s", c.Grid.StopLossPct)
	}
	if c.Grid.NumGrids < 3 || c.Grid.NumGrids > 100 {
		return fmt.Errorf("config: GRID__NUM_GRIDS must be in [3, 100], got %d", c.Grid.NumGrids)
	}
	if !c.Grid.LowerPrice.IsPositive() || !c.Grid.UpperPrice.GreaterThan(c.Grid.LowerPrice) {
		return fmt.Errorf("config: grid range [%s, %s] invalid", c.Grid.LowerPrice, c.Grid.UpperPrice)
	}
	if !c.Grid.TotalInvestment.IsPositive() {
		return fmt.Errorf("config: GRID__TOTAL_INVESTMENT must be positive")
	}
	switch c.Grid.Spacing {
	case "arithmetic", "geometric":
	default:
		return fmt.Errorf("config: GRID__SPACING must be arithmetic or geometric, got %q", c.Grid.Spacing)
	}
	switch c.Trading.ReconcilePolicy {
	case "trust_exchange", "trust_local", "manual":
	default:
		return fmt.Errorf("config: TRADING__RECONCILE_POLICY %q invalid", c.Trading.ReconcilePolicy)
	}
	if c.API.Enabled && c.API.ListenAddr == "" {
		return fmt.Errorf("config: API__LISTEN_ADDR required when API is enabled")
	}
	return nil
}

// ─── env helpers ───────────────────────────────────────────────────────────────

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("⚠️ Invalid bool env var, using default")
		return def
	}
	return b
}

func getEnvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("⚠️ Invalid int env var, using default")
		return def
	}
	return n
}

func getEnvDecimal(key, def string) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("⚠️ Invalid decimal env var, using default")
		d, _ = decimal.NewFromString(def)
	}
	return d
}

// getEnvDuration reads milliseconds
func getEnvDuration(key string, defMs int64) time.Duration {
	return time.Duration(getEnvInt64(key, defMs)) * time.Millisecond
}
