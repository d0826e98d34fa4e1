package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the engine
type Config struct {
	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Account / instrument
	AccountID string
	Symbol    string
	Sector    string
	Strategy  string // "index-strangle" or "directional-futures"
	LotSize   int
	Exchange  string
	Timezone  string

	// Mode
	DryRun        bool
	Debug         bool
	TradingPaused bool // monitoring continues, no new entries

	// Market data
	DataFeedURL   string // websocket tick feed
	DataAPIURL    string
	BrokerAPIURL  string
	BrokerAPIKey  string
	BrokerSecret  string

	// Entry window
	EntryGatePct    decimal.Decimal // e.g., 0.5 = 0.5% opening move required
	EntryWindowFrom string          // "HH:MM"
	EntryWindowTo   string
	EntryCadence    time.Duration
	MonitorInterval time.Duration
	EODCheckAt      string
	ReconcileAt     string
	LearningAt      string

	// Sizing
	MarginUtilization decimal.Decimal // e.g., 0.5 = use half of available margin
	MaxRiskAmount     decimal.Decimal // hard rupee cap per futures trade
	FutStopLossPct    decimal.Decimal
	FutTargetPct      decimal.Decimal

	// Exits
	PartialExitDay        string // weekday name
	MandatoryExitDay      string
	PartialProfitFraction decimal.Decimal // fraction of target profit required for the partial-day exit
	DeltaThreshold        decimal.Decimal

	// Metrics
	MetricsAddr string

	// Database
	DatabasePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		// Telegram
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		// Account / instrument
		AccountID: getEnv("ACCOUNT_ID", "primary"),
		Symbol:    getEnv("SYMBOL", "NIFTY"),
		Sector:    getEnv("SECTOR", "NIFTY"),
		Strategy:  getEnv("STRATEGY", "index-strangle"),
		LotSize:   getEnvInt("LOT_SIZE", 75),
		Exchange:  getEnv("EXCHANGE", "NSE"),
		Timezone:  getEnv("TIMEZONE", "Asia/Kolkata"),

		// Mode
		DryRun:        getEnvBool("DRY_RUN", true),
		Debug:         getEnvBool("DEBUG", false),
		TradingPaused: getEnvBool("TRADING_PAUSED", false),

		// Market data
		DataFeedURL:  getEnv("DATA_FEED_URL", ""),
		DataAPIURL:   getEnv("DATA_API_URL", ""),
		BrokerAPIURL: getEnv("BROKER_API_URL", ""),
		BrokerAPIKey: os.Getenv("BROKER_API_KEY"),
		BrokerSecret: os.Getenv("BROKER_API_SECRET"),

		// Entry window
		EntryGatePct:    getEnvDecimal("ENTRY_GATE_PCT", decimal.NewFromFloat(0.5)),
		EntryWindowFrom: getEnv("ENTRY_WINDOW_FROM", "09:30"),
		EntryWindowTo:   getEnv("ENTRY_WINDOW_TO", "11:00"),
		EntryCadence:    getEnvDuration("ENTRY_CADENCE", 15*time.Minute),
		MonitorInterval: getEnvDuration("MONITOR_INTERVAL", time.Minute),
		EODCheckAt:      getEnv("EOD_CHECK_AT", "15:00"),
		ReconcileAt:     getEnv("RECONCILE_AT", "15:35"),
		LearningAt:      getEnv("LEARNING_AT", "16:00"),

		// Sizing
		MarginUtilization: getEnvDecimal("MARGIN_UTILIZATION", decimal.NewFromFloat(0.5)),
		MaxRiskAmount:     getEnvDecimal("MAX_RISK_AMOUNT", decimal.Zero),
		FutStopLossPct:    getEnvDecimal("FUT_STOP_LOSS_PCT", decimal.NewFromInt(1)),
		FutTargetPct:      getEnvDecimal("FUT_TARGET_PCT", decimal.NewFromInt(2)),

		// Exits
		PartialExitDay:        getEnv("PARTIAL_EXIT_DAY", "Thursday"),
		MandatoryExitDay:      getEnv("MANDATORY_EXIT_DAY", "Friday"),
		PartialProfitFraction: getEnvDecimal("PARTIAL_PROFIT_FRACTION", decimal.NewFromFloat(0.5)),
		DeltaThreshold:        getEnvDecimal("DELTA_THRESHOLD", decimal.NewFromInt(300)),

		// Metrics
		MetricsAddr: getEnv("METRICS_ADDR", ":9105"),

		// Database
		DatabasePath: getEnv("DATABASE_PATH", "data/optionpilot.db"),
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if cfg.Strategy != "index-strangle" && cfg.Strategy != "directional-futures" {
		return nil, fmt.Errorf("invalid STRATEGY %q", cfg.Strategy)
	}
	if cfg.MarginUtilization.LessThanOrEqual(decimal.Zero) || cfg.MarginUtilization.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("MARGIN_UTILIZATION must be in (0, 1]")
	}

	return cfg, nil
}

// ParseClock converts "HH:MM" to minutes from midnight.
func ParseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", v, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ParseWeekday converts a weekday name to time.Weekday.
func ParseWeekday(v string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if d.String() == v {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", v)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
