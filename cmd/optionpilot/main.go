package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantdesk/optionpilot/internal/broker"
	"github.com/quantdesk/optionpilot/internal/config"
	"github.com/quantdesk/optionpilot/internal/exits"
	"github.com/quantdesk/optionpilot/internal/learning"
	"github.com/quantdesk/optionpilot/internal/lifecycle"
	"github.com/quantdesk/optionpilot/internal/market"
	"github.com/quantdesk/optionpilot/internal/metrics"
	"github.com/quantdesk/optionpilot/internal/models"
	"github.com/quantdesk/optionpilot/internal/notify"
	"github.com/quantdesk/optionpilot/internal/orchestrator"
	"github.com/quantdesk/optionpilot/internal/scoring"
	"github.com/quantdesk/optionpilot/internal/sizing"
	"github.com/quantdesk/optionpilot/internal/store"
)

func main() {
	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found")
	}

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration error")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msg("              OPTIONPILOT - DECISION & RISK ENGINE")
	log.Info().Msg("═══════════════════════════════════════════════════════════════")

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatal().Err(err).Str("tz", cfg.Timezone).Msg("Invalid timezone")
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	// 1. Storage
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	log.Info().Str("path", cfg.DatabasePath).Msg("✅ Storage layer initialized")

	seedPolicies(db)

	// 2. Metrics
	m := metrics.New()
	go metrics.Serve(cfg.MetricsAddr)
	log.Info().Str("addr", cfg.MetricsAddr).Msg("✅ Metrics endpoint up")

	// 3. Market data
	dataClient := market.NewRESTClient(cfg.DataAPIURL)
	if cfg.DataFeedURL != "" {
		feed := market.NewWSFeed(cfg.DataFeedURL, cfg.Symbol)
		feed.Start()
		defer feed.Stop()
		dataClient.WithFeed(feed)
		log.Info().Str("url", cfg.DataFeedURL).Msg("✅ Tick feed connected")
	}
	log.Info().Msg("✅ Market data client initialized")

	// 4. Broker
	var margin broker.MarginProvider
	var executor broker.OrderExecutor
	if cfg.DryRun {
		paper := broker.NewPaper(decimal.NewFromInt(11_000_000))
		margin, executor = paper, paper
		log.Info().Msg("✅ Paper broker initialized (DRY RUN)")
	} else {
		live := broker.NewRESTClient(cfg.BrokerAPIURL, cfg.BrokerAPIKey, cfg.BrokerSecret)
		margin, executor = live, live
		log.Info().Str("url", cfg.BrokerAPIURL).Msg("✅ Broker gateway connected")
	}

	// 5. Notifications
	var sink notify.Sink = notify.Nop{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("Telegram unavailable, notifications disabled")
		} else {
			sink = tg
			log.Info().Msg("✅ Telegram notifications enabled")
		}
	}

	// 6. Decision components
	expiryOf := func(now time.Time) time.Time { return nextWeeklyExpiry(now.In(loc)) }
	scorer := scoring.New(dataClient,
		func(string) string { return cfg.Sector },
		func() time.Time { return expiryOf(time.Now()) })
	sizer := sizing.New(cfg.MarginUtilization)
	monitor := exits.New(dataClient, exitConfig(cfg))
	life := lifecycle.New(db, executor, sink, lifecycle.WithMetrics(m))
	marketOpen, _ := config.ParseClock("09:15")
	learner := learning.New(db, cfg.AccountID, loc, marketOpen)
	log.Info().Msg("✅ Decision components initialized")

	// 7. Orchestrator
	orchCfg, err := orchestratorConfig(cfg, loc)
	if err != nil {
		log.Fatal().Err(err).Msg("Bad schedule configuration")
	}
	orch := orchestrator.New(orchCfg, orchestrator.Deps{
		Store:   db,
		Source:  dataClient,
		Quoter:  dataClient,
		Margin:  margin,
		Scorer:  scorer,
		Sizer:   sizer,
		Life:    life,
		Monitor: monitor,
		Learner: learner,
		Sink:    sink,
		Metrics: m,
		Expiry:  expiryOf,
	})
	if cfg.TradingPaused {
		orch.SetPaused(true)
		log.Warn().Msg("⏸️  Trading paused: monitoring only, no new entries")
	}
	log.Info().Msg("✅ Orchestrator initialized")

	// ═══════════════════════════════════════════════════════════════════════════════
	// PRINT CONFIG
	// ═══════════════════════════════════════════════════════════════════════════════

	mode := "LIVE TRADING"
	if cfg.DryRun {
		mode = "PAPER TRADING"
	}
	log.Info().Msg("")
	log.Info().Msgf("  Mode:      %s", mode)
	log.Info().Msgf("  Symbol:    %s (%s, lot %d)", cfg.Symbol, cfg.Exchange, cfg.LotSize)
	log.Info().Msgf("  Strategy:  %s", cfg.Strategy)
	log.Info().Msgf("  Entry:     %s-%s, gate %s%%", cfg.EntryWindowFrom, cfg.EntryWindowTo, cfg.EntryGatePct.StringFixed(2))
	log.Info().Msgf("  Exits:     partial %s / mandatory %s", cfg.PartialExitDay, cfg.MandatoryExitDay)
	log.Info().Msg("")

	// ═══════════════════════════════════════════════════════════════════════════════
	// START
	// ═══════════════════════════════════════════════════════════════════════════════

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Orchestrator stopped")
		}
	}()

	log.Info().Msg("🚀 All systems running...")

	// ═══════════════════════════════════════════════════════════════════════════════
	// GRACEFUL SHUTDOWN
	// ═══════════════════════════════════════════════════════════════════════════════

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("👋 Shutting down...")
	cancel()
	time.Sleep(time.Second)
}

// seedPolicies writes the default auto-approval policies the first time the
// engine runs against a fresh database. Existing policies are never touched.
func seedPolicies(db store.Store) {
	defaults := []models.AutoApprovalPolicy{
		{
			Strategy:           models.StrategyIndexStrangle,
			Enabled:            true,
			MinScore:           70,
			MaxPositionsPerDay: 1,
			MaxDailyLoss:       decimal.NewFromInt(50_000),
			ManualOnWeekend:    true,
			ManualAboveVIX:     true,
			VIXThreshold:       decimal.NewFromInt(20),
		},
		{
			Strategy:            models.StrategyDirectionalFuture,
			Enabled:             false,
			MinScore:            75,
			MaxPositionsPerDay:  1,
			MaxDailyLoss:        decimal.NewFromInt(30_000),
			ManualOnWeekend:     true,
			ManualAboveVIX:      true,
			VIXThreshold:        decimal.NewFromInt(18),
			RequireConfirmation: true,
		},
	}
	for i := range defaults {
		if _, err := db.GetPolicy(defaults[i].Strategy); err == nil {
			continue
		}
		if err := db.SavePolicy(&defaults[i]); err != nil {
			log.Warn().Err(err).Str("strategy", string(defaults[i].Strategy)).Msg("Could not seed policy")
		} else {
			log.Info().Str("strategy", string(defaults[i].Strategy)).Msg("Seeded default auto-approval policy")
		}
	}
}

func exitConfig(cfg *config.Config) exits.Config {
	ec := exits.DefaultConfig()
	if d, err := config.ParseWeekday(cfg.PartialExitDay); err == nil {
		ec.PartialExitDay = d
	}
	if d, err := config.ParseWeekday(cfg.MandatoryExitDay); err == nil {
		ec.MandatoryExitDay = d
	}
	if cfg.PartialProfitFraction.IsPositive() {
		ec.PartialProfitFraction = cfg.PartialProfitFraction
	}
	ec.DeltaThreshold = cfg.DeltaThreshold
	return ec
}

func orchestratorConfig(cfg *config.Config, loc *time.Location) (orchestrator.Config, error) {
	oc := orchestrator.DefaultSchedule()
	oc.AccountID = cfg.AccountID
	oc.Symbol = cfg.Symbol
	oc.Strategy = models.StrategyTag(cfg.Strategy)
	oc.LotSize = cfg.LotSize
	oc.Location = loc
	oc.EntryGatePct = cfg.EntryGatePct
	oc.EntryCadence = cfg.EntryCadence
	oc.MonitorInterval = cfg.MonitorInterval
	oc.FutStopLossPct = cfg.FutStopLossPct
	oc.FutTargetPct = cfg.FutTargetPct
	oc.MaxRiskAmount = cfg.MaxRiskAmount

	var err error
	if oc.EntryWindowFrom, err = config.ParseClock(cfg.EntryWindowFrom); err != nil {
		return oc, err
	}
	if oc.EntryWindowTo, err = config.ParseClock(cfg.EntryWindowTo); err != nil {
		return oc, err
	}
	if oc.EODCheckAt, err = config.ParseClock(cfg.EODCheckAt); err != nil {
		return oc, err
	}
	if oc.ReconcileAt, err = config.ParseClock(cfg.ReconcileAt); err != nil {
		return oc, err
	}
	if oc.LearningAt, err = config.ParseClock(cfg.LearningAt); err != nil {
		return oc, err
	}
	return oc, nil
}

// nextWeeklyExpiry returns the next Thursday 15:30 at or after now.
func nextWeeklyExpiry(now time.Time) time.Time {
	d := (int(time.Thursday) - int(now.Weekday()) + 7) % 7
	expiry := time.Date(now.Year(), now.Month(), now.Day(), 15, 30, 0, 0, now.Location()).AddDate(0, 0, d)
	if expiry.Before(now) {
		expiry = expiry.AddDate(0, 0, 7)
	}
	return expiry
}
