package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"trading-engine/internal/api"
	"trading-engine/internal/engine"
	"trading-engine/internal/events"
	"trading-engine/internal/metrics"
	"trading-engine/internal/notify"
	"trading-engine/internal/plan"
	"trading-engine/internal/schedule"
	"trading-engine/pkg/config"
	"trading-engine/pkg/db"
	"trading-engine/pkg/exchanges/binance/futures_usdt"
	"trading-engine/pkg/exchanges/common"
	"trading-engine/pkg/exchanges/paper"
	"trading-engine/pkg/logger"
	"trading-engine/pkg/market"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "trading-engine",
		Short: "Risk and schedule control engine for a daily futures trading plan",
		Long: `trading-engine reads a declarative daily plan, arms OCO breakout pairs inside
the plan's windows and guards the account with a daily kill switch, margin
limits and a 23:00 EEST time stop.

Configuration comes from ENGINE_CONFIG (yaml), .env and the environment.`,
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newValidateCmd(), newTokenCmd(), newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var paperMode bool
	var planPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the control loop until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if paperMode {
				// Credentials are optional against the simulated venue.
				os.Setenv("DRY_RUN", "true")
			}
			if planPath != "" {
				os.Setenv("PLAN_PATH", planPath)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().BoolVar(&paperMode, "paper", false, "trade against the in-process paper venue mirrored from live prices")
	cmd.Flags().StringVar(&planPath, "plan", "", "plan file, overrides PLAN_PATH")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan.json>",
		Short: "Validate a plan file and print its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := plan.Load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "plan %s v%s (%s) by %s\n", p.PlanDate, p.PlanVersion, p.PlanType, p.PlanAuthor)
			for _, a := range p.ActiveAssets {
				fmt.Fprintf(out, "  %s x%d size %.0f%%\n", a.Symbol, a.Leverage, a.PositionSizePct*100)
			}
			for _, ph := range p.TradePhases {
				fmt.Fprintf(out, "  %s at %s\n", ph.Name, ph.Boundary())
			}
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <operator>",
		Short: "Issue a bearer token for the ops api operator controls",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			tok, err := api.IssueToken(args[0], os.Getenv("JWT_SECRET"), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)

	p, err := plan.Load(cfg.PlanPath)
	if err != nil {
		return err
	}
	cal, err := schedule.NewCalendar(cfg.Timezone)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create db dir: %w", err)
		}
	}
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	venue := futures_usdt.NewClient(futures_usdt.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
		BaseURL:   cfg.BinanceBaseURL,
	}, log)
	retry := common.RetryConfig{
		Attempts:    cfg.RetryAttempts,
		MinDelay:    cfg.BackoffMin,
		MaxDelay:    cfg.BackoffMax,
		CallTimeout: cfg.CallTimeout,
	}
	live := common.NewRetrying(venue, retry, common.NewLimiter(cfg.RateLimit, cfg.RateBurst), log)

	var conn common.Connector = live
	var sim *paper.Exchange
	venueName := "binance_futures"
	if cfg.DryRun {
		sim = paper.New(cfg.PaperBalance)
		conn = sim
		venueName = "paper"
	}

	bus := events.NewBus()
	deps := engine.Deps{Plan: p, Calendar: cal, Conn: conn, DB: database, Bus: bus, Log: log}
	if cfg.DominanceURL != "" {
		deps.Dominance = market.NewDominanceClient(cfg.DominanceURL)
	}
	if cfg.NewsFile != "" {
		deps.News = market.NewHeadlineFile(cfg.NewsFile)
	}

	eng, err := engine.New(engine.Config{
		Interval:   cfg.TickInterval,
		PlanPath:   cfg.PlanPath,
		ReloadCron: cfg.ReloadSchedule,
	}, deps)
	if err != nil {
		return err
	}

	var sender notify.Sender = notify.NewLog(log)
	if cfg.TelegramToken != "" {
		sender = notify.Multi{sender, notify.NewTelegram(cfg.TelegramURL, cfg.TelegramToken, cfg.TelegramChatID)}
	}
	alerts := notify.NewAsync(notify.AtLeast(events.Severity(cfg.NotifyMin), sender), 64, 10*time.Second, log)

	m := metrics.New(bus)
	m.Start(ctx, bus)
	(&notify.Relay{Bus: bus, Notifier: alerts}).Start(ctx)

	srv := api.NewServer(eng, m, api.SystemMeta{
		DryRun: cfg.DryRun, Venue: venueName, Version: version, StartedAt: time.Now(),
	}, cfg.JWTSecret, log)
	if cfg.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET unset, operator controls on the ops api are disabled")
	}

	log.Info().Str("venue", venueName).Str("plan", cfg.PlanPath).Str("plan_date", p.PlanDate).
		Dur("tick", cfg.TickInterval).Str("zone", cal.Location().String()).Msg("starting engine")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		alerts.Run(gctx)
		return nil
	})
	if sim != nil {
		g.Go(func() error {
			mirror(gctx, live, sim, p.Symbols(), cfg.TickInterval/2, log)
			return nil
		})
	}
	if cfg.HTTPAddr != "" {
		g.Go(func() error { return srv.Run(gctx, cfg.HTTPAddr) })
	}
	g.Go(func() error { return eng.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("engine stopped")
	return nil
}

// mirror copies public venue prices and candles into the paper venue so
// conditional orders fill against the real tape.
func mirror(ctx context.Context, src common.Connector, dst *paper.Exchange, symbols []string, every time.Duration, log zerolog.Logger) {
	if every < time.Second {
		every = time.Second
	}
	log = log.With().Str("component", "paper_mirror").Logger()
	copyOnce := func() {
		snap, err := src.MarketData(ctx, symbols)
		if err != nil {
			log.Warn().Err(err).Msg("mirror market data")
			return
		}
		for sym, t := range snap.Tickers {
			last, ok := t.Last.Get()
			if !ok {
				continue
			}
			dst.SetPrice(sym, last, t.Mark.Or(last))
			if v, ok := t.FundingRate.Get(); ok {
				dst.SetFunding(sym, v)
			}
			if v, ok := t.OpenInterest.Get(); ok {
				dst.SetOpenInterest(sym, v)
			}
			if ks, err := src.Klines(ctx, sym, "1m", 120); err == nil {
				dst.SetKlines(sym, ks)
			}
		}
		if v, ok := snap.BTCDominance.Get(); ok {
			dst.SetDominance(v)
		}
	}

	copyOnce()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			copyOnce()
		}
	}
}
