package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"frizo/margin_ledger/internal/api"
	"frizo/margin_ledger/internal/collateral"
	"frizo/margin_ledger/internal/config"
	"frizo/margin_ledger/internal/engine"
	"frizo/margin_ledger/internal/logger"
	"frizo/margin_ledger/internal/oracle"
	"frizo/margin_ledger/internal/scheduler"
	"frizo/margin_ledger/internal/store"
	"frizo/margin_ledger/internal/version"
	"frizo/margin_ledger/pkg/utils"
)

const defaultConfigFile = "margin_ledger.yaml"

func main() {
	// Command line flags
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		showHelp    = flag.Bool("help", false, "Show help information")
		configFile  = flag.String("config", "", "Path to YAML configuration file (default "+defaultConfigFile+" if present)")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	if *showHelp {
		fmt.Printf("Margin Ledger %s\n\n", version.Short())
		fmt.Println("Usage:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	path := *configFile
	if path == "" && utils.FileExists(defaultConfigFile) {
		path = defaultConfigFile
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Override log level from command line
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	log := logger.NewWithFormat(cfg.LogLevel, cfg.LogFormat)
	logger.SetDefault(log)

	log.Info("Starting Margin Ledger",
		"version", version.Short(),
		"environment", cfg.Environment,
		"config", path,
		"address", cfg.Addr(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Application error", "error", err)
		os.Exit(1)
	}
	log.Info("Margin Ledger stopped")
}

// run wires the ledger and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	st, cleanup, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	book := oracle.NewBook()
	vault := collateral.NewVault()
	hub := api.NewHub(log.With("component", "ws"))
	go hub.Run()
	defer hub.Close()

	ledger, err := engine.NewLedger(engine.Dependencies{
		Marks:      book,
		Funding:    book,
		Collateral: vault,
		Events:     hub,
		Logger:     log,
	})
	if err != nil {
		return err
	}
	if err := loadMarkets(ctx, cfg, ledger, book, st, log); err != nil {
		return err
	}

	jobs := scheduler.New(log.With("component", "scheduler"), ctx)
	if cfg.FundingSchedule != "" {
		if _, err := jobs.Add("settle_funding", cfg.FundingSchedule, scheduler.SettleFundingJob(ledger, log)); err != nil {
			return fmt.Errorf("schedule funding: %w", err)
		}
	}
	if cfg.SnapshotSchedule != "" {
		if _, err := jobs.Add("snapshot", cfg.SnapshotSchedule, scheduler.SnapshotJob(ledger, st)); err != nil {
			return fmt.Errorf("schedule snapshots: %w", err)
		}
	}
	jobs.Start()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewServer(ledger, book, vault, hub, log.With("component", "http")).Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Margin Ledger is running", "address", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down Margin Ledger...")
	case err := <-errCh:
		jobs.Stop()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	jobs.Stop()

	// final snapshot after the last request has drained
	if err := scheduler.SnapshotJob(ledger, st)(shutdownCtx); err != nil {
		return fmt.Errorf("final snapshot: %w", err)
	}
	return nil
}

// openStore picks Postgres (optionally behind Redis) when configured, memory otherwise.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory store (snapshots will not persist)")
		return store.NewMemoryStore(), func() {}, nil
	}

	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	cleanup = append(cleanup, pool.Close)

	pg := store.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("connected to PostgreSQL")

	var st store.Store = pg
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		log.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	}
	return st, closeAll, nil
}

// loadMarkets restores every persisted market, then creates configured markets the store
// does not know yet. Configured mark prices seed the price book either way.
func loadMarkets(ctx context.Context, cfg *config.Config, ledger *engine.Ledger, book *oracle.Book, st store.Store, log *logger.Logger) error {
	snaps, err := st.List(ctx)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	for _, snap := range snaps {
		if _, err := ledger.Restore(snap); err != nil {
			return fmt.Errorf("restore %s: %w", snap.ID, err)
		}
		log.Info("market restored", "market", snap.ID, "positions", len(snap.Positions))
	}

	for _, mc := range cfg.Markets {
		if mc.MarkPrice != "" {
			if err := book.SetMarkPrice(mc.ID, decimal.RequireFromString(mc.MarkPrice)); err != nil {
				return fmt.Errorf("market %s: %w", mc.ID, err)
			}
		}
		if _, err := ledger.Market(mc.ID); err == nil {
			continue
		}
		params, err := mc.Params()
		if err != nil {
			return fmt.Errorf("market %s: %w", mc.ID, err)
		}
		if _, err := ledger.CreateMarket(mc.ID, mc.Symbol, params); err != nil {
			return err
		}
		log.Info("market created", "market", mc.ID, "symbol", mc.Symbol)
	}
	return nil
}
