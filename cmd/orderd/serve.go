package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tradeforge/orderd/internal/breaker"
	"github.com/tradeforge/orderd/internal/gate"
	"github.com/tradeforge/orderd/internal/orchestrator"
	"github.com/tradeforge/orderd/internal/poolmon"
	"github.com/tradeforge/orderd/internal/server"
	"github.com/tradeforge/orderd/internal/storage/postgres"
	"github.com/tradeforge/orderd/internal/telemetry"
	"github.com/tradeforge/orderd/internal/tradeclient"
)

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orderd HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false,
		"do not run database migrations at startup")
}

func serve() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := telemetry.Init(ctx, "orderd", Version); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return err
	}

	store, err := postgres.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if !skipMigrations {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
	}

	g := gate.New(cfg.GatePermits(), cfg.AcquireTimeout())
	log.Info("concurrency gate initialized",
		zap.Int("permits", cfg.GatePermits()),
		zap.Int("pool_size", cfg.Pool.SizeMax))

	brk := breaker.New(breaker.Config{
		Enabled:            cfg.Breaker.Enabled,
		UtilThreshold:      cfg.Breaker.UtilThreshold,
		ConsecutiveSamples: cfg.Breaker.ConsecutiveSamples,
		FailureThreshold:   cfg.Breaker.FailureThreshold,
		OpenDuration:       cfg.OpenDuration(),
		RetryAfterBase:     cfg.RetryAfter.BaseSeconds,
		RetryAfterMax:      cfg.RetryAfter.MaxSeconds,
	}, g.Utilization)

	monitor := poolmon.New(store.DB(), cfg.MonitorInterval(),
		time.Duration(cfg.Pool.LeakDetectMS)*time.Millisecond, log)
	monitor.Subscribe(brk.Observe)
	monitor.Start(ctx)

	client := tradeclient.New(tradeclient.Config{
		BaseURL:        cfg.TradeService.URL,
		ConnectTimeout: time.Duration(cfg.TradeService.TimeoutConnectMS) * time.Millisecond,
		TotalTimeout:   time.Duration(cfg.TradeService.TimeoutTotalMS) * time.Millisecond,
		MaxConnections: cfg.TradeService.MaxConnections,
	}, log)

	orch := orchestrator.New(orchestrator.Options{
		Store:          store,
		Gate:           g,
		Breaker:        brk,
		Client:         client,
		Metrics:        metrics,
		Log:            log,
		SubmitBatchMax: cfg.SubmitBatchMax,
		CreateBatchMax: cfg.CreateBatchMax,
	})

	srv := server.New(cfg.ServerAddr, orch, store, brk, metrics, log)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}
