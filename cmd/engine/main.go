package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openlot/realtime-auction-backend/internal/api/websocket"
	"github.com/openlot/realtime-auction-backend/internal/broadcast"
	"github.com/openlot/realtime-auction-backend/internal/domain/auction"
	"github.com/openlot/realtime-auction-backend/internal/engine"
	"github.com/openlot/realtime-auction-backend/internal/infrastructure/auth"
	"github.com/openlot/realtime-auction-backend/internal/infrastructure/cache"
	"github.com/openlot/realtime-auction-backend/internal/infrastructure/config"
	"github.com/openlot/realtime-auction-backend/internal/infrastructure/database"
	"github.com/openlot/realtime-auction-backend/internal/infrastructure/repository"
	"github.com/openlot/realtime-auction-backend/internal/metrics"
	"github.com/openlot/realtime-auction-backend/internal/telemetry"
)

func main() {
	var (
		configPath     = flag.String("config", "configs/config.yaml", "path to config file")
		migrationsPath = flag.String("migrations", "migrations", "path to migration files")
		runMigrations  = flag.Bool("migrate", false, "apply migrations and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *runMigrations {
		if err := database.Migrate(cfg.Database.URL, *migrationsPath); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		logger.Info("migrations applied")
		return
	}

	if err := run(cfg, logger, *migrationsPath); err != nil {
		logger.Fatal("engine exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger, migrationsPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		SampleRate:   cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer shutdownTracing(context.Background())

	if err := database.Migrate(cfg.Database.URL, migrationsPath); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	pool, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.NewClient(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	auctions := repository.NewAuctionRepository(pool)
	bids := repository.NewBidRepository(pool)
	proxies := repository.NewProxyRepository(pool)

	fabric := broadcast.NewFabric(logger)
	lanes := engine.NewRegistry(
		engine.LaneConfig{
			QueueSize:     cfg.Engine.LaneQueueSize,
			HistorySize:   cfg.Engine.HistorySize,
			CommitTimeout: cfg.Engine.CommitTimeout,
		},
		auctions, bids, proxies, fabric,
		auction.RealClock{}, logger, m,
	)
	defer lanes.Shutdown()

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	throttle := cache.NewLoginThrottle(redisClient,
		cfg.Auth.ThrottleLimit, cfg.Auth.ThrottleWindow, true)
	gateway := websocket.New(
		websocket.Config{
			SendQueueSize: cfg.Gateway.SendQueueSize,
			Currency:      cfg.Gateway.Currency,
		},
		lanes, fabric, verifier, throttle, logger, m,
	)

	if err := lanes.RestoreLive(ctx); err != nil {
		return fmt.Errorf("restart recovery: %w", err)
	}

	scheduler := engine.NewScheduler(lanes, auctions, logger, cfg.Engine.SchedulerInterval)
	go scheduler.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.HandleWS)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", healthHandler(gateway.ConnectionCount,
		pool.Ping,
		func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	))

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("engine listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	gateway.Shutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// healthHandler answers ok only when every backing dependency responds.
func healthHandler(connections func() int, checks ...func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		for _, check := range checks {
			if err := check(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "degraded"})
				return
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "ok",
			"connections": connections(),
		})
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
