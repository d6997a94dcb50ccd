package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"tradeescrow/observability"
	"tradeescrow/observability/logging"
	telemetry "tradeescrow/observability/otel"
	"tradeescrow/services/trade-gateway/auth"
	"tradeescrow/services/trade-gateway/config"
	"tradeescrow/services/trade-gateway/escrow"
	"tradeescrow/services/trade-gateway/ledger"
	"tradeescrow/services/trade-gateway/listing"
	"tradeescrow/services/trade-gateway/models"
	"tradeescrow/services/trade-gateway/notify"
	"tradeescrow/services/trade-gateway/recon"
	"tradeescrow/services/trade-gateway/server"
	"tradeescrow/services/trade-gateway/signer"
	"tradeescrow/services/trade-gateway/store"
)

const serviceName = "trade-gateway"

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.Setup(serviceName, cfg.Environment, logging.Options{File: cfg.LogFile})
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	sig, err := signer.FromHex(cfg.Signer.Scheme, cfg.Signer.KeyHex)
	if err != nil {
		log.Fatalf("load signer: %v", err)
	}
	logger.Info("signer ready", slog.String("scheme", cfg.Signer.Scheme), slog.String("public_key", sig.PublicKey()))

	locker, closeLocker, err := newLocker(cfg)
	if err != nil {
		log.Fatalf("init scan lock: %v", err)
	}
	defer closeLocker()

	st := store.New(db)
	listings := listing.NewCoordinator(nil)
	hub := notify.NewHub(logger)
	metrics := observability.Escrow()

	reconciler, err := recon.NewReconciler(recon.Config{
		Store:    st,
		Listings: listings,
		Ledger: ledger.NewClient(ledger.Config{
			Timeout:   cfg.Ledger.Timeout,
			RateLimit: cfg.Ledger.RateLimit,
			Burst:     cfg.Ledger.Burst,
			Logger:    logger,
			Metrics:   metrics,
		}),
		Notifier: hub,
		Locker:   locker,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("init reconciler: %v", err)
	}

	service, err := escrow.New(escrow.Config{
		Store:      st,
		Listings:   listings,
		Reconciler: reconciler,
		Signer:     sig,
		Notifier:   hub,
		Metrics:    metrics,
		Logger:     logger,
		FeeKey:     cfg.FeeKey,
		ChainName:  cfg.Chain,
	})
	if err != nil {
		log.Fatalf("init escrow service: %v", err)
	}

	authMiddleware, err := auth.NewMiddleware(auth.Config{
		HSSecret:       cfg.Auth.HSSecret,
		Issuer:         cfg.Auth.Issuer,
		Audience:       cfg.Auth.Audience,
		MaxSkewSeconds: cfg.Auth.MaxSkewSeconds,
		AdminSubjects:  cfg.Auth.AdminSubjects,
		InternalToken:  cfg.Auth.InternalToken,
	})
	if err != nil {
		log.Fatalf("init auth: %v", err)
	}

	srv := server.New(server.Config{
		Service: service,
		Auth:    authMiddleware,
		DB:      db,
		Hub:     hub,
		Logger:  logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Reconcile.Enabled {
		scheduler := recon.NewScheduler(recon.SchedulerConfig{
			Reconciler: reconciler,
			Chain:      cfg.Chain,
			Interval:   cfg.Reconcile.Interval,
			Logger:     logger,
		})
		go scheduler.Start(ctx)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(srv.Handler(), serviceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("trade gateway listening", slog.String("addr", httpServer.Addr), slog.String("chain", cfg.Chain))
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", slog.Any("error", err))
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}
}

// openDatabase accepts a postgres DSN or a sqlite: path.
func openDatabase(url string) (*gorm.DB, error) {
	if path, ok := strings.CutPrefix(url, "sqlite:"); ok {
		return gorm.Open(sqlite.Open(path), &gorm.Config{})
	}
	return gorm.Open(postgres.Open(url), &gorm.Config{})
}

func newLocker(cfg *config.Config) (recon.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return recon.NewLocalLocker(), func() {}, nil
	}
	locker, err := recon.NewRedisLocker(cfg.RedisURL, cfg.Reconcile.LockTTL)
	if err != nil {
		return nil, nil, err
	}
	return locker, func() { _ = locker.Close() }, nil
}
