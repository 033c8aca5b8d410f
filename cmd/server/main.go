package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Clark-Hu/movie-reviews/db"
	"github.com/Clark-Hu/movie-reviews/internal/accounts"
	"github.com/Clark-Hu/movie-reviews/internal/auth"
	"github.com/Clark-Hu/movie-reviews/internal/catalog"
	"github.com/Clark-Hu/movie-reviews/internal/config"
	"github.com/Clark-Hu/movie-reviews/internal/events"
	httpserver "github.com/Clark-Hu/movie-reviews/internal/http"
	"github.com/Clark-Hu/movie-reviews/internal/logging"
	"github.com/Clark-Hu/movie-reviews/internal/metrics"
	"github.com/Clark-Hu/movie-reviews/internal/repository"
	"github.com/Clark-Hu/movie-reviews/internal/reviews"
	"github.com/Clark-Hu/movie-reviews/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	storeOpts := store.Options{
		MaxConns:               int32(cfg.DBMaxConns),
		MinConns:               int32(cfg.DBMinConns),
		MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
		MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
		ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
		StatementCacheCapacity: cfg.DBStatementCache,
		Logger:                 logger,
	}

	st, err := store.New(dbCtx, cfg.DBURL, storeOpts)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := metrics.RegisterPoolStats(prometheus.DefaultRegisterer, st.PoolStats); err != nil {
		return err
	}

	if err := st.Migrate(dbCtx, db.Migrations); err != nil {
		return err
	}

	publisher, closeEvents, err := events.Connect(cfg.NATSURL, logger)
	if err != nil {
		return err
	}
	defer closeEvents()

	repo := repository.New(st)
	reviewStore := repo.ReviewStore()
	coordinator := reviews.NewCoordinator(reviewStore, logger, cfg.RecomputeRetries)
	ledger := reviews.NewLedger(reviewStore, coordinator, logger)
	issuer := auth.Issuer{Secret: []byte(cfg.JWTSecret), TTL: time.Duration(cfg.JWTTTLMinutes) * time.Minute}

	accountsSvc := accounts.NewService(repo, coordinator, accounts.Options{
		Issuer:            issuer,
		PrimaryAdminEmail: cfg.AdminEmail,
		Publisher:         publisher,
		Logger:            logger,
	})
	if cfg.AdminPassword != "" {
		if _, err := accountsSvc.EnsureAdmin(dbCtx, cfg.AdminEmail, cfg.AdminPassword, cfg.AdminName); err != nil {
			return err
		}
	}

	server := httpserver.New(cfg, st, httpserver.Services{
		Accounts: accountsSvc,
		Catalog:  catalog.NewService(repo, coordinator, publisher, logger),
		Reviews:  reviews.NewService(ledger, publisher, logger),
		Auth:     auth.NewMiddleware(issuer, repo.Users, logger),
	}, logger)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("graceful shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}
