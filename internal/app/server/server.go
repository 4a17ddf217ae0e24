package server

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fleetmon/fleetmon/internal/alert"
	"github.com/fleetmon/fleetmon/internal/config"
	"github.com/fleetmon/fleetmon/internal/device"
	"github.com/fleetmon/fleetmon/internal/httpserver"
	"github.com/fleetmon/fleetmon/internal/ingest"
	"github.com/fleetmon/fleetmon/internal/janitor"
	"github.com/fleetmon/fleetmon/internal/latest"
	"github.com/fleetmon/fleetmon/internal/redisclient"
	"github.com/fleetmon/fleetmon/internal/rules"
	"github.com/fleetmon/fleetmon/internal/sample"
	"github.com/fleetmon/fleetmon/internal/status"
	"github.com/fleetmon/fleetmon/internal/worker"
)

// Run wires the stores, the evaluator and the HTTP surface, and blocks
// until the context is cancelled.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	redisClient, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		return err
	}

	ledger := alert.NewSQLLedger(db)
	if err := ledger.EnsureSchema(ctx); err != nil {
		return err
	}

	store := sample.NewRedisStore(redisClient, cfg.Samples.Retention)
	cache := latest.NewRedisCache(redisClient, cfg.Samples.LivenessTTL)
	devices := device.NewRedisRepository(redisClient)
	tokens := device.NewRedisTokenRepository(redisClient)

	gateway := ingest.NewGateway(store, cache, logger)
	statusSvc := status.NewService(store, cache, ledger, cfg.Status.Staleness)

	evaluator := rules.NewEvaluator(
		store,
		ledger,
		rules.FromConfig(cfg.Rules),
		rules.DeadmanFromConfig(cfg.Rules, cfg.Evaluator.DeadmanHorizon),
		cfg.Evaluator.Tick,
		cfg.Evaluator.StoreTimeout,
		logger,
	)

	manager := worker.NewManager(2*time.Second, logger)
	manager.Register("evaluator", func() worker.Worker { return evaluator })
	manager.Register("janitor", func() worker.Worker {
		return janitor.New(store, cfg.Samples.Retention/4, logger)
	})
	manager.Start(ctx)
	defer manager.Stop()

	httpSrv := httpserver.NewServer(devices, tokens, gateway, statusSvc, ledger, logger)
	s := &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        httpSrv.Router(),
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.ListenAddr))
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)

	case err := <-errCh:
		return err
	}
}
