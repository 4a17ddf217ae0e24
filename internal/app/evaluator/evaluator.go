package evaluator

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fleetmon/fleetmon/internal/alert"
	"github.com/fleetmon/fleetmon/internal/config"
	"github.com/fleetmon/fleetmon/internal/janitor"
	"github.com/fleetmon/fleetmon/internal/redisclient"
	"github.com/fleetmon/fleetmon/internal/rules"
	"github.com/fleetmon/fleetmon/internal/sample"
	"github.com/fleetmon/fleetmon/internal/worker"
)

// Run starts a headless detection process: the rule evaluator and the
// retention janitor without the HTTP surface. Useful for running
// detection separately from the API tier.
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

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}
