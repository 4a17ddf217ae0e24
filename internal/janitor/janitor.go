package janitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fleetmon/fleetmon/internal/sample"
)

// Janitor periodically trims expired entries out of the per-kind
// sample indexes. Redis key expiry covers idle sample sets; the index
// sorted sets stay hot as long as any device keeps writing, so their
// stale members need an explicit sweep.
type Janitor struct {
	store    sample.Store
	interval time.Duration
	logger   *zap.Logger
}

func New(store sample.Store, interval time.Duration, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		store:    store,
		interval: interval,
		logger:   logger,
	}
}

func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	for _, kind := range sample.Kinds {
		if err := j.store.Prune(ctx, kind); err != nil {
			j.logger.Warn("index sweep failed",
				zap.String("kind", string(kind)),
				zap.Error(err))
		}
	}
}
