package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fleetmon/fleetmon/internal/latest"
	"github.com/fleetmon/fleetmon/internal/metrics"
	"github.com/fleetmon/fleetmon/internal/sample"
)

// Observation is one entry of an ingest batch as reported by a device.
// Identity (group, host) is never taken from the payload; the gateway
// stamps it from the authenticated token.
type Observation struct {
	Kind      string         `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	SubKey    string         `json:"sub_key,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Result summarizes one batch: how many observations were accepted and
// how many were rejected (unknown kind). Rejection is per observation,
// never per batch.
type Result struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// Gateway stamps authenticated telemetry with its device identity and
// fans it out to the sample store and the latest-state cache.
type Gateway struct {
	store  sample.Store
	cache  latest.Cache
	logger *zap.Logger
}

func NewGateway(store sample.Store, cache latest.Cache, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// Ingest writes one batch for the device identified by (group, host).
func (g *Gateway) Ingest(ctx context.Context, group, host string, batch []Observation) (*Result, error) {
	if group == "" || host == "" {
		return nil, fmt.Errorf("ingest: missing device identity")
	}

	now := time.Now().UTC()
	res := &Result{}
	samples := make([]sample.Sample, 0, len(batch))
	var facts []latest.Fact

	for _, obs := range batch {
		kind := sample.Kind(obs.Kind)
		if !kind.Valid() {
			res.Rejected++
			metrics.SamplesRejected.Inc()
			continue
		}

		ts := obs.Timestamp
		if ts.IsZero() {
			ts = now
		}

		samples = append(samples, sample.Sample{
			Group:     group,
			Host:      host,
			Kind:      kind,
			Timestamp: ts,
			Fields:    obs.Fields,
		})
		res.Accepted++
		metrics.SamplesIngested.WithLabelValues(string(kind)).Inc()

		// system uptime and process liveness are also current-value
		// facts; only the most recent observation matters there.
		if kind == sample.KindSystem || kind == sample.KindProcess {
			facts = append(facts, latest.Fact{
				Group:     group,
				Host:      host,
				Kind:      kind,
				SubKey:    obs.SubKey,
				Fields:    obs.Fields,
				UpdatedAt: ts,
			})
		}
	}

	if len(samples) > 0 {
		if err := g.store.Append(ctx, samples); err != nil {
			return nil, fmt.Errorf("ingest: append samples: %w", err)
		}
	}
	for i := range facts {
		if err := g.cache.Put(ctx, &facts[i]); err != nil {
			// The sample is already durable; a failed cache refresh only
			// shortens apparent liveness.
			g.logger.Warn("latest-state refresh failed",
				zap.String("group", group),
				zap.String("host", host),
				zap.String("kind", string(facts[i].Kind)),
				zap.Error(err))
		}
	}

	return res, nil
}
