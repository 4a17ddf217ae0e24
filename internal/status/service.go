package status

import (
	"context"
	"time"

	"github.com/fleetmon/fleetmon/internal/alert"
	"github.com/fleetmon/fleetmon/internal/latest"
	"github.com/fleetmon/fleetmon/internal/sample"
)

// DeviceStatus is the derived view of one device. Recomputed on every
// read; it has no lifecycle of its own.
type DeviceStatus struct {
	Status        Status        `json:"status"`
	LastSeen      time.Time     `json:"last_seen"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	CPUPercent    float64       `json:"cpu_percent"`
	MemoryPercent float64       `json:"memory_percent"`
	DiskPercent   float64       `json:"disk_percent"`
	ActiveAlerts  []alert.Alert `json:"active_alerts"`
}

// Service assembles DeviceStatus from the stores and the ledger.
type Service struct {
	store     sample.Store
	cache     latest.Cache
	ledger    alert.Ledger
	staleness time.Duration
}

func NewService(store sample.Store, cache latest.Cache, ledger alert.Ledger, staleness time.Duration) *Service {
	return &Service{
		store:     store,
		cache:     cache,
		ledger:    ledger,
		staleness: staleness,
	}
}

// statusKinds are the streams whose freshness decides staleness.
var statusKinds = []sample.Kind{sample.KindCPU, sample.KindMemory, sample.KindDisk}

// DeviceStatus computes the current status of one device.
func (s *Service) DeviceStatus(ctx context.Context, group, host string) (*DeviceStatus, error) {
	latestSamples := make(map[sample.Kind]*sample.Sample, len(statusKinds))
	timestamps := make(map[sample.Kind]time.Time, len(statusKinds))
	for _, kind := range statusKinds {
		sm, err := s.store.Latest(ctx, group, host, kind)
		if err != nil {
			return nil, err
		}
		if sm == nil {
			continue
		}
		latestSamples[kind] = sm
		timestamps[kind] = sm.Timestamp
	}

	active, err := s.ledger.ListActive(ctx, group, host)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := &DeviceStatus{
		Status:       Resolve(now, timestamps, active, s.staleness),
		ActiveAlerts: active,
	}
	for _, ts := range timestamps {
		if ts.After(out.LastSeen) {
			out.LastSeen = ts
		}
	}

	// Offline devices display zeros. Display convention only; detection
	// never reads these fields back.
	if out.Status == Offline {
		return out, nil
	}

	if sm := latestSamples[sample.KindCPU]; sm != nil {
		out.CPUPercent = sample.ClampPercent(sm.FloatOrZero("usage_user") + sm.FloatOrZero("usage_system"))
	}
	if sm := latestSamples[sample.KindMemory]; sm != nil {
		out.MemoryPercent = sample.ClampPercent(sm.FloatOrZero("used_percent"))
	}
	if sm := latestSamples[sample.KindDisk]; sm != nil {
		out.DiskPercent = sample.ClampPercent(sm.FloatOrZero("used_percent"))
	}

	fact, err := s.cache.Get(ctx, group, host, sample.KindSystem, "")
	if err != nil {
		return nil, err
	}
	if fact != nil {
		if v, ok := fact.Fields["uptime"]; ok {
			if f, ok := v.(float64); ok {
				out.UptimeSeconds = f
			}
		}
	}

	return out, nil
}
