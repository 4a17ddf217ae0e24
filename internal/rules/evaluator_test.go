package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fleetmon/fleetmon/internal/alert"
	"github.com/fleetmon/fleetmon/internal/sample"
)

type fakeStore struct {
	samples  map[sample.Kind][]sample.Sample
	contacts map[sample.HostKey]time.Time
	errKinds map[sample.Kind]error
}

func (f *fakeStore) Append(ctx context.Context, ss []sample.Sample) error {
	return nil
}

func (f *fakeStore) QueryRecent(ctx context.Context, kind sample.Kind, window time.Duration) (map[sample.HostKey][]sample.Sample, error) {
	if err := f.errKinds[kind]; err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-window)
	out := make(map[sample.HostKey][]sample.Sample)
	for _, s := range f.samples[kind] {
		if s.Timestamp.After(cutoff) {
			out[s.Key()] = append(out[s.Key()], s)
		}
	}
	return out, nil
}

func (f *fakeStore) LastContact(ctx context.Context, kind sample.Kind, horizon time.Duration) (map[sample.HostKey]time.Time, error) {
	cutoff := time.Now().Add(-horizon)
	out := make(map[sample.HostKey]time.Time)
	for k, ts := range f.contacts {
		if ts.After(cutoff) {
			out[k] = ts
		}
	}
	return out, nil
}

func (f *fakeStore) Latest(ctx context.Context, group, host string, kind sample.Kind) (*sample.Sample, error) {
	var latest *sample.Sample
	for i := range f.samples[kind] {
		s := &f.samples[kind][i]
		if s.Group != group || s.Host != host {
			continue
		}
		if latest == nil || s.Timestamp.After(latest.Timestamp) {
			latest = s
		}
	}
	return latest, nil
}

func (f *fakeStore) Prune(ctx context.Context, kind sample.Kind) error {
	return nil
}

type fakeLedger struct {
	mu      sync.Mutex
	records []*alert.Alert
	nextID  int
}

func (f *fakeLedger) findActive(group, host string, typ alert.Type) *alert.Alert {
	for _, a := range f.records {
		if a.Group == group && a.Host == host && a.Type == typ && a.Resolution.IsActive() {
			return a
		}
	}
	return nil
}

func (f *fakeLedger) OpenIfAbsent(ctx context.Context, group, host string, typ alert.Type, firstDetected, lastSeen time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findActive(group, host, typ) != nil {
		return false, nil
	}
	f.nextID++
	f.records = append(f.records, &alert.Alert{
		ID:              fmt.Sprintf("a-%d", f.nextID),
		Group:           group,
		Host:            host,
		Type:            typ,
		FirstDetectedAt: firstDetected,
		LastSeen:        lastSeen,
		Resolution:      alert.Active(),
	})
	return true, nil
}

func (f *fakeLedger) TouchLastSeen(ctx context.Context, group, host string, typ alert.Type, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a := f.findActive(group, host, typ); a != nil {
		a.LastSeen = lastSeen
	}
	return nil
}

func (f *fakeLedger) Resolve(ctx context.Context, group, host string, typ alert.Type, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, a := range f.records {
		if a.Group == group && a.Host == host && a.Type == typ && a.Resolution.IsActive() {
			a.Resolution = alert.ResolvedAt(at)
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) ListActive(ctx context.Context, group, host string) ([]alert.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []alert.Alert
	for _, a := range f.records {
		if a.Group == group && a.Host == host && a.Resolution.IsActive() {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeLedger) ListActiveByType(ctx context.Context, typ alert.Type) ([]alert.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []alert.Alert
	for _, a := range f.records {
		if a.Type == typ && a.Resolution.IsActive() {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeLedger) activeCount(typ alert.Type) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.records {
		if a.Type == typ && a.Resolution.IsActive() {
			n++
		}
	}
	return n
}

func newTestEvaluator(store *fakeStore, ledger *fakeLedger) *Evaluator {
	cfg := testRulesConfig()
	return NewEvaluator(
		store,
		ledger,
		FromConfig(cfg),
		DeadmanFromConfig(cfg, 24*time.Hour),
		time.Minute,
		5*time.Second,
		nil,
	)
}

func highCPUSamples(group, host string, n int, base time.Time) []sample.Sample {
	out := make([]sample.Sample, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, sample.Sample{
			Group:     group,
			Host:      host,
			Kind:      sample.KindCPU,
			Timestamp: base.Add(time.Duration(i) * 30 * time.Second),
			Fields:    map[string]any{"usage_user": 70.0, "usage_system": 20.0},
		})
	}
	return out
}

func TestOpenIsIdempotent(t *testing.T) {
	now := time.Now()
	store := &fakeStore{
		samples: map[sample.Kind][]sample.Sample{
			sample.KindCPU: highCPUSamples("acme", "web-01", 6, now.Add(-4*time.Minute)),
		},
	}
	ledger := &fakeLedger{}
	e := newTestEvaluator(store, ledger)

	e.EvaluateNow(context.Background())
	if got := ledger.activeCount(alert.TypeCPU); got != 1 {
		t.Fatalf("expected 1 active cpu alert, got %d", got)
	}
	first := ledger.records[0].FirstDetectedAt

	// Unchanged samples: a second pass must not duplicate nor move
	// firstDetectedAt.
	e.EvaluateNow(context.Background())
	if got := ledger.activeCount(alert.TypeCPU); got != 1 {
		t.Fatalf("expected 1 active cpu alert after second pass, got %d", got)
	}
	if !ledger.records[0].FirstDetectedAt.Equal(first) {
		t.Fatalf("firstDetectedAt moved: %v != %v", ledger.records[0].FirstDetectedAt, first)
	}
}

func TestCPUBelowMinOccurrencesDoesNotOpen(t *testing.T) {
	now := time.Now()
	store := &fakeStore{
		samples: map[sample.Kind][]sample.Sample{
			sample.KindCPU: highCPUSamples("acme", "web-01", 5, now.Add(-4*time.Minute)),
		},
	}
	ledger := &fakeLedger{}
	e := newTestEvaluator(store, ledger)

	e.EvaluateNow(context.Background())
	if got := ledger.activeCount(alert.TypeCPU); got != 0 {
		t.Fatalf("5 occurrences must not open at minimum 6, got %d alerts", got)
	}
}

func TestMemoryResolveAtTickTime(t *testing.T) {
	now := time.Now()
	store := &fakeStore{
		samples: map[sample.Kind][]sample.Sample{
			sample.KindMemory: {
				{
					Group:     "acme",
					Host:      "web-01",
					Kind:      sample.KindMemory,
					Timestamp: now.Add(-time.Minute),
					Fields:    map[string]any{"used_percent": 55.0},
				},
			},
		},
	}
	ledger := &fakeLedger{}
	_, _ = ledger.OpenIfAbsent(context.Background(), "acme", "web-01", alert.TypeMemory, now.Add(-10*time.Minute), now.Add(-7*time.Minute))
	e := newTestEvaluator(store, ledger)

	before := time.Now().UTC()
	e.EvaluateNow(context.Background())
	after := time.Now().UTC()

	if got := ledger.activeCount(alert.TypeMemory); got != 0 {
		t.Fatalf("memory alert should be resolved, %d still active", got)
	}
	at, ok := ledger.records[0].Resolution.Time()
	if !ok {
		t.Fatalf("record should carry a resolution time")
	}
	if at.Before(before) || at.After(after) {
		t.Fatalf("resolvedAt %v not within tick bounds [%v, %v]", at, before, after)
	}
}

func TestResolutionIndependentPerType(t *testing.T) {
	now := time.Now()
	store := &fakeStore{
		samples: map[sample.Kind][]sample.Sample{
			// cpu still unhealthy: no idle headroom.
			sample.KindCPU: highCPUSamples("acme", "web-01", 6, now.Add(-4*time.Minute)),
			sample.KindMemory: {
				{
					Group:     "acme",
					Host:      "web-01",
					Kind:      sample.KindMemory,
					Timestamp: now.Add(-time.Minute),
					Fields:    map[string]any{"used_percent": 40.0},
				},
			},
		},
	}
	ledger := &fakeLedger{}
	_, _ = ledger.OpenIfAbsent(context.Background(), "acme", "web-01", alert.TypeMemory, now.Add(-10*time.Minute), now)
	e := newTestEvaluator(store, ledger)

	e.EvaluateNow(context.Background())

	if got := ledger.activeCount(alert.TypeMemory); got != 0 {
		t.Fatalf("memory alert should resolve independently, %d active", got)
	}
	if got := ledger.activeCount(alert.TypeCPU); got != 1 {
		t.Fatalf("cpu alert should stay active, got %d", got)
	}
}

func TestDeadmanOpensOnSilence(t *testing.T) {
	now := time.Now()
	store := &fakeStore{
		contacts: map[sample.HostKey]time.Time{
			{Group: "acme", Host: "web-01"}: now.Add(-10 * time.Minute),
			{Group: "acme", Host: "web-02"}: now.Add(-30 * time.Second),
		},
	}
	ledger := &fakeLedger{}
	e := newTestEvaluator(store, ledger)

	e.EvaluateNow(context.Background())

	if ledger.findActive("acme", "web-01", alert.TypeDeadman) == nil {
		t.Fatalf("silent host should have a deadman alert")
	}
	if ledger.findActive("acme", "web-02", alert.TypeDeadman) != nil {
		t.Fatalf("recently seen host must not have a deadman alert")
	}
}

func TestDeadmanResolvesOnContact(t *testing.T) {
	now := time.Now()
	store := &fakeStore{
		contacts: map[sample.HostKey]time.Time{
			{Group: "acme", Host: "web-01"}: now.Add(-20 * time.Second),
		},
	}
	ledger := &fakeLedger{}
	_, _ = ledger.OpenIfAbsent(context.Background(), "acme", "web-01", alert.TypeDeadman, now.Add(-20*time.Minute), now.Add(-20*time.Minute))
	e := newTestEvaluator(store, ledger)

	e.EvaluateNow(context.Background())

	if got := ledger.activeCount(alert.TypeDeadman); got != 0 {
		t.Fatalf("deadman alert should resolve after recent contact, %d active", got)
	}
}

func TestRuleErrorDoesNotBlockOthers(t *testing.T) {
	now := time.Now()
	store := &fakeStore{
		samples: map[sample.Kind][]sample.Sample{
			sample.KindMemory: {
				{
					Group:     "acme",
					Host:      "db-01",
					Kind:      sample.KindMemory,
					Timestamp: now.Add(-time.Minute),
					Fields:    map[string]any{"used_percent": 97.0},
				},
				{
					Group:     "acme",
					Host:      "db-01",
					Kind:      sample.KindMemory,
					Timestamp: now.Add(-2 * time.Minute),
					Fields:    map[string]any{"used_percent": 96.0},
				},
			},
		},
		errKinds: map[sample.Kind]error{
			sample.KindCPU: errors.New("store timeout"),
		},
	}
	ledger := &fakeLedger{}
	e := newTestEvaluator(store, ledger)

	e.EvaluateNow(context.Background())

	if got := ledger.activeCount(alert.TypeMemory); got != 1 {
		t.Fatalf("memory rule should run despite cpu failure, got %d alerts", got)
	}
}
