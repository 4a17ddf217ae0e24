package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fleetmon/fleetmon/internal/alert"
	"github.com/fleetmon/fleetmon/internal/metrics"
	"github.com/fleetmon/fleetmon/internal/sample"
)

// Evaluator runs the detection rules on a fixed cadence and reconciles
// the alert ledger. One rule failing, or one store call timing out,
// skips that rule for the tick and never blocks the others; the next
// tick re-derives everything from the stores.
type Evaluator struct {
	store   sample.Store
	ledger  alert.Ledger
	rules   []Rule
	deadman Deadman
	tick    time.Duration
	timeout time.Duration
	logger  *zap.Logger

	// evalMu guarantees at most one evaluation in flight even when the
	// cron schedule and a manual EvaluateNow overlap.
	evalMu sync.Mutex
}

func NewEvaluator(store sample.Store, ledger alert.Ledger, ruleSet []Rule, deadman Deadman, tick, storeTimeout time.Duration, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		store:   store,
		ledger:  ledger,
		rules:   ruleSet,
		deadman: deadman,
		tick:    tick,
		timeout: storeTimeout,
		logger:  logger,
	}
}

// Run evaluates once at startup, then on every tick until the context
// is cancelled. Overlapping ticks are skipped, not queued.
func (e *Evaluator) Run(ctx context.Context) error {
	cl := cronLogger{logger: e.logger}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)))

	if _, err := c.AddFunc(fmt.Sprintf("@every %s", e.tick), func() {
		e.EvaluateNow(ctx)
	}); err != nil {
		return fmt.Errorf("evaluator: schedule: %w", err)
	}

	e.EvaluateNow(ctx)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// EvaluateNow runs one full evaluation pass over all rules.
func (e *Evaluator) EvaluateNow(ctx context.Context) {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()

	start := time.Now()
	now := start.UTC()

	for _, r := range e.rules {
		if ctx.Err() != nil {
			return
		}
		if err := e.evaluateRule(ctx, now, r); err != nil {
			metrics.RuleErrors.WithLabelValues(string(r.Type)).Inc()
			e.logger.Warn("rule evaluation failed; skipping until next tick",
				zap.String("type", string(r.Type)),
				zap.Error(err))
		}
	}

	if ctx.Err() == nil {
		if err := e.evaluateDeadman(ctx, now); err != nil {
			metrics.RuleErrors.WithLabelValues(string(alert.TypeDeadman)).Inc()
			e.logger.Warn("deadman evaluation failed; skipping until next tick",
				zap.Error(err))
		}
	}

	metrics.EvaluatorTicks.Inc()
	metrics.EvaluatorTickDuration.Observe(time.Since(start).Seconds())
}

func (e *Evaluator) evaluateRule(ctx context.Context, now time.Time, r Rule) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.openPass(ctx, now, r); err != nil {
		return fmt.Errorf("open pass: %w", err)
	}
	if err := e.resolvePass(ctx, now, r); err != nil {
		return fmt.Errorf("resolve pass: %w", err)
	}
	return nil
}

func (e *Evaluator) openPass(ctx context.Context, now time.Time, r Rule) error {
	grouped, err := e.store.QueryRecent(ctx, r.Kind, r.Window)
	if err != nil {
		return err
	}

	for key, ss := range grouped {
		count := 0
		var lastSeen time.Time
		for i := range ss {
			if !r.Qualifies(&ss[i]) {
				continue
			}
			count++
			if ss[i].Timestamp.After(lastSeen) {
				lastSeen = ss[i].Timestamp
			}
		}
		if count < r.MinOccurrences {
			continue
		}

		inserted, err := e.ledger.OpenIfAbsent(ctx, key.Group, key.Host, r.Type, now, lastSeen)
		if err != nil {
			return err
		}
		if inserted {
			metrics.AlertsOpened.WithLabelValues(string(r.Type)).Inc()
			e.logger.Info("alert opened",
				zap.String("type", string(r.Type)),
				zap.String("group", key.Group),
				zap.String("host", key.Host),
				zap.Int("occurrences", count))
			continue
		}
		// Already active: firstDetectedAt must not move, only last_seen.
		if err := e.ledger.TouchLastSeen(ctx, key.Group, key.Host, r.Type, lastSeen); err != nil {
			return err
		}
	}
	return nil
}

func (e *Evaluator) resolvePass(ctx context.Context, now time.Time, r Rule) error {
	active, err := e.ledger.ListActiveByType(ctx, r.Type)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return nil
	}

	grouped, err := e.store.QueryRecent(ctx, r.Kind, r.ResolveWindow)
	if err != nil {
		return err
	}

	for _, a := range active {
		if !r.Healthy(grouped[sample.HostKey{Group: a.Group, Host: a.Host}]) {
			continue
		}
		n, err := e.ledger.Resolve(ctx, a.Group, a.Host, r.Type, now)
		if err != nil {
			return err
		}
		if n > 0 {
			metrics.AlertsResolved.WithLabelValues(string(r.Type)).Add(float64(n))
			e.logger.Info("alert resolved",
				zap.String("type", string(r.Type)),
				zap.String("group", a.Group),
				zap.String("host", a.Host))
		}
	}
	return nil
}

// evaluateDeadman fires on absence of cpu telemetry. Candidates are the
// devices that reported cpu within the horizon; a device outside the
// horizon has aged out entirely and is no longer expected.
func (e *Evaluator) evaluateDeadman(ctx context.Context, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	contacts, err := e.store.LastContact(ctx, sample.KindCPU, e.deadman.Horizon)
	if err != nil {
		return err
	}

	for key, last := range contacts {
		if now.Sub(last) <= e.deadman.Window {
			continue
		}
		inserted, err := e.ledger.OpenIfAbsent(ctx, key.Group, key.Host, alert.TypeDeadman, now, last)
		if err != nil {
			return err
		}
		if inserted {
			metrics.AlertsOpened.WithLabelValues(string(alert.TypeDeadman)).Inc()
			e.logger.Info("alert opened",
				zap.String("type", string(alert.TypeDeadman)),
				zap.String("group", key.Group),
				zap.String("host", key.Host),
				zap.Time("last_contact", last))
		}
	}

	active, err := e.ledger.ListActiveByType(ctx, alert.TypeDeadman)
	if err != nil {
		return err
	}
	for _, a := range active {
		last, ok := contacts[sample.HostKey{Group: a.Group, Host: a.Host}]
		if !ok || now.Sub(last) > e.deadman.ResolveWindow {
			continue
		}
		n, err := e.ledger.Resolve(ctx, a.Group, a.Host, alert.TypeDeadman, now)
		if err != nil {
			return err
		}
		if n > 0 {
			metrics.AlertsResolved.WithLabelValues(string(alert.TypeDeadman)).Add(float64(n))
			e.logger.Info("alert resolved",
				zap.String("type", string(alert.TypeDeadman)),
				zap.String("group", a.Group),
				zap.String("host", a.Host))
		}
	}
	return nil
}

// cronLogger adapts zap to the cron.Logger contract.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
