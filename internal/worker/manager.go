package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Worker is one long-running background loop.
type Worker interface {
	Run(ctx context.Context) error
}

// Factory builds a fresh worker instance for each (re)start.
type Factory func() Worker

type entry struct {
	name    string
	factory Factory
}

// Manager supervises a set of named workers, restarting any that exits
// with an error after a backoff. A worker that returns nil or
// context.Canceled is done.
type Manager struct {
	backoff     time.Duration
	logger      *zap.Logger
	entries     []entry
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	startedOnce sync.Once
}

func NewManager(backoff time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		backoff: backoff,
		logger:  logger,
	}
}

// Register adds a worker. Must be called before Start.
func (m *Manager) Register(name string, f Factory) {
	if name == "" || f == nil {
		return
	}
	m.entries = append(m.entries, entry{name: name, factory: f})
}

func (m *Manager) Start(parent context.Context) {
	m.startedOnce.Do(func() {
		m.ctx, m.cancel = context.WithCancel(parent)
		for _, e := range m.entries {
			e := e
			m.wg.Add(1)
			go m.runOne(e)
		}
	})
}

func (m *Manager) runOne(e entry) {
	defer m.wg.Done()

	for {
		w := e.factory()
		err := w.Run(m.ctx)

		if err == nil || errors.Is(err, context.Canceled) {
			return
		}

		m.logger.Warn("worker stopped with error; restarting",
			zap.String("worker", e.name),
			zap.Error(err))

		select {
		case <-time.After(m.backoff):
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
