package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/price-tracker/internal/metrics"
	"github.com/maltedev/price-tracker/internal/ratelimit"
)

// ExtractorFactory builds the extractor for one job, honoring its fetch
// configuration (plain HTTP vs. browser-rendered).
type ExtractorFactory func(useBrowser bool) (Extractor, error)

// Manager owns job submission and execution. Jobs run concurrently with
// respect to each other, each on its own goroutine with its own rate
// governor and ledger; items within a job stay strictly sequential.
type Manager struct {
	store        Store
	sink         Sink
	exporter     Exporter
	factory      ExtractorFactory
	metrics      *metrics.Metrics
	defaultDelay time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	active map[string]*Runner
	wg     sync.WaitGroup

	baseCtx context.Context
	stop    context.CancelFunc
}

type ManagerConfig struct {
	Store        Store
	Sink         Sink
	Exporter     Exporter
	Factory      ExtractorFactory
	Metrics      *metrics.Metrics
	DefaultDelay time.Duration
	Logger       *slog.Logger
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		store:        cfg.Store,
		sink:         cfg.Sink,
		exporter:     cfg.Exporter,
		factory:      cfg.Factory,
		metrics:      cfg.Metrics,
		defaultDelay: cfg.DefaultDelay,
		logger:       cfg.Logger.With("component", "job_manager"),
		active:       make(map[string]*Runner),
		baseCtx:      ctx,
		stop:         cancel,
	}
}

// Submit creates a new job ledger and starts executing it in the
// background. The returned snapshot reflects the queued state.
func (m *Manager) Submit(ctx context.Context, items []Item, opts Options) (Job, error) {
	if len(items) == 0 {
		return Job{}, fmt.Errorf("job needs at least one item")
	}

	if opts.Delay == 0 {
		opts.Delay = m.defaultDelay
	}

	ledger, err := Create(ctx, m.store, items, opts, m.logger)
	if err != nil {
		return Job{}, err
	}

	snap := ledger.Snapshot()
	m.launch(ledger)
	return snap, nil
}

// Resume loads a persisted ledger and continues it from its recorded
// current index. Jobs already terminal or already executing are left
// alone.
func (m *Manager) Resume(ctx context.Context, id string) error {
	m.mu.Lock()
	_, running := m.active[id]
	m.mu.Unlock()
	if running {
		return nil
	}

	ledger, err := Load(ctx, m.store, id, m.logger)
	if err != nil {
		return err
	}

	if ledger.Snapshot().State.Terminal() {
		return fmt.Errorf("%w: %s", ErrJobTerminal, ledger.Snapshot().State)
	}

	m.launch(ledger)
	return nil
}

func (m *Manager) launch(ledger *Ledger) {
	job := ledger.Snapshot()

	extractor, err := m.factory(job.UseBrowser)
	if err != nil {
		m.logger.Error("failed to build extractor", "job", job.ID, "error", err)
		if markErr := ledger.MarkFailed(m.baseCtx, err.Error()); markErr != nil {
			m.logger.Error("failed to persist failed state", "job", job.ID, "error", markErr)
		}
		return
	}

	runner := NewRunner(RunnerConfig{
		Extractor: extractor,
		Sink:      m.sink,
		Governor:  ratelimit.New(job.Delay),
		Exporter:  m.exporter,
		Metrics:   m.metrics,
		Logger:    m.logger,
	})

	m.mu.Lock()
	m.active[job.ID] = runner
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.active, job.ID)
			m.mu.Unlock()
		}()

		if err := runner.Run(m.baseCtx, ledger); err != nil {
			m.logger.Error("job run ended with error", "job", job.ID, "error", err)
		}
	}()
}

// Cancel requests a cooperative stop. An executing job stops before its
// next item; a non-executing, non-terminal job (e.g. left over from a
// previous process) is finalized directly in the store.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	runner, running := m.active[id]
	m.mu.Unlock()

	if running {
		runner.Cancel()
		return nil
	}

	ledger, err := Load(ctx, m.store, id, m.logger)
	if err != nil {
		return err
	}

	return ledger.MarkCancelled(ctx)
}

// Get returns the last persisted snapshot for a job. Status readers never
// share a lock with the running writer.
func (m *Manager) Get(ctx context.Context, id string) (*Job, error) {
	return m.store.Load(ctx, id)
}

// List returns the persisted snapshots of all known jobs.
func (m *Manager) List(ctx context.Context) ([]*Job, error) {
	return m.store.List(ctx)
}

// Shutdown cancels the run context shared by all active jobs and waits for
// their runners to finalize.
func (m *Manager) Shutdown() {
	m.stop()
	m.wg.Wait()
}
