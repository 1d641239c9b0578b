// Package jobs holds the durable batch-job ledger and the runner that
// drives it. The persisted snapshot is the single source of truth for a
// job: in-memory counters are a cache rebuilt from it on resume, and status
// readers always consume the last-persisted snapshot rather than sharing a
// lock with the running writer.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions are possible. Counters
// are frozen once a job is terminal.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

var (
	// ErrLedgerIO marks a persistence failure. It is fatal to the job: the
	// engine can no longer guarantee it is tracking progress correctly.
	ErrLedgerIO = errors.New("ledger write failed")

	ErrJobTerminal = errors.New("job is in a terminal state")
	ErrNotFound    = errors.New("job not found")
)

// Item is one unit of batch input: a URL plus optional caller metadata.
type Item struct {
	URL      string            `json:"url"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Outcome records the result of processing one item. Exactly one of
// ProductID (success) or Reason (failure) is meaningful.
type Outcome struct {
	Success   bool   `json:"success"`
	ProductID string `json:"product_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ItemError is one error-log entry: the failed item and why.
type ItemError struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// Job is the serializable ledger state for one batch run.
type Job struct {
	ID           string        `json:"id"`
	Items        []Item        `json:"items"`
	Outcomes     []*Outcome    `json:"outcomes"`
	State        State         `json:"state"`
	Total        int           `json:"total"`
	Success      int           `json:"success"`
	Failure      int           `json:"failure"`
	CurrentIndex int           `json:"current_index"`
	CurrentURL   string        `json:"current_url,omitempty"`
	ErrorLog     []ItemError   `json:"error_log,omitempty"`
	UseBrowser   bool          `json:"use_browser,omitempty"`
	Delay        time.Duration `json:"delay,omitempty"`
	OutputRef    string        `json:"output_ref,omitempty"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// Store persists ledger snapshots keyed by job identifier. The storage
// format belongs to the implementation; the engine only requires that Load
// reconstructs exactly what Save wrote.
type Store interface {
	Save(ctx context.Context, job *Job) error
	Load(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context) ([]*Job, error)
}

// Ledger is the single writer for one job's durable record. Every mutating
// call persists the updated snapshot before returning, so a crash between
// two items loses at most the in-flight item.
type Ledger struct {
	mu     sync.Mutex
	job    *Job
	store  Store
	logger *slog.Logger
}

// Options carries per-job execution configuration recorded on the ledger.
type Options struct {
	UseBrowser bool
	Delay      time.Duration
}

// Create builds a new queued job for the given items and persists its first
// snapshot.
func Create(ctx context.Context, store Store, items []Item, opts Options, logger *slog.Logger) (*Ledger, error) {
	job := &Job{
		ID:         uuid.New().String(),
		Items:      items,
		Outcomes:   make([]*Outcome, len(items)),
		State:      StateQueued,
		Total:      len(items),
		UseBrowser: opts.UseBrowser,
		Delay:      opts.Delay,
		CreatedAt:  time.Now(),
	}

	l := &Ledger{job: job, store: store, logger: logger.With("component", "ledger", "job", job.ID)}

	if err := l.persist(ctx); err != nil {
		return nil, err
	}

	l.logger.Info("job created", "items", job.Total)
	return l, nil
}

// Load reconstructs a ledger from the last persisted snapshot so a new
// runner can resume from the recorded current index.
func Load(ctx context.Context, store Store, id string, logger *slog.Logger) (*Ledger, error) {
	job, err := store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	if job.Outcomes == nil {
		job.Outcomes = make([]*Outcome, len(job.Items))
	}

	return &Ledger{job: job, store: store, logger: logger.With("component", "ledger", "job", job.ID)}, nil
}

// Snapshot returns a deep copy of the current job state, safe to read while
// the runner keeps mutating the ledger.
func (l *Ledger) Snapshot() Job {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *snapshot(l.job)
}

// ID returns the job identifier.
func (l *Ledger) ID() string {
	return l.job.ID
}

// MarkRunning transitions queued → running and stamps the start time. A
// ledger resumed while already running is left untouched.
func (l *Ledger) MarkRunning(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.job.State.Terminal() {
		return fmt.Errorf("%w: %s", ErrJobTerminal, l.job.State)
	}

	if l.job.State == StateQueued {
		now := time.Now()
		l.job.State = StateRunning
		l.job.StartedAt = &now
	}

	return l.persist(ctx)
}

// RecordResult is the sole mutator during execution. It stores the outcome
// for item index, bumps the matching counter, advances the current index
// and appends to the error log on failure, then durably persists before
// returning.
func (l *Ledger) RecordResult(ctx context.Context, index int, outcome Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.job.State.Terminal() {
		return fmt.Errorf("%w: %s", ErrJobTerminal, l.job.State)
	}

	if index != l.job.CurrentIndex {
		return fmt.Errorf("out-of-order result: index %d, current %d", index, l.job.CurrentIndex)
	}

	if index < 0 || index >= l.job.Total {
		return fmt.Errorf("result index %d out of range [0,%d)", index, l.job.Total)
	}

	o := outcome
	l.job.Outcomes[index] = &o

	if outcome.Success {
		l.job.Success++
	} else {
		l.job.Failure++
		l.job.ErrorLog = append(l.job.ErrorLog, ItemError{
			URL:    l.job.Items[index].URL,
			Reason: outcome.Reason,
		})
	}

	l.job.CurrentIndex = index + 1
	l.job.CurrentURL = ""

	return l.persist(ctx)
}

// MarkCurrent records which item is in flight. Purely informational for
// status readers; failures to persist it are not fatal.
func (l *Ledger) MarkCurrent(ctx context.Context, url string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.job.CurrentURL = url
	if err := l.persist(ctx); err != nil {
		l.logger.Warn("failed to persist current item marker", "error", err)
	}
}

// MarkCancelled finalizes the job after a cooperative stop. Items already
// recorded keep their outcomes; remaining items stay unprocessed.
func (l *Ledger) MarkCancelled(ctx context.Context) error {
	return l.finalize(ctx, StateCancelled, "", "")
}

// MarkCompleted finalizes a fully processed job and records where the
// exportable output lives.
func (l *Ledger) MarkCompleted(ctx context.Context, outputRef string) error {
	return l.finalize(ctx, StateCompleted, outputRef, "")
}

// MarkFailed finalizes the job after a runner-fatal error, preserving all
// prior recorded outcomes.
func (l *Ledger) MarkFailed(ctx context.Context, reason string) error {
	return l.finalize(ctx, StateFailed, "", reason)
}

func (l *Ledger) finalize(ctx context.Context, state State, outputRef, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.job.State.Terminal() {
		return fmt.Errorf("%w: %s", ErrJobTerminal, l.job.State)
	}

	now := time.Now()
	l.job.State = state
	l.job.CompletedAt = &now
	l.job.CurrentURL = ""
	if outputRef != "" {
		l.job.OutputRef = outputRef
	}
	if reason != "" {
		l.job.Error = reason
	}

	if err := l.persist(ctx); err != nil {
		return err
	}

	l.logger.Info("job finalized", "state", state, "success", l.job.Success, "failure", l.job.Failure)
	return nil
}

func (l *Ledger) persist(ctx context.Context) error {
	if err := l.store.Save(ctx, snapshot(l.job)); err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerIO, err)
	}
	return nil
}

// snapshot deep-copies a job so stores and readers never alias the
// writer's slices.
func snapshot(job *Job) *Job {
	cp := *job

	cp.Items = make([]Item, len(job.Items))
	copy(cp.Items, job.Items)

	cp.Outcomes = make([]*Outcome, len(job.Outcomes))
	for i, o := range job.Outcomes {
		if o != nil {
			oc := *o
			cp.Outcomes[i] = &oc
		}
	}

	cp.ErrorLog = make([]ItemError, len(job.ErrorLog))
	copy(cp.ErrorLog, job.ErrorLog)

	return &cp
}
