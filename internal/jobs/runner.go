package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/maltedev/price-tracker/internal/metrics"
	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/ratelimit"
)

// Extractor produces a normalized product from one page. Satisfied by
// extractor.Extractor.
type Extractor interface {
	Extract(ctx context.Context, url string) (*models.Product, error)
}

// Sink receives each successful extraction and returns a stable reference
// to the stored product (its identifier). Satisfied by tracker.Tracker.
type Sink interface {
	Persist(ctx context.Context, product *models.Product, metadata map[string]string) (string, error)
}

// Exporter materializes exportable output from a finished job's successful
// items and returns a reference to it (file path, object key). Optional;
// the format belongs to the caller.
type Exporter interface {
	Export(ctx context.Context, job Job) (string, error)
}

// Runner drives one job ledger through its items: strictly sequential, in
// input order, gated by its own rate governor, with per-item failure
// isolation. The runner holds a transient cursor over a ledger it does not
// own; the ledger outlives any single run.
type Runner struct {
	extractor Extractor
	sink      Sink
	governor  ratelimit.Governor
	exporter  Exporter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cancelled atomic.Bool
}

type RunnerConfig struct {
	Extractor Extractor
	Sink      Sink
	Governor  ratelimit.Governor
	Exporter  Exporter
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Governor == nil {
		cfg.Governor = ratelimit.New(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		extractor: cfg.Extractor,
		sink:      cfg.Sink,
		governor:  cfg.Governor,
		exporter:  cfg.Exporter,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With("component", "runner"),
	}
}

// Cancel requests a cooperative stop. The in-flight item is allowed to
// finish; the job transitions to cancelled before the next item starts.
func (r *Runner) Cancel() {
	r.cancelled.Store(true)
}

// Run executes the ledger from its current index to completion,
// cancellation, or a runner-fatal error. A per-item failure is recorded and
// never aborts the loop; only a ledger write failure fails the job.
func (r *Runner) Run(ctx context.Context, ledger *Ledger) error {
	job := ledger.Snapshot()

	if job.State.Terminal() {
		return fmt.Errorf("%w: %s", ErrJobTerminal, job.State)
	}

	if err := ledger.MarkRunning(ctx); err != nil {
		return r.fatal(ctx, ledger, err)
	}

	if r.metrics != nil {
		r.metrics.JobsActive.Inc()
		defer r.metrics.JobsActive.Dec()
	}

	logger := r.logger.With("job", job.ID)
	logger.Info("job running", "total", job.Total, "resume_index", job.CurrentIndex)

	for {
		job = ledger.Snapshot()
		if job.CurrentIndex >= job.Total {
			break
		}

		// Cancellation is observed at item boundaries only.
		if r.cancelled.Load() || ctx.Err() != nil {
			return r.finish(ctx, ledger, StateCancelled)
		}

		if err := r.governor.Wait(ctx); err != nil {
			return r.finish(ctx, ledger, StateCancelled)
		}

		index := job.CurrentIndex
		item := job.Items[index]

		ledger.MarkCurrent(ctx, item.URL)
		logger.Info("processing item", "index", index, "url", item.URL)

		outcome, cancelled := r.processItem(ctx, item)
		if cancelled {
			return r.finish(ctx, ledger, StateCancelled)
		}

		if err := ledger.RecordResult(ctx, index, outcome); err != nil {
			return r.fatal(ctx, ledger, err)
		}
	}

	outputRef := ""
	if r.exporter != nil {
		ref, err := r.exporter.Export(ctx, ledger.Snapshot())
		if err != nil {
			logger.Error("failed to export job output", "error", err)
		} else {
			outputRef = ref
		}
	}

	if err := ledger.MarkCompleted(ctx, outputRef); err != nil {
		return r.fatal(ctx, ledger, err)
	}

	if r.metrics != nil {
		r.metrics.JobsTotal.WithLabelValues(string(StateCompleted)).Inc()
	}

	final := ledger.Snapshot()
	logger.Info("job completed", "success", final.Success, "failure", final.Failure)
	return nil
}

// processItem extracts and persists one item, converting every error into
// a recorded failure outcome. The second return value reports that the
// extraction was torn down by context cancellation and should not be
// counted either way.
func (r *Runner) processItem(ctx context.Context, item Item) (Outcome, bool) {
	start := time.Now()

	product, err := r.extractor.Extract(ctx, item.URL)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Outcome{}, true
		}
		r.observe("failure", start)
		return Outcome{Reason: err.Error()}, false
	}

	ref, err := r.sink.Persist(ctx, product, item.Metadata)
	if err != nil {
		r.observe("failure", start)
		return Outcome{Reason: fmt.Sprintf("failed to store product: %v", err)}, false
	}

	r.observe("success", start)
	return Outcome{Success: true, ProductID: ref}, false
}

func (r *Runner) finish(ctx context.Context, ledger *Ledger, state State) error {
	// Finalizing must not be skipped because the run context is gone.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}

	var err error
	switch state {
	case StateCancelled:
		err = ledger.MarkCancelled(ctx)
	default:
		err = fmt.Errorf("unexpected final state %s", state)
	}

	if err != nil {
		return err
	}

	if r.metrics != nil {
		r.metrics.JobsTotal.WithLabelValues(string(state)).Inc()
	}

	r.logger.Info("job stopped", "job", ledger.ID(), "state", state)
	return nil
}

// fatal marks the job failed after an unrecoverable runner error. Prior
// outcomes stay recorded; the mark itself is best effort since the store
// may be the thing that is broken.
func (r *Runner) fatal(ctx context.Context, ledger *Ledger, cause error) error {
	r.logger.Error("job failed", "job", ledger.ID(), "error", cause)

	if markErr := ledger.MarkFailed(ctx, cause.Error()); markErr != nil {
		r.logger.Error("failed to persist failed state", "job", ledger.ID(), "error", markErr)
	}

	if r.metrics != nil {
		r.metrics.JobsTotal.WithLabelValues(string(StateFailed)).Inc()
	}

	return cause
}

func (r *Runner) observe(outcome string, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.ScrapesTotal.WithLabelValues(outcome).Inc()
	r.metrics.ScrapeDuration.Observe(time.Since(start).Seconds())
}
