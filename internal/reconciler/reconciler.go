// Package reconciler marks stale batches as abandoned.
//
// A batch is stale when it was persisted but its completion timestamp was
// never stamped (process crash, or an infrastructure fault that aborted the
// run). The reconciler sweeps on a cron schedule and stamps such batches
// with an abandoned timestamp so they stop looking in flight. A batch that
// completes after being abandoned still records its completion.
package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/yyri/wecube-platform/internal/cron"
	"github.com/yyri/wecube-platform/internal/domain"
)

// Store fetches stale batches and marks them abandoned.
type Store interface {
	GetIncompleteBatches(ctx context.Context, olderThan time.Time, limit int) ([]domain.BatchExecutionJob, error)
	MarkBatchAbandoned(ctx context.Context, id uuid.UUID, at time.Time) error
}

// MetricsSink records reconciliation cycles.
type MetricsSink interface {
	ReconcileCompleted(abandoned int, err error)
}

// Config holds reconciler configuration.
type Config struct {
	// Schedule decides when sweeps run.
	Schedule cron.Schedule

	// Threshold is the age after which an open batch is considered stale.
	// Default: 1 hour.
	Threshold time.Duration

	// BatchSize is the maximum number of batches to mark per cycle.
	// Default: 100.
	BatchSize int
}

// Reconciler detects stale batches and marks them abandoned.
type Reconciler struct {
	config  Config
	store   Store
	metrics MetricsSink
	logger  *log.Logger
	clock   func() time.Time
}

// New creates a new Reconciler.
func New(config Config, store Store) *Reconciler {
	if config.Threshold <= 0 {
		config.Threshold = time.Hour
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &Reconciler{
		config: config,
		store:  store,
		logger: log.Default().WithPrefix("reconciler"),
		clock:  time.Now,
	}
}

// WithMetrics attaches a metrics sink. Pass nil to disable.
func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// WithLogger replaces the component logger.
func (r *Reconciler) WithLogger(logger *log.Logger) *Reconciler {
	r.logger = logger.WithPrefix("reconciler")
	return r
}

// Run sweeps at every schedule activation. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("started", "threshold", r.config.Threshold, "batch_size", r.config.BatchSize)

	for {
		now := r.clock()
		next := r.config.Schedule.Next(now)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("stopped")
			return
		case <-timer.C:
			_, _ = r.RunOnce(ctx)
		}
	}
}

// RunOnce executes one sweep and returns the number of batches marked.
// A batch that closed between listing and marking is skipped silently.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	now := r.clock().UTC()
	olderThan := now.Add(-r.config.Threshold)

	stale, err := r.store.GetIncompleteBatches(ctx, olderThan, r.config.BatchSize)
	if err != nil {
		r.logger.Error("failed to fetch stale batches", "err", err)
		r.record(0, err)
		return 0, err
	}

	abandoned := 0
	var cycleErr error
	for _, b := range stale {
		if ctx.Err() != nil {
			r.logger.Warn("cycle interrupted", "processed", abandoned, "found", len(stale))
			cycleErr = ctx.Err()
			break
		}

		err := r.store.MarkBatchAbandoned(ctx, b.ID, now)
		if errors.Is(err, domain.ErrBatchClosed) {
			continue
		}
		if err != nil {
			r.logger.Error("failed to mark batch abandoned", "batch_id", b.ID, "err", err)
			cycleErr = err
			continue
		}

		r.logger.Warn("batch abandoned", "batch_id", b.ID, "age", now.Sub(b.CreatedAt).Round(time.Second))
		abandoned++
	}

	if len(stale) > 0 {
		r.logger.Info("cycle complete", "found", len(stale), "abandoned", abandoned)
	}
	r.record(abandoned, cycleErr)
	return abandoned, cycleErr
}

func (r *Reconciler) record(abandoned int, err error) {
	if r.metrics != nil {
		r.metrics.ReconcileCompleted(abandoned, err)
	}
}
