// Package batch runs one plugin interface call per resource entity and
// aggregates the outcomes by business key.
//
// Each job moves through created -> parameters_resolving ->
// {parameters_failed | parameters_resolved} -> invoking ->
// {invoke_failed | completed}. Failures are terminal for the job and never
// affect sibling jobs; only faults outside any single job (storage,
// transport, cancelled context) abort the batch.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/yyri/wecube-platform/internal/domain"
)

// Store persists batch records. SaveBatch is called once before any job
// runs; CompleteBatch once after every job has finished.
type Store interface {
	SaveBatch(ctx context.Context, batch *domain.BatchExecutionJob) error
	CompleteBatch(ctx context.Context, batch *domain.BatchExecutionJob) error
}

// AnalyticsSink records completed batches as a best-effort side effect.
type AnalyticsSink interface {
	Record(ctx context.Context, batch *domain.BatchExecutionJob)
}

// MetricsSink defines the interface for recording batch metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	BatchCompleted(jobs int, duration time.Duration, err error)
	JobOutcome(state string)
	PluginCallCompleted(statusClass string, duration time.Duration)
	JobsInFlightIncr()
	JobsInFlightDecr()
}

type Service struct {
	builder   *Builder
	resolver  *Resolver
	invoker   *Invoker
	store     Store
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
	policy    domain.OutputPolicy
	workers   int
	clock     func() time.Time
	logger    *log.Logger
}

func New(store Store, resolver *Resolver, invoker *Invoker) *Service {
	return &Service{
		builder:  NewBuilder(),
		resolver: resolver,
		invoker:  invoker,
		store:    store,
		policy:   domain.FirstOutput,
		workers:  1,
		clock:    time.Now,
		logger:   log.Default().WithPrefix("batch"),
	}
}

// WithWorkers bounds how many jobs of a batch run concurrently.
// One worker processes jobs strictly in list order.
func (s *Service) WithWorkers(n int) *Service {
	if n < 1 {
		n = 1
	}
	s.workers = n
	return s
}

func (s *Service) WithAnalytics(sink AnalyticsSink) *Service {
	s.analytics = sink
	return s
}

// WithMetrics attaches a metrics sink to the service and its invoker.
func (s *Service) WithMetrics(sink MetricsSink) *Service {
	s.metrics = sink
	s.invoker.WithMetrics(sink)
	return s
}

// WithOutputPolicy replaces the primary output selection for both the
// invoker and the aggregate.
func (s *Service) WithOutputPolicy(policy domain.OutputPolicy) *Service {
	s.policy = policy
	s.invoker.WithOutputPolicy(policy)
	return s
}

func (s *Service) WithLogger(logger *log.Logger) *Service {
	s.logger = logger.WithPrefix("batch")
	s.resolver.WithLogger(logger)
	s.invoker.WithLogger(logger)
	return s
}

// Handle runs the batch and returns the primary output payload of every
// job keyed by business key. Failed jobs map to an error-shaped payload.
// A duplicate business key keeps the payload of the later job.
//
// An error means the batch could not be processed as a whole; no partial
// result is returned and the batch is left without a completion stamp.
func (s *Service) Handle(ctx context.Context, req domain.BatchRequest) (map[string]json.RawMessage, error) {
	start := time.Now()
	results, err := s.handle(ctx, req)
	if s.metrics != nil {
		s.metrics.BatchCompleted(len(req.ResourceData), time.Since(start), err)
	}
	return results, err
}

func (s *Service) handle(ctx context.Context, req domain.BatchRequest) (map[string]json.RawMessage, error) {
	batch := s.builder.Build(req)
	if err := s.store.SaveBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("save batch: %w", err)
	}
	s.logger.Info("batch created", "batch", batch.ID, "jobs", len(batch.Jobs),
		"interface", req.PluginConfigInterfaceID, "workers", s.workers)

	// Each worker owns one job and writes only its own slot.
	payloads := make([]json.RawMessage, len(batch.Jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, job := range batch.Jobs {
		i, job := i, job
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			payload, err := s.runJob(gctx, job)
			if err != nil {
				return fmt.Errorf("job %s (business key %q): %w", job.ID, job.BusinessKey, err)
			}
			payloads[i] = payload
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("batch aborted", "batch", batch.ID, "err", err)
		return nil, err
	}

	results := make(map[string]json.RawMessage, len(batch.Jobs))
	for i, job := range batch.Jobs {
		if _, ok := results[job.BusinessKey]; ok {
			s.logger.Warn("duplicate business key, later job overwrites result", "batch", batch.ID, "business_key", job.BusinessKey)
		}
		results[job.BusinessKey] = payloads[i]
	}

	if err := batch.Complete(s.clock()); err != nil {
		return nil, err
	}
	if err := s.store.CompleteBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("complete batch: %w", err)
	}
	if s.analytics != nil {
		s.analytics.Record(ctx, batch)
	}

	s.logger.Info("batch completed", "batch", batch.ID, "jobs", len(batch.Jobs), "failed", batch.FailedJobs())
	return results, nil
}

// runJob resolves and invokes one job and returns its primary payload.
func (s *Service) runJob(ctx context.Context, job *domain.ExecutionJob) (json.RawMessage, error) {
	if s.metrics != nil {
		s.metrics.JobsInFlightIncr()
		defer s.metrics.JobsInFlightDecr()
	}

	if err := s.resolver.Resolve(ctx, job); err != nil {
		return nil, err
	}

	var result domain.ResultData
	if job.State == domain.JobStateParametersFailed {
		result = domain.ErrorResult(job.ErrorMessage)
	} else {
		var err error
		if result, err = s.invoker.Invoke(ctx, job); err != nil {
			return nil, err
		}
	}

	if s.metrics != nil {
		s.metrics.JobOutcome(string(job.State))
	}

	primary, ok := s.policy(result.Outputs)
	if !ok {
		primary = domain.ErrorOutput(fmt.Sprintf("no primary output for job %s", job.ID))
	}
	return primary.Payload, nil
}
