// Package analytics keeps time-bucketed job outcome counters in Redis.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"github.com/yyri/wecube-platform/internal/domain"
)

// Outcome labels for counters.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

type RedisSink struct {
	client *redis.Client
	config domain.AnalyticsConfig
	logger *log.Logger
}

func NewRedisSink(client *redis.Client, config domain.AnalyticsConfig) *RedisSink {
	return &RedisSink{
		client: client,
		config: config,
		logger: log.Default().WithPrefix("analytics"),
	}
}

func (s *RedisSink) WithLogger(logger *log.Logger) *RedisSink {
	s.logger = logger.WithPrefix("analytics")
	return s
}

// Record counts the outcome of every job of a completed batch. Failures are
// logged and never returned.
func (s *RedisSink) Record(ctx context.Context, batch *domain.BatchExecutionJob) {
	if err := s.Write(ctx, batch); err != nil {
		s.logger.Warn("failed to record batch analytics", "batch", batch.ID, "err", err)
	}
}

// Write increments one counter per job keyed by package, interface, outcome
// and time bucket.
func (s *RedisSink) Write(ctx context.Context, batch *domain.BatchExecutionJob) error {
	if !s.config.Enabled || len(batch.Jobs) == 0 {
		return nil
	}

	at := batch.CreatedAt
	if batch.CompletedAt != nil {
		at = *batch.CompletedAt
	}

	pipe := s.client.Pipeline()
	for _, job := range batch.Jobs {
		outcome := OutcomeSucceeded
		if job.Failed() {
			outcome = OutcomeFailed
		}
		key := buildKey(job.PackageName, job.PluginConfigInterfaceID, outcome, at, s.config.Window)
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, s.config.Retention)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Count returns the counter for one package, interface and outcome in the
// bucket containing at.
func (s *RedisSink) Count(ctx context.Context, packageName, interfaceID, outcome string, at time.Time) (int64, error) {
	n, err := s.client.Get(ctx, buildKey(packageName, interfaceID, outcome, at, s.config.Window)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func buildKey(packageName, interfaceID, outcome string, t time.Time, window time.Duration) string {
	bucket := truncateToBucket(t, window)
	return fmt.Sprintf("pkg:%s:if:%s:%s:%s", packageName, interfaceID, outcome, bucket)
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
