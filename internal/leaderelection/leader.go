// Package leaderelection provides Postgres advisory lock-based leader election.
//
// A single session-scoped advisory lock decides which instance runs the
// reconciler. The lock is held for the lifetime of a dedicated connection;
// there is no renewal or TTL. If the connection dies, Postgres releases the
// lock server-side.
//
// The heartbeat ping only detects local connection death so the leader can
// stop its duties promptly. It does NOT renew the lock.
package leaderelection

import (
	"context"
	"database/sql"
	"time"

	"github.com/charmbracelet/log"
)

// Reasons passed to MetricsSink.LeaderLost.
const (
	ReasonShutdown = "shutdown"
	ReasonConnLost = "conn_lost"
)

// MetricsSink records leader election metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderLost(reason string)
}

// Elector manages leader election using a Postgres advisory lock.
type Elector struct {
	db                *sql.DB
	lockKey           int64
	retryInterval     time.Duration // follower: how often to attempt acquisition
	heartbeatInterval time.Duration // leader: how often to ping the dedicated connection
	onElected         func(ctx context.Context)
	onDemoted         func()
	metrics           MetricsSink
	logger            *log.Logger
}

// New creates an Elector.
//
// onElected runs in a new goroutine when this instance acquires the lock;
// its context is cancelled when leadership is lost.
//
// onDemoted is called synchronously after leadership is lost and must block
// until leader duties have stopped. It must be idempotent.
func New(
	db *sql.DB,
	lockKey int64,
	retryInterval, heartbeatInterval time.Duration,
	onElected func(ctx context.Context),
	onDemoted func(),
) *Elector {
	return &Elector{
		db:                db,
		lockKey:           lockKey,
		retryInterval:     retryInterval,
		heartbeatInterval: heartbeatInterval,
		onElected:         onElected,
		onDemoted:         onDemoted,
		logger:            log.Default(),
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// WithLogger sets the logger used by the elector.
func (e *Elector) WithLogger(logger *log.Logger) *Elector {
	e.logger = logger.WithPrefix("leader")
	return e
}

// Run contends for the lock until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	e.logger.Info("starting election loop",
		"lock_key", e.lockKey, "retry", e.retryInterval, "heartbeat", e.heartbeatInterval)

	for {
		reason := e.runOnce(ctx)
		if ctx.Err() != nil {
			e.logger.Info("election loop stopped")
			return
		}
		if reason != "" {
			e.logger.Warn("lost leadership", "reason", reason, "retry_in", e.retryInterval)
		}

		select {
		case <-ctx.Done():
			e.logger.Info("election loop stopped")
			return
		case <-time.After(e.retryInterval):
		}
	}
}

// runOnce attempts to acquire the lock and hold it.
// Returns the reason leadership was lost, or "" if the lock was not acquired.
func (e *Elector) runOnce(ctx context.Context) string {
	// Session-scoped lock: must use a dedicated connection.
	conn, err := e.db.Conn(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("failed to acquire dedicated connection", "err", err)
		}
		return ""
	}
	defer conn.Close()

	acquired, err := tryLock(ctx, conn, e.lockKey)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("advisory lock query failed", "err", err)
		}
		return ""
	}
	if !acquired {
		e.logger.Debug("lock held by another instance", "lock_key", e.lockKey)
		return ""
	}

	e.logger.Info("acquired advisory lock", "lock_key", e.lockKey)
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)
	go e.onElected(leaderCtx)

	reason := e.holdLock(ctx, conn)

	cancelLeader()
	e.onDemoted()

	if reason == ReasonShutdown {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		if _, err := conn.ExecContext(unlockCtx, "SELECT pg_advisory_unlock($1)", e.lockKey); err != nil {
			e.logger.Warn("failed to release advisory lock", "err", err)
		}
		cancel()
	}

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}

	e.logger.Info("released advisory lock", "lock_key", e.lockKey, "reason", reason)
	return reason
}

func tryLock(ctx context.Context, conn *sql.Conn, key int64) (bool, error) {
	var acquired bool
	err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired)
	return acquired, err
}

// holdLock blocks while pinging the dedicated connection.
func (e *Elector) holdLock(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return ReasonShutdown
				}
				e.logger.Error("dedicated connection ping failed", "err", err)
				return ReasonConnLost
			}
		}
	}
}
