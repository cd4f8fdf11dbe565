package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) BatchCompleted(jobs int, duration time.Duration, err error)     {}
func (n *NoopSink) JobOutcome(state string)                                        {}
func (n *NoopSink) JobsInFlightIncr()                                              {}
func (n *NoopSink) JobsInFlightDecr()                                              {}
func (n *NoopSink) PluginCallCompleted(statusClass string, duration time.Duration) {}
func (n *NoopSink) ReconcileCompleted(abandoned int, err error)                    {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                              {}
func (n *NoopSink) LeaderLost(reason string)                                       {}
