package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrBatchClosed is returned when completing a batch whose completion
// timestamp is already set.
var ErrBatchClosed = errors.New("batch already completed")

// BatchExecutionJob groups the jobs created from one batch request.
// Membership is fixed at creation; only per-job state mutates.
type BatchExecutionJob struct {
	ID   uuid.UUID
	Jobs []*ExecutionJob

	CreatedAt   time.Time
	CompletedAt *time.Time
	AbandonedAt *time.Time
}

// Closed reports whether the completion timestamp has been stamped.
func (b *BatchExecutionJob) Closed() bool {
	return b.CompletedAt != nil
}

// Complete stamps the completion timestamp. It may be called once.
func (b *BatchExecutionJob) Complete(at time.Time) error {
	if b.Closed() {
		return ErrBatchClosed
	}
	at = at.UTC()
	b.CompletedAt = &at
	return nil
}

// FailedJobs counts jobs whose error state is set.
func (b *BatchExecutionJob) FailedJobs() int {
	n := 0
	for _, job := range b.Jobs {
		if job.Failed() {
			n++
		}
	}
	return n
}

// ResourceData identifies one entity instance the batch operates on.
type ResourceData struct {
	ID               string
	BusinessKeyValue any
}

// InputParameterDefinition pairs a declared interface parameter with the
// raw value the caller supplied for it.
type InputParameterDefinition struct {
	InputParameter      InterfaceParameter
	InputParameterValue any
}

// BatchRequest asks for one invocation of the same plugin interface per
// resource entity.
type BatchRequest struct {
	PluginConfigInterfaceID   string
	PackageName               string
	EntityName                string
	ResourceData              []ResourceData
	InputParameterDefinitions []InputParameterDefinition
}
