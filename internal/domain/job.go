package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when a job state change is not allowed.
var ErrInvalidTransition = errors.New("invalid job state transition")

type JobState string

const (
	JobStateCreated             JobState = "created"
	JobStateParametersResolving JobState = "parameters_resolving"
	JobStateParametersFailed    JobState = "parameters_failed"
	JobStateParametersResolved  JobState = "parameters_resolved"
	JobStateInvoking            JobState = "invoking"
	JobStateInvokeFailed        JobState = "invoke_failed"
	JobStateCompleted           JobState = "completed"
)

var jobTransitions = map[JobState][]JobState{
	JobStateCreated:             {JobStateParametersResolving},
	JobStateParametersResolving: {JobStateParametersFailed, JobStateParametersResolved},
	JobStateParametersResolved:  {JobStateInvoking},
	JobStateInvoking:            {JobStateInvokeFailed, JobStateCompleted},
}

// Terminal reports whether no further transition is possible.
func (s JobState) Terminal() bool {
	return s == JobStateParametersFailed || s == JobStateInvokeFailed || s == JobStateCompleted
}

// ExecutionJob is the per-entity unit of work within a batch.
type ExecutionJob struct {
	ID       uuid.UUID
	BatchID  uuid.UUID
	Position int

	RootEntityID            string
	PluginConfigInterfaceID string
	PackageName             string
	EntityName              string
	BusinessKey             string

	Parameters []ExecutionJobParameter

	State JobState

	ReturnJSON   string
	ErrorCode    string
	ErrorMessage string
}

// Transition moves the job to the next state of its lifecycle.
func (j *ExecutionJob) Transition(to JobState) error {
	for _, next := range jobTransitions[j.State] {
		if next == to {
			j.State = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, to)
}

// Failed reports whether the job's error state has been set.
func (j *ExecutionJob) Failed() bool {
	return j.ErrorCode != "" && j.ErrorCode != ErrorCodeSuccessful
}

// Fail records a job-level error. The first failure wins; it is never
// cleared or overwritten within the batch.
func (j *ExecutionJob) Fail(message string) {
	if j.Failed() {
		return
	}
	j.ErrorCode = ErrorCodeFailed
	j.ErrorMessage = message
}

// RecordOutput copies the plugin's primary output onto the job unless the
// job has already failed.
func (j *ExecutionJob) RecordOutput(out Output, returnJSON string) {
	if j.Failed() {
		return
	}
	j.ReturnJSON = returnJSON
	j.ErrorCode = out.ErrorCode
	j.ErrorMessage = out.ErrorMessage
}
