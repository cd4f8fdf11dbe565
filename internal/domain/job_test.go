package domain

import (
	"errors"
	"testing"
)

func TestJobState_Values(t *testing.T) {
	tests := []struct {
		state JobState
		want  string
	}{
		{JobStateCreated, "created"},
		{JobStateParametersResolving, "parameters_resolving"},
		{JobStateParametersFailed, "parameters_failed"},
		{JobStateParametersResolved, "parameters_resolved"},
		{JobStateInvoking, "invoking"},
		{JobStateInvokeFailed, "invoke_failed"},
		{JobStateCompleted, "completed"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if string(tt.state) != tt.want {
				t.Errorf("JobState = %q, want %q", tt.state, tt.want)
			}
		})
	}
}

func TestTransition_HappyPath(t *testing.T) {
	job := &ExecutionJob{State: JobStateCreated}
	path := []JobState{
		JobStateParametersResolving,
		JobStateParametersResolved,
		JobStateInvoking,
		JobStateCompleted,
	}
	for _, next := range path {
		if err := job.Transition(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	if !job.State.Terminal() {
		t.Error("completed should be terminal")
	}
}

func TestTransition_Denied(t *testing.T) {
	tests := []struct {
		name string
		from JobState
		to   JobState
	}{
		{"skip resolution", JobStateCreated, JobStateInvoking},
		{"invoke after parameter failure", JobStateParametersFailed, JobStateInvoking},
		{"retry after invoke failure", JobStateInvokeFailed, JobStateInvoking},
		{"reopen completed", JobStateCompleted, JobStateCreated},
		{"resolve twice", JobStateParametersResolved, JobStateParametersResolving},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &ExecutionJob{State: tt.from}
			err := job.Transition(tt.to)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
			if job.State != tt.from {
				t.Errorf("state changed to %s on denied transition", job.State)
			}
		})
	}
}

func TestFail_FirstFailureWins(t *testing.T) {
	job := &ExecutionJob{}
	job.Fail("first")
	job.Fail("second")

	if job.ErrorCode != ErrorCodeFailed {
		t.Errorf("ErrorCode = %q, want %q", job.ErrorCode, ErrorCodeFailed)
	}
	if job.ErrorMessage != "first" {
		t.Errorf("ErrorMessage = %q, want first", job.ErrorMessage)
	}
}

func TestRecordOutput_IgnoredAfterFailure(t *testing.T) {
	job := &ExecutionJob{}
	job.Fail("boom")
	job.RecordOutput(Output{ErrorCode: ErrorCodeSuccessful}, `{"ok":true}`)

	if !job.Failed() {
		t.Fatal("failure must not be cleared by a later output")
	}
	if job.ReturnJSON != "" {
		t.Errorf("ReturnJSON = %q, want empty", job.ReturnJSON)
	}
}

func TestRecordOutput_Success(t *testing.T) {
	job := &ExecutionJob{}
	job.RecordOutput(Output{ErrorCode: "0", ErrorMessage: ""}, `{"results":{}}`)

	if job.Failed() {
		t.Error("job should not be failed")
	}
	if job.ErrorCode != "0" || job.ErrorMessage != "" {
		t.Errorf("got code=%q message=%q", job.ErrorCode, job.ErrorMessage)
	}
	if job.ReturnJSON != `{"results":{}}` {
		t.Errorf("ReturnJSON = %q", job.ReturnJSON)
	}
}
