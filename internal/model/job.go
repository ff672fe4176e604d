package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobType classifies what a job row does when a worker picks it up.
type JobType string

const (
	JobTypePlan    JobType = "plan"    // expands a recipe step into child jobs
	JobTypeExecute JobType = "execute" // runs a generation call against a model
	JobTypeRender  JobType = "render"  // materializes a final document from contributions
)

func (t JobType) Valid() bool {
	switch t {
	case JobTypePlan, JobTypeExecute, JobTypeRender:
		return true
	}
	return false
}

// JobStatus is the shared status lifecycle for all job rows.
type JobStatus string

const (
	JobStatusPending                JobStatus = "pending"
	JobStatusProcessing             JobStatus = "processing"
	JobStatusRetrying               JobStatus = "retrying"
	JobStatusWaitingForChildren     JobStatus = "waiting_for_children"
	JobStatusWaitingForPrerequisite JobStatus = "waiting_for_prerequisite"
	JobStatusCompleted              JobStatus = "completed"
	JobStatusFailed                 JobStatus = "failed"
)

// InProgressStatuses is the closed set of statuses a blocker candidate may
// hold. Completed and failed jobs never block anything.
var InProgressStatuses = []JobStatus{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusRetrying,
	JobStatusWaitingForChildren,
	JobStatusWaitingForPrerequisite,
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusRetrying,
		JobStatusWaitingForChildren, JobStatusWaitingForPrerequisite,
		JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// InProgress reports whether a job in this status may still produce its
// artifact.
func (s JobStatus) InProgress() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusRetrying,
		JobStatusWaitingForChildren, JobStatusWaitingForPrerequisite:
		return true
	}
	return false
}

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo enforces the job state machine. Workers only ever move
// jobs along these edges; anything else indicates a scheduling bug.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusWaitingForPrerequisite || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed ||
			next == JobStatusRetrying || next == JobStatusWaitingForChildren ||
			next == JobStatusWaitingForPrerequisite
	case JobStatusRetrying:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusWaitingForChildren:
		return next == JobStatusCompleted || next == JobStatusFailed
	case JobStatusWaitingForPrerequisite:
		return next == JobStatusPending || next == JobStatusProcessing || next == JobStatusFailed
	}
	return false
}

// Job is a persisted job row. Payload holds the raw JSONB column; the typed
// form lives in DecodedPayload and is populated exactly once at the store
// boundary via DecodePayload.
type Job struct {
	ID                   int64           `json:"id"`
	ParentJobID          *int64          `json:"parent_job_id,omitempty"`
	PrerequisiteJobID    *int64          `json:"prerequisite_job_id,omitempty"`
	SessionID            int64           `json:"session_id"`
	StageSlug            string          `json:"stage_slug"`
	IterationNumber      int             `json:"iteration_number"`
	JobType              JobType         `json:"job_type"`
	Status               JobStatus       `json:"status"`
	Payload              json.RawMessage `json:"payload"`
	DecodedPayload       Payload         `json:"-"`
	AttemptCount         int             `json:"attempt_count"`
	MaxRetries           int             `json:"max_retries"`
	TargetContributionID *int64          `json:"target_contribution_id,omitempty"`
	Results              json.RawMessage `json:"results,omitempty"`
	ErrorDetails         *string         `json:"error_details,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	StartedAt            *time.Time      `json:"started_at,omitempty"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
}

// Validate checks the closed enum fields. Rows with unknown job types or
// statuses are rejected at the store boundary before they reach planning.
func (j *Job) Validate() error {
	if !j.JobType.Valid() {
		return fmt.Errorf("job %d: unknown job_type %q", j.ID, j.JobType)
	}
	if !j.Status.Valid() {
		return fmt.Errorf("job %d: unknown status %q", j.ID, j.Status)
	}
	return nil
}
