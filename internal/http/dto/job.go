package dto

import (
	"encoding/json"
	"time"

	"dialectic.app/engine/internal/model"
)

type JobResponse struct {
	ID                int64           `json:"id"`
	ParentJobID       *int64          `json:"parent_job_id,omitempty"`
	PrerequisiteJobID *int64          `json:"prerequisite_job_id,omitempty"`
	SessionID         int64           `json:"session_id"`
	StageSlug         string          `json:"stage_slug"`
	IterationNumber   int             `json:"iteration_number"`
	JobType           string          `json:"job_type"`
	Status            string          `json:"status"`
	AttemptCount      int             `json:"attempt_count"`
	MaxRetries        int             `json:"max_retries"`
	Results           json.RawMessage `json:"results,omitempty"`
	ErrorDetails      *string         `json:"error_details,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

func JobResponseFrom(job *model.Job) JobResponse {
	return JobResponse{
		ID:                job.ID,
		ParentJobID:       job.ParentJobID,
		PrerequisiteJobID: job.PrerequisiteJobID,
		SessionID:         job.SessionID,
		StageSlug:         job.StageSlug,
		IterationNumber:   job.IterationNumber,
		JobType:           string(job.JobType),
		Status:            string(job.Status),
		AttemptCount:      job.AttemptCount,
		MaxRetries:        job.MaxRetries,
		Results:           job.Results,
		ErrorDetails:      job.ErrorDetails,
		CreatedAt:         job.CreatedAt,
		StartedAt:         job.StartedAt,
		CompletedAt:       job.CompletedAt,
	}
}
