package store

import (
	"context"
	"encoding/json"
	"errors"

	"dialectic.app/engine/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// JobStore defines the contract for job row data access. Rows cross this
// boundary with payloads already decoded; callers never touch raw JSON.
type JobStore interface {
	GetByID(ctx context.Context, id int64) (*model.Job, error)
	Create(ctx context.Context, job *model.Job) error
	CreateBatch(ctx context.Context, jobs []*model.Job) error
	// ListInProgress returns non-terminal jobs of one type in a
	// session/stage/iteration scope, ordered by creation time.
	ListInProgress(ctx context.Context, sessionID int64, stageSlug string, iteration int, jobType model.JobType) ([]model.Job, error)
	ListByParent(ctx context.Context, parentJobID int64) ([]model.Job, error)
	ListWaitingOnPrerequisite(ctx context.Context, prerequisiteJobID int64) ([]model.Job, error)
	CountActiveChildren(ctx context.Context, parentJobID int64) (int, error)
	// ClaimPending atomically moves a pending or retrying job to processing
	// and stamps started_at. Returns ErrNotFound when the job is not
	// claimable, so competing workers lose cleanly.
	ClaimPending(ctx context.Context, id int64) (*model.Job, error)
	UpdateStatus(ctx context.Context, id int64, from, to model.JobStatus) error
	SetPrerequisite(ctx context.Context, id int64, prerequisiteJobID int64) error
	MarkCompleted(ctx context.Context, id int64, results json.RawMessage) error
	MarkFailed(ctx context.Context, id int64, errorDetails string) error
	// ScheduleRetry increments attempt_count and moves the job to retrying,
	// or to failed when attempts are exhausted. Returns the new status.
	ScheduleRetry(ctx context.Context, id int64, errorDetails string) (model.JobStatus, error)
}

// ContributionStore defines the contract for produced-artifact data access
type ContributionStore interface {
	GetByID(ctx context.Context, id int64) (*model.Contribution, error)
	Create(ctx context.Context, c *model.Contribution) error
	ListByIDs(ctx context.Context, ids []int64) ([]model.Contribution, error)
	// ListForPlanning returns a session's contributions matching any of the
	// document keys, ordered by creation time. Stage is an optional narrowing
	// filter; empty means all stages.
	ListForPlanning(ctx context.Context, sessionID int64, stageSlug string, documentKeys []string) ([]model.Contribution, error)
	GetHeaderContext(ctx context.Context, sessionID int64, stageSlug string, iteration int) (*model.Contribution, error)
}

// RecipeStore defines the contract for recipe configuration access.
// Recipes are read-only at runtime; rule JSONB decodes once, here.
type RecipeStore interface {
	GetStep(ctx context.Context, id int64) (*model.RecipeStep, error)
	GetStepByKey(ctx context.Context, recipeInstanceID int64, stepKey string) (*model.RecipeStep, error)
	// ListStepsForStage returns the stage's active recipe steps ordered by
	// execution_order.
	ListStepsForStage(ctx context.Context, stageSlug string) ([]model.RecipeStep, error)
	GetStage(ctx context.Context, slug string) (*model.Stage, error)
}

// SessionStore defines the contract for session data access
type SessionStore interface {
	GetByID(ctx context.Context, id int64) (*model.Session, error)
	Create(ctx context.Context, session *model.Session) error
	// AdvanceStage moves the session pointer to a new stage/iteration.
	AdvanceStage(ctx context.Context, id int64, stageSlug string, iteration int) error
}

// ModelStore defines the contract for the AI model catalog
type ModelStore interface {
	GetByID(ctx context.Context, id int64) (*model.AIModel, error)
}
