// Package blocker answers "what job, if any, is currently producing
// document X for model M?". Callers consult it before creating a job that
// depends on an artifact that has not materialized yet, so they can wait on
// the in-flight producer instead of re-planning the work.
package blocker

import (
	"context"
	"fmt"
	"log/slog"

	"dialectic.app/engine/internal/model"
)

// Deps injects the persisted-job query and the recipe-step accessor. The
// resolver only ever reads; it performs no writes.
type Deps struct {
	// ListJobs returns jobs in the scope with in-progress statuses, payloads
	// already decoded, ordered by creation time.
	ListJobs func(ctx context.Context, scope JobScope) ([]model.Job, error)
	// GetRecipeStep resolves a recipe step by id, used to learn what a
	// skeleton PLAN job will eventually produce.
	GetRecipeStep func(ctx context.Context, stepID int64) (*model.RecipeStep, error)
}

// JobScope narrows the candidate query to one session/stage/iteration and
// a single job type.
type JobScope struct {
	SessionID       int64
	StageSlug       string
	IterationNumber int
	JobType         model.JobType
}

// Params identifies the required artifact.
type Params struct {
	ProjectID       int64
	SessionID       int64
	StageSlug       string
	IterationNumber int
	ModelID         int64
	DocumentKey     string
}

func (p Params) complete() bool {
	return p.DocumentKey != "" &&
		p.ProjectID != 0 &&
		p.SessionID != 0 &&
		p.StageSlug != "" &&
		p.IterationNumber > 0 &&
		p.ModelID != 0
}

// Blocker is an in-progress job expected to produce the required artifact.
type Blocker struct {
	JobID   int64
	JobType model.JobType
	Status  model.JobStatus
}

// ResolveNext finds the in-progress job that will produce the artifact, in
// strict RENDER > EXECUTE > PLAN priority: a render job is closer to
// yielding a usable artifact than a plan job that has not even produced its
// execute children yet. A nil result means no blocker; the caller handles it
// by proceeding, not as an error. The result can go stale the
// moment the blocking job completes; callers re-check rather than treating
// it as a guarantee.
func ResolveNext(ctx context.Context, deps Deps, params Params) (*Blocker, error) {
	if !params.complete() {
		// Incomplete identity can never be matched safely; no match is the
		// safe default.
		return nil, nil
	}

	for _, jobType := range []model.JobType{model.JobTypeRender, model.JobTypeExecute, model.JobTypePlan} {
		jobs, err := deps.ListJobs(ctx, JobScope{
			SessionID:       params.SessionID,
			StageSlug:       params.StageSlug,
			IterationNumber: params.IterationNumber,
			JobType:         jobType,
		})
		if err != nil {
			return nil, fmt.Errorf("listing %s candidates: %w", jobType, err)
		}

		for i := range jobs {
			job := &jobs[i]
			if !job.Status.InProgress() {
				continue
			}
			ok, err := produces(ctx, deps, job, params)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}

			slog.DebugContext(ctx, "blocker resolved",
				"job_id", job.ID,
				"job_type", job.JobType,
				"status", job.Status,
				"document_key", params.DocumentKey)
			return &Blocker{JobID: job.ID, JobType: job.JobType, Status: job.Status}, nil
		}
	}

	return nil, nil
}

// produces reports whether the candidate job will yield the required
// artifact. A job whose payload cannot be proven to target the requested
// model is never a match, even when no other candidates exist.
func produces(ctx context.Context, deps Deps, job *model.Job, params Params) (bool, error) {
	payload := job.DecodedPayload
	if payload == nil {
		return false, nil
	}
	if payload.Project() != params.ProjectID {
		return false, nil
	}

	modelID := payload.Model()
	if modelID == nil || *modelID != params.ModelID {
		return false, nil
	}

	switch p := payload.(type) {
	case *model.RenderPayload:
		return p.DocumentKey == params.DocumentKey, nil
	case *model.ExecutePayload:
		if p.OutputType == params.DocumentKey {
			return true, nil
		}
		return p.CanonicalPathParams.ContributionType == params.DocumentKey, nil
	case *model.PlanPayload:
		// Only skeleton plans carrying their recipe step can be matched: the
		// step's declared output type tells us what the plan will produce.
		if p.PlannerMetadata == nil {
			return false, nil
		}
		step, err := deps.GetRecipeStep(ctx, p.PlannerMetadata.RecipeStepID)
		if err != nil {
			return false, fmt.Errorf("resolving recipe step %d for plan job %d: %w", p.PlannerMetadata.RecipeStepID, job.ID, err)
		}
		return step.OutputType == params.DocumentKey, nil
	default:
		return false, nil
	}
}
