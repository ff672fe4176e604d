package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dialectic.app/engine/common/logger"
	"dialectic.app/engine/internal/blocker"
	"dialectic.app/engine/internal/model"
	"dialectic.app/engine/internal/planner"
	"dialectic.app/engine/internal/sources"
)

// processPlan expands a PLAN job into EXECUTE children via the granularity
// planners. When a required input is still being produced, the job parks as
// waiting_for_prerequisite on the producing job instead of failing.
func (p *Processor) processPlan(ctx context.Context, job *model.Job) error {
	sc := logger.StartSpan(ctx, "worker.process_plan")
	defer sc.End()
	ctx = sc.Context()

	payload, ok := job.DecodedPayload.(*model.PlanPayload)
	if !ok {
		return fmt.Errorf("job %d: plan job carries %T payload", job.ID, job.DecodedPayload)
	}

	step, err := p.resolveStep(ctx, payload)
	if err != nil {
		return err
	}

	docs, err := p.sources.ForStep(ctx, job.SessionID, job.IterationNumber, step)
	if err != nil {
		var missing *sources.MissingInputError
		if errors.As(err, &missing) {
			return p.waitOnProducer(ctx, job, payload, missing)
		}
		return err
	}

	children, err := planner.Plan(docs, job, step, payload.UserJWT)
	if err != nil {
		return err
	}

	if len(children) == 0 {
		if err := p.stores.Jobs().MarkCompleted(ctx, job.ID, nil); err != nil {
			return fmt.Errorf("completing empty plan job %d: %w", job.ID, err)
		}
		return p.finalize(ctx, job)
	}

	rows := make([]*model.Job, len(children))
	for i, child := range children {
		rows[i] = &model.Job{
			ID:              p.newID(),
			ParentJobID:     &job.ID,
			SessionID:       job.SessionID,
			StageSlug:       job.StageSlug,
			IterationNumber: job.IterationNumber,
			JobType:         model.JobTypeExecute,
			Status:          model.JobStatusPending,
			MaxRetries:      p.maxRetries,
			DecodedPayload:  child,
		}
	}

	txErr := p.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		if err := stores.Jobs().CreateBatch(ctx, rows); err != nil {
			return err
		}
		return stores.Jobs().UpdateStatus(ctx, job.ID, model.JobStatusProcessing, model.JobStatusWaitingForChildren)
	})
	if txErr != nil {
		return fmt.Errorf("persisting plan expansion for job %d: %w", job.ID, txErr)
	}

	for _, row := range rows {
		if err := p.enqueue(ctx, row); err != nil {
			// Row exists but the task was lost; the reclaimer-free fallback is
			// re-enqueueing on the next generate request, so surface loudly.
			return fmt.Errorf("enqueuing child job %d: %w", row.ID, err)
		}
	}

	slog.InfoContext(ctx, "plan expanded",
		"step_key", step.StepKey,
		"granularity", step.Granularity,
		"children", len(rows))
	return nil
}

// resolveStep locates the recipe step a plan payload points at, either
// directly via planner metadata or by step key through the stage's active
// recipe instance.
func (p *Processor) resolveStep(ctx context.Context, payload *model.PlanPayload) (*model.RecipeStep, error) {
	if payload.PlannerMetadata != nil {
		step, err := p.stores.Recipes().GetStep(ctx, payload.PlannerMetadata.RecipeStepID)
		if err != nil {
			return nil, fmt.Errorf("loading recipe step %d: %w", payload.PlannerMetadata.RecipeStepID, err)
		}
		return step, nil
	}

	if payload.StepKey == nil || *payload.StepKey == "" {
		return nil, &planner.ConfigError{Reason: "plan payload names no recipe step"}
	}

	stage, err := p.stores.Recipes().GetStage(ctx, payload.StageSlug)
	if err != nil {
		return nil, fmt.Errorf("loading stage %q: %w", payload.StageSlug, err)
	}
	if stage.RecipeInstanceID == nil {
		return nil, &planner.ConfigError{StepKey: *payload.StepKey, Reason: fmt.Sprintf("stage %q has no active recipe instance", payload.StageSlug)}
	}

	step, err := p.stores.Recipes().GetStepByKey(ctx, *stage.RecipeInstanceID, *payload.StepKey)
	if err != nil {
		return nil, fmt.Errorf("loading recipe step %q for stage %q: %w", *payload.StepKey, payload.StageSlug, err)
	}
	return step, nil
}

// waitOnProducer consults the blocker resolver for the job currently
// producing the missing document. Found: park this plan on it. Not found:
// surface the missing input as a retryable error.
func (p *Processor) waitOnProducer(ctx context.Context, job *model.Job, payload *model.PlanPayload, missing *sources.MissingInputError) error {
	deps := blocker.Deps{
		ListJobs: func(ctx context.Context, scope blocker.JobScope) ([]model.Job, error) {
			return p.stores.Jobs().ListInProgress(ctx, scope.SessionID, scope.StageSlug, scope.IterationNumber, scope.JobType)
		},
		GetRecipeStep: p.stores.Recipes().GetStep,
	}

	producing, err := blocker.ResolveNext(ctx, deps, blocker.Params{
		ProjectID:       payload.ProjectID,
		SessionID:       payload.SessionID,
		StageSlug:       payload.StageSlug,
		IterationNumber: payload.IterationNumber,
		ModelID:         payload.ModelID,
		DocumentKey:     missing.DocumentKey,
	})
	if err != nil {
		return fmt.Errorf("resolving blocker for %q: %w", missing.DocumentKey, err)
	}
	if producing == nil {
		return missing
	}

	if err := p.stores.Jobs().SetPrerequisite(ctx, job.ID, producing.JobID); err != nil {
		return fmt.Errorf("parking job %d on prerequisite %d: %w", job.ID, producing.JobID, err)
	}

	// The producer can finish between resolution and parking, in which case
	// its completion pass scanned for waiters before this row was parked and
	// nothing will ever wake it. Recheck and un-park instead of sleeping
	// forever.
	prereq, err := p.stores.Jobs().GetByID(ctx, producing.JobID)
	if err != nil {
		return fmt.Errorf("rechecking prerequisite %d for job %d: %w", producing.JobID, job.ID, err)
	}
	if !prereq.Status.InProgress() {
		if err := p.stores.Jobs().UpdateStatus(ctx, job.ID, model.JobStatusWaitingForPrerequisite, model.JobStatusPending); err != nil {
			return fmt.Errorf("unparking job %d after prerequisite %d finished: %w", job.ID, producing.JobID, err)
		}
		if err := p.enqueue(ctx, job); err != nil {
			return fmt.Errorf("re-enqueuing unparked job %d: %w", job.ID, err)
		}
		slog.InfoContext(ctx, "prerequisite finished while parking, plan re-enqueued",
			"prerequisite_job_id", producing.JobID,
			"prerequisite_status", prereq.Status)
		return nil
	}

	slog.InfoContext(ctx, "plan waiting on prerequisite",
		"prerequisite_job_id", producing.JobID,
		"prerequisite_job_type", producing.JobType,
		"document_key", missing.DocumentKey)
	return nil
}
