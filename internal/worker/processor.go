package worker

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"dialectic.app/engine/internal/model"
	"dialectic.app/engine/internal/queue"
)

// SourceResolver materializes the source document set for a recipe step.
type SourceResolver interface {
	ForStep(ctx context.Context, sessionID int64, iteration int, step *model.RecipeStep) ([]model.SourceDocument, error)
}

// Processor dispatches claimed jobs by type: PLAN jobs expand into children
// through the granularity planners, EXECUTE jobs call the model, RENDER jobs
// assemble final documents.
type Processor struct {
	stores     StoreProvider
	txRunner   TxRunner
	sources    SourceResolver
	generator  Generator
	producer   queue.Producer
	newID      func() int64
	maxRetries int
}

func NewProcessor(stores StoreProvider, txRunner TxRunner, sources SourceResolver, generator Generator, producer queue.Producer, newID func() int64, maxRetries int) *Processor {
	return &Processor{
		stores:     stores,
		txRunner:   txRunner,
		sources:    sources,
		generator:  generator,
		producer:   producer,
		newID:      newID,
		maxRetries: maxRetries,
	}
}

func (p *Processor) Process(ctx context.Context, job *model.Job) error {
	switch job.JobType {
	case model.JobTypePlan:
		return p.processPlan(ctx, job)
	case model.JobTypeExecute:
		return p.processExecute(ctx, job)
	case model.JobTypeRender:
		return p.processRender(ctx, job)
	default:
		return fmt.Errorf("job %d: unknown job type %q", job.ID, job.JobType)
	}
}

// finalize runs after a job reaches completed: it wakes jobs that were
// waiting on this one as a prerequisite, and bubbles completion up to the
// parent when this was its last active child.
func (p *Processor) finalize(ctx context.Context, job *model.Job) error {
	waiters, err := p.stores.Jobs().ListWaitingOnPrerequisite(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("listing prerequisite waiters: %w", err)
	}
	for i := range waiters {
		waiter := &waiters[i]
		if err := p.stores.Jobs().UpdateStatus(ctx, waiter.ID, model.JobStatusWaitingForPrerequisite, model.JobStatusPending); err != nil {
			slog.WarnContext(ctx, "failed to wake waiting job",
				"waiter_job_id", waiter.ID,
				"error", err)
			continue
		}
		if err := p.enqueue(ctx, waiter); err != nil {
			return fmt.Errorf("enqueuing woken job %d: %w", waiter.ID, err)
		}
		slog.InfoContext(ctx, "woke job waiting on prerequisite",
			"waiter_job_id", waiter.ID,
			"prerequisite_job_id", job.ID)
	}

	if job.ParentJobID == nil {
		return nil
	}

	active, err := p.stores.Jobs().CountActiveChildren(ctx, *job.ParentJobID)
	if err != nil {
		return fmt.Errorf("counting active children of job %d: %w", *job.ParentJobID, err)
	}
	if active > 0 {
		return nil
	}

	parent, err := p.stores.Jobs().GetByID(ctx, *job.ParentJobID)
	if err != nil {
		return fmt.Errorf("loading parent job %d: %w", *job.ParentJobID, err)
	}
	if parent.Status != model.JobStatusWaitingForChildren {
		return nil
	}
	if err := p.stores.Jobs().MarkCompleted(ctx, parent.ID, nil); err != nil {
		return fmt.Errorf("completing parent job %d: %w", parent.ID, err)
	}
	slog.InfoContext(ctx, "parent job completed, all children done",
		"parent_job_id", parent.ID)
	return p.finalize(ctx, parent)
}

func (p *Processor) enqueue(ctx context.Context, job *model.Job) error {
	return p.producer.Enqueue(ctx, queue.Task{
		TaskType:        queue.TaskType(job.JobType),
		JobID:           job.ID,
		SessionID:       job.SessionID,
		StageSlug:       job.StageSlug,
		IterationNumber: job.IterationNumber,
		TraceID:         traceID(ctx),
	})
}

func traceID(ctx context.Context) *string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return nil
	}
	id := sc.TraceID().String()
	return &id
}
