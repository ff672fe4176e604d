package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"dialectic.app/engine/internal/model"
	"dialectic.app/engine/internal/queue"
	"dialectic.app/engine/internal/store"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrStageNotFound    = errors.New("stage not found")
	ErrNoModelsSelected = errors.New("session has no selected models")
)

// StartGenerationParams identifies the stage to run and carries the opaque
// billing and auth material the jobs pass through to the model gateway.
type StartGenerationParams struct {
	SessionID int64
	StageSlug string
	WalletID  string
	UserJWT   string
}

type StartGenerationResult struct {
	SessionID       int64
	StageSlug       string
	IterationNumber int
	JobIDs          []int64
}

// GenerationService creates the parent PLAN jobs for a stage and exposes
// job status reads.
type GenerationService interface {
	StartGeneration(ctx context.Context, params StartGenerationParams) (*StartGenerationResult, error)
	GetJob(ctx context.Context, id int64) (*model.Job, error)
}

type generationService struct {
	sessions   store.SessionStore
	recipes    store.RecipeStore
	jobs       store.JobStore
	txRunner   TxRunner
	producer   queue.Producer
	newID      func() int64
	maxRetries int
}

func NewGenerationService(sessions store.SessionStore, recipes store.RecipeStore, jobs store.JobStore, txRunner TxRunner, producer queue.Producer, newID func() int64, maxRetries int) GenerationService {
	return &generationService{
		sessions:   sessions,
		recipes:    recipes,
		jobs:       jobs,
		txRunner:   txRunner,
		producer:   producer,
		newID:      newID,
		maxRetries: maxRetries,
	}
}

// StartGeneration creates one PLAN job per selected model per recipe step
// of the stage, persists them atomically, and enqueues them. Steps whose
// prerequisites are not yet produced park themselves on the producing job
// when a worker picks them up; creating the full skeleton up front is what
// lets later steps discover their in-flight producers.
func (s *generationService) StartGeneration(ctx context.Context, params StartGenerationParams) (*StartGenerationResult, error) {
	if params.WalletID == "" {
		return nil, fmt.Errorf("wallet_id is required")
	}

	session, err := s.sessions.GetByID(ctx, params.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("fetching session %d: %w", params.SessionID, err)
	}
	if len(session.SelectedModelIDs) == 0 {
		return nil, ErrNoModelsSelected
	}

	steps, err := s.recipes.ListStepsForStage(ctx, params.StageSlug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrStageNotFound
		}
		return nil, fmt.Errorf("loading recipe steps for stage %q: %w", params.StageSlug, err)
	}
	if len(steps) == 0 {
		return nil, ErrStageNotFound
	}

	iteration := session.IterationNumber
	advancing := params.StageSlug != session.CurrentStageSlug
	if advancing {
		iteration = 1
	}

	jobs := make([]*model.Job, 0, len(session.SelectedModelIDs)*len(steps))
	for _, modelID := range session.SelectedModelIDs {
		for i := range steps {
			step := &steps[i]
			jobs = append(jobs, &model.Job{
				ID:              s.newID(),
				SessionID:       session.ID,
				StageSlug:       params.StageSlug,
				IterationNumber: iteration,
				JobType:         model.JobTypePlan,
				Status:          model.JobStatusPending,
				MaxRetries:      s.maxRetries,
				DecodedPayload: &model.PlanPayload{
					JobType:         model.JobTypePlan,
					ProjectID:       session.ProjectID,
					SessionID:       session.ID,
					StageSlug:       params.StageSlug,
					IterationNumber: iteration,
					ModelID:         modelID,
					WalletID:        params.WalletID,
					UserJWT:         params.UserJWT,
					PlannerMetadata: &model.PlannerMetadata{RecipeStepID: step.ID},
				},
			})
		}
	}

	txErr := s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		if advancing {
			if err := sp.Sessions().AdvanceStage(ctx, session.ID, params.StageSlug, iteration); err != nil {
				return fmt.Errorf("advancing session to stage %q: %w", params.StageSlug, err)
			}
		}
		return sp.Jobs().CreateBatch(ctx, jobs)
	})
	if txErr != nil {
		return nil, fmt.Errorf("persisting plan jobs: %w", txErr)
	}

	jobIDs := make([]int64, len(jobs))
	for i, job := range jobs {
		jobIDs[i] = job.ID
		if err := s.producer.Enqueue(ctx, queue.Task{
			TaskType:        queue.TaskTypePlan,
			JobID:           job.ID,
			SessionID:       job.SessionID,
			StageSlug:       job.StageSlug,
			IterationNumber: job.IterationNumber,
			TraceID:         traceID(ctx),
		}); err != nil {
			// The row exists; a worker-side sweep or a repeated generate
			// request picks it up. Surface the enqueue failure regardless.
			return nil, fmt.Errorf("enqueuing plan job %d: %w", job.ID, err)
		}
	}

	slog.InfoContext(ctx, "stage generation started",
		"session_id", session.ID,
		"stage_slug", params.StageSlug,
		"iteration", iteration,
		"models", len(session.SelectedModelIDs),
		"steps", len(steps),
		"jobs", len(jobs))

	return &StartGenerationResult{
		SessionID:       session.ID,
		StageSlug:       params.StageSlug,
		IterationNumber: iteration,
		JobIDs:          jobIDs,
	}, nil
}

func (s *generationService) GetJob(ctx context.Context, id int64) (*model.Job, error) {
	return s.jobs.GetByID(ctx, id)
}

func traceID(ctx context.Context) *string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return nil
	}
	id := sc.TraceID().String()
	return &id
}
