package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"dialectic.app/engine/common"
	"dialectic.app/engine/internal/executor"
	"dialectic.app/engine/internal/model"
)

type jobResults struct {
	ContributionID   int64 `json:"contribution_id"`
	PromptTokens     int   `json:"prompt_tokens,omitempty"`
	CompletionTokens int   `json:"completion_tokens,omitempty"`
}

// processExecute runs a generation call and persists the resulting
// contribution atomically with the job's completion.
func (p *Processor) processExecute(ctx context.Context, job *model.Job) error {
	payload, ok := job.DecodedPayload.(*model.ExecutePayload)
	if !ok {
		return fmt.Errorf("job %d: execute job carries %T payload", job.ID, job.DecodedPayload)
	}

	contributions, err := p.stores.Contributions().ListByIDs(ctx, payload.Inputs)
	if err != nil {
		return fmt.Errorf("loading inputs for job %d: %w", job.ID, err)
	}
	docs := make([]model.SourceDocument, len(contributions))
	for i := range contributions {
		docs[i] = contributions[i].AsSourceDocument()
	}

	stepKey := ""
	promptType := model.PromptTypeTurn
	if step, err := p.stores.Recipes().GetStep(ctx, payload.PlannerMetadata.RecipeStepID); err == nil {
		stepKey = step.StepKey
		if step.PromptType != "" {
			promptType = step.PromptType
		}
	}

	result, err := p.generator.Generate(ctx, executor.Request{
		StageSlug:  payload.StageSlug,
		StepKey:    stepKey,
		OutputType: payload.OutputType,
		PromptType: promptType,
		Documents:  docs,
	})
	if err != nil {
		return err
	}

	aiModel, err := p.generatingModel(ctx, payload)
	if err != nil {
		return err
	}
	fileName := fmt.Sprintf("%s_%d_%s.md", aiModel.Slug, job.AttemptCount, payload.OutputType)

	contribution := &model.Contribution{
		ID:               p.newID(),
		SessionID:        payload.SessionID,
		ProjectID:        payload.ProjectID,
		StageSlug:        payload.StageSlug,
		IterationNumber:  payload.IterationNumber,
		JobID:            &job.ID,
		DocumentKey:      payload.OutputType,
		ContributionType: payload.CanonicalPathParams.ContributionType,
		ModelID:          &aiModel.ID,
		ModelSlug:        &aiModel.Slug,
		FileName:         &fileName,
		Content:          result.Content,
		Relationships:    payload.Relationships,
	}
	if contribution.ContributionType == "" {
		contribution.ContributionType = payload.OutputType
	}

	results, err := json.Marshal(jobResults{
		ContributionID:   contribution.ID,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
	})
	if err != nil {
		return fmt.Errorf("encoding results for job %d: %w", job.ID, err)
	}

	txErr := p.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		if err := stores.Contributions().Create(ctx, contribution); err != nil {
			return err
		}
		return stores.Jobs().MarkCompleted(ctx, job.ID, results)
	})
	if txErr != nil {
		return fmt.Errorf("persisting contribution for job %d: %w", job.ID, txErr)
	}

	slog.InfoContext(ctx, "execute job completed",
		"contribution_id", contribution.ID,
		"document_key", contribution.DocumentKey,
		"file_name", fileName)
	return p.finalize(ctx, job)
}

// generatingModel resolves the catalog entry for the model this payload
// targets, normalizing the slug for use in file names.
func (p *Processor) generatingModel(ctx context.Context, payload model.Payload) (*model.AIModel, error) {
	modelID := payload.Model()
	if modelID == nil {
		return nil, fmt.Errorf("payload exposes no model identity")
	}
	aiModel, err := p.stores.Models().GetByID(ctx, *modelID)
	if err != nil {
		return nil, fmt.Errorf("loading model %d: %w", *modelID, err)
	}
	slug, err := common.Slugify(aiModel.Slug, aiModel.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("model %d has no usable slug: %w", aiModel.ID, err)
	}
	aiModel.Slug = slug
	return aiModel, nil
}
