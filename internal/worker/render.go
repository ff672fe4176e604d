package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"dialectic.app/engine/internal/model"
)

// processRender materializes a final document by assembling the job's input
// contributions in order. Assembly is plain concatenation; rendering exists
// so downstream consumers (and the blocker priority order) have a real
// document-producing terminal job.
func (p *Processor) processRender(ctx context.Context, job *model.Job) error {
	payload, ok := job.DecodedPayload.(*model.RenderPayload)
	if !ok {
		return fmt.Errorf("job %d: render job carries %T payload", job.ID, job.DecodedPayload)
	}

	contributions, err := p.stores.Contributions().ListByIDs(ctx, payload.Inputs)
	if err != nil {
		return fmt.Errorf("loading inputs for render job %d: %w", job.ID, err)
	}
	if len(contributions) == 0 {
		return fmt.Errorf("render job %d: no input contributions", job.ID)
	}

	parts := make([]string, len(contributions))
	for i := range contributions {
		parts[i] = contributions[i].Content
	}

	aiModel, err := p.generatingModel(ctx, payload)
	if err != nil {
		return err
	}
	fileName := fmt.Sprintf("%s_%d_%s.md", aiModel.Slug, job.AttemptCount, payload.DocumentKey)

	contribution := &model.Contribution{
		ID:               p.newID(),
		SessionID:        payload.SessionID,
		ProjectID:        payload.ProjectID,
		StageSlug:        payload.StageSlug,
		IterationNumber:  payload.IterationNumber,
		JobID:            &job.ID,
		DocumentKey:      payload.DocumentKey,
		ContributionType: payload.DocumentKey,
		ModelID:          &aiModel.ID,
		ModelSlug:        &aiModel.Slug,
		FileName:         &fileName,
		Content:          strings.Join(parts, "\n\n"),
	}

	results, err := json.Marshal(jobResults{ContributionID: contribution.ID})
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
		return fmt.Errorf("persisting rendered document for job %d: %w", job.ID, txErr)
	}

	slog.InfoContext(ctx, "render job completed",
		"contribution_id", contribution.ID,
		"document_key", payload.DocumentKey,
		"inputs", len(contributions))
	return p.finalize(ctx, job)
}
