package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dialectic.app/engine/core/db"
	"dialectic.app/engine/internal/model"
)

type recipeStore struct {
	q db.Querier
}

func newRecipeStore(q db.Querier) RecipeStore {
	return &recipeStore{q: q}
}

const recipeStepColumns = `rs.id, rs.recipe_instance_id, ri.stage_slug, rs.step_key,
	rs.job_type, rs.prompt_type, rs.prompt_template_id, rs.granularity_strategy,
	rs.output_type, rs.execution_order, rs.parallel_group, rs.branch_key,
	rs.inputs_required, rs.inputs_relevance, rs.outputs_required`

func (s *recipeStore) GetStep(ctx context.Context, id int64) (*model.RecipeStep, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+recipeStepColumns+`
		FROM recipe_steps rs
		JOIN recipe_instances ri ON ri.id = rs.recipe_instance_id
		WHERE rs.id = $1`,
		id,
	)
	return scanRecipeStep(row)
}

func (s *recipeStore) GetStepByKey(ctx context.Context, recipeInstanceID int64, stepKey string) (*model.RecipeStep, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+recipeStepColumns+`
		FROM recipe_steps rs
		JOIN recipe_instances ri ON ri.id = rs.recipe_instance_id
		WHERE rs.recipe_instance_id = $1 AND rs.step_key = $2`,
		recipeInstanceID, stepKey,
	)
	return scanRecipeStep(row)
}

func (s *recipeStore) ListStepsForStage(ctx context.Context, stageSlug string) ([]model.RecipeStep, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+recipeStepColumns+`
		FROM recipe_steps rs
		JOIN recipe_instances ri ON ri.id = rs.recipe_instance_id
		JOIN stages st ON st.recipe_instance_id = ri.id
		WHERE st.slug = $1
		ORDER BY rs.execution_order`,
		stageSlug,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []model.RecipeStep
	for rows.Next() {
		step, err := scanRecipeStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

func (s *recipeStore) GetStage(ctx context.Context, slug string) (*model.Stage, error) {
	var stage model.Stage
	err := s.q.QueryRow(ctx, `
		SELECT id, slug, display_name, recipe_instance_id, recipe_template_id, created_at
		FROM stages WHERE slug = $1`,
		slug,
	).Scan(
		&stage.ID, &stage.Slug, &stage.DisplayName,
		&stage.RecipeInstanceID, &stage.RecipeTemplateID, &stage.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &stage, nil
}

func scanRecipeStep(row pgx.Row) (*model.RecipeStep, error) {
	var (
		step            model.RecipeStep
		inputsRequired  []byte
		inputsRelevance []byte
		outputsRequired []byte
	)
	err := row.Scan(
		&step.ID, &step.RecipeInstanceID, &step.StageSlug, &step.StepKey,
		&step.JobType, &step.PromptType, &step.PromptTemplateID,
		&step.Granularity, &step.OutputType, &step.ExecutionOrder,
		&step.ParallelGroup, &step.BranchKey,
		&inputsRequired, &inputsRelevance, &outputsRequired,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if !step.Granularity.Valid() {
		return nil, fmt.Errorf("recipe step %d: unknown granularity_strategy %q", step.ID, step.Granularity)
	}
	if len(inputsRequired) > 0 {
		if err := json.Unmarshal(inputsRequired, &step.InputsRequired); err != nil {
			return nil, fmt.Errorf("recipe step %d: decoding inputs_required: %w", step.ID, err)
		}
	}
	if len(inputsRelevance) > 0 {
		if err := json.Unmarshal(inputsRelevance, &step.InputsRelevance); err != nil {
			return nil, fmt.Errorf("recipe step %d: decoding inputs_relevance: %w", step.ID, err)
		}
	}
	if len(outputsRequired) > 0 {
		if err := json.Unmarshal(outputsRequired, &step.OutputsRequired); err != nil {
			return nil, fmt.Errorf("recipe step %d: decoding outputs_required: %w", step.ID, err)
		}
	}
	return &step, nil
}
