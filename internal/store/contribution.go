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

type contributionStore struct {
	q db.Querier
}

func newContributionStore(q db.Querier) ContributionStore {
	return &contributionStore{q: q}
}

const contributionColumns = `id, session_id, project_id, stage_slug, iteration_number,
	job_id, document_key, contribution_type, model_id, model_slug, file_name,
	content, document_relationships, created_at`

func (s *contributionStore) GetByID(ctx context.Context, id int64) (*model.Contribution, error) {
	row := s.q.QueryRow(ctx, `SELECT `+contributionColumns+` FROM contributions WHERE id = $1`, id)
	return scanContribution(row)
}

func (s *contributionStore) Create(ctx context.Context, c *model.Contribution) error {
	var relationships []byte
	if c.Relationships != nil {
		data, err := json.Marshal(c.Relationships)
		if err != nil {
			return fmt.Errorf("encoding relationships for contribution %d: %w", c.ID, err)
		}
		relationships = data
	}

	_, err := s.q.Exec(ctx, `
		INSERT INTO contributions (
			id, session_id, project_id, stage_slug, iteration_number, job_id,
			document_key, contribution_type, model_id, model_slug, file_name,
			content, document_relationships
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.SessionID, c.ProjectID, c.StageSlug, c.IterationNumber,
		c.JobID, c.DocumentKey, c.ContributionType, c.ModelID, c.ModelSlug,
		c.FileName, c.Content, relationships,
	)
	if err != nil {
		return fmt.Errorf("inserting contribution %d: %w", c.ID, err)
	}
	return nil
}

func (s *contributionStore) ListByIDs(ctx context.Context, ids []int64) ([]model.Contribution, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.q.Query(ctx, `
		SELECT `+contributionColumns+`
		FROM contributions
		WHERE id = ANY($1)
		ORDER BY created_at`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	return scanContributions(rows)
}

func (s *contributionStore) ListForPlanning(ctx context.Context, sessionID int64, stageSlug string, documentKeys []string) ([]model.Contribution, error) {
	if len(documentKeys) == 0 {
		return nil, nil
	}
	rows, err := s.q.Query(ctx, `
		SELECT `+contributionColumns+`
		FROM contributions
		WHERE session_id = $1
		  AND document_key = ANY($2)
		  AND ($3 = '' OR stage_slug = $3)
		ORDER BY created_at`,
		sessionID, documentKeys, stageSlug,
	)
	if err != nil {
		return nil, err
	}
	return scanContributions(rows)
}

func (s *contributionStore) GetHeaderContext(ctx context.Context, sessionID int64, stageSlug string, iteration int) (*model.Contribution, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+contributionColumns+`
		FROM contributions
		WHERE session_id = $1
		  AND stage_slug = $2
		  AND iteration_number = $3
		  AND document_key = $4
		ORDER BY created_at DESC
		LIMIT 1`,
		sessionID, stageSlug, iteration, model.DocumentKeyHeaderContext,
	)
	return scanContribution(row)
}

func scanContribution(row pgx.Row) (*model.Contribution, error) {
	var (
		c             model.Contribution
		relationships []byte
	)
	err := row.Scan(
		&c.ID, &c.SessionID, &c.ProjectID, &c.StageSlug, &c.IterationNumber,
		&c.JobID, &c.DocumentKey, &c.ContributionType, &c.ModelID,
		&c.ModelSlug, &c.FileName, &c.Content, &relationships, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(relationships) > 0 {
		var rel model.DocumentRelationships
		if err := json.Unmarshal(relationships, &rel); err != nil {
			return nil, fmt.Errorf("contribution %d: decoding relationships: %w", c.ID, err)
		}
		c.Relationships = &rel
	}
	return &c, nil
}

func scanContributions(rows pgx.Rows) ([]model.Contribution, error) {
	defer rows.Close()
	var contributions []model.Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, err
		}
		contributions = append(contributions, *c)
	}
	return contributions, rows.Err()
}
