package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dialectic.app/engine/core/db"
	"dialectic.app/engine/internal/model"
)

type sessionStore struct {
	q db.Querier
}

func newSessionStore(q db.Querier) SessionStore {
	return &sessionStore{q: q}
}

func (s *sessionStore) GetByID(ctx context.Context, id int64) (*model.Session, error) {
	var session model.Session
	err := s.q.QueryRow(ctx, `
		SELECT id, project_id, current_stage_slug, iteration_number,
		       selected_model_ids, created_at, updated_at
		FROM sessions WHERE id = $1`,
		id,
	).Scan(
		&session.ID, &session.ProjectID, &session.CurrentStageSlug,
		&session.IterationNumber, &session.SelectedModelIDs,
		&session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (s *sessionStore) Create(ctx context.Context, session *model.Session) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO sessions (id, project_id, current_stage_slug, iteration_number, selected_model_ids)
		VALUES ($1, $2, $3, $4, $5)`,
		session.ID, session.ProjectID, session.CurrentStageSlug,
		session.IterationNumber, session.SelectedModelIDs,
	)
	if err != nil {
		return fmt.Errorf("inserting session %d: %w", session.ID, err)
	}
	return nil
}

func (s *sessionStore) AdvanceStage(ctx context.Context, id int64, stageSlug string, iteration int) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE sessions
		SET current_stage_slug = $2, iteration_number = $3, updated_at = NOW()
		WHERE id = $1`,
		id, stageSlug, iteration,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
