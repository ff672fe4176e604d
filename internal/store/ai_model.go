package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"dialectic.app/engine/core/db"
	"dialectic.app/engine/internal/model"
)

type modelStore struct {
	q db.Querier
}

func newModelStore(q db.Querier) ModelStore {
	return &modelStore{q: q}
}

const aiModelColumns = `id, slug, display_name, provider, api_model`

func (s *modelStore) GetByID(ctx context.Context, id int64) (*model.AIModel, error) {
	row := s.q.QueryRow(ctx, `SELECT `+aiModelColumns+` FROM ai_models WHERE id = $1`, id)
	return scanAIModel(row)
}

func scanAIModel(row pgx.Row) (*model.AIModel, error) {
	var m model.AIModel
	err := row.Scan(&m.ID, &m.Slug, &m.DisplayName, &m.Provider, &m.APIModel)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}
