package handler_test

import (
	"context"

	"dialectic.app/engine/internal/model"
	"dialectic.app/engine/internal/service"
)

type mockGenerationService struct {
	StartGenerationFunc func(ctx context.Context, params service.StartGenerationParams) (*service.StartGenerationResult, error)
	GetJobFunc          func(ctx context.Context, id int64) (*model.Job, error)
}

func (m *mockGenerationService) StartGeneration(ctx context.Context, params service.StartGenerationParams) (*service.StartGenerationResult, error) {
	return m.StartGenerationFunc(ctx, params)
}

func (m *mockGenerationService) GetJob(ctx context.Context, id int64) (*model.Job, error) {
	return m.GetJobFunc(ctx, id)
}
