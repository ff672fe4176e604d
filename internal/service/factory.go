package service

import (
	"dialectic.app/engine/internal/queue"
	"dialectic.app/engine/internal/store"
)

type ServicesConfig struct {
	Stores     *store.Stores
	TxRunner   TxRunner
	Producer   queue.Producer
	NewID      func() int64
	MaxRetries int
}

type Services struct {
	cfg ServicesConfig
}

func NewServices(cfg ServicesConfig) *Services {
	return &Services{cfg: cfg}
}

func (s *Services) Generation() GenerationService {
	return NewGenerationService(
		s.cfg.Stores.Sessions(),
		s.cfg.Stores.Recipes(),
		s.cfg.Stores.Jobs(),
		s.cfg.TxRunner,
		s.cfg.Producer,
		s.cfg.NewID,
		s.cfg.MaxRetries,
	)
}
