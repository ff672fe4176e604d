package worker

import (
	"context"

	"dialectic.app/engine/internal/executor"
	"dialectic.app/engine/internal/model"
	"dialectic.app/engine/internal/queue"
	"dialectic.app/engine/internal/store"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// JobProcessor abstracts job dispatch for testability.
type JobProcessor interface {
	Process(ctx context.Context, job *model.Job) error
}

// Generator abstracts the LLM execution path for testability.
type Generator interface {
	Generate(ctx context.Context, req executor.Request) (*executor.Result, error)
}

// StoreProvider is the slice of the store factory the worker needs.
// Mirrors *store.Stores - defined here to avoid depending on the concrete type.
type StoreProvider interface {
	Jobs() store.JobStore
	Contributions() store.ContributionStore
	Recipes() store.RecipeStore
	Sessions() store.SessionStore
	Models() store.ModelStore
}

// TxRunner runs a function against transaction-bound stores.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}
