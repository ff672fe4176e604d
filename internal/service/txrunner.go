package service

import (
	"context"

	"dialectic.app/engine/core/db"
	"dialectic.app/engine/internal/store"
)

// StoreProvider exposes only the stores needed by a transactional operation.
type StoreProvider interface {
	Jobs() store.JobStore
	Contributions() store.ContributionStore
	Recipes() store.RecipeStore
	Sessions() store.SessionStore
	Models() store.ModelStore
}

// TxRunner runs functions within a transaction and provides stores bound to that transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner builds a TxRunner backed by the core DB.
func NewTxRunner(db *db.DB) TxRunner {
	return &dbTxRunner{db: db}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(stores StoreProvider) error) error {
	return r.db.WithTx(ctx, func(q db.Querier) error {
		return fn(store.NewStores(q))
	})
}
