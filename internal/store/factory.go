package store

import (
	"dialectic.app/engine/core/db"
)

// Stores binds the store implementations to one Querier. Construct over the
// pool for standalone reads, or over a transaction inside db.WithTx to make
// a group of writes atomic.
type Stores struct {
	q db.Querier
}

func NewStores(q db.Querier) *Stores {
	return &Stores{q: q}
}

func (s *Stores) Jobs() JobStore {
	return newJobStore(s.q)
}

func (s *Stores) Contributions() ContributionStore {
	return newContributionStore(s.q)
}

func (s *Stores) Recipes() RecipeStore {
	return newRecipeStore(s.q)
}

func (s *Stores) Sessions() SessionStore {
	return newSessionStore(s.q)
}

func (s *Stores) Models() ModelStore {
	return newModelStore(s.q)
}
