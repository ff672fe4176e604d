// Package sources materializes the read-only source document set a recipe
// step consumes, according to the step's input rules. The planners never
// query storage themselves; they receive the set this resolver builds.
package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dialectic.app/engine/internal/model"
	"dialectic.app/engine/internal/store"
)

// MissingInputError reports a required input rule with no matching
// contributions. Planning cannot proceed on an incomplete source set.
type MissingInputError struct {
	StepKey     string
	DocumentKey string
	Slug        string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("step %q: required input %q from stage %q has no contributions", e.StepKey, e.DocumentKey, e.Slug)
}

type Resolver struct {
	contributions store.ContributionStore
}

func NewResolver(contributions store.ContributionStore) *Resolver {
	return &Resolver{contributions: contributions}
}

// ForStep resolves the step's input rules against the session's
// contributions. Each rule is resolved independently so a rule's stage
// filter applies only to its own document key; results are merged in rule
// order with duplicates dropped, preserving per-rule creation order.
// Header-context rules resolve to the latest header context the rule's
// stage produced for the iteration; seed prompts travel in the job payload
// and are never looked up here.
func (r *Resolver) ForStep(ctx context.Context, sessionID int64, iteration int, step *model.RecipeStep) ([]model.SourceDocument, error) {
	var (
		docs []model.SourceDocument
		seen = map[int64]bool{}
	)

	for _, rule := range step.InputsRequired {
		if rule.Type == model.InputTypeHeaderContext {
			header, err := r.headerContext(ctx, sessionID, iteration, step, rule)
			if err != nil {
				return nil, err
			}
			if header != nil && !seen[header.ID] {
				seen[header.ID] = true
				docs = append(docs, header.AsSourceDocument())
			}
			continue
		}
		if !rule.Type.DocumentBearing() {
			continue
		}

		contributions, err := r.contributions.ListForPlanning(ctx, sessionID, rule.Slug, []string{rule.DocumentKey})
		if err != nil {
			return nil, fmt.Errorf("resolving input %q for step %q: %w", rule.DocumentKey, step.StepKey, err)
		}
		if len(contributions) == 0 && rule.Required {
			return nil, &MissingInputError{StepKey: step.StepKey, DocumentKey: rule.DocumentKey, Slug: rule.Slug}
		}

		for i := range contributions {
			c := &contributions[i]
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			docs = append(docs, c.AsSourceDocument())
		}
	}

	slog.DebugContext(ctx, "resolved source documents",
		"step_key", step.StepKey,
		"session_id", sessionID,
		"count", len(docs))
	return docs, nil
}

// headerContext fetches the latest header context the rule's stage emitted
// for this iteration. A required rule with nothing stored yet is a missing
// input like any other, so the caller can wait on the producing job.
func (r *Resolver) headerContext(ctx context.Context, sessionID int64, iteration int, step *model.RecipeStep, rule model.InputRule) (*model.Contribution, error) {
	key := rule.DocumentKey
	if key == "" {
		key = model.DocumentKeyHeaderContext
	}

	header, err := r.contributions.GetHeaderContext(ctx, sessionID, rule.Slug, iteration)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if rule.Required {
				return nil, &MissingInputError{StepKey: step.StepKey, DocumentKey: key, Slug: rule.Slug}
			}
			return nil, nil
		}
		return nil, fmt.Errorf("resolving header context for step %q: %w", step.StepKey, err)
	}
	return header, nil
}
