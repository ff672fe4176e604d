package planner

import (
	"fmt"
	"strings"

	"dialectic.app/engine/internal/model"
)

// AnchorStatus is the outcome of anchor selection.
type AnchorStatus string

const (
	// AnchorStatusAnchor means a concrete source document grounds the new
	// job's path and lineage. Document may still be nil when the step
	// declares relevance metadata but no source document matches it; the
	// caller proceeds without an anchor in that case.
	AnchorStatusAnchor AnchorStatus = "anchor"
	// AnchorStatusDeriveFromHeaderContext means the anchor must be read
	// back out of a header context's own metadata at render time.
	AnchorStatusDeriveFromHeaderContext AnchorStatus = "derive_from_header_context"
	// AnchorStatusNoAnchorRequired marks pure consolidation steps that have
	// no single upstream lineage root.
	AnchorStatusNoAnchorRequired AnchorStatus = "no_anchor_required"
)

// AnchorResult names the source document that grounds a new job's storage
// path and lineage, or the reason no document is needed.
type AnchorResult struct {
	Status   AnchorStatus
	Document *model.SourceDocument
}

// SelectAnchor chooses the canonical source document for a step from its
// resolved source documents.
//
// Steps that consume a header context from their own stage and declare no
// document-typed inputs defer anchoring to render time. Steps with no
// document or feedback inputs at all need no anchor. Everything else picks
// the document whose (document_key, stage, input type) triple scores the
// highest relevance; ties go to the earliest relevance rule, then the
// earliest document. Declaring document inputs without relevance metadata
// is a configuration error, not a guessing opportunity.
func SelectAnchor(step *model.RecipeStep, docs []model.SourceDocument) (AnchorResult, error) {
	if step.ConsumesHeaderContext() && !step.HasDocumentInputs() {
		return AnchorResult{Status: AnchorStatusDeriveFromHeaderContext}, nil
	}
	if !step.HasDocumentInputs() {
		return AnchorResult{Status: AnchorStatusNoAnchorRequired}, nil
	}
	if len(step.InputsRelevance) == 0 {
		return AnchorResult{}, &ConfigError{
			StepKey: step.StepKey,
			Reason: fmt.Sprintf("document inputs [%s] declared but inputs_relevance is empty",
				strings.Join(documentInputKeys(step), ", ")),
		}
	}

	best := pickMostRelevant(step, docs)
	return AnchorResult{Status: AnchorStatusAnchor, Document: best}, nil
}

// pickMostRelevant scans relevance rules in declaration order so that equal
// scores resolve to the first-declared rule, and within one rule to the
// first matching document. Returns nil when nothing matches.
func pickMostRelevant(step *model.RecipeStep, docs []model.SourceDocument) *model.SourceDocument {
	var (
		best      *model.SourceDocument
		bestScore = -1.0
	)

	for _, rule := range step.InputsRelevance {
		if rule.Relevance <= bestScore {
			continue
		}
		for i := range docs {
			doc := &docs[i]
			inputType, ok := inputTypeFor(step, doc)
			if !ok {
				continue
			}
			if rule.Matches(doc.DocumentKey, doc.Stage, inputType) {
				best = doc
				bestScore = rule.Relevance
				break
			}
		}
	}

	return best
}

// inputTypeFor finds the document-bearing input rule a source document
// satisfies and returns its input type. Seed prompts and header contexts
// never match: they cannot anchor a job.
func inputTypeFor(step *model.RecipeStep, doc *model.SourceDocument) (model.InputType, bool) {
	for _, rule := range step.InputsRequired {
		if !rule.Type.DocumentBearing() {
			continue
		}
		if rule.DocumentKey != doc.DocumentKey {
			continue
		}
		if rule.Slug != "" && rule.Slug != doc.Stage {
			continue
		}
		return rule.Type, true
	}
	return "", false
}

// matchingDocuments returns the source documents that satisfy any
// document-bearing input rule, preserving input order.
func matchingDocuments(step *model.RecipeStep, docs []model.SourceDocument) []model.SourceDocument {
	matched := make([]model.SourceDocument, 0, len(docs))
	for i := range docs {
		if _, ok := inputTypeFor(step, &docs[i]); ok {
			matched = append(matched, docs[i])
		}
	}
	return matched
}

func documentInputKeys(step *model.RecipeStep) []string {
	keys := make([]string, 0, len(step.InputsRequired))
	for _, rule := range step.InputsRequired {
		if rule.Type.DocumentBearing() {
			keys = append(keys, rule.DocumentKey)
		}
	}
	return keys
}
