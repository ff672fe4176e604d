package planner

import (
	"strings"

	"dialectic.app/engine/internal/model"
)

// ModelSlugFromFileName derives the producing model's slug from a
// contribution file name of the form {model_slug}_{attempt}_{document_key}.ext,
// e.g. "gpt-4-turbo_0_business_case.md" -> "gpt-4-turbo". Model slugs may
// themselves contain underscores, so the attempt index (first all-digit
// segment) is the delimiter. Returns "" when the name does not follow the
// convention.
func ModelSlugFromFileName(name string) string {
	parts := strings.Split(name, "_")
	for i := 1; i < len(parts); i++ {
		if isDigits(parts[i]) {
			return strings.Join(parts[:i], "_")
		}
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// anchorModelSlug resolves the anchor document's model slug, preferring the
// stored slug and falling back to the file-name convention.
func anchorModelSlug(doc *model.SourceDocument) string {
	if doc == nil {
		return ""
	}
	if doc.ModelSlug != nil && *doc.ModelSlug != "" {
		return *doc.ModelSlug
	}
	if doc.FileName != nil {
		return ModelSlugFromFileName(*doc.FileName)
	}
	return ""
}

// buildPathParams derives the storage-path parameters for a child job from
// the step and its anchor. Pure metadata: no storage access, so repeated
// planning of the same inputs yields identical params.
func buildPathParams(step *model.RecipeStep, parent *model.PlanPayload, anchor *model.SourceDocument) model.CanonicalPathParams {
	params := model.CanonicalPathParams{
		ContributionType: step.OutputType,
		StageSlug:        parent.StageSlug,
		IterationNumber:  parent.IterationNumber,
	}
	if anchor != nil {
		params.SourceAnchorType = anchor.ContributionType
		params.SourceAnchorModelSlug = anchorModelSlug(anchor)
		params.SourceAnchorModelID = anchor.ModelID
	}
	return params
}

// relationshipsFor builds the lineage metadata for a child job anchored to
// the given document. A nil anchor yields an explicit null source group,
// marking a new lineage root to be stamped with the produced contribution's
// own id later.
func relationshipsFor(anchor *model.SourceDocument) *model.DocumentRelationships {
	if anchor == nil {
		return &model.DocumentRelationships{SourceGroup: nil}
	}
	group := anchor.LineageRoot()
	return &model.DocumentRelationships{SourceGroup: &group}
}
