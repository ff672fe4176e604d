package planner

import (
	"fmt"

	"dialectic.app/engine/internal/model"
)

// Plan expands one recipe step into execute child payloads according to the
// step's granularity strategy. It is a pure function: persistence of the
// returned payloads is the scheduler's responsibility, and a failure never
// leaves partially emitted children behind.
//
// All strategies copy the parent PLAN job's context verbatim into every
// child and stamp planner_metadata.recipe_step_id so downstream consumers
// can re-resolve the step without re-querying the recipe by name.
func Plan(docs []model.SourceDocument, parent *model.Job, step *model.RecipeStep, userToken string) ([]*model.ExecutePayload, error) {
	pp, ok := parent.DecodedPayload.(*model.PlanPayload)
	if !ok {
		return nil, fmt.Errorf("planning step %q: parent job %d does not carry a plan payload", step.StepKey, parent.ID)
	}

	if err := validateStep(step); err != nil {
		return nil, err
	}
	if step.HasDocumentInputs() && len(step.InputsRelevance) == 0 {
		return nil, &ConfigError{
			StepKey: step.StepKey,
			Reason:  "document inputs declared but inputs_relevance is empty; refusing to plan unanchored jobs",
		}
	}

	switch step.Granularity {
	case model.GranularityAllToOne:
		return planAllToOne(docs, pp, step, userToken)
	case model.GranularityPerSourceDocument:
		return planPerSourceDocument(docs, pp, step, userToken)
	case model.GranularityPerSourceDocumentLineage:
		return planPerSourceDocumentByLineage(docs, pp, step, userToken)
	case model.GranularityPerSourceGroup:
		return planPerSourceGroup(docs, pp, step, userToken)
	case model.GranularityPerModel:
		return planPerModel(docs, pp, step, userToken)
	default:
		return nil, &ConfigError{
			StepKey: step.StepKey,
			Reason:  fmt.Sprintf("unknown granularity strategy %q", step.Granularity),
		}
	}
}

func validateStep(step *model.RecipeStep) error {
	if step.OutputType == "" {
		return &ConfigError{StepKey: step.StepKey, Reason: "missing output_type"}
	}
	if step.JobType == model.JobTypeExecute && step.PromptTemplateID == nil {
		return &ConfigError{StepKey: step.StepKey, Reason: "missing prompt_template_id"}
	}
	return nil
}

// planAllToOne bundles every matching source document into a single child
// job anchored to the highest-relevance document. No matching anchor is a
// valid outcome, not an error: the job proceeds without lineage grounding.
func planAllToOne(docs []model.SourceDocument, pp *model.PlanPayload, step *model.RecipeStep, userToken string) ([]*model.ExecutePayload, error) {
	result, err := SelectAnchor(step, docs)
	if err != nil {
		return nil, err
	}

	var anchor *model.SourceDocument
	if result.Status == AnchorStatusAnchor {
		anchor = result.Document
	}

	child := newChild(pp, step, userToken, anchor, documentIDs(matchingDocuments(step, docs)))
	return []*model.ExecutePayload{child}, nil
}

// planPerSourceDocument emits one child job per matching source document,
// each anchored to the document itself. Header-context-derived anchors
// resolve per document here: the document being processed is its own
// lineage ground.
func planPerSourceDocument(docs []model.SourceDocument, pp *model.PlanPayload, step *model.RecipeStep, userToken string) ([]*model.ExecutePayload, error) {
	matched := matchingDocuments(step, docs)
	children := make([]*model.ExecutePayload, 0, len(matched))
	for i := range matched {
		doc := matched[i]
		children = append(children, newChild(pp, step, userToken, &doc, []int64{doc.ID}))
	}
	return children, nil
}

// planPerSourceDocumentByLineage partitions matching documents by lineage
// root (source_group when set, otherwise the document's own id) and emits
// one child job per group, anchored to the root document. When the root is
// not among the sources the group's oldest member anchors instead: lineage
// grouping partitions the inputs themselves rather than referencing an
// outside parent.
func planPerSourceDocumentByLineage(docs []model.SourceDocument, pp *model.PlanPayload, step *model.RecipeStep, userToken string) ([]*model.ExecutePayload, error) {
	matched := matchingDocuments(step, docs)

	groups := make(map[int64][]model.SourceDocument)
	order := make([]int64, 0, len(matched))
	for _, doc := range matched {
		root := doc.LineageRoot()
		if _, seen := groups[root]; !seen {
			order = append(order, root)
		}
		groups[root] = append(groups[root], doc)
	}

	children := make([]*model.ExecutePayload, 0, len(order))
	for _, root := range order {
		members := groups[root]
		anchor := &members[0]
		for i := range members {
			if members[i].ID == root {
				anchor = &members[i]
				break
			}
		}
		children = append(children, newChild(pp, step, userToken, anchor, documentIDs(members)))
	}
	return children, nil
}

// planPerSourceGroup emits one child job per distinct non-null source
// group. The anchor is the document whose id equals the group key — the
// parent the group descends from, not a member. Documents without a group
// are ignored; a group whose anchor cannot be found among the sources is a
// data-integrity failure.
func planPerSourceGroup(docs []model.SourceDocument, pp *model.PlanPayload, step *model.RecipeStep, userToken string) ([]*model.ExecutePayload, error) {
	matched := matchingDocuments(step, docs)

	byID := make(map[int64]*model.SourceDocument, len(docs))
	for i := range docs {
		byID[docs[i].ID] = &docs[i]
	}

	groups := make(map[int64][]model.SourceDocument)
	order := make([]int64, 0, len(matched))
	for _, doc := range matched {
		if doc.Relationships == nil || doc.Relationships.SourceGroup == nil {
			continue
		}
		group := *doc.Relationships.SourceGroup
		if _, seen := groups[group]; !seen {
			order = append(order, group)
		}
		groups[group] = append(groups[group], doc)
	}

	children := make([]*model.ExecutePayload, 0, len(order))
	for _, group := range order {
		anchor, ok := byID[group]
		if !ok {
			return nil, &IntegrityError{
				StepKey: step.StepKey,
				Reason:  fmt.Sprintf("source group %d has no anchor document among the resolved sources", group),
			}
		}
		children = append(children, newChild(pp, step, userToken, anchor, documentIDs(groups[group])))
	}
	return children, nil
}

// planPerModel bundles all matching documents into exactly one
// consolidation job for the parent's model. The child's source group is
// explicitly null: its contribution starts a new lineage root, stamped with
// the contribution's own id by the producer later.
func planPerModel(docs []model.SourceDocument, pp *model.PlanPayload, step *model.RecipeStep, userToken string) ([]*model.ExecutePayload, error) {
	child := newChild(pp, step, userToken, nil, documentIDs(matchingDocuments(step, docs)))
	return []*model.ExecutePayload{child}, nil
}

func newChild(pp *model.PlanPayload, step *model.RecipeStep, userToken string, anchor *model.SourceDocument, inputs []int64) *model.ExecutePayload {
	child := &model.ExecutePayload{
		JobType:             model.JobTypeExecute,
		ProjectID:           pp.ProjectID,
		SessionID:           pp.SessionID,
		StageSlug:           pp.StageSlug,
		IterationNumber:     pp.IterationNumber,
		ModelID:             pp.ModelID,
		PromptTemplateID:    step.PromptTemplateID,
		OutputType:          step.OutputType,
		CanonicalPathParams: buildPathParams(step, pp, anchor),
		Relationships:       relationshipsFor(anchor),
		Inputs:              inputs,
		WalletID:            pp.WalletID,
		UserJWT:             userToken,
		PlannerMetadata:     model.PlannerMetadata{RecipeStepID: step.ID},
		IsIntermediate:      step.OutputType != model.DocumentKeyRendered,
	}
	if anchor != nil {
		child.SourceContributionID = &anchor.ID
	}
	return child
}

func documentIDs(docs []model.SourceDocument) []int64 {
	ids := make([]int64, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	return ids
}
