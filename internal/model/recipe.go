package model

import "time"

// Stage is a named pipeline phase (thesis, antithesis, synthesis, ...).
// Stages are configuration: created by migrations, read-only at runtime.
type Stage struct {
	ID               int64     `json:"id"`
	Slug             string    `json:"slug"`
	DisplayName      string    `json:"display_name"`
	RecipeInstanceID *int64    `json:"recipe_instance_id,omitempty"`
	RecipeTemplateID *int64    `json:"recipe_template_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// RecipeInstance is a stage's active recipe: an ordered list of steps.
// Instances are cloned from templates when a session starts so that
// in-flight sessions are isolated from template edits.
type RecipeInstance struct {
	ID         int64        `json:"id"`
	StageSlug  string       `json:"stage_slug"`
	TemplateID *int64       `json:"template_id,omitempty"`
	Steps      []RecipeStep `json:"steps"`
	CreatedAt  time.Time    `json:"created_at"`
}

// PromptType selects the prompt class used when the step's jobs execute.
type PromptType string

const (
	PromptTypePlanner PromptType = "planner"
	PromptTypeTurn    PromptType = "turn"
)

// GranularityStrategy is the rule for how many child jobs a step produces
// from its source documents.
type GranularityStrategy string

const (
	GranularityAllToOne                 GranularityStrategy = "all_to_one"
	GranularityPerSourceDocument        GranularityStrategy = "per_source_document"
	GranularityPerSourceDocumentLineage GranularityStrategy = "per_source_document_by_lineage"
	GranularityPerSourceGroup           GranularityStrategy = "per_source_group"
	GranularityPerModel                 GranularityStrategy = "per_model"
)

func (g GranularityStrategy) Valid() bool {
	switch g {
	case GranularityAllToOne, GranularityPerSourceDocument,
		GranularityPerSourceDocumentLineage, GranularityPerSourceGroup,
		GranularityPerModel:
		return true
	}
	return false
}

// InputType classifies the upstream artifact class an InputRule consumes.
type InputType string

const (
	InputTypeDocument      InputType = "document"
	InputTypeFeedback      InputType = "feedback"
	InputTypeHeaderContext InputType = "header_context"
	InputTypeSeedPrompt    InputType = "seed_prompt"
)

// DocumentBearing reports whether the input type refers to a concrete
// upstream document that can serve as a lineage anchor. Seed prompts and
// header contexts never anchor a job.
func (t InputType) DocumentBearing() bool {
	return t == InputTypeDocument || t == InputTypeFeedback
}

// InputRule declares one upstream artifact class a step consumes.
type InputRule struct {
	Type        InputType `json:"type"`
	Slug        string    `json:"slug"` // producing stage
	DocumentKey string    `json:"document_key"`
	Required    bool      `json:"required"`
	Multiple    bool      `json:"multiple,omitempty"`
}

// RelevanceRule weights candidate anchor documents. Slug and Type narrow
// the match; a zero value for either means "any". Relevance is in [0,1].
type RelevanceRule struct {
	DocumentKey string    `json:"document_key"`
	Slug        string    `json:"slug,omitempty"`
	Type        InputType `json:"type,omitempty"`
	Relevance   float64   `json:"relevance"`
}

// Matches reports whether the rule applies to the given document identity.
func (r RelevanceRule) Matches(documentKey, stageSlug string, inputType InputType) bool {
	if r.DocumentKey != documentKey {
		return false
	}
	if r.Slug != "" && r.Slug != stageSlug {
		return false
	}
	if r.Type != "" && r.Type != inputType {
		return false
	}
	return true
}

// OutputRule describes the documents a step is expected to produce and,
// for planner steps, the shape of the header context they emit.
type OutputRule struct {
	Documents     []OutputDocumentRule `json:"documents,omitempty"`
	HeaderContext *HeaderContextShape  `json:"header_context,omitempty"`
}

type OutputDocumentRule struct {
	DocumentKey string `json:"document_key"`
	Multiple    bool   `json:"multiple,omitempty"`
}

// HeaderContextShape names the fields a planner step's header context
// carries so downstream steps can re-resolve the anchor from it.
type HeaderContextShape struct {
	Fields []string `json:"fields"`
}

// RecipeStep is one step of a recipe instance. Rule lists arrive from JSONB
// columns and are decoded exactly once at the store boundary; by the time a
// step reaches the planning core its rules are already structured values.
type RecipeStep struct {
	ID               int64               `json:"id"`
	RecipeInstanceID int64               `json:"recipe_instance_id"`
	StageSlug        string              `json:"stage_slug"`
	StepKey          string              `json:"step_key"`
	JobType          JobType             `json:"job_type"`
	PromptType       PromptType          `json:"prompt_type"`
	PromptTemplateID *int64              `json:"prompt_template_id,omitempty"`
	Granularity      GranularityStrategy `json:"granularity_strategy"`
	OutputType       string              `json:"output_type"`
	ExecutionOrder   int                 `json:"execution_order"`
	ParallelGroup    *string             `json:"parallel_group,omitempty"`
	BranchKey        *string             `json:"branch_key,omitempty"`
	InputsRequired   []InputRule         `json:"inputs_required"`
	InputsRelevance  []RelevanceRule     `json:"inputs_relevance"`
	OutputsRequired  OutputRule          `json:"outputs_required"`
}

// HasDocumentInputs reports whether the step declares any document-bearing
// input rules.
func (s *RecipeStep) HasDocumentInputs() bool {
	for _, rule := range s.InputsRequired {
		if rule.Type.DocumentBearing() {
			return true
		}
	}
	return false
}

// ConsumesHeaderContext reports whether the step consumes a header context
// produced by an earlier step of its own stage.
func (s *RecipeStep) ConsumesHeaderContext() bool {
	for _, rule := range s.InputsRequired {
		if rule.Type == InputTypeHeaderContext && rule.Slug == s.StageSlug {
			return true
		}
	}
	return false
}
