package model

import (
	"encoding/json"
	"fmt"
)

// Payload is the typed form of a job row's payload column. Decoding happens
// exactly once, at the store boundary, via DecodePayload; everything past
// that boundary works with structured values and never re-inspects raw JSON.
type Payload interface {
	// Type returns the job type the payload belongs to.
	Type() JobType
	// Project returns the owning project id.
	Project() int64
	// Model returns the model identity the payload can be proven to target,
	// or nil when the payload does not expose one.
	Model() *int64
}

// PlannerMetadata links a child job back to the recipe step that planned
// it, so downstream consumers can re-resolve the step's declared outputs
// without re-querying the recipe by name.
type PlannerMetadata struct {
	RecipeStepID int64 `json:"recipe_step_id"`
}

// CanonicalPathParams is the storage-path and lineage metadata stamped onto
// every execute job. It is pure metadata computed from already-resolved
// documents; building it never touches storage.
type CanonicalPathParams struct {
	ContributionType      string `json:"contributionType"`
	StageSlug             string `json:"stageSlug"`
	IterationNumber       int    `json:"iterationNumber"`
	SourceAnchorType      string `json:"sourceAnchorType,omitempty"`
	SourceAnchorModelSlug string `json:"sourceAnchorModelSlug,omitempty"`
	SourceAnchorModelID   *int64 `json:"sourceAnchorModelId,omitempty"`
}

// PlanPayload is the payload of a parent PLAN job. Skeleton plans created
// ahead of their prerequisites additionally carry PlannerMetadata.
type PlanPayload struct {
	JobType         JobType          `json:"job_type"`
	ProjectID       int64            `json:"projectId"`
	SessionID       int64            `json:"sessionId"`
	StageSlug       string           `json:"stageSlug"`
	IterationNumber int              `json:"iterationNumber"`
	ModelID         int64            `json:"model_id"`
	WalletID        string           `json:"walletId"`
	UserJWT         string           `json:"user_jwt,omitempty"`
	StepKey         *string          `json:"step_key,omitempty"`
	PlannerMetadata *PlannerMetadata `json:"planner_metadata,omitempty"`
}

func (p *PlanPayload) Type() JobType  { return JobTypePlan }
func (p *PlanPayload) Project() int64 { return p.ProjectID }

func (p *PlanPayload) Model() *int64 {
	if p.ModelID == 0 {
		return nil
	}
	return &p.ModelID
}

// ExecutePayload is the child job payload the granularity planners emit.
type ExecutePayload struct {
	JobType              JobType                `json:"job_type"`
	ProjectID            int64                  `json:"projectId"`
	SessionID            int64                  `json:"sessionId"`
	StageSlug            string                 `json:"stageSlug"`
	IterationNumber      int                    `json:"iterationNumber"`
	ModelID              int64                  `json:"model_id"`
	PromptTemplateID     *int64                 `json:"prompt_template_id,omitempty"`
	OutputType           string                 `json:"output_type"`
	CanonicalPathParams  CanonicalPathParams    `json:"canonicalPathParams"`
	Relationships        *DocumentRelationships `json:"document_relationships,omitempty"`
	Inputs               []int64                `json:"inputs"`
	WalletID             string                 `json:"walletId"`
	UserJWT              string                 `json:"user_jwt,omitempty"`
	SourceContributionID *int64                 `json:"sourceContributionId,omitempty"`
	PlannerMetadata      PlannerMetadata        `json:"planner_metadata"`
	IsIntermediate       bool                   `json:"isIntermediate"`
}

func (p *ExecutePayload) Type() JobType  { return JobTypeExecute }
func (p *ExecutePayload) Project() int64 { return p.ProjectID }

// Model returns the payload's model id, falling back to the canonical path
// params' anchor model when the top-level field is absent.
func (p *ExecutePayload) Model() *int64 {
	if p.ModelID != 0 {
		return &p.ModelID
	}
	return p.CanonicalPathParams.SourceAnchorModelID
}

// RenderPayload materializes a final document for one document key.
type RenderPayload struct {
	JobType         JobType `json:"job_type"`
	ProjectID       int64   `json:"projectId"`
	SessionID       int64   `json:"sessionId"`
	StageSlug       string  `json:"stageSlug"`
	IterationNumber int     `json:"iterationNumber"`
	ModelID         int64   `json:"model_id"`
	DocumentKey     string  `json:"documentKey"`
	Inputs          []int64 `json:"inputs"`
	WalletID        string  `json:"walletId"`
}

func (p *RenderPayload) Type() JobType  { return JobTypeRender }
func (p *RenderPayload) Project() int64 { return p.ProjectID }

func (p *RenderPayload) Model() *int64 {
	if p.ModelID == 0 {
		return nil
	}
	return &p.ModelID
}

// DecodePayload decodes a raw payload column into its typed form based on
// the row's job type. Unknown job types are rejected here so the planning
// core never sees untyped data.
func DecodePayload(jobType JobType, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty payload for job_type %q", jobType)
	}

	switch jobType {
	case JobTypePlan:
		var p PlanPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding plan payload: %w", err)
		}
		return &p, nil
	case JobTypeExecute:
		var p ExecutePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding execute payload: %w", err)
		}
		return &p, nil
	case JobTypeRender:
		var p RenderPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding render payload: %w", err)
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown job_type %q", jobType)
	}
}

// EncodePayload is the inverse boundary: typed payloads are serialized only
// when a job row is written.
func EncodePayload(p Payload) (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", p.Type(), err)
	}
	return data, nil
}
