package model

import "time"

// Well-known document kinds shared between recipes and the planners.
const (
	DocumentKeyHeaderContext = "header_context"
	DocumentKeyRendered      = "rendered_document"
	DocumentKeyAssembledJSON = "assembled_document_json"
)

// DocumentRelationships carries a document's lineage metadata. SourceGroup
// is a weak back-reference: the id of the ancestor document this one
// descends from, or nil for a lineage root. It is never an embedded object
// graph; resolving it goes through the contribution store.
type DocumentRelationships struct {
	SourceGroup    *int64 `json:"source_group"`
	IsContinuation bool   `json:"isContinuation,omitempty"`
	TurnIndex      *int   `json:"turnIndex,omitempty"`
}

// SourceDocument is a materialized prior artifact consumed read-only by the
// planners. FileName is nil for non-file artifacts such as seed prompts.
type SourceDocument struct {
	ID               int64                  `json:"id"`
	Content          string                 `json:"content"`
	DocumentKey      string                 `json:"document_key"`
	ContributionType string                 `json:"contribution_type"`
	Stage            string                 `json:"stage"`
	ModelID          *int64                 `json:"model_id,omitempty"`
	ModelSlug        *string                `json:"model_slug,omitempty"`
	FileName         *string                `json:"file_name,omitempty"`
	Relationships    *DocumentRelationships `json:"document_relationships,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// LineageRoot returns the id of the document's lineage root: its
// source_group when set, otherwise the document's own id.
func (d *SourceDocument) LineageRoot() int64 {
	if d.Relationships != nil && d.Relationships.SourceGroup != nil {
		return *d.Relationships.SourceGroup
	}
	return d.ID
}

// Contribution is the persisted form of a produced artifact. Source
// documents are projections of contribution rows.
type Contribution struct {
	ID               int64                  `json:"id"`
	SessionID        int64                  `json:"session_id"`
	ProjectID        int64                  `json:"project_id"`
	StageSlug        string                 `json:"stage_slug"`
	IterationNumber  int                    `json:"iteration_number"`
	JobID            *int64                 `json:"job_id,omitempty"`
	DocumentKey      string                 `json:"document_key"`
	ContributionType string                 `json:"contribution_type"`
	ModelID          *int64                 `json:"model_id,omitempty"`
	ModelSlug        *string                `json:"model_slug,omitempty"`
	FileName         *string                `json:"file_name,omitempty"`
	Content          string                 `json:"content"`
	Relationships    *DocumentRelationships `json:"document_relationships,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// AsSourceDocument projects a contribution into the read-only view the
// planning core consumes.
func (c *Contribution) AsSourceDocument() SourceDocument {
	return SourceDocument{
		ID:               c.ID,
		Content:          c.Content,
		DocumentKey:      c.DocumentKey,
		ContributionType: c.ContributionType,
		Stage:            c.StageSlug,
		ModelID:          c.ModelID,
		ModelSlug:        c.ModelSlug,
		FileName:         c.FileName,
		Relationships:    c.Relationships,
		CreatedAt:        c.CreatedAt,
	}
}
