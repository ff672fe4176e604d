package model

import "time"

// Session is one run of the pipeline for a project. A session walks the
// stages in order and may iterate a stage multiple times.
type Session struct {
	ID               int64     `json:"id"`
	ProjectID        int64     `json:"project_id"`
	CurrentStageSlug string    `json:"current_stage_slug"`
	IterationNumber  int       `json:"iteration_number"`
	SelectedModelIDs []int64   `json:"selected_model_ids"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AIModel is a catalog entry for a generation model. Slug is the stable
// identifier used in storage paths and file names.
type AIModel struct {
	ID          int64  `json:"id"`
	Slug        string `json:"slug"`
	DisplayName string `json:"display_name"`
	Provider    string `json:"provider"`
	APIModel    string `json:"api_model"`
}
