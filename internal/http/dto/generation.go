package dto

type StartGenerationRequest struct {
	WalletID string `json:"wallet_id" binding:"required"`
	UserJWT  string `json:"user_jwt,omitempty"`
}

type StartGenerationResponse struct {
	SessionID       int64   `json:"session_id"`
	StageSlug       string  `json:"stage_slug"`
	IterationNumber int     `json:"iteration_number"`
	JobIDs          []int64 `json:"job_ids"`
}
