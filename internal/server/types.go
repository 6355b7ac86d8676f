package server

import "time"

// CreateFeatureRequest is the POST /features request body.
type CreateFeatureRequest struct {
	ID            string   `json:"id,omitempty"`
	Category      string   `json:"category,omitempty"`
	Description   string   `json:"description"`
	Steps         []string `json:"steps,omitempty"`
	SkipTests     bool     `json:"skipTests,omitempty"`
	Model         string   `json:"model,omitempty"`
	ThinkingLevel string   `json:"thinkingLevel,omitempty"`
	Priority      int      `json:"priority,omitempty"`
	Dependencies  []string `json:"dependencies,omitempty"`
}

// UpdateFeatureRequest is the PATCH /features/{id} request body. Nil fields
// are left untouched.
type UpdateFeatureRequest struct {
	Status        *string   `json:"status,omitempty"`
	Category      *string   `json:"category,omitempty"`
	Description   *string   `json:"description,omitempty"`
	Steps         *[]string `json:"steps,omitempty"`
	SkipTests     *bool     `json:"skipTests,omitempty"`
	Model         *string   `json:"model,omitempty"`
	ThinkingLevel *string   `json:"thinkingLevel,omitempty"`
	Priority      *int      `json:"priority,omitempty"`
	Dependencies  *[]string `json:"dependencies,omitempty"`
}

// StatusResponse is returned by GET /status: every active run plus whether
// the concurrency cap admits another.
type StatusResponse struct {
	Running      []FeatureStatusResponse `json:"running"`
	RunningCount int                     `json:"runningCount"`
	CanStart     bool                    `json:"canStart"`
}

// FollowUpRequest is the POST /features/{id}/followup request body.
type FollowUpRequest struct {
	Message string     `json:"message"`
	Images  []ImageRef `json:"images,omitempty"`
}

// ImageRef mirrors the feature schema's imagePaths entries for follow-up
// attachments.
type ImageRef struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
}

// FeatureStatusResponse is returned by GET /features/{id}/status. It merges
// the on-disk Feature status with the Scheduler's in-memory RunContext, when
// one is active.
type FeatureStatusResponse struct {
	FeatureID    string    `json:"featureId"`
	Status       string    `json:"status"`
	Running      bool      `json:"running"`
	RunID        string    `json:"runId,omitempty"`
	Phase        string    `json:"phase,omitempty"`
	WorktreePath string    `json:"worktreePath,omitempty"`
	StartedAt    time.Time `json:"startedAt,omitempty"`
}

// ErrorResponse is the standard error envelope every handler falls back to.
type ErrorResponse struct {
	Error string `json:"error"`
}
