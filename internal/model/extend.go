package model

import "time"

// ExtendStartRequest represents the request to start an extend job
type ExtendStartRequest struct {
	TrackID    string       `json:"trackId" validate:"required,uuid"`
	InputPath  string       `json:"inputPath" validate:"required"`
	OutputPath string       `json:"outputPath" validate:"required"`
	Params     ExtendParams `json:"params" validate:"required"`
	Priority   int          `json:"priority" validate:"min=0,max=10"`
}

// ExtendStartResponse represents the response when starting an extend job
type ExtendStartResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// ExtendStatusResponse represents the status of an extend job
type ExtendStatusResponse struct {
	JobID       string     `json:"jobId"`
	TrackID     string     `json:"trackId"`
	Status      JobStatus  `json:"status"`
	Progress    *Progress  `json:"progress,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ExtendCancelResponse represents the response when cancelling an extend job
type ExtendCancelResponse struct {
	Cancelled bool      `json:"cancelled"`
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status,omitempty"`
}
