package model

import "time"

// Job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are permitted.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Stage labels reported in progress updates
const (
	StageSetup        = "setup"
	StageValidating   = "validating"
	StageTransforming = "transforming"
	StageVerifying    = "verifying"
	StageFinalizing   = "finalizing"
	StageCompleted    = "completed"
)

// Progress is a point-in-time snapshot of a job's work.
type Progress struct {
	Percentage             int    `json:"percentage"`
	Stage                  string `json:"stage"`
	Message                string `json:"message,omitempty"`
	CurrentStep            int    `json:"currentStep"`
	TotalSteps             int    `json:"totalSteps"`
	EstimatedTimeRemaining *int   `json:"estimatedTimeRemaining,omitempty"` // seconds
}

// Job represents one unit of background extend work, tracked end-to-end by id.
// TrackID, InputPath and OutputPath are immutable once the job is created.
type Job struct {
	ID          string       `json:"id"`
	TrackID     string       `json:"trackId"`
	OwnerID     string       `json:"ownerId"`
	InputPath   string       `json:"-"`
	OutputPath  string       `json:"-"`
	Params      ExtendParams `json:"params"`
	Priority    int          `json:"priority"`
	Status      JobStatus    `json:"status"`
	Progress    *Progress    `json:"progress,omitempty"`
	Error       *string      `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

// ExtendParams holds the transformation configuration passed through to the
// audio service. Defaults mirror the processor's CLI defaults.
type ExtendParams struct {
	IntroBars      int    `json:"introBars" validate:"required,min=1,max=64"`
	OutroBars      int    `json:"outroBars" validate:"min=0,max=64"`
	PreserveVocals bool   `json:"preserveVocals"`
	BeatDetection  string `json:"beatDetection" validate:"omitempty,oneof=auto librosa madmom"`
}
