package model

// Track status strings persisted to the track store
const (
	TrackStatusProcessing = "processing"
	TrackStatusCompleted  = "completed"
	TrackStatusError      = "error"
)

// TrackUpdate carries the fields a terminal transition persists for a track.
type TrackUpdate struct {
	Status      string
	OutputPath  string
	Duration    float64 // seconds
	Error       string
	BumpVersion bool
}

// ExtendResult is the payload broadcast on job completion.
type ExtendResult struct {
	TrackID    string  `json:"trackId"`
	OutputPath string  `json:"outputPath"`
	Duration   float64 `json:"duration"`
	Version    int64   `json:"version"`
}
