package model

import "time"

// Upload status
type UploadStatus string

const (
	UploadStatusUploading  UploadStatus = "uploading"
	UploadStatusProcessing UploadStatus = "processing"
	UploadStatusCompleted  UploadStatus = "completed"
	UploadStatusError      UploadStatus = "error"
)

// UploadSession tracks raw byte transfer for one upload, independent of any job.
type UploadSession struct {
	UploadID               string       `json:"uploadId"`
	Filename               string       `json:"filename"`
	TotalBytes             int64        `json:"totalBytes"`
	BytesReceived          int64        `json:"bytesReceived"`
	Percentage             int          `json:"percentage"`
	Status                 UploadStatus `json:"status"`
	Speed                  float64      `json:"speed"` // bytes/sec
	EstimatedTimeRemaining float64      `json:"estimatedTimeRemaining"`
	StartedAt              time.Time    `json:"startedAt"`
}

// UploadInitRequest represents the request to begin an upload
type UploadInitRequest struct {
	Filename   string `json:"filename" validate:"required"`
	TotalBytes int64  `json:"totalBytes" validate:"required,min=1"`
}

// UploadInitResponse represents the response to an upload init
type UploadInitResponse struct {
	UploadID string `json:"uploadId"`
	Path     string `json:"path"`
}
