package service

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/extendamix/api/internal/model"
	"github.com/extendamix/api/internal/upload"
)

// UploadService stages incoming files on disk and tracks their transfer
// progress. A completed upload does not create a job; the caller submits one
// with the staged path afterwards.
type UploadService struct {
	tracker    *upload.Tracker
	stagingDir string
}

func NewUploadService(tracker *upload.Tracker, stagingDir string) *UploadService {
	return &UploadService{
		tracker:    tracker,
		stagingDir: stagingDir,
	}
}

// Init validates the declared upload and opens a session. Rejections happen
// before any memory or disk is allocated.
func (s *UploadService) Init(req *model.UploadInitRequest) (*model.UploadInitResponse, error) {
	uploadID := uuid.New().String()
	staging := filepath.Join(s.stagingDir, uploadID+strings.ToLower(filepath.Ext(req.Filename)))

	if err := s.tracker.Init(uploadID, req.Filename, req.TotalBytes, staging); err != nil {
		return nil, err
	}

	return &model.UploadInitResponse{
		UploadID: uploadID,
		Path:     staging,
	}, nil
}

// ReceiveChunk appends a chunk to the staging file and updates the byte
// counters. An error means the transfer must abort (e.g. the session was
// cancelled underneath it).
func (s *UploadService) ReceiveChunk(uploadID string, chunk []byte) (model.UploadSession, error) {
	if err := s.tracker.AppendChunk(uploadID, chunk); err != nil {
		return model.UploadSession{}, err
	}
	return s.tracker.Get(uploadID)
}

// Progress returns the session snapshot.
func (s *UploadService) Progress(uploadID string) (model.UploadSession, error) {
	return s.tracker.Get(uploadID)
}

// Complete marks the upload finished and consumes the session. Short uploads
// are marked errored and stay queryable; a successful completion is final, so
// its session is evicted once the closing snapshot is taken.
func (s *UploadService) Complete(uploadID string) (model.UploadSession, error) {
	sess, err := s.tracker.Get(uploadID)
	if err != nil {
		return model.UploadSession{}, err
	}

	if sess.BytesReceived < sess.TotalBytes {
		_ = s.tracker.Finish(uploadID, false)
		return model.UploadSession{}, fmt.Errorf("upload incomplete: %d of %d bytes", sess.BytesReceived, sess.TotalBytes)
	}

	if err := s.tracker.Finish(uploadID, true); err != nil {
		return model.UploadSession{}, err
	}

	final, err := s.tracker.Get(uploadID)
	if err != nil {
		return model.UploadSession{}, err
	}
	s.tracker.Evict(uploadID)
	return final, nil
}

// Cancel aborts the transfer and removes the partially-written staging file.
func (s *UploadService) Cancel(uploadID string) error {
	return s.tracker.Cancel(uploadID)
}
