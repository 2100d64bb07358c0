package upload

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/extendamix/api/internal/model"
)

var (
	// ErrNotFound is returned when no session exists under the given id.
	ErrNotFound = errors.New("upload session not found")
	// ErrTooLarge is returned when the declared size exceeds the maximum.
	ErrTooLarge = errors.New("upload exceeds maximum size")
	// ErrInvalidSize is returned when the declared size is not positive.
	ErrInvalidSize = errors.New("upload size must be positive")
	// ErrDisallowedType is returned for filenames outside the allowlist.
	ErrDisallowedType = errors.New("file type not allowed")
	// ErrFinished is returned when bytes arrive for a finished session.
	ErrFinished = errors.New("upload already finished")
)

// ExtensionChecker validates a filename's extension. Satisfied by
// pathsafe.PathValidator.
type ExtensionChecker interface {
	AllowedExtension(filename string) bool
}

// Tracker tracks byte-level transfer progress for in-flight uploads,
// independent of any job. Sessions live only in process memory.
type Tracker struct {
	mu         sync.RWMutex
	sessions   map[string]*session
	maxBytes   int64
	extensions ExtensionChecker

	now func() time.Time
}

type session struct {
	model.UploadSession
	stagingPath string
}

// NewTracker creates a tracker that rejects uploads above maxBytes or with a
// filename the checker refuses.
func NewTracker(maxBytes int64, extensions ExtensionChecker) *Tracker {
	return &Tracker{
		sessions:   make(map[string]*session),
		maxBytes:   maxBytes,
		extensions: extensions,
		now:        time.Now,
	}
}

// Init validates the declared upload synchronously and creates a session.
// On rejection no session is allocated. stagingPath is the partial file the
// transfer writes into; Cancel deletes it.
func (t *Tracker) Init(uploadID, filename string, totalBytes int64, stagingPath string) error {
	if totalBytes <= 0 {
		return fmt.Errorf("%w: declared size %d", ErrInvalidSize, totalBytes)
	}
	if totalBytes > t.maxBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, totalBytes, t.maxBytes)
	}
	if !t.extensions.AllowedExtension(filename) {
		return fmt.Errorf("%w: %s", ErrDisallowedType, filename)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessions[uploadID] = &session{
		UploadSession: model.UploadSession{
			UploadID:   uploadID,
			Filename:   filename,
			TotalBytes: totalBytes,
			Status:     model.UploadStatusUploading,
			StartedAt:  t.now(),
		},
		stagingPath: stagingPath,
	}

	return nil
}

// AddBytes records delta received bytes and recomputes the derived fields.
// bytesReceived is monotonically non-decreasing; percentage is clamped to 100.
func (t *Tracker) AddBytes(uploadID string, delta int64) error {
	if delta < 0 {
		return fmt.Errorf("negative delta %d", delta)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[uploadID]
	if !ok {
		return ErrNotFound
	}
	if s.Status != model.UploadStatusUploading {
		return ErrFinished
	}

	t.addBytesLocked(s, delta)
	return nil
}

// AppendChunk writes a chunk to the session's staging file and records the
// received bytes. The write happens under the session lock so it cannot race
// with Cancel: a chunk in flight when the session is removed finds no session
// and never recreates the deleted staging file.
func (t *Tracker) AppendChunk(uploadID string, chunk []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[uploadID]
	if !ok {
		return ErrNotFound
	}
	if s.Status != model.UploadStatusUploading {
		return ErrFinished
	}

	f, err := os.OpenFile(s.stagingPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open staging file: %w", err)
	}
	if _, err := f.Write(chunk); err != nil {
		f.Close()
		return fmt.Errorf("failed to write chunk: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close staging file: %w", err)
	}

	t.addBytesLocked(s, int64(len(chunk)))
	return nil
}

func (t *Tracker) addBytesLocked(s *session, delta int64) {
	s.BytesReceived += delta

	pct := int(s.BytesReceived * 100 / s.TotalBytes)
	if pct > 100 {
		pct = 100
	}
	s.Percentage = pct

	elapsed := t.now().Sub(s.StartedAt).Seconds()
	if elapsed > 0 {
		s.Speed = float64(s.BytesReceived) / elapsed
	}
	if s.Speed > 0 {
		remaining := s.TotalBytes - s.BytesReceived
		if remaining < 0 {
			remaining = 0
		}
		s.EstimatedTimeRemaining = float64(remaining) / s.Speed
	} else {
		s.EstimatedTimeRemaining = 0
	}
}

// Get returns a snapshot of the session.
func (t *Tracker) Get(uploadID string) (model.UploadSession, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.sessions[uploadID]
	if !ok {
		return model.UploadSession{}, ErrNotFound
	}
	return s.UploadSession, nil
}

// Finish transitions the session to completed or error. A completed upload
// does not create a job; that is the caller's next step.
func (t *Tracker) Finish(uploadID string, ok bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, exists := t.sessions[uploadID]
	if !exists {
		return ErrNotFound
	}
	if ok {
		s.Status = model.UploadStatusCompleted
		s.Percentage = 100
	} else {
		s.Status = model.UploadStatusError
	}
	return nil
}

// Cancel removes the session and deletes the partially-written staging file
// so no orphan is left behind. In-flight transfers observe the removal on
// their next AddBytes call and abort.
func (t *Tracker) Cancel(uploadID string) error {
	t.mu.Lock()
	s, ok := t.sessions[uploadID]
	if ok {
		delete(t.sessions, uploadID)
	}
	t.mu.Unlock()

	if !ok {
		return ErrNotFound
	}

	if s.stagingPath != "" {
		if err := os.Remove(s.stagingPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove partial upload: %w", err)
		}
	}
	return nil
}

// Evict drops a finished session once its completion has been consumed.
func (t *Tracker) Evict(uploadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, uploadID)
}

// Len returns the number of live sessions.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
