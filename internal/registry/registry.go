package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/extendamix/api/internal/model"
	"github.com/extendamix/api/internal/pathsafe"
)

var (
	// ErrNotFound is returned when no job exists under the given id.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidPath is returned when a submitted path fails the safety check.
	ErrInvalidPath = errors.New("invalid path")
	// ErrDuplicateJob is returned when a job id is submitted twice.
	ErrDuplicateJob = errors.New("job id already exists")
)

// CancelledByUser is the error message recorded on user cancellation.
const CancelledByUser = "Cancelled by user"

// Registry owns every in-flight Job record and is the sole authority on state
// transitions. All mutations go through it; other components only receive
// copies. One instance per process, dependencies injected.
type Registry struct {
	mu        sync.RWMutex
	jobs      map[string]*model.Job
	validator pathsafe.Validator
}

// New creates an empty registry using the given path validator.
func New(validator pathsafe.Validator) *Registry {
	return &Registry{
		jobs:      make(map[string]*model.Job),
		validator: validator,
	}
}

// Submit validates the job's paths and stores it in the queued state.
// The caller must supply a fresh job id; duplicate submissions are rejected.
func (r *Registry) Submit(job *model.Job) (string, error) {
	if err := r.validator.Validate(job.InputPath, pathsafe.ModeRead); err != nil {
		return "", fmt.Errorf("%w: input: %v", ErrInvalidPath, err)
	}
	if err := r.validator.Validate(job.OutputPath, pathsafe.ModeWrite); err != nil {
		return "", fmt.Errorf("%w: output: %v", ErrInvalidPath, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return "", ErrDuplicateJob
	}

	stored := *job
	stored.Status = model.JobStatusQueued
	stored.CreatedAt = time.Now()
	r.jobs[job.ID] = &stored

	return job.ID, nil
}

// Get returns a copy of the job. Never has side effects.
func (r *Registry) Get(jobID string) (model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return model.Job{}, ErrNotFound
	}
	return *job, nil
}

// Activate transitions queued→active when a worker picks the job up.
// Returns false if the job is missing or no longer queued (e.g. cancelled
// while waiting), in which case the worker must not run it.
func (r *Registry) Activate(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok || job.Status != model.JobStatusQueued {
		return false
	}

	job.Status = model.JobStatusActive
	now := time.Now()
	job.StartedAt = &now
	return true
}

// UpdateProgress records a progress snapshot. Legal only while the job is
// active; otherwise it is a no-op returning false, since progress sources may
// race with cancellation. The returned bool tells the runner whether the
// update took effect (and so whether it should be published).
func (r *Registry) UpdateProgress(jobID string, p model.Progress) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok || job.Status != model.JobStatusActive {
		return false
	}

	snapshot := p
	job.Progress = &snapshot
	return true
}

// Cancel transitions a queued or active job to cancelled. Returns false if
// the job does not exist or is already terminal; first transition wins.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok || job.Status.IsTerminal() {
		return false
	}

	job.Status = model.JobStatusCancelled
	msg := CancelledByUser
	job.Error = &msg
	now := time.Now()
	job.CompletedAt = &now
	return true
}

// Complete transitions an active job to completed with progress pinned at
// 100. Rejected (false) if the job is missing or already terminal.
func (r *Registry) Complete(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok || job.Status != model.JobStatusActive {
		return false
	}

	job.Status = model.JobStatusCompleted
	job.Progress = &model.Progress{
		Percentage:  100,
		Stage:       model.StageCompleted,
		CurrentStep: totalSteps,
		TotalSteps:  totalSteps,
	}
	now := time.Now()
	job.CompletedAt = &now
	return true
}

// Fail transitions a queued or active job to failed with the given message.
// Rejected (false) if the job is missing or already terminal.
func (r *Registry) Fail(jobID, errMsg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok || job.Status.IsTerminal() {
		return false
	}

	job.Status = model.JobStatusFailed
	job.Error = &errMsg
	now := time.Now()
	job.CompletedAt = &now
	return true
}

// Shutdown force-fails every non-terminal job so nothing is left dangling in
// active across a restart. Returns the ids that were transitioned.
func (r *Registry) Shutdown(reason string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var failed []string
	now := time.Now()
	for id, job := range r.jobs {
		if job.Status.IsTerminal() {
			continue
		}
		job.Status = model.JobStatusFailed
		msg := reason
		job.Error = &msg
		job.CompletedAt = &now
		failed = append(failed, id)
	}
	return failed
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

const totalSteps = 5
