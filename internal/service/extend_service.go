package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/extendamix/api/internal/model"
	"github.com/extendamix/api/internal/registry"
	"github.com/extendamix/api/internal/websocket"
	"github.com/extendamix/api/internal/worker"
)

// Queue names by job priority
const (
	QueueHigh    = "extend:high"
	QueueDefault = "extend:default"
	QueueLow     = "extend:low"
)

// Enqueuer dispatches a task for asynchronous execution. Satisfied by
// *asynq.Client.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ExtendService manages extend job submission, polling and cancellation.
type ExtendService struct {
	registry *registry.Registry
	enqueuer Enqueuer
	pub      websocket.Publisher
}

func NewExtendService(reg *registry.Registry, enqueuer Enqueuer, pub websocket.Publisher) *ExtendService {
	return &ExtendService{
		registry: reg,
		enqueuer: enqueuer,
		pub:      pub,
	}
}

// Submit registers a new job and dispatches it for asynchronous execution.
func (s *ExtendService) Submit(ctx context.Context, ownerID string, req *model.ExtendStartRequest) (*model.ExtendStartResponse, error) {
	params := req.Params
	if params.BeatDetection == "" {
		params.BeatDetection = "auto"
	}

	job := &model.Job{
		ID:         uuid.New().String(),
		TrackID:    req.TrackID,
		OwnerID:    ownerID,
		InputPath:  req.InputPath,
		OutputPath: req.OutputPath,
		Params:     params,
		Priority:   req.Priority,
	}

	jobID, err := s.registry.Submit(job)
	if err != nil {
		return nil, err
	}

	task, err := worker.NewExtendTask(jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	// No automatic retry: a failed job stays failed, re-submission is the
	// caller's decision.
	_, err = s.enqueuer.Enqueue(task,
		asynq.Queue(queueForPriority(req.Priority)),
		asynq.MaxRetry(0),
	)
	if err != nil {
		s.registry.Fail(jobID, "Failed to dispatch job")
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	stored, err := s.registry.Get(jobID)
	if err != nil {
		return nil, err
	}

	return &model.ExtendStartResponse{
		JobID:     jobID,
		Status:    stored.Status,
		CreatedAt: stored.CreatedAt,
	}, nil
}

// Status returns the current status of an extend job. Safe to poll at any
// frequency; never has side effects.
func (s *ExtendService) Status(ctx context.Context, jobID string) (*model.ExtendStatusResponse, error) {
	job, err := s.registry.Get(jobID)
	if err != nil {
		return nil, err
	}

	return &model.ExtendStatusResponse{
		JobID:       job.ID,
		TrackID:     job.TrackID,
		Status:      job.Status,
		Progress:    job.Progress,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// Cancel requests cooperative cancellation. Cancelled is false when the job
// does not exist or already reached a terminal state; no state changes then.
func (s *ExtendService) Cancel(ctx context.Context, jobID string) (*model.ExtendCancelResponse, error) {
	job, err := s.registry.Get(jobID)
	if err != nil {
		return &model.ExtendCancelResponse{Cancelled: false, JobID: jobID}, nil
	}

	if !s.registry.Cancel(jobID) {
		return &model.ExtendCancelResponse{
			Cancelled: false,
			JobID:     jobID,
			Status:    job.Status,
		}, nil
	}

	s.pub.PublishStatus(job.OwnerID, model.WSStatusMessage{
		Type:   model.WSMessageTypeStatus,
		JobID:  jobID,
		Status: model.JobStatusCancelled,
	})

	return &model.ExtendCancelResponse{
		Cancelled: true,
		JobID:     jobID,
		Status:    model.JobStatusCancelled,
	}, nil
}

func queueForPriority(priority int) string {
	switch {
	case priority >= 7:
		return QueueHigh
	case priority <= 2:
		return QueueLow
	default:
		return QueueDefault
	}
}
