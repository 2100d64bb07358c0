package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/extendamix/api/internal/client"
	"github.com/extendamix/api/internal/model"
	"github.com/extendamix/api/internal/registry"
	"github.com/extendamix/api/internal/store"
	"github.com/extendamix/api/internal/websocket"
)

// TaskTypeExtend is the asynq task type for extend jobs.
const TaskTypeExtend = "extend:process"

// Stage percentage ceilings. The transform stage's synthetic ticks never
// reach the verification threshold, so reported motion cannot overstate
// certainty about an opaque external process.
const (
	pctSetup         = 10
	pctValidated     = 20
	pctTransform     = 80
	pctVerified      = 90
	transformTickPct = 3
)

// ExtendWorker drives one job through the staged extend pipeline, translating
// each stage's outcome into registry transitions and published events. It
// never lets an error escape to asynq's retry machinery; every failure ends
// in a terminal failed state.
type ExtendWorker struct {
	registry *registry.Registry
	executor client.Transformer
	store    store.TrackStore
	pub      websocket.Publisher

	// Interval between synthetic progress ticks while the executor runs.
	progressTick time.Duration
}

// NewExtendWorker creates a new extend worker
func NewExtendWorker(reg *registry.Registry, executor client.Transformer, trackStore store.TrackStore, pub websocket.Publisher) *ExtendWorker {
	return &ExtendWorker{
		registry:     reg,
		executor:     executor,
		store:        trackStore,
		pub:          pub,
		progressTick: 2 * time.Second,
	}
}

// ExtendTaskPayload is the asynq task body.
type ExtendTaskPayload struct {
	JobID string `json:"jobId"`
}

// NewExtendTask builds the asynq task for a submitted job.
func NewExtendTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(ExtendTaskPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeExtend, data), nil
}

// ProcessTask handles extend task processing
func (w *ExtendWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ExtendTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	return w.Run(ctx, payload.JobID)
}

// Run executes the pipeline for one job:
// setup → validate input → transform → verify output → finalize.
func (w *ExtendWorker) Run(ctx context.Context, jobID string) error {
	job, err := w.registry.Get(jobID)
	if err != nil {
		log.Printf("Extend job %s no longer tracked, skipping", jobID)
		return nil
	}

	if !w.registry.Activate(jobID) {
		// Cancelled (or otherwise resolved) before a worker picked it up.
		log.Printf("Extend job %s not runnable, skipping", jobID)
		return nil
	}
	log.Printf("Starting extend job %s for track %s", jobID, job.TrackID)

	if _, err := w.store.UpdateStatus(ctx, job.TrackID, model.TrackUpdate{Status: model.TrackStatusProcessing}); err != nil {
		log.Printf("Failed to mark track %s processing: %v", job.TrackID, err)
	}

	// Stage 1: setup
	if !w.progress(job, 5, model.StageSetup, 1, "Preparing job") {
		return nil
	}

	// Stage 2: validate input. A missing source is fatal, never retried.
	if _, err := os.Stat(job.InputPath); err != nil {
		w.fail(ctx, job, fmt.Sprintf("Source file missing: %s", job.InputPath))
		return nil
	}
	if !w.progress(job, 15, model.StageValidating, 2, "Validating source file") {
		return nil
	}

	// Stage 3: transform via the external executor.
	resp, ok := w.transform(ctx, job)
	if !ok {
		return nil
	}

	// Stage 4: verify the artifact exists. The executor's own success claim
	// is not trusted.
	if !w.progress(job, 85, model.StageVerifying, 4, "Verifying output file") {
		return nil
	}
	if _, err := os.Stat(job.OutputPath); err != nil {
		w.fail(ctx, job, fmt.Sprintf("Output file missing after transformation: %s", job.OutputPath))
		return nil
	}

	// Stage 5: finalize — persist the result, then complete.
	if !w.progress(job, 95, model.StageFinalizing, 5, "Saving result") {
		return nil
	}

	duration := resp.Duration
	if duration == 0 && w.executor != nil && w.executor.IsConfigured() {
		if info, err := w.executor.Analyze(ctx, job.OutputPath); err == nil {
			duration = info.Duration
		}
	}

	version, err := w.store.UpdateStatus(ctx, job.TrackID, model.TrackUpdate{
		Status:      model.TrackStatusCompleted,
		OutputPath:  job.OutputPath,
		Duration:    duration,
		BumpVersion: true,
	})
	if err != nil {
		w.fail(ctx, job, "Failed to save result")
		return nil
	}

	if w.registry.Complete(jobID) {
		w.pub.PublishComplete(job.OwnerID, model.WSCompleteMessage{
			Type:  model.WSMessageTypeComplete,
			JobID: jobID,
			Result: model.ExtendResult{
				TrackID:    job.TrackID,
				OutputPath: job.OutputPath,
				Duration:   duration,
				Version:    version,
			},
		})
		log.Printf("Extend job %s completed", jobID)
	}
	return nil
}

// transform runs the executor while emitting synthetic progress increments.
// The true progress of the external process is unknown, so reported motion is
// best-effort and capped below the verification threshold. Returns ok=false
// when the job ended (failure or cancellation) and the pipeline must stop.
func (w *ExtendWorker) transform(ctx context.Context, job model.Job) (*client.ExtendResponse, bool) {
	if !w.progress(job, pctValidated, model.StageTransforming, 3, "Extending track") {
		return nil, false
	}

	type outcome struct {
		resp *client.ExtendResponse
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		resp, err := w.runExecutor(ctx, job)
		done <- outcome{resp: resp, err: err}
	}()

	ticker := time.NewTicker(w.progressTick)
	defer ticker.Stop()

	pct := pctValidated
	for {
		select {
		case out := <-done:
			if out.err != nil {
				w.fail(ctx, job, fmt.Sprintf("Transformation failed: %v", out.err))
				return nil, false
			}
			return out.resp, true

		case <-ticker.C:
			if pct < pctTransform-transformTickPct {
				pct += transformTickPct
			}
			if !w.progress(job, pct, model.StageTransforming, 3, "Extending track") {
				// Cancelled mid-transform: stop consuming the executor's
				// output and discard its eventual result.
				log.Printf("Extend job %s cancelled during transform", job.ID)
				return nil, false
			}

		case <-ctx.Done():
			// Worker server shutting down; the registry shutdown pass marks
			// the tracked state.
			return nil, false
		}
	}
}

// runExecutor calls the audio service, or simulates the transform locally
// when no service is configured (development mode).
func (w *ExtendWorker) runExecutor(ctx context.Context, job model.Job) (*client.ExtendResponse, error) {
	if w.executor == nil || !w.executor.IsConfigured() {
		return w.mockExtend(job)
	}

	return w.executor.Extend(ctx, &client.ExtendRequest{
		InputPath:      job.InputPath,
		OutputPath:     job.OutputPath,
		IntroBars:      job.Params.IntroBars,
		OutroBars:      job.Params.OutroBars,
		PreserveVocals: job.Params.PreserveVocals,
		BeatDetection:  job.Params.BeatDetection,
	})
}

// mockExtend copies the input to the output so the verification stage sees a
// real artifact.
func (w *ExtendWorker) mockExtend(job model.Job) (*client.ExtendResponse, error) {
	in, err := os.Open(job.InputPath)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	out, err := os.Create(job.OutputPath)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return nil, err
	}

	return &client.ExtendResponse{
		Status:     "success",
		OutputPath: job.OutputPath,
	}, nil
}

// progress records a snapshot in the registry and, only if it took effect,
// forwards it to subscribers. A false return means the job is no longer
// active and the runner must stop issuing work.
func (w *ExtendWorker) progress(job model.Job, pct int, stage string, step int, msg string) bool {
	p := model.Progress{
		Percentage:  pct,
		Stage:       stage,
		Message:     msg,
		CurrentStep: step,
		TotalSteps:  5,
	}
	if !w.registry.UpdateProgress(job.ID, p) {
		return false
	}
	w.pub.PublishProgress(job.OwnerID, model.WSProgressMessage{
		Type:     model.WSMessageTypeProgress,
		JobID:    job.ID,
		TrackID:  job.TrackID,
		Status:   model.JobStatusActive,
		Progress: p,
	})
	return true
}

// fail marks the job failed, persists the error on the track and publishes
// the failure. If another transition won the race it does nothing.
func (w *ExtendWorker) fail(ctx context.Context, job model.Job, errMsg string) {
	if !w.registry.Fail(job.ID, errMsg) {
		return
	}
	if _, err := w.store.UpdateStatus(ctx, job.TrackID, model.TrackUpdate{
		Status: model.TrackStatusError,
		Error:  errMsg,
	}); err != nil {
		log.Printf("Failed to persist error for track %s: %v", job.TrackID, err)
	}
	w.pub.PublishError(job.OwnerID, model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: job.ID,
		Error: model.WSError{Code: "EXTEND_FAILED", Message: errMsg},
	})
	log.Printf("Extend job %s failed: %s", job.ID, errMsg)
}
