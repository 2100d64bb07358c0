package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/extendamix/api/internal/client"
	"github.com/extendamix/api/internal/model"
	"github.com/extendamix/api/internal/pathsafe"
	"github.com/extendamix/api/internal/registry"
)

// fakeExecutor scripts the external audio service.
type fakeExecutor struct {
	configured bool
	extendErr  error
	duration   float64
	writeOut   bool // create the output file on success

	block chan struct{} // when set, Extend waits until closed

	mu      sync.Mutex
	extends int
}

func (f *fakeExecutor) Extend(ctx context.Context, req *client.ExtendRequest) (*client.ExtendResponse, error) {
	f.mu.Lock()
	f.extends++
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	if f.extendErr != nil {
		return nil, f.extendErr
	}
	if f.writeOut {
		if err := os.WriteFile(req.OutputPath, []byte("extended"), 0o644); err != nil {
			return nil, err
		}
	}
	return &client.ExtendResponse{Status: "success", OutputPath: req.OutputPath, Duration: f.duration}, nil
}

func (f *fakeExecutor) Analyze(ctx context.Context, path string) (*client.TrackInfo, error) {
	return &client.TrackInfo{Format: "mp3", Duration: 215.5, BPM: 128}, nil
}

func (f *fakeExecutor) HealthCheck(ctx context.Context) error { return nil }
func (f *fakeExecutor) IsConfigured() bool                    { return f.configured }

// fakeStore records track updates in memory.
type fakeStore struct {
	mu      sync.Mutex
	updates []model.TrackUpdate
	version int64
	fail    bool
}

func (f *fakeStore) UpdateStatus(ctx context.Context, trackID string, update model.TrackUpdate) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, errors.New("store unavailable")
	}
	f.updates = append(f.updates, update)
	if update.BumpVersion {
		f.version++
	}
	return f.version, nil
}

func (f *fakeStore) GetStatus(ctx context.Context, trackID string) (map[string]string, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeStore) statuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.updates))
	for i, u := range f.updates {
		out[i] = u.Status
	}
	return out
}

// fakePublisher records every published event.
type fakePublisher struct {
	mu        sync.Mutex
	progress  []model.WSProgressMessage
	completes []model.WSCompleteMessage
	errors    []model.WSErrorMessage
	statuses  []model.WSStatusMessage
	owners    map[string]bool
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{owners: make(map[string]bool)}
}

func (f *fakePublisher) PublishProgress(ownerID string, msg model.WSProgressMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, msg)
	f.owners[ownerID] = true
}

func (f *fakePublisher) PublishComplete(ownerID string, msg model.WSCompleteMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes = append(f.completes, msg)
	f.owners[ownerID] = true
}

func (f *fakePublisher) PublishError(ownerID string, msg model.WSErrorMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, msg)
	f.owners[ownerID] = true
}

func (f *fakePublisher) PublishStatus(ownerID string, msg model.WSStatusMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, msg)
	f.owners[ownerID] = true
}

func (f *fakePublisher) counts() (progress, completes, errs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.progress), len(f.completes), len(f.errors)
}

type acceptAllValidator struct{}

func (acceptAllValidator) Validate(path string, mode pathsafe.Mode) error { return nil }

// submitJob places a queued job in the registry pointing at real temp files.
// The input file always exists; the output appears only when the executor
// writes it.
func submitJob(t *testing.T, reg *registry.Registry, id string) model.Job {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "in.mp3")
	if err := os.WriteFile(input, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	job := model.Job{
		ID:         id,
		TrackID:    "track-" + id,
		OwnerID:    "owner-1",
		InputPath:  input,
		OutputPath: filepath.Join(dir, "out.mp3"),
		Params:     model.ExtendParams{IntroBars: 16, OutroBars: 16, PreserveVocals: true, BeatDetection: "auto"},
	}
	if _, err := reg.Submit(&job); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	return job
}

func newTestWorker(reg *registry.Registry, exec client.Transformer, st *fakeStore, pub *fakePublisher) *ExtendWorker {
	w := NewExtendWorker(reg, exec, st, pub)
	w.progressTick = 5 * time.Millisecond
	return w
}

func TestRun_Success(t *testing.T) {
	reg := registry.New(acceptAllValidator{})
	exec := &fakeExecutor{configured: true, writeOut: true, duration: 215.5}
	st := &fakeStore{}
	pub := newFakePublisher()
	w := newTestWorker(reg, exec, st, pub)

	job := submitJob(t, reg, "job-1")

	if err := w.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	got, _ := reg.Get(job.ID)
	if got.Status != model.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (error: %v)", got.Status, got.Error)
	}
	if got.Progress == nil || got.Progress.Percentage != 100 {
		t.Errorf("expected final progress 100, got %+v", got.Progress)
	}

	statuses := st.statuses()
	if len(statuses) != 2 || statuses[0] != model.TrackStatusProcessing || statuses[1] != model.TrackStatusCompleted {
		t.Errorf("unexpected store updates: %v", statuses)
	}

	progress, completes, errs := pub.counts()
	if completes != 1 {
		t.Errorf("expected exactly one complete event, got %d", completes)
	}
	if errs != 0 {
		t.Errorf("expected no error events, got %d", errs)
	}
	if progress == 0 {
		t.Error("expected progress events")
	}

	result := pub.completes[0].Result
	if result.TrackID != job.TrackID || result.OutputPath != job.OutputPath {
		t.Errorf("unexpected result payload: %+v", result)
	}
	if result.Duration != 215.5 {
		t.Errorf("expected duration 215.5, got %f", result.Duration)
	}
	if result.Version != 1 {
		t.Errorf("expected version 1, got %d", result.Version)
	}
}

func TestRun_MockExecutorWhenUnconfigured(t *testing.T) {
	reg := registry.New(acceptAllValidator{})
	exec := &fakeExecutor{configured: false}
	st := &fakeStore{}
	pub := newFakePublisher()
	w := newTestWorker(reg, exec, st, pub)

	job := submitJob(t, reg, "job-1")

	if err := w.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	got, _ := reg.Get(job.ID)
	if got.Status != model.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (error: %v)", got.Status, got.Error)
	}
	if exec.extends != 0 {
		t.Errorf("unconfigured executor was called %d times", exec.extends)
	}
	// The simulated transform must have produced a real output file.
	if _, err := os.Stat(job.OutputPath); err != nil {
		t.Errorf("expected mock output file: %v", err)
	}
}

func TestRun_MissingInputFails(t *testing.T) {
	reg := registry.New(acceptAllValidator{})
	exec := &fakeExecutor{configured: true, writeOut: true}
	st := &fakeStore{}
	pub := newFakePublisher()
	w := newTestWorker(reg, exec, st, pub)

	job := submitJob(t, reg, "job-1")
	os.Remove(job.InputPath)

	if err := w.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	got, _ := reg.Get(job.ID)
	if got.Status != model.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Error == nil || !strings.Contains(*got.Error, "Source file missing") {
		t.Errorf("unexpected error message: %v", got.Error)
	}
	if exec.extends != 0 {
		t.Errorf("executor called despite missing input")
	}

	_, completes, errs := pub.counts()
	if completes != 0 || errs != 1 {
		t.Errorf("expected 0 completes and 1 error event, got %d/%d", completes, errs)
	}

	statuses := st.statuses()
	if statuses[len(statuses)-1] != model.TrackStatusError {
		t.Errorf("expected final store status error, got %v", statuses)
	}
}

func TestRun_MissingOutputFailsDespiteExecutorSuccess(t *testing.T) {
	reg := registry.New(acceptAllValidator{})
	exec := &fakeExecutor{configured: true, writeOut: false}
	st := &fakeStore{}
	pub := newFakePublisher()
	w := newTestWorker(reg, exec, st, pub)

	job := submitJob(t, reg, "job-1")

	if err := w.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	got, _ := reg.Get(job.ID)
	if got.Status != model.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Error == nil || !strings.Contains(*got.Error, "Output file missing") {
		t.Errorf("unexpected error message: %v", got.Error)
	}
}

func TestRun_ExecutorErrorFails(t *testing.T) {
	reg := registry.New(acceptAllValidator{})
	exec := &fakeExecutor{configured: true, extendErr: errors.New("beat detection failed")}
	st := &fakeStore{}
	pub := newFakePublisher()
	w := newTestWorker(reg, exec, st, pub)

	job := submitJob(t, reg, "job-1")

	if err := w.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	got, _ := reg.Get(job.ID)
	if got.Status != model.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Error == nil || !strings.Contains(*got.Error, "beat detection failed") {
		t.Errorf("expected executor error to surface, got %v", got.Error)
	}
}

func TestRun_StoreFailureOnFinalize(t *testing.T) {
	reg := registry.New(acceptAllValidator{})
	exec := &fakeExecutor{configured: true, writeOut: true}
	st := &fakeStore{fail: true}
	pub := newFakePublisher()
	w := newTestWorker(reg, exec, st, pub)

	job := submitJob(t, reg, "job-1")

	if err := w.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	got, _ := reg.Get(job.ID)
	if got.Status != model.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Error == nil || *got.Error != "Failed to save result" {
		t.Errorf("unexpected error message: %v", got.Error)
	}
}

func TestRun_SkipsCancelledQueuedJob(t *testing.T) {
	reg := registry.New(acceptAllValidator{})
	exec := &fakeExecutor{configured: true, writeOut: true}
	st := &fakeStore{}
	pub := newFakePublisher()
	w := newTestWorker(reg, exec, st, pub)

	job := submitJob(t, reg, "job-1")
	reg.Cancel(job.ID)

	if err := w.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	got, _ := reg.Get(job.ID)
	if got.Status != model.JobStatusCancelled {
		t.Fatalf("cancelled job was run: %s", got.Status)
	}
	if len(st.statuses()) != 0 {
		t.Errorf("store touched for a job that never started: %v", st.statuses())
	}
	progress, completes, errs := pub.counts()
	if progress+completes+errs != 0 {
		t.Errorf("events published for a job that never started: %d/%d/%d", progress, completes, errs)
	}
}

func TestRun_CancelDuringTransform(t *testing.T) {
	reg := registry.New(acceptAllValidator{})
	exec := &fakeExecutor{configured: true, writeOut: true, block: make(chan struct{})}
	st := &fakeStore{}
	pub := newFakePublisher()
	w := newTestWorker(reg, exec, st, pub)

	job := submitJob(t, reg, "job-1")

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background(), job.ID) }()

	// Wait until the transform stage is reporting progress.
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := reg.Get(job.ID)
		if err == nil && got.Progress != nil && got.Progress.Stage == model.StageTransforming {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never reached the transform stage")
		}
		time.Sleep(time.Millisecond)
	}

	if !reg.Cancel(job.ID) {
		t.Fatal("cancel failed for active job")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancellation")
	}

	// Let the executor finish late; its result must be discarded.
	close(exec.block)
	time.Sleep(20 * time.Millisecond)

	got, _ := reg.Get(job.ID)
	if got.Status != model.JobStatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if got.Error == nil || *got.Error != registry.CancelledByUser {
		t.Errorf("expected %q, got %v", registry.CancelledByUser, got.Error)
	}
	if got.Progress != nil && got.Progress.Percentage >= 100 {
		t.Errorf("progress advanced to %d after cancellation", got.Progress.Percentage)
	}

	_, completes, errs := pub.counts()
	if completes != 0 {
		t.Errorf("complete event published for a cancelled job")
	}
	if errs != 0 {
		t.Errorf("error event published for a user cancellation")
	}
	for _, s := range st.statuses() {
		if s == model.TrackStatusCompleted {
			t.Error("completed store update written for a cancelled job")
		}
	}
}

func TestRun_SyntheticTicksStayBelowVerification(t *testing.T) {
	reg := registry.New(acceptAllValidator{})
	exec := &fakeExecutor{configured: true, writeOut: true, block: make(chan struct{})}
	st := &fakeStore{}
	pub := newFakePublisher()
	w := newTestWorker(reg, exec, st, pub)

	job := submitJob(t, reg, "job-1")

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background(), job.ID) }()

	// Long enough for far more ticks than the cap allows.
	time.Sleep(300 * time.Millisecond)

	got, _ := reg.Get(job.ID)
	if got.Progress == nil || got.Progress.Stage != model.StageTransforming {
		t.Fatalf("expected job mid-transform, got %+v", got.Progress)
	}
	if got.Progress.Percentage >= pctTransform {
		t.Errorf("synthetic progress reached %d, must stay below %d", got.Progress.Percentage, pctTransform)
	}
	// Enough ticks have fired to saturate the ladder; it tops out one full
	// increment short of the verification threshold.
	if got.Progress.Percentage != pctTransform-transformTickPct {
		t.Errorf("synthetic progress saturated at %d, want %d", got.Progress.Percentage, pctTransform-transformTickPct)
	}

	close(exec.block)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not finish")
	}

	got, _ = reg.Get(job.ID)
	if got.Status != model.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestRun_UnknownJobIsNoop(t *testing.T) {
	reg := registry.New(acceptAllValidator{})
	st := &fakeStore{}
	pub := newFakePublisher()
	w := newTestWorker(reg, &fakeExecutor{}, st, pub)

	if err := w.Run(context.Background(), "missing"); err != nil {
		t.Fatalf("expected nil for unknown job, got %v", err)
	}
	if len(st.statuses()) != 0 {
		t.Error("store touched for unknown job")
	}
}

func TestNewExtendTask_RoundTrip(t *testing.T) {
	task, err := NewExtendTask("job-42")
	if err != nil {
		t.Fatalf("newExtendTask failed: %v", err)
	}
	if task.Type() != TaskTypeExtend {
		t.Errorf("expected type %s, got %s", TaskTypeExtend, task.Type())
	}

	reg := registry.New(acceptAllValidator{})
	st := &fakeStore{}
	pub := newFakePublisher()
	w := newTestWorker(reg, &fakeExecutor{}, st, pub)

	// Unknown job id: the worker logs and moves on.
	if err := w.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("processTask failed: %v", err)
	}
}
