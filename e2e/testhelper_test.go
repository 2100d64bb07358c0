package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"github.com/extendamix/api/internal/client"
	"github.com/extendamix/api/internal/config"
	"github.com/extendamix/api/internal/handler"
	"github.com/extendamix/api/internal/middleware"
	"github.com/extendamix/api/internal/model"
	"github.com/extendamix/api/internal/pathsafe"
	"github.com/extendamix/api/internal/registry"
	"github.com/extendamix/api/internal/service"
	"github.com/extendamix/api/internal/upload"
	"github.com/extendamix/api/internal/websocket"
	"github.com/extendamix/api/internal/worker"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds the wired components a test needs to reach into.
type testApp struct {
	app       *fiber.App
	registry  *registry.Registry
	store     *memTrackStore
	mediaRoot string
}

// memTrackStore replaces redis for tests.
type memTrackStore struct {
	mu      sync.Mutex
	tracks  map[string]map[string]string
	version map[string]int64
}

func newMemTrackStore() *memTrackStore {
	return &memTrackStore{
		tracks:  make(map[string]map[string]string),
		version: make(map[string]int64),
	}
}

func (m *memTrackStore) UpdateStatus(ctx context.Context, trackID string, update model.TrackUpdate) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields := m.tracks[trackID]
	if fields == nil {
		fields = make(map[string]string)
		m.tracks[trackID] = fields
	}
	fields["status"] = update.Status
	if update.OutputPath != "" {
		fields["outputPath"] = update.OutputPath
	}
	if update.Error != "" {
		fields["error"] = update.Error
	}
	if update.BumpVersion {
		m.version[trackID]++
	}
	return m.version[trackID], nil
}

func (m *memTrackStore) GetStatus(ctx context.Context, trackID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fields, ok := m.tracks[trackID]
	if !ok {
		return nil, os.ErrNotExist
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out, nil
}

// localEnqueuer executes tasks in-process instead of via redis, so e2e tests
// exercise the full submit→run→complete loop without external services.
type localEnqueuer struct {
	worker *worker.ExtendWorker
}

func (l *localEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	go l.worker.ProcessTask(context.Background(), task)
	return &asynq.TaskInfo{}, nil
}

// setupApp builds a Fiber app wired like main.go but with the audio service
// unconfigured (mock transform) and redis-backed parts replaced in memory.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	mediaRoot := t.TempDir()
	stagingDir := t.TempDir()

	validate := validator.New()

	hub := websocket.NewHub()
	go hub.Run()

	pathValidator := pathsafe.New(mediaRoot, nil)
	reg := registry.New(pathValidator)
	trackStore := newMemTrackStore()

	// Empty service URL → IsConfigured() false → simulated transform.
	audioClient := client.NewAudioClient(&config.AudioConfig{})

	extendWorker := worker.NewExtendWorker(reg, audioClient, trackStore, hub)
	enqueuer := &localEnqueuer{worker: extendWorker}

	tracker := upload.NewTracker(1<<20, pathValidator)

	extendService := service.NewExtendService(reg, enqueuer, hub)
	uploadService := service.NewUploadService(tracker, stagingDir)

	extendHandler := handler.NewExtendHandler(extendService, validate)
	uploadHandler := handler.NewUploadHandler(uploadService, validate)

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret)

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"audio": audioClient.IsConfigured(),
			},
			"jobs": reg.Len(),
		})
	})

	api := app.Group("/api", authMiddleware.Authenticate())

	extend := api.Group("/extend")
	extend.Post("/start", extendHandler.Start)
	extend.Get("/status/:jobId", extendHandler.Status)
	extend.Post("/cancel/:jobId", extendHandler.Cancel)

	up := api.Group("/upload")
	up.Post("/init", uploadHandler.Init)
	up.Post("/:uploadId/chunk", uploadHandler.Chunk)
	up.Get("/:uploadId/progress", uploadHandler.Progress)
	up.Post("/:uploadId/complete", uploadHandler.Complete)
	up.Delete("/:uploadId", uploadHandler.Cancel)

	return &testApp{
		app:       app,
		registry:  reg,
		store:     trackStore,
		mediaRoot: mediaRoot,
	}
}

// writeInput drops a source file into the media root and returns its path
// plus a matching output path.
func writeInput(t *testing.T, mediaRoot string) (string, string) {
	t.Helper()
	input := filepath.Join(mediaRoot, "in.mp3")
	if err := os.WriteFile(input, []byte("audio-bytes"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return input, filepath.Join(mediaRoot, "out.mp3")
}

// generateToken creates a JWT for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	token, err := middleware.NewAuthMiddleware(testJWTSecret).GenerateToken("test-user-123", "test@example.com")
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest performs an HTTP request against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// parseJSON parses a response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	var result map[string]interface{}
	if err := json.Unmarshal(b, &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, b)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// waitForStatus polls the status endpoint until the job reaches want.
func waitForStatus(t *testing.T, app *fiber.App, jobID, want string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := doAuthRequest(t, app, "GET", "/api/extend/status/"+jobID, "")
		if err != nil {
			t.Fatalf("status request failed: %v", err)
		}
		body := parseJSON(t, resp)
		if body["status"] == want {
			return body
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s never reached %s, last body: %v", jobID, want, body)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
