package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/extendamix/api/internal/config"
)

// Transformer is the opaque, potentially minutes-long external transformation.
// The pipeline only sees its final success or failure; it confirms the output
// artifact itself and never trusts the executor's own claim of success.
type Transformer interface {
	Extend(ctx context.Context, req *ExtendRequest) (*ExtendResponse, error)
	Analyze(ctx context.Context, path string) (*TrackInfo, error)
	HealthCheck(ctx context.Context) error
	IsConfigured() bool
}

// AudioClient implements Transformer against the Python audio microservice
type AudioClient struct {
	httpClient *http.Client
	baseURL    string
}

// ExtendRequest asks the audio service to synthesize an extended mix.
type ExtendRequest struct {
	InputPath      string `json:"input_path"`
	OutputPath     string `json:"output_path"`
	IntroBars      int    `json:"intro_bars"`
	OutroBars      int    `json:"outro_bars"`
	PreserveVocals bool   `json:"preserve_vocals"`
	BeatDetection  string `json:"beat_detection,omitempty"`
}

// ExtendResponse is the audio service's report of a finished extend.
type ExtendResponse struct {
	Status       string   `json:"status"`
	OutputPath   string   `json:"output_path"`
	Duration     float64  `json:"duration"`
	ShuffleOrder []string `json:"shuffle_order,omitempty"`
}

// TrackInfo is the metadata the analyzer extracts from an audio file.
type TrackInfo struct {
	Format   string  `json:"format"`
	Duration float64 `json:"duration"`
	BPM      int     `json:"bpm"`
	Key      string  `json:"key"`
	Bitrate  int     `json:"bitrate"`
}

// NewAudioClient creates a new audio processing client
func NewAudioClient(cfg *config.AudioConfig) *AudioClient {
	return &AudioClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
	}
}

// Extend runs the intro/outro extension on the audio service
func (c *AudioClient) Extend(ctx context.Context, req *ExtendRequest) (*ExtendResponse, error) {
	var result ExtendResponse
	if err := c.post(ctx, "/extend", req, &result); err != nil {
		return nil, err
	}
	if result.Status != "success" {
		return nil, fmt.Errorf("audio service reported status %q", result.Status)
	}
	return &result, nil
}

// Analyze extracts format, duration, BPM, key and bitrate from a file
func (c *AudioClient) Analyze(ctx context.Context, path string) (*TrackInfo, error) {
	var result TrackInfo
	body := map[string]string{"path": path}
	if err := c.post(ctx, "/analyze", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HealthCheck checks if the audio service is available
func (c *AudioClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("audio service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// post sends a POST request with JSON body and parses the response
func (c *AudioClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("audio service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *AudioClient) IsConfigured() bool {
	return c.baseURL != ""
}
