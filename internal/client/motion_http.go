package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dancegen/api/internal/config"
	"github.com/dancegen/api/internal/model"
)

// HTTPBackend calls a model server sharing the artifact filesystem
type HTTPBackend struct {
	httpClient *http.Client
	baseURL    string
}

// motionServiceRequest is the body of POST /generate on the model server
type motionServiceRequest struct {
	AudioFile     string `json:"audio_file"`
	OutputDir     string `json:"output_dir"`
	MotionSaveDir string `json:"motion_save_dir"`
	SliceDir      string `json:"slice_dir"`
	Checkpoint    string `json:"checkpoint,omitempty"`
	FeatureType   string `json:"feature_type"`
	GenerationID  string `json:"generation_id"`
	Style         string `json:"style"`
	SkillLevel    int    `json:"skill_level"`
}

type motionServiceError struct {
	Error string `json:"error"`
}

// NewHTTPBackend creates a new model server client. The request timeout is
// applied by the Invoker.
func NewHTTPBackend(cfg *config.GenerationConfig) *HTTPBackend {
	return &HTTPBackend{
		httpClient: &http.Client{},
		baseURL:    cfg.ServiceURL,
	}
}

func (b *HTTPBackend) Name() string {
	return "http"
}

// Generate sends the request to the generation endpoint
func (b *HTTPBackend) Generate(ctx context.Context, req *MotionRequest) (*MotionResult, error) {
	body := &motionServiceRequest{
		AudioFile:     req.AudioPath,
		OutputDir:     req.OutputDir,
		MotionSaveDir: req.MotionDir,
		SliceDir:      req.SliceDir,
		Checkpoint:    req.Checkpoint,
		FeatureType:   string(req.Params.FeatureType),
		GenerationID:  model.ShortID(req.JobID),
		Style:         req.Params.Style,
		SkillLevel:    req.Params.SkillLevel,
	}

	var result MotionResult
	if err := b.post(ctx, "/generate", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HealthCheck checks if the model server is available
func (b *HTTPBackend) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// post sends a POST request with JSON body and parses the response. Error
// bodies of the form {"error": "..."} are returned as the error text.
func (b *HTTPBackend) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var serviceErr motionServiceError
		if json.Unmarshal(respBody, &serviceErr) == nil && serviceErr.Error != "" {
			return errors.New(serviceErr.Error)
		}
		return fmt.Errorf("model service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
