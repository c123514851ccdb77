package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ekisa-team/audiogen/internal/backend"
)

// API endpoints and paths.
const (
	apiHealth   = "/health"
	apiLoad     = "/v1/models/load"
	apiGenerate = "/v1/generate"
	apiModels   = "/v1/models/"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

const errorCodeOutOfMemory = "out_of_memory"

var ErrEmptyAudio = errors.New("remote: received empty audio data")

// HTTPClient talks to an inference sidecar over its JSON/WAV API.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// LoadRequest asks the sidecar to load a model.
type LoadRequest struct {
	Task   string `json:"task"`
	Model  string `json:"model"`
	Device string `json:"device"`
}

// LoadResponse identifies the loaded model.
type LoadResponse struct {
	ModelID    string `json:"model_id"`
	SampleRate int    `json:"sample_rate"`
}

// GenerateRequest asks a loaded model for one clip.
type GenerateRequest struct {
	ModelID     string         `json:"model_id"`
	Description string         `json:"description"`
	Params      map[string]any `json:"params"`
}

// ErrorResponse is the sidecar's structured error body.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPClient creates a client. baseURL includes the scheme and port.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the sidecar address.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// HealthCheck verifies the sidecar answers 200 on /health.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed for service at %s: status %s", c.baseURL, resp.Status)
	}

	return nil
}

// Load loads a model in the sidecar.
func (c *HTTPClient) Load(ctx context.Context, in LoadRequest) (*LoadResponse, error) {
	resp, err := c.postJSON(ctx, apiLoad, in, contentTypeJSON)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out LoadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode load response: %w", err)
	}
	if out.ModelID == "" || out.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: incomplete load response", backend.ErrEngine)
	}

	return &out, nil
}

// Generate returns the WAV bytes for one description.
func (c *HTTPClient) Generate(ctx context.Context, in GenerateRequest) ([]byte, error) {
	resp, err := c.postJSON(ctx, apiGenerate, in, contentTypeWAV)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get(headerContentType); !strings.HasPrefix(ct, contentTypeWAV) {
		return nil, fmt.Errorf("%w: unexpected content type %q", backend.ErrEngine, ct)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	return data, nil
}

// Unload releases a model in the sidecar.
func (c *HTTPClient) Unload(ctx context.Context, modelID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+apiModels+url.PathEscape(modelID), http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create unload request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send unload request to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return c.parseErrorResponse(resp)
	}

	return nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, body any, accept string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(headerContentType, contentTypeJSON)
	req.Header.Set(headerAccept, accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", c.baseURL, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.parseErrorResponse(resp)
	}

	return resp, nil
}

// parseErrorResponse maps a non-200 reply to ErrOutOfMemory or ErrEngine.
func (c *HTTPClient) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var e ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil || e.Detail == "" {
		e.Detail = fmt.Sprintf("status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	if e.ErrorCode == errorCodeOutOfMemory || resp.StatusCode == http.StatusInsufficientStorage {
		return fmt.Errorf("%w: %s", backend.ErrOutOfMemory, e.Detail)
	}

	return backend.EngineFailure(e.Detail)
}
