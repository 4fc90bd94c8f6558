package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Shotstack render provider
// Timelines are submitted to /render and polled via /render/{id}. Credits are
// read from /me before each submission.
// ---------------------------------------------------------------------------

const shotstackBaseURL = "https://api.shotstack.io/edit"

// Provider render statuses.
const (
	RenderQueued    = "queued"
	RenderFetching  = "fetching"
	RenderRendering = "rendering"
	RenderSaving    = "saving"
	RenderDone      = "done"
	RenderFailed    = "failed"
)

// RenderRequest is the full edit submitted to the render provider.
type RenderRequest struct {
	Timeline Timeline `json:"timeline"`
	Output   Output   `json:"output"`
}

type Timeline struct {
	Background string      `json:"background,omitempty"`
	Soundtrack *Soundtrack `json:"soundtrack,omitempty"`
	Tracks     []Track     `json:"tracks"`
}

type Soundtrack struct {
	Src    string  `json:"src"`
	Effect string  `json:"effect,omitempty"` // "fadeIn", "fadeOut", "fadeInFadeOut"
	Volume float64 `json:"volume,omitempty"`
}

type Track struct {
	Clips []Clip `json:"clips"`
}

type Clip struct {
	Asset      Asset       `json:"asset"`
	Start      float64     `json:"start"`
	Length     float64     `json:"length"`
	Transition *Transition `json:"transition,omitempty"`
	Fit        string      `json:"fit,omitempty"`
	Position   string      `json:"position,omitempty"`
}

// Asset covers the video, title and caption asset types; unused fields are
// omitted from the JSON.
type Asset struct {
	Type       string   `json:"type"` // "video", "title", "caption"
	Src        string   `json:"src,omitempty"`
	Text       string   `json:"text,omitempty"`
	Style      string   `json:"style,omitempty"`
	Color      string   `json:"color,omitempty"`
	Size       string   `json:"size,omitempty"`
	Background string   `json:"background,omitempty"`
	Volume     *float64 `json:"volume,omitempty"`
}

type Transition struct {
	In  string `json:"in,omitempty"`
	Out string `json:"out,omitempty"`
}

type Output struct {
	Format      string     `json:"format"`
	Resolution  string     `json:"resolution,omitempty"`
	AspectRatio string     `json:"aspectRatio,omitempty"`
	Thumbnail   *Thumbnail `json:"thumbnail,omitempty"`
}

type Thumbnail struct {
	Capture float64 `json:"capture"`
	Scale   float64 `json:"scale"`
}

// RenderStatus is one status observation for a render job.
type RenderStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	URL       string `json:"url,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RenderProvider submits timelines and reports render progress.
type RenderProvider interface {
	GetCredits(ctx context.Context) (float64, error)
	SubmitRender(ctx context.Context, req *RenderRequest) (string, error)
	GetRenderStatus(ctx context.Context, renderID string) (*RenderStatus, error)
}

// ShotstackService talks to the Shotstack Edit API.
type ShotstackService struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

var _ RenderProvider = (*ShotstackService)(nil)

// NewShotstackService creates a client for the given environment ("stage"
// for the sandbox, "v1" for production).
func NewShotstackService(apiKey, env string) *ShotstackService {
	if env == "" {
		env = "stage"
	}
	return &ShotstackService{
		apiKey:  apiKey,
		baseURL: fmt.Sprintf("%s/%s", shotstackBaseURL, env),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL overrides the API host and environment (used by tests).
func (s *ShotstackService) WithBaseURL(baseURL string) *ShotstackService {
	s.baseURL = strings.TrimRight(baseURL, "/")
	return s
}

type shotstackEnvelope struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message"`
	Response json.RawMessage `json:"response"`
}

func (s *ShotstackService) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal shotstack request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, s.baseURL+path, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to create shotstack request: %w", err)
	}
	req.Header.Set("x-api-key", s.apiKey)
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("shotstack request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError("shotstack", resp)
	}

	var env shotstackEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode shotstack response: %w", err)
	}
	if len(env.Response) == 0 {
		return fmt.Errorf("shotstack response missing body (message: %s)", env.Message)
	}
	if err := json.Unmarshal(env.Response, out); err != nil {
		return fmt.Errorf("failed to decode shotstack response body: %w", err)
	}
	return nil
}

// GetCredits returns the account's remaining render credits.
func (s *ShotstackService) GetCredits(ctx context.Context) (float64, error) {
	var me struct {
		Credits float64 `json:"credits"`
	}
	if err := s.do(ctx, http.MethodGet, "/me", nil, &me); err != nil {
		return 0, err
	}
	return me.Credits, nil
}

// SubmitRender queues a render and returns the provider's render id.
func (s *ShotstackService) SubmitRender(ctx context.Context, req *RenderRequest) (string, error) {
	var queued struct {
		Message string `json:"message"`
		ID      string `json:"id"`
	}
	if err := s.do(ctx, http.MethodPost, "/render", req, &queued); err != nil {
		return "", err
	}
	if queued.ID == "" {
		return "", fmt.Errorf("shotstack returned no render id")
	}

	log.Printf("[Shotstack] Render queued: %s (%d tracks)", queued.ID, len(req.Timeline.Tracks))
	return queued.ID, nil
}

// GetRenderStatus fetches the current status of a render job.
func (s *ShotstackService) GetRenderStatus(ctx context.Context, renderID string) (*RenderStatus, error) {
	var status RenderStatus
	if err := s.do(ctx, http.MethodGet, "/render/"+url.PathEscape(renderID), nil, &status); err != nil {
		return nil, err
	}
	if status.ID == "" {
		status.ID = renderID
	}
	return &status, nil
}

// Ping validates the API key through the credits endpoint.
func (s *ShotstackService) Ping(ctx context.Context) error {
	_, err := s.GetCredits(ctx)
	return err
}
