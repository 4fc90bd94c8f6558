package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const pixabayBaseURL = "https://pixabay.com"

// PixabayService searches the Pixabay video library.
type PixabayService struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

var _ FootageProvider = (*PixabayService)(nil)

func NewPixabayService(apiKey string) *PixabayService {
	return &PixabayService{
		apiKey:  apiKey,
		baseURL: pixabayBaseURL,
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

// WithBaseURL overrides the API host (used by tests).
func (s *PixabayService) WithBaseURL(baseURL string) *PixabayService {
	s.baseURL = strings.TrimRight(baseURL, "/")
	return s
}

func (s *PixabayService) Name() string { return "pixabay" }

type pixabayRendition struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type pixabayHit struct {
	ID       int     `json:"id"`
	Duration float64 `json:"duration"`
	Videos   struct {
		Large  pixabayRendition `json:"large"`
		Medium pixabayRendition `json:"medium"`
		Small  pixabayRendition `json:"small"`
	} `json:"videos"`
}

type pixabaySearchResponse struct {
	Total int          `json:"total"`
	Hits  []pixabayHit `json:"hits"`
}

// SearchVideos runs GET /api/videos/ and prefers the large rendition.
func (s *PixabayService) SearchVideos(ctx context.Context, keywords []string) ([]FootageVideo, error) {
	query := footageQuery(keywords)
	if query == "" {
		return nil, fmt.Errorf("pixabay search requires at least one keyword")
	}

	params := url.Values{}
	params.Set("key", s.apiKey)
	params.Set("q", query)
	params.Set("per_page", "5")
	params.Set("safesearch", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/videos/?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create pixabay request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pixabay request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError("pixabay", resp)
	}

	var result pixabaySearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode pixabay response: %w", err)
	}

	videos := make([]FootageVideo, 0, len(result.Hits))
	for _, h := range result.Hits {
		r := h.Videos.Large
		if r.URL == "" {
			r = h.Videos.Medium
		}
		if r.URL == "" {
			r = h.Videos.Small
		}
		if r.URL == "" {
			continue
		}
		videos = append(videos, FootageVideo{
			ID:       strconv.Itoa(h.ID),
			URL:      r.URL,
			Width:    r.Width,
			Height:   r.Height,
			Duration: h.Duration,
		})
	}

	log.Printf("[Pixabay] %q -> %d videos", query, len(videos))
	return videos, nil
}

// Ping runs a minimal search to validate the API key.
func (s *PixabayService) Ping(ctx context.Context) error {
	_, err := s.SearchVideos(ctx, []string{"nature"})
	return err
}
