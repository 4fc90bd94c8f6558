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

const (
	pexelsBaseURL  = "https://api.pexels.com"
	pexelsPageSize = 5
)

// PexelsService searches the Pexels video library.
type PexelsService struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

var _ FootageProvider = (*PexelsService)(nil)

func NewPexelsService(apiKey string) *PexelsService {
	return &PexelsService{
		apiKey:  apiKey,
		baseURL: pexelsBaseURL,
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

// WithBaseURL overrides the API host (used by tests).
func (s *PexelsService) WithBaseURL(baseURL string) *PexelsService {
	s.baseURL = strings.TrimRight(baseURL, "/")
	return s
}

func (s *PexelsService) Name() string { return "pexels" }

type pexelsVideoFile struct {
	ID       int    `json:"id"`
	Quality  string `json:"quality"`
	FileType string `json:"file_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Link     string `json:"link"`
}

type pexelsVideo struct {
	ID         int               `json:"id"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	Duration   float64           `json:"duration"`
	VideoFiles []pexelsVideoFile `json:"video_files"`
}

type pexelsSearchResponse struct {
	TotalResults int           `json:"total_results"`
	Videos       []pexelsVideo `json:"videos"`
}

// SearchVideos runs GET /videos/search and maps each hit to its best MP4 file.
// Hits without a usable file are skipped.
func (s *PexelsService) SearchVideos(ctx context.Context, keywords []string) ([]FootageVideo, error) {
	query := footageQuery(keywords)
	if query == "" {
		return nil, fmt.Errorf("pexels search requires at least one keyword")
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("per_page", strconv.Itoa(pexelsPageSize))
	params.Set("orientation", "landscape")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/videos/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create pexels request: %w", err)
	}
	req.Header.Set("Authorization", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pexels request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError("pexels", resp)
	}

	var result pexelsSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode pexels response: %w", err)
	}

	videos := make([]FootageVideo, 0, len(result.Videos))
	for _, v := range result.Videos {
		file, ok := bestPexelsFile(v.VideoFiles)
		if !ok {
			continue
		}
		videos = append(videos, FootageVideo{
			ID:       strconv.Itoa(v.ID),
			URL:      file.Link,
			Width:    file.Width,
			Height:   file.Height,
			Duration: v.Duration,
		})
	}

	log.Printf("[Pexels] %q -> %d videos", query, len(videos))
	return videos, nil
}

// bestPexelsFile picks the widest MP4 rendition no wider than 1920px, falling
// back to any MP4 when every rendition is larger.
func bestPexelsFile(files []pexelsVideoFile) (pexelsVideoFile, bool) {
	var best, fallback pexelsVideoFile
	found := false
	for _, f := range files {
		if f.Link == "" || f.FileType != "video/mp4" {
			continue
		}
		if fallback.Link == "" || f.Width < fallback.Width {
			fallback = f
		}
		if f.Width <= 1920 && f.Width > best.Width {
			best = f
			found = true
		}
	}
	if found {
		return best, true
	}
	return fallback, fallback.Link != ""
}

// Ping runs a minimal search to validate the API key.
func (s *PexelsService) Ping(ctx context.Context) error {
	_, err := s.SearchVideos(ctx, []string{"nature"})
	return err
}
