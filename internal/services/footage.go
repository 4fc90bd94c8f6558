package services

import (
	"context"
	"strings"
)

// FootageVideo is one stock clip returned by a footage search. URL is a
// direct link to a playable MP4 file.
type FootageVideo struct {
	ID       string  `json:"id"`
	URL      string  `json:"url"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Duration float64 `json:"duration"`
}

// FootageProvider searches a stock-footage library. Results keep the
// provider's relevance order.
type FootageProvider interface {
	Name() string
	SearchVideos(ctx context.Context, keywords []string) ([]FootageVideo, error)
}

// footageQuery joins keywords into a single search string.
func footageQuery(keywords []string) string {
	parts := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			parts = append(parts, k)
		}
	}
	return strings.Join(parts, " ")
}
