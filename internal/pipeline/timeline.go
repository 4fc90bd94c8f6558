package pipeline

import (
	"regexp"
	"strings"

	"github.com/bobarin/reelsmith/internal/models"
	"github.com/bobarin/reelsmith/internal/services"
)

const (
	clipTransition   = "fade"
	defaultCaptionFg = "#ffffff"
	timelineBg       = "#000000"
)

var hexColorRe = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// TimelineInput is everything needed to assemble a render request.
type TimelineInput struct {
	Scenes         models.Scenes // every scene must carry footage
	AudioURL       string        // narration soundtrack; empty for none
	Captions       bool
	CaptionFileURL string // prepared SRT file; empty falls back to sentence overlays
	NarrationText  string
	BrandColors    string
	Resolution     string
	AspectRatio    string
}

// Timeline is an assembled render request plus the values derived while
// building it.
type Timeline struct {
	Request     *services.RenderRequest
	Offsets     []float64
	Duration    float64
	HasAudio    bool
	HasCaptions bool
}

// BuildTimeline places scenes back to back on a single video track with fade
// transitions, adds the narration soundtrack with a fade-out, and adds a
// caption track when requested and possible.
func BuildTimeline(in TimelineInput) *Timeline {
	offsets := make([]float64, len(in.Scenes))
	videoClips := make([]services.Clip, 0, len(in.Scenes))
	muted := 0.0

	cursor := 0.0
	for i, scene := range in.Scenes {
		offsets[i] = cursor
		src := ""
		if scene.FootageURL != nil {
			src = *scene.FootageURL
		}
		videoClips = append(videoClips, services.Clip{
			Asset:      services.Asset{Type: "video", Src: src, Volume: &muted},
			Start:      cursor,
			Length:     scene.Duration,
			Transition: &services.Transition{In: clipTransition, Out: clipTransition},
			Fit:        "crop",
		})
		cursor += scene.Duration
	}
	total := cursor

	tl := &Timeline{Offsets: offsets, Duration: total}
	timeline := services.Timeline{Background: timelineBg}

	if in.AudioURL != "" {
		timeline.Soundtrack = &services.Soundtrack{Src: in.AudioURL, Effect: "fadeOut", Volume: 1}
		tl.HasAudio = true
	}

	// The first track renders on top, so captions go before the footage
	if in.Captions {
		if captionClips := buildCaptionClips(in, total); len(captionClips) > 0 {
			timeline.Tracks = append(timeline.Tracks, services.Track{Clips: captionClips})
			tl.HasCaptions = true
		}
	}
	timeline.Tracks = append(timeline.Tracks, services.Track{Clips: videoClips})

	tl.Request = &services.RenderRequest{
		Timeline: timeline,
		Output: services.Output{
			Format:      "mp4",
			Resolution:  in.Resolution,
			AspectRatio: in.AspectRatio,
			Thumbnail:   &services.Thumbnail{Capture: thumbnailCapture(total), Scale: 0.3},
		},
	}
	return tl
}

func buildCaptionClips(in TimelineInput, total float64) []services.Clip {
	if in.CaptionFileURL != "" {
		return []services.Clip{{
			Asset:  services.Asset{Type: "caption", Src: in.CaptionFileURL},
			Start:  0,
			Length: total,
		}}
	}

	color := captionColor(in.BrandColors)
	var clips []services.Clip
	for _, c := range SentenceCaptions(in.NarrationText, total) {
		clips = append(clips, services.Clip{
			Asset: services.Asset{
				Type:  "title",
				Text:  c.Text,
				Style: "subtitle",
				Color: color,
				Size:  "small",
			},
			Start:    c.Start,
			Length:   c.Length,
			Position: "bottom",
		})
	}
	return clips
}

// captionColor takes the first valid hex color from a comma- or
// space-separated brand color list.
func captionColor(brandColors string) string {
	for _, c := range strings.FieldsFunc(brandColors, func(r rune) bool { return r == ',' || r == ' ' }) {
		if hexColorRe.MatchString(c) {
			return strings.ToLower(c)
		}
	}
	return defaultCaptionFg
}

func thumbnailCapture(total float64) float64 {
	if total < 2 {
		return 0
	}
	return 1
}
