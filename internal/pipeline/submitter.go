package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/bobarin/reelsmith/internal/models"
	"github.com/bobarin/reelsmith/internal/services"
)

// SubmitRequest is the input to one render submission.
type SubmitRequest struct {
	ProjectID      string
	Scenes         models.Scenes
	AudioURL       string
	Captions       bool
	CaptionFileURL string
	NarrationText  string
	BrandColors    string
}

// SubmitResult echoes what was actually submitted. HasAudio and HasCaptions
// may be false even when requested if an earlier step downgraded them.
type SubmitResult struct {
	RenderID    string
	Duration    float64
	HasAudio    bool
	HasCaptions bool
}

// RenderSubmitter assembles the timeline, checks credits and submits.
type RenderSubmitter struct {
	provider     services.RenderProvider
	providerName string
	parser       CreditErrorParser
	resolution   string
	aspectRatio  string
}

func NewRenderSubmitter(provider services.RenderProvider, resolution, aspectRatio string) *RenderSubmitter {
	return &RenderSubmitter{
		provider:     provider,
		providerName: "shotstack",
		parser:       TextCreditParser{},
		resolution:   resolution,
		aspectRatio:  aspectRatio,
	}
}

// WithCreditParser replaces the credit error parser.
func (s *RenderSubmitter) WithCreditParser(p CreditErrorParser) *RenderSubmitter {
	s.parser = p
	return s
}

// Submit validates the scenes, runs the credit pre-flight and submits the
// timeline. Nothing is submitted when validation or the pre-flight fails.
func (s *RenderSubmitter) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if len(req.Scenes) == 0 {
		return nil, &RenderSubmissionError{Provider: s.providerName, Err: fmt.Errorf("timeline has no scenes")}
	}
	for _, scene := range req.Scenes {
		if !scene.HasFootage() {
			return nil, &MissingFootageError{SceneID: scene.ID}
		}
	}

	tl := BuildTimeline(TimelineInput{
		Scenes:         req.Scenes,
		AudioURL:       req.AudioURL,
		Captions:       req.Captions,
		CaptionFileURL: req.CaptionFileURL,
		NarrationText:  req.NarrationText,
		BrandColors:    req.BrandColors,
		Resolution:     s.resolution,
		AspectRatio:    s.aspectRatio,
	})

	required := EstimateCredits(tl.Duration)
	available, err := s.provider.GetCredits(ctx)
	if err != nil {
		log.Printf("[Submitter] WARNING: credit pre-flight failed for project %s, submitting anyway: %v", req.ProjectID, err)
	} else if required > available {
		return nil, &InsufficientCreditsError{Required: required, Available: available}
	}

	renderID, err := s.provider.SubmitRender(ctx, tl.Request)
	if err != nil {
		if credits, ok := s.parser.ParseCreditError(err); ok {
			if credits.Required == Unknown {
				credits.Required = required
			}
			return nil, credits
		}
		return nil, &RenderSubmissionError{Provider: s.providerName, Err: err}
	}

	log.Printf("[Submitter] Project %s submitted as render %s (%.1fs, audio=%v, captions=%v, est. %.3f credits)",
		req.ProjectID, renderID, tl.Duration, tl.HasAudio, tl.HasCaptions, required)

	return &SubmitResult{
		RenderID:    renderID,
		Duration:    tl.Duration,
		HasAudio:    tl.HasAudio,
		HasCaptions: tl.HasCaptions,
	}, nil
}
