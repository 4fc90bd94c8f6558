package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/bobarin/reelsmith/internal/models"
)

// Remediator is implemented by pipeline errors that carry a user-facing hint.
type Remediator interface {
	Remediation() string
}

// Remediation returns the hint attached to the first pipeline error in err's
// chain, or "" if there is none.
func Remediation(err error) string {
	var r Remediator
	if errors.As(err, &r) {
		return r.Remediation()
	}
	return ""
}

// keyHint names the env var holding a provider's credentials.
func keyHint(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	case "pexels":
		return "PEXELS_API_KEY"
	case "pixabay":
		return "PIXABAY_API_KEY"
	case "elevenlabs":
		return "ELEVENLABS_API_KEY"
	case "cartesia":
		return "CARTESIA_API_KEY"
	case "shotstack":
		return "SHOTSTACK_API_KEY"
	}
	return "the provider API key"
}

// SceneGenerationError: the scene provider errored or returned no scenes.
type SceneGenerationError struct {
	Provider string
	Err      error
}

func (e *SceneGenerationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("scene generation (%s) returned no scenes", e.Provider)
	}
	return fmt.Sprintf("scene generation (%s) failed: %v", e.Provider, e.Err)
}

func (e *SceneGenerationError) Unwrap() error { return e.Err }

func (e *SceneGenerationError) Remediation() string {
	return fmt.Sprintf("Check your %s and try a more specific prompt.", keyHint(e.Provider))
}

// FootageResolutionError: no scene could be matched to stock footage.
type FootageResolutionError struct {
	Provider string
	Scenes   int
	Err      error // last search error, if any
}

func (e *FootageResolutionError) Error() string {
	msg := fmt.Sprintf("no footage found on %s for any of %d scenes", e.Provider, e.Scenes)
	if e.Err != nil {
		msg += fmt.Sprintf(" (last error: %v)", e.Err)
	}
	return msg
}

func (e *FootageResolutionError) Unwrap() error { return e.Err }

func (e *FootageResolutionError) Remediation() string {
	return fmt.Sprintf("Check your %s or try broader keywords / a different media source.", keyHint(e.Provider))
}

// NarrationError: speech synthesis failed. Never fatal to a job.
type NarrationError struct {
	Provider string
	Err      error
}

func (e *NarrationError) Error() string {
	return fmt.Sprintf("narration synthesis (%s) failed: %v", e.Provider, e.Err)
}

func (e *NarrationError) Unwrap() error { return e.Err }

func (e *NarrationError) Remediation() string {
	return fmt.Sprintf("The video was rendered without narration. Check your %s.", keyHint(e.Provider))
}

// MissingFootageError: a scene reached the submitter without a footage URL.
type MissingFootageError struct {
	SceneID string
}

func (e *MissingFootageError) Error() string {
	return fmt.Sprintf("scene %s has no footage url; refusing to submit timeline", e.SceneID)
}

func (e *MissingFootageError) Remediation() string {
	return "Retry the project so footage is resolved again."
}

// Unknown marks a credit amount that could not be determined.
const Unknown = -1.0

// InsufficientCreditsError: the render account cannot cover the job. Required
// or Available may be Unknown when parsed from free-text provider errors.
type InsufficientCreditsError struct {
	Required  float64
	Available float64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient render credits: required %s, available %s",
		formatCredits(e.Required), formatCredits(e.Available))
}

func (e *InsufficientCreditsError) Remediation() string {
	return "Top up your render provider credits or shorten the video."
}

func formatCredits(v float64) string {
	if v < 0 {
		return "unknown"
	}
	return fmt.Sprintf("%.2f", v)
}

// RenderSubmissionError: the render provider rejected the timeline or could
// not be reached.
type RenderSubmissionError struct {
	Provider string
	Err      error
}

func (e *RenderSubmissionError) Error() string {
	return fmt.Sprintf("render submission (%s) failed: %v", e.Provider, e.Err)
}

func (e *RenderSubmissionError) Unwrap() error { return e.Err }

func (e *RenderSubmissionError) Remediation() string {
	return fmt.Sprintf("Check your %s and render provider status.", keyHint(e.Provider))
}

// RenderTimeoutError: polling gave up before the render reached a terminal state.
type RenderTimeoutError struct {
	RenderID string
	After    time.Duration
}

func (e *RenderTimeoutError) Error() string {
	return fmt.Sprintf("render timed out after %s (render %s)", e.After, e.RenderID)
}

func (e *RenderTimeoutError) Remediation() string {
	return "The render provider did not finish in time. Retry the project."
}

// RenderFailedError: the provider reported the render as failed.
type RenderFailedError struct {
	RenderID string
	Reason   string
}

func (e *RenderFailedError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "no reason given"
	}
	return fmt.Sprintf("render %s failed: %s", e.RenderID, reason)
}

func (e *RenderFailedError) Remediation() string {
	return "Retry the project; if it keeps failing, try different footage or a shorter prompt."
}

// InterruptedRunError: a run stopped before its render was submitted and
// nothing is going to resume it.
type InterruptedRunError struct {
	Status models.ProjectStatus
	Since  time.Time
}

func (e *InterruptedRunError) Error() string {
	return fmt.Sprintf("render was never submitted: project left %s since %s", e.Status, e.Since.UTC().Format(time.RFC3339))
}

func (e *InterruptedRunError) Remediation() string {
	return "The job was interrupted before rendering started. Retry the project."
}
