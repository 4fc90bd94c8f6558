package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/bobarin/reelsmith/internal/models"
	"github.com/bobarin/reelsmith/internal/services"
	"github.com/bobarin/reelsmith/internal/storage"
	"github.com/google/uuid"
)

// NarrationRequest asks for narration of one project.
type NarrationRequest struct {
	ProjectID uuid.UUID
	UserID    string
	Script    string // user-authored; empty derives narration from the scenes
	VoiceID   string // models.VoiceNone skips narration
	Scenes    models.Scenes
	WantWords bool // word timings are needed for a caption file
}

// Narration is the synthesized speech and the exact text that was spoken.
type Narration struct {
	Script   string
	AudioURL string
	Words    []services.WordTimestamp
	Provider string
}

// NarrationSynthesizer turns a script (given or derived) into uploaded audio.
type NarrationSynthesizer struct {
	tts         services.TTSService  // nil when no speech provider is configured
	transcriber services.Transcriber // optional word-timing fallback
	store       storage.ObjectStore
}

func NewNarrationSynthesizer(tts services.TTSService, transcriber services.Transcriber, store storage.ObjectStore) *NarrationSynthesizer {
	return &NarrationSynthesizer{tts: tts, transcriber: transcriber, store: store}
}

// DeriveNarration joins scene descriptions (or titles when a description is
// missing) into a narration script.
func DeriveNarration(scenes models.Scenes) string {
	parts := make([]string, 0, len(scenes))
	for _, s := range scenes {
		text := strings.TrimSpace(s.Description)
		if text == "" {
			text = strings.TrimSpace(s.Title)
		}
		if text == "" {
			continue
		}
		if !strings.ContainsAny(text[len(text)-1:], ".!?") {
			text += "."
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}

// Synthesize returns (nil, nil) when the voice is none. Any failure is
// returned as a *NarrationError; callers treat it as a degradation.
func (n *NarrationSynthesizer) Synthesize(ctx context.Context, req NarrationRequest) (*Narration, error) {
	if req.VoiceID == models.VoiceNone {
		return nil, nil
	}

	provider := "none"
	if n.tts != nil {
		provider = n.tts.Name()
	}
	fail := func(err error) (*Narration, error) {
		return nil, &NarrationError{Provider: provider, Err: err}
	}

	if n.tts == nil {
		return fail(fmt.Errorf("no speech provider configured"))
	}

	script := strings.TrimSpace(req.Script)
	if script == "" {
		script = DeriveNarration(req.Scenes)
	}
	if script == "" {
		return fail(fmt.Errorf("nothing to narrate"))
	}

	voiceID := req.VoiceID
	if voiceID == "default" {
		voiceID = ""
	}

	speech, err := n.tts.GenerateSpeech(ctx, script, voiceID)
	if err != nil {
		return fail(err)
	}

	ext := speech.Format
	if ext == "" {
		ext = "mp3"
	}
	audioURL, err := n.store.Put(ctx, storage.ObjectKey(req.ProjectID, "narration."+ext), speech.AudioData, audioContentType(ext))
	if err != nil {
		return fail(fmt.Errorf("failed to upload narration audio: %w", err))
	}

	words := speech.Words
	if len(words) == 0 && req.WantWords && n.transcriber != nil {
		words, err = n.transcriber.TranscribeAudio(ctx, speech.AudioData, "en")
		if err != nil {
			log.Printf("[Narration] WARNING: transcription failed for project %s, captions fall back to sentences: %v", req.ProjectID, err)
			words = nil
		}
	}

	log.Printf("[Narration] %s synthesized %d bytes for project %s (%d words timed)", provider, len(speech.AudioData), req.ProjectID, len(words))

	return &Narration{
		Script:   script,
		AudioURL: audioURL,
		Words:    words,
		Provider: provider,
	}, nil
}

func audioContentType(ext string) string {
	switch ext {
	case "wav":
		return "audio/wav"
	default:
		return "audio/mpeg"
	}
}
