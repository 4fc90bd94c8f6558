package services

import (
	"context"
	"strings"
)

// ---------------------------------------------------------------------------
// Text-to-speech providers
// ElevenLabs and Cartesia both implement it so the narration step can use
// whichever is configured.
// ---------------------------------------------------------------------------

// TTSResponse is the common response type from any TTS provider.
type TTSResponse struct {
	AudioData  []byte
	DurationMs int
	Format     string          // "mp3", "wav", etc.
	Words      []WordTimestamp // Nil when the provider returns no alignment
}

// TTSService is the interface that any TTS provider must implement.
type TTSService interface {
	Name() string
	// GenerateSpeech converts text to audio. voiceID overrides the provider's
	// default voice when non-empty.
	GenerateSpeech(ctx context.Context, text, voiceID string) (*TTSResponse, error)
}

// estimateAudioDuration estimates duration based on text length and speed.
// Narration pace is ~140 words per minute at speed 1.0.
func estimateAudioDuration(text string, speed float64) int {
	if speed <= 0 {
		speed = 1.0
	}
	words := len(strings.Fields(text))
	minutes := float64(words) / (140.0 * speed)
	return int(minutes * 60 * 1000)
}
