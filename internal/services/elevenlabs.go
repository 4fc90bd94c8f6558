package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode"
)

// ---------------------------------------------------------------------------
// ElevenLabs Text-to-Speech Service
// Uses the with-timestamps endpoint so the character alignment can be turned
// into word timings for the caption track.
// Model: eleven_flash_v2_5
// ---------------------------------------------------------------------------

const (
	elevenLabsBaseURL      = "https://api.elevenlabs.io"
	elevenLabsDefaultModel = "eleven_flash_v2_5"
	elevenLabsDefaultVoice = "pNInz6obpgDQGcFmaJgB"
	elevenLabsOutputFormat = "mp3_44100_128"
)

// ElevenLabsService handles text-to-speech via ElevenLabs API.
type ElevenLabsService struct {
	apiKey  string
	baseURL string
	voiceID string
	modelID string
	client  *http.Client
}

var _ TTSService = (*ElevenLabsService)(nil)

// NewElevenLabsService creates an ElevenLabs service. An empty voiceID uses
// the built-in default voice.
func NewElevenLabsService(apiKey, voiceID string) *ElevenLabsService {
	if voiceID == "" {
		voiceID = elevenLabsDefaultVoice
	}
	return &ElevenLabsService{
		apiKey:  apiKey,
		baseURL: elevenLabsBaseURL,
		voiceID: voiceID,
		modelID: elevenLabsDefaultModel,
		client:  &http.Client{Timeout: 90 * time.Second},
	}
}

// WithBaseURL overrides the API host (used by tests).
func (s *ElevenLabsService) WithBaseURL(baseURL string) *ElevenLabsService {
	s.baseURL = strings.TrimRight(baseURL, "/")
	return s
}

func (s *ElevenLabsService) Name() string { return "elevenlabs" }

type elevenLabsRequest struct {
	Text          string                   `json:"text"`
	ModelID       string                   `json:"model_id"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

type elevenLabsAlignment struct {
	Characters          []string  `json:"characters"`
	CharacterStartTimes []float64 `json:"character_start_times_seconds"`
	CharacterEndTimes   []float64 `json:"character_end_times_seconds"`
}

type elevenLabsTimestampResponse struct {
	AudioBase64         string               `json:"audio_base64"`
	Alignment           *elevenLabsAlignment `json:"alignment"`
	NormalizedAlignment *elevenLabsAlignment `json:"normalized_alignment"`
}

// GenerateSpeech converts text to speech and returns word timings derived from
// the character alignment.
func (s *ElevenLabsService) GenerateSpeech(ctx context.Context, text, voiceID string) (*TTSResponse, error) {
	effectiveVoice := s.voiceID
	if voiceID != "" {
		effectiveVoice = voiceID
	}

	speed := 0.9
	reqBody := elevenLabsRequest{
		Text:    text,
		ModelID: s.modelID,
		VoiceSettings: &elevenLabsVoiceSettings{
			Stability:       0.60,
			SimilarityBoost: 0.80,
			Style:           0.35,
			Speed:           speed,
			UseSpeakerBoost: true,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ElevenLabs request: %w", err)
	}

	// POST /v1/text-to-speech/{voice_id}/with-timestamps?output_format=mp3_44100_128
	url := fmt.Sprintf("%s/v1/text-to-speech/%s/with-timestamps?output_format=%s",
		s.baseURL, effectiveVoice, elevenLabsOutputFormat)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create ElevenLabs request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.apiKey)

	log.Printf("[ElevenLabs] Generating speech (voiceID=%s, model=%s, textLen=%d)", effectiveVoice, s.modelID, len(text))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ElevenLabs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError("elevenlabs", resp)
	}

	var result elevenLabsTimestampResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode ElevenLabs response: %w", err)
	}

	audioData, err := base64.StdEncoding.DecodeString(result.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ElevenLabs audio: %w", err)
	}
	if len(audioData) == 0 {
		return nil, fmt.Errorf("ElevenLabs returned empty audio")
	}

	alignment := result.Alignment
	if alignment == nil {
		alignment = result.NormalizedAlignment
	}
	words := alignmentToWords(alignment)

	durationMs := estimateAudioDuration(text, speed)
	if n := len(words); n > 0 {
		durationMs = int(words[n-1].End * 1000)
	}

	log.Printf("[ElevenLabs] Speech generated (%d bytes, %dms, %d words aligned)", len(audioData), durationMs, len(words))

	return &TTSResponse{
		AudioData:  audioData,
		DurationMs: durationMs,
		Format:     "mp3",
		Words:      words,
	}, nil
}

// alignmentToWords groups per-character timings into whitespace-separated words.
func alignmentToWords(a *elevenLabsAlignment) []WordTimestamp {
	if a == nil || len(a.Characters) == 0 ||
		len(a.CharacterStartTimes) != len(a.Characters) ||
		len(a.CharacterEndTimes) != len(a.Characters) {
		return nil
	}

	var (
		words   []WordTimestamp
		current strings.Builder
		start   float64
		end     float64
	)
	flush := func() {
		if current.Len() > 0 {
			words = append(words, WordTimestamp{Word: current.String(), Start: start, End: end})
			current.Reset()
		}
	}

	for i, ch := range a.Characters {
		r := []rune(ch)
		if len(r) == 0 || unicode.IsSpace(r[0]) {
			flush()
			continue
		}
		if current.Len() == 0 {
			start = a.CharacterStartTimes[i]
		}
		current.WriteString(ch)
		end = a.CharacterEndTimes[i]
	}
	flush()

	return words
}

// Ping fetches the account subscription to validate the API key.
func (s *ElevenLabsService) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/user/subscription", nil)
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newAPIError("elevenlabs", resp)
	}
	return nil
}
