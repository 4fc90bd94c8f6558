package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

type OpenAIService struct {
	client *openai.Client
	model  string
}

var (
	_ SceneProvider = (*OpenAIService)(nil)
	_ Transcriber   = (*OpenAIService)(nil)
)

func NewOpenAIService(apiKey, model string) *OpenAIService {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIService{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// NewOpenAIServiceWithBaseURL points the client at a compatible endpoint.
func NewOpenAIServiceWithBaseURL(apiKey, model, baseURL string) *OpenAIService {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	svc := NewOpenAIService(apiKey, model)
	svc.client = openai.NewClientWithConfig(cfg)
	return svc
}

func (s *OpenAIService) Name() string { return "openai" }

// GenerateScenes generates a scene plan using OpenAI JSON mode.
func (s *OpenAIService) GenerateScenes(ctx context.Context, prompt string, opts *SceneOptions) (*ScenePlan, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: buildScenesSystemPrompt(opts),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildScenesUserPrompt(prompt),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.8,
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	rawContent := resp.Choices[0].Message.Content
	plan, err := parseScenePlan(rawContent)
	if err != nil {
		log.Printf("[OpenAI scenes] parse failed: %v (raw: %s)", err, truncateString(rawContent, 2000))
		return nil, err
	}

	log.Printf("[OpenAI scenes] plan generated: %d scenes", len(plan.Scenes))
	return plan, nil
}

// ---------------------------------------------------------------------------
// Whisper transcription: word-level timestamps for caption tracks
// ---------------------------------------------------------------------------

// WordTimestamp represents a single spoken word with its timing.
type WordTimestamp struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`   // seconds
}

// Transcriber produces word timings for synthesized narration.
type Transcriber interface {
	TranscribeAudio(ctx context.Context, audioData []byte, language string) ([]WordTimestamp, error)
}

// TranscribeAudio sends audio to OpenAI Whisper and returns word-level timestamps.
func (s *OpenAIService) TranscribeAudio(ctx context.Context, audioData []byte, language string) ([]WordTimestamp, error) {
	if language == "" {
		language = "en"
	}

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   bytes.NewReader(audioData),
		FilePath: "narration.mp3", // Filename hint for the API (required by the library)
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: language,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w", err)
	}

	if len(resp.Words) == 0 {
		return nil, fmt.Errorf("whisper returned no word timestamps (text: %q)", truncateString(resp.Text, 80))
	}

	words := make([]WordTimestamp, len(resp.Words))
	for i, w := range resp.Words {
		words[i] = WordTimestamp{
			Word:  strings.TrimSpace(w.Word),
			Start: w.Start,
			End:   w.End,
		}
	}

	log.Printf("[Whisper] Transcribed %d words (duration: %.1fs)", len(words), resp.Duration)
	return words, nil
}

// Ping lists models to validate the API key.
func (s *OpenAIService) Ping(ctx context.Context) error {
	_, err := s.client.ListModels(ctx)
	return err
}
