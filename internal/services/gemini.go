package services

import (
	"context"
	"fmt"
	"log"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiService generates scene plans with the Gemini API.
type GeminiService struct {
	apiKey string
	model  string
}

var _ SceneProvider = (*GeminiService)(nil)

func NewGeminiService(apiKey, model string) *GeminiService {
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiService{apiKey: apiKey, model: model}
}

func (s *GeminiService) Name() string { return "gemini" }

func (s *GeminiService) newClient(ctx context.Context) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

// GenerateScenes asks Gemini for a JSON scene plan.
func (s *GeminiService) GenerateScenes(ctx context.Context, prompt string, opts *SceneOptions) (*ScenePlan, error) {
	client, err := s.newClient(ctx)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(buildScenesSystemPrompt(opts), genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.8),
	}

	resp, err := client.Models.GenerateContent(ctx, s.model, genai.Text(buildScenesUserPrompt(prompt)), config)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	rawContent := resp.Text()
	if rawContent == "" {
		return nil, fmt.Errorf("no response from gemini")
	}

	plan, err := parseScenePlan(rawContent)
	if err != nil {
		log.Printf("[Gemini scenes] parse failed: %v (raw: %s)", err, truncateString(rawContent, 2000))
		return nil, err
	}

	log.Printf("[Gemini scenes] plan generated: %d scenes (model=%s)", len(plan.Scenes), s.model)
	return plan, nil
}

// Ping fetches the configured model's metadata to validate the API key.
func (s *GeminiService) Ping(ctx context.Context) error {
	client, err := s.newClient(ctx)
	if err != nil {
		return err
	}
	_, err = client.Models.Get(ctx, s.model, nil)
	return err
}
