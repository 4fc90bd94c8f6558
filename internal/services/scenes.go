package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// GeneratedScene is one scene as returned by a generative-text provider.
// Keywords and Duration may be missing; the pipeline fills them in.
type GeneratedScene struct {
	ID          string   `json:"id"`
	Scene       string   `json:"scene"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Duration    float64  `json:"duration,omitempty"`
}

// ScenePlan is the provider response: { "scenes": [...] }.
type ScenePlan struct {
	Scenes []GeneratedScene `json:"scenes"`
}

// SceneOptions holds per-project customization passed into scene generation.
type SceneOptions struct {
	Style string // "cinematic", "documentary", "playful", ...
}

// SceneProvider turns a free-text prompt into an ordered scene plan.
type SceneProvider interface {
	Name() string
	GenerateScenes(ctx context.Context, prompt string, opts *SceneOptions) (*ScenePlan, error)
}

// parseScenePlan decodes the model's JSON output. Models sometimes wrap the
// object in a markdown fence, so that is stripped first.
func parseScenePlan(raw string) (*ScenePlan, error) {
	content := strings.TrimSpace(raw)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var plan ScenePlan
	if err := json.Unmarshal([]byte(content), &plan); err != nil {
		return nil, fmt.Errorf("failed to parse scene plan: %w", err)
	}

	return &plan, nil
}

func buildScenesSystemPrompt(opts *SceneOptions) string {
	style := "cinematic"
	if opts != nil && opts.Style != "" {
		style = opts.Style
	}

	return fmt.Sprintf(`You are a video director planning a short video assembled entirely from stock footage.

VISUAL STYLE: %s
Every scene must be something a stock-footage library can plausibly supply in a "%s" look.

Split the user's idea into 3 to 8 sequential scenes. For each scene return:
- id: a short unique identifier ("1", "2", ...)
- scene: a short title (2-6 words)
- description: one or two sentences describing what is on screen; this text may be read aloud as narration
- keywords: 2 to 4 concrete, visual search terms for a stock-footage search (nouns and settings, no abstract ideas)
- duration: seconds on screen, between 3 and 10

Respond with JSON only, shaped exactly as:
{"scenes":[{"id":"1","scene":"...","description":"...","keywords":["..."],"duration":5}]}`, style, style)
}

func buildScenesUserPrompt(prompt string) string {
	return fmt.Sprintf("Plan the scenes for this video idea:\n\n%s", prompt)
}
