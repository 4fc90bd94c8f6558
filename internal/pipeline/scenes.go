package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/bobarin/reelsmith/internal/models"
	"github.com/bobarin/reelsmith/internal/services"
)

// SceneGenerator turns a prompt into an ordered, normalized scene list.
type SceneGenerator struct {
	provider services.SceneProvider
}

func NewSceneGenerator(provider services.SceneProvider) *SceneGenerator {
	return &SceneGenerator{provider: provider}
}

// Generate calls the scene provider once. Every returned scene has a unique
// id, a non-empty keyword list and a positive duration.
func (g *SceneGenerator) Generate(ctx context.Context, prompt, style string) (models.Scenes, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, &SceneGenerationError{Provider: g.provider.Name(), Err: fmt.Errorf("prompt is empty")}
	}

	plan, err := g.provider.GenerateScenes(ctx, prompt, &services.SceneOptions{Style: style})
	if err != nil {
		return nil, &SceneGenerationError{Provider: g.provider.Name(), Err: err}
	}
	if plan == nil || len(plan.Scenes) == 0 {
		return nil, &SceneGenerationError{Provider: g.provider.Name()}
	}

	scenes := normalizeScenes(plan.Scenes, prompt)
	log.Printf("[Scenes] %s generated %d scenes (%.1fs total)", g.provider.Name(), len(scenes), scenes.TotalDuration())
	return scenes, nil
}

func normalizeScenes(generated []services.GeneratedScene, prompt string) models.Scenes {
	scenes := make(models.Scenes, 0, len(generated))
	seen := make(map[string]bool, len(generated))

	for i, g := range generated {
		id := strings.TrimSpace(g.ID)
		if id == "" || seen[id] {
			id = fmt.Sprintf("scene-%d", i+1)
		}
		seen[id] = true

		title := strings.TrimSpace(g.Scene)
		duration := g.Duration
		if duration <= 0 {
			duration = models.DefaultSceneDuration
		}

		scenes = append(scenes, models.SceneDescriptor{
			ID:          id,
			Title:       title,
			Description: strings.TrimSpace(g.Description),
			Keywords:    sceneKeywords(g.Keywords, title, g.Description, prompt),
			Duration:    duration,
		})
	}

	return scenes
}

// sceneKeywords keeps the non-blank keywords, falling back to the scene title,
// then its description, then the prompt.
func sceneKeywords(keywords []string, fallbacks ...string) []string {
	cleaned := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	if len(cleaned) > 0 {
		return cleaned
	}

	for _, f := range fallbacks {
		if f = strings.TrimSpace(f); f != "" {
			return []string{f}
		}
	}
	return []string{"stock footage"}
}
