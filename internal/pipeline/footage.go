package pipeline

import (
	"context"
	"log"
	"sync"

	"github.com/bobarin/reelsmith/internal/models"
	"github.com/bobarin/reelsmith/internal/services"
	"golang.org/x/sync/errgroup"
)

const defaultFootageConcurrency = 4

// FootageResult is the outcome of resolving footage for a scene list.
type FootageResult struct {
	Clips   map[string]services.FootageVideo // scene id -> chosen clip
	Scenes  models.Scenes                    // input order, only scenes with footage
	Dropped []string                         // ids of scenes without footage
}

// FootageResolver picks one stock clip per scene.
type FootageResolver struct {
	providers   map[string]services.FootageProvider
	fallback    string
	concurrency int
}

// NewFootageResolver registers providers by name. defaultSource is used when
// a project's media source is empty or unknown.
func NewFootageResolver(defaultSource string, providers ...services.FootageProvider) *FootageResolver {
	byName := make(map[string]services.FootageProvider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	if _, ok := byName[defaultSource]; !ok && len(providers) > 0 {
		defaultSource = providers[0].Name()
	}
	return &FootageResolver{providers: byName, fallback: defaultSource, concurrency: defaultFootageConcurrency}
}

// Provider returns the footage provider for a media source.
func (r *FootageResolver) Provider(source string) services.FootageProvider {
	if p, ok := r.providers[source]; ok {
		return p
	}
	return r.providers[r.fallback]
}

// Resolve runs one search per scene and takes the first result. Scenes with
// no results (or a failed search) are dropped; an empty outcome is an error.
func (r *FootageResolver) Resolve(ctx context.Context, source string, scenes models.Scenes) (*FootageResult, error) {
	provider := r.Provider(source)
	if provider == nil {
		return nil, &FootageResolutionError{Provider: source, Scenes: len(scenes)}
	}

	chosen := make([]*services.FootageVideo, len(scenes))
	var (
		mu      sync.Mutex
		lastErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i := range scenes {
		i := i
		scene := scenes[i]
		g.Go(func() error {
			videos, err := provider.SearchVideos(gctx, scene.Keywords)
			if err != nil {
				log.Printf("[Footage] WARNING: search for scene %s (%v) failed: %v", scene.ID, scene.Keywords, err)
				mu.Lock()
				lastErr = err
				mu.Unlock()
				return nil
			}
			if len(videos) == 0 {
				log.Printf("[Footage] No results for scene %s (%v), dropping it", scene.ID, scene.Keywords)
				return nil
			}
			chosen[i] = &videos[0]
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &FootageResult{Clips: make(map[string]services.FootageVideo)}
	for i, scene := range scenes {
		clip := chosen[i]
		if clip == nil {
			result.Dropped = append(result.Dropped, scene.ID)
			continue
		}
		url := clip.URL
		scene.FootageURL = &url
		result.Scenes = append(result.Scenes, scene)
		result.Clips[scene.ID] = *clip
	}

	if len(result.Clips) == 0 {
		return nil, &FootageResolutionError{Provider: provider.Name(), Scenes: len(scenes), Err: lastErr}
	}

	log.Printf("[Footage] %s resolved %d/%d scenes", provider.Name(), len(result.Scenes), len(scenes))
	return result, nil
}
