package pipeline

import (
	"github.com/bobarin/reelsmith/internal/models"
	"github.com/bobarin/reelsmith/internal/services"
)

// MapRenderStatus converts a render-provider status into a project status.
// Unrecognized values are treated as still processing.
func MapRenderStatus(providerStatus string) models.ProjectStatus {
	switch providerStatus {
	case services.RenderQueued:
		return models.ProjectStatusPending
	case services.RenderFetching, services.RenderRendering, services.RenderSaving:
		return models.ProjectStatusProcessing
	case services.RenderDone:
		return models.ProjectStatusCompleted
	case services.RenderFailed:
		return models.ProjectStatusFailed
	default:
		return models.ProjectStatusProcessing
	}
}
