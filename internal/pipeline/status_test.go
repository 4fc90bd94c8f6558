package pipeline

import (
	"testing"

	"github.com/bobarin/reelsmith/internal/models"
)

func TestMapRenderStatus(t *testing.T) {
	tests := []struct {
		in   string
		want models.ProjectStatus
	}{
		{"queued", models.ProjectStatusPending},
		{"fetching", models.ProjectStatusProcessing},
		{"rendering", models.ProjectStatusProcessing},
		{"saving", models.ProjectStatusProcessing},
		{"done", models.ProjectStatusCompleted},
		{"failed", models.ProjectStatusFailed},
		{"preprocessing", models.ProjectStatusProcessing},
		{"", models.ProjectStatusProcessing},
	}
	for _, tt := range tests {
		if got := MapRenderStatus(tt.in); got != tt.want {
			t.Errorf("MapRenderStatus(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
