package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInfoShort(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{"no commit", Info{Version: "dev", GitCommit: "unknown"}, "dev"},
		{"dev with commit", Info{Version: "dev", GitCommit: "abc1234def"}, "dev-abc1234"},
		{"release", Info{Version: "v1.2.0", GitCommit: "abc1234def"}, "v1.2.0 (abc1234)"},
		{"short commit", Info{Version: "v1.2.0", GitCommit: "abc"}, "v1.2.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.Short())
		})
	}
}

func TestInfoString(t *testing.T) {
	info := Info{
		Version:   "v1.0.0",
		GitCommit: "abc1234",
		BuildTime: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		GoVersion: "go1.24.4",
		Platform:  "linux/amd64",
		Modified:  true,
	}

	out := info.String()
	assert.Contains(t, out, "Version: v1.0.0")
	assert.Contains(t, out, "Commit: abc1234 (modified)")
	assert.Contains(t, out, "Built: 2026-01-02T03:04:05Z")
	assert.Contains(t, out, "Platform: linux/amd64")

	info.GitCommit = "unknown"
	info.BuildTime = time.Time{}
	assert.NotContains(t, info.String(), "Commit:")
	assert.NotContains(t, info.String(), "Built:")
}

func TestGet(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}
