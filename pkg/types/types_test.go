package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		assert.Len(t, id, IDLength)
		assert.Regexp(t, "^[0-9a-f]{12}$", id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindMesh.Valid())
	assert.True(t, KindImage.Valid())
	assert.True(t, KindFull.Valid())
	assert.False(t, Kind("").Valid())
	assert.False(t, Kind("video").Valid())
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"queued to processing", StatusQueued, StatusProcessing, true},
		{"queued to failed", StatusQueued, StatusFailed, true},
		{"queued to complete", StatusQueued, StatusComplete, true},
		{"processing to complete", StatusProcessing, StatusComplete, true},
		{"processing to failed", StatusProcessing, StatusFailed, true},
		{"processing to queued", StatusProcessing, StatusQueued, false},
		{"complete to failed", StatusComplete, StatusFailed, false},
		{"failed to processing", StatusFailed, StatusProcessing, false},
		{"complete to complete", StatusComplete, StatusComplete, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusComplete.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestJobKinds(t *testing.T) {
	var jobs = []Job{
		ImageJob{Prompt: "a chair"},
		MeshJob{Image: []byte{0x89, 'P', 'N', 'G'}},
		FullJob{Prompt: "a chair"},
	}
	assert.Equal(t, KindImage, jobs[0].JobKind())
	assert.Equal(t, KindMesh, jobs[1].JobKind())
	assert.Equal(t, KindFull, jobs[2].JobKind())
}
