package session

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge3d/forge3d/pkg/types"
)

// listFilesUnder returns the regular files below dir.
func listFilesUnder(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

func atoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	require.NoError(t, err)
	return n
}

func completedSession(t *testing.T, projectID string) *Session {
	t.Helper()
	fb := &fakeBridge{}
	deps, _ := testDeps(t, fb)
	s := New(types.NewID(), types.ImageJob{Prompt: "x"}, projectID, deps)
	_, err := s.Run(context.Background())
	require.NoError(t, err)
	return s
}

func TestRegistryCapsAtTwenty(t *testing.T) {
	r := NewRegistry()
	var first *Session
	for i := 0; i < 25; i++ {
		fb := &fakeBridge{}
		deps, _ := testDeps(t, fb)
		s := New(types.NewID(), types.ImageJob{Prompt: fmt.Sprintf("p%d", i)}, "", deps)
		if i == 0 {
			first = s
		}
		r.Add(s)
	}

	snaps := r.Snapshots()
	assert.Len(t, snaps, 20)

	_, ok := r.Get(first.ID())
	assert.False(t, ok)
}

func TestRegistrySnapshotsNewestFirst(t *testing.T) {
	r := NewRegistry()
	a := completedSession(t, "")
	b := completedSession(t, "")
	r.Add(a)
	r.Add(b)

	snaps := r.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, b.ID(), snaps[0].ID)
	assert.Equal(t, a.ID(), snaps[1].ID)
}

func TestRetentionEvictsUnattachedResults(t *testing.T) {
	r := NewRegistry()
	unattached := completedSession(t, "")
	attached := completedSession(t, types.NewID())
	r.Add(unattached)
	r.Add(attached)

	require.NotNil(t, unattached.Result())

	// Jump the clock past the retention window.
	r.now = func() time.Time { return time.Now().Add(resultRetention + time.Minute) }

	got, ok := r.Get(unattached.ID())
	require.True(t, ok)
	assert.Nil(t, got.Result(), "unattached result bytes must be evicted")

	got, ok = r.Get(attached.ID())
	require.True(t, ok)
	assert.NotNil(t, got.Result(), "attached sessions keep their result reference")
}
