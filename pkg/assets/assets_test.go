package assets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge3d/forge3d/pkg/errdefs"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain", "chair.glb", "chair.glb", false},
		{"spaces kept", "red chair.png", "red chair.png", false},
		{"slashes replaced", "../../etc/passwd", ".._.._etc_passwd", false},
		{"backslashes replaced", `..\..\etc\passwd`, ".._.._etc_passwd", false},
		{"windows reserved", `a<b>c:d"e|f?g*h`, "a_b_c_d_e_f_g_h", false},
		{"nul replaced", "a\x00b", "a_b", false},
		{"dot rejected", ".", "", true},
		{"dotdot rejected", "..", "", true},
		{"empty rejected", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeName(tt.in)
			if tt.wantErr {
				assert.True(t, errdefs.IsPathViolation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteAtomic(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	data := []byte("glTF binary payload")
	res, err := s.Write("abc123def456", "chair.glb", data, false)
	require.NoError(t, err)

	assert.Equal(t, int64(len(data)), res.Size)
	assert.True(t, s.Contains(res.Path))

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// No .part residue.
	_, err = os.Stat(res.Path + ".part")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteNoOverwriteByDefault(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Write("abc123def456", "chair.glb", []byte("one"), false)
	require.NoError(t, err)

	_, err = s.Write("abc123def456", "chair.glb", []byte("two"), false)
	assert.True(t, errdefs.IsConflict(err))

	res, err := s.Write("abc123def456", "chair.glb", []byte("two"), true)
	require.NoError(t, err)
	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)
}

func TestTraversalNamesStayInsideRoot(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	// The literal hostile project name from a created project must land as
	// a sanitized directory under the root.
	res, err := s.Write("../../etc/passwd", "mesh.glb", []byte("data"), false)
	require.NoError(t, err)

	assert.True(t, s.Contains(res.Path))
	assert.True(t, strings.HasPrefix(res.Path, s.Root()+string(filepath.Separator)))
	assert.Contains(t, res.Path, ".._.._etc_passwd")

	// Nothing escaped above the root.
	_, err = os.Stat(filepath.Join(filepath.Dir(root), "etc"))
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveRefusesOutsideRoot(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	outside := filepath.Join(t.TempDir(), "victim.txt")
	require.NoError(t, os.WriteFile(outside, []byte("keep me"), 0644))

	err = s.Remove(outside)
	assert.True(t, errdefs.IsPathViolation(err))

	_, err = os.Stat(outside)
	assert.NoError(t, err)
}

func TestRemoveMissingFileIsFine(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	res, err := s.Write("abc123def456", "gone.png", []byte("x"), false)
	require.NoError(t, err)
	require.NoError(t, s.Remove(res.Path))
	require.NoError(t, s.Remove(res.Path)) // already gone
}

func TestRemoveProjectDir(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	res, err := s.Write("abc123def456", "a.png", []byte("x"), false)
	require.NoError(t, err)
	require.NoError(t, s.Remove(res.Path))
	require.NoError(t, s.RemoveProjectDir("abc123def456"))

	_, err = os.Stat(filepath.Join(s.Root(), "abc123def456"))
	assert.True(t, os.IsNotExist(err))
}
