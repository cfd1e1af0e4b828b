package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge3d/forge3d/pkg/assets"
	"github.com/forge3d/forge3d/pkg/bridge"
	"github.com/forge3d/forge3d/pkg/errdefs"
	"github.com/forge3d/forge3d/pkg/telemetry"
	"github.com/forge3d/forge3d/pkg/types"
)

// fakeBridge scripts worker responses and records calls.
type fakeBridge struct {
	mu         sync.Mutex
	imageCalls int
	meshCalls  int
	imageErr   error
	meshErr    error
	block      chan struct{} // when set, calls wait on it or ctx
	lastImage  []byte
}

func (f *fakeBridge) GenerateImage(ctx context.Context, prompt string, opts types.GenerationOptions) (*bridge.ImageResult, error) {
	f.mu.Lock()
	f.imageCalls++
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.imageErr != nil {
		return nil, f.imageErr
	}
	return &bridge.ImageResult{Image: []byte("png bytes"), Meta: bridge.Metadata{GenTimeSecs: 10, VRAMUsageMB: 2048}}, nil
}

func (f *fakeBridge) GenerateMesh(ctx context.Context, image []byte, opts types.GenerationOptions) (*bridge.MeshResult, error) {
	f.mu.Lock()
	f.meshCalls++
	f.lastImage = image
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.meshErr != nil {
		return nil, f.meshErr
	}
	return &bridge.MeshResult{Mesh: []byte("glb bytes"), Meta: bridge.Metadata{GenTimeSecs: 30, VRAMUsageMB: 4096}}, nil
}

// fakeRecorder records asset rows in memory.
type fakeRecorder struct {
	mu     sync.Mutex
	assets []*types.Asset
	err    error
}

func (f *fakeRecorder) CreateAsset(ctx context.Context, a *types.Asset) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.assets = append(f.assets, a)
	f.mu.Unlock()
	return nil
}

func testDeps(t *testing.T, b Bridge) (Deps, *fakeRecorder) {
	t.Helper()
	store, err := assets.New(t.TempDir())
	require.NoError(t, err)
	rec := &fakeRecorder{}
	return Deps{
		Bridge:  b,
		Assets:  store,
		Records: rec,
		Hub:     telemetry.NewHub(100, 1000),
	}, rec
}

func TestImageJobCompletes(t *testing.T) {
	fb := &fakeBridge{}
	deps, _ := testDeps(t, fb)
	s := New(types.NewID(), types.ImageJob{Prompt: "a red chair"}, "", deps)

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.KindImage, res.Kind)
	assert.Equal(t, []byte("png bytes"), res.Primary())
	assert.Equal(t, "image/png", res.ContentType())
	assert.Equal(t, 1, fb.imageCalls)
	assert.Equal(t, 0, fb.meshCalls)

	snap := s.Snapshot()
	assert.Equal(t, StateComplete, snap.State)
	assert.Equal(t, 100, snap.Percent)
	require.NotNil(t, snap.CompletedAt)
}

func TestFullJobRunsBothStagesInOrder(t *testing.T) {
	fb := &fakeBridge{}
	deps, _ := testDeps(t, fb)
	s := New(types.NewID(), types.FullJob{Prompt: "a red chair"}, "", deps)

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.KindFull, res.Kind)
	assert.Equal(t, []byte("png bytes"), fb.lastImage)
	assert.Equal(t, []byte("glb bytes"), res.Primary())
	assert.Equal(t, float64(40), res.Meta.GenTimeSecs)
	assert.Equal(t, float64(4096), res.Meta.VRAMUsageMB)
}

func TestMeshJobForwardsCallerImage(t *testing.T) {
	fb := &fakeBridge{}
	deps, _ := testDeps(t, fb)
	input := []byte{0x89, 'P', 'N', 'G'}
	s := New(types.NewID(), types.MeshJob{Image: input}, "", deps)

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, input, fb.lastImage)
	assert.Equal(t, 0, fb.imageCalls)
}

func TestRunIsWriteOnce(t *testing.T) {
	fb := &fakeBridge{}
	deps, _ := testDeps(t, fb)
	s := New(types.NewID(), types.ImageJob{Prompt: "x"}, "", deps)

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	assert.True(t, errdefs.IsConflict(err))
}

func TestWorkerErrorFailsSession(t *testing.T) {
	fb := &fakeBridge{imageErr: errors.New("CUDA out of memory")}
	deps, _ := testDeps(t, fb)
	s := New(types.NewID(), types.ImageJob{Prompt: "x"}, "", deps)

	_, err := s.Run(context.Background())
	require.Error(t, err)

	snap := s.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Contains(t, snap.Error, "CUDA out of memory")
}

func TestCancelWhileGenerating(t *testing.T) {
	fb := &fakeBridge{block: make(chan struct{})}
	deps, _ := testDeps(t, fb)
	s := New(types.NewID(), types.ImageJob{Prompt: "x"}, "", deps)

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool {
		return s.Snapshot().State == StateGeneratingImage
	}, time.Second, 5*time.Millisecond)

	s.Cancel()
	require.Error(t, <-done)

	snap := s.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, CancelledError, snap.Error)
}

func TestExternalFailureReasonWins(t *testing.T) {
	fb := &fakeBridge{block: make(chan struct{})}
	deps, _ := testDeps(t, fb)
	s := New(types.NewID(), types.FullJob{Prompt: "x"}, "", deps)

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool {
		return s.Snapshot().State == StateGeneratingImage
	}, time.Second, 5*time.Millisecond)

	s.FailExternal("bridge crashed mid-generation")
	require.Error(t, <-done)

	snap := s.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, "bridge crashed mid-generation", snap.Error)
}

func TestPersistWritesFileAndRow(t *testing.T) {
	fb := &fakeBridge{}
	deps, rec := testDeps(t, fb)
	projectID := types.NewID()
	s := New(types.NewID(), types.ImageJob{Prompt: "a red chair"}, projectID, deps)

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, rec.assets, 1)
	a := rec.assets[0]
	assert.Equal(t, projectID, a.ProjectID)
	assert.Equal(t, types.KindImage, a.Kind)
	assert.Equal(t, res.AssetID, a.ID)
	assert.FileExists(t, a.FilePath)
	assert.Equal(t, int64(len("png bytes")), a.FileSize)
}

func TestPersistFullRecordsBothArtifacts(t *testing.T) {
	fb := &fakeBridge{}
	deps, rec := testDeps(t, fb)
	s := New(types.NewID(), types.FullJob{Prompt: "x"}, types.NewID(), deps)

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, rec.assets, 2)
	assert.Equal(t, types.KindImage, rec.assets[0].Kind)
	assert.Equal(t, types.KindMesh, rec.assets[1].Kind)
	// The history row references the primary (mesh) artifact.
	assert.Equal(t, rec.assets[1].ID, res.AssetID)
}

func TestRowFailureLeavesNoOrphanFile(t *testing.T) {
	fb := &fakeBridge{}
	deps, rec := testDeps(t, fb)
	rec.err = errors.New("disk full")
	s := New(types.NewID(), types.ImageJob{Prompt: "x"}, types.NewID(), deps)

	_, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, s.Snapshot().State)

	store := deps.Assets.(*assets.Store)
	entries, err := listFilesUnder(store.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProgressMonotoneWithinStage(t *testing.T) {
	fb := &fakeBridge{block: make(chan struct{})}
	deps, _ := testDeps(t, fb)
	s := New(types.NewID(), types.ImageJob{Prompt: "x"}, "", deps)
	s.progressTick = 2 * time.Millisecond

	sub := deps.Hub.Subscribe(telemetry.CategoryScheduler)
	defer deps.Hub.Unsubscribe(sub)

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool {
		return s.Snapshot().Percent >= 20
	}, time.Second, 2*time.Millisecond)

	close(fb.block)
	require.NoError(t, <-done)

	last := -1
	for {
		select {
		case ev := <-sub.C:
			if ev.Type != "session.progress" {
				continue
			}
			percent := atoi(t, ev.Fields["percent"])
			assert.GreaterOrEqual(t, percent, last)
			last = percent
		default:
			assert.LessOrEqual(t, last, 90)
			return
		}
	}
}
