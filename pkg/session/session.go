package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/forge3d/forge3d/pkg/assets"
	"github.com/forge3d/forge3d/pkg/bridge"
	"github.com/forge3d/forge3d/pkg/errdefs"
	"github.com/forge3d/forge3d/pkg/log"
	"github.com/forge3d/forge3d/pkg/telemetry"
	"github.com/forge3d/forge3d/pkg/types"
)

// State is the session's lifecycle state.
type State string

const (
	StateIdle            State = "idle"
	StateGeneratingImage State = "generating_image"
	StateGeneratingMesh  State = "generating_mesh"
	StateComplete        State = "complete"
	StateFailed          State = "failed"
)

// Terminal reports whether the session has finished.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// CancelledError is the terminal error message of a cancelled session.
const CancelledError = "cancelled"

// Bridge is the slice of the supervisor surface a session drives.
type Bridge interface {
	GenerateImage(ctx context.Context, prompt string, opts types.GenerationOptions) (*bridge.ImageResult, error)
	GenerateMesh(ctx context.Context, image []byte, opts types.GenerationOptions) (*bridge.MeshResult, error)
}

// AssetWriter persists artifact bytes under the sandboxed asset root.
type AssetWriter interface {
	Write(projectID, name string, data []byte, overwrite bool) (*assets.WriteResult, error)
	Remove(path string) error
}

// AssetRecorder persists asset rows.
type AssetRecorder interface {
	CreateAsset(ctx context.Context, a *types.Asset) error
}

// Result is what a completed session produced. When the submitting
// request carried no project, the bytes live only here.
type Result struct {
	Kind      types.Kind
	Image     []byte
	Mesh      []byte
	Meta      bridge.Metadata
	AssetID   string
	AssetPath string
}

// Primary returns the bytes the download endpoint serves.
func (r *Result) Primary() []byte {
	if r.Kind == types.KindImage {
		return r.Image
	}
	return r.Mesh
}

// ContentType returns the MIME type of the primary bytes.
func (r *Result) ContentType() string {
	if r.Kind == types.KindImage {
		return "image/png"
	}
	return "model/gltf-binary"
}

// Snapshot is the read-only view the status endpoint serves.
type Snapshot struct {
	ID          string     `json:"id"`
	Kind        types.Kind `json:"type"`
	ProjectID   string     `json:"projectId,omitempty"`
	State       State      `json:"state"`
	Percent     int        `json:"percent"`
	Error       string     `json:"error,omitempty"`
	AssetID     string     `json:"assetId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Deps wires a session to the rest of the host.
type Deps struct {
	Bridge  Bridge
	Assets  AssetWriter
	Records AssetRecorder
	Hub     *telemetry.Hub
}

// Session executes one generation end-to-end. Write-once: Run may be
// called exactly once per session.
type Session struct {
	id        string
	job       types.Job
	projectID string
	deps      Deps
	logger    zerolog.Logger

	mu          sync.Mutex
	state       State
	percent     int
	errMsg      string
	result      *Result
	cancel      context.CancelFunc
	createdAt   time.Time
	completedAt *time.Time
	emitSeq     int

	// interpolation seam for tests
	progressTick time.Duration
}

// New creates an idle session for one dequeued job. The id is the job's
// history entry id, so status lookups address both with one value.
func New(id string, job types.Job, projectID string, deps Deps) *Session {
	return &Session{
		id:           id,
		job:          job,
		projectID:    projectID,
		deps:         deps,
		logger:       log.WithComponent("session").With().Str("session_id", id).Logger(),
		state:        StateIdle,
		createdAt:    time.Now().UTC(),
		progressTick: 2 * time.Second,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Kind returns the job kind the session runs.
func (s *Session) Kind() types.Kind { return s.job.JobKind() }

// ProjectID returns the owning project, or "" for an unattached run.
func (s *Session) ProjectID() string { return s.projectID }

// Run executes the job to a terminal state and returns its result. The
// full pipeline runs as two staged worker calls so both generating
// states are externally observable.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return nil, errdefs.Conflictf("session %s already ran (state %s)", s.id, state)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	result, err := s.execute(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	if s.projectID != "" {
		if err := s.persist(result); err != nil {
			return nil, s.fail(ctx, err)
		}
	}

	s.mu.Lock()
	s.state = StateComplete
	s.percent = 100
	s.result = result
	now := time.Now().UTC()
	s.completedAt = &now
	s.mu.Unlock()

	s.emit("session.complete", nil, 0)
	s.logger.Info().Str("kind", string(result.Kind)).Msg("session complete")
	return result, nil
}

func (s *Session) execute(ctx context.Context) (*Result, error) {
	switch job := s.job.(type) {
	case types.ImageJob:
		img, err := s.imageStage(ctx, job.Prompt, job.Options)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: types.KindImage, Image: img.Image, Meta: img.Meta}, nil

	case types.MeshJob:
		mesh, err := s.meshStage(ctx, job.Image, job.Options)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: types.KindMesh, Mesh: mesh.Mesh, Meta: mesh.Meta}, nil

	case types.FullJob:
		img, err := s.imageStage(ctx, job.Prompt, job.Options)
		if err != nil {
			return nil, err
		}
		mesh, err := s.meshStage(ctx, img.Image, job.Options)
		if err != nil {
			return nil, err
		}
		meta := mesh.Meta
		meta.GenTimeSecs += img.Meta.GenTimeSecs
		if img.Meta.VRAMUsageMB > meta.VRAMUsageMB {
			meta.VRAMUsageMB = img.Meta.VRAMUsageMB
		}
		return &Result{Kind: types.KindFull, Image: img.Image, Mesh: mesh.Mesh, Meta: meta}, nil

	default:
		return nil, errdefs.InvalidArgumentf("unknown job payload %T", s.job)
	}
}

func (s *Session) imageStage(ctx context.Context, prompt string, opts types.GenerationOptions) (*bridge.ImageResult, error) {
	stop := s.beginStage(ctx, StateGeneratingImage)
	defer stop()
	return s.deps.Bridge.GenerateImage(ctx, prompt, opts)
}

func (s *Session) meshStage(ctx context.Context, image []byte, opts types.GenerationOptions) (*bridge.MeshResult, error) {
	stop := s.beginStage(ctx, StateGeneratingMesh)
	defer stop()
	return s.deps.Bridge.GenerateMesh(ctx, image, opts)
}

// beginStage moves the FSM, resets percent to 0, and starts the
// interpolator that nudges percent toward 90 until the stage returns.
func (s *Session) beginStage(ctx context.Context, state State) (stop func()) {
	s.mu.Lock()
	s.state = state
	s.percent = 0
	s.mu.Unlock()
	s.emitProgress(state, 0)

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.progressTick)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				if s.state != state || s.percent >= 90 {
					s.mu.Unlock()
					continue
				}
				s.percent += 5
				percent := s.percent
				s.mu.Unlock()
				s.emitProgress(state, percent)
			}
		}
	}()
	return func() { close(done) }
}

// fail drives the session terminal with the given cause. Cancellation is
// reported as the literal "cancelled" regardless of how the abort
// surfaced from the transport.
func (s *Session) fail(ctx context.Context, cause error) error {
	msg := cause.Error()
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(cause, context.Canceled) {
		msg = CancelledError
		cause = fmt.Errorf("%s: %w", CancelledError, context.Canceled)
	}

	s.mu.Lock()
	// An externally supplied reason (bridge crash) wins over the generic
	// cancellation mapping.
	if s.errMsg != "" {
		msg = s.errMsg
		cause = errors.New(msg)
	}
	s.state = StateFailed
	s.errMsg = msg
	now := time.Now().UTC()
	s.completedAt = &now
	s.mu.Unlock()

	s.emit("session.failed", map[string]string{"error": msg}, 0)
	s.logger.Warn().Str("error", msg).Msg("session failed")
	return cause
}

// FailExternal terminates a session from outside the Run path, used when
// the bridge crashes under the in-flight call.
func (s *Session) FailExternal(reason string) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.errMsg = reason
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Cancel sets the cooperative cancellation token. The in-flight worker
// call aborts via request-context propagation.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	terminal := s.state.Terminal()
	s.mu.Unlock()
	if !terminal && cancel != nil {
		cancel()
	}
}

// persist hands the result bytes to the asset store and records the rows.
// Either both file and row land, or the file is removed again.
func (s *Session) persist(result *Result) error {
	ctx := context.Background()

	if result.Kind == types.KindFull || result.Kind == types.KindImage {
		id, path, err := s.persistOne(ctx, result.Image, types.KindImage, ".png", result.Meta)
		if err != nil {
			return err
		}
		if result.Kind == types.KindImage {
			result.AssetID, result.AssetPath = id, path
			return nil
		}
	}

	id, path, err := s.persistOne(ctx, result.Mesh, types.KindMesh, ".glb", result.Meta)
	if err != nil {
		return err
	}
	result.AssetID, result.AssetPath = id, path
	return nil
}

func (s *Session) persistOne(ctx context.Context, data []byte, kind types.Kind, ext string, meta bridge.Metadata) (id, path string, err error) {
	assetID := types.NewID()
	name := assetID + ext

	written, err := s.deps.Assets.Write(s.projectID, name, data, false)
	if err != nil {
		return "", "", err
	}

	metaJSON, _ := json.Marshal(meta)
	asset := &types.Asset{
		ID:        assetID,
		ProjectID: s.projectID,
		Name:      name,
		Kind:      kind,
		FilePath:  written.Path,
		FileSize:  written.Size,
		Metadata:  string(metaJSON),
	}
	if err := s.deps.Records.CreateAsset(ctx, asset); err != nil {
		s.deps.Assets.Remove(written.Path)
		return "", "", fmt.Errorf("failed to record asset: %w", err)
	}
	return assetID, written.Path, nil
}

// Snapshot returns the session's externally visible state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:          s.id,
		Kind:        s.job.JobKind(),
		ProjectID:   s.projectID,
		State:       s.state,
		Percent:     s.percent,
		Error:       s.errMsg,
		CreatedAt:   s.createdAt,
		CompletedAt: s.completedAt,
	}
	if s.result != nil {
		snap.AssetID = s.result.AssetID
	}
	return snap
}

// Result returns the terminal result, or nil when absent or evicted.
func (s *Session) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// evictResult drops retained bytes for unattached sessions past the
// retention window.
func (s *Session) evictResult() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = nil
}

func (s *Session) emitProgress(state State, percent int) {
	s.emit("session.progress", map[string]string{
		"stage":   string(state),
		"percent": strconv.Itoa(percent),
	}, 0)
}

func (s *Session) emit(eventType string, fields map[string]string, d time.Duration) {
	if s.deps.Hub == nil {
		return
	}
	if fields == nil {
		fields = map[string]string{}
	}
	s.mu.Lock()
	s.emitSeq++
	fields["seq"] = strconv.Itoa(s.emitSeq)
	s.mu.Unlock()
	fields["sessionId"] = s.id

	s.deps.Hub.Publish(telemetry.Event{
		Category: telemetry.CategoryScheduler,
		Type:     eventType,
		Fields:   fields,
		Duration: d,
	})
}
