package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/forge3d/forge3d/pkg/assets"
	"github.com/forge3d/forge3d/pkg/bridge"
	"github.com/forge3d/forge3d/pkg/errdefs"
	"github.com/forge3d/forge3d/pkg/log"
	"github.com/forge3d/forge3d/pkg/metrics"
	"github.com/forge3d/forge3d/pkg/session"
	"github.com/forge3d/forge3d/pkg/store"
	"github.com/forge3d/forge3d/pkg/telemetry"
	"github.com/forge3d/forge3d/pkg/types"
)

// BridgeCrashError is the terminal error message of a session killed by a
// worker crash.
const BridgeCrashError = "bridge crashed mid-generation"

// pollInterval bounds how long the loop sleeps between dispatch attempts
// when no wake signal arrives (e.g. the bridge coming back to running).
const pollInterval = 500 * time.Millisecond

// Bridge is the supervisor surface the scheduler depends on.
type Bridge interface {
	session.Bridge
	Running() bool
	State() bridge.State
	Crashes() <-chan bridge.CrashEvent
}

// pendingJob is the in-memory half of a queued history row: the image
// payload for mesh jobs and the unpersisted option bag. Neither survives
// a host restart.
type pendingJob struct {
	image   []byte
	options types.GenerationOptions
}

// QueueState is the queue endpoint's payload.
type QueueState struct {
	Paused     bool  `json:"paused"`
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// Scheduler admits generation jobs FIFO and runs at most one session
// against the bridge at a time. Queue order is authoritative in the
// store; payloads live only in memory.
type Scheduler struct {
	store    *store.Store
	assets   *assets.Store
	bridge   Bridge
	hub      *telemetry.Hub
	registry *session.Registry
	logger   zerolog.Logger

	// fatal is called when a terminal status cannot be recorded; the
	// recovery invariant is unmaintainable past that point.
	fatal func(error)

	mu      sync.Mutex
	paused  bool
	pending map[string]pendingJob
	current *session.Session

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a scheduler. Run must be called before jobs execute.
func New(st *store.Store, as *assets.Store, br Bridge, hub *telemetry.Hub) *Scheduler {
	logger := log.WithComponent("scheduler")
	return &Scheduler{
		store:    st,
		assets:   as,
		bridge:   br,
		hub:      hub,
		registry: session.NewRegistry(),
		logger:   logger,
		fatal: func(err error) {
			logger.Fatal().Err(err).Msg("cannot record job outcome")
		},
		pending: make(map[string]pendingJob),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// Registry exposes the session registry for the status endpoints.
func (s *Scheduler) Registry() *session.Registry {
	return s.registry
}

// Recover runs the startup procedure: orphaned processing rows are failed
// and queued mesh rows are demoted, since their image payloads did not
// survive the restart. Must complete before Run.
func (s *Scheduler) Recover(ctx context.Context) error {
	n, err := s.store.RecoverOrphans(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover orphaned jobs: %w", err)
	}
	if n > 0 {
		s.logger.Warn().Int64("count", n).Msg("failed orphaned in-flight jobs from previous run")
	}

	queued, err := s.store.ListHistory(ctx, types.HistoryFilter{Status: types.StatusQueued, Kind: types.KindMesh, Limit: -1})
	if err != nil {
		return fmt.Errorf("failed to list queued jobs: %w", err)
	}
	for _, e := range queued {
		if err := s.store.FailQueuedWithoutPayload(ctx, e.ID); err != nil {
			return fmt.Errorf("failed to demote payloadless job %s: %w", e.ID, err)
		}
		s.logger.Warn().Str("job_id", e.ID).Msg("demoted queued mesh job, payload lost in restart")
	}
	return nil
}

// Run is the scheduler loop. It blocks until Stop.
func (s *Scheduler) Run() {
	s.wg.Add(1)
	defer s.wg.Done()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case ev := <-s.bridge.Crashes():
			s.onBridgeCrash(ev)
		case <-s.wake:
			s.dispatch()
		case <-ticker.C:
			s.dispatch()
		}
	}
}

// Stop drains the loop: no further dequeues happen, the in-flight session
// runs to terminal, then Stop returns.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// Enqueue admits a job: a queued history row plus the in-memory payload.
// Returns the job id, which doubles as the session id once started.
func (s *Scheduler) Enqueue(ctx context.Context, job types.Job, projectID string) (string, error) {
	entry := &types.HistoryEntry{
		ID:        types.NewID(),
		ProjectID: projectID,
		Kind:      job.JobKind(),
		Status:    types.StatusQueued,
	}

	var p pendingJob
	switch j := job.(type) {
	case types.ImageJob:
		entry.Prompt = j.Prompt
		p.options = j.Options
	case types.FullJob:
		entry.Prompt = j.Prompt
		p.options = j.Options
	case types.MeshJob:
		if len(j.Image) == 0 {
			return "", errdefs.InvalidArgumentf("mesh generation requires image bytes")
		}
		p.image = j.Image
		p.options = j.Options
	default:
		return "", errdefs.InvalidArgumentf("unknown job payload %T", job)
	}

	if err := s.store.RecordHistory(ctx, entry); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.pending[entry.ID] = p
	s.mu.Unlock()

	s.publish("job.queued", map[string]string{"jobId": entry.ID, "kind": string(entry.Kind)})
	metrics.JobsEnqueued.WithLabelValues(string(entry.Kind)).Inc()
	s.logger.Info().Str("job_id", entry.ID).Str("kind", string(entry.Kind)).Msg("job queued")
	s.kick()
	return entry.ID, nil
}

// Pause gates the dequeue step. In-flight work always runs to terminal.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	metrics.QueuePaused.Set(1)
	s.publish("queue.paused", nil)
}

// Resume reopens the dequeue gate.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	metrics.QueuePaused.Set(0)
	s.publish("queue.resumed", nil)
	s.kick()
}

// Paused reports the gate state.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Cancel cancels a job in any phase. Queued jobs fail atomically in the
// store and never reach the bridge; processing jobs get a cooperative
// cancel; terminal jobs are an idempotent no-op.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	took, err := s.store.CancelQueued(ctx, id)
	if err != nil {
		return err
	}
	if took {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		s.publish("job.cancelled", map[string]string{"jobId": id})
		s.logger.Info().Str("job_id", id).Msg("queued job cancelled")
		return nil
	}

	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current != nil && current.ID() == id {
		current.Cancel()
		return nil
	}

	entry, err := s.store.GetHistory(ctx, id)
	if err != nil {
		return err
	}
	if entry.Status.Terminal() {
		return nil
	}
	// A processing row that is not the current session can only be a race
	// with dispatch; the cooperative cancel lands on the next snapshot.
	return errdefs.Conflictf("job %s is %s and cannot be cancelled yet", id, entry.Status)
}

// State returns the queue counters plus the pause flag.
func (s *Scheduler) State(ctx context.Context) (*QueueState, error) {
	counts, err := s.store.QueueCounts(ctx)
	if err != nil {
		return nil, err
	}
	for status, n := range counts {
		metrics.JobsTotal.WithLabelValues(string(status)).Set(float64(n))
	}
	return &QueueState{
		Paused:     s.Paused(),
		Queued:     counts[types.StatusQueued],
		Processing: counts[types.StatusProcessing],
		Completed:  counts[types.StatusComplete],
		Failed:     counts[types.StatusFailed],
	}, nil
}

// kick nudges the loop without blocking.
func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dispatch performs one dequeue-and-start attempt. The store update in
// DequeueOldest is the linearization point; everything after it is
// recoverable by the startup procedure.
func (s *Scheduler) dispatch() {
	s.mu.Lock()
	if s.paused || s.current != nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if !s.bridge.Running() {
		return
	}

	ctx := context.Background()
	entry, err := s.store.DequeueOldest(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("dequeue failed")
		return
	}
	if entry == nil {
		return
	}

	s.mu.Lock()
	p, ok := s.pending[entry.ID]
	delete(s.pending, entry.ID)
	s.mu.Unlock()

	job, err := buildJob(entry, p, ok)
	if err != nil {
		s.failDispatched(ctx, entry.ID, err.Error())
		return
	}

	sess := session.New(entry.ID, job, entry.ProjectID, session.Deps{
		Bridge:  s.bridge,
		Assets:  s.assets,
		Records: s.store,
		Hub:     s.hub,
	})
	s.registry.Add(sess)

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()

	s.publish("job.started", map[string]string{"jobId": entry.ID, "kind": string(entry.Kind)})
	s.logger.Info().Str("job_id", entry.ID).Str("kind", string(entry.Kind)).Msg("job started")

	s.wg.Add(1)
	go s.runSession(sess)
}

// buildJob reconstitutes the typed job from the row and its payload.
func buildJob(entry *types.HistoryEntry, p pendingJob, havePayload bool) (types.Job, error) {
	switch entry.Kind {
	case types.KindImage:
		return types.ImageJob{Prompt: entry.Prompt, Options: p.options}, nil
	case types.KindFull:
		return types.FullJob{Prompt: entry.Prompt, Options: p.options}, nil
	case types.KindMesh:
		if !havePayload || len(p.image) == 0 {
			return nil, fmt.Errorf("host restart before execution")
		}
		return types.MeshJob{Image: p.image, Options: p.options}, nil
	}
	return nil, fmt.Errorf("unknown job kind %q", entry.Kind)
}

// runSession drives one session to terminal and records the outcome.
func (s *Scheduler) runSession(sess *session.Session) {
	defer s.wg.Done()

	start := time.Now()
	result, runErr := sess.Run(context.Background())
	elapsed := time.Since(start)
	metrics.JobDuration.WithLabelValues(string(sess.Kind())).Observe(elapsed.Seconds())

	ctx := context.Background()
	if runErr != nil {
		snap := sess.Snapshot()
		upd := store.HistoryUpdate{ErrorMsg: snap.Error}
		if err := s.store.UpdateHistoryStatus(ctx, sess.ID(), types.StatusFailed, upd); err != nil {
			s.fatal(err)
			return
		}
		s.publishTimed("job.failed", map[string]string{"jobId": sess.ID(), "error": snap.Error}, elapsed)
	} else {
		genTime := result.Meta.GenTimeSecs
		vram := result.Meta.VRAMUsageMB
		upd := store.HistoryUpdate{
			AssetID:     result.AssetID,
			GenTimeSecs: &genTime,
			VRAMUsageMB: &vram,
		}
		if err := s.store.UpdateHistoryStatus(ctx, sess.ID(), types.StatusComplete, upd); err != nil {
			s.fatal(err)
			return
		}
		s.publishTimed("job.complete", map[string]string{"jobId": sess.ID()}, elapsed)
	}

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	s.kick()
}

// failDispatched records a terminal failure for a row that was already
// moved to processing but could not start a session.
func (s *Scheduler) failDispatched(ctx context.Context, id, msg string) {
	if err := s.store.UpdateHistoryStatus(ctx, id, types.StatusFailed, store.HistoryUpdate{ErrorMsg: msg}); err != nil {
		s.fatal(err)
		return
	}
	s.publish("job.failed", map[string]string{"jobId": id, "error": msg})
}

// onBridgeCrash fails the in-flight session; its runSession goroutine
// records the terminal row as usual.
func (s *Scheduler) onBridgeCrash(ev bridge.CrashEvent) {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	s.logger.Error().Int("exit_code", ev.ExitCode).Str("reason", ev.Reason).Msg("bridge crash observed")
	if current != nil {
		current.FailExternal(BridgeCrashError)
	}
}

func (s *Scheduler) publish(eventType string, fields map[string]string) {
	s.publishTimed(eventType, fields, 0)
}

func (s *Scheduler) publishTimed(eventType string, fields map[string]string, d time.Duration) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(telemetry.Event{
		Category: telemetry.CategoryScheduler,
		Type:     eventType,
		Fields:   fields,
		Duration: d,
	})
}
