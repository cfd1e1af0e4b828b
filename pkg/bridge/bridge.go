package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/forge3d/forge3d/pkg/config"
	"github.com/forge3d/forge3d/pkg/errdefs"
	"github.com/forge3d/forge3d/pkg/health"
	"github.com/forge3d/forge3d/pkg/log"
	"github.com/forge3d/forge3d/pkg/metrics"
	"github.com/forge3d/forge3d/pkg/telemetry"
	"github.com/forge3d/forge3d/pkg/types"
)

const (
	// restartCooldown is the pause between a crash and the automatic respawn.
	restartCooldown = 5 * time.Second

	// restartWindow is the rolling window the restart budget counts over.
	restartWindow = 60 * time.Second

	// stopGrace is how long SIGTERM gets before SIGKILL.
	stopGrace = 5 * time.Second

	// startupPollInterval is the cadence of readiness probes after a spawn.
	startupPollInterval = time.Second

	// probeTimeout bounds a single health probe round-trip.
	probeTimeout = 2 * time.Second
)

// CrashEvent describes an unexpected worker death.
type CrashEvent struct {
	ExitCode   int
	Reason     string
	StderrTail string
	Time       time.Time
}

// Supervisor owns exactly one inference worker process: it spawns it on a
// free loopback port, watches its health, restarts it within budget, and
// forwards typed generation calls while it is running.
type Supervisor struct {
	cfg    config.BridgeConfig
	hub    *telemetry.Hub
	logger zerolog.Logger

	crashCh chan CrashEvent

	mu         sync.Mutex
	state      State
	port       int
	cmd        *exec.Cmd
	client     *Client
	tally      *health.Tally
	stderr     *tailWriter
	restarts   []time.Time
	generation int
	healthStop context.CancelFunc

	// Test seams; production values come from the constants above.
	cooldown    time.Duration
	window      time.Duration
	startupPoll time.Duration
}

// New creates a stopped supervisor.
func New(cfg config.BridgeConfig, hub *telemetry.Hub) *Supervisor {
	return &Supervisor{
		cfg:         cfg,
		hub:         hub,
		logger:      log.WithComponent("bridge"),
		crashCh:     make(chan CrashEvent, 8),
		state:       StateStopped,
		stderr:      newTailWriter(stderrTailBytes),
		cooldown:    restartCooldown,
		window:      restartWindow,
		startupPoll: startupPollInterval,
	}
}

// State returns the supervisor's current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether request forwarding is currently permitted.
func (s *Supervisor) Running() bool {
	return s.State() == StateRunning
}

// Port returns the worker's listen port, or 0 when no worker is up.
func (s *Supervisor) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// LastHealth returns the most recent probe result of the current worker
// generation, or a zero Result when no worker has been spawned.
func (s *Supervisor) LastHealth() health.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tally == nil {
		return health.Result{}
	}
	return s.tally.LastResult()
}

// StderrTail returns the last few KiB of the current worker generation's
// stderr output.
func (s *Supervisor) StderrTail() string {
	return s.stderr.Tail()
}

// Crashes is the channel the scheduler consumes to learn about worker
// deaths. Events are dropped if nobody is listening.
func (s *Supervisor) Crashes() <-chan CrashEvent {
	return s.crashCh
}

// Start spawns the worker and blocks until it is healthy or the startup
// deadline passes. Only valid from the stopped state.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		state := s.state
		s.mu.Unlock()
		return errdefs.Conflictf("cannot start bridge from state %s", state)
	}
	s.mu.Unlock()

	return s.spawn(ctx)
}

// Reset clears a broken supervisor back to stopped so an operator can
// start it again.
func (s *Supervisor) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateBroken {
		return errdefs.Conflictf("cannot reset bridge from state %s", s.state)
	}
	s.state = StateStopped
	s.restarts = nil
	s.tally = nil
	return nil
}

// Stop gracefully terminates the worker: SIGTERM, a grace period, then
// SIGKILL. Safe to call from any state.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	// Invalidate monitors and pending restarts before touching the process.
	s.generation++
	cmd := s.cmd
	s.cmd = nil
	s.client = nil
	s.port = 0
	s.state = StateStopped
	if s.healthStop != nil {
		s.healthStop()
		s.healthStop = nil
	}
	s.mu.Unlock()
	metrics.BridgeUp.Set(0)

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	s.logger.Info().Int("pid", cmd.Process.Pid).Msg("stopping inference worker")
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		cmd.Process.Kill()
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(stopGrace):
		s.logger.Warn().Msg("worker ignored SIGTERM, killing")
		cmd.Process.Kill()
		<-done
	}
	return nil
}

// spawn acquires a port, launches the worker, and polls its health
// endpoint until ready or the startup deadline.
func (s *Supervisor) spawn(ctx context.Context) error {
	argv := strings.Fields(s.cfg.Command)
	if len(argv) == 0 {
		return errdefs.InvalidArgumentf("bridge command is not configured")
	}

	port, err := acquirePort(s.cfg.PortRange[0], s.cfg.PortRange[1])
	if err != nil {
		return err
	}

	args := append(argv[1:], "--port", strconv.Itoa(port))
	cmd := exec.Command(argv[0], args...)
	s.stderr.Reset()
	cmd.Stdout = &logWriter{logger: s.logger, level: zerolog.DebugLevel}
	cmd.Stderr = io.MultiWriter(s.stderr, &logWriter{logger: s.logger, level: zerolog.WarnLevel})

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to spawn inference worker: %w", err)
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.state = StateStarting
	s.port = port
	s.cmd = cmd
	s.client = NewClient(port)
	s.tally = health.NewTally()
	s.mu.Unlock()

	s.logger.Info().Int("pid", cmd.Process.Pid).Int("port", port).Msg("inference worker spawned")
	s.publish("bridge.starting", map[string]string{"port": strconv.Itoa(port)}, 0)

	go s.monitorExit(gen, cmd)

	if err := s.waitForReady(ctx, gen, port); err != nil {
		s.crash(gen, fmt.Sprintf("worker not ready: %v", err), -1)
		return fmt.Errorf("inference worker failed to become ready: %w", err)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return errdefs.ErrBridgeUnavailable
	}
	s.state = StateRunning
	healthCtx, cancel := context.WithCancel(context.Background())
	s.healthStop = cancel
	s.mu.Unlock()

	s.logger.Info().Int("port", port).Msg("inference worker ready")
	metrics.BridgeUp.Set(1)
	s.publish("bridge.running", nil, 0)

	go s.healthLoop(healthCtx, gen, port)
	return nil
}

// waitForReady polls the worker's health endpoint until it answers OK.
func (s *Supervisor) waitForReady(ctx context.Context, gen int, port int) error {
	checker := health.NewHTTPChecker(fmt.Sprintf("http://127.0.0.1:%d/health", port), probeTimeout)
	deadline := time.After(s.cfg.StartupTimeout())
	ticker := time.NewTicker(s.startupPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("startup deadline of %s passed", s.cfg.StartupTimeout())
		case <-ticker.C:
			s.mu.Lock()
			stale := s.generation != gen
			s.mu.Unlock()
			if stale {
				return errors.New("superseded by a newer worker")
			}
			if res := checker.Check(ctx); res.Healthy {
				return nil
			}
		}
	}
}

// monitorExit waits for the worker process and reports unexpected deaths.
func (s *Supervisor) monitorExit(gen int, cmd *exec.Cmd) {
	err := cmd.Wait()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	s.mu.Lock()
	stale := s.generation != gen
	s.mu.Unlock()
	if stale {
		// Superseded or stopped deliberately.
		return
	}

	s.crash(gen, "worker process exited", exitCode)
}

// healthLoop probes the running worker on the configured cadence.
func (s *Supervisor) healthLoop(ctx context.Context, gen int, port int) {
	checker := health.NewHTTPChecker(fmt.Sprintf("http://127.0.0.1:%d/health", port), probeTimeout)
	ticker := time.NewTicker(s.cfg.HealthInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			tally := s.tally
			stale := s.generation != gen || s.state != StateRunning
			s.mu.Unlock()
			if stale {
				return
			}

			res := checker.Check(ctx)
			if res.Healthy {
				tally.RecordSuccess(res)
				continue
			}
			s.logger.Warn().Str("reason", res.Message).Int("streak", tally.ConsecutiveFailures()+1).Msg("worker health probe failed")
			if tally.RecordFailure(res, s.cfg.HealthFailuresToCrash) {
				s.crash(gen, fmt.Sprintf("%d consecutive health failures", s.cfg.HealthFailuresToCrash), -1)
				return
			}
		}
	}
}

// crash moves a live generation to crashed, emits the crash event, and
// either schedules a restart or declares the bridge broken.
func (s *Supervisor) crash(gen int, reason string, exitCode int) {
	s.mu.Lock()
	if s.generation != gen || s.state == StateCrashed || s.state == StateBroken || s.state == StateStopped {
		s.mu.Unlock()
		return
	}

	s.state = StateCrashed
	if s.healthStop != nil {
		s.healthStop()
		s.healthStop = nil
	}
	cmd := s.cmd
	s.cmd = nil
	s.client = nil
	s.port = 0

	ev := CrashEvent{
		ExitCode:   exitCode,
		Reason:     reason,
		StderrTail: s.stderr.Tail(),
		Time:       time.Now().UTC(),
	}

	now := time.Now()
	s.restarts = append(s.restarts, now)
	s.restarts = pruneWindow(s.restarts, now, s.window)
	broken := len(s.restarts) >= s.cfg.RestartBudget
	if broken {
		s.state = StateBroken
	}
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}

	s.logger.Error().Str("reason", reason).Int("exit_code", exitCode).Bool("broken", broken).Msg("inference worker crashed")
	metrics.BridgeUp.Set(0)
	metrics.BridgeCrashes.Inc()
	select {
	case s.crashCh <- ev:
	default:
	}
	s.publish("bridge.crash", map[string]string{
		"reason":    reason,
		"exit_code": strconv.Itoa(exitCode),
	}, 0)

	if broken {
		s.logger.Error().Int("budget", s.cfg.RestartBudget).Msg("restart budget exhausted, bridge is broken")
		s.publish("bridge.broken", nil, 0)
		return
	}

	time.AfterFunc(s.cooldown, func() { s.restartAfterCrash(gen) })
}

// restartAfterCrash respawns the worker unless the crash was superseded.
func (s *Supervisor) restartAfterCrash(gen int) {
	s.mu.Lock()
	if s.generation != gen || s.state != StateCrashed {
		s.mu.Unlock()
		return
	}
	// Respawn is permitted; spawn takes over from here.
	s.state = StateStopped
	s.mu.Unlock()

	s.logger.Info().Msg("restarting inference worker after crash")
	if err := s.spawn(context.Background()); err != nil {
		s.logger.Error().Err(err).Msg("worker restart failed")
	}
}

// pruneWindow drops restart timestamps older than the rolling window.
func pruneWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	out := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// GenerateImage forwards an image request with the single-stage deadline.
func (s *Supervisor) GenerateImage(ctx context.Context, prompt string, opts types.GenerationOptions) (*ImageResult, error) {
	client, gen, err := s.forwardingClient()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SingleStageTimeout())
	defer cancel()

	start := time.Now()
	res, err := client.GenerateImage(ctx, prompt, opts)
	s.afterCall(gen, "image", start, err)
	return res, err
}

// GenerateMesh forwards a mesh request with the single-stage deadline.
func (s *Supervisor) GenerateMesh(ctx context.Context, image []byte, opts types.GenerationOptions) (*MeshResult, error) {
	client, gen, err := s.forwardingClient()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SingleStageTimeout())
	defer cancel()

	start := time.Now()
	res, err := client.GenerateMesh(ctx, image, opts)
	s.afterCall(gen, "mesh", start, err)
	return res, err
}

// GenerateFull forwards a full pipeline request with the extended deadline.
func (s *Supervisor) GenerateFull(ctx context.Context, prompt string, opts types.GenerationOptions) (*FullResult, error) {
	client, gen, err := s.forwardingClient()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FullTimeout())
	defer cancel()

	start := time.Now()
	res, err := client.GenerateFull(ctx, prompt, opts)
	s.afterCall(gen, "full", start, err)
	return res, err
}

// forwardingClient returns the live client or a state-specific refusal.
func (s *Supervisor) forwardingClient() (*Client, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning || s.client == nil {
		return nil, 0, fmt.Errorf("inference bridge is %s: %w", s.state, errdefs.ErrBridgeUnavailable)
	}
	return s.client, s.generation, nil
}

// afterCall records call latency and counts transport failures toward the
// health tally. Deadline expiry fails the request alone, never the worker.
func (s *Supervisor) afterCall(gen int, kind string, start time.Time, err error) {
	elapsed := time.Since(start)
	if err == nil {
		metrics.BridgeRPCDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
		s.publish("bridge.rpc."+kind, nil, elapsed)
		return
	}
	s.publish("bridge.rpc."+kind+".error", map[string]string{"error": err.Error()}, 0)

	if errdefs.IsTimeout(err) || !errors.Is(err, errTransport) {
		return
	}

	s.mu.Lock()
	tally := s.tally
	stale := s.generation != gen || s.state != StateRunning
	threshold := s.cfg.HealthFailuresToCrash
	s.mu.Unlock()
	if stale || tally == nil {
		return
	}
	if tally.RecordFailure(health.Result{Message: err.Error(), CheckedAt: time.Now()}, threshold) {
		s.crash(gen, fmt.Sprintf("%d consecutive worker transport failures", threshold), -1)
	}
}

func (s *Supervisor) publish(eventType string, fields map[string]string, d time.Duration) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(telemetry.Event{
		Category: telemetry.CategoryBridge,
		Type:     eventType,
		Fields:   fields,
		Duration: d,
	})
}
