package bridge

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge3d/forge3d/pkg/config"
	"github.com/forge3d/forge3d/pkg/errdefs"
)

func testBridgeConfig() config.BridgeConfig {
	cfg := config.Default().Bridge
	cfg.Command = "forge3d-worker"
	return cfg
}

func TestAcquirePortSkipsBusyPorts(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	busy := l.Addr().(*net.TCPAddr).Port

	port, err := acquirePort(busy, busy+1)
	require.NoError(t, err)
	assert.Equal(t, busy+1, port)
}

func TestAcquirePortExhausted(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	busy := l.Addr().(*net.TCPAddr).Port

	_, err = acquirePort(busy, busy)
	assert.True(t, errdefs.IsBridgeUnavailable(err))
}

func TestTailWriterKeepsLastBytes(t *testing.T) {
	w := newTailWriter(16)

	_, err := w.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, "0123456789", w.Tail())

	_, err = w.Write([]byte("abcdefghij"))
	require.NoError(t, err)
	assert.Equal(t, "456789abcdefghij", w.Tail())

	w.Reset()
	assert.Equal(t, "", w.Tail())
}

func TestTailWriterOversizedSingleWrite(t *testing.T) {
	w := newTailWriter(8)
	big := strings.Repeat("x", 100) + "tail"
	_, err := w.Write([]byte(big))
	require.NoError(t, err)
	assert.Equal(t, "xxxxtail", w.Tail())
}

func TestPruneWindow(t *testing.T) {
	now := time.Now()
	times := []time.Time{
		now.Add(-2 * time.Minute),
		now.Add(-59 * time.Second),
		now.Add(-time.Second),
	}

	got := pruneWindow(times, now, time.Minute)
	assert.Len(t, got, 2)
}

func TestForwardingRefusedWhenNotRunning(t *testing.T) {
	s := New(testBridgeConfig(), nil)

	_, err := s.GenerateImage(context.Background(), "a red chair", nil)
	assert.True(t, errdefs.IsBridgeUnavailable(err))
	assert.Contains(t, err.Error(), "stopped")
}

func TestStartRefusedFromNonStoppedStates(t *testing.T) {
	s := New(testBridgeConfig(), nil)
	s.state = StateBroken

	err := s.Start(context.Background())
	assert.True(t, errdefs.IsConflict(err))
}

func TestStartRejectsEmptyCommand(t *testing.T) {
	cfg := testBridgeConfig()
	cfg.Command = ""
	s := New(cfg, nil)

	err := s.Start(context.Background())
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestCrashEmitsEventAndSchedulesRestart(t *testing.T) {
	s := New(testBridgeConfig(), nil)
	s.cooldown = time.Hour // keep the pending restart from firing mid-test
	s.state = StateRunning
	s.generation = 1
	s.stderr.Write([]byte("CUDA out of memory"))

	s.crash(1, "worker process exited", 137)

	assert.Equal(t, StateCrashed, s.State())
	select {
	case ev := <-s.Crashes():
		assert.Equal(t, 137, ev.ExitCode)
		assert.Equal(t, "worker process exited", ev.Reason)
		assert.Contains(t, ev.StderrTail, "CUDA out of memory")
	default:
		t.Fatal("expected a crash event")
	}
}

func TestCrashIsIdempotentPerGeneration(t *testing.T) {
	s := New(testBridgeConfig(), nil)
	s.cooldown = time.Hour
	s.state = StateRunning
	s.generation = 1

	s.crash(1, "health checks failed", -1)
	s.crash(1, "worker process exited", 1) // late monitor, same generation

	assert.Len(t, s.restarts, 1)
	<-s.Crashes()
	select {
	case <-s.Crashes():
		t.Fatal("second crash for the same generation must not emit")
	default:
	}
}

func TestStaleGenerationCrashIgnored(t *testing.T) {
	s := New(testBridgeConfig(), nil)
	s.state = StateRunning
	s.generation = 5

	s.crash(4, "worker process exited", 1)

	assert.Equal(t, StateRunning, s.State())
}

func TestRestartBudgetExhaustionBreaksBridge(t *testing.T) {
	s := New(testBridgeConfig(), nil)
	s.cooldown = time.Hour

	for i := 0; i < 3; i++ {
		s.mu.Lock()
		s.generation++
		gen := s.generation
		s.state = StateRunning
		s.mu.Unlock()
		s.crash(gen, fmt.Sprintf("crash %d", i+1), 1)
	}

	assert.Equal(t, StateBroken, s.State())

	_, err := s.GenerateMesh(context.Background(), []byte("png"), nil)
	assert.True(t, errdefs.IsBridgeUnavailable(err))
	assert.Contains(t, err.Error(), "broken")
}

func TestCrashesOutsideWindowDoNotBreak(t *testing.T) {
	s := New(testBridgeConfig(), nil)
	s.cooldown = time.Hour
	// Two old restarts that the rolling window should forget.
	s.restarts = []time.Time{
		time.Now().Add(-10 * time.Minute),
		time.Now().Add(-5 * time.Minute),
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.state = StateRunning
	s.mu.Unlock()
	s.crash(gen, "worker process exited", 1)

	assert.Equal(t, StateCrashed, s.State())
}

func TestResetOnlyFromBroken(t *testing.T) {
	s := New(testBridgeConfig(), nil)

	err := s.Reset()
	assert.True(t, errdefs.IsConflict(err))

	s.state = StateBroken
	s.restarts = []time.Time{time.Now()}
	require.NoError(t, s.Reset())
	assert.Equal(t, StateStopped, s.State())
	assert.Empty(t, s.restarts)
}

func TestStopFromStoppedIsANoop(t *testing.T) {
	s := New(testBridgeConfig(), nil)
	require.NoError(t, s.Stop())
	assert.Equal(t, StateStopped, s.State())
}
