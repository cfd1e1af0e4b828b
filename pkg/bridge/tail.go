package bridge

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// stderrTailBytes bounds the retained worker stderr; crash reports carry
// at most this much context.
const stderrTailBytes = 4 * 1024

// tailWriter keeps the last N bytes written through it.
type tailWriter struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailWriter(max int) *tailWriter {
	return &tailWriter{max: max}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	if len(w.buf) > w.max {
		w.buf = append(w.buf[:0:0], w.buf[len(w.buf)-w.max:]...)
	}
	return len(p), nil
}

// Tail returns the retained bytes as a string.
func (w *tailWriter) Tail() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}

// Reset drops the retained bytes; called on each fresh spawn.
func (w *tailWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = nil
}

// logWriter forwards worker output lines into the structured log.
type logWriter struct {
	logger zerolog.Logger
	level  zerolog.Level
}

func (lw *logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		lw.logger.WithLevel(lw.level).Str("stream", "worker").Msg(line)
	}
	return len(p), nil
}
