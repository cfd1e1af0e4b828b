package log

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrorSink appends one JSON object per line to errors.jsonl in the data
// directory. Each entry carries the correlation id surfaced to API callers
// as errorId.
type ErrorSink struct {
	mu   sync.Mutex
	path string
}

// ErrorEntry is one line of errors.jsonl.
type ErrorEntry struct {
	ErrorID   string    `json:"errorId"`
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Error     string    `json:"error"`
}

// NewErrorSink creates a sink writing to <dataDir>/errors.jsonl.
func NewErrorSink(dataDir string) *ErrorSink {
	return &ErrorSink{path: filepath.Join(dataDir, "errors.jsonl")}
}

// Record appends an entry. Failures to write are themselves logged and
// swallowed; the sink must never take the host down.
func (s *ErrorSink) Record(entry ErrorEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		Logger.Error().Err(err).Msg("failed to marshal error entry")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		Logger.Error().Err(err).Msg("failed to open errors.jsonl")
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		Logger.Error().Err(err).Msg("failed to append to errors.jsonl")
	}
}

// CrashReport captures the context of a fatal failure before the process
// exits with code 1.
type CrashReport struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     string    `json:"phase"`
	Error     string    `json:"error"`
	Hostname  string    `json:"hostname,omitempty"`
	PID       int       `json:"pid"`
}

// WriteCrashReport writes crash-report-<ts>.json into dataDir and returns
// the path. Best-effort: an error here is reported but must not mask the
// original fatal error.
func WriteCrashReport(dataDir, phase string, cause error) (string, error) {
	now := time.Now().UTC()
	report := CrashReport{
		Timestamp: now,
		Phase:     phase,
		Error:     cause.Error(),
		PID:       os.Getpid(),
	}
	if host, err := os.Hostname(); err == nil {
		report.Hostname = host
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal crash report: %w", err)
	}

	path := filepath.Join(dataDir, fmt.Sprintf("crash-report-%s.json", now.Format("20060102-150405")))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write crash report: %w", err)
	}
	return path, nil
}
