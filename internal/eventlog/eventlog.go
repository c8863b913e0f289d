package eventlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iambrandonn/codexrun/internal/ndjson"
)

// Record kinds written to the log.
const (
	KindRunStarted  = "run.started"
	KindAgentEvent  = "agent.event"
	KindRunFinished = "run.finished"
)

// Record is one line of the run log. Fields are populated per kind.
type Record struct {
	Kind  string    `json:"kind"`
	RunID string    `json:"run_id"`
	At    time.Time `json:"at"`

	// run.started
	Mode       string   `json:"mode,omitempty"`
	Delivery   string   `json:"delivery,omitempty"`
	Reasons    []string `json:"reasons,omitempty"`
	Args       []string `json:"args,omitempty"`
	WorkDir    string   `json:"workdir,omitempty"`
	TaskBytes  int      `json:"task_bytes,omitempty"`
	TaskSHA256 string   `json:"task_sha256,omitempty"`

	// agent.event
	Line      int             `json:"line,omitempty"`
	EventKind string          `json:"event_kind,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`

	// run.finished
	Outcome    string `json:"outcome,omitempty"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// Start describes the run being launched.
type Start struct {
	Mode       string
	Delivery   string
	Reasons    []string
	Args       []string
	WorkDir    string
	TaskBytes  int
	TaskSHA256 string
}

// Finish describes how the run ended.
type Finish struct {
	Outcome   string
	ExitCode  int
	SessionID string
	Duration  time.Duration
}

// EventLog appends run records to an NDJSON file. A nil *EventLog is valid
// and discards everything, so callers need not branch on whether logging is
// enabled.
type EventLog struct {
	runID   string
	file    *os.File
	encoder *ndjson.Encoder
	logger  *slog.Logger
	mu      sync.Mutex
	lines   int
}

// NewRunID returns a sortable identifier for one invocation.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("run-%s-%s", now.UTC().Format("20060102-150405"), uuid.New().String()[:8])
}

// NewEventLog opens (or creates) logPath for appending.
func NewEventLog(logPath, runID string, logger *slog.Logger) (*EventLog, error) {
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &EventLog{
		runID:   runID,
		file:    file,
		encoder: ndjson.NewEncoder(file, logger),
		logger:  logger,
	}, nil
}

// RunID returns the identifier stamped on every record.
func (l *EventLog) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// WriteStart records the launch parameters.
func (l *EventLog) WriteStart(s Start) error {
	return l.write(Record{
		Kind:       KindRunStarted,
		Mode:       s.Mode,
		Delivery:   s.Delivery,
		Reasons:    s.Reasons,
		Args:       s.Args,
		WorkDir:    s.WorkDir,
		TaskBytes:  s.TaskBytes,
		TaskSHA256: s.TaskSHA256,
	})
}

// WriteAgentEvent records one decoded line from the agent's stdout. raw must
// be valid JSON.
func (l *EventLog) WriteAgentEvent(eventKind string, raw []byte) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	l.lines++
	line := l.lines
	l.mu.Unlock()

	return l.write(Record{
		Kind:      KindAgentEvent,
		Line:      line,
		EventKind: eventKind,
		Raw:       json.RawMessage(append([]byte(nil), raw...)),
	})
}

// WriteFinish records the outcome.
func (l *EventLog) WriteFinish(f Finish) error {
	code := f.ExitCode
	return l.write(Record{
		Kind:       KindRunFinished,
		Outcome:    f.Outcome,
		ExitCode:   &code,
		SessionID:  f.SessionID,
		DurationMs: f.Duration.Milliseconds(),
	})
}

func (l *EventLog) write(rec Record) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rec.RunID = l.runID
	rec.At = time.Now().UTC()
	return l.encoder.Encode(rec)
}

// Close closes the event log file
func (l *EventLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
