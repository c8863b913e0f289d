package events

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/iambrandonn/codexrun/internal/ndjson"
)

// previewBytes bounds how much of a malformed line is echoed into the log.
const previewBytes = 100

// State is what the reducer has learned from the stream so far.
type State struct {
	// LastAgentMessage is the text of the most recent agent message (last wins).
	LastAgentMessage string
	// SessionID is the thread id from the first thread.started record (first wins).
	SessionID string

	Lines         int
	ParseWarnings int
	AgentMessages int
}

// HasMessage reports whether at least one agent message was captured.
func (s State) HasMessage() bool {
	return s.LastAgentMessage != ""
}

// Observer is notified of every successfully decoded line, in stream order.
type Observer func(line []byte, evt Event)

// Reducer folds decoded events into a State. It is not safe for concurrent
// use; the supervisor feeds it from a single reader goroutine.
type Reducer struct {
	state     State
	logger    *slog.Logger
	observer  Observer
	lineLimit int
}

// NewReducer creates an empty reducer
func NewReducer(logger *slog.Logger) *Reducer {
	return &Reducer{logger: logger, lineLimit: ndjson.MaxLineSize}
}

// SetObserver registers fn to receive each decoded line after it is applied.
func (r *Reducer) SetObserver(fn Observer) {
	r.observer = fn
}

// Apply decodes one line and updates the state. Malformed lines are logged
// and counted; they never stop the stream. The returned error is the
// *ParseError for such lines and is informational only.
func (r *Reducer) Apply(line []byte) error {
	if len(line) == 0 {
		return nil
	}
	r.state.Lines++

	evt, err := Decode(line)
	if err != nil {
		r.state.ParseWarnings++
		r.logger.Warn("failed to parse agent output line",
			"line", r.state.Lines,
			"error", err,
			"data", ndjson.Preview(line, previewBytes))
		return err
	}

	switch evt.Kind {
	case KindThreadStarted:
		if r.state.SessionID == "" {
			r.state.SessionID = evt.ThreadID
			r.logger.Info("session started", "session_id", evt.ThreadID)
		} else if evt.ThreadID != r.state.SessionID {
			r.logger.Debug("ignoring later thread.started",
				"session_id", r.state.SessionID,
				"ignored", evt.ThreadID)
		}
	case KindItemCompleted:
		if evt.IsAgentMessage() {
			r.state.LastAgentMessage = evt.Text
			r.state.AgentMessages++
			r.logger.Debug("captured agent message", "chars", len(evt.Text))
		}
	default:
		r.logger.Debug("ignoring record", "type", evt.Type)
	}

	if r.observer != nil {
		r.observer(line, evt)
	}
	return nil
}

// State returns a copy of the current state.
func (r *Reducer) State() State {
	return r.state
}

// Drain applies every line of r until EOF. A read failure, such as a line
// over the size limit, stops decoding: the rest of r is discarded so the
// writer on the other end never blocks, and the error is returned.
func (r *Reducer) Drain(src io.Reader) error {
	decoder := ndjson.NewDecoderWithLimit(src, r.logger, r.lineLimit)
	for {
		line, err := decoder.Next()
		if errors.Is(err, io.EOF) {
			r.logger.Debug("agent stdout closed", "lines", decoder.Line())
			return nil
		}
		if err != nil {
			discarded, _ := decoder.Discard()
			r.logger.Error("agent output unreadable, discarding the rest",
				"discarded_bytes", discarded,
				"error", err)
			return fmt.Errorf("read agent output: %w", err)
		}
		_ = r.Apply(line)
	}
}

// Reduce drains r through a fresh Reducer. Parse warnings are absorbed; only
// a read failure is returned, together with the state reached before it.
func Reduce(r io.Reader, logger *slog.Logger) (State, error) {
	reducer := NewReducer(logger)
	err := reducer.Drain(r)
	return reducer.State(), err
}
