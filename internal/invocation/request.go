// Package invocation turns caller input into an immutable Request: where the
// task text comes from, how it is delivered to the agent, and the argv used
// to launch it.
package invocation

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects between starting a new agent session and continuing one.
type Mode int

const (
	ModeFresh Mode = iota
	ModeResume
)

func (m Mode) String() string {
	if m == ModeResume {
		return "resume"
	}
	return "new"
}

// Delivery says how the task text reaches the agent process.
type Delivery int

const (
	// Inline passes the task as the final argv element.
	Inline Delivery = iota
	// Streamed passes "-" in argv and writes the task to the child's stdin.
	Streamed
)

func (d Delivery) String() string {
	if d == Streamed {
		return "stdin"
	}
	return "argv"
}

// StdinSentinel is the task argument that requests streamed delivery, both
// on our own command line and in the argv handed to the agent.
const StdinSentinel = "-"

var (
	// ErrTaskRequired is returned when no task argument and no piped input exist.
	ErrTaskRequired = errors.New("task required")
	// ErrEmptyStdin is returned when "-" was given but stdin produced nothing.
	ErrEmptyStdin = errors.New("explicit stdin mode requires task input from stdin")
	// ErrSessionRequired is returned for a resume request without a session id.
	ErrSessionRequired = errors.New("resume mode requires: resume <session_id> <task>")
)

// Request is a fully resolved, immutable description of one agent run.
type Request struct {
	mode      Mode
	sessionID string
	task      string
	workDir   string
	decision  Decision
}

// NewRequest validates the mode/session pairing and routes the task. The
// session id must be set exactly when mode is ModeResume.
func NewRequest(mode Mode, sessionID string, src TaskSource, workDir string) (Request, error) {
	sessionID = strings.TrimSpace(sessionID)
	switch mode {
	case ModeResume:
		if sessionID == "" {
			return Request{}, ErrSessionRequired
		}
	case ModeFresh:
		if sessionID != "" {
			return Request{}, fmt.Errorf("session id %q given for a new session", sessionID)
		}
	default:
		return Request{}, fmt.Errorf("unknown mode %d", mode)
	}

	if src.Text == "" {
		return Request{}, ErrTaskRequired
	}

	return Request{
		mode:      mode,
		sessionID: sessionID,
		task:      src.Text,
		workDir:   workDir,
		decision:  Route(src.Text, src.Piped, src.Explicit),
	}, nil
}

// Mode reports whether this is a new or resumed session.
func (r Request) Mode() Mode { return r.mode }

// SessionID is the session being resumed, empty for a new session.
func (r Request) SessionID() string { return r.sessionID }

// Task is the full task text.
func (r Request) Task() string { return r.task }

// WorkDir is the directory the agent works in.
func (r Request) WorkDir() string { return r.workDir }

// Delivery is the routed delivery mode.
func (r Request) Delivery() Delivery { return r.decision.Delivery }

// Reasons lists why the task is streamed; empty for Inline delivery.
func (r Request) Reasons() []Reason { return append([]Reason(nil), r.decision.Reasons...) }

// TaskArg is the argv element that carries the task to the agent.
func (r Request) TaskArg() string {
	if r.decision.Delivery == Streamed {
		return StdinSentinel
	}
	return r.task
}
