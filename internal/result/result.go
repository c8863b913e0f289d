// Package result defines the terminal outcome of one agent run and renders it
// as stdout content, a diagnostic line and a process exit code.
package result

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Kind tags the variant held by an Outcome.
type Kind int

const (
	KindSuccess Kind = iota
	KindTimeout
	KindChildNotFound
	KindNonZeroExit
	KindNoOutput
	KindInterrupted
	KindIOFailure
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindTimeout:
		return "timeout"
	case KindChildNotFound:
		return "child_not_found"
	case KindNonZeroExit:
		return "nonzero_exit"
	case KindNoOutput:
		return "no_output"
	case KindInterrupted:
		return "interrupted"
	case KindIOFailure:
		return "io_failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Exit codes for outcomes that do not carry their own.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitTimeout     = 124
	ExitNotFound    = 127
	ExitInterrupted = 130
)

// SessionTrailer separates the agent message from the session id on stdout.
const SessionTrailer = "\n---\nSESSION_ID: "

// Outcome is the terminal state of a run.
type Outcome struct {
	Kind Kind

	// Message and SessionID are set for KindSuccess. SessionID may also be
	// set on failures when the agent announced one before failing.
	Message   string
	SessionID string

	// ChildExitCode is the agent's exit status for KindNonZeroExit.
	ChildExitCode int

	// Err carries the underlying cause for KindChildNotFound and KindIOFailure.
	Err error
}

func Success(message, sessionID string) Outcome {
	return Outcome{Kind: KindSuccess, Message: message, SessionID: sessionID}
}

func Timeout() Outcome { return Outcome{Kind: KindTimeout} }

func ChildNotFound(err error) Outcome { return Outcome{Kind: KindChildNotFound, Err: err} }

func NonZeroExit(code int) Outcome { return Outcome{Kind: KindNonZeroExit, ChildExitCode: code} }

func NoOutput() Outcome { return Outcome{Kind: KindNoOutput} }

func Interrupted() Outcome { return Outcome{Kind: KindInterrupted} }

func IOFailure(err error) Outcome { return Outcome{Kind: KindIOFailure, Err: err} }

// ExitCode maps the outcome to the process exit status.
func (o Outcome) ExitCode() int {
	switch o.Kind {
	case KindSuccess:
		return ExitSuccess
	case KindTimeout:
		return ExitTimeout
	case KindChildNotFound:
		return ExitNotFound
	case KindInterrupted:
		return ExitInterrupted
	case KindNonZeroExit:
		if o.ChildExitCode == 0 {
			return ExitFailure
		}
		return o.ChildExitCode
	default:
		return ExitFailure
	}
}

// Diagnostic is the one-line explanation written to stderr for failures.
func (o Outcome) Diagnostic() string {
	switch o.Kind {
	case KindSuccess:
		return ""
	case KindTimeout:
		return "Codex execution timeout"
	case KindChildNotFound:
		if o.Err != nil {
			return fmt.Sprintf("codex command not found in PATH: %v", o.Err)
		}
		return "codex command not found in PATH"
	case KindNonZeroExit:
		return fmt.Sprintf("Codex exited with status %d", o.ChildExitCode)
	case KindNoOutput:
		return "Codex completed without agent_message output"
	case KindInterrupted:
		return "Codex interrupted by user"
	case KindIOFailure:
		return fmt.Sprintf("Codex stream failure: %v", o.Err)
	default:
		return fmt.Sprintf("unexpected outcome %s", o.Kind)
	}
}

var (
	errorPrefix = color.New(color.FgRed, color.Bold).SprintFunc()
	warnPrefix  = color.New(color.FgYellow).SprintFunc()
)

// Emit writes the outcome and returns the exit code. Success prints the
// message and, when known, the session trailer on stdout; everything else
// prints one ERROR line on stderr.
func Emit(stdout, stderr io.Writer, o Outcome) int {
	if o.Kind == KindSuccess {
		fmt.Fprintf(stdout, "%s\n", o.Message)
		if o.SessionID != "" {
			fmt.Fprintf(stdout, "%s%s\n", SessionTrailer, o.SessionID)
		}
		return ExitSuccess
	}

	Errorf(stderr, "%s", o.Diagnostic())
	return o.ExitCode()
}

// Errorf writes a single "ERROR: ..." diagnostic line.
func Errorf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", errorPrefix("ERROR:"), fmt.Sprintf(format, args...))
}

// Warnf writes a single "WARN: ..." diagnostic line.
func Warnf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", warnPrefix("WARN:"), fmt.Sprintf(format, args...))
}
