package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iambrandonn/codexrun/internal/events"
	"github.com/iambrandonn/codexrun/internal/invocation"
	"github.com/iambrandonn/codexrun/internal/result"
)

// stdinBufferSize is the chunk size used when streaming the task to the agent.
const stdinBufferSize = 64 * 1024

// State is a step in the agent process lifecycle.
type State string

const (
	StateSpawned      State = "spawned"
	StateWritingInput State = "writing_input"
	StateDraining     State = "draining"
	StateWaiting      State = "waiting"
	StateExited       State = "exited"
	StateTimedOut     State = "timed_out"
	StateKilled       State = "killed"
	StateNotStarted   State = "not_started"
)

// Invocation is everything needed to run the agent once.
type Invocation struct {
	Args     []string
	Dir      string
	Task     string
	Delivery invocation.Delivery
	// Timeout bounds the whole run; zero disables it.
	Timeout time.Duration
}

// Report describes a finished run.
type Report struct {
	Outcome  result.Outcome
	State    State
	PID      int
	Events   events.State
	Duration time.Duration
}

// Supervisor runs one agent process at a time and turns its lifetime into a
// result.Outcome.
type Supervisor struct {
	gracePeriod time.Duration
	logger      *slog.Logger
	stderr      io.Writer
	observer    events.Observer
}

// New creates a supervisor. gracePeriod is how long the agent gets between
// SIGTERM and SIGKILL once a run is cancelled or times out.
func New(gracePeriod time.Duration, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		gracePeriod: gracePeriod,
		logger:      logger,
		stderr:      os.Stderr,
	}
}

// SetStderr redirects the agent's stderr (os.Stderr by default).
func (s *Supervisor) SetStderr(w io.Writer) {
	s.stderr = w
}

// SetObserver registers fn to see every decoded stdout line.
func (s *Supervisor) SetObserver(fn events.Observer) {
	s.observer = fn
}

// Run launches the agent, feeds it the task when delivery is Streamed, drains
// its stdout through an events.Reducer and classifies how it ended.
//
// Cancelling ctx interrupts the run; exceeding inv.Timeout times it out. In
// both cases the agent receives SIGTERM and, after the grace period, SIGKILL.
// Run returns only after the agent has been reaped.
func (s *Supervisor) Run(ctx context.Context, inv Invocation) Report {
	started := time.Now()
	report := s.run(ctx, inv)
	report.Duration = time.Since(started)

	s.logger.Info("agent run finished",
		"pid", report.PID,
		"state", report.State,
		"outcome", report.Outcome.Kind,
		"exit_code", report.Outcome.ExitCode(),
		"lines", report.Events.Lines,
		"parse_warnings", report.Events.ParseWarnings,
		"duration", report.Duration.Round(time.Millisecond))
	return report
}

func (s *Supervisor) run(ctx context.Context, inv Invocation) Report {
	if len(inv.Args) == 0 {
		return Report{Outcome: result.ChildNotFound(errors.New("empty command")), State: StateNotStarted}
	}

	runCtx, cancel := withTimeout(ctx, inv.Timeout)
	defer cancel()

	var signalled atomic.Bool

	cmd := exec.CommandContext(runCtx, inv.Args[0], inv.Args[1:]...)
	cmd.Dir = inv.Dir
	cmd.Stderr = s.stderr
	cmd.WaitDelay = s.gracePeriod
	cmd.Cancel = func() error {
		err := terminate(cmd.Process)
		if errors.Is(err, os.ErrProcessDone) {
			return err
		}
		signalled.Store(true)
		s.logger.Warn("terminating agent",
			"pid", cmd.Process.Pid,
			"reason", cancelReason(ctx, runCtx),
			"grace_period", s.gracePeriod)
		return err
	}

	// stdout goes through an in-process pipe so Wait owns the OS descriptor
	// and can close it after the grace period even if a grandchild holds it.
	stdoutR, stdoutW := io.Pipe()
	defer stdoutR.Close()
	cmd.Stdout = stdoutW

	var stdin io.WriteCloser
	if inv.Delivery == invocation.Streamed {
		pipe, err := cmd.StdinPipe()
		if err != nil {
			stdoutW.Close()
			return Report{Outcome: result.IOFailure(fmt.Errorf("create stdin pipe: %w", err)), State: StateNotStarted}
		}
		stdin = pipe
	}

	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		switch {
		case ctx.Err() != nil:
			return Report{Outcome: result.Interrupted(), State: StateNotStarted}
		case runCtx.Err() != nil:
			return Report{Outcome: result.Timeout(), State: StateNotStarted}
		}
		s.logger.Error("failed to start agent", "binary", inv.Args[0], "error", err)
		return Report{Outcome: result.ChildNotFound(fmt.Errorf("start %s: %w", inv.Args[0], err)), State: StateNotStarted}
	}

	pid := cmd.Process.Pid
	s.logger.Info("agent started", "pid", pid, "binary", inv.Args[0], "delivery", inv.Delivery, "dir", inv.Dir)
	s.transition(pid, StateSpawned)

	reducer := events.NewReducer(s.logger.With("pid", pid))
	if s.observer != nil {
		reducer.SetObserver(s.observer)
	}

	var g errgroup.Group
	if stdin != nil {
		g.Go(func() error {
			s.transition(pid, StateWritingInput)
			return s.writeTask(stdin, inv.Task, pid)
		})
	}
	g.Go(func() error {
		s.transition(pid, StateDraining)
		return reducer.Drain(stdoutR)
	})

	s.transition(pid, StateWaiting)
	waitErr := cmd.Wait()
	// All output has been handed to the reader once Wait returns; closing
	// the writer lets it observe EOF.
	stdoutW.Close()
	ioErr := g.Wait()

	state := reducer.State()
	report := Report{PID: pid, Events: state}

	switch {
	case ctx.Err() != nil:
		report.State = StateKilled
		report.Outcome = result.Interrupted()
	case signalled.Load():
		report.State = StateTimedOut
		report.Outcome = result.Timeout()
	default:
		report.State = StateExited
		report.Outcome = s.classify(cmd.ProcessState, waitErr, ioErr, state)
	}
	if killedBySignal(cmd.ProcessState, syscall.SIGKILL) {
		s.logger.Warn("agent did not exit within grace period and was killed", "pid", pid)
	}

	report.Outcome.SessionID = state.SessionID
	s.transition(pid, report.State)
	return report
}

// classify maps a normal (not cancelled) exit to an outcome. A nonzero exit
// outranks stream errors and a missing agent message.
func (s *Supervisor) classify(ps *os.ProcessState, waitErr, ioErr error, state events.State) result.Outcome {
	if code := exitCode(ps); code != 0 {
		return result.NonZeroExit(code)
	}

	if waitErr != nil {
		if !errors.Is(waitErr, exec.ErrWaitDelay) {
			return result.IOFailure(waitErr)
		}
		s.logger.Warn("agent exited but left its output open; closed after grace period")
	}
	if ioErr != nil {
		return result.IOFailure(ioErr)
	}

	if !state.HasMessage() {
		return result.NoOutput()
	}
	return result.Success(state.LastAgentMessage, state.SessionID)
}

// writeTask streams the task into the agent's stdin, flushes, and closes it
// so the agent sees end of input. A pipe the agent already closed is not an
// error: the exit status decides the outcome then.
func (s *Supervisor) writeTask(stdin io.WriteCloser, task string, pid int) error {
	s.logger.Info("writing task to agent stdin", "pid", pid, "bytes", len(task))

	w := bufio.NewWriterSize(stdin, stdinBufferSize)
	_, err := w.WriteString(task)
	if err == nil {
		err = w.Flush()
	}
	if closeErr := stdin.Close(); err == nil && !errors.Is(closeErr, os.ErrClosed) {
		err = closeErr
	}

	if err != nil {
		if isClosedPipe(err) {
			s.logger.Warn("agent closed stdin before reading the whole task", "pid", pid, "error", err)
			return nil
		}
		s.logger.Error("failed to write task to agent", "pid", pid, "error", err)
		return fmt.Errorf("write task to stdin: %w", err)
	}

	s.logger.Info("stdin closed", "pid", pid)
	return nil
}

func (s *Supervisor) transition(pid int, state State) {
	s.logger.Debug("agent state", "pid", pid, "state", state)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func cancelReason(parent, run context.Context) string {
	if parent.Err() != nil {
		return "interrupted"
	}
	if errors.Is(run.Err(), context.DeadlineExceeded) {
		return "timeout"
	}
	return "cancelled"
}

// exitCode reports the agent's exit status, using the shell convention
// 128+N for a process ended by signal N.
func exitCode(ps *os.ProcessState) int {
	if ps == nil {
		return 0
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ps.ExitCode()
}

func killedBySignal(ps *os.ProcessState, sig syscall.Signal) bool {
	if ps == nil {
		return false
	}
	ws, ok := ps.Sys().(syscall.WaitStatus)
	return ok && ws.Signaled() && ws.Signal() == sig
}

func isClosedPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}
