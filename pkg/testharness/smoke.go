package testharness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Scenario defines a deterministic end-to-end run of codexrun against mockcodex.
type Scenario struct {
	Name string
	// Args are codexrun's arguments; "{workspace}" is replaced by the scenario workspace.
	Args  []string
	Stdin string
	// HoldStdin keeps codexrun's stdin open after Stdin is written, like a
	// producer that never finishes.
	HoldStdin bool
	// Env configures mockcodex and codexrun for this scenario.
	Env      map[string]string
	WantExit int
}

const workspaceToken = "{workspace}"

var (
	// ScenarioSimpleSuccess passes a short task on the command line.
	ScenarioSimpleSuccess = Scenario{
		Name:     "simple-success",
		Args:     []string{"say hello", workspaceToken},
		WantExit: 0,
	}
	// ScenarioStreamedTask pipes a multi-line task through stdin.
	ScenarioStreamedTask = Scenario{
		Name:     "streamed-task",
		Args:     []string{"-", workspaceToken},
		Stdin:    "first line\nsecond line\n",
		WantExit: 0,
	}
	// ScenarioResume continues an existing session.
	ScenarioResume = Scenario{
		Name:     "resume",
		Args:     []string{"resume", "thread-resume-1", "continue", workspaceToken},
		Env:      map[string]string{"MOCKCODEX_THREAD_ID": "thread-resume-1"},
		WantExit: 0,
	}
	// ScenarioNonZeroExit checks that the agent's exit status is passed through.
	ScenarioNonZeroExit = Scenario{
		Name:     "nonzero-exit",
		Args:     []string{"fail please", workspaceToken},
		Env:      map[string]string{"MOCKCODEX_SCENARIO": ScenarioFail, "MOCKCODEX_EXIT_CODE": "9"},
		WantExit: 9,
	}
	// ScenarioNoOutput covers an agent that never produces an agent message.
	ScenarioNoOutput = Scenario{
		Name:     "no-output",
		Args:     []string{"be quiet", workspaceToken},
		Env:      map[string]string{"MOCKCODEX_SCENARIO": ScenarioSilent},
		WantExit: 1,
	}
	// ScenarioTimeout lets a hanging agent run into a one second timeout.
	ScenarioTimeout = Scenario{
		Name:     "timeout",
		Args:     []string{"wait", workspaceToken},
		Env:      map[string]string{"MOCKCODEX_SCENARIO": ScenarioHang, "CODEX_TIMEOUT": "1"},
		WantExit: 124,
	}
	// ScenarioMissingAgent points CODEX_BIN at a binary that does not exist.
	ScenarioMissingAgent = Scenario{
		Name:     "missing-agent",
		Args:     []string{"anything", workspaceToken},
		Env:      map[string]string{"CODEX_BIN": "codexrun-missing-agent"},
		WantExit: 127,
	}
)

// SmokeOptions configures RunSmoke.
type SmokeOptions struct {
	Scenario        Scenario
	CodexrunBinary  string
	MockCodexBinary string
	WorkspaceDir    string
	Env             map[string]string
	// Signal, when set, is sent to codexrun after SignalAfter.
	Signal      os.Signal
	SignalAfter time.Duration
}

// SmokeResult captures the outcome of a smoke scenario.
type SmokeResult struct {
	Scenario     Scenario
	Workspace    string
	Stdout       string
	Stderr       string
	ExitCode     int
	RunErr       error
	EventLogPath string
}

// RunSmoke executes a smoke scenario using the provided binaries.
func RunSmoke(ctx context.Context, opts SmokeOptions) (*SmokeResult, error) {
	if opts.CodexrunBinary == "" {
		return nil, fmt.Errorf("codexrun binary path is required")
	}
	if opts.MockCodexBinary == "" {
		return nil, fmt.Errorf("mockcodex binary path is required")
	}
	if opts.Scenario.Name == "" {
		return nil, fmt.Errorf("scenario name is required")
	}

	workspace := opts.WorkspaceDir
	var err error
	if workspace == "" {
		workspace, err = os.MkdirTemp("", "codexrun-smoke-")
		if err != nil {
			return nil, fmt.Errorf("failed to create workspace: %w", err)
		}
	} else if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	eventLogPath := filepath.Join(workspace, "events", opts.Scenario.Name+".ndjson")

	env := mergeEnv(os.Environ(), map[string]string{
		"CODEX_BIN":       opts.MockCodexBinary,
		"CODEX_MODEL":     "gpt-smoke",
		"CODEX_TIMEOUT":   "",
		"CODEX_LOG_LEVEL": "info",
		"CODEX_EVENT_LOG": eventLogPath,
	})
	env = mergeEnv(env, opts.Scenario.Env)
	env = mergeEnv(env, opts.Env)

	args := make([]string, len(opts.Scenario.Args))
	for i, arg := range opts.Scenario.Args {
		if arg == workspaceToken {
			arg = workspace
		}
		args[i] = arg
	}

	stdOut := &bytes.Buffer{}
	stdErr := &bytes.Buffer{}

	cmd := exec.CommandContext(ctx, opts.CodexrunBinary, args...)
	cmd.Dir = workspace
	cmd.Stdout = stdOut
	cmd.Stderr = stdErr
	cmd.Env = env

	// Wait closes a held stdin pipe once codexrun has exited.
	var heldStdin io.WriteCloser
	if opts.Scenario.HoldStdin {
		heldStdin, err = cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
		}
	} else {
		cmd.Stdin = bytes.NewBufferString(opts.Scenario.Stdin)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start codexrun: %w", err)
	}
	if heldStdin != nil && opts.Scenario.Stdin != "" {
		if _, err := io.WriteString(heldStdin, opts.Scenario.Stdin); err != nil {
			return nil, fmt.Errorf("failed to write stdin: %w", err)
		}
	}
	if opts.Signal != nil {
		timer := time.AfterFunc(opts.SignalAfter, func() {
			_ = cmd.Process.Signal(opts.Signal)
		})
		defer timer.Stop()
	}
	runErr := cmd.Wait()

	result := &SmokeResult{
		Scenario:     opts.Scenario,
		Workspace:    workspace,
		Stdout:       stdOut.String(),
		Stderr:       stdErr.String(),
		ExitCode:     cmd.ProcessState.ExitCode(),
		EventLogPath: eventLogPath,
	}
	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		result.RunErr = runErr
	}
	return result, nil
}

// DetectRepoRoot locates the repository root by searching for go.mod.
func DetectRepoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found (starting from %s)", dir)
		}
		dir = parent
	}
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	result := append([]string{}, base...)
	for k, v := range overrides {
		result = setEnv(result, k, v)
	}
	return result
}
