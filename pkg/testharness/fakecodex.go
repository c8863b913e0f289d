package testharness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/iambrandonn/codexrun/internal/checksum"
	"github.com/iambrandonn/codexrun/internal/invocation"
	"github.com/iambrandonn/codexrun/internal/ndjson"
)

// Scenarios understood by FakeCodex.
const (
	ScenarioEcho       = "echo"
	ScenarioSilent     = "silent"
	ScenarioFail       = "fail"
	ScenarioFailSilent = "fail-silent"
	ScenarioHang       = "hang"
	ScenarioStubborn   = "stubborn"
	ScenarioChatty     = "chatty"
	ScenarioMalformed  = "malformed"
	ScenarioCloseStdin = "close-stdin"
)

const (
	DefaultThreadID = "mock-thread-0001"

	// EchoPreviewLimit is the task length up to which echo repeats the task back.
	EchoPreviewLimit = 200
)

// FakeCodex imitates `codex exec --json`: it reads the task from its last
// argument (or stdin for "-") and writes JSON-lines events to stdout.
type FakeCodex struct {
	Scenario    string
	ThreadID    string
	ExitCode    int
	ChattyLines int

	// CloseStdin is called by the close-stdin scenario.
	CloseStdin func() error

	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	encoder *ndjson.Encoder
	logger  *slog.Logger
}

// NewFakeCodex creates a fake agent running the echo scenario.
func NewFakeCodex(stdin io.Reader, stdout, stderr io.Writer, logger *slog.Logger) *FakeCodex {
	return &FakeCodex{
		Scenario:    ScenarioEcho,
		ThreadID:    DefaultThreadID,
		ExitCode:    3,
		ChattyLines: 5000,
		stdin:       stdin,
		stdout:      stdout,
		stderr:      stderr,
		encoder:     ndjson.NewEncoder(stdout, logger),
		logger:      logger,
	}
}

type threadStarted struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
}

type itemCompleted struct {
	Type string `json:"type"`
	Item item   `json:"item"`
}

type item struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text any    `json:"text,omitempty"`
}

// Run plays the scenario and returns the process exit code. The hang and
// stubborn scenarios block until ctx is done.
func (f *FakeCodex) Run(ctx context.Context, args []string) int {
	err := f.play(ctx, args)
	if err == nil {
		return 0
	}
	var code exitCode
	if errors.As(err, &code) {
		return int(code)
	}
	f.logger.Error("fake codex failed", "scenario", f.Scenario, "error", err)
	return 1
}

// exitCode ends a scenario with a specific status.
type exitCode int

func (c exitCode) Error() string { return fmt.Sprintf("exit status %d", int(c)) }

func (f *FakeCodex) play(ctx context.Context, args []string) error {
	switch f.Scenario {
	case ScenarioEcho:
		if err := f.threadStarted(); err != nil {
			return err
		}
		return f.echo(args)

	case ScenarioSilent:
		if err := f.threadStarted(); err != nil {
			return err
		}
		return f.encoder.Encode(itemCompleted{Type: "item.completed", Item: item{ID: "item_0", Type: "reasoning", Text: "thinking"}})

	case ScenarioFail:
		if err := f.threadStarted(); err != nil {
			return err
		}
		if err := f.agentMessage("item_0", "partial answer"); err != nil {
			return err
		}
		fmt.Fprintln(f.stderr, "mockcodex: simulated failure")
		return exitCode(f.ExitCode)

	case ScenarioFailSilent:
		if err := f.threadStarted(); err != nil {
			return err
		}
		fmt.Fprintln(f.stderr, "mockcodex: failed before answering")
		return exitCode(f.ExitCode)

	case ScenarioHang, ScenarioStubborn:
		if err := f.threadStarted(); err != nil {
			return err
		}
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return exitCode(143)
			case <-ticker.C:
			}
		}

	case ScenarioChatty:
		if err := f.threadStarted(); err != nil {
			return err
		}
		for i := range f.ChattyLines {
			if err := f.encoder.Encode(itemCompleted{Type: "item.completed", Item: item{
				ID:   fmt.Sprintf("progress_%d", i),
				Type: "reasoning",
				Text: fmt.Sprintf("warming up step %d of %d", i+1, f.ChattyLines),
			}}); err != nil {
				return err
			}
		}
		return f.echo(args)

	case ScenarioMalformed:
		for _, line := range []string{
			`{"type":"thread.started","thread_id":`,
			"not json at all",
		} {
			fmt.Fprintln(f.stdout, line)
		}
		if err := f.threadStarted(); err != nil {
			return err
		}
		fmt.Fprintln(f.stdout, `[1,2,3]`)
		fmt.Fprintln(f.stdout, `{"type":"item.completed","item":{"type":"agent_message","text":42}}`)
		return f.echo(args)

	case ScenarioCloseStdin:
		if f.CloseStdin != nil {
			if err := f.CloseStdin(); err != nil {
				return err
			}
		}
		if err := f.threadStarted(); err != nil {
			return err
		}
		return f.agentMessage("item_0", "ignored input")

	default:
		return exitCode(2)
	}
}

// echo answers with a draft followed by a fragmented final message
// describing the task it received. Tasks too long to repeat are identified
// by their digest instead.
func (f *FakeCodex) echo(args []string) error {
	task, err := f.task(args)
	if err != nil {
		return err
	}

	if err := f.agentMessage("item_1", "draft"); err != nil {
		return err
	}
	if err := f.encoder.Encode(itemCompleted{Type: "item.completed", Item: item{ID: "item_2", Type: "command_execution"}}); err != nil {
		return err
	}

	fragments := []string{"received ", strconv.Itoa(len(task)), " bytes"}
	if len(task) <= EchoPreviewLimit {
		fragments = append(fragments, ": ", task)
	} else {
		fragments = append(fragments, " ", checksum.DigestString(task))
	}
	if err := f.encoder.Encode(itemCompleted{Type: "item.completed", Item: item{ID: "item_3", Type: "agent_message", Text: fragments}}); err != nil {
		return err
	}
	return f.encoder.Encode(map[string]any{
		"type":  "turn.completed",
		"usage": map[string]int{"input_tokens": len(task)},
	})
}

func (f *FakeCodex) task(args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("no task argument")
	}
	last := args[len(args)-1]
	if last != invocation.StdinSentinel {
		return last, nil
	}
	data, err := io.ReadAll(f.stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func (f *FakeCodex) threadStarted() error {
	return f.encoder.Encode(threadStarted{Type: "thread.started", ThreadID: f.ThreadID})
}

func (f *FakeCodex) agentMessage(id, text string) error {
	return f.encoder.Encode(itemCompleted{Type: "item.completed", Item: item{ID: id, Type: "agent_message", Text: text}})
}
