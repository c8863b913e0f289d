package testharness

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/iambrandonn/codexrun/internal/checksum"
	"github.com/iambrandonn/codexrun/internal/events"
)

func newFake(stdin string) (*FakeCodex, *bytes.Buffer, *bytes.Buffer) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var stdout, stderr bytes.Buffer
	return NewFakeCodex(strings.NewReader(stdin), &stdout, &stderr, logger), &stdout, &stderr
}

func reduce(t *testing.T, stdout *bytes.Buffer) events.State {
	t.Helper()
	state, err := events.Reduce(stdout, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("reduce fake output: %v", err)
	}
	return state
}

func TestFakeCodexEchoArgument(t *testing.T) {
	fake, stdout, _ := newFake("")

	if code := fake.Run(context.Background(), []string{"e", "--json", "hello"}); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}

	state := reduce(t, stdout)
	if state.SessionID != DefaultThreadID {
		t.Fatalf("session id = %q", state.SessionID)
	}
	if state.LastAgentMessage != "received 5 bytes: hello" {
		t.Fatalf("message = %q", state.LastAgentMessage)
	}
	if state.AgentMessages != 2 {
		t.Fatalf("agent messages = %d, want 2", state.AgentMessages)
	}
}

func TestFakeCodexEchoStdin(t *testing.T) {
	task := strings.Repeat("y", EchoPreviewLimit+1)
	fake, stdout, _ := newFake(task)

	if code := fake.Run(context.Background(), []string{"e", "--json", "-"}); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	want := "received 201 bytes " + checksum.DigestString(task)
	if got := reduce(t, stdout).LastAgentMessage; got != want {
		t.Fatalf("message = %q", got)
	}
}

func TestFakeCodexFail(t *testing.T) {
	fake, stdout, stderr := newFake("")
	fake.Scenario = ScenarioFail
	fake.ExitCode = 5

	if code := fake.Run(context.Background(), []string{"task"}); code != 5 {
		t.Fatalf("exit code = %d, want 5", code)
	}
	if !strings.Contains(stderr.String(), "simulated failure") {
		t.Fatalf("stderr = %q", stderr.String())
	}
	if got := reduce(t, stdout).LastAgentMessage; got != "partial answer" {
		t.Fatalf("message = %q", got)
	}
}

func TestFakeCodexFailSilent(t *testing.T) {
	fake, stdout, _ := newFake("")
	fake.Scenario = ScenarioFailSilent

	if code := fake.Run(context.Background(), []string{"task"}); code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}
	state := reduce(t, stdout)
	if state.HasMessage() {
		t.Fatalf("unexpected message %q", state.LastAgentMessage)
	}
	if state.SessionID != DefaultThreadID {
		t.Fatalf("session id = %q", state.SessionID)
	}
}

func TestFakeCodexMalformed(t *testing.T) {
	fake, stdout, _ := newFake("")
	fake.Scenario = ScenarioMalformed

	if code := fake.Run(context.Background(), []string{"ok"}); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	state := reduce(t, stdout)
	if state.ParseWarnings != 3 {
		t.Fatalf("parse warnings = %d, want 3", state.ParseWarnings)
	}
	if state.LastAgentMessage != "received 2 bytes: ok" {
		t.Fatalf("message = %q", state.LastAgentMessage)
	}
}

func TestFakeCodexHangStopsOnCancel(t *testing.T) {
	fake, _, _ := newFake("")
	fake.Scenario = ScenarioHang

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if code := fake.Run(ctx, []string{"wait"}); code != 143 {
		t.Fatalf("exit code = %d, want 143", code)
	}
}

func TestFakeCodexCloseStdin(t *testing.T) {
	fake, stdout, _ := newFake("")
	fake.Scenario = ScenarioCloseStdin
	closed := false
	fake.CloseStdin = func() error {
		closed = true
		return nil
	}

	if code := fake.Run(context.Background(), []string{"-"}); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !closed {
		t.Fatal("expected stdin to be closed")
	}
	if got := reduce(t, stdout).LastAgentMessage; got != "ignored input" {
		t.Fatalf("message = %q", got)
	}
}

func TestFakeCodexUnknownScenario(t *testing.T) {
	fake, _, _ := newFake("")
	fake.Scenario = "bogus"

	if code := fake.Run(context.Background(), []string{"x"}); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}
