package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iambrandonn/codexrun/internal/checksum"
	"github.com/iambrandonn/codexrun/internal/eventlog"
	"github.com/iambrandonn/codexrun/pkg/testharness"
)

var (
	mockOnce sync.Once
	mockPath string
	mockErr  error
	mockDir  string
)

// useMockCodex points CODEX_BIN at a freshly built mockcodex.
func useMockCodex(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping agent process tests in short mode")
	}
	mockOnce.Do(func() {
		root, err := testharness.DetectRepoRoot()
		if err != nil {
			mockErr = err
			return
		}
		mockDir, err = os.MkdirTemp("", "codexrun-cli-*")
		if err != nil {
			mockErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		mockPath, mockErr = testharness.BuildMockCodex(ctx, root, mockDir)
	})
	require.NoError(t, mockErr, "build mockcodex")
	t.Setenv("CODEX_BIN", mockPath)
}

func readArgs(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec struct {
		Args []string `json:"args"`
	}
	require.NoError(t, json.Unmarshal(data, &rec))
	return rec.Args
}

func TestRunPrintsMessageAndSession(t *testing.T) {
	clearEnv(t)
	useMockCodex(t)

	out := execute(t, "", "hello", t.TempDir())
	require.Equal(t, 0, out.code, out.stderr)
	assert.Equal(t, "received 5 bytes: hello\n\n---\nSESSION_ID: mock-thread-0001\n", out.stdout)
}

func TestRunStreamsPipedInput(t *testing.T) {
	clearEnv(t)
	useMockCodex(t)
	argsFile := filepath.Join(t.TempDir(), "args.json")
	t.Setenv("MOCKCODEX_ARGS_FILE", argsFile)
	t.Setenv("CODEX_LOG_LEVEL", "warn")

	out := execute(t, "from pipe", "-", t.TempDir())
	require.Equal(t, 0, out.code, out.stderr)
	assert.True(t, strings.HasPrefix(out.stdout, "received 9 bytes: from pipe\n"))
	assert.Contains(t, out.stderr, "using stdin for task")
	assert.Contains(t, out.stderr, `piped input, explicit \"-\"`)

	args := readArgs(t, argsFile)
	assert.Equal(t, "-", args[len(args)-1])
	assert.Contains(t, args, "--sandbox")
}

func TestRunResumeBuildsResumeArgv(t *testing.T) {
	clearEnv(t)
	useMockCodex(t)
	argsFile := filepath.Join(t.TempDir(), "args.json")
	t.Setenv("MOCKCODEX_ARGS_FILE", argsFile)
	t.Setenv("MOCKCODEX_THREAD_ID", "sess-42")
	t.Setenv("CODEX_MODEL", "gpt-test")

	out := execute(t, "", "resume", "sess-42", "keep going", t.TempDir())
	require.Equal(t, 0, out.code, out.stderr)
	assert.Contains(t, out.stdout, "SESSION_ID: sess-42")

	assert.Equal(t, []string{
		"e", "-m", "gpt-test", "--skip-git-repo-check", "--json", "resume", "sess-42", "keep going",
	}, readArgs(t, argsFile))
}

func TestRunPassesThroughExitCode(t *testing.T) {
	clearEnv(t)
	useMockCodex(t)
	t.Setenv("MOCKCODEX_SCENARIO", "fail")
	t.Setenv("MOCKCODEX_EXIT_CODE", "7")

	out := execute(t, "", "hello", t.TempDir())
	assert.Equal(t, 7, out.code)
	assert.Empty(t, out.stdout)
	assert.Contains(t, out.stderr, "ERROR: Codex exited with status 7")
}

func TestRunNoOutput(t *testing.T) {
	clearEnv(t)
	useMockCodex(t)
	t.Setenv("MOCKCODEX_SCENARIO", "silent")

	out := execute(t, "", "hello", t.TempDir())
	assert.Equal(t, 1, out.code)
	assert.Empty(t, out.stdout)
	assert.Contains(t, out.stderr, "ERROR: Codex completed without agent_message output")
}

func TestRunTimeout(t *testing.T) {
	clearEnv(t)
	useMockCodex(t)
	t.Setenv("MOCKCODEX_SCENARIO", "hang")
	t.Setenv("CODEX_TIMEOUT", "1")

	started := time.Now()
	out := execute(t, "", "hello", t.TempDir())
	assert.Equal(t, 124, out.code)
	assert.Contains(t, out.stderr, "ERROR: Codex execution timeout")
	assert.Less(t, time.Since(started), 30*time.Second)
}

func TestRunWritesEventLog(t *testing.T) {
	clearEnv(t)
	useMockCodex(t)
	logPath := filepath.Join(t.TempDir(), "logs", "run.ndjson")

	out := execute(t, "", "--event-log", logPath, "hello", t.TempDir())
	require.Equal(t, 0, out.code, out.stderr)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.GreaterOrEqual(t, len(lines), 3)

	var first, last eventlog.Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &last))

	assert.Equal(t, eventlog.KindRunStarted, first.Kind)
	assert.Equal(t, "new", first.Mode)
	assert.Equal(t, "argv", first.Delivery)
	assert.NotContains(t, first.Args, "hello")
	assert.Equal(t, 5, first.TaskBytes)
	assert.Equal(t, checksum.DigestString("hello"), first.TaskSHA256)

	assert.Equal(t, eventlog.KindRunFinished, last.Kind)
	assert.Equal(t, "success", last.Outcome)
	require.NotNil(t, last.ExitCode)
	assert.Equal(t, 0, *last.ExitCode)
	assert.Equal(t, "mock-thread-0001", last.SessionID)
	assert.Equal(t, first.RunID, last.RunID)

	for _, line := range lines[1 : len(lines)-1] {
		var rec eventlog.Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		assert.Equal(t, eventlog.KindAgentEvent, rec.Kind)
	}
}

func TestRunInterruptedWhileReadingStdin(t *testing.T) {
	clearEnv(t)
	t.Setenv("CODEX_BIN", filepath.Join(t.TempDir(), "never-started"))

	stdinR, stdinW, err := os.Pipe()
	require.NoError(t, err)
	defer stdinR.Close()
	defer stdinW.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	var stdout, stderr strings.Builder
	started := time.Now()
	code := run(ctx, Streams{In: stdinR, Out: &stdout, Err: &stderr}, []string{"-", t.TempDir()})

	assert.Equal(t, 130, code)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "ERROR: Codex interrupted by user")
	assert.NotContains(t, stderr.String(), "not found")
	assert.Less(t, time.Since(started), 10*time.Second)
}

func TestRunWarnsOnInvalidTimeout(t *testing.T) {
	clearEnv(t)
	useMockCodex(t)
	t.Setenv("CODEX_TIMEOUT", "soon")

	out := execute(t, "", "hello", t.TempDir())
	require.Equal(t, 0, out.code, out.stderr)
	assert.Contains(t, out.stderr, `WARN: invalid CODEX_TIMEOUT "soon", falling back to 2h0m0s`)
}

func TestRunAcceptsHugeTimeout(t *testing.T) {
	clearEnv(t)
	useMockCodex(t)
	t.Setenv("CODEX_TIMEOUT", "9999999999999")

	out := execute(t, "", "hello", t.TempDir())
	require.Equal(t, 0, out.code, out.stderr)
	assert.NotContains(t, out.stderr, "timeout must be positive")
}

func TestRunTreatsCompletionAsTask(t *testing.T) {
	clearEnv(t)
	useMockCodex(t)
	argsFile := filepath.Join(t.TempDir(), "args.json")
	t.Setenv("MOCKCODEX_ARGS_FILE", argsFile)

	out := execute(t, "", "completion", t.TempDir())
	require.Equal(t, 0, out.code, out.stderr)
	assert.True(t, strings.HasPrefix(out.stdout, "received 10 bytes: completion\n"))

	args := readArgs(t, argsFile)
	assert.Equal(t, "completion", args[len(args)-1])
}
