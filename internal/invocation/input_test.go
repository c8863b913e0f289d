package invocation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTaskFromArgument(t *testing.T) {
	src, err := ResolveTask(context.Background(), strings.NewReader(""), "do the thing")
	require.NoError(t, err)
	assert.Equal(t, TaskSource{Text: "do the thing"}, src)
}

func TestResolveTaskPipedDataWins(t *testing.T) {
	src, err := ResolveTask(context.Background(), strings.NewReader("from the pipe\n"), "ignored")
	require.NoError(t, err)
	assert.Equal(t, "from the pipe\n", src.Text)
	assert.True(t, src.Piped)
	assert.False(t, src.Explicit)
}

func TestResolveTaskPipedWithoutArgument(t *testing.T) {
	src, err := ResolveTask(context.Background(), strings.NewReader("only stdin"), "")
	require.NoError(t, err)
	assert.Equal(t, "only stdin", src.Text)
	assert.True(t, src.Piped)
}

func TestResolveTaskExplicitSentinel(t *testing.T) {
	src, err := ResolveTask(context.Background(), strings.NewReader("streamed task"), StdinSentinel)
	require.NoError(t, err)
	assert.Equal(t, TaskSource{Text: "streamed task", Piped: true, Explicit: true}, src)
}

func TestResolveTaskExplicitSentinelEmptyStdin(t *testing.T) {
	_, err := ResolveTask(context.Background(), strings.NewReader(""), StdinSentinel)
	require.ErrorIs(t, err, ErrEmptyStdin)
}

func TestResolveTaskRequired(t *testing.T) {
	_, err := ResolveTask(context.Background(), strings.NewReader(""), "")
	require.ErrorIs(t, err, ErrTaskRequired)

	_, err = ResolveTask(context.Background(), nil, "")
	require.ErrorIs(t, err, ErrTaskRequired)
}

func TestResolveTaskReadError(t *testing.T) {
	boom := errors.New("boom")
	_, err := ResolveTask(context.Background(), iotest.ErrReader(boom), "arg")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestResolveTaskRegularFileIsNotTerminal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.txt")
	require.NoError(t, os.WriteFile(path, []byte("file task"), 0o600))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	assert.False(t, IsTerminal(f))

	src, err := ResolveTask(context.Background(), f, "")
	require.NoError(t, err)
	assert.Equal(t, "file task", src.Text)
	assert.True(t, src.Piped)
}

func TestResolveTaskCancelledWhileWaitingForStdin(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err = ResolveTask(ctx, r, StdinSentinel)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestResolveTaskCancelledBeforeImplicitPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = ResolveTask(ctx, r, "arg")
	require.ErrorIs(t, err, context.Canceled)
}
