package invocation

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// TaskSource is where the task text came from.
type TaskSource struct {
	Text string
	// Piped is true when the text was read from a non-terminal stdin.
	Piped bool
	// Explicit is true when the caller passed "-" as the task argument.
	Explicit bool
}

// ResolveTask settles the task text from the task argument and stdin.
//
// With "-" stdin is read in full and must not be empty. Otherwise a
// non-terminal stdin is read and, when it yields data, wins over the
// argument. A terminal stdin is never read.
//
// Cancelling ctx abandons a read that is still waiting for input; the
// returned error then wraps ctx.Err().
func ResolveTask(ctx context.Context, stdin io.Reader, arg string) (TaskSource, error) {
	tty := IsTerminal(stdin)

	if arg == StdinSentinel {
		data, err := readAll(ctx, stdin)
		if err != nil {
			return TaskSource{}, err
		}
		if len(data) == 0 {
			return TaskSource{}, ErrEmptyStdin
		}
		return TaskSource{Text: string(data), Piped: !tty, Explicit: true}, nil
	}

	if !tty {
		data, err := readAll(ctx, stdin)
		if err != nil {
			return TaskSource{}, err
		}
		if len(data) > 0 {
			return TaskSource{Text: string(data), Piped: true}, nil
		}
	}

	if arg == "" {
		return TaskSource{}, ErrTaskRequired
	}
	return TaskSource{Text: arg}, nil
}

type readResult struct {
	data []byte
	err  error
}

// readAll reads r to EOF unless ctx ends first. An abandoned read keeps its
// goroutine until r returns; the process is about to exit by then.
func readAll(ctx context.Context, r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, nil
	}

	done := make(chan readResult, 1)
	go func() {
		data, err := io.ReadAll(r)
		done <- readResult{data: data, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("failed to read task from stdin: %w", res.err)
		}
		return res.data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("reading task from stdin: %w", ctx.Err())
	}
}

// IsTerminal reports whether r is an *os.File attached to a terminal. Any
// other reader (including nil) counts as non-interactive.
func IsTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok || f == nil {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
