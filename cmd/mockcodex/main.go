// Command mockcodex imitates `codex exec --json` for tests. It accepts the
// same argv codexrun builds and is steered through environment variables:
//
//	MOCKCODEX_SCENARIO   echo (default), silent, fail, fail-silent, hang, stubborn, chatty, malformed, close-stdin
//	MOCKCODEX_EXIT_CODE  exit status for fail and fail-silent (default 3)
//	MOCKCODEX_THREAD_ID  thread id to announce (default mock-thread-0001)
//	MOCKCODEX_CHATTY     number of progress lines chatty writes before reading stdin
//	MOCKCODEX_ARGS_FILE  write the received argv and working directory here as JSON
//	MOCKCODEX_PID_FILE   write the process id here once started
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"

	"github.com/iambrandonn/codexrun/internal/fsutil"
	"github.com/iambrandonn/codexrun/pkg/testharness"
)

// Invocation is what MOCKCODEX_ARGS_FILE receives.
type Invocation struct {
	ID   string   `json:"id"`
	Args []string `json:"args"`
	Dir  string   `json:"dir"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := recordInvocation(); err != nil {
		logger.Error("failed to record invocation", "error", err)
		os.Exit(1)
	}

	agent := testharness.NewFakeCodex(os.Stdin, os.Stdout, os.Stderr, logger)
	agent.CloseStdin = os.Stdin.Close
	if v := os.Getenv("MOCKCODEX_SCENARIO"); v != "" {
		agent.Scenario = v
	}
	if v := os.Getenv("MOCKCODEX_THREAD_ID"); v != "" {
		agent.ThreadID = v
	}
	if n, err := strconv.Atoi(os.Getenv("MOCKCODEX_EXIT_CODE")); err == nil {
		agent.ExitCode = n
	}
	if n, err := strconv.Atoi(os.Getenv("MOCKCODEX_CHATTY")); err == nil {
		agent.ChattyLines = n
	}

	// hang keeps the default SIGTERM disposition so the signal ends the
	// process; stubborn ignores it and has to be killed.
	if agent.Scenario == testharness.ScenarioStubborn {
		signal.Ignore(syscall.SIGTERM)
	}

	logger.Info("mockcodex starting", "scenario", agent.Scenario, "pid", os.Getpid())
	os.Exit(agent.Run(context.Background(), os.Args[1:]))
}

func recordInvocation() error {
	if path := os.Getenv("MOCKCODEX_PID_FILE"); path != "" {
		if err := fsutil.AtomicWrite(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
			return err
		}
	}

	path := os.Getenv("MOCKCODEX_ARGS_FILE")
	if path == "" {
		return nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	return fsutil.AtomicWriteJSON(path, Invocation{
		ID:   uuid.NewString(),
		Args: os.Args[1:],
		Dir:  wd,
	}, 0o600)
}
