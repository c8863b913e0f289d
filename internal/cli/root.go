package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iambrandonn/codexrun/internal/config"
	"github.com/iambrandonn/codexrun/internal/invocation"
	"github.com/iambrandonn/codexrun/internal/result"
)

// Streams are the process's standard streams. Tests substitute buffers.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// UsageError is an invocation problem detected before the agent is spawned.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }

func usageError(err error) error {
	return &UsageError{Err: err}
}

// exitError carries an exit code whose diagnostic has already been printed.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func newRootCmd(streams Streams) *cobra.Command {
	v := config.NewViper()

	rootCmd := &cobra.Command{
		Use:   "codexrun [flags] <task|-> [workdir]",
		Short: "Run one Codex task non-interactively and print its final answer",
		Long: `codexrun launches "codex exec --json" for a single task, waits for it under a
timeout, and prints the agent's final message followed by the session id.

Long or multi-line tasks, tasks read from a pipe, and "-" are streamed to the
agent on stdin instead of being passed as an argument.

Environment:
  CODEX_MODEL      model id (default ` + config.DefaultModel + `)
  CODEX_TIMEOUT    seconds, or milliseconds when above 10000 (default 7200s)
  CODEX_BIN        agent binary (default ` + config.DefaultBinary + `)
  CODEX_LOG_LEVEL  debug, info, warn or error
  CODEX_EVENT_LOG  append an NDJSON record of the run to this file`,
		Example: `  codexrun "explain main.go" ./repo
  git diff | codexrun - ./repo
  codexrun resume 0199a2b1-thread "now add tests"`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 2 {
				return usageError(fmt.Errorf("too many arguments (%d); quote the task or pass it on stdin with \"-\"", len(args)))
			}
			ra := runArgs{mode: invocation.ModeFresh}
			if len(args) > 0 {
				ra.taskArg = args[0]
			}
			if len(args) > 1 {
				ra.workDir = args[1]
			}
			return runTask(cmd, v, streams, ra)
		},
	}
	rootCmd.Flags().SetInterspersed(false)
	// The first positional is task text, so "completion" must reach the agent.
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Path to a config file (YAML, TOML or JSON)")
	flags.String("log-level", "", "Log level: debug, info, warn, error (env CODEX_LOG_LEVEL)")
	flags.String("event-log", "", "Append an NDJSON record of the run to this file (env CODEX_EVENT_LOG)")
	bindFlag(v, config.KeyLogLevel, rootCmd, "log-level")
	bindFlag(v, config.KeyEventLog, rootCmd, "event-log")

	rootCmd.AddCommand(newResumeCmd(v, streams))

	rootCmd.SetIn(streams.In)
	rootCmd.SetOut(streams.Out)
	rootCmd.SetErr(streams.Err)
	return rootCmd
}

func bindFlag(v *viper.Viper, key string, cmd *cobra.Command, name string) {
	if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(name)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", name, err))
	}
}

// Execute runs codexrun with the process's arguments and standard streams
// and returns the exit code.
func Execute(ctx context.Context) int {
	return run(ctx, Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}, os.Args[1:])
}

func run(ctx context.Context, streams Streams, args []string) int {
	rootCmd := newRootCmd(streams)
	rootCmd.SetArgs(args)

	executed, err := rootCmd.ExecuteContextC(ctx)
	if err == nil {
		return result.ExitSuccess
	}

	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}

	result.Errorf(streams.Err, "%v", err)
	var usage *UsageError
	if errors.As(err, &usage) && executed != nil {
		fmt.Fprintf(streams.Err, "Usage:\n  %s\n", executed.UseLine())
	}
	return result.ExitFailure
}
