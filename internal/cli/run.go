package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iambrandonn/codexrun/internal/checksum"
	"github.com/iambrandonn/codexrun/internal/config"
	"github.com/iambrandonn/codexrun/internal/eventlog"
	"github.com/iambrandonn/codexrun/internal/events"
	"github.com/iambrandonn/codexrun/internal/invocation"
	"github.com/iambrandonn/codexrun/internal/result"
	"github.com/iambrandonn/codexrun/internal/supervisor"
	"github.com/iambrandonn/codexrun/internal/workspace"
)

// runArgs are the positional arguments of either command.
type runArgs struct {
	mode      invocation.Mode
	sessionID string
	taskArg   string
	workDir   string
}

func runTask(cmd *cobra.Command, v *viper.Viper, streams Streams, ra runArgs) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	if err := config.LoadFile(v, configPath); err != nil {
		return usageError(err)
	}

	cfg, warnings := config.Load(v)
	for _, w := range warnings {
		result.Warnf(streams.Err, "%s", w)
	}
	if err := cfg.Validate(); err != nil {
		return usageError(err)
	}

	logger, err := config.NewLogger(streams.Err, cfg.LogLevel)
	if err != nil {
		return usageError(err)
	}

	req, err := resolveRequest(cmd.Context(), streams, ra)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("interrupted while reading task", "error", err)
			return &exitError{code: result.Emit(streams.Out, streams.Err, result.Interrupted())}
		}
		return err
	}

	logger.Info("parsed arguments",
		"mode", req.Mode(),
		"task_len", len(req.Task()),
		"workdir", req.WorkDir(),
		"model", cfg.Model,
		"timeout", cfg.Timeout)
	if req.Delivery() == invocation.Streamed {
		logger.Warn("using stdin for task", "reasons", invocation.JoinReasons(req.Reasons()))
	}

	argv := invocation.BuildArgs(cfg.Binary, cfg.Model, req)
	redacted := invocation.RedactArgs(argv, req)
	logger.Info("starting agent", "args", redacted)

	evtLog, err := openEventLog(cfg.EventLogPath, logger)
	if err != nil {
		return err
	}
	defer evtLog.Close()

	if err := evtLog.WriteStart(eventlog.Start{
		Mode:       req.Mode().String(),
		Delivery:   req.Delivery().String(),
		Reasons:    reasonStrings(req.Reasons()),
		Args:       redacted,
		WorkDir:    req.WorkDir(),
		TaskBytes:  len(req.Task()),
		TaskSHA256: checksum.DigestString(req.Task()),
	}); err != nil {
		logger.Warn("failed to write event log", "error", err)
	}

	sup := supervisor.New(cfg.GracePeriod, logger)
	sup.SetStderr(streams.Err)
	if evtLog != nil {
		sup.SetObserver(func(line []byte, evt events.Event) {
			if err := evtLog.WriteAgentEvent(evt.Kind.String(), line); err != nil {
				logger.Warn("failed to write event log", "error", err)
			}
		})
	}

	report := sup.Run(cmd.Context(), supervisor.Invocation{
		Args:     argv,
		Dir:      req.WorkDir(),
		Task:     req.Task(),
		Delivery: req.Delivery(),
		Timeout:  cfg.Timeout,
	})

	code := result.Emit(streams.Out, streams.Err, report.Outcome)

	if err := evtLog.WriteFinish(eventlog.Finish{
		Outcome:   report.Outcome.Kind.String(),
		ExitCode:  code,
		SessionID: report.Outcome.SessionID,
		Duration:  report.Duration,
	}); err != nil {
		logger.Warn("failed to write event log", "error", err)
	}

	if code != result.ExitSuccess {
		return &exitError{code: code}
	}
	return nil
}

// resolveRequest turns positional arguments and stdin into a Request. All
// failures here are usage errors except a failed or interrupted stdin read.
func resolveRequest(ctx context.Context, streams Streams, ra runArgs) (invocation.Request, error) {
	src, err := invocation.ResolveTask(ctx, streams.In, ra.taskArg)
	if err != nil {
		if errors.Is(err, invocation.ErrTaskRequired) || errors.Is(err, invocation.ErrEmptyStdin) {
			return invocation.Request{}, usageError(err)
		}
		return invocation.Request{}, err
	}

	workDir, err := workspace.Resolve(ra.workDir)
	if err != nil {
		return invocation.Request{}, usageError(err)
	}

	req, err := invocation.NewRequest(ra.mode, ra.sessionID, src, workDir)
	if err != nil {
		return invocation.Request{}, usageError(err)
	}
	return req, nil
}

func openEventLog(path string, logger *slog.Logger) (*eventlog.EventLog, error) {
	if path == "" {
		return nil, nil
	}
	evtLog, err := eventlog.NewEventLog(path, eventlog.NewRunID(time.Now()), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	logger.Info("recording run", "run_id", evtLog.RunID(), "path", path)
	return evtLog, nil
}

func reasonStrings(reasons []invocation.Reason) []string {
	out := make([]string, len(reasons))
	for i, r := range reasons {
		out[i] = string(r)
	}
	return out
}
