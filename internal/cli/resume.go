package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iambrandonn/codexrun/internal/invocation"
)

func newResumeCmd(v *viper.Viper, streams Streams) *cobra.Command {
	resumeCmd := &cobra.Command{
		Use:   "resume <session_id> <task|-> [workdir]",
		Short: "Continue an earlier Codex session",
		Long: `Continue the session printed after "SESSION_ID:" by an earlier run. The task
is delivered the same way as for a new run.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return usageError(invocation.ErrSessionRequired)
			}
			if len(args) > 3 {
				return usageError(fmt.Errorf("too many arguments (%d); quote the task or pass it on stdin with \"-\"", len(args)))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ra := runArgs{
				mode:      invocation.ModeResume,
				sessionID: args[0],
				taskArg:   args[1],
			}
			if len(args) > 2 {
				ra.workDir = args[2]
			}
			return runTask(cmd, v, streams, ra)
		},
	}
	resumeCmd.Flags().SetInterspersed(false)
	return resumeCmd
}
