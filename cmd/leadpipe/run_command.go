package main

import (
	"github.com/spf13/cobra"

	"leadpipe/internal/daemonrun"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts daemonrun.Options

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline daemon in the foreground",
		Long: "Run the pipeline daemon in the foreground until interrupted.\n\n" +
			"With --once, every claimable record is processed synchronously and the\n" +
			"command exits; retries that are not yet due are left for a later run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "Drain the queue and exit")
	cmd.Flags().StringVar(&opts.BatchID, "batch", "", "Limit --once to one ingestion batch")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&opts.Development, "dev", false, "Include source locations in logs")
	cmd.Flags().BoolVar(&opts.SkipPreflight, "skip-preflight", false, "Start even when readiness checks fail")
	return cmd
}
