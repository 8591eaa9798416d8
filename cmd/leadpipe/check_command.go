package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"leadpipe/internal/preflight"
	"leadpipe/internal/queue"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run readiness checks against directories, the database, and external services",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			err = ctx.withStore(cmd.Context(), func(store *queue.Store) error {
				results = append(results, preflight.CheckDatabase(cmd.Context(), store))
				return nil
			})
			if err != nil {
				results = append(results, preflight.Result{Name: "Database", Detail: err.Error()})
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintln(out, renderSectionHeader("Readiness", colorize))
			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d of %d checks failed", len(failed), len(results))
			}
			return nil
		},
	}
}
