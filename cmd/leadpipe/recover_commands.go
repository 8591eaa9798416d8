package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"leadpipe/internal/queue"
	"leadpipe/internal/recovery"
)

func newRecoverCommand(ctx *commandContext) *cobra.Command {
	recoverCmd := &cobra.Command{
		Use:   "recover",
		Short: "Run recovery sweeps immediately",
	}
	recoverCmd.AddCommand(&cobra.Command{
		Use:   "stale",
		Short: "Requeue records idle past recovery.stale_after_minutes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withController(cmd.Context(), func(c *recovery.Controller) error {
				result, err := c.SweepStale(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d stale record(s)\n", len(result.Changed))
				return nil
			})
		},
	})
	recoverCmd.AddCommand(&cobra.Command{
		Use:   "requalify",
		Short: "Send recently rejected records matching the requalification policy back to stage 1",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withController(cmd.Context(), func(c *recovery.Controller) error {
				result, err := c.SweepRejections(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Examined %d, requalified %d, skipped %d\n",
					result.Examined, len(result.Changed), result.Skipped)
				return nil
			})
		},
	})
	recoverCmd.AddCommand(&cobra.Command{
		Use:   "credentials",
		Short: "Force-release credential claims older than recovery.credential_timeout_minutes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withController(cmd.Context(), func(c *recovery.Controller) error {
				released, err := c.ReleaseStuckCredentials(cmd.Context())
				if err != nil {
					return err
				}
				if len(released) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No stuck credential claims")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Released %s\n", strings.Join(released, ", "))
				return nil
			})
		},
	})
	return recoverCmd
}

func newReprocessCommand(ctx *commandContext) *cobra.Command {
	var force bool
	var batchID string

	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Reset errored, failed, and retry-scheduled records to the start of the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errors.New("reprocessing discards stage results; pass --force to confirm")
			}
			return ctx.withController(cmd.Context(), func(c *recovery.Controller) error {
				n, err := c.ForceReprocess(cmd.Context(), batchID)
				if err != nil {
					return err
				}
				scope := "all batches"
				if batchID != "" {
					scope = "batch " + batchID
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d record(s) in %s\n", n, scope)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Confirm the reset")
	cmd.Flags().StringVarP(&batchID, "batch", "b", "", "Limit the reset to one ingestion batch")
	return cmd
}

// withController wires a recovery controller over the queue database and,
// when configured, the Redis credential ledger.
func (c *commandContext) withController(ctx context.Context, fn func(*recovery.Controller) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	policy, err := recovery.LoadPolicy(cfg.Recovery.KeywordsFile)
	if err != nil {
		return err
	}
	return c.withStore(ctx, func(store *queue.Store) error {
		var releaser recovery.CredentialReleaser
		ledger, err := c.openLedger(ctx)
		if err != nil {
			return err
		}
		if ledger != nil {
			defer ledger.Close()
			releaser = ledger
		}
		return fn(recovery.NewController(cfg, store, releaser, policy, c.cliLogger()))
	})
}
