package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"leadpipe/internal/api"
	"leadpipe/internal/queueaccess"
)

func newStuckCommand(ctx *commandContext) *cobra.Command {
	var hours int
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stuck",
		Short: "List unfinished records not updated within the window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if hours <= 0 {
				return errors.New("--hours must be positive")
			}
			return ctx.withAccess(cmd, func(session queueaccess.Session) error {
				records, err := session.Access.Stuck(cmd.Context(), hours, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, records)
				}
				if len(records) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No records idle for more than %dh\n", hours)
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), recordTable(records))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&hours, "hours", 24, "Idle threshold in hours")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum records to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newReasonsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "reasons",
		Short: "Summarize why records ended in rejected or failed states",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(session queueaccess.Session) error {
				reasons, err := session.Access.Reasons(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(reasons) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No rejected or failed records")
					return nil
				}
				rows := make([][]string, 0, len(reasons))
				for _, r := range reasons {
					rows = append(rows, []string{r.Status, r.Reason, strconv.Itoa(r.Count)})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Status", "Reason", "Count"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight}))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 25, "Maximum reason groups to show")
	return cmd
}

func newRecordsCommand(ctx *commandContext) *cobra.Command {
	recordsCmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect pipeline records",
	}
	recordsCmd.AddCommand(newRecordsListCommand(ctx))
	recordsCmd.AddCommand(newRecordsShowCommand(ctx))
	return recordsCmd
}

func newRecordsListCommand(ctx *commandContext) *cobra.Command {
	var query api.RecordQuery
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(session queueaccess.Session) error {
				records, err := session.Access.List(cmd.Context(), query)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, records)
				}
				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No matching records")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), recordTable(records))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&query.Statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().StringVarP(&query.BatchID, "batch", "b", "", "Filter by ingestion batch")
	cmd.Flags().StringVar(&query.Subject, "subject", "", "Filter by subject key")
	cmd.Flags().IntVar(&query.Limit, "limit", 50, "Maximum records to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newRecordsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one record including stage results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid record id %q", args[0])
			}
			return ctx.withAccess(cmd, func(session queueaccess.Session) error {
				record, err := session.Access.Describe(cmd.Context(), id)
				if err != nil {
					return err
				}
				if record == nil {
					return fmt.Errorf("record %d not found", id)
				}
				return writeJSON(cmd, record)
			})
		},
	}
}

func newLeadsCommand(ctx *commandContext) *cobra.Command {
	leadsCmd := &cobra.Command{
		Use:   "leads",
		Short: "Inspect materialized leads",
	}
	leadsCmd.AddCommand(newLeadsListCommand(ctx))
	leadsCmd.AddCommand(newLeadsShowCommand(ctx))
	return leadsCmd
}

func newLeadsListCommand(ctx *commandContext) *cobra.Command {
	var category string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leads, most recently active first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(session queueaccess.Session) error {
				leads, err := session.Access.Leads(cmd.Context(), category, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, leads)
				}
				if len(leads) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No leads")
					return nil
				}
				rows := make([][]string, 0, len(leads))
				for _, l := range leads {
					rows = append(rows, []string{
						l.ID,
						truncate(l.FullName, 30),
						truncate(l.Company, 30),
						l.Category,
						strconv.Itoa(l.RecordCount),
						shortTime(l.LatestActivityAt),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Name", "Company", "Category", "Posts", "Latest"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Filter by category")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum leads to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newLeadsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(session queueaccess.Session) error {
				lead, err := session.Access.Lead(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if lead == nil {
					return fmt.Errorf("lead %s not found", args[0])
				}
				return writeJSON(cmd, lead)
			})
		},
	}
}

func newCredentialsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "credentials",
		Short: "Show enrichment account usage and claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(session queueaccess.Session) error {
				creds, err := session.Access.Credentials(cmd.Context())
				if err != nil {
					return err
				}
				if len(creds) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No enrichment accounts configured")
					return nil
				}
				rows := make([][]string, 0, len(creds))
				for _, c := range creds {
					claim := ""
					if c.Busy {
						claim = fmt.Sprintf("%s since %s", c.OperationID, shortTime(c.OperationStartedAt))
					}
					rows = append(rows, []string{
						c.AccountID,
						fmt.Sprintf("%d/%d", c.DailyUsage, c.DailyLimit),
						shortTime(c.LastCallAt),
						strconv.FormatInt(c.TotalCalls, 10),
						yesNo(c.Busy),
						claim,
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Account", "Today", "Last call", "Total", "Busy", "Claim"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newBatchesCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "batches",
		Short: "List recent ingestion batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(session queueaccess.Session) error {
				batches, err := session.Access.Batches(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(batches) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No batches ingested")
					return nil
				}
				rows := make([][]string, 0, len(batches))
				for _, b := range batches {
					rows = append(rows, []string{
						b.ID,
						b.Source,
						shortTime(b.StartedAt),
						strconv.Itoa(b.Received),
						strconv.Itoa(b.Inserted),
						strconv.Itoa(b.Duplicates),
						strconv.Itoa(b.Dropped),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Batch", "Source", "Started", "Received", "Inserted", "Dups", "Dropped"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum batches to show")
	return cmd
}

func recordTable(records []api.Record) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			strconv.FormatInt(r.ID, 10),
			r.Status,
			r.Stage,
			strconv.Itoa(r.Priority),
			strconv.Itoa(r.RetryCount),
			truncate(r.AuthorName, 24),
			shortTime(r.UpdatedAt),
			truncate(r.Reason, 48),
		})
	}
	return renderTable(
		[]string{"ID", "Status", "Stage", "Prio", "Retries", "Author", "Updated", "Reason"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignLeft},
	)
}
