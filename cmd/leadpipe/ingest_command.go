package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"leadpipe/internal/config"
	"leadpipe/internal/ingest"
	"leadpipe/internal/queue"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var batchID string
	var source string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ingest <file.jsonl|->",
		Short: "Ingest a JSON Lines export of posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, label, closeFn, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeFn()
			if strings.TrimSpace(source) == "" {
				source = label
			}

			var result ingest.Result
			err = ctx.withStore(cmd.Context(), func(store *queue.Store) error {
				ingester := ingest.New(store, ctx.cliLogger())
				var ingestErr error
				result, ingestErr = ingester.IngestSource(cmd.Context(), batchID, source, ingest.ReadJSONL(reader))
				return ingestErr
			})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, result)
			}
			printIngestResult(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&batchID, "batch", "b", "", "Batch identifier (generated when empty)")
	cmd.Flags().StringVar(&source, "source", "", "Source label recorded on the batch (defaults to the file name)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func openInput(cmd *cobra.Command, arg string) (io.Reader, string, func(), error) {
	if arg == "-" {
		return cmd.InOrStdin(), "stdin", func() {}, nil
	}
	path, err := config.ExpandPath(arg)
	if err != nil {
		return nil, "", nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, "", nil, fmt.Errorf("open input: %w", err)
	}
	return file, filepath.Base(path), func() { file.Close() }, nil
}

func printIngestResult(out io.Writer, result ingest.Result) {
	fmt.Fprintf(out, "Batch %s\n", result.BatchID)
	fmt.Fprint(out, renderTable(
		[]string{"Received", "Inserted", "Duplicates", "Dropped"},
		[][]string{{
			fmt.Sprint(result.Received),
			fmt.Sprint(result.Inserted),
			fmt.Sprint(result.Duplicates),
			fmt.Sprint(result.Dropped),
		}},
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight},
	))
	if len(result.Drops) == 0 {
		return
	}
	rows := make([][]string, 0, len(result.Drops))
	for _, d := range result.Drops {
		rows = append(rows, []string{fmt.Sprint(d.Index), d.URN, d.Reason})
	}
	fmt.Fprintln(out, "Dropped posts:")
	fmt.Fprint(out, renderTable([]string{"Post", "URN", "Reason"}, rows, []columnAlignment{alignRight, alignLeft, alignLeft}))
	if result.Dropped > len(result.Drops) {
		fmt.Fprintf(out, "(%d more not shown)\n", result.Dropped-len(result.Drops))
	}
}
