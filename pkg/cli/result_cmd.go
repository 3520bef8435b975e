package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newResultCmd(client *Client) *cobra.Command {
	var (
		queryID string
		format  string
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "result [result-id]",
		Short: "Show a stored result",
		Long: "Show a stored result by id, or the latest result of a saved query with --query. " +
			"With --format csv or xlsx the latest result is downloaded as a file.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if (len(args) == 1) == (queryID != "") {
				return fmt.Errorf("specify either a result id or --query")
			}

			if format != "" {
				if queryID == "" {
					return fmt.Errorf("--format requires --query")
				}
				if format != "csv" && format != "xlsx" {
					return fmt.Errorf("unsupported download format %q: use csv or xlsx", format)
				}
				var w io.Writer = os.Stdout
				if outPath != "" {
					f, err := os.Create(outPath) //nolint:gosec // user-supplied output path
					if err != nil {
						return fmt.Errorf("create output file: %w", err)
					}
					defer f.Close() //nolint:errcheck
					w = f
				}
				return client.Download(ctx, queryID, format, w)
			}

			var (
				res *Result
				err error
			)
			if queryID != "" {
				res, err = client.LatestResult(ctx, queryID)
			} else {
				res, err = client.Result(ctx, args[0])
			}
			if err != nil {
				return err
			}
			if isQuiet(cmd) {
				_, _ = fmt.Fprintln(os.Stdout, res.ID)
				return nil
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, map[string]any{"query_result": res})
			}
			printResult(os.Stdout, res)
			return nil
		},
	}

	cmd.Flags().StringVar(&queryID, "query", "", "Saved query id; shows its latest result")
	cmd.Flags().StringVar(&format, "format", "", "Download format for --query (csv, xlsx)")
	cmd.Flags().StringVar(&outPath, "out", "", "Write the download to this file instead of stdout")

	return cmd
}
