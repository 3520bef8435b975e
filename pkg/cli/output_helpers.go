package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"querydesk/internal/domain"
)

// getOutputFormat returns the effective output format from the root command's
// persistent flags. An unset format means table on a terminal and JSON when
// stdout is piped.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	if v != "" {
		return v
	}
	if stdoutIsTerminal() {
		return "table"
	}
	return "json"
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec // fd fits in int
}

func validateOutputFormat(output string) error {
	if output != "" && output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes rows under upper-cased headers, columns separated by two
// spaces.
func printTable(w io.Writer, columns []string, rows [][]string) {
	if len(columns) == 0 {
		return
	}
	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = len(c)
	}
	for _, row := range rows {
		for i := range columns {
			if i < len(row) && len(row[i]) > widths[i] {
				widths[i] = len(row[i])
			}
		}
	}

	writeRow := func(cells []string) {
		var b strings.Builder
		for i := range columns {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if i == len(columns)-1 {
				b.WriteString(cell)
				break
			}
			fmt.Fprintf(&b, "%-*s  ", widths[i], cell)
		}
		_, _ = fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
	}

	headers := make([]string, len(columns))
	for i, c := range columns {
		headers[i] = strings.ToUpper(c)
	}
	writeRow(headers)
	for _, row := range rows {
		writeRow(row)
	}
}

// printDetail writes key/value pairs sorted by key.
func printDetail(w io.Writer, fields map[string]any) {
	keys := make([]string, 0, len(fields))
	width := 0
	for k := range fields {
		keys = append(keys, k)
		if len(k) > width {
			width = len(k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "%-*s  %s\n", width+1, k+":", formatValue(fields[k]))
	}
}

// formatValue renders a scalar for a table cell. Missing values are blank and
// nested values are JSON.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case *string:
		if t == nil {
			return ""
		}
		return *t
	case time.Time:
		return humanize.Time(t)
	case *time.Time:
		if t == nil {
			return ""
		}
		return humanize.Time(*t)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
	return cast.ToString(v)
}

// formatRuntime renders a runtime in seconds.
func formatRuntime(seconds float64) string {
	return humanize.FtoaWithDigits(seconds, 3) + "s"
}

// resultRows flattens result data into table cells in column order.
func resultRows(data domain.ResultData) ([]string, [][]string) {
	columns := make([]string, len(data.Columns))
	for i, c := range data.Columns {
		columns[i] = c.Name
	}
	rows := make([][]string, len(data.Rows))
	for i, row := range data.Rows {
		cells := make([]string, len(columns))
		for j, c := range columns {
			cells[j] = formatValue(row[c])
		}
		rows[i] = cells
	}
	return columns, rows
}

func printJob(w io.Writer, job *Job) {
	printDetail(w, map[string]any{
		"id":              job.ID,
		"state":           string(job.State),
		"queue":           job.Queue,
		"worker":          job.Worker,
		"error":           job.Error,
		"query_result_id": job.QueryResultID,
		"updated":         job.UpdatedAt,
	})
}

func printResult(w io.Writer, res *Result) {
	columns, rows := resultRows(res.Data)
	printTable(w, columns, rows)
	_, _ = fmt.Fprintf(w, "\n%s %s, runtime %s, retrieved %s (result %s)\n",
		humanize.Comma(int64(len(rows))), pluralRows(len(rows)),
		formatRuntime(res.Runtime), humanize.Time(res.RetrievedAt), res.ID)
}

func pluralRows(n int) string {
	if n == 1 {
		return "row"
	}
	return "rows"
}
