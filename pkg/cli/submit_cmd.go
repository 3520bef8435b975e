package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"querydesk/internal/domain"
)

// waitOptions controls polling a job until it finishes.
type waitOptions struct {
	wait     bool
	interval time.Duration
	timeout  time.Duration
}

func (o *waitOptions) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&o.wait, "wait", "w", false, "Poll the job until it finishes and print its result")
	cmd.Flags().DurationVar(&o.interval, "poll-interval", time.Second, "Delay between job polls")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 5*time.Minute, "Give up waiting after this long")
}

var errJobPending = errors.New("job still running")

// waitForJob polls job until it reaches a terminal state. A done job yields
// its result; a failed one yields an error carrying the job's message.
func waitForJob(ctx context.Context, client *Client, job *Job, opts waitOptions) (*Result, error) {
	if opts.interval <= 0 {
		opts.interval = time.Second
	}
	b := retry.NewConstant(opts.interval)
	if opts.timeout > 0 {
		b = retry.WithMaxDuration(opts.timeout, b)
	}

	current := job
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if current.State.IsTerminal() {
			return nil
		}
		next, err := client.Job(ctx, current.ID)
		if err != nil {
			return err
		}
		current = next
		if !current.State.IsTerminal() {
			return retry.RetryableError(errJobPending)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errJobPending) {
			return nil, fmt.Errorf("job %s did not finish within %s (state %s)", current.ID, opts.timeout, current.State)
		}
		return nil, err
	}

	if current.State == domain.JobFailed {
		msg := "unknown error"
		if current.Error != nil {
			msg = *current.Error
		}
		return nil, fmt.Errorf("job %s failed: %s", current.ID, msg)
	}
	if current.QueryResultID == nil {
		return nil, fmt.Errorf("job %s finished without a result", current.ID)
	}
	return client.Result(ctx, *current.QueryResultID)
}

// parseParams turns repeated key=value flags into a parameter map.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected name=value", pair)
		}
		out[k] = v
	}
	return out, nil
}

// readQueryText returns args joined by spaces, or stdin when the only
// argument is "-".
func readQueryText(in io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		b, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("read query from stdin: %w", err)
		}
		return string(b), nil
	}
	return strings.Join(args, " "), nil
}

// resolveDataSource accepts a data source id or name.
func resolveDataSource(ctx context.Context, client *Client, ref string) (string, error) {
	sources, err := client.DataSources(ctx)
	if err != nil {
		return "", err
	}
	for _, ds := range sources {
		if ds.ID == ref {
			return ds.ID, nil
		}
	}
	for _, ds := range sources {
		if ds.Name == ref {
			return ds.ID, nil
		}
	}
	return "", fmt.Errorf("data source %q not found", ref)
}

// printOutcome prints a cached result, or a job handle (waiting on it first
// when asked to).
func printOutcome(cmd *cobra.Command, client *Client, out *Outcome, opts waitOptions) error {
	ctx := cmd.Context()
	if out.Result == nil && out.Job != nil && opts.wait {
		res, err := waitForJob(ctx, client, out.Job, opts)
		if err != nil {
			return err
		}
		out = &Outcome{Result: res}
	}

	switch {
	case out.Result != nil:
		if isQuiet(cmd) {
			_, _ = fmt.Fprintln(os.Stdout, out.Result.ID)
			return nil
		}
		if getOutputFormat(cmd) == "json" {
			return printJSON(os.Stdout, map[string]any{"query_result": out.Result})
		}
		printResult(os.Stdout, out.Result)
	case out.Job != nil:
		if isQuiet(cmd) {
			_, _ = fmt.Fprintln(os.Stdout, out.Job.ID)
			return nil
		}
		if getOutputFormat(cmd) == "json" {
			return printJSON(os.Stdout, map[string]any{"job": out.Job})
		}
		printJob(os.Stdout, out.Job)
	default:
		return errors.New("server returned neither a result nor a job")
	}
	return nil
}

func newSubmitCmd(client *Client) *cobra.Command {
	var (
		dataSource string
		params     []string
		maxAge     int
		opts       waitOptions
	)

	cmd := &cobra.Command{
		Use:   "submit <sql | ->",
		Short: "Execute an ad-hoc query",
		Long: "Execute an ad-hoc query against a data source. A fresh enough cached " +
			"result is printed directly; otherwise a job handle is returned, or awaited with --wait.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readQueryText(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			values, err := parseParams(params)
			if err != nil {
				return err
			}
			dsID, err := resolveDataSource(cmd.Context(), client, dataSource)
			if err != nil {
				return err
			}
			out, err := client.Execute(cmd.Context(), ExecuteRequest{
				DataSourceID: dsID,
				Query:        text,
				Parameters:   values,
				MaxAge:       maxAge,
			})
			if err != nil {
				return err
			}
			return printOutcome(cmd, client, out, opts)
		},
	}

	cmd.Flags().StringVarP(&dataSource, "data-source", "d", "", "Data source id or name (required)")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Parameter value as name=value (repeatable)")
	cmd.Flags().IntVar(&maxAge, "max-age", -1, "Accept a cached result at most this many seconds old (-1 any, 0 never)")
	opts.register(cmd)
	_ = cmd.MarkFlagRequired("data-source")

	return cmd
}

func newRunCmd(client *Client) *cobra.Command {
	var (
		params []string
		maxAge int
		opts   waitOptions
	)

	cmd := &cobra.Command{
		Use:   "run <query-id>",
		Short: "Execute a saved query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseParams(params)
			if err != nil {
				return err
			}
			out, err := client.ExecuteSaved(cmd.Context(), args[0], values, maxAge)
			if err != nil {
				return err
			}
			return printOutcome(cmd, client, out, opts)
		},
	}

	cmd.Flags().StringArrayVar(&params, "param", nil, "Parameter value as name=value (repeatable)")
	cmd.Flags().IntVar(&maxAge, "max-age", -1, "Accept a cached result at most this many seconds old (-1 any, 0 never)")
	opts.register(cmd)

	return cmd
}

func newRefreshCmd(client *Client) *cobra.Command {
	var opts waitOptions

	cmd := &cobra.Command{
		Use:   "refresh <query-id>",
		Short: "Re-execute a saved query on its scheduled queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := client.Refresh(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printOutcome(cmd, client, &Outcome{Job: job}, opts)
		},
	}
	opts.register(cmd)
	return cmd
}
