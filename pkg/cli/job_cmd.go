package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"querydesk/internal/domain"
)

func newJobCmd(client *Client) *cobra.Command {
	var opts waitOptions

	cmd := &cobra.Command{
		Use:   "job <job-id>",
		Short: "Show the state of an execution job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := client.Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printOutcome(cmd, client, &Outcome{Job: job}, opts)
		},
	}
	opts.register(cmd)
	return cmd
}

func newQueueStatusCmd(client *Client) *cobra.Command {
	var (
		queue        string
		dataSourceID string
	)

	cmd := &cobra.Command{
		Use:   "queue-status [job-id]",
		Short: "Show outstanding work on a queue",
		Long: "Show waiting and running jobs. Given a job id, the queue and data source " +
			"default to the job's own.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var jobID string
			if len(args) == 1 {
				jobID = args[0]
			}
			status, err := client.QueueStatus(cmd.Context(), jobID, queue, dataSourceID)
			if err != nil {
				return err
			}
			if isQuiet(cmd) {
				for _, task := range status.Tasks {
					_, _ = fmt.Fprintln(os.Stdout, task.ID)
				}
				return nil
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, status)
			}
			printQueueStatus(status)
			return nil
		},
	}

	cmd.Flags().StringVar(&queue, "queue", "", "Queue name")
	cmd.Flags().StringVar(&dataSourceID, "data-source", "", "Only count jobs of this data source id")

	return cmd
}

func printQueueStatus(status *domain.QueueStatus) {
	_, _ = fmt.Fprintf(os.Stdout, "queue %s: %d %s\n\n", status.Queue, status.NumTasks, pluralTasks(status.NumTasks))
	rows := make([][]string, len(status.Tasks))
	for i, task := range status.Tasks {
		rows[i] = []string{
			task.ID,
			string(task.State),
			task.DataSourceID,
			formatValue(task.Worker),
			formatValue(task.CreatedAt),
			formatValue(task.StartedAt),
		}
	}
	printTable(os.Stdout, []string{"task_id", "state", "data_source_id", "worker", "created", "started"}, rows)
}

func pluralTasks(n int) string {
	if n == 1 {
		return "task"
	}
	return "tasks"
}

func newDataSourcesCmd(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:     "data-sources",
		Aliases: []string{"ds"},
		Short:   "List the data sources you can query",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sources, err := client.DataSources(cmd.Context())
			if err != nil {
				return err
			}
			if isQuiet(cmd) {
				for _, ds := range sources {
					_, _ = fmt.Fprintln(os.Stdout, ds.ID)
				}
				return nil
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, sources)
			}
			rows := make([][]string, len(sources))
			for i, ds := range sources {
				rows[i] = []string{ds.ID, ds.Name, ds.Type, ds.QueueName, fmt.Sprint(ds.ViewOnly), fmt.Sprint(ds.Paused)}
			}
			printTable(os.Stdout, []string{"id", "name", "type", "queue", "view_only", "paused"}, rows)
			return nil
		},
	}
}
