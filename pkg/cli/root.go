package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" || (output == "" && !stdoutIsTerminal()) {
			_ = printJSON(os.Stdout, errorPayload(err))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// errorPayload is the machine-readable form of a failed command.
func errorPayload(err error) map[string]any {
	out := map[string]any{"error": err.Error()}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		out["http_status"] = apiErr.HTTPStatus
		if apiErr.Code != 0 {
			out["code"] = apiErr.Code
		}
		if apiErr.Job != nil {
			out["job"] = apiErr.Job
		}
	}
	return out
}

func newRootCmd() *cobra.Command {
	var (
		host    string
		apiKey  string
		token   string
		output  string
		profile string
		quiet   bool
	)

	client := NewClient(host, apiKey, token)

	rootCmd := &cobra.Command{
		Use:           "querydesk",
		Short:         "querydesk CLI",
		Long:          "Command-line interface for submitting queries to a querydesk server and reading their results.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				// The config file is optional.
				cfg = emptyUserConfig()
			}
			p, err := cfg.ActiveProfile(profile)
			if err != nil {
				return err
			}

			// Precedence: flag > env > profile > default.
			resolve(cmd, "host", &host, "QUERYDESK_HOST", p.Host)
			resolve(cmd, "api-key", &apiKey, "QUERYDESK_API_KEY", p.APIKey)
			resolve(cmd, "token", &token, "QUERYDESK_TOKEN", p.Token)
			resolve(cmd, "output", &output, "QUERYDESK_OUTPUT", p.Output)

			if err := validateOutputFormat(output); err != nil {
				return err
			}
			base, err := normalizeHost(host)
			if err != nil {
				return err
			}

			resolved := NewClient(base, apiKey, token)
			*client = *resolved
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&host, "host", "http://localhost:8080", "API host URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authentication")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "JWT token for authentication")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "", "Output format (table, json); defaults to table on a terminal")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "Config profile to use")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only output identifiers")

	rootCmd.AddCommand(newSubmitCmd(client))
	rootCmd.AddCommand(newRunCmd(client))
	rootCmd.AddCommand(newRefreshCmd(client))
	rootCmd.AddCommand(newResultCmd(client))
	rootCmd.AddCommand(newJobCmd(client))
	rootCmd.AddCommand(newQueueStatusCmd(client))
	rootCmd.AddCommand(newDataSourcesCmd(client))
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

// resolve fills *dst from the environment or the profile unless the flag was
// set explicitly.
func resolve(cmd *cobra.Command, flag string, dst *string, env, profileValue string) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v := os.Getenv(env); v != "" {
		*dst = v
	} else if profileValue != "" {
		*dst = profileValue
	}
}

func isQuiet(cmd *cobra.Command) bool {
	q, _ := cmd.Root().PersistentFlags().GetBool("quiet")
	return q
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
}
