package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration profiles",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigSetProfileCmd())
	cmd.AddCommand(newConfigUseProfileCmd())
	cmd.AddCommand(newConfigDeleteProfileCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				return fmt.Errorf("no configuration at %s: %w", ConfigPath(), err)
			}
			if !reveal {
				cfg = maskConfig(cfg)
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, cfg)
			}
			printProfiles(cfg)
			return nil
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show sensitive values unmasked")

	return cmd
}

// maskConfig returns a copy of the config with sensitive fields masked.
func maskConfig(cfg *UserConfig) *UserConfig {
	masked := &UserConfig{
		CurrentProfile: cfg.CurrentProfile,
		Profiles:       make(map[string]Profile, len(cfg.Profiles)),
	}
	for name, p := range cfg.Profiles {
		masked.Profiles[name] = Profile{
			Host:   p.Host,
			APIKey: maskSecret(p.APIKey),
			Token:  maskSecret(p.Token),
			Output: p.Output,
		}
	}
	return masked
}

// maskSecret masks a sensitive string, showing first 4 and last 4 chars.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 10 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func printProfiles(cfg *UserConfig) {
	names := make([]string, 0, len(cfg.Profiles))
	for name := range cfg.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([][]string, len(names))
	for i, name := range names {
		p := cfg.Profiles[name]
		active := ""
		if name == cfg.CurrentProfile {
			active = "*"
		}
		rows[i] = []string{name, active, p.Host, p.APIKey, p.Token, p.Output}
	}
	printTable(os.Stdout, []string{"profile", "active", "host", "api_key", "token", "output"}, rows)
}

func newConfigSetProfileCmd() *cobra.Command {
	var (
		host          string
		apiKey        string
		token         string
		defaultOutput string
	)

	cmd := &cobra.Command{
		Use:   "set-profile <name>",
		Short: "Create or update a configuration profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			flags := cmd.Flags()
			if flags.Changed("default-output") {
				if err := validateOutputFormat(defaultOutput); err != nil {
					return err
				}
			}
			if flags.Changed("profile-host") {
				base, err := normalizeHost(host)
				if err != nil {
					return err
				}
				host = base
			}

			cfg, err := LoadUserConfig()
			if err != nil {
				cfg = emptyUserConfig()
			}
			p := cfg.Profiles[name]
			if flags.Changed("profile-host") {
				p.Host = host
			}
			if flags.Changed("profile-api-key") {
				p.APIKey = apiKey
			}
			if flags.Changed("profile-token") {
				p.Token = token
			}
			if flags.Changed("default-output") {
				p.Output = defaultOutput
			}
			cfg.Profiles[name] = p
			if cfg.CurrentProfile == "" {
				cfg.CurrentProfile = name
			}

			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			return printStatus(cmd, map[string]string{"profile": name, "path": ConfigPath()},
				"Profile %q saved to %s", name, ConfigPath())
		},
	}

	cmd.Flags().StringVar(&host, "profile-host", "", "Server URL stored in the profile")
	cmd.Flags().StringVar(&apiKey, "profile-api-key", "", "API key stored in the profile")
	cmd.Flags().StringVar(&token, "profile-token", "", "Bearer token stored in the profile")
	cmd.Flags().StringVar(&defaultOutput, "default-output", "", "Output format used when --output is not given")

	return cmd
}

func newConfigUseProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use-profile <name>",
		Short: "Set the active configuration profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				return fmt.Errorf("no config found: %w", err)
			}
			name := args[0]
			if _, ok := cfg.Profiles[name]; !ok {
				return fmt.Errorf("profile %q not found", name)
			}
			cfg.CurrentProfile = name
			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			return printStatus(cmd, map[string]string{"active_profile": name}, "Active profile set to %q", name)
		},
	}
}

func newConfigDeleteProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-profile <name>",
		Short: "Remove a configuration profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				return fmt.Errorf("no config found: %w", err)
			}
			name := args[0]
			if _, ok := cfg.Profiles[name]; !ok {
				return fmt.Errorf("profile %q not found", name)
			}
			delete(cfg.Profiles, name)
			if cfg.CurrentProfile == name {
				cfg.CurrentProfile = ""
			}
			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			return printStatus(cmd, map[string]string{"deleted_profile": name}, "Profile %q deleted", name)
		},
	}
}

// printStatus reports a successful config change as JSON fields plus
// "status": "ok", or as one line of text.
func printStatus(cmd *cobra.Command, fields map[string]string, format string, args ...any) error {
	if getOutputFormat(cmd) == "json" {
		out := map[string]string{"status": "ok"}
		for k, v := range fields {
			out[k] = v
		}
		return printJSON(os.Stdout, out)
	}
	_, err := fmt.Fprintf(os.Stdout, format+"\n", args...)
	return err
}
