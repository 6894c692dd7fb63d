package cmd

import (
	"fmt"
	"os"

	"github.com/filipexyz/authpolicy/internal/cli/config"
	"github.com/filipexyz/authpolicy/internal/cli/output"
	"github.com/filipexyz/authpolicy/pkg/client"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	serverURL  string
	jsonOutput bool
	jqFilter   string
	cfg        *config.Config
	out        *output.Output
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "policyctl",
	Short: "CLI for the authpolicy server",
	Long:  `policyctl manages authentication policies: authoring, lifecycle, evaluation, conflicts and audit.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		out = output.New(jsonOutput)
		if jqFilter != "" {
			if err := out.SetFilter(jqFilter); err != nil {
				return fmt.Errorf("invalid jq filter: %w", err)
			}
		}

		var err error
		cfg, err = config.Resolve(cfgFile)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}

		// Server URL priority: flag > environment > config > default
		if serverURL == "" && cfg.Server != "" {
			serverURL = cfg.Server
		}
		if serverURL == "" {
			serverURL = client.DefaultServer
		}
		return nil
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.authpolicy/config.json; AUTHPOLICY_API_KEY and AUTHPOLICY_SERVER override it)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&jqFilter, "jq", "", "filter JSON output with a jq expression (implies --json)")
}

// getClient creates a client with current config.
func getClient() *client.Client {
	return client.New(cfg.APIKey, client.WithServer(serverURL))
}

// requireKey reports a missing API key and returns false.
func requireKey() bool {
	if cfg.APIKey == "" {
		out.Error("No API key configured. Run 'policyctl auth <key>' first.")
		return false
	}
	return true
}

// fail prints err the way the API reported it and exits non-zero.
func fail(action string, err error) {
	if out.JSONMode() {
		out.JSON(map[string]any{"error": err.Error()})
	} else {
		out.Error("%s: %v", action, err)
	}
	os.Exit(1)
}
