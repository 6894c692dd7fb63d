package cmd

import (
	"os"
	"sort"

	"github.com/spf13/cobra"
)

var healthReady bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	Long: `Check the health status of the authpolicy server.

With --ready, also report each dependency (database, cache, broker).`,
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()

		health, err := c.Health()
		if err != nil {
			if out.JSONMode() {
				out.JSON(map[string]any{
					"status": "error",
					"error":  err.Error(),
				})
			} else {
				out.Error("Server unreachable: %v", err)
			}
			os.Exit(1)
		}

		if !healthReady {
			if out.JSONMode() {
				out.JSON(health)
				return
			}
			out.Success("Server is healthy")
			out.KeyValue("Status", health.Status)
			return
		}

		checks, err := c.Ready()
		if out.JSONMode() {
			out.JSON(checks)
		} else {
			names := make([]string, 0, len(checks))
			for name := range checks {
				names = append(names, name)
			}
			sort.Strings(names)
			if err == nil {
				out.Success("Server is ready")
			} else {
				out.Warn("Server is not ready")
			}
			for _, name := range names {
				out.KeyValue(name, checks[name])
			}
		}
		if err != nil {
			os.Exit(1)
		}
	},
}

func init() {
	healthCmd.Flags().BoolVar(&healthReady, "ready", false, "check dependency readiness")
	rootCmd.AddCommand(healthCmd)
}
