package cmd

import (
	"strings"

	"github.com/filipexyz/authpolicy/internal/cli/output"
	"github.com/filipexyz/authpolicy/pkg/client"
	"github.com/spf13/cobra"
)

var conflictOpts client.ConflictQueryOptions

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Detect conflicts among active policies",
	Long: `Recompute conflicts between active policies with overlapping scopes.

Examples:
  policyctl conflicts
  policyctl conflicts --type password --target admin`,
	Run: func(cmd *cobra.Command, args []string) {
		if !requireKey() {
			return
		}

		conflicts, err := getClient().Conflicts(conflictOpts)
		if err != nil {
			fail("Failed to list conflicts", err)
		}

		if out.JSONMode() {
			out.JSON(map[string]any{"conflicts": conflicts, "count": len(conflicts)})
			return
		}

		if len(conflicts) == 0 {
			out.Success("No conflicts")
			return
		}

		tbl := output.NewTable("severity", "kind", "policy", "other", "targets", "description")
		for _, c := range conflicts {
			tbl.Row(c.Severity, c.Kind, c.PolicyID, c.OtherPolicyID, strings.Join(c.Targets, ","), c.Description)
		}
		out.Table(tbl)
	},
}

func init() {
	conflictsCmd.Flags().StringVar(&conflictOpts.Type, "type", "", "only policies of this type")
	conflictsCmd.Flags().StringVar(&conflictOpts.Scope, "scope", "", "only policies with this scope kind")
	conflictsCmd.Flags().StringVar(&conflictOpts.Target, "target", "", "only policies covering this target")

	rootCmd.AddCommand(conflictsCmd)
}
