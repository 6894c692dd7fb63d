package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/filipexyz/authpolicy/internal/cli/output"
	"github.com/filipexyz/authpolicy/pkg/client"
	"github.com/spf13/cobra"
)

var policiesCmd = &cobra.Command{
	Use:     "policies",
	Aliases: []string{"policy", "p"},
	Short:   "Manage auth policies",
}

var (
	listTypes    []string
	listStatuses []string
	listScope    string
	listTarget   string
	listSync     string
)

var policiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List policies",
	Long: `List policies, highest priority first.

Examples:
  policyctl policies list
  policyctl policies list --type mfa,session --status active
  policyctl policies list --target admin --jq '.policies[].id'`,
	Run: func(cmd *cobra.Command, args []string) {
		if !requireKey() {
			return
		}

		result, err := getClient().PolicyList(client.PolicyListOptions{
			Types:    listTypes,
			Statuses: listStatuses,
			Scope:    listScope,
			Target:   listTarget,
			Sync:     listSync,
		})
		if err != nil {
			fail("Failed to list policies", err)
		}

		if out.JSONMode() {
			out.JSON(result)
			return
		}

		if result.Count == 0 {
			out.Info("No policies found")
			return
		}

		tbl := output.NewTable("id", "name", "type", "status", "priority", "version", "rollout", "sync")
		for _, p := range result.Policies {
			tbl.Row(p.ID, p.Name, p.Type, p.Status, strconv.Itoa(p.Priority), strconv.Itoa(p.Version),
				fmt.Sprintf("%s %d%%", p.Rollout.Phase, p.Rollout.Percentage), p.Integration.SyncStatus)
		}
		out.Table(tbl)
	},
}

var policiesGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a policy",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !requireKey() {
			return
		}

		p, err := getClient().PolicyGet(args[0])
		if err != nil {
			fail("Failed to get policy", err)
		}
		printPolicy(p)
	},
}

var createFile string

var policiesCreateCmd = &cobra.Command{
	Use:   "create -f <file>",
	Short: "Create a draft policy from a YAML or JSON file",
	Long: `Create a draft policy. The file holds the draft: name, type, scope,
conditions, rules, priority and rollout.

Examples:
  policyctl policies create -f admin-mfa.yaml
  cat draft.json | policyctl policies create -f -`,
	Run: func(cmd *cobra.Command, args []string) {
		if !requireKey() {
			return
		}

		draft, err := readDocument(createFile)
		if err != nil {
			fail("Failed to read draft", err)
		}

		p, err := getClient().PolicyCreate(draft)
		if err != nil {
			fail("Failed to create policy", err)
		}

		if out.JSONMode() {
			out.JSON(p)
			return
		}
		out.Success("Created policy %s (version %d, %s)", p.ID, p.Version, p.Status)
	},
}

var (
	updateFile    string
	updateVersion int
	updateReason  string
)

var policiesUpdateCmd = &cobra.Command{
	Use:   "update <id> -f <file>",
	Short: "Commit changes to a policy",
	Long: `Apply the fields in the file to a policy and record a new version.

Without --version the current version is fetched first, so a concurrent
edit between the two calls is still rejected by the server.

Examples:
  policyctl policies update pol_123 -f changes.yaml --reason "raise priority"
  policyctl policies update pol_123 -f changes.json --version 4`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !requireKey() {
			return
		}

		changes, err := readDocument(updateFile)
		if err != nil {
			fail("Failed to read changes", err)
		}

		c := getClient()
		version := updateVersion
		if version == 0 {
			current, err := c.PolicyGet(args[0])
			if err != nil {
				fail("Failed to get policy", err)
			}
			version = current.Version
		}

		p, err := c.PolicyUpdate(args[0], client.CommitRequest{Version: version, Changes: changes, Reason: updateReason})
		if err != nil {
			var apiErr *client.APIError
			if client.IsConflict(err) && errors.As(err, &apiErr) && apiErr.CurrentVersion > 0 {
				fail("Policy changed concurrently", fmt.Errorf("%w (current version %d)", err, apiErr.CurrentVersion))
			}
			fail("Failed to update policy", err)
		}

		if out.JSONMode() {
			out.JSON(p)
			return
		}
		out.Success("Updated policy %s to version %d", p.ID, p.Version)
	},
}

var transitionReason string

func transitionCmd(use, status, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if !requireKey() {
				return
			}

			p, err := getClient().PolicyTransition(args[0], status, transitionReason)
			if err != nil {
				fail("Failed to "+use+" policy", err)
			}

			if out.JSONMode() {
				out.JSON(p)
				return
			}
			out.Success("Policy %s is now %s", p.ID, out.Colors().Value(p.Status))
		},
	}
}

var policiesHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show a policy's version history",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !requireKey() {
			return
		}

		versions, err := getClient().PolicyVersions(args[0])
		if err != nil {
			fail("Failed to get history", err)
		}

		if out.JSONMode() {
			out.JSON(versions)
			return
		}

		tbl := output.NewTable("version", "author", "when", "fields", "summary")
		for _, v := range versions {
			tbl.Row(strconv.Itoa(v.Version), v.Author, v.CreatedAt.Format("2006-01-02 15:04:05"),
				strings.Join(v.ChangedFields, ","), v.Summary)
		}
		out.Table(tbl)
	},
}

func printPolicy(p *client.Policy) {
	if out.JSONMode() {
		out.JSON(p)
		return
	}

	colors := out.Colors()
	out.Header(p.Name)
	out.KeyValue("ID", p.ID)
	out.KeyValue("Type", p.Type)
	out.KeyValue("Status", colors.Value(p.Status))
	out.KeyValue("Version", strconv.Itoa(p.Version))
	out.KeyValue("Priority", strconv.Itoa(p.Priority))
	scope := p.Scope.Kind
	if len(p.Scope.Targets) > 0 {
		scope += " " + strings.Join(p.Scope.Targets, ",")
	}
	if len(p.Scope.Exclusions) > 0 {
		scope += " (except " + strings.Join(p.Scope.Exclusions, ",") + ")"
	}
	out.KeyValue("Scope", scope)
	out.KeyValue("Rollout", fmt.Sprintf("%s %d%%", p.Rollout.Phase, p.Rollout.Percentage))
	out.KeyValue("Sync", colors.Value(p.Integration.SyncStatus))
	if p.Integration.SyncError != "" {
		out.KeyValue("Sync error", p.Integration.SyncError)
	}
	out.KeyValue("Conditions", strconv.Itoa(len(p.Conditions)))
	out.KeyValue("Rules", string(p.Rules))
	s := p.Statistics
	out.KeyValue("Applied", fmt.Sprintf("%d (denied %d, challenged %d, errors %d)", s.Applied, s.Denied, s.Challenged, s.Errors))
	out.KeyValue("Updated", p.UpdatedAt.Format("2006-01-02 15:04:05"))

	if len(p.Conflicts) > 0 {
		out.Divider()
		out.Warn("%d conflict(s)", len(p.Conflicts))
		for _, c := range p.Conflicts {
			out.KeyValue(colors.Value(c.Severity), fmt.Sprintf("%s with %s: %s", c.Kind, c.OtherPolicyID, c.Description))
		}
	}
}

func init() {
	policiesListCmd.Flags().StringSliceVar(&listTypes, "type", nil, "filter by policy type (repeatable or comma separated)")
	policiesListCmd.Flags().StringSliceVar(&listStatuses, "status", nil, "filter by status (repeatable or comma separated)")
	policiesListCmd.Flags().StringVar(&listScope, "scope", "", "filter by scope kind")
	policiesListCmd.Flags().StringVar(&listTarget, "target", "", "filter by scope target")
	policiesListCmd.Flags().StringVar(&listSync, "sync", "", "filter by sync status (pending, synced, error)")

	policiesCreateCmd.Flags().StringVarP(&createFile, "file", "f", "", "draft file (YAML or JSON, - for stdin)")
	policiesCreateCmd.MarkFlagRequired("file")

	policiesUpdateCmd.Flags().StringVarP(&updateFile, "file", "f", "", "changes file (YAML or JSON, - for stdin)")
	policiesUpdateCmd.Flags().IntVar(&updateVersion, "version", 0, "expected current version (default: fetch it)")
	policiesUpdateCmd.Flags().StringVar(&updateReason, "reason", "", "reason recorded in the audit log")
	policiesUpdateCmd.MarkFlagRequired("file")

	transitions := []*cobra.Command{
		transitionCmd("activate", "active", "Activate a policy"),
		transitionCmd("deactivate", "inactive", "Deactivate a policy"),
		transitionCmd("archive", "archived", "Archive a policy"),
	}
	for _, c := range transitions {
		c.Flags().StringVar(&transitionReason, "reason", "", "reason recorded in the audit log")
		policiesCmd.AddCommand(c)
	}

	policiesCmd.AddCommand(policiesListCmd, policiesGetCmd, policiesCreateCmd, policiesUpdateCmd, policiesHistoryCmd)
	rootCmd.AddCommand(policiesCmd)
}
