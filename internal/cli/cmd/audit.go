package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/filipexyz/authpolicy/pkg/client"
	"github.com/spf13/cobra"
)

var (
	auditPolicy string
	auditAction string
	auditSince  string
	auditLimit  int
	auditFollow bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit log",
	Long: `View audit log entries for policy changes, oldest first.

Examples:
  policyctl audit
  policyctl audit --policy pol_123 --since 24h
  policyctl audit --action policy.activated --limit 10
  policyctl audit --follow --action policy.archived`,
	Run: func(cmd *cobra.Command, args []string) {
		if !requireKey() {
			return
		}

		if auditFollow {
			followAudit()
			return
		}

		result, err := getClient().AuditList(client.AuditQueryOptions{
			Policy: auditPolicy,
			Action: auditAction,
			Since:  auditSince,
			Limit:  auditLimit,
		})
		if err != nil {
			fail("Failed to query audit log", err)
		}

		if out.JSONMode() {
			out.JSON(result.Entries)
			return
		}

		if result.Count == 0 {
			out.Info("No audit entries found")
			return
		}

		out.Header("Audit Log")
		out.Divider()
		for i := range result.Entries {
			printAuditEntry(&result.Entries[i])
			out.Divider()
		}
	},
}

func followAudit() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := client.WatchOptions{}
	if auditPolicy != "" {
		opts.PolicyIDs = []string{auditPolicy}
	}
	if auditAction != "" {
		opts.Actions = []string{auditAction}
	}

	w, err := getClient().Watch(ctx, opts)
	if err != nil {
		fail("Failed to connect to audit feed", err)
	}
	defer w.Close()

	if !out.JSONMode() {
		out.Info("Waiting for audit entries... (Ctrl+C to exit)")
		out.Divider()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case e, ok := <-w.Entries():
			if !ok {
				return
			}
			if out.JSONMode() {
				out.Line(e)
				continue
			}
			printAuditEntry(e)
			out.Divider()

		case err := <-w.Errors():
			// The watch reconnects on its own
			if _, ok := err.(*client.ReconnectedError); ok {
				out.Success("Reconnected")
			} else {
				out.Warn("Connection error: %v", err)
			}

		case <-sigCh:
			if !out.JSONMode() {
				out.Info("Disconnecting...")
			}
			return
		}
	}
}

func printAuditEntry(e *client.AuditEntry) {
	colors := out.Colors()
	transition := colors.Value(e.ToStatus)
	if e.FromStatus != "" && e.FromStatus != e.ToStatus {
		transition = colors.Value(e.FromStatus) + " → " + transition
	}
	out.Info("%s  %s  %s v%d  %s", e.Timestamp.Format("2006-01-02 15:04:05"), e.Action, e.PolicyID, e.Version, transition)
	out.KeyValue("Actor", e.Metadata.Actor)
	if e.Metadata.Reason != "" {
		out.KeyValue("Reason", e.Metadata.Reason)
	}
	if e.Metadata.IP != "" {
		out.KeyValue("IP", e.Metadata.IP)
	}
	if e.Metadata.RequestID != "" {
		out.KeyValue("Request", e.Metadata.RequestID)
	}
	for field, after := range e.After {
		before := "∅"
		if b, ok := e.Before[field]; ok {
			before = string(b)
		}
		out.KeyValue("  "+field, before+" → "+string(after))
	}
}

func init() {
	auditCmd.Flags().StringVar(&auditPolicy, "policy", "", "filter by policy ID")
	auditCmd.Flags().StringVar(&auditAction, "action", "", "filter by action (e.g. policy.activated)")
	auditCmd.Flags().StringVar(&auditSince, "since", "", "entries since a duration (e.g. 1h) or RFC3339 time")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum number of entries to return")
	auditCmd.Flags().BoolVarP(&auditFollow, "follow", "F", false, "stream new entries over the live feed")

	rootCmd.AddCommand(auditCmd)
}
