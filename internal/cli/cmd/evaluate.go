package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/filipexyz/authpolicy/internal/cli/output"
	"github.com/filipexyz/authpolicy/pkg/client"
	"github.com/spf13/cobra"
)

var (
	evalFile      string
	evalSubject   string
	evalRoles     []string
	evalGroups    []string
	evalIP        string
	evalCountry   string
	evalDevice    string
	evalRiskLevel string
	evalRiskScore int
	evalAt        string
	evalTypes     []string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate policies for a subject and request context",
	Long: `Ask the server which outcome (allow, challenge or deny) applies.

Examples:
  policyctl evaluate --subject u1 --role admin --ip 203.0.113.7
  policyctl evaluate --subject u1 --type mfa --country BR --at 2026-01-05T03:00:00Z
  policyctl evaluate -f request.yaml --jq .outcome`,
	Run: func(cmd *cobra.Command, args []string) {
		if !requireKey() {
			return
		}

		req, err := buildEvaluateRequest()
		if err != nil {
			fail("Invalid request", err)
		}

		res, err := getClient().Evaluate(req)
		if err != nil {
			fail("Failed to evaluate", err)
		}

		if out.JSONMode() {
			out.JSON(res)
			return
		}

		colors := out.Colors()
		out.Header("Outcome: " + colors.Value(res.Outcome))
		tbl := output.NewTable("type", "outcome", "policy", "version", "reason")
		for _, r := range res.Results {
			policy := r.PolicyName
			if policy == "" {
				policy = "-"
			}
			reason := r.Reason
			if r.Error != "" {
				reason += " (" + r.Error + ")"
			}
			version := "-"
			if r.Version > 0 {
				version = fmt.Sprint(r.Version)
			}
			tbl.Row(r.Type, r.Outcome, policy, version, reason)
		}
		out.Table(tbl)
	},
}

func buildEvaluateRequest() (client.EvaluateRequest, error) {
	var req client.EvaluateRequest
	if evalFile != "" {
		doc, err := readDocument(evalFile)
		if err != nil {
			return req, err
		}
		if err := json.Unmarshal(doc, &req); err != nil {
			return req, err
		}
	}

	// Flags override the file.
	if evalSubject != "" {
		req.Subject.ID = evalSubject
	}
	if len(evalRoles) > 0 {
		req.Subject.Roles = evalRoles
	}
	if len(evalGroups) > 0 {
		req.Subject.Groups = evalGroups
	}
	if evalIP != "" {
		req.Context.IP = evalIP
	}
	if evalCountry != "" {
		req.Context.Country = evalCountry
	}
	if evalDevice != "" {
		req.Context.DeviceType = evalDevice
	}
	if evalRiskLevel != "" {
		req.Context.RiskLevel = evalRiskLevel
	}
	if evalRiskScore > 0 {
		req.Context.RiskScore = evalRiskScore
	}
	if evalAt != "" {
		t, err := time.Parse(time.RFC3339, evalAt)
		if err != nil {
			return req, fmt.Errorf("--at: %w", err)
		}
		req.Context.Time = &t
	}
	if len(evalTypes) > 0 {
		req.Types = evalTypes
	}

	if req.Subject.ID == "" {
		return req, fmt.Errorf("a subject is required (--subject or file)")
	}
	return req, nil
}

func init() {
	evaluateCmd.Flags().StringVarP(&evalFile, "file", "f", "", "request file (YAML or JSON, - for stdin)")
	evaluateCmd.Flags().StringVar(&evalSubject, "subject", "", "subject ID")
	evaluateCmd.Flags().StringSliceVar(&evalRoles, "role", nil, "subject role (repeatable)")
	evaluateCmd.Flags().StringSliceVar(&evalGroups, "group", nil, "subject group (repeatable)")
	evaluateCmd.Flags().StringVar(&evalIP, "ip", "", "request IP address")
	evaluateCmd.Flags().StringVar(&evalCountry, "country", "", "request country code")
	evaluateCmd.Flags().StringVar(&evalDevice, "device", "", "device type")
	evaluateCmd.Flags().StringVar(&evalRiskLevel, "risk-level", "", "risk level (low, medium, high, critical)")
	evaluateCmd.Flags().IntVar(&evalRiskScore, "risk-score", 0, "risk score 0-100")
	evaluateCmd.Flags().StringVar(&evalAt, "at", "", "evaluate as of this RFC3339 time")
	evaluateCmd.Flags().StringSliceVar(&evalTypes, "type", nil, "policy types to evaluate (default: all)")

	rootCmd.AddCommand(evaluateCmd)
}
