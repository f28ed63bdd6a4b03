// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	proposalsTenant string

	proposeTenant    string
	proposeFeature   string
	proposeSignature string

	decideOutcome   string
	decideActorID   string
	decideActorRole string
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var proposalsCmd = &cobra.Command{
	Use:   "proposals",
	Short: "List policy proposals for a tenant",
	RunE:  runProposalsCommand,
}

// proposeCmd forces proposal generation for a key. Normally the
// evidence threshold drafts proposals automatically; this is the
// manual path for keys an operator already knows are hot.
var proposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Generate a draft proposal for an enforcement key",
	Long: `Generates a draft proposal when the key's incident evidence
clears the threshold. Fails with INSUFFICIENT_EVIDENCE otherwise.

Example:
  governctl propose --tenant acme --feature checkout/payment \
    --signature timeout:checkout/payment:payment_timeout`,
	RunE: runProposeCommand,
}

// decideCmd records the human decision on a proposal. This is the
// ratification gate: no policy exists until someone with the approval
// capability says so.
var decideCmd = &cobra.Command{
	Use:   "decide <proposal-id>",
	Short: "Approve or reject a policy proposal",
	Long: `Records a human decision on a draft proposal.

Approval atomically creates a SHADOW policy; rejection closes the
proposal without creating anything. Either way the proposal becomes
immutable.

Example:
  governctl decide prop-123 --outcome approved --actor-id jri --actor-role governor`,
	Args: cobra.ExactArgs(1),
	RunE: runDecideCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	proposalsCmd.Flags().StringVar(&proposalsTenant, "tenant", "", "Tenant ID (required)")
	proposalsCmd.MarkFlagRequired("tenant")

	proposeCmd.Flags().StringVar(&proposeTenant, "tenant", "", "Tenant ID (required)")
	proposeCmd.Flags().StringVar(&proposeFeature, "feature", "", "Feature path (required)")
	proposeCmd.Flags().StringVar(&proposeSignature, "signature", "", "Pattern signature (required)")
	proposeCmd.MarkFlagRequired("tenant")
	proposeCmd.MarkFlagRequired("feature")
	proposeCmd.MarkFlagRequired("signature")

	decideCmd.Flags().StringVar(&decideOutcome, "outcome", "", "Decision: approved or rejected (required)")
	decideCmd.Flags().StringVar(&decideActorID, "actor-id", "", "Actor ID (required)")
	decideCmd.Flags().StringVar(&decideActorRole, "actor-role", "governor", "Actor role")
	decideCmd.MarkFlagRequired("outcome")
	decideCmd.MarkFlagRequired("actor-id")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runProposalsCommand(cmd *cobra.Command, args []string) error {
	path := "/v1/governance/proposals?tenant_id=" + url.QueryEscape(proposalsTenant)
	var resp any
	if err := doRequest("GET", path, nil, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}

func runProposeCommand(cmd *cobra.Command, args []string) error {
	req := map[string]any{
		"tenant_id":         proposeTenant,
		"feature_path":      proposeFeature,
		"pattern_signature": proposeSignature,
	}
	var resp map[string]any
	if err := doRequest("POST", "/v1/governance/proposals", req, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}

func runDecideCommand(cmd *cobra.Command, args []string) error {
	if decideOutcome != "approved" && decideOutcome != "rejected" {
		return fmt.Errorf("outcome must be approved or rejected, got %q", decideOutcome)
	}
	req := map[string]any{
		"outcome": decideOutcome,
		"actor": map[string]any{
			"id":   decideActorID,
			"role": decideActorRole,
		},
	}
	var resp map[string]any
	path := "/v1/governance/proposals/" + url.PathEscape(args[0]) + "/decide"
	if err := doRequest("POST", path, req, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}
