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
	"net/url"

	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	policiesTenant string

	promoteActorID   string
	promoteActorRole string
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var policiesCmd = &cobra.Command{
	Use:   "policies [policy-id]",
	Short: "List policies for a tenant, or get one by id",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPoliciesCommand,
}

// promoteCmd advances a policy one forward edge: SHADOW to PENDING,
// or PENDING to ACTIVE. There is no command for the backward edge;
// only the graduation evaluator degrades.
var promoteCmd = &cobra.Command{
	Use:   "promote <policy-id>",
	Short: "Advance a policy one lifecycle step",
	Long: `Advances a policy one forward lifecycle edge.

SHADOW to PENDING requires the observation period to have elapsed with
no false positives. PENDING to ACTIVE requires the approval capability
and a confidence score at or above the activation threshold.

Example:
  governctl promote pol-456 --actor-id jri --actor-role governor`,
	Args: cobra.ExactArgs(1),
	RunE: runPromoteCommand,
}

var scoreCmd = &cobra.Command{
	Use:   "score <policy-id>",
	Short: "Show a policy's confidence and regret",
	Args:  cobra.ExactArgs(1),
	RunE:  runScoreCommand,
}

var graduationCmd = &cobra.Command{
	Use:   "graduation <scope>",
	Short: "Show the graduation snapshot for a tenant or 'global'",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraduationCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	policiesCmd.Flags().StringVar(&policiesTenant, "tenant", "", "Tenant ID (required for listing)")

	promoteCmd.Flags().StringVar(&promoteActorID, "actor-id", "", "Actor ID (required)")
	promoteCmd.Flags().StringVar(&promoteActorRole, "actor-role", "governor", "Actor role")
	promoteCmd.MarkFlagRequired("actor-id")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runPoliciesCommand(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = "/v1/governance/policies/" + url.PathEscape(args[0])
	} else {
		path = "/v1/governance/policies?tenant_id=" + url.QueryEscape(policiesTenant)
	}
	var resp any
	if err := doRequest("GET", path, nil, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}

func runPromoteCommand(cmd *cobra.Command, args []string) error {
	req := map[string]any{
		"actor": map[string]any{
			"id":   promoteActorID,
			"role": promoteActorRole,
		},
	}
	var resp map[string]any
	path := "/v1/governance/policies/" + url.PathEscape(args[0]) + "/promote"
	if err := doRequest("POST", path, req, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}

func runScoreCommand(cmd *cobra.Command, args []string) error {
	var resp map[string]any
	path := "/v1/governance/policies/" + url.PathEscape(args[0]) + "/score"
	if err := doRequest("GET", path, nil, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}

func runGraduationCommand(cmd *cobra.Command, args []string) error {
	var resp map[string]any
	path := "/v1/governance/graduation/" + url.PathEscape(args[0])
	if err := doRequest("GET", path, nil, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}
