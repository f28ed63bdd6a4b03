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
	resolveActor string

	flagShadowObservation string
	flagShadowActor       string
	flagShadowReason      string
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

// resolveCmd closes an open incident.
var resolveCmd = &cobra.Command{
	Use:   "resolve <incident-id>",
	Short: "Mark an incident as resolved",
	Long: `Marks an open incident as resolved.

Resolution is the bookkeeping end of an incident's life: the failure
class is either remediated or covered by an active policy. Resolving
an already-resolved incident is a no-op.

Example:
  governctl resolve inc-123 --actor jri`,
	Args: cobra.ExactArgs(1),
	RunE: runResolveCommand,
}

// shadowCmd lists a policy's shadow-phase observations so an operator
// can review which requests the policy would have blocked.
var shadowCmd = &cobra.Command{
	Use:   "shadow <policy-id>",
	Short: "List a policy's shadow observations",
	Args:  cobra.ExactArgs(1),
	RunE:  runShadowCommand,
}

// flagShadowCmd marks a shadow observation as a false positive,
// holding the policy in SHADOW until the record ages out.
var flagShadowCmd = &cobra.Command{
	Use:   "flag-shadow <policy-id>",
	Short: "Flag a shadow observation as a false positive",
	Long: `Flags a shadow-phase observation as a false positive.

A SHADOW policy records would-have-blocked observations without
enforcing anything; this command is how a reviewer reports that one of
those blocks would have hit a legitimate request. A flagged
observation keeps the policy from advancing to PENDING.

Example:
  governctl flag-shadow pol-456 --observation obs-789 \
    --actor jri --reason "legitimate retry traffic"`,
	Args: cobra.ExactArgs(1),
	RunE: runFlagShadowCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	resolveCmd.Flags().StringVar(&resolveActor, "actor", "", "Actor ID (required)")
	resolveCmd.MarkFlagRequired("actor")

	flagShadowCmd.Flags().StringVar(&flagShadowObservation, "observation", "",
		"Shadow observation ID (required)")
	flagShadowCmd.Flags().StringVar(&flagShadowActor, "actor", "", "Actor ID (required)")
	flagShadowCmd.Flags().StringVar(&flagShadowReason, "reason", "",
		"Why the block would have been wrong")
	flagShadowCmd.MarkFlagRequired("observation")
	flagShadowCmd.MarkFlagRequired("actor")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runResolveCommand(cmd *cobra.Command, args []string) error {
	req := map[string]any{"actor_id": resolveActor}
	var resp map[string]any
	path := "/v1/governance/incidents/" + url.PathEscape(args[0]) + "/resolve"
	if err := doRequest("POST", path, req, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}

func runShadowCommand(cmd *cobra.Command, args []string) error {
	var resp map[string]any
	path := "/v1/governance/policies/" + url.PathEscape(args[0]) + "/shadow"
	if err := doRequest("GET", path, nil, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}

func runFlagShadowCommand(cmd *cobra.Command, args []string) error {
	req := map[string]any{
		"observation_id": flagShadowObservation,
		"actor_id":       flagShadowActor,
		"reason":         flagShadowReason,
	}
	var resp map[string]any
	path := "/v1/governance/policies/" + url.PathEscape(args[0]) + "/shadow/flag"
	if err := doRequest("POST", path, req, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}
