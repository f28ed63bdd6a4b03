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
	"strings"

	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	failureTenant  string
	failureFeature string
	failureShape   string

	checkTenant     string
	checkFeature    string
	checkSignature  string
	checkRequestRef string
	checkAttrs      []string

	overrideReason string
	overrideActor  string
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

// failureCmd submits a failure event, primarily for exercising a
// deployment by hand. Production traffic reports failures through the
// API directly.
var failureCmd = &cobra.Command{
	Use:   "failure",
	Short: "Submit a failure event",
	Long: `Submits a failure event to the governance server.

The server matches the error shape to a pattern signature and either
records a prevention (an ACTIVE policy blocked it), a shadow
observation, or a new incident. Crossing the evidence threshold also
drafts a policy proposal.

Example:
  governctl failure --tenant acme --feature checkout/payment \
    --shape "payment timeout after 30s"`,
	RunE: runFailureCommand,
}

// checkCmd runs an inline enforcement check.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run an inline enforcement check",
	Long: `Asks the server whether a request matching the given pattern
signature would be allowed or blocked.

Example:
  governctl check --tenant acme --feature checkout/payment \
    --signature timeout:checkout/payment:payment_timeout --ref req-1 \
    --attr region=us-east-1`,
	RunE: runCheckCommand,
}

// overrideCmd records that a block was later judged incorrect.
var overrideCmd = &cobra.Command{
	Use:   "override <prevention-id>",
	Short: "Record a manual override of a prevention",
	Long: `Records that a blocked request was manually allowed through.

Overrides are the regret signal: they count against the blocking
policy's confidence and can pull it back to SHADOW.

Example:
  governctl override prev-123 --reason "false positive on retry" --actor jri`,
	Args: cobra.ExactArgs(1),
	RunE: runOverrideCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	failureCmd.Flags().StringVar(&failureTenant, "tenant", "", "Tenant ID (required)")
	failureCmd.Flags().StringVar(&failureFeature, "feature", "", "Feature path (required)")
	failureCmd.Flags().StringVar(&failureShape, "shape", "", "Raw error shape (required)")
	failureCmd.MarkFlagRequired("tenant")
	failureCmd.MarkFlagRequired("feature")
	failureCmd.MarkFlagRequired("shape")

	checkCmd.Flags().StringVar(&checkTenant, "tenant", "", "Tenant ID (required)")
	checkCmd.Flags().StringVar(&checkFeature, "feature", "", "Feature path (required)")
	checkCmd.Flags().StringVar(&checkSignature, "signature", "", "Pattern signature (required)")
	checkCmd.Flags().StringVar(&checkRequestRef, "ref", "", "Request reference (required)")
	checkCmd.Flags().StringArrayVar(&checkAttrs, "attr", nil,
		"Request attribute as key=value (repeatable)")
	checkCmd.MarkFlagRequired("tenant")
	checkCmd.MarkFlagRequired("feature")
	checkCmd.MarkFlagRequired("signature")
	checkCmd.MarkFlagRequired("ref")

	overrideCmd.Flags().StringVar(&overrideReason, "reason", "", "Why the block was wrong (required)")
	overrideCmd.Flags().StringVar(&overrideActor, "actor", "", "Actor ID (required)")
	overrideCmd.MarkFlagRequired("reason")
	overrideCmd.MarkFlagRequired("actor")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runFailureCommand(cmd *cobra.Command, args []string) error {
	req := map[string]any{
		"tenant_id":    failureTenant,
		"feature_path": failureFeature,
		"error_shape":  failureShape,
	}
	var resp map[string]any
	if err := doRequest("POST", "/v1/governance/failures", req, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}

func runCheckCommand(cmd *cobra.Command, args []string) error {
	attrs, err := parseAttrs(checkAttrs)
	if err != nil {
		return err
	}
	req := map[string]any{
		"tenant_id":         checkTenant,
		"feature_path":      checkFeature,
		"pattern_signature": checkSignature,
		"request_ref":       checkRequestRef,
		"attributes":        attrs,
	}
	var resp map[string]any
	if err := doRequest("POST", "/v1/governance/check", req, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}

func runOverrideCommand(cmd *cobra.Command, args []string) error {
	req := map[string]any{
		"prevention_id": args[0],
		"reason":        overrideReason,
		"actor_id":      overrideActor,
	}
	var resp map[string]any
	if err := doRequest("POST", "/v1/governance/overrides", req, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}

// parseAttrs turns key=value pairs into an attribute map.
func parseAttrs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	attrs := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid attribute %q, expected key=value", pair)
		}
		attrs[key] = value
	}
	return attrs, nil
}
