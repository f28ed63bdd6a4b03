// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scoring computes confidence and regret for policies.
//
// The score is a pure function of historical prevention records and
// override data: deterministic, replayable, no hidden state. It gates
// promotion and triggers automatic degrade, so the same inputs must
// always yield the same outputs.
package scoring

import (
	"context"
	"math"

	"github.com/AleutianAI/AleutianGuard/services/governance/store"
)

// Outcome is the scored result for a policy.
type Outcome struct {
	// Confidence rises monotonically with true-positive preventions
	// and falls with false positives. Range [0.0, 1.0].
	Confidence float64 `json:"confidence"`

	// Regret is the fraction of blocks later judged incorrect.
	// Range [0.0, 1.0].
	Regret float64 `json:"regret"`

	// TruePositives is the count of blocks never overridden.
	TruePositives int `json:"true_positives"`

	// FalsePositives is the count of blocks judged incorrect.
	FalsePositives int `json:"false_positives"`

	// TotalBlocks is the total prevention record count.
	TotalBlocks int `json:"total_blocks"`
}

// CalculatorConfig configures the scoring function.
type CalculatorConfig struct {
	// PriorWeight is the symmetric pseudo-count anchoring early
	// confidence. A policy with no block history scores exactly 0.5;
	// clean blocks pull it up, overridden blocks pull it down, and a
	// single block in either direction moves it only a little.
	PriorWeight float64

	// RegretPenalty scales how hard regret pulls confidence down.
	RegretPenalty float64
}

// DefaultCalculatorConfig returns sensible defaults.
func DefaultCalculatorConfig() CalculatorConfig {
	return CalculatorConfig{
		PriorWeight:   3.0,
		RegretPenalty: 1.0,
	}
}

// Calculator scores policies from their outcome history.
//
// # Thread Safety
//
// Safe for concurrent use; all state lives in the store.
type Calculator struct {
	config CalculatorConfig
	db     *store.Store
}

// NewCalculator creates a calculator backed by the given store.
func NewCalculator(db *store.Store, config CalculatorConfig) *Calculator {
	if config.PriorWeight <= 0 {
		config.PriorWeight = DefaultCalculatorConfig().PriorWeight
	}
	if config.RegretPenalty <= 0 {
		config.RegretPenalty = DefaultCalculatorConfig().RegretPenalty
	}
	return &Calculator{config: config, db: db}
}

// Score computes confidence and regret for a policy.
//
// Description:
//
//	Folds the policy's prevention records against its overrides. A
//	prevention with at least one override counts as a false positive;
//	every other prevention is a true positive. Regret is false
//	positives over total blocks. Confidence is the prior-anchored
//	true-positive ratio (tp+w)/(tp+fp+2w), scaled down by regret; a
//	policy with no history scores the neutral 0.5.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	policyID - The policy to score.
//
// Outputs:
//
//	Outcome - The deterministic score.
//	error - Store failure only.
func (c *Calculator) Score(ctx context.Context, policyID string) (Outcome, error) {
	preventions, err := c.db.ListPreventionsByPolicy(ctx, policyID)
	if err != nil {
		return Outcome{}, err
	}
	overrides, err := c.db.ListOverridesByPolicy(ctx, policyID)
	if err != nil {
		return Outcome{}, err
	}
	return c.Fold(preventions, overrides), nil
}

// Fold computes the score from explicit history. Exposed for replay:
// feeding the same dataset always yields the same outcome.
func (c *Calculator) Fold(preventions []store.PreventionRecord, overrides []store.Override) Outcome {
	overridden := make(map[string]bool, len(overrides))
	for _, o := range overrides {
		overridden[o.PreventionID] = true
	}

	out := Outcome{TotalBlocks: len(preventions)}
	for _, p := range preventions {
		if overridden[p.ID] {
			out.FalsePositives++
		} else {
			out.TruePositives++
		}
	}

	if out.TotalBlocks > 0 {
		out.Regret = float64(out.FalsePositives) / float64(out.TotalBlocks)
	}

	tp := float64(out.TruePositives)
	fp := float64(out.FalsePositives)
	w := c.config.PriorWeight
	base := (tp + w) / (tp + fp + 2*w)
	out.Confidence = clamp(base * (1.0 - c.config.RegretPenalty*out.Regret))

	return out
}

// clamp restricts a score to [0.0, 1.0].
func clamp(v float64) float64 {
	return math.Max(0.0, math.Min(1.0, v))
}
