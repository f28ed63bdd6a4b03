// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package proposal derives draft corrective policies from accumulated
// incident evidence.
package proposal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianGuard/services/governance/rules"
	"github.com/AleutianAI/AleutianGuard/services/governance/store"
)

// ErrInsufficientEvidence indicates too few incident occurrences exist
// within the rolling window to justify a proposal. Recoverable: the
// caller retries after more incidents accumulate.
var ErrInsufficientEvidence = errors.New("insufficient evidence for proposal")

// EvidenceError wraps ErrInsufficientEvidence with the observed counts.
type EvidenceError struct {
	// Have is the number of occurrences found in the window.
	Have int

	// Need is the configured minimum.
	Need int
}

// Error implements the error interface.
func (e *EvidenceError) Error() string {
	return fmt.Sprintf("insufficient evidence for proposal: %d of %d occurrences", e.Have, e.Need)
}

// Unwrap lets errors.Is match ErrInsufficientEvidence.
func (e *EvidenceError) Unwrap() error {
	return ErrInsufficientEvidence
}

// GeneratorConfig configures proposal generation thresholds.
type GeneratorConfig struct {
	// MinOccurrences is the minimum incident count for a key within
	// the window before a proposal may be drafted. Guards against
	// single-flake proposals.
	MinOccurrences int

	// Window is the rolling evidence window.
	Window time.Duration
}

// DefaultGeneratorConfig returns sensible defaults: three occurrences
// within twenty-four hours.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MinOccurrences: 3,
		Window:         24 * time.Hour,
	}
}

// Generator drafts policy proposals from matched incidents.
//
// # Description
//
// Groups open incidents by their enforcement key and produces a single
// draft proposal per key once the evidence threshold is met. Incidents
// are read-only inputs; the generator never mutates them.
//
// # Thread Safety
//
// Safe for concurrent use; idempotency is backed by the store's
// open-draft pointer, which refuses duplicate drafts per key.
type Generator struct {
	config GeneratorConfig
	db     *store.Store
	now    func() time.Time
}

// NewGenerator creates a generator backed by the given store.
func NewGenerator(db *store.Store, config GeneratorConfig) *Generator {
	if config.MinOccurrences <= 0 {
		config.MinOccurrences = DefaultGeneratorConfig().MinOccurrences
	}
	if config.Window <= 0 {
		config.Window = DefaultGeneratorConfig().Window
	}
	return &Generator{config: config, db: db, now: time.Now}
}

// Propose drafts a policy proposal for an enforcement key.
//
// Description:
//
//	Idempotent: when an open draft already exists for the key it is
//	returned as-is. Otherwise the incidents within the rolling window
//	are counted; below the configured minimum the call fails with
//	ErrInsufficientEvidence (wrapped in an EvidenceError carrying the
//	counts). On success a draft proposal referencing the source
//	incidents, with a match_all rule body, is persisted and returned.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	key - The enforcement key to propose for.
//
// Outputs:
//
//	*store.PolicyProposal - The open draft (new or pre-existing).
//	error - ErrInsufficientEvidence or a store failure.
func (g *Generator) Propose(ctx context.Context, key store.Key) (*store.PolicyProposal, error) {
	if existing, err := g.db.OpenProposalForKey(ctx, key); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	since := g.now().Add(-g.config.Window)
	incidents, err := g.db.ListIncidentsByKey(ctx, key, since)
	if err != nil {
		return nil, err
	}
	if len(incidents) < g.config.MinOccurrences {
		return nil, &EvidenceError{Have: len(incidents), Need: g.config.MinOccurrences}
	}

	body, err := rules.Marshal(rules.MatchAll())
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(incidents))
	for i, inc := range incidents {
		ids[i] = inc.ID
	}

	p := &store.PolicyProposal{
		ID:                uuid.NewString(),
		SourceIncidentIDs: ids,
		TenantID:          key.TenantID,
		FeaturePath:       key.FeaturePath,
		Signature:         key.Signature,
		Body:              body,
		Status:            store.ProposalDraft,
		CreatedAt:         g.now(),
	}
	if err := g.db.CreateProposal(ctx, p); err != nil {
		// A concurrent Propose may have won the draft slot; return
		// the winner rather than erroring.
		if errors.Is(err, store.ErrImmutableRecord) {
			return g.db.OpenProposalForKey(ctx, key)
		}
		return nil, err
	}
	return p, nil
}
