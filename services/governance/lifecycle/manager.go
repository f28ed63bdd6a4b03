// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lifecycle implements the approval gate and policy mode
// lifecycle.
//
// A proposal is decided exactly once by a human actor; approval
// atomically spawns a SHADOW policy. Policies advance SHADOW →
// PENDING → ACTIVE under explicit preconditions, and only the
// graduation evaluator may walk the single backward edge ACTIVE →
// SHADOW. Transitions per enforcement key are serialized with a
// per-key lock around the store's compare-and-swap update.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianGuard/services/governance/scoring"
	"github.com/AleutianAI/AleutianGuard/services/governance/store"
)

// Actor is the opaque identity performing an approval action. The
// capability check behind it belongs to the external RBAC collaborator.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Authorizer is the external capability check for approval actions.
type Authorizer interface {
	// CanApprove reports whether the actor holds the approval
	// capability.
	CanApprove(ctx context.Context, actor Actor) bool
}

// RoleAuthorizer is a minimal Authorizer granting the capability to a
// fixed set of roles. Production deployments substitute their RBAC
// system here.
type RoleAuthorizer struct {
	// Roles is the set of role names holding the approval capability.
	Roles map[string]bool
}

// NewRoleAuthorizer creates an authorizer for the given roles.
func NewRoleAuthorizer(roles ...string) *RoleAuthorizer {
	set := make(map[string]bool, len(roles))
	for _, r := range roles {
		set[r] = true
	}
	return &RoleAuthorizer{Roles: set}
}

// CanApprove implements Authorizer.
func (a *RoleAuthorizer) CanApprove(_ context.Context, actor Actor) bool {
	return a.Roles[actor.Role]
}

// ConfidenceSource supplies the scored outcome gating activation.
type ConfidenceSource interface {
	Score(ctx context.Context, policyID string) (scoring.Outcome, error)
}

// ManagerConfig configures lifecycle preconditions.
type ManagerConfig struct {
	// MinObservation is the minimum SHADOW observation period before
	// a policy may advance to PENDING.
	MinObservation time.Duration

	// ActivationConfidence is the minimum confidence score for
	// PENDING → ACTIVE.
	ActivationConfidence float64
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MinObservation:       24 * time.Hour,
		ActivationConfidence: 0.5,
	}
}

// Manager is the approval gate and policy lifecycle manager.
//
// # Thread Safety
//
// Safe for concurrent use. Mode transitions for the same enforcement
// key are serialized; distinct keys proceed without contention.
// lockStripes bounds the per-key serialization locks. Distinct keys
// may share a stripe, at worst serializing unrelated transitions;
// memory stays constant however many keys a deployment accumulates.
const lockStripes = 64

type Manager struct {
	config ManagerConfig
	sm     *StateMachine
	db     *store.Store
	scorer ConfidenceSource
	auth   Authorizer
	logger *slog.Logger
	now    func() time.Time

	locks [lockStripes]sync.Mutex
}

// NewManager creates a lifecycle manager.
//
// Inputs:
//
//	db - The governance store. Must not be nil.
//	scorer - Confidence source gating activation. Must not be nil.
//	auth - Approval capability check. Must not be nil.
//	config - Lifecycle preconditions.
//	logger - Structured logger; nil uses slog's default.
func NewManager(db *store.Store, scorer ConfidenceSource, auth Authorizer, config ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if config.ActivationConfidence <= 0 {
		config.ActivationConfidence = DefaultManagerConfig().ActivationConfidence
	}
	return &Manager{
		config: config,
		sm:     NewStateMachine(),
		db:     db,
		scorer: scorer,
		auth:   auth,
		logger: logger,
		now:    time.Now,
	}
}

// lockFor returns the serialization stripe for an enforcement key.
func (m *Manager) lockFor(key store.Key) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key.TenantID))
	h.Write([]byte{0})
	h.Write([]byte(key.FeaturePath))
	h.Write([]byte{0})
	h.Write([]byte(key.Signature))
	return &m.locks[h.Sum32()%lockStripes]
}

// Decide applies a human decision to a draft proposal.
//
// Description:
//
//	Verifies the actor's approval capability, then flips the proposal
//	out of draft. Approval atomically creates the successor policy in
//	SHADOW mode referencing the proposal. A proposal that has already
//	left draft fails with ErrAlreadyDecided.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	proposalID - The proposal to decide.
//	actor - The deciding actor.
//	approve - true approves, false rejects.
//
// Outputs:
//
//	*store.Policy - The new SHADOW policy, nil on rejection.
//	error - ErrUnauthorized, ErrAlreadyDecided, or a store failure.
func (m *Manager) Decide(ctx context.Context, proposalID string, actor Actor, approve bool) (*store.Policy, error) {
	if !m.auth.CanApprove(ctx, actor) {
		return nil, fmt.Errorf("%w: actor %s role %s", ErrUnauthorized, actor.ID, actor.Role)
	}

	pol, err := m.db.DecideProposal(ctx, proposalID, actor.ID, approve, uuid.NewString(), m.now())
	if err != nil {
		if errors.Is(err, store.ErrImmutableRecord) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyDecided, proposalID)
		}
		return nil, err
	}

	if approve {
		m.logger.Info("proposal approved, shadow policy created",
			slog.String("proposal_id", proposalID),
			slog.String("policy_id", pol.ID),
			slog.String("decided_by", actor.ID))
	} else {
		m.logger.Info("proposal rejected",
			slog.String("proposal_id", proposalID),
			slog.String("decided_by", actor.ID))
	}
	return pol, nil
}

// Promote advances a policy one step along the forward edges.
//
// Description:
//
//	SHADOW → PENDING requires the minimum observation period to have
//	elapsed with zero false-positive shadow observations. PENDING →
//	ACTIVE requires the actor's explicit sign-off and a confidence
//	score at or above the activation threshold; there is no autonomous
//	activation. The transition is serialized per enforcement key.
//
// Outputs:
//
//	*store.Policy - The updated policy.
//	error - ErrObservationIncomplete, ErrShadowFalsePositives,
//	        ErrUnauthorized, ErrConfidenceBelowThreshold,
//	        ErrInvalidTransition, or a store failure.
func (m *Manager) Promote(ctx context.Context, policyID string, actor Actor) (*store.Policy, error) {
	pol, err := m.db.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}

	l := m.lockFor(pol.Key())
	l.Lock()
	defer l.Unlock()

	// Re-read under the lock; a concurrent transition may have won.
	pol, err = m.db.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}

	switch pol.Mode {
	case store.ModeShadow:
		if err := m.checkShadowGraduation(ctx, pol); err != nil {
			return nil, err
		}
		return m.transition(ctx, pol, store.ModePending, "")

	case store.ModeActive:
		return nil, m.violation(pol, store.ModeActive, "promote called on active policy")

	case store.ModePending:
		if !m.auth.CanApprove(ctx, actor) {
			return nil, fmt.Errorf("%w: actor %s role %s", ErrUnauthorized, actor.ID, actor.Role)
		}
		outcome, err := m.scorer.Score(ctx, policyID)
		if err != nil {
			return nil, err
		}
		if outcome.Confidence < m.config.ActivationConfidence {
			return nil, fmt.Errorf("%w: %.3f < %.3f",
				ErrConfidenceBelowThreshold, outcome.Confidence, m.config.ActivationConfidence)
		}
		return m.transition(ctx, pol, store.ModeActive, "")

	default:
		return nil, m.violation(pol, pol.Mode, "unknown mode")
	}
}

// checkShadowGraduation validates the SHADOW → PENDING preconditions.
func (m *Manager) checkShadowGraduation(ctx context.Context, pol *store.Policy) error {
	observed := m.now().Sub(pol.CreatedAt)
	if observed < m.config.MinObservation {
		return fmt.Errorf("%w: %s of %s observed",
			ErrObservationIncomplete, observed.Truncate(time.Second), m.config.MinObservation)
	}

	observations, err := m.db.ListShadowObservations(ctx, pol.ID)
	if err != nil {
		return err
	}
	for _, obs := range observations {
		if obs.FalsePositive {
			return fmt.Errorf("%w: observation %s", ErrShadowFalsePositives, obs.ID)
		}
	}
	return nil
}

// Degrade walks the single backward edge ACTIVE → SHADOW.
//
// Description:
//
//	Callable only by the graduation evaluator; no HTTP or CLI surface
//	reaches this method. Idempotent: degrading a policy already in
//	SHADOW is a no-op that preserves the originally recorded reason.
//	A PENDING policy cannot degrade (the edge does not exist).
//
// Outputs:
//
//	*store.Policy - The policy, in SHADOW mode.
//	error - ErrInvalidTransition for PENDING policies, or a store
//	        failure.
func (m *Manager) Degrade(ctx context.Context, policyID, reason string) (*store.Policy, error) {
	pol, err := m.db.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}

	l := m.lockFor(pol.Key())
	l.Lock()
	defer l.Unlock()

	pol, err = m.db.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}

	switch pol.Mode {
	case store.ModeShadow:
		// Idempotent no-op; the first degrade's reason stands.
		return pol, nil
	case store.ModeActive:
		updated, err := m.transition(ctx, pol, store.ModeShadow, reason)
		if err != nil {
			return nil, err
		}
		m.logger.Warn("policy degraded to shadow",
			slog.String("policy_id", pol.ID),
			slog.String("tenant_id", pol.TenantID),
			slog.String("reason", reason))
		return updated, nil
	default:
		return nil, m.violation(pol, store.ModeShadow, "degrade called on pending policy")
	}
}

// transition applies a validated CAS mode update.
func (m *Manager) transition(ctx context.Context, pol *store.Policy, to store.PolicyMode, reason string) (*store.Policy, error) {
	if err := m.sm.Validate(pol.Mode, to); err != nil {
		return nil, err
	}
	updated, err := m.db.UpdatePolicyMode(ctx, pol.ID, pol.Mode, to, reason, m.now())
	if err != nil {
		return nil, err
	}
	m.logger.Info("policy mode transition",
		slog.String("policy_id", pol.ID),
		slog.String("from", string(pol.Mode)),
		slog.String("to", string(to)),
		slog.String("why", m.sm.TransitionReason(pol.Mode, to)))
	return updated, nil
}

// violation logs and rejects an illegal transition request.
func (m *Manager) violation(pol *store.Policy, to store.PolicyMode, detail string) error {
	err := fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidTransition, pol.Mode, to, detail)
	m.logger.Error("governance violation: illegal policy transition requested",
		slog.String("policy_id", pol.ID),
		slog.String("mode", string(pol.Mode)),
		slog.String("detail", detail))
	return err
}
