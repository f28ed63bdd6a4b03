// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"time"

	"github.com/AleutianAI/AleutianGuard/services/governance/signature"
)

// Key is the exact enforcement key. All matching in the governance
// loop is strict equality on this tuple; there is no partial and no
// cross-tenant matching.
type Key struct {
	TenantID    string                     `json:"tenant_id"`
	FeaturePath string                     `json:"feature_path"`
	Signature   signature.PatternSignature `json:"pattern_signature"`
}

// IncidentStatus is the lifecycle status of an incident.
type IncidentStatus string

const (
	// IncidentOpen means the failure is unresolved.
	IncidentOpen IncidentStatus = "open"

	// IncidentResolved means the failure has been addressed.
	IncidentResolved IncidentStatus = "resolved"
)

// Incident is a proven failure occurrence.
//
// Immutable once created except for the status transition to resolved.
// Incidents are never deleted; they are the evidentiary basis for
// every policy proposal.
type Incident struct {
	ID          string                     `json:"id"`
	TenantID    string                     `json:"tenant_id"`
	FeaturePath string                     `json:"feature_path"`
	Signature   signature.PatternSignature `json:"pattern_signature"`

	// Evidence is the structured failure payload, preserved verbatim.
	Evidence map[string]any `json:"evidence,omitempty"`

	// NormalizedShape is the scrubbed error shape the signature was
	// computed from, kept for human review.
	NormalizedShape string `json:"normalized_shape,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	Status    IncidentStatus `json:"status"`
}

// Key returns the enforcement key of the incident.
func (i *Incident) Key() Key {
	return Key{TenantID: i.TenantID, FeaturePath: i.FeaturePath, Signature: i.Signature}
}

// ProposalStatus is the lifecycle status of a policy proposal.
type ProposalStatus string

const (
	// ProposalDraft means the proposal awaits a human decision.
	ProposalDraft ProposalStatus = "draft"

	// ProposalApproved is a terminal state; an approved proposal has
	// spawned a SHADOW policy.
	ProposalApproved ProposalStatus = "approved"

	// ProposalRejected is a terminal state.
	ProposalRejected ProposalStatus = "rejected"
)

// PolicyProposal is a candidate corrective rule derived from incidents.
//
// Mutated exactly once, by a human decision. Terminal states are
// immutable.
type PolicyProposal struct {
	ID                string                     `json:"id"`
	SourceIncidentIDs []string                   `json:"source_incident_ids"`
	TenantID          string                     `json:"tenant_id"`
	FeaturePath       string                     `json:"feature_path"`
	Signature         signature.PatternSignature `json:"pattern_signature"`

	// Body is the serialized rule payload (see the rules package).
	Body []byte `json:"body"`

	Status    ProposalStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	DecidedBy string         `json:"decided_by,omitempty"`
	DecidedAt *time.Time     `json:"decided_at,omitempty"`
}

// Key returns the enforcement key of the proposal.
func (p *PolicyProposal) Key() Key {
	return Key{TenantID: p.TenantID, FeaturePath: p.FeaturePath, Signature: p.Signature}
}

// PolicyMode is the lifecycle stage of an enforceable policy.
type PolicyMode string

const (
	// ModeShadow means the policy observes only and never blocks.
	ModeShadow PolicyMode = "SHADOW"

	// ModePending means the policy is ready but not yet enforcing.
	ModePending PolicyMode = "PENDING"

	// ModeActive means the policy enforces on the live request path.
	ModeActive PolicyMode = "ACTIVE"
)

// Policy is an enforceable rule with a lifecycle.
//
// Every policy carries a non-empty ProposalID: no policy exists
// without evidentiary origin.
type Policy struct {
	ID          string                     `json:"id"`
	ProposalID  string                     `json:"proposal_id"`
	TenantID    string                     `json:"tenant_id"`
	FeaturePath string                     `json:"feature_path"`
	Signature   signature.PatternSignature `json:"pattern_signature"`

	// Body is the serialized rule payload inherited from the proposal.
	Body []byte `json:"body"`

	Mode PolicyMode `json:"mode"`

	// Version is monotonic per (tenant, pattern_signature).
	Version uint64 `json:"version"`

	CreatedAt   time.Time  `json:"created_at"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`

	// DegradedAt and DegradeReason record the single allowed backward
	// transition, ACTIVE to SHADOW via automatic degrade.
	DegradedAt    *time.Time `json:"degraded_at,omitempty"`
	DegradeReason string     `json:"degrade_reason,omitempty"`
}

// Key returns the enforcement key of the policy.
func (p *Policy) Key() Key {
	return Key{TenantID: p.TenantID, FeaturePath: p.FeaturePath, Signature: p.Signature}
}

// PreventionRecord is append-only proof that an active policy stopped
// a repeat failure before it became an incident. Write-once, never
// mutated or deleted.
type PreventionRecord struct {
	ID          string                     `json:"id"`
	PolicyID    string                     `json:"policy_id"`
	TenantID    string                     `json:"tenant_id"`
	FeaturePath string                     `json:"feature_path"`
	Signature   signature.PatternSignature `json:"pattern_signature"`

	// BlockedRequestRef identifies the in-flight request that was aborted.
	BlockedRequestRef string `json:"blocked_request_ref"`

	CreatedAt time.Time `json:"created_at"`
}

// Override records that a block was later judged incorrect, via a
// downstream manual override or complaint. Overrides are the regret
// signal for the confidence calculator.
type Override struct {
	ID           string    `json:"id"`
	PolicyID     string    `json:"policy_id"`
	PreventionID string    `json:"prevention_id"`
	Reason       string    `json:"reason"`
	ActorID      string    `json:"actor_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// ShadowObservation records that a SHADOW policy would have blocked a
// failure had it been ACTIVE. These feed the promote precondition:
// a minimum observation period with zero false positives.
type ShadowObservation struct {
	ID            string    `json:"id"`
	PolicyID      string    `json:"policy_id"`
	IncidentID    string    `json:"incident_id"`
	FalsePositive bool      `json:"false_positive"`
	CreatedAt     time.Time `json:"created_at"`
}

// GateStatus is the pass/fail result of a single graduation gate.
type GateStatus string

const (
	GatePass GateStatus = "pass"
	GateFail GateStatus = "fail"
)

// GraduationMode is the automation trust level of a scope.
type GraduationMode string

const (
	// ModeObserving means the loop is not yet trusted to run unattended.
	ModeObserving GraduationMode = "OBSERVING"

	// ModeRollbackSafe means prevention and rollback-safety gates pass.
	ModeRollbackSafe GraduationMode = "ROLLBACK_SAFE"

	// ModeProven means all three gates pass.
	ModeProven GraduationMode = "PROVEN"
)

// ScopeGlobal is the scope name for the cross-tenant rollup snapshot.
// Per-tenant scopes use the tenant id. The rollup aggregates rates
// only; policies and evidence never cross tenant boundaries.
const ScopeGlobal = "global"

// GraduationState is the per-scope control-loop snapshot. It has a
// single writer (the graduation evaluator) and is never a correctness
// dependency for enforcement.
type GraduationState struct {
	Scope string `json:"scope"`

	GatePrevention     GateStatus `json:"gate_prevention"`
	GateRollbackSafety GateStatus `json:"gate_rollback_safety"`
	GateTimeline       GateStatus `json:"gate_timeline"`

	PreventionRate float64 `json:"prevention_rate"`
	RegretRate     float64 `json:"regret_rate"`

	Mode            GraduationMode `json:"mode"`
	LastEvaluatedAt time.Time      `json:"last_evaluated_at"`
}
