// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package governance

import (
	"github.com/AleutianAI/AleutianGuard/services/governance/enforce"
	"github.com/AleutianAI/AleutianGuard/services/governance/signature"
)

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// SubmitFailureRequest reports a failure from an upstream producer.
type SubmitFailureRequest struct {
	TenantID    string         `json:"tenant_id" binding:"required"`
	FeaturePath string         `json:"feature_path" binding:"required"`
	ErrorShape  string         `json:"error_shape" binding:"required"`
	Evidence    map[string]any `json:"evidence"`
	RequestID   string         `json:"request_id"`
}

// SubmitFailureResponse is the ingestion outcome. Exactly one of
// IncidentID or PreventionID is set.
type SubmitFailureResponse struct {
	Signature signature.PatternSignature `json:"pattern_signature"`

	// IncidentID is set when the failure became a new incident.
	IncidentID string `json:"incident_id,omitempty"`

	// PreventionID is set when an ACTIVE policy blocked the failure.
	PreventionID string `json:"prevention_id,omitempty"`

	// ShadowObservationID is set when a SHADOW policy would have
	// blocked; the incident is still created.
	ShadowObservationID string `json:"shadow_observation_id,omitempty"`

	// ProposalID is set when the incident pushed its key over the
	// evidence threshold and a draft proposal was generated.
	ProposalID string `json:"proposal_id,omitempty"`
}

// ProposeRequest asks for a draft proposal for an enforcement key.
type ProposeRequest struct {
	TenantID    string                     `json:"tenant_id" binding:"required"`
	FeaturePath string                     `json:"feature_path" binding:"required"`
	Signature   signature.PatternSignature `json:"pattern_signature" binding:"required"`
}

// ActorRequest identifies the human actor behind an approval action.
type ActorRequest struct {
	ID   string `json:"id" binding:"required"`
	Role string `json:"role" binding:"required"`
}

// DecideRequest carries a human decision on a proposal.
type DecideRequest struct {
	// Outcome is "approved" or "rejected".
	Outcome string       `json:"outcome" binding:"required,oneof=approved rejected"`
	Actor   ActorRequest `json:"actor" binding:"required"`
}

// DecideResponse reports the decision result.
type DecideResponse struct {
	ProposalID string `json:"proposal_id"`
	Outcome    string `json:"outcome"`

	// PolicyID is set on approval: the new SHADOW policy.
	PolicyID string `json:"policy_id,omitempty"`
}

// PromoteRequest carries a promotion sign-off.
type PromoteRequest struct {
	Actor ActorRequest `json:"actor" binding:"required"`
}

// CheckRequest is the inline enforcement check payload.
type CheckRequest struct {
	TenantID    string                     `json:"tenant_id" binding:"required"`
	FeaturePath string                     `json:"feature_path" binding:"required"`
	Signature   signature.PatternSignature `json:"pattern_signature" binding:"required"`
	RequestRef  string                     `json:"request_ref" binding:"required"`
	Attributes  map[string]any             `json:"attributes"`
}

// CheckResponse is the enforcement verdict.
type CheckResponse struct {
	Action       enforce.Action `json:"action"`
	PolicyID     string         `json:"policy_id,omitempty"`
	PreventionID string         `json:"prevention_id,omitempty"`
	FailedOpen   bool           `json:"failed_open,omitempty"`
}

// OverrideRequest records that a block was later judged incorrect.
type OverrideRequest struct {
	PreventionID string `json:"prevention_id" binding:"required"`
	Reason       string `json:"reason" binding:"required"`
	ActorID      string `json:"actor_id" binding:"required"`
}

// OverrideResponse confirms the recorded override.
type OverrideResponse struct {
	OverrideID string `json:"override_id"`
	PolicyID   string `json:"policy_id"`
}

// ResolveIncidentRequest closes an open incident.
type ResolveIncidentRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
}

// FlagShadowRequest marks a shadow observation as a false positive.
// The policy id comes from the URL.
type FlagShadowRequest struct {
	PolicyID      string `json:"-"`
	ObservationID string `json:"observation_id" binding:"required"`
	ActorID       string `json:"actor_id" binding:"required"`
	Reason        string `json:"reason"`
}

// FlagShadowResponse confirms the flagged observation.
type FlagShadowResponse struct {
	PolicyID      string `json:"policy_id"`
	ObservationID string `json:"observation_id"`
	FalsePositive bool   `json:"false_positive"`
}

// ScoreResponse exposes a policy's scored outcome.
type ScoreResponse struct {
	PolicyID       string  `json:"policy_id"`
	Confidence     float64 `json:"confidence"`
	Regret         float64 `json:"regret"`
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	TotalBlocks    int     `json:"total_blocks"`
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}
