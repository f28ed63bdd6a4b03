// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package governance composes the incident-to-prevention loop behind
// one service facade: failure ingestion, proposal generation, the
// human approval gate, inline enforcement, and evidence export.
package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianGuard/pkg/extensions"
	"github.com/AleutianAI/AleutianGuard/pkg/validation"
	"github.com/AleutianAI/AleutianGuard/services/governance/classify"
	"github.com/AleutianAI/AleutianGuard/services/governance/enforce"
	"github.com/AleutianAI/AleutianGuard/services/governance/lifecycle"
	"github.com/AleutianAI/AleutianGuard/services/governance/proposal"
	"github.com/AleutianAI/AleutianGuard/services/governance/rules"
	"github.com/AleutianAI/AleutianGuard/services/governance/scoring"
	"github.com/AleutianAI/AleutianGuard/services/governance/signature"
	"github.com/AleutianAI/AleutianGuard/services/governance/store"
	"github.com/AleutianAI/AleutianGuard/services/governance/telemetry"
)

// ErrInvalidInput marks rejected caller-provided identifiers.
var ErrInvalidInput = errors.New("invalid input")

// ServiceConfig bundles the sub-component configurations.
type ServiceConfig struct {
	Matcher   signature.MatcherConfig
	Proposal  proposal.GeneratorConfig
	Lifecycle lifecycle.ManagerConfig
	Enforcer  enforce.Config

	// Extensions holds optional enterprise hooks (audit trail).
	Extensions extensions.ServiceOptions
}

// DefaultServiceConfig returns defaults for every component.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Matcher:    signature.DefaultMatcherConfig(),
		Proposal:   proposal.DefaultGeneratorConfig(),
		Lifecycle:  lifecycle.DefaultManagerConfig(),
		Enforcer:   enforce.DefaultConfig(),
		Extensions: extensions.DefaultOptions(),
	}
}

// Service is the governance loop facade the HTTP layer talks to.
//
// # Thread Safety
//
// Safe for concurrent use.
type Service struct {
	db         *store.Store
	matcher    *signature.Matcher
	generator  *proposal.Generator
	manager    *lifecycle.Manager
	enforcer   *enforce.Enforcer
	scorer     *scoring.Calculator
	classifier *classify.Classifier
	audit      extensions.AuditLogger
	metrics    *telemetry.Metrics
	logger     *slog.Logger
}

// NewService wires the governance components.
//
// Inputs:
//
//	db - The governance store. Must not be nil.
//	auth - Approval capability check. Must not be nil.
//	alerts - Fail-open alert sink; nil uses a logging sink.
//	cfg - Component configuration.
//	metrics - Pre-registered metrics; nil disables instrumentation.
//	logger - Structured logger; nil uses slog's default.
func NewService(db *store.Store, auth lifecycle.Authorizer, alerts enforce.AlertSink, cfg ServiceConfig, metrics *telemetry.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	audit := cfg.Extensions.AuditLogger
	if audit == nil {
		audit = extensions.NopAuditLogger{}
	}

	// Evidence classification must never block ingestion; a broken
	// pattern set disables redaction rather than the service.
	classifier, err := classify.New()
	if err != nil {
		logger.Error("evidence classifier disabled", slog.String("error", err.Error()))
		classifier = nil
	}

	scorer := scoring.NewCalculator(db, scoring.DefaultCalculatorConfig())
	return &Service{
		db:         db,
		matcher:    signature.NewMatcher(cfg.Matcher),
		generator:  proposal.NewGenerator(db, cfg.Proposal),
		manager:    lifecycle.NewManager(db, scorer, auth, cfg.Lifecycle, logger),
		enforcer:   enforce.New(db, alerts, cfg.Enforcer, logger),
		scorer:     scorer,
		classifier: classifier,
		audit:      audit,
		metrics:    metrics,
		logger:     logger,
	}
}

// Manager exposes the lifecycle manager for the graduation evaluator,
// the only legitimate caller of its backward edge.
func (s *Service) Manager() *lifecycle.Manager { return s.manager }

// Scorer exposes the confidence calculator.
func (s *Service) Scorer() *scoring.Calculator { return s.scorer }

// SubmitFailure ingests a reported failure.
//
// Description:
//
//	Computes the pattern signature, then runs the check-then-act
//	ordering in one store transaction: an ACTIVE policy match yields a
//	prevention record and no incident; otherwise an incident is
//	created (plus a shadow observation when a SHADOW policy matched).
//	A new incident that pushes its key over the evidence threshold
//	generates a draft proposal in the same call.
func (s *Service) SubmitFailure(ctx context.Context, req SubmitFailureRequest) (*SubmitFailureResponse, error) {
	if err := validateKeyInput(req.TenantID, req.FeaturePath); err != nil {
		return nil, err
	}

	sig := s.matcher.Match(signature.FailureEvent{
		TenantID:    req.TenantID,
		FeaturePath: req.FeaturePath,
		ErrorShape:  req.ErrorShape,
		Evidence:    req.Evidence,
		RequestID:   req.RequestID,
	})

	evidence := req.Evidence
	if s.classifier != nil {
		if findings := s.classifier.ScanEvidence(evidence); len(findings) > 0 {
			evidence = s.classifier.Redact(evidence)
			s.logger.Warn("sensitive data redacted from evidence",
				slog.String("tenant_id", req.TenantID),
				slog.Int("findings", len(findings)),
				slog.String("classification", findings[0].Classification))
		}
	}

	inc := &store.Incident{
		ID:              uuid.NewString(),
		TenantID:        req.TenantID,
		FeaturePath:     req.FeaturePath,
		Signature:       sig,
		Evidence:        evidence,
		NormalizedShape: s.matcher.NormalizeShape(req.ErrorShape),
		CreatedAt:       time.Now().UTC(),
		Status:          store.IncidentOpen,
	}
	match := func(p *store.Policy) bool {
		return rules.EvaluateBody(p.Body, req.Evidence)
	}

	res, err := s.db.IngestFailure(ctx, inc, req.RequestID, uuid.NewString(), uuid.NewString(), match)
	if err != nil {
		return nil, err
	}

	out := &SubmitFailureResponse{Signature: sig}
	if res.Prevention != nil {
		out.PreventionID = res.Prevention.ID
		s.count(ctx, s.metricOrNil().PreventionsTotal, attribute.String("tenant_id", req.TenantID))
		s.logger.Info("repeat failure prevented",
			slog.String("tenant_id", req.TenantID),
			slog.String("prevention_id", res.Prevention.ID))
		return out, nil
	}

	out.IncidentID = res.Incident.ID
	if res.ShadowObservation != nil {
		out.ShadowObservationID = res.ShadowObservation.ID
	}
	s.count(ctx, s.metricOrNil().IncidentsTotal, attribute.String("tenant_id", req.TenantID))

	prop, err := s.generator.Propose(ctx, inc.Key())
	switch {
	case err == nil:
		out.ProposalID = prop.ID
		s.count(ctx, s.metricOrNil().ProposalsTotal, attribute.String("tenant_id", req.TenantID))
	case errors.Is(err, proposal.ErrInsufficientEvidence):
		// Below the evidence threshold; the incident stands alone.
	default:
		s.logger.Error("proposal generation failed",
			slog.String("incident_id", inc.ID),
			slog.String("error", err.Error()))
	}
	return out, nil
}

// Propose generates (or returns the existing) draft proposal for a key.
func (s *Service) Propose(ctx context.Context, key store.Key) (*store.PolicyProposal, error) {
	return s.generator.Propose(ctx, key)
}

// Decide applies a human decision to a proposal.
func (s *Service) Decide(ctx context.Context, proposalID string, actor lifecycle.Actor, approve bool) (*store.Policy, error) {
	if err := validation.ValidateActorID(actor.ID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}

	pol, err := s.manager.Decide(ctx, proposalID, actor, approve)

	eventType := "proposal.rejected"
	if approve {
		eventType = "proposal.approved"
	}
	s.auditEvent(ctx, extensions.AuditEvent{
		EventType:    eventType,
		ActorID:      actor.ID,
		ResourceType: "proposal",
		ResourceID:   proposalID,
		Outcome:      outcomeOf(err),
	})
	return pol, err
}

// Promote advances a policy along the forward lifecycle edges.
func (s *Service) Promote(ctx context.Context, policyID string, actor lifecycle.Actor) (*store.Policy, error) {
	if err := validation.ValidateActorID(actor.ID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}

	pol, err := s.manager.Promote(ctx, policyID, actor)

	event := extensions.AuditEvent{
		EventType:    "policy.promoted",
		ActorID:      actor.ID,
		ResourceType: "policy",
		ResourceID:   policyID,
		Outcome:      outcomeOf(err),
	}
	if err == nil {
		event.Metadata = map[string]any{"mode": string(pol.Mode), "tenant_id": pol.TenantID}
		s.count(ctx, s.metricOrNil().TransitionsTotal, attribute.String("to", string(pol.Mode)))
	}
	s.auditEvent(ctx, event)
	return pol, err
}

// Check runs the inline enforcement check.
func (s *Service) Check(ctx context.Context, req CheckRequest) (enforce.Decision, error) {
	if err := validateKeyInput(req.TenantID, req.FeaturePath); err != nil {
		return enforce.Decision{}, err
	}

	start := time.Now()
	d, err := s.enforcer.Check(ctx, enforce.CheckRequest{
		TenantID:    req.TenantID,
		FeaturePath: req.FeaturePath,
		Signature:   req.Signature,
		RequestRef:  req.RequestRef,
		Attributes:  req.Attributes,
	})
	if err != nil {
		return d, err
	}

	outcome := string(d.Action)
	if d.FailedOpen {
		outcome = "fail_open"
		s.count(ctx, s.metricOrNil().StoreUnavailableTotal)
	}
	s.count(ctx, s.metricOrNil().ChecksTotal, attribute.String("outcome", outcome))
	if m := s.metricOrNil().CheckDuration; m != nil {
		m.Record(ctx, time.Since(start).Seconds())
	}
	return d, nil
}

// CreateOverride records a manual override of a block, the regret
// signal for scoring.
func (s *Service) CreateOverride(ctx context.Context, req OverrideRequest) (*store.Override, error) {
	if err := validation.ValidateActorID(req.ActorID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}

	rec, err := s.db.GetPrevention(ctx, req.PreventionID)
	if err != nil {
		return nil, err
	}
	o := &store.Override{
		ID:           uuid.NewString(),
		PolicyID:     rec.PolicyID,
		PreventionID: rec.ID,
		Reason:       req.Reason,
		ActorID:      req.ActorID,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.db.CreateOverride(ctx, o); err != nil {
		return nil, err
	}
	s.logger.Info("block overridden",
		slog.String("prevention_id", rec.ID),
		slog.String("policy_id", rec.PolicyID),
		slog.String("actor_id", req.ActorID))
	s.auditEvent(ctx, extensions.AuditEvent{
		EventType:    "prevention.overridden",
		ActorID:      req.ActorID,
		ResourceType: "prevention",
		ResourceID:   rec.ID,
		Outcome:      "success",
		Metadata:     map[string]any{"policy_id": rec.PolicyID, "reason": req.Reason},
	})
	return o, nil
}

// ResolveIncident closes an open incident once its failure class has
// been remediated or is covered by an active policy.
//
// Description:
//
//	Flips the incident to resolved, the only mutation an incident ever
//	receives. Resolving an already-resolved incident is a no-op.
func (s *Service) ResolveIncident(ctx context.Context, incidentID, actorID string) (*store.Incident, error) {
	if err := validation.ValidateActorID(actorID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}

	err := s.db.ResolveIncident(ctx, incidentID)
	s.auditEvent(ctx, extensions.AuditEvent{
		EventType:    "incident.resolved",
		ActorID:      actorID,
		ResourceType: "incident",
		ResourceID:   incidentID,
		Outcome:      outcomeOf(err),
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("incident resolved",
		slog.String("incident_id", incidentID),
		slog.String("actor_id", actorID))
	return s.db.GetIncident(ctx, incidentID)
}

// FlagShadowFalsePositive marks a shadow observation as a false
// positive: the SHADOW policy would have blocked a legitimate request.
//
// Description:
//
//	A flagged observation disqualifies the policy from the SHADOW to
//	PENDING promotion until the record ages out of the observation
//	window. This is the human review signal the shadow phase exists to
//	collect.
func (s *Service) FlagShadowFalsePositive(ctx context.Context, req FlagShadowRequest) error {
	if err := validation.ValidateActorID(req.ActorID); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}

	err := s.db.MarkShadowFalsePositive(ctx, req.PolicyID, req.ObservationID)
	s.auditEvent(ctx, extensions.AuditEvent{
		EventType:    "shadow.false_positive",
		ActorID:      req.ActorID,
		ResourceType: "shadow_observation",
		ResourceID:   req.ObservationID,
		Outcome:      outcomeOf(err),
		Metadata:     map[string]any{"policy_id": req.PolicyID, "reason": req.Reason},
	})
	if err != nil {
		return err
	}
	s.logger.Warn("shadow observation flagged as false positive",
		slog.String("policy_id", req.PolicyID),
		slog.String("observation_id", req.ObservationID),
		slog.String("actor_id", req.ActorID))
	return nil
}

// ShadowObservations lists a policy's shadow-phase observations.
func (s *Service) ShadowObservations(ctx context.Context, policyID string) ([]store.ShadowObservation, error) {
	return s.db.ListShadowObservations(ctx, policyID)
}

// Score returns a policy's scored outcome.
func (s *Service) Score(ctx context.Context, policyID string) (scoring.Outcome, error) {
	return s.scorer.Score(ctx, policyID)
}

// Incident returns an incident by id (evidence export).
func (s *Service) Incident(ctx context.Context, id string) (*store.Incident, error) {
	return s.db.GetIncident(ctx, id)
}

// Policy returns a policy by id.
func (s *Service) Policy(ctx context.Context, id string) (*store.Policy, error) {
	return s.db.GetPolicy(ctx, id)
}

// Policies lists a tenant's policies.
func (s *Service) Policies(ctx context.Context, tenantID string) ([]store.Policy, error) {
	return s.db.ListPolicies(ctx, tenantID)
}

// Proposals lists a tenant's proposals.
func (s *Service) Proposals(ctx context.Context, tenantID string) ([]store.PolicyProposal, error) {
	return s.db.ListProposals(ctx, tenantID)
}

// Prevention returns a prevention record by id (evidence export).
func (s *Service) Prevention(ctx context.Context, id string) (*store.PreventionRecord, error) {
	return s.db.GetPrevention(ctx, id)
}

// PreventionsByPolicy lists the blocks attributed to a policy.
func (s *Service) PreventionsByPolicy(ctx context.Context, policyID string) ([]store.PreventionRecord, error) {
	return s.db.ListPreventionsByPolicy(ctx, policyID)
}

// Graduation returns the graduation snapshot for a scope.
func (s *Service) Graduation(ctx context.Context, scope string) (*store.GraduationState, error) {
	return s.db.GetGraduationState(ctx, scope)
}

// Ready reports whether the backing store answers reads.
func (s *Service) Ready(ctx context.Context) error {
	_, err := s.db.GetGraduationState(ctx, store.ScopeGlobal)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// validateKeyInput rejects identifiers that could alias another key
// in the NUL-separated store key space.
func validateKeyInput(tenantID, featurePath string) error {
	if err := validation.ValidateTenantID(tenantID); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	if err := validation.ValidateFeaturePath(featurePath); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	return nil
}

func outcomeOf(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// auditEvent records a compliance event. Audit sink failures are
// logged and swallowed; governance actions do not depend on the sink.
func (s *Service) auditEvent(ctx context.Context, event extensions.AuditEvent) {
	if err := s.audit.Log(ctx, event); err != nil {
		s.logger.Warn("audit log failed",
			slog.String("event_type", event.EventType),
			slog.String("error", err.Error()))
	}
}

// metricOrNil avoids nil-field derefs when instrumentation is off.
func (s *Service) metricOrNil() *telemetry.Metrics {
	if s.metrics == nil {
		return &telemetry.Metrics{}
	}
	return s.metrics
}

func (s *Service) count(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
