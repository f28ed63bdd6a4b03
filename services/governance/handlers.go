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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianGuard/services/governance/lifecycle"
	"github.com/AleutianAI/AleutianGuard/services/governance/proposal"
	"github.com/AleutianAI/AleutianGuard/services/governance/store"
)

// Handlers holds the HTTP handlers for the governance service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates the handlers for a service instance.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// getOrCreateRequestID returns the inbound X-Request-ID or creates one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	id := uuid.NewString()
	c.Header("X-Request-ID", id)
	return id
}

// HandleSubmitFailure handles POST /v1/governance/failures.
//
// Response:
//
//	200 OK: SubmitFailureResponse (prevention or incident)
//	400 Bad Request: Validation error
//	500 Internal Server Error: Store failure
func (h *Handlers) HandleSubmitFailure(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSubmitFailure")

	var req SubmitFailureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}
	if req.RequestID == "" {
		req.RequestID = requestID
	}

	resp, err := h.svc.SubmitFailure(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_IDENTIFIER"})
			return
		}
		logger.Error("Failure ingestion failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "INGEST_FAILED"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandlePropose handles POST /v1/governance/proposals.
//
// Response:
//
//	200 OK: PolicyProposal (new or existing open draft)
//	400 Bad Request: Validation error
//	422 Unprocessable Entity: Insufficient evidence
func (h *Handlers) HandlePropose(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandlePropose")

	var req ProposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	key := store.Key{TenantID: req.TenantID, FeaturePath: req.FeaturePath, Signature: req.Signature}
	prop, err := h.svc.Propose(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, proposal.ErrInsufficientEvidence) {
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "INSUFFICIENT_EVIDENCE"})
			return
		}
		logger.Error("Proposal generation failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "PROPOSE_FAILED"})
		return
	}
	c.JSON(http.StatusOK, prop)
}

// HandleDecide handles POST /v1/governance/proposals/:id/decide.
//
// Response:
//
//	200 OK: DecideResponse
//	401 Unauthorized: Actor lacks approval capability
//	404 Not Found: Unknown proposal
//	409 Conflict: Proposal already decided
func (h *Handlers) HandleDecide(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDecide")
	proposalID := c.Param("id")

	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	actor := lifecycle.Actor{ID: req.Actor.ID, Role: req.Actor.Role}
	pol, err := h.svc.Decide(c.Request.Context(), proposalID, actor, req.Outcome == "approved")
	if err != nil {
		status, code := decisionErrorStatus(err)
		logger.Warn("Decision rejected", "proposal_id", proposalID, "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	resp := DecideResponse{ProposalID: proposalID, Outcome: req.Outcome}
	if pol != nil {
		resp.PolicyID = pol.ID
	}
	c.JSON(http.StatusOK, resp)
}

// HandlePromote handles POST /v1/governance/policies/:id/promote.
//
// Response:
//
//	200 OK: Policy in its new mode
//	401 Unauthorized: Actor lacks sign-off capability
//	404 Not Found: Unknown policy
//	409 Conflict: Invalid transition
//	422 Unprocessable Entity: Precondition not met
func (h *Handlers) HandlePromote(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandlePromote")
	policyID := c.Param("id")

	var req PromoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	actor := lifecycle.Actor{ID: req.Actor.ID, Role: req.Actor.Role}
	pol, err := h.svc.Promote(c.Request.Context(), policyID, actor)
	if err != nil {
		status, code := promotionErrorStatus(err)
		logger.Warn("Promotion rejected", "policy_id", policyID, "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	c.JSON(http.StatusOK, pol)
}

// HandleCheck handles POST /v1/governance/check.
//
// Response:
//
//	200 OK: CheckResponse (allow or block; never an enforcement error)
//	400 Bad Request: Validation error
func (h *Handlers) HandleCheck(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCheck")

	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	d, err := h.svc.Check(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_IDENTIFIER"})
			return
		}
		logger.Error("Check failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "CHECK_FAILED"})
		return
	}
	c.JSON(http.StatusOK, CheckResponse{
		Action:       d.Action,
		PolicyID:     d.PolicyID,
		PreventionID: d.PreventionID,
		FailedOpen:   d.FailedOpen,
	})
}

// HandleOverride handles POST /v1/governance/overrides.
//
// Response:
//
//	200 OK: OverrideResponse
//	404 Not Found: Unknown prevention record
func (h *Handlers) HandleOverride(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleOverride")

	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	o, err := h.svc.CreateOverride(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_IDENTIFIER"})
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
			return
		}
		logger.Error("Override failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "OVERRIDE_FAILED"})
		return
	}
	c.JSON(http.StatusOK, OverrideResponse{OverrideID: o.ID, PolicyID: o.PolicyID})
}

// HandleResolveIncident handles POST /v1/governance/incidents/:id/resolve.
//
// Response:
//
//	200 OK: Incident in resolved status (idempotent)
//	404 Not Found: Unknown incident
func (h *Handlers) HandleResolveIncident(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleResolveIncident")
	incidentID := c.Param("id")

	var req ResolveIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	inc, err := h.svc.ResolveIncident(c.Request.Context(), incidentID, req.ActorID)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_IDENTIFIER"})
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
			return
		}
		logger.Error("Resolve failed", "incident_id", incidentID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "RESOLVE_FAILED"})
		return
	}
	c.JSON(http.StatusOK, inc)
}

// HandleFlagShadow handles POST /v1/governance/policies/:id/shadow/flag.
//
// Response:
//
//	200 OK: FlagShadowResponse
//	404 Not Found: Unknown policy or observation
func (h *Handlers) HandleFlagShadow(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleFlagShadow")

	var req FlagShadowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}
	req.PolicyID = c.Param("id")

	if err := h.svc.FlagShadowFalsePositive(c.Request.Context(), req); err != nil {
		if errors.Is(err, ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_IDENTIFIER"})
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
			return
		}
		logger.Error("Flag failed", "policy_id", req.PolicyID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "FLAG_FAILED"})
		return
	}
	c.JSON(http.StatusOK, FlagShadowResponse{
		PolicyID:      req.PolicyID,
		ObservationID: req.ObservationID,
		FalsePositive: true,
	})
}

// HandleListShadowObservations handles GET /v1/governance/policies/:id/shadow.
func (h *Handlers) HandleListShadowObservations(c *gin.Context) {
	policyID := c.Param("id")
	observations, err := h.svc.ShadowObservations(c.Request.Context(), policyID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "LIST_FAILED"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"observations": observations})
}

// HandleGetIncident handles GET /v1/governance/incidents/:id.
func (h *Handlers) HandleGetIncident(c *gin.Context) {
	h.getByID(c, func(id string) (any, error) { return h.svc.Incident(c.Request.Context(), id) })
}

// HandleGetPolicy handles GET /v1/governance/policies/:id.
func (h *Handlers) HandleGetPolicy(c *gin.Context) {
	h.getByID(c, func(id string) (any, error) { return h.svc.Policy(c.Request.Context(), id) })
}

// HandleGetPrevention handles GET /v1/governance/preventions/:id.
func (h *Handlers) HandleGetPrevention(c *gin.Context) {
	h.getByID(c, func(id string) (any, error) { return h.svc.Prevention(c.Request.Context(), id) })
}

// HandleListPolicies handles GET /v1/governance/policies?tenant_id=.
func (h *Handlers) HandleListPolicies(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "tenant_id is required", Code: "MISSING_TENANT"})
		return
	}
	policies, err := h.svc.Policies(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "LIST_FAILED"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": policies})
}

// HandleListProposals handles GET /v1/governance/proposals?tenant_id=.
func (h *Handlers) HandleListProposals(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "tenant_id is required", Code: "MISSING_TENANT"})
		return
	}
	proposals, err := h.svc.Proposals(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "LIST_FAILED"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": proposals})
}

// HandleListPreventions handles GET /v1/governance/preventions?policy_id=.
func (h *Handlers) HandleListPreventions(c *gin.Context) {
	policyID := c.Query("policy_id")
	if policyID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "policy_id is required", Code: "MISSING_POLICY"})
		return
	}
	records, err := h.svc.PreventionsByPolicy(c.Request.Context(), policyID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "LIST_FAILED"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"preventions": records})
}

// HandleGetScore handles GET /v1/governance/policies/:id/score.
func (h *Handlers) HandleGetScore(c *gin.Context) {
	policyID := c.Param("id")
	outcome, err := h.svc.Score(c.Request.Context(), policyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "SCORE_FAILED"})
		return
	}
	c.JSON(http.StatusOK, ScoreResponse{
		PolicyID:       policyID,
		Confidence:     outcome.Confidence,
		Regret:         outcome.Regret,
		TruePositives:  outcome.TruePositives,
		FalsePositives: outcome.FalsePositives,
		TotalBlocks:    outcome.TotalBlocks,
	})
}

// HandleGetGraduation handles GET /v1/governance/graduation/:scope.
func (h *Handlers) HandleGetGraduation(c *gin.Context) {
	scope := c.Param("scope")
	state, err := h.svc.Graduation(c.Request.Context(), scope)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "scope not yet evaluated", Code: "NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "GRADUATION_FAILED"})
		return
	}
	c.JSON(http.StatusOK, state)
}

// HandleHealth handles GET /v1/governance/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: "governance"})
}

// HandleReady handles GET /v1/governance/ready.
func (h *Handlers) HandleReady(c *gin.Context) {
	if err := h.svc.Ready(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Service: "governance"})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ready", Service: "governance"})
}

// getByID is the shared evidence-export lookup shape.
func (h *Handlers) getByID(c *gin.Context, get func(id string) (any, error)) {
	id := c.Param("id")
	v, err := get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "LOOKUP_FAILED"})
		return
	}
	c.JSON(http.StatusOK, v)
}

// decisionErrorStatus maps decision errors to HTTP status and code.
func decisionErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_IDENTIFIER"
	case errors.Is(err, lifecycle.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, lifecycle.ErrAlreadyDecided):
		return http.StatusConflict, "ALREADY_DECIDED"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	default:
		return http.StatusInternalServerError, "DECIDE_FAILED"
	}
}

// promotionErrorStatus maps promotion errors to HTTP status and code.
func promotionErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_IDENTIFIER"
	case errors.Is(err, lifecycle.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, lifecycle.ErrObservationIncomplete):
		return http.StatusUnprocessableEntity, "OBSERVATION_INCOMPLETE"
	case errors.Is(err, lifecycle.ErrShadowFalsePositives):
		return http.StatusUnprocessableEntity, "SHADOW_FALSE_POSITIVES"
	case errors.Is(err, lifecycle.ErrConfidenceBelowThreshold):
		return http.StatusUnprocessableEntity, "CONFIDENCE_BELOW_THRESHOLD"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	default:
		return http.StatusInternalServerError, "PROMOTE_FAILED"
	}
}
