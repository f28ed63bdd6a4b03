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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all governance routes with the router.
//
// Description:
//
//	Registers the /v1/governance/* endpoints with the given Gin router
//	group. The group should already carry any required middleware.
//
//	There is deliberately no degrade endpoint: the backward lifecycle
//	edge belongs to the graduation evaluator alone.
//
// Ingestion and proposals:
//
//	POST /v1/governance/failures - Submit a failure (prevention or incident)
//	POST /v1/governance/proposals - Generate a proposal for a key
//	GET  /v1/governance/proposals - List proposals by tenant
//	POST /v1/governance/proposals/:id/decide - Human decision on a proposal
//
// Policy lifecycle:
//
//	POST /v1/governance/policies/:id/promote - Advance one forward edge
//	GET  /v1/governance/policies - List policies by tenant
//	GET  /v1/governance/policies/:id - Get policy
//	GET  /v1/governance/policies/:id/score - Confidence and regret
//	GET  /v1/governance/policies/:id/shadow - List shadow observations
//	POST /v1/governance/policies/:id/shadow/flag - Flag a false positive
//
// Enforcement:
//
//	POST /v1/governance/check - Inline Allow|Block check
//	POST /v1/governance/overrides - Record a manual override
//
// Evidence export:
//
//	GET  /v1/governance/incidents/:id - Incident by id
//	POST /v1/governance/incidents/:id/resolve - Close an open incident
//	GET  /v1/governance/preventions/:id - Prevention record by id
//	GET  /v1/governance/preventions - List by policy
//	GET  /v1/governance/graduation/:scope - Graduation snapshot
//
// Health:
//
//	GET  /v1/governance/health - Health check
//	GET  /v1/governance/ready - Readiness check
//
// Example:
//
//	svc := governance.NewService(db, auth, nil, governance.DefaultServiceConfig(), metrics, logger)
//	handlers := governance.NewHandlers(svc)
//
//	v1 := router.Group("/v1")
//	governance.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	gov := rg.Group("/governance")
	{
		// Failure ingestion
		gov.POST("/failures", handlers.HandleSubmitFailure)

		// Proposals and the approval gate
		gov.POST("/proposals", handlers.HandlePropose)
		gov.GET("/proposals", handlers.HandleListProposals)
		gov.POST("/proposals/:id/decide", handlers.HandleDecide)

		// Policy lifecycle
		gov.POST("/policies/:id/promote", handlers.HandlePromote)
		gov.GET("/policies", handlers.HandleListPolicies)
		gov.GET("/policies/:id", handlers.HandleGetPolicy)
		gov.GET("/policies/:id/score", handlers.HandleGetScore)
		gov.GET("/policies/:id/shadow", handlers.HandleListShadowObservations)
		gov.POST("/policies/:id/shadow/flag", handlers.HandleFlagShadow)

		// Enforcement
		gov.POST("/check", handlers.HandleCheck)
		gov.POST("/overrides", handlers.HandleOverride)

		// Evidence export
		gov.GET("/incidents/:id", handlers.HandleGetIncident)
		gov.POST("/incidents/:id/resolve", handlers.HandleResolveIncident)
		gov.GET("/preventions/:id", handlers.HandleGetPrevention)
		gov.GET("/preventions", handlers.HandleListPreventions)
		gov.GET("/graduation/:scope", handlers.HandleGetGraduation)

		// Health checks
		gov.GET("/health", handlers.HandleHealth)
		gov.GET("/ready", handlers.HandleReady)
	}
}
