// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents a security-relevant event for compliance logging.
//
// Governance actions carry legal weight: an approval decision is a
// human taking responsibility for automated enforcement. The audit
// trail is how that accountability survives staff turnover and
// incident reviews.
//
// # Event Categories
//
// Events are categorized by type for filtering and alerting:
//   - Approval gate: "proposal.approved", "proposal.rejected"
//   - Lifecycle: "policy.promoted", "policy.degraded"
//   - Shadow review: "shadow.false_positive"
//   - Enforcement: "prevention.overridden"
//   - Incidents: "incident.resolved"
//
// # Compliance Fields
//
// For regulatory compliance, always populate:
//   - ActorID: who took the action ("system" for automated actions)
//   - Timestamp: required for audit trail integrity
//   - ResourceType/ResourceID: required for data lineage
type AuditEvent struct {
	// EventType categorizes the event for filtering and alerting.
	// Format: "category.action" (e.g., "proposal.approved").
	EventType string

	// Timestamp is when the event occurred (always use UTC).
	// If zero, implementations should set to time.Now().UTC().
	Timestamp time.Time

	// ActorID identifies who performed the action.
	// Use "system" for automated actions.
	ActorID string

	// ResourceType is the category of resource involved.
	// Examples: "proposal", "policy", "prevention".
	ResourceType string

	// ResourceID is the specific resource instance.
	ResourceID string

	// Outcome indicates the result of the action.
	// Values: "success", "failure", "blocked", "error".
	Outcome string

	// Metadata holds additional event-specific data.
	//
	// Common metadata keys:
	//   - "tenant_id": the owning tenant
	//   - "mode": policy mode after a transition
	//   - "reason": override or degrade reason
	Metadata map[string]any
}

// AuditLogger records security-relevant events for compliance and analysis.
//
// Implementations must be safe for concurrent use. Log should be
// non-blocking or have reasonable timeouts; governance request paths
// must not stall on a slow audit sink.
//
// # Open Source Behavior
//
// The default NopAuditLogger discards all events. This is appropriate
// for local single-user deployments where audit trails aren't required.
//
// # Enterprise Implementation
//
// Enterprise versions send events to SIEM systems (Splunk, Datadog,
// ELK), cloud logging, or compliance databases. For compliance-critical
// events, sync logging is recommended.
type AuditLogger interface {
	// Log records a security-relevant event.
	//
	// Implementations should:
	//   1. Set Timestamp if zero
	//   2. Validate required fields (EventType, ActorID)
	//   3. Persist or transmit the event
	//   4. Return quickly (use async if needed)
	Log(ctx context.Context, event AuditEvent) error
}

// NopAuditLogger discards all audit events.
type NopAuditLogger struct{}

// Log implements AuditLogger by doing nothing.
func (NopAuditLogger) Log(_ context.Context, _ AuditEvent) error { return nil }

// SlogAuditLogger writes audit events to a structured log stream.
// It gives local deployments a greppable audit trail without any
// external infrastructure.
type SlogAuditLogger struct {
	Logger *slog.Logger
}

// Log implements AuditLogger.
func (l *SlogAuditLogger) Log(_ context.Context, event AuditEvent) error {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	l.Logger.Info("audit",
		slog.String("event_type", event.EventType),
		slog.Time("timestamp", ts),
		slog.String("actor_id", event.ActorID),
		slog.String("resource_type", event.ResourceType),
		slog.String("resource_id", event.ResourceID),
		slog.String("outcome", event.Outcome),
		slog.Any("metadata", event.Metadata),
	)
	return nil
}
