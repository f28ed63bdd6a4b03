// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package enforce is the request-path prevention check.
//
// The enforcer sits inline on the serving path, so its failure posture
// is fail-open: when the governance store is unreachable the request
// is allowed through and a critical alert fires. Governance protects
// the product; it must never become the outage.
package enforce

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianGuard/services/governance/rules"
	"github.com/AleutianAI/AleutianGuard/services/governance/signature"
	"github.com/AleutianAI/AleutianGuard/services/governance/store"
)

// Action is the enforcement outcome for a checked request.
type Action string

const (
	// ActionAllow lets the request proceed.
	ActionAllow Action = "allow"

	// ActionBlock rejects the request; a committed PreventionRecord
	// backs every block.
	ActionBlock Action = "block"
)

// CheckRequest describes the candidate request being checked.
type CheckRequest struct {
	TenantID    string                     `json:"tenant_id"`
	FeaturePath string                     `json:"feature_path"`
	Signature   signature.PatternSignature `json:"pattern_signature"`

	// RequestRef identifies the request being checked so an override
	// can later point back at the exact block.
	RequestRef string `json:"request_ref"`

	// Attributes are the request attributes rule bodies evaluate
	// against.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Decision is the enforcement verdict.
type Decision struct {
	Action Action `json:"action"`

	// PolicyID and PreventionID are set on block.
	PolicyID     string `json:"policy_id,omitempty"`
	PreventionID string `json:"prevention_id,omitempty"`

	// FailedOpen marks an allow that was forced by store
	// unavailability rather than the absence of a matching policy.
	FailedOpen bool `json:"failed_open,omitempty"`
}

// AlertSink receives critical fail-open alerts. The service wires this
// to its paging integration; tests substitute a recorder.
type AlertSink interface {
	StoreUnavailable(ctx context.Context, err error)
}

// LogAlertSink logs fail-open alerts at error level.
type LogAlertSink struct {
	Logger *slog.Logger
}

// StoreUnavailable implements AlertSink.
func (s *LogAlertSink) StoreUnavailable(_ context.Context, err error) {
	s.Logger.Error("CRITICAL: enforcement failing open, governance store unavailable",
		slog.String("error", err.Error()))
}

// Config configures the enforcer.
type Config struct {
	// AlertInterval throttles repeated store-unavailable alerts. A
	// flapping store fires at most one alert per interval; the
	// fail-open decision itself is never throttled.
	AlertInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{AlertInterval: 30 * time.Second}
}

// Enforcer performs inline prevention checks.
//
// # Thread Safety
//
// Safe for concurrent use.
type Enforcer struct {
	db      *store.Store
	alerts  AlertSink
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// New creates an enforcer.
//
// Inputs:
//
//	db - The governance store. Must not be nil.
//	alerts - Fail-open alert sink; nil uses a logging sink.
//	config - Enforcer configuration.
//	logger - Structured logger; nil uses slog's default.
func New(db *store.Store, alerts AlertSink, config Config, logger *slog.Logger) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	if alerts == nil {
		alerts = &LogAlertSink{Logger: logger}
	}
	interval := config.AlertInterval
	if interval <= 0 {
		interval = DefaultConfig().AlertInterval
	}
	return &Enforcer{
		db:      db,
		alerts:  alerts,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Check runs the inline prevention check for a request.
//
// Description:
//
//	Looks up the ACTIVE policy for the exact (tenant, feature path,
//	signature) key and evaluates its rule body against the request
//	attributes in a single store transaction. A block is returned only
//	with a committed PreventionRecord behind it. No ACTIVE match means
//	allow. Store unavailability means allow with FailedOpen set and a
//	throttled critical alert.
//
// Outputs:
//
//	Decision - The verdict; never zero-valued on nil error.
//	error - Non-store failures only. Store unavailability is absorbed
//	        by the fail-open posture.
func (e *Enforcer) Check(ctx context.Context, req CheckRequest) (Decision, error) {
	key := store.Key{
		TenantID:    req.TenantID,
		FeaturePath: req.FeaturePath,
		Signature:   req.Signature,
	}
	match := func(p *store.Policy) bool {
		return rules.EvaluateBody(p.Body, req.Attributes)
	}

	rec, err := e.db.CheckAndPrevent(ctx, key, req.RequestRef, e.newID(), match, e.now())
	switch {
	case err == nil:
		e.logger.Info("request blocked by active policy",
			slog.String("tenant_id", req.TenantID),
			slog.String("feature_path", req.FeaturePath),
			slog.String("policy_id", rec.PolicyID),
			slog.String("prevention_id", rec.ID))
		return Decision{Action: ActionBlock, PolicyID: rec.PolicyID, PreventionID: rec.ID}, nil

	case errors.Is(err, store.ErrNoActivePolicy):
		return Decision{Action: ActionAllow}, nil

	case errors.Is(err, store.ErrStoreUnavailable):
		if e.limiter.Allow() {
			e.alerts.StoreUnavailable(ctx, err)
		}
		return Decision{Action: ActionAllow, FailedOpen: true}, nil

	default:
		return Decision{}, err
	}
}
