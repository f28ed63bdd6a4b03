// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graduation runs the top-level control loop.
//
// The evaluator periodically recomputes the per-scope GraduationState
// from incident, prevention, and override history, and holds the
// rollback readiness contract: an ACTIVE policy whose regret crosses
// the threshold is degraded back to SHADOW, with retries, on the spot.
// Enforcement never reads GraduationState; the snapshot exists for
// operators and dashboards.
package graduation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianGuard/services/governance/scoring"
	"github.com/AleutianAI/AleutianGuard/services/governance/store"
	"github.com/AleutianAI/AleutianGuard/services/governance/telemetry"
)

// Degrader walks a policy back from ACTIVE to SHADOW. Satisfied by
// the lifecycle manager; this evaluator is its only caller.
type Degrader interface {
	Degrade(ctx context.Context, policyID, reason string) (*store.Policy, error)
}

// Scorer supplies per-policy outcomes.
type Scorer interface {
	Score(ctx context.Context, policyID string) (scoring.Outcome, error)
}

// EvidencePublisher surfaces prevention evidence to an external
// observer. Gate 3 passes only when the observer has the evidence;
// failure here degrades provability, never automation.
type EvidencePublisher interface {
	// Publish pushes the scope snapshot out. It returns true when the
	// evidence is visible to the external observer.
	Publish(ctx context.Context, scope string, state *store.GraduationState) (bool, error)
}

// Config configures the evaluator.
type Config struct {
	// Interval between evaluation sweeps.
	Interval time.Duration

	// Window is the lookback for rates.
	Window time.Duration

	// MinPreventionRate is the gate 1 threshold on the fraction of
	// matched failure events that were prevented rather than becoming
	// incidents.
	MinPreventionRate float64

	// MaxRegret is the gate 2 threshold and the mandatory per-policy
	// degrade trigger.
	MaxRegret float64

	// DegradeRetries and DegradeBackoff govern retry of a failed
	// degrade call. Backoff doubles per attempt.
	DegradeRetries int
	DegradeBackoff time.Duration

	// TenantConcurrency bounds the per-tenant fan-out.
	TenantConcurrency int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:          time.Minute,
		Window:            7 * 24 * time.Hour,
		MinPreventionRate: 0.25,
		MaxRegret:         0.2,
		DegradeRetries:    5,
		DegradeBackoff:    200 * time.Millisecond,
		TenantConcurrency: 8,
	}
}

// Evaluator is the graduation control loop. It is the single writer
// of GraduationState.
//
// # Thread Safety
//
// Run is meant for a single goroutine; EvaluateScope is safe to call
// concurrently for distinct scopes.
type Evaluator struct {
	config    Config
	db        *store.Store
	scorer    Scorer
	degrader  Degrader
	publisher EvidencePublisher
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// New creates an evaluator.
//
// Inputs:
//
//	db - The governance store. Must not be nil.
//	scorer - Per-policy outcome source. Must not be nil.
//	degrader - The lifecycle manager's backward edge. Must not be nil.
//	publisher - Evidence surface for gate 3; nil fails gate 3.
//	config - Loop configuration.
//	metrics - Pre-registered metrics; nil disables instrumentation.
//	logger - Structured logger; nil uses slog's default.
func New(db *store.Store, scorer Scorer, degrader Degrader, publisher EvidencePublisher, config Config, metrics *telemetry.Metrics, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	if config.TenantConcurrency <= 0 {
		config.TenantConcurrency = DefaultConfig().TenantConcurrency
	}
	if config.DegradeRetries <= 0 {
		config.DegradeRetries = DefaultConfig().DegradeRetries
	}
	if config.DegradeBackoff <= 0 {
		config.DegradeBackoff = DefaultConfig().DegradeBackoff
	}
	return &Evaluator{
		config:    config,
		db:        db,
		scorer:    scorer,
		degrader:  degrader,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes the periodic loop until the context is cancelled.
func (e *Evaluator) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.EvaluateAll(ctx); err != nil {
				// Background loop; log and keep ticking.
				e.logger.Error("evaluation sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// EvaluateAll recomputes every tenant scope concurrently, then the
// global rollup.
func (e *Evaluator) EvaluateAll(ctx context.Context) error {
	start := time.Now()
	err := e.evaluateAll(ctx)

	status := "ok"
	if err != nil {
		status = "error"
	}
	m := e.metricOrNil()
	attrs := metric.WithAttributes(attribute.String("status", status))
	if m.EvaluationsTotal != nil {
		m.EvaluationsTotal.Add(ctx, 1, attrs)
	}
	if m.EvaluationDuration != nil {
		m.EvaluationDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	return err
}

func (e *Evaluator) evaluateAll(ctx context.Context) error {
	tenants, err := e.db.Tenants(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.TenantConcurrency)
	for _, tenant := range tenants {
		g.Go(func() error {
			_, err := e.EvaluateScope(gctx, tenant)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	_, err = e.EvaluateScope(ctx, store.ScopeGlobal)
	return err
}

// EvaluateScope recomputes and persists one scope's snapshot.
//
// Description:
//
//	Computes the three gates over the lookback window, degrades any
//	ACTIVE policy whose regret crossed the threshold, and writes the
//	GraduationState. Degrade failures are retried with backoff inside
//	the call and never propagated.
func (e *Evaluator) EvaluateScope(ctx context.Context, scope string) (*store.GraduationState, error) {
	now := e.now()
	since := now.Add(-e.config.Window)

	tenants := []string{scope}
	if scope == store.ScopeGlobal {
		var err error
		tenants, err = e.db.Tenants(ctx)
		if err != nil {
			return nil, err
		}
	}

	var preventions, incidents int
	var blocks, overridden int
	for _, tenant := range tenants {
		p, err := e.db.CountPreventionsByTenantSince(ctx, tenant, since)
		if err != nil {
			return nil, err
		}
		i, err := e.db.CountIncidentsByTenantSince(ctx, tenant, since)
		if err != nil {
			return nil, err
		}
		preventions += p
		incidents += i

		b, o, err := e.scorePolicies(ctx, tenant)
		if err != nil {
			return nil, err
		}
		blocks += b
		overridden += o
	}

	preventionRate := 0.0
	if preventions+incidents > 0 {
		preventionRate = float64(preventions) / float64(preventions+incidents)
	}
	regretRate := 0.0
	if blocks > 0 {
		regretRate = float64(overridden) / float64(blocks)
	}

	state := &store.GraduationState{
		Scope:           scope,
		PreventionRate:  preventionRate,
		RegretRate:      regretRate,
		LastEvaluatedAt: now,
	}
	state.GatePrevention = gate(preventions >= 1 && preventionRate >= e.config.MinPreventionRate)
	state.GateRollbackSafety = gate(regretRate <= e.config.MaxRegret)
	state.GateTimeline = e.publishGate(ctx, scope, state)

	switch {
	case state.GatePrevention == store.GatePass &&
		state.GateRollbackSafety == store.GatePass &&
		state.GateTimeline == store.GatePass:
		state.Mode = store.ModeProven
	case state.GatePrevention == store.GatePass && state.GateRollbackSafety == store.GatePass:
		state.Mode = store.ModeRollbackSafe
	default:
		state.Mode = store.ModeObserving
	}

	if err := e.db.PutGraduationState(ctx, state); err != nil {
		return nil, err
	}
	e.logger.Debug("scope evaluated",
		slog.String("scope", scope),
		slog.String("mode", string(state.Mode)),
		slog.Float64("prevention_rate", preventionRate),
		slog.Float64("regret_rate", regretRate))
	return state, nil
}

func gate(pass bool) store.GateStatus {
	if pass {
		return store.GatePass
	}
	return store.GateFail
}

// publishGate runs the evidence surface for gate 3. Publisher errors
// fail the gate, not the sweep.
func (e *Evaluator) publishGate(ctx context.Context, scope string, state *store.GraduationState) store.GateStatus {
	if e.publisher == nil {
		return store.GateFail
	}
	surfaced, err := e.publisher.Publish(ctx, scope, state)
	if err != nil {
		e.logger.Warn("evidence publish failed",
			slog.String("scope", scope),
			slog.String("error", err.Error()))
		return store.GateFail
	}
	return gate(surfaced)
}

// scorePolicies scores a tenant's policies, degrading any ACTIVE
// policy over the regret threshold, and returns the block/override
// totals feeding the scope's regret rate.
func (e *Evaluator) scorePolicies(ctx context.Context, tenant string) (blocks, overridden int, err error) {
	policies, err := e.db.ListPolicies(ctx, tenant)
	if err != nil {
		return 0, 0, err
	}
	for _, pol := range policies {
		outcome, err := e.scorer.Score(ctx, pol.ID)
		if err != nil {
			return 0, 0, err
		}
		blocks += outcome.TotalBlocks
		overridden += outcome.FalsePositives

		if pol.Mode == store.ModeActive && outcome.Regret > e.config.MaxRegret {
			e.degradeWithRetry(ctx, pol.ID, outcome.Regret)
		}
	}
	return blocks, overridden, nil
}

// degradeWithRetry enforces the rollback readiness contract. Failures
// retry with doubling backoff and are logged, never surfaced.
func (e *Evaluator) degradeWithRetry(ctx context.Context, policyID string, regret float64) {
	reason := "regret above threshold"
	backoff := e.config.DegradeBackoff
	var lastErr error
	for attempt := 0; attempt < e.config.DegradeRetries; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, backoff); err != nil {
				lastErr = err
				break
			}
			backoff *= 2
		}
		if _, lastErr = e.degrader.Degrade(ctx, policyID, reason); lastErr == nil {
			e.countDegrade(ctx, "success")
			e.logger.Warn("active policy degraded by evaluator",
				slog.String("policy_id", policyID),
				slog.Float64("regret", regret))
			return
		}
	}
	e.countDegrade(ctx, "failure")
	e.logger.Error("degrade failed after retries",
		slog.String("policy_id", policyID),
		slog.Int("attempts", e.config.DegradeRetries),
		slog.String("error", lastErr.Error()))
}

func (e *Evaluator) countDegrade(ctx context.Context, outcome string) {
	if c := e.metricOrNil().DegradesTotal; c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// metricOrNil avoids nil-field derefs when instrumentation is off.
func (e *Evaluator) metricOrNil() *telemetry.Metrics {
	if e.metrics == nil {
		return &telemetry.Metrics{}
	}
	return e.metrics
}
