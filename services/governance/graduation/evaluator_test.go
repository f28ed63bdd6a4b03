// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graduation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AleutianAI/AleutianGuard/services/governance/rules"
	"github.com/AleutianAI/AleutianGuard/services/governance/scoring"
	"github.com/AleutianAI/AleutianGuard/services/governance/signature"
	"github.com/AleutianAI/AleutianGuard/services/governance/store"
	"github.com/AleutianAI/AleutianGuard/services/governance/telemetry"
)

// storeDegrader walks the backward edge directly against the store.
type storeDegrader struct {
	db    *store.Store
	calls int
	fail  int // first N calls fail
}

func (d *storeDegrader) Degrade(ctx context.Context, policyID, reason string) (*store.Policy, error) {
	d.calls++
	if d.calls <= d.fail {
		return nil, fmt.Errorf("%w: injected", store.ErrStoreUnavailable)
	}
	pol, err := d.db.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if pol.Mode == store.ModeShadow {
		return pol, nil
	}
	return d.db.UpdatePolicyMode(ctx, policyID, store.ModeActive, store.ModeShadow, reason, time.Now().UTC())
}

type stubPublisher struct {
	surfaced bool
	err      error
}

func (p *stubPublisher) Publish(context.Context, string, *store.GraduationState) (bool, error) {
	return p.surfaced, p.err
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func activePolicy(t *testing.T, db *store.Store, tenant string) *store.Policy {
	t.Helper()
	ctx := context.Background()
	body, err := rules.Marshal(rules.MatchAll())
	if err != nil {
		t.Fatalf("marshal rule: %v", err)
	}
	prop := &store.PolicyProposal{
		ID:                uuid.NewString(),
		SourceIncidentIDs: []string{uuid.NewString()},
		TenantID:          tenant,
		FeaturePath:       "checkout/payment",
		Signature:         signature.PatternSignature("sig-0000000012345678"),
		Body:              body,
		Status:            store.ProposalDraft,
		CreatedAt:         time.Now().UTC(),
	}
	if err := db.CreateProposal(ctx, prop); err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	pol, err := db.DecideProposal(ctx, prop.ID, "alice", true, uuid.NewString(), time.Now().UTC())
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	for _, step := range []struct{ from, to store.PolicyMode }{
		{store.ModeShadow, store.ModePending},
		{store.ModePending, store.ModeActive},
	} {
		pol, err = db.UpdatePolicyMode(ctx, pol.ID, step.from, step.to, "", time.Now().UTC())
		if err != nil {
			t.Fatalf("mode %s -> %s: %v", step.from, step.to, err)
		}
	}
	return pol
}

// block writes one prevention record through the enforcement path.
func block(t *testing.T, db *store.Store, pol *store.Policy) *store.PreventionRecord {
	t.Helper()
	rec, err := db.CheckAndPrevent(context.Background(), pol.Key(), uuid.NewString(), uuid.NewString(), nil, time.Now().UTC())
	if err != nil {
		t.Fatalf("check and prevent: %v", err)
	}
	return rec
}

func override(t *testing.T, db *store.Store, rec *store.PreventionRecord) {
	t.Helper()
	o := &store.Override{
		ID:           uuid.NewString(),
		PolicyID:     rec.PolicyID,
		PreventionID: rec.ID,
		Reason:       "legitimate request",
		ActorID:      "support",
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.CreateOverride(context.Background(), o); err != nil {
		t.Fatalf("create override: %v", err)
	}
}

func testEvaluator(db *store.Store, degrader Degrader, publisher EvidencePublisher) *Evaluator {
	cfg := Config{
		Interval:          time.Minute,
		Window:            24 * time.Hour,
		MinPreventionRate: 0.25,
		MaxRegret:         0.2,
		DegradeRetries:    4,
		DegradeBackoff:    time.Millisecond,
	}
	e := New(db, scoring.NewCalculator(db, scoring.DefaultCalculatorConfig()), degrader, publisher, cfg, nil, nil)
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

func TestEvaluateScope(t *testing.T) {
	ctx := context.Background()

	t.Run("empty scope observes", func(t *testing.T) {
		db := testStore(t)
		e := testEvaluator(db, &storeDegrader{db: db}, &stubPublisher{surfaced: true})

		state, err := e.EvaluateScope(ctx, "acme")
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if state.Mode != store.ModeObserving {
			t.Fatalf("mode = %s, want OBSERVING", state.Mode)
		}
		if state.GatePrevention != store.GateFail {
			t.Fatal("prevention gate passed with zero prevention records")
		}
	})

	t.Run("clean preventions with surfaced evidence prove the scope", func(t *testing.T) {
		db := testStore(t)
		pol := activePolicy(t, db, "acme")
		for i := 0; i < 3; i++ {
			block(t, db, pol)
		}
		e := testEvaluator(db, &storeDegrader{db: db}, &stubPublisher{surfaced: true})

		state, err := e.EvaluateScope(ctx, "acme")
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if state.Mode != store.ModeProven {
			t.Fatalf("mode = %s, want PROVEN (state %+v)", state.Mode, state)
		}

		stored, err := db.GetGraduationState(ctx, "acme")
		if err != nil {
			t.Fatalf("get state: %v", err)
		}
		if stored.Mode != store.ModeProven {
			t.Fatalf("persisted mode = %s", stored.Mode)
		}
	})

	t.Run("unsurfaced evidence caps at rollback safe", func(t *testing.T) {
		db := testStore(t)
		pol := activePolicy(t, db, "acme")
		block(t, db, pol)
		e := testEvaluator(db, &storeDegrader{db: db}, &stubPublisher{surfaced: false})

		state, err := e.EvaluateScope(ctx, "acme")
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if state.Mode != store.ModeRollbackSafe {
			t.Fatalf("mode = %s, want ROLLBACK_SAFE", state.Mode)
		}
	})

	t.Run("publisher error fails only the timeline gate", func(t *testing.T) {
		db := testStore(t)
		pol := activePolicy(t, db, "acme")
		block(t, db, pol)
		e := testEvaluator(db, &storeDegrader{db: db}, &stubPublisher{err: errors.New("observer down")})

		state, err := e.EvaluateScope(ctx, "acme")
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if state.GateTimeline != store.GateFail || state.Mode != store.ModeRollbackSafe {
			t.Fatalf("state = %+v, want rollback safe with failed timeline gate", state)
		}
	})
}

func TestRegretTriggersDegrade(t *testing.T) {
	ctx := context.Background()
	db := testStore(t)
	pol := activePolicy(t, db, "t2")

	// Three blocks, two later judged incorrect: regret 0.67.
	recs := make([]*store.PreventionRecord, 3)
	for i := range recs {
		recs[i] = block(t, db, pol)
	}
	override(t, db, recs[0])
	override(t, db, recs[1])

	degrader := &storeDegrader{db: db}
	e := testEvaluator(db, degrader, &stubPublisher{surfaced: true})

	state, err := e.EvaluateScope(ctx, "t2")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	got, err := db.GetPolicy(ctx, pol.ID)
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if got.Mode != store.ModeShadow {
		t.Fatalf("policy mode = %s, want SHADOW after regret degrade", got.Mode)
	}
	if state.Mode == store.ModeProven {
		t.Fatalf("scope still PROVEN with regret rate %.2f", state.RegretRate)
	}
	if state.GateRollbackSafety != store.GateFail {
		t.Fatal("rollback safety gate passed over regret threshold")
	}
}

func TestDegradeRetriesWithBackoff(t *testing.T) {
	ctx := context.Background()
	db := testStore(t)
	pol := activePolicy(t, db, "t2")

	recs := []*store.PreventionRecord{block(t, db, pol), block(t, db, pol)}
	override(t, db, recs[0])
	override(t, db, recs[1])

	// First two attempts fail; the loop retries and succeeds.
	degrader := &storeDegrader{db: db, fail: 2}
	e := testEvaluator(db, degrader, &stubPublisher{surfaced: true})

	if _, err := e.EvaluateScope(ctx, "t2"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if degrader.calls != 3 {
		t.Fatalf("degrade calls = %d, want 3", degrader.calls)
	}
	got, err := db.GetPolicy(ctx, pol.ID)
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if got.Mode != store.ModeShadow {
		t.Fatalf("policy mode = %s, want SHADOW", got.Mode)
	}
}

// counterTotal sums every data point of a named int64 counter.
func counterTotal(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is %T, want Sum[int64]", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("metric %s was not recorded", name)
	return 0
}

func TestEvaluateAllRecordsSweepMetrics(t *testing.T) {
	ctx := context.Background()
	db := testStore(t)
	pol := activePolicy(t, db, "t2")

	// Two blocks, both overridden: regret 1.0 forces a degrade.
	override(t, db, block(t, db, pol))
	override(t, db, block(t, db, pol))

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(ctx)
	metrics, err := telemetry.NewMetrics(provider.Meter("test_evaluator"))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	cfg := Config{
		Interval:          time.Minute,
		Window:            24 * time.Hour,
		MinPreventionRate: 0.25,
		MaxRegret:         0.2,
		DegradeRetries:    4,
		DegradeBackoff:    time.Millisecond,
	}
	e := New(db, scoring.NewCalculator(db, scoring.DefaultCalculatorConfig()),
		&storeDegrader{db: db}, &stubPublisher{surfaced: true}, cfg, metrics, nil)
	e.sleep = func(context.Context, time.Duration) error { return nil }

	if err := e.EvaluateAll(ctx); err != nil {
		t.Fatalf("evaluate all: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := counterTotal(t, rm, "governance_evaluations_total"); got != 1 {
		t.Fatalf("evaluations_total = %d, want 1", got)
	}
	if got := counterTotal(t, rm, "governance_degrades_total"); got != 1 {
		t.Fatalf("degrades_total = %d, want 1", got)
	}
}

func TestEvaluateAllWritesGlobalRollup(t *testing.T) {
	ctx := context.Background()
	db := testStore(t)
	pol := activePolicy(t, db, "acme")
	block(t, db, pol)

	e := testEvaluator(db, &storeDegrader{db: db}, &stubPublisher{surfaced: true})
	if err := e.EvaluateAll(ctx); err != nil {
		t.Fatalf("evaluate all: %v", err)
	}

	for _, scope := range []string{"acme", store.ScopeGlobal} {
		state, err := db.GetGraduationState(ctx, scope)
		if err != nil {
			t.Fatalf("get state %s: %v", scope, err)
		}
		if state.Scope != scope {
			t.Fatalf("scope = %s, want %s", state.Scope, scope)
		}
	}
}
