// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package enforce

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianGuard/services/governance/rules"
	"github.com/AleutianAI/AleutianGuard/services/governance/signature"
	"github.com/AleutianAI/AleutianGuard/services/governance/store"
)

type countingAlertSink struct {
	fired atomic.Int64
}

func (s *countingAlertSink) StoreUnavailable(context.Context, error) {
	s.fired.Add(1)
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

func testKey() store.Key {
	return store.Key{
		TenantID:    "acme",
		FeaturePath: "checkout/payment",
		Signature:   signature.PatternSignature("sig-00000000cafef00d"),
	}
}

// policyInMode installs a policy for the key in the requested mode.
func policyInMode(t *testing.T, db *store.Store, key store.Key, rule rules.Rule, mode store.PolicyMode) *store.Policy {
	t.Helper()
	ctx := context.Background()

	body, err := rules.Marshal(rule)
	if err != nil {
		t.Fatalf("marshal rule: %v", err)
	}
	prop := &store.PolicyProposal{
		ID:                uuid.NewString(),
		SourceIncidentIDs: []string{uuid.NewString()},
		TenantID:          key.TenantID,
		FeaturePath:       key.FeaturePath,
		Signature:         key.Signature,
		Body:              body,
		Status:            store.ProposalDraft,
		CreatedAt:         time.Now().UTC(),
	}
	if err := db.CreateProposal(ctx, prop); err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	pol, err := db.DecideProposal(ctx, prop.ID, "alice", true, uuid.NewString(), time.Now().UTC())
	if err != nil {
		t.Fatalf("decide proposal: %v", err)
	}

	for _, step := range []struct{ from, to store.PolicyMode }{
		{store.ModeShadow, store.ModePending},
		{store.ModePending, store.ModeActive},
	} {
		if pol.Mode == mode {
			break
		}
		pol, err = db.UpdatePolicyMode(ctx, pol.ID, step.from, step.to, "", time.Now().UTC())
		if err != nil {
			t.Fatalf("mode %s -> %s: %v", step.from, step.to, err)
		}
	}
	if pol.Mode != mode {
		t.Fatalf("policy mode = %s, want %s", pol.Mode, mode)
	}
	return pol
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	key := testKey()

	t.Run("no policy allows", func(t *testing.T) {
		db := testStore(t)
		e := New(db, nil, DefaultConfig(), nil)

		d, err := e.Check(ctx, CheckRequest{
			TenantID: key.TenantID, FeaturePath: key.FeaturePath,
			Signature: key.Signature, RequestRef: "req-1",
		})
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if d.Action != ActionAllow || d.FailedOpen {
			t.Fatalf("decision = %+v, want plain allow", d)
		}
	})

	t.Run("shadow policy never blocks", func(t *testing.T) {
		db := testStore(t)
		policyInMode(t, db, key, rules.MatchAll(), store.ModeShadow)
		e := New(db, nil, DefaultConfig(), nil)

		d, err := e.Check(ctx, CheckRequest{
			TenantID: key.TenantID, FeaturePath: key.FeaturePath,
			Signature: key.Signature, RequestRef: "req-1",
		})
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if d.Action != ActionAllow {
			t.Fatalf("action = %s, want allow", d.Action)
		}
	})

	t.Run("active match blocks with committed record", func(t *testing.T) {
		db := testStore(t)
		pol := policyInMode(t, db, key, rules.MatchAll(), store.ModeActive)
		e := New(db, nil, DefaultConfig(), nil)

		d, err := e.Check(ctx, CheckRequest{
			TenantID: key.TenantID, FeaturePath: key.FeaturePath,
			Signature: key.Signature, RequestRef: "req-42",
		})
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if d.Action != ActionBlock {
			t.Fatalf("action = %s, want block", d.Action)
		}
		if d.PolicyID != pol.ID {
			t.Fatalf("policy id = %s, want %s", d.PolicyID, pol.ID)
		}

		rec, err := db.GetPrevention(ctx, d.PreventionID)
		if err != nil {
			t.Fatalf("get prevention: %v", err)
		}
		if rec.BlockedRequestRef != "req-42" {
			t.Fatalf("request ref = %s", rec.BlockedRequestRef)
		}
	})

	t.Run("blocks only the exact key", func(t *testing.T) {
		db := testStore(t)
		policyInMode(t, db, key, rules.MatchAll(), store.ModeActive)
		e := New(db, nil, DefaultConfig(), nil)

		d, err := e.Check(ctx, CheckRequest{
			TenantID: key.TenantID, FeaturePath: "checkout/refund",
			Signature: key.Signature, RequestRef: "req-1",
		})
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if d.Action != ActionAllow {
			t.Fatalf("action = %s, want allow for different feature path", d.Action)
		}
	})

	t.Run("rule mismatch allows", func(t *testing.T) {
		db := testStore(t)
		rule := rules.Rule{Kind: rules.KindFieldEquals, Field: "region", Value: "us-east-1"}
		policyInMode(t, db, key, rule, store.ModeActive)
		e := New(db, nil, DefaultConfig(), nil)

		d, err := e.Check(ctx, CheckRequest{
			TenantID: key.TenantID, FeaturePath: key.FeaturePath,
			Signature: key.Signature, RequestRef: "req-1",
			Attributes: map[string]any{"region": "eu-west-1"},
		})
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if d.Action != ActionAllow {
			t.Fatalf("action = %s, want allow on rule mismatch", d.Action)
		}
	})
}

func TestCheckFailsOpen(t *testing.T) {
	ctx := context.Background()
	key := testKey()

	db := testStore(t)
	policyInMode(t, db, key, rules.MatchAll(), store.ModeActive)

	sink := &countingAlertSink{}
	e := New(db, sink, Config{AlertInterval: time.Hour}, nil)

	// Simulate store unavailability.
	if err := db.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	for i := 0; i < 3; i++ {
		d, err := e.Check(ctx, CheckRequest{
			TenantID: key.TenantID, FeaturePath: key.FeaturePath,
			Signature: key.Signature, RequestRef: "req-1",
		})
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if d.Action != ActionAllow || !d.FailedOpen {
			t.Fatalf("decision %d = %+v, want failed-open allow", i, d)
		}
	}

	// Alerts are throttled; the allow decisions are not.
	if got := sink.fired.Load(); got != 1 {
		t.Fatalf("alerts fired = %d, want 1", got)
	}
}
