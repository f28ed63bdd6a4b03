// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package proposal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianGuard/services/governance/signature"
	"github.com/AleutianAI/AleutianGuard/services/governance/store"
)

func testKey() store.Key {
	return store.Key{
		TenantID:    "t1",
		FeaturePath: "billing/invoice/render",
		Signature:   signature.PatternSignature("sig-deadbeefdeadbeef"),
	}
}

func seedIncidents(t *testing.T, db *store.Store, key store.Key, n int, at time.Time) []string {
	t.Helper()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		inc := &store.Incident{
			ID:          uuid.NewString(),
			TenantID:    key.TenantID,
			FeaturePath: key.FeaturePath,
			Signature:   key.Signature,
			CreatedAt:   at.Add(time.Duration(i) * time.Minute),
			Status:      store.IncidentOpen,
		}
		if err := db.CreateIncident(context.Background(), inc); err != nil {
			t.Fatalf("seed incident: %v", err)
		}
		ids[i] = inc.ID
	}
	return ids
}

func TestProposeInsufficientEvidence(t *testing.T) {
	db, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()

	gen := NewGenerator(db, DefaultGeneratorConfig())
	key := testKey()
	seedIncidents(t, db, key, 2, time.Now())

	_, err = gen.Propose(context.Background(), key)
	if !errors.Is(err, ErrInsufficientEvidence) {
		t.Fatalf("expected ErrInsufficientEvidence, got %v", err)
	}

	var ee *EvidenceError
	if !errors.As(err, &ee) {
		t.Fatal("expected EvidenceError detail")
	}
	if ee.Have != 2 || ee.Need != 3 {
		t.Errorf("expected 2 of 3, got %d of %d", ee.Have, ee.Need)
	}
}

func TestProposeEmitsSingleDraft(t *testing.T) {
	db, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()

	gen := NewGenerator(db, DefaultGeneratorConfig())
	key := testKey()
	ids := seedIncidents(t, db, key, 3, time.Now())

	first, err := gen.Propose(context.Background(), key)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if first.Status != store.ProposalDraft {
		t.Errorf("expected draft status, got %s", first.Status)
	}
	if len(first.SourceIncidentIDs) != len(ids) {
		t.Errorf("expected %d source incidents, got %d", len(ids), len(first.SourceIncidentIDs))
	}

	t.Run("re-invocation returns the existing draft", func(t *testing.T) {
		second, err := gen.Propose(context.Background(), key)
		if err != nil {
			t.Fatalf("propose again: %v", err)
		}
		if second.ID != first.ID {
			t.Errorf("expected same draft %s, got %s", first.ID, second.ID)
		}
	})

	t.Run("incidents are not mutated", func(t *testing.T) {
		inc, err := db.GetIncident(context.Background(), ids[0])
		if err != nil {
			t.Fatalf("get incident: %v", err)
		}
		if inc.Status != store.IncidentOpen {
			t.Errorf("expected incident untouched, got status %s", inc.Status)
		}
	})
}

func TestProposeRespectsRollingWindow(t *testing.T) {
	db, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()

	gen := NewGenerator(db, DefaultGeneratorConfig())
	key := testKey()

	// Stale incidents outside the 24h window plus one fresh: below minimum.
	seedIncidents(t, db, key, 3, time.Now().Add(-48*time.Hour))
	seedIncidents(t, db, key, 1, time.Now())

	_, err = gen.Propose(context.Background(), key)
	if !errors.Is(err, ErrInsufficientEvidence) {
		t.Fatalf("expected ErrInsufficientEvidence for stale evidence, got %v", err)
	}
}
