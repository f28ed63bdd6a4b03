// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides BadgerDB-backed persistence for the
// governance loop.
//
// BadgerDB gives local embedded storage with low-latency point reads,
// which keeps the enforcement lookup inside its single-digit
// millisecond budget. Entities are stored as JSON values under typed
// key prefixes; composite indexes use NUL-separated segments.
//
// # Mutability model
//
//   - Incident: append-only except the status flip to resolved
//   - PolicyProposal: single decision transition, then immutable
//   - Policy: mode transitions through UpdatePolicyMode (CAS semantics)
//   - PreventionRecord, Override: write-once, refuse overwrites
//   - GraduationState: single writer (the graduation evaluator)
//
// # Thread Safety
//
// Store is safe for concurrent use. Badger transactions provide
// snapshot isolation; callers needing serialized mode transitions per
// key hold the lifecycle manager's per-key lock around UpdatePolicyMode.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianGuard/services/governance/signature"
)

// Config holds configuration for the governance store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Prevention records are court-exhibit evidence; keep this on in
	// production.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. Nil disables it.
	Logger *slog.Logger

	// GCInterval is how often value log garbage collection runs.
	// Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable ratio before GC runs.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is the BadgerDB-backed governance store.
type Store struct {
	db     *badger.DB
	stopGC chan struct{}
	doneGC chan struct{}
	logger *slog.Logger
}

// Open creates and opens a governance store.
//
// Description:
//
//	Opens a BadgerDB database at the configured path, or in memory if
//	InMemory is true. Creates the directory if it doesn't exist and
//	starts the GC loop when configured.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*Store - The opened store. Caller must call Close() when done.
//	error - Non-nil if the path is invalid or the database cannot open.
//
// Thread Safety: The returned *Store is safe for concurrent use.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Store{db: db, logger: cfg.Logger}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.doneGC = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}

	return s, nil
}

// OpenInMemory opens an in-memory store for testing.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
		s.stopGC = nil
	}
	return s.db.Close()
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.doneGC)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && s.logger != nil {
				s.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// =============================================================================
// KEY SCHEME
// =============================================================================

// Key prefixes. Composite segments are NUL-separated so feature paths
// containing slashes cannot collide across segments.
const (
	prefIncident      = "inc"      // inc \x00 id -> Incident
	prefIncidentIdx   = "incidx"   // incidx \x00 tenant \x00 sig \x00 ts \x00 id -> id
	prefProposal      = "prop"     // prop \x00 id -> PolicyProposal
	prefProposalOpen  = "propopen" // propopen \x00 tenant \x00 sig \x00 fp -> id
	prefPolicy        = "pol"      // pol \x00 id -> Policy
	prefPolicyKey     = "polkey"   // polkey \x00 tenant \x00 sig \x00 fp -> id (current policy)
	prefPolicyVersion = "polver"   // polver \x00 tenant \x00 sig -> last version
	prefPrevention    = "prev"     // prev \x00 id -> PreventionRecord
	prefPreventionPol = "prevpol"  // prevpol \x00 policy_id \x00 id -> id
	prefPreventionIdx = "previdx"  // previdx \x00 tenant \x00 ts \x00 id -> id
	prefOverride      = "ovr"      // ovr \x00 id -> Override
	prefOverridePol   = "ovrpol"   // ovrpol \x00 policy_id \x00 id -> id
	prefShadow        = "shadow"   // shadow \x00 policy_id \x00 id -> ShadowObservation
	prefGraduation    = "grad"     // grad \x00 scope -> GraduationState
)

const keySep = "\x00"

func k(parts ...string) []byte {
	var b bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			b.WriteString(keySep)
		}
		b.WriteString(p)
	}
	return b.Bytes()
}

func tsSegment(t time.Time) string {
	return fmt.Sprintf("%020d", t.UnixNano())
}

// mapErr classifies badger failures. Key-not-found is a domain
// condition; everything else on the store boundary counts as the
// store being unavailable.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrImmutableRecord) ||
		errors.Is(err, ErrNoActivePolicy) || errors.Is(err, ErrModeConflict) ||
		errors.Is(err, ErrMissingProposalOrigin) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %T: %w", v, err)
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return mapErr(s.db.Update(fn))
}

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return mapErr(s.db.View(fn))
}

// =============================================================================
// INCIDENTS
// =============================================================================

// CreateIncident persists a new incident and its key index entry.
func (s *Store) CreateIncident(ctx context.Context, inc *Incident) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return createIncident(txn, inc)
	})
}

func createIncident(txn *badger.Txn, inc *Incident) error {
	if err := putJSON(txn, k(prefIncident, inc.ID), inc); err != nil {
		return err
	}
	idx := k(prefIncidentIdx, inc.TenantID, string(inc.Signature), tsSegment(inc.CreatedAt), inc.ID)
	return txn.Set(idx, []byte(inc.ID))
}

// GetIncident returns the incident by id.
func (s *Store) GetIncident(ctx context.Context, id string) (*Incident, error) {
	var inc Incident
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, k(prefIncident, id), &inc)
	})
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// ResolveIncident flips an incident to resolved. The only mutation an
// incident ever receives.
func (s *Store) ResolveIncident(ctx context.Context, id string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var inc Incident
		if err := getJSON(txn, k(prefIncident, id), &inc); err != nil {
			return err
		}
		if inc.Status == IncidentResolved {
			return nil // Idempotent
		}
		inc.Status = IncidentResolved
		return putJSON(txn, k(prefIncident, id), &inc)
	})
}

// ListIncidentsByKey returns incidents for a (tenant, signature) pair
// created at or after since, oldest first. FeaturePath filtering
// happens on the loaded rows because the index orders by signature.
func (s *Store) ListIncidentsByKey(ctx context.Context, key Key, since time.Time) ([]Incident, error) {
	var out []Incident
	err := s.view(ctx, func(txn *badger.Txn) error {
		prefix := k(prefIncidentIdx, key.TenantID, string(key.Signature))
		prefix = append(prefix, keySep...)

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var id string
			if err := it.Item().Value(func(val []byte) error {
				id = string(val)
				return nil
			}); err != nil {
				return err
			}
			var inc Incident
			if err := getJSON(txn, k(prefIncident, id), &inc); err != nil {
				return err
			}
			if inc.FeaturePath != key.FeaturePath {
				continue
			}
			if !since.IsZero() && inc.CreatedAt.Before(since) {
				continue
			}
			out = append(out, inc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountIncidentsByTenantSince counts incidents for a tenant created at
// or after since. Empty tenant counts across all tenants (used only
// for the global rollup snapshot, never for enforcement).
func (s *Store) CountIncidentsByTenantSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	count := 0
	err := s.view(ctx, func(txn *badger.Txn) error {
		prefix := k(prefIncidentIdx)
		prefix = append(prefix, keySep...)
		if tenantID != "" {
			prefix = append(prefix, []byte(tenantID+keySep)...)
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ts, ok := incidentIndexTime(it.Item().Key())
			if !ok || ts.Before(since) {
				continue
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// incidentIndexTime extracts the timestamp segment from an incident
// index key.
func incidentIndexTime(key []byte) (time.Time, bool) {
	parts := bytes.Split(key, []byte(keySep))
	if len(parts) != 5 {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(string(parts[3]), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}

// =============================================================================
// PROPOSALS
// =============================================================================

// CreateProposal persists a new draft proposal and registers it as the
// open draft for its key. Refuses to create a second open draft.
func (s *Store) CreateProposal(ctx context.Context, p *PolicyProposal) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		openKey := k(prefProposalOpen, p.TenantID, string(p.Signature), p.FeaturePath)
		if ok, err := exists(txn, openKey); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("%w: open draft already exists for key", ErrImmutableRecord)
		}
		if err := putJSON(txn, k(prefProposal, p.ID), p); err != nil {
			return err
		}
		return txn.Set(openKey, []byte(p.ID))
	})
}

// GetProposal returns the proposal by id.
func (s *Store) GetProposal(ctx context.Context, id string) (*PolicyProposal, error) {
	var p PolicyProposal
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, k(prefProposal, id), &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// OpenProposalForKey returns the open draft proposal for a key, or
// ErrNotFound if none exists.
func (s *Store) OpenProposalForKey(ctx context.Context, key Key) (*PolicyProposal, error) {
	var p PolicyProposal
	err := s.view(ctx, func(txn *badger.Txn) error {
		openKey := k(prefProposalOpen, key.TenantID, string(key.Signature), key.FeaturePath)
		item, err := txn.Get(openKey)
		if err != nil {
			return err
		}
		var id string
		if err := item.Value(func(val []byte) error {
			id = string(val)
			return nil
		}); err != nil {
			return err
		}
		return getJSON(txn, k(prefProposal, id), &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProposals returns all proposals, optionally filtered by tenant.
func (s *Store) ListProposals(ctx context.Context, tenantID string) ([]PolicyProposal, error) {
	var out []PolicyProposal
	err := s.view(ctx, func(txn *badger.Txn) error {
		prefix := k(prefProposal)
		prefix = append(prefix, keySep...)

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var p PolicyProposal
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return err
			}
			if tenantID != "" && p.TenantID != tenantID {
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DecideProposal applies a human decision to a draft proposal and, on
// approval, atomically creates the successor policy in SHADOW mode.
//
// Description:
//
//	A single transaction flips the proposal status, records decider and
//	timestamp, clears the open-draft pointer, and (for approvals)
//	writes the new policy with the next monotonic version for its
//	(tenant, signature) pair. Either everything commits or nothing does.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	id - Proposal id.
//	decidedBy - Actor id recorded on the proposal.
//	approve - true approves, false rejects.
//	newPolicyID - Pre-generated id for the policy created on approval.
//	now - Decision timestamp.
//
// Outputs:
//
//	*Policy - The SHADOW policy, nil on rejection.
//	error - ErrNotFound, ErrImmutableRecord for non-draft proposals, or
//	        a store failure.
func (s *Store) DecideProposal(ctx context.Context, id, decidedBy string, approve bool, newPolicyID string, now time.Time) (*Policy, error) {
	var created *Policy
	err := s.update(ctx, func(txn *badger.Txn) error {
		var p PolicyProposal
		if err := getJSON(txn, k(prefProposal, id), &p); err != nil {
			return err
		}
		if p.Status != ProposalDraft {
			return fmt.Errorf("%w: proposal already %s", ErrImmutableRecord, p.Status)
		}

		if approve {
			p.Status = ProposalApproved
		} else {
			p.Status = ProposalRejected
		}
		p.DecidedBy = decidedBy
		p.DecidedAt = &now
		if err := putJSON(txn, k(prefProposal, id), &p); err != nil {
			return err
		}

		openKey := k(prefProposalOpen, p.TenantID, string(p.Signature), p.FeaturePath)
		if err := txn.Delete(openKey); err != nil {
			return err
		}

		if !approve {
			return nil
		}

		version, err := nextPolicyVersion(txn, p.TenantID, p.Signature)
		if err != nil {
			return err
		}

		pol := &Policy{
			ID:          newPolicyID,
			ProposalID:  p.ID,
			TenantID:    p.TenantID,
			FeaturePath: p.FeaturePath,
			Signature:   p.Signature,
			Body:        p.Body,
			Mode:        ModeShadow,
			Version:     version,
			CreatedAt:   now,
		}
		if err := writePolicy(txn, pol); err != nil {
			return err
		}
		created = pol
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func nextPolicyVersion(txn *badger.Txn, tenantID string, sig signature.PatternSignature) (uint64, error) {
	verKey := k(prefPolicyVersion, tenantID, string(sig))
	var version uint64 = 1
	item, err := txn.Get(verKey)
	if err == nil {
		if err := item.Value(func(val []byte) error {
			prev, perr := strconv.ParseUint(string(val), 10, 64)
			if perr != nil {
				return perr
			}
			version = prev + 1
			return nil
		}); err != nil {
			return 0, err
		}
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return 0, err
	}
	if err := txn.Set(verKey, []byte(strconv.FormatUint(version, 10))); err != nil {
		return 0, err
	}
	return version, nil
}

func writePolicy(txn *badger.Txn, pol *Policy) error {
	if pol.ProposalID == "" {
		return ErrMissingProposalOrigin
	}
	if err := putJSON(txn, k(prefPolicy, pol.ID), pol); err != nil {
		return err
	}
	keyIdx := k(prefPolicyKey, pol.TenantID, string(pol.Signature), pol.FeaturePath)
	return txn.Set(keyIdx, []byte(pol.ID))
}

// =============================================================================
// POLICIES
// =============================================================================

// GetPolicy returns the policy by id.
func (s *Store) GetPolicy(ctx context.Context, id string) (*Policy, error) {
	var p Policy
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, k(prefPolicy, id), &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PolicyForKey returns the current policy for an enforcement key in
// any mode, or ErrNotFound.
func (s *Store) PolicyForKey(ctx context.Context, key Key) (*Policy, error) {
	var p Policy
	err := s.view(ctx, func(txn *badger.Txn) error {
		return policyForKey(txn, key, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func policyForKey(txn *badger.Txn, key Key, p *Policy) error {
	keyIdx := k(prefPolicyKey, key.TenantID, string(key.Signature), key.FeaturePath)
	item, err := txn.Get(keyIdx)
	if err != nil {
		return err
	}
	var id string
	if err := item.Value(func(val []byte) error {
		id = string(val)
		return nil
	}); err != nil {
		return err
	}
	return getJSON(txn, k(prefPolicy, id), p)
}

// ListPolicies returns all policies, optionally filtered by tenant.
func (s *Store) ListPolicies(ctx context.Context, tenantID string) ([]Policy, error) {
	var out []Policy
	err := s.view(ctx, func(txn *badger.Txn) error {
		prefix := k(prefPolicy)
		prefix = append(prefix, keySep...)

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var p Policy
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return err
			}
			if tenantID != "" && p.TenantID != tenantID {
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdatePolicyMode transitions a policy's mode with compare-and-swap
// semantics.
//
// Description:
//
//	Reads the policy, verifies its current mode equals from, applies
//	the new mode plus bookkeeping timestamps, and writes it back in one
//	transaction. The legality of the edge is the lifecycle manager's
//	responsibility; the store only guarantees the swap is atomic.
//
// Outputs:
//
//	*Policy - The updated policy.
//	error - ErrModeConflict when the observed mode differs from the
//	        expected one, ErrNotFound, or a store failure.
func (s *Store) UpdatePolicyMode(ctx context.Context, id string, from, to PolicyMode, reason string, now time.Time) (*Policy, error) {
	var updated Policy
	err := s.update(ctx, func(txn *badger.Txn) error {
		if err := getJSON(txn, k(prefPolicy, id), &updated); err != nil {
			return err
		}
		if updated.Mode != from {
			return fmt.Errorf("%w: expected %s, found %s", ErrModeConflict, from, updated.Mode)
		}
		updated.Mode = to
		switch to {
		case ModeActive:
			updated.ActivatedAt = &now
		case ModeShadow:
			updated.DegradedAt = &now
			updated.DegradeReason = reason
		}
		return putJSON(txn, k(prefPolicy, id), &updated)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// =============================================================================
// ENFORCEMENT (single-transaction check-then-act)
// =============================================================================

// MatchFunc decides whether a policy's rule body matches the candidate
// event. Rule evaluation stays out of the store; the enforcer supplies
// this callback.
type MatchFunc func(p *Policy) bool

// CheckAndPrevent performs the inline enforcement check.
//
// Description:
//
//	One transaction: look up the current policy for the key; if it is
//	ACTIVE and its rule matches, write a PreventionRecord and return
//	it. Record write and block decision are atomic — either the caller
//	sees a Block backed by a committed record, or nothing happened.
//
// Outputs:
//
//	*PreventionRecord - The committed record on block, nil otherwise.
//	error - ErrNoActivePolicy when the key has no matching ACTIVE
//	        policy, or a store failure.
func (s *Store) CheckAndPrevent(ctx context.Context, key Key, requestRef, recordID string, match MatchFunc, now time.Time) (*PreventionRecord, error) {
	var rec *PreventionRecord
	err := s.update(ctx, func(txn *badger.Txn) error {
		var pol Policy
		if err := policyForKey(txn, key, &pol); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNoActivePolicy
			}
			return err
		}
		if pol.Mode != ModeActive || (match != nil && !match(&pol)) {
			return ErrNoActivePolicy
		}

		r := &PreventionRecord{
			ID:                recordID,
			PolicyID:          pol.ID,
			TenantID:          key.TenantID,
			FeaturePath:       key.FeaturePath,
			Signature:         key.Signature,
			BlockedRequestRef: requestRef,
			CreatedAt:         now,
		}
		if err := writePrevention(txn, r); err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// IngestResult is the outcome of a failure ingestion.
type IngestResult struct {
	// Prevention is non-nil when an ACTIVE policy blocked the failure
	// before it became an incident.
	Prevention *PreventionRecord

	// Incident is non-nil when no ACTIVE policy matched and a new
	// incident row was created.
	Incident *Incident

	// ShadowObservation is non-nil when a SHADOW policy would have
	// blocked the failure. The incident is still created.
	ShadowObservation *ShadowObservation
}

// IngestFailure runs the check-then-act ordering contract for a
// matched failure.
//
// Description:
//
//	One transaction resolves the cyclic dependency between enforcement
//	and incident creation: the ACTIVE-policy lookup always precedes
//	incident creation, and exactly one of {prevention, incident} is
//	written for the triggering event. A SHADOW policy hit additionally
//	records a would-have-blocked observation next to the incident.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	inc - The fully-populated candidate incident (id, key, evidence).
//	requestRef - Reference to the triggering event, kept on the record.
//	preventionID, shadowID - Pre-generated ids for conditional rows.
//	match - Rule-body match callback.
//
// Outputs:
//
//	*IngestResult - Exactly one of Prevention or Incident is set.
//	error - Store failure only; absence of a policy is not an error.
func (s *Store) IngestFailure(ctx context.Context, inc *Incident, requestRef, preventionID, shadowID string, match MatchFunc) (*IngestResult, error) {
	res := &IngestResult{}
	err := s.update(ctx, func(txn *badger.Txn) error {
		*res = IngestResult{}

		var pol Policy
		err := policyForKey(txn, inc.Key(), &pol)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			// No policy for this key; fall through to incident creation.
		case err != nil:
			return err
		case pol.Mode == ModeActive && (match == nil || match(&pol)):
			r := &PreventionRecord{
				ID:                preventionID,
				PolicyID:          pol.ID,
				TenantID:          inc.TenantID,
				FeaturePath:       inc.FeaturePath,
				Signature:         inc.Signature,
				BlockedRequestRef: requestRef,
				CreatedAt:         inc.CreatedAt,
			}
			if err := writePrevention(txn, r); err != nil {
				return err
			}
			res.Prevention = r
			return nil
		case pol.Mode == ModeShadow && (match == nil || match(&pol)):
			obs := &ShadowObservation{
				ID:         shadowID,
				PolicyID:   pol.ID,
				IncidentID: inc.ID,
				CreatedAt:  inc.CreatedAt,
			}
			if err := putJSON(txn, k(prefShadow, pol.ID, obs.ID), obs); err != nil {
				return err
			}
			res.ShadowObservation = obs
		}

		if err := createIncident(txn, inc); err != nil {
			return err
		}
		res.Incident = inc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// =============================================================================
// PREVENTION RECORDS
// =============================================================================

func writePrevention(txn *badger.Txn, r *PreventionRecord) error {
	key := k(prefPrevention, r.ID)
	if ok, err := exists(txn, key); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: prevention record %s", ErrImmutableRecord, r.ID)
	}
	if err := putJSON(txn, key, r); err != nil {
		return err
	}
	if err := txn.Set(k(prefPreventionPol, r.PolicyID, r.ID), []byte(r.ID)); err != nil {
		return err
	}
	return txn.Set(k(prefPreventionIdx, r.TenantID, tsSegment(r.CreatedAt), r.ID), []byte(r.ID))
}

// GetPrevention returns the prevention record by id.
func (s *Store) GetPrevention(ctx context.Context, id string) (*PreventionRecord, error) {
	var r PreventionRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, k(prefPrevention, id), &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListPreventionsByPolicy returns all prevention records for a policy.
func (s *Store) ListPreventionsByPolicy(ctx context.Context, policyID string) ([]PreventionRecord, error) {
	var out []PreventionRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		prefix := k(prefPreventionPol, policyID)
		prefix = append(prefix, keySep...)

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var id string
			if err := it.Item().Value(func(val []byte) error {
				id = string(val)
				return nil
			}); err != nil {
				return err
			}
			var r PreventionRecord
			if err := getJSON(txn, k(prefPrevention, id), &r); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountPreventionsByTenantSince counts prevention records for a tenant
// created at or after since. Empty tenant counts across all tenants
// (global rollup only).
func (s *Store) CountPreventionsByTenantSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	count := 0
	err := s.view(ctx, func(txn *badger.Txn) error {
		prefix := k(prefPreventionIdx)
		prefix = append(prefix, keySep...)
		if tenantID != "" {
			prefix = append(prefix, []byte(tenantID+keySep)...)
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			parts := bytes.Split(it.Item().Key(), []byte(keySep))
			if len(parts) != 4 {
				continue
			}
			nanos, err := strconv.ParseInt(string(parts[2]), 10, 64)
			if err != nil || time.Unix(0, nanos).Before(since) {
				continue
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// =============================================================================
// OVERRIDES
// =============================================================================

// CreateOverride records a manual override judging a block incorrect.
// Write-once.
func (s *Store) CreateOverride(ctx context.Context, o *Override) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		key := k(prefOverride, o.ID)
		if ok, err := exists(txn, key); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("%w: override %s", ErrImmutableRecord, o.ID)
		}
		if err := putJSON(txn, key, o); err != nil {
			return err
		}
		return txn.Set(k(prefOverridePol, o.PolicyID, o.ID), []byte(o.ID))
	})
}

// ListOverridesByPolicy returns all overrides recorded against a policy.
func (s *Store) ListOverridesByPolicy(ctx context.Context, policyID string) ([]Override, error) {
	var out []Override
	err := s.view(ctx, func(txn *badger.Txn) error {
		prefix := k(prefOverridePol, policyID)
		prefix = append(prefix, keySep...)

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var id string
			if err := it.Item().Value(func(val []byte) error {
				id = string(val)
				return nil
			}); err != nil {
				return err
			}
			var o Override
			if err := getJSON(txn, k(prefOverride, id), &o); err != nil {
				return err
			}
			out = append(out, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// SHADOW OBSERVATIONS
// =============================================================================

// ListShadowObservations returns shadow observations for a policy.
func (s *Store) ListShadowObservations(ctx context.Context, policyID string) ([]ShadowObservation, error) {
	var out []ShadowObservation
	err := s.view(ctx, func(txn *badger.Txn) error {
		prefix := k(prefShadow, policyID)
		prefix = append(prefix, keySep...)

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var obs ShadowObservation
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &obs)
			}); err != nil {
				return err
			}
			out = append(out, obs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkShadowFalsePositive flags a shadow observation as a false
// positive, disqualifying the policy from promotion until the record
// ages out of the observation window.
func (s *Store) MarkShadowFalsePositive(ctx context.Context, policyID, observationID string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		key := k(prefShadow, policyID, observationID)
		var obs ShadowObservation
		if err := getJSON(txn, key, &obs); err != nil {
			return err
		}
		obs.FalsePositive = true
		return putJSON(txn, key, &obs)
	})
}

// =============================================================================
// GRADUATION STATE
// =============================================================================

// PutGraduationState stores the snapshot for a scope. Single writer:
// the graduation evaluator.
func (s *Store) PutGraduationState(ctx context.Context, gs *GraduationState) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return putJSON(txn, k(prefGraduation, gs.Scope), gs)
	})
}

// GetGraduationState returns the snapshot for a scope.
func (s *Store) GetGraduationState(ctx context.Context, scope string) (*GraduationState, error) {
	var gs GraduationState
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, k(prefGraduation, scope), &gs)
	})
	if err != nil {
		return nil, err
	}
	return &gs, nil
}

// Tenants returns the distinct tenant ids that have incident or
// prevention activity. Used by the evaluator to enumerate scopes.
func (s *Store) Tenants(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for _, pref := range []string{prefIncidentIdx, prefPreventionIdx} {
			prefix := k(pref)
			prefix = append(prefix, keySep...)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				parts := bytes.Split(it.Item().Key(), []byte(keySep))
				if len(parts) >= 2 {
					seen[string(parts[1])] = true
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	return out, nil
}
