// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import "errors"

// Sentinel errors for governance persistence.
var (
	// ErrStoreUnavailable indicates the backing store is unreachable.
	// The prevention enforcer treats this as fail-open: the protected
	// request proceeds and a critical alert is raised.
	ErrStoreUnavailable = errors.New("governance store unavailable")

	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrImmutableRecord indicates an attempt to update or delete an
	// append-only row (prevention records, terminal proposals).
	ErrImmutableRecord = errors.New("record is immutable")

	// ErrNoActivePolicy indicates no ACTIVE policy exists for the
	// enforcement key. Not a failure; the caller allows the action.
	ErrNoActivePolicy = errors.New("no active policy for key")

	// ErrMissingProposalOrigin indicates a policy write without a
	// proposal id. Policies without evidentiary origin are refused.
	ErrMissingProposalOrigin = errors.New("policy has no proposal origin")

	// ErrModeConflict indicates a compare-and-swap mode update observed
	// a different current mode than expected.
	ErrModeConflict = errors.New("policy mode changed concurrently")
)
