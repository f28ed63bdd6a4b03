// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for caller-provided identifiers that
// end up in composite store keys and audit records. Store keys are
// NUL-separated, so an identifier carrying a NUL byte could alias
// another tenant's key space; these validators reject that class of
// input at the boundary.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// tenantPattern matches valid tenant identifiers.
// Allows: lowercase letters, digits, hyphens, underscores.
// Max length: 64 characters.
var tenantPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// featureSegment matches one segment of a feature path.
var featureSegment = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// actorPattern matches valid actor identifiers.
var actorPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9@._-]{0,127}$`)

// reservedTenantIDs are names used as rollup scope keys in the
// graduation snapshot key space. A tenant with one of these names
// would collide with the cross-tenant rollup.
var reservedTenantIDs = map[string]bool{
	"global": true,
}

// ValidateTenantID validates a tenant identifier.
//
// Valid tenant IDs:
//   - 1-64 characters
//   - Lowercase letters a-z, digits 0-9
//   - Hyphens and underscores after the first character
//   - Not a reserved scope name ("global")
//
// Returns an error if the tenant ID is invalid.
//
// Example:
//
//	if err := validation.ValidateTenantID(req.TenantID); err != nil {
//	    return nil, fmt.Errorf("invalid tenant: %w", err)
//	}
func ValidateTenantID(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenant id cannot be empty")
	}
	if !tenantPattern.MatchString(tenantID) {
		return fmt.Errorf("invalid tenant id %q (must be 1-64 lowercase alphanumeric chars, hyphens, or underscores)", tenantID)
	}
	if reservedTenantIDs[tenantID] {
		return fmt.Errorf("tenant id %q is reserved", tenantID)
	}
	return nil
}

// ValidateFeaturePath validates a slash-separated feature path such as
// "checkout/payment".
//
// Valid feature paths:
//   - 1-8 segments separated by single slashes
//   - Each segment 1-64 alphanumeric chars, dots, hyphens, underscores
//   - No leading or trailing slash, no empty segments
//
// Returns an error if the path is invalid.
func ValidateFeaturePath(path string) error {
	if path == "" {
		return fmt.Errorf("feature path cannot be empty")
	}
	segments := strings.Split(path, "/")
	if len(segments) > 8 {
		return fmt.Errorf("feature path %q has too many segments (max 8)", path)
	}
	for _, segment := range segments {
		if !featureSegment.MatchString(segment) {
			return fmt.Errorf("invalid feature path segment %q in %q", segment, path)
		}
	}
	return nil
}

// ValidateActorID validates a human actor identifier used in audit
// records and approval decisions.
func ValidateActorID(actorID string) error {
	if actorID == "" {
		return fmt.Errorf("actor id cannot be empty")
	}
	if !actorPattern.MatchString(actorID) {
		return fmt.Errorf("invalid actor id %q", actorID)
	}
	return nil
}
