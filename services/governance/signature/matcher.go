// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package signature computes stable fingerprints of execution failures.
//
// A pattern signature is the canonical identity of a failure class. Two
// failures with the same tenant, feature path, and normalized error
// shape always map to the same signature, regardless of timestamps,
// request identifiers, or other volatile attributes. Everything
// downstream (proposals, policies, enforcement lookups) keys on this
// fingerprint, so the normalization rules here are load-bearing.
package signature

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"unicode"
)

// PatternSignature is a stable fingerprint of a failure's semantically
// meaningful attributes.
type PatternSignature string

// FailureEvent is a structured description of an execution failure as
// reported by an upstream failure producer.
type FailureEvent struct {
	// TenantID identifies the tenant the failure occurred in.
	TenantID string `json:"tenant_id"`

	// FeaturePath identifies the feature or execution path that failed.
	FeaturePath string `json:"feature_path"`

	// ErrorShape is the raw error description (message, class, stack head).
	ErrorShape string `json:"error_shape"`

	// Evidence is the structured failure payload preserved for audit.
	Evidence map[string]any `json:"evidence,omitempty"`

	// RequestID is the volatile request correlation id. Never part of
	// the signature.
	RequestID string `json:"request_id,omitempty"`
}

// MatcherConfig configures failure normalization behavior.
type MatcherConfig struct {
	// StripNumbers replaces numeric literals with a placeholder so that
	// ports, counts, and offsets don't split a failure class.
	StripNumbers bool

	// StripHex replaces hex runs (addresses, hashes, ids) with a placeholder.
	StripHex bool

	// MaxShapeTokens caps the number of normalized tokens that
	// participate in the signature. Long stack traces beyond the cap
	// rarely add discriminating power.
	MaxShapeTokens int
}

// DefaultMatcherConfig returns sensible defaults.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		StripNumbers:   true,
		StripHex:       true,
		MaxShapeTokens: 64,
	}
}

// Matcher fingerprints failure events into pattern signatures.
//
// # Description
//
// Matcher normalizes the error shape of a failure (dropping volatile
// fragments such as UUIDs, timestamps, numerals, and hex runs) and
// hashes the result together with the tenant and feature path using
// FNV-64a. The output is deterministic for a given input.
//
// # Thread Safety
//
// Matcher is immutable after construction and safe for concurrent use.
type Matcher struct {
	config MatcherConfig
}

// NewMatcher creates a matcher with the given config.
func NewMatcher(config MatcherConfig) *Matcher {
	return &Matcher{config: config}
}

// Volatile fragments removed before hashing. UUIDs and RFC3339-ish
// timestamps are matched before the generic hex/number passes so they
// collapse to a single placeholder each.
var (
	uuidPattern      = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	timestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?`)
	hexPattern       = regexp.MustCompile(`0[xX][0-9a-fA-F]+|[0-9a-fA-F]{16,}`)
	numberPattern    = regexp.MustCompile(`\d+`)
)

// Match computes the pattern signature for a failure event.
//
// # Description
//
// Normalizes the event's error shape and hashes the canonical
// (tenant, feature_path, normalized_shape) tuple. Identical tuples
// always yield identical signatures; timestamps, request ids, and
// other stripped fragments never influence the result.
//
// # Inputs
//
//   - event: The failure event to fingerprint.
//
// # Outputs
//
//   - PatternSignature: The stable fingerprint.
func (m *Matcher) Match(event FailureEvent) PatternSignature {
	shape := m.NormalizeShape(event.ErrorShape)

	h := fnv.New64a()
	h.Write([]byte(event.TenantID))
	h.Write([]byte{0})
	h.Write([]byte(event.FeaturePath))
	h.Write([]byte{0})
	h.Write([]byte(shape))

	return PatternSignature(fmt.Sprintf("sig-%016x", h.Sum64()))
}

// NormalizeShape reduces an error shape to its stable skeleton.
//
// # Description
//
// Applies the volatile-fragment scrubbing passes, lowercases the
// result, and collapses it into a bounded token stream. Exposed so
// callers can store the normalized shape alongside the signature for
// human review.
//
// # Inputs
//
//   - shape: The raw error shape text.
//
// # Outputs
//
//   - string: The normalized shape.
func (m *Matcher) NormalizeShape(shape string) string {
	s := uuidPattern.ReplaceAllString(shape, "<uuid>")
	s = timestampPattern.ReplaceAllString(s, "<ts>")
	if m.config.StripHex {
		s = hexPattern.ReplaceAllString(s, "<hex>")
	}
	if m.config.StripNumbers {
		s = numberPattern.ReplaceAllString(s, "<n>")
	}
	s = strings.ToLower(s)

	tokens := tokenizeShape(s)
	if m.config.MaxShapeTokens > 0 && len(tokens) > m.config.MaxShapeTokens {
		tokens = tokens[:m.config.MaxShapeTokens]
	}

	return strings.Join(tokens, " ")
}

// tokenizeShape splits a normalized shape into word tokens, dropping
// punctuation that varies between runtimes for the same failure class.
func tokenizeShape(s string) []string {
	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '<' || r == '>':
			current.WriteRune(r)
		case r == '.' || r == '/':
			// Keep path separators inside tokens so module paths
			// stay distinguishable.
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()

	return tokens
}
