// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package signature

import (
	"strings"
	"testing"
)

func TestMatchDeterminism(t *testing.T) {
	m := NewMatcher(DefaultMatcherConfig())

	t.Run("identical events yield identical signatures", func(t *testing.T) {
		event := FailureEvent{
			TenantID:    "t1",
			FeaturePath: "billing/invoice/render",
			ErrorShape:  "nil pointer dereference in renderTotals",
		}
		if m.Match(event) != m.Match(event) {
			t.Error("expected identical signatures for identical events")
		}
	})

	t.Run("volatile fields do not affect the signature", func(t *testing.T) {
		a := FailureEvent{
			TenantID:    "t1",
			FeaturePath: "billing/invoice/render",
			ErrorShape:  "timeout after 1500ms at 2025-08-14T10:12:30Z request 550e8400-e29b-41d4-a716-446655440000",
			RequestID:   "req-123",
		}
		b := FailureEvent{
			TenantID:    "t1",
			FeaturePath: "billing/invoice/render",
			ErrorShape:  "timeout after 93ms at 2025-08-15T22:01:02Z request 6ba7b810-9dad-11d1-80b4-00c04fd430c8",
			RequestID:   "req-456",
		}
		if m.Match(a) != m.Match(b) {
			t.Errorf("expected equal signatures, got %s and %s", m.Match(a), m.Match(b))
		}
	})

	t.Run("different tenants yield different signatures", func(t *testing.T) {
		a := FailureEvent{TenantID: "t1", FeaturePath: "p", ErrorShape: "boom"}
		b := FailureEvent{TenantID: "t2", FeaturePath: "p", ErrorShape: "boom"}
		if m.Match(a) == m.Match(b) {
			t.Error("expected tenant to partition signatures")
		}
	})

	t.Run("different feature paths yield different signatures", func(t *testing.T) {
		a := FailureEvent{TenantID: "t1", FeaturePath: "p1", ErrorShape: "boom"}
		b := FailureEvent{TenantID: "t1", FeaturePath: "p2", ErrorShape: "boom"}
		if m.Match(a) == m.Match(b) {
			t.Error("expected feature path to partition signatures")
		}
	})

	t.Run("different error shapes yield different signatures", func(t *testing.T) {
		a := FailureEvent{TenantID: "t1", FeaturePath: "p", ErrorShape: "nil pointer dereference"}
		b := FailureEvent{TenantID: "t1", FeaturePath: "p", ErrorShape: "index out of range"}
		if m.Match(a) == m.Match(b) {
			t.Error("expected error shape to partition signatures")
		}
	})
}

func TestNormalizeShape(t *testing.T) {
	m := NewMatcher(DefaultMatcherConfig())

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "strips uuids",
			input: "request 550e8400-e29b-41d4-a716-446655440000 failed",
			want:  "request <uuid> failed",
		},
		{
			name:  "strips timestamps",
			input: "deadline 2025-08-14T10:12:30Z exceeded",
			want:  "deadline <ts> exceeded",
		},
		{
			name:  "strips numbers",
			input: "timeout after 1500ms on port 8080",
			want:  "timeout after <n>ms on port <n>",
		},
		{
			name:  "strips hex addresses",
			input: "panic at 0xDEADBEEF",
			want:  "panic at <hex>",
		},
		{
			name:  "lowercases and drops punctuation",
			input: "Error: Connection REFUSED!",
			want:  "error connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.NormalizeShape(tt.input)
			if got != tt.want {
				t.Errorf("NormalizeShape(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}

	t.Run("caps token count", func(t *testing.T) {
		cfg := DefaultMatcherConfig()
		cfg.MaxShapeTokens = 4
		capped := NewMatcher(cfg)
		got := capped.NormalizeShape("a b c d e f g h")
		if len(strings.Fields(got)) != 4 {
			t.Errorf("expected 4 tokens, got %q", got)
		}
	})
}
