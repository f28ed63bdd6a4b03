// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"
)

func TestValidateTenantID(t *testing.T) {
	tests := []struct {
		name     string
		tenantID string
		wantErr  bool
	}{
		// Valid tenants
		{"simple", "acme", false},
		{"single char", "a", false},
		{"with digit", "acme42", false},
		{"with hyphen", "acme-prod", false},
		{"with underscore", "acme_eu", false},
		{"max length", strings.Repeat("a", 64), false},

		// Invalid tenants
		{"empty", "", true},
		{"reserved rollup scope", "global", true},
		{"uppercase", "Acme", true},
		{"leading hyphen", "-acme", true},
		{"too long", strings.Repeat("a", 65), true},
		{"embedded nul", "acme\x00evil", true},
		{"slash", "acme/other", true},
		{"spaces", "acme corp", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTenantID(tt.tenantID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTenantID(%q) error = %v, wantErr %v", tt.tenantID, err, tt.wantErr)
			}
		})
	}
}

func TestValidateFeaturePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		// Valid paths
		{"single segment", "checkout", false},
		{"two segments", "checkout/payment", false},
		{"with dots", "api/v2.1/export", false},
		{"with hyphens", "bulk-export/csv", false},
		{"eight segments", "a/b/c/d/e/f/g/h", false},

		// Invalid paths
		{"empty", "", true},
		{"leading slash", "/checkout", true},
		{"trailing slash", "checkout/", true},
		{"empty segment", "checkout//payment", true},
		{"too many segments", "a/b/c/d/e/f/g/h/i", true},
		{"embedded nul", "checkout/pay\x00ment", true},
		{"space", "check out", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFeaturePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFeaturePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidateActorID(t *testing.T) {
	tests := []struct {
		name    string
		actorID string
		wantErr bool
	}{
		{"simple", "jri", false},
		{"email style", "jri@aleutian.ai", false},
		{"with dots", "j.interlante", false},

		{"empty", "", true},
		{"leading at", "@jri", true},
		{"embedded nul", "jri\x00", true},
		{"too long", strings.Repeat("a", 129), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateActorID(tt.actorID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateActorID(%q) error = %v, wantErr %v", tt.actorID, err, tt.wantErr)
			}
		})
	}
}
