// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseAttrs(t *testing.T) {
	attrs, err := parseAttrs([]string{"region=us-east-1", "plan=pro"})
	if err != nil {
		t.Fatalf("parseAttrs: %v", err)
	}
	if attrs["region"] != "us-east-1" || attrs["plan"] != "pro" {
		t.Errorf("unexpected attrs: %v", attrs)
	}

	if _, err := parseAttrs([]string{"no-equals"}); err == nil {
		t.Error("expected error for malformed attribute")
	}
	if _, err := parseAttrs([]string{"=value"}); err == nil {
		t.Error("expected error for empty key")
	}

	attrs, err = parseAttrs(nil)
	if err != nil || attrs != nil {
		t.Errorf("empty input should yield nil map, got %v, %v", attrs, err)
	}
}

func TestDoRequestDecodesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		if body["tenant_id"] != "acme" {
			t.Errorf("tenant_id = %v", body["tenant_id"])
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"incident_id": "inc-1"})
	}))
	defer server.Close()

	oldURL := serverURL
	serverURL = server.URL
	defer func() { serverURL = oldURL }()

	var resp map[string]any
	err := doRequest("POST", "/v1/governance/failures", map[string]any{"tenant_id": "acme"}, &resp)
	if err != nil {
		t.Fatalf("doRequest: %v", err)
	}
	if resp["incident_id"] != "inc-1" {
		t.Errorf("incident_id = %v", resp["incident_id"])
	}
}

func TestDoRequestSurfacesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(errorBody{Error: "proposal already decided", Code: "ALREADY_DECIDED"})
	}))
	defer server.Close()

	oldURL := serverURL
	serverURL = server.URL
	defer func() { serverURL = oldURL }()

	err := doRequest("POST", "/v1/governance/proposals/p1/decide", map[string]any{}, nil)
	if err == nil {
		t.Fatal("expected error for 409 response")
	}
	if !strings.Contains(err.Error(), "ALREADY_DECIDED") || !strings.Contains(err.Error(), "409") {
		t.Errorf("error should carry code and status: %v", err)
	}
}
