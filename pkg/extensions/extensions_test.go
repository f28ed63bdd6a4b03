// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.AuditLogger == nil {
		t.Fatal("DefaultOptions should provide a no-op audit logger, not nil")
	}
	if err := opts.AuditLogger.Log(context.Background(), AuditEvent{}); err != nil {
		t.Errorf("NopAuditLogger.Log should never fail: %v", err)
	}
}

func TestSlogAuditLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := &SlogAuditLogger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	err := logger.Log(context.Background(), AuditEvent{
		EventType:    "proposal.approved",
		ActorID:      "jri",
		ResourceType: "proposal",
		ResourceID:   "prop-1",
		Outcome:      "success",
		Metadata:     map[string]any{"tenant_id": "acme"},
	})
	if err != nil {
		t.Fatalf("Log: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("audit output is not JSON: %v", err)
	}
	if entry["event_type"] != "proposal.approved" {
		t.Errorf("event_type = %v", entry["event_type"])
	}
	if entry["actor_id"] != "jri" {
		t.Errorf("actor_id = %v", entry["actor_id"])
	}
	if entry["timestamp"] == nil {
		t.Error("zero timestamp should be filled in")
	}
}
