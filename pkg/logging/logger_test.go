// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLevelString(t *testing.T) {
	cases := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tc := range cases {
		if got := tc.level.String(); got != tc.want {
			t.Errorf("Level(%d).String() = %q, want %q", tc.level, got, tc.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	logger := &Logger{slogger: slog.New(handler)}

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("levels below the minimum leaked through: %s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("expected warn and error output, got: %s", out)
	}
}

func TestFileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "governance",
	})

	logger.Info("policy activated", "policy_id", "pol-1")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	name := "governance_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log file is not JSON: %v", err)
	}
	if entry["msg"] != "policy activated" {
		t.Errorf("msg = %v, want %q", entry["msg"], "policy activated")
	}
	if entry["policy_id"] != "pol-1" {
		t.Errorf("policy_id = %v, want %q", entry["policy_id"], "pol-1")
	}
	if entry["service"] != "governance" {
		t.Errorf("service = %v, want %q", entry["service"], "governance")
	}
}

func TestFileLoggingBadDirDegrades(t *testing.T) {
	// A file that exists where the directory should be makes MkdirAll
	// fail; the logger must still come up stderr-only.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocked")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	logger := New(Config{Level: LevelInfo, LogDir: blocker, Service: "governance"})
	logger.Info("still alive")
	if err := logger.Close(); err != nil {
		t.Errorf("Close() on stderr-only logger: %v", err)
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	logger := &Logger{slogger: slog.New(handler)}

	child := logger.With("tenant_id", "acme")
	child.Info("checked")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["tenant_id"] != "acme" {
		t.Errorf("tenant_id = %v, want %q", entry["tenant_id"], "acme")
	}
}

func TestCloseIdempotent(t *testing.T) {
	logger := New(Config{Level: LevelInfo, LogDir: t.TempDir(), Service: "governance"})
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close(): %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close(): %v", err)
	}
}

func TestDefault(t *testing.T) {
	logger := Default()
	if logger.Slog() == nil {
		t.Fatal("Default() returned logger with nil slog")
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close(): %v", err)
	}
}

func TestMultiHandlerFanOut(t *testing.T) {
	var a, b bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	}}
	logger := slog.New(h)

	logger.Info("info event")
	logger.Error("error event")

	if !strings.Contains(a.String(), "info event") || !strings.Contains(a.String(), "error event") {
		t.Errorf("first handler missing records: %s", a.String())
	}
	if strings.Contains(b.String(), "info event") {
		t.Errorf("second handler received record below its level: %s", b.String())
	}
	if !strings.Contains(b.String(), "error event") {
		t.Errorf("second handler missing error record: %s", b.String())
	}
}

func TestMultiHandlerEnabled(t *testing.T) {
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}}
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Enabled should be true when any handler accepts the level")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(/var/log) = %q, should be unchanged", got)
	}
}
