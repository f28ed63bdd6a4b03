// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command governctl is the operator CLI for the AleutianGuard
// governance server.
//
// It drives the human side of the governance loop over the HTTP API:
// reviewing proposals, recording approval decisions, promoting
// policies, and inspecting scores and graduation state.
//
// Examples:
//
//	governctl proposals --tenant acme
//	governctl decide prop-123 --outcome approved --actor-id jri --actor-role governor
//	governctl promote pol-456 --actor-id jri --actor-role governor
//	governctl score pol-456
//	governctl graduation global
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "governctl",
	Short: "Operator CLI for the AleutianGuard governance server",
	Long: `governctl drives the human side of the governance loop.

Automation matches failures, accumulates evidence, and drafts policy
proposals; governctl is how a person reviews that evidence, records
the approval decision, and walks a policy through its lifecycle.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("GOVERNANCE_URL", "http://localhost:8086"),
		"Base URL of the governance server")

	rootCmd.AddCommand(failureCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(overrideCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(shadowCmd)
	rootCmd.AddCommand(flagShadowCmd)
	rootCmd.AddCommand(proposalsCmd)
	rootCmd.AddCommand(proposeCmd)
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(policiesCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(graduationCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// =============================================================================
// HTTP CLIENT HELPERS
// =============================================================================

var httpClient = &http.Client{Timeout: 30 * time.Second}

// errorBody mirrors the server's error envelope.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// doRequest issues an HTTP request against the governance API and
// decodes the JSON response into out (when out is non-nil). Non-2xx
// responses become errors carrying the server's error code.
func doRequest(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			return fmt.Errorf("%s (%s, HTTP %d)", eb.Error, eb.Code, resp.StatusCode)
		}
		return fmt.Errorf("HTTP %d from %s %s", resp.StatusCode, method, path)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
