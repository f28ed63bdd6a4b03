// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined metrics for the governance service.
//
// Description:
//
//	Provides standard counters and histograms for the governance loop:
//	failure ingestion, enforcement checks, policy lifecycle, and the
//	graduation evaluator. All metrics use the "governance_" prefix.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- HTTP Metrics ---

	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records HTTP request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// --- Ingestion Metrics ---

	// IncidentsTotal counts incidents created by tenant.
	IncidentsTotal metric.Int64Counter

	// ProposalsTotal counts proposals generated by tenant.
	ProposalsTotal metric.Int64Counter

	// --- Enforcement Metrics ---

	// ChecksTotal counts enforcement checks by outcome (allow, block,
	// fail_open).
	ChecksTotal metric.Int64Counter

	// CheckDuration records enforcement check duration in seconds.
	CheckDuration metric.Float64Histogram

	// PreventionsTotal counts committed prevention records by tenant.
	PreventionsTotal metric.Int64Counter

	// StoreUnavailableTotal counts fail-open events.
	StoreUnavailableTotal metric.Int64Counter

	// --- Lifecycle Metrics ---

	// TransitionsTotal counts policy mode transitions by edge.
	TransitionsTotal metric.Int64Counter

	// DegradesTotal counts evaluator-forced degrades.
	DegradesTotal metric.Int64Counter

	// --- Evaluator Metrics ---

	// EvaluationsTotal counts graduation sweeps by status.
	EvaluationsTotal metric.Int64Counter

	// EvaluationDuration records sweep duration in seconds.
	EvaluationDuration metric.Float64Histogram
}

// NewMetrics creates a new Metrics instance with all metrics
// registered against the provided meter.
//
// Outputs:
//
//	*Metrics - The metrics instance with all instruments initialized.
//	error - Non-nil if metric registration fails.
//
// Thread Safety: Safe for concurrent use after creation.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"governance_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"governance_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.IncidentsTotal, err = meter.Int64Counter(
		"governance_incidents_total",
		metric.WithDescription("Incidents created"),
		metric.WithUnit("{incident}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create incidents_total: %w", err)
	}

	m.ProposalsTotal, err = meter.Int64Counter(
		"governance_proposals_total",
		metric.WithDescription("Policy proposals generated"),
		metric.WithUnit("{proposal}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create proposals_total: %w", err)
	}

	m.ChecksTotal, err = meter.Int64Counter(
		"governance_checks_total",
		metric.WithDescription("Enforcement checks by outcome"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create checks_total: %w", err)
	}

	m.CheckDuration, err = meter.Float64Histogram(
		"governance_check_duration_seconds",
		metric.WithDescription("Enforcement check duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1),
	)
	if err != nil {
		return nil, fmt.Errorf("create check_duration: %w", err)
	}

	m.PreventionsTotal, err = meter.Int64Counter(
		"governance_preventions_total",
		metric.WithDescription("Prevention records committed"),
		metric.WithUnit("{prevention}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create preventions_total: %w", err)
	}

	m.StoreUnavailableTotal, err = meter.Int64Counter(
		"governance_store_unavailable_total",
		metric.WithDescription("Fail-open events on store unavailability"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create store_unavailable_total: %w", err)
	}

	m.TransitionsTotal, err = meter.Int64Counter(
		"governance_policy_transitions_total",
		metric.WithDescription("Policy mode transitions by edge"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create policy_transitions_total: %w", err)
	}

	m.DegradesTotal, err = meter.Int64Counter(
		"governance_degrades_total",
		metric.WithDescription("Evaluator-forced policy degrades"),
		metric.WithUnit("{degrade}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create degrades_total: %w", err)
	}

	m.EvaluationsTotal, err = meter.Int64Counter(
		"governance_evaluations_total",
		metric.WithDescription("Graduation evaluation sweeps"),
		metric.WithUnit("{sweep}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create evaluations_total: %w", err)
	}

	m.EvaluationDuration, err = meter.Float64Histogram(
		"governance_evaluation_duration_seconds",
		metric.WithDescription("Graduation sweep duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 30),
	)
	if err != nil {
		return nil, fmt.Errorf("create evaluation_duration: %w", err)
	}

	return m, nil
}
