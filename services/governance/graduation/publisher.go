// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graduation

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/AleutianGuard/services/governance/store"
)

// LogPublisher surfaces graduation evidence on the structured log
// stream. Log records are the timeline of record for deployments that
// have no external incident dashboard, so a successful write counts
// as surfaced.
type LogPublisher struct {
	Logger *slog.Logger
}

// Publish implements EvidencePublisher.
func (p *LogPublisher) Publish(_ context.Context, scope string, state *store.GraduationState) (bool, error) {
	p.Logger.Info("graduation evidence",
		slog.String("scope", scope),
		slog.String("mode", string(state.Mode)),
		slog.Float64("prevention_rate", state.PreventionRate),
		slog.Float64("regret_rate", state.RegretRate),
	)
	return true, nil
}
