// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lifecycle

import "errors"

// Sentinel errors for the approval gate and policy lifecycle.
var (
	// ErrAlreadyDecided indicates a re-decision attempt on a proposal
	// that has left draft. Rejected, never retried.
	ErrAlreadyDecided = errors.New("proposal already decided")

	// ErrUnauthorized indicates the actor lacks the approval
	// capability. Surfaced to the caller.
	ErrUnauthorized = errors.New("actor lacks approval capability")

	// ErrInvalidTransition indicates a policy mode change outside the
	// allowed graph. Rejected and logged as a governance violation.
	ErrInvalidTransition = errors.New("invalid policy mode transition")

	// ErrObservationIncomplete indicates a SHADOW policy has not yet
	// finished its minimum observation period.
	ErrObservationIncomplete = errors.New("observation period incomplete")

	// ErrShadowFalsePositives indicates the policy produced false
	// positives during shadow observation and may not advance.
	ErrShadowFalsePositives = errors.New("false positives recorded during shadow observation")

	// ErrConfidenceBelowThreshold indicates the policy's confidence
	// score does not yet support activation.
	ErrConfidenceBelowThreshold = errors.New("confidence below activation threshold")
)
