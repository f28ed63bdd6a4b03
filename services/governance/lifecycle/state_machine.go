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

import (
	"fmt"

	"github.com/AleutianAI/AleutianGuard/services/governance/store"
)

// StateMachine enforces the policy mode transition graph.
//
// The graph is monotonic forward with a single automatic backward edge:
//
//	SHADOW  → PENDING   : observation period complete, zero shadow false positives
//	PENDING → ACTIVE    : explicit human sign-off, confidence at threshold
//	ACTIVE  → SHADOW    : automatic degrade, graduation evaluator only
//
// Never PENDING → SHADOW and never ACTIVE → PENDING.
//
// Thread Safety:
//
//	StateMachine is immutable after construction and safe for
//	concurrent use.
type StateMachine struct {
	transitions map[store.PolicyMode]map[store.PolicyMode]bool
}

// NewStateMachine creates the policy mode state machine.
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[store.PolicyMode]map[store.PolicyMode]bool),
	}
	for _, mode := range []store.PolicyMode{store.ModeShadow, store.ModePending, store.ModeActive} {
		sm.transitions[mode] = make(map[store.PolicyMode]bool)
	}

	sm.transitions[store.ModeShadow][store.ModePending] = true
	sm.transitions[store.ModePending][store.ModeActive] = true
	sm.transitions[store.ModeActive][store.ModeShadow] = true

	return sm
}

// CanTransition checks whether a mode edge is legal.
func (sm *StateMachine) CanTransition(from, to store.PolicyMode) bool {
	if toMap, ok := sm.transitions[from]; ok {
		return toMap[to]
	}
	return false
}

// Validate returns ErrInvalidTransition for an illegal edge.
func (sm *StateMachine) Validate(from, to store.PolicyMode) error {
	if !sm.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// TransitionReason describes why a legal edge occurs.
func (sm *StateMachine) TransitionReason(from, to store.PolicyMode) string {
	reasons := map[string]string{
		"SHADOW->PENDING": "Observation period complete with zero false positives",
		"PENDING->ACTIVE": "Human sign-off with confidence at threshold",
		"ACTIVE->SHADOW":  "Automatic degrade by the graduation evaluator",
	}
	if reason, ok := reasons[string(from)+"->"+string(to)]; ok {
		return reason
	}
	return "Unknown transition"
}
