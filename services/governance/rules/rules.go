// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rules evaluates policy rule bodies against failure evidence.
//
// A policy's body is an opaque rule payload: a YAML document with a
// kind discriminator and kind-specific fields, composable with And/Or/
// Not. Evaluation is deliberately forgiving — an unknown kind or a
// malformed body evaluates to no-match rather than erroring, so a bad
// rule can never block live traffic by accident.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind discriminates rule variants.
type Kind string

const (
	// KindMatchAll matches every event for the policy's key. The
	// default body emitted by the proposal generator: the key itself
	// already identifies the failure class.
	KindMatchAll Kind = "match_all"

	// KindFieldEquals matches when an evidence field equals a value.
	KindFieldEquals Kind = "field_equals"

	// KindFieldMatches matches when an evidence field matches a regex.
	KindFieldMatches Kind = "field_matches"

	// KindThreshold matches when a numeric evidence field crosses a
	// bound.
	KindThreshold Kind = "threshold"
)

// Rule is a single evaluatable rule node.
type Rule struct {
	// Kind selects the rule variant. Required on leaf nodes.
	Kind Kind `yaml:"kind,omitempty" json:"kind,omitempty"`

	// Field is the evidence field the leaf kinds inspect.
	Field string `yaml:"field,omitempty" json:"field,omitempty"`

	// Value is the comparison value for field_equals.
	Value string `yaml:"value,omitempty" json:"value,omitempty"`

	// Pattern is the regex for field_matches.
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	// GT / LT are the bounds for threshold rules.
	GT *float64 `yaml:"gt,omitempty" json:"gt,omitempty"`
	LT *float64 `yaml:"lt,omitempty" json:"lt,omitempty"`

	// And combines sub-rules; all must match.
	And []Rule `yaml:"and,omitempty" json:"and,omitempty"`

	// Or combines sub-rules; any must match.
	Or []Rule `yaml:"or,omitempty" json:"or,omitempty"`

	// Not negates a sub-rule.
	Not *Rule `yaml:"not,omitempty" json:"not,omitempty"`
}

// MatchAll returns the default rule body.
func MatchAll() Rule {
	return Rule{Kind: KindMatchAll}
}

// Marshal serializes a rule to its YAML payload form.
func Marshal(r Rule) ([]byte, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal rule: %w", err)
	}
	return data, nil
}

// Parse deserializes a rule payload.
//
// Outputs:
//
//	Rule - The parsed rule.
//	error - Non-nil for unparseable YAML. Callers on the enforcement
//	        path treat a parse failure as no-match, not as a fault.
func Parse(body []byte) (Rule, error) {
	var r Rule
	if err := yaml.Unmarshal(body, &r); err != nil {
		return Rule{}, fmt.Errorf("parse rule body: %w", err)
	}
	return r, nil
}

// Evaluate reports whether the rule matches the evidence payload.
//
// Description:
//
//	Walks the rule tree. Composite nodes (And/Or/Not) are evaluated
//	before the leaf kind. Unknown kinds and type mismatches evaluate
//	to false.
//
// Inputs:
//
//	r - The rule to evaluate.
//	evidence - Structured failure payload from the candidate event.
//
// Outputs:
//
//	bool - True when the rule matches.
//
// Thread Safety: Evaluate is a pure function, safe for concurrent use.
func Evaluate(r Rule, evidence map[string]any) bool {
	if len(r.And) > 0 {
		for _, sub := range r.And {
			if !Evaluate(sub, evidence) {
				return false
			}
		}
		return true
	}

	if len(r.Or) > 0 {
		for _, sub := range r.Or {
			if Evaluate(sub, evidence) {
				return true
			}
		}
		return false
	}

	if r.Not != nil {
		return !Evaluate(*r.Not, evidence)
	}

	switch r.Kind {
	case KindMatchAll:
		return true

	case KindFieldEquals:
		v, ok := lookupString(evidence, r.Field)
		return ok && v == r.Value

	case KindFieldMatches:
		v, ok := lookupString(evidence, r.Field)
		if !ok {
			return false
		}
		matched, err := regexp.MatchString(r.Pattern, v)
		return err == nil && matched

	case KindThreshold:
		v, ok := lookupNumber(evidence, r.Field)
		if !ok {
			return false
		}
		if r.GT != nil && !(v > *r.GT) {
			return false
		}
		if r.LT != nil && !(v < *r.LT) {
			return false
		}
		return r.GT != nil || r.LT != nil

	default:
		// Unknown kinds never match.
		return false
	}
}

// EvaluateBody parses and evaluates a serialized rule body in one
// step. Parse failures evaluate to false.
func EvaluateBody(body []byte, evidence map[string]any) bool {
	if len(body) == 0 {
		return false
	}
	r, err := Parse(body)
	if err != nil {
		return false
	}
	return Evaluate(r, evidence)
}

// lookupString resolves a dotted field path to a string value.
func lookupString(evidence map[string]any, field string) (string, bool) {
	v, ok := lookup(evidence, field)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// lookupNumber resolves a dotted field path to a numeric value.
func lookupNumber(evidence map[string]any, field string) (float64, bool) {
	v, ok := lookup(evidence, field)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func lookup(evidence map[string]any, field string) (any, bool) {
	if evidence == nil || field == "" {
		return nil, false
	}
	parts := strings.Split(field, ".")
	var current any = evidence
	for _, p := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
