// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classify scans failure evidence for sensitive data before
// it is persisted.
//
// Incident evidence arrives from upstream producers as free-form
// key/value payloads. Tokens, credentials, and PII inside that payload
// would otherwise live forever in the evidence store, which is exactly
// the place auditors and support staff read. The classifier matches
// evidence values against an embedded pattern set and redacts what it
// finds.
//
// The pattern file is baked into the binary via go:embed so the
// redaction policy is immutable at runtime and travels with the
// executable.
package classify

import (
	"fmt"
	"regexp"
	"sort"

	_ "embed"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var embeddedPatterns []byte

// ConfidenceLevel grades how reliable a pattern match is.
type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

// UnmarshalYAML validates the confidence value on load.
func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := ConfidenceLevel(s)
	switch incoming {
	case High, Medium, Low:
		*c = incoming
		return nil
	default:
		return fmt.Errorf("invalid value for confidence: %q", incoming)
	}
}

// Pattern is one detection rule within a classification.
type Pattern struct {
	ID          string          `yaml:"id"`
	Description string          `yaml:"description"`
	Regex       string          `yaml:"regex"`
	Confidence  ConfidenceLevel `yaml:"confidence"`

	compiled *regexp.Regexp
}

// Classification groups patterns under a named category with a
// priority. Higher priority categories win when several match.
type Classification struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Patterns    []Pattern `yaml:"patterns"`
}

type classificationFile struct {
	Classifications []Classification `yaml:"classifications"`
}

// Finding records one sensitive-data match inside evidence.
type Finding struct {
	// EvidenceKey is the evidence map key whose value matched.
	EvidenceKey string `json:"evidence_key"`

	// Classification is the matched category name.
	Classification string `json:"classification"`

	// PatternID identifies the specific rule that fired.
	PatternID string `json:"pattern_id"`

	// Confidence grades the match.
	Confidence ConfidenceLevel `json:"confidence"`
}

// Classifier matches evidence values against the embedded pattern set.
//
// # Thread Safety
//
// Safe for concurrent use after construction; all state is read-only.
type Classifier struct {
	classifications []Classification
}

// New builds a classifier from the embedded pattern file.
//
// Outputs:
//
//	*Classifier - Ready to use; patterns compiled and sorted by priority.
//	error - Non-nil if the embedded YAML is malformed or a regex is invalid.
func New() (*Classifier, error) {
	var file classificationFile
	if err := yaml.Unmarshal(embeddedPatterns, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded pattern file: %w", err)
	}

	for i := range file.Classifications {
		for j := range file.Classifications[i].Patterns {
			p := &file.Classifications[i].Patterns[j]
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("failed to compile regex %s: %w", p.ID, err)
			}
			p.compiled = re
		}
	}

	sort.Slice(file.Classifications, func(i, j int) bool {
		return file.Classifications[i].Priority > file.Classifications[j].Priority
	})

	return &Classifier{classifications: file.Classifications}, nil
}

// Classify returns the highest-priority classification matching the
// value, or "public" when nothing matches.
func (c *Classifier) Classify(value string) string {
	for _, classification := range c.classifications {
		for _, p := range classification.Patterns {
			if p.compiled.MatchString(value) {
				return classification.Name
			}
		}
	}
	return "public"
}

// ScanEvidence checks every string value in an evidence map and
// returns a finding per matched key. Non-string values are skipped;
// structured evidence is flattened by the producer before submission.
func (c *Classifier) ScanEvidence(evidence map[string]any) []Finding {
	var findings []Finding
	for key, raw := range evidence {
		value, ok := raw.(string)
		if !ok {
			continue
		}
		for _, classification := range c.classifications {
			matched := false
			for _, p := range classification.Patterns {
				if p.compiled.MatchString(value) {
					findings = append(findings, Finding{
						EvidenceKey:    key,
						Classification: classification.Name,
						PatternID:      p.ID,
						Confidence:     p.Confidence,
					})
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
	}
	return findings
}

// Redact returns a copy of the evidence map with every matched
// substring replaced by a [REDACTED:<classification>] marker. The
// input map is never modified; unmatched values are carried through
// unchanged.
func (c *Classifier) Redact(evidence map[string]any) map[string]any {
	if len(evidence) == 0 {
		return evidence
	}
	out := make(map[string]any, len(evidence))
	for key, raw := range evidence {
		value, ok := raw.(string)
		if !ok {
			out[key] = raw
			continue
		}
		for _, classification := range c.classifications {
			marker := "[REDACTED:" + classification.Name + "]"
			for _, p := range classification.Patterns {
				value = p.compiled.ReplaceAllString(value, marker)
			}
		}
		out[key] = value
	}
	return out
}
