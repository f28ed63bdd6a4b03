// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the governance service
// configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full governance service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Proposal  ProposalConfig  `yaml:"proposal"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Enforcer  EnforcerConfig  `yaml:"enforcer"`
	Evaluator EvaluatorConfig `yaml:"evaluator"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" validate:"required"`

	// ApproverRoles are the roles holding the approval capability.
	ApproverRoles []string `yaml:"approver_roles" validate:"min=1,dive,required"`

	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// StoreConfig configures the badger-backed governance store.
type StoreConfig struct {
	// Dir is the data directory. Empty runs in-memory.
	Dir string `yaml:"dir"`

	GCInterval     time.Duration `yaml:"gc_interval" validate:"gte=0"`
	GCDiscardRatio float64       `yaml:"gc_discard_ratio" validate:"gte=0,lte=1"`
}

// ProposalConfig configures proposal generation thresholds.
type ProposalConfig struct {
	// MinOccurrences is the incident count required before a proposal
	// is generated for a key.
	MinOccurrences int `yaml:"min_occurrences" validate:"gte=1"`

	// Window is the rolling evidence window.
	Window time.Duration `yaml:"window" validate:"gt=0"`
}

// LifecycleConfig configures policy promotion preconditions.
type LifecycleConfig struct {
	// MinObservation is the minimum SHADOW observation period.
	MinObservation time.Duration `yaml:"min_observation" validate:"gt=0"`

	// ActivationConfidence gates PENDING to ACTIVE.
	ActivationConfidence float64 `yaml:"activation_confidence" validate:"gt=0,lte=1"`
}

// EnforcerConfig configures the request-path enforcer.
type EnforcerConfig struct {
	// AlertInterval throttles repeated store-unavailable alerts.
	AlertInterval time.Duration `yaml:"alert_interval" validate:"gt=0"`
}

// EvaluatorConfig configures the graduation control loop.
type EvaluatorConfig struct {
	Interval          time.Duration `yaml:"interval" validate:"gt=0"`
	Window            time.Duration `yaml:"window" validate:"gt=0"`
	MinPreventionRate float64       `yaml:"min_prevention_rate" validate:"gte=0,lte=1"`
	MaxRegret         float64       `yaml:"max_regret" validate:"gte=0,lte=1"`
	DegradeRetries    int           `yaml:"degrade_retries" validate:"gte=1"`
	DegradeBackoff    time.Duration `yaml:"degrade_backoff" validate:"gt=0"`
	TenantConcurrency int           `yaml:"tenant_concurrency" validate:"gte=1"`
}

// Default returns a fully-populated development configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8086",
			ApproverRoles:   []string{"governor"},
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Store: StoreConfig{
			Dir:            "data/governance",
			GCInterval:     10 * time.Minute,
			GCDiscardRatio: 0.5,
		},
		Proposal: ProposalConfig{
			MinOccurrences: 3,
			Window:         24 * time.Hour,
		},
		Lifecycle: LifecycleConfig{
			MinObservation:       24 * time.Hour,
			ActivationConfidence: 0.5,
		},
		Enforcer: EnforcerConfig{
			AlertInterval: 30 * time.Second,
		},
		Evaluator: EvaluatorConfig{
			Interval:          time.Minute,
			Window:            7 * 24 * time.Hour,
			MinPreventionRate: 0.25,
			MaxRegret:         0.2,
			DegradeRetries:    5,
			DegradeBackoff:    200 * time.Millisecond,
			TenantConcurrency: 8,
		},
	}
}

// Load reads and validates a YAML configuration file. An empty path
// returns the defaults.
//
// Outputs:
//
//	Config - The validated configuration.
//	error - Non-nil on read, parse, or validation failure.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks structural constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
