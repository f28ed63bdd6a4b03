// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines interfaces for enterprise functionality.
//
// This package provides extension points that allow enterprise
// deployments to add capabilities without modifying the core
// governance codebase. The open source version uses no-op defaults
// for all interfaces.
//
// # Design Philosophy
//
// AleutianGuard runs as a self-contained local service. Compliance
// integrations (SIEM export, audit databases) are implemented by
// providing concrete implementations of these interfaces and
// injecting them via ServiceOptions.
//
// # Usage (Open Source)
//
// The open source version uses no-op implementations:
//
//	opts := extensions.DefaultOptions()
//
// # Usage (Enterprise)
//
// Enterprise provides concrete implementations:
//
//	opts := extensions.ServiceOptions{
//	    AuditLogger: enterprise.NewSplunkAuditor(config),
//	}
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use.
// Multiple goroutines may call methods simultaneously.
package extensions

// ServiceOptions groups all extension points for service configuration.
//
// All fields are optional; nil values are replaced with no-op defaults
// when DefaultOptions() is called or when services check for nil.
type ServiceOptions struct {
	// AuditLogger records approval decisions, promotions, and
	// overrides for compliance. Nil disables the audit trail.
	AuditLogger AuditLogger
}

// DefaultOptions returns ServiceOptions with no-op implementations.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuditLogger: NopAuditLogger{},
	}
}
