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
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsMiddleware creates Gin middleware that records request metrics.
//
// Description:
//
//	Records HTTP request count and duration with labels for method,
//	route, and status code. The route template (c.FullPath) keys the
//	metrics rather than the raw URL, so path parameters do not explode
//	label cardinality.
//
// Inputs:
//
//	metrics - Pre-configured Metrics instance; nil disables recording.
//
// Example:
//
//	metrics, _ := telemetry.NewMetrics(otel.Meter("governance"))
//	router := gin.New()
//	router.Use(telemetry.MetricsMiddleware(metrics))
//
// Thread Safety: Safe for concurrent use.
func MetricsMiddleware(metrics *Metrics) gin.HandlerFunc {
	if metrics == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("path", route),
			attribute.Int("status", c.Writer.Status()),
		)

		ctx := c.Request.Context()
		metrics.HTTPRequestsTotal.Add(ctx, 1, attrs)
		metrics.HTTPRequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}
