// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics and the structured
// per-node telemetry records for the pipeline.
//
// # Description
//
// Metrics cover pipeline requests by terminal outcome, per-node latency,
// token usage by direction, retry counts, active streams and client
// disconnects. All metric operations are thread-safe via Prometheus's
// internal locking. Exposed on GET /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "docent"

// =============================================================================
// Metric Definitions
// =============================================================================

// Metrics bundles every pipeline metric. Construct once at startup and
// share across handlers and the runtime.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	NodeDuration       *prometheus.HistogramVec
	PipelineDuration   prometheus.Histogram
	TokensTotal        *prometheus.CounterVec
	RetriesTotal       prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec
	WarningsTotal      *prometheus.CounterVec
	ActiveStreams      prometheus.Gauge
	ClientDisconnects  prometheus.Counter
	DocumentsRetrieved prometheus.Histogram
	DocumentsKept      prometheus.Histogram
}

// NewMetrics registers the metric set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_requests_total",
			Help:      "Pipeline invocations by endpoint and terminal outcome.",
		}, []string{"endpoint", "outcome"}),
		NodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Wall time spent in each pipeline node.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"node"}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Total request duration from intake to terminal event.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "LLM tokens consumed, by direction and model.",
		}, []string{"direction", "model"}),
		RetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_rewrites_total",
			Help:      "Query rewrite loops taken after failed grading.",
		}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_errors_total",
			Help:      "Terminal error events by category.",
		}, []string{"category"}),
		WarningsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_warnings_total",
			Help:      "Warning events by code.",
		}, []string{"code"}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Streams currently open to clients.",
		}),
		ClientDisconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_disconnects_total",
			Help:      "Streams cancelled by client disconnect.",
		}),
		DocumentsRetrieved: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "documents_retrieved",
			Help:      "Documents returned by hybrid retrieval per invocation.",
			Buckets:   prometheus.LinearBuckets(0, 2, 11),
		}),
		DocumentsKept: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "documents_kept_after_grading",
			Help:      "Documents surviving the relevance grade per invocation.",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
	}
}
