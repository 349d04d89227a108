// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package obs provides the process-wide Prometheus registry for the
// control plane. All gauges/counters/histograms used by capacity, health,
// edge, and path packages are registered here so cmd/central and
// cmd/sdnapp only need to mount a single /metrics handler.
package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BackendStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fabricctl_backend_state_transitions_total",
		Help: "Total lifecycle-state transitions, labeled by backend id and resulting state",
	}, []string{"backend", "state"})

	BackendsOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fabricctl_backends_online",
		Help: "Number of backends currently in the ON state",
	})

	HealthProbeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fabricctl_health_probe_failures_total",
		Help: "Total consecutive-failure-counted health probe failures, labeled by backend",
	}, []string{"backend"})

	BlacklistSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fabricctl_blacklist_size",
		Help: "Number of backends currently blacklisted pending hypervisor reset",
	})

	ForecastValue = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fabricctl_forecast_requests_per_hour",
		Help: "Most recently cached traffic forecast value",
	})

	ForecastFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fabricctl_forecast_failures_total",
		Help: "Total forecaster evaluation failures (reused previous cached value)",
	})

	PathPredictionError = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fabricctl_path_prediction_error_bytes",
		Help:    "Absolute error between a path's prediction and the subsequently observed bytes",
		Buckets: prometheus.ExponentialBuckets(1<<10, 4, 10),
	}, []string{"path"})

	PathAccuracy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fabricctl_path_predictor_accuracy",
		Help: "Rolling per-path predictor accuracy (1 - normalized error)",
	}, []string{"path"})

	WeightPublishTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fabricctl_weight_publish_total",
		Help: "Total successful weight-document publications",
	})

	FlowInstallTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fabricctl_flow_install_total",
		Help: "Total SDN flow installs, labeled by spine choice",
	}, []string{"spine"})

	AlertsRaisedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fabricctl_alerts_raised_total",
		Help: "Total alerts raised, labeled by severity",
	}, []string{"severity"})

	StatusDocSyncFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fabricctl_statusdoc_sync_failures_total",
		Help: "Total non-fatal failures shipping the status document to the edge path",
	})
)

func init() {
	prometheus.MustRegister(
		BackendStateTransitions,
		BackendsOnline,
		HealthProbeFailures,
		BlacklistSize,
		ForecastValue,
		ForecastFailures,
		PathPredictionError,
		PathAccuracy,
		WeightPublishTotal,
		FlowInstallTotal,
		AlertsRaisedTotal,
		StatusDocSyncFailures,
	)
}

// ServeMetrics mounts the Prometheus handler at /metrics in a background
// goroutine. Safe to call multiple times with different addrs; each call
// starts its own listener.
func ServeMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}
