// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for dispatch.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for dispatch.
type Metrics struct {
	// Session metrics
	ActiveSessions  *prometheus.GaugeVec
	SessionsTotal   *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec

	// Datagram metrics
	DatagramsForwarded *prometheus.CounterVec
	DatagramSize       *prometheus.HistogramVec
	DatagramsDropped   *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec

	// Loop metrics
	LoopsRunning *prometheus.GaugeVec
	LoopErrors   *prometheus.CounterVec
}

// New creates a new Metrics instance registered with reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "dispatch"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	m := &Metrics{
		ActiveSessions: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Number of currently active loops and bridge sessions",
			},
			[]string{"route", "protocol"},
		),
		SessionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of bridge sessions by admission status",
			},
			[]string{"route", "protocol", "status"},
		),
		SessionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Session duration in seconds",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"route", "protocol"},
		),
		DatagramsForwarded: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "datagrams_forwarded_total",
				Help:      "Total number of payloads handed to all targets",
			},
			[]string{"route"},
		),
		DatagramSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "datagram_size_bytes",
				Help:      "Forwarded payload size in bytes",
				Buckets:   []float64{16, 64, 256, 1024, 4096, 8096, 16384, 65535},
			},
			[]string{"route"},
		),
		DatagramsDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "datagrams_dropped_total",
				Help:      "Total number of payloads not delivered to a target",
			},
			[]string{"route", "reason"},
		),
		CircuitBreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Target circuit breaker state (0=closed, 1=open)",
			},
			[]string{"target"},
		),
		CircuitBreakerTrips: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total number of target circuit breaker trips",
			},
			[]string{"target"},
		),
		LoopsRunning: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "loops_running",
				Help:      "Number of running relay loops and bridges",
			},
			[]string{"route"},
		),
		LoopErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loop_errors_total",
				Help:      "Total number of relay loops and bridges that ended with an error",
			},
			[]string{"route", "class"},
		),
	}

	return m
}

// ObserveLoop tracks a relay loop or bridge run. classify names the error
// class of a failed run.
func (m *Metrics) ObserveLoop(route string, classify func(error) string, f func() error) error {
	m.LoopsRunning.WithLabelValues(route).Inc()
	defer m.LoopsRunning.WithLabelValues(route).Dec()

	err := f()
	if err != nil {
		m.LoopErrors.WithLabelValues(route, classify(err)).Inc()
	}
	return err
}
