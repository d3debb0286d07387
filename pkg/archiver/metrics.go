// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package archiver

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "savecomplete"

// Metrics holds the archiver's prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	fetches *prometheus.CounterVec
	bytes   prometheus.Counter
	phases  *prometheus.HistogramVec
	jobs    *prometheus.CounterVec
}

// NewMetrics creates the archiver collectors and registers them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_total",
			Help:      "Number of resource fetches, by result.",
		}, []string{"result"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_bytes_total",
			Help:      "Number of bytes received by successful fetches.",
		}),
		phases: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "phase_duration_seconds",
			Help:      "Duration of the archive job phases.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"phase"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_total",
			Help:      "Number of finished archive jobs, by status.",
		}, []string{"status"}),
	}

	if reg != nil {
		reg.MustRegister(m.fetches, m.bytes, m.phases, m.jobs)
	}
	return m
}

func (m *Metrics) fetched(ok bool, size int) {
	if m == nil {
		return
	}
	if !ok {
		m.fetches.WithLabelValues("failure").Inc()
		return
	}
	m.fetches.WithLabelValues("success").Inc()
	m.bytes.Add(float64(size))
}

func (m *Metrics) phase(name string, s *Span) {
	if m == nil || s == nil || s.Finish.IsZero() {
		return
	}
	m.phases.WithLabelValues(name).Observe(s.Finish.Sub(s.Start).Seconds())
}

func (m *Metrics) finished(status Status) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(string(status)).Inc()
}
