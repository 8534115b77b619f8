// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the account service's Prometheus metrics.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RateLimitedTotal *prometheus.CounterVec
	MailSentTotal    *prometheus.CounterVec
	MailQueueDepth   prometheus.Gauge
}

// NewMetrics creates and registers the account service metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accounts_http_requests_total",
				Help: "Total number of API requests by route and status code",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accounts_http_request_duration_seconds",
				Help:    "API request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accounts_rate_limited_total",
				Help: "Total number of requests rejected by the rate limiter by route",
			},
			[]string{"route"},
		),
		MailSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accounts_mail_sent_total",
				Help: "Total number of account emails by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		MailQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accounts_mail_queue_depth",
				Help: "Number of account emails waiting for delivery",
			},
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.RateLimitedTotal, m.MailSentTotal, m.MailQueueDepth)
	return m
}

// RecordRequest counts a completed API request.
func (m *Metrics) RecordRequest(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RecordRateLimited counts a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimited(route string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(route).Inc()
}

// RecordMail counts a delivery attempt outcome ("sent", "failed" or "dropped").
func (m *Metrics) RecordMail(kind, outcome string) {
	if m == nil {
		return
	}
	m.MailSentTotal.WithLabelValues(kind, outcome).Inc()
}

// SetMailQueueDepth reports the number of queued emails.
func (m *Metrics) SetMailQueueDepth(n int) {
	if m == nil {
		return
	}
	m.MailQueueDepth.Set(float64(n))
}
