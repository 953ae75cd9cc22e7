/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	gateRejections prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ultimate",
			Name:      "authority_requests_total",
			Help:      "Requests sent to the game authority, by operation and result.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ultimate",
			Name:      "authority_request_duration_seconds",
			Help:      "Round trip time of requests to the game authority.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		gateRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ultimate",
			Name:      "gate_rejections_total",
			Help:      "Move or reset intents ignored without contacting the authority.",
		}),
	}

	m.registry.MustRegister(m.requests, m.duration, m.gateRejections)

	return m
}

// observe records one authority call; nil receivers are a no-op.
func (m *metrics) observe(op string, started time.Time, err error) {
	if m == nil {
		return
	}

	m.requests.WithLabelValues(op, resultLabel(err)).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (m *metrics) rejected() {
	if m == nil {
		return
	}

	m.gateRejections.Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isAuthorityError(err):
		return "authority_error"
	default:
		return "transport_error"
	}
}

func registerMetricsHandler(cfg *Config, m *metrics, mux *httprouter.Router) {
	mux.Handler("GET", cfg.prefix+"/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
