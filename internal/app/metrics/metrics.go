// Package metrics exposes Prometheus collectors for the HTTP surface
// and the ledger operations.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "market_layer"

// Metrics bundles every collector behind one registry.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	SalesListed   prometheus.Counter
	Proposals     prometheus.Counter
	Settlements   prometheus.Counter
	Claims        prometheus.Counter
	IntentsQueued prometheus.Counter
}

// New builds and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, path and status code.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		SalesListed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_listed_total",
			Help:      "Items placed on sale.",
		}),
		Proposals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_total",
			Help:      "Offers recorded or settled.",
		}),
		Settlements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Sales settled, by acceptance or fixed-price purchase.",
		}),
		Claims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staking_claims_total",
			Help:      "Staking reward claims paid out.",
		}),
		IntentsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_queued_total",
			Help:      "Transfer intents emitted by ledger operations.",
		}),
	}

	registry.MustRegister(
		m.HTTPRequests, m.HTTPDuration,
		m.SalesListed, m.Proposals, m.Settlements, m.Claims, m.IntentsQueued,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request counting and
// latency observation.
func (m *Metrics) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		m.HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// canonicalPath collapses identifier path segments so the label space
// stays bounded.
func canonicalPath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, segment := range segments {
		if segment == "" {
			continue
		}
		if _, err := strconv.ParseUint(segment, 10, 64); err == nil {
			segments[i] = ":id"
			continue
		}
		if i > 0 && segments[i-1] == "staking" {
			segments[i] = ":account"
		}
	}
	return "/" + strings.Join(segments, "/")
}
