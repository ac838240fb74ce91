// Package metrics exposes relay activity as Prometheus metrics.
package metrics

import (
	"log"
	"time"

	"github.com/pershinghar/go-termux-relay/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder implements the observer hooks of the remote, telemetry and api
// packages.
type Recorder struct {
	remoteCalls   *prometheus.CounterVec
	remoteLatency *prometheus.HistogramVec
	collections   *prometheus.CounterVec
	cacheUpdated  prometheus.Gauge
	httpRequests  *prometheus.CounterVec
}

// NewRecorder creates the relay metrics and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_remote_operations_total",
			Help: "Remote operations by kind of operation and outcome.",
		}, []string{"op", "result"}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_remote_operation_seconds",
			Help:    "Wall time of remote operations, connection setup included.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"op"}),
		collections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_collections_total",
			Help: "Full telemetry collections by resulting connection status.",
		}, []string{"status"}),
		cacheUpdated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_cache_updated_timestamp_seconds",
			Help: "Unix time of the cached snapshot, 0 when the cache is empty.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "HTTP requests by route template and status code.",
		}, []string{"route", "code"}),
	}

	reg.MustRegister(r.remoteCalls, r.remoteLatency, r.collections, r.cacheUpdated, r.httpRequests)
	return r
}

// ObserveRemote records one remote operation; kind is empty on success.
func (r *Recorder) ObserveRemote(op string, kind models.ErrorKind, d time.Duration) {
	result := "ok"
	if kind != "" {
		result = string(kind)
	}
	r.remoteCalls.WithLabelValues(op, result).Inc()
	r.remoteLatency.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveCollection records a collection outcome and the cache timestamp.
func (r *Recorder) ObserveCollection(status string, cacheUpdated time.Time) {
	r.collections.WithLabelValues(status).Inc()
	if cacheUpdated.IsZero() {
		r.cacheUpdated.Set(0)
		return
	}
	r.cacheUpdated.Set(float64(cacheUpdated.UnixNano()) / 1e9)
}

// ObserveRequest records one served HTTP request.
func (r *Recorder) ObserveRequest(route string, code int) {
	if route == "" {
		route = "unmatched"
	}
	r.httpRequests.WithLabelValues(route, statusLabel(code)).Inc()
	if code >= 500 {
		log.Printf("[metrics] %s answered %d", route, code)
	}
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
