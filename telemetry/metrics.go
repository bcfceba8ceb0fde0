// Package telemetry wires Prometheus metrics, OpenTelemetry tracing and
// correlation-ID helpers for the stream-pulse backend.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// EventsIngested counts accepted event rows, labelled by event type.
	EventsIngested *prometheus.CounterVec
	// DonationsRecorded counts donation rows written alongside events.
	DonationsRecorded prometheus.Counter
	// StreamsUnified counts streams linked by unify operations.
	StreamsUnified prometheus.Counter
	// PartsMerged counts part streams collapsed by merge-parts operations.
	PartsMerged prometheus.Counter

	// UnifyDuration and MergeDuration time the admin workflows end to end.
	UnifyDuration prometheus.Histogram
	MergeDuration prometheus.Histogram

	// HTTPRequests counts handled requests by method, route and status class.
	HTTPRequests *prometheus.CounterVec
	// HTTPDuration times handler latency by route.
	HTTPDuration *prometheus.HistogramVec

	activeStreams prometheus.Gauge
)

// Init registers all metrics with the default registry. Safe to call more
// than once.
func Init() {
	once.Do(func() {
		EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "streampulse_events_ingested_total",
			Help: "Total event rows accepted, by event type.",
		}, []string{"event_type"})
		DonationsRecorded = promauto.NewCounter(prometheus.CounterOpts{
			Name: "streampulse_donations_recorded_total",
			Help: "Total donation rows recorded.",
		})
		StreamsUnified = promauto.NewCounter(prometheus.CounterOpts{
			Name: "streampulse_streams_unified_total",
			Help: "Total streams linked into principal/part sessions.",
		})
		PartsMerged = promauto.NewCounter(prometheus.CounterOpts{
			Name: "streampulse_parts_merged_total",
			Help: "Total part streams collapsed into their principal.",
		})
		UnifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "streampulse_unify_duration_seconds",
			Help:    "Duration of unify operations.",
			Buckets: prometheus.DefBuckets,
		})
		MergeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "streampulse_merge_duration_seconds",
			Help:    "Duration of merge-parts operations.",
			Buckets: prometheus.DefBuckets,
		})
		HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "streampulse_http_requests_total",
			Help: "Handled HTTP requests by method, route and status class.",
		}, []string{"method", "route", "status"})
		HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streampulse_http_request_duration_seconds",
			Help:    "HTTP handler latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"})
		activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "streampulse_active_streams",
			Help: "Streams currently live (ended_at IS NULL).",
		})
	})
}

// CountEvent records an accepted event of the given type.
func CountEvent(eventType string) {
	if EventsIngested != nil {
		EventsIngested.WithLabelValues(eventType).Inc()
	}
}

// CountDonation records a donation row written alongside an event.
func CountDonation() {
	if DonationsRecorded != nil {
		DonationsRecorded.Inc()
	}
}

// CountUnified records n streams linked by a unify operation.
func CountUnified(n int) {
	if StreamsUnified != nil {
		StreamsUnified.Add(float64(n))
	}
}

// CountMerged records n parts collapsed by a merge-parts operation.
func CountMerged(n int) {
	if PartsMerged != nil {
		PartsMerged.Add(float64(n))
	}
}

// SetActiveStreams updates the live-streams gauge.
func SetActiveStreams(n int) {
	if activeStreams != nil {
		activeStreams.Set(float64(n))
	}
}

// TimeFunc starts a timer against h and returns the function that records it.
//
//	done := telemetry.TimeFunc(telemetry.UnifyDuration)
//	defer done()
func TimeFunc(h prometheus.Histogram) func() {
	start := time.Now()
	return func() {
		if h != nil {
			h.Observe(time.Since(start).Seconds())
		}
	}
}

type ctxKey string

const corrKey ctxKey = "correlation_id"

// WithCorrelationID stores a correlation id on the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// CorrelationID returns the correlation id on the context, if any.
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(corrKey).(string); ok {
		return v
	}
	return ""
}

// LoggerWithCorr returns a slog.Logger tagged with the context's correlation
// id so every log line of a request carries it.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := CorrelationID(ctx); id != "" {
		return slog.Default().With("correlation_id", id)
	}
	return slog.Default()
}
