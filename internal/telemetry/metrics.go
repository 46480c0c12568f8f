package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsCreated      = prometheus.NewCounter(prometheus.CounterOpts{Name: "stt_jobs_created_total", Help: "Jobs accepted and enqueued"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "stt_jobs_completed_total", Help: "Jobs transcribed and summarized successfully"})
	JobsRetried      = prometheus.NewCounter(prometheus.CounterOpts{Name: "stt_jobs_retried_total", Help: "Processing attempts that failed and were rescheduled"})
	JobsDeadLettered = prometheus.NewCounter(prometheus.CounterOpts{Name: "stt_jobs_dead_letter_total", Help: "Jobs moved to the dead-letter sink"})
	JobsCleaned      = prometheus.NewCounter(prometheus.CounterOpts{Name: "stt_jobs_cleaned_total", Help: "Expired jobs deleted by the retention sweep"})
	EventsPublished  = prometheus.NewCounter(prometheus.CounterOpts{Name: "stt_events_published_total", Help: "Lifecycle events published on the bus"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "stt_uploads_rate_limited_total", Help: "Uploads rejected by the rate limiter"})

	QueueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "stt_queue_depth", Help: "Jobs waiting in the ready queue"})
	InFlightGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "stt_jobs_inflight", Help: "Jobs currently leased by workers"})
	WSConnections   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "stt_ws_connections", Help: "Live realtime gateway connections"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsCreated,
			JobsCompleted,
			JobsRetried,
			JobsDeadLettered,
			JobsCleaned,
			EventsPublished,
			RateLimitRejects,
			QueueDepthGauge,
			InFlightGauge,
			WSConnections,
		)
	})
	return promhttp.Handler()
}
