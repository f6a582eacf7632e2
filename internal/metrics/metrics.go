// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AttendanceSubmissions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classroom_attendance_submissions_total",
		Help: "Roll calls written.",
	})

	RosterChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_roster_changes_total",
		Help: "Roster membership changes by member kind and operation.",
	}, []string{"kind", "op"})

	RemoteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_remote_errors_total",
		Help: "Failed calls to the store, queue or third party APIs.",
	}, []string{"op"})

	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_events_processed_total",
		Help: "Queue events handled by the worker.",
	}, []string{"type", "result"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "classroom_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// GinMiddleware observes request latency labelled by the matched route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
