package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relaygw_build_info",
			Help: "Build information",
		},
		[]string{"version", "commit"},
	)

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaygw_requests_total",
			Help: "Requests handled per gateway and outcome",
		},
		[]string{"gateway", "outcome"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relaygw_request_duration_seconds",
			Help:    "Time from accepting a request to delivering its outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"gateway"},
	)

	pending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relaygw_pending_requests",
			Help: "Requests waiting for a child response",
		},
	)

	childState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relaygw_child_state",
			Help: "Child lifecycle state (0 stopped, 1 starting, 2 ready, 3 exited, 4 restarting)",
		},
	)

	childRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relaygw_child_restarts_total",
			Help: "Number of times the child was restarted",
		},
	)

	childFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relaygw_child_died_requests_total",
			Help: "Pending requests failed because the child exited",
		},
	)
)

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, requests, requestDuration, pending, childState, childRestarts, childFailed)
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit string) {
	buildInfo.WithLabelValues(version, commit).Set(1)
}

// RecordRequest counts a finished request and observes its duration.
func RecordRequest(gateway, outcome string, d time.Duration) {
	requests.WithLabelValues(gateway, outcome).Inc()
	requestDuration.WithLabelValues(gateway).Observe(d.Seconds())
}

// SetPending sets the number of in-flight correlated requests.
func SetPending(n int) {
	pending.Set(float64(n))
}

// SetChildState records the child's lifecycle state as its numeric value.
func SetChildState(state int) {
	childState.Set(float64(state))
}

// RecordRestart increments the restart counter.
func RecordRestart() {
	childRestarts.Inc()
}

// RecordChildDied adds n requests failed by a child exit.
func RecordChildDied(n int) {
	childFailed.Add(float64(n))
}
