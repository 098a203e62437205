package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cyclon"

var (
	Registry = prometheus.NewRegistry()

	// ---- Shuffle protocol ----
	ShuffleRounds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shuffle",
			Name:      "rounds_total",
			Help:      "Scheduler invocations, by whether an exchange was initiated or skipped.",
		},
		[]string{"outcome"},
	)

	ShuffleRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shuffle",
			Name:      "requests_handled_total",
			Help:      "Push-pull requests answered, by accepted or declined.",
		},
		[]string{"outcome"},
	)

	ShuffleResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shuffle",
			Name:      "responses_handled_total",
			Help:      "Push-pull responses received, by applied or declined.",
		},
		[]string{"outcome"},
	)

	ShuffleSendErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shuffle",
			Name:      "send_errors_total",
			Help:      "Messages the transport failed to send, by message kind.",
		},
		[]string{"kind"},
	)

	ViewSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "shuffle",
			Name:      "view_size",
			Help:      "Current number of peers in the node's view.",
		},
		[]string{"node"},
	)

	// ---- Process ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Always 1, labeled by version and git_sha.",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the process started.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		ShuffleRounds, ShuffleRequests, ShuffleResponses, ShuffleSendErrors, ViewSize,
		HTTPRequests, HTTPDuration, HTTPInFlight,
		buildInfo, uptime,
	)
}

// MetricsHandler serves the registry in the prometheus exposition format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo is called once at startup.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}
