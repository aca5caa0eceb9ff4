package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tipctl"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"server", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"server", "method", "path", "status"},
	)
	instrumentCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "instrument",
			Name:      "calls_total",
			Help:      "Command round trips by outcome.",
		},
		[]string{"command", "outcome"},
	)
	instrumentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "instrument",
			Name:      "call_duration_seconds",
			Help:      "Command round trip duration in seconds.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"command"},
	)
	streamFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Frames decoded from the streaming channel.",
		},
	)
	streamGaps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "counter_gaps_total",
			Help:      "Frame counter discontinuities.",
		},
	)
	streamEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_evicted_total",
			Help:      "Frames evicted from the ring buffer.",
		},
	)
	actionRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "action",
			Name:      "executions_total",
			Help:      "Executed actions by name and success.",
		},
		[]string{"action", "success"},
	)
	controllerCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "cycles_total",
			Help:      "Completed approach/measure/pulse cycles.",
		},
	)
	controllerPulses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "pulses_total",
			Help:      "Bias pulses issued by polarity.",
		},
		[]string{"polarity"},
	)
	controllerOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "outcomes_total",
			Help:      "Terminal controller outcomes.",
		},
		[]string{"state", "reason"},
	)
	monitorSamples = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "samples_total",
			Help:      "Samples published by the signal monitor.",
		},
	)
	monitorDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "samples_dropped_total",
			Help:      "Samples dropped by the overflow policy.",
		},
		[]string{"policy"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			instrumentCalls, instrumentDuration,
			streamFrames, streamGaps, streamEvicted,
			actionRuns,
			controllerCycles, controllerPulses, controllerOutcomes,
			monitorSamples, monitorDropped,
		)
	})
}

func RecordHTTPRequest(server, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(server, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(server, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordInstrumentCall outcome is one of "ok", "remote", "protocol", "connection".
func RecordInstrumentCall(command, outcome string, duration time.Duration) {
	RegisterMetrics()
	instrumentCalls.WithLabelValues(command, outcome).Inc()
	instrumentDuration.WithLabelValues(command).Observe(duration.Seconds())
}

func RecordStreamFrame() {
	RegisterMetrics()
	streamFrames.Inc()
}

func RecordStreamGap() {
	RegisterMetrics()
	streamGaps.Inc()
}

func RecordStreamEviction() {
	RegisterMetrics()
	streamEvicted.Inc()
}

func RecordAction(name string, success bool) {
	RegisterMetrics()
	actionRuns.WithLabelValues(name, strconv.FormatBool(success)).Inc()
}

func RecordControllerCycle() {
	RegisterMetrics()
	controllerCycles.Inc()
}

func RecordControllerPulse(polarity string) {
	RegisterMetrics()
	controllerPulses.WithLabelValues(polarity).Inc()
}

func RecordControllerOutcome(state, reason string) {
	RegisterMetrics()
	controllerOutcomes.WithLabelValues(state, reason).Inc()
}

func RecordMonitorSample() {
	RegisterMetrics()
	monitorSamples.Inc()
}

func RecordMonitorDrop(policy string) {
	RegisterMetrics()
	monitorDropped.WithLabelValues(policy).Inc()
}
