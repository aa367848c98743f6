package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "someip",
			Subsystem: "codec",
			Name:      "decode_errors_total",
			Help:      "Messages rejected by the header or SD codec.",
		},
		[]string{"reason"},
	)
	violations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "someip",
			Subsystem: "conformance",
			Name:      "violations_total",
			Help:      "Conformance violations reported per rule.",
		},
		[]string{"rule"},
	)
	tpSegments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "someip",
			Subsystem: "tp",
			Name:      "segments_total",
			Help:      "TP segments handled by the reassembler.",
		},
		[]string{"result"},
	)
	tpReassembly = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "someip",
			Subsystem: "tp",
			Name:      "reassembly_total",
			Help:      "Finished reassembly attempts by outcome.",
		},
		[]string{"outcome"},
	)
	tpBuffers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "someip",
			Subsystem: "tp",
			Name:      "buffers",
			Help:      "In-flight TP reassembly buffers.",
		},
	)
	processDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "someip",
			Subsystem: "endpoint",
			Name:      "process_duration_seconds",
			Help:      "Time spent processing one datagram or stream message.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8),
		},
		[]string{"transport"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(decodeErrors, violations, tpSegments, tpReassembly, tpBuffers, processDuration)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordDecodeError(reason string) {
	RegisterMetrics()
	decodeErrors.WithLabelValues(reason).Inc()
}

func RecordViolation(rule string) {
	RegisterMetrics()
	violations.WithLabelValues(rule).Inc()
}

func RecordTPSegment(result string) {
	RegisterMetrics()
	tpSegments.WithLabelValues(result).Inc()
}

func RecordTPReassembly(outcome string) {
	RegisterMetrics()
	tpReassembly.WithLabelValues(outcome).Inc()
}

func AddTPBuffers(delta int) {
	RegisterMetrics()
	tpBuffers.Add(float64(delta))
}

func RecordProcess(transport string, duration time.Duration) {
	RegisterMetrics()
	processDuration.WithLabelValues(transport).Observe(duration.Seconds())
}
