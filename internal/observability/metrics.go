package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesTx = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lanelink",
			Subsystem: "link",
			Name:      "frames_tx_total",
			Help:      "Frames transmitted, by traffic class.",
		},
		[]string{"class"},
	)
	framesRx = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lanelink",
			Subsystem: "link",
			Name:      "frames_rx_total",
			Help:      "Frames received and accepted, by classification.",
		},
		[]string{"kind"},
	)
	linkErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lanelink",
			Subsystem: "link",
			Name:      "frame_errors_total",
			Help:      "Frames discarded for EOFE, FIFO, length, or short-frame errors.",
		},
	)
	unexpectedFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lanelink",
			Subsystem: "link",
			Name:      "unexpected_frames_total",
			Help:      "Control frames that matched no outstanding register request.",
		},
	)
	transmitRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lanelink",
			Subsystem: "link",
			Name:      "transmit_retries_total",
			Help:      "Send attempts repeated after a transmit failure.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lanelink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Monitor HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lanelink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Monitor HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesTx, framesRx, linkErrors, unexpectedFrames,
			transmitRetries, httpRequests, httpDuration,
		)
	})
}

func RecordFrameTx(class string) {
	RegisterMetrics()
	framesTx.WithLabelValues(class).Inc()
}

func RecordFrameRx(kind string) {
	RegisterMetrics()
	framesRx.WithLabelValues(kind).Inc()
}

func RecordFrameError() {
	RegisterMetrics()
	linkErrors.Inc()
}

func RecordUnexpectedFrame() {
	RegisterMetrics()
	unexpectedFrames.Inc()
}

func RecordTransmitRetry() {
	RegisterMetrics()
	transmitRetries.Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
