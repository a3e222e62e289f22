// Package metrics exposes Prometheus instrumentation for the tune and relay stages.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TuneDuration tracks the time from the tune request to the lock sample,
	// settle delay included.
	TuneDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dvbrelay_tune_duration_seconds",
		Help:    "Time taken to tune the frontend and sample its lock status",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 1.5, 2, 3, 5, 10},
	}, []string{"locked"})

	// FrontendLocked is 1 once the frontend reported lock.
	FrontendLocked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dvbrelay_frontend_locked",
		Help: "Whether the frontend reported lock after tuning",
	})

	// FrontendStatus is the raw fe_status_t bitmask of the last sample.
	FrontendStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dvbrelay_frontend_status",
		Help: "Raw frontend status bits from the last status read",
	})

	RelayBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dvbrelay_relay_bytes_total",
		Help: "Transport stream bytes written to the sink",
	})

	RelayChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dvbrelay_relay_chunks_total",
		Help: "Chunks written to the sink",
	})

	RelayIdlePolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dvbrelay_relay_idle_polls_total",
		Help: "Capture reads that found no data",
	})

	CaptureReadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dvbrelay_capture_read_errors_total",
		Help: "Capture reads that failed with an error",
	})

	// SinkConnected is 1 while a sink of the given kind is attached.
	SinkConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dvbrelay_sink_connected",
		Help: "Whether a sink is currently attached",
	}, []string{"kind"})
)

// ObserveTune records one tune attempt and the status it produced.
func ObserveTune(duration time.Duration, locked bool, status uint32) {
	TuneDuration.WithLabelValues(strconv.FormatBool(locked)).Observe(duration.Seconds())
	FrontendStatus.Set(float64(status))
	if locked {
		FrontendLocked.Set(1)
	} else {
		FrontendLocked.Set(0)
	}
}

// AddRelayed records one chunk of n bytes written to the sink.
func AddRelayed(n int) {
	RelayChunks.Inc()
	RelayBytes.Add(float64(n))
}

// IncIdlePoll records an empty capture read.
func IncIdlePoll() {
	RelayIdlePolls.Inc()
}

// IncReadError records a failed capture read.
func IncReadError() {
	CaptureReadErrors.Inc()
}

// SetSinkConnected flags the sink of the given kind as attached or gone.
func SetSinkConnected(kind string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	SinkConnected.WithLabelValues(kind).Set(v)
}
