// Package metrics exposes Prometheus metrics for compression runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run results used as label values.
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultCancelled = "cancelled"
)

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidcompress_runs_total",
			Help: "Total number of compress runs by result",
		},
		[]string{"result"},
	)

	RunFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidcompress_run_failures_total",
			Help: "Total number of failed compress runs by error kind",
		},
		[]string{"kind"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidcompress_run_duration_seconds",
			Help:    "Wall time of compress runs in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	FramesEncodedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidcompress_frames_encoded_total",
			Help: "Total number of frames submitted to the encoder",
		},
	)

	ChunksMuxedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidcompress_chunks_muxed_total",
			Help: "Total number of encoded chunks appended to a track",
		},
	)

	OutputBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidcompress_output_bytes_total",
			Help: "Total bytes of finalized container output",
		},
	)

	EncoderQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidcompress_encoder_queue_depth",
			Help: "Frames submitted to the encoder but not yet emitted, last observed",
		},
	)

	RunsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidcompress_runs_in_flight",
			Help: "Number of compress runs currently executing",
		},
	)
)

// Handler returns the Prometheus metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
