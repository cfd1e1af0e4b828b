package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forge3d_jobs_total",
			Help: "Number of generation jobs by status",
		},
		[]string{"status"},
	)

	JobsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge3d_jobs_enqueued_total",
			Help: "Total generation jobs admitted to the queue by kind",
		},
		[]string{"kind"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forge3d_job_duration_seconds",
			Help:    "End-to-end generation duration in seconds by kind",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 240, 360},
		},
		[]string{"kind"},
	)

	QueuePaused = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge3d_queue_paused",
			Help: "Whether the queue is paused (1 = paused)",
		},
	)

	// Bridge metrics
	BridgeUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge3d_bridge_up",
			Help: "Whether the inference worker is running (1 = running)",
		},
	)

	BridgeCrashes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forge3d_bridge_crashes_total",
			Help: "Total inference worker crashes",
		},
	)

	BridgeRPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forge3d_bridge_rpc_duration_seconds",
			Help:    "Worker RPC duration in seconds by call",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 360},
		},
		[]string{"call"},
	)

	// Storage metrics
	AssetsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge3d_assets_total",
			Help: "Total persisted assets",
		},
	)

	AssetBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge3d_asset_bytes_total",
			Help: "Total bytes of persisted assets",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge3d_api_requests_total",
			Help: "Total API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forge3d_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Telemetry metrics
	TelemetryDropped = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge3d_telemetry_dropped_total",
			Help: "Telemetry events dropped on subscriber backpressure",
		},
	)
)

func init() {
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobsEnqueued)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(QueuePaused)
	prometheus.MustRegister(BridgeUp)
	prometheus.MustRegister(BridgeCrashes)
	prometheus.MustRegister(BridgeRPCDuration)
	prometheus.MustRegister(AssetsTotal)
	prometheus.MustRegister(AssetBytes)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(TelemetryDropped)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
