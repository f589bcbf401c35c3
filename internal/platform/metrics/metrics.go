package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the agent.
type Metrics struct {
	UploadsTotal      *prometheus.CounterVec
	DecryptsTotal     *prometheus.CounterVec
	PipelineStep      *prometheus.HistogramVec
	ConsentsGranted   prometheus.Counter
	ConsentsRevoked   prometheus.Counter
	RecordsRegistered prometheus.Counter
	TxConfirmLatency  prometheus.Histogram
	ThresholdConnects prometheus.Counter
	EndpointLatency   *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		UploadsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentis_uploads_total",
			Help: "Upload pipeline invocations by outcome",
		}, []string{"outcome"}),
		DecryptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentis_decrypts_total",
			Help: "Decrypt pipeline invocations by outcome",
		}, []string{"outcome"}),
		PipelineStep: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consentis_pipeline_step_seconds",
			Help:    "Duration of individual pipeline steps",
			Buckets: prometheus.DefBuckets,
		}, []string{"pipeline", "step"}),
		ConsentsGranted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentis_consents_granted_total",
			Help: "Confirmed consent grant transactions",
		}),
		ConsentsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentis_consents_revoked_total",
			Help: "Confirmed consent revoke transactions",
		}),
		RecordsRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentis_records_registered_total",
			Help: "Confirmed record registrations",
		}),
		TxConfirmLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "consentis_tx_confirm_seconds",
			Help:    "Time from transaction submission to confirmation",
			Buckets: []float64{1, 2, 5, 10, 30, 60, 120},
		}),
		ThresholdConnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentis_threshold_connects_total",
			Help: "Connections established to the threshold network",
		}),
		EndpointLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consentis_endpoint_latency_seconds",
			Help:    "Latency of agent API endpoints in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}
