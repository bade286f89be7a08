package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for consent operations.
type Metrics struct {
	ConsentsGranted  *prometheus.CounterVec
	ConsentsRevoked  *prometheus.CounterVec
	AcceptAllTotal   prometheus.Counter
	RejectAllTotal   prometheus.Counter
	ResetsTotal      prometheus.Counter
	BannersDismissed prometheus.Counter
	ActiveMachines   prometheus.Gauge
	StorageLatency   *prometheus.HistogramVec
}

// New registers and returns consent metrics collectors.
func New() *Metrics {
	return &Metrics{
		ConsentsGranted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentd_consents_granted_total",
			Help: "Total number of category grants, labeled by category",
		}, []string{"category"}),
		ConsentsRevoked: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentd_consents_revoked_total",
			Help: "Total number of category revocations, labeled by category",
		}, []string{"category"}),
		AcceptAllTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentd_accept_all_total",
			Help: "Total number of accept-all decisions",
		}),
		RejectAllTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentd_reject_all_total",
			Help: "Total number of reject-all decisions",
		}),
		ResetsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentd_consent_resets_total",
			Help: "Total number of consent resets (erasure flow included)",
		}),
		BannersDismissed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentd_banners_dismissed_total",
			Help: "Total number of banner dismissals without a decision",
		}),
		ActiveMachines: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "consentd_active_machines",
			Help: "Current number of visitor state machines held in memory",
		}),
		StorageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consentd_consent_storage_latency_seconds",
			Help:    "Latency of consent storage operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncrementGranted(category string) {
	m.ConsentsGranted.WithLabelValues(category).Inc()
}

func (m *Metrics) IncrementRevoked(category string) {
	m.ConsentsRevoked.WithLabelValues(category).Inc()
}

// ObserveStorageLatency records the latency of a storage operation.
func (m *Metrics) ObserveStorageLatency(operation string, durationSeconds float64) {
	m.StorageLatency.WithLabelValues(operation).Observe(durationSeconds)
}
