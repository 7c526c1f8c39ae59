package sessionstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors updated by a Store.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ProvisioningTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the store metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		OperationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sessionstore",
				Name:      "operations_total",
				Help:      "Total number of session store operations",
			},
			[]string{"operation", "status"}, // status=ok/not_found/error
		),
		OperationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sessionstore",
				Name:      "operation_duration_seconds",
				Help:      "Session store operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ProvisioningTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sessionstore",
				Name:      "provisioning_total",
				Help:      "Schema provisioning outcomes",
			},
			[]string{"result"}, // result=created/existing/raced/error
		),
	}
}

func (m *Metrics) observe(operation, status string, started time.Time) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) provisioned(result string) {
	if m == nil {
		return
	}
	m.ProvisioningTotal.WithLabelValues(result).Inc()
}
