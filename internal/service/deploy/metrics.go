package deploy

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/pado/internal/domain"
)

var (
	metricsOnce     sync.Once
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	workerReports   *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pado",
			Subsystem: "deploy",
			Name:      "requests_total",
			Help:      "Start and stop requests by outcome",
		}, []string{"operation", "outcome"})

		requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pado",
			Subsystem: "deploy",
			Name:      "request_duration_seconds",
			Help:      "Time spent locking, snapshotting, minting and publishing",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"operation"})

		workerReports = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pado",
			Subsystem: "deploy",
			Name:      "worker_reports_total",
			Help:      "Status reports received from workers",
		}, []string{"status", "outcome"})

		collectors := []prometheus.Collector{requestsTotal, requestDuration, workerReports}
		for _, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch v := are.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						if collector == requestsTotal {
							requestsTotal = v
						} else {
							workerReports = v
						}
					case *prometheus.HistogramVec:
						requestDuration = v
					}
				}
			}
		}
	})
}

func recordRequest(operation string, started time.Time, err error) {
	requestsTotal.WithLabelValues(operation, outcome(err)).Inc()
	requestDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func recordWorkerReport(status domain.DeploymentStatus, err error) {
	workerReports.WithLabelValues(string(status), outcome(err)).Inc()
}

// outcome buckets errors into a small, fixed label set.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidProjectStatus):
		return "invalid_status"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrSecretBroker):
		return "secret_broker"
	case errors.Is(err, domain.ErrSerialization):
		return "serialization"
	case errors.Is(err, domain.ErrDispatch):
		return "dispatch"
	default:
		return "error"
	}
}
