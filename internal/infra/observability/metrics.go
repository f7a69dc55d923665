package observability

import (
	"strconv"
	"time"

	"github.com/boddenberg/hbci-session-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

const (
	metricOperationDuration = "hbci_operation_duration_seconds"
	metricCallbacks         = "hbci_callbacks_total"
	metricLogEvents         = "hbci_backend_log_events_total"
	metricExternalErrors    = "hbci_external_errors_total"
)

// Metrics holds all Prometheus metrics of a session.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	operationDuration *prometheus.HistogramVec
	callbacks         *prometheus.CounterVec
	logEvents         *prometheus.CounterVec
	externalErrors    *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// metrics in it. Using a private registry avoids "duplicate collector"
// panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricOperationDuration,
				Help:    "Duration of banking operations, callbacks included.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"operation"},
		),
		callbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricCallbacks,
				Help: "Callbacks received from the banking backend.",
			},
			[]string{"reason", "answered"},
		),
		logEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricLogEvents,
				Help: "Log events emitted by the banking backend.",
			},
			[]string{"level"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricExternalErrors,
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
	}
}

// RecordOperationDuration records the duration of a banking operation.
func (m *Metrics) RecordOperationDuration(operation string, d time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrCallback counts one callback and whether it was answered with a value.
func (m *Metrics) IncrCallback(reason domain.Reason, answered bool) {
	m.callbacks.WithLabelValues(reason.String(), strconv.FormatBool(answered)).Inc()
}

// IncrLogEvent counts one backend log event.
func (m *Metrics) IncrLogEvent(level domain.LogLevel) {
	m.logEvents.WithLabelValues(level.String()).Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// Snapshot reads the current counter values back from the registry.
func (m *Metrics) Snapshot() *domain.SessionSummary {
	summary := &domain.SessionSummary{
		LogEvents:     make(map[string]int64),
		OperationSecs: make(map[string]float64),
	}

	families, err := m.Registry.Gather()
	if err != nil {
		return summary
	}

	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch mf.GetName() {
			case metricCallbacks:
				n := int64(metric.GetCounter().GetValue())
				summary.Callbacks += n
				if labelValue(metric, "answered") == "true" {
					summary.Answered += n
				} else {
					summary.Declined += n
				}
			case metricLogEvents:
				summary.LogEvents[labelValue(metric, "level")] += int64(metric.GetCounter().GetValue())
			case metricExternalErrors:
				summary.ExternalErrors += int64(metric.GetCounter().GetValue())
			case metricOperationDuration:
				summary.OperationSecs[labelValue(metric, "operation")] += metric.GetHistogram().GetSampleSum()
			}
		}
	}
	return summary
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
