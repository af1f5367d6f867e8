// Package metrics counts chat mutations on a private prometheus registry. The CLI dumps
// the registry to a node_exporter textfile after each run.
package metrics

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatctl"

const (
	ResultOK       = "ok"
	ResultConflict = "conflict"
	ResultError    = "error"
)

type Metrics struct {
	Registry *prometheus.Registry

	Mutations       *prometheus.CounterVec
	Conflicts       *prometheus.CounterVec
	Notifications   *prometheus.CounterVec
	MutationSeconds *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Chat mutations by operation and result.",
		}, []string{"operation", "result"}),
		Conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_conflicts_total",
			Help:      "Optimistic version conflicts hit while saving a chat.",
		}, []string{"operation"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Chat event notifications by event type and result.",
		}, []string{"event_type", "result"}),
		MutationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mutation_duration_seconds",
			Help:      "Time spent in a chat mutation, retries included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	m.Registry.MustRegister(m.Mutations, m.Conflicts, m.Notifications, m.MutationSeconds)
	return m
}

func (m *Metrics) ObserveMutation(operation, result string, seconds float64) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(operation, result).Inc()
	m.MutationSeconds.WithLabelValues(operation).Observe(seconds)
}

func (m *Metrics) ObserveConflict(operation string) {
	if m == nil {
		return
	}
	m.Conflicts.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveNotification(eventType string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.Notifications.WithLabelValues(eventType, result).Inc()
}

// WriteTextfile writes the registry in the text exposition format, atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return errors.Wrapf(err, "write metrics to %s", path)
	}
	return nil
}
