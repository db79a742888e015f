package storage

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/waops/wadispatch/models"
)

// ManagerMetrics are the instruments the manager updates; any field may be
// nil when metrics are not wired (tests).
type ManagerMetrics struct {
	Failovers  *prometheus.CounterVec   // labels: operation
	OpDuration *prometheus.HistogramVec // labels: operation, provider
}

// Manager fronts a primary provider and an optional fallback with one
// failover policy for every operation: try the primary; on error, warn and
// retry the same call once against the fallback; surface whatever the last
// attempted backend returned. There is no partial-success reconciliation;
// the caller records which provider served each asset.
type Manager struct {
	primary  Provider
	fallback Provider
	log      logrus.FieldLogger
	metrics  ManagerMetrics
}

func NewManager(primary, fallback Provider, log logrus.FieldLogger, metrics ManagerMetrics) *Manager {
	return &Manager{
		primary:  primary,
		fallback: fallback,
		log:      log,
		metrics:  metrics,
	}
}

func (m *Manager) Upload(ctx context.Context, params UploadParams) (*models.MediaInfo, error) {
	return failover(m, "upload", func(p Provider) (*models.MediaInfo, error) {
		return p.Upload(ctx, params)
	})
}

func (m *Manager) Get(ctx context.Context, id string) (*models.MediaInfo, error) {
	return failover(m, "get", func(p Provider) (*models.MediaInfo, error) {
		return p.Get(ctx, id)
	})
}

func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	return failover(m, "delete", func(p Provider) (bool, error) {
		return p.Delete(ctx, id)
	})
}

func (m *Manager) URL(ctx context.Context, id string) (string, error) {
	return failover(m, "url", func(p Provider) (string, error) {
		return p.URL(ctx, id)
	})
}

func failover[T any](m *Manager, op string, call func(Provider) (T, error)) (T, error) {
	result, err := observe(m, op, m.primary, call)
	if err == nil {
		return result, nil
	}
	if m.fallback == nil {
		return result, err
	}

	m.log.WithError(err).WithFields(logrus.Fields{
		"operation": op,
		"primary":   m.primary.Name(),
		"fallback":  m.fallback.Name(),
	}).Warn("Primary storage provider failed, retrying on fallback")
	if m.metrics.Failovers != nil {
		m.metrics.Failovers.WithLabelValues(op).Inc()
	}

	return observe(m, op, m.fallback, call)
}

func observe[T any](m *Manager, op string, p Provider, call func(Provider) (T, error)) (T, error) {
	start := time.Now()
	result, err := call(p)
	if m.metrics.OpDuration != nil {
		m.metrics.OpDuration.WithLabelValues(op, p.Name()).Observe(time.Since(start).Seconds())
	}
	return result, err
}
