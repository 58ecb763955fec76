// Package metrics defines the Prometheus collectors of a sync run and pushes
// them to a Pushgateway when the run ends.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/mscno/staffsync/pkg/apperrors"
)

// Metrics holds the collectors of one run. Each Metrics has its own registry.
type Metrics struct {
	Registry *prometheus.Registry

	IdentitiesTotal      prometheus.Counter
	RecordsTotal         prometheus.Counter
	PhotosStoredTotal    prometheus.Counter
	DocumentsMergedTotal prometheus.Counter
	WritesTotal          *prometheus.CounterVec
	WarningsTotal        *prometheus.CounterVec
	StageDuration        *prometheus.GaugeVec
	LastSuccess          prometheus.Gauge
}

// New creates and registers the run metrics.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		IdentitiesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "staffsync_identities_total",
				Help: "Active registry persons with an employee id.",
			},
		),
		RecordsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "staffsync_records_total",
				Help: "Consolidated records produced by reconciliation.",
			},
		),
		PhotosStoredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "staffsync_photos_stored_total",
				Help: "Profile photos downloaded and stored.",
			},
		),
		DocumentsMergedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "staffsync_documents_merged_total",
				Help: "Registry documents merged with directory data.",
			},
		),
		WritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "staffsync_writes_total",
				Help: "Person write-backs by result (ok, failed).",
			},
			[]string{"result"},
		),
		WarningsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "staffsync_warnings_total",
				Help: "Non-fatal lookup misses by kind.",
			},
			[]string{"kind"},
		),
		StageDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "staffsync_stage_duration_seconds",
				Help: "Wall time of the last run of each stage.",
			},
			[]string{"stage"},
		),
		LastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "staffsync_last_success_timestamp_seconds",
				Help: "Unix time of the last run that finished without error.",
			},
		),
	}

	m.Registry.MustRegister(
		m.IdentitiesTotal,
		m.RecordsTotal,
		m.PhotosStoredTotal,
		m.DocumentsMergedTotal,
		m.WritesTotal,
		m.WarningsTotal,
		m.StageDuration,
		m.LastSuccess,
	)
	return m
}

// Warn counts warnings by kind. It is safe to call on a nil Metrics.
func (m *Metrics) Warn(warnings ...*apperrors.Warning) {
	if m == nil {
		return
	}
	for _, w := range warnings {
		m.WarningsTotal.WithLabelValues(string(w.Kind)).Inc()
	}
}

// Write counts one write-back. It is safe to call on a nil Metrics.
func (m *Metrics) Write(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.WritesTotal.WithLabelValues("failed").Inc()
		return
	}
	m.WritesTotal.WithLabelValues("ok").Inc()
}

// Count adds n to counter. It is safe to call on a nil Metrics.
func (m *Metrics) Count(counter func(*Metrics) prometheus.Counter, n int) {
	if m == nil || n <= 0 {
		return
	}
	counter(m).Add(float64(n))
}

// Stage records how long stage took. It is safe to call on a nil Metrics.
func (m *Metrics) Stage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Set(d.Seconds())
}

// Succeeded stamps the end of a successful run.
func (m *Metrics) Succeeded(at time.Time) {
	if m == nil {
		return
	}
	m.LastSuccess.Set(float64(at.Unix()))
}

// Counter selectors for Count.
func Identities(m *Metrics) prometheus.Counter   { return m.IdentitiesTotal }
func Records(m *Metrics) prometheus.Counter      { return m.RecordsTotal }
func PhotosStored(m *Metrics) prometheus.Counter { return m.PhotosStoredTotal }
func Merged(m *Metrics) prometheus.Counter       { return m.DocumentsMergedTotal }

// Push sends every collector to the Pushgateway at url under job, replacing
// the job's previous metrics. An empty url is a no-op.
func (m *Metrics) Push(ctx context.Context, url, job string, grouping map[string]string) error {
	if m == nil || url == "" {
		return nil
	}
	p := push.New(url, job).Gatherer(m.Registry)
	for name, value := range grouping {
		p = p.Grouping(name, value)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
