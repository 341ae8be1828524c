// Package syncmetrics instruments the Syncer, Reconciler and Changesets
// components with Prometheus metrics plus a background host-metrics
// collector: a registry, one vector per concern, and a noop implementation
// for when metrics are disabled.
package syncmetrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// Recorder is what the sync components depend on; Manager and a noop
// implementation both satisfy it so instrumentation can be disabled
// without branching at every call site.
type Recorder interface {
	RecordLoopIteration(entityCtx, loop, state string)
	RecordChangesetApplied(entityCtx string, verified bool)
	RecordChangesetPublished(entityCtx string)
	RecordConsolidation(entityCtx string, duration time.Duration, pages int, err error)
	Handler() http.Handler
	Start(ctx context.Context)
	Stop()
}

// Config controls whether metrics are collected at all and how often the
// host collector samples CPU/memory.
type Config struct {
	Enabled           bool
	Namespace         string
	HostSampleSeconds int
}

// Manager is the Prometheus-backed Recorder.
type Manager struct {
	registry *prometheus.Registry

	loopIterations      *prometheus.CounterVec
	changesetsApplied   *prometheus.CounterVec
	changesetsPublished *prometheus.CounterVec
	consolidationRuns   *prometheus.CounterVec
	consolidationPages  *prometheus.HistogramVec
	consolidationSecs   *prometheus.HistogramVec

	hostCPUPercent    prometheus.Gauge
	hostMemoryPercent prometheus.Gauge

	sampleInterval time.Duration
	stopChan       chan struct{}
	wg             sync.WaitGroup
	log            *logrus.Entry
}

// NewManager builds a Manager if cfg.Enabled, otherwise returns a noop
// Recorder so callers never need to check a nil pointer.
func NewManager(cfg Config) Recorder {
	if !cfg.Enabled {
		return noopRecorder{}
	}

	ns := cfg.Namespace
	if ns == "" {
		ns = "driftsync"
	}

	registry := prometheus.NewRegistry()

	m := &Manager{
		registry: registry,
		loopIterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "loop_iterations_total",
			Help: "Syncer loop iterations by context, loop name and resulting state.",
		}, []string{"context", "loop", "state"}),
		changesetsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "changesets_applied_total",
			Help: "Changesets fetched and applied, split by verification outcome.",
		}, []string{"context", "verified"}),
		changesetsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "changesets_published_total",
			Help: "Changesets published from a local pending snapshot.",
		}, []string{"context"}),
		consolidationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "consolidation_runs_total",
			Help: "Consolidation loop iterations by outcome.",
		}, []string{"context", "outcome"}),
		consolidationPages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "consolidation_pages",
			Help:    "Row-store pages produced per consolidation run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"context"}),
		consolidationSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "consolidation_duration_seconds",
			Help:    "Wall-clock duration of a consolidation run.",
			Buckets: prometheus.DefBuckets,
		}, []string{"context"}),
		hostCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "host_cpu_percent", Help: "Host CPU utilisation percent.",
		}),
		hostMemoryPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "host_memory_percent", Help: "Host memory utilisation percent.",
		}),
		sampleInterval: time.Duration(cfg.HostSampleSeconds) * time.Second,
		stopChan:       make(chan struct{}),
		log:            logrus.WithField("component", "syncmetrics"),
	}
	if m.sampleInterval <= 0 {
		m.sampleInterval = 15 * time.Second
	}

	registry.MustRegister(
		m.loopIterations,
		m.changesetsApplied,
		m.changesetsPublished,
		m.consolidationRuns,
		m.consolidationPages,
		m.consolidationSecs,
		m.hostCPUPercent,
		m.hostMemoryPercent,
	)

	return m
}

func (m *Manager) RecordLoopIteration(entityCtx, loop, state string) {
	m.loopIterations.WithLabelValues(entityCtx, loop, state).Inc()
}

func (m *Manager) RecordChangesetApplied(entityCtx string, verified bool) {
	m.changesetsApplied.WithLabelValues(entityCtx, boolLabel(verified)).Inc()
}

func (m *Manager) RecordChangesetPublished(entityCtx string) {
	m.changesetsPublished.WithLabelValues(entityCtx).Inc()
}

func (m *Manager) RecordConsolidation(entityCtx string, duration time.Duration, pages int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.consolidationRuns.WithLabelValues(entityCtx, outcome).Inc()
	m.consolidationSecs.WithLabelValues(entityCtx).Observe(duration.Seconds())
	m.consolidationPages.WithLabelValues(entityCtx).Observe(float64(pages))
}

// Handler exposes the registry in the standard Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Start launches the background host-metrics sampler.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.sampleLoop(ctx)
	}()
}

// Stop halts the host-metrics sampler.
func (m *Manager) Stop() {
	close(m.stopChan)
	m.wg.Wait()
}

func (m *Manager) sampleLoop(ctx context.Context) {
	ticker := time.NewTicker(m.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.sampleHost()
		}
	}
}

func (m *Manager) sampleHost() {
	if percents, err := cpu.Percent(0, false); err != nil {
		m.log.WithError(err).Debug("failed to sample host CPU usage")
	} else if len(percents) > 0 {
		m.hostCPUPercent.Set(percents[0])
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		m.log.WithError(err).Debug("failed to sample host memory usage")
	} else {
		m.hostMemoryPercent.Set(vm.UsedPercent)
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

type noopRecorder struct{}

func (noopRecorder) RecordLoopIteration(string, string, string)            {}
func (noopRecorder) RecordChangesetApplied(string, bool)                   {}
func (noopRecorder) RecordChangesetPublished(string)                       {}
func (noopRecorder) RecordConsolidation(string, time.Duration, int, error) {}
func (noopRecorder) Handler() http.Handler                                { return http.NotFoundHandler() }
func (noopRecorder) Start(context.Context)                                {}
func (noopRecorder) Stop()                                                {}
