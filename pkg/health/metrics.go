package health

import (
	"context"
	"net/http"
	"time"

	"github.com/cloudoperators/greenhouse-mirror/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "greenhouse_mirror"

// MetricsConfig holds the labels of the build info metric.
type MetricsConfig struct {
	Component string
	Version   string
	Commit    string
}

// MirrorMetrics records the state of every mirror and watch feed.
type MirrorMetrics struct {
	size        *prometheus.GaugeVec
	events      *prometheus.CounterVec
	watchErrors *prometheus.CounterVec
	writes      *prometheus.CounterVec
}

// NewMirrorMetrics creates the mirror metrics and registers them on reg.
func NewMirrorMetrics(reg prometheus.Registerer) *MirrorMetrics {
	m := &MirrorMetrics{
		size: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "collection_size",
			Help:      "Number of resources currently held by a mirror",
		}, []string{"watch"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_applied_total",
			Help:      "Watch event items applied to a mirror, by event type",
		}, []string{"watch", "type"}),
		watchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "watch_errors_total",
			Help:      "Transport errors reported by a watch feed",
		}, []string{"watch"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "writes_total",
			Help:      "Create/update/delete calls by outcome",
		}, []string{"kind", "operation", "ok"}),
	}
	reg.MustRegister(m.size, m.events, m.watchErrors, m.writes)
	return m
}

func (m *MirrorMetrics) ObserveSize(watch string, size int) {
	m.size.WithLabelValues(watch).Set(float64(size))
}

func (m *MirrorMetrics) ObserveEvents(watch, eventType string, count int) {
	m.events.WithLabelValues(watch, eventType).Add(float64(count))
}

func (m *MirrorMetrics) ObserveWatchError(watch string) {
	m.watchErrors.WithLabelValues(watch).Inc()
}

func (m *MirrorMetrics) ObserveWrite(kind, operation string, ok bool) {
	outcome := "false"
	if ok {
		outcome = "true"
	}
	m.writes.WithLabelValues(kind, operation, outcome).Inc()
}

// MetricsServer serves /metrics from its own registry.
type MetricsServer struct {
	server   *http.Server
	log      logger.Logger
	port     string
	registry *prometheus.Registry
	upGauge  prometheus.Gauge
	mirror   *MirrorMetrics
}

// NewMetricsServer creates a metrics server with build info, up and mirror metrics.
func NewMetricsServer(log logger.Logger, port string, cfg MetricsConfig) *MetricsServer {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	buildInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "build_info",
		Help:      "Build information for greenhouse-mirror",
	}, []string{"component", "version", "commit"})

	upGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "up",
		Help:      "Whether greenhouse-mirror is up and running",
		ConstLabels: prometheus.Labels{
			"component": cfg.Component,
			"version":   cfg.Version,
		},
	})

	registry.MustRegister(buildInfo, upGauge)
	buildInfo.WithLabelValues(cfg.Component, cfg.Version, cfg.Commit).Set(1)
	upGauge.Set(1)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return &MetricsServer{
		log:      log,
		port:     port,
		registry: registry,
		upGauge:  upGauge,
		mirror:   NewMirrorMetrics(registry),
		server: &http.Server{
			Addr:              ":" + port,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Mirror returns the mirror metrics registered on this server.
func (s *MetricsServer) Mirror() *MirrorMetrics {
	return s.mirror
}

// Handler exposes the /metrics handler, mainly for tests.
func (s *MetricsServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *MetricsServer) Start(ctx context.Context) error {
	s.log.Infof(ctx, "Starting metrics server on port %s", s.port)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error(logger.WithErrorField(ctx, err), "Metrics server error")
		}
	}()

	return nil
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	s.log.Info(ctx, "Shutting down metrics server...")
	s.upGauge.Set(0)
	return s.server.Shutdown(ctx)
}
