// Package telemetry exposes Prometheus metrics for the HTTP server, the
// database pool and the pregnancy record store.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ehr/obhistory/internal/domain/obstetrics"
)

const namespace = "obhistory"

type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "obhistory-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// Provider owns a private registry so tests and multiple servers in one
// process never collide on metric names.
type Provider struct {
	cfg      Config
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	httpInFlight     prometheus.Gauge
	httpResponseSize *prometheus.HistogramVec

	recordsAdded    *prometheus.CounterVec
	recordsRemoved  prometheus.Counter
	recordsRejected *prometheus.CounterVec
	summaries       prometheus.Counter
}

func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	p := &Provider{cfg: cfg, registry: reg}

	factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build and deployment metadata.",
		ConstLabels: prometheus.Labels{
			"service":     cfg.ServiceName,
			"version":     cfg.ServiceVersion,
			"environment": cfg.Environment,
		},
	}).Set(1)

	p.httpRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	p.httpDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method", "route"})

	p.httpInFlight = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_requests_in_flight",
		Help:      "Number of HTTP requests currently being processed",
	})

	p.httpResponseSize = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"route"})

	p.recordsAdded = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pregnancy_records_added_total",
		Help:      "Pregnancy records stored, by outcome",
	}, []string{"outcome"})

	p.recordsRemoved = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pregnancy_records_removed_total",
		Help:      "Pregnancy records removed",
	})

	p.recordsRejected = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pregnancy_records_rejected_total",
		Help:      "Pregnancy records rejected, by reason",
	}, []string{"reason"})

	p.summaries = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "obstetric_summaries_total",
		Help:      "Obstetric summaries computed",
	})

	return p
}

func (p *Provider) Registry() *prometheus.Registry {
	return p.registry
}

// RegisterPool exports pgx pool statistics as gauges.
func (p *Provider) RegisterPool(pool *pgxpool.Pool) {
	factory := promauto.With(p.registry)
	gauge := func(name, help string, fn func(*pgxpool.Stat) float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return fn(pool.Stat()) })
	}
	gauge("total_conns", "Open connections in the pool", func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) })
	gauge("idle_conns", "Idle connections in the pool", func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) })
	gauge("acquired_conns", "Connections currently checked out", func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) })
	gauge("max_conns", "Configured pool size", func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) })
}

// MetricsMiddleware records request count, latency and response size per
// route pattern.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p.httpInFlight.Inc()
			start := time.Now()

			err := next(c)

			p.httpInFlight.Dec()
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method

			p.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			p.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			p.httpResponseSize.WithLabelValues(route).Observe(float64(c.Response().Size))
			return err
		}
	}
}

// Handler serves the registry in Prometheus exposition format.
func (p *Provider) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry}))
}

// Recorder adapts the provider to the record store's event hooks.
func (p *Provider) Recorder() obstetrics.Recorder {
	return storeRecorder{p}
}

type storeRecorder struct {
	p *Provider
}

func (r storeRecorder) RecordAdded(outcome obstetrics.Outcome) {
	r.p.recordsAdded.WithLabelValues(string(outcome)).Inc()
}

func (r storeRecorder) RecordRemoved() {
	r.p.recordsRemoved.Inc()
}

func (r storeRecorder) RecordRejected(reason string) {
	r.p.recordsRejected.WithLabelValues(reason).Inc()
}

func (r storeRecorder) SummaryComputed() {
	r.p.summaries.Inc()
}
