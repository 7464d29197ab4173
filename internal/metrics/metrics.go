package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/EgorLis/my-media/internal/domain"
	"github.com/EgorLis/my-media/internal/service/collector"
)

const namespace = "media"

// Metrics — счётчики подсистемы на собственном реестре
// (без глобального DefaultRegisterer, чтобы тесты не конфликтовали).
type Metrics struct {
	reg *prometheus.Registry

	ingests    *prometheus.CounterVec
	variants   *prometheus.CounterVec
	gcRuns     *prometheus.CounterVec
	gcAssets   *prometheus.CounterVec
	gcDuration prometheus.Histogram
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		ingests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "total",
			Help:      "Uploads by category and outcome",
		}, []string{"category", "outcome"}),
		variants: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "variants",
			Name:      "jobs_total",
			Help:      "Variant generation runs by outcome",
		}, []string{"outcome"}),
		gcRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gc",
			Name:      "runs_total",
			Help:      "Collector runs, skipped ones included",
		}, []string{"result"}),
		gcAssets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gc",
			Name:      "assets_total",
			Help:      "Assets handled by the collector",
		}, []string{"result"}),
		gcDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gc",
			Name:      "run_duration_seconds",
			Help:      "Collector run duration",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"method", "route"}),
	}
}

// QueueDepth публикует текущую длину очереди вариантов.
func (m *Metrics) QueueDepth(fn func() int) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "variants",
		Name:      "queue_depth",
		Help:      "Variant jobs waiting for a worker",
	}, func() float64 { return float64(fn()) }))
}

func (m *Metrics) Ingested(c domain.Category, outcome string) {
	m.ingests.WithLabelValues(string(c), outcome).Inc()
}

func (m *Metrics) Generated(outcome string) {
	m.variants.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Collected(r collector.Report) {
	if r.Skipped {
		m.gcRuns.WithLabelValues("skipped").Inc()
		return
	}
	m.gcRuns.WithLabelValues("completed").Inc()
	m.gcAssets.WithLabelValues("deleted").Add(float64(r.Deleted))
	m.gcAssets.WithLabelValues("failed").Add(float64(r.Failed))
	m.gcAssets.WithLabelValues("raced").Add(float64(r.Raced))
	m.gcAssets.WithLabelValues("reconciled").Add(float64(r.Reconciled))
	m.gcDuration.Observe(r.FinishedAt.Sub(r.StartedAt).Seconds())
}

// Request — одна строка HTTP-метрик; route — шаблон маршрута, не сырой путь.
func (m *Metrics) Request(method, route string, status int, d time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
