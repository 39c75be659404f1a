package energylens

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	lastRows        prometheus.Gauge
	lastTotalKWh    prometheus.Gauge
	lastAnomalies   prometheus.Gauge
	sinkFailures    *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics registers all collectors plus Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "energylens_analysis_runs_total",
			Help: "Analysis runs by outcome.",
		}, []string{"status"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "energylens_analysis_duration_seconds",
			Help:    "Time spent running the detector, forecaster and reporter.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		lastRows: f.NewGauge(prometheus.GaugeOpts{
			Name: "energylens_last_run_rows",
			Help: "Hourly rows in the last analysed dataset.",
		}),
		lastTotalKWh: f.NewGauge(prometheus.GaugeOpts{
			Name: "energylens_last_run_total_kwh",
			Help: "Total consumption of the last analysed dataset.",
		}),
		lastAnomalies: f.NewGauge(prometheus.GaugeOpts{
			Name: "energylens_last_run_anomalies",
			Help: "Anomalous hours flagged in the last run.",
		}),
		sinkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "energylens_sink_failures_total",
			Help: "Failed deliveries of a run to a sink.",
		}, []string{"sink"}),
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "energylens_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "energylens_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeRun(d time.Duration, run *Analysis, err error) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
	if err != nil {
		m.runsTotal.WithLabelValues("error").Inc()
		return
	}
	m.runsTotal.WithLabelValues("ok").Inc()
	m.lastRows.Set(float64(run.Summary.Rows))
	m.lastTotalKWh.Set(run.Summary.TotalKWh)
	m.lastAnomalies.Set(float64(run.Summary.AnomalyCount))
}

func (m *Metrics) sinkFailed(sink string) {
	if m == nil {
		return
	}
	m.sinkFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) observeRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}
