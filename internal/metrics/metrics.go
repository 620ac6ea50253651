package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the service
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Model lifecycle
	TrainingRuns     *prometheus.CounterVec
	TrainingDuration prometheus.Histogram
	ModelDownload    prometheus.Histogram
	ModelDecode      prometheus.Histogram
	CachedModels     prometheus.Gauge

	// Forecasts by source: model, last_salary, empty
	Forecasts *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		TrainingRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "training_runs_total",
				Help:      "Total number of training runs by outcome",
			},
			[]string{"outcome"},
		),
		TrainingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "training_duration_seconds",
				Help:      "Model fitting duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		ModelDownload: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_download_duration_seconds",
				Help:      "Model blob download duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		ModelDecode: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_decode_duration_seconds",
				Help:      "Model deserialization duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		CachedModels: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cached_models",
				Help:      "Number of models held in the model cache",
			},
		),
		Forecasts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forecasts_total",
				Help:      "Total number of forecasts by source",
			},
			[]string{"source"},
		),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.TrainingRuns,
		c.TrainingDuration,
		c.ModelDownload,
		c.ModelDecode,
		c.CachedModels,
		c.Forecasts,
	)
	return c
}

// Registry returns the registry the metrics are registered with
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveModelLoad(download, load time.Duration) {
	c.ModelDownload.Observe(download.Seconds())
	c.ModelDecode.Observe(load.Seconds())
}

func (c *Collector) SetCacheSize(n int) {
	c.CachedModels.Set(float64(n))
}

func (c *Collector) ObserveTraining(outcome string, d time.Duration) {
	c.TrainingRuns.WithLabelValues(outcome).Inc()
	if d > 0 {
		c.TrainingDuration.Observe(d.Seconds())
	}
}

func (c *Collector) ObserveForecast(source string) {
	c.Forecasts.WithLabelValues(source).Inc()
}

func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
