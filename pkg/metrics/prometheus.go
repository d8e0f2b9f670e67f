package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	readingsIngested    *prometheus.CounterVec
	readingsRejected    *prometheus.CounterVec
	ingestLatency       *prometheus.HistogramVec
	forecastPoints      *prometheus.CounterVec
	forecastLatency     *prometheus.HistogramVec
	priceCycleDuration  prometheus.Histogram
	priceDegradedPoints prometheus.Counter
	optimizerIterations prometheus.Histogram
	modelMAPE           *prometheus.GaugeVec
	promotions          *prometheus.CounterVec
	retrains            *prometheus.CounterVec
	gridHealthScore     prometheus.Gauge
	errorsTotal         *prometheus.CounterVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		readingsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridcast_readings_ingested_total",
				Help: "Total readings accepted into a backend",
			},
			[]string{"backend", "signal"},
		),
		readingsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridcast_readings_rejected_total",
				Help: "Total readings dropped at validation",
			},
			[]string{"reason"},
		),
		ingestLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gridcast_ingest_duration_seconds",
				Help:    "Duration of ingest operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		forecastPoints: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridcast_forecast_points_total",
				Help: "Total forecast points issued per type",
			},
			[]string{"type"},
		),
		forecastLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gridcast_forecast_cycle_duration_seconds",
				Help:    "Duration of one forecast cycle per type",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		priceCycleDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gridcast_price_cycle_duration_seconds",
				Help:    "Duration of one pricing cycle",
				Buckets: prometheus.DefBuckets,
			},
		),
		priceDegradedPoints: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gridcast_price_degraded_points_total",
				Help: "Price points issued from fallbacks instead of optimization",
			},
		),
		optimizerIterations: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gridcast_optimizer_iterations",
				Help:    "Golden-section iterations per optimized price point",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
			},
		),
		modelMAPE: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gridcast_model_mape",
				Help: "Latest evaluated MAPE per forecast type",
			},
			[]string{"type"},
		),
		promotions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridcast_model_promotions_total",
				Help: "Model promotion decisions per type and outcome",
			},
			[]string{"type", "outcome"},
		),
		retrains: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridcast_model_retrains_total",
				Help: "Completed retrain runs per type and outcome",
			},
			[]string{"type", "outcome"},
		),
		gridHealthScore: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gridcast_grid_health_score",
				Help: "Latest composite grid health score in [0,1]",
			},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridcast_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
	}
}

// RecordReadingIngested records one reading accepted into a backend.
func (r *Recorder) RecordReadingIngested(backend, signal string) {
	r.readingsIngested.WithLabelValues(backend, signal).Inc()
}

// RecordReadingRejected records a reading dropped at validation.
func (r *Recorder) RecordReadingRejected(reason string) {
	r.readingsRejected.WithLabelValues(reason).Inc()
}

// RecordIngestLatency records ingest operation latency in seconds.
func (r *Recorder) RecordIngestLatency(source string, seconds float64) {
	r.ingestLatency.WithLabelValues(source).Observe(seconds)
}

// RecordForecastIssued records points published in one forecast cycle.
func (r *Recorder) RecordForecastIssued(forecastType string, points int) {
	r.forecastPoints.WithLabelValues(forecastType).Add(float64(points))
}

// RecordForecastLatency records one forecast cycle's duration.
func (r *Recorder) RecordForecastLatency(forecastType string, seconds float64) {
	r.forecastLatency.WithLabelValues(forecastType).Observe(seconds)
}

// RecordPriceCycle records one pricing cycle's duration and degraded points.
func (r *Recorder) RecordPriceCycle(seconds float64, degradedPoints int) {
	r.priceCycleDuration.Observe(seconds)
	if degradedPoints > 0 {
		r.priceDegradedPoints.Add(float64(degradedPoints))
	}
}

// RecordOptimizerIterations records iterations of one optimized price step.
func (r *Recorder) RecordOptimizerIterations(n int) {
	r.optimizerIterations.Observe(float64(n))
}

// RecordAccuracy records the latest evaluated MAPE for a type.
func (r *Recorder) RecordAccuracy(forecastType string, mape float64) {
	r.modelMAPE.WithLabelValues(forecastType).Set(mape)
}

// RecordPromotion records a promotion decision.
func (r *Recorder) RecordPromotion(forecastType, outcome string) {
	r.promotions.WithLabelValues(forecastType, outcome).Inc()
}

// RecordRetrain records a completed retrain run.
func (r *Recorder) RecordRetrain(forecastType, outcome string) {
	r.retrains.WithLabelValues(forecastType, outcome).Inc()
}

// RecordGridHealth records the latest composite health score.
func (r *Recorder) RecordGridHealth(score float64) {
	r.gridHealthScore.Set(score)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
