package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GridCast/internal/domain/models"
	"GridCast/internal/service/registry"
	"GridCast/internal/services/features"
)

// statsPredictor serves a flat estimate and knows the corpus stats for the
// entities it was trained on.
type statsPredictor struct {
	id       string
	stats    map[string]models.NormStats
	estimate float64
	err      error
}

func (p *statsPredictor) Predict(w models.FeatureWindow, horizon int) ([]models.ForecastPoint, error) {
	if p.err != nil {
		return nil, p.err
	}
	last := w.Vectors[len(w.Vectors)-1].Timestamp
	pts := make([]models.ForecastPoint, horizon)
	for i := range pts {
		pts[i] = models.ForecastPoint{
			EntityID:        w.EntityID,
			IssuedAt:        w.AsOf,
			TargetTimestamp: last.Add(time.Duration(i+1) * time.Hour),
			PointEstimate:   p.estimate,
			LowerBound:      p.estimate * 0.9,
			UpperBound:      p.estimate * 1.1,
			ModelVersion:    p.id,
		}
	}
	return pts, nil
}

func (p *statsPredictor) Version() string { return p.id }

func (p *statsPredictor) Stats(entityID string) (models.NormStats, bool) {
	s, ok := p.stats[entityID]
	return s, ok
}

func corpusStats(ids ...string) map[string]models.NormStats {
	stats := make(map[string]models.NormStats, len(ids))
	for _, id := range ids {
		stats[id] = models.NormStats{
			Value:       models.Range{Max: 2000},
			Temperature: models.Range{Min: -10, Max: 40},
			Irradiance:  models.Range{Max: 1000},
			WindSpeed:   models.Range{Max: 25},
		}
	}
	return stats
}

func signalReadings(entity, signal string, first time.Time, values ...float64) []models.Reading {
	rs := make([]models.Reading, len(values))
	for i, v := range values {
		rs[i] = models.Reading{
			EntityID:  entity,
			Signal:    signal,
			Timestamp: first.Add(time.Duration(i) * time.Hour),
			Value:     v,
			Quality:   models.QualityGood,
		}
	}
	return rs
}

type forecastPublisher struct {
	stubPublisher
	batches []*models.ForecastBatch
}

func (p *forecastPublisher) PublishForecast(_ context.Context, b *models.ForecastBatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, b)
	return nil
}

type failingBatchStore struct {
	stubBatchStore
}

func (s *failingBatchStore) StoreForecastBatch(context.Context, *models.ForecastBatch) error {
	return errors.New("clickhouse unavailable")
}

func TestForecastRunner_PublishesActiveTypes(t *testing.T) {
	asOf := time.Date(2025, 4, 7, 12, 30, 0, 0, time.UTC)
	first := time.Date(2025, 4, 7, 9, 0, 0, 0, time.UTC)

	telemetry := &stubTelemetryStore{series: map[string][]models.Reading{
		"meter-1/power":    signalReadings("meter-1", models.SignalPower, first, 900, 950, 1000, 1050),
		"solar-1/power":    signalReadings("solar-1", models.SignalPower, first, 300, 400, 450, 420),
		"ws-1/irradiance":  signalReadings("ws-1", models.SignalIrradiance, first, 600, 750, 800, 780),
		"ws-1/temperature": signalReadings("ws-1", models.SignalTemperature, first, 12, 14, 16, 17),
		"ws-1/cloud_cover": signalReadings("ws-1", models.SignalCloudCover, first, 0.2, 0.1, 0.1, 0.15),
	}}

	reg := registry.NewModels()
	reg.Promote(models.ForecastDemand,
		&statsPredictor{id: "demand-v1", stats: corpusStats("meter-1"), estimate: 1100},
		&models.ModelVersion{ID: "demand-v1", Type: models.ForecastDemand})
	reg.Promote(models.ForecastSolar,
		&statsPredictor{id: "solar-v1", stats: corpusStats("solar-1"), estimate: 430},
		&models.ModelVersion{ID: "solar-v1", Type: models.ForecastSolar})

	board := registry.NewBoard()
	store := &stubBatchStore{}
	pub := &forecastPublisher{}
	entities := []models.Entity{
		{ID: "meter-1", Type: models.EntityMeter},
		{ID: "solar-1", Type: models.EntitySolar, WeatherRef: "ws-1"},
	}
	builder := features.NewBuilder(features.Config{WindowHours: 4})
	r := NewForecastRunner(ForecastRunnerConfig{HorizonHours: 3}, builder, telemetry, reg, board, store, pub, entities, nopMetrics{}, testLogger(t))

	require.NoError(t, r.Run(context.Background(), asOf))

	demand := board.Forecasts(models.ForecastDemand)
	require.Len(t, demand, 1)
	assert.Equal(t, "meter-1", demand[0].EntityID)
	assert.Equal(t, "demand-v1", demand[0].Model)
	require.Len(t, demand[0].Points, 3)
	for i, p := range demand[0].Points {
		assert.Equal(t, asOf, p.IssuedAt)
		assert.Equal(t, first.Add(time.Duration(4+i)*time.Hour), p.TargetTimestamp)
		assert.Equal(t, "demand-v1", p.ModelVersion)
		assert.InDelta(t, 1100, p.PointEstimate, 1e-9)
	}

	solar := board.Forecasts(models.ForecastSolar)
	require.Len(t, solar, 1)
	assert.Equal(t, "solar-v1", solar[0].Model)

	assert.Empty(t, board.Forecasts(models.ForecastWind))
	assert.Len(t, store.batches, 2)
	assert.Len(t, pub.batches, 2)
}

func TestForecastRunner_SkipsEntityOutsideCorpus(t *testing.T) {
	asOf := time.Date(2025, 4, 7, 12, 30, 0, 0, time.UTC)
	first := time.Date(2025, 4, 7, 9, 0, 0, 0, time.UTC)

	telemetry := &stubTelemetryStore{series: map[string][]models.Reading{
		"meter-1/power": signalReadings("meter-1", models.SignalPower, first, 900, 950, 1000, 1050),
		"meter-9/power": signalReadings("meter-9", models.SignalPower, first, 500, 500, 500, 500),
	}}

	reg := registry.NewModels()
	reg.Promote(models.ForecastDemand,
		&statsPredictor{id: "demand-v1", stats: corpusStats("meter-1"), estimate: 1000},
		&models.ModelVersion{ID: "demand-v1", Type: models.ForecastDemand})

	board := registry.NewBoard()
	entities := []models.Entity{
		{ID: "meter-1", Type: models.EntityMeter},
		{ID: "meter-9", Type: models.EntityMeter},
	}
	builder := features.NewBuilder(features.Config{WindowHours: 4})
	r := NewForecastRunner(ForecastRunnerConfig{HorizonHours: 2}, builder, telemetry, reg, board, &stubBatchStore{}, &forecastPublisher{}, entities, nopMetrics{}, testLogger(t))

	require.NoError(t, r.RunType(context.Background(), models.ForecastDemand, asOf))

	batches := board.Forecasts(models.ForecastDemand)
	require.Len(t, batches, 1)
	assert.Equal(t, "meter-1", batches[0].EntityID)
}

func TestForecastRunner_InterpolatesShortGapsRejectsLongOnes(t *testing.T) {
	asOf := time.Date(2025, 4, 7, 12, 30, 0, 0, time.UTC)
	first := time.Date(2025, 4, 7, 7, 0, 0, 0, time.UTC)

	// meter-1 misses one interior hour, meter-2 misses two. With a one-hour
	// tolerance only meter-1 survives.
	gappy := append(signalReadings("meter-1", models.SignalPower, first, 900, 920, 940),
		signalReadings("meter-1", models.SignalPower, first.Add(4*time.Hour), 980, 1000)...)
	torn := append(signalReadings("meter-2", models.SignalPower, first, 700, 710),
		signalReadings("meter-2", models.SignalPower, first.Add(4*time.Hour), 740, 750)...)
	telemetry := &stubTelemetryStore{series: map[string][]models.Reading{
		"meter-1/power": gappy,
		"meter-2/power": torn,
	}}

	reg := registry.NewModels()
	reg.Promote(models.ForecastDemand,
		&statsPredictor{id: "demand-v1", stats: corpusStats("meter-1", "meter-2"), estimate: 950},
		&models.ModelVersion{ID: "demand-v1", Type: models.ForecastDemand})

	board := registry.NewBoard()
	entities := []models.Entity{
		{ID: "meter-1", Type: models.EntityMeter},
		{ID: "meter-2", Type: models.EntityMeter},
	}
	builder := features.NewBuilder(features.Config{WindowHours: 6, GapToleranceHours: 1})
	r := NewForecastRunner(ForecastRunnerConfig{HorizonHours: 2}, builder, telemetry, reg, board, &stubBatchStore{}, &forecastPublisher{}, entities, nopMetrics{}, testLogger(t))

	require.NoError(t, r.RunType(context.Background(), models.ForecastDemand, asOf))

	batches := board.Forecasts(models.ForecastDemand)
	require.Len(t, batches, 1)
	assert.Equal(t, "meter-1", batches[0].EntityID)
}

func TestForecastRunner_InsufficientHistoryFailsType(t *testing.T) {
	asOf := time.Date(2025, 4, 7, 12, 30, 0, 0, time.UTC)

	telemetry := &stubTelemetryStore{series: map[string][]models.Reading{
		"meter-1/power": signalReadings("meter-1", models.SignalPower, asOf.Add(-90*time.Minute), 900, 950),
	}}

	reg := registry.NewModels()
	reg.Promote(models.ForecastDemand,
		&statsPredictor{id: "demand-v1", stats: corpusStats("meter-1"), estimate: 1000},
		&models.ModelVersion{ID: "demand-v1", Type: models.ForecastDemand})

	board := registry.NewBoard()
	builder := features.NewBuilder(features.Config{WindowHours: 4})
	r := NewForecastRunner(ForecastRunnerConfig{}, builder, telemetry, reg, board, &stubBatchStore{}, &forecastPublisher{},
		[]models.Entity{{ID: "meter-1", Type: models.EntityMeter}}, nopMetrics{}, testLogger(t))

	err := r.RunType(context.Background(), models.ForecastDemand, asOf)
	require.ErrorContains(t, err, "no entity produced a forecast")
	assert.Empty(t, board.Forecasts(models.ForecastDemand))
}

func TestForecastRunner_NoActiveModelIsNotAnError(t *testing.T) {
	board := registry.NewBoard()
	builder := features.NewBuilder(features.Config{WindowHours: 4})
	r := NewForecastRunner(ForecastRunnerConfig{}, builder, &stubTelemetryStore{}, registry.NewModels(), board,
		&stubBatchStore{}, &forecastPublisher{}, []models.Entity{{ID: "meter-1", Type: models.EntityMeter}},
		nopMetrics{}, testLogger(t))

	require.NoError(t, r.Run(context.Background(), time.Now()))
	assert.Empty(t, board.Forecasts(models.ForecastDemand))
}

func TestForecastRunner_BudgetExhaustedAbandonsType(t *testing.T) {
	asOf := time.Date(2025, 4, 7, 12, 30, 0, 0, time.UTC)

	reg := registry.NewModels()
	reg.Promote(models.ForecastDemand,
		&statsPredictor{id: "demand-v1", stats: corpusStats("meter-1"), estimate: 1000},
		&models.ModelVersion{ID: "demand-v1", Type: models.ForecastDemand})

	builder := features.NewBuilder(features.Config{WindowHours: 4})
	r := NewForecastRunner(ForecastRunnerConfig{}, builder, &stubTelemetryStore{}, reg, registry.NewBoard(),
		&stubBatchStore{}, &forecastPublisher{}, []models.Entity{{ID: "meter-1", Type: models.EntityMeter}},
		nopMetrics{}, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.RunType(ctx, models.ForecastDemand, asOf)
	require.ErrorIs(t, err, context.Canceled)
}

func TestForecastRunner_StoreFailureDoesNotBlockPublish(t *testing.T) {
	asOf := time.Date(2025, 4, 7, 12, 30, 0, 0, time.UTC)
	first := time.Date(2025, 4, 7, 9, 0, 0, 0, time.UTC)

	telemetry := &stubTelemetryStore{series: map[string][]models.Reading{
		"meter-1/power": signalReadings("meter-1", models.SignalPower, first, 900, 950, 1000, 1050),
	}}

	reg := registry.NewModels()
	reg.Promote(models.ForecastDemand,
		&statsPredictor{id: "demand-v1", stats: corpusStats("meter-1"), estimate: 1000},
		&models.ModelVersion{ID: "demand-v1", Type: models.ForecastDemand})

	board := registry.NewBoard()
	pub := &forecastPublisher{}
	builder := features.NewBuilder(features.Config{WindowHours: 4})
	r := NewForecastRunner(ForecastRunnerConfig{HorizonHours: 2}, builder, telemetry, reg, board, &failingBatchStore{}, pub,
		[]models.Entity{{ID: "meter-1", Type: models.EntityMeter}}, nopMetrics{}, testLogger(t))

	require.NoError(t, r.RunType(context.Background(), models.ForecastDemand, asOf))
	assert.Len(t, board.Forecasts(models.ForecastDemand), 1)
	assert.Len(t, pub.batches, 1)
}
