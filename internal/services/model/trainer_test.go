package model

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GridCast/internal/domain/models"
	"GridCast/internal/domain/service"
	"GridCast/internal/services/features"
	"GridCast/internal/services/weather"
	"GridCast/pkg/logger"
)

// fakeStore serves canned series keyed by "entity/signal".
type fakeStore struct {
	series map[string][]models.Reading
}

func (f *fakeStore) Init(context.Context) error                   { return nil }
func (f *fakeStore) Store(context.Context, *models.Reading) error { return nil }
func (f *fakeStore) StoreBatch(context.Context, []*models.Reading) error {
	return nil
}
func (f *fakeStore) Series(_ context.Context, entityID, signal string, from, to time.Time) ([]models.Reading, error) {
	var out []models.Reading
	for _, r := range f.series[entityID+"/"+signal] {
		if !r.Timestamp.Before(from) && !r.Timestamp.After(to) {
			out = append(out, r)
		}
	}
	return out, nil
}
func (f *fakeStore) LatestValue(context.Context, string, string, time.Time) (models.Reading, error) {
	return models.Reading{}, errors.New("not implemented")
}
func (f *fakeStore) Health(context.Context) error { return nil }
func (f *fakeStore) Close() error                 { return nil }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return l
}

func powerSeries(entity string, start time.Time, hours int, value func(t time.Time) float64) []models.Reading {
	rs := make([]models.Reading, hours)
	for i := range rs {
		ts := start.Add(time.Duration(i) * time.Hour)
		rs[i] = models.Reading{
			EntityID:  entity,
			Signal:    models.SignalPower,
			Timestamp: ts,
			Value:     value(ts),
			Quality:   models.QualityGood,
		}
	}
	return rs
}

// dailyDemand is a 5 kW baseline with a 3 kW evening peak.
func dailyDemand(t time.Time) float64 {
	if h := t.Hour(); h >= 17 && h <= 21 {
		return 8.0
	}
	return 5.0
}

func TestTrainer_DemandDailyPattern(t *testing.T) {
	// Six weeks of hourly history with a clear daily pattern.
	start := time.Date(2025, 5, 19, 0, 0, 0, 0, time.UTC)
	hours := 6 * 7 * 24
	upTo := start.Add(time.Duration(hours) * time.Hour)

	raw := powerSeries("meter-1", start, hours, dailyDemand)
	store := &fakeStore{series: map[string][]models.Reading{
		"meter-1/" + models.SignalPower: raw,
	}}
	entities := []models.Entity{{ID: "meter-1", Type: models.EntityMeter}}

	trainer := NewTrainer(store, TrainerConfig{
		HiddenLayers: []int{16, 8},
		LearningRate: 0.01,
		Epochs:       300,
		Patience:     30,
		Seed:         42,
	}, testLogger(t))

	v, err := trainer.Train(context.Background(), models.ForecastDemand, entities, upTo)
	require.NoError(t, err)
	assert.Equal(t, models.ForecastDemand, v.Type)
	assert.Equal(t, models.StatusCandidate, v.Status)
	assert.Greater(t, len(v.Payload), 0)

	pred := mustLoad(t, v, entities)
	sp, ok := pred.(service.StatsProvider)
	require.True(t, ok)
	stats, ok := sp.Stats("meter-1")
	require.True(t, ok, "trained model should carry corpus stats for the meter")

	builder := features.NewBuilder(features.Config{})
	w, err := builder.Build("meter-1", upTo, raw, nil, stats)
	require.NoError(t, err)

	points, err := pred.Predict(w, 24)
	require.NoError(t, err)
	require.Len(t, points, 24)

	issuedAt := points[0].IssuedAt
	var peak, offPeak []float64
	for i, pt := range points {
		assert.True(t, pt.TargetTimestamp.After(issuedAt))
		if i > 0 {
			assert.True(t, pt.TargetTimestamp.After(points[i-1].TargetTimestamp))
		}
		assert.GreaterOrEqual(t, pt.PointEstimate, 0.0)
		assert.LessOrEqual(t, pt.LowerBound, pt.PointEstimate)
		assert.GreaterOrEqual(t, pt.UpperBound, pt.PointEstimate)
		assert.Equal(t, v.ID, pt.ModelVersion)

		switch h := pt.TargetTimestamp.Hour(); {
		case h >= 17 && h <= 21:
			peak = append(peak, pt.PointEstimate)
		case h >= 2 && h <= 5:
			offPeak = append(offPeak, pt.PointEstimate)
		}
	}
	require.Len(t, peak, 5)
	require.Len(t, offPeak, 4)

	// The evening peak must dominate the small hours for at least 90% of
	// peak/off-peak pairs.
	wins, total := 0, 0
	for _, p := range peak {
		for _, o := range offPeak {
			total++
			if p > o {
				wins++
			}
		}
	}
	assert.GreaterOrEqual(t, float64(wins)/float64(total), 0.9,
		"peak estimates should exceed off-peak ones (won %d of %d pairs)", wins, total)
}

func TestTrainer_InsufficientHistory(t *testing.T) {
	start := time.Date(2025, 5, 19, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{series: map[string][]models.Reading{
		"meter-1/" + models.SignalPower: powerSeries("meter-1", start, 100, dailyDemand),
	}}
	trainer := NewTrainer(store, TrainerConfig{}, testLogger(t))

	_, err := trainer.Train(context.Background(), models.ForecastDemand,
		[]models.Entity{{ID: "meter-1", Type: models.EntityMeter}}, start.Add(100*time.Hour))
	assert.True(t, errors.Is(err, models.ErrInsufficientHistory))
}

func TestTrainer_UnknownType(t *testing.T) {
	trainer := NewTrainer(&fakeStore{}, TrainerConfig{}, testLogger(t))
	_, err := trainer.Train(context.Background(), models.ForecastType("tidal"), nil, time.Now())
	assert.Error(t, err)
}

func TestTrainer_SolarCalibration(t *testing.T) {
	params := models.SolarParams{TiltDeg: 30, AzimuthDeg: 180, Efficiency: 0.2, AreaM2: 50}
	pv := models.Entity{
		ID:         "pv-1",
		Type:       models.EntitySolar,
		RatedKW:    12,
		Solar:      &params,
		WeatherRef: "ws-1",
	}

	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	hours := 14 * 24
	upTo := start.Add(time.Duration(hours) * time.Hour)

	irr := make([]models.Reading, hours)
	for i := range irr {
		ts := start.Add(time.Duration(i) * time.Hour)
		irr[i] = models.Reading{
			EntityID:  "ws-1",
			Signal:    models.SignalIrradiance,
			Timestamp: ts,
			Value:     weather.ClearSkyIrradiance(ts),
			Quality:   models.QualityGood,
		}
	}
	// The site consistently produces 80% of what the physics predicts.
	power := powerSeries("pv-1", start, hours, func(ts time.Time) float64 {
		return 0.8 * weather.PVPowerKW(params, weather.ClearSkyIrradiance(ts), 25)
	})

	store := &fakeStore{series: map[string][]models.Reading{
		"pv-1/" + models.SignalPower:      power,
		"ws-1/" + models.SignalIrradiance: irr,
	}}
	trainer := NewTrainer(store, TrainerConfig{}, testLogger(t))

	v, err := trainer.Train(context.Background(), models.ForecastSolar, []models.Entity{pv}, upTo)
	require.NoError(t, err)
	assert.Equal(t, models.ForecastSolar, v.Type)
	assert.Equal(t, models.StatusCandidate, v.Status)

	var p curvePayload
	require.NoError(t, json.Unmarshal(v.Payload, &p))
	assert.InDelta(t, 0.8, p.Calibration, 1e-9)
	assert.InDelta(t, 0.0, v.ValidationError, 1e-9, "calibrated curve should fit a consistent site exactly")
}

func TestTrainer_WindInsufficientPairs(t *testing.T) {
	turbine := models.Entity{
		ID:      "wt-1",
		Type:    models.EntityWind,
		RatedKW: 100,
		Wind:    &models.WindParams{CutInMS: 3, CutOutMS: 25, RatedMS: 12},
		// No WeatherRef: no wind-speed series to calibrate against.
	}
	start := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{series: map[string][]models.Reading{
		"wt-1/" + models.SignalPower: powerSeries("wt-1", start, 72, func(time.Time) float64 { return 40 }),
	}}
	trainer := NewTrainer(store, TrainerConfig{}, testLogger(t))

	_, err := trainer.Train(context.Background(), models.ForecastWind, []models.Entity{turbine}, start.Add(72*time.Hour))
	assert.True(t, errors.Is(err, models.ErrInsufficientHistory))
}
