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
)

func minuteReadings(entity, signal string, at time.Time, values ...float64) []models.Reading {
	rs := make([]models.Reading, len(values))
	for i, v := range values {
		rs[i] = models.Reading{
			EntityID:  entity,
			Signal:    signal,
			Timestamp: at.Add(time.Duration(i) * time.Minute),
			Value:     v,
			Quality:   models.QualityGood,
		}
	}
	return rs
}

func gridEntities() []models.Entity {
	return []models.Entity{
		{ID: "meter-1", Type: models.EntityMeter},
		{ID: "solar-1", Type: models.EntitySolar},
		{ID: "wind-1", Type: models.EntityWind},
	}
}

func TestGridHealth_HealthyGridScoresExcellent(t *testing.T) {
	now := time.Date(2025, 4, 7, 12, 0, 0, 0, time.UTC)
	at := now.Add(-10 * time.Minute)

	telemetry := &stubTelemetryStore{series: map[string][]models.Reading{
		"meter-1/frequency": minuteReadings("meter-1", models.SignalFrequency, at, 50.01, 49.99),
		"meter-1/voltage":   minuteReadings("meter-1", models.SignalVoltage, at, 229, 231),
		"meter-1/power":     minuteReadings("meter-1", models.SignalPower, at, 1000, 1000),
		"solar-1/power":     minuteReadings("solar-1", models.SignalPower, at, 250, 250),
		"wind-1/power":      minuteReadings("wind-1", models.SignalPower, at, 100, 100),
	}}

	board := registry.NewBoard()
	g := NewGridHealthRunner(GridHealthConfig{CapacityKW: 2000}, telemetry, board, gridEntities(), nopMetrics{}, testLogger(t))

	require.NoError(t, g.Run(context.Background(), now))

	h, ok := board.Health()
	require.True(t, ok)
	assert.Equal(t, now, h.ComputedAt)
	assert.InDelta(t, 1.0, h.FrequencyScore, 1e-9)
	assert.InDelta(t, 1.0, h.VoltageScore, 1e-9)
	assert.InDelta(t, 1.0, h.LoadScore, 1e-9)
	assert.InDelta(t, 1.0, h.RenewableScore, 1e-9)
	assert.InDelta(t, 1.0, h.Score, 1e-9)
	assert.Equal(t, models.GridExcellent, h.Status)
}

func TestGridHealth_NoTelemetryScoresNeutral(t *testing.T) {
	now := time.Date(2025, 4, 7, 12, 0, 0, 0, time.UTC)

	board := registry.NewBoard()
	g := NewGridHealthRunner(GridHealthConfig{CapacityKW: 2000}, &stubTelemetryStore{}, board, gridEntities(), nopMetrics{}, testLogger(t))

	require.NoError(t, g.Run(context.Background(), now))

	h, ok := board.Health()
	require.True(t, ok)
	assert.InDelta(t, 0.5, h.FrequencyScore, 1e-9)
	assert.InDelta(t, 0.5, h.VoltageScore, 1e-9)
	assert.InDelta(t, 1.0, h.LoadScore, 1e-9)
	assert.InDelta(t, 0.4, h.RenewableScore, 1e-9)
	assert.InDelta(t, 0.61, h.Score, 1e-9)
	assert.Equal(t, models.GridPoor, h.Status)
}

func TestGridHealth_OverloadAndDriftScoresCritical(t *testing.T) {
	now := time.Date(2025, 4, 7, 18, 0, 0, 0, time.UTC)
	at := now.Add(-10 * time.Minute)

	// Frequency drifted 0.4 Hz, voltage spread 60 V, load at 97.5% of
	// capacity, almost no renewable generation.
	telemetry := &stubTelemetryStore{series: map[string][]models.Reading{
		"meter-1/frequency": minuteReadings("meter-1", models.SignalFrequency, at, 50.5, 50.3),
		"meter-1/voltage":   minuteReadings("meter-1", models.SignalVoltage, at, 200, 260),
		"meter-1/power":     minuteReadings("meter-1", models.SignalPower, at, 1950, 1950),
		"solar-1/power":     minuteReadings("solar-1", models.SignalPower, at, 50, 50),
	}}

	board := registry.NewBoard()
	g := NewGridHealthRunner(GridHealthConfig{CapacityKW: 2000}, telemetry, board, gridEntities(), nopMetrics{}, testLogger(t))

	require.NoError(t, g.Run(context.Background(), now))

	h, ok := board.Health()
	require.True(t, ok)
	assert.InDelta(t, 0.3, h.FrequencyScore, 1e-9)
	assert.InDelta(t, 0.3, h.VoltageScore, 1e-9)
	assert.InDelta(t, 0.2, h.LoadScore, 1e-9)
	assert.InDelta(t, 0.4, h.RenewableScore, 1e-9)
	assert.InDelta(t, 0.29, h.Score, 1e-9)
	assert.Equal(t, models.GridCritical, h.Status)
}

func TestGridHealth_SeriesFailureDoesNotFailCycle(t *testing.T) {
	now := time.Date(2025, 4, 7, 12, 0, 0, 0, time.UTC)
	telemetry := &stubTelemetryStore{seriesErr: errors.New("clickhouse unavailable")}

	board := registry.NewBoard()
	g := NewGridHealthRunner(GridHealthConfig{}, telemetry, board, gridEntities(), nopMetrics{}, testLogger(t))

	require.NoError(t, g.Run(context.Background(), now))

	h, ok := board.Health()
	require.True(t, ok)
	assert.InDelta(t, 0.5, h.FrequencyScore, 1e-9)
	assert.InDelta(t, 0.5, h.VoltageScore, 1e-9)
}

func TestGridHealth_IgnoresMissingQualityReadings(t *testing.T) {
	now := time.Date(2025, 4, 7, 12, 0, 0, 0, time.UTC)
	at := now.Add(-10 * time.Minute)

	freq := minuteReadings("meter-1", models.SignalFrequency, at, 50.0)
	hole := minuteReadings("meter-1", models.SignalFrequency, at.Add(time.Minute), 45.0)
	hole[0].Quality = models.QualityMissing

	telemetry := &stubTelemetryStore{series: map[string][]models.Reading{
		"meter-1/frequency": append(freq, hole...),
	}}

	board := registry.NewBoard()
	g := NewGridHealthRunner(GridHealthConfig{}, telemetry, board, gridEntities(), nopMetrics{}, testLogger(t))

	require.NoError(t, g.Run(context.Background(), now))

	h, ok := board.Health()
	require.True(t, ok)
	assert.InDelta(t, 1.0, h.FrequencyScore, 1e-9)
}

func TestVoltageScoreGradesDeviationAndSpread(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"tight band at nominal", []float64{228, 230, 232}, 1.0},
		{"right level wide band", []float64{210, 250}, 0.3},
		{"wrong level tight band", []float64{205, 207}, 0.3},
		{"moderate drift", []float64{222, 238}, 0.8},
		{"no data", nil, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, voltageScore(tt.values), 1e-9)
		})
	}
}

func TestHealthStatusBoundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  models.GridHealthStatus
	}{
		{0.95, models.GridExcellent},
		{0.9, models.GridExcellent},
		{0.85, models.GridGood},
		{0.75, models.GridFair},
		{0.65, models.GridPoor},
		{0.59, models.GridCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, healthStatus(tt.score), "score %.2f", tt.score)
	}
}
