package features

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GridCast/internal/domain/models"
)

var baseTime = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC) // a Monday

func hourlyReadings(entity string, start time.Time, hours int, value func(i int) float64) []models.Reading {
	rs := make([]models.Reading, 0, hours)
	for i := 0; i < hours; i++ {
		rs = append(rs, models.Reading{
			EntityID:  entity,
			Signal:    models.SignalPower,
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Value:     value(i),
			Quality:   models.QualityGood,
		})
	}
	return rs
}

func testStats() models.NormStats {
	return models.NormStats{
		Value:       models.Range{Min: 0, Max: 10},
		Temperature: models.Range{Min: -10, Max: 40},
		Irradiance:  models.Range{Min: 0, Max: 1000},
		WindSpeed:   models.Range{Min: 0, Max: 25},
	}
}

func TestBuildWindowLengthAndRange(t *testing.T) {
	b := NewBuilder(Config{})
	raw := hourlyReadings("meter-1", baseTime, 200, func(i int) float64 {
		return 5 + 3*math.Sin(float64(i%24)/24*2*math.Pi)
	})
	asOf := baseTime.Add(200 * time.Hour)

	w, err := b.Build("meter-1", asOf, raw, nil, testStats())
	require.NoError(t, err)
	require.Equal(t, 168, w.Len())

	for _, v := range w.Vectors {
		assert.GreaterOrEqual(t, v.Value, 0.0)
		assert.LessOrEqual(t, v.Value, 1.0)
		assert.GreaterOrEqual(t, v.Hour, 0.0)
		assert.LessOrEqual(t, v.Hour, 1.0)
		assert.GreaterOrEqual(t, v.DayOfWeek, 0.0)
		assert.LessOrEqual(t, v.DayOfWeek, 1.0)
		assert.GreaterOrEqual(t, v.Month, 0.0)
		assert.LessOrEqual(t, v.Month, 1.0)
	}

	// Vectors are consecutive hours ending at the last sample.
	last := w.Vectors[len(w.Vectors)-1]
	assert.Equal(t, baseTime.Add(199*time.Hour), last.Timestamp)
	for i := 1; i < w.Len(); i++ {
		assert.Equal(t, time.Hour, w.Vectors[i].Timestamp.Sub(w.Vectors[i-1].Timestamp))
	}
}

func TestBuildInsufficientHistory(t *testing.T) {
	b := NewBuilder(Config{})
	raw := hourlyReadings("meter-1", baseTime, 100, func(i int) float64 { return 5 })

	_, err := b.Build("meter-1", baseTime.Add(100*time.Hour), raw, nil, testStats())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInsufficientHistory))
}

func TestBuildNoSamples(t *testing.T) {
	b := NewBuilder(Config{})
	_, err := b.Build("meter-1", baseTime, nil, nil, testStats())
	assert.True(t, errors.Is(err, models.ErrInsufficientHistory))
}

func TestBuildInterpolatesShortGap(t *testing.T) {
	b := NewBuilder(Config{})
	raw := hourlyReadings("meter-1", baseTime, 200, func(i int) float64 { return 4 })
	// Drop 3 consecutive hours well inside the window; the anchor after the
	// gap reads 8 so the fill ramps 4 -> 8.
	gapStart := 120
	raw[gapStart+3].Value = 8
	cut := make([]models.Reading, 0, len(raw)-3)
	for i, r := range raw {
		if i >= gapStart && i < gapStart+3 {
			continue
		}
		cut = append(cut, r)
	}

	w, err := b.Build("meter-1", baseTime.Add(200*time.Hour), cut, nil, testStats())
	require.NoError(t, err)
	require.Equal(t, 168, w.Len())

	stats := testStats()
	estimated := 0
	for _, v := range w.Vectors {
		if v.Estimated {
			estimated++
			assert.Greater(t, v.Value, stats.Value.Normalize(4.0))
			assert.Less(t, v.Value, stats.Value.Normalize(8.0))
		}
	}
	assert.Equal(t, 3, estimated)
}

func TestBuildRejectsLongGap(t *testing.T) {
	b := NewBuilder(Config{GapToleranceHours: 3})
	raw := hourlyReadings("meter-1", baseTime, 200, func(i int) float64 { return 4 })
	gapStart := 120
	cut := make([]models.Reading, 0, len(raw)-4)
	for i, r := range raw {
		if i >= gapStart && i < gapStart+4 {
			continue
		}
		cut = append(cut, r)
	}

	_, err := b.Build("meter-1", baseTime.Add(200*time.Hour), cut, nil, testStats())
	require.Error(t, err)
	var dqe *models.DataQualityError
	require.True(t, errors.As(err, &dqe))
	assert.Equal(t, 4, dqe.GapHours)
	assert.Equal(t, "meter-1", dqe.EntityID)
}

func TestBuildNormalizationClampsOutliers(t *testing.T) {
	b := NewBuilder(Config{})
	// Values up to 50 against a corpus range of [0,10]: clamp, never exceed 1.
	raw := hourlyReadings("meter-1", baseTime, 200, func(i int) float64 { return float64(i % 50) })

	w, err := b.Build("meter-1", baseTime.Add(200*time.Hour), raw, nil, testStats())
	require.NoError(t, err)
	for _, v := range w.Vectors {
		assert.LessOrEqual(t, v.Value, 1.0)
		assert.GreaterOrEqual(t, v.Value, 0.0)
	}
}

func TestBuildExogenousAlignment(t *testing.T) {
	b := NewBuilder(Config{})
	raw := hourlyReadings("meter-1", baseTime, 200, func(i int) float64 { return 5 })
	temp := hourlyReadings("station-1", baseTime, 200, func(i int) float64 { return 15 })
	for i := range temp {
		temp[i].Signal = models.SignalTemperature
	}

	w, err := b.Build("meter-1", baseTime.Add(200*time.Hour), raw,
		map[string][]models.Reading{models.SignalTemperature: temp}, testStats())
	require.NoError(t, err)
	assert.True(t, w.HasTemperature)
	assert.False(t, w.HasIrradiance)
	assert.InDelta(t, 0.5, w.Vectors[0].Temperature, 1e-9) // 15 in [-10,40]
}

func TestBuildExogenousTooSparse(t *testing.T) {
	b := NewBuilder(Config{})
	raw := hourlyReadings("meter-1", baseTime, 200, func(i int) float64 { return 5 })
	// Temperature only covers the last 10 hours.
	temp := hourlyReadings("station-1", baseTime.Add(190*time.Hour), 10, func(i int) float64 { return 15 })
	for i := range temp {
		temp[i].Signal = models.SignalTemperature
	}

	w, err := b.Build("meter-1", baseTime.Add(200*time.Hour), raw,
		map[string][]models.Reading{models.SignalTemperature: temp}, testStats())
	require.NoError(t, err)
	assert.False(t, w.HasTemperature)
}

func TestCalendarFeatures(t *testing.T) {
	b := NewBuilder(Config{})
	raw := hourlyReadings("meter-1", baseTime, 200, func(i int) float64 { return 5 })

	w, err := b.Build("meter-1", baseTime.Add(200*time.Hour), raw, nil, testStats())
	require.NoError(t, err)

	for _, v := range w.Vectors {
		h := v.Timestamp.Hour()
		assert.InDelta(t, float64(h)/23.0, v.Hour, 1e-9)
		wd := (int(v.Timestamp.Weekday()) + 6) % 7
		if wd >= 5 {
			assert.Equal(t, 1.0, v.IsWeekend)
		} else {
			assert.Equal(t, 0.0, v.IsWeekend)
		}
		if h >= 17 && h <= 21 {
			assert.Equal(t, 1.0, v.IsPeakHour, "hour %d should be peak", h)
		} else {
			assert.Equal(t, 0.0, v.IsPeakHour, "hour %d should not be peak", h)
		}
	}
}

func TestHourlySeriesAveragesWithinBucket(t *testing.T) {
	rs := []models.Reading{
		{Timestamp: baseTime.Add(10 * time.Minute), Value: 2, Quality: models.QualityGood},
		{Timestamp: baseTime.Add(40 * time.Minute), Value: 4, Quality: models.QualityGood},
		{Timestamp: baseTime.Add(70 * time.Minute), Value: 9, Quality: models.QualityGood},
		{Timestamp: baseTime.Add(80 * time.Minute), Value: 1, Quality: models.QualityMissing},
	}
	hs := HourlySeries(rs)
	require.Len(t, hs, 2)
	assert.InDelta(t, 3.0, hs[0].Value, 1e-9)
	assert.InDelta(t, 9.0, hs[1].Value, 1e-9)
	assert.True(t, hs[0].Time.Before(hs[1].Time))
}

func TestComputeStatsFallbacks(t *testing.T) {
	stats := ComputeStats(nil, nil)
	assert.Equal(t, models.Range{Min: 0, Max: 1}, stats.Value)
	assert.Equal(t, models.Range{Min: 0, Max: 1000}, stats.Irradiance)

	target := hourlyReadings("m", baseTime, 48, func(i int) float64 { return float64(i) })
	stats = ComputeStats(target, nil)
	assert.Equal(t, 0.0, stats.Value.Min)
	assert.Equal(t, 47.0, stats.Value.Max)
}
