package features

import (
	"fmt"
	"time"

	"GridCast/internal/domain/models"
)

// Config controls window construction. Zero values fall back to the
// one-week hourly window with a 3-hour interpolation tolerance.
type Config struct {
	WindowHours       int
	GapToleranceHours int
	PeakStartHour     int
	PeakEndHour       int
}

func (c Config) withDefaults() Config {
	if c.WindowHours <= 0 {
		c.WindowHours = 168
	}
	if c.GapToleranceHours <= 0 {
		c.GapToleranceHours = 3
	}
	if c.PeakStartHour == 0 && c.PeakEndHour == 0 {
		c.PeakStartHour, c.PeakEndHour = 17, 21
	}
	return c
}

// Builder turns raw telemetry series into fixed-length feature windows.
// Build is a pure function of its inputs; the builder holds configuration only.
type Builder struct {
	cfg Config
}

func NewBuilder(cfg Config) *Builder {
	return &Builder{cfg: cfg.withDefaults()}
}

// WindowHours returns the configured window length L.
func (b *Builder) WindowHours() int { return b.cfg.WindowHours }

// Build constructs the feature window for one entity ending at the latest
// hourly sample at or before asOf. raw is the target-signal series; exo maps
// signal name to optional exogenous series (temperature, irradiance,
// wind_speed). stats must come from the rolling training corpus, never from
// the window itself.
//
// Fails with models.ErrInsufficientHistory when fewer than L hourly samples
// exist, and with *models.DataQualityError when an interior gap exceeds the
// tolerance. Gaps within tolerance are linearly interpolated and marked
// estimated.
func (b *Builder) Build(entityID string, asOf time.Time, raw []models.Reading, exo map[string][]models.Reading, stats models.NormStats) (models.FeatureWindow, error) {
	L := b.cfg.WindowHours

	target := HourlySeries(raw)
	if len(target) == 0 {
		return models.FeatureWindow{}, fmt.Errorf("entity %s: no usable samples: %w", entityID, models.ErrInsufficientHistory)
	}

	// Anchor the window end at the latest hourly sample at or before asOf.
	endIdx := latestAtOrBefore(target, asOf)
	if endIdx < 0 {
		return models.FeatureWindow{}, fmt.Errorf("entity %s: no samples at or before %s: %w",
			entityID, asOf.Format(time.RFC3339), models.ErrInsufficientHistory)
	}
	end := target[endIdx].Time
	start := end.Add(-time.Duration(L-1) * time.Hour)
	if target[0].Time.After(start) {
		return models.FeatureWindow{}, fmt.Errorf("entity %s: history starts %s, window needs %s: %w",
			entityID, target[0].Time.Format(time.RFC3339), start.Format(time.RFC3339),
			models.ErrInsufficientHistory)
	}

	values, estimated, err := b.fillSlots(entityID, models.SignalPower, target, start, L)
	if err != nil {
		return models.FeatureWindow{}, err
	}

	w := models.FeatureWindow{
		EntityID: entityID,
		AsOf:     asOf,
		Vectors:  make([]models.FeatureVector, L),
		Stats:    stats,
	}

	temp, hasTemp := b.fillExo(exo[models.SignalTemperature], start, L)
	irr, hasIrr := b.fillExo(exo[models.SignalIrradiance], start, L)
	wind, hasWind := b.fillExo(exo[models.SignalWindSpeed], start, L)
	cloud, hasCloud := b.fillExo(exo[models.SignalCloudCover], start, L)
	w.HasTemperature, w.HasIrradiance, w.HasWindSpeed, w.HasCloudCover = hasTemp, hasIrr, hasWind, hasCloud

	for i := 0; i < L; i++ {
		t := start.Add(time.Duration(i) * time.Hour)
		v := models.FeatureVector{
			Timestamp: t,
			Value:     stats.Value.Normalize(values[i]),
			Estimated: estimated[i],
		}
		fillCalendar(&v, t, b.cfg.PeakStartHour, b.cfg.PeakEndHour)
		if hasTemp {
			v.Temperature = stats.Temperature.Normalize(temp[i])
		}
		if hasIrr {
			v.Irradiance = stats.Irradiance.Normalize(irr[i])
		}
		if hasWind {
			v.WindSpeed = stats.WindSpeed.Normalize(wind[i])
		}
		if hasCloud {
			v.CloudCover = clamp01(cloud[i])
		}
		w.Vectors[i] = v
	}

	return w, nil
}

// fillSlots maps hourly samples onto L consecutive slots starting at start,
// interpolating interior gaps up to the tolerance.
func (b *Builder) fillSlots(entityID, signal string, series []HourPoint, start time.Time, L int) ([]float64, []bool, error) {
	values := make([]float64, L)
	present := make([]bool, L)
	estimated := make([]bool, L)

	for _, p := range series {
		idx := int(p.Time.Sub(start) / time.Hour)
		if idx >= 0 && idx < L && p.Time.Equal(start.Add(time.Duration(idx)*time.Hour)) {
			values[idx] = p.Value
			present[idx] = true
		}
	}

	// Window edges are anchored by construction; every gap is interior.
	i := 0
	for i < L {
		if present[i] {
			i++
			continue
		}
		runStart := i
		for i < L && !present[i] {
			i++
		}
		runLen := i - runStart
		if runLen > b.cfg.GapToleranceHours {
			return nil, nil, &models.DataQualityError{
				EntityID: entityID,
				Signal:   signal,
				GapStart: start.Add(time.Duration(runStart) * time.Hour),
				GapHours: runLen,
			}
		}
		lo, hi := values[runStart-1], values[i]
		for j := runStart; j < i; j++ {
			frac := float64(j-runStart+1) / float64(runLen+1)
			values[j] = lo + (hi-lo)*frac
			estimated[j] = true
		}
	}

	return values, estimated, nil
}

// fillExo aligns an exogenous series onto the window slots. Unlike the
// target series, a sparse or absent exogenous series does not fail the
// window: it is simply reported absent.
func (b *Builder) fillExo(series []models.Reading, start time.Time, L int) ([]float64, bool) {
	hs := HourlySeries(series)
	if len(hs) == 0 {
		return nil, false
	}
	end := start.Add(time.Duration(L-1) * time.Hour)
	if hs[0].Time.After(start) || hs[len(hs)-1].Time.Before(end) {
		return nil, false
	}
	values, _, err := b.fillSlots("", "", hs, start, L)
	if err != nil {
		return nil, false
	}
	return values, true
}

func fillCalendar(v *models.FeatureVector, t time.Time, peakStart, peakEnd int) {
	h := t.Hour()
	v.Hour = float64(h) / 23.0
	wd := (int(t.Weekday()) + 6) % 7 // Monday = 0
	v.DayOfWeek = float64(wd) / 6.0
	v.Month = float64(int(t.Month())-1) / 11.0
	if wd >= 5 {
		v.IsWeekend = 1
	}
	if h >= peakStart && h <= peakEnd {
		v.IsPeakHour = 1
	}
}

func latestAtOrBefore(series []HourPoint, t time.Time) int {
	limit := t.Truncate(time.Hour)
	for i := len(series) - 1; i >= 0; i-- {
		if !series[i].Time.After(limit) {
			return i
		}
	}
	return -1
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
