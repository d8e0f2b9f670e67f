package features

import (
	"sort"
	"time"

	"GridCast/internal/domain/models"
)

// HourPoint is one hourly-averaged sample.
type HourPoint struct {
	Time  time.Time
	Value float64
}

// HourlySeries averages readings into hourly buckets, ascending. Readings
// flagged missing are skipped.
func HourlySeries(rs []models.Reading) []HourPoint {
	if len(rs) == 0 {
		return nil
	}
	sums := make(map[time.Time]float64)
	counts := make(map[time.Time]int)
	for _, r := range rs {
		if r.Quality == models.QualityMissing {
			continue
		}
		b := r.Timestamp.Truncate(time.Hour)
		sums[b] += r.Value
		counts[b]++
	}
	out := make([]HourPoint, 0, len(sums))
	for b, s := range sums {
		out = append(out, HourPoint{Time: b, Value: s / float64(counts[b])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// ComputeStats derives min-max normalization ranges from a training corpus.
// Exogenous ranges default to physically sensible spans when the corpus has
// no samples for them, so a window built later cannot divide by zero.
func ComputeStats(target []models.Reading, exo map[string][]models.Reading) models.NormStats {
	stats := models.NormStats{
		Value:       rangeOf(target, models.Range{Min: 0, Max: 1}),
		Temperature: rangeOf(exo[models.SignalTemperature], models.Range{Min: -10, Max: 40}),
		Irradiance:  rangeOf(exo[models.SignalIrradiance], models.Range{Min: 0, Max: 1000}),
		WindSpeed:   rangeOf(exo[models.SignalWindSpeed], models.Range{Min: 0, Max: 25}),
	}
	return stats
}

func rangeOf(rs []models.Reading, fallback models.Range) models.Range {
	first := true
	var r models.Range
	for _, p := range rs {
		if p.Quality == models.QualityMissing {
			continue
		}
		if first {
			r.Min, r.Max = p.Value, p.Value
			first = false
			continue
		}
		if p.Value < r.Min {
			r.Min = p.Value
		}
		if p.Value > r.Max {
			r.Max = p.Value
		}
	}
	if first || r.Max <= r.Min {
		return fallback
	}
	return r
}
