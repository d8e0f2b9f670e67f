package models

import "time"

// Range holds min-max normalization bounds for one feature.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Normalize maps v into [0,1] using the range, clamping values outside it.
// A degenerate range maps everything to 0.5.
func (r Range) Normalize(v float64) float64 {
	span := r.Max - r.Min
	if span <= 0 {
		return 0.5
	}
	n := (v - r.Min) / span
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

// Denormalize maps a [0,1] value back to the original scale.
func (r Range) Denormalize(n float64) float64 {
	return r.Min + n*(r.Max-r.Min)
}

// NormStats are min-max statistics computed from a rolling training corpus,
// never from a single window. Carried inside the model payload so training
// and serving normalize identically.
type NormStats struct {
	Value       Range `json:"value"`
	Temperature Range `json:"temperature"`
	Irradiance  Range `json:"irradiance"`
	WindSpeed   Range `json:"wind_speed"`
}

// FeatureVector is one hourly step of a FeatureWindow. All fields are
// normalized to [0,1].
type FeatureVector struct {
	Timestamp   time.Time
	Value       float64 // normalized target-signal value
	Hour        float64 // hour-of-day / 23
	DayOfWeek   float64 // weekday / 6, Monday = 0
	Month       float64 // (month-1) / 11
	IsWeekend   float64 // 0 or 1
	IsPeakHour  float64 // 0 or 1
	Temperature float64
	Irradiance  float64
	WindSpeed   float64
	CloudCover  float64 // already a fraction, clamped not normalized
	Estimated   bool    // true when the value was gap-filled
}

// FeatureWindow is an ordered fixed-length sequence of feature vectors for
// one entity, ending at or before AsOf. Owned by the feature builder until
// handed to a forecaster.
type FeatureWindow struct {
	EntityID string
	AsOf     time.Time
	Vectors  []FeatureVector
	Stats    NormStats // stats the window was normalized with

	HasTemperature bool
	HasIrradiance  bool
	HasWindSpeed   bool
	HasCloudCover  bool
}

// Len returns the window length.
func (w FeatureWindow) Len() int { return len(w.Vectors) }

// Last returns the most recent vector. Zero value when empty.
func (w FeatureWindow) Last() FeatureVector {
	if len(w.Vectors) == 0 {
		return FeatureVector{}
	}
	return w.Vectors[len(w.Vectors)-1]
}

// ValueAt returns the normalized value lagged by hours from the window end,
// and false when the lag exceeds the window.
func (w FeatureWindow) ValueAt(lagHours int) (float64, bool) {
	idx := len(w.Vectors) - 1 - lagHours
	if idx < 0 || idx >= len(w.Vectors) {
		return 0, false
	}
	return w.Vectors[idx].Value, true
}
