package model

import (
	"math"
	"math/rand/v2"
	"time"

	"GridCast/internal/domain/models"
	"GridCast/internal/services/features"
)

// inputSize is the width of one encoded input vector.
const inputSize = 13

// Sample is one supervised example: an encoded input vector and the
// normalized observed value at the target hour.
type Sample struct {
	In     []float64
	Target float64
	Hour   int
}

// Encoder fixes the calendar configuration shared by training and serving.
// The peak band is persisted inside the model payload so a config change
// never desynchronizes a live model from the inputs it was trained on.
type Encoder struct {
	PeakStartHour int `json:"peak_start_hour"`
	PeakEndHour   int `json:"peak_end_hour"`
}

func (e Encoder) withDefaults() Encoder {
	if e.PeakStartHour == 0 && e.PeakEndHour == 0 {
		e.PeakStartHour, e.PeakEndHour = 17, 21
	}
	return e
}

func (e Encoder) isPeak(h int) bool {
	return h >= e.PeakStartHour && h <= e.PeakEndHour
}

// Encode builds the model input for a prediction at target time t. Calendar
// position is encoded with sine/cosine pairs so midnight and 23:00 sit next
// to each other; lag24/lag48/lag168 are the normalized values at the same
// hour one day, two days and one week earlier; dayMean is the mean over the
// 24 hours ending at the one-day lag; temp is the normalized temperature at
// the one-day lag, 0.5 when no temperature series is available.
//
// Every input looks strictly backwards from t, so the same encoding serves
// training and live prediction without look-ahead.
func (e Encoder) Encode(t time.Time, lag24, lag48, lag168, dayMean, temp float64) []float64 {
	h := 2 * math.Pi * float64(t.Hour()) / 24
	d := 2 * math.Pi * float64((int(t.Weekday())+6)%7) / 7
	m := 2 * math.Pi * float64(int(t.Month())-1) / 12
	weekend := 0.0
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		weekend = 1
	}
	peak := 0.0
	if e.isPeak(t.Hour()) {
		peak = 1
	}
	return []float64{
		math.Sin(h), math.Cos(h),
		math.Sin(d), math.Cos(d),
		math.Sin(m), math.Cos(m),
		weekend,
		peak,
		lag24, lag48, lag168,
		dayMean,
		temp,
	}
}

// BuildSamples walks an hourly series and emits one sample per hour with full
// one-week lag coverage. series must be ascending; temps may be nil. Values
// are normalized with stats before encoding, targets likewise.
func (e Encoder) BuildSamples(series, temps []features.HourPoint, stats models.NormStats) []Sample {
	values := make(map[int64]float64, len(series))
	for _, p := range series {
		values[p.Time.Unix()] = p.Value
	}
	tempAt := make(map[int64]float64, len(temps))
	for _, p := range temps {
		tempAt[p.Time.Unix()] = p.Value
	}

	var out []Sample
	for _, p := range series {
		t := p.Time
		lag24, ok1 := values[t.Add(-24*time.Hour).Unix()]
		lag48, ok2 := values[t.Add(-48*time.Hour).Unix()]
		lag168, ok3 := values[t.Add(-168*time.Hour).Unix()]
		if !ok1 || !ok2 || !ok3 {
			continue
		}

		// Mean over [t-47h, t-24h]; tolerate holes down to half coverage.
		var sum float64
		var n int
		for j := 24; j <= 47; j++ {
			if v, ok := values[t.Add(-time.Duration(j)*time.Hour).Unix()]; ok {
				sum += v
				n++
			}
		}
		if n < 12 {
			continue
		}

		temp := 0.5
		if len(tempAt) > 0 {
			if tv, ok := tempAt[t.Add(-24*time.Hour).Unix()]; ok {
				temp = stats.Temperature.Normalize(tv)
			}
		}

		out = append(out, Sample{
			In: e.Encode(t,
				stats.Value.Normalize(lag24),
				stats.Value.Normalize(lag48),
				stats.Value.Normalize(lag168),
				stats.Value.Normalize(sum/float64(n)),
				temp),
			Target: stats.Value.Normalize(p.Value),
			Hour:   t.Hour(),
		})
	}
	return out
}

// encodeStep builds the input for horizon step k (1-based) after the window
// end. For horizons up to one day every lag lands inside a one-week window,
// so each step predicts directly from observed history with no recursion.
func (e Encoder) encodeStep(w models.FeatureWindow, k int) ([]float64, bool) {
	lag24, ok1 := w.ValueAt(24 - k)
	lag48, ok2 := w.ValueAt(48 - k)
	lag168, ok3 := w.ValueAt(168 - k)
	if !ok1 || !ok2 || !ok3 {
		return nil, false
	}

	var sum float64
	var n int
	for j := 0; j < 24; j++ {
		if v, ok := w.ValueAt(24 - k + j); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return nil, false
	}

	temp := 0.5
	if w.HasTemperature {
		if idx := len(w.Vectors) - 1 - (24 - k); idx >= 0 && idx < len(w.Vectors) {
			temp = w.Vectors[idx].Temperature
		}
	}

	target := w.Last().Timestamp.Add(time.Duration(k) * time.Hour)
	return e.Encode(target, lag24, lag48, lag168, sum/float64(n), temp), true
}

// splitSamples shuffles samples and splits off the validation slice.
func splitSamples(samples []Sample, valPct float64, rng *rand.Rand) (train, val []Sample) {
	shuffled := make([]Sample, len(samples))
	copy(shuffled, samples)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	nVal := int(float64(len(shuffled)) * valPct)
	if nVal < 1 {
		nVal = 1
	}
	if nVal >= len(shuffled) {
		nVal = len(shuffled) - 1
	}
	return shuffled[:len(shuffled)-nVal], shuffled[len(shuffled)-nVal:]
}

// residualSigmaByHour computes the standard deviation of prediction residuals
// per hour of day. Hours with fewer than two residuals get the pooled sigma
// so confidence intervals never collapse to zero width.
func residualSigmaByHour(hours []int, predicted, actual []float64) [24]float64 {
	var sums, sumsSq [24]float64
	var counts [24]int
	var allSum, allSumSq float64

	for i := range hours {
		r := actual[i] - predicted[i]
		h := hours[i]
		sums[h] += r
		sumsSq[h] += r * r
		counts[h]++
		allSum += r
		allSumSq += r * r
	}

	pooled := 0.0
	if n := len(hours); n > 1 {
		mean := allSum / float64(n)
		if v := allSumSq/float64(n) - mean*mean; v > 0 {
			pooled = math.Sqrt(v)
		}
	}

	var out [24]float64
	for h := 0; h < 24; h++ {
		out[h] = pooled
		if counts[h] > 1 {
			mean := sums[h] / float64(counts[h])
			if v := sumsSq[h]/float64(counts[h]) - mean*mean; v > 0 {
				out[h] = math.Sqrt(v)
			}
		}
	}
	return out
}
