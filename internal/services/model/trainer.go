package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"GridCast/internal/domain/models"
	"GridCast/internal/domain/repository"
	"GridCast/internal/services/features"
	"GridCast/internal/services/weather"
	"GridCast/pkg/logger"
)

const (
	// minDemandSamples keeps the network from fitting noise on a thin corpus.
	minDemandSamples = 336
	// minCurvePairs is the least weather/actual overlap accepted for calibration.
	minCurvePairs = 48
)

// TrainerConfig holds the training hyperparameters. Zero values fall back to
// the defaults below.
type TrainerConfig struct {
	CorpusWeeks   int
	HiddenLayers  []int
	LearningRate  float64
	BatchSize     int
	Epochs        int
	Patience      int
	Seed          uint64
	ValidationPct float64
	PeakStartHour int
	PeakEndHour   int
}

func (c TrainerConfig) withDefaults() TrainerConfig {
	if c.CorpusWeeks <= 0 {
		c.CorpusWeeks = 6
	}
	if len(c.HiddenLayers) == 0 {
		c.HiddenLayers = []int{32, 16}
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.001
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.Epochs <= 0 {
		c.Epochs = 200
	}
	if c.Patience <= 0 {
		c.Patience = 10
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	if c.ValidationPct <= 0 || c.ValidationPct >= 1 {
		c.ValidationPct = 0.2
	}
	return c
}

// Trainer fits candidate model versions from stored telemetry: a neural
// network for demand, a calibrated physics curve for solar and wind. It
// never touches the active slot; promotion is the scheduler's decision.
type Trainer struct {
	store  repository.TelemetryStore
	cfg    TrainerConfig
	logger *logger.Logger
}

func NewTrainer(store repository.TelemetryStore, cfg TrainerConfig, l *logger.Logger) *Trainer {
	return &Trainer{store: store, cfg: cfg.withDefaults(), logger: l}
}

func (t *Trainer) corpus(upTo time.Time) models.Window {
	return models.Window{
		From: upTo.Add(-time.Duration(t.cfg.CorpusWeeks) * 7 * 24 * time.Hour),
		To:   upTo,
	}
}

// Train produces a candidate version for one forecast type from history
// ending at upTo.
func (t *Trainer) Train(ctx context.Context, fType models.ForecastType, entities []models.Entity, upTo time.Time) (*models.ModelVersion, error) {
	switch fType {
	case models.ForecastDemand:
		return t.trainDemand(ctx, entities, upTo)
	case models.ForecastSolar, models.ForecastWind:
		return t.trainCurve(ctx, fType, entities, upTo)
	}
	return nil, fmt.Errorf("no trainer for forecast type %q", fType)
}

func (t *Trainer) trainDemand(ctx context.Context, entities []models.Entity, upTo time.Time) (*models.ModelVersion, error) {
	corpus := t.corpus(upTo)
	enc := Encoder{PeakStartHour: t.cfg.PeakStartHour, PeakEndHour: t.cfg.PeakEndHour}.withDefaults()

	entityStats := make(map[string]models.NormStats)
	var samples []Sample
	usedTemp := false
	for _, e := range entities {
		if e.Type != models.EntityMeter {
			continue
		}
		raw, err := t.store.Series(ctx, e.ID, models.SignalPower, corpus.From, corpus.To)
		if err != nil {
			return nil, fmt.Errorf("load %s/%s: %w", e.ID, models.SignalPower, err)
		}
		if len(raw) == 0 {
			continue
		}

		exo := make(map[string][]models.Reading)
		var temps []features.HourPoint
		if e.WeatherRef != "" {
			tr, err := t.store.Series(ctx, e.WeatherRef, models.SignalTemperature, corpus.From, corpus.To)
			if err == nil && len(tr) > 0 {
				exo[models.SignalTemperature] = tr
				temps = features.HourlySeries(tr)
				usedTemp = true
			}
		}

		stats := features.ComputeStats(raw, exo)
		entityStats[e.ID] = stats
		samples = append(samples, enc.BuildSamples(features.HourlySeries(raw), temps, stats)...)
	}
	if len(samples) < minDemandSamples {
		return nil, fmt.Errorf("demand training needs %d samples, built %d: %w",
			minDemandSamples, len(samples), models.ErrInsufficientHistory)
	}

	rng := rand.New(rand.NewPCG(t.cfg.Seed, 0))
	train, val := splitSamples(samples, t.cfg.ValidationPct, rng)
	trainX, trainY := toXY(train)
	valX, valY := toXY(val)

	sizes := make([]int, 0, len(t.cfg.HiddenLayers)+2)
	sizes = append(sizes, inputSize)
	sizes = append(sizes, t.cfg.HiddenLayers...)
	sizes = append(sizes, 1)

	net := NewNetwork(sizes, rng)
	losses := net.Train(trainX, trainY, valX, valY, TrainConfig{
		LearningRate: t.cfg.LearningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		BatchSize:    t.cfg.BatchSize,
		Epochs:       t.cfg.Epochs,
		Patience:     t.cfg.Patience,
	}, rng)

	hours := make([]int, len(val))
	preds := make([]float64, len(val))
	acts := make([]float64, len(val))
	for i, s := range val {
		hours[i] = s.Hour
		preds[i] = net.Forward(s.In)[0]
		acts[i] = s.Target
	}

	payload, err := json.Marshal(demandPayload{
		Net:         net,
		Encoder:     enc,
		EntityStats: entityStats,
		HourlySigma: residualSigmaByHour(hours, preds, acts),
		UsedTemp:    usedTemp,
	})
	if err != nil {
		return nil, fmt.Errorf("encode demand payload: %w", err)
	}

	v := &models.ModelVersion{
		ID:              versionID(models.ForecastDemand),
		Type:            models.ForecastDemand,
		TrainedAt:       time.Now().UTC(),
		TrainingWindow:  corpus,
		ValidationError: math.Sqrt(net.MSELoss(valX, valY)),
		Status:          models.StatusCandidate,
		Payload:         payload,
	}
	t.logger.Info("trained demand candidate",
		logger.String("version", v.ID),
		logger.Int("samples", len(samples)),
		logger.Int("epochs", len(losses)),
		logger.Float64("val_rmse", v.ValidationError))
	return v, nil
}

// calPair is one historical hour where a physics prediction can be compared
// to the realized output. Both sides are capacity fractions so sites of
// different size pool into one calibration.
type calPair struct {
	at   time.Time
	hour int
	pred float64
	act  float64
}

func (t *Trainer) trainCurve(ctx context.Context, fType models.ForecastType, entities []models.Entity, upTo time.Time) (*models.ModelVersion, error) {
	corpus := t.corpus(upTo)
	wantType := models.EntitySolar
	weatherSignal := models.SignalIrradiance
	if fType == models.ForecastWind {
		wantType = models.EntityWind
		weatherSignal = models.SignalWindSpeed
	}

	entityStats := make(map[string]models.NormStats)
	var pairs []calPair
	for _, e := range entities {
		if e.Type != wantType || e.RatedKW <= 0 {
			continue
		}
		raw, err := t.store.Series(ctx, e.ID, models.SignalPower, corpus.From, corpus.To)
		if err != nil {
			return nil, fmt.Errorf("load %s/%s: %w", e.ID, models.SignalPower, err)
		}
		if len(raw) == 0 {
			continue
		}

		exo := make(map[string][]models.Reading)
		var weatherAt, tempAt map[int64]float64
		if e.WeatherRef != "" {
			if ws, err := t.store.Series(ctx, e.WeatherRef, weatherSignal, corpus.From, corpus.To); err == nil && len(ws) > 0 {
				exo[weatherSignal] = ws
				weatherAt = hourIndex(features.HourlySeries(ws))
			}
			if fType == models.ForecastSolar {
				if ts, err := t.store.Series(ctx, e.WeatherRef, models.SignalTemperature, corpus.From, corpus.To); err == nil && len(ts) > 0 {
					exo[models.SignalTemperature] = ts
					tempAt = hourIndex(features.HourlySeries(ts))
				}
			}
		}

		entityStats[e.ID] = features.ComputeStats(raw, exo)
		if len(weatherAt) == 0 {
			continue
		}

		for _, p := range features.HourlySeries(raw) {
			wv, ok := weatherAt[p.Time.Unix()]
			if !ok {
				continue
			}
			var predKW float64
			switch fType {
			case models.ForecastSolar:
				if e.Solar == nil {
					continue
				}
				temp := 25.0
				if tv, ok := tempAt[p.Time.Unix()]; ok {
					temp = tv
				}
				predKW = weather.PVPowerKW(*e.Solar, wv, temp)
			case models.ForecastWind:
				if e.Wind == nil {
					continue
				}
				predKW = weather.WindPowerKW(*e.Wind, e.RatedKW, wv)
			}
			pairs = append(pairs, calPair{
				at:   p.Time,
				hour: p.Time.Hour(),
				pred: predKW / e.RatedKW,
				act:  p.Value / e.RatedKW,
			})
		}
	}
	if len(pairs) < minCurvePairs {
		return nil, fmt.Errorf("%s calibration needs %d paired hours, found %d: %w",
			fType, minCurvePairs, len(pairs), models.ErrInsufficientHistory)
	}

	// Time-ordered split: fit the scale on the head, judge it on the tail.
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].at.Before(pairs[j].at) })
	split := len(pairs) * 4 / 5
	if split < 1 {
		split = 1
	}
	if split >= len(pairs) {
		split = len(pairs) - 1
	}
	fit, holdout := pairs[:split], pairs[split:]

	var num, den float64
	for _, p := range fit {
		num += p.act * p.pred
		den += p.pred * p.pred
	}
	cal := 1.0
	if den > 1e-9 {
		cal = num / den
	}
	if cal < 0.5 {
		cal = 0.5
	}
	if cal > 2 {
		cal = 2
	}

	hours := make([]int, len(holdout))
	preds := make([]float64, len(holdout))
	acts := make([]float64, len(holdout))
	var sse float64
	for i, p := range holdout {
		hours[i] = p.hour
		preds[i] = cal * p.pred
		acts[i] = p.act
		d := acts[i] - preds[i]
		sse += d * d
	}

	payload, err := json.Marshal(curvePayload{
		Calibration: cal,
		EntityStats: entityStats,
		HourlySigma: residualSigmaByHour(hours, preds, acts),
	})
	if err != nil {
		return nil, fmt.Errorf("encode curve payload: %w", err)
	}

	v := &models.ModelVersion{
		ID:              versionID(fType),
		Type:            fType,
		TrainedAt:       time.Now().UTC(),
		TrainingWindow:  corpus,
		ValidationError: math.Sqrt(sse / float64(len(holdout))),
		Status:          models.StatusCandidate,
		Payload:         payload,
	}
	t.logger.Info("calibrated generation candidate",
		logger.String("version", v.ID),
		logger.Int("pairs", len(pairs)),
		logger.Float64("calibration", cal),
		logger.Float64("val_rmse", v.ValidationError))
	return v, nil
}

func versionID(t models.ForecastType) string {
	return fmt.Sprintf("%s-%d", t, time.Now().UnixNano())
}

func toXY(samples []Sample) ([][]float64, [][]float64) {
	X := make([][]float64, len(samples))
	Y := make([][]float64, len(samples))
	for i, s := range samples {
		X[i] = s.In
		Y[i] = []float64{s.Target}
	}
	return X, Y
}

func hourIndex(hs []features.HourPoint) map[int64]float64 {
	m := make(map[int64]float64, len(hs))
	for _, p := range hs {
		m[p.Time.Unix()] = p.Value
	}
	return m
}
