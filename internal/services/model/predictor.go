package model

import (
	"encoding/json"
	"fmt"
	"time"

	"GridCast/internal/domain/models"
	"GridCast/internal/domain/service"
	"GridCast/internal/services/weather"
)

// demandPayload is the serialized artifact of a demand training run.
type demandPayload struct {
	Net         *Network                    `json:"network"`
	Encoder     Encoder                     `json:"encoder"`
	EntityStats map[string]models.NormStats `json:"entity_stats"`
	HourlySigma [24]float64                 `json:"hourly_sigma"` // normalized units
	UsedTemp    bool                        `json:"used_temperature"`
}

// curvePayload is the serialized artifact of a generation calibration run.
type curvePayload struct {
	Calibration float64                     `json:"calibration"`
	EntityStats map[string]models.NormStats `json:"entity_stats"`
	HourlySigma [24]float64                 `json:"hourly_sigma"` // capacity fraction
}

// Loader rebuilds predictors from persisted model versions. The variant is
// chosen by the version's forecast type: neural for demand, physics curve
// for solar and wind.
type Loader struct {
	boundsZ float64
}

// NewLoader creates a loader. boundsZ is the confidence interval half-width
// in residual standard deviations; 1.64 covers roughly 90%.
func NewLoader(boundsZ float64) *Loader {
	if boundsZ <= 0 {
		boundsZ = 1.64
	}
	return &Loader{boundsZ: boundsZ}
}

func (l *Loader) Load(v *models.ModelVersion, entities []models.Entity) (service.Predictor, error) {
	switch v.Type {
	case models.ForecastDemand:
		var p demandPayload
		if err := json.Unmarshal(v.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode demand payload %s: %w", v.ID, err)
		}
		if p.Net == nil || len(p.Net.Layers) == 0 {
			return nil, fmt.Errorf("demand payload %s has no network", v.ID)
		}
		return &neuralPredictor{
			version: v.ID,
			net:     p.Net,
			enc:     p.Encoder.withDefaults(),
			stats:   p.EntityStats,
			sigma:   p.HourlySigma,
			boundsZ: l.boundsZ,
		}, nil
	case models.ForecastSolar, models.ForecastWind:
		var p curvePayload
		if err := json.Unmarshal(v.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode curve payload %s: %w", v.ID, err)
		}
		catalog := make(map[string]models.Entity)
		for _, e := range entities {
			catalog[e.ID] = e
		}
		cal := p.Calibration
		if cal <= 0 {
			cal = 1
		}
		return &curvePredictor{
			version:     v.ID,
			fType:       v.Type,
			calibration: cal,
			stats:       p.EntityStats,
			sigma:       p.HourlySigma,
			entities:    catalog,
			boundsZ:     l.boundsZ,
		}, nil
	}
	return nil, fmt.Errorf("no predictor variant for forecast type %q", v.Type)
}

// neuralPredictor serves demand forecasts from a trained network. Each
// horizon step is predicted directly from window lags, so steps are
// independent and a single bad step cannot corrupt the rest.
type neuralPredictor struct {
	version string
	net     *Network
	enc     Encoder
	stats   map[string]models.NormStats
	sigma   [24]float64
	boundsZ float64
}

func (p *neuralPredictor) Version() string { return p.version }

// Stats returns the corpus statistics the model was trained with for one
// entity, so callers build windows that normalize the same way training did.
func (p *neuralPredictor) Stats(entityID string) (models.NormStats, bool) {
	s, ok := p.stats[entityID]
	return s, ok
}

func (p *neuralPredictor) Predict(w models.FeatureWindow, horizon int) ([]models.ForecastPoint, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("horizon must be positive, got %d", horizon)
	}
	if w.Len() == 0 {
		return nil, fmt.Errorf("entity %s: empty feature window: %w", w.EntityID, models.ErrInsufficientHistory)
	}

	issuedAt := w.Last().Timestamp
	span := w.Stats.Value.Max - w.Stats.Value.Min

	points := make([]models.ForecastPoint, 0, horizon)
	for k := 1; k <= horizon; k++ {
		in, ok := p.enc.encodeStep(w, k)
		if !ok {
			return nil, fmt.Errorf("entity %s: step %d lags exceed window length %d: %w",
				w.EntityID, k, w.Len(), models.ErrInsufficientHistory)
		}
		raw := p.net.Forward(in)[0]

		target := issuedAt.Add(time.Duration(k) * time.Hour)
		half := p.boundsZ * p.sigma[target.Hour()] * span

		pt := boundedPoint(w.EntityID, issuedAt, target, p.version,
			w.Stats.Value.Denormalize(raw), half, 0, 0)
		points = append(points, pt)
	}
	return points, nil
}

// curvePredictor serves solar and wind forecasts from site physics. Weather
// inputs follow same-hour-yesterday persistence out of the window: observed
// irradiance (or cloud-derived when the station only reports cover) for
// solar, wind speed for wind. With no weather data at all the forecast falls
// back to persistence on the source's own generation.
type curvePredictor struct {
	version     string
	fType       models.ForecastType
	calibration float64
	stats       map[string]models.NormStats
	sigma       [24]float64 // capacity-fraction units
	entities    map[string]models.Entity
	boundsZ     float64
}

func (p *curvePredictor) Version() string { return p.version }

func (p *curvePredictor) Stats(entityID string) (models.NormStats, bool) {
	s, ok := p.stats[entityID]
	return s, ok
}

func (p *curvePredictor) Predict(w models.FeatureWindow, horizon int) ([]models.ForecastPoint, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("horizon must be positive, got %d", horizon)
	}
	if w.Len() == 0 {
		return nil, fmt.Errorf("entity %s: empty feature window: %w", w.EntityID, models.ErrInsufficientHistory)
	}
	e, ok := p.entities[w.EntityID]
	if !ok {
		return nil, fmt.Errorf("entity %s not in the %s catalog", w.EntityID, p.fType)
	}

	issuedAt := w.Last().Timestamp
	points := make([]models.ForecastPoint, 0, horizon)
	for k := 1; k <= horizon; k++ {
		target := issuedAt.Add(time.Duration(k) * time.Hour)
		raw, ok := p.stepPowerKW(w, e, k, target)
		if !ok {
			// No weather and no same-hour history: persist the window edge.
			raw = w.Stats.Value.Denormalize(w.Last().Value)
		}

		half := p.boundsZ * p.sigma[target.Hour()] * e.RatedKW
		pt := boundedPoint(w.EntityID, issuedAt, target, p.version, raw, half, e.RatedKW, 1)
		points = append(points, pt)
	}
	return points, nil
}

// stepPowerKW converts the persisted weather proxy for step k into power.
func (p *curvePredictor) stepPowerKW(w models.FeatureWindow, e models.Entity, k int, target time.Time) (float64, bool) {
	lag := 24 - k
	idx := len(w.Vectors) - 1 - lag
	if idx < 0 || idx >= len(w.Vectors) {
		return 0, false
	}
	v := w.Vectors[idx]

	switch p.fType {
	case models.ForecastSolar:
		if e.Solar == nil {
			return 0, false
		}
		var irr float64
		switch {
		case w.HasIrradiance:
			irr = w.Stats.Irradiance.Denormalize(v.Irradiance)
		case w.HasCloudCover:
			// Stations without a pyranometer still report cloud cover.
			irr = weather.CloudAdjustedIrradiance(weather.ClearSkyIrradiance(target), v.CloudCover)
		default:
			return 0, false
		}
		temp := 25.0
		if w.HasTemperature {
			temp = w.Stats.Temperature.Denormalize(v.Temperature)
		}
		return p.calibration * weather.PVPowerKW(*e.Solar, irr, temp), true
	case models.ForecastWind:
		if e.Wind == nil || !w.HasWindSpeed {
			return 0, false
		}
		ms := w.Stats.WindSpeed.Denormalize(v.WindSpeed)
		return p.calibration * weather.WindPowerKW(*e.Wind, e.RatedKW, ms), true
	}
	return 0, false
}

// boundedPoint applies the non-negativity and capacity clamps and keeps the
// bound ordering intact. ratedKW of 0 means no upper capacity clamp;
// energyHours > 0 additionally fills EnergyKWh for generation points.
func boundedPoint(entityID string, issuedAt, target time.Time, version string, value, half, ratedKW, energyHours float64) models.ForecastPoint {
	pt := models.ForecastPoint{
		EntityID:        entityID,
		IssuedAt:        issuedAt,
		TargetTimestamp: target,
		PointEstimate:   value,
		LowerBound:      value - half,
		UpperBound:      value + half,
		ModelVersion:    version,
	}
	if pt.PointEstimate < 0 {
		pt.PointEstimate = 0
		pt.Clamped = true
	}
	if ratedKW > 0 && pt.PointEstimate > ratedKW {
		pt.PointEstimate = ratedKW
		pt.Clamped = true
	}
	if pt.LowerBound < 0 {
		pt.LowerBound = 0
	}
	if ratedKW > 0 && pt.UpperBound > ratedKW {
		pt.UpperBound = ratedKW
	}
	if pt.LowerBound > pt.PointEstimate {
		pt.LowerBound = pt.PointEstimate
	}
	if pt.UpperBound < pt.PointEstimate {
		pt.UpperBound = pt.PointEstimate
	}
	if energyHours > 0 {
		pt.EnergyKWh = pt.PointEstimate * energyHours
	}
	return pt
}
