package usecase

import (
	"context"
	"math"
	"slices"
	"time"

	"GridCast/internal/domain/models"
	drepo "GridCast/internal/domain/repository"
	"GridCast/internal/service/registry"
	applogger "GridCast/pkg/logger"
)

const (
	stabilityWindow = 30 * time.Minute // frequency and voltage lookback
	loadWindow      = 15 * time.Minute // demand and renewable lookback

	weightFrequency = 0.30
	weightVoltage   = 0.30
	weightLoad      = 0.25
	weightRenewable = 0.15

	nominalVoltage = 230.0
	nominalHz      = 50.0
)

// GridHealthConfig holds the interconnection limit the load factor is scored
// against.
type GridHealthConfig struct {
	CapacityKW float64
}

func (c GridHealthConfig) withDefaults() GridHealthConfig {
	if c.CapacityKW <= 0 {
		c.CapacityKW = 2000
	}
	return c
}

// GridHealthRunner scores recent telemetry into a composite grid health
// assessment. Frequency and voltage grade stability, load grades headroom
// against capacity, renewable share grades the generation mix.
type GridHealthRunner struct {
	cfg       GridHealthConfig
	telemetry drepo.TelemetryStore
	board     *registry.Board
	entities  []models.Entity
	metrics   drepo.Metrics
	logger    *applogger.Logger
}

func NewGridHealthRunner(
	cfg GridHealthConfig,
	telemetry drepo.TelemetryStore,
	board *registry.Board,
	entities []models.Entity,
	metrics drepo.Metrics,
	l *applogger.Logger,
) *GridHealthRunner {
	return &GridHealthRunner{
		cfg:       cfg.withDefaults(),
		telemetry: telemetry,
		board:     board,
		entities:  entities,
		metrics:   metrics,
		logger:    l,
	}
}

// Run computes and publishes one assessment as of now. Entities whose series
// cannot be read are treated as having no data rather than failing the cycle.
func (g *GridHealthRunner) Run(ctx context.Context, now time.Time) error {
	freqs := g.collect(ctx, models.EntityMeter, models.SignalFrequency, now.Add(-stabilityWindow), now)
	volts := g.collect(ctx, models.EntityMeter, models.SignalVoltage, now.Add(-stabilityWindow), now)
	demand := g.sumPower(ctx, []models.EntityType{models.EntityMeter}, now.Add(-loadWindow), now)
	renewable := g.sumPower(ctx, []models.EntityType{models.EntitySolar, models.EntityWind}, now.Add(-loadWindow), now)

	h := &models.GridHealth{
		ComputedAt:     now,
		FrequencyScore: frequencyScore(freqs),
		VoltageScore:   voltageScore(volts),
		LoadScore:      loadScore(demand, g.cfg.CapacityKW),
		RenewableScore: renewableScore(renewable, demand),
	}
	h.Score = weightFrequency*h.FrequencyScore + weightVoltage*h.VoltageScore +
		weightLoad*h.LoadScore + weightRenewable*h.RenewableScore
	h.Status = healthStatus(h.Score)

	g.board.PublishHealth(h)
	g.metrics.RecordGridHealth(h.Score)

	switch h.Status {
	case models.GridPoor, models.GridCritical:
		g.logger.Warn("grid health degraded",
			applogger.String("status", string(h.Status)),
			applogger.Float64("score", h.Score),
			applogger.Float64("frequency", h.FrequencyScore),
			applogger.Float64("voltage", h.VoltageScore),
			applogger.Float64("load", h.LoadScore),
			applogger.Float64("renewable", h.RenewableScore))
	default:
		g.logger.Debug("grid health computed",
			applogger.String("status", string(h.Status)),
			applogger.Float64("score", h.Score))
	}
	return nil
}

func (g *GridHealthRunner) collect(ctx context.Context, et models.EntityType, signal string, from, to time.Time) []float64 {
	var out []float64
	for _, e := range g.entities {
		if e.Type != et {
			continue
		}
		series, err := g.telemetry.Series(ctx, e.ID, signal, from, to)
		if err != nil {
			g.metrics.RecordError("grid_health_series")
			g.logger.Debug("series unavailable",
				applogger.String("entity", e.ID),
				applogger.String("signal", signal),
				applogger.Error(err))
			continue
		}
		for _, r := range series {
			if r.Quality == models.QualityMissing {
				continue
			}
			out = append(out, r.Value)
		}
	}
	return out
}

// sumPower totals the mean power of each matching entity over the window.
func (g *GridHealthRunner) sumPower(ctx context.Context, types []models.EntityType, from, to time.Time) float64 {
	total := 0.0
	for _, e := range g.entities {
		if !slices.Contains(types, e.Type) {
			continue
		}
		series, err := g.telemetry.Series(ctx, e.ID, models.SignalPower, from, to)
		if err != nil {
			g.metrics.RecordError("grid_health_series")
			g.logger.Debug("series unavailable",
				applogger.String("entity", e.ID),
				applogger.String("signal", models.SignalPower),
				applogger.Error(err))
			continue
		}
		sum, n := 0.0, 0
		for _, r := range series {
			if r.Quality == models.QualityMissing {
				continue
			}
			sum += r.Value
			n++
		}
		if n > 0 {
			total += sum / float64(n)
		}
	}
	return total
}

// frequencyScore grades mean deviation from the nominal frequency. No
// readings in the window scores a neutral 0.5: unknown is neither healthy
// nor failed.
func frequencyScore(values []float64) float64 {
	if len(values) == 0 {
		return 0.5
	}
	dev := math.Abs(mean(values) - nominalHz)
	switch {
	case dev <= 0.05:
		return 1.0
	case dev <= 0.1:
		return 0.8
	case dev <= 0.2:
		return 0.6
	default:
		return 0.3
	}
}

// voltageScore grades both the mean deviation from nominal and the spread
// between extremes: a tight band around the wrong level and a wide band
// around the right one are both unhealthy.
func voltageScore(values []float64) float64 {
	if len(values) == 0 {
		return 0.5
	}
	dev := math.Abs(mean(values)-nominalVoltage) / nominalVoltage
	spread := slices.Max(values) - slices.Min(values)
	switch {
	case dev <= 0.02 && spread <= 10:
		return 1.0
	case dev <= 0.05 && spread <= 20:
		return 0.8
	case dev <= 0.1 && spread <= 30:
		return 0.6
	default:
		return 0.3
	}
}

func loadScore(demandKW, capacityKW float64) float64 {
	if capacityKW <= 0 {
		return 0.5
	}
	factor := demandKW / capacityKW
	switch {
	case factor <= 0.7:
		return 1.0
	case factor <= 0.85:
		return 0.8
	case factor <= 0.95:
		return 0.6
	default:
		return 0.2
	}
}

func renewableScore(renewableKW, demandKW float64) float64 {
	if demandKW <= 0 {
		return 0.4
	}
	pen := renewableKW / demandKW
	switch {
	case pen >= 0.3:
		return 1.0
	case pen >= 0.2:
		return 0.8
	case pen >= 0.1:
		return 0.6
	default:
		return 0.4
	}
}

func healthStatus(score float64) models.GridHealthStatus {
	switch {
	case score >= 0.9:
		return models.GridExcellent
	case score >= 0.8:
		return models.GridGood
	case score >= 0.7:
		return models.GridFair
	case score >= 0.6:
		return models.GridPoor
	default:
		return models.GridCritical
	}
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
