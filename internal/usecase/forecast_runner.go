package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"GridCast/internal/domain/models"
	drepo "GridCast/internal/domain/repository"
	"GridCast/internal/domain/service"
	"GridCast/internal/service/registry"
	"GridCast/internal/services/features"
	applogger "GridCast/pkg/logger"
)

// ForecastRunnerConfig bounds one forecast cycle.
type ForecastRunnerConfig struct {
	HorizonHours int
	CycleBudget  time.Duration
}

func (c ForecastRunnerConfig) withDefaults() ForecastRunnerConfig {
	if c.HorizonHours <= 0 {
		c.HorizonHours = 24
	}
	if c.CycleBudget <= 0 {
		c.CycleBudget = 2 * time.Minute
	}
	return c
}

// ForecastRunner issues one forecast batch per entity per type from the
// active models. Each type publishes atomically to the board; a type whose
// cycle fails or runs out of budget keeps its previous published batches.
type ForecastRunner struct {
	cfg       ForecastRunnerConfig
	builder   *features.Builder
	telemetry drepo.TelemetryStore
	reg       *registry.Models
	board     *registry.Board
	store     drepo.BatchStore
	pub       drepo.Publisher
	entities  []models.Entity
	metrics   drepo.Metrics
	logger    *applogger.Logger
}

func NewForecastRunner(
	cfg ForecastRunnerConfig,
	builder *features.Builder,
	telemetry drepo.TelemetryStore,
	reg *registry.Models,
	board *registry.Board,
	store drepo.BatchStore,
	pub drepo.Publisher,
	entities []models.Entity,
	metrics drepo.Metrics,
	l *applogger.Logger,
) *ForecastRunner {
	return &ForecastRunner{
		cfg:       cfg.withDefaults(),
		builder:   builder,
		telemetry: telemetry,
		reg:       reg,
		board:     board,
		store:     store,
		pub:       pub,
		entities:  entities,
		metrics:   metrics,
		logger:    l,
	}
}

// Run executes one full forecast cycle at asOf. Types are independent: one
// failing type never blocks the others.
func (r *ForecastRunner) Run(ctx context.Context, asOf time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CycleBudget)
	defer cancel()

	var firstErr error
	for _, t := range models.ForecastTypes {
		if err := r.RunType(ctx, t, asOf); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			r.metrics.RecordError("forecast_" + string(t))
			r.logger.Warn("forecast cycle skipped",
				applogger.String("type", string(t)),
				applogger.Error(err))
		}
	}
	return firstErr
}

// RunType issues forecasts for every entity of one type and publishes them
// as a single board swap.
func (r *ForecastRunner) RunType(ctx context.Context, t models.ForecastType, asOf time.Time) error {
	start := time.Now()

	pred, ver, ok := r.reg.Active(t)
	if !ok {
		r.logger.Debug("no active model", applogger.String("type", string(t)))
		return nil
	}
	sp, ok := pred.(service.StatsProvider)
	if !ok {
		return fmt.Errorf("active %s model %s exposes no training statistics", t, ver.ID)
	}

	batches := make([]*models.ForecastBatch, 0, len(r.entities))
	points := 0
	for _, e := range r.entities {
		if e.Type != entityTypeFor(t) {
			continue
		}
		if err := ctx.Err(); err != nil {
			// budget exhausted mid-type: abandon without a partial publish
			return fmt.Errorf("cycle budget exhausted before %s/%s: %w", t, e.ID, err)
		}

		batch, err := r.forecastEntity(ctx, t, e, sp, pred, asOf)
		if err != nil {
			r.logEntitySkip(t, e.ID, err)
			continue
		}
		batches = append(batches, batch)
		points += len(batch.Points)
	}

	if len(batches) == 0 {
		return fmt.Errorf("%s: no entity produced a forecast", t)
	}

	r.board.PublishForecasts(t, batches)
	r.metrics.RecordForecastIssued(string(t), points)
	r.metrics.RecordForecastLatency(string(t), time.Since(start).Seconds())

	for _, b := range batches {
		if err := r.store.StoreForecastBatch(ctx, b); err != nil {
			r.metrics.RecordError("forecast_store")
			r.logger.Error("forecast batch not persisted",
				applogger.String("type", string(t)),
				applogger.String("entity", b.EntityID),
				applogger.Error(err))
		}
		if err := r.pub.PublishForecast(ctx, b); err != nil {
			r.metrics.RecordError("forecast_publish")
			r.logger.Error("forecast batch not published",
				applogger.String("type", string(t)),
				applogger.String("entity", b.EntityID),
				applogger.Error(err))
		}
	}

	r.logger.Info("forecast cycle published",
		applogger.String("type", string(t)),
		applogger.String("model", ver.ID),
		applogger.Int("entities", len(batches)),
		applogger.Int("points", points),
		applogger.Duration("duration_ms", time.Since(start)))
	return nil
}

func (r *ForecastRunner) forecastEntity(ctx context.Context, t models.ForecastType, e models.Entity, sp service.StatsProvider, pred service.Predictor, asOf time.Time) (*models.ForecastBatch, error) {
	stats, ok := sp.Stats(e.ID)
	if !ok {
		return nil, fmt.Errorf("entity %s absent from the training corpus: %w", e.ID, models.ErrInsufficientHistory)
	}

	from := asOf.Add(-time.Duration(r.builder.WindowHours()+6) * time.Hour)
	raw, err := r.telemetry.Series(ctx, e.ID, models.SignalPower, from, asOf)
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", e.ID, models.SignalPower, err)
	}

	exo := make(map[string][]models.Reading)
	if e.WeatherRef != "" {
		for _, signal := range exoSignalsFor(t) {
			series, err := r.telemetry.Series(ctx, e.WeatherRef, signal, from, asOf)
			if err == nil && len(series) > 0 {
				exo[signal] = series
			}
		}
	}

	w, err := r.builder.Build(e.ID, asOf, raw, exo, stats)
	if err != nil {
		return nil, err
	}
	pts, err := pred.Predict(w, r.cfg.HorizonHours)
	if err != nil {
		return nil, err
	}

	return &models.ForecastBatch{
		Type:     t,
		EntityID: e.ID,
		IssuedAt: asOf,
		Model:    pred.Version(),
		Points:   pts,
	}, nil
}

// logEntitySkip keeps recoverable per-entity conditions at warn and real
// faults at error.
func (r *ForecastRunner) logEntitySkip(t models.ForecastType, entityID string, err error) {
	var dq *models.DataQualityError
	switch {
	case errors.Is(err, models.ErrInsufficientHistory):
		r.logger.Warn("entity skipped: insufficient history",
			applogger.String("type", string(t)),
			applogger.String("entity", entityID))
	case errors.As(err, &dq):
		r.logger.Warn("entity skipped: data quality",
			applogger.String("type", string(t)),
			applogger.String("entity", entityID),
			applogger.String("gap", dq.Error()))
	default:
		r.logger.Error("entity forecast failed",
			applogger.String("type", string(t)),
			applogger.String("entity", entityID),
			applogger.Error(err))
	}
	r.metrics.RecordError("forecast_entity")
}

func entityTypeFor(t models.ForecastType) models.EntityType {
	switch t {
	case models.ForecastSolar:
		return models.EntitySolar
	case models.ForecastWind:
		return models.EntityWind
	}
	return models.EntityMeter
}

func exoSignalsFor(t models.ForecastType) []string {
	switch t {
	case models.ForecastSolar:
		return []string{models.SignalIrradiance, models.SignalTemperature, models.SignalCloudCover}
	case models.ForecastWind:
		return []string{models.SignalWindSpeed}
	}
	return []string{models.SignalTemperature}
}
