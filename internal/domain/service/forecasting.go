package service

import (
	"context"
	"time"

	"GridCast/internal/domain/models"
)

// Predictor turns a feature window into a forecast horizon. Implementations
// are selected by configuration per forecast type, never by runtime type
// inspection. Predict must be pure: no I/O, no suspension mid-computation.
type Predictor interface {
	// Predict returns exactly horizon points, one per future hour after
	// window.AsOf, with bounds ordered lower <= point <= upper.
	Predict(window models.FeatureWindow, horizon int) ([]models.ForecastPoint, error)
	// Version returns the model version id the predictions reference.
	Version() string
}

// Trainer produces candidate model versions out-of-band. A trainer never
// touches the active slot; promotion is the scheduler's decision.
type Trainer interface {
	// Train fits a model on history ending at upTo and returns a candidate
	// version with its validation error and serialized payload.
	Train(ctx context.Context, t models.ForecastType, entities []models.Entity, upTo time.Time) (*models.ModelVersion, error)
}

// PredictorLoader rebuilds a live predictor from a persisted version payload.
type PredictorLoader interface {
	Load(v *models.ModelVersion, entities []models.Entity) (Predictor, error)
}

// StatsProvider exposes the normalization statistics a model was trained
// with, keyed by entity. Feature windows served to that model must be built
// with these statistics, not with window-local ones.
type StatsProvider interface {
	Stats(entityID string) (models.NormStats, bool)
}
