package repository

import (
	"context"
	"time"

	"GridCast/internal/domain/models"
)

// BatchStore persists issued forecast batches and price curves for audit and
// for late accuracy attribution. The latest published batch is always served
// from the in-memory snapshot board; these reads back historical joins.
type BatchStore interface {
	StoreForecastBatch(ctx context.Context, b *models.ForecastBatch) error
	StorePriceCurve(ctx context.Context, c *models.PriceCurve) error
	// ForecastsInWindow returns points whose target timestamps fall inside
	// the window, ascending, for one forecast type.
	ForecastsInWindow(ctx context.Context, t models.ForecastType, w models.Window) ([]models.ForecastPoint, error)
	// LatestPriceBefore returns the most recent price issued for the given
	// target timestamp, for fallback when a step fails to converge.
	LatestPriceBefore(ctx context.Context, target time.Time) (models.PricePoint, error)
}

// ModelStore persists model version metadata and payloads.
type ModelStore interface {
	SaveVersion(ctx context.Context, v *models.ModelVersion) error
	UpdateStatus(ctx context.Context, id string, status models.ModelStatus) error
	ActiveVersion(ctx context.Context, t models.ForecastType) (models.ModelVersion, error)
	Versions(ctx context.Context, t models.ForecastType, limit int) ([]models.ModelVersion, error)
}

// AccuracyStore persists evaluation results.
type AccuracyStore interface {
	StoreRecord(ctx context.Context, rec *models.AccuracyRecord) error
	RecentRecords(ctx context.Context, t models.ForecastType, n int) ([]models.AccuracyRecord, error)
}
