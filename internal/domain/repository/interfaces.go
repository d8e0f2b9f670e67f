package repository

import (
	"context"
	"time"

	"GridCast/internal/domain/models"
)

// TelemetryStream is a live feed of readings from an external gateway.
type TelemetryStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Reading, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Publisher pushes issued batches to downstream consumers.
type Publisher interface {
	PublishReading(ctx context.Context, r *models.Reading) error
	PublishReadings(ctx context.Context, rs []*models.Reading) error
	PublishForecast(ctx context.Context, b *models.ForecastBatch) error
	PublishPrices(ctx context.Context, c *models.PriceCurve) error
	Close() error
}

// TelemetryStore persists and reads raw readings.
type TelemetryStore interface {
	Init(ctx context.Context) error // ensure tables, health checks
	Store(ctx context.Context, r *models.Reading) error
	StoreBatch(ctx context.Context, rs []*models.Reading) error
	// Series returns readings for one entity signal in ascending timestamp order.
	Series(ctx context.Context, entityID, signal string, from, to time.Time) ([]models.Reading, error)
	// LatestValue returns the most recent reading at or before t.
	LatestValue(ctx context.Context, entityID, signal string, t time.Time) (models.Reading, error)
	Health(ctx context.Context) error
	Close() error
}

// MarketSource supplies market conditions for an interval, read-only.
type MarketSource interface {
	Conditions(ctx context.Context, interval time.Time) (models.MarketConditions, error)
}

// Metrics records pipeline observability counters and gauges.
type Metrics interface {
	RecordReadingIngested(backend, signal string)
	RecordReadingRejected(reason string)
	RecordIngestLatency(source string, seconds float64)
	RecordForecastIssued(forecastType string, points int)
	RecordForecastLatency(forecastType string, seconds float64)
	RecordPriceCycle(seconds float64, degradedPoints int)
	RecordOptimizerIterations(n int)
	RecordAccuracy(forecastType string, mape float64)
	RecordPromotion(forecastType, outcome string)
	RecordRetrain(forecastType, outcome string)
	RecordGridHealth(score float64)
	RecordError(kind string)
}
