package registry

import (
	"sort"
	"sync"
	"time"

	"GridCast/internal/domain/models"
)

// Board is the read side of the pipeline: the latest published forecast
// batches, price curve and grid health. Writers publish complete values and
// the board swaps references under the lock, so readers never observe a
// partially written cycle. Published values are frozen; neither side mutates
// them afterwards.
type Board struct {
	mu        sync.RWMutex
	forecasts map[models.ForecastType]map[string]*models.ForecastBatch
	prices    *models.PriceCurve
	health    *models.GridHealth
}

func NewBoard() *Board {
	return &Board{forecasts: make(map[models.ForecastType]map[string]*models.ForecastBatch)}
}

// PublishForecasts replaces the whole per-type snapshot in one swap. A cycle
// that forecast only some entities still publishes all of them together.
func (b *Board) PublishForecasts(t models.ForecastType, batches []*models.ForecastBatch) {
	next := make(map[string]*models.ForecastBatch, len(batches))
	for _, batch := range batches {
		next[batch.EntityID] = batch
	}
	b.mu.Lock()
	b.forecasts[t] = next
	b.mu.Unlock()
}

// Forecasts returns the latest batches for a type, ordered by entity id.
func (b *Board) Forecasts(t models.ForecastType) []*models.ForecastBatch {
	b.mu.RLock()
	byEntity := b.forecasts[t]
	out := make([]*models.ForecastBatch, 0, len(byEntity))
	for _, batch := range byEntity {
		out = append(out, batch)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// Forecast returns the latest batch for one entity of a type.
func (b *Board) Forecast(t models.ForecastType, entityID string) (*models.ForecastBatch, bool) {
	b.mu.RLock()
	batch, ok := b.forecasts[t][entityID]
	b.mu.RUnlock()
	return batch, ok
}

// PublishPrices installs a new price curve.
func (b *Board) PublishPrices(curve *models.PriceCurve) {
	b.mu.Lock()
	b.prices = curve
	b.mu.Unlock()
}

// Prices returns the latest published curve.
func (b *Board) Prices() (*models.PriceCurve, bool) {
	b.mu.RLock()
	curve := b.prices
	b.mu.RUnlock()
	return curve, curve != nil
}

// PriceAt returns the published point covering the hour of t. False when no
// curve exists yet or the curve does not cover that hour; callers fall back
// to the tier price.
func (b *Board) PriceAt(t time.Time) (models.PricePoint, bool) {
	curve, ok := b.Prices()
	if !ok {
		return models.PricePoint{}, false
	}
	hour := t.Truncate(time.Hour)
	for _, p := range curve.Points {
		if p.TargetTimestamp.Truncate(time.Hour).Equal(hour) {
			return p, true
		}
	}
	return models.PricePoint{}, false
}

// PublishHealth installs a new grid health assessment.
func (b *Board) PublishHealth(h *models.GridHealth) {
	b.mu.Lock()
	b.health = h
	b.mu.Unlock()
}

// Health returns the latest grid health assessment.
func (b *Board) Health() (*models.GridHealth, bool) {
	b.mu.RLock()
	h := b.health
	b.mu.RUnlock()
	return h, h != nil
}
