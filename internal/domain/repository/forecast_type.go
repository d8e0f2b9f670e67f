package repository

import "GridCast/internal/domain/models"

// NormalizeForecastType converts a raw string to a valid forecast type,
// defaulting to demand.
func NormalizeForecastType(s string) models.ForecastType {
	if s == "" {
		return models.ForecastDemand
	}
	t := models.ForecastType(s)
	if t.Valid() {
		return t
	}
	return models.ForecastDemand
}
