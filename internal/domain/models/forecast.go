package models

import "time"

// ForecastType identifies a forecast product with its own model lifecycle.
type ForecastType string

const (
	ForecastDemand ForecastType = "demand"
	ForecastSolar  ForecastType = "solar"
	ForecastWind   ForecastType = "wind"
)

// ForecastTypes lists all types in scheduling order.
var ForecastTypes = []ForecastType{ForecastDemand, ForecastSolar, ForecastWind}

// Valid reports whether t names a known forecast type.
func (t ForecastType) Valid() bool {
	switch t {
	case ForecastDemand, ForecastSolar, ForecastWind:
		return true
	}
	return false
}

// ModelStatus is the lifecycle state of a trained model version.
type ModelStatus string

const (
	StatusCandidate ModelStatus = "candidate"
	StatusActive    ModelStatus = "active"
	StatusRetired   ModelStatus = "retired"
)

// ModelVersion is an immutable record of one training run. Retired versions
// are kept for accuracy attribution, never deleted.
type ModelVersion struct {
	ID              string
	Type            ForecastType
	TrainedAt       time.Time
	TrainingWindow  Window
	ValidationError float64 // RMSE on the held-out validation slice
	Status          ModelStatus
	Payload         []byte // serialized model, opaque to the registry
}

// ForecastPoint is one horizon step of an issued forecast.
type ForecastPoint struct {
	EntityID        string
	IssuedAt        time.Time
	TargetTimestamp time.Time
	PointEstimate   float64 // kW for generation, kWh/h for demand
	LowerBound      float64
	UpperBound      float64
	ModelVersion    string
	EnergyKWh       float64 // expected energy over the step; generation only
	Clamped         bool    // raw model output fell outside physical bounds
}

// ForecastBatch is one complete issuance for an entity. Batches are
// superseded by the next cycle, never mutated.
type ForecastBatch struct {
	Type     ForecastType
	EntityID string
	IssuedAt time.Time
	Model    string
	Points   []ForecastPoint
}

// Horizon returns the number of steps in the batch.
func (b ForecastBatch) Horizon() int { return len(b.Points) }
