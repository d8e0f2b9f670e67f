package models

import "time"

// AccuracyRecord compares one evaluation window of forecasts against
// later-arriving actuals, attributed to the model version that forecast them.
type AccuracyRecord struct {
	ModelVersion string
	Type         ForecastType
	Window       Window
	MAE          float64
	RMSE         float64
	MAPE         float64 // fraction, 0.10 = 10%
	SampleCount  int
	ComputedAt   time.Time
}

// GridHealthStatus buckets the composite health score.
type GridHealthStatus string

const (
	GridExcellent GridHealthStatus = "excellent"
	GridGood      GridHealthStatus = "good"
	GridFair      GridHealthStatus = "fair"
	GridPoor      GridHealthStatus = "poor"
	GridCritical  GridHealthStatus = "critical"
)

// GridHealth is a periodic composite assessment of grid telemetry.
type GridHealth struct {
	ComputedAt     time.Time
	Score          float64 // 0..1 weighted composite
	Status         GridHealthStatus
	FrequencyScore float64
	VoltageScore   float64
	LoadScore      float64
	RenewableScore float64
}
