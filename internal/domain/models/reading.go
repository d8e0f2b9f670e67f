package models

import "time"

// Quality marks how a reading value was obtained.
type Quality string

const (
	QualityGood      Quality = "good"
	QualityEstimated Quality = "estimated" // gap-filled by interpolation
	QualityMissing   Quality = "missing"
)

// Well-known telemetry signals.
const (
	SignalPower       = "power"        // kW
	SignalTemperature = "temperature"  // degC
	SignalIrradiance  = "irradiance"   // W/m2
	SignalWindSpeed   = "wind_speed"   // m/s
	SignalCloudCover  = "cloud_cover"  // 0..1
	SignalVoltage     = "voltage"      // V
	SignalFrequency   = "frequency"    // Hz
	SignalPowerFactor = "power_factor" // 0..1
)

// Reading is one immutable telemetry sample. Append-only once recorded.
type Reading struct {
	EntityID  string
	Signal    string // one of the Signal* constants
	Timestamp time.Time
	Value     float64
	Quality   Quality
}

// Window is a closed time range used for training and evaluation windows.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// Hours returns the window span in whole hours.
func (w Window) Hours() int {
	return int(w.To.Sub(w.From) / time.Hour)
}
