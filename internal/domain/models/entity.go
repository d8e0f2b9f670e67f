package models

// EntityType classifies a telemetry-producing entity.
type EntityType string

const (
	EntityMeter   EntityType = "meter"
	EntitySolar   EntityType = "solar"
	EntityWind    EntityType = "wind"
	EntityWeather EntityType = "weather"
)

// SolarParams describe a photovoltaic installation.
type SolarParams struct {
	TiltDeg    float64
	AzimuthDeg float64 // 180 = due south
	Efficiency float64 // 0..1 panel efficiency
	AreaM2     float64
}

// WindParams describe a wind turbine power curve.
type WindParams struct {
	CutInMS        float64 // below this wind speed output is zero
	CutOutMS       float64 // above this the turbine shuts down
	RatedMS        float64 // at or above this output is rated capacity
	RotorDiameterM float64
	HubHeightM     float64
}

// Entity is a catalog entry for a meter, generation source, or weather station.
// Site master data is deploy-static and loaded from configuration.
type Entity struct {
	ID         string
	Type       EntityType
	RatedKW    float64 // nameplate capacity; 0 for weather stations
	Solar      *SolarParams
	Wind       *WindParams
	WeatherRef string // id of the weather station feeding this site
}

// CapacityFactor derives actual/rated output, clamped to [0,1].
func (e Entity) CapacityFactor(powerKW float64) float64 {
	if e.RatedKW <= 0 {
		return 0
	}
	cf := powerKW / e.RatedKW
	if cf < 0 {
		return 0
	}
	if cf > 1 {
		return 1
	}
	return cf
}
