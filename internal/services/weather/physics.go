package weather

import (
	"math"
	"time"

	"GridCast/internal/domain/models"
)

// Clear-sky irradiance at solar noon, W/m2.
const baseIrradianceWM2 = 1000

// ClearSkyIrradiance estimates irradiance at t with no cloud cover, using a
// simplified solar elevation profile: zero outside 06:00-18:00, full at noon,
// 20% at the edges of the day.
func ClearSkyIrradiance(t time.Time) float64 {
	h := t.Hour()
	if h < 6 || h > 18 {
		return 0
	}
	angle := math.Abs(12-float64(h)) / 6
	return baseIrradianceWM2 * (1 - angle*0.8)
}

// CloudAdjustedIrradiance reduces a clear-sky value by cloud cover (0..1).
// Full overcast removes three quarters of the irradiance.
func CloudAdjustedIrradiance(clearSky, cloudCover float64) float64 {
	if cloudCover < 0 {
		cloudCover = 0
	}
	if cloudCover > 1 {
		cloudCover = 1
	}
	v := clearSky * (1 - cloudCover*0.75)
	if v < 0 {
		return 0
	}
	return v
}

// PVPowerKW converts plane irradiance into panel output. Cell efficiency is
// derated 0.4% per degree above 25C; pass 25 when no temperature is known.
func PVPowerKW(p models.SolarParams, irradianceWM2, tempC float64) float64 {
	if irradianceWM2 <= 0 {
		return 0
	}
	eff := p.Efficiency * (1 - 0.004*math.Max(0, tempC-25))
	if eff < 0 {
		eff = 0
	}
	return irradianceWM2 / 1000 * p.AreaM2 * eff * orientationFactor(p)
}

// orientationFactor penalizes deviation from a 30 degree tilt and due-south
// azimuth. Floored so badly oriented panels still produce.
func orientationFactor(p models.SolarParams) float64 {
	f := math.Cos((p.TiltDeg-30)*math.Pi/180) * math.Cos((p.AzimuthDeg-180)*math.Pi/360)
	if f < 0.5 {
		return 0.5
	}
	if f > 1 {
		return 1
	}
	return f
}

// WindPowerKW evaluates a turbine power curve: zero outside the cut-in /
// cut-out band, rated output at or above rated speed, and a linear ramp
// between cut-in and rated.
func WindPowerKW(p models.WindParams, ratedKW, windMS float64) float64 {
	if windMS < p.CutInMS || windMS > p.CutOutMS {
		return 0
	}
	if windMS >= p.RatedMS || p.RatedMS <= p.CutInMS {
		return ratedKW
	}
	return ratedKW * (windMS - p.CutInMS) / (p.RatedMS - p.CutInMS)
}
