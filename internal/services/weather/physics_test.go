package weather

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"GridCast/internal/domain/models"
)

func TestClearSkyIrradiance(t *testing.T) {
	day := time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC)

	assert.InDelta(t, 1000.0, ClearSkyIrradiance(day.Add(12*time.Hour)), 1e-9)
	assert.InDelta(t, 600.0, ClearSkyIrradiance(day.Add(9*time.Hour)), 1e-9)
	assert.InDelta(t, 200.0, ClearSkyIrradiance(day.Add(6*time.Hour)), 1e-9)
	assert.InDelta(t, 200.0, ClearSkyIrradiance(day.Add(18*time.Hour)), 1e-9)
	assert.Zero(t, ClearSkyIrradiance(day.Add(3*time.Hour)))
	assert.Zero(t, ClearSkyIrradiance(day.Add(22*time.Hour)))
}

func TestCloudAdjustedIrradiance(t *testing.T) {
	assert.InDelta(t, 1000.0, CloudAdjustedIrradiance(1000, 0), 1e-9)
	assert.InDelta(t, 625.0, CloudAdjustedIrradiance(1000, 0.5), 1e-9)
	assert.InDelta(t, 250.0, CloudAdjustedIrradiance(1000, 1), 1e-9)

	// Out-of-range cover is clamped, not amplified.
	assert.InDelta(t, 250.0, CloudAdjustedIrradiance(1000, 1.8), 1e-9)
	assert.InDelta(t, 1000.0, CloudAdjustedIrradiance(1000, -0.2), 1e-9)
}

func TestPVPowerKW(t *testing.T) {
	p := models.SolarParams{TiltDeg: 30, AzimuthDeg: 180, Efficiency: 0.2, AreaM2: 50}

	assert.InDelta(t, 10.0, PVPowerKW(p, 1000, 25), 1e-9)
	assert.InDelta(t, 5.0, PVPowerKW(p, 500, 25), 1e-9)
	assert.Zero(t, PVPowerKW(p, 0, 25))

	// 45C cell: 0.4%/degree over 25C takes 8% off.
	assert.InDelta(t, 9.2, PVPowerKW(p, 1000, 45), 1e-9)

	// Badly oriented panel hits the orientation floor.
	off := models.SolarParams{TiltDeg: 80, AzimuthDeg: 90, Efficiency: 0.2, AreaM2: 50}
	assert.InDelta(t, 5.0, PVPowerKW(off, 1000, 25), 1e-9)
}

func TestWindPowerKW(t *testing.T) {
	w := models.WindParams{CutInMS: 3, CutOutMS: 25, RatedMS: 12}

	assert.Zero(t, WindPowerKW(w, 1000, 2))
	assert.Zero(t, WindPowerKW(w, 1000, 26))
	assert.InDelta(t, 1000.0, WindPowerKW(w, 1000, 12), 1e-9)
	assert.InDelta(t, 1000.0, WindPowerKW(w, 1000, 18), 1e-9)
	assert.InDelta(t, 500.0, WindPowerKW(w, 1000, 7.5), 1e-9)
	assert.InDelta(t, 1000.0/9, WindPowerKW(w, 1000, 4), 1e-9)
}
