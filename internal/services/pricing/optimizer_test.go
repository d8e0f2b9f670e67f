package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"GridCast/internal/domain/models"
)

func pointsAt(value float64, targets ...time.Time) []models.ForecastPoint {
	out := make([]models.ForecastPoint, 0, len(targets))
	for _, ts := range targets {
		out = append(out, models.ForecastPoint{TargetTimestamp: ts, PointEstimate: value})
	}
	return out
}

func calmMarket() models.MarketConditions {
	return models.MarketConditions{
		WholesalePrice:   0.10,
		TransmissionCost: 0.02,
		DistributionCost: 0.015,
		GridFrequencyHz:  50.0,
		RenewableShare:   0.2,
	}
}

func TestOptimizer_TierClassification(t *testing.T) {
	opt := NewOptimizer(Config{})
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		hour int
		want models.PriceTier
	}{
		{0, models.TierOffPeak},
		{3, models.TierOffPeak},
		{6, models.TierOffPeak},
		{7, models.TierStandard},
		{10, models.TierStandard},
		{16, models.TierStandard},
		{17, models.TierPeak},
		{19, models.TierPeak},
		{21, models.TierPeak},
		{22, models.TierOffPeak},
		{23, models.TierOffPeak},
	}
	for _, tc := range cases {
		ts := day.Add(time.Duration(tc.hour) * time.Hour)
		require.Equal(t, tc.want, opt.Tier(ts), "hour %d", tc.hour)
		// Same timestamp always classifies the same way.
		require.Equal(t, opt.Tier(ts), opt.Tier(ts))
	}

	require.InDelta(t, 0.12*1.5, opt.FallbackPrice(day.Add(18*time.Hour)), 1e-12)
	require.InDelta(t, 0.12*0.8, opt.FallbackPrice(day.Add(2*time.Hour)), 1e-12)
	require.InDelta(t, 0.12, opt.FallbackPrice(day.Add(10*time.Hour)), 1e-12)
}

func TestOptimizer_ScarcityRaisesPrice(t *testing.T) {
	opt := NewOptimizer(Config{BasePrice: 0.12, MinPrice: 0.08, MaxPrice: 0.30})
	issued := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	target := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	// Demand aggregates across entities before optimization.
	demand := append(pointsAt(600, target), pointsAt(400, target)...)

	scarce := opt.Optimize(issued, demand, pointsAt(200, target), calmMarket(), nil)
	require.Len(t, scarce.Points, 1)
	sp := scarce.Points[0]
	require.False(t, sp.Degraded)
	require.Greater(t, sp.Iterations, 0)
	require.Equal(t, models.TierStandard, sp.Tier)
	require.InDelta(t, 1000.0, sp.PredictedDemand, 1e-9)
	require.InDelta(t, 200.0, sp.PredictedSupply, 1e-9)

	// Scarcity pushes the price strictly above the tier baseline.
	require.Greater(t, sp.Price, opt.FallbackPrice(target))

	ample := opt.Optimize(issued, demand, pointsAt(1500, target), calmMarket(), nil)
	require.Len(t, ample.Points, 1)
	require.False(t, ample.Points[0].Degraded)
	require.Greater(t, sp.Price, ample.Points[0].Price)
}

func TestOptimizer_PriceWithinBounds(t *testing.T) {
	opt := NewOptimizer(Config{})
	low, high := opt.Bounds()
	issued := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	markets := []models.MarketConditions{
		calmMarket(),
		{}, // no market telemetry at all
		{WholesalePrice: 10.0, TransmissionCost: 1.0, DistributionCost: 1.0, GridFrequencyHz: 49.2, RenewableShare: 0.9},
		{WholesalePrice: 0.01, GridFrequencyHz: 50.8},
	}
	balances := []struct{ demand, supply float64 }{
		{1000, 200},
		{1000, 1000},
		{100, 5000},
		{0.5, 0},
	}

	targets := make([]time.Time, 0, 24)
	for h := 0; h < 24; h++ {
		targets = append(targets, issued.Add(time.Duration(h+1)*time.Hour))
	}

	for _, market := range markets {
		for _, bal := range balances {
			curve := opt.Optimize(issued, pointsAt(bal.demand, targets...), pointsAt(bal.supply, targets...), market, nil)
			require.Len(t, curve.Points, 24)
			for _, p := range curve.Points {
				require.GreaterOrEqual(t, p.Price, low)
				require.LessOrEqual(t, p.Price, high)
				require.InDelta(t, p.Price/0.12, p.AdjustmentFactor, 1e-12)
			}
		}
	}
}

func TestOptimizer_Idempotent(t *testing.T) {
	opt := NewOptimizer(Config{})
	issued := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	market := models.MarketConditions{
		WholesalePrice:   0.11,
		TransmissionCost: 0.018,
		DistributionCost: 0.012,
		GridFrequencyHz:  50.12,
		RenewableShare:   0.35,
	}

	var demand, supply []models.ForecastPoint
	for h := 1; h <= 24; h++ {
		ts := issued.Add(time.Duration(h) * time.Hour)
		demand = append(demand, models.ForecastPoint{TargetTimestamp: ts, PointEstimate: 800 + 40*float64(h%7)})
		supply = append(supply, models.ForecastPoint{TargetTimestamp: ts, PointEstimate: 600 + 90*float64(h%5)})
	}

	first := opt.Optimize(issued, demand, supply, market, nil)
	second := opt.Optimize(issued, demand, supply, market, nil)
	require.Equal(t, first, second)
}

func TestOptimizer_MissingSideFallsBack(t *testing.T) {
	opt := NewOptimizer(Config{})
	issued := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	both := issued.Add(1 * time.Hour)
	demandOnly := issued.Add(2 * time.Hour)
	supplyOnly := issued.Add(3 * time.Hour)

	demand := append(pointsAt(900, both), pointsAt(900, demandOnly)...)
	supply := append(pointsAt(700, both), pointsAt(700, supplyOnly)...)

	curve := opt.Optimize(issued, demand, supply, calmMarket(), nil)
	require.Len(t, curve.Points, 3)

	require.False(t, curve.Points[0].Degraded)
	require.Greater(t, curve.Points[0].Iterations, 0)

	require.True(t, curve.Points[1].Degraded)
	require.Zero(t, curve.Points[1].Iterations)
	require.InDelta(t, opt.FallbackPrice(demandOnly), curve.Points[1].Price, 1e-12)
	require.Zero(t, curve.Points[1].PredictedSupply)

	require.True(t, curve.Points[2].Degraded)
	require.InDelta(t, opt.FallbackPrice(supplyOnly), curve.Points[2].Price, 1e-12)
	require.Zero(t, curve.Points[2].PredictedDemand)
}

func TestOptimizer_NonConvergenceUsesPreviousCurve(t *testing.T) {
	// One iteration cannot shrink the interval below a nanoprice tolerance.
	opt := NewOptimizer(Config{MaxIterations: 1, Tolerance: 1e-9})
	issued := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	covered := issued.Add(1 * time.Hour)
	uncovered := issued.Add(2 * time.Hour)

	prev := &models.PriceCurve{
		IssuedAt: issued.Add(-1 * time.Hour),
		Points: []models.PricePoint{
			{TargetTimestamp: covered, Price: 0.1234},
		},
	}

	demand := pointsAt(900, covered, uncovered)
	supply := pointsAt(700, covered, uncovered)

	curve := opt.Optimize(issued, demand, supply, calmMarket(), prev)
	require.Len(t, curve.Points, 2)

	require.True(t, curve.Points[0].Degraded)
	require.Equal(t, 1, curve.Points[0].Iterations)
	require.InDelta(t, 0.1234, curve.Points[0].Price, 1e-12)

	require.True(t, curve.Points[1].Degraded)
	require.InDelta(t, opt.FallbackPrice(uncovered), curve.Points[1].Price, 1e-12)
}
