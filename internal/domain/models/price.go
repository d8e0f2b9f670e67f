package models

import "time"

// PriceTier is a coarse time-of-day price category. Determined purely by
// target timestamp and configuration, never by the optimizer.
type PriceTier string

const (
	TierOffPeak  PriceTier = "off_peak"
	TierStandard PriceTier = "standard"
	TierPeak     PriceTier = "peak"
)

// PricePoint is one horizon step of a published price curve.
type PricePoint struct {
	IssuedAt         time.Time
	TargetTimestamp  time.Time
	Price            float64
	Tier             PriceTier
	AdjustmentFactor float64 // price / base price
	PredictedDemand  float64 // kW; 0 when unavailable
	PredictedSupply  float64 // kW; 0 when unavailable
	Degraded         bool    // fallback price used for this step
	Iterations       int     // optimizer iterations spent on this step
}

// PriceCurve is one complete optimization issuance.
type PriceCurve struct {
	IssuedAt time.Time
	Points   []PricePoint
}

// MarketConditions are per-interval inputs from the market collaborator,
// read-only to the optimizer.
type MarketConditions struct {
	Interval         time.Time
	WholesalePrice   float64 // currency/kWh
	TransmissionCost float64
	DistributionCost float64
	CongestionLevel  float64 // 0..1
	GridFrequencyHz  float64
	RenewableShare   float64 // 0..1 of current supply
}

// CostStack sums the pass-through cost components.
func (m MarketConditions) CostStack() float64 {
	return m.WholesalePrice + m.TransmissionCost + m.DistributionCost
}
