package pricing

import (
	"math"
	"sort"
	"time"

	"GridCast/internal/domain/models"
)

const (
	// nominalFrequencyHz is the grid's target frequency. Deviation from it
	// feeds the stability factor of the scarcity-adjusted baseline.
	nominalFrequencyHz = 50.0

	invPhi = 0.6180339887498949
)

// Config holds tariff bounds, tier windows and objective weights. Zero values
// fall back to the standard residential tariff shape.
type Config struct {
	BasePrice float64
	MinPrice  float64
	MaxPrice  float64

	// Tier windows in local hours, both ends inclusive. The off-peak window
	// wraps past midnight.
	PeakStartHour int
	PeakEndHour   int
	OffPeakStart  int
	OffPeakEnd    int

	PeakMultiplier    float64
	OffPeakMultiplier float64

	// Objective weights for revenue, price stability and market tracking.
	RevenueWeight   float64
	StabilityWeight float64
	MarketWeight    float64

	// Search budget for one horizon step.
	MaxIterations int
	Tolerance     float64
}

func (c Config) withDefaults() Config {
	if c.BasePrice <= 0 {
		c.BasePrice = 0.12
	}
	if c.MinPrice <= 0 {
		c.MinPrice = 0.5 * c.BasePrice
	}
	if c.MaxPrice <= c.MinPrice {
		c.MaxPrice = 2.0 * c.BasePrice
	}
	if c.PeakStartHour == 0 && c.PeakEndHour == 0 {
		c.PeakStartHour, c.PeakEndHour = 17, 21
	}
	if c.OffPeakStart == 0 && c.OffPeakEnd == 0 {
		c.OffPeakStart, c.OffPeakEnd = 22, 6
	}
	if c.PeakMultiplier <= 0 {
		c.PeakMultiplier = 1.5
	}
	if c.OffPeakMultiplier <= 0 {
		c.OffPeakMultiplier = 0.8
	}
	if c.RevenueWeight <= 0 && c.StabilityWeight <= 0 && c.MarketWeight <= 0 {
		c.RevenueWeight, c.StabilityWeight, c.MarketWeight = 0.5, 0.3, 0.2
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 64
	}
	if c.Tolerance <= 0 {
		c.Tolerance = 1e-6
	}
	return c
}

// Optimizer computes one price per horizon step from aggregated demand and
// supply forecasts. Optimize is a pure function of its inputs; steps are
// independent of each other, so a failed step never spoils the batch.
type Optimizer struct {
	cfg Config
}

func NewOptimizer(cfg Config) *Optimizer {
	return &Optimizer{cfg: cfg.withDefaults()}
}

// Tier classifies a timestamp into its time-of-use band. Depends only on the
// clock hour and configuration, never on forecasts or market state.
func (o *Optimizer) Tier(t time.Time) models.PriceTier {
	h := t.Hour()
	switch {
	case h >= o.cfg.PeakStartHour && h <= o.cfg.PeakEndHour:
		return models.TierPeak
	case h >= o.cfg.OffPeakStart || h <= o.cfg.OffPeakEnd:
		return models.TierOffPeak
	default:
		return models.TierStandard
	}
}

// TierMultiplier returns the configured time-of-use multiplier for a tier.
func (o *Optimizer) TierMultiplier(tier models.PriceTier) float64 {
	switch tier {
	case models.TierPeak:
		return o.cfg.PeakMultiplier
	case models.TierOffPeak:
		return o.cfg.OffPeakMultiplier
	default:
		return 1.0
	}
}

// FallbackPrice is the tariff applied when no optimized curve covers t:
// base price scaled by the tier multiplier, clamped into bounds.
func (o *Optimizer) FallbackPrice(t time.Time) float64 {
	return o.clamp(o.cfg.BasePrice * o.TierMultiplier(o.Tier(t)))
}

// Bounds returns the configured [min, max] price interval.
func (o *Optimizer) Bounds() (float64, float64) {
	return o.cfg.MinPrice, o.cfg.MaxPrice
}

// BasePrice returns the configured tariff anchor.
func (o *Optimizer) BasePrice() float64 {
	return o.cfg.BasePrice
}

// Optimize prices every target timestamp covered by the demand or supply
// forecasts. Per-entity points are summed by target first. A step missing
// either side of the balance gets the tier fallback; a step whose search
// exhausts its budget gets the previous curve's price for that target when
// one exists, the tier fallback otherwise. Both cases are marked degraded.
func (o *Optimizer) Optimize(issuedAt time.Time, demand, supply []models.ForecastPoint, market models.MarketConditions, prev *models.PriceCurve) models.PriceCurve {
	demandAt := sumByTarget(demand)
	supplyAt := sumByTarget(supply)

	targets := make(map[int64]time.Time, len(demandAt)+len(supplyAt))
	for _, fp := range demand {
		targets[fp.TargetTimestamp.Unix()] = fp.TargetTimestamp
	}
	for _, fp := range supply {
		targets[fp.TargetTimestamp.Unix()] = fp.TargetTimestamp
	}
	keys := make([]int64, 0, len(targets))
	for k := range targets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	prevAt := make(map[int64]float64)
	if prev != nil {
		for _, pp := range prev.Points {
			prevAt[pp.TargetTimestamp.Unix()] = pp.Price
		}
	}

	points := make([]models.PricePoint, 0, len(keys))
	for _, k := range keys {
		ts := targets[k]
		d, hasDemand := demandAt[k]
		s, hasSupply := supplyAt[k]

		point := models.PricePoint{
			IssuedAt:        issuedAt,
			TargetTimestamp: ts,
			Tier:            o.Tier(ts),
			PredictedDemand: d,
			PredictedSupply: s,
		}

		switch {
		case !hasDemand || !hasSupply:
			point.Price = o.FallbackPrice(ts)
			point.Degraded = true
		default:
			price, iters, err := o.optimizeStep(ts, d, s, market)
			point.Iterations = iters
			if err != nil {
				if prevPrice, ok := prevAt[k]; ok {
					point.Price = prevPrice
				} else {
					point.Price = o.FallbackPrice(ts)
				}
				point.Degraded = true
			} else {
				point.Price = price
			}
		}

		point.AdjustmentFactor = point.Price / o.cfg.BasePrice
		points = append(points, point)
	}

	return models.PriceCurve{IssuedAt: issuedAt, Points: points}
}

// optimizeStep maximizes the weighted objective over [min, max] for one
// target. Returns ErrNotConverged when the interval is still wider than the
// tolerance after the iteration budget.
func (o *Optimizer) optimizeStep(ts time.Time, demand, supply float64, market models.MarketConditions) (float64, int, error) {
	baseline := o.baseline(ts, demand, supply, market)
	cost := o.clamp(market.CostStack())
	span := o.cfg.MaxPrice - o.cfg.MinPrice

	objective := func(price float64) float64 {
		revenue := price / o.cfg.MaxPrice
		db := (price - baseline) / span
		dc := (price - cost) / span
		return o.cfg.RevenueWeight*revenue +
			o.cfg.StabilityWeight*(1-db*db) +
			o.cfg.MarketWeight*(1-dc*dc)
	}

	return o.goldenSection(objective)
}

// baseline is the scarcity-adjusted anchor the stability term pulls toward:
// base price scaled by tier, supply/demand balance, renewable share and grid
// frequency deviation, clamped into bounds.
func (o *Optimizer) baseline(ts time.Time, demand, supply float64, market models.MarketConditions) float64 {
	mult := o.TierMultiplier(o.Tier(ts))
	mult *= demandMultiplier(demand, supply)
	mult *= renewableAdjustment(market.RenewableShare)
	mult *= stabilityFactor(market.GridFrequencyHz)
	return o.clamp(o.cfg.BasePrice * mult)
}

// goldenSection maximizes f over the configured price interval. Deterministic
// for a given f: no randomness, fixed contraction ratio.
func (o *Optimizer) goldenSection(f func(float64) float64) (float64, int, error) {
	a, b := o.cfg.MinPrice, o.cfg.MaxPrice
	x1 := b - invPhi*(b-a)
	x2 := a + invPhi*(b-a)
	f1, f2 := f(x1), f(x2)

	iters := 0
	for b-a > o.cfg.Tolerance {
		if iters >= o.cfg.MaxIterations {
			return 0, iters, models.ErrNotConverged
		}
		iters++
		if f1 >= f2 {
			b, x2, f2 = x2, x1, f1
			x1 = b - invPhi*(b-a)
			f1 = f(x1)
		} else {
			a, x1, f1 = x1, x2, f2
			x2 = a + invPhi*(b-a)
			f2 = f(x2)
		}
	}
	return (a + b) / 2, iters, nil
}

func (o *Optimizer) clamp(price float64) float64 {
	return math.Min(o.cfg.MaxPrice, math.Max(o.cfg.MinPrice, price))
}

// demandMultiplier scales the baseline by the supply/demand balance:
// oversupply discounts, scarcity surcharges.
func demandMultiplier(demand, supply float64) float64 {
	if demand <= 0 {
		return 0.8
	}
	ratio := supply / demand
	switch {
	case ratio > 1.2:
		return 0.8
	case ratio < 0.9:
		return 1.3
	default:
		return 1.0
	}
}

// renewableAdjustment discounts the baseline as the renewable share of
// current supply grows, floored at 0.7.
func renewableAdjustment(share float64) float64 {
	if share < 0 {
		share = 0
	} else if share > 1 {
		share = 1
	}
	return math.Max(0.7, 1-share*0.3)
}

// stabilityFactor surcharges the baseline per hertz of deviation from the
// nominal grid frequency. A zero reading means no telemetry, not a 50 Hz
// excursion.
func stabilityFactor(frequencyHz float64) float64 {
	if frequencyHz <= 0 {
		return 1.0
	}
	return 1 + math.Abs(frequencyHz-nominalFrequencyHz)*0.02
}

func sumByTarget(points []models.ForecastPoint) map[int64]float64 {
	out := make(map[int64]float64, len(points))
	for _, fp := range points {
		out[fp.TargetTimestamp.Unix()] += fp.PointEstimate
	}
	return out
}
