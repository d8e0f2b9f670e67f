package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"GridCast/internal/domain/models"
	drepo "GridCast/internal/domain/repository"
	"GridCast/internal/service/registry"
	"GridCast/internal/services/pricing"
	applogger "GridCast/pkg/logger"
)

// PriceRunnerConfig bounds one pricing cycle.
type PriceRunnerConfig struct {
	HorizonHours int
	CycleBudget  time.Duration
}

func (c PriceRunnerConfig) withDefaults() PriceRunnerConfig {
	if c.HorizonHours <= 0 {
		c.HorizonHours = 24
	}
	if c.CycleBudget <= 0 {
		c.CycleBudget = 30 * time.Second
	}
	return c
}

// PriceRunner turns the latest published forecasts into a price curve.
// Concurrent Run calls coalesce onto the in-flight cycle: the operator
// endpoint and the scheduler share one optimization instead of racing it.
type PriceRunner struct {
	cfg     PriceRunnerConfig
	opt     *pricing.Optimizer
	market  drepo.MarketSource
	board   *registry.Board
	store   drepo.BatchStore
	pub     drepo.Publisher
	metrics drepo.Metrics
	logger  *applogger.Logger

	mu  sync.Mutex
	cur *priceCycle
}

type priceCycle struct {
	done chan struct{}
	err  error
}

func NewPriceRunner(
	cfg PriceRunnerConfig,
	opt *pricing.Optimizer,
	market drepo.MarketSource,
	board *registry.Board,
	store drepo.BatchStore,
	pub drepo.Publisher,
	metrics drepo.Metrics,
	l *applogger.Logger,
) *PriceRunner {
	return &PriceRunner{
		cfg:     cfg.withDefaults(),
		opt:     opt,
		market:  market,
		board:   board,
		store:   store,
		pub:     pub,
		metrics: metrics,
		logger:  l,
	}
}

// Run executes one pricing cycle at issuedAt, or joins the cycle already in
// flight and returns its result.
func (r *PriceRunner) Run(ctx context.Context, issuedAt time.Time) error {
	r.mu.Lock()
	if c := r.cur; c != nil {
		r.mu.Unlock()
		select {
		case <-c.done:
			return c.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c := &priceCycle{done: make(chan struct{})}
	r.cur = c
	r.mu.Unlock()

	c.err = r.cycle(ctx, issuedAt)

	r.mu.Lock()
	r.cur = nil
	r.mu.Unlock()
	close(c.done)
	return c.err
}

func (r *PriceRunner) cycle(ctx context.Context, issuedAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CycleBudget)
	defer cancel()
	start := time.Now()

	demand := flattenPoints(r.board.Forecasts(models.ForecastDemand))
	supply := append(
		flattenPoints(r.board.Forecasts(models.ForecastSolar)),
		flattenPoints(r.board.Forecasts(models.ForecastWind))...)

	mc, err := r.market.Conditions(ctx, issuedAt)
	if err != nil {
		// zero conditions price without a market skew: the optimizer treats
		// an absent frequency reading as nominal and clamps the cost stack
		r.metrics.RecordError("market_conditions")
		r.logger.Warn("market conditions unavailable", applogger.Error(err))
		mc = models.MarketConditions{Interval: issuedAt.Truncate(time.Hour)}
	}

	prev, _ := r.board.Prices()

	var curve models.PriceCurve
	if len(demand) == 0 && len(supply) == 0 {
		curve = r.fallbackCurve(issuedAt)
		r.logger.Warn("no forecasts on the board, issuing tier fallback curve",
			applogger.Time("issued_at", issuedAt))
	} else {
		curve = r.opt.Optimize(issuedAt, demand, supply, mc, prev)
	}
	if len(curve.Points) == 0 {
		return fmt.Errorf("pricing produced an empty curve")
	}

	if err := ctx.Err(); err != nil {
		// budget exhausted: keep the previous published curve
		return fmt.Errorf("pricing budget exhausted: %w", err)
	}

	degraded := 0
	for _, p := range curve.Points {
		if p.Degraded {
			degraded++
		}
		if p.Iterations > 0 {
			r.metrics.RecordOptimizerIterations(p.Iterations)
		}
	}

	r.board.PublishPrices(&curve)
	r.metrics.RecordPriceCycle(time.Since(start).Seconds(), degraded)

	if err := r.store.StorePriceCurve(ctx, &curve); err != nil {
		r.metrics.RecordError("price_store")
		r.logger.Error("price curve not persisted", applogger.Error(err))
	}
	if err := r.pub.PublishPrices(ctx, &curve); err != nil {
		r.metrics.RecordError("price_publish")
		r.logger.Error("price curve not published", applogger.Error(err))
	}

	r.logger.Info("price curve issued",
		applogger.Int("points", len(curve.Points)),
		applogger.Int("degraded", degraded),
		applogger.Duration("duration_ms", time.Since(start)))
	return nil
}

// fallbackCurve prices the horizon from tiers alone so the pricing API has a
// curve to serve before the first forecasts land.
func (r *PriceRunner) fallbackCurve(issuedAt time.Time) models.PriceCurve {
	base := r.opt.BasePrice()
	points := make([]models.PricePoint, 0, r.cfg.HorizonHours)
	for h := 1; h <= r.cfg.HorizonHours; h++ {
		ts := issuedAt.Truncate(time.Hour).Add(time.Duration(h) * time.Hour)
		price := r.opt.FallbackPrice(ts)
		points = append(points, models.PricePoint{
			IssuedAt:         issuedAt,
			TargetTimestamp:  ts,
			Price:            price,
			Tier:             r.opt.Tier(ts),
			AdjustmentFactor: price / base,
			Degraded:         true,
		})
	}
	return models.PriceCurve{IssuedAt: issuedAt, Points: points}
}

func flattenPoints(batches []*models.ForecastBatch) []models.ForecastPoint {
	n := 0
	for _, b := range batches {
		n += len(b.Points)
	}
	out := make([]models.ForecastPoint, 0, n)
	for _, b := range batches {
		out = append(out, b.Points...)
	}
	return out
}
