package market

import (
	"context"
	"fmt"
	"time"

	"GridCast/internal/domain/models"
	icache "GridCast/internal/service/cache"
	pkghttp "GridCast/pkg/http"
	"GridCast/pkg/logger"
)

const (
	nominalFrequencyHz = 50.0

	// Fallback share matches the default 200 MW renewable of 1100 MW supply.
	defaultRenewableShare = 200.0 / 1100.0
)

// Config points the client at the market data service and shapes the static
// conditions used when it is unreachable.
type Config struct {
	ServiceURL string
	Timeout    time.Duration
	CacheTTL   time.Duration

	FallbackWholesale    float64
	FallbackTransmission float64
	FallbackDistribution float64
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.FallbackWholesale <= 0 {
		c.FallbackWholesale = 0.12
	}
	if c.FallbackTransmission <= 0 {
		c.FallbackTransmission = 0.02
	}
	if c.FallbackDistribution <= 0 {
		c.FallbackDistribution = 0.015
	}
	return c
}

// Client reads market conditions from the market data service with a
// per-hour cache. A fetch failure degrades to the configured static
// conditions; pricing proceeds either way.
type Client struct {
	cfg   Config
	http  *pkghttp.Client
	cache icache.BytesCache
	l     *logger.Logger
}

func NewClient(cfg Config, cache icache.BytesCache, l *logger.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:   cfg,
		http:  pkghttp.NewClient(pkghttp.WithTimeout(cfg.Timeout)),
		cache: cache,
		l:     l,
	}
}

type conditionsResponse struct {
	WholesalePrice   float64 `json:"wholesale_price"`
	TransmissionCost float64 `json:"transmission_cost"`
	DistributionCost float64 `json:"distribution_cost"`
	CongestionLevel  float64 `json:"congestion_level"`
	FrequencyHz      float64 `json:"frequency_hz"`
	TotalSupplyMW    float64 `json:"total_supply_mw"`
	RenewableMW      float64 `json:"renewable_supply_mw"`
}

// Conditions returns market conditions for the hour containing interval.
func (c *Client) Conditions(ctx context.Context, interval time.Time) (models.MarketConditions, error) {
	hour := interval.Truncate(time.Hour)
	key := fmt.Sprintf("market:conditions:%d", hour.Unix())

	if c.cache != nil {
		if mc, ok := icache.GetJSON[models.MarketConditions](c.cache, key); ok {
			mc.Interval = hour
			return mc, nil
		}
	}

	mc, err := c.fetch(ctx, hour)
	if err != nil {
		if c.l != nil {
			c.l.Warn("market service unavailable, using fallback conditions",
				logger.Time("interval", hour),
				logger.Error(err))
		}
		return c.fallback(hour), nil
	}

	if c.cache != nil {
		if err := icache.SetJSON(c.cache, key, mc, c.cfg.CacheTTL); err != nil && c.l != nil {
			c.l.Debug("market cache set failed", logger.Error(err))
		}
	}
	return mc, nil
}

func (c *Client) fetch(ctx context.Context, hour time.Time) (models.MarketConditions, error) {
	if c.cfg.ServiceURL == "" {
		return models.MarketConditions{}, fmt.Errorf("market service url not configured")
	}

	var resp conditionsResponse
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodGet,
		URL:    c.cfg.ServiceURL + "/api/market/conditions",
		QueryParams: map[string][]string{
			"interval": {hour.UTC().Format(time.RFC3339)},
		},
	}, &resp)
	if err != nil {
		return models.MarketConditions{}, fmt.Errorf("fetch market conditions: %w", err)
	}

	mc := models.MarketConditions{
		Interval:         hour,
		WholesalePrice:   resp.WholesalePrice,
		TransmissionCost: resp.TransmissionCost,
		DistributionCost: resp.DistributionCost,
		CongestionLevel:  resp.CongestionLevel,
		GridFrequencyHz:  resp.FrequencyHz,
	}
	// Feeds report absent values as zero; substitute the standing defaults.
	if mc.WholesalePrice <= 0 {
		mc.WholesalePrice = c.cfg.FallbackWholesale
	}
	if mc.GridFrequencyHz <= 0 {
		mc.GridFrequencyHz = nominalFrequencyHz
	}
	if resp.TotalSupplyMW > 0 {
		share := resp.RenewableMW / resp.TotalSupplyMW
		if share < 0 {
			share = 0
		} else if share > 1 {
			share = 1
		}
		mc.RenewableShare = share
	} else {
		mc.RenewableShare = defaultRenewableShare
	}
	return mc, nil
}

func (c *Client) fallback(hour time.Time) models.MarketConditions {
	return models.MarketConditions{
		Interval:         hour,
		WholesalePrice:   c.cfg.FallbackWholesale,
		TransmissionCost: c.cfg.FallbackTransmission,
		DistributionCost: c.cfg.FallbackDistribution,
		GridFrequencyHz:  nominalFrequencyHz,
		RenewableShare:   defaultRenewableShare,
	}
}
