package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	icache "GridCast/internal/service/cache"
)

func TestClient_FetchAndCache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "/api/market/conditions", r.URL.Path)
		require.NotEmpty(t, r.URL.Query().Get("interval"))
		json.NewEncoder(w).Encode(map[string]any{
			"wholesale_price":     0.14,
			"transmission_cost":   0.021,
			"distribution_cost":   0.017,
			"congestion_level":    0.4,
			"frequency_hz":        50.08,
			"total_supply_mw":     1200.0,
			"renewable_supply_mw": 300.0,
		})
	}))
	defer srv.Close()

	client := NewClient(Config{ServiceURL: srv.URL}, icache.NewTTLCache(), nil)
	at := time.Date(2025, 6, 2, 9, 42, 0, 0, time.UTC)

	mc, err := client.Conditions(context.Background(), at)
	require.NoError(t, err)
	require.Equal(t, at.Truncate(time.Hour), mc.Interval)
	require.InDelta(t, 0.14, mc.WholesalePrice, 1e-12)
	require.InDelta(t, 0.021, mc.TransmissionCost, 1e-12)
	require.InDelta(t, 0.017, mc.DistributionCost, 1e-12)
	require.InDelta(t, 0.4, mc.CongestionLevel, 1e-12)
	require.InDelta(t, 50.08, mc.GridFrequencyHz, 1e-12)
	require.InDelta(t, 0.25, mc.RenewableShare, 1e-12)

	// Same hour hits the cache; a different hour refetches.
	_, err = client.Conditions(context.Background(), at.Add(10*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	_, err = client.Conditions(context.Background(), at.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestClient_AbsentFeedValuesGetDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"wholesale_price": 0.0,
			"frequency_hz":    0.0,
			"total_supply_mw": 0.0,
		})
	}))
	defer srv.Close()

	client := NewClient(Config{ServiceURL: srv.URL}, nil, nil)

	mc, err := client.Conditions(context.Background(), time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.InDelta(t, 0.12, mc.WholesalePrice, 1e-12)
	require.InDelta(t, 50.0, mc.GridFrequencyHz, 1e-12)
	require.InDelta(t, defaultRenewableShare, mc.RenewableShare, 1e-12)
}

func TestClient_UnreachableServiceFallsBack(t *testing.T) {
	client := NewClient(Config{
		ServiceURL:           "http://127.0.0.1:1",
		Timeout:              200 * time.Millisecond,
		FallbackWholesale:    0.11,
		FallbackTransmission: 0.02,
		FallbackDistribution: 0.015,
	}, icache.NewTTLCache(), nil)

	at := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	mc, err := client.Conditions(context.Background(), at)
	require.NoError(t, err)
	require.Equal(t, at, mc.Interval)
	require.InDelta(t, 0.11, mc.WholesalePrice, 1e-12)
	require.InDelta(t, 0.035, mc.TransmissionCost+mc.DistributionCost, 1e-12)
	require.InDelta(t, 50.0, mc.GridFrequencyHz, 1e-12)
}

func TestClient_NoURLConfigured(t *testing.T) {
	client := NewClient(Config{}, nil, nil)

	mc, err := client.Conditions(context.Background(), time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.InDelta(t, 0.12, mc.WholesalePrice, 1e-12)
	require.InDelta(t, 0.12+0.02+0.015, mc.CostStack(), 1e-12)
}
