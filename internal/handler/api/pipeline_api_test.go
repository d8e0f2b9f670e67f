package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GridCast/internal/domain/models"
	icache "GridCast/internal/service/cache"
	"GridCast/internal/service/registry"
	"GridCast/internal/services/pricing"
	"GridCast/internal/usecase"
	"GridCast/pkg/logger"
)

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type stubLifecycle struct {
	queued bool
	err    error
	status usecase.SchedulerStatus
	calls  []string
}

func (s *stubLifecycle) TriggerRetrain(_ context.Context, t models.ForecastType, reason string) (bool, error) {
	s.calls = append(s.calls, string(t)+":"+reason)
	if s.err != nil {
		return false, s.err
	}
	return s.queued, nil
}

func (s *stubLifecycle) Status() usecase.SchedulerStatus { return s.status }

type stubRepricer struct {
	board *registry.Board
	curve *models.PriceCurve
	err   error
	calls int
}

func (r *stubRepricer) Run(context.Context, time.Time) error {
	r.calls++
	if r.err != nil {
		return r.err
	}
	r.board.PublishPrices(r.curve)
	return nil
}

type stubAccuracy struct {
	recs  []models.AccuracyRecord
	err   error
	calls int
}

func (s *stubAccuracy) StoreRecord(context.Context, *models.AccuracyRecord) error { return nil }

func (s *stubAccuracy) RecentRecords(context.Context, models.ForecastType, int) ([]models.AccuracyRecord, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.recs, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return l
}

type apiFixture struct {
	e     *echo.Echo
	board *registry.Board
	opt   *pricing.Optimizer
	sched *stubLifecycle
	rep   *stubRepricer
	acc   *stubAccuracy
	h     *PipelineHandler
}

func newFixture(t *testing.T) *apiFixture {
	t.Helper()
	board := registry.NewBoard()
	opt := pricing.NewOptimizer(pricing.Config{})
	sched := &stubLifecycle{queued: true}
	rep := &stubRepricer{board: board}
	acc := &stubAccuracy{}

	h := NewPipelineHandler(testLogger(t), board, opt, sched, rep, acc)
	e := echo.New()
	h.RegisterRoutes(e)
	return &apiFixture{e: e, board: board, opt: opt, sched: sched, rep: rep, acc: acc, h: h}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec.Code, env
}

func seedForecasts(board *registry.Board, t models.ForecastType, entity string, issued time.Time, values ...float64) {
	pts := make([]models.ForecastPoint, len(values))
	for i, v := range values {
		pts[i] = models.ForecastPoint{
			EntityID:        entity,
			IssuedAt:        issued,
			TargetTimestamp: issued.Truncate(time.Hour).Add(time.Duration(i+1) * time.Hour),
			PointEstimate:   v,
			ModelVersion:    "v1",
		}
	}
	board.PublishForecasts(t, []*models.ForecastBatch{{
		Type: t, EntityID: entity, IssuedAt: issued, Model: "v1", Points: pts,
	}})
}

func tierCurve(opt *pricing.Optimizer, issued time.Time, hours int) *models.PriceCurve {
	start := issued.Truncate(time.Hour)
	pts := make([]models.PricePoint, hours)
	for i := range pts {
		ts := start.Add(time.Duration(i) * time.Hour)
		pts[i] = models.PricePoint{
			IssuedAt:         issued,
			TargetTimestamp:  ts,
			Price:            0.15,
			Tier:             opt.Tier(ts),
			AdjustmentFactor: 0.15 / opt.BasePrice(),
			Iterations:       12,
		}
	}
	return &models.PriceCurve{IssuedAt: issued, Points: pts}
}

func TestForecastsEndpoint(t *testing.T) {
	f := newFixture(t)
	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seedForecasts(f.board, models.ForecastDemand, "meter-1", issued, 1000, 1100)

	code, env := f.do(t, http.MethodGet, "/api/forecasts/demand", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, http.StatusOK, env.Status)
	var batches []models.ForecastBatch
	require.NoError(t, json.Unmarshal(env.Data, &batches))
	require.Len(t, batches, 1)
	assert.Equal(t, "meter-1", batches[0].EntityID)
	assert.Len(t, batches[0].Points, 2)

	_, env = f.do(t, http.MethodGet, "/api/forecasts/demand?entity=meter-1", "")
	require.Equal(t, http.StatusOK, env.Status)
	var batch models.ForecastBatch
	require.NoError(t, json.Unmarshal(env.Data, &batch))
	assert.Equal(t, "v1", batch.Model)

	_, env = f.do(t, http.MethodGet, "/api/forecasts/demand?entity=ghost", "")
	assert.Equal(t, http.StatusNotFound, env.Status)

	_, env = f.do(t, http.MethodGet, "/api/forecasts/hydro", "")
	assert.Equal(t, http.StatusBadRequest, env.Status)
}

func TestPriceCurveEndpoint(t *testing.T) {
	f := newFixture(t)

	_, env := f.do(t, http.MethodGet, "/api/prices/curve", "")
	assert.Equal(t, http.StatusNotFound, env.Status)

	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.board.PublishPrices(tierCurve(f.opt, issued, 24))

	_, env = f.do(t, http.MethodGet, "/api/prices/curve", "")
	require.Equal(t, http.StatusOK, env.Status)
	var curve models.PriceCurve
	require.NoError(t, json.Unmarshal(env.Data, &curve))
	assert.Len(t, curve.Points, 24)

	_, env = f.do(t, http.MethodGet, "/api/prices/curve?n=6", "")
	require.Equal(t, http.StatusOK, env.Status)
	require.NoError(t, json.Unmarshal(env.Data, &curve))
	assert.Len(t, curve.Points, 6)
	assert.Equal(t, issued, curve.Points[0].TargetTimestamp)

	_, env = f.do(t, http.MethodGet, "/api/prices/curve?n=100", "")
	assert.Equal(t, http.StatusBadRequest, env.Status)
}

func TestCurrentPriceServesPublishedPoint(t *testing.T) {
	f := newFixture(t)
	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.board.PublishPrices(tierCurve(f.opt, issued, 3))

	_, env := f.do(t, http.MethodGet, "/api/prices/current?at=2025-06-01T13:20:00Z", "")
	require.Equal(t, http.StatusOK, env.Status)
	var p models.PricePoint
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.False(t, p.Degraded)
	assert.InDelta(t, 0.15, p.Price, 1e-9)
	assert.Equal(t, issued.Add(time.Hour), p.TargetTimestamp)
}

func TestCurrentPriceFallsBackToTier(t *testing.T) {
	f := newFixture(t)

	at := time.Date(2025, 6, 1, 18, 30, 0, 0, time.UTC)
	_, env := f.do(t, http.MethodGet, "/api/prices/current?at=2025-06-01T18:30:00Z", "")
	require.Equal(t, http.StatusOK, env.Status)

	var p models.PricePoint
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.True(t, p.Degraded)
	assert.Equal(t, models.TierPeak, p.Tier)
	assert.InDelta(t, f.opt.FallbackPrice(at.Truncate(time.Hour)), p.Price, 1e-9)
}

func TestGridHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	_, env := f.do(t, http.MethodGet, "/api/grid/health", "")
	assert.Equal(t, http.StatusNotFound, env.Status)

	f.board.PublishHealth(&models.GridHealth{Score: 0.92, Status: models.GridExcellent})

	_, env = f.do(t, http.MethodGet, "/api/grid/health", "")
	require.Equal(t, http.StatusOK, env.Status)
	var h models.GridHealth
	require.NoError(t, json.Unmarshal(env.Data, &h))
	assert.Equal(t, models.GridExcellent, h.Status)
}

func TestAccuracyEndpointCachesResponses(t *testing.T) {
	f := newFixture(t)
	f.acc.recs = []models.AccuracyRecord{
		{ModelVersion: "v2", Type: models.ForecastDemand, MAPE: 0.08, SampleCount: 24},
		{ModelVersion: "v1", Type: models.ForecastDemand, MAPE: 0.19, SampleCount: 24},
	}
	f.h.SetCache(icache.NewTTLCache())

	_, env := f.do(t, http.MethodGet, "/api/accuracy/demand", "")
	require.Equal(t, http.StatusOK, env.Status)
	var recs []models.AccuracyRecord
	require.NoError(t, json.Unmarshal(env.Data, &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "v2", recs[0].ModelVersion)
	assert.Equal(t, 1, f.acc.calls)

	_, env = f.do(t, http.MethodGet, "/api/accuracy/demand", "")
	require.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, 1, f.acc.calls)

	_, env = f.do(t, http.MethodGet, "/api/accuracy/tidal", "")
	assert.Equal(t, http.StatusBadRequest, env.Status)
	assert.Equal(t, 1, f.acc.calls)
}

func TestAccuracyEndpointStoreError(t *testing.T) {
	f := newFixture(t)
	f.acc.err = errors.New("clickhouse down")

	_, env := f.do(t, http.MethodGet, "/api/accuracy/demand", "")
	assert.Equal(t, http.StatusInternalServerError, env.Status)
}

func TestSchedulerStatusEndpoint(t *testing.T) {
	f := newFixture(t)
	next := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	f.sched.status = usecase.SchedulerStatus{
		Types: map[string]usecase.TypeStatus{
			"demand": {State: usecase.StateCollecting, ActiveModel: "demand-v3"},
		},
		NextRuns: map[string]time.Time{"forecast": next},
	}

	_, env := f.do(t, http.MethodGet, "/api/scheduler/status", "")
	require.Equal(t, http.StatusOK, env.Status)
	var st usecase.SchedulerStatus
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, "demand-v3", st.Types["demand"].ActiveModel)
	assert.Equal(t, next, st.NextRuns["forecast"])
}

func TestRetrainEndpoint(t *testing.T) {
	f := newFixture(t)

	_, env := f.do(t, http.MethodPost, "/api/operator/retrain", `{"forecast_type":"demand","reason":"drift"}`)
	require.Equal(t, http.StatusOK, env.Status)
	var res models.RetrainResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Queued)
	require.Len(t, f.sched.calls, 1)
	assert.Equal(t, "demand:drift", f.sched.calls[0])

	f.sched.queued = false
	_, env = f.do(t, http.MethodPost, "/api/operator/retrain", `{"forecast_type":"demand"}`)
	require.Equal(t, http.StatusOK, env.Status)
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.False(t, res.Queued)
	assert.Equal(t, "demand:operator", f.sched.calls[1])

	_, env = f.do(t, http.MethodPost, "/api/operator/retrain", `{"forecast_type":"tidal"}`)
	assert.Equal(t, http.StatusBadRequest, env.Status)
	assert.Len(t, f.sched.calls, 2)
}

func TestRetrainEndpointThrottles(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		_, env := f.do(t, http.MethodPost, "/api/operator/retrain", `{"forecast_type":"demand"}`)
		require.Equal(t, http.StatusOK, env.Status)
	}
	_, env := f.do(t, http.MethodPost, "/api/operator/retrain", `{"forecast_type":"demand"}`)
	assert.Equal(t, http.StatusTooManyRequests, env.Status)
	assert.Len(t, f.sched.calls, 3)
}

func TestRetrainEndpointEnqueueFailure(t *testing.T) {
	f := newFixture(t)
	f.sched.err = errors.New("redis unavailable")

	_, env := f.do(t, http.MethodPost, "/api/operator/retrain", `{"forecast_type":"solar"}`)
	assert.Equal(t, http.StatusInternalServerError, env.Status)
}

func TestOptimizeEndpointServesFreshCurve(t *testing.T) {
	f := newFixture(t)
	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.rep.curve = tierCurve(f.opt, issued, 6)

	_, env := f.do(t, http.MethodPost, "/api/operator/optimize", "")
	require.Equal(t, http.StatusOK, env.Status)
	var curve models.PriceCurve
	require.NoError(t, json.Unmarshal(env.Data, &curve))
	assert.Len(t, curve.Points, 6)
	assert.Equal(t, 1, f.rep.calls)
}

func TestOptimizeEndpointCycleFailure(t *testing.T) {
	f := newFixture(t)
	f.rep.err = errors.New("pricing budget exhausted")

	_, env := f.do(t, http.MethodPost, "/api/operator/optimize", "")
	assert.Equal(t, http.StatusInternalServerError, env.Status)
}
