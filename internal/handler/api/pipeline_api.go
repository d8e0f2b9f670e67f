package api

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"

	"GridCast/internal/domain/models"
	drepo "GridCast/internal/domain/repository"
	icache "GridCast/internal/service/cache"
	"GridCast/internal/service/ratelimit"
	"GridCast/internal/service/registry"
	"GridCast/internal/services/pricing"
	"GridCast/internal/usecase"
	xhttp "GridCast/pkg/http"
	xlogger "GridCast/pkg/logger"
)

const accuracyCacheTTL = 30 * time.Second

// Lifecycle is the scheduler surface the operator endpoints drive.
type Lifecycle interface {
	TriggerRetrain(ctx context.Context, t models.ForecastType, reason string) (bool, error)
	Status() usecase.SchedulerStatus
}

// Repricer runs one pricing cycle; concurrent calls coalesce into the
// in-flight one.
type Repricer interface {
	Run(ctx context.Context, issuedAt time.Time) error
}

// PipelineHandler serves published forecasts, prices and grid health, and
// exposes the operator commands. Reads come from the in-memory board;
// only accuracy history reaches back to storage.
type PipelineHandler struct {
	logger *xlogger.Logger
	board  *registry.Board
	opt    *pricing.Optimizer
	sched  Lifecycle
	prices Repricer
	acc    drepo.AccuracyStore
	cache  icache.BytesCache
	rl     *ratelimit.Limiter
}

func NewPipelineHandler(
	logger *xlogger.Logger,
	board *registry.Board,
	opt *pricing.Optimizer,
	sched Lifecycle,
	prices Repricer,
	acc drepo.AccuracyStore,
) *PipelineHandler {
	return &PipelineHandler{
		logger: logger,
		board:  board,
		opt:    opt,
		sched:  sched,
		prices: prices,
		acc:    acc,
		rl:     ratelimit.New(),
	}
}

// SetCache enables response caching for storage-backed endpoints.
func (h *PipelineHandler) SetCache(c icache.BytesCache) { h.cache = c }

func (h *PipelineHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/forecasts/:type", h.Forecasts)
	g.GET("/prices/curve", h.PriceCurve)
	g.GET("/prices/current", h.CurrentPrice)
	g.GET("/grid/health", h.GridHealth)
	g.GET("/accuracy/:type", h.Accuracy)
	g.GET("/scheduler/status", h.SchedulerStatus)
	g.POST("/operator/retrain", h.Retrain)
	g.POST("/operator/optimize", h.Optimize)
}

// Forecasts returns the latest published batches for one type, or a single
// entity's batch when the entity query parameter is set.
func (h *PipelineHandler) Forecasts(c echo.Context) error {
	req := &models.ForecastRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	t := models.ForecastType(req.Type)

	if req.EntityID != "" {
		batch, ok := h.board.Forecast(t, req.EntityID)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no %s forecast published for %s", t, req.EntityID))
		}
		return xhttp.SuccessResponse(c, batch)
	}
	return xhttp.SuccessResponse(c, h.board.Forecasts(t))
}

// PriceCurve returns the latest published curve, clipped to the first n
// points when the caller asks for fewer than the full horizon.
func (h *PipelineHandler) PriceCurve(c echo.Context) error {
	req := &models.PriceCurveRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	curve, ok := h.board.Prices()
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no price curve published yet"))
	}
	if req.N < len(curve.Points) {
		clipped := *curve
		clipped.Points = curve.Points[:req.N]
		return xhttp.SuccessResponse(c, &clipped)
	}
	return xhttp.SuccessResponse(c, curve)
}

// CurrentPrice returns the price for the interval containing now (or the
// optional at query parameter). Before the first curve is published it
// degrades to the static tier price so consumers always get an answer.
func (h *PipelineHandler) CurrentPrice(c echo.Context) error {
	at := xhttp.ParseTimeDefault(c.QueryParam("at"), time.Now())

	if p, ok := h.board.PriceAt(at); ok {
		return xhttp.SuccessResponse(c, p)
	}

	hour := at.Truncate(time.Hour)
	price := h.opt.FallbackPrice(hour)
	return xhttp.SuccessResponse(c, models.PricePoint{
		IssuedAt:         at,
		TargetTimestamp:  hour,
		Price:            price,
		Tier:             h.opt.Tier(hour),
		AdjustmentFactor: price / h.opt.BasePrice(),
		Degraded:         true,
	})
}

// GridHealth returns the latest composite assessment.
func (h *PipelineHandler) GridHealth(c echo.Context) error {
	health, ok := h.board.Health()
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no grid health assessment yet"))
	}
	return xhttp.SuccessResponse(c, health)
}

// Accuracy returns recent accuracy records for one type. Responses are
// cached briefly; this is the only endpoint that reads storage.
func (h *PipelineHandler) Accuracy(c echo.Context) error {
	req := &models.AccuracyRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	t := models.ForecastType(req.Type)

	key := fmt.Sprintf("accuracy:%s:%d", t, req.N)
	if h.cache != nil {
		if recs, ok := icache.GetJSON[[]models.AccuracyRecord](h.cache, key); ok {
			return xhttp.SuccessResponse(c, recs)
		}
	}

	recs, err := h.acc.RecentRecords(c.Request().Context(), t, req.N)
	if err != nil {
		h.logger.Error("accuracy lookup failed",
			xlogger.String("type", string(t)),
			xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	if h.cache != nil {
		if err := icache.SetJSON(h.cache, key, recs, accuracyCacheTTL); err != nil {
			h.logger.Debug("accuracy cache set failed", xlogger.Error(err))
		}
	}
	return xhttp.SuccessResponse(c, recs)
}

// SchedulerStatus reports per-type lifecycle state and the next cadence runs.
func (h *PipelineHandler) SchedulerStatus(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.sched.Status())
}

// Retrain queues a retrain for one type. Repeat requests while one is in
// flight report queued=false instead of stacking work.
func (h *PipelineHandler) Retrain(c echo.Context) error {
	req := &models.RetrainRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.rl.Allow(c.RealIP()+":retrain", 3, 0.2) {
		h.logger.Warn("operator retrain throttled", xlogger.String("remote", c.RealIP()))
		return xhttp.AppErrorResponse(c, xhttp.RateLimitedError("too many retrain requests"))
	}

	t := models.ForecastType(req.ForecastType)
	reason := req.Reason
	if reason == "" {
		reason = "operator"
	}

	queued, err := h.sched.TriggerRetrain(c.Request().Context(), t, reason)
	if err != nil {
		h.logger.Error("operator retrain failed",
			xlogger.String("type", string(t)),
			xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, models.RetrainResponse{ForecastType: string(t), Queued: queued})
}

// Optimize runs one pricing cycle immediately and returns the fresh curve.
func (h *PipelineHandler) Optimize(c echo.Context) error {
	if !h.rl.Allow(c.RealIP()+":optimize", 3, 0.2) {
		h.logger.Warn("operator optimize throttled", xlogger.String("remote", c.RealIP()))
		return xhttp.AppErrorResponse(c, xhttp.RateLimitedError("too many optimize requests"))
	}

	if err := h.prices.Run(c.Request().Context(), time.Now()); err != nil {
		h.logger.Error("operator optimize failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	curve, ok := h.board.Prices()
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.InternalError("pricing cycle published nothing"))
	}
	return xhttp.SuccessResponse(c, curve)
}
