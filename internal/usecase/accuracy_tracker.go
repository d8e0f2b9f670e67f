package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"GridCast/internal/domain/models"
	drepo "GridCast/internal/domain/repository"
	"GridCast/internal/services/features"
	applogger "GridCast/pkg/logger"
	"GridCast/pkg/util"
)

// AccuracyTrackerConfig shapes one evaluation pass.
type AccuracyTrackerConfig struct {
	MinSamples int // matched pairs a version needs before it is scored
}

func (c AccuracyTrackerConfig) withDefaults() AccuracyTrackerConfig {
	if c.MinSamples <= 0 {
		c.MinSamples = 24
	}
	return c
}

// AccuracyTracker joins persisted forecasts against later-arriving telemetry
// and scores every model version that issued them. Retired versions still get
// scored: their forecasts keep maturing after a promotion displaces them.
type AccuracyTracker struct {
	cfg       AccuracyTrackerConfig
	batches   drepo.BatchStore
	telemetry drepo.TelemetryStore
	acc       drepo.AccuracyStore
	metrics   drepo.Metrics
	logger    *applogger.Logger
}

func NewAccuracyTracker(
	cfg AccuracyTrackerConfig,
	batches drepo.BatchStore,
	telemetry drepo.TelemetryStore,
	acc drepo.AccuracyStore,
	metrics drepo.Metrics,
	l *applogger.Logger,
) *AccuracyTracker {
	return &AccuracyTracker{
		cfg:       cfg.withDefaults(),
		batches:   batches,
		telemetry: telemetry,
		acc:       acc,
		metrics:   metrics,
		logger:    l,
	}
}

// Evaluate scores forecasts whose targets fall inside w against stored
// telemetry. Each target hour counts once per entity: when reissues overlap,
// the latest issuance wins. Versions with fewer than MinSamples matched
// pairs are skipped, not scored as zero.
func (a *AccuracyTracker) Evaluate(ctx context.Context, t models.ForecastType, w models.Window) ([]models.AccuracyRecord, error) {
	// Forecast targets sit on hour boundaries; clip the scan so a ragged
	// window cannot shave off the edge buckets.
	w.From, w.To = util.HourRange(w.From, w.To)

	pts, err := a.batches.ForecastsInWindow(ctx, t, w)
	if err != nil {
		return nil, fmt.Errorf("load %s forecasts: %w", t, err)
	}
	if len(pts) == 0 {
		return nil, nil
	}

	latest := latestIssues(pts)

	entities := make(map[string]struct{})
	for k := range latest {
		entities[k.entity] = struct{}{}
	}
	actuals := make(map[string]map[int64]float64, len(entities))
	for entity := range entities {
		series, err := a.telemetry.Series(ctx, entity, models.SignalPower, w.From, w.To)
		if err != nil {
			a.metrics.RecordError("accuracy_actuals")
			a.logger.Warn("actuals unavailable",
				applogger.String("entity", entity),
				applogger.Error(err))
			continue
		}
		byHour := make(map[int64]float64)
		for _, hp := range features.HourlySeries(series) {
			byHour[hp.Time.Unix()] = hp.Value
		}
		actuals[entity] = byHour
	}

	byVersion := make(map[string][][2]float64)
	for k, p := range latest {
		byHour, ok := actuals[k.entity]
		if !ok {
			continue
		}
		actual, ok := byHour[k.hour]
		if !ok {
			continue
		}
		byVersion[p.ModelVersion] = append(byVersion[p.ModelVersion], [2]float64{p.PointEstimate, actual})
	}

	now := time.Now().UTC()
	records := make([]models.AccuracyRecord, 0, len(byVersion))
	for version, pairs := range byVersion {
		if len(pairs) < a.cfg.MinSamples {
			a.logger.Debug("version below sample floor",
				applogger.String("type", string(t)),
				applogger.String("model", version),
				applogger.Int("pairs", len(pairs)))
			continue
		}
		rec := scorePairs(version, t, w, pairs, now)
		a.metrics.RecordAccuracy(string(t), rec.MAPE)
		if err := a.acc.StoreRecord(ctx, &rec); err != nil {
			a.metrics.RecordError("accuracy_store")
			a.logger.Error("accuracy record not persisted",
				applogger.String("model", version),
				applogger.Error(err))
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].SampleCount != records[j].SampleCount {
			return records[i].SampleCount > records[j].SampleCount
		}
		return records[i].ModelVersion < records[j].ModelVersion
	})

	a.logger.Info("accuracy evaluated",
		applogger.String("type", string(t)),
		applogger.Int("versions", len(records)),
		applogger.Int("target_hours", len(latest)))
	return records, nil
}

type issueKey struct {
	entity string
	hour   int64
}

// latestIssues collapses overlapping issuances to the most recent forecast
// per entity and target hour.
func latestIssues(pts []models.ForecastPoint) map[issueKey]models.ForecastPoint {
	out := make(map[issueKey]models.ForecastPoint, len(pts))
	for _, p := range pts {
		k := issueKey{p.EntityID, p.TargetTimestamp.Truncate(time.Hour).Unix()}
		if cur, ok := out[k]; !ok || p.IssuedAt.After(cur.IssuedAt) {
			out[k] = p
		}
	}
	return out
}

// scorePairs computes MAE, RMSE and MAPE over matched (forecast, actual)
// pairs. Near-zero actuals are excluded from MAPE so idle hours cannot blow
// up the ratio; a version with no usable MAPE samples scores zero.
func scorePairs(version string, t models.ForecastType, w models.Window, pairs [][2]float64, now time.Time) models.AccuracyRecord {
	var absSum, sqSum, pctSum float64
	pctN := 0
	for _, pair := range pairs {
		diff := pair[0] - pair[1]
		absSum += math.Abs(diff)
		sqSum += diff * diff
		if math.Abs(pair[1]) > 1e-9 {
			pctSum += math.Abs(diff) / math.Abs(pair[1])
			pctN++
		}
	}
	n := float64(len(pairs))
	rec := models.AccuracyRecord{
		ModelVersion: version,
		Type:         t,
		Window:       w,
		MAE:          absSum / n,
		RMSE:         math.Sqrt(sqSum / n),
		SampleCount:  len(pairs),
		ComputedAt:   now,
	}
	if pctN > 0 {
		rec.MAPE = pctSum / float64(pctN)
	}
	return rec
}
