package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"GridCast/internal/domain/models"
	domrepo "GridCast/internal/domain/repository"
	pkgch "GridCast/pkg/clickhouse"
	applogger "GridCast/pkg/logger"
)

// CHBatchStore implements BatchStore backed by ClickHouse.
type CHBatchStore struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
}

func NewCHBatchStore(ch *pkgch.Client, database string) *CHBatchStore {
	return &CHBatchStore{db: ch.DB(), database: database}
}

// SetLogger injects a structured logger.
func (s *CHBatchStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHBatchStore) forecastTable() string { return s.database + ".forecast_points" }
func (s *CHBatchStore) priceTable() string    { return s.database + ".price_points" }

func (s *CHBatchStore) StoreForecastBatch(ctx context.Context, b *models.ForecastBatch) error {
	if b == nil || len(b.Points) == 0 {
		return nil
	}
	values := make([]string, 0, len(b.Points))
	args := make([]interface{}, 0, len(b.Points)*10)
	for _, fp := range b.Points {
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			string(b.Type),
			fp.EntityID,
			fp.IssuedAt,
			fp.TargetTimestamp,
			fp.PointEstimate,
			fp.LowerBound,
			fp.UpperBound,
			fp.ModelVersion,
			fp.EnergyKWh,
			boolUInt8(fp.Clamped),
		)
	}
	q := fmt.Sprintf("INSERT INTO %s (forecast_type, entity_id, issued_at, target_ts, point_estimate, lower_bound, upper_bound, model_version, energy_kwh, clamped) VALUES %s",
		s.forecastTable(), strings.Join(values, ","))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		if s.l != nil {
			s.l.Error("clickhouse store_forecast_batch error",
				applogger.String("type", string(b.Type)),
				applogger.String("entity", b.EntityID),
				applogger.Int("points", len(b.Points)),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("store forecast batch: %w", err)
	}
	return nil
}

func (s *CHBatchStore) StorePriceCurve(ctx context.Context, c *models.PriceCurve) error {
	if c == nil || len(c.Points) == 0 {
		return nil
	}
	values := make([]string, 0, len(c.Points))
	args := make([]interface{}, 0, len(c.Points)*9)
	for _, pp := range c.Points {
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			pp.IssuedAt,
			pp.TargetTimestamp,
			pp.Price,
			string(pp.Tier),
			pp.AdjustmentFactor,
			pp.PredictedDemand,
			pp.PredictedSupply,
			boolUInt8(pp.Degraded),
			int32(pp.Iterations),
		)
	}
	q := fmt.Sprintf("INSERT INTO %s (issued_at, target_ts, price, tier, adjustment, demand_kw, supply_kw, degraded, iterations) VALUES %s",
		s.priceTable(), strings.Join(values, ","))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		if s.l != nil {
			s.l.Error("clickhouse store_price_curve error",
				applogger.Int("points", len(c.Points)),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("store price curve: %w", err)
	}
	return nil
}

func (s *CHBatchStore) ForecastsInWindow(ctx context.Context, t models.ForecastType, w models.Window) ([]models.ForecastPoint, error) {
	start := time.Now()
	const qtpl = `
        SELECT entity_id, issued_at, target_ts, point_estimate, lower_bound, upper_bound, model_version, energy_kwh, clamped
        FROM %s
        WHERE forecast_type = ? AND target_ts >= ? AND target_ts <= ?
        ORDER BY target_ts ASC, issued_at ASC
    `
	q := fmt.Sprintf(qtpl, s.forecastTable())
	rows, err := s.db.QueryContext(ctx, q, string(t), w.From, w.To)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse forecasts_in_window query error",
				applogger.String("type", string(t)),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("forecasts in window: %w", err)
	}
	defer rows.Close()

	out := make([]models.ForecastPoint, 0, 1024)
	for rows.Next() {
		var fp models.ForecastPoint
		var clamped uint8
		if err := rows.Scan(&fp.EntityID, &fp.IssuedAt, &fp.TargetTimestamp, &fp.PointEstimate, &fp.LowerBound, &fp.UpperBound, &fp.ModelVersion, &fp.EnergyKWh, &clamped); err != nil {
			return nil, fmt.Errorf("scan forecast point: %w", err)
		}
		fp.Clamped = clamped != 0
		out = append(out, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if s.l != nil {
		s.l.Debug("clickhouse forecasts_in_window ok",
			applogger.String("type", string(t)),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func (s *CHBatchStore) LatestPriceBefore(ctx context.Context, target time.Time) (models.PricePoint, error) {
	const qtpl = `
        SELECT issued_at, target_ts, price, tier, adjustment, demand_kw, supply_kw, degraded, iterations
        FROM %s
        WHERE target_ts = ?
        ORDER BY issued_at DESC
        LIMIT 1
    `
	q := fmt.Sprintf(qtpl, s.priceTable())

	var pp models.PricePoint
	var tier string
	var degraded uint8
	var iterations int32
	err := s.db.QueryRowContext(ctx, q, target).Scan(&pp.IssuedAt, &pp.TargetTimestamp, &pp.Price, &tier, &pp.AdjustmentFactor, &pp.PredictedDemand, &pp.PredictedSupply, &degraded, &iterations)
	if err != nil {
		return models.PricePoint{}, fmt.Errorf("latest price for %s: %w", target.Format(time.RFC3339), err)
	}
	pp.Tier = models.PriceTier(tier)
	pp.Degraded = degraded != 0
	pp.Iterations = int(iterations)
	return pp, nil
}

// CHModelStore implements ModelStore backed by ClickHouse. Status changes
// insert a superseding row; reads collapse them with FINAL.
type CHModelStore struct {
	db       *sql.DB
	database string
}

func NewCHModelStore(ch *pkgch.Client, database string) *CHModelStore {
	return &CHModelStore{db: ch.DB(), database: database}
}

func (s *CHModelStore) table() string { return s.database + ".model_versions" }

func (s *CHModelStore) SaveVersion(ctx context.Context, v *models.ModelVersion) error {
	q := fmt.Sprintf("INSERT INTO %s (id, forecast_type, trained_at, window_from, window_to, validation_error, status, payload, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table())
	_, err := s.db.ExecContext(ctx, q,
		v.ID,
		string(v.Type),
		v.TrainedAt,
		v.TrainingWindow.From,
		v.TrainingWindow.To,
		v.ValidationError,
		string(v.Status),
		string(v.Payload),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save model version: %w", err)
	}
	return nil
}

func (s *CHModelStore) UpdateStatus(ctx context.Context, id string, status models.ModelStatus) error {
	const qtpl = `
        INSERT INTO %s
        SELECT id, forecast_type, trained_at, window_from, window_to, validation_error, ? AS status, payload, ? AS updated_at
        FROM %s FINAL
        WHERE id = ?
    `
	q := fmt.Sprintf(qtpl, s.table(), s.table())
	if _, err := s.db.ExecContext(ctx, q, string(status), time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update model status %s: %w", id, err)
	}
	return nil
}

func (s *CHModelStore) ActiveVersion(ctx context.Context, t models.ForecastType) (models.ModelVersion, error) {
	const qtpl = `
        SELECT id, forecast_type, trained_at, window_from, window_to, validation_error, status, payload
        FROM %s FINAL
        WHERE forecast_type = ? AND status = 'active'
        ORDER BY trained_at DESC
        LIMIT 1
    `
	q := fmt.Sprintf(qtpl, s.table())
	v, err := s.scanVersion(s.db.QueryRowContext(ctx, q, string(t)))
	if err != nil {
		return models.ModelVersion{}, fmt.Errorf("active version %s: %w", t, err)
	}
	return v, nil
}

func (s *CHModelStore) Versions(ctx context.Context, t models.ForecastType, limit int) ([]models.ModelVersion, error) {
	const qtpl = `
        SELECT id, forecast_type, trained_at, window_from, window_to, validation_error, status, payload
        FROM %s FINAL
        WHERE forecast_type = ?
        ORDER BY trained_at DESC
        LIMIT ?
    `
	q := fmt.Sprintf(qtpl, s.table())
	rows, err := s.db.QueryContext(ctx, q, string(t), limit)
	if err != nil {
		return nil, fmt.Errorf("model versions: %w", err)
	}
	defer rows.Close()

	out := make([]models.ModelVersion, 0, limit)
	for rows.Next() {
		v, err := s.scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *CHModelStore) scanVersion(row rowScanner) (models.ModelVersion, error) {
	var v models.ModelVersion
	var fType, status, payload string
	if err := row.Scan(&v.ID, &fType, &v.TrainedAt, &v.TrainingWindow.From, &v.TrainingWindow.To, &v.ValidationError, &status, &payload); err != nil {
		return models.ModelVersion{}, err
	}
	v.Type = models.ForecastType(fType)
	v.Status = models.ModelStatus(status)
	v.Payload = []byte(payload)
	return v, nil
}

// CHAccuracyStore implements AccuracyStore backed by ClickHouse.
type CHAccuracyStore struct {
	db       *sql.DB
	database string
}

func NewCHAccuracyStore(ch *pkgch.Client, database string) *CHAccuracyStore {
	return &CHAccuracyStore{db: ch.DB(), database: database}
}

func (s *CHAccuracyStore) table() string { return s.database + ".accuracy_records" }

func (s *CHAccuracyStore) StoreRecord(ctx context.Context, rec *models.AccuracyRecord) error {
	q := fmt.Sprintf("INSERT INTO %s (model_version, forecast_type, window_from, window_to, mae, rmse, mape, samples, computed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table())
	_, err := s.db.ExecContext(ctx, q,
		rec.ModelVersion,
		string(rec.Type),
		rec.Window.From,
		rec.Window.To,
		rec.MAE,
		rec.RMSE,
		rec.MAPE,
		uint32(rec.SampleCount),
		rec.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("store accuracy record: %w", err)
	}
	return nil
}

// RecentRecords returns the last n evaluations in ascending computed_at order.
func (s *CHAccuracyStore) RecentRecords(ctx context.Context, t models.ForecastType, n int) ([]models.AccuracyRecord, error) {
	const qtpl = `
        SELECT model_version, forecast_type, window_from, window_to, mae, rmse, mape, samples, computed_at
        FROM %s
        WHERE forecast_type = ?
        ORDER BY computed_at DESC
        LIMIT ?
    `
	q := fmt.Sprintf(qtpl, s.table())
	rows, err := s.db.QueryContext(ctx, q, string(t), n)
	if err != nil {
		return nil, fmt.Errorf("recent accuracy records: %w", err)
	}
	defer rows.Close()

	tmp := make([]models.AccuracyRecord, 0, n)
	for rows.Next() {
		var rec models.AccuracyRecord
		var fType string
		var samples uint32
		if err := rows.Scan(&rec.ModelVersion, &fType, &rec.Window.From, &rec.Window.To, &rec.MAE, &rec.RMSE, &rec.MAPE, &samples, &rec.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan accuracy record: %w", err)
		}
		rec.Type = models.ForecastType(fType)
		rec.SampleCount = int(samples)
		tmp = append(tmp, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	// reverse to ASC
	for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
		tmp[i], tmp[j] = tmp[j], tmp[i]
	}
	return tmp, nil
}

func boolUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

var _ domrepo.BatchStore = (*CHBatchStore)(nil)
var _ domrepo.ModelStore = (*CHModelStore)(nil)
var _ domrepo.AccuracyStore = (*CHAccuracyStore)(nil)
