package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"GridCast/internal/domain/models"
	"GridCast/internal/domain/repository"
)

// ClickHouseTelemetry implements TelemetryStore on the telemetry_raw table.
type ClickHouseTelemetry struct {
	db    *sql.DB
	table string
}

// NewClickHouseTelemetry creates ClickHouse-backed telemetry storage.
func NewClickHouseTelemetry(db *sql.DB, table string) repository.TelemetryStore {
	return &ClickHouseTelemetry{db: db, table: table}
}

func (s *ClickHouseTelemetry) Init(ctx context.Context) error {
	return nil // Schema init in pkg
}

func (s *ClickHouseTelemetry) Store(ctx context.Context, r *models.Reading) error {
	q := fmt.Sprintf("INSERT INTO %s (entity_id, signal, ts, value, quality) VALUES (?, ?, ?, ?, ?)", s.table)
	_, err := s.db.ExecContext(ctx, q,
		r.EntityID,
		r.Signal,
		r.Timestamp,
		r.Value,
		qualityOf(r),
	)
	return err
}

func (s *ClickHouseTelemetry) StoreBatch(ctx context.Context, rs []*models.Reading) error {
	if len(rs) == 0 {
		return nil
	}
	// Multi-row VALUES to reduce round-trips; chunked to bound statement size.
	const chunkSize = 2000
	for start := 0; start < len(rs); start += chunkSize {
		end := start + chunkSize
		if end > len(rs) {
			end = len(rs)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*5)
		for _, r := range rs[start:end] {
			if r == nil || r.EntityID == "" || r.Signal == "" || r.Timestamp.IsZero() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?)")
			args = append(args,
				r.EntityID,
				r.Signal,
				r.Timestamp,
				r.Value,
				qualityOf(r),
			)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (entity_id, signal, ts, value, quality) VALUES %s", s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}
	return nil
}

func (s *ClickHouseTelemetry) Series(ctx context.Context, entityID, signal string, from, to time.Time) ([]models.Reading, error) {
	q := fmt.Sprintf("SELECT entity_id, signal, ts, value, quality FROM %s WHERE entity_id = ? AND signal = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC", s.table)
	rows, err := s.db.QueryContext(ctx, q, entityID, signal, from, to)
	if err != nil {
		return nil, fmt.Errorf("telemetry series: %w", err)
	}
	defer rows.Close()

	out := make([]models.Reading, 0, 1024)
	for rows.Next() {
		var r models.Reading
		var quality string
		if err := rows.Scan(&r.EntityID, &r.Signal, &r.Timestamp, &r.Value, &quality); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.Quality = models.Quality(quality)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *ClickHouseTelemetry) LatestValue(ctx context.Context, entityID, signal string, t time.Time) (models.Reading, error) {
	q := fmt.Sprintf("SELECT entity_id, signal, ts, value, quality FROM %s WHERE entity_id = ? AND signal = ? AND ts <= ? ORDER BY ts DESC LIMIT 1", s.table)

	var r models.Reading
	var quality string
	err := s.db.QueryRowContext(ctx, q, entityID, signal, t).Scan(&r.EntityID, &r.Signal, &r.Timestamp, &r.Value, &quality)
	if err != nil {
		return models.Reading{}, fmt.Errorf("latest %s/%s: %w", entityID, signal, err)
	}
	r.Quality = models.Quality(quality)
	return r, nil
}

func (s *ClickHouseTelemetry) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseTelemetry) Close() error {
	return nil // Managed by pkg
}

func qualityOf(r *models.Reading) string {
	if r.Quality == "" {
		return string(models.QualityGood)
	}
	return string(r.Quality)
}
