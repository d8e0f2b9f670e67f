package repository

import "fmt"

// Schema returns idempotent DDL for every GridCast table. Mutable model
// status lives in a ReplacingMergeTree keyed by id; everything else is
// append-only.
func Schema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.telemetry_raw (entity_id String, signal String, ts DateTime, value Float64, quality String) ENGINE=MergeTree ORDER BY (entity_id, signal, ts)", database),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.forecast_points (forecast_type String, entity_id String, issued_at DateTime, target_ts DateTime, point_estimate Float64, lower_bound Float64, upper_bound Float64, model_version String, energy_kwh Float64, clamped UInt8) ENGINE=MergeTree ORDER BY (forecast_type, entity_id, target_ts, issued_at)", database),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.price_points (issued_at DateTime, target_ts DateTime, price Float64, tier String, adjustment Float64, demand_kw Float64, supply_kw Float64, degraded UInt8, iterations Int32) ENGINE=MergeTree ORDER BY (target_ts, issued_at)", database),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.model_versions (id String, forecast_type String, trained_at DateTime, window_from DateTime, window_to DateTime, validation_error Float64, status String, payload String, updated_at DateTime) ENGINE=ReplacingMergeTree(updated_at) ORDER BY id", database),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.accuracy_records (model_version String, forecast_type String, window_from DateTime, window_to DateTime, mae Float64, rmse Float64, mape Float64, samples UInt32, computed_at DateTime) ENGINE=MergeTree ORDER BY (forecast_type, computed_at)", database),
	}
}
