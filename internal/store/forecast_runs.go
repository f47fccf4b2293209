package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ForecastRun records one served forecast so it can be fetched again by ID.
type ForecastRun struct {
	ID              string
	CreatedAt       time.Time
	Latitude        float64
	Longitude       float64
	CacheKey        string
	RequestedTarget time.Time
	EffectiveTarget time.Time
	LastObserved    time.Time
	HorizonDays     int
	Capped          bool
	Result          json.RawMessage
}

// InsertForecastRun stores run, assigning an ID and creation time when unset.
func (s *Store) InsertForecastRun(run *ForecastRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO forecast_runs (id, created_at, latitude, longitude, cache_key, requested_target, effective_target, last_observed, horizon_days, capped, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.CreatedAt, run.Latitude, run.Longitude, run.CacheKey,
		run.RequestedTarget, run.EffectiveTarget, run.LastObserved, run.HorizonDays, run.Capped, string(run.Result))
	if err != nil {
		return fmt.Errorf("insert forecast run: %w", err)
	}
	return nil
}

// GetForecastRun returns the run with id, or nil if it does not exist.
func (s *Store) GetForecastRun(id string) (*ForecastRun, error) {
	row := s.db.QueryRow(`
		SELECT id, created_at, latitude, longitude, cache_key, requested_target, effective_target, last_observed, horizon_days, capped, result_json
		FROM forecast_runs
		WHERE id = ?
	`, id)

	var run ForecastRun
	var result string
	err := row.Scan(&run.ID, &run.CreatedAt, &run.Latitude, &run.Longitude, &run.CacheKey,
		&run.RequestedTarget, &run.EffectiveTarget, &run.LastObserved, &run.HorizonDays, &run.Capped, &result)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.Result = json.RawMessage(result)
	return &run, nil
}

// CleanupOldForecastRuns deletes runs older than retentionDays.
func (s *Store) CleanupOldForecastRuns(retentionDays int) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM forecast_runs
		WHERE created_at < DATE('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
