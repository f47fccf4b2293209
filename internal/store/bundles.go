package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lox/farmcast/internal/models"
	"github.com/lox/farmcast/internal/predictor"
)

// BundleRecord is a persisted predictor bundle.
type BundleRecord struct {
	Key           predictor.Key
	PredictorKind string
	State         map[models.Variable]json.RawMessage
	Series        models.Series
	TrainedAt     time.Time
	ExpiresAt     sql.NullTime
}

// SaveBundle upserts a bundle's fitted state and training series.
func (s *Store) SaveBundle(b BundleRecord) error {
	state, err := json.Marshal(b.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	series, err := json.Marshal(b.Series)
	if err != nil {
		return fmt.Errorf("marshal series: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO predictor_bundles (cache_key, latitude, longitude, window_start, window_end, predictor_kind, state_json, series_json, row_count, trained_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			predictor_kind = excluded.predictor_kind,
			state_json = excluded.state_json,
			series_json = excluded.series_json,
			row_count = excluded.row_count,
			trained_at = excluded.trained_at,
			expires_at = excluded.expires_at
	`, b.Key.String(), b.Key.Lat, b.Key.Lon, b.Key.Start, b.Key.End, b.PredictorKind,
		string(state), string(series), len(b.Series), b.TrainedAt.UTC(), b.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save bundle %s: %w", b.Key, err)
	}
	return nil
}

// LoadBundle returns the bundle for key, or nil if none is stored or it has
// expired as of now.
func (s *Store) LoadBundle(key predictor.Key, now time.Time) (*BundleRecord, error) {
	row := s.db.QueryRow(`
		SELECT predictor_kind, state_json, series_json, trained_at, expires_at
		FROM predictor_bundles
		WHERE cache_key = ?
	`, key.String())

	var (
		state, series string
		rec           = BundleRecord{Key: key}
	)
	err := row.Scan(&rec.PredictorKind, &state, &series, &rec.TrainedAt, &rec.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load bundle %s: %w", key, err)
	}
	if rec.ExpiresAt.Valid && !now.Before(rec.ExpiresAt.Time) {
		return nil, nil
	}

	if err := json.Unmarshal([]byte(state), &rec.State); err != nil {
		return nil, fmt.Errorf("unmarshal bundle %s state: %w", key, err)
	}
	if err := json.Unmarshal([]byte(series), &rec.Series); err != nil {
		return nil, fmt.Errorf("unmarshal bundle %s series: %w", key, err)
	}
	return &rec, nil
}

// BundleSummary describes a stored bundle without its payload.
type BundleSummary struct {
	Key       string    `json:"key"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	RowCount  int       `json:"rows"`
	TrainedAt time.Time `json:"trained_at"`
}

// ListBundles returns stored bundles, most recently trained first.
func (s *Store) ListBundles(limit int) ([]BundleSummary, error) {
	rows, err := s.db.Query(`
		SELECT cache_key, latitude, longitude, row_count, trained_at
		FROM predictor_bundles
		ORDER BY trained_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BundleSummary
	for rows.Next() {
		var b BundleSummary
		if err := rows.Scan(&b.Key, &b.Latitude, &b.Longitude, &b.RowCount, &b.TrainedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteExpiredBundles removes bundles whose expiry is at or before now.
func (s *Store) DeleteExpiredBundles(now time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM predictor_bundles WHERE expires_at IS NOT NULL AND expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
