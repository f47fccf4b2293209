package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// PayloadRef identifies which request a raw payload answered.
type PayloadRef struct {
	RunID       *int64
	Source      string
	Endpoint    string
	LocationID  string
	WindowStart string // YYYYMMDD
	WindowEnd   string // YYYYMMDD
}

// RawPayload is a stored upstream response, still compressed.
type RawPayload struct {
	ID                int64
	IngestRunID       sql.NullInt64
	FetchedAt         time.Time
	Source            string
	Endpoint          string
	LocationID        sql.NullString
	WindowStart       sql.NullString
	WindowEnd         sql.NullString
	PayloadCompressed []byte
	PayloadHash       string
	SchemaVersion     int
}

// Decompress returns the original response body.
func (p *RawPayload) Decompress() ([]byte, error) {
	return gunzip(p.PayloadCompressed)
}

// PayloadHash is the dedup key for a response body.
func PayloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// StoreRawPayload stores a gzip-compressed upstream response. It returns the
// payload ID, or 0 if an identical body is already stored.
func (s *Store) StoreRawPayload(ref PayloadRef, payload []byte) (int64, error) {
	compressed, err := gzipBytes(payload)
	if err != nil {
		return 0, err
	}

	var runID sql.NullInt64
	if ref.RunID != nil {
		runID = sql.NullInt64{Int64: *ref.RunID, Valid: true}
	}

	result, err := s.db.Exec(`
		INSERT INTO raw_payloads
		(ingest_run_id, fetched_at, source, endpoint, location_id, window_start, window_end,
		 payload_compressed, payload_hash, schema_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(payload_hash) DO NOTHING
	`, runID, time.Now().UTC(), ref.Source, ref.Endpoint, nullString(ref.LocationID),
		nullString(ref.WindowStart), nullString(ref.WindowEnd), compressed, PayloadHash(payload))
	if err != nil {
		return 0, fmt.Errorf("insert raw payload: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return 0, nil
	}
	return result.LastInsertId()
}

// GetRawPayload returns the decompressed body of payload id.
func (s *Store) GetRawPayload(id int64) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`SELECT payload_compressed FROM raw_payloads WHERE id = ?`, id).Scan(&compressed)
	if err != nil {
		return nil, err
	}
	return gunzip(compressed)
}

const rawPayloadColumns = `id, ingest_run_id, fetched_at, source, endpoint, location_id, window_start, window_end,
	payload_compressed, payload_hash, schema_version`

func scanRawPayload(row *sql.Row) (*RawPayload, error) {
	var p RawPayload
	err := row.Scan(&p.ID, &p.IngestRunID, &p.FetchedAt, &p.Source, &p.Endpoint, &p.LocationID,
		&p.WindowStart, &p.WindowEnd, &p.PayloadCompressed, &p.PayloadHash, &p.SchemaVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetRawPayloadByHash returns the payload with the given hash, or nil.
func (s *Store) GetRawPayloadByHash(hash string) (*RawPayload, error) {
	return scanRawPayload(s.db.QueryRow(`SELECT `+rawPayloadColumns+` FROM raw_payloads WHERE payload_hash = ?`, hash))
}

// LatestRawPayload returns the most recent payload that answered exactly this
// source, location and window, or nil if there is none.
func (s *Store) LatestRawPayload(source, locationID, windowStart, windowEnd string) (*RawPayload, error) {
	p, err := scanRawPayload(s.db.QueryRow(`SELECT `+rawPayloadColumns+`
		FROM raw_payloads
		WHERE source = ? AND location_id = ? AND window_start = ? AND window_end = ?
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1
	`, source, locationID, windowStart, windowEnd))
	if err != nil {
		return nil, fmt.Errorf("latest raw payload %s %s-%s: %w", locationID, windowStart, windowEnd, err)
	}
	return p, nil
}

// RawPayloadStats summarises raw payload storage.
type RawPayloadStats struct {
	TotalCount      int              `json:"total_count"`
	TotalSizeBytes  int64            `json:"total_size_bytes"`
	OldestFetchedAt time.Time        `json:"oldest_fetched_at"`
	NewestFetchedAt time.Time        `json:"newest_fetched_at"`
	Locations       int              `json:"locations"`
	CountBySource   map[string]int   `json:"count_by_source"`
	SizeBySource    map[string]int64 `json:"size_by_source"`
}

func (s *Store) GetRawPayloadStats() (*RawPayloadStats, error) {
	stats := &RawPayloadStats{
		CountBySource: make(map[string]int),
		SizeBySource:  make(map[string]int64),
	}

	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(LENGTH(payload_compressed)), 0), COUNT(DISTINCT location_id)
		FROM raw_payloads
	`).Scan(&stats.TotalCount, &stats.TotalSizeBytes, &stats.Locations)
	if err != nil {
		return nil, err
	}
	if stats.TotalCount > 0 {
		// MIN/MAX lose the column's DATETIME type, so read the edge rows.
		if stats.OldestFetchedAt, err = s.fetchedAtEdge("ASC"); err != nil {
			return nil, err
		}
		if stats.NewestFetchedAt, err = s.fetchedAtEdge("DESC"); err != nil {
			return nil, err
		}
	}

	rows, err := s.db.Query(`
		SELECT source, COUNT(*), SUM(LENGTH(payload_compressed))
		FROM raw_payloads
		GROUP BY source
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var source string
		var count int
		var size int64
		if err := rows.Scan(&source, &count, &size); err != nil {
			return nil, err
		}
		stats.CountBySource[source] = count
		stats.SizeBySource[source] = size
	}
	return stats, rows.Err()
}

func (s *Store) fetchedAtEdge(order string) (time.Time, error) {
	var t time.Time
	err := s.db.QueryRow(`SELECT fetched_at FROM raw_payloads ORDER BY fetched_at ` + order + `, id LIMIT 1`).Scan(&t)
	if err != nil {
		return time.Time{}, fmt.Errorf("raw payload fetched_at %s: %w", order, err)
	}
	return t, nil
}

// CleanupOldRawPayloads deletes payloads fetched more than retentionDays ago.
func (s *Store) CleanupOldRawPayloads(retentionDays int) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM raw_payloads
		WHERE fetched_at < ?
	`, time.Now().UTC().AddDate(0, 0, -retentionDays))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(b); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	return buf.Bytes(), nil
}

func gunzip(b []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()
	return io.ReadAll(gz)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
