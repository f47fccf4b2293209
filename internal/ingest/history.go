package ingest

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/lox/farmcast/internal/models"
	"github.com/lox/farmcast/internal/store"
)

// DailyFetcher fetches a daily series for a point.
type DailyFetcher interface {
	FetchDaily(ctx context.Context, lat, lon float64, start, end time.Time) (models.Series, *FetchResult, error)
}

// History fetches upstream history and records every call in ingest_runs
// and raw_payloads. When the upstream fails, the last stored response for the
// same location and window is replayed. A nil store disables both.
type History struct {
	fetcher DailyFetcher
	store   *store.Store
}

func NewHistory(fetcher DailyFetcher, st *store.Store) *History {
	return &History{fetcher: fetcher, store: st}
}

func (h *History) Fetch(ctx context.Context, lat, lon float64, start, end time.Time) (models.Series, error) {
	locationID := models.Location{Latitude: lat, Longitude: lon}.String()
	windowStart, windowEnd := models.FormatCompact(start), models.FormatCompact(end)

	var run *store.IngestRun
	if h.store != nil {
		var err error
		run, err = h.store.StartIngestRun(Source, Endpoint, &locationID, windowStart, windowEnd)
		if err != nil {
			log.Printf("ingest: start run for %s: %v", locationID, err)
		}
	}

	log.Printf("ingest: fetching %s %s..%s", locationID, models.FormatDate(start), models.FormatDate(end))
	series, fetchResult, err := h.fetcher.FetchDaily(ctx, lat, lon, start, end)

	if run != nil {
		run.Success = err == nil
		if fetchResult != nil {
			run.HTTPStatus = sql.NullInt64{Int64: int64(fetchResult.HTTPStatus), Valid: fetchResult.HTTPStatus > 0}
			run.ResponseSizeBytes = sql.NullInt64{Int64: int64(fetchResult.ResponseSize), Valid: fetchResult.ResponseSize > 0}
			run.RecordsParsed = sql.NullInt64{Int64: int64(fetchResult.RecordCount), Valid: true}
			run.RecordsDropped = sql.NullInt64{Int64: int64(fetchResult.Dropped), Valid: true}
			run.RecordsFlagged = sql.NullInt64{Int64: int64(fetchResult.Flagged), Valid: true}

			if len(fetchResult.Body) > 0 {
				ref := store.PayloadRef{
					RunID:       &run.ID,
					Source:      Source,
					Endpoint:    Endpoint,
					LocationID:  locationID,
					WindowStart: windowStart,
					WindowEnd:   windowEnd,
				}
				if _, err := h.store.StoreRawPayload(ref, fetchResult.Body); err != nil {
					log.Printf("ingest: store raw payload: %v", err)
				}
			}
		}
		if err != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		}
		if err := h.store.CompleteIngestRun(run); err != nil {
			log.Printf("ingest: complete run %d: %v", run.ID, err)
		}
	}

	if err != nil {
		if ctx.Err() == nil {
			if series := h.replay(locationID, windowStart, windowEnd); len(series) > 0 {
				log.Printf("ingest: %s upstream failed (%v), replayed %d stored days", locationID, err, len(series))
				return series, nil
			}
		}
		return nil, err
	}
	if fetchResult != nil && fetchResult.Dropped > 0 {
		log.Printf("ingest: %s dropped %d incomplete days", locationID, fetchResult.Dropped)
	}
	return series, nil
}

func (h *History) replay(locationID, windowStart, windowEnd string) models.Series {
	if h.store == nil {
		return nil
	}
	p, err := h.store.LatestRawPayload(Source, locationID, windowStart, windowEnd)
	if err != nil {
		log.Printf("ingest: %v", err)
		return nil
	}
	if p == nil {
		return nil
	}
	body, err := p.Decompress()
	if err != nil {
		log.Printf("ingest: decompress payload %d: %v", p.ID, err)
		return nil
	}
	series, _, err := parsePower(body)
	if err != nil {
		log.Printf("ingest: parse stored payload %d: %v", p.ID, err)
		return nil
	}
	return series
}
