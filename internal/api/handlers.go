package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lox/farmcast/internal/advice"
	"github.com/lox/farmcast/internal/cache"
	"github.com/lox/farmcast/internal/features"
	"github.com/lox/farmcast/internal/ingest"
	"github.com/lox/farmcast/internal/models"
	"github.com/lox/farmcast/internal/store"
)

// Used when a request omits its location.
const (
	DefaultLatitude  = 45.65
	DefaultLongitude = -73.38
)

const (
	defaultSeriesHistoryDays = 60
	maxSeriesHistoryDays     = 3660
)

type forecastRequest struct {
	Lat             *float64 `json:"lat"`
	Lon             *float64 `json:"lon"`
	TargetDate      string   `json:"target_date"`
	Kc              *float64 `json:"kc"`
	SoilBufferMM    *float64 `json:"soil_buffer_mm"`
	EffRainFraction *float64 `json:"eff_rain_factor"`
	Start           string   `json:"start"`
	End             string   `json:"end"`
}

func (f forecastRequest) toRequest() (advice.Request, error) {
	lat, lon := DefaultLatitude, DefaultLongitude
	if f.Lat != nil {
		lat = *f.Lat
	}
	if f.Lon != nil {
		lon = *f.Lon
	}
	if f.TargetDate == "" {
		return advice.Request{}, fmt.Errorf("%w: target_date required", advice.ErrInvalidRequest)
	}
	target, err := ParseDay(f.TargetDate)
	if err != nil {
		return advice.Request{}, fmt.Errorf("%w: target_date: %w", advice.ErrInvalidRequest, err)
	}

	req := advice.NewRequest(lat, lon, target)
	if f.Kc != nil {
		req.Params.CropCoefficient = *f.Kc
	}
	if f.SoilBufferMM != nil {
		req.Params.SoilBufferMM = *f.SoilBufferMM
	}
	if f.EffRainFraction != nil {
		req.Params.EffectiveRainFraction = *f.EffRainFraction
	}
	if f.Start != "" {
		if req.Start, err = ParseDay(f.Start); err != nil {
			return advice.Request{}, fmt.Errorf("%w: start: %w", advice.ErrInvalidRequest, err)
		}
	}
	if f.End != "" {
		if req.End, err = ParseDay(f.End); err != nil {
			return advice.Request{}, fmt.Errorf("%w: end: %w", advice.ErrInvalidRequest, err)
		}
	}
	return req, nil
}

// ParseDay accepts YYYY-MM-DD or YYYYMMDD.
func ParseDay(s string) (time.Time, error) {
	if t, err := models.ParseDate(s); err == nil {
		return t, nil
	}
	t, err := models.ParseCompact(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD or YYYYMMDD", s)
	}
	return t, nil
}

func (s *Server) handleForecastAdvice(w http.ResponseWriter, r *http.Request) {
	var body forecastRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	req, err := body.toRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.service.Advise(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if res.Capped {
		w.Header().Set("Warning", strconv.Quote(res.Warning))
	}
	writeJSON(w, http.StatusOK, NewForecastResponse(res))
}

func (s *Server) handleForecastSeries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	body := forecastRequest{TargetDate: q.Get("target_date"), Start: q.Get("start"), End: q.Get("end")}
	for name, dst := range map[string]**float64{"lat": &body.Lat, "lon": &body.Lon} {
		if v := q.Get(name); v != "" {
			x, err := strconv.ParseFloat(v, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid "+name)
				return
			}
			*dst = &x
		}
	}
	req, err := body.toRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	historyDays := defaultSeriesHistoryDays
	if v := q.Get("history_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > maxSeriesHistoryDays {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("history_days must be between 0 and %d", maxSeriesHistoryDays))
			return
		}
		historyDays = n
	}

	res, err := s.service.Series(r.Context(), req, historyDays)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewSeriesResponse(res))
}

func (s *Server) handleForecastRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	res, err := s.service.Run(id)
	if err != nil {
		log.Printf("api: get run %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if res == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, NewForecastResponse(res))
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, advice.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, features.ErrDataInsufficient):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ingest.ErrUpstreamDataUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= 500 {
		log.Printf("api: %v", err)
	}
	writeError(w, status, err.Error())
}

type HealthStatus struct {
	Status string      `json:"status"`
	Store  string      `json:"store"`
	Cache  cache.Stats `json:"cache"`
	Error  string      `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok", Store: "disabled", Cache: s.service.CacheStats()}
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			health.Status, health.Store, health.Error = "error", "unreachable", err.Error()
			writeJSON(w, http.StatusServiceUnavailable, health)
			return
		}
		health.Store = "ok"
	}
	writeJSON(w, http.StatusOK, health)
}

type IngestHealth struct {
	Days         []store.IngestHealthSummary `json:"days"`
	RecentErrors []IngestError               `json:"recent_errors"`
	RawPayloads  *store.RawPayloadStats      `json:"raw_payloads"`
	Bundles      []store.BundleSummary       `json:"bundles"`
	Cache        cache.Stats                 `json:"cache"`
}

type IngestError struct {
	StartedAt  time.Time `json:"started_at"`
	LocationID string    `json:"location,omitempty"`
	Window     string    `json:"window,omitempty"`
	HTTPStatus int64     `json:"http_status,omitempty"`
	Message    string    `json:"message"`
}

func (s *Server) handleIngestHealth(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store disabled")
		return
	}

	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 90 {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 90")
			return
		}
		days = n
	}

	summary, err := s.store.GetIngestHealth(days)
	if err != nil {
		s.writeServiceError(w, fmt.Errorf("ingest health: %w", err))
		return
	}
	runs, err := s.store.GetRecentIngestErrors(10)
	if err != nil {
		s.writeServiceError(w, fmt.Errorf("recent ingest errors: %w", err))
		return
	}
	payloads, err := s.store.GetRawPayloadStats()
	if err != nil {
		s.writeServiceError(w, fmt.Errorf("raw payload stats: %w", err))
		return
	}
	bundles, err := s.store.ListBundles(20)
	if err != nil {
		s.writeServiceError(w, fmt.Errorf("list bundles: %w", err))
		return
	}

	health := IngestHealth{
		Days:         summary,
		RecentErrors: make([]IngestError, 0, len(runs)),
		RawPayloads:  payloads,
		Bundles:      bundles,
		Cache:        s.service.CacheStats(),
	}
	for _, run := range runs {
		e := IngestError{
			StartedAt:  run.StartedAt,
			LocationID: run.LocationID.String,
			HTTPStatus: run.HTTPStatus.Int64,
			Message:    run.ErrorMessage.String,
		}
		if run.WindowStart.Valid {
			e.Window = run.WindowStart.String + "-" + run.WindowEnd.String
		}
		health.RecentErrors = append(health.RecentErrors, e)
	}
	writeJSON(w, http.StatusOK, health)
}
