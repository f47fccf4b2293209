// Package advice answers forecast-advice requests: it resolves the history
// window, obtains trained predictors, extends the series to the target date
// and derives irrigation and field recommendations for that day.
package advice

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lox/farmcast/internal/advisory"
	"github.com/lox/farmcast/internal/cache"
	"github.com/lox/farmcast/internal/features"
	"github.com/lox/farmcast/internal/forecast"
	"github.com/lox/farmcast/internal/ingest"
	"github.com/lox/farmcast/internal/irrigation"
	"github.com/lox/farmcast/internal/metrics"
	"github.com/lox/farmcast/internal/models"
	"github.com/lox/farmcast/internal/predictor"
	"github.com/lox/farmcast/internal/store"
)

// HistoryFetcher returns observed daily records for a point and window.
type HistoryFetcher interface {
	Fetch(ctx context.Context, lat, lon float64, start, end time.Time) (models.Series, error)
}

type Config struct {
	HistoryYears   int
	MaxHorizonDays int
	CacheSize      int
	CacheTTL       time.Duration
	PredictorKind  string
	NewPredictor   predictor.Factory
}

func DefaultConfig() Config {
	return Config{
		HistoryYears:   5,
		MaxHorizonDays: forecast.MaxHorizonDays,
		CacheSize:      64,
		CacheTTL:       24 * time.Hour,
		PredictorKind:  "ridge",
		NewPredictor:   predictor.NewRidge,
	}
}

type Service struct {
	history  HistoryFetcher
	store    *store.Store
	bundles  *cache.LRUWithTTL[predictor.Key, *predictor.Bundle]
	group    singleflight.Group
	extender forecast.Extender
	cfg      Config
	now      func() time.Time
}

// NewService wires the service. st may be nil to run without persistence.
func NewService(history HistoryFetcher, st *store.Store, cfg Config) (*Service, error) {
	def := DefaultConfig()
	if cfg.HistoryYears <= 0 {
		cfg.HistoryYears = def.HistoryYears
	}
	if cfg.MaxHorizonDays <= 0 {
		cfg.MaxHorizonDays = def.MaxHorizonDays
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.NewPredictor == nil {
		cfg.NewPredictor = def.NewPredictor
		cfg.PredictorKind = def.PredictorKind
	}

	bundles, err := cache.NewLRUWithTTL(cfg.CacheSize, cfg.CacheTTL,
		cache.WithEvictCallback[predictor.Key, *predictor.Bundle](metrics.CacheEvictions.Inc))
	if err != nil {
		return nil, fmt.Errorf("create bundle cache: %w", err)
	}

	return &Service{
		history:  history,
		store:    st,
		bundles:  bundles,
		extender: forecast.Extender{MaxHorizon: cfg.MaxHorizonDays},
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// SetClock overrides the service's notion of now, for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Result is the advice for one request. Values are unrounded.
type Result struct {
	RunID            string             `json:"run_id,omitempty"`
	Location         models.Location    `json:"location"`
	Window           Window             `json:"window"`
	RequestedTarget  time.Time          `json:"requested_target"`
	EffectiveTarget  time.Time          `json:"effective_target"`
	LastObserved     time.Time          `json:"last_observed"`
	HorizonDays      int                `json:"horizon_days"`
	Capped           bool               `json:"capped"`
	Warning          string             `json:"warning,omitempty"`
	Params           irrigation.Params  `json:"params"`
	Weather          models.DailyRecord `json:"weather"`
	Irrigation       irrigation.Result  `json:"irrigation"`
	LitersPerHectare float64            `json:"liters_per_hectare"`
	Advice           advisory.Advice    `json:"advice"`
}

// Advise runs the full pipeline for req.
func (s *Service) Advise(ctx context.Context, req Request) (*Result, error) {
	res, err := s.advise(ctx, req)
	metrics.ForecastsTotal.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("forecast %s at %s: %w", models.FormatDate(req.Target), req.Location(), err)
	}
	return res, nil
}

func (s *Service) advise(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.Target = models.Day(req.Target)

	window, err := ResolveWindow(req, s.now().UTC(), s.cfg.HistoryYears)
	if err != nil {
		return nil, err
	}
	key := predictor.NewKey(req.Latitude, req.Longitude, window.Start, window.End)

	bundle, err := s.Bundle(ctx, key)
	if err != nil {
		return nil, err
	}

	ext, err := s.extender.Extend(bundle.Series, bundle.Predictors, req.Target)
	if err != nil {
		return nil, err
	}
	metrics.ForecastHorizonDays.Observe(float64(ext.Horizon))

	var day models.DailyRecord
	if ext.NoOp {
		var ok bool
		if day, ok = ext.Series.Find(req.Target); !ok {
			return nil, fmt.Errorf("%w: no observation for %s in history ending %s",
				ErrTargetNotProduced, models.FormatDate(req.Target), models.FormatDate(ext.LastObserved))
		}
	} else {
		day = ext.Series.Last()
	}

	irr := irrigation.Estimate(day, req.Latitude, day.Date, req.Params)
	res := &Result{
		Location:         req.Location(),
		Window:           window,
		RequestedTarget:  req.Target,
		EffectiveTarget:  day.Date,
		LastObserved:     ext.LastObserved,
		HorizonDays:      ext.Horizon,
		Capped:           ext.Capped,
		Params:           req.Params,
		Weather:          day,
		Irrigation:       irr,
		LitersPerHectare: irrigation.LitersPerHectare(irr.NetMM),
		Advice:           advisory.Advise(day, irr),
	}
	if ext.Capped {
		res.Warning = fmt.Sprintf("target %s is more than %d days past the last observation (%s); forecast stops at %s",
			models.FormatDate(req.Target), s.extender.MaxHorizon, models.FormatDate(ext.LastObserved), models.FormatDate(ext.EffectiveTarget))
		log.Printf("advice: %s: %s", req.Location(), res.Warning)
	}

	s.recordRun(key, res)
	return res, nil
}

// recordRun persists the result for later retrieval. Failures are logged only.
func (s *Service) recordRun(key predictor.Key, res *Result) {
	if s.store == nil {
		return
	}
	body, err := json.Marshal(res)
	if err != nil {
		log.Printf("advice: marshal run: %v", err)
		return
	}
	run := &store.ForecastRun{
		Latitude:        res.Location.Latitude,
		Longitude:       res.Location.Longitude,
		CacheKey:        key.String(),
		RequestedTarget: res.RequestedTarget,
		EffectiveTarget: res.EffectiveTarget,
		LastObserved:    res.LastObserved,
		HorizonDays:     res.HorizonDays,
		Capped:          res.Capped,
		Result:          body,
	}
	if err := s.store.InsertForecastRun(run); err != nil {
		log.Printf("advice: record run: %v", err)
		return
	}
	res.RunID = run.ID
}

// Run returns a previously served result, or nil if id is unknown.
func (s *Service) Run(id string) (*Result, error) {
	if s.store == nil {
		return nil, nil
	}
	run, err := s.store.GetForecastRun(id)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	if run == nil {
		return nil, nil
	}
	var res Result
	if err := json.Unmarshal(run.Result, &res); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	res.RunID = run.ID
	return &res, nil
}

// SeriesResult is the observed tail plus the forecast, for charting.
type SeriesResult struct {
	Location        models.Location `json:"location"`
	LastObserved    time.Time       `json:"last_observed"`
	EffectiveTarget time.Time       `json:"effective_target"`
	Capped          bool            `json:"capped"`
	Records         models.Series   `json:"records"`
}

// Series returns the last historyDays observed records followed by every
// forecast day up to the target.
func (s *Service) Series(ctx context.Context, req Request, historyDays int) (*SeriesResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	window, err := ResolveWindow(req, s.now().UTC(), s.cfg.HistoryYears)
	if err != nil {
		return nil, err
	}
	bundle, err := s.Bundle(ctx, predictor.NewKey(req.Latitude, req.Longitude, window.Start, window.End))
	if err != nil {
		return nil, fmt.Errorf("series %s: %w", req.Location(), err)
	}
	ext, err := s.extender.Extend(bundle.Series, bundle.Predictors, req.Target)
	if err != nil {
		return nil, fmt.Errorf("series %s: %w", req.Location(), err)
	}

	from := len(bundle.Series) - historyDays
	if from < 0 || historyDays < 0 {
		from = 0
	}
	return &SeriesResult{
		Location:        req.Location(),
		LastObserved:    ext.LastObserved,
		EffectiveTarget: ext.Series.Last().Date,
		Capped:          ext.Capped,
		Records:         ext.Series[from:],
	}, nil
}

// Warm trains (or loads) the bundle for the default window ending today.
func (s *Service) Warm(ctx context.Context, lat, lon float64) error {
	_, err := s.Prepare(ctx, NewRequest(lat, lon, s.now().UTC()))
	return err
}

// Prepare makes sure a trained bundle exists for req's window and returns it.
func (s *Service) Prepare(ctx context.Context, req Request) (*predictor.Bundle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	window, err := ResolveWindow(req, s.now().UTC(), s.cfg.HistoryYears)
	if err != nil {
		return nil, err
	}
	return s.Bundle(ctx, predictor.NewKey(req.Latitude, req.Longitude, window.Start, window.End))
}

// PurgeExpired drops expired bundles from memory.
func (s *Service) PurgeExpired() int {
	return s.bundles.CleanupExpired()
}

// CacheStats reports in-memory bundle cache statistics.
func (s *Service) CacheStats() cache.Stats {
	return s.bundles.Stats()
}

// Bundle returns trained predictors for key from memory, the store, or by
// fetching history and training. Concurrent callers for the same key share
// one load; other keys are unaffected.
func (s *Service) Bundle(ctx context.Context, key predictor.Key) (*predictor.Bundle, error) {
	if b, ok := s.bundles.Get(key); ok {
		metrics.BundleLookups.WithLabelValues("memory").Inc()
		return b, nil
	}

	ch := s.group.DoChan(key.String(), func() (interface{}, error) {
		// Detached so one cancelled caller does not fail the others.
		return s.loadOrTrain(context.WithoutCancel(ctx), key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*predictor.Bundle), nil
	}
}

func (s *Service) loadOrTrain(ctx context.Context, key predictor.Key) (*predictor.Bundle, error) {
	if b, ok := s.bundles.Get(key); ok {
		metrics.BundleLookups.WithLabelValues("memory").Inc()
		return b, nil
	}

	if b := s.loadStored(key); b != nil {
		metrics.BundleLookups.WithLabelValues("store").Inc()
		s.bundles.Set(key, b)
		return b, nil
	}

	start, err := models.ParseCompact(key.Start)
	if err != nil {
		return nil, fmt.Errorf("bad key start: %w", err)
	}
	end, err := models.ParseCompact(key.End)
	if err != nil {
		return nil, fmt.Errorf("bad key end: %w", err)
	}

	series, err := s.history.Fetch(ctx, key.Lat, key.Lon, start, end)
	if err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: no usable records for %s", ingest.ErrUpstreamDataUnavailable, key)
	}
	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("history for %s: %w", key, err)
	}
	if len(series) < predictor.MinHistoryDays {
		return nil, fmt.Errorf("%w: %d days of history for %s, need at least %d days",
			features.ErrDataInsufficient, len(series), key, predictor.MinHistoryDays)
	}

	started := time.Now()
	b, err := predictor.Train(ctx, key, series, s.cfg.NewPredictor)
	if err != nil {
		return nil, fmt.Errorf("train %s: %w", key, err)
	}
	metrics.TrainingDuration.Observe(time.Since(started).Seconds())
	metrics.BundleLookups.WithLabelValues("trained").Inc()
	log.Printf("advice: trained bundle %s on %d days in %s", key, len(series), time.Since(started).Round(time.Millisecond))

	s.bundles.Set(key, b)
	s.saveBundle(b)
	return b, nil
}

func (s *Service) loadStored(key predictor.Key) *predictor.Bundle {
	if s.store == nil {
		return nil
	}
	rec, err := s.store.LoadBundle(key, s.now().UTC())
	if err != nil {
		log.Printf("advice: load bundle %s: %v", key, err)
		return nil
	}
	if rec == nil || rec.PredictorKind != s.cfg.PredictorKind {
		return nil
	}
	b, err := predictor.Restore(key, rec.Series, rec.State, rec.TrainedAt, s.cfg.NewPredictor)
	if err != nil {
		log.Printf("advice: restore bundle %s: %v", key, err)
		return nil
	}
	return b
}

func (s *Service) saveBundle(b *predictor.Bundle) {
	if s.store == nil {
		return
	}
	state, err := b.Snapshot()
	if err != nil {
		log.Printf("advice: snapshot bundle %s: %v", b.Key, err)
		return
	}
	rec := store.BundleRecord{
		Key:           b.Key,
		PredictorKind: s.cfg.PredictorKind,
		State:         state,
		Series:        b.Series,
		TrainedAt:     b.TrainedAt,
	}
	if s.cfg.CacheTTL > 0 {
		rec.ExpiresAt = sql.NullTime{Time: s.now().UTC().Add(s.cfg.CacheTTL), Valid: true}
	}
	if err := s.store.SaveBundle(rec); err != nil {
		log.Printf("advice: save bundle %s: %v", b.Key, err)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, features.ErrDataInsufficient):
		return "insufficient"
	case errors.Is(err, ErrTargetNotProduced):
		return "not_produced"
	case errors.Is(err, ingest.ErrUpstreamDataUnavailable):
		return "upstream"
	default:
		return "error"
	}
}
