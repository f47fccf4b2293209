package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lox/farmcast/internal/features"
	"github.com/lox/farmcast/internal/models"
)

// Predictor is a trainable point estimator for one target variable.
type Predictor interface {
	Fit(rows []features.Row, targets []float64) error
	Predict(row features.Row) float64
}

// Factory creates an untrained predictor.
type Factory func() Predictor

// Key identifies a trained bundle: a location rounded to two decimals and a
// history window.
type Key struct {
	Lat   float64
	Lon   float64
	Start string // YYYYMMDD
	End   string // YYYYMMDD
}

// NewKey rounds the coordinates so nearby requests share a bundle.
func NewKey(lat, lon float64, start, end time.Time) Key {
	return Key{
		Lat:   round2(lat),
		Lon:   round2(lon),
		Start: models.FormatCompact(start),
		End:   models.FormatCompact(end),
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%.2f_%.2f_%s_%s", k.Lat, k.Lon, k.Start, k.End)
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// Bundle is the four trained predictors and the series they were trained on.
// A bundle is immutable once returned from Train or Restore.
type Bundle struct {
	Key        Key
	Series     models.Series
	Predictors map[models.Variable]Predictor
	TrainedAt  time.Time
}

// Train fits one predictor per variable on the full feature table. The four
// fits run concurrently; the feature table is shared read-only.
func Train(ctx context.Context, key Key, series models.Series, newPredictor Factory) (*Bundle, error) {
	rows, err := features.Build(series)
	if err != nil {
		return nil, fmt.Errorf("build features: %w", err)
	}

	fitted := make([]Predictor, len(models.Variables))
	g, ctx := errgroup.WithContext(ctx)
	for i, v := range models.Variables {
		i, v := i, v // per-iteration copies (go directive < 1.22)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p := newPredictor()
			if err := p.Fit(rows, features.Targets(series, v)); err != nil {
				return fmt.Errorf("fit %s: %w", v, err)
			}
			fitted[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	b := &Bundle{
		Key:        key,
		Series:     append(models.Series(nil), series...),
		Predictors: make(map[models.Variable]Predictor, len(models.Variables)),
		TrainedAt:  time.Now().UTC(),
	}
	for i, v := range models.Variables {
		b.Predictors[v] = fitted[i]
	}
	return b, nil
}

// Snapshot encodes each predictor's fitted state. Predictors must be JSON
// serialisable.
func (b *Bundle) Snapshot() (map[models.Variable]json.RawMessage, error) {
	out := make(map[models.Variable]json.RawMessage, len(b.Predictors))
	for v, p := range b.Predictors {
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal %s predictor: %w", v, err)
		}
		out[v] = raw
	}
	return out, nil
}

// Restore rebuilds a bundle from a Snapshot using predictors from newPredictor.
// Predictors with a Validate method are checked after decoding.
func Restore(key Key, series models.Series, state map[models.Variable]json.RawMessage, trainedAt time.Time, newPredictor Factory) (*Bundle, error) {
	b := &Bundle{
		Key:        key,
		Series:     series,
		Predictors: make(map[models.Variable]Predictor, len(models.Variables)),
		TrainedAt:  trainedAt,
	}
	for _, v := range models.Variables {
		raw, ok := state[v]
		if !ok {
			return nil, fmt.Errorf("restore bundle %s: missing %s predictor", key, v)
		}
		p := newPredictor()
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, fmt.Errorf("restore bundle %s: unmarshal %s: %w", key, v, err)
		}
		if vp, ok := p.(interface{ Validate() error }); ok {
			if err := vp.Validate(); err != nil {
				return nil, fmt.Errorf("restore bundle %s: %s: %w", key, v, err)
			}
		}
		b.Predictors[v] = p
	}
	return b, nil
}
