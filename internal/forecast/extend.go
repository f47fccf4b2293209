// Package forecast extends an observed daily series forward by feeding each
// predicted day back in as history for the next.
package forecast

import (
	"errors"
	"fmt"
	"time"

	"github.com/lox/farmcast/internal/features"
	"github.com/lox/farmcast/internal/models"
	"github.com/lox/farmcast/internal/predictor"
)

// MaxHorizonDays bounds how far past the last observation Extend will go.
const MaxHorizonDays = 2190

// Extension is the result of Extend.
type Extension struct {
	Series          models.Series
	LastObserved    time.Time
	RequestedTarget time.Time
	EffectiveTarget time.Time
	// Horizon is the number of days actually appended.
	Horizon int
	// NoOp is set when the target is on or before the last observed date.
	NoOp bool
	// Capped is set when the requested horizon exceeded the limit and the
	// series stops at EffectiveTarget instead.
	Capped bool
}

// Extender runs Extend with a configurable horizon limit.
type Extender struct {
	MaxHorizon int
}

// Extend uses the default horizon limit.
func Extend(series models.Series, predictors map[models.Variable]predictor.Predictor, target time.Time) (Extension, error) {
	return Extender{MaxHorizon: MaxHorizonDays}.Extend(series, predictors, target)
}

// Extend returns a copy of series with one synthetic record per day up to
// target. Existing records are never modified or reordered.
func (e Extender) Extend(series models.Series, predictors map[models.Variable]predictor.Predictor, target time.Time) (Extension, error) {
	if len(series) == 0 {
		return Extension{}, errors.New("extend: empty series")
	}
	for _, v := range models.Variables {
		if predictors[v] == nil {
			return Extension{}, fmt.Errorf("extend: no predictor for %s", v)
		}
	}

	limit := e.MaxHorizon
	if limit <= 0 || limit > MaxHorizonDays {
		limit = MaxHorizonDays
	}

	last := series.Last().Date
	target = models.Day(target)
	ext := Extension{
		LastObserved:    last,
		RequestedTarget: target,
		EffectiveTarget: target,
	}

	horizon := models.DaysBetween(last, target)
	if horizon <= 0 {
		ext.Series = append(models.Series(nil), series...)
		ext.NoOp = true
		return ext, nil
	}
	if horizon > limit {
		horizon = limit
		ext.Capped = true
		ext.EffectiveTarget = last.AddDate(0, 0, limit)
	}

	out := make(models.Series, len(series), len(series)+horizon)
	copy(out, series)

	date := last
	for i := 0; i < horizon; i++ {
		date = date.AddDate(0, 0, 1)
		row, err := features.Next(out, date)
		if err != nil {
			return Extension{}, fmt.Errorf("extend to %s: %w", models.FormatDate(date), err)
		}
		out = append(out, predictDay(row, predictors))
	}

	ext.Series = out
	ext.Horizon = horizon
	return ext, nil
}

func predictDay(row features.Row, predictors map[models.Variable]predictor.Predictor) models.DailyRecord {
	rec := models.DailyRecord{Date: row.Date, Synthetic: true}
	for _, v := range models.Variables {
		rec.Set(v, predictors[v].Predict(row))
	}
	rec.Precip = floorAt(rec.Precip, 0)
	return rec
}

func floorAt(x, lo float64) float64 {
	if x < lo {
		return lo
	}
	return x
}
