// Package features turns a daily weather series into a supervised-learning table.
//
// Each row carries a cyclical day-of-year encoding plus, for every measured
// variable, the values 1, 7 and 14 rows earlier and a 7-row trailing mean.
// Offsets are positional: a series with calendar gaps is not re-indexed.
package features

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lox/farmcast/internal/models"
)

const (
	// MaxLag is the deepest lag and the number of leading rows Build drops.
	MaxLag = 14
	// RollWindow is the trailing mean window, inclusive of the current row.
	RollWindow = 7

	// YearCycle is the day-of-year period. 366 keeps leap years phase-continuous.
	YearCycle = 366.0
)

// Lags are the row offsets used for each variable.
var Lags = []int{1, 7, MaxLag}

// ErrDataInsufficient means the series is too short to produce a training table.
var ErrDataInsufficient = errors.New("insufficient history")

// Columns names the entries of Row.Values, in order.
var Columns = buildColumns()

// Width is the number of features per row.
const Width = 2 + 4*4

// Row is the feature vector for one date.
type Row struct {
	Date   time.Time
	Values [Width]float64
}

func buildColumns() []string {
	cols := []string{"sin_doy", "cos_doy"}
	for _, v := range models.Variables {
		for _, lag := range Lags {
			cols = append(cols, fmt.Sprintf("%s_lag%d", v, lag))
		}
		cols = append(cols, fmt.Sprintf("%s_roll%d", v, RollWindow))
	}
	return cols
}

// Build returns one row per record that has MaxLag earlier records, i.e.
// len(series)-MaxLag rows paired with series[MaxLag:]. A series of exactly
// MaxLag records yields no rows.
func Build(series models.Series) ([]Row, error) {
	if len(series) < MaxLag {
		return nil, fmt.Errorf("%w: %d rows, need at least %d", ErrDataInsufficient, len(series), MaxLag)
	}

	rows := make([]Row, 0, len(series)-MaxLag)
	for i := MaxLag; i < len(series); i++ {
		row := Row{Date: series[i].Date}
		cyclical(&row)
		col := 2
		for _, v := range models.Variables {
			for _, lag := range Lags {
				row.Values[col] = series[i-lag].Value(v)
				col++
			}
			row.Values[col] = mean(series[i-RollWindow+1:i+1], v)
			col++
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Next returns the row for a pending day appended directly after series.
// Lags reference committed records only; the rolling mean covers the
// RollWindow most recent committed records because the pending day's own
// values are not yet known.
//
// The *_roll7 columns are therefore shifted one day relative to Build,
// whose window includes the row's own record. Predictors fitted on Build
// rows see that column one day later at inference time.
func Next(series models.Series, date time.Time) (Row, error) {
	n := len(series)
	if n < MaxLag {
		return Row{}, fmt.Errorf("%w: %d rows, need %d", ErrDataInsufficient, n, MaxLag)
	}

	row := Row{Date: models.Day(date)}
	cyclical(&row)
	col := 2
	for _, v := range models.Variables {
		for _, lag := range Lags {
			row.Values[col] = series[n-lag].Value(v)
			col++
		}
		row.Values[col] = mean(series[n-RollWindow:], v)
		col++
	}
	return row, nil
}

// Targets extracts the training targets for v aligned with Build's rows.
func Targets(series models.Series, v models.Variable) []float64 {
	if len(series) <= MaxLag {
		return nil
	}
	out := make([]float64, 0, len(series)-MaxLag)
	for _, r := range series[MaxLag:] {
		out = append(out, r.Value(v))
	}
	return out
}

// DayOfYearCyclical returns sin and cos of the date's day-of-year over YearCycle.
func DayOfYearCyclical(date time.Time) (float64, float64) {
	angle := 2 * math.Pi * float64(date.YearDay()) / YearCycle
	return math.Sin(angle), math.Cos(angle)
}

func cyclical(row *Row) {
	row.Values[0], row.Values[1] = DayOfYearCyclical(row.Date)
}

func mean(window models.Series, v models.Variable) float64 {
	var sum float64
	for _, r := range window {
		sum += r.Value(v)
	}
	return sum / float64(len(window))
}
