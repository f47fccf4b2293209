package forecast

import (
	"testing"
	"time"

	"github.com/lox/farmcast/internal/features"
	"github.com/lox/farmcast/internal/models"
	"github.com/lox/farmcast/internal/predictor"
)

// constPredictor always returns the same value.
type constPredictor float64

func (c constPredictor) Fit([]features.Row, []float64) error { return nil }
func (c constPredictor) Predict(features.Row) float64     { return float64(c) }

// lagPredictor returns a feature column shifted by Offset, so every
// prediction depends on previously committed records.
type lagPredictor struct {
	Column int
	Offset float64
}

func (p lagPredictor) Fit([]features.Row, []float64) error { return nil }
func (p lagPredictor) Predict(row features.Row) float64  { return row.Values[p.Column] + p.Offset }

func columnIndex(t *testing.T, name string) int {
	t.Helper()
	for i, c := range features.Columns {
		if c == name {
			return i
		}
	}
	t.Fatalf("unknown column %q", name)
	return -1
}

func history(n int) models.Series {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := make(models.Series, n)
	for i := range s {
		s[i] = models.DailyRecord{
			Date:     start.AddDate(0, 0, i),
			Temp:     15 + float64(i%5),
			Humidity: 60,
			Wind:     3,
			Precip:   float64(i % 4),
		}
	}
	return s
}

func constants(temp, hum, wind, precip float64) map[models.Variable]predictor.Predictor {
	return map[models.Variable]predictor.Predictor{
		models.Temp:     constPredictor(temp),
		models.Humidity: constPredictor(hum),
		models.Wind:     constPredictor(wind),
		models.Precip:   constPredictor(precip),
	}
}

func TestExtendNoOp(t *testing.T) {
	s := history(30)
	last := s.Last().Date

	tests := []struct {
		name   string
		target time.Time
	}{
		{"target is last observed", last},
		{"target before last observed", last.AddDate(0, 0, -10)},
		{"target before series start", last.AddDate(-1, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := Extend(s, constants(20, 50, 2, 1), tt.target)
			if err != nil {
				t.Fatalf("Extend: %v", err)
			}
			if !ext.NoOp {
				t.Error("NoOp = false, want true")
			}
			if ext.Horizon != 0 {
				t.Errorf("Horizon = %d, want 0", ext.Horizon)
			}
			if len(ext.Series) != len(s) {
				t.Fatalf("len(Series) = %d, want %d", len(ext.Series), len(s))
			}
			for i := range s {
				if ext.Series[i] != s[i] {
					t.Fatalf("record %d changed on no-op", i)
				}
			}
		})
	}
}

func TestExtendAppendsSyntheticDays(t *testing.T) {
	s := history(30)
	orig := append(models.Series(nil), s...)
	target := s.Last().Date.AddDate(0, 0, 10)

	ext, err := Extend(s, constants(21, 55, 4, 2), target)
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if ext.NoOp || ext.Capped {
		t.Errorf("NoOp=%v Capped=%v, want both false", ext.NoOp, ext.Capped)
	}
	if ext.Horizon != 10 {
		t.Errorf("Horizon = %d, want 10", ext.Horizon)
	}
	if len(ext.Series) != len(s)+10 {
		t.Fatalf("len(Series) = %d, want %d", len(ext.Series), len(s)+10)
	}

	for i := range s {
		if ext.Series[i] != orig[i] {
			t.Fatalf("observed record %d modified", i)
		}
		if s[i] != orig[i] {
			t.Fatalf("input record %d mutated", i)
		}
	}
	for i := len(s); i < len(ext.Series); i++ {
		r := ext.Series[i]
		if !r.Synthetic {
			t.Errorf("record %s not marked synthetic", models.FormatDate(r.Date))
		}
		if want := ext.Series[i-1].Date.AddDate(0, 0, 1); !r.Date.Equal(want) {
			t.Errorf("record %d date = %s, want %s", i, models.FormatDate(r.Date), models.FormatDate(want))
		}
		if r.Temp != 21 || r.Humidity != 55 || r.Wind != 4 || r.Precip != 2 {
			t.Errorf("record %d = %+v, want predicted constants", i, r)
		}
	}
	if !ext.Series.Last().Date.Equal(target) {
		t.Errorf("last date = %s, want %s", ext.Series.Last().Date, target)
	}
	if err := ext.Series.Validate(); err != nil {
		t.Errorf("extended series invalid: %v", err)
	}
}

func TestExtendPrecipFloor(t *testing.T) {
	s := history(20)
	ext, err := Extend(s, constants(-5, 40, 1, -3.2), s.Last().Date.AddDate(0, 0, 5))
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range ext.Series[len(s):] {
		if r.Precip != 0 {
			t.Errorf("precip = %v, want 0", r.Precip)
		}
		// Other variables are passed through unclamped.
		if r.Temp != -5 {
			t.Errorf("temp = %v, want -5", r.Temp)
		}
	}
}

func TestExtendCapsHorizon(t *testing.T) {
	s := history(30)
	last := s.Last().Date
	target := last.AddDate(0, 0, 4000)

	ext, err := Extend(s, constants(20, 50, 2, 1), target)
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if !ext.Capped {
		t.Error("Capped = false, want true")
	}
	if ext.Horizon != MaxHorizonDays {
		t.Errorf("Horizon = %d, want %d", ext.Horizon, MaxHorizonDays)
	}
	wantEnd := last.AddDate(0, 0, MaxHorizonDays)
	if !ext.EffectiveTarget.Equal(wantEnd) {
		t.Errorf("EffectiveTarget = %s, want %s", ext.EffectiveTarget, wantEnd)
	}
	if !ext.RequestedTarget.Equal(target) {
		t.Errorf("RequestedTarget = %s, want %s", ext.RequestedTarget, target)
	}
	if !ext.Series.Last().Date.Equal(wantEnd) {
		t.Errorf("last date = %s, want %s", ext.Series.Last().Date, wantEnd)
	}
}

func TestExtenderCustomLimit(t *testing.T) {
	s := history(30)
	ext, err := Extender{MaxHorizon: 30}.Extend(s, constants(20, 50, 2, 1), s.Last().Date.AddDate(0, 0, 31))
	if err != nil {
		t.Fatal(err)
	}
	if !ext.Capped || ext.Horizon != 30 {
		t.Errorf("Capped=%v Horizon=%d, want true 30", ext.Capped, ext.Horizon)
	}
}

func TestExtendRecursive(t *testing.T) {
	s := history(20)
	lag1 := columnIndex(t, "temp_lag1")
	preds := constants(0, 50, 2, 0)
	preds[models.Temp] = lagPredictor{Column: lag1, Offset: 1}

	ext, err := Extend(s, preds, s.Last().Date.AddDate(0, 0, 3))
	if err != nil {
		t.Fatal(err)
	}
	base := s.Last().Temp
	for i, r := range ext.Series[len(s):] {
		if want := base + float64(i+1); r.Temp != want {
			t.Errorf("day %d temp = %v, want %v", i+1, r.Temp, want)
		}
	}
}

func TestExtendIsConsistentAcrossSteps(t *testing.T) {
	s := history(40)
	preds := constants(0, 50, 2, 0)
	preds[models.Temp] = lagPredictor{Column: columnIndex(t, "temp_roll7"), Offset: 0.5}
	preds[models.Precip] = lagPredictor{Column: columnIndex(t, "precip_lag7"), Offset: -0.25}

	last := s.Last().Date
	direct, err := Extend(s, preds, last.AddDate(0, 0, 20))
	if err != nil {
		t.Fatal(err)
	}
	first, err := Extend(s, preds, last.AddDate(0, 0, 8))
	if err != nil {
		t.Fatal(err)
	}
	stepped, err := Extend(first.Series, preds, last.AddDate(0, 0, 20))
	if err != nil {
		t.Fatal(err)
	}

	if len(direct.Series) != len(stepped.Series) {
		t.Fatalf("len direct=%d stepped=%d", len(direct.Series), len(stepped.Series))
	}
	for i := range direct.Series {
		if direct.Series[i] != stepped.Series[i] {
			t.Fatalf("record %d differs: %+v vs %+v", i, direct.Series[i], stepped.Series[i])
		}
	}
}

func TestExtendErrors(t *testing.T) {
	target := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := Extend(nil, constants(1, 1, 1, 1), target); err == nil {
		t.Error("Extend(empty) = nil error")
	}

	preds := constants(1, 1, 1, 1)
	delete(preds, models.Wind)
	if _, err := Extend(history(30), preds, target); err == nil {
		t.Error("Extend with missing predictor = nil error")
	}

	if _, err := Extend(history(5), constants(1, 1, 1, 1), history(5).Last().Date.AddDate(0, 0, 1)); err == nil {
		t.Error("Extend with 5 rows of history = nil error")
	}
}
