package models

import (
	"testing"
	"time"
)

func TestDaysBetween(t *testing.T) {
	tests := []struct {
		name string
		a, b time.Time
		want int
	}{
		{"same day", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC), 0},
		{"leap day crossing", time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 2},
		{"backwards", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), -9},
		{"year", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 365},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DaysBetween(tt.a, tt.b); got != tt.want {
				t.Errorf("DaysBetween(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSeriesValidate(t *testing.T) {
	d := func(day int) time.Time { return time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC) }

	ok := Series{{Date: d(1)}, {Date: d(2)}, {Date: d(5)}}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate() with gap = %v, want nil", err)
	}

	dup := Series{{Date: d(1)}, {Date: d(1)}}
	if err := dup.Validate(); err == nil {
		t.Error("Validate() with duplicate date = nil, want error")
	}

	unsorted := Series{{Date: d(3)}, {Date: d(2)}}
	if err := unsorted.Validate(); err == nil {
		t.Error("Validate() unsorted = nil, want error")
	}
}

func TestSeriesFind(t *testing.T) {
	s := Series{
		{Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Temp: 1},
		{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Temp: 2},
		{Date: time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), Temp: 4},
	}

	if r, ok := s.Find(time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)); !ok || r.Temp != 2 {
		t.Errorf("Find(Jan 2) = %v, %v; want temp 2", r, ok)
	}
	if _, ok := s.Find(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)); ok {
		t.Error("Find(Jan 3) found a record inside a gap")
	}
}

func TestRecordValueSet(t *testing.T) {
	var r DailyRecord
	for i, v := range Variables {
		r.Set(v, float64(i+1))
	}
	for i, v := range Variables {
		if got := r.Value(v); got != float64(i+1) {
			t.Errorf("Value(%s) = %v, want %v", v, got, i+1)
		}
	}
}

func TestParseCompact(t *testing.T) {
	got, err := ParseCompact("20000709")
	if err != nil {
		t.Fatalf("ParseCompact: %v", err)
	}
	if FormatDate(got) != "2000-07-09" {
		t.Errorf("ParseCompact = %s, want 2000-07-09", FormatDate(got))
	}
	if _, err := ParseCompact("2000-07-09"); err == nil {
		t.Error("ParseCompact accepted dashed date")
	}
}
