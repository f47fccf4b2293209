package models

import (
	"fmt"
	"math"
	"time"
)

// Variable identifies one of the four forecast targets.
type Variable string

const (
	Temp     Variable = "temp"
	Humidity Variable = "humidity"
	Wind     Variable = "wind"
	Precip   Variable = "precip"
)

// Variables lists the forecast targets in their canonical column order.
var Variables = []Variable{Temp, Humidity, Wind, Precip}

// DailyRecord is one day's observed or predicted weather.
type DailyRecord struct {
	Date      time.Time `json:"date"`
	Temp      float64   `json:"temp"`     // °C
	Humidity  float64   `json:"humidity"` // %
	Wind      float64   `json:"wind"`     // m/s
	Precip    float64   `json:"precip"`   // mm
	Synthetic bool      `json:"synthetic,omitempty"`
}

// Value returns the record's value for v.
func (r DailyRecord) Value(v Variable) float64 {
	switch v {
	case Temp:
		return r.Temp
	case Humidity:
		return r.Humidity
	case Wind:
		return r.Wind
	case Precip:
		return r.Precip
	}
	return math.NaN()
}

// Set assigns x to the record's field for v.
func (r *DailyRecord) Set(v Variable, x float64) {
	switch v {
	case Temp:
		r.Temp = x
	case Humidity:
		r.Humidity = x
	case Wind:
		r.Wind = x
	case Precip:
		r.Precip = x
	}
}

// Series is a chronologically ordered run of daily records.
type Series []DailyRecord

// Validate checks that dates are strictly increasing.
func (s Series) Validate() error {
	for i := 1; i < len(s); i++ {
		if !s[i].Date.After(s[i-1].Date) {
			return fmt.Errorf("record %d (%s) not after %s", i, FormatDate(s[i].Date), FormatDate(s[i-1].Date))
		}
	}
	return nil
}

// Last returns the final record. The series must not be empty.
func (s Series) Last() DailyRecord {
	return s[len(s)-1]
}

// Find returns the record for date, if present.
func (s Series) Find(date time.Time) (DailyRecord, bool) {
	date = Day(date)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Date.Equal(date) {
			return s[i], true
		}
		if s[i].Date.Before(date) {
			break
		}
	}
	return DailyRecord{}, false
}

// Location is a point on the globe in decimal degrees.
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

func (l Location) String() string {
	return fmt.Sprintf("%.2f,%.2f", l.Latitude, l.Longitude)
}

// Day truncates t to UTC midnight of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(math.Round(Day(b).Sub(Day(a)).Hours() / 24))
}

const (
	dateLayout    = "2006-01-02"
	compactLayout = "20060102"
)

func FormatDate(t time.Time) string { return t.Format(dateLayout) }

// FormatCompact renders t as YYYYMMDD, the window format used by the upstream API and cache keys.
func FormatCompact(t time.Time) string { return t.Format(compactLayout) }

func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}

func ParseCompact(s string) (time.Time, error) {
	return time.ParseInLocation(compactLayout, s, time.UTC)
}
