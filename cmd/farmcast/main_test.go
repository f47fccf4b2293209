package main

import (
	"testing"

	"github.com/lox/farmcast/internal/models"
)

func TestParseSites(t *testing.T) {
	tests := []struct {
		specs   []string
		want    []models.Location
		wantErr bool
	}{
		{nil, []models.Location{}, false},
		{[]string{"45.65,-73.38"}, []models.Location{{Latitude: 45.65, Longitude: -73.38}}, false},
		{[]string{"1,2; 3 , 4"}, []models.Location{{Latitude: 1, Longitude: 2}, {Latitude: 3, Longitude: 4}}, false},
		{[]string{"1,2", "-20,30"}, []models.Location{{Latitude: 1, Longitude: 2}, {Latitude: -20, Longitude: 30}}, false},
		{[]string{"45.65"}, nil, true},
		{[]string{"north,10"}, nil, true},
	}

	for _, tt := range tests {
		got, err := parseSites(tt.specs)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseSites(%v) expected error", tt.specs)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseSites(%v): %v", tt.specs, err)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("parseSites(%v) = %v, want %v", tt.specs, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("parseSites(%v)[%d] = %v, want %v", tt.specs, i, got[i], tt.want[i])
			}
		}
	}
}

func TestParseWindow(t *testing.T) {
	s, e, err := parseWindow("20200101", "2024-12-31")
	if err != nil {
		t.Fatal(err)
	}
	if models.FormatDate(s) != "2020-01-01" || models.FormatDate(e) != "2024-12-31" {
		t.Errorf("parseWindow = %s..%s", models.FormatDate(s), models.FormatDate(e))
	}
	if s, e, err := parseWindow("", ""); err != nil || !s.IsZero() || !e.IsZero() {
		t.Errorf("empty window = %v, %v, %v", s, e, err)
	}
	if _, _, err := parseWindow("2020/01/01", ""); err == nil {
		t.Error("expected error for bad start")
	}
}
