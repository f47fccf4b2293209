package ingest

import (
	"encoding/json"

	"github.com/lox/farmcast/internal/models"
)

const (
	FlagTempOutOfRange  = "temp_out_of_range"
	FlagHumidityInvalid = "humidity_invalid"
	FlagWindNegative    = "wind_negative"
	FlagWindUnlikely    = "wind_speed_unlikely"
	FlagPrecipNegative  = "precip_negative"
	FlagPrecipUnlikely  = "precip_unlikely"
)

// ValidateRecord returns quality flags for implausible values. Flagged records
// are still used.
func ValidateRecord(r models.DailyRecord) []string {
	var flags []string

	// Daily means outside the observed global extremes.
	if r.Temp < -60 || r.Temp > 50 {
		flags = append(flags, FlagTempOutOfRange)
	}

	if r.Humidity < 0 || r.Humidity > 100 {
		flags = append(flags, FlagHumidityInvalid)
	}

	if r.Wind < 0 {
		flags = append(flags, FlagWindNegative)
	} else if r.Wind > 60 {
		flags = append(flags, FlagWindUnlikely)
	}

	if r.Precip < 0 {
		flags = append(flags, FlagPrecipNegative)
	} else if r.Precip > 500 {
		flags = append(flags, FlagPrecipUnlikely)
	}

	return flags
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}
