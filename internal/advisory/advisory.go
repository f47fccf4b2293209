// Package advisory turns a day's forecast and water balance into field
// recommendations.
package advisory

import (
	"fmt"

	"github.com/lox/farmcast/internal/irrigation"
	"github.com/lox/farmcast/internal/models"
)

type Category string

const (
	Irrigation Category = "irrigation"
	Pest       Category = "pest"
	Field      Category = "field"
	Frost      Category = "frost"
	Spray      Category = "spray"
)

// Categories in display order.
var Categories = []Category{Irrigation, Pest, Field, Frost, Spray}

// Recommendation tags. Tags are stable identifiers for clients; Text is for people.
const (
	TagIrrigationSkip      = "skip"
	TagIrrigationIrrigate  = "irrigate"
	TagIrrigationNotNeeded = "not_needed"

	TagPestHighFungal = "high_fungal_risk"
	TagPestLow        = "low"
	TagPestModerate   = "moderate"

	TagFieldTooWet   = "too_wet"
	TagFieldTooWindy = "too_windy"
	TagFieldGood     = "good_window"

	TagFrostRisk     = "frost_risk"
	TagFrostMildCold = "mild_cold"
	TagFrostNone     = "none"

	TagSprayExcellent  = "excellent"
	TagSpraySuboptimal = "suboptimal"
)

// Thresholds.
const (
	RainSkipMM        = 5.0
	IrrigateMM        = 5.0
	FungalHumidity    = 85.0
	FungalTempLow     = 18.0
	FungalTempHigh    = 28.0
	DryHumidity       = 40.0
	WetFieldPrecipMM  = 3.0
	WetFieldHumidity  = 90.0
	WindyField        = 7.0
	FrostTemp         = 2.0
	ColdTemp          = 6.0
	SprayHumidityLow  = 50.0
	SprayHumidityHigh = 70.0
	SprayMaxWind      = 5.0
	SprayMaxPrecipMM  = 0.5
)

type Recommendation struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
}

// Advice holds one recommendation per category.
type Advice map[Category]Recommendation

// Advise evaluates each category independently; within a category the first
// matching rule wins.
func Advise(day models.DailyRecord, irr irrigation.Result) Advice {
	return Advice{
		Irrigation: irrigationAdvice(day, irr),
		Pest:       pestAdvice(day),
		Field:      fieldAdvice(day),
		Frost:      frostAdvice(day),
		Spray:      sprayAdvice(day),
	}
}

func irrigationAdvice(day models.DailyRecord, irr irrigation.Result) Recommendation {
	switch {
	case day.Precip > RainSkipMM:
		return Recommendation{TagIrrigationSkip, fmt.Sprintf("Skip irrigation, %.1f mm of rain expected.", day.Precip)}
	case irr.NetMM > IrrigateMM:
		return Recommendation{TagIrrigationIrrigate, fmt.Sprintf("Irrigate %.1f mm to cover crop demand (ETc %.2f mm).", irr.NetMM, irr.ETc)}
	default:
		return Recommendation{TagIrrigationNotNeeded, "No irrigation needed, soil moisture is adequate."}
	}
}

func pestAdvice(day models.DailyRecord) Recommendation {
	switch {
	case day.Humidity > FungalHumidity && day.Temp > FungalTempLow && day.Temp < FungalTempHigh:
		return Recommendation{TagPestHighFungal, "High fungal disease risk (blight, mildew). Consider a protectant."}
	case day.Humidity < DryHumidity:
		return Recommendation{TagPestLow, "Low pest pressure in dry conditions."}
	default:
		return Recommendation{TagPestModerate, "Moderate pest risk. Scout regularly."}
	}
}

func fieldAdvice(day models.DailyRecord) Recommendation {
	switch {
	case day.Precip > WetFieldPrecipMM || day.Humidity > WetFieldHumidity:
		return Recommendation{TagFieldTooWet, "Too wet for tractor work."}
	case day.Wind > WindyField:
		return Recommendation{TagFieldTooWindy, "Too windy for field operations."}
	default:
		return Recommendation{TagFieldGood, "Good window for field work."}
	}
}

func frostAdvice(day models.DailyRecord) Recommendation {
	switch {
	case day.Temp < FrostTemp:
		return Recommendation{TagFrostRisk, "Frost risk. Protect seedlings."}
	case day.Temp < ColdTemp:
		return Recommendation{TagFrostMildCold, "Mild cold risk. Avoid spraying overnight."}
	default:
		return Recommendation{TagFrostNone, "No frost risk."}
	}
}

func sprayAdvice(day models.DailyRecord) Recommendation {
	if day.Humidity > SprayHumidityLow && day.Humidity < SprayHumidityHigh &&
		day.Wind < SprayMaxWind && day.Precip < SprayMaxPrecipMM {
		return Recommendation{TagSprayExcellent, "Excellent spraying conditions: light wind, dry and moderate humidity."}
	}
	return Recommendation{TagSpraySuboptimal, "Suboptimal spraying conditions."}
}
