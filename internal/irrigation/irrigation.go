// Package irrigation estimates crop water demand from a single day of weather
// using a Hargreaves-type reference evapotranspiration.
package irrigation

import (
	"math"
	"time"

	"github.com/lox/farmcast/internal/models"
)

const (
	// SolarConstant in MJ m⁻² min⁻¹.
	SolarConstant = 0.0820
	// radiationToMM converts MJ m⁻² day⁻¹ to equivalent evaporation in mm/day.
	radiationToMM = 0.408

	minTempRange = 6.0
	maxTempRange = 16.0
)

// Params are the per-request agronomic inputs.
type Params struct {
	CropCoefficient       float64 `json:"kc"`
	SoilBufferMM          float64 `json:"soil_buffer_mm"`
	EffectiveRainFraction float64 `json:"eff_rain_factor"`
}

// DefaultParams returns Kc 1.15, a 2 mm soil buffer and 80% effective rain.
func DefaultParams() Params {
	return Params{
		CropCoefficient:       1.15,
		SoilBufferMM:          2,
		EffectiveRainFraction: 0.8,
	}
}

// Result holds the water balance for one day. All values are mm/day except
// TempRange (°C).
type Result struct {
	ET0           float64 `json:"et0"`
	ETc           float64 `json:"etc"`
	EffectiveRain float64 `json:"effective_rain"`
	NetMM         float64 `json:"net_mm"`
	TempRange     float64 `json:"temp_range"`
}

// Estimate computes the irrigation need for day at latitude (degrees) on date.
func Estimate(day models.DailyRecord, latitude float64, date time.Time, p Params) Result {
	tr := EstimateTempRange(day.Humidity, day.Wind)
	et0 := ET0Hargreaves(day.Temp, tr, ExtraterrestrialRadiation(latitude, date.YearDay()))
	etc := p.CropCoefficient * et0
	peff := p.EffectiveRainFraction * math.Max(0, day.Precip)
	return Result{
		ET0:           et0,
		ETc:           etc,
		EffectiveRain: peff,
		NetMM:         math.Max(0, etc-peff-p.SoilBufferMM),
		TempRange:     tr,
	}
}

// SolarDeclination in radians for a day of year.
func SolarDeclination(doy int) float64 {
	return 0.409 * math.Sin(2*math.Pi*float64(doy)/365-1.39)
}

// ExtraterrestrialRadiation returns Ra in MJ m⁻² day⁻¹.
func ExtraterrestrialRadiation(latitude float64, doy int) float64 {
	phi := latitude * math.Pi / 180
	delta := SolarDeclination(doy)
	dr := 1 + 0.033*math.Cos(2*math.Pi*float64(doy)/365)

	// Polar day/night push the argument outside acos's domain.
	x := -math.Tan(phi) * math.Tan(delta)
	x = math.Max(-1, math.Min(1, x))
	omega := math.Acos(x)

	return (24 * 60 / math.Pi) * SolarConstant * dr *
		(omega*math.Sin(phi)*math.Sin(delta) + math.Cos(phi)*math.Cos(delta)*math.Sin(omega))
}

// EstimateTempRange approximates the diurnal temperature range from humidity
// and wind, since daily max/min are not forecast.
func EstimateTempRange(humidity, wind float64) float64 {
	tr := 12 + (50-humidity)*0.03 + wind*0.6
	return math.Max(minTempRange, math.Min(tr, maxTempRange))
}

// ET0Hargreaves returns reference evapotranspiration in mm/day, never negative.
func ET0Hargreaves(temp, tempRange, ra float64) float64 {
	et0 := 0.0023 * (temp + 17.8) * math.Sqrt(tempRange) * radiationToMM * ra
	return math.Max(0, et0)
}

// LitersPerHectare converts a depth in mm over one hectare to liters.
func LitersPerHectare(mm float64) float64 {
	return mm * 10000
}
