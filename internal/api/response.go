package api

import (
	"math"

	"github.com/lox/farmcast/internal/advice"
	"github.com/lox/farmcast/internal/advisory"
	"github.com/lox/farmcast/internal/models"
)

type Prediction struct {
	Temp      float64 `json:"temp"`
	Humidity  float64 `json:"humidity"`
	Wind      float64 `json:"wind"`
	Precip    float64 `json:"precip"`
	Synthetic bool    `json:"synthetic"`
}

type IrrigationData struct {
	ET0              float64 `json:"et0"`
	ETc              float64 `json:"etc"`
	EffectiveRain    float64 `json:"peff"`
	NetMM            float64 `json:"net_mm"`
	TempRange        float64 `json:"temp_range"`
	LitersPerHectare float64 `json:"liters_per_hectare"`
}

type ForecastResponse struct {
	RunID           string          `json:"run_id,omitempty"`
	Latitude        float64         `json:"lat"`
	Longitude       float64         `json:"lon"`
	Target          string          `json:"target"`
	EffectiveTarget string          `json:"effective_target"`
	LastObserved    string          `json:"last_observed"`
	WindowStart     string          `json:"window_start"`
	WindowEnd       string          `json:"window_end"`
	HorizonDays     int             `json:"horizon_days"`
	Capped          bool            `json:"capped"`
	Warning         string          `json:"warning,omitempty"`
	Prediction      Prediction      `json:"prediction"`
	Irrigation      IrrigationData  `json:"irrigation"`
	Recommendations advisory.Advice `json:"recommendations"`
}

// NewForecastResponse renders a result for clients: weather and irrigation
// values to two decimals, liters per hectare to whole liters.
func NewForecastResponse(res *advice.Result) ForecastResponse {
	return ForecastResponse{
		RunID:           res.RunID,
		Latitude:        res.Location.Latitude,
		Longitude:       res.Location.Longitude,
		Target:          models.FormatDate(res.RequestedTarget),
		EffectiveTarget: models.FormatDate(res.EffectiveTarget),
		LastObserved:    models.FormatDate(res.LastObserved),
		WindowStart:     models.FormatDate(res.Window.Start),
		WindowEnd:       models.FormatDate(res.Window.End),
		HorizonDays:     res.HorizonDays,
		Capped:          res.Capped,
		Warning:         res.Warning,
		Prediction:      newPrediction(res.Weather),
		Irrigation: IrrigationData{
			ET0:              round2(res.Irrigation.ET0),
			ETc:              round2(res.Irrigation.ETc),
			EffectiveRain:    round2(res.Irrigation.EffectiveRain),
			NetMM:            round2(res.Irrigation.NetMM),
			TempRange:        round2(res.Irrigation.TempRange),
			LitersPerHectare: math.Round(res.LitersPerHectare),
		},
		Recommendations: res.Advice,
	}
}

func newPrediction(r models.DailyRecord) Prediction {
	return Prediction{
		Temp:      round2(r.Temp),
		Humidity:  round2(r.Humidity),
		Wind:      round2(r.Wind),
		Precip:    round2(r.Precip),
		Synthetic: r.Synthetic,
	}
}

type SeriesPoint struct {
	Date string `json:"date"`
	Prediction
}

type SeriesResponse struct {
	Latitude        float64       `json:"lat"`
	Longitude       float64       `json:"lon"`
	LastObserved    string        `json:"last_observed"`
	EffectiveTarget string        `json:"effective_target"`
	Capped          bool          `json:"capped"`
	Points          []SeriesPoint `json:"points"`
}

func NewSeriesResponse(res *advice.SeriesResult) SeriesResponse {
	points := make([]SeriesPoint, len(res.Records))
	for i, r := range res.Records {
		points[i] = SeriesPoint{Date: models.FormatDate(r.Date), Prediction: newPrediction(r)}
	}
	return SeriesResponse{
		Latitude:        res.Location.Latitude,
		Longitude:       res.Location.Longitude,
		LastObserved:    models.FormatDate(res.LastObserved),
		EffectiveTarget: models.FormatDate(res.EffectiveTarget),
		Capped:          res.Capped,
		Points:          points,
	}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
