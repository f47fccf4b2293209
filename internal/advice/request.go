package advice

import (
	"errors"
	"fmt"
	"time"

	"github.com/lox/farmcast/internal/irrigation"
	"github.com/lox/farmcast/internal/models"
)

var (
	// ErrInvalidRequest wraps every input validation failure.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrTargetNotProduced means the target date is inside the observed
	// history but has no record, e.g. a gap in the upstream data.
	ErrTargetNotProduced = errors.New("target date not produced")
)

// Accepted request ranges.
const (
	MaxAbsLatitude  = 60.0
	MaxAbsLongitude = 180.0
	MinCropCoeff    = 0.3
	MaxCropCoeff    = 1.5
)

// Request asks for advice at one location on one target date. Start and End
// optionally bound the history window; zero values use the defaults.
type Request struct {
	Latitude  float64
	Longitude float64
	Target    time.Time
	Params    irrigation.Params
	Start     time.Time
	End       time.Time
}

// NewRequest returns a request with default irrigation parameters.
func NewRequest(lat, lon float64, target time.Time) Request {
	return Request{
		Latitude:  lat,
		Longitude: lon,
		Target:    models.Day(target),
		Params:    irrigation.DefaultParams(),
	}
}

func (r Request) Location() models.Location {
	return models.Location{Latitude: r.Latitude, Longitude: r.Longitude}
}

func (r Request) Validate() error {
	switch {
	case r.Latitude < -MaxAbsLatitude || r.Latitude > MaxAbsLatitude:
		return fmt.Errorf("%w: lat %.4f outside [-%g, %g]", ErrInvalidRequest, r.Latitude, MaxAbsLatitude, MaxAbsLatitude)
	case r.Longitude < -MaxAbsLongitude || r.Longitude > MaxAbsLongitude:
		return fmt.Errorf("%w: lon %.4f outside [-%g, %g]", ErrInvalidRequest, r.Longitude, MaxAbsLongitude, MaxAbsLongitude)
	case r.Target.IsZero():
		return fmt.Errorf("%w: target date required", ErrInvalidRequest)
	case r.Params.CropCoefficient < MinCropCoeff || r.Params.CropCoefficient > MaxCropCoeff:
		return fmt.Errorf("%w: kc %.2f outside [%g, %g]", ErrInvalidRequest, r.Params.CropCoefficient, MinCropCoeff, MaxCropCoeff)
	case r.Params.SoilBufferMM < 0:
		return fmt.Errorf("%w: soil buffer %.2f mm is negative", ErrInvalidRequest, r.Params.SoilBufferMM)
	case r.Params.EffectiveRainFraction < 0 || r.Params.EffectiveRainFraction > 1:
		return fmt.Errorf("%w: effective rain fraction %.2f outside [0, 1]", ErrInvalidRequest, r.Params.EffectiveRainFraction)
	}
	return nil
}

// Window is the inclusive history range used for training.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ResolveWindow picks the training history for a request. The window ends at
// the earliest of the target, today and the requested end, and starts at the
// requested start or the same calendar day historyYears earlier.
func ResolveWindow(r Request, today time.Time, historyYears int) (Window, error) {
	end := models.Day(today)
	if t := models.Day(r.Target); t.Before(end) {
		end = t
	}
	if !r.End.IsZero() && models.Day(r.End).Before(end) {
		end = models.Day(r.End)
	}

	start := end.AddDate(-historyYears, 0, 0)
	if !r.Start.IsZero() {
		start = models.Day(r.Start)
	}

	if start.After(end) {
		return Window{}, fmt.Errorf("%w: history start %s after end %s", ErrInvalidRequest, models.FormatDate(start), models.FormatDate(end))
	}
	return Window{Start: start, End: end}, nil
}
