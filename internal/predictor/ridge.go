package predictor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/lox/farmcast/internal/features"
)

// DefaultLambda is the L2 penalty applied to standardised coefficients.
const DefaultLambda = 1.0

// MinHistoryDays is the shortest series Ridge can train on: MaxLag days to
// seed the lags plus MaxLag feature rows.
const MinHistoryDays = 2 * features.MaxLag

// Ridge is an L2-regularised linear regressor. Features are standardised
// before fitting and the intercept is not penalised. The exported fields are
// the complete fitted state.
type Ridge struct {
	Lambda    float64   `json:"lambda"`
	Means     []float64 `json:"means"`
	Scales    []float64 `json:"scales"`
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

func NewRidge() Predictor {
	return &Ridge{Lambda: DefaultLambda}
}

// Fit solves (XᵀX + λI)β = Xᵀy on centred, scaled features.
func (r *Ridge) Fit(rows []features.Row, targets []float64) error {
	n := len(rows)
	if n < features.MaxLag {
		return fmt.Errorf("%w: %d training rows, need at least %d (%d days of history)", features.ErrDataInsufficient, n, features.MaxLag, MinHistoryDays)
	}
	if len(targets) != n {
		return fmt.Errorf("ridge: %d rows but %d targets", n, len(targets))
	}

	p := features.Width
	means := make([]float64, p)
	scales := make([]float64, p)
	for _, row := range rows {
		for j, x := range row.Values {
			means[j] += x
		}
	}
	for j := range means {
		means[j] /= float64(n)
	}
	for _, row := range rows {
		for j, x := range row.Values {
			d := x - means[j]
			scales[j] += d * d
		}
	}
	for j := range scales {
		scales[j] = math.Sqrt(scales[j] / float64(n))
		if scales[j] == 0 {
			scales[j] = 1
		}
	}

	var yMean float64
	for _, y := range targets {
		yMean += y
	}
	yMean /= float64(n)

	x := mat.NewDense(n, p, nil)
	y := mat.NewVecDense(n, nil)
	for i, row := range rows {
		for j, v := range row.Values {
			x.Set(i, j, (v-means[j])/scales[j])
		}
		y.SetVec(i, targets[i]-yMean)
	}

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	lambda := r.Lambda
	if lambda <= 0 {
		lambda = DefaultLambda
	}
	for j := 0; j < p; j++ {
		xtx.Set(j, j, xtx.At(j, j)+lambda)
	}

	var xty mat.VecDense
	xty.MulVec(x.T(), y)

	var beta mat.VecDense
	if err := beta.SolveVec(&xtx, &xty); err != nil {
		return fmt.Errorf("ridge: solve: %w", err)
	}

	r.Lambda = lambda
	r.Means = means
	r.Scales = scales
	r.Coef = make([]float64, p)
	for j := range r.Coef {
		r.Coef[j] = beta.AtVec(j)
	}
	r.Intercept = yMean
	return nil
}

// Validate checks that restored state matches the feature width.
func (r *Ridge) Validate() error {
	if len(r.Coef) != features.Width || len(r.Means) != features.Width || len(r.Scales) != features.Width {
		return fmt.Errorf("ridge: state has %d coef, %d means, %d scales, want %d each",
			len(r.Coef), len(r.Means), len(r.Scales), features.Width)
	}
	for j, sc := range r.Scales {
		if sc == 0 || math.IsNaN(sc) {
			return fmt.Errorf("ridge: scale %d is %v", j, sc)
		}
	}
	return nil
}

func (r *Ridge) Predict(row features.Row) float64 {
	out := r.Intercept
	for j, c := range r.Coef {
		out += c * (row.Values[j] - r.Means[j]) / r.Scales[j]
	}
	return out
}
