package owm

import (
	"math"

	"gonum.org/v1/gonum/mat"

	domainOWM "github.com/owm-go/owm/internal/domain/owm"
)

func activate(kind domainOWM.Activation, z *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 {
		switch kind {
		case domainOWM.ActivationReLU:
			return math.Max(0, v)
		case domainOWM.ActivationTanh:
			return math.Tanh(v)
		default:
			return v
		}
	}, z)
	return &out
}

// applyDerivative multiplies delta in place by f'(z).
func applyDerivative(kind domainOWM.Activation, delta, z *mat.Dense) {
	delta.Apply(func(i, j int, v float64) float64 {
		switch kind {
		case domainOWM.ActivationReLU:
			if z.At(i, j) > 0 {
				return v
			}
			return 0
		case domainOWM.ActivationTanh:
			t := math.Tanh(z.At(i, j))
			return v * (1 - t*t)
		default:
			return v
		}
	}, delta)
}

// softmax normalizes each row of scores into class probabilities.
func softmax(scores *mat.Dense) *mat.Dense {
	r, c := scores.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := scores.RawRowView(i)
		max := math.Inf(-1)
		for _, v := range row {
			if v > max {
				max = v
			}
		}
		var sum float64
		dst := out.RawRowView(i)
		for j, v := range row {
			dst[j] = math.Exp(v - max)
			sum += dst[j]
		}
		for j := range dst {
			dst[j] /= sum
		}
	}
	return out
}
