package owm

import (
	"math"

	domainOWM "github.com/owm-go/owm/internal/domain/owm"
)

// LearningRates is the per-batch schedule: one weight learning rate and one
// alpha multiplier per layer. It is recomputed every batch and never stored.
type LearningRates struct {
	LearningRate float64   `json:"learningRate"`
	AlphaScales  []float64 `json:"alphaScales"`
}

// RatesAt evaluates the schedule at lamda = batch / batchesPerEpoch.
// The first layer's multiplier decays from DecayScale to DecayScale*DecayBase
// across the epoch; later layers use Tail.
func RatesAt(cfg domainOWM.ScheduleConfig, lamda float64, layers int) LearningRates {
	scales := make([]float64, layers)
	for i := range scales {
		if i == 0 {
			scales[i] = cfg.DecayScale * math.Pow(cfg.DecayBase, lamda)
		} else {
			scales[i] = cfg.Tail
		}
	}
	return LearningRates{LearningRate: cfg.LearningRate, AlphaScales: scales}
}

// Triple returns the schedule in its list form [lr, scale0, scale1, ...].
func (r LearningRates) Triple() []float64 {
	out := make([]float64, 0, len(r.AlphaScales)+1)
	out = append(out, r.LearningRate)
	return append(out, r.AlphaScales...)
}

// scale returns the alpha multiplier of a layer, 1 when unspecified.
func (r LearningRates) scale(layer int) float64 {
	if layer < len(r.AlphaScales) {
		return r.AlphaScales[layer]
	}
	return 1
}
