package owm

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/mat"

	domainOWM "github.com/owm-go/owm/internal/domain/owm"
)

// UpdateResult reports what one protected update did.
type UpdateResult struct {
	// Applied is false for immune updates.
	Applied bool `json:"applied"`

	// GradNorm is the Frobenius norm of the raw gradient.
	GradNorm float64 `json:"gradNorm"`

	// FilteredNorm is the Frobenius norm of the projected gradient.
	FilteredNorm float64 `json:"filteredNorm"`

	// Trace is tr(P') after the update.
	Trace float64 `json:"trace"`
}

// ApplyUpdate is the OWM layer rule. The projection always advances with
// activation x; the weights move by −lr·P'·G only when immune is false.
//
// w is (in x out), grad is (in x out), p is (in x in). For immune updates
// the returned weights are w itself. Inputs are never mutated.
func ApplyUpdate(w, grad, p *mat.Dense, x []float64, alpha, lr float64, immune bool) (*mat.Dense, *mat.Dense, UpdateResult, error) {
	in, out := w.Dims()
	gr, gc := grad.Dims()
	if gr != in || gc != out {
		return nil, nil, UpdateResult{}, fmt.Errorf("%w: gradient %dx%d for weights %dx%d", domainOWM.ErrDataShape, gr, gc, in, out)
	}

	pNext, err := UpdateProjection(p, x, alpha)
	if err != nil {
		return nil, nil, UpdateResult{}, err
	}

	var filtered mat.Dense
	filtered.Mul(pNext, grad)

	result := UpdateResult{
		GradNorm:     mat.Norm(grad, 2),
		FilteredNorm: mat.Norm(&filtered, 2),
		Trace:        mat.Trace(pNext),
	}

	if immune {
		return w, pNext, result, nil
	}

	wNext := mat.DenseCopyOf(w)
	filtered.Scale(lr, &filtered)
	wNext.Sub(wNext, &filtered)
	if !isFinite(wNext) {
		return nil, nil, UpdateResult{}, fmt.Errorf("%w: weights have non-finite entries", domainOWM.ErrNumericalInstability)
	}

	result.Applied = true
	return wNext, pNext, result, nil
}

// Layer owns the weights and projection of one protected linear map.
// It is mutated only by the training path.
type Layer struct {
	index     int
	alpha     float64
	weights   *mat.Dense
	projector *Projector
}

// NewLayer creates a layer with Glorot-uniform weights and an identity projection.
func NewLayer(index int, cfg domainOWM.LayerConfig, rng *rand.Rand) *Layer {
	limit := math.Sqrt(6.0 / float64(cfg.InputDim+cfg.OutputDim))
	data := make([]float64, cfg.InputDim*cfg.OutputDim)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return &Layer{
		index:     index,
		alpha:     cfg.Alpha,
		weights:   mat.NewDense(cfg.InputDim, cfg.OutputDim, data),
		projector: NewProjector(cfg.InputDim),
	}
}

// Index is the layer's position, input first.
func (l *Layer) Index() int {
	return l.index
}

// Alpha is the configured projection regularizer.
func (l *Layer) Alpha() float64 {
	return l.alpha
}

// Weights returns the live weight matrix. Callers must not mutate it.
func (l *Layer) Weights() *mat.Dense {
	return l.weights
}

// Projection returns the live projection matrix. Callers must not mutate it.
func (l *Layer) Projection() *mat.Dense {
	return l.projector.Matrix()
}

// Dims returns (in, out).
func (l *Layer) Dims() (int, int) {
	return l.weights.Dims()
}

// Updates returns how many activations the layer's projection has absorbed.
func (l *Layer) Updates() int64 {
	return l.projector.Updates()
}

// stage computes the layer rule without touching the layer, using the
// batch-mean of input as the activation. alphaScale multiplies the
// configured alpha.
func (l *Layer) stage(input mat.Matrix, grad *mat.Dense, lr, alphaScale float64, immune bool) (*mat.Dense, *mat.Dense, UpdateResult, error) {
	w, p, res, err := ApplyUpdate(l.weights, grad, l.projector.Matrix(), meanRow(input), l.alpha*alphaScale, lr, immune)
	if errors.Is(err, domainOWM.ErrNumericalInstability) {
		return nil, nil, UpdateResult{}, &domainOWM.NumericalError{Layer: l.index, Task: -1, Reason: strings.TrimPrefix(err.Error(), domainOWM.ErrNumericalInstability.Error()+": ")}
	}
	if err != nil {
		return nil, nil, UpdateResult{}, fmt.Errorf("layer %d: %w", l.index, err)
	}
	return w, p, res, nil
}

func (l *Layer) commit(w, p *mat.Dense) {
	l.weights = w
	l.projector.p = p
	l.projector.updates++
}

// Snapshot copies the layer state.
func (l *Layer) Snapshot() domainOWM.LayerSnapshot {
	return domainOWM.LayerSnapshot{
		Weights:    mat.DenseCopyOf(l.weights),
		Projection: mat.DenseCopyOf(l.projector.Matrix()),
		Updates:    l.projector.Updates(),
	}
}

// Restore replaces the layer state with a snapshot of matching shape.
func (l *Layer) Restore(s domainOWM.LayerSnapshot) error {
	if s.Weights == nil || s.Projection == nil {
		return fmt.Errorf("%w: layer %d snapshot is incomplete", domainOWM.ErrDataShape, l.index)
	}
	in, out := l.weights.Dims()
	wr, wc := s.Weights.Dims()
	pr, pc := s.Projection.Dims()
	if wr != in || wc != out || pr != in || pc != in {
		return fmt.Errorf("%w: layer %d snapshot is %dx%d/%dx%d, want %dx%d/%dx%d",
			domainOWM.ErrDataShape, l.index, wr, wc, pr, pc, in, out, in, in)
	}
	l.weights = mat.DenseCopyOf(s.Weights)
	l.projector = NewProjectorFrom(s.Projection, s.Updates)
	return nil
}
