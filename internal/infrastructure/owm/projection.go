// Package owm provides the orthogonal weight modification engines.
package owm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	domainOWM "github.com/owm-go/owm/internal/domain/owm"
)

// DenominatorFloor is the smallest |alpha + x·P·xᵀ| accepted by a projection update.
const DenominatorFloor = 1e-12

// UpdateProjection performs one recursive projector step:
//
//	k  = P·xᵀ
//	P' = P − k·kᵀ / (alpha + x·k)
//
// P' shrinks along x, so gradients filtered by P' avoid the input subspace
// seen so far. P is never modified. A zero activation returns an exact copy.
func UpdateProjection(p *mat.Dense, x []float64, alpha float64) (*mat.Dense, error) {
	if alpha <= 0 {
		return nil, fmt.Errorf("%w: got %v", domainOWM.ErrInvalidAlpha, alpha)
	}
	n, c := p.Dims()
	if n != c {
		return nil, fmt.Errorf("%w: projection is %dx%d", domainOWM.ErrDataShape, n, c)
	}
	if len(x) != n {
		return nil, fmt.Errorf("%w: activation width %d, projection %d", domainOWM.ErrDataShape, len(x), n)
	}

	if isZero(x) {
		return mat.DenseCopyOf(p), nil
	}

	xv := mat.NewVecDense(n, x)
	var k mat.VecDense
	k.MulVec(p, xv)

	denom := alpha + mat.Dot(xv, &k)
	if math.IsNaN(denom) || math.IsInf(denom, 0) || math.Abs(denom) < DenominatorFloor {
		return nil, fmt.Errorf("%w: projection denominator %g", domainOWM.ErrNumericalInstability, denom)
	}

	out := mat.NewDense(n, n, nil)
	out.RankOne(p, -1/denom, &k, &k)
	symmetrize(out)

	if !isFinite(out) {
		return nil, fmt.Errorf("%w: projection has non-finite entries", domainOWM.ErrNumericalInstability)
	}
	return out, nil
}

// Projector owns the projection matrix of one layer.
type Projector struct {
	p       *mat.Dense
	updates int64
}

// NewProjector creates a projector initialized to the identity.
func NewProjector(dim int) *Projector {
	return &Projector{p: identity(dim)}
}

// NewProjectorFrom adopts a copy of p that has already absorbed updates activations.
func NewProjectorFrom(p *mat.Dense, updates int64) *Projector {
	return &Projector{p: mat.DenseCopyOf(p), updates: updates}
}

// Matrix returns the current projection. Callers must not mutate it.
func (pr *Projector) Matrix() *mat.Dense {
	return pr.p
}

// Updates returns how many activations have been absorbed.
func (pr *Projector) Updates() int64 {
	return pr.updates
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func symmetrize(m *mat.Dense) {
	n, _ := m.Dims()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := (m.At(i, j) + m.At(j, i)) / 2
			m.Set(i, j, v)
			m.Set(j, i, v)
		}
	}
}

func isZero(x []float64) bool {
	for _, v := range x {
		if v != 0 {
			return false
		}
	}
	return true
}

func isFinite(m *mat.Dense) bool {
	raw := m.RawMatrix()
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// meanRow averages the rows of x into one activation vector.
func meanRow(x mat.Matrix) []float64 {
	r, c := x.Dims()
	out := make([]float64, c)
	if r == 0 {
		return out
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out[j] += x.At(i, j)
		}
	}
	for j := range out {
		out[j] /= float64(r)
	}
	return out
}
