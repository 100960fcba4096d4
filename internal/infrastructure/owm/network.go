package owm

import (
	"fmt"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"

	domainOWM "github.com/owm-go/owm/internal/domain/owm"
)

// Network is a stack of OWM-protected linear maps. Hidden layers pass through
// the configured activation; the last layer emits class scores.
//
// Learn must be called from a single goroutine; Scores may run concurrently
// with other Scores calls.
type Network struct {
	mu         sync.RWMutex
	layers     []*Layer
	activation domainOWM.Activation
	classes    int
	stats      *NetworkStats
}

// NetworkStats contains training counters.
type NetworkStats struct {
	Batches        int64   `json:"batches"`
	ImmuneBatches  int64   `json:"immuneBatches"`
	LastGradNorm   float64 `json:"lastGradNorm"`
	LastFilterNorm float64 `json:"lastFilterNorm"`
}

// NewNetwork builds a network from a validated configuration.
func NewNetwork(cfg domainOWM.Config) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	layers := make([]*Layer, len(cfg.Layers))
	for i, lc := range cfg.Layers {
		layers[i] = NewLayer(i, lc, rng)
	}

	return &Network{
		layers:     layers,
		activation: cfg.HiddenActivation,
		classes:    cfg.ClassNum,
		stats:      &NetworkStats{},
	}, nil
}

// NumLayers returns the number of protected layers.
func (n *Network) NumLayers() int {
	return len(n.layers)
}

// Layer returns layer i.
func (n *Network) Layer(i int) *Layer {
	return n.layers[i]
}

// Classes returns the output width.
func (n *Network) Classes() int {
	return n.classes
}

// Stats returns a copy of the training counters.
func (n *Network) Stats() NetworkStats {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return *n.stats
}

// Scores runs inference and returns the (rows x classes) score matrix.
func (n *Network) Scores(x mat.Matrix) *mat.Dense {
	n.mu.RLock()
	defer n.mu.RUnlock()

	scores, _, _ := n.forward(x)
	return scores
}

// forward returns the scores, each layer's input, and each layer's pre-activation.
func (n *Network) forward(x mat.Matrix) (*mat.Dense, []mat.Matrix, []*mat.Dense) {
	inputs := make([]mat.Matrix, len(n.layers))
	pre := make([]*mat.Dense, len(n.layers))

	cur := x
	for i, layer := range n.layers {
		inputs[i] = cur
		z := &mat.Dense{}
		z.Mul(cur, layer.weights)
		pre[i] = z
		if i < len(n.layers)-1 {
			cur = activate(n.activation, z)
		}
	}
	return pre[len(pre)-1], inputs, pre
}

// Gradients computes the raw softmax cross-entropy gradient of every layer
// for a batch with one-hot targets y. Weights are not touched.
func (n *Network) Gradients(x, y mat.Matrix) ([]*mat.Dense, []mat.Matrix, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.gradients(x, y)
}

func (n *Network) gradients(x, y mat.Matrix) ([]*mat.Dense, []mat.Matrix, error) {
	rows, _ := x.Dims()
	yr, yc := y.Dims()
	if yr != rows || yc != n.classes {
		return nil, nil, fmt.Errorf("%w: targets %dx%d for %d rows and %d classes", domainOWM.ErrDataShape, yr, yc, rows, n.classes)
	}

	scores, inputs, pre := n.forward(x)

	delta := softmax(scores)
	delta.Sub(delta, y)
	delta.Scale(1/float64(rows), delta)

	grads := make([]*mat.Dense, len(n.layers))
	for i := len(n.layers) - 1; i >= 0; i-- {
		g := &mat.Dense{}
		g.Mul(inputs[i].T(), delta)
		grads[i] = g

		if i > 0 {
			back := &mat.Dense{}
			back.Mul(delta, n.layers[i].weights.T())
			applyDerivative(n.activation, back, pre[i-1])
			delta = back
		}
	}
	return grads, inputs, nil
}

// Learn performs one protected training step on a batch. Every layer's
// projection advances; weights move only when immune is false. The step is
// atomic: if any layer diverges no layer is changed.
func (n *Network) Learn(x, y mat.Matrix, rates LearningRates, immune bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	rows, _ := x.Dims()
	if rows == 0 {
		return nil
	}

	grads, inputs, err := n.gradients(x, y)
	if err != nil {
		return err
	}

	type staged struct {
		w, p *mat.Dense
		res  UpdateResult
	}
	pending := make([]staged, len(n.layers))
	for i, layer := range n.layers {
		w, p, res, err := layer.stage(inputs[i], grads[i], rates.LearningRate, rates.scale(i), immune)
		if err != nil {
			return err
		}
		pending[i] = staged{w: w, p: p, res: res}
	}

	for i, layer := range n.layers {
		layer.commit(pending[i].w, pending[i].p)
	}

	n.stats.Batches++
	if immune {
		n.stats.ImmuneBatches++
	}
	last := pending[len(pending)-1].res
	n.stats.LastGradNorm = last.GradNorm
	n.stats.LastFilterNorm = last.FilteredNorm
	return nil
}

// Snapshot copies every layer's weights and projection.
func (n *Network) Snapshot() []domainOWM.LayerSnapshot {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]domainOWM.LayerSnapshot, len(n.layers))
	for i, layer := range n.layers {
		out[i] = layer.Snapshot()
	}
	return out
}

// Restore replaces every layer's state. Either all layers are restored or none.
func (n *Network) Restore(snapshots []domainOWM.LayerSnapshot) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(snapshots) != len(n.layers) {
		return fmt.Errorf("%w: %d layer snapshots for %d layers", domainOWM.ErrDataShape, len(snapshots), len(n.layers))
	}

	backup := make([]domainOWM.LayerSnapshot, len(n.layers))
	for i, layer := range n.layers {
		backup[i] = domainOWM.LayerSnapshot{Weights: layer.weights, Projection: layer.projector.Matrix(), Updates: layer.projector.Updates()}
	}
	for i, layer := range n.layers {
		if err := layer.Restore(snapshots[i]); err != nil {
			for j := 0; j < i; j++ {
				n.layers[j].weights = backup[j].Weights
				n.layers[j].projector = &Projector{p: backup[j].Projection, updates: backup[j].Updates}
			}
			return err
		}
	}
	return nil
}
