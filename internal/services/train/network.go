package train

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
)

// layerWeights holds one recurrent layer: input projection, hidden
// recurrence, and bias. Shapes: Wx[hidden][input], Wh[hidden][hidden].
type layerWeights struct {
	Wx [][]float64 `json:"wx"`
	Wh [][]float64 `json:"wh"`
	B  []float64   `json:"b"`
}

// network is a stacked tanh recurrent net with a linear dense head and a
// scalar output. Direction mode squashes the output through a sigmoid.
// The whole struct round-trips through JSON as the deployable weights blob.
type network struct {
	InputSize   int            `json:"input_size"`
	HiddenSizes []int          `json:"hidden_sizes"`
	DenseSize   int            `json:"dense_size"`
	Mode        string         `json:"mode"`
	Recurrent   []layerWeights `json:"recurrent"`
	DenseW      [][]float64    `json:"dense_w"`
	DenseB      []float64      `json:"dense_b"`
	OutW        []float64      `json:"out_w"`
	OutB        float64        `json:"out_b"`
	LabelMin    float64        `json:"label_min"`
	LabelMax    float64        `json:"label_max"`
}

func newNetwork(inputSize int, hiddenSizes []int, denseSize int, mode string, rng *rand.Rand) *network {
	net := &network{
		InputSize:   inputSize,
		HiddenSizes: append([]int(nil), hiddenSizes...),
		DenseSize:   denseSize,
		Mode:        mode,
		Recurrent:   make([]layerWeights, len(hiddenSizes)),
		LabelMin:    0,
		LabelMax:    1,
	}

	in := inputSize
	for l, h := range hiddenSizes {
		net.Recurrent[l] = layerWeights{
			Wx: randMatrix(h, in, rng),
			Wh: randMatrix(h, h, rng),
			B:  make([]float64, h),
		}
		in = h
	}
	net.DenseW = randMatrix(denseSize, in, rng)
	net.DenseB = make([]float64, denseSize)
	net.OutW = randVector(denseSize, rng)
	return net
}

// randMatrix initializes rows x cols weights scaled by 1/sqrt(cols) so
// deep stacks start in tanh's linear region.
func randMatrix(rows, cols int, rng *rand.Rand) [][]float64 {
	scale := 1.0 / math.Sqrt(float64(cols))
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
		for j := range m[i] {
			m[i][j] = (rng.Float64()*2 - 1) * scale
		}
	}
	return m
}

func randVector(n int, rng *rand.Rand) []float64 {
	scale := 1.0 / math.Sqrt(float64(n))
	v := make([]float64, n)
	for i := range v {
		v[i] = (rng.Float64()*2 - 1) * scale
	}
	return v
}

// marshal serializes the network as the artifact weights blob.
func (n *network) marshal() ([]byte, error) {
	return json.Marshal(n)
}

// loadNetwork restores a network from a weights blob and checks shape.
func loadNetwork(weights []byte) (*network, error) {
	var net network
	if err := json.Unmarshal(weights, &net); err != nil {
		return nil, fmt.Errorf("decode weights: %w", err)
	}
	if len(net.Recurrent) != len(net.HiddenSizes) || len(net.Recurrent) == 0 {
		return nil, fmt.Errorf("weights blob has %d recurrent layers, header says %d", len(net.Recurrent), len(net.HiddenSizes))
	}
	in := net.InputSize
	for l, h := range net.HiddenSizes {
		lw := net.Recurrent[l]
		if len(lw.Wx) != h || len(lw.Wh) != h || len(lw.B) != h {
			return nil, fmt.Errorf("layer %d shape mismatch", l)
		}
		if h > 0 && (len(lw.Wx[0]) != in || len(lw.Wh[0]) != h) {
			return nil, fmt.Errorf("layer %d input width mismatch", l)
		}
		in = h
	}
	if len(net.DenseW) != net.DenseSize || len(net.OutW) != net.DenseSize {
		return nil, fmt.Errorf("dense head shape mismatch")
	}
	return &net, nil
}

// trace keeps the activations of one forward pass for backpropagation.
type trace struct {
	inputs [][]float64   // the window rows
	hidden [][][]float64 // hidden[l][t] = state of layer l at step t
	dense  []float64
	out    float64 // pre-sigmoid in direction mode
	pred   float64 // network output after activation
}

// forward runs one window through the net. Dropout masks, when non-nil,
// are applied to each layer's output at every step (inverted dropout, so
// inference needs no rescaling).
func (n *network) forward(window [][]float64, masks [][]float64) *trace {
	steps := len(window)
	tr := &trace{
		inputs: window,
		hidden: make([][][]float64, len(n.Recurrent)),
	}
	for l := range n.Recurrent {
		tr.hidden[l] = make([][]float64, steps)
	}

	for t := 0; t < steps; t++ {
		x := window[t]
		for l, lw := range n.Recurrent {
			h := len(lw.B)
			state := make([]float64, h)
			for i := 0; i < h; i++ {
				z := lw.B[i]
				for j, xv := range x {
					z += lw.Wx[i][j] * xv
				}
				if t > 0 {
					prev := tr.hidden[l][t-1]
					for j, hv := range prev {
						z += lw.Wh[i][j] * hv
					}
				}
				state[i] = math.Tanh(z)
			}
			if masks != nil {
				for i := range state {
					state[i] *= masks[l][i]
				}
			}
			tr.hidden[l][t] = state
			x = state
		}
	}

	last := tr.hidden[len(n.Recurrent)-1][steps-1]
	tr.dense = make([]float64, n.DenseSize)
	for i := 0; i < n.DenseSize; i++ {
		d := n.DenseB[i]
		for j, hv := range last {
			d += n.DenseW[i][j] * hv
		}
		tr.dense[i] = d
	}

	out := n.OutB
	for i, dv := range tr.dense {
		out += n.OutW[i] * dv
	}
	tr.out = out
	if n.Mode == modeDirection {
		tr.pred = sigmoid(out)
	} else {
		tr.pred = out
	}
	return tr
}

// predict runs inference without recording a trace.
func (n *network) predict(window [][]float64) float64 {
	return n.forward(window, nil).pred
}

// gradients mirrors the network's weight shapes.
type gradients struct {
	recurrent []layerWeights
	denseW    [][]float64
	denseB    []float64
	outW      []float64
	outB      float64
}

func newGradients(n *network) *gradients {
	g := &gradients{
		recurrent: make([]layerWeights, len(n.Recurrent)),
		denseW:    zeroMatrix(len(n.DenseW), len(n.DenseW[0])),
		denseB:    make([]float64, len(n.DenseB)),
		outW:      make([]float64, len(n.OutW)),
	}
	in := n.InputSize
	for l, h := range n.HiddenSizes {
		g.recurrent[l] = layerWeights{
			Wx: zeroMatrix(h, in),
			Wh: zeroMatrix(h, h),
			B:  make([]float64, h),
		}
		in = h
	}
	return g
}

func zeroMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

// backward accumulates gradients for one example via backpropagation
// through time. dOut is dLoss/dOutput at the pre-activation output.
func (n *network) backward(tr *trace, dOut float64, masks [][]float64, g *gradients) {
	steps := len(tr.inputs)
	layers := len(n.Recurrent)

	g.outB += dOut
	dDense := make([]float64, n.DenseSize)
	for i := 0; i < n.DenseSize; i++ {
		g.outW[i] += dOut * tr.dense[i]
		dDense[i] = dOut * n.OutW[i]
	}

	last := tr.hidden[layers-1][steps-1]
	// dHidden[l][t] accumulates dLoss/dState before the tanh derivative.
	dHidden := make([][][]float64, layers)
	for l := range dHidden {
		dHidden[l] = make([][]float64, steps)
		for t := range dHidden[l] {
			dHidden[l][t] = make([]float64, len(n.Recurrent[l].B))
		}
	}
	for i := 0; i < n.DenseSize; i++ {
		g.denseB[i] += dDense[i]
		for j, hv := range last {
			g.denseW[i][j] += dDense[i] * hv
			dHidden[layers-1][steps-1][j] += dDense[i] * n.DenseW[i][j]
		}
	}

	for t := steps - 1; t >= 0; t-- {
		for l := layers - 1; l >= 0; l-- {
			lw := n.Recurrent[l]
			h := len(lw.B)
			state := tr.hidden[l][t]

			delta := make([]float64, h)
			for i := 0; i < h; i++ {
				d := dHidden[l][t][i]
				if masks != nil {
					d *= masks[l][i]
				}
				// d tanh(z)/dz through the (possibly masked) state: the
				// stored state already includes the mask, so divide it out
				// before squaring would be wrong; recompute from unmasked.
				s := state[i]
				if masks != nil && masks[l][i] != 0 {
					s = state[i] / masks[l][i]
				}
				delta[i] = d * (1 - s*s)
			}

			var input []float64
			if l == 0 {
				input = tr.inputs[t]
			} else {
				input = tr.hidden[l-1][t]
			}

			for i := 0; i < h; i++ {
				di := delta[i]
				if di == 0 {
					continue
				}
				g.recurrent[l].B[i] += di
				for j, xv := range input {
					g.recurrent[l].Wx[i][j] += di * xv
					if l > 0 {
						dHidden[l-1][t][j] += di * lw.Wx[i][j]
					}
				}
				if t > 0 {
					prev := tr.hidden[l][t-1]
					for j := range prev {
						g.recurrent[l].Wh[i][j] += di * prev[j]
						dHidden[l][t-1][j] += di * lw.Wh[i][j]
					}
				}
			}
		}
	}
}

// scale divides all gradients by a batch size.
func (g *gradients) scale(batch float64) {
	inv := 1 / batch
	for l := range g.recurrent {
		scaleMatrix(g.recurrent[l].Wx, inv)
		scaleMatrix(g.recurrent[l].Wh, inv)
		scaleVector(g.recurrent[l].B, inv)
	}
	scaleMatrix(g.denseW, inv)
	scaleVector(g.denseB, inv)
	scaleVector(g.outW, inv)
	g.outB *= inv
}

// clip rescales gradients to a maximum global L2 norm. Returns the norm
// before clipping; callers treat a non-finite norm as a numerical failure.
func (g *gradients) clip(maxNorm float64) float64 {
	sum := g.outB * g.outB
	for l := range g.recurrent {
		sum += sumSqMatrix(g.recurrent[l].Wx)
		sum += sumSqMatrix(g.recurrent[l].Wh)
		sum += sumSqVector(g.recurrent[l].B)
	}
	sum += sumSqMatrix(g.denseW)
	sum += sumSqVector(g.denseB)
	sum += sumSqVector(g.outW)

	norm := math.Sqrt(sum)
	if !isFinite(norm) {
		return norm
	}
	if norm > maxNorm && norm > 0 {
		f := maxNorm / norm
		for l := range g.recurrent {
			scaleMatrix(g.recurrent[l].Wx, f)
			scaleMatrix(g.recurrent[l].Wh, f)
			scaleVector(g.recurrent[l].B, f)
		}
		scaleMatrix(g.denseW, f)
		scaleVector(g.denseB, f)
		scaleVector(g.outW, f)
		g.outB *= f
	}
	return norm
}

// adamState carries first and second moment estimates, shaped like the
// gradients they smooth.
type adamState struct {
	m, v *gradients
	step int
}

func newAdamState(n *network) *adamState {
	return &adamState{m: newGradients(n), v: newGradients(n)}
}

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

// apply performs one Adam update on the network in place.
func (a *adamState) apply(n *network, g *gradients, lr float64) {
	a.step++
	c1 := 1 - math.Pow(adamBeta1, float64(a.step))
	c2 := 1 - math.Pow(adamBeta2, float64(a.step))

	upd := func(w *float64, grad float64, m, v *float64) {
		*m = adamBeta1**m + (1-adamBeta1)*grad
		*v = adamBeta2**v + (1-adamBeta2)*grad*grad
		*w -= lr * (*m / c1) / (math.Sqrt(*v/c2) + adamEps)
	}

	for l := range n.Recurrent {
		for i := range n.Recurrent[l].Wx {
			for j := range n.Recurrent[l].Wx[i] {
				upd(&n.Recurrent[l].Wx[i][j], g.recurrent[l].Wx[i][j], &a.m.recurrent[l].Wx[i][j], &a.v.recurrent[l].Wx[i][j])
			}
		}
		for i := range n.Recurrent[l].Wh {
			for j := range n.Recurrent[l].Wh[i] {
				upd(&n.Recurrent[l].Wh[i][j], g.recurrent[l].Wh[i][j], &a.m.recurrent[l].Wh[i][j], &a.v.recurrent[l].Wh[i][j])
			}
		}
		for i := range n.Recurrent[l].B {
			upd(&n.Recurrent[l].B[i], g.recurrent[l].B[i], &a.m.recurrent[l].B[i], &a.v.recurrent[l].B[i])
		}
	}
	for i := range n.DenseW {
		for j := range n.DenseW[i] {
			upd(&n.DenseW[i][j], g.denseW[i][j], &a.m.denseW[i][j], &a.v.denseW[i][j])
		}
	}
	for i := range n.DenseB {
		upd(&n.DenseB[i], g.denseB[i], &a.m.denseB[i], &a.v.denseB[i])
	}
	for i := range n.OutW {
		upd(&n.OutW[i], g.outW[i], &a.m.outW[i], &a.v.outW[i])
	}
	upd(&n.OutB, g.outB, &a.m.outB, &a.v.outB)
}

// clone deep-copies the weights so early stopping can restore the best
// epoch after patience runs out.
func (n *network) clone() *network {
	cp := *n
	cp.HiddenSizes = append([]int(nil), n.HiddenSizes...)
	cp.Recurrent = make([]layerWeights, len(n.Recurrent))
	for l := range n.Recurrent {
		cp.Recurrent[l] = layerWeights{
			Wx: copyMatrix(n.Recurrent[l].Wx),
			Wh: copyMatrix(n.Recurrent[l].Wh),
			B:  append([]float64(nil), n.Recurrent[l].B...),
		}
	}
	cp.DenseW = copyMatrix(n.DenseW)
	cp.DenseB = append([]float64(nil), n.DenseB...)
	cp.OutW = append([]float64(nil), n.OutW...)
	return &cp
}

func copyMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i := range m {
		out[i] = append([]float64(nil), m[i]...)
	}
	return out
}

func scaleMatrix(m [][]float64, f float64) {
	for i := range m {
		for j := range m[i] {
			m[i][j] *= f
		}
	}
}

func scaleVector(v []float64, f float64) {
	for i := range v {
		v[i] *= f
	}
}

func sumSqMatrix(m [][]float64) float64 {
	s := 0.0
	for i := range m {
		for j := range m[i] {
			s += m[i][j] * m[i][j]
		}
	}
	return s
}

func sumSqVector(v []float64) float64 {
	s := 0.0
	for i := range v {
		s += v[i] * v[i]
	}
	return s
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
