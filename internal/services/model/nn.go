package model

import (
	"encoding/json"
	"math"
	"math/rand/v2"
)

// Layer is one fully connected layer. Weights and biases are the learned
// parameters; the remaining fields are Adam moments and backprop scratch
// state, rebuilt when a serialized network is loaded.
type Layer struct {
	Weights [][]float64 // [out][in]
	Biases  []float64

	mW, vW [][]float64
	mB, vB []float64

	input  []float64
	output []float64
	gradW  [][]float64
	gradB  []float64
}

// Network is a feedforward net with ReLU hidden layers and a linear output,
// trained with mini-batch Adam.
type Network struct {
	Sizes  []int
	Layers []*Layer
}

// TrainConfig holds the optimizer hyperparameters. Patience is the number of
// epochs without validation improvement tolerated before training stops and
// the best weights seen so far are restored.
type TrainConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	BatchSize    int
	Epochs       int
	Patience     int
}

// DefaultTrainConfig returns the hyperparameters used when none are configured.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		BatchSize:    64,
		Epochs:       200,
		Patience:     10,
	}
}

// NewNetwork builds a network with the given layer sizes, input first and
// output last. Weights are He-initialized, which suits the ReLU hidden layers.
func NewNetwork(sizes []int, rng *rand.Rand) *Network {
	n := &Network{Sizes: sizes}
	for i := 1; i < len(sizes); i++ {
		in, out := sizes[i-1], sizes[i]
		l := &Layer{
			Weights: makeMatrix(out, in),
			Biases:  make([]float64, out),
		}
		stddev := math.Sqrt(2.0 / float64(in))
		for r := range l.Weights {
			for c := range l.Weights[r] {
				l.Weights[r][c] = rng.NormFloat64() * stddev
			}
		}
		l.initScratch()
		n.Layers = append(n.Layers, l)
	}
	return n
}

func (l *Layer) initScratch() {
	out := len(l.Weights)
	in := 0
	if out > 0 {
		in = len(l.Weights[0])
	}
	l.mW = makeMatrix(out, in)
	l.vW = makeMatrix(out, in)
	l.mB = make([]float64, out)
	l.vB = make([]float64, out)
	l.gradW = makeMatrix(out, in)
	l.gradB = make([]float64, out)
}

// Forward propagates one input vector through the network and returns the
// output activations. Intermediate activations are cached for backprop.
func (n *Network) Forward(input []float64) []float64 {
	act := input
	last := len(n.Layers) - 1
	for i, l := range n.Layers {
		act = l.forward(act, i != last)
	}
	return act
}

func (l *Layer) forward(input []float64, relu bool) []float64 {
	l.input = input
	out := make([]float64, len(l.Weights))
	for i, row := range l.Weights {
		sum := l.Biases[i]
		for j, w := range row {
			sum += w * input[j]
		}
		if relu && sum < 0 {
			sum = 0
		}
		out[i] = sum
	}
	l.output = out
	return out
}

// Backward accumulates parameter gradients for the loss gradient delta at the
// output layer. Gradients add up across a batch until zeroGrad.
func (n *Network) Backward(delta []float64) {
	last := len(n.Layers) - 1
	for i := last; i >= 0; i-- {
		delta = n.Layers[i].backward(delta, i != last)
	}
}

func (l *Layer) backward(delta []float64, relu bool) []float64 {
	if relu {
		for i := range delta {
			if l.output[i] <= 0 {
				delta[i] = 0
			}
		}
	}
	prev := make([]float64, len(l.input))
	for i, d := range delta {
		l.gradB[i] += d
		row := l.Weights[i]
		grad := l.gradW[i]
		for j, x := range l.input {
			grad[j] += d * x
			prev[j] += row[j] * d
		}
	}
	return prev
}

func (n *Network) zeroGrad() {
	for _, l := range n.Layers {
		for i := range l.gradW {
			for j := range l.gradW[i] {
				l.gradW[i][j] = 0
			}
			l.gradB[i] = 0
		}
	}
}

// step applies one Adam update using the accumulated gradients. t counts
// updates from 1 for bias correction.
func (n *Network) step(cfg TrainConfig, t int) {
	c1 := 1 - math.Pow(cfg.Beta1, float64(t))
	c2 := 1 - math.Pow(cfg.Beta2, float64(t))
	for _, l := range n.Layers {
		for i := range l.Weights {
			for j := range l.Weights[i] {
				g := l.gradW[i][j]
				l.mW[i][j] = cfg.Beta1*l.mW[i][j] + (1-cfg.Beta1)*g
				l.vW[i][j] = cfg.Beta2*l.vW[i][j] + (1-cfg.Beta2)*g*g
				mHat := l.mW[i][j] / c1
				vHat := l.vW[i][j] / c2
				l.Weights[i][j] -= cfg.LearningRate * mHat / (math.Sqrt(vHat) + cfg.Epsilon)
			}
			g := l.gradB[i]
			l.mB[i] = cfg.Beta1*l.mB[i] + (1-cfg.Beta1)*g
			l.vB[i] = cfg.Beta2*l.vB[i] + (1-cfg.Beta2)*g*g
			mHat := l.mB[i] / c1
			vHat := l.vB[i] / c2
			l.Biases[i] -= cfg.LearningRate * mHat / (math.Sqrt(vHat) + cfg.Epsilon)
		}
	}
}

// Train runs mini-batch Adam over the training set and returns the validation
// MSE per completed epoch. Training stops early once validation loss has not
// improved for cfg.Patience consecutive epochs; the weights from the best
// epoch are restored before returning.
func (n *Network) Train(trainX, trainY, valX, valY [][]float64, cfg TrainConfig, rng *rand.Rand) []float64 {
	indices := make([]int, len(trainX))
	for i := range indices {
		indices[i] = i
	}

	var losses []float64
	best := math.Inf(1)
	bestEpoch := -1
	var bestW params
	updates := 0

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})

		for batchStart := 0; batchStart < len(indices); batchStart += cfg.BatchSize {
			batchEnd := batchStart + cfg.BatchSize
			if batchEnd > len(indices) {
				batchEnd = len(indices)
			}
			batch := indices[batchStart:batchEnd]

			n.zeroGrad()
			for _, idx := range batch {
				out := n.Forward(trainX[idx])
				delta := make([]float64, len(out))
				for k := range out {
					delta[k] = 2 * (out[k] - trainY[idx][k]) / float64(len(batch))
				}
				n.Backward(delta)
			}
			updates++
			n.step(cfg, updates)
		}

		valLoss := n.MSELoss(valX, valY)
		losses = append(losses, valLoss)

		if valLoss < best {
			best = valLoss
			bestEpoch = epoch
			bestW = n.capture()
		} else if cfg.Patience > 0 && epoch-bestEpoch >= cfg.Patience {
			break
		}
	}

	if bestEpoch >= 0 {
		n.restore(bestW)
	}
	return losses
}

// MSELoss computes the mean squared error over a dataset.
func (n *Network) MSELoss(X, Y [][]float64) float64 {
	if len(X) == 0 {
		return 0
	}
	var sum float64
	var count int
	for i := range X {
		out := n.Forward(X[i])
		for k := range out {
			d := out[k] - Y[i][k]
			sum += d * d
			count++
		}
	}
	return sum / float64(count)
}

// params is a deep copy of the learned parameters, used to roll back to the
// best epoch after early stopping.
type params struct {
	weights [][][]float64
	biases  [][]float64
}

func (n *Network) capture() params {
	p := params{
		weights: make([][][]float64, len(n.Layers)),
		biases:  make([][]float64, len(n.Layers)),
	}
	for i, l := range n.Layers {
		p.weights[i] = makeMatrix(len(l.Weights), len(l.Weights[0]))
		for r := range l.Weights {
			copy(p.weights[i][r], l.Weights[r])
		}
		p.biases[i] = make([]float64, len(l.Biases))
		copy(p.biases[i], l.Biases)
	}
	return p
}

func (n *Network) restore(p params) {
	for i, l := range n.Layers {
		for r := range l.Weights {
			copy(l.Weights[r], p.weights[i][r])
		}
		copy(l.Biases, p.biases[i])
	}
}

type layerJSON struct {
	Weights [][]float64 `json:"weights"`
	Biases  []float64   `json:"biases"`
}

type networkJSON struct {
	Sizes  []int       `json:"sizes"`
	Layers []layerJSON `json:"layers"`
}

// MarshalJSON serializes only the learned parameters.
func (n *Network) MarshalJSON() ([]byte, error) {
	out := networkJSON{Sizes: n.Sizes}
	for _, l := range n.Layers {
		out.Layers = append(out.Layers, layerJSON{Weights: l.Weights, Biases: l.Biases})
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the parameters and rebuilds optimizer scratch state.
func (n *Network) UnmarshalJSON(data []byte) error {
	var in networkJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	n.Sizes = in.Sizes
	n.Layers = nil
	for _, lj := range in.Layers {
		l := &Layer{Weights: lj.Weights, Biases: lj.Biases}
		l.initScratch()
		n.Layers = append(n.Layers, l)
	}
	return nil
}

func makeMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}
