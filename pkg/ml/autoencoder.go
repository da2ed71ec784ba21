package ml

import (
	"fmt"
	"math"
)

// DenseLayer is one fully-connected layer: y = act(W*x + b).
// Weights are stored row-major, one row per output unit.
type DenseLayer struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"` // "relu" or "linear"
}

// AutoEncoder reconstructs its input through a stack of dense layers and
// scores anomalies by reconstruction error. ErrorScale is the training-time
// error magnitude used to map raw MSE into [0,1].
type AutoEncoder struct {
	InputDim   int          `json:"input_dim"`
	Layers     []DenseLayer `json:"layers"`
	ErrorScale float64      `json:"error_scale"`
}

// Validate checks layer wiring at load time: the stack must start and end
// at InputDim and each layer must consume its predecessor's width.
func (ae *AutoEncoder) Validate() error {
	if ae.InputDim <= 0 {
		return fmt.Errorf("autoencoder: invalid input dim %d", ae.InputDim)
	}
	if len(ae.Layers) == 0 {
		return fmt.Errorf("autoencoder: no layers")
	}
	if ae.ErrorScale <= 0 {
		return fmt.Errorf("autoencoder: error scale must be positive, got %f", ae.ErrorScale)
	}
	width := ae.InputDim
	for i, l := range ae.Layers {
		if len(l.Weights) == 0 {
			return fmt.Errorf("autoencoder: layer %d has no units", i)
		}
		if len(l.Bias) != len(l.Weights) {
			return fmt.Errorf("autoencoder: layer %d bias/weight mismatch (%d vs %d)", i, len(l.Bias), len(l.Weights))
		}
		for u, row := range l.Weights {
			if len(row) != width {
				return fmt.Errorf("autoencoder: layer %d unit %d expects %d inputs, got %d", i, u, width, len(row))
			}
		}
		switch l.Activation {
		case "relu", "linear", "":
		default:
			return fmt.Errorf("autoencoder: layer %d unknown activation %q", i, l.Activation)
		}
		width = len(l.Weights)
	}
	if width != ae.InputDim {
		return fmt.Errorf("autoencoder: output dim %d does not match input dim %d", width, ae.InputDim)
	}
	return nil
}

// Reconstruct runs x through the full encoder/decoder stack.
func (ae *AutoEncoder) Reconstruct(x []float64) ([]float64, error) {
	if len(x) != ae.InputDim {
		return nil, fmt.Errorf("autoencoder: expected %d inputs, got %d", ae.InputDim, len(x))
	}
	cur := x
	for i := range ae.Layers {
		cur = ae.Layers[i].forward(cur)
	}
	return cur, nil
}

// MSE returns the raw mean squared reconstruction error for x.
func (ae *AutoEncoder) MSE(x []float64) (float64, error) {
	rec, err := ae.Reconstruct(x)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for i := range x {
		d := x[i] - rec[i]
		sum += d * d
	}
	return sum / float64(len(x)), nil
}

// Score maps the reconstruction error into [0,1] via ErrorScale. Errors at
// or above the scale saturate at 1; the mapping is monotone in the raw MSE.
func (ae *AutoEncoder) Score(x []float64) (float64, error) {
	mse, err := ae.MSE(x)
	if err != nil {
		return 0, err
	}
	return math.Min(mse/ae.ErrorScale, 1.0), nil
}

func (l *DenseLayer) forward(x []float64) []float64 {
	out := make([]float64, len(l.Weights))
	for u, row := range l.Weights {
		acc := l.Bias[u]
		for i, w := range row {
			acc += w * x[i]
		}
		if l.Activation == "relu" && acc < 0 {
			acc = 0
		}
		out[u] = acc
	}
	return out
}
