// Package ml implements the inference side of the hybrid detection model:
// a standard scaler, two tree-based probability classifiers, the weighted
// ensemble that fuses them, and an optional autoencoder anomaly scorer.
// Training happens offline; this package only loads exported artifacts and
// runs them.
package ml

import "fmt"

// StandardScaler normalizes features with training-time mean and scale:
// z = (x - mean) / scale. Artifacts with a zero scale entry degrade that
// slot to centering only.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Dim returns the feature dimension the scaler was fitted for.
func (s *StandardScaler) Dim() int { return len(s.Mean) }

// Validate checks internal consistency at load time.
func (s *StandardScaler) Validate() error {
	if len(s.Mean) == 0 {
		return fmt.Errorf("scaler: empty mean vector")
	}
	if len(s.Mean) != len(s.Scale) {
		return fmt.Errorf("scaler: mean/scale length mismatch (%d vs %d)", len(s.Mean), len(s.Scale))
	}
	return nil
}

// Transform returns the normalized copy of x. The input length must match
// the fitted dimension; the bundle guarantees this after load.
func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("scaler: expected %d features, got %d", len(s.Mean), len(x))
	}
	out := make([]float64, len(x))
	for i, v := range x {
		d := s.Scale[i]
		if d == 0 {
			out[i] = v - s.Mean[i]
			continue
		}
		out[i] = (v - s.Mean[i]) / d
	}
	return out, nil
}
