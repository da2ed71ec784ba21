package detector

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/Hasan8936/edge-fhir-hybrid/pkg/fhir"
	"github.com/Hasan8936/edge-fhir-hybrid/pkg/ml"
)

// The test bundle mirrors the deployed shape at a miniature scale: 8 raw
// features (no padding), all selected, three classes. Both members split
// on the failure flag, so records without failure keywords classify as
// Normal and records with them as DDoS.

var testLabels = []string{"DDoS", "Normal", "Suspicious"}

func stump(feature int, threshold float64, left, right []float64) ml.DecisionTree {
	return ml.DecisionTree{
		Feature:   []int{feature, -1, -1},
		Threshold: []float64{threshold, 0, 0},
		Left:      []int{1, -1, -1},
		Right:     []int{2, -1, -1},
		Value:     [][]float64{nil, left, right},
	}
}

func identityScaler(dim int) *ml.StandardScaler {
	s := &ml.StandardScaler{Mean: make([]float64, dim), Scale: make([]float64, dim)}
	for i := range s.Scale {
		s.Scale[i] = 1
	}
	return s
}

func allTrueMask(dim int) []bool {
	m := make([]bool, dim)
	for i := range m {
		m[i] = true
	}
	return m
}

func testForest() *ml.RandomForest {
	return &ml.RandomForest{
		ClassNames: testLabels,
		Trees: []ml.DecisionTree{
			stump(fhir.SlotFailureFlag, 0.5, []float64{0.05, 0.9, 0.05}, []float64{0.9, 0.05, 0.05}),
		},
	}
}

func testBoosted() *ml.GradientBoostedTrees {
	return &ml.GradientBoostedTrees{
		ClassNames: testLabels,
		Rounds: [][]ml.DecisionTree{{
			stump(fhir.SlotFailureFlag, 0.5, []float64{-2}, []float64{3}),
			stump(fhir.SlotFailureFlag, 0.5, []float64{3}, []float64{-2}),
			stump(fhir.SlotFailureFlag, 0.5, []float64{-2}, []float64{-2}),
		}},
	}
}

func identityAutoencoder(dim int) *ml.AutoEncoder {
	w := make([][]float64, dim)
	for i := range w {
		w[i] = make([]float64, dim)
		w[i][i] = 1
	}
	return &ml.AutoEncoder{
		InputDim:   dim,
		Layers:     []ml.DenseLayer{{Weights: w, Bias: make([]float64, dim), Activation: "linear"}},
		ErrorScale: 0.1,
	}
}

// zeroAutoencoder reconstructs zeros; its error tracks the input energy.
func zeroAutoencoder(dim int) *ml.AutoEncoder {
	w := make([][]float64, dim)
	for i := range w {
		w[i] = make([]float64, dim)
	}
	return &ml.AutoEncoder{
		InputDim:   dim,
		Layers:     []ml.DenseLayer{{Weights: w, Bias: make([]float64, dim), Activation: "linear"}},
		ErrorScale: 1,
	}
}

func testBundle(t *testing.T, autoenc *ml.AutoEncoder) *ml.Bundle {
	t.Helper()
	b, err := ml.NewBundle(identityScaler(fhir.SemanticFeatures), allTrueMask(fhir.SemanticFeatures), testLabels, testForest(), testBoosted(), autoenc)
	if err != nil {
		t.Fatalf("NewBundle: %v", err)
	}
	return b
}

func testEngine(t *testing.T, autoenc *ml.AutoEncoder, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(testBundle(t, autoenc), 0.5, 0.5, DefaultPolicy(), zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}
