package ml

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

// Shared fixtures: a 4-feature bundle over three classes where feature 0
// decides the outcome (<= 0.5 looks Normal, above looks like DDoS).

var testLabels = []string{"DDoS", "Normal", "Suspicious"}

// stump builds a one-split tree with two leaves.
func stump(feature int, threshold float64, left, right []float64) DecisionTree {
	return DecisionTree{
		Feature:   []int{feature, -1, -1},
		Threshold: []float64{threshold, 0, 0},
		Left:      []int{1, -1, -1},
		Right:     []int{2, -1, -1},
		Value:     [][]float64{nil, left, right},
	}
}

func testScaler() *StandardScaler {
	return &StandardScaler{
		Mean:  []float64{0, 0, 0, 0},
		Scale: []float64{1, 1, 1, 1},
	}
}

func testMask() []bool { return []bool{true, true, true, false} }

// testForest uses a class order different from the canonical vocabulary to
// exercise load-time label alignment.
func testForest() *RandomForest {
	return &RandomForest{
		ClassNames: []string{"Normal", "DDoS", "Suspicious"},
		Trees: []DecisionTree{
			stump(0, 0.5, []float64{8, 1, 1}, []float64{1, 8, 1}),
			stump(0, 0.5, []float64{0.8, 0.1, 0.1}, []float64{0.1, 0.8, 0.1}),
		},
	}
}

func testBoosted() *GradientBoostedTrees {
	return &GradientBoostedTrees{
		ClassNames: testLabels,
		BaseScore:  0,
		Rounds: [][]DecisionTree{{
			stump(0, 0.5, []float64{-2}, []float64{2}),  // DDoS
			stump(0, 0.5, []float64{2}, []float64{-2}),  // Normal
			stump(0, 0.5, []float64{-1}, []float64{-1}), // Suspicious
		}},
	}
}

// identityAutoencoder reconstructs its input exactly (zero error).
func identityAutoencoder(dim int) *AutoEncoder {
	w := make([][]float64, dim)
	bias := make([]float64, dim)
	for i := range w {
		w[i] = make([]float64, dim)
		w[i][i] = 1
	}
	return &AutoEncoder{
		InputDim:   dim,
		Layers:     []DenseLayer{{Weights: w, Bias: bias, Activation: "linear"}},
		ErrorScale: 0.1,
	}
}

// zeroAutoencoder reconstructs everything as zeros, so the error grows
// with the input magnitude.
func zeroAutoencoder(dim int) *AutoEncoder {
	w := make([][]float64, dim)
	bias := make([]float64, dim)
	for i := range w {
		w[i] = make([]float64, dim)
	}
	return &AutoEncoder{
		InputDim:   dim,
		Layers:     []DenseLayer{{Weights: w, Bias: bias, Activation: "linear"}},
		ErrorScale: 1.0,
	}
}

func testBundle(t *testing.T) *Bundle {
	t.Helper()
	b, err := NewBundle(testScaler(), testMask(), testLabels, testForest(), testBoosted(), identityAutoencoder(4))
	if err != nil {
		t.Fatalf("NewBundle: %v", err)
	}
	return b
}

// writeArtifact marshals v into dir/name for LoadBundle tests.
func writeArtifact(t *testing.T, dir, name string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

// writeTestArtifacts writes a complete artifact directory, optionally
// including the autoencoder.
func writeTestArtifacts(t *testing.T, dir string, withAutoenc bool) {
	t.Helper()
	writeArtifact(t, dir, ScalerFile, testScaler())
	writeArtifact(t, dir, MaskFile, featureMask{Mask: testMask()})
	writeArtifact(t, dir, LabelsFile, labelVocabulary{Classes: testLabels})
	writeArtifact(t, dir, ForestFile, testForest())
	writeArtifact(t, dir, BoostedFile, testBoosted())
	if withAutoenc {
		writeArtifact(t, dir, AutoencFile, identityAutoencoder(4))
	}
}

func testLogger() zerolog.Logger { return zerolog.Nop() }
