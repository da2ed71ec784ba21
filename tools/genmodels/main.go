// genmodels writes a set of synthetic model artifacts for local development
// and integration testing. The artifacts are structurally valid and pass
// bundle validation, but their predictions are only as smart as a handful
// of random stumps; never deploy them.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/Hasan8936/edge-fhir-hybrid/pkg/fhir"
	"github.com/Hasan8936/edge-fhir-hybrid/pkg/ml"
)

func main() {
	dir := flag.String("out", "models", "output directory for artifacts")
	dim := flag.Int("dim", fhir.SemanticFeatures, "feature vector dimension")
	trees := flag.Int("trees", 5, "trees in the random forest")
	rounds := flag.Int("rounds", 3, "boosting rounds")
	withAE := flag.Bool("ae", true, "also write the optional autoencoder")
	seed := flag.Int64("seed", 42, "RNG seed")
	flag.Parse()

	if err := run(*dir, *dim, *trees, *rounds, *withAE, *seed); err != nil {
		fmt.Fprintln(os.Stderr, "genmodels:", err)
		os.Exit(1)
	}
}

var classes = []string{"Normal", "DDoS", "ScanPort", "Infiltration", "Malware", "Suspicious"}

func run(dir string, dim, trees, rounds int, withAE bool, seed int64) error {
	rng := rand.New(rand.NewSource(seed))

	scaler := &ml.StandardScaler{
		Mean:  make([]float64, dim),
		Scale: make([]float64, dim),
	}
	mask := make([]bool, dim)
	for i := 0; i < dim; i++ {
		scaler.Mean[i] = rng.Float64() * 100
		scaler.Scale[i] = 1 + rng.Float64()*10
		mask[i] = true
	}

	forest := &ml.RandomForest{ClassNames: classes}
	for i := 0; i < trees; i++ {
		forest.Trees = append(forest.Trees, randomStump(rng, dim, randomDistribution(rng, len(classes))...))
	}

	boosted := &ml.GradientBoostedTrees{ClassNames: classes}
	for r := 0; r < rounds; r++ {
		var round []ml.DecisionTree
		for k := 0; k < len(classes); k++ {
			round = append(round, randomStump(rng, dim, rng.NormFloat64(), rng.NormFloat64()))
		}
		boosted.Rounds = append(boosted.Rounds, round)
	}

	var autoenc *ml.AutoEncoder
	if withAE {
		autoenc = randomAutoencoder(rng, dim)
	}

	// Validate exactly the way the service loader will.
	if _, err := ml.NewBundle(scaler, mask, classes, forest, boosted, autoenc); err != nil {
		return fmt.Errorf("generated bundle invalid: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	artifacts := map[string]any{
		ml.ScalerFile:  scaler,
		ml.MaskFile:    map[string]any{"mask": mask},
		ml.LabelsFile:  map[string]any{"classes": classes},
		ml.ForestFile:  forest,
		ml.BoostedFile: boosted,
	}
	if autoenc != nil {
		artifacts[ml.AutoencFile] = autoenc
	}
	for name, v := range artifacts {
		if err := writeJSON(filepath.Join(dir, name), v); err != nil {
			return err
		}
		fmt.Println("wrote", filepath.Join(dir, name))
	}
	return nil
}

// randomStump builds a depth-1 tree splitting on a random feature. leaves
// holds either per-class probability rows (forest) or two single-value
// regression leaves (boosting), flattened left then right.
func randomStump(rng *rand.Rand, dim int, leaves ...float64) ml.DecisionTree {
	var left, right []float64
	if len(leaves) == 2 {
		left, right = leaves[:1], leaves[1:]
	} else {
		half := len(leaves) / 2
		left, right = leaves[:half], leaves[half:]
	}
	return ml.DecisionTree{
		Feature:   []int{rng.Intn(dim), -1, -1},
		Threshold: []float64{rng.NormFloat64(), 0, 0},
		Left:      []int{1, -1, -1},
		Right:     []int{2, -1, -1},
		Value:     [][]float64{nil, left, right},
	}
}

// randomDistribution returns two normalized probability rows concatenated,
// first the left leaf then the right.
func randomDistribution(rng *rand.Rand, k int) []float64 {
	out := make([]float64, 0, 2*k)
	for leaf := 0; leaf < 2; leaf++ {
		row := make([]float64, k)
		var sum float64
		for i := range row {
			row[i] = rng.Float64()
			sum += row[i]
		}
		for i := range row {
			row[i] /= sum
		}
		out = append(out, row...)
	}
	return out
}

func randomAutoencoder(rng *rand.Rand, dim int) *ml.AutoEncoder {
	hidden := dim / 2
	if hidden < 2 {
		hidden = 2
	}
	return &ml.AutoEncoder{
		InputDim: dim,
		Layers: []ml.DenseLayer{
			randomLayer(rng, hidden, dim, "relu"),
			randomLayer(rng, dim, hidden, "linear"),
		},
		ErrorScale: 1.0,
	}
}

func randomLayer(rng *rand.Rand, out, in int, activation string) ml.DenseLayer {
	w := make([][]float64, out)
	for i := range w {
		w[i] = make([]float64, in)
		for j := range w[i] {
			w[i][j] = rng.NormFloat64() * 0.1
		}
	}
	return ml.DenseLayer{Weights: w, Bias: make([]float64, out), Activation: activation}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
