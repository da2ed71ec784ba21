package ml

import "fmt"

// DecisionTree is one classification tree in flattened array form, the way
// the training pipeline exports it: node i splits on Feature[i] at
// Threshold[i] (go left when x <= threshold), with -1 children marking a
// leaf. Leaves carry a class-count (or probability) row in Value.
type DecisionTree struct {
	Feature   []int       `json:"feature"`
	Threshold []float64   `json:"threshold"`
	Left      []int       `json:"left"`
	Right     []int       `json:"right"`
	Value     [][]float64 `json:"value"`
}

// validate checks structural consistency for a tree whose leaves hold
// rows of width classes (classes == 0 skips the width check, for
// regression trees).
func (t *DecisionTree) validate(classes int) error {
	n := len(t.Feature)
	if n == 0 {
		return fmt.Errorf("tree: no nodes")
	}
	if len(t.Threshold) != n || len(t.Left) != n || len(t.Right) != n || len(t.Value) != n {
		return fmt.Errorf("tree: ragged node arrays (feature=%d threshold=%d left=%d right=%d value=%d)",
			n, len(t.Threshold), len(t.Left), len(t.Right), len(t.Value))
	}
	for i := 0; i < n; i++ {
		if t.Left[i] >= n || t.Right[i] >= n {
			return fmt.Errorf("tree: node %d child out of range", i)
		}
		if t.Left[i] < 0 != (t.Right[i] < 0) {
			return fmt.Errorf("tree: node %d has exactly one child", i)
		}
		if t.Left[i] < 0 && classes > 0 && len(t.Value[i]) != classes {
			return fmt.Errorf("tree: leaf %d has %d values, want %d", i, len(t.Value[i]), classes)
		}
	}
	return nil
}

// leaf walks the tree for x and returns the leaf value row.
func (t *DecisionTree) leaf(x []float64) ([]float64, error) {
	i := 0
	for steps := 0; steps <= len(t.Feature); steps++ {
		if t.Left[i] < 0 {
			return t.Value[i], nil
		}
		f := t.Feature[i]
		if f < 0 || f >= len(x) {
			return nil, fmt.Errorf("tree: split feature %d out of range for %d inputs", f, len(x))
		}
		if x[f] <= t.Threshold[i] {
			i = t.Left[i]
		} else {
			i = t.Right[i]
		}
	}
	return nil, fmt.Errorf("tree: traversal cycle detected")
}

// RandomForest averages per-tree leaf class distributions, matching
// scikit-learn's predict_proba semantics.
type RandomForest struct {
	ClassNames []string       `json:"classes"`
	Trees      []DecisionTree `json:"trees"`
}

// Validate checks the forest artifact at load time.
func (rf *RandomForest) Validate() error {
	if len(rf.ClassNames) < 2 {
		return fmt.Errorf("random forest: need at least 2 classes, got %d", len(rf.ClassNames))
	}
	if len(rf.Trees) == 0 {
		return fmt.Errorf("random forest: no trees")
	}
	for i := range rf.Trees {
		if err := rf.Trees[i].validate(len(rf.ClassNames)); err != nil {
			return fmt.Errorf("random forest: tree %d: %w", i, err)
		}
	}
	return nil
}

// PredictProba implements Classifier.
func (rf *RandomForest) PredictProba(x []float64) ([]float64, error) {
	probs := make([]float64, len(rf.ClassNames))
	for i := range rf.Trees {
		row, err := rf.Trees[i].leaf(x)
		if err != nil {
			return nil, fmt.Errorf("random forest: tree %d: %w", i, err)
		}
		// Leaf rows may be raw sample counts; normalize per tree.
		sum := 0.0
		for _, v := range row {
			sum += v
		}
		if sum <= 0 {
			continue
		}
		for k, v := range row {
			probs[k] += v / sum
		}
	}
	n := float64(len(rf.Trees))
	for k := range probs {
		probs[k] /= n
	}
	return probs, nil
}

// Classes implements Classifier.
func (rf *RandomForest) Classes() []string { return rf.ClassNames }

// Algorithm implements Classifier.
func (rf *RandomForest) Algorithm() string { return "random_forest" }
