package ml

import (
	"fmt"
	"math"
)

// GradientBoostedTrees is an XGBoost-style multiclass booster exported as
// regression trees grouped by round: Rounds[r][k] contributes to the raw
// margin of class k. Class probabilities come from a softmax over the
// summed margins.
type GradientBoostedTrees struct {
	ClassNames []string         `json:"classes"`
	BaseScore  float64          `json:"base_score"`
	Rounds     [][]DecisionTree `json:"rounds"`
}

// Validate checks the booster artifact at load time.
func (gb *GradientBoostedTrees) Validate() error {
	k := len(gb.ClassNames)
	if k < 2 {
		return fmt.Errorf("gradient boosting: need at least 2 classes, got %d", k)
	}
	if len(gb.Rounds) == 0 {
		return fmt.Errorf("gradient boosting: no boosting rounds")
	}
	for r, round := range gb.Rounds {
		if len(round) != k {
			return fmt.Errorf("gradient boosting: round %d has %d trees, want %d", r, len(round), k)
		}
		for c := range round {
			if err := round[c].validate(0); err != nil {
				return fmt.Errorf("gradient boosting: round %d class %d: %w", r, c, err)
			}
		}
	}
	return nil
}

// PredictProba implements Classifier.
func (gb *GradientBoostedTrees) PredictProba(x []float64) ([]float64, error) {
	margins := make([]float64, len(gb.ClassNames))
	for k := range margins {
		margins[k] = gb.BaseScore
	}
	for r := range gb.Rounds {
		for k := range gb.Rounds[r] {
			leaf, err := gb.Rounds[r][k].leaf(x)
			if err != nil {
				return nil, fmt.Errorf("gradient boosting: round %d class %d: %w", r, k, err)
			}
			if len(leaf) == 0 {
				return nil, fmt.Errorf("gradient boosting: round %d class %d: empty leaf", r, k)
			}
			margins[k] += leaf[0]
		}
	}
	return softmax(margins), nil
}

// Classes implements Classifier.
func (gb *GradientBoostedTrees) Classes() []string { return gb.ClassNames }

// Algorithm implements Classifier.
func (gb *GradientBoostedTrees) Algorithm() string { return "gradient_boosting" }

// softmax with max-subtraction for numeric stability.
func softmax(margins []float64) []float64 {
	maxM := margins[0]
	for _, m := range margins[1:] {
		if m > maxM {
			maxM = m
		}
	}
	out := make([]float64, len(margins))
	sum := 0.0
	for i, m := range margins {
		out[i] = math.Exp(m - maxM)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
