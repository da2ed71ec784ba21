package ml

import "fmt"

// Classifier is the single capability both ensemble members must provide:
// a probability distribution over their class vocabulary for one feature
// vector. Implementations are immutable after load and safe for
// unsynchronized concurrent use.
type Classifier interface {
	// PredictProba returns P(class) aligned to Classes() order.
	PredictProba(x []float64) ([]float64, error)
	// Classes returns the classifier's own label order as exported.
	Classes() []string
	// Algorithm names the underlying model for logs and metrics.
	Algorithm() string
}

// labelAlignment maps a classifier's internal class order onto the
// bundle's canonical vocabulary. Built once at load time so the per-call
// path is a plain index copy.
type labelAlignment struct {
	// index[i] is the canonical position of the classifier's class i.
	index []int
}

func newLabelAlignment(classifierClasses, canonical []string) (*labelAlignment, error) {
	if len(classifierClasses) != len(canonical) {
		return nil, fmt.Errorf("label alignment: classifier has %d classes, vocabulary has %d",
			len(classifierClasses), len(canonical))
	}
	pos := make(map[string]int, len(canonical))
	for i, c := range canonical {
		pos[c] = i
	}
	index := make([]int, len(classifierClasses))
	for i, c := range classifierClasses {
		p, ok := pos[c]
		if !ok {
			return nil, fmt.Errorf("label alignment: class %q not in vocabulary", c)
		}
		index[i] = p
	}
	return &labelAlignment{index: index}, nil
}

// apply reorders a raw probability vector into canonical label order.
func (la *labelAlignment) apply(probs []float64) ([]float64, error) {
	if len(probs) != len(la.index) {
		return nil, fmt.Errorf("label alignment: got %d probabilities, want %d", len(probs), len(la.index))
	}
	out := make([]float64, len(probs))
	for i, p := range probs {
		out[la.index[i]] = p
	}
	return out, nil
}
