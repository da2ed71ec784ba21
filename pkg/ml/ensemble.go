package ml

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// ErrClassifiersUnavailable means neither ensemble member produced a
// distribution; callers must surface "model not ready" instead of a
// fabricated verdict.
var ErrClassifiersUnavailable = errors.New("no classifier available")

// sumTolerance is the allowed drift of a probability distribution before
// renormalization kicks in.
const sumTolerance = 1e-9

// Prediction is the fused classification result in canonical label order.
type Prediction struct {
	Probs      []float64 `json:"probs"`
	Label      string    `json:"pred_class"`
	Index      int       `json:"pred_index"`
	Confidence float64   `json:"confidence"`

	// Per-member probability of the predicted class, for audit metadata.
	// A negative value marks a member that failed on this call.
	ForestProb  float64 `json:"rf"`
	BoostedProb float64 `json:"xgb"`
}

// EnsembleClassifier fuses the bundle's two classifiers by weighted
// averaging. Stateless apart from the immutable bundle, so one instance
// serves all concurrent calls.
type EnsembleClassifier struct {
	bundle        *Bundle
	forestWeight  float64
	boostedWeight float64
	log           zerolog.Logger
}

// NewEnsembleClassifier builds the ensemble with the given member weights.
// Weights must be non-negative and are normalized to sum to 1; two zero
// weights fall back to the default 0.5/0.5 split.
func NewEnsembleClassifier(bundle *Bundle, forestWeight, boostedWeight float64, logger zerolog.Logger) (*EnsembleClassifier, error) {
	if bundle == nil {
		return nil, fmt.Errorf("ensemble: nil bundle")
	}
	if forestWeight < 0 || boostedWeight < 0 {
		return nil, fmt.Errorf("ensemble: weights must be non-negative, got %f/%f", forestWeight, boostedWeight)
	}
	total := forestWeight + boostedWeight
	if total == 0 {
		forestWeight, boostedWeight = 0.5, 0.5
	} else {
		forestWeight /= total
		boostedWeight /= total
	}
	return &EnsembleClassifier{
		bundle:        bundle,
		forestWeight:  forestWeight,
		boostedWeight: boostedWeight,
		log:           logger.With().Str("component", "ensemble").Logger(),
	}, nil
}

// Classify runs scale → mask → member predictions → weighted fusion →
// argmax on a raw feature vector. A member that errors (or panics) on this
// call is dropped and the other takes weight 1.0; both failing returns
// ErrClassifiersUnavailable.
func (e *EnsembleClassifier) Classify(raw []float64) (*Prediction, error) {
	scaled, err := e.bundle.Scaler.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("ensemble: %w", err)
	}
	selected, err := e.bundle.ApplyMask(scaled)
	if err != nil {
		return nil, fmt.Errorf("ensemble: %w", err)
	}

	forestProbs, forestErr := e.memberProbs(e.bundle.Forest, e.bundle.forestAlign, selected)
	boostedProbs, boostedErr := e.memberProbs(e.bundle.Boosted, e.bundle.boostedAlign, selected)

	wf, wb := e.forestWeight, e.boostedWeight
	switch {
	case forestErr != nil && boostedErr != nil:
		e.log.Error().AnErr("forest", forestErr).AnErr("boosted", boostedErr).Msg("both classifiers failed")
		return nil, ErrClassifiersUnavailable
	case forestErr != nil:
		e.log.Warn().Err(forestErr).Msg("forest member failed, boosted takes full weight")
		wf, wb = 0, 1
	case boostedErr != nil:
		e.log.Warn().Err(boostedErr).Msg("boosted member failed, forest takes full weight")
		wf, wb = 1, 0
	}

	fused := make([]float64, len(e.bundle.Labels))
	for k := range fused {
		if forestErr == nil {
			fused[k] += wf * forestProbs[k]
		}
		if boostedErr == nil {
			fused[k] += wb * boostedProbs[k]
		}
	}
	renormalize(fused)

	idx := argmax(fused)
	pred := &Prediction{
		Probs:       fused,
		Label:       e.bundle.Labels[idx],
		Index:       idx,
		Confidence:  fused[idx],
		ForestProb:  -1,
		BoostedProb: -1,
	}
	if forestErr == nil {
		pred.ForestProb = forestProbs[idx]
	}
	if boostedErr == nil {
		pred.BoostedProb = boostedProbs[idx]
	}
	return pred, nil
}

// memberProbs runs one classifier and aligns its output to the canonical
// label order. Panics inside a member are contained here so a corrupt
// artifact can never take down the request.
func (e *EnsembleClassifier) memberProbs(c Classifier, align *labelAlignment, x []float64) (probs []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			probs = nil
			err = fmt.Errorf("%s: panic during prediction: %v", c.Algorithm(), r)
		}
	}()
	raw, err := c.PredictProba(x)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Algorithm(), err)
	}
	return align.apply(raw)
}

// renormalize rescales a distribution whose sum drifted from 1 due to
// floating error or member fallback.
func renormalize(probs []float64) {
	sum := 0.0
	for _, p := range probs {
		sum += p
	}
	if sum <= 0 {
		// Degenerate distribution: spread uniformly rather than divide by zero.
		u := 1.0 / float64(len(probs))
		for i := range probs {
			probs[i] = u
		}
		return
	}
	if math.Abs(sum-1) <= sumTolerance {
		return
	}
	for i := range probs {
		probs[i] /= sum
	}
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
