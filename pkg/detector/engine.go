package detector

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Hasan8936/edge-fhir-hybrid/pkg/fhir"
	"github.com/Hasan8936/edge-fhir-hybrid/pkg/ml"
)

// ErrNotReady is returned by Infer while the model bundle is unavailable.
// Callers surface it as a service-unavailable condition; the engine never
// fabricates a verdict in this state.
var ErrNotReady = errors.New("model not ready")

// FeatureObserver receives every extracted feature vector, e.g. the drift
// monitor. Observers must not block and never affect the verdict.
type FeatureObserver interface {
	Observe(vec []float64)
}

// Engine ties the pipeline together: extract → classify → score → decide.
// All state is immutable after construction, so one Engine serves all
// concurrent calls without locking.
type Engine struct {
	bundle    *ml.Bundle
	extractor *fhir.Extractor
	ensemble  *ml.EnsembleClassifier
	policy    DecisionPolicy
	observer  FeatureObserver
	log       zerolog.Logger
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithObserver attaches a feature observer (drift monitoring).
func WithObserver(o FeatureObserver) Option {
	return func(e *Engine) { e.observer = o }
}

// NewEngine builds a ready engine from a loaded bundle. A nil bundle is
// allowed and produces a permanently not-ready engine, so the caller can
// keep serving health checks while the artifact problem is fixed.
func NewEngine(bundle *ml.Bundle, forestWeight, boostedWeight float64, policy DecisionPolicy, logger zerolog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		bundle: bundle,
		policy: policy,
		log:    logger.With().Str("component", "detector").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if bundle == nil {
		return e, nil
	}

	ensemble, err := ml.NewEnsembleClassifier(bundle, forestWeight, boostedWeight, logger)
	if err != nil {
		return nil, fmt.Errorf("detector: %w", err)
	}
	e.ensemble = ensemble
	e.extractor = fhir.NewExtractor(bundle.InputDim())
	return e, nil
}

// Ready reports whether Infer can produce verdicts.
func (e *Engine) Ready() bool { return e.ensemble != nil }

// HasAnomalyScorer reports whether the optional autoencoder is loaded.
func (e *Engine) HasAnomalyScorer() bool { return e.bundle != nil && e.bundle.HasAutoencoder() }

// Labels returns the canonical class vocabulary, nil while not ready.
func (e *Engine) Labels() []string {
	if e.bundle == nil {
		return nil
	}
	return e.bundle.Labels
}

// Infer scores one AuditEvent. It returns ErrNotReady when the bundle is
// missing or both classifiers fail; any other internal failure degrades
// (anomaly scorer) or falls back (single classifier) instead of erroring.
func (e *Engine) Infer(record map[string]any) (*Verdict, error) {
	if !e.Ready() {
		return nil, ErrNotReady
	}

	vec, meta := e.extractor.Extract(record)
	if e.observer != nil {
		e.observer.Observe(vec)
	}

	pred, err := e.ensemble.Classify(vec)
	if err != nil {
		if errors.Is(err, ml.ErrClassifiersUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
		}
		return nil, fmt.Errorf("%w: classification failed: %v", ErrNotReady, err)
	}

	anomaly := e.scoreAnomaly(vec)
	verdict := e.policy.Decide(e.bundle.Labels, pred, anomaly)
	verdict.Meta = meta

	e.log.Debug().
		Str("pred", verdict.Pred).
		Float64("score", verdict.Score).
		Str("sev", verdict.Severity).
		Bool("anom", verdict.Anomaly).
		Bool("cnn_available", anomaly.Available).
		Msg("event scored")
	return &verdict, nil
}

// scoreAnomaly runs the optional autoencoder on the scaled vector.
// Anything going wrong here is a per-call degradation, never a request
// failure.
func (e *Engine) scoreAnomaly(vec []float64) AnomalyScore {
	if !e.bundle.HasAutoencoder() {
		return AnomalyScore{}
	}
	scaled, err := e.bundle.Scaler.Transform(vec)
	if err != nil {
		e.log.Warn().Err(err).Msg("anomaly scorer skipped")
		return AnomalyScore{}
	}
	mse, err := e.bundle.Autoenc.MSE(scaled)
	if err != nil {
		e.log.Warn().Err(err).Msg("anomaly scorer failed")
		return AnomalyScore{}
	}
	score := mse / e.bundle.Autoenc.ErrorScale
	if score > 1 {
		score = 1
	}
	return AnomalyScore{Score: score, MSE: mse, Available: true}
}
