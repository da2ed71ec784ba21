package detector

import (
	"github.com/Hasan8936/edge-fhir-hybrid/pkg/ml"
)

// Default decision thresholds and label sets, matching the deployed
// training pipeline. Everything here is overridable via configuration.
const (
	DefaultSevHigh     = 0.95
	DefaultSevMed      = 0.85
	DefaultNormalClass = "Normal"
)

// DefaultAttackClasses escalate straight to HIGH regardless of score.
func DefaultAttackClasses() map[string]bool {
	return map[string]bool{"DDoS": true, "ScanPort": true, "Infiltration": true, "Malware": true}
}

// DefaultSuspiciousClasses escalate to at least MEDIUM.
func DefaultSuspiciousClasses() map[string]bool {
	return map[string]bool{"Suspicious": true, "Anomaly": true, "Unknown": true}
}

// DecisionPolicy holds the severity thresholds and label-set overrides.
// The zero value is unusable; start from DefaultPolicy.
type DecisionPolicy struct {
	SevHigh     float64
	SevMed      float64
	NormalClass string

	// Label-set overrides are additive: they can raise severity above the
	// threshold-derived tier, never lower it.
	AttackClasses     map[string]bool
	SuspiciousClasses map[string]bool
}

// DefaultPolicy returns the built-in thresholds and label sets.
func DefaultPolicy() DecisionPolicy {
	return DecisionPolicy{
		SevHigh:           DefaultSevHigh,
		SevMed:            DefaultSevMed,
		NormalClass:       DefaultNormalClass,
		AttackClasses:     DefaultAttackClasses(),
		SuspiciousClasses: DefaultSuspiciousClasses(),
	}
}

// Decide fuses the ensemble prediction and the anomaly score into the
// final verdict fields. Pure: no state, no clock, no randomness; identical
// inputs always produce identical output.
func (p DecisionPolicy) Decide(labels []string, pred *ml.Prediction, anomaly AnomalyScore) Verdict {
	classifierScore := p.classifierScore(labels, pred)

	// Either signal alone can escalate; neither masks the other.
	effective := classifierScore
	if anomaly.Available && anomaly.Score > effective {
		effective = anomaly.Score
	}

	severity := SeverityLow
	switch {
	case effective >= p.SevHigh || p.AttackClasses[pred.Label]:
		severity = SeverityHigh
	case effective >= p.SevMed || p.SuspiciousClasses[pred.Label]:
		severity = SeverityMedium
	}

	return Verdict{
		Pred:     pred.Label,
		Score:    effective,
		Severity: severity,
		Anomaly:  pred.Label != p.NormalClass || effective >= p.SevMed,
		Classifier: ClassifierInfo{
			PredClass:  pred.Label,
			PredIndex:  pred.Index,
			Confidence: pred.Confidence,
			Forest:     pred.ForestProb,
			Boosted:    pred.BoostedProb,
		},
		CNN: anomaly,
	}
}

// classifierScore is the probability mass on anything other than the
// normal class. When the vocabulary has no normal class at all, fall back
// to 1 - max confidence so the score still reflects uncertainty.
func (p DecisionPolicy) classifierScore(labels []string, pred *ml.Prediction) float64 {
	for i, l := range labels {
		if l == p.NormalClass {
			return 1 - pred.Probs[i]
		}
	}
	return 1 - pred.Confidence
}
