// Package detector is the detection engine core: it turns one FHIR
// AuditEvent into one severity verdict by fusing the classifier ensemble
// with the optional autoencoder anomaly score.
package detector

import "github.com/Hasan8936/edge-fhir-hybrid/pkg/fhir"

// Severity tiers, ordered by escalation urgency.
const (
	SeverityLow    = "LOW"
	SeverityMedium = "MEDIUM"
	SeverityHigh   = "HIGH"
)

// AnomalyScore is the autoencoder's contribution to a verdict. Available
// is false when the scorer artifact is absent or failed on this call; the
// decision engine then relies on the classifier score alone.
type AnomalyScore struct {
	Score     float64 `json:"score"` // normalized into [0,1]
	MSE       float64 `json:"mse"`   // raw reconstruction error
	Available bool    `json:"available"`
}

// ClassifierInfo echoes the ensemble internals for the audit trail.
type ClassifierInfo struct {
	PredClass  string  `json:"pred_class"`
	PredIndex  int     `json:"pred_index"`
	Confidence float64 `json:"confidence"`
	Forest     float64 `json:"rf"`  // member prob of the predicted class, -1 when the member failed
	Boosted    float64 `json:"xgb"` // same for the boosted member
}

// Verdict is the engine's final output for one event. Built once, never
// mutated, not retained by the engine.
type Verdict struct {
	Pred     string    `json:"pred"`
	Score    float64   `json:"score"` // effective anomaly score in [0,1]
	Severity string    `json:"sev"`
	Anomaly  bool      `json:"anom"`
	Meta     fhir.Meta `json:"meta"`

	Classifier ClassifierInfo `json:"classifier"`
	CNN        AnomalyScore   `json:"cnn"`
}
