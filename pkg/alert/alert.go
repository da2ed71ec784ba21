// Package alert records verdicts for SOC consumption: a JSONL log file a
// shipper can tail, and an optional NATS fan-out for live subscribers.
// Both sinks are best-effort; a sink failure is logged and never reaches
// the inference path.
package alert

import (
	"time"

	"github.com/google/uuid"

	"github.com/Hasan8936/edge-fhir-hybrid/pkg/detector"
)

// Record is one alert line. The verdict is embedded verbatim so the log
// replays exactly what the caller was told.
type Record struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Verdict   detector.Verdict `json:"verdict"`
}

// NewRecord stamps a verdict into an alert record.
func NewRecord(v detector.Verdict) Record {
	return Record{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Verdict:   v,
	}
}

// Sink receives alert records.
type Sink interface {
	Write(Record) error
	Close() error
}

// severityRank orders tiers for threshold filtering. Unknown tiers rank
// highest so they are never silently dropped.
func severityRank(sev string) int {
	switch sev {
	case detector.SeverityLow:
		return 0
	case detector.SeverityMedium:
		return 1
	case detector.SeverityHigh:
		return 2
	default:
		return 3
	}
}

// MeetsThreshold reports whether sev is at or above the min tier. An
// empty or unrecognized min records everything.
func MeetsThreshold(sev, min string) bool {
	minRank := severityRank(min)
	if min == "" || minRank == 3 {
		minRank = 0
	}
	return severityRank(sev) >= minRank
}
