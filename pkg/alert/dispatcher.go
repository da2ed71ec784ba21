package alert

import (
	"github.com/rs/zerolog"

	"github.com/Hasan8936/edge-fhir-hybrid/pkg/detector"
)

// Dispatcher fans verdicts out to all configured sinks, applying the
// minimum-severity filter. Sink failures are logged and swallowed: the
// verdict path never depends on alert delivery.
type Dispatcher struct {
	sinks       []Sink
	minSeverity string
	log         zerolog.Logger
}

// NewDispatcher builds a dispatcher over the given sinks.
func NewDispatcher(minSeverity string, logger zerolog.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:       sinks,
		minSeverity: minSeverity,
		log:         logger.With().Str("component", "alerts").Logger(),
	}
}

// Dispatch records one verdict. Always safe to call; a dispatcher without
// sinks is a no-op.
func (d *Dispatcher) Dispatch(v detector.Verdict) {
	if len(d.sinks) == 0 || !MeetsThreshold(v.Severity, d.minSeverity) {
		return
	}
	rec := NewRecord(v)
	for _, s := range d.sinks {
		if err := s.Write(rec); err != nil {
			d.log.Error().Err(err).Str("alert_id", rec.ID).Msg("alert sink write failed")
		}
	}
}

// Close closes all sinks.
func (d *Dispatcher) Close() {
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			d.log.Warn().Err(err).Msg("alert sink close failed")
		}
	}
}
