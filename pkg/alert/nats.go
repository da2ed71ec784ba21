package alert

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSSink publishes alert records to severity-tiered subjects
// (e.g. edge.alerts.high) so downstream responders can subscribe to just
// the tiers they act on.
type NATSSink struct {
	nc      *nats.Conn
	subject string
	log     zerolog.Logger
}

// NewNATSSink connects to the NATS server at url. The connection retries
// in the background, so a broker restart does not take the sink down.
func NewNATSSink(url, subjectBase string, logger zerolog.Logger) (*NATSSink, error) {
	log := logger.With().Str("component", "alert_nats").Logger()
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("alert: connect NATS: %w", err)
	}
	if subjectBase == "" {
		subjectBase = "edge.alerts"
	}
	return &NATSSink{nc: nc, subject: subjectBase, log: log}, nil
}

// Write implements Sink.
func (s *NATSSink) Write(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("alert: marshal record: %w", err)
	}
	subject := s.subject + "." + strings.ToLower(rec.Verdict.Severity)
	if err := s.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("alert: publish %s: %w", subject, err)
	}
	return nil
}

// Close implements Sink.
func (s *NATSSink) Close() error {
	s.nc.Close()
	return nil
}
