package main

import (
	"encoding/json"
	"errors"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Hasan8936/edge-fhir-hybrid/pkg/alert"
	"github.com/Hasan8936/edge-fhir-hybrid/pkg/detector"
	"github.com/Hasan8936/edge-fhir-hybrid/pkg/ratelimit"
)

type serverMetrics struct {
	requestsTotal   *prometheus.CounterVec
	verdictsTotal   *prometheus.CounterVec
	notReadyTotal   prometheus.Counter
	inferDuration   prometheus.Histogram
	classifierReady prometheus.Gauge
	cnnReady        prometheus.Gauge
}

func newServerMetrics() *serverMetrics {
	return &serverMetrics{
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edge", Subsystem: "sentinel", Name: "requests_total",
			Help: "Processed notify requests by outcome.",
		}, []string{"outcome"}), // ok, bad_request, unsupported, not_ready
		verdictsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edge", Subsystem: "sentinel", Name: "verdicts_total",
			Help: "Verdicts by severity tier.",
		}, []string{"severity"}),
		notReadyTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "edge", Subsystem: "sentinel", Name: "not_ready_total",
			Help: "Requests rejected because the model bundle is unavailable.",
		}),
		inferDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "edge", Subsystem: "sentinel", Name: "infer_duration_seconds",
			Help:    "End-to-end inference latency.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		classifierReady: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "edge", Subsystem: "sentinel", Name: "classifier_ready",
			Help: "1 when the classifier bundle is loaded.",
		}),
		cnnReady: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "edge", Subsystem: "sentinel", Name: "cnn_ready",
			Help: "1 when the optional autoencoder is loaded.",
		}),
	}
}

type server struct {
	engine  *detector.Engine
	alerts  *alert.Dispatcher
	metrics *serverMetrics
	limiter *ratelimit.SlidingWindow // nil disables limiting
	log     zerolog.Logger
}

func newServer(engine *detector.Engine, alerts *alert.Dispatcher, metrics *serverMetrics, logger zerolog.Logger) *server {
	s := &server{
		engine:  engine,
		alerts:  alerts,
		metrics: metrics,
		log:     logger.With().Str("component", "http").Logger(),
	}
	if metrics != nil {
		metrics.classifierReady.Set(boolGauge(engine.Ready()))
		metrics.cnnReady.Set(boolGauge(engine.HasAnomalyScorer()))
	}
	return s
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/fhir/notify", s.handleNotify)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

type healthResponse struct {
	Status          string `json:"status"`
	ClassifierReady bool   `json:"classifier_ready"`
	CNNReady        bool   `json:"cnn_ready"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:          "ok",
		ClassifierReady: s.engine.Ready(),
		CNNReady:        s.engine.HasAnomalyScorer(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleNotify scores one FHIR AuditEvent and returns the verdict.
func (s *server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "POST required"})
		return
	}
	if s.limiter != nil && !s.limiter.Allow(r.Context(), clientKey(r)) {
		s.count("rate_limited")
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
		return
	}
	if !isJSONContentType(r.Header.Get("Content-Type")) {
		s.count("unsupported")
		writeJSON(w, http.StatusUnsupportedMediaType, errorResponse{Error: "Content-Type must be application/json"})
		return
	}

	var record map[string]any
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		s.count("bad_request")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	start := time.Now()
	verdict, err := s.engine.Infer(record)
	if err != nil {
		if errors.Is(err, detector.ErrNotReady) {
			s.count("not_ready")
			if s.metrics != nil {
				s.metrics.notReadyTotal.Inc()
			}
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "model not ready"})
			return
		}
		// Infer only fails with not-ready conditions; anything else is a bug
		// worth surfacing loudly.
		s.log.Error().Err(err).Msg("unexpected inference failure")
		s.count("error")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "inference failed"})
		return
	}
	if s.metrics != nil {
		s.metrics.inferDuration.Observe(time.Since(start).Seconds())
		s.metrics.verdictsTotal.WithLabelValues(verdict.Severity).Inc()
	}
	s.count("ok")

	if s.alerts != nil {
		s.alerts.Dispatch(*verdict)
	}

	writeJSON(w, http.StatusOK, verdict)
}

func (s *server) count(outcome string) {
	if s.metrics != nil {
		s.metrics.requestsTotal.WithLabelValues(outcome).Inc()
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isJSONContentType(ct string) bool {
	if ct == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || mediaType == "application/fhir+json"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
