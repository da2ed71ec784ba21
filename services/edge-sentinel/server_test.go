package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hasan8936/edge-fhir-hybrid/pkg/alert"
	"github.com/Hasan8936/edge-fhir-hybrid/pkg/detector"
	"github.com/Hasan8936/edge-fhir-hybrid/pkg/fhir"
	"github.com/Hasan8936/edge-fhir-hybrid/pkg/ml"
	"github.com/Hasan8936/edge-fhir-hybrid/pkg/ratelimit"
)

func stump(feature int, threshold float64, left, right []float64) ml.DecisionTree {
	return ml.DecisionTree{
		Feature:   []int{feature, -1, -1},
		Threshold: []float64{threshold, 0, 0},
		Left:      []int{1, -1, -1},
		Right:     []int{2, -1, -1},
		Value:     [][]float64{nil, left, right},
	}
}

func testEngine(t *testing.T) *detector.Engine {
	t.Helper()
	dim := fhir.SemanticFeatures
	scaler := &ml.StandardScaler{Mean: make([]float64, dim), Scale: make([]float64, dim)}
	mask := make([]bool, dim)
	for i := range mask {
		scaler.Scale[i] = 1
		mask[i] = true
	}
	labels := []string{"DDoS", "Normal"}
	forest := &ml.RandomForest{
		ClassNames: labels,
		Trees:      []ml.DecisionTree{stump(fhir.SlotFailureFlag, 0.5, []float64{0.05, 0.95}, []float64{0.95, 0.05})},
	}
	boosted := &ml.GradientBoostedTrees{
		ClassNames: labels,
		Rounds: [][]ml.DecisionTree{{
			stump(fhir.SlotFailureFlag, 0.5, []float64{-2}, []float64{3}),
			stump(fhir.SlotFailureFlag, 0.5, []float64{3}, []float64{-2}),
		}},
	}
	bundle, err := ml.NewBundle(scaler, mask, labels, forest, boosted, nil)
	require.NoError(t, err)
	engine, err := detector.NewEngine(bundle, 0.5, 0.5, detector.DefaultPolicy(), zerolog.Nop())
	require.NoError(t, err)
	return engine
}

// Metrics register on the default Prometheus registry, so the handlers are
// tested with metrics disabled to keep tests independent.
func testServer(t *testing.T, engine *detector.Engine, alerts *alert.Dispatcher) *server {
	t.Helper()
	return newServer(engine, alerts, nil, zerolog.Nop())
}

func postNotify(t *testing.T, srv *server, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/fhir/notify", bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	srv.routes().ServeHTTP(rr, req)
	return rr
}

func TestNotifyNormalRecord(t *testing.T) {
	srv := testServer(t, testEngine(t), nil)

	body := []byte(`{"resource_type":"AuditEvent","action":"read","outcome":0}`)
	rr := postNotify(t, srv, "application/json", body)
	require.Equal(t, http.StatusOK, rr.Code)

	var v detector.Verdict
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	assert.Equal(t, "Normal", v.Pred)
	assert.Equal(t, detector.SeverityLow, v.Severity)
	assert.False(t, v.Anomaly)
	assert.False(t, v.CNN.Available)
}

func TestNotifyFailureRecordEscalates(t *testing.T) {
	srv := testServer(t, testEngine(t), nil)

	body := []byte(`{"resource_type":"AuditEvent","action":"delete","outcome":"denied"}`)
	rr := postNotify(t, srv, "application/json", body)
	require.Equal(t, http.StatusOK, rr.Code)

	var v detector.Verdict
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	assert.Equal(t, "DDoS", v.Pred)
	assert.Equal(t, detector.SeverityHigh, v.Severity)
	assert.True(t, v.Anomaly)
}

func TestNotifyAcceptsFHIRMediaType(t *testing.T) {
	srv := testServer(t, testEngine(t), nil)
	rr := postNotify(t, srv, "application/fhir+json; charset=utf-8", []byte(`{}`))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestNotifyRejectsWrongContentType(t *testing.T) {
	srv := testServer(t, testEngine(t), nil)
	rr := postNotify(t, srv, "text/plain", []byte(`{}`))
	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
}

func TestNotifyRejectsMalformedJSON(t *testing.T) {
	srv := testServer(t, testEngine(t), nil)
	rr := postNotify(t, srv, "application/json", []byte(`{"action":`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestNotifyRejectsGet(t *testing.T) {
	srv := testServer(t, testEngine(t), nil)
	req := httptest.NewRequest(http.MethodGet, "/fhir/notify", nil)
	rr := httptest.NewRecorder()
	srv.routes().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, http.MethodPost, rr.Header().Get("Allow"))
}

func TestNotifyDegradedEngineAnswers503(t *testing.T) {
	engine, err := detector.NewEngine(nil, 0.5, 0.5, detector.DefaultPolicy(), zerolog.Nop())
	require.NoError(t, err)
	srv := testServer(t, engine, nil)

	rr := postNotify(t, srv, "application/json", []byte(`{}`))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "model not ready", resp.Error)
}

func TestHealthReportsReadiness(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		srv := testServer(t, testEngine(t), nil)
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		srv.routes().ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)

		var h healthResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &h))
		assert.Equal(t, "ok", h.Status)
		assert.True(t, h.ClassifierReady)
		assert.False(t, h.CNNReady)
	})

	t.Run("degraded", func(t *testing.T) {
		engine, err := detector.NewEngine(nil, 0.5, 0.5, detector.DefaultPolicy(), zerolog.Nop())
		require.NoError(t, err)
		srv := testServer(t, engine, nil)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		srv.routes().ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)

		var h healthResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &h))
		assert.False(t, h.ClassifierReady)
	})
}

func TestNotifyRateLimited(t *testing.T) {
	srv := testServer(t, testEngine(t), nil)
	srv.limiter = ratelimit.NewSlidingWindow(nil, 2, time.Minute, zerolog.Nop())

	body := []byte(`{"outcome":0}`)
	for i := 0; i < 2; i++ {
		rr := postNotify(t, srv, "application/json", body)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := postNotify(t, srv, "application/json", body)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestNotifyWritesAlertLog(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "alerts.log")
	fs, err := alert.NewFileSink(logPath)
	require.NoError(t, err)
	dispatcher := alert.NewDispatcher(detector.SeverityHigh, zerolog.Nop(), fs)
	t.Cleanup(dispatcher.Close)

	srv := testServer(t, testEngine(t), dispatcher)

	// A low severity verdict stays below the dispatch threshold.
	rr := postNotify(t, srv, "application/json", []byte(`{"outcome":0}`))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = postNotify(t, srv, "application/json", []byte(`{"outcome":"denied"}`))
	require.Equal(t, http.StatusOK, rr.Code)

	f, err := os.Open(logPath)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if s := strings.TrimSpace(scanner.Text()); s != "" {
			lines = append(lines, s)
		}
	}
	require.Len(t, lines, 1)

	var rec alert.Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, detector.SeverityHigh, rec.Verdict.Severity)
	assert.NotEmpty(t, rec.ID)
}
