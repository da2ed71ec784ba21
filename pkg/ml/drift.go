package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DriftMonitor tracks per-slot statistics of extracted feature vectors and
// compares them against a training-time baseline. It is operational
// tooling only: drift never changes a verdict, it just surfaces when the
// deployed model no longer matches the traffic it sees.
type DriftMonitor struct {
	mu        sync.Mutex
	slotNames []string
	baseline  []SlotStats
	current   []SlotStats
	threshold float64
	log       zerolog.Logger

	// redisClient is optional; nil disables baseline persistence.
	redisClient *redis.Client
	redisKey    string
}

// SlotStats is a running mean/variance summary of one feature slot.
type SlotStats struct {
	Name  string  `json:"name"`
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"` // Welford accumulator
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

var (
	driftScoreGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "edge", Subsystem: "drift", Name: "score", Help: "Latest drift score per feature slot."},
		[]string{"slot"},
	)
	driftAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "edge", Subsystem: "drift", Name: "alerts_total", Help: "Feature slots flagged as drifted."},
		[]string{"slot"},
	)
)

func init() {
	_ = prometheus.Register(driftScoreGauge)
	_ = prometheus.Register(driftAlertsTotal)
}

// NewDriftMonitor creates a monitor for the named feature slots. Vectors
// longer than the name list (zero padding) are ignored past the last name.
func NewDriftMonitor(slotNames []string, threshold float64, redisClient *redis.Client, logger zerolog.Logger) *DriftMonitor {
	if threshold <= 0 {
		threshold = 3.0 // standard deviations of mean shift
	}
	dm := &DriftMonitor{
		slotNames:   slotNames,
		current:     newSlotStats(slotNames),
		threshold:   threshold,
		redisClient: redisClient,
		redisKey:    "edge:drift:baseline",
		log:         logger.With().Str("component", "drift_monitor").Logger(),
	}
	return dm
}

func newSlotStats(names []string) []SlotStats {
	stats := make([]SlotStats, len(names))
	for i, n := range names {
		stats[i] = SlotStats{Name: n, Min: math.Inf(1), Max: math.Inf(-1)}
	}
	return stats
}

// Observe folds one extracted feature vector into the current window.
func (dm *DriftMonitor) Observe(vec []float64) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	for i := range dm.current {
		if i >= len(vec) {
			break
		}
		dm.current[i].update(vec[i])
	}
}

func (s *SlotStats) update(v float64) {
	s.Count++
	delta := v - s.Mean
	s.Mean += delta / float64(s.Count)
	s.M2 += delta * (v - s.Mean)
	if v < s.Min {
		s.Min = v
	}
	if v > s.Max {
		s.Max = v
	}
}

func (s *SlotStats) stddev() float64 {
	if s.Count < 2 {
		return 0
	}
	return math.Sqrt(s.M2 / float64(s.Count-1))
}

// SetBaseline replaces the baseline with the given stats and persists it
// to Redis when a client is configured.
func (dm *DriftMonitor) SetBaseline(ctx context.Context, baseline []SlotStats) error {
	dm.mu.Lock()
	dm.baseline = baseline
	dm.mu.Unlock()

	if dm.redisClient == nil {
		return nil
	}
	data, err := json.Marshal(baseline)
	if err != nil {
		return fmt.Errorf("drift: marshal baseline: %w", err)
	}
	if err := dm.redisClient.Set(ctx, dm.redisKey, data, 0).Err(); err != nil {
		return fmt.Errorf("drift: persist baseline: %w", err)
	}
	return nil
}

// PromoteCurrent freezes the current window as the new baseline and resets
// the window. Used after a warm-up period on known-good traffic.
func (dm *DriftMonitor) PromoteCurrent(ctx context.Context) error {
	dm.mu.Lock()
	baseline := dm.current
	dm.current = newSlotStats(dm.slotNames)
	dm.mu.Unlock()
	return dm.SetBaseline(ctx, baseline)
}

// LoadBaseline restores a previously persisted baseline from Redis.
// Without a Redis client this is a no-op.
func (dm *DriftMonitor) LoadBaseline(ctx context.Context) error {
	if dm.redisClient == nil {
		return nil
	}
	data, err := dm.redisClient.Get(ctx, dm.redisKey).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("drift: load baseline: %w", err)
	}
	var baseline []SlotStats
	if err := json.Unmarshal(data, &baseline); err != nil {
		return fmt.Errorf("drift: parse baseline: %w", err)
	}
	dm.mu.Lock()
	dm.baseline = baseline
	dm.mu.Unlock()
	dm.log.Info().Int("slots", len(baseline)).Msg("drift baseline restored")
	return nil
}

// Check computes a drift score per slot (mean shift in baseline standard
// deviations) and returns the slots above the threshold. Scores are also
// exported as Prometheus gauges.
func (dm *DriftMonitor) Check() []string {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if len(dm.baseline) == 0 {
		return nil
	}

	var drifted []string
	for i := range dm.baseline {
		if i >= len(dm.current) || dm.current[i].Count < 2 {
			continue
		}
		base := &dm.baseline[i]
		cur := &dm.current[i]

		sd := base.stddev()
		if sd == 0 {
			// Constant baseline slot: any mean change counts fully.
			sd = 1
		}
		score := math.Abs(cur.Mean-base.Mean) / sd
		driftScoreGauge.WithLabelValues(base.Name).Set(score)

		if score >= dm.threshold {
			driftAlertsTotal.WithLabelValues(base.Name).Inc()
			drifted = append(drifted, base.Name)
			dm.log.Warn().
				Str("slot", base.Name).
				Float64("score", score).
				Float64("baseline_mean", base.Mean).
				Float64("current_mean", cur.Mean).
				Msg("feature drift detected")
		}
	}
	return drifted
}

// Run checks for drift on the given interval until ctx is cancelled.
func (dm *DriftMonitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dm.Check()
		}
	}
}
