// Package config loads service configuration from an optional YAML file
// with environment-variable overrides, the same knobs the training-side
// deployment tooling writes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the edge sentinel service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Models   ModelsConfig   `yaml:"models"`
	Decision DecisionConfig `yaml:"decision"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Drift    DriftConfig    `yaml:"drift"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// RateLimit caps notify requests per client per RateWindow. Zero
	// disables limiting.
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}

// ModelsConfig locates the artifact directory and sets ensemble weights.
type ModelsConfig struct {
	Dir           string  `yaml:"dir"`
	ForestWeight  float64 `yaml:"forest_weight"`
	BoostedWeight float64 `yaml:"boosted_weight"`
}

// DecisionConfig holds severity thresholds and label sets.
type DecisionConfig struct {
	SevHigh           float64  `yaml:"sev_high"`
	SevMed            float64  `yaml:"sev_med"`
	NormalClass       string   `yaml:"normal_class"`
	AttackClasses     []string `yaml:"attack_classes"`
	SuspiciousClasses []string `yaml:"suspicious_classes"`
}

// AlertsConfig configures the JSONL alert log and the optional NATS
// fan-out.
type AlertsConfig struct {
	LogFile     string `yaml:"log_file"`
	NATSURL     string `yaml:"nats_url"`     // empty disables publishing
	SubjectBase string `yaml:"subject_base"` // e.g. "edge.alerts"
	MinSeverity string `yaml:"min_severity"` // alerts below this tier are not recorded
}

// DriftConfig configures the feature drift monitor.
type DriftConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Threshold     float64       `yaml:"threshold"`
	CheckInterval time.Duration `yaml:"check_interval"`
	RedisAddr     string        `yaml:"redis_addr"` // empty disables baseline persistence
}

// LoggingConfig holds zerolog settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Default returns the built-in configuration; zero-config deployments work
// out of the box with artifacts under ./models.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			RateWindow:   time.Minute,
		},
		Models: ModelsConfig{
			Dir:           "models",
			ForestWeight:  0.5,
			BoostedWeight: 0.5,
		},
		Decision: DecisionConfig{
			SevHigh:           0.95,
			SevMed:            0.85,
			NormalClass:       "Normal",
			AttackClasses:     []string{"DDoS", "ScanPort", "Infiltration", "Malware"},
			SuspiciousClasses: []string{"Suspicious", "Anomaly", "Unknown"},
		},
		Alerts: AlertsConfig{
			LogFile:     "logs/alerts.log",
			SubjectBase: "edge.alerts",
			MinSeverity: "LOW",
		},
		Drift: DriftConfig{
			Enabled:       true,
			Threshold:     3.0,
			CheckInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path (skipped when empty or missing), then applies
// environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Optional file; env and defaults still apply.
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv maps the environment knobs the container images document.
func (c *Config) applyEnv() {
	envString("MODELS_DIR", &c.Models.Dir)
	envString("LOG_FILE", &c.Alerts.LogFile)
	envString("NATS_URL", &c.Alerts.NATSURL)
	envString("REDIS_ADDR", &c.Drift.RedisAddr)
	envString("NORMAL_CLASS", &c.Decision.NormalClass)
	envString("LISTEN_ADDR", &c.Server.Addr)
	envString("LOG_LEVEL", &c.Logging.Level)
	envFloat("SEV_HIGH", &c.Decision.SevHigh)
	envFloat("SEV_MED", &c.Decision.SevMed)
	envInt("RATE_LIMIT", &c.Server.RateLimit)
	envFloat("RF_WEIGHT", &c.Models.ForestWeight)
	envFloat("XGB_WEIGHT", &c.Models.BoostedWeight)
	if v, ok := os.LookupEnv("ATTACK_CLASSES"); ok {
		c.Decision.AttackClasses = splitList(v)
	}
	if v, ok := os.LookupEnv("SUSPICIOUS_CLASSES"); ok {
		c.Decision.SuspiciousClasses = splitList(v)
	}
}

func (c *Config) validate() error {
	if c.Decision.SevMed > c.Decision.SevHigh {
		return fmt.Errorf("config: sev_med %f exceeds sev_high %f", c.Decision.SevMed, c.Decision.SevHigh)
	}
	if c.Decision.SevMed < 0 || c.Decision.SevHigh > 1 {
		return fmt.Errorf("config: severity thresholds must stay in [0,1]")
	}
	if c.Models.ForestWeight < 0 || c.Models.BoostedWeight < 0 {
		return fmt.Errorf("config: ensemble weights must be non-negative")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("config: rate_limit must be non-negative")
	}
	return nil
}

// ClassSet turns a class list into the lookup form the decision policy
// uses.
func ClassSet(classes []string) map[string]bool {
	set := make(map[string]bool, len(classes))
	for _, c := range classes {
		if c = strings.TrimSpace(c); c != "" {
			set[c] = true
		}
	}
	return set
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}

func envFloat(key string, dst *float64) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		// Malformed overrides keep the default, matching the previous
		// deployment behavior.
		return
	}
	*dst = f
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
