// edge-sentinel scores FHIR AuditEvent notifications at the network edge:
// a two-classifier ensemble plus an optional autoencoder anomaly scorer
// behind a small HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Hasan8936/edge-fhir-hybrid/pkg/alert"
	"github.com/Hasan8936/edge-fhir-hybrid/pkg/config"
	"github.com/Hasan8936/edge-fhir-hybrid/pkg/detector"
	"github.com/Hasan8936/edge-fhir-hybrid/pkg/fhir"
	"github.com/Hasan8936/edge-fhir-hybrid/pkg/ml"
	"github.com/Hasan8936/edge-fhir-hybrid/pkg/observability/otelobs"
	"github.com/Hasan8936/edge-fhir-hybrid/pkg/ratelimit"
)

const serviceName = "edge-sentinel"

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("load config")
	}

	logger := newLogger(cfg.Logging)
	logger.Info().Str("service", serviceName).Msg("starting")

	shutdownTracer := otelobs.InitTracer(serviceName)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(ctx)
	}()

	// A failed bundle load keeps the process up: /health reports
	// classifier_ready=false and /fhir/notify answers 503 until the
	// artifacts are fixed and the service restarted.
	bundle, err := ml.LoadBundle(cfg.Models.Dir, logger)
	if err != nil {
		logger.Error().Err(err).Str("dir", cfg.Models.Dir).Msg("model bundle unavailable, serving degraded")
		bundle = nil
	}

	policy := detector.DecisionPolicy{
		SevHigh:           cfg.Decision.SevHigh,
		SevMed:            cfg.Decision.SevMed,
		NormalClass:       cfg.Decision.NormalClass,
		AttackClasses:     config.ClassSet(cfg.Decision.AttackClasses),
		SuspiciousClasses: config.ClassSet(cfg.Decision.SuspiciousClasses),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.Drift.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Drift.RedisAddr})
	}

	var engineOpts []detector.Option
	if cfg.Drift.Enabled {
		dm := ml.NewDriftMonitor(fhir.SlotNames, cfg.Drift.Threshold, redisClient, logger)
		if err := dm.LoadBaseline(ctx); err != nil {
			logger.Warn().Err(err).Msg("drift baseline unavailable")
		}
		go dm.Run(ctx, cfg.Drift.CheckInterval)
		engineOpts = append(engineOpts, detector.WithObserver(dm))
	}

	engine, err := detector.NewEngine(bundle, cfg.Models.ForestWeight, cfg.Models.BoostedWeight, policy, logger, engineOpts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("build detection engine")
	}

	dispatcher, err := buildAlertDispatcher(cfg.Alerts, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build alert pipeline")
	}
	defer dispatcher.Close()

	srv := newServer(engine, dispatcher, newServerMetrics(), logger)
	if cfg.Server.RateLimit > 0 {
		srv.limiter = ratelimit.NewSlidingWindow(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow, logger)
	}
	handler := otelobs.WrapHTTPHandler(serviceName, otelobs.HTTPTraceLogMiddleware(logger, srv.routes()))

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Bool("classifier_ready", engine.Ready()).Msg("listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("stopped")
}

func buildAlertDispatcher(cfg config.AlertsConfig, logger zerolog.Logger) (*alert.Dispatcher, error) {
	var sinks []alert.Sink

	if cfg.LogFile != "" {
		fs, err := alert.NewFileSink(cfg.LogFile)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fs)
	}

	if cfg.NATSURL != "" {
		ns, err := alert.NewNATSSink(cfg.NATSURL, cfg.SubjectBase, logger)
		if err != nil {
			// The broker may simply not be up yet; file logging still works.
			logger.Warn().Err(err).Str("url", cfg.NATSURL).Msg("alert bus unavailable")
		} else {
			sinks = append(sinks, ns)
		}
	}

	return alert.NewDispatcher(cfg.MinSeverity, logger, sinks...), nil
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out = os.Stderr
	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if cfg.Format == "console" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out})
	}
	return logger
}
