// Package observability wires the ambient concerns shared by the search
// service and the importer: structured logging, tracing, and the metrics and
// health surface the deployment probes.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SetupLogger returns a production zap logger tagged with the service name,
// or a no-op logger if construction fails. LOG_LEVEL (debug, info, warn,
// error) overrides the default info threshold.
func SetupLogger(service string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if level, err := zapcore.ParseLevel(raw); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(level)
		}
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger.With(zap.String("service", service))
}

// SetupTracer configures an OTEL tracer provider with stdout exporter.
func SetupTracer(ctx context.Context, service string) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}
	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// HealthCheck reports whether one dependency (redis, postgres) is usable.
type HealthCheck func(ctx context.Context) error

// MetricsRouter exposes Prometheus metrics plus liveness and readiness.
// Liveness always answers ok; readiness runs the given dependency checks
// under a short timeout and fails on the first broken one.
func MetricsRouter(checks ...HealthCheck) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		for _, check := range checks {
			if err := check(ctx); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
