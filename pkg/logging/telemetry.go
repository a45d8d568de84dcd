package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"battlescope/pkg/config"
	"battlescope/pkg/version"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// TelemetryConfig is the logging/telemetry surface read from env. Telemetry
// export is off unless ENABLE_TELEMETRY=true; structured logging is always on.
type TelemetryConfig struct {
	EnableTelemetry   bool
	ServiceName       string
	OTLPEndpoint      string
	LogLevel          string
	EnablePrettyLogs  bool
	DisableConsoleLog bool
	Environment       string
}

// TelemetryManager owns the process logger and, when telemetry is enabled,
// the OTLP trace and log providers.
type TelemetryManager struct {
	config        TelemetryConfig
	shutdownFuncs []func(context.Context) error
}

// NewTelemetryManager reads the telemetry env config. serviceName is the
// caller's binary identity; SERVICE_NAME overrides it when set.
func NewTelemetryManager(serviceName string) *TelemetryManager {
	telemetryConfig := TelemetryConfig{
		EnableTelemetry:   config.GetBoolEnv("ENABLE_TELEMETRY", false),
		ServiceName:       config.GetEnv("SERVICE_NAME", serviceName),
		OTLPEndpoint:      config.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		LogLevel:          config.GetEnv("LOG_LEVEL", "info"),
		EnablePrettyLogs:  config.GetBoolEnv("ENABLE_PRETTY_LOGS", false),
		DisableConsoleLog: config.GetBoolEnv("DISABLE_CONSOLE_LOG", false),
		Environment:       config.GetEnv("ENVIRONMENT", "development"),
	}

	return &TelemetryManager{
		config: telemetryConfig,
	}
}

// Initialize installs the default slog logger and, when enabled, wires the
// OTLP exporters. Exporter failures degrade to console-only logging.
func (tm *TelemetryManager) Initialize(ctx context.Context) error {
	tm.setupLogger()

	if !tm.config.EnableTelemetry {
		slog.Info("Telemetry disabled",
			slog.String("service", tm.config.ServiceName),
			slog.Bool("telemetry_enabled", false),
		)
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(tm.config.ServiceName),
			semconv.ServiceVersionKey.String(version.Get().Version),
			semconv.DeploymentEnvironmentKey.String(tm.config.Environment),
		),
	)
	if err != nil {
		return err
	}

	if err := tm.initTracing(ctx, res); err != nil {
		slog.Warn("Failed to initialize tracing", "error", err)
	}

	if err := tm.initLogging(ctx, res); err != nil {
		slog.Warn("Failed to initialize OpenTelemetry logging", "error", err)
	}

	slog.Info("Telemetry initialized",
		slog.String("service", tm.config.ServiceName),
		slog.Bool("telemetry_enabled", tm.config.EnableTelemetry),
		slog.String("log_level", tm.config.LogLevel),
		slog.Bool("pretty_logs", tm.config.EnablePrettyLogs),
	)

	return nil
}

func (tm *TelemetryManager) initTracing(ctx context.Context, res *resource.Resource) error {
	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(tm.config.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithURLPath("/v1/traces"),
	)
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tm.shutdownFuncs = append(tm.shutdownFuncs, tp.Shutdown)

	slog.Info("OpenTelemetry tracing initialized",
		"endpoint", tm.config.OTLPEndpoint,
		"service", tm.config.ServiceName)
	return nil
}

func (tm *TelemetryManager) initLogging(ctx context.Context, res *resource.Resource) error {
	logExporter, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpointURL(tm.config.OTLPEndpoint),
		otlploghttp.WithInsecure(),
		otlploghttp.WithURLPath("/v1/logs"),
	)
	if err != nil {
		return err
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
		sdklog.WithResource(res),
	)

	global.SetLoggerProvider(lp)
	tm.shutdownFuncs = append(tm.shutdownFuncs, lp.Shutdown)

	slog.Info("OpenTelemetry logging initialized", "endpoint", tm.config.OTLPEndpoint)
	return nil
}

// setupLogger installs the default slog handler: text for development
// (ENABLE_PRETTY_LOGS), JSON otherwise, bridged to OTel when telemetry is on.
func (tm *TelemetryManager) setupLogger() {
	level := parseLogLevel(tm.config.LogLevel)
	opts := &slog.HandlerOptions{Level: level}

	out := io.Writer(os.Stdout)
	if tm.config.DisableConsoleLog {
		// Keep only the OTel export path; useful when stdout is captured
		// by a supervisor that double-ships logs.
		out = io.Discard
	}

	var handler slog.Handler
	if tm.config.EnablePrettyLogs {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	if tm.config.EnableTelemetry {
		handler = NewOTelHandler(handler)
	}

	slog.SetDefault(slog.New(handler))
}

// Shutdown flushes and stops the OTLP providers. Flush failures are joined
// and returned so the caller's shutdown path can report them.
func (tm *TelemetryManager) Shutdown(ctx context.Context) error {
	var errs []error
	for _, shutdown := range tm.shutdownFuncs {
		errs = append(errs, shutdown(ctx))
	}
	return errors.Join(errs...)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
