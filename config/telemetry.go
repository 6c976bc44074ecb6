package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// ParseLevel maps a level name to its slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level: %s", name)
}

// NewLogger creates a slog.Logger writing to w with the configured level
// and format.
func (c LoggingConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(c.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	}
	return nil, fmt.Errorf("invalid log format: %s", c.Format)
}

// Open creates the logger described by the configuration, including its
// output. The returned closer is nil unless the output is a file.
func (c LoggingConfig) Open() (*slog.Logger, io.Closer, error) {
	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(c.Output) {
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	case "file":
		if c.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", c.File, err)
		}
		output = file
		closer = file
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", c.Output)
	}

	logger, err := c.NewLogger(output)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, nil, err
	}
	return logger, closer, nil
}

// Tracer returns a tracer from the global provider when tracing is enabled
// and nil otherwise. Components skip span creation for a nil tracer.
func (c TracingConfig) Tracer() trace.Tracer {
	if !c.Enabled {
		return nil
	}
	name := c.ServiceName
	if name == "" {
		name = "nexustable"
	}
	return otel.Tracer(name)
}

// InitTracerProvider creates an OpenTelemetry TracerProvider exporting to
// an OTLP collector and installs it as the global provider. When tracing is
// disabled it returns a provider with no exporter and leaves the global one
// alone. The returned cleanup flushes and shuts the provider down.
func (c TracingConfig) InitTracerProvider(logger *slog.Logger) (*sdktrace.TracerProvider, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !c.Enabled {
		logger.Debug("Distributed tracing is disabled.")
		return sdktrace.NewTracerProvider(), func() {}, nil
	}

	logger.Info("Initializing distributed tracing", "protocol", c.Protocol, "endpoint", c.Endpoint)

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var err error
	switch strings.ToLower(c.Protocol) {
	case "http":
		exporter, err = otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpoint(c.Endpoint), otlptracehttp.WithInsecure()))
	case "grpc", "":
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(c.Endpoint), otlptracegrpc.WithInsecure()))
	default:
		return nil, nil, fmt.Errorf("unsupported tracing protocol: %q", c.Protocol)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	name := c.ServiceName
	if name == "" {
		name = "nexustable"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(name)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err)
		}
	}
	return tp, cleanup, nil
}
