// Package observability configures process-wide logging and trace propagation.
//
// By default slog writes text or JSON to stderr. Setting OTEL_LOGS_EXPORTER switches
// the default logger to the OpenTelemetry log SDK:
//   - otlp: OTLP exporter, protocol chosen by OTEL_EXPORTER_OTLP_PROTOCOL
//     (http/protobuf by default, grpc supported); endpoint and headers follow the
//     standard OTEL_EXPORTER_OTLP_* variables
//   - console: stdout exporter, useful for debugging the pipeline
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// instrumentationName identifies log records emitted through the OpenTelemetry bridge.
const instrumentationName = "github.com/florianilch/tokenkeeper"

// ShutdownFunc flushes and stops exporters set up by Instrument.
type ShutdownFunc func(context.Context) error

// Instrument installs the default slog logger and the W3C trace-context propagator.
// format is "text" or "json" and only applies when no OpenTelemetry exporter is configured.
func Instrument(level slog.Level, format string) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	exporter := os.Getenv("OTEL_LOGS_EXPORTER")
	if exporter == "" || exporter == "none" {
		handler, err := newHandler(level, format)
		if err != nil {
			return nil, err
		}
		slog.SetDefault(slog.New(handler))
		return func(context.Context) error { return nil }, nil
	}

	processor, err := newProcessor(context.Background(), exporter)
	if err != nil {
		return nil, err
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(minsev.NewLogProcessor(processor, severity(level))),
	)
	slog.SetDefault(slog.New(otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))))

	return provider.Shutdown, nil
}

func newHandler(level slog.Level, format string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "", "text":
		return slog.NewTextHandler(os.Stderr, opts), nil
	case "json":
		return slog.NewJSONHandler(os.Stderr, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

func newProcessor(ctx context.Context, exporter string) (sdklog.Processor, error) {
	switch exporter {
	case "otlp":
		var (
			exp sdklog.Exporter
			err error
		)
		switch protocol := os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL"); protocol {
		case "", "http/protobuf":
			exp, err = otlploghttp.New(ctx)
		case "grpc":
			exp, err = otlploggrpc.New(ctx)
		default:
			return nil, fmt.Errorf("unsupported OTLP protocol: %s", protocol)
		}
		if err != nil {
			return nil, fmt.Errorf("creating OTLP log exporter: %w", err)
		}
		return sdklog.NewBatchProcessor(exp), nil
	case "console":
		exp, err := stdoutlog.New()
		if err != nil {
			return nil, fmt.Errorf("creating console log exporter: %w", err)
		}
		return sdklog.NewSimpleProcessor(exp), nil
	default:
		return nil, fmt.Errorf("unsupported OTEL_LOGS_EXPORTER: %s", exporter)
	}
}

// severity maps a slog level to the minimum OpenTelemetry severity.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
