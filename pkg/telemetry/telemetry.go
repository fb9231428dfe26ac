// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry configures logging, tracing and metrics for Oracle.
package telemetry

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jllopis/oracle/pkg/errors"
)

// ShutdownFunc flushes and stops the exporters.
type ShutdownFunc func(context.Context) error

// Config selects where spans and metrics go.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// Exporter is "none", "stdout" or "otlp".
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	OTLPTimeout  time.Duration
	OTLPHeaders  map[string]string
	// Writer receives stdout exporter output. Defaults to os.Stderr so the
	// chat prompt and the MCP stdio stream stay clean.
	Writer io.Writer
	// MetricInterval is the export period, one minute when zero.
	MetricInterval time.Duration
}

// Setup installs the global tracer and meter providers.
func Setup(cfg Config) (ShutdownFunc, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "oracle"
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "telemetry resource", err)
	}

	var (
		spans   trace.SpanExporter
		metrics metric.Exporter
	)
	switch cfg.Exporter {
	case "none":
		tp := trace.NewTracerProvider(trace.WithResource(res))
		otel.SetTracerProvider(tp)
		return tp.Shutdown, nil
	case "", "stdout":
		spans, metrics, err = stdoutExporters(cfg)
	case "otlp":
		if cfg.OTLPEndpoint == "" {
			return nil, errors.New(errors.CodeInvalidInput, "telemetry.otlp_endpoint is required for the otlp exporter", nil)
		}
		spans, metrics, err = otlpExporters(cfg)
	default:
		return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown telemetry exporter %q", cfg.Exporter), nil)
	}
	if err != nil {
		return nil, err
	}

	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = time.Minute
	}
	tp := trace.NewTracerProvider(
		trace.WithBatcher(spans, trace.WithBatchTimeout(time.Second)),
		trace.WithResource(res),
	)
	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(metrics, metric.WithInterval(interval))),
		metric.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return stderrors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func stdoutExporters(cfg Config) (trace.SpanExporter, metric.Exporter, error) {
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	spans, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, errors.New(errors.CodeInternal, "stdout trace exporter", err)
	}
	metrics, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, nil, errors.New(errors.CodeInternal, "stdout metric exporter", err)
	}
	return spans, metrics, nil
}

func otlpExporters(cfg Config) (trace.SpanExporter, metric.Exporter, error) {
	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPTimeout > 0 {
		traceOpts = append(traceOpts, otlptracegrpc.WithTimeout(cfg.OTLPTimeout))
		metricOpts = append(metricOpts, otlpmetricgrpc.WithTimeout(cfg.OTLPTimeout))
	}
	if cfg.OTLPInsecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	if len(cfg.OTLPHeaders) > 0 {
		traceOpts = append(traceOpts, otlptracegrpc.WithHeaders(cfg.OTLPHeaders))
		metricOpts = append(metricOpts, otlpmetricgrpc.WithHeaders(cfg.OTLPHeaders))
	}

	spans, err := otlptracegrpc.New(context.Background(), traceOpts...)
	if err != nil {
		return nil, nil, errors.New(errors.CodeUnreachable, "otlp trace exporter", err).
			WithContext("endpoint", cfg.OTLPEndpoint)
	}
	metrics, err := otlpmetricgrpc.New(context.Background(), metricOpts...)
	if err != nil {
		_ = spans.Shutdown(context.Background())
		return nil, nil, errors.New(errors.CodeUnreachable, "otlp metric exporter", err).
			WithContext("endpoint", cfg.OTLPEndpoint)
	}
	return spans, metrics, nil
}
