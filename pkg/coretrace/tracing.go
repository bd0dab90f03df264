// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

// Package coretrace wires the checkpoint core's spans to an
// OpenTelemetry tracer, following the same CreateTracer/Trace shape
// as katautils' tracing helper but updated for the current otel SDK.
package coretrace

import (
	"context"

	"github.com/corerun/checkpointcore/pkg/corelog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	otelTrace "go.opentelemetry.io/otel/trace"
)

var enabled bool

// Config carries the knobs CreateTracer needs from the host's
// configuration layer.
type Config struct {
	ServiceName    string
	JaegerEndpoint string
	JaegerUser     string
	JaegerPassword string
}

// CreateTracer installs a jaeger-backed TracerProvider when cfg names
// a collector endpoint, or a no-op provider otherwise. The returned
// func flushes pending spans and should be deferred by the caller.
func CreateTracer(cfg Config) (func(context.Context) error, error) {
	if cfg.JaegerEndpoint == "" {
		enabled = false
		otel.SetTracerProvider(otelTrace.NewNoopTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(
		jaeger.WithEndpoint(cfg.JaegerEndpoint),
		jaeger.WithUsername(cfg.JaegerUser),
		jaeger.WithPassword(cfg.JaegerPassword),
	))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
	)

	enabled = true
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}

// Session starts a span named "<kind>.<op>", mirroring katautils'
// Trace helper. The span is always created (a no-op tracer when
// tracing is disabled); only the debug log line is conditional.
func Session(ctx context.Context, kind, op string, attrs ...attribute.KeyValue) (context.Context, otelTrace.Span) {
	tracer := otel.Tracer("checkpointcore")
	spanCtx, span := tracer.Start(ctx, kind+"."+op, otelTrace.WithAttributes(attrs...))

	if enabled {
		corelog.Logger().Debugf("started span %s.%s", kind, op)
	}
	return spanCtx, span
}

// Step starts a span for one checkpoint-orchestrator step.
func Step(ctx context.Context, name string) (context.Context, otelTrace.Span) {
	tracer := otel.Tracer("checkpointcore")
	return tracer.Start(ctx, "checkpoint."+name)
}
