// Package tracing wraps OpenTelemetry span creation for mdjtool:
// Init/IsEnabled/ForceFlush/Shutdown manage a global TracerProvider, and
// Tracer hands out the named tracer the scan/scavenge/erase call tree
// brackets its work with. There is no HTTP middleware here; mdjtool is a
// CLI invoked once per command, so spans wrap library calls directly.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/NVIDIA/mdjtool/cmn/nlog"
)

const tracerName = "mdjtool"

var (
	mu      sync.Mutex
	tp      *sdktrace.TracerProvider
	enabled bool
)

// Init configures a global TracerProvider exporting to endpoint over OTLP
// gRPC. An empty endpoint leaves tracing disabled and Tracer() returns a
// no-op tracer, matching Config.MetricsAddr's "" -> off convention.
func Init(ctx context.Context, endpoint, serviceName string) error {
	mu.Lock()
	defer mu.Unlock()
	if endpoint == "" {
		return nil
	}
	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
		attribute.String("component", "mdjtool"),
	))
	if err != nil {
		return err
	}
	tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	enabled = true
	nlog.Infof("tracing: exporting to %s", endpoint)
	return nil
}

func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// Tracer returns the package-scoped tracer; when tracing is disabled this
// is otel's default no-op tracer, so callers never need to branch on
// IsEnabled() before starting a span.
func Tracer() trace.Tracer { return otel.Tracer(tracerName) }

func ForceFlush(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()
	if tp == nil {
		return nil
	}
	return tp.ForceFlush(ctx)
}

func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()
	if tp == nil {
		return nil
	}
	err := tp.Shutdown(ctx)
	tp, enabled = nil, false
	return err
}
