// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package linerpcotel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Providers holds SDK providers built by NewStdout.
type Providers struct {
	Tracer *sdktrace.TracerProvider
	Meter  *sdkmetric.MeterProvider
}

// Config returns a Config using these providers.
func (p *Providers) Config(service string) Config {
	cfg := DefaultConfig()
	cfg.TracerProvider = p.Tracer
	cfg.MeterProvider = p.Meter
	cfg.ServiceName = service
	return cfg
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	return errors.Join(p.Tracer.Shutdown(ctx), p.Meter.Shutdown(ctx))
}

// NewStdout builds providers exporting spans and metrics as JSON to w.
// Metrics are exported every interval and on Shutdown.
func NewStdout(w io.Writer, service string, interval time.Duration) (*Providers, error) {
	res := resource.NewSchemaless(attribute.String("service.name", service))

	spans, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("stdout trace exporter: %w", err)
	}
	metrics, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("stdout metric exporter: %w", err)
	}
	if interval <= 0 {
		interval = time.Minute
	}

	return &Providers{
		Tracer: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(spans),
			sdktrace.WithResource(res),
		),
		Meter: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metrics, sdkmetric.WithInterval(interval))),
			sdkmetric.WithResource(res),
		),
	}, nil
}
