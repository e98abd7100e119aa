// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package linerpcotel provides OpenTelemetry instrumentation for linerpc
// sessions. It implements [linerpc.DispatchHook] to add tracing and metrics
// to request dispatch.
//
// Usage:
//
//	hook := linerpcotel.NewHook(linerpcotel.DefaultConfig())
//	s := linerpc.NewSession(t, linerpc.WithHook(hook))
package linerpcotel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/luxfi/linerpc"
)

const instrumentationName = "linerpc"

// Config configures the instrumentation.
type Config struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	EnableTracing bool
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span for failed dispatches.
	RecordExceptions bool
	// ServiceName is the rpc.service attribute value. Defaults to "linerpc".
	ServiceName string
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig enables tracing, metrics and error recording against the
// global providers.
func DefaultConfig() Config {
	return Config{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

type hook struct {
	cfg               Config
	tracer            trace.Tracer
	requestCounter    metric.Int64Counter
	durationHistogram metric.Float64Histogram
}

// NewHook returns a dispatch hook safe to share between sessions.
func NewHook(cfg Config) linerpc.DispatchHook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "linerpc"
	}

	h := &hook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}
	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		h.requestCounter, _ = meter.Int64Counter("rpc.server.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of RPC requests"),
		)
		h.durationHistogram, _ = meter.Float64Histogram("rpc.server.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of RPC requests"),
		)
	}
	return h
}

// Option instruments a session with a new hook.
func Option(cfg Config) linerpc.Option {
	return linerpc.WithHook(NewHook(cfg))
}

type spanToken struct {
	span      trace.Span
	startTime time.Time
}

func (h *hook) OnDispatchStart(ctx context.Context, info linerpc.DispatchInfo) (context.Context, linerpc.HookToken) {
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "linerpc"),
		attribute.String("rpc.service", h.cfg.ServiceName),
		attribute.String("rpc.method", info.Function),
		attribute.String("linerpc.stage", info.Stage),
		attribute.String("linerpc.state", info.State.String()),
		attribute.Int("linerpc.args", info.Args),
	}
	if info.Peer != "" {
		attrs = append(attrs, attribute.String("linerpc.peer", info.Peer))
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)

	ctx, span := h.tracer.Start(ctx, "linerpc/"+info.Function,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	return ctx, &spanToken{span: span, startTime: time.Now()}
}

func (h *hook) OnDispatchEnd(ctx context.Context, token linerpc.HookToken, info linerpc.DispatchInfo, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}
	duration := time.Since(st.startTime)

	status := "ok"
	if err != nil {
		status = "error"
	}

	if h.cfg.EnableMetrics {
		metricAttrs := metric.WithAttributes(
			attribute.String("rpc.system", "linerpc"),
			attribute.String("rpc.service", h.cfg.ServiceName),
			attribute.String("rpc.method", info.Function),
			attribute.String("linerpc.stage", info.Stage),
			attribute.String("status", status),
		)
		if h.requestCounter != nil {
			h.requestCounter.Add(ctx, 1, metricAttrs)
		}
		if h.durationHistogram != nil {
			h.durationHistogram.Record(ctx, duration.Seconds(), metricAttrs)
		}
	}

	if st.span == nil {
		return
	}
	if st.span.IsRecording() {
		if err != nil {
			st.span.SetStatus(codes.Error, err.Error())
			if h.cfg.RecordExceptions {
				st.span.RecordError(err)
			}
			st.span.SetAttributes(attribute.Int("linerpc.code", int(linerpc.CodeOf(err))))
		} else {
			st.span.SetStatus(codes.Ok, "")
		}
	}
	st.span.End()
}
