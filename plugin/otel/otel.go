// Package otel traces engine operations with OpenTelemetry.
package otel

import (
	"context"
	"net/http"

	"github.com/edmongo/edmongo/core"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/edmongo/edmongo"

// NewTracer returns a tracer using the global tracer provider.
func NewTracer() core.Tracer {
	return NewTracerFrom(otel.GetTracerProvider())
}

// NewTracerFrom returns a tracer using tp.
func NewTracerFrom(tp trace.TracerProvider) core.Tracer {
	return &tracer{tr: tp.Tracer(instrumentationName)}
}

type tracer struct {
	tr trace.Tracer
}

func (t *tracer) Start(c context.Context, name string) (context.Context, core.Spaner) {
	c, s := t.tr.Start(c, name)
	return c, &span{s}
}

type span struct {
	trace.Span
}

func (s *span) SetAttributesString(attrs ...core.StringAttr) {
	kv := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		kv[i] = attribute.String(a.Name, a.Value)
	}
	s.Span.SetAttributes(kv...)
}

func (s *span) IsRecording() bool {
	return s.Span.IsRecording()
}

func (s *span) Error(err error) {
	s.Span.RecordError(err)
	s.Span.SetStatus(codes.Error, err.Error())
}

func (s *span) End() {
	s.Span.End()
}

// HTTPHandler wraps h so each request starts a server span.
func HTTPHandler(h http.Handler, operation string) http.Handler {
	return otelhttp.NewHandler(h, operation)
}
