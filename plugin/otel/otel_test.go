package otel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edmongo/edmongo/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestTracerWithNoopProvider(t *testing.T) {
	tr := NewTracerFrom(noop.NewTracerProvider())

	ctx, s := tr.Start(context.Background(), "Resolve Path")
	require.NotNil(t, ctx)
	assert.False(t, s.IsRecording())

	s.SetAttributesString(core.StringAttr{Name: "entity", Value: "Category"})
	s.Error(errors.New("boom"))
	s.End()
}

func TestTracerDrivesEngine(t *testing.T) {
	m, err := core.ParseMapping([]byte("collection: c\nproperties:\n  a: {}\n"))
	require.NoError(t, err)

	g, err := core.NewEngine(&core.Config{},
		core.OptionAddMapping("C", m),
		core.OptionSetTrace(NewTracer()))
	require.NoError(t, err)
	defer g.Close()

	res, err := g.Resolve(context.Background(), "C", "a")
	require.NoError(t, err)
	assert.Equal(t, "a", res.MongoPath)
}

func TestTracerRecordsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background()) //nolint:errcheck

	m, err := core.ParseMapping([]byte("collection: c\nrootPath: doc\nproperties:\n  a: {mongoName: x}\n"))
	require.NoError(t, err)

	g, err := core.NewEngine(&core.Config{},
		core.OptionAddMapping("C", m),
		core.OptionSetTrace(NewTracerFrom(tp)))
	require.NoError(t, err)
	defer g.Close()

	_, err = g.Resolve(context.Background(), "C", "a")
	require.NoError(t, err)

	_, err = g.Resolve(context.Background(), "C", "b")
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "Resolve Path", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("mongo.path", "doc.x"))
	assert.Contains(t, spans[0].Attributes(), attribute.String("entity", "C"))

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Len(t, spans[1].Events(), 1)
}

func TestHTTPHandler(t *testing.T) {
	h := HTTPHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), "test")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
