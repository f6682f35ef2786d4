package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/mrblonde/orders/pkg/config"
	"github.com/mrblonde/orders/pkg/system"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
}

func TestSetupDisabled(t *testing.T) {
	restoreGlobals(t)
	ctx := context.Background()

	p, err := Setup(ctx, config.Tracing{}, "test", nil)
	require.NoError(t, err)
	assert.IsType(t, noop.TracerProvider{}, p.TracerProvider())
	assert.NoError(t, p.Shutdown(ctx))
}

func TestSetupExporters(t *testing.T) {
	for _, exporter := range []string{ExporterNone, ExporterStdout} {
		t.Run(exporter, func(t *testing.T) {
			restoreGlobals(t)
			ctx := context.Background()

			p, err := Setup(ctx, config.Tracing{Enabled: true, Exporter: exporter, SamplingRate: 0.5}, "test", zap.NewNop().Sugar())
			require.NoError(t, err)
			assert.IsType(t, &sdktrace.TracerProvider{}, p.TracerProvider())
			assert.Same(t, p.TracerProvider(), otel.GetTracerProvider())
			assert.NoError(t, p.Shutdown(ctx))
		})
	}
}

func TestSamplerOutOfRange(t *testing.T) {
	for _, rate := range []float64{-0.5, 0, 1.5} {
		log, logs := system.NewObservedLogger(zap.WarnLevel)
		s := sampler(rate, log)
		assert.Contains(t, s.Description(), "AlwaysOnSampler")
		assert.Equal(t, 1, logs.Len())
	}

	log, logs := system.NewObservedLogger(zap.WarnLevel)
	assert.Contains(t, sampler(0.25, log).Description(), "TraceIDRatioBased{0.25}")
	assert.Zero(t, logs.Len())
}

func TestSetupUnknownExporter(t *testing.T) {
	_, err := Setup(context.Background(), config.Tracing{Enabled: true, Exporter: "zipkin"}, "test", nil)
	assert.ErrorContains(t, err, "unknown trace exporter")
}

func TestMiddleware(t *testing.T) {
	restoreGlobals(t)
	gin.SetMode(gin.TestMode)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	r := gin.New()
	r.Use(Middleware())
	r.GET("/api/portal/me", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	req := httptest.NewRequest(http.MethodGet, "/api/portal/me", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/portal/pedidos/42", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 3)

	assert.Equal(t, "GET /api/portal/me", spans[0].Name())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext().TraceID().String())
	assert.Contains(t, spans[0].Attributes(), attribute.Int("http.response.status_code", http.StatusOK))

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "GET unmatched", spans[2].Name())
}
