package tracing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/kenneth/zk-vault/internal/config"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), &config.TracingConfig{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), &config.TracingConfig{Enabled: true, Exporter: "jaeger"})
	assert.Error(t, err)
}

func TestInit_Stdout(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	var buf bytes.Buffer
	shutdown, err := initWithWriter(context.Background(), &config.TracingConfig{
		Enabled:       true,
		ServiceName:   "zk-vault-test",
		Exporter:      "stdout",
		SamplingRatio: 1.0,
	}, &buf)
	require.NoError(t, err)

	_, span := Start(context.Background(), "seal", FileID("file-1"))
	End(span, nil)
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "vault.seal")
	assert.Contains(t, buf.String(), "file-1")
}

func TestStartEnd_RecordsStatus(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	_, ok := Start(context.Background(), "open", AccountID("alice"))
	End(ok, nil)
	_, failed := Start(context.Background(), "open", AccountID("alice"))
	End(failed, errors.New("crypto: unable to decrypt file"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "vault.open", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Len(t, spans[1].Events(), 1, "error should be recorded as an event")
}
