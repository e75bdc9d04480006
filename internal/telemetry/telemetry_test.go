package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestSetup_Disabled(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Setup(Config{}, &buf)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	assert.Zero(t, buf.Len())
}

func TestSetup_WritesSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := Setup(Config{Enabled: true, ServiceName: "querydesk-test"}, &buf)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "orchestrator.route")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "orchestrator.route")
	assert.Contains(t, buf.String(), "querydesk-test")
}

func TestSetup_DisabledKeepsProvider(t *testing.T) {
	otel.SetTracerProvider(noop.NewTracerProvider())
	_, err := Setup(Config{}, nil)
	require.NoError(t, err)
	_, ok := otel.GetTracerProvider().(noop.TracerProvider)
	assert.True(t, ok)
}
