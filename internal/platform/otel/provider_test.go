package otel_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelapi "go.opentelemetry.io/otel"

	"github.com/rajivgeraev/bookswap-api/internal/platform/otel"
)

func Test_Setup_NoopWithoutEndpoint(t *testing.T) {
	before := otelapi.GetTracerProvider()

	shutdown, err := otel.Setup(context.Background(), "bookswap-api", "")

	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otelapi.GetTracerProvider())
}

func Test_Setup_ShutdownWithUnreachableCollector(t *testing.T) {
	previous := otelapi.GetTracerProvider()
	t.Cleanup(func() { otelapi.SetTracerProvider(previous) })

	// немаршрутизируемый адрес, экспорт не выполняется
	shutdown, err := otel.Setup(context.Background(), "bookswap-api", "http://192.0.2.1:4318")

	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
