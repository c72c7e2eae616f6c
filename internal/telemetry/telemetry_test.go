package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/verdict/pkg/types"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	shutdown, err = Setup(context.Background(), &types.TelemetryConfig{Enabled: false, Endpoint: "collector:4317"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestNewResource_ServiceName(t *testing.T) {
	res, err := newResource(context.Background(), "")
	require.NoError(t, err)
	v, ok := res.Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, defaultServiceName, v.AsString())

	res, err = newResource(context.Background(), "verdict-api")
	require.NoError(t, err)
	v, ok = res.Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "verdict-api", v.AsString())
}
