package telemetry_test

import (
	"context"
	"testing"

	"github.com/lojatextil/erp/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewProfiler_Disabled(t *testing.T) {
	p, err := telemetry.NewProfiler(telemetry.ProfilerConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, p.IsEnabled())
	assert.NoError(t, p.Stop())
	assert.NoError(t, p.Stop())
}

func TestNewProfiler_RequiresAddressAndName(t *testing.T) {
	_, err := telemetry.NewProfiler(telemetry.ProfilerConfig{Enabled: true, ApplicationName: "erp"}, nil)
	assert.ErrorContains(t, err, "server address")

	_, err = telemetry.NewProfiler(telemetry.ProfilerConfig{Enabled: true, ServerAddress: "http://localhost:4040"}, nil)
	assert.ErrorContains(t, err, "application name")
}

func TestWithProfilingLabels_RunsFunction(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "sweep")

	var calls int
	telemetry.WithProfilingLabels(ctx, func(inner context.Context) {
		calls++
		assert.Equal(t, "sweep", inner.Value(key{}))
	}, "trigger", "sweep", "dangling")

	telemetry.WithProfilingLabels(ctx, func(context.Context) { calls++ })

	assert.Equal(t, 2, calls)
}
