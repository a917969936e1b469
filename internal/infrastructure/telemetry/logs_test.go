package telemetry_test

import (
	"context"
	"testing"

	"github.com/lojatextil/erp/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

func TestNewLoggerProvider_Disabled(t *testing.T) {
	ctx := context.Background()

	lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{ServiceName: "erp-pagamentos-test"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, lp.IsEnabled())
	assert.NoError(t, lp.Shutdown(ctx))
}

func TestNewZapOTELCore_DisabledIsNop(t *testing.T) {
	lp, err := telemetry.NewLoggerProvider(context.Background(), telemetry.LogsConfig{}, nil)
	require.NoError(t, err)

	core := telemetry.NewZapOTELCore(lp, zapcore.InfoLevel)
	assert.False(t, core.Enabled(zapcore.ErrorLevel))

	var nilProvider *telemetry.LoggerProvider
	assert.False(t, telemetry.NewZapOTELCore(nilProvider, zapcore.InfoLevel).Enabled(zapcore.ErrorLevel))
}

func TestNewZapOTELCore_FiltersBelowMinLevel(t *testing.T) {
	ctx := context.Background()
	lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           true,
		CollectorEndpoint: "localhost:14317",
		ServiceName:       "erp-pagamentos-test",
		Insecure:          true,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_ = lp.Shutdown(cancelled)
	})

	core := telemetry.NewZapOTELCore(lp, zapcore.WarnLevel)
	assert.False(t, core.Enabled(zapcore.InfoLevel))
	assert.True(t, core.Enabled(zapcore.WarnLevel))
	assert.False(t, core.With([]zapcore.Field{}).Enabled(zapcore.DebugLevel))
}
