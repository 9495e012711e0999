package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zapcore"
)

func TestSamplerRatio(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased{0.5}")
}

func TestInitLoggerLevel(t *testing.T) {
	require.NoError(t, InitLogger(LoggerConfig{Env: "test", Level: "WARN"}))
	assert.False(t, GetLogger().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, GetLogger().Core().Enabled(zapcore.WarnLevel))

	assert.Error(t, InitLogger(LoggerConfig{Env: "test", Level: "chatty"}))
}
