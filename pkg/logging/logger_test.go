package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t testing.TB, level string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer

	logger, err := NewLogger(&Config{
		Level:       level,
		Format:      "json",
		Output:      "stdout",
		ServiceName: "test-service",
		Version:     "1.0.0",
	})
	require.NoError(t, err)
	logger.SetOutput(&buf)

	return logger, &buf
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	return logEntry
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: &Config{
				Level:       "info",
				Format:      "json",
				Output:      "stdout",
				ServiceName: "test-service",
				Version:     "1.0.0",
			},
			wantErr: false,
		},
		{
			name: "invalid log level",
			config: &Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
			wantErr: true,
		},
		{
			name: "invalid format",
			config: &Config{
				Level:  "info",
				Format: "invalid",
				Output: "stdout",
			},
			wantErr: true,
		},
		{
			name:    "nil config uses defaults",
			config:  nil,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, logger)
			}
		})
	}
}

func TestLogger_WithContext(t *testing.T) {
	logger, buf := newTestLogger(t, "info")

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	ctx = WithComponent(ctx, "billing")

	logger.WithContext(ctx).Info("test message")

	logEntry := decodeEntry(t, buf)
	assert.Equal(t, "test-correlation-id", logEntry["correlation_id"])
	assert.Equal(t, "billing", logEntry["component"])
	assert.Equal(t, "test-service", logEntry["service"])
	assert.Equal(t, "1.0.0", logEntry["version"])
	assert.Equal(t, "test message", logEntry["message"])
}

func TestLogger_Log(t *testing.T) {
	tests := []struct {
		level     Level
		wantLevel string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warning"},
		{LevelError, "error"},
		{LevelFatal, "fatal"},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			logger, buf := newTestLogger(t, "debug")

			ctx := WithCorrelationID(context.Background(), "corr-1")
			logger.Log(ctx, tt.level, "breaker opened", Fields{"breaker": "fetchUser"})

			logEntry := decodeEntry(t, buf)
			assert.Equal(t, tt.wantLevel, logEntry["level"])
			assert.Equal(t, "breaker opened", logEntry["message"])
			assert.Equal(t, "fetchUser", logEntry["breaker"])
			assert.Equal(t, "corr-1", logEntry["correlation_id"])
		})
	}
}

func TestLogger_LogRespectsLevel(t *testing.T) {
	logger, buf := newTestLogger(t, "warn")

	logger.Log(context.Background(), LevelDebug, "hidden", nil)
	logger.Log(context.Background(), LevelInfo, "hidden", nil)
	assert.Empty(t, buf.String())

	logger.Log(context.Background(), LevelWarn, "shown", nil)
	assert.Contains(t, buf.String(), "shown")
}

func TestLogger_LogError(t *testing.T) {
	logger, buf := newTestLogger(t, "debug")

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	logger.LogError(ctx, assert.AnError, "test error message", logrus.Fields{
		"component": "test-component",
	})

	logEntry := decodeEntry(t, buf)
	assert.Equal(t, "test error message", logEntry["message"])
	assert.Equal(t, assert.AnError.Error(), logEntry["error"])
	assert.Equal(t, "test-component", logEntry["component"])
	assert.Contains(t, logEntry, "stack_trace")
}

func TestCorrelationIDFunctions(t *testing.T) {
	id1 := NewCorrelationID()
	id2 := NewCorrelationID()
	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	assert.Equal(t, "test-correlation-id", GetCorrelationID(ctx))
	assert.Empty(t, GetCorrelationID(context.Background()))
}

func TestComponentFunctions(t *testing.T) {
	ctx := WithComponent(context.Background(), "checkout")
	assert.Equal(t, "checkout", GetComponent(ctx))
	assert.Empty(t, GetComponent(context.Background()))
}

func TestLogger_KeyValues(t *testing.T) {
	logger, buf := newTestLogger(t, "info")

	logger.Info("alert drained", "count", 3, "dangling")

	logEntry := decodeEntry(t, buf)
	assert.Equal(t, float64(3), logEntry["count"])
	assert.NotContains(t, logEntry, "dangling")
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer

	logger, err := NewLogger(&Config{
		Level:       "info",
		Format:      "text",
		Output:      "stdout",
		ServiceName: "test-service",
		Version:     "1.0.0",
	})
	require.NoError(t, err)
	logger.SetOutput(&buf)

	logger.WithFields(logrus.Fields{
		"test_field": "test_value",
	}).Info("test message")

	output := buf.String()
	assert.True(t, strings.Contains(output, "test message"))
	assert.Contains(t, output, "test_field=test_value")
	assert.Contains(t, output, "service=test-service")
}

func BenchmarkLogger_Log(b *testing.B) {
	logger, _ := newTestLogger(b, "info")
	ctx := WithCorrelationID(context.Background(), "test-correlation-id")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Log(ctx, LevelInfo, "benchmark message", Fields{"breaker": "db"})
	}
}
