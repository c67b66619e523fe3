package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{" trace ", zerolog.TraceLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLogLevel(tt.in), tt.in)
	}
}

func TestForComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := ForComponent(InitLogger("info", &buf), "worker", "payouts-2")

	logger.Info().Msg("started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "worker", entry["component"])
	assert.Equal(t, "payouts-2", entry["instance_id"])
	assert.Equal(t, "started", entry["message"])
}

func TestInitLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := InitLogger("error", &buf)

	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())
}

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.PayoutsTotal.WithLabelValues("mock", "pending").Inc()
	m.ObserveBreakerState("mock", 2)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.PayoutsTotal.WithLabelValues("mock", "pending")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("mock")))

	assert.Panics(t, func() { NewMetrics("test", reg) })
}

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer("payouts", "", false)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
