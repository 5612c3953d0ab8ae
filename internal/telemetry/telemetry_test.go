package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/assessd/internal/config"
)

func TestNewDisabled(t *testing.T) {
	cfg := NewDefaultConfig()
	require.False(t, cfg.Enabled)

	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Healthy)

	// No-op tracer and meter still work.
	tracer := tel.Tracer("test")
	_, span := tracer.Start(context.Background(), "op")
	span.End()

	meter := tel.Meter("test")
	counter, err := meter.Int64Counter("test.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestNewNilConfig(t *testing.T) {
	tel, err := New(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, tel.IsEnabled())
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNilReceiverIsSafe(t *testing.T) {
	var tel *Telemetry
	assert.False(t, tel.IsEnabled())
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.True(t, tel.Health().Degraded)

	_, span := tel.Tracer("test").Start(context.Background(), "op")
	span.End()
}

func TestFromRef(t *testing.T) {
	cfg := FromRef(config.TelemetryRef{
		Enabled:  true,
		Endpoint: "localhost:4444",
		Insecure: true,
	})
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "localhost:4444", cfg.Endpoint)
	assert.Equal(t, "assessd", cfg.ServiceName)
	require.NoError(t, cfg.Validate())
}

func TestTestTelemetryRecordsSpans(t *testing.T) {
	tt := NewTestTelemetry()

	tracer := tt.Tracer("test")
	_, span := tracer.Start(context.Background(), "session.create")
	span.End()

	tt.AssertSpanExists(t, "session.create")
	assert.Nil(t, tt.SpanByName("never-started"))
}
