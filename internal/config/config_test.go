package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "plateful", cfg.Database.Database)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)

	assert.Equal(t, "plate:readings:stream", cfg.Streams.Readings)
	assert.Equal(t, "analytics:triggers", cfg.Streams.Triggers)
	assert.Equal(t, "plate:readings:dead", cfg.Streams.DeadLetter)
	assert.Equal(t, "meals/+/plate-readings", cfg.Ingest.Topic)

	assert.Equal(t, 0.5, cfg.Processor.SignificantChange)
	assert.Equal(t, 80.0, cfg.Processor.ItemThreshold)
	assert.Equal(t, 80.0, cfg.Processor.CompletionRatio)
	assert.True(t, cfg.Processor.DedupEnabled)
	assert.Equal(t, int64(5), cfg.Processor.MaxDeliveries)

	assert.Equal(t, time.UTC, cfg.Analytics.Location)
	assert.Equal(t, "@every 1m", cfg.Analytics.RelaySchedule)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("READING_STREAM", "readings")
	t.Setenv("PLATE_DEDUP_ENABLED", "false")
	t.Setenv("PLATE_COMPLETION_RATIO", "75")
	t.Setenv("ANALYTICS_TIMEZONE", "Asia/Shanghai")
	t.Setenv("CONSUMER_CLAIM_MIN_IDLE", "90s")
	t.Setenv("INGEST_BURST", "3")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "readings", cfg.Streams.Readings)
	assert.False(t, cfg.Processor.DedupEnabled)
	assert.Equal(t, 75.0, cfg.Processor.CompletionRatio)
	assert.Equal(t, "Asia/Shanghai", cfg.Analytics.Location.String())
	assert.Equal(t, 90*time.Second, cfg.Processor.ClaimMinIdle)
	assert.Equal(t, 3, cfg.Ingest.Burst)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown timezone", "ANALYTICS_TIMEZONE", "Mars/Olympus"},
		{"ratio above 100", "PLATE_COMPLETION_RATIO", "120"},
		{"zero item threshold", "PLATE_ITEM_THRESHOLD", "0"},
		{"negative significant change", "PLATE_SIGNIFICANT_CHANGE", "-1"},
		{"zero max deliveries", "CONSUMER_MAX_DELIVERIES", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("FLAG_ON", "yes")
	t.Setenv("FLAG_BAD", "maybe")

	assert.True(t, getEnvBool("FLAG_ON", false))
	assert.True(t, getEnvBool("FLAG_BAD", true))
	assert.False(t, getEnvBool("FLAG_MISSING", false))
}
