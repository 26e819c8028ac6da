package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/alerts")
	t.Setenv("PARTICLE_WEBHOOK_API_KEY", "secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	for _, key := range []string{"API_PORT", "LOG_DIR", "LOG_LEVEL", "SCHEDULER_BACKEND", "KAFKA_TOPIC", "KAFKA_GROUP_ID",
		"VITALS_START_TIME", "VITALS_END_TIME", "STILLNESS_ALERT_REMINDER", "PUBLIC_URL", "WORKER_QUEUE_SIZE"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.API.Port)
	assert.Equal(t, "logs", cfg.Logging.Dir)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Scheduler.Backend)
	assert.Equal(t, "sensor-events", cfg.Kafka.Topic)
	assert.Equal(t, "alert-service", cfg.Kafka.GroupID)
	assert.Equal(t, "00:00", cfg.Vitals.SendWindowStart)
	assert.Equal(t, "23:59", cfg.Vitals.SendWindowEnd)
	assert.Equal(t, 5*time.Minute, cfg.Alerts.StillnessReminderInterval)
	assert.Equal(t, 100, cfg.Workers.QueueSize)
	assert.Equal(t, 15*time.Second, cfg.DB.LockTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PUBLIC_URL", "https://alerts.example.org/")
	t.Setenv("STILLNESS_ALERT_REMINDER", "60")
	t.Setenv("CONSECUTIVE_OPEN_DOOR_HEARTBEAT_THRESHOLD", "12")
	t.Setenv("SCHEDULER_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://alerts.example.org", cfg.API.PublicURL)
	assert.Equal(t, time.Minute, cfg.Alerts.StillnessReminderInterval)
	assert.Equal(t, 12, cfg.Vitals.OpenDoorHeartbeatThreshold)
	assert.Equal(t, "redis", cfg.Scheduler.Backend)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DB_DSN", "")
	t.Setenv("PARTICLE_WEBHOOK_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DSN")
	assert.Contains(t, err.Error(), "PARTICLE_WEBHOOK_API_KEY")

	setRequired(t)
	t.Setenv("SCHEDULER_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR")
}
