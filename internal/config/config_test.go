package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisefido-crowd/internal/domain"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg := Load()
	require.NotNil(t, cfg)

	// 验证默认值
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.True(t, cfg.DBEnabled)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "postgres", cfg.Database.User)
	assert.Equal(t, "owlrd", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "crowd/+/scan", cfg.MQTT.Topic)

	assert.Equal(t, 60*time.Second, cfg.Crowd.Window)
	assert.Equal(t, 3*time.Second, cfg.Crowd.StorageTimeout)
	assert.Equal(t, domain.Thresholds{Safe: 10, Normal: 30, Warning: 60, Danger: 100}, cfg.Crowd.DefaultThresholds)
	assert.NoError(t, cfg.Crowd.DefaultThresholds.Validate())
	assert.Equal(t, 500, cfg.Crowd.HistoryMaxLimit)

	assert.Equal(t, "crowd:alerts", cfg.Webhook.Stream)
	assert.Equal(t, 3, cfg.Webhook.RetryCount)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	t.Setenv("DB_HOST", "test-host")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_ENABLED", "false")
	t.Setenv("REDIS_ADDR", "test-redis:6380")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("MQTT_ENABLED", "true")
	t.Setenv("MQTT_TOPIC", "site-a/+/scan")
	t.Setenv("CROWD_WINDOW_SECONDS", "30")
	t.Setenv("CROWD_DEFAULT_DANGER", "150")
	t.Setenv("CROWD_TOKEN_SALT", "pepper")
	t.Setenv("LOG_FORMAT", "console")

	cfg := Load()

	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.False(t, cfg.DBEnabled)
	assert.Equal(t, "test-redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "site-a/+/scan", cfg.MQTT.Topic)
	assert.Equal(t, 30*time.Second, cfg.Crowd.Window)
	assert.Equal(t, 150, cfg.Crowd.DefaultThresholds.Danger)
	assert.Equal(t, "pepper", cfg.Crowd.TokenSalt)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestGetDSN(t *testing.T) {
	c := DatabaseConfig{Host: "h", Port: 1, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=h port=1 user=u password=p dbname=d sslmode=disable", c.GetDSN())
}

func TestParseInt(t *testing.T) {
	assert.Equal(t, 7, parseInt("7", 1))
	assert.Equal(t, 1, parseInt("x", 1))
}
