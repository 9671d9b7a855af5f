package config

import (
	"os"
	"strconv"
	"time"

	"wisefido-crowd/internal/domain"
)

// Config wisefido-crowd 服务配置
type Config struct {
	HTTP struct {
		Addr string
	}
	DBEnabled bool
	Database  DatabaseConfig
	Redis     RedisConfig
	MQTT      MQTTConfig

	Log struct {
		Level  string
		Format string
	}

	// 人群统计核心配置
	Crowd struct {
		Window            time.Duration     // 统计窗口长度，默认 60 秒
		StorageTimeout    time.Duration     // 单次上报处理的存储超时
		TokenSalt         string            // MAC 哈希盐值
		DefaultThresholds domain.Thresholds // 注册时补齐缺失阈值
		HistoryMaxLimit   int               // 轨迹分析最多读取的快照数
	}

	// 报警 Webhook 投递配置
	Webhook struct {
		Stream        string // Redis Stream 名称
		ConsumerGroup string
		ConsumerName  string
		Timeout       time.Duration
		RetryCount    int
		QueueSize     int // 进程内缓冲队列长度
		StatusTTL     time.Duration
	}
}

// Load 加载配置
func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.DBEnabled = getEnv("DB_ENABLED", "true") == "true"
	cfg.Database = DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "owlrd",
		SSLMode:  "disable",
		MaxConns: 20,
		MaxIdle:  5,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "wisefido-crowd",
		Topic:    "crowd/+/scan",
		QoS:      1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.Crowd.Window = time.Duration(parseInt(getEnv("CROWD_WINDOW_SECONDS", "60"), 60)) * time.Second
	cfg.Crowd.StorageTimeout = time.Duration(parseInt(getEnv("CROWD_STORAGE_TIMEOUT_MS", "3000"), 3000)) * time.Millisecond
	cfg.Crowd.TokenSalt = getEnv("CROWD_TOKEN_SALT", "")
	cfg.Crowd.DefaultThresholds = domain.Thresholds{
		Safe:    parseInt(getEnv("CROWD_DEFAULT_SAFE", "10"), 10),
		Normal:  parseInt(getEnv("CROWD_DEFAULT_NORMAL", "30"), 30),
		Warning: parseInt(getEnv("CROWD_DEFAULT_WARNING", "60"), 60),
		Danger:  parseInt(getEnv("CROWD_DEFAULT_DANGER", "100"), 100),
	}
	cfg.Crowd.HistoryMaxLimit = parseInt(getEnv("CROWD_HISTORY_MAX_LIMIT", "500"), 500)

	cfg.Webhook.Stream = getEnv("WEBHOOK_STREAM", "crowd:alerts")
	cfg.Webhook.ConsumerGroup = getEnv("WEBHOOK_CONSUMER_GROUP", "crowd-webhook")
	cfg.Webhook.ConsumerName = getEnv("WEBHOOK_CONSUMER_NAME", hostnameOr("crowd-webhook-1"))
	cfg.Webhook.Timeout = time.Duration(parseInt(getEnv("WEBHOOK_TIMEOUT_MS", "5000"), 5000)) * time.Millisecond
	cfg.Webhook.RetryCount = parseInt(getEnv("WEBHOOK_RETRY_COUNT", "3"), 3)
	cfg.Webhook.QueueSize = parseInt(getEnv("WEBHOOK_QUEUE_SIZE", "256"), 256)
	cfg.Webhook.StatusTTL = 24 * time.Hour

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func hostnameOr(def string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return def
}
