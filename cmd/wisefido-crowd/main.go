package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wisefido-crowd/internal/config"
	"wisefido-crowd/internal/consumer"
	"wisefido-crowd/internal/database"
	httpapi "wisefido-crowd/internal/http"
	"wisefido-crowd/internal/logger"
	mqttcommon "wisefido-crowd/internal/mqtt"
	"wisefido-crowd/internal/notify"
	"wisefido-crowd/internal/redact"
	rediscommon "wisefido-crowd/internal/redis"
	"wisefido-crowd/internal/repository"
	"wisefido-crowd/internal/service"
	"wisefido-crowd/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	zl, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-crowd")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zl.Sync()

	if cfg.Crowd.TokenSalt == "" {
		zl.Warn("CROWD_TOKEN_SALT is empty, tokens are unsalted hashes")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]httpapi.Pinger{}

	// 存储：DB 不可用时退回内存实现
	var (
		db *sql.DB
		st repository.Store
	)
	if cfg.DBEnabled {
		if d, err := database.NewPostgresDB(&cfg.Database); err == nil {
			db = d
			if err := repository.EnsureSchema(ctx, db); err != nil {
				zl.Fatal("Failed to apply schema", zap.Error(err))
			}
			st = repository.NewPostgresStore(db, zl)
			checks["database"] = db
			zl.Info("DB enabled for wisefido-crowd", zap.String("host", cfg.Database.Host))
		} else {
			zl.Warn("DB enabled but connection failed, falling back to memory store", zap.Error(err))
		}
	}
	if st == nil {
		st = repository.NewMemoryStore()
	}

	// Redis：报警队列 + 投递状态；不可用时进程内直接投递
	var (
		redisClient *redis.Client
		kv          store.KV
	)
	rc := rediscommon.NewRedisClient(&cfg.Redis)
	pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
	if err := rediscommon.Ping(pingCtx, rc); err == nil {
		redisClient = rc
		kv = store.NewRedisKV(rc)
		checks["redis"] = httpapi.PingerFunc(func(ctx context.Context) error { return rediscommon.Ping(ctx, rc) })
	} else {
		zl.Warn("Redis unavailable, alerts are delivered in-process", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		_ = rediscommon.Close(rc)
		kv = store.NewMemoryKV()
	}
	pingCancel()

	dispatcher := notify.NewDispatcher(st.Webhooks(), kv, notify.DispatcherConfig{
		Timeout:    cfg.Webhook.Timeout,
		RetryCount: cfg.Webhook.RetryCount,
		StatusTTL:  cfg.Webhook.StatusTTL,
	}, zl)

	var publisher notify.Publisher = notify.PublisherFunc(dispatcher.Deliver)
	if redisClient != nil {
		publisher = notify.NewStreamPublisher(redisClient, cfg.Webhook.Stream)
		source, err := notify.NewRedisStreamSource(ctx, redisClient, cfg.Webhook.Stream, cfg.Webhook.ConsumerGroup, cfg.Webhook.ConsumerName)
		if err != nil {
			zl.Fatal("Failed to prepare alert stream", zap.Error(err))
		}
		go func() {
			if err := dispatcher.Consume(ctx, source); err != nil {
				zl.Error("Alert dispatcher stopped", zap.Error(err))
			}
		}()
	}
	queue := notify.NewQueue(publisher, cfg.Webhook.QueueSize, zl)
	go queue.Run(ctx)

	crowdService := service.NewCrowdService(st, redact.NewRedactor(cfg.Crowd.TokenSalt), queue, service.CrowdOptions{
		Window:          cfg.Crowd.Window,
		StorageTimeout:  cfg.Crowd.StorageTimeout,
		HistoryMaxLimit: cfg.Crowd.HistoryMaxLimit,
	}, zl)
	sensorService := service.NewSensorService(st, kv, cfg.Crowd.DefaultThresholds, zl)

	// MQTT 上报（可选）
	var mqttConsumer *consumer.MQTTConsumer
	var mqttClient *mqttcommon.Client
	if cfg.MQTT.Enabled {
		c, err := mqttcommon.NewClient(&cfg.MQTT, zl)
		if err != nil {
			zl.Fatal("Failed to connect to MQTT broker", zap.Error(err))
		}
		mqttClient = c
		mqttConsumer = consumer.NewMQTTConsumer(c, crowdService, cfg.MQTT.Topic, cfg.MQTT.QoS, zl)
		go func() {
			if err := mqttConsumer.Start(ctx); err != nil {
				zl.Error("MQTT consumer stopped", zap.Error(err))
			}
		}()
	}

	crowdHandler := httpapi.NewCrowdHandler(crowdService, zl)
	router := httpapi.NewRouter(zl)
	router.RegisterCrowdRoutes(crowdHandler)
	router.RegisterSensorRoutes(httpapi.NewSensorHandler(sensorService, crowdHandler, zl))
	router.RegisterHealthRoutes(httpapi.NewHealthHandler(checks, zl))

	srv := service.NewServer(cfg.HTTP.Addr, router, zl)

	zl.Info("Starting wisefido-crowd service",
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.Duration("window", cfg.Crowd.Window),
		zap.Bool("db", db != nil),
		zap.Bool("redis", redisClient != nil),
		zap.Bool("mqtt", cfg.MQTT.Enabled),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		zl.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			zl.Error("HTTP server failed", zap.Error(err))
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		zl.Error("Error during HTTP shutdown", zap.Error(err))
	}
	if mqttConsumer != nil {
		_ = mqttConsumer.Stop(shutdownCtx)
		mqttClient.Disconnect()
	}
	if redisClient != nil {
		_ = rediscommon.Close(redisClient)
	}
	if err := database.Close(db); err != nil {
		zl.Error("Error closing database", zap.Error(err))
	}

	zl.Info("Service stopped")
}
