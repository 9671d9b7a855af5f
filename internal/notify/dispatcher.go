package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-crowd/internal/domain"
	"wisefido-crowd/internal/evaluator"
	rediscommon "wisefido-crowd/internal/redis"
	"wisefido-crowd/internal/store"

	"github.com/go-redis/redis/v8"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookLister 查询传感器的订阅
type WebhookLister interface {
	ListWebhooks(ctx context.Context, sensorID string) ([]domain.Webhook, error)
}

// DeliveryStatus 最近一次投递结果（缓存在 KV）
type DeliveryStatus struct {
	WebhookID   string    `json:"webhook_id"`
	AlertID     string    `json:"alert_id"`
	StatusCode  int       `json:"status_code"`
	OK          bool      `json:"ok"`
	Error       string    `json:"error,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// DispatcherConfig 投递参数
type DispatcherConfig struct {
	Timeout       time.Duration
	RetryCount    int
	RetryWait     time.Duration
	RetryMaxWait  time.Duration
	StatusTTL     time.Duration
	ReadBatchSize int64
	ReadBlock     time.Duration
}

// Dispatcher 消费报警并投递到 webhook
type Dispatcher struct {
	webhooks   WebhookLister
	kv         store.KV
	httpClient *resty.Client
	cfg        DispatcherConfig
	logger     *zap.Logger
}

// NewDispatcher 创建投递器
func NewDispatcher(webhooks WebhookLister, kv store.KV, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 500 * time.Millisecond
	}
	if cfg.RetryMaxWait <= 0 {
		cfg.RetryMaxWait = 5 * time.Second
	}
	if cfg.ReadBatchSize <= 0 {
		cfg.ReadBatchSize = 10
	}
	if cfg.ReadBlock <= 0 {
		cfg.ReadBlock = 2 * time.Second
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() >= 500)
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "wisefido-crowd")

	return &Dispatcher{
		webhooks:   webhooks,
		kv:         kv,
		httpClient: client,
		cfg:        cfg,
		logger:     logger,
	}
}

// StatusKey 投递状态的 KV key
func StatusKey(webhookID string) string {
	return "crowd:webhook:status:" + webhookID
}

// Deliver 投递给该传感器的全部订阅；任一失败返回错误
func (d *Dispatcher) Deliver(ctx context.Context, p evaluator.AlertPayload) error {
	hooks, err := d.webhooks.ListWebhooks(ctx, p.SensorID)
	if err != nil {
		return fmt.Errorf("failed to list webhooks: %w", err)
	}
	if len(hooks) == 0 {
		d.logger.Debug("No webhook subscribed", zap.String("sensor_id", p.SensorID))
		return nil
	}

	failed := 0
	for _, h := range hooks {
		st := d.post(ctx, h, p)
		if !st.OK {
			failed++
		}
		d.saveStatus(ctx, st)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d webhook deliveries failed for alert %s", failed, len(hooks), p.AlertID)
	}
	return nil
}

func (d *Dispatcher) post(ctx context.Context, h domain.Webhook, p evaluator.AlertPayload) DeliveryStatus {
	st := DeliveryStatus{
		WebhookID:   h.WebhookID,
		AlertID:     p.AlertID,
		AttemptedAt: time.Now().UTC(),
	}

	resp, err := d.httpClient.R().
		SetContext(ctx).
		SetBody(p).
		Post(h.URL)
	if err != nil {
		st.Error = err.Error()
		d.logger.Error("Webhook delivery failed",
			zap.String("webhook_id", h.WebhookID),
			zap.String("alert_id", p.AlertID),
			zap.Error(err),
		)
		return st
	}

	st.StatusCode = resp.StatusCode()
	st.OK = resp.IsSuccess()
	if !st.OK {
		st.Error = resp.Status()
		d.logger.Warn("Webhook returned non-2xx",
			zap.String("webhook_id", h.WebhookID),
			zap.String("alert_id", p.AlertID),
			zap.Int("status_code", st.StatusCode),
		)
		return st
	}

	d.logger.Info("Webhook delivered",
		zap.String("webhook_id", h.WebhookID),
		zap.String("alert_id", p.AlertID),
		zap.Int("status_code", st.StatusCode),
	)
	return st
}

func (d *Dispatcher) saveStatus(ctx context.Context, st DeliveryStatus) {
	b, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := d.kv.Set(ctx, StatusKey(st.WebhookID), string(b), d.cfg.StatusTTL); err != nil {
		d.logger.Warn("Failed to cache delivery status", zap.String("webhook_id", st.WebhookID), zap.Error(err))
	}
}

// LastStatus 读取最近一次投递结果；没有记录返回 nil
func (d *Dispatcher) LastStatus(ctx context.Context, webhookID string) (*DeliveryStatus, error) {
	return LastStatus(ctx, d.kv, webhookID)
}

// LastStatus 从 KV 读取投递状态
func LastStatus(ctx context.Context, kv store.KV, webhookID string) (*DeliveryStatus, error) {
	raw, err := kv.Get(ctx, StatusKey(webhookID))
	if err != nil {
		if err == store.ErrMiss {
			return nil, nil
		}
		return nil, err
	}
	var st DeliveryStatus
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("failed to decode delivery status: %w", err)
	}
	return &st, nil
}

// StreamSource 报警消息来源（Redis Stream 消费者组）
type StreamSource interface {
	Read(ctx context.Context, count int64, block time.Duration) ([]rediscommon.StreamMessage, error)
	Ack(ctx context.Context, ids ...string) error
}

// RedisStreamSource 基于 XREADGROUP / XACK
type RedisStreamSource struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
}

// NewRedisStreamSource 创建消息来源并确保消费者组存在
func NewRedisStreamSource(ctx context.Context, client *redis.Client, stream, group, consumer string) (*RedisStreamSource, error) {
	if err := rediscommon.CreateConsumerGroup(ctx, client, stream, group); err != nil {
		return nil, fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
	}
	return &RedisStreamSource{client: client, stream: stream, group: group, consumer: consumer}, nil
}

func (s *RedisStreamSource) Read(ctx context.Context, count int64, block time.Duration) ([]rediscommon.StreamMessage, error) {
	return rediscommon.ReadFromStream(ctx, s.client, s.stream, s.group, s.consumer, count, block)
}

func (s *RedisStreamSource) Ack(ctx context.Context, ids ...string) error {
	return rediscommon.Ack(ctx, s.client, s.stream, s.group, ids...)
}

// Consume 消费循环，读取失败时指数退避
func (d *Dispatcher) Consume(ctx context.Context, src StreamSource) error {
	d.logger.Info("Alert dispatcher started")

	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		messages, err := src.Read(ctx, d.cfg.ReadBatchSize, d.cfg.ReadBlock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Error("Failed to read alert stream", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			d.handle(ctx, msg)
			if err := src.Ack(ctx, msg.ID); err != nil {
				d.logger.Warn("Failed to ack alert message", zap.String("message_id", msg.ID), zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg rediscommon.StreamMessage) {
	data, err := msg.Data()
	if err != nil {
		d.logger.Error("Malformed alert message", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	var p evaluator.AlertPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.logger.Error("Failed to decode alert payload", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	if err := d.Deliver(ctx, p); err != nil {
		d.logger.Error("Alert delivery incomplete",
			zap.String("message_id", msg.ID),
			zap.String("alert_id", p.AlertID),
			zap.Error(err),
		)
	}
}
