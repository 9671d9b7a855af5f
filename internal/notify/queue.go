// Package notify 报警投递：进程内缓冲队列 -> Redis Stream -> webhook
package notify

import (
	"context"
	"time"

	"wisefido-crowd/internal/evaluator"
	rediscommon "wisefido-crowd/internal/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Publisher 报警发布接口
type Publisher interface {
	Publish(ctx context.Context, p evaluator.AlertPayload) error
}

// PublisherFunc 函数适配（Redis 不可用时直接投递）
type PublisherFunc func(ctx context.Context, p evaluator.AlertPayload) error

func (f PublisherFunc) Publish(ctx context.Context, p evaluator.AlertPayload) error {
	return f(ctx, p)
}

// StreamPublisher 发布到 Redis Stream
type StreamPublisher struct {
	client *redis.Client
	stream string
}

// NewStreamPublisher 创建 Stream 发布器
func NewStreamPublisher(client *redis.Client, stream string) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream}
}

func (p *StreamPublisher) Publish(ctx context.Context, payload evaluator.AlertPayload) error {
	_, err := rediscommon.PublishJSONToStream(ctx, p.client, p.stream, payload)
	return err
}

// Queue 非阻塞报警队列：Enqueue 从不阻塞上报路径，满时丢弃并告警
type Queue struct {
	ch             chan evaluator.AlertPayload
	pub            Publisher
	publishTimeout time.Duration
	logger         *zap.Logger
}

// NewQueue 创建队列
func NewQueue(pub Publisher, size int, logger *zap.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{
		ch:             make(chan evaluator.AlertPayload, size),
		pub:            pub,
		publishTimeout: 5 * time.Second,
		logger:         logger,
	}
}

// Enqueue 入队；队列已满返回 false
func (q *Queue) Enqueue(p evaluator.AlertPayload) bool {
	select {
	case q.ch <- p:
		return true
	default:
		q.logger.Warn("Alert queue full, dropping alert",
			zap.String("alert_id", p.AlertID),
			zap.String("sensor_id", p.SensorID),
			zap.String("severity", p.Severity),
		)
		return false
	}
}

// Run 持续发布直到 ctx 结束
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-q.ch:
			q.publish(ctx, p)
		}
	}
}

func (q *Queue) publish(ctx context.Context, p evaluator.AlertPayload) {
	pctx, cancel := context.WithTimeout(ctx, q.publishTimeout)
	defer cancel()

	if err := q.pub.Publish(pctx, p); err != nil {
		q.logger.Error("Failed to publish alert",
			zap.String("alert_id", p.AlertID),
			zap.String("sensor_id", p.SensorID),
			zap.Error(err),
		)
		return
	}
	q.logger.Debug("Alert published",
		zap.String("alert_id", p.AlertID),
		zap.String("sensor_id", p.SensorID),
	)
}
