package repository

import (
	"context"
	"time"

	"wisefido-crowd/internal/domain"
)

// Reading 一次上报中的单个 token（RSSI 可选）
type Reading struct {
	Token domain.Token
	RSSI  *int
}

// SensorRepository 传感器 / 阈值 / 邻居
type SensorRepository interface {
	CreateSensor(ctx context.Context, s *domain.Sensor) error
	GetSensor(ctx context.Context, sensorID string) (*domain.Sensor, error)
	ListSensors(ctx context.Context) ([]*domain.Sensor, error)

	AddNeighbor(ctx context.Context, sensorID, neighborID string) error
	RemoveNeighbor(ctx context.Context, sensorID, neighborID string) error

	GetThresholds(ctx context.Context, sensorID string) (*domain.Thresholds, error)
	UpsertThresholds(ctx context.Context, sensorID string, t domain.Thresholds) error
}

// ObservationRepository 观测记录（写入去重 + 窗口去重计数）
type ObservationRepository interface {
	// Record 同一批次内重复的 token 只写一次；(sensor, token, at) 已存在时忽略
	Record(ctx context.Context, sensorID string, at time.Time, readings []Reading) error
	// DistinctCount 每个请求的 id 都会出现在结果中（无观测为 0）
	DistinctCount(ctx context.Context, sensorIDs []string, w domain.Window) (map[string]int, error)
}

// SnapshotRepository 上报快照（用于流动性分析）
type SnapshotRepository interface {
	CreateSnapshot(ctx context.Context, s *domain.Snapshot) error
	// ListSnapshots 最近 limit 个快照，按时间升序返回
	ListSnapshots(ctx context.Context, sensorID string, limit int) ([]domain.Snapshot, error)
	// LatestSnapshot [since, until] 内最新的快照，没有时返回 domain.ErrNoRecentData
	LatestSnapshot(ctx context.Context, sensorID string, since, until time.Time) (*domain.Snapshot, error)
}

// AlertRepository 报警记录
type AlertRepository interface {
	CreateAlert(ctx context.Context, a *domain.Alert) error
	// ListAlerts 最新在前；sensorID 为空时返回全部
	ListAlerts(ctx context.Context, sensorID string, limit int) ([]domain.Alert, error)
}

// WebhookRepository 报警订阅
type WebhookRepository interface {
	CreateWebhook(ctx context.Context, w *domain.Webhook) error
	ListWebhooks(ctx context.Context, sensorID string) ([]domain.Webhook, error)
	DeleteWebhook(ctx context.Context, webhookID string) error
}

// Store 汇总各 Repository，并提供事务
type Store interface {
	Sensors() SensorRepository
	Observations() ObservationRepository
	Snapshots() SnapshotRepository
	Alerts() AlertRepository
	Webhooks() WebhookRepository

	// WithTx 在同一事务内执行 fn；fn 返回错误时全部回滚
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// dedupeReadings 保序去重（同一 token 保留第一次出现）
func dedupeReadings(readings []Reading) []Reading {
	seen := make(map[domain.Token]struct{}, len(readings))
	out := make([]Reading, 0, len(readings))
	for _, r := range readings {
		if _, ok := seen[r.Token]; ok {
			continue
		}
		seen[r.Token] = struct{}{}
		out = append(out, r)
	}
	return out
}
