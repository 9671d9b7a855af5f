package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"wisefido-crowd/internal/domain"
	"wisefido-crowd/internal/notify"
	"wisefido-crowd/internal/repository"
	"wisefido-crowd/internal/store"

	"go.uber.org/zap"
)

// SensorService 传感器 / 阈值 / 邻居 / Webhook 管理服务接口
type SensorService interface {
	// 传感器
	RegisterSensor(ctx context.Context, req RegisterSensorRequest) (*SensorDetail, error)
	GetSensor(ctx context.Context, sensorID string) (*SensorDetail, error)
	ListSensors(ctx context.Context) ([]*domain.Sensor, error)

	// 阈值
	SetThresholds(ctx context.Context, sensorID string, patch domain.ThresholdsPatch) (*domain.Thresholds, error)
	GetThresholds(ctx context.Context, sensorID string) (*domain.Thresholds, error)

	// 邻居
	AddNeighbor(ctx context.Context, sensorID, neighborID string) error
	RemoveNeighbor(ctx context.Context, sensorID, neighborID string) error

	// Webhook
	CreateWebhook(ctx context.Context, sensorID, rawURL string) (*domain.Webhook, error)
	ListWebhooks(ctx context.Context, sensorID string) ([]WebhookView, error)
	DeleteWebhook(ctx context.Context, webhookID string) error
}

// sensorService 实现
type sensorService struct {
	store    repository.Store
	kv       store.KV
	defaults domain.Thresholds
	logger   *zap.Logger
}

// NewSensorService 创建 SensorService 实例；kv 可为 nil（不返回投递状态）
func NewSensorService(st repository.Store, kv store.KV, defaults domain.Thresholds, logger *zap.Logger) SensorService {
	return &sensorService{
		store:    st,
		kv:       kv,
		defaults: defaults,
		logger:   logger,
	}
}

// RegisterSensorRequest 注册传感器请求
type RegisterSensorRequest struct {
	SensorID   string                 `json:"sensor_id"`           // 必填
	Name       string                 `json:"name"`                // 可选
	Location   string                 `json:"location"`            // 可选
	Thresholds domain.ThresholdsPatch `json:"thresholds"`          // 可选：缺失字段用默认值
	Neighbors  []string               `json:"neighbors,omitempty"` // 可选：须已注册
}

// SensorDetail 传感器 + 阈值
type SensorDetail struct {
	*domain.Sensor
	Thresholds *domain.Thresholds `json:"thresholds,omitempty"`
}

// RegisterSensor 注册传感器、写入阈值与邻居（同一事务）
func (s *sensorService) RegisterSensor(ctx context.Context, req RegisterSensorRequest) (*SensorDetail, error) {
	req.SensorID = strings.TrimSpace(req.SensorID)
	if req.SensorID == "" {
		return nil, fmt.Errorf("%w: sensor_id is required", domain.ErrInvalidInput)
	}
	if strings.ContainsAny(req.SensorID, "/+# ") {
		return nil, fmt.Errorf("%w: sensor_id must not contain '/', '+', '#' or spaces", domain.ErrInvalidInput)
	}

	// 默认值只在写入时补齐一次
	thresholds := req.Thresholds.Apply(s.defaults)
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}

	var detail *SensorDetail
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		sensor := &domain.Sensor{SensorID: req.SensorID, Name: req.Name, Location: req.Location}
		if err := tx.Sensors().CreateSensor(ctx, sensor); err != nil {
			return err
		}
		if err := tx.Sensors().UpsertThresholds(ctx, sensor.SensorID, thresholds); err != nil {
			return err
		}
		for _, n := range req.Neighbors {
			if err := s.addNeighbor(ctx, tx, sensor.SensorID, n); err != nil {
				return err
			}
		}
		created, err := tx.Sensors().GetSensor(ctx, sensor.SensorID)
		if err != nil {
			return err
		}
		detail = &SensorDetail{Sensor: created, Thresholds: &thresholds}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Sensor registered",
		zap.String("sensor_id", detail.SensorID),
		zap.Int("neighbor_count", len(detail.Neighbors)),
	)
	return detail, nil
}

// GetSensor 查询传感器（阈值未配置时 Thresholds 为空）
func (s *sensorService) GetSensor(ctx context.Context, sensorID string) (*SensorDetail, error) {
	sensor, err := s.store.Sensors().GetSensor(ctx, sensorID)
	if err != nil {
		return nil, err
	}
	detail := &SensorDetail{Sensor: sensor}
	t, err := s.store.Sensors().GetThresholds(ctx, sensorID)
	switch {
	case err == nil:
		detail.Thresholds = t
	case errors.Is(err, domain.ErrMisconfigured):
	default:
		return nil, err
	}
	return detail, nil
}

// ListSensors 全部传感器
func (s *sensorService) ListSensors(ctx context.Context) ([]*domain.Sensor, error) {
	sensors, err := s.store.Sensors().ListSensors(ctx)
	if err != nil {
		return nil, err
	}
	if sensors == nil {
		sensors = []*domain.Sensor{}
	}
	return sensors, nil
}

// SetThresholds 更新阈值：缺失字段取现有值（无则取默认值），再校验严格递增
func (s *sensorService) SetThresholds(ctx context.Context, sensorID string, patch domain.ThresholdsPatch) (*domain.Thresholds, error) {
	var out domain.Thresholds
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		if _, err := tx.Sensors().GetSensor(ctx, sensorID); err != nil {
			return err
		}
		base := s.defaults
		current, err := tx.Sensors().GetThresholds(ctx, sensorID)
		switch {
		case err == nil:
			base = *current
		case errors.Is(err, domain.ErrMisconfigured):
		default:
			return err
		}

		out = patch.Apply(base)
		if err := out.Validate(); err != nil {
			return err
		}
		return tx.Sensors().UpsertThresholds(ctx, sensorID, out)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Thresholds updated",
		zap.String("sensor_id", sensorID),
		zap.Int("safe", out.Safe),
		zap.Int("normal", out.Normal),
		zap.Int("warning", out.Warning),
		zap.Int("danger", out.Danger),
	)
	return &out, nil
}

// GetThresholds 查询阈值
func (s *sensorService) GetThresholds(ctx context.Context, sensorID string) (*domain.Thresholds, error) {
	if _, err := s.store.Sensors().GetSensor(ctx, sensorID); err != nil {
		return nil, err
	}
	return s.store.Sensors().GetThresholds(ctx, sensorID)
}

// AddNeighbor 添加有向邻居
func (s *sensorService) AddNeighbor(ctx context.Context, sensorID, neighborID string) error {
	return s.store.WithTx(ctx, func(tx repository.Store) error {
		return s.addNeighbor(ctx, tx, sensorID, neighborID)
	})
}

func (s *sensorService) addNeighbor(ctx context.Context, tx repository.Store, sensorID, neighborID string) error {
	neighborID = strings.TrimSpace(neighborID)
	if neighborID == "" {
		return fmt.Errorf("%w: neighbor_id is required", domain.ErrInvalidInput)
	}
	if neighborID == sensorID {
		return fmt.Errorf("%w: sensor %s cannot be its own neighbor", domain.ErrInvalidInput, sensorID)
	}
	if _, err := tx.Sensors().GetSensor(ctx, sensorID); err != nil {
		return err
	}
	if _, err := tx.Sensors().GetSensor(ctx, neighborID); err != nil {
		return err
	}
	return tx.Sensors().AddNeighbor(ctx, sensorID, neighborID)
}

// RemoveNeighbor 删除有向邻居
func (s *sensorService) RemoveNeighbor(ctx context.Context, sensorID, neighborID string) error {
	if _, err := s.store.Sensors().GetSensor(ctx, sensorID); err != nil {
		return err
	}
	return s.store.Sensors().RemoveNeighbor(ctx, sensorID, neighborID)
}

// WebhookView 订阅 + 最近一次投递结果
type WebhookView struct {
	domain.Webhook
	LastDelivery *notify.DeliveryStatus `json:"last_delivery,omitempty"`
}

// CreateWebhook 订阅传感器报警
func (s *sensorService) CreateWebhook(ctx context.Context, sensorID, rawURL string) (*domain.Webhook, error) {
	if err := validateWebhookURL(rawURL); err != nil {
		return nil, err
	}
	if _, err := s.store.Sensors().GetSensor(ctx, sensorID); err != nil {
		return nil, err
	}
	w := &domain.Webhook{SensorID: sensorID, URL: rawURL}
	if err := s.store.Webhooks().CreateWebhook(ctx, w); err != nil {
		return nil, err
	}
	s.logger.Info("Webhook subscribed",
		zap.String("webhook_id", w.WebhookID),
		zap.String("sensor_id", sensorID),
	)
	return w, nil
}

// ListWebhooks 订阅列表；投递状态读取失败只记录日志
func (s *sensorService) ListWebhooks(ctx context.Context, sensorID string) ([]WebhookView, error) {
	hooks, err := s.store.Webhooks().ListWebhooks(ctx, sensorID)
	if err != nil {
		return nil, err
	}
	out := make([]WebhookView, 0, len(hooks))
	for _, h := range hooks {
		v := WebhookView{Webhook: h}
		if s.kv != nil {
			st, err := notify.LastStatus(ctx, s.kv, h.WebhookID)
			if err != nil {
				s.logger.Warn("Failed to read delivery status", zap.String("webhook_id", h.WebhookID), zap.Error(err))
			}
			v.LastDelivery = st
		}
		out = append(out, v)
	}
	return out, nil
}

// DeleteWebhook 取消订阅
func (s *sensorService) DeleteWebhook(ctx context.Context, webhookID string) error {
	if webhookID == "" {
		return fmt.Errorf("%w: webhook_id is required", domain.ErrInvalidInput)
	}
	return s.store.Webhooks().DeleteWebhook(ctx, webhookID)
}

func validateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: webhook url must be an absolute http(s) url", domain.ErrInvalidInput)
	}
	return nil
}
