package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wisefido-crowd/internal/domain"
	"wisefido-crowd/internal/evaluator"
	"wisefido-crowd/internal/mobility"
	"wisefido-crowd/internal/presence"
	"wisefido-crowd/internal/redact"
	"wisefido-crowd/internal/repository"

	"go.uber.org/zap"
)

// AlertSink 报警投递队列（notify.Queue 实现），Enqueue 不得阻塞
type AlertSink interface {
	Enqueue(p evaluator.AlertPayload) bool
}

// CrowdService 人群统计服务接口
type CrowdService interface {
	// 上报
	Ingest(ctx context.Context, req IngestRequest) (*PresenceResponse, error)

	// 查询
	Latest(ctx context.Context, sensorID string) (*PresenceResponse, error)
	History(ctx context.Context, req HistoryRequest) ([]SensorTrend, error)
	CrossSimilarity(ctx context.Context, req CrossRequest) (*CrossResponse, error)
	ListAlerts(ctx context.Context, req ListAlertsRequest) ([]domain.Alert, error)
}

// CrowdOptions 服务参数（来自 config.Crowd）
type CrowdOptions struct {
	Window          time.Duration
	StorageTimeout  time.Duration
	HistoryMaxLimit int
}

// crowdService 实现
type crowdService struct {
	store    repository.Store
	redactor *redact.Redactor
	alerts   AlertSink
	opts     CrowdOptions
	now      func() time.Time
	logger   *zap.Logger
}

// NewCrowdService 创建 CrowdService 实例；alerts 可为 nil（不投递）
func NewCrowdService(store repository.Store, redactor *redact.Redactor, alerts AlertSink, opts CrowdOptions, logger *zap.Logger) CrowdService {
	if opts.Window <= 0 {
		opts.Window = 60 * time.Second
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = 3 * time.Second
	}
	if opts.HistoryMaxLimit <= 0 {
		opts.HistoryMaxLimit = 500
	}
	return &crowdService{
		store:    store,
		redactor: redactor,
		alerts:   alerts,
		opts:     opts,
		now:      time.Now,
		logger:   logger,
	}
}

// IngestRequest 上报请求
type IngestRequest struct {
	SensorID    string     // 必填
	Identifiers []string   // 必填：原始 MAC 或已哈希的 token
	Tokenized   bool       // true 表示 Identifiers 已是 token
	RSSI        []int      // 可选：与 Identifiers 一一对应
	At          *time.Time // 可选：观测时刻，默认服务端当前时间
}

// PresenceResponse 上报 / 最新状态响应
type PresenceResponse struct {
	SensorID            string                `json:"sensor_id"`
	CurrentCount        int                   `json:"current_count"`
	PreviousCount       int                   `json:"previous_count"`
	Severity            domain.Severity       `json:"severity"`
	AlertTriggered      bool                  `json:"alert_triggered"`
	WindowLengthSeconds int                   `json:"window_length_seconds"`
	Neighbors           []presence.Prediction `json:"neighbors"`
	AsOf                time.Time             `json:"as_of"`
}

// Ingest 记录一次上报并返回当前人数、等级与邻居预测
// 写入、计数与报警记录在同一事务内完成；报警投递在提交之后进行
func (s *crowdService) Ingest(ctx context.Context, req IngestRequest) (*PresenceResponse, error) {
	// 1. 参数验证
	if req.SensorID == "" {
		return nil, fmt.Errorf("%w: sensor_id is required", domain.ErrInvalidInput)
	}
	if len(req.RSSI) > 0 && len(req.RSSI) != len(req.Identifiers) {
		return nil, fmt.Errorf("%w: rssi must match identifiers (%d != %d)", domain.ErrInvalidInput, len(req.RSSI), len(req.Identifiers))
	}
	tokens, err := s.redactor.RedactAll(req.Identifiers, req.Tokenized)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if req.At != nil {
		now = req.At.UTC()
	}

	readings := make([]repository.Reading, len(tokens))
	for i, tok := range tokens {
		readings[i] = repository.Reading{Token: tok}
		if len(req.RSSI) > 0 {
			rssi := req.RSSI[i]
			readings[i].RSSI = &rssi
		}
	}

	// 2. 事务内：写入 -> 计数 -> 分级 -> 报警记录 -> 预测
	sctx, cancel := context.WithTimeout(ctx, s.opts.StorageTimeout)
	defer cancel()

	var (
		resp  *PresenceResponse
		alert *domain.Alert
	)
	err = s.store.WithTx(sctx, func(tx repository.Store) error {
		sensor, err := tx.Sensors().GetSensor(sctx, req.SensorID)
		if err != nil {
			return err
		}
		thresholds, err := tx.Sensors().GetThresholds(sctx, req.SensorID)
		if err != nil {
			return err
		}

		if err := tx.Observations().Record(sctx, sensor.SensorID, now, readings); err != nil {
			return err
		}
		if err := tx.Snapshots().CreateSnapshot(sctx, &domain.Snapshot{
			SensorID: sensor.SensorID,
			TakenAt:  now,
			Tokens:   domain.DedupeTokens(tokens),
		}); err != nil {
			return err
		}

		// *sql.Tx 不能并发使用
		agg := presence.NewAggregator(tx.Observations(), s.opts.Window).Sequential()
		predictions, err := presence.NewPredictor(agg).Predict(sctx, *sensor, now)
		if err != nil {
			return err
		}
		self := predictions[sensor.SensorID]

		severity := evaluator.Classify(self.Current, *thresholds)
		decision := evaluator.Decide(sensor.SensorID, self.Current, severity, now)
		if decision.Alert {
			if err := tx.Alerts().CreateAlert(sctx, decision.Event); err != nil {
				return err
			}
			alert = decision.Event
		}

		resp = s.buildResponse(sensor.SensorID, self, severity, decision.Alert, predictions, now)
		return nil
	})
	if err != nil {
		return nil, storageErr(sctx, "ingest", err)
	}

	s.logger.Debug("Ingested sightings",
		zap.String("sensor_id", req.SensorID),
		zap.Int("identifier_count", len(tokens)),
		zap.Int("current_count", resp.CurrentCount),
		zap.String("severity", resp.Severity.String()),
	)

	// 3. 提交后投递（不阻塞、不影响已提交数据）
	if alert != nil {
		s.logger.Info("Crowd alert raised",
			zap.String("alert_id", alert.AlertID),
			zap.String("sensor_id", alert.SensorID),
			zap.String("severity", alert.Severity.String()),
			zap.Int("count", alert.Count),
		)
		if s.alerts != nil {
			s.alerts.Enqueue(evaluator.Payload(alert, s.opts.Window))
		}
	}
	return resp, nil
}

// Latest 当前状态（只读，不写入、不报警）
func (s *crowdService) Latest(ctx context.Context, sensorID string) (*PresenceResponse, error) {
	if sensorID == "" {
		return nil, fmt.Errorf("%w: sensor_id is required", domain.ErrInvalidInput)
	}

	sctx, cancel := context.WithTimeout(ctx, s.opts.StorageTimeout)
	defer cancel()

	sensor, err := s.store.Sensors().GetSensor(sctx, sensorID)
	if err != nil {
		return nil, storageErr(sctx, "latest", err)
	}
	thresholds, err := s.store.Sensors().GetThresholds(sctx, sensorID)
	if err != nil {
		return nil, storageErr(sctx, "latest", err)
	}

	now := s.now().UTC()
	agg := presence.NewAggregator(s.store.Observations(), s.opts.Window)
	predictions, err := presence.NewPredictor(agg).Predict(sctx, *sensor, now)
	if err != nil {
		return nil, storageErr(sctx, "latest", err)
	}
	self := predictions[sensor.SensorID]
	severity := evaluator.Classify(self.Current, *thresholds)

	return s.buildResponse(sensor.SensorID, self, severity, false, predictions, now), nil
}

func (s *crowdService) buildResponse(sensorID string, self presence.Prediction, severity domain.Severity, alerted bool, predictions map[string]presence.Prediction, now time.Time) *PresenceResponse {
	return &PresenceResponse{
		SensorID:            sensorID,
		CurrentCount:        self.Current,
		PreviousCount:       self.Previous,
		Severity:            severity,
		AlertTriggered:      alerted,
		WindowLengthSeconds: int(s.opts.Window / time.Second),
		Neighbors:           presence.Sorted(predictions),
		AsOf:                now,
	}
}

// HistoryRequest 流动性趋势请求
type HistoryRequest struct {
	SensorID string // 可选：为空时返回全部传感器
	Limit    int    // 可选：最近快照数，默认且最大为 HistoryMaxLimit
}

// SensorTrend 单个传感器的流动性趋势
type SensorTrend struct {
	SensorID string                `json:"sensor_id"`
	Points   []mobility.TrendPoint `json:"points"`
}

// History 相邻快照两两比较（升序）
func (s *crowdService) History(ctx context.Context, req HistoryRequest) ([]SensorTrend, error) {
	if req.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must be non-negative", domain.ErrInvalidInput)
	}
	limit := req.Limit
	if limit == 0 || limit > s.opts.HistoryMaxLimit {
		limit = s.opts.HistoryMaxLimit
	}

	sctx, cancel := context.WithTimeout(ctx, s.opts.StorageTimeout)
	defer cancel()

	var ids []string
	if req.SensorID != "" {
		if _, err := s.store.Sensors().GetSensor(sctx, req.SensorID); err != nil {
			return nil, storageErr(sctx, "history", err)
		}
		ids = []string{req.SensorID}
	} else {
		sensors, err := s.store.Sensors().ListSensors(sctx)
		if err != nil {
			return nil, storageErr(sctx, "history", err)
		}
		for _, sensor := range sensors {
			ids = append(ids, sensor.SensorID)
		}
	}

	out := make([]SensorTrend, 0, len(ids))
	for _, id := range ids {
		snaps, err := s.store.Snapshots().ListSnapshots(sctx, id, limit)
		if err != nil {
			return nil, storageErr(sctx, "history", err)
		}
		out = append(out, SensorTrend{SensorID: id, Points: mobility.Trend(snaps)})
	}
	return out, nil
}

// CrossRequest 跨传感器相似度请求
type CrossRequest struct {
	SensorA       string
	SensorB       string
	WindowSeconds int // 可选：默认统计窗口长度
}

// CrossResponse 跨传感器相似度
type CrossResponse struct {
	SensorA          string    `json:"sensor_a"`
	SensorB          string    `json:"sensor_b"`
	CommonCount      int       `json:"common_count"`
	TotalUniqueCount int       `json:"total_unique_count"`
	Jaccard          float64   `json:"jaccard"`
	Mobility         float64   `json:"mobility"`
	SnapshotA        time.Time `json:"snapshot_a_at"`
	SnapshotB        time.Time `json:"snapshot_b_at"`
}

// CrossSimilarity 两个传感器在窗口内各自最新快照的重合度
func (s *crowdService) CrossSimilarity(ctx context.Context, req CrossRequest) (*CrossResponse, error) {
	if req.SensorA == "" || req.SensorB == "" {
		return nil, fmt.Errorf("%w: sensor_a and sensor_b are required", domain.ErrInvalidInput)
	}
	if req.SensorA == req.SensorB {
		return nil, fmt.Errorf("%w: sensor_a and sensor_b must differ", domain.ErrInvalidInput)
	}
	if req.WindowSeconds < 0 {
		return nil, fmt.Errorf("%w: window_seconds must be positive", domain.ErrInvalidInput)
	}
	window := s.opts.Window
	if req.WindowSeconds > 0 {
		window = time.Duration(req.WindowSeconds) * time.Second
	}

	sctx, cancel := context.WithTimeout(ctx, s.opts.StorageTimeout)
	defer cancel()

	now := s.now().UTC()
	since := now.Add(-window)

	snapshots := make([]*domain.Snapshot, 2)
	for i, id := range []string{req.SensorA, req.SensorB} {
		if _, err := s.store.Sensors().GetSensor(sctx, id); err != nil {
			return nil, storageErr(sctx, "cross similarity", err)
		}
		snap, err := s.store.Snapshots().LatestSnapshot(sctx, id, since, now)
		if err != nil {
			return nil, storageErr(sctx, "cross similarity", err)
		}
		snapshots[i] = snap
	}

	r := mobility.Similarity(snapshots[0].Tokens, snapshots[1].Tokens)
	return &CrossResponse{
		SensorA:          req.SensorA,
		SensorB:          req.SensorB,
		CommonCount:      r.IntersectionSize,
		TotalUniqueCount: r.UnionSize,
		Jaccard:          r.Jaccard,
		Mobility:         r.Mobility,
		SnapshotA:        snapshots[0].TakenAt,
		SnapshotB:        snapshots[1].TakenAt,
	}, nil
}

// ListAlertsRequest 报警记录查询
type ListAlertsRequest struct {
	SensorID string // 可选
	Limit    int    // 可选，默认 50，最大 500
}

// ListAlerts 最新在前
func (s *crowdService) ListAlerts(ctx context.Context, req ListAlertsRequest) ([]domain.Alert, error) {
	if req.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must be non-negative", domain.ErrInvalidInput)
	}
	limit := req.Limit
	if limit == 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	sctx, cancel := context.WithTimeout(ctx, s.opts.StorageTimeout)
	defer cancel()

	alerts, err := s.store.Alerts().ListAlerts(sctx, req.SensorID, limit)
	if err != nil {
		return nil, storageErr(sctx, "list alerts", err)
	}
	return alerts, nil
}

// storageErr 超时 / 取消统一归为 ErrStorageUnavailable；已分类的错误原样返回
func storageErr(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{
		domain.ErrInvalidInput,
		domain.ErrNotFound,
		domain.ErrConflict,
		domain.ErrStorageUnavailable,
		domain.ErrMisconfigured,
	} {
		if errors.Is(err, kind) {
			return err
		}
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.Unavailable(op, err)
	}
	return err
}
