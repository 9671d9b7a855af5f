package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wisefido-crowd/internal/domain"

	"github.com/lib/pq"
)

// PostgresSensorsRepo 传感器Repository实现
type PostgresSensorsRepo struct {
	q querier
}

var _ SensorRepository = (*PostgresSensorsRepo)(nil)

// CreateSensor 注册传感器（id 重复返回 ErrConflict）
func (r *PostgresSensorsRepo) CreateSensor(ctx context.Context, s *domain.Sensor) error {
	if s == nil || s.SensorID == "" {
		return fmt.Errorf("%w: sensor_id is required", domain.ErrInvalidInput)
	}
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO sensors (sensor_id, name, location)
		VALUES ($1, $2, $3)
		ON CONFLICT (sensor_id) DO NOTHING
		RETURNING created_at
	`, s.SensorID, s.Name, s.Location).Scan(&s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: sensor %s already registered", domain.ErrConflict, s.SensorID)
		}
		return domain.Unavailable("create sensor", err)
	}
	if s.Neighbors == nil {
		s.Neighbors = []string{}
	}
	return nil
}

// GetSensor 查询传感器（含邻居）
func (r *PostgresSensorsRepo) GetSensor(ctx context.Context, sensorID string) (*domain.Sensor, error) {
	var s domain.Sensor
	err := r.q.QueryRowContext(ctx, `
		SELECT sensor_id, name, location, created_at
		FROM sensors
		WHERE sensor_id = $1
	`, sensorID).Scan(&s.SensorID, &s.Name, &s.Location, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDeviceNotFound, sensorID)
		}
		return nil, domain.Unavailable("get sensor", err)
	}

	neighbors, err := r.neighbors(ctx, []string{sensorID})
	if err != nil {
		return nil, err
	}
	s.Neighbors = neighbors[sensorID]
	if s.Neighbors == nil {
		s.Neighbors = []string{}
	}
	return &s, nil
}

// ListSensors 全部传感器（含邻居），按 id 排序
func (r *PostgresSensorsRepo) ListSensors(ctx context.Context) ([]*domain.Sensor, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT sensor_id, name, location, created_at
		FROM sensors
		ORDER BY sensor_id
	`)
	if err != nil {
		return nil, domain.Unavailable("list sensors", err)
	}
	defer rows.Close()

	var (
		out []*domain.Sensor
		ids []string
	)
	for rows.Next() {
		var s domain.Sensor
		if err := rows.Scan(&s.SensorID, &s.Name, &s.Location, &s.CreatedAt); err != nil {
			return nil, domain.Unavailable("scan sensor", err)
		}
		out = append(out, &s)
		ids = append(ids, s.SensorID)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("list sensors", err)
	}
	if len(ids) == 0 {
		return out, nil
	}

	neighbors, err := r.neighbors(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, s := range out {
		s.Neighbors = neighbors[s.SensorID]
		if s.Neighbors == nil {
			s.Neighbors = []string{}
		}
	}
	return out, nil
}

func (r *PostgresSensorsRepo) neighbors(ctx context.Context, sensorIDs []string) (map[string][]string, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT sensor_id, neighbor_id
		FROM sensor_neighbors
		WHERE sensor_id = ANY($1)
		ORDER BY sensor_id, created_at, neighbor_id
	`, pq.Array(sensorIDs))
	if err != nil {
		return nil, domain.Unavailable("list neighbors", err)
	}
	defer rows.Close()

	out := make(map[string][]string, len(sensorIDs))
	for rows.Next() {
		var sensorID, neighborID string
		if err := rows.Scan(&sensorID, &neighborID); err != nil {
			return nil, domain.Unavailable("scan neighbor", err)
		}
		out[sensorID] = append(out[sensorID], neighborID)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("list neighbors", err)
	}
	return out, nil
}

// AddNeighbor 添加有向邻居（重复返回 ErrConflict）
func (r *PostgresSensorsRepo) AddNeighbor(ctx context.Context, sensorID, neighborID string) error {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO sensor_neighbors (sensor_id, neighbor_id)
		VALUES ($1, $2)
		ON CONFLICT (sensor_id, neighbor_id) DO NOTHING
	`, sensorID, neighborID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return fmt.Errorf("%w: %s -> %s", domain.ErrDeviceNotFound, sensorID, neighborID)
		}
		return domain.Unavailable("add neighbor", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Unavailable("add neighbor", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s -> %s already exists", domain.ErrConflict, sensorID, neighborID)
	}
	return nil
}

// RemoveNeighbor 删除有向邻居
func (r *PostgresSensorsRepo) RemoveNeighbor(ctx context.Context, sensorID, neighborID string) error {
	res, err := r.q.ExecContext(ctx, `
		DELETE FROM sensor_neighbors
		WHERE sensor_id = $1 AND neighbor_id = $2
	`, sensorID, neighborID)
	if err != nil {
		return domain.Unavailable("remove neighbor", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Unavailable("remove neighbor", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: neighbor %s -> %s", domain.ErrNotFound, sensorID, neighborID)
	}
	return nil
}

// GetThresholds 查询阈值（未配置返回 ErrThresholdsNotConfigured）
func (r *PostgresSensorsRepo) GetThresholds(ctx context.Context, sensorID string) (*domain.Thresholds, error) {
	var t domain.Thresholds
	err := r.q.QueryRowContext(ctx, `
		SELECT safe, normal, warning, danger
		FROM sensor_thresholds
		WHERE sensor_id = $1
	`, sensorID).Scan(&t.Safe, &t.Normal, &t.Warning, &t.Danger)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: sensor %s", domain.ErrThresholdsNotConfigured, sensorID)
		}
		return nil, domain.Unavailable("get thresholds", err)
	}
	return &t, nil
}

// UpsertThresholds 写入阈值（调用方已校验）
func (r *PostgresSensorsRepo) UpsertThresholds(ctx context.Context, sensorID string, t domain.Thresholds) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO sensor_thresholds (sensor_id, safe, normal, warning, danger, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (sensor_id)
		DO UPDATE SET safe = EXCLUDED.safe,
		              normal = EXCLUDED.normal,
		              warning = EXCLUDED.warning,
		              danger = EXCLUDED.danger,
		              updated_at = now()
	`, sensorID, t.Safe, t.Normal, t.Warning, t.Danger)
	if err != nil {
		return domain.Unavailable("upsert thresholds", err)
	}
	return nil
}
