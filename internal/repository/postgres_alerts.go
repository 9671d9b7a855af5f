package repository

import (
	"context"

	"wisefido-crowd/internal/domain"
)

// PostgresAlertsRepo 报警记录Repository实现
type PostgresAlertsRepo struct {
	q querier
}

var _ AlertRepository = (*PostgresAlertsRepo)(nil)

// CreateAlert 写入报警记录
func (r *PostgresAlertsRepo) CreateAlert(ctx context.Context, a *domain.Alert) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO crowd_alerts (alert_id, sensor_id, severity, count, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.AlertID, a.SensorID, a.Severity.String(), a.Count, a.Message, a.CreatedAt.UTC())
	if err != nil {
		return domain.Unavailable("create alert", err)
	}
	return nil
}

// ListAlerts 最新在前
func (r *PostgresAlertsRepo) ListAlerts(ctx context.Context, sensorID string, limit int) ([]domain.Alert, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT alert_id::text, sensor_id, severity, count, message, created_at
		FROM crowd_alerts
		WHERE ($1 = '' OR sensor_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, sensorID, limit)
	if err != nil {
		return nil, domain.Unavailable("list alerts", err)
	}
	defer rows.Close()

	out := []domain.Alert{}
	for rows.Next() {
		var (
			a        domain.Alert
			severity string
		)
		if err := rows.Scan(&a.AlertID, &a.SensorID, &severity, &a.Count, &a.Message, &a.CreatedAt); err != nil {
			return nil, domain.Unavailable("scan alert", err)
		}
		sv, err := domain.ParseSeverity(severity)
		if err != nil {
			return nil, err
		}
		a.Severity = sv
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("list alerts", err)
	}
	return out, nil
}
