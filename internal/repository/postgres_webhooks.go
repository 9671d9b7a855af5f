package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wisefido-crowd/internal/domain"

	"github.com/google/uuid"
)

// PostgresWebhooksRepo Webhook 订阅Repository实现
type PostgresWebhooksRepo struct {
	q querier
}

var _ WebhookRepository = (*PostgresWebhooksRepo)(nil)

// CreateWebhook 新增订阅（同一传感器同一 URL 重复返回 ErrConflict）
func (r *PostgresWebhooksRepo) CreateWebhook(ctx context.Context, w *domain.Webhook) error {
	if w.WebhookID == "" {
		w.WebhookID = uuid.NewString()
	}
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO webhooks (webhook_id, sensor_id, url)
		VALUES ($1, $2, $3)
		ON CONFLICT (sensor_id, url) DO NOTHING
		RETURNING created_at
	`, w.WebhookID, w.SensorID, w.URL).Scan(&w.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: webhook %s already subscribed for sensor %s", domain.ErrConflict, w.URL, w.SensorID)
		}
		return domain.Unavailable("create webhook", err)
	}
	return nil
}

// ListWebhooks sensorID 为空时返回全部
func (r *PostgresWebhooksRepo) ListWebhooks(ctx context.Context, sensorID string) ([]domain.Webhook, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT webhook_id::text, sensor_id, url, created_at
		FROM webhooks
		WHERE ($1 = '' OR sensor_id = $1)
		ORDER BY created_at, webhook_id
	`, sensorID)
	if err != nil {
		return nil, domain.Unavailable("list webhooks", err)
	}
	defer rows.Close()

	out := []domain.Webhook{}
	for rows.Next() {
		var w domain.Webhook
		if err := rows.Scan(&w.WebhookID, &w.SensorID, &w.URL, &w.CreatedAt); err != nil {
			return nil, domain.Unavailable("scan webhook", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("list webhooks", err)
	}
	return out, nil
}

// DeleteWebhook 删除订阅
func (r *PostgresWebhooksRepo) DeleteWebhook(ctx context.Context, webhookID string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM webhooks WHERE webhook_id = $1`, webhookID)
	if err != nil {
		return domain.Unavailable("delete webhook", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Unavailable("delete webhook", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: webhook %s", domain.ErrNotFound, webhookID)
	}
	return nil
}
