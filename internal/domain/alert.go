package domain

import "time"

// Alert 人群报警记录（仅追加，不修改）
type Alert struct {
	AlertID   string    `json:"alert_id"`
	SensorID  string    `json:"sensor_id"`
	Severity  Severity  `json:"severity"`
	Count     int       `json:"count"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Webhook 报警订阅
type Webhook struct {
	WebhookID string    `json:"webhook_id"`
	SensorID  string    `json:"sensor_id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}
