package evaluator

import (
	"fmt"
	"time"

	"wisefido-crowd/internal/domain"

	"github.com/google/uuid"
)

// Decision 报警判定结果：是否报警 + 待投递内容
type Decision struct {
	Alert bool
	Event *domain.Alert
}

// AlertPayload 投递给 webhook 的报警内容
type AlertPayload struct {
	AlertID       string    `json:"alert_id"`
	SensorID      string    `json:"sensor_id"`
	Severity      string    `json:"severity"`
	Count         int       `json:"count"`
	WindowSeconds int       `json:"window_seconds"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
}

// Decide 根据等级生成报警记录（不报警时 Event 为 nil）
func Decide(sensorID string, count int, severity domain.Severity, at time.Time) Decision {
	if !ShouldAlert(severity) {
		return Decision{}
	}
	return Decision{
		Alert: true,
		Event: &domain.Alert{
			AlertID:   uuid.NewString(),
			SensorID:  sensorID,
			Severity:  severity,
			Count:     count,
			Message:   buildMessage(sensorID, count, severity),
			CreatedAt: at,
		},
	}
}

// Payload 报警记录 -> 投递内容
func Payload(a *domain.Alert, window time.Duration) AlertPayload {
	return AlertPayload{
		AlertID:       a.AlertID,
		SensorID:      a.SensorID,
		Severity:      a.Severity.String(),
		Count:         a.Count,
		WindowSeconds: int(window / time.Second),
		Message:       a.Message,
		Timestamp:     a.CreatedAt,
	}
}

func buildMessage(sensorID string, count int, severity domain.Severity) string {
	switch severity {
	case domain.SeverityDanger:
		return fmt.Sprintf("DANGER: %d people detected near sensor %s", count, sensorID)
	default:
		return fmt.Sprintf("WARNING: crowd building up near sensor %s (%d people)", sensorID, count)
	}
}
