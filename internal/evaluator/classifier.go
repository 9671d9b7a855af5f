package evaluator

import "wisefido-crowd/internal/domain"

// Classify 计数 -> 等级
// 自上而下判断 danger -> warning -> normal -> safe，比较均为 >=。
// 阈值配置乱序时（如 normal > warning）仍按此顺序返回更严重的等级。
func Classify(count int, t domain.Thresholds) domain.Severity {
	switch {
	case count >= t.Danger:
		return domain.SeverityDanger
	case count >= t.Warning:
		return domain.SeverityWarning
	case count >= t.Normal:
		return domain.SeverityNormal
	default:
		return domain.SeveritySafe
	}
}

// ShouldAlert 仅 warning / danger 触发报警；不做跨窗口抑制，每个满足条件的窗口都会再次报警
func ShouldAlert(s domain.Severity) bool {
	return s == domain.SeverityWarning || s == domain.SeverityDanger
}
