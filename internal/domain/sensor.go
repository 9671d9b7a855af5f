package domain

import (
	"fmt"
	"time"
)

// Sensor 边缘采集点（id 不可变）
type Sensor struct {
	SensorID  string    `json:"sensor_id"`
	Name      string    `json:"name"`
	Location  string    `json:"location,omitempty"`
	Neighbors []string  `json:"neighbors"` // 有向邻居，不要求对称
	CreatedAt time.Time `json:"created_at"`
}

// Thresholds 四级阈值（safe < normal < warning < danger）
type Thresholds struct {
	Safe    int `json:"safe"`
	Normal  int `json:"normal"`
	Warning int `json:"warning"`
	Danger  int `json:"danger"`
}

// Validate 检查阈值严格递增
func (t Thresholds) Validate() error {
	if t.Safe < 0 {
		return fmt.Errorf("%w: thresholds must be non-negative", ErrInvalidInput)
	}
	if !(t.Safe < t.Normal && t.Normal < t.Warning && t.Warning < t.Danger) {
		return fmt.Errorf("%w: thresholds must be strictly increasing (safe<normal<warning<danger), got %d/%d/%d/%d",
			ErrInvalidInput, t.Safe, t.Normal, t.Warning, t.Danger)
	}
	return nil
}

// ThresholdsPatch 注册时提交的阈值，未填字段由默认值补齐
type ThresholdsPatch struct {
	Safe    *int `json:"safe,omitempty"`
	Normal  *int `json:"normal,omitempty"`
	Warning *int `json:"warning,omitempty"`
	Danger  *int `json:"danger,omitempty"`
}

// Apply 用默认值补齐缺失字段（只在写入时执行一次）
func (p ThresholdsPatch) Apply(defaults Thresholds) Thresholds {
	out := defaults
	if p.Safe != nil {
		out.Safe = *p.Safe
	}
	if p.Normal != nil {
		out.Normal = *p.Normal
	}
	if p.Warning != nil {
		out.Warning = *p.Warning
	}
	if p.Danger != nil {
		out.Danger = *p.Danger
	}
	return out
}
