package presence

import (
	"context"
	"sort"
	"time"

	"wisefido-crowd/internal/domain"
)

// Prediction 单个参与者的趋势预测
type Prediction struct {
	ParticipantID string `json:"participant_id"`
	Current       int    `json:"current"`
	Previous      int    `json:"previous"`
	Predicted     int    `json:"predicted"`
}

// Predictor 邻居趋势预测
type Predictor struct {
	agg *Aggregator
}

// NewPredictor 创建预测器
func NewPredictor(agg *Aggregator) *Predictor {
	return &Predictor{agg: agg}
}

// Predict 对 {sensor} ∪ neighbors 做一步线性外推，结果按参与者 id 索引
func (p *Predictor) Predict(ctx context.Context, sensor domain.Sensor, now time.Time) (map[string]Prediction, error) {
	ids := Participants(sensor)
	counts, err := p.agg.Aggregate(ctx, ids, now)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Prediction, len(ids))
	for _, id := range ids {
		c := counts[id]
		out[id] = Prediction{
			ParticipantID: id,
			Current:       c.Current,
			Previous:      c.Previous,
			Predicted:     Extrapolate(c.Current, c.Previous),
		}
	}
	return out, nil
}

// Participants 自身 + 邻居，去重，自身在首位
func Participants(sensor domain.Sensor) []string {
	ids := []string{sensor.SensorID}
	seen := map[string]struct{}{sensor.SensorID: {}}
	for _, n := range sensor.Neighbors {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		ids = append(ids, n)
	}
	return ids
}

// Extrapolate predicted = max(0, current + (current - previous))；人数不可能为负，不设上限
func Extrapolate(current, previous int) int {
	predicted := current + (current - previous)
	if predicted < 0 {
		return 0
	}
	return predicted
}

// Sorted 按参与者 id 排序输出
func Sorted(m map[string]Prediction) []Prediction {
	out := make([]Prediction, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}
