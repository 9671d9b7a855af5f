package domain

import (
	"time"
)

// Token 原始标识（MAC）经单向哈希后的不透明值
type Token string

// Sighting 某 token 在某时刻被某传感器观测到
type Sighting struct {
	SensorID string
	Token    Token
	SeenAt   time.Time
	RSSI     *int // 信号强度，仅供参考，算法不使用
}

// Window 半开区间 (Start, End]：刚写入的 at==now 计入当前窗口，恰好落在 now-w 的计入上一窗口
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowAt 返回第 k 个窗口：(now-(k+1)w, now-kw]，k=0 为当前窗口，k=1 为上一窗口
func WindowAt(now time.Time, w time.Duration, k int) Window {
	end := now.Add(-time.Duration(k) * w)
	return Window{Start: end.Add(-w), End: end}
}

// Contains 判断时刻是否落在窗口内（不含 Start，含 End）
func (w Window) Contains(t time.Time) bool {
	return t.After(w.Start) && !t.After(w.End)
}

// Snapshot 一次上报批次中去重后的 token 集合
type Snapshot struct {
	SnapshotID string    `json:"snapshot_id"`
	SensorID   string    `json:"sensor_id"`
	TakenAt    time.Time `json:"taken_at"`
	Tokens     []Token   `json:"tokens"`
}

// Counts 单个参与者的当前 / 上一窗口计数
type Counts struct {
	Current  int `json:"current"`
	Previous int `json:"previous"`
}

// DedupeTokens 保序去重
func DedupeTokens(tokens []Token) []Token {
	seen := make(map[Token]struct{}, len(tokens))
	out := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
