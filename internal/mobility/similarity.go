// Package mobility 计算两组 token 的集合相似度与流动性
package mobility

import (
	"time"

	"wisefido-crowd/internal/domain"
)

// Result 相似度结果
type Result struct {
	IntersectionSize int     `json:"intersection_size"`
	UnionSize        int     `json:"union_size"`
	Jaccard          float64 `json:"jaccard"`
	Mobility         float64 `json:"mobility"`
}

// Similarity Jaccard = |A∩B| / |A∪B|，mobility = 1 - jaccard。
// 两个空集定义为“没有变化”：jaccard=1，mobility=0。输入中的重复 token 只计一次。
func Similarity(a, b []domain.Token) Result {
	setA := toSet(a)
	setB := toSet(b)

	// 遍历较小的集合
	small, large := setA, setB
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for t := range small {
		if _, ok := large[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter

	if union == 0 {
		return Result{Jaccard: 1, Mobility: 0}
	}
	j := float64(inter) / float64(union)
	return Result{
		IntersectionSize: inter,
		UnionSize:        union,
		Jaccard:          j,
		Mobility:         1 - j,
	}
}

func toSet(tokens []domain.Token) map[domain.Token]struct{} {
	s := make(map[domain.Token]struct{}, len(tokens))
	for _, t := range tokens {
		s[t] = struct{}{}
	}
	return s
}

// TrendPoint 相邻两个快照之间的流动性
type TrendPoint struct {
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	FromCount int       `json:"from_count"`
	ToCount   int       `json:"to_count"`
	Jaccard   float64   `json:"jaccard"`
	Mobility  float64   `json:"mobility"`
}

// Trend 按时间升序的快照序列，逐个与前一个比较（n 个快照产生 n-1 个点）
func Trend(snapshots []domain.Snapshot) []TrendPoint {
	if len(snapshots) < 2 {
		return []TrendPoint{}
	}
	points := make([]TrendPoint, 0, len(snapshots)-1)
	for i := 1; i < len(snapshots); i++ {
		prev, cur := snapshots[i-1], snapshots[i]
		r := Similarity(prev.Tokens, cur.Tokens)
		points = append(points, TrendPoint{
			From:      prev.TakenAt,
			To:        cur.TakenAt,
			FromCount: len(prev.Tokens),
			ToCount:   len(cur.Tokens),
			Jaccard:   r.Jaccard,
			Mobility:  r.Mobility,
		})
	}
	return points
}
