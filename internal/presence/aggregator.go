// Package presence 窗口人数统计与邻居趋势预测
package presence

import (
	"context"
	"time"

	"wisefido-crowd/internal/domain"

	"golang.org/x/sync/errgroup"
)

// Counter 观测存储的只读计数接口（repository.ObservationRepository 实现）
type Counter interface {
	DistinctCount(ctx context.Context, sensorIDs []string, w domain.Window) (map[string]int, error)
}

// Aggregator 计算当前窗口与上一窗口的去重人数
type Aggregator struct {
	counter  Counter
	window   time.Duration
	parallel bool
}

// NewAggregator 创建聚合器；两个窗口的查询并发执行
func NewAggregator(counter Counter, window time.Duration) *Aggregator {
	return &Aggregator{counter: counter, window: window, parallel: true}
}

// Sequential 返回串行查询的聚合器（用于事务内，*sql.Tx 不能并发使用）
func (a *Aggregator) Sequential() *Aggregator {
	cp := *a
	cp.parallel = false
	return &cp
}

// Window 窗口长度
func (a *Aggregator) Window() time.Duration {
	return a.window
}

// Aggregate 批量统计：每个 id 都有结果，无观测记为 0
func (a *Aggregator) Aggregate(ctx context.Context, sensorIDs []string, now time.Time) (map[string]domain.Counts, error) {
	out := make(map[string]domain.Counts, len(sensorIDs))
	if len(sensorIDs) == 0 {
		return out, nil
	}

	current := domain.WindowAt(now, a.window, 0)
	previous := domain.WindowAt(now, a.window, 1)

	var curCounts, prevCounts map[string]int
	if a.parallel {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			curCounts, err = a.counter.DistinctCount(gctx, sensorIDs, current)
			return err
		})
		g.Go(func() error {
			var err error
			prevCounts, err = a.counter.DistinctCount(gctx, sensorIDs, previous)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		var err error
		if curCounts, err = a.counter.DistinctCount(ctx, sensorIDs, current); err != nil {
			return nil, err
		}
		if prevCounts, err = a.counter.DistinctCount(ctx, sensorIDs, previous); err != nil {
			return nil, err
		}
	}

	for _, id := range sensorIDs {
		out[id] = domain.Counts{Current: curCounts[id], Previous: prevCounts[id]}
	}
	return out, nil
}

// AggregateOne 单个传感器
func (a *Aggregator) AggregateOne(ctx context.Context, sensorID string, now time.Time) (domain.Counts, error) {
	m, err := a.Aggregate(ctx, []string{sensorID}, now)
	if err != nil {
		return domain.Counts{}, err
	}
	return m[sensorID], nil
}
