package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wisefido-crowd/internal/domain"

	"github.com/google/uuid"
)

// MemoryStore 数据库未启用时的内存实现（单进程，重启丢失）
//
// 所有操作共用一把锁；WithTx 持锁执行 fn，并通过 undo 日志回滚。
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	sensors    map[string]*domain.Sensor
	thresholds map[string]domain.Thresholds
	sightings  map[string]map[sightingKey]struct{}
	snapshots  map[string][]domain.Snapshot
	alerts     []domain.Alert
	webhooks   map[string]domain.Webhook
	seq        int64
}

type sightingKey struct {
	token domain.Token
	at    int64
}

// NewMemoryStore 创建内存 Store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		sensors:    make(map[string]*domain.Sensor),
		thresholds: make(map[string]domain.Thresholds),
		sightings:  make(map[string]map[sightingKey]struct{}),
		snapshots:  make(map[string][]domain.Snapshot),
		webhooks:   make(map[string]domain.Webhook),
	}}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Sensors() SensorRepository           { return &memRepo{store: s} }
func (s *MemoryStore) Observations() ObservationRepository { return &memRepo{store: s} }
func (s *MemoryStore) Snapshots() SnapshotRepository       { return &memRepo{store: s} }
func (s *MemoryStore) Alerts() AlertRepository             { return &memRepo{store: s} }
func (s *MemoryStore) Webhooks() WebhookRepository         { return &memRepo{store: s} }

// WithTx fn 返回错误时按逆序执行 undo
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if err := ctx.Err(); err != nil {
		return domain.Unavailable("begin tx", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{state: s.state}
	if err := fn(tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	if err := ctx.Err(); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return domain.Unavailable("commit tx", err)
	}
	return nil
}

// memTx 事务视图：调用方已持锁
type memTx struct {
	state *memState
	undo  []func()
}

var _ Store = (*memTx)(nil)

func (t *memTx) Sensors() SensorRepository           { return &memRepo{tx: t} }
func (t *memTx) Observations() ObservationRepository { return &memRepo{tx: t} }
func (t *memTx) Snapshots() SnapshotRepository       { return &memRepo{tx: t} }
func (t *memTx) Alerts() AlertRepository             { return &memRepo{tx: t} }
func (t *memTx) Webhooks() WebhookRepository         { return &memRepo{tx: t} }

func (t *memTx) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}

// memRepo 非事务时每次调用单独加锁；事务内直接操作 state 并记录 undo
type memRepo struct {
	store *MemoryStore
	tx    *memTx
}

func (r *memRepo) run(fn func(st *memState, onUndo func(func()))) {
	if r.tx != nil {
		fn(r.tx.state, func(u func()) { r.tx.undo = append(r.tx.undo, u) })
		return
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	fn(r.store.state, func(func()) {})
}

func (r *memRepo) CreateSensor(ctx context.Context, s *domain.Sensor) error {
	if s == nil || s.SensorID == "" {
		return fmt.Errorf("%w: sensor_id is required", domain.ErrInvalidInput)
	}
	var err error
	r.run(func(st *memState, onUndo func(func())) {
		if _, ok := st.sensors[s.SensorID]; ok {
			err = fmt.Errorf("%w: sensor %s already registered", domain.ErrConflict, s.SensorID)
			return
		}
		s.CreatedAt = time.Now().UTC()
		s.Neighbors = []string{}
		cp := *s
		cp.Neighbors = []string{}
		st.sensors[s.SensorID] = &cp
		id := s.SensorID
		onUndo(func() { delete(st.sensors, id) })
	})
	return err
}

func (r *memRepo) GetSensor(ctx context.Context, sensorID string) (*domain.Sensor, error) {
	var (
		out *domain.Sensor
		err error
	)
	r.run(func(st *memState, _ func(func())) {
		s, ok := st.sensors[sensorID]
		if !ok {
			err = fmt.Errorf("%w: %s", domain.ErrDeviceNotFound, sensorID)
			return
		}
		out = copySensor(s)
	})
	return out, err
}

func (r *memRepo) ListSensors(ctx context.Context) ([]*domain.Sensor, error) {
	var out []*domain.Sensor
	r.run(func(st *memState, _ func(func())) {
		for _, s := range st.sensors {
			out = append(out, copySensor(s))
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out, nil
}

func (r *memRepo) AddNeighbor(ctx context.Context, sensorID, neighborID string) error {
	var err error
	r.run(func(st *memState, onUndo func(func())) {
		s, ok := st.sensors[sensorID]
		if !ok {
			err = fmt.Errorf("%w: %s", domain.ErrDeviceNotFound, sensorID)
			return
		}
		if _, ok := st.sensors[neighborID]; !ok {
			err = fmt.Errorf("%w: %s -> %s", domain.ErrDeviceNotFound, sensorID, neighborID)
			return
		}
		for _, n := range s.Neighbors {
			if n == neighborID {
				err = fmt.Errorf("%w: %s -> %s already exists", domain.ErrConflict, sensorID, neighborID)
				return
			}
		}
		prev := s.Neighbors
		s.Neighbors = append(append([]string{}, prev...), neighborID)
		onUndo(func() { s.Neighbors = prev })
	})
	return err
}

func (r *memRepo) RemoveNeighbor(ctx context.Context, sensorID, neighborID string) error {
	var err error
	r.run(func(st *memState, onUndo func(func())) {
		s, ok := st.sensors[sensorID]
		if !ok {
			err = fmt.Errorf("%w: %s", domain.ErrDeviceNotFound, sensorID)
			return
		}
		next := make([]string, 0, len(s.Neighbors))
		for _, n := range s.Neighbors {
			if n != neighborID {
				next = append(next, n)
			}
		}
		if len(next) == len(s.Neighbors) {
			err = fmt.Errorf("%w: neighbor %s -> %s", domain.ErrNotFound, sensorID, neighborID)
			return
		}
		prev := s.Neighbors
		s.Neighbors = next
		onUndo(func() { s.Neighbors = prev })
	})
	return err
}

func (r *memRepo) GetThresholds(ctx context.Context, sensorID string) (*domain.Thresholds, error) {
	var (
		out *domain.Thresholds
		err error
	)
	r.run(func(st *memState, _ func(func())) {
		t, ok := st.thresholds[sensorID]
		if !ok {
			err = fmt.Errorf("%w: sensor %s", domain.ErrThresholdsNotConfigured, sensorID)
			return
		}
		out = &t
	})
	return out, err
}

func (r *memRepo) UpsertThresholds(ctx context.Context, sensorID string, t domain.Thresholds) error {
	var err error
	r.run(func(st *memState, onUndo func(func())) {
		if _, ok := st.sensors[sensorID]; !ok {
			err = fmt.Errorf("%w: %s", domain.ErrDeviceNotFound, sensorID)
			return
		}
		prev, had := st.thresholds[sensorID]
		st.thresholds[sensorID] = t
		onUndo(func() {
			if had {
				st.thresholds[sensorID] = prev
			} else {
				delete(st.thresholds, sensorID)
			}
		})
	})
	return err
}

func (r *memRepo) Record(ctx context.Context, sensorID string, at time.Time, readings []Reading) error {
	readings = dedupeReadings(readings)
	if len(readings) == 0 {
		return nil
	}
	r.run(func(st *memState, onUndo func(func())) {
		set, ok := st.sightings[sensorID]
		if !ok {
			set = make(map[sightingKey]struct{})
			st.sightings[sensorID] = set
		}
		for _, rd := range readings {
			k := sightingKey{token: rd.Token, at: at.UnixNano()}
			if _, ok := set[k]; ok {
				continue
			}
			set[k] = struct{}{}
			onUndo(func() { delete(set, k) })
		}
	})
	return nil
}

func (r *memRepo) DistinctCount(ctx context.Context, sensorIDs []string, w domain.Window) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Unavailable("distinct count", err)
	}
	out := make(map[string]int, len(sensorIDs))
	r.run(func(st *memState, _ func(func())) {
		for _, id := range sensorIDs {
			seen := make(map[domain.Token]struct{})
			for k := range st.sightings[id] {
				if w.Contains(time.Unix(0, k.at)) {
					seen[k.token] = struct{}{}
				}
			}
			out[id] = len(seen)
		}
	})
	return out, nil
}

func (r *memRepo) CreateSnapshot(ctx context.Context, s *domain.Snapshot) error {
	if s.SnapshotID == "" {
		s.SnapshotID = uuid.NewString()
	}
	r.run(func(st *memState, onUndo func(func())) {
		cp := *s
		cp.Tokens = append([]domain.Token{}, s.Tokens...)
		prev := st.snapshots[s.SensorID]
		list := append(append([]domain.Snapshot{}, prev...), cp)
		sort.SliceStable(list, func(i, j int) bool { return list[i].TakenAt.Before(list[j].TakenAt) })
		st.snapshots[s.SensorID] = list
		id := s.SensorID
		onUndo(func() { st.snapshots[id] = prev })
	})
	return nil
}

func (r *memRepo) ListSnapshots(ctx context.Context, sensorID string, limit int) ([]domain.Snapshot, error) {
	out := []domain.Snapshot{}
	r.run(func(st *memState, _ func(func())) {
		list := st.snapshots[sensorID]
		if limit > 0 && len(list) > limit {
			list = list[len(list)-limit:]
		}
		out = append(out, list...)
	})
	return out, nil
}

func (r *memRepo) LatestSnapshot(ctx context.Context, sensorID string, since, until time.Time) (*domain.Snapshot, error) {
	var out *domain.Snapshot
	r.run(func(st *memState, _ func(func())) {
		list := st.snapshots[sensorID]
		for i := len(list) - 1; i >= 0; i-- {
			s := list[i]
			if s.TakenAt.After(until) {
				continue
			}
			if !s.TakenAt.Before(since) {
				out = &s
			}
			return
		}
	})
	if out == nil {
		return nil, fmt.Errorf("%w: sensor %s", domain.ErrNoRecentData, sensorID)
	}
	return out, nil
}

func (r *memRepo) CreateAlert(ctx context.Context, a *domain.Alert) error {
	r.run(func(st *memState, onUndo func(func())) {
		prev := st.alerts
		st.alerts = append(append([]domain.Alert{}, prev...), *a)
		onUndo(func() { st.alerts = prev })
	})
	return nil
}

func (r *memRepo) ListAlerts(ctx context.Context, sensorID string, limit int) ([]domain.Alert, error) {
	out := []domain.Alert{}
	r.run(func(st *memState, _ func(func())) {
		for i := len(st.alerts) - 1; i >= 0; i-- {
			if limit > 0 && len(out) >= limit {
				return
			}
			if sensorID == "" || st.alerts[i].SensorID == sensorID {
				out = append(out, st.alerts[i])
			}
		}
	})
	return out, nil
}

func (r *memRepo) CreateWebhook(ctx context.Context, w *domain.Webhook) error {
	if w.WebhookID == "" {
		w.WebhookID = uuid.NewString()
	}
	var err error
	r.run(func(st *memState, onUndo func(func())) {
		if _, ok := st.sensors[w.SensorID]; !ok {
			err = fmt.Errorf("%w: %s", domain.ErrDeviceNotFound, w.SensorID)
			return
		}
		for _, existing := range st.webhooks {
			if existing.SensorID == w.SensorID && existing.URL == w.URL {
				err = fmt.Errorf("%w: webhook %s already subscribed for sensor %s", domain.ErrConflict, w.URL, w.SensorID)
				return
			}
		}
		st.seq++
		w.CreatedAt = time.Now().UTC().Add(time.Duration(st.seq))
		st.webhooks[w.WebhookID] = *w
		id := w.WebhookID
		onUndo(func() { delete(st.webhooks, id) })
	})
	return err
}

func (r *memRepo) ListWebhooks(ctx context.Context, sensorID string) ([]domain.Webhook, error) {
	out := []domain.Webhook{}
	r.run(func(st *memState, _ func(func())) {
		for _, w := range st.webhooks {
			if sensorID == "" || w.SensorID == sensorID {
				out = append(out, w)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].WebhookID < out[j].WebhookID
	})
	return out, nil
}

func (r *memRepo) DeleteWebhook(ctx context.Context, webhookID string) error {
	var err error
	r.run(func(st *memState, onUndo func(func())) {
		w, ok := st.webhooks[webhookID]
		if !ok {
			err = fmt.Errorf("%w: webhook %s", domain.ErrNotFound, webhookID)
			return
		}
		delete(st.webhooks, webhookID)
		onUndo(func() { st.webhooks[webhookID] = w })
	})
	return err
}

func copySensor(s *domain.Sensor) *domain.Sensor {
	cp := *s
	cp.Neighbors = append([]string{}, s.Neighbors...)
	return &cp
}
