package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wisefido-crowd/internal/domain"
	"wisefido-crowd/internal/evaluator"
	rediscommon "wisefido-crowd/internal/redis"
	"wisefido-crowd/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWebhooks struct {
	hooks []domain.Webhook
	err   error
}

func (f *fakeWebhooks) ListWebhooks(ctx context.Context, sensorID string) ([]domain.Webhook, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Webhook
	for _, h := range f.hooks {
		if h.SensorID == sensorID {
			out = append(out, h)
		}
	}
	return out, nil
}

func testDispatcher(hooks WebhookLister, kv store.KV) *Dispatcher {
	return NewDispatcher(hooks, kv, DispatcherConfig{
		Timeout:      time.Second,
		RetryCount:   2,
		RetryWait:    time.Millisecond,
		RetryMaxWait: 5 * time.Millisecond,
		StatusTTL:    time.Hour,
		ReadBlock:    time.Millisecond,
	}, zap.NewNop())
}

func samplePayload() evaluator.AlertPayload {
	return evaluator.AlertPayload{
		AlertID:       "alert-1",
		SensorID:      "gate-a",
		Severity:      "danger",
		Count:         215,
		WindowSeconds: 60,
		Message:       "DANGER: 215 people detected near sensor gate-a",
		Timestamp:     time.Date(2024, 5, 1, 12, 0, 30, 0, time.UTC),
	}
}

func TestDeliver_PostsPayloadAndRecordsStatus(t *testing.T) {
	var got evaluator.AlertPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	kv := store.NewMemoryKV()
	d := testDispatcher(&fakeWebhooks{hooks: []domain.Webhook{{WebhookID: "wh-1", SensorID: "gate-a", URL: srv.URL}}}, kv)

	require.NoError(t, d.Deliver(context.Background(), samplePayload()))
	assert.Equal(t, "alert-1", got.AlertID)
	assert.Equal(t, 215, got.Count)

	st, err := d.LastStatus(context.Background(), "wh-1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.True(t, st.OK)
	assert.Equal(t, http.StatusNoContent, st.StatusCode)
	assert.Equal(t, "alert-1", st.AlertID)
}

func TestDeliver_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := testDispatcher(&fakeWebhooks{hooks: []domain.Webhook{{WebhookID: "wh-1", SensorID: "gate-a", URL: srv.URL}}}, store.NewMemoryKV())

	require.NoError(t, d.Deliver(context.Background(), samplePayload()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDeliver_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	kv := store.NewMemoryKV()
	d := testDispatcher(&fakeWebhooks{hooks: []domain.Webhook{{WebhookID: "wh-1", SensorID: "gate-a", URL: srv.URL}}}, kv)

	err := d.Deliver(context.Background(), samplePayload())
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	st, err := LastStatus(context.Background(), kv, "wh-1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.False(t, st.OK)
	assert.Equal(t, http.StatusBadRequest, st.StatusCode)
}

func TestDeliver_NoSubscribers(t *testing.T) {
	d := testDispatcher(&fakeWebhooks{}, store.NewMemoryKV())
	assert.NoError(t, d.Deliver(context.Background(), samplePayload()))

	st, err := d.LastStatus(context.Background(), "wh-unknown")
	require.NoError(t, err)
	assert.Nil(t, st)
}

type fakePublisher struct {
	mu   sync.Mutex
	got  []evaluator.AlertPayload
	err  error
	done chan struct{}
}

func (f *fakePublisher) Publish(ctx context.Context, p evaluator.AlertPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, p)
	if f.done != nil {
		f.done <- struct{}{}
	}
	return f.err
}

func TestQueue_EnqueueNeverBlocks(t *testing.T) {
	q := NewQueue(&fakePublisher{}, 1, zap.NewNop())

	assert.True(t, q.Enqueue(samplePayload()))
	assert.False(t, q.Enqueue(samplePayload()))
}

func TestQueue_RunPublishes(t *testing.T) {
	pub := &fakePublisher{done: make(chan struct{}, 1), err: errors.New("redis down")}
	q := NewQueue(pub, 4, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	require.True(t, q.Enqueue(samplePayload()))
	select {
	case <-pub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("payload was not published")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.got, 1)
	assert.Equal(t, "alert-1", pub.got[0].AlertID)
}

type fakeSource struct {
	mu      sync.Mutex
	batches [][]rediscommon.StreamMessage
	acked   []string
	cancel  context.CancelFunc
}

func (f *fakeSource) Read(ctx context.Context, count int64, block time.Duration) ([]rediscommon.StreamMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		f.cancel()
		return nil, context.Canceled
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeSource) Ack(ctx context.Context, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return nil
}

func TestConsume_DeliversAndAcks(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	data, err := json.Marshal(samplePayload())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{
		cancel: cancel,
		batches: [][]rediscommon.StreamMessage{{
			{Stream: "crowd:alerts", ID: "1-0", Values: map[string]interface{}{"data": string(data)}},
			{Stream: "crowd:alerts", ID: "2-0", Values: map[string]interface{}{"data": "not json"}},
			{Stream: "crowd:alerts", ID: "3-0", Values: map[string]interface{}{}},
		}},
	}

	d := testDispatcher(&fakeWebhooks{hooks: []domain.Webhook{{WebhookID: "wh-1", SensorID: "gate-a", URL: srv.URL}}}, store.NewMemoryKV())
	require.NoError(t, d.Consume(ctx, src))

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"1-0", "2-0", "3-0"}, src.acked)
}
