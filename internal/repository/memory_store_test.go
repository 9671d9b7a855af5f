package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"wisefido-crowd/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSensor(t *testing.T, s *MemoryStore, id string) {
	t.Helper()
	require.NoError(t, s.Sensors().CreateSensor(context.Background(), &domain.Sensor{SensorID: id}))
}

func TestMemoryStore_SensorLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedSensor(t, s, "b")
	seedSensor(t, s, "a")

	err := s.Sensors().CreateSensor(ctx, &domain.Sensor{SensorID: "a"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	require.NoError(t, s.Sensors().AddNeighbor(ctx, "a", "b"))
	assert.ErrorIs(t, s.Sensors().AddNeighbor(ctx, "a", "b"), domain.ErrConflict)
	assert.ErrorIs(t, s.Sensors().AddNeighbor(ctx, "a", "zz"), domain.ErrNotFound)

	got, err := s.Sensors().GetSensor(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, got.Neighbors)

	list, err := s.Sensors().ListSensors(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].SensorID)

	require.NoError(t, s.Sensors().RemoveNeighbor(ctx, "a", "b"))
	assert.ErrorIs(t, s.Sensors().RemoveNeighbor(ctx, "a", "b"), domain.ErrNotFound)
}

func TestMemoryStore_DistinctCountHonoursWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	w := time.Minute

	require.NoError(t, s.Observations().Record(ctx, "s-1", now, []Reading{{Token: "a"}, {Token: "b"}, {Token: "a"}}))
	require.NoError(t, s.Observations().Record(ctx, "s-1", now.Add(-30*time.Second), []Reading{{Token: "a"}}))
	require.NoError(t, s.Observations().Record(ctx, "s-1", now.Add(-w), []Reading{{Token: "c"}}))

	cur, err := s.Observations().DistinctCount(ctx, []string{"s-1", "s-2"}, domain.WindowAt(now, w, 0))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"s-1": 2, "s-2": 0}, cur)

	prev, err := s.Observations().DistinctCount(ctx, []string{"s-1"}, domain.WindowAt(now, w, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, prev["s-1"])
}

func TestMemoryStore_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedSensor(t, s, "s-1")
	now := time.Now().UTC()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx Store) error {
		if err := tx.Observations().Record(ctx, "s-1", now, []Reading{{Token: "a"}}); err != nil {
			return err
		}
		if err := tx.Snapshots().CreateSnapshot(ctx, &domain.Snapshot{SensorID: "s-1", TakenAt: now, Tokens: []domain.Token{"a"}}); err != nil {
			return err
		}
		if err := tx.Alerts().CreateAlert(ctx, &domain.Alert{AlertID: "x", SensorID: "s-1"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	counts, err := s.Observations().DistinctCount(ctx, []string{"s-1"}, domain.WindowAt(now, time.Minute, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, counts["s-1"])

	snaps, err := s.Snapshots().ListSnapshots(ctx, "s-1", 10)
	require.NoError(t, err)
	assert.Empty(t, snaps)

	alerts, err := s.Alerts().ListAlerts(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestMemoryStore_WithTxCommits(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedSensor(t, s, "s-1")

	err := s.WithTx(ctx, func(tx Store) error {
		return tx.Sensors().UpsertThresholds(ctx, "s-1", domain.Thresholds{Safe: 1, Normal: 2, Warning: 3, Danger: 4})
	})
	require.NoError(t, err)

	th, err := s.Sensors().GetThresholds(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, 4, th.Danger)
}

func TestMemoryStore_Snapshots(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Snapshots().CreateSnapshot(ctx, &domain.Snapshot{
			SensorID: "s-1",
			TakenAt:  t0.Add(time.Duration(i) * time.Minute),
			Tokens:   []domain.Token{domain.Token(rune('a' + i))},
		}))
	}

	snaps, err := s.Snapshots().ListSnapshots(ctx, "s-1", 2)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, t0.Add(2*time.Minute), snaps[0].TakenAt)
	assert.Equal(t, t0.Add(3*time.Minute), snaps[1].TakenAt)

	latest, err := s.Snapshots().LatestSnapshot(ctx, "s-1", t0.Add(2*time.Minute), t0.Add(150*time.Second))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(2*time.Minute), latest.TakenAt)

	_, err = s.Snapshots().LatestSnapshot(ctx, "s-1", t0.Add(10*time.Minute), t0.Add(11*time.Minute))
	assert.ErrorIs(t, err, domain.ErrNoRecentData)
}

func TestMemoryStore_Webhooks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedSensor(t, s, "s-1")

	wh := &domain.Webhook{SensorID: "s-1", URL: "http://example.test/hook"}
	require.NoError(t, s.Webhooks().CreateWebhook(ctx, wh))
	assert.NotEmpty(t, wh.WebhookID)

	err := s.Webhooks().CreateWebhook(ctx, &domain.Webhook{SensorID: "s-1", URL: "http://example.test/hook"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	list, err := s.Webhooks().ListWebhooks(ctx, "s-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.Webhooks().DeleteWebhook(ctx, wh.WebhookID))
	assert.ErrorIs(t, s.Webhooks().DeleteWebhook(ctx, wh.WebhookID), domain.ErrNotFound)
}
