package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wisefido-crowd/internal/domain"
	"wisefido-crowd/internal/redact"
	"wisefido-crowd/internal/repository"
	"wisefido-crowd/internal/service"
	"wisefido-crowd/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type envelope struct {
	Code    int             `json:"code"`
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	logger := zap.NewNop()
	st := repository.NewMemoryStore()

	crowd := service.NewCrowdService(st, redact.NewRedactor("salt"), nil, service.CrowdOptions{
		Window:          time.Minute,
		StorageTimeout:  time.Second,
		HistoryMaxLimit: 100,
	}, logger)
	sensors := service.NewSensorService(st, store.NewMemoryKV(), domain.Thresholds{Safe: 30, Normal: 50, Warning: 80, Danger: 120}, logger)

	crowdHandler := NewCrowdHandler(crowd, logger)
	r := NewRouter(logger)
	r.RegisterCrowdRoutes(crowdHandler)
	r.RegisterSensorRoutes(NewSensorHandler(sensors, crowdHandler, logger))
	r.RegisterHealthRoutes(NewHealthHandler(map[string]Pinger{
		"database": PingerFunc(func(ctx context.Context) error { return nil }),
	}, logger))
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func register(t *testing.T, h http.Handler, id string) {
	t.Helper()
	rec, env := do(t, h, http.MethodPost, "/crowd/api/v1/sensors", map[string]any{"sensor_id": id, "name": id})
	require.Equal(t, http.StatusCreated, rec.Code, env.Message)
}

func TestIngestEndpoint(t *testing.T) {
	r := newTestRouter(t)
	register(t, r, "gate-a")

	ids := make([]string, 85)
	for i := range ids {
		ids[i] = fmt.Sprintf("aa:bb:cc:dd:%02x:%02x", i/256, i%256)
	}
	now := time.Now().Unix()
	rec, env := do(t, r, http.MethodPost, "/crowd/api/v1/ingest", map[string]any{
		"sensor_id":   "gate-a",
		"identifiers": ids,
		"at":          now,
	})
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	assert.Equal(t, ResultSuccess, env.Code)

	var resp struct {
		SensorID       string `json:"sensor_id"`
		CurrentCount   int    `json:"current_count"`
		PreviousCount  int    `json:"previous_count"`
		Severity       string `json:"severity"`
		AlertTriggered bool   `json:"alert_triggered"`
		WindowSeconds  int    `json:"window_length_seconds"`
		Neighbors      []struct {
			ParticipantID string `json:"participant_id"`
			Predicted     int    `json:"predicted"`
		} `json:"neighbors"`
	}
	require.NoError(t, json.Unmarshal(env.Result, &resp))
	assert.Equal(t, 85, resp.CurrentCount)
	assert.Equal(t, "warning", resp.Severity)
	assert.True(t, resp.AlertTriggered)
	assert.Equal(t, 60, resp.WindowSeconds)
	require.Len(t, resp.Neighbors, 1)
	assert.Equal(t, 170, resp.Neighbors[0].Predicted)

	rec, env = do(t, r, http.MethodGet, "/crowd/api/v1/sensors/gate-a/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Message)

	rec, env = do(t, r, http.MethodGet, "/crowd/api/v1/alerts?sensor_id=gate-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var alerts []domain.Alert
	require.NoError(t, json.Unmarshal(env.Result, &alerts))
	assert.Len(t, alerts, 1)
}

func TestIngestEndpoint_ErrorStatuses(t *testing.T) {
	r := newTestRouter(t)

	rec, env := do(t, r, http.MethodPost, "/crowd/api/v1/ingest", map[string]any{"sensor_id": "ghost", "identifiers": []string{"aa"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ResultError, env.Code)

	register(t, r, "gate-a")
	rec, _ = do(t, r, http.MethodPost, "/crowd/api/v1/ingest", map[string]any{"sensor_id": "gate-a", "identifiers": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/crowd/api/v1/ingest", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rec, _ = do(t, r, http.MethodGet, "/crowd/api/v1/ingest", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSensorEndpoints(t *testing.T) {
	r := newTestRouter(t)
	register(t, r, "a")
	register(t, r, "b")

	rec, _ := do(t, r, http.MethodPost, "/crowd/api/v1/sensors", map[string]any{"sensor_id": "a"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, env := do(t, r, http.MethodPut, "/crowd/api/v1/sensors/a/thresholds", map[string]any{"danger": 200})
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	var th domain.Thresholds
	require.NoError(t, json.Unmarshal(env.Result, &th))
	assert.Equal(t, 200, th.Danger)

	rec, _ = do(t, r, http.MethodPut, "/crowd/api/v1/sensors/a/thresholds", map[string]any{"normal": 500})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, r, http.MethodPost, "/crowd/api/v1/sensors/a/neighbors", map[string]any{"neighbor_id": "b"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec, _ = do(t, r, http.MethodPost, "/crowd/api/v1/sensors/a/neighbors", map[string]any{"neighbor_id": "a"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = do(t, r, http.MethodGet, "/crowd/api/v1/sensors/a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sensor struct {
		SensorID  string   `json:"sensor_id"`
		Neighbors []string `json:"neighbors"`
	}
	require.NoError(t, json.Unmarshal(env.Result, &sensor))
	assert.Equal(t, []string{"b"}, sensor.Neighbors)

	rec, _ = do(t, r, http.MethodDelete, "/crowd/api/v1/sensors/a/neighbors/b", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = do(t, r, http.MethodPost, "/crowd/api/v1/sensors/a/webhooks", map[string]any{"url": "https://example.test/hook"})
	require.Equal(t, http.StatusCreated, rec.Code, env.Message)
	var wh domain.Webhook
	require.NoError(t, json.Unmarshal(env.Result, &wh))

	rec, _ = do(t, r, http.MethodDelete, "/crowd/api/v1/webhooks/"+wh.WebhookID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, r, http.MethodDelete, "/crowd/api/v1/webhooks/"+wh.WebhookID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, r, http.MethodGet, "/crowd/api/v1/sensors/a/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMobilityEndpoints(t *testing.T) {
	r := newTestRouter(t)
	register(t, r, "a")
	register(t, r, "b")

	now := time.Now().Unix()
	for _, tc := range []struct {
		id  string
		at  int64
		ids []string
	}{
		{"a", now - 20, []string{"x", "y", "z"}},
		{"a", now - 10, []string{"y", "z", "w"}},
		{"b", now - 5, []string{"y", "z", "w"}},
	} {
		rec, env := do(t, r, http.MethodPost, "/crowd/api/v1/ingest", map[string]any{"sensor_id": tc.id, "identifiers": tc.ids, "at": tc.at})
		require.Equal(t, http.StatusOK, rec.Code, env.Message)
	}

	rec, env := do(t, r, http.MethodGet, "/crowd/api/v1/mobility/history?sensor_id=a&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var trends []service.SensorTrend
	require.NoError(t, json.Unmarshal(env.Result, &trends))
	require.Len(t, trends, 1)
	require.Len(t, trends[0].Points, 1)
	assert.Equal(t, 0.5, trends[0].Points[0].Mobility)

	rec, _ = do(t, r, http.MethodGet, "/crowd/api/v1/mobility/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = do(t, r, http.MethodGet, "/crowd/api/v1/mobility/cross?sensor_a=a&sensor_b=b&window_seconds=60", nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	var cross service.CrossResponse
	require.NoError(t, json.Unmarshal(env.Result, &cross))
	assert.Equal(t, 3, cross.CommonCount)
	assert.Equal(t, 1.0, cross.Jaccard)

	rec, _ = do(t, r, http.MethodGet, "/crowd/api/v1/mobility/cross?sensor_a=a&sensor_b=a", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/crowd/api/v1/mobility/history/export?sensor_id=a", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "mobility-history-a.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Mobility")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, MobilityExportHeader, rows[0])
	assert.Equal(t, "a", rows[1][0])
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t)
	rec, env := do(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ResultSuccess, env.Code)

	down := NewRouter(zap.NewNop())
	down.RegisterHealthRoutes(NewHealthHandler(map[string]Pinger{
		"redis": PingerFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
	}, zap.NewNop()))
	rec, _ = do(t, down, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWriteError_HidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, zap.NewNop(), "Op", domain.Unavailable("distinct count", errors.New("pq: password authentication failed")))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = httptest.NewRecorder()
	writeError(rec, zap.NewNop(), "Op", domain.ErrThresholdsNotConfigured)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
