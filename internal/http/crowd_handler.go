package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"wisefido-crowd/internal/domain"
	"wisefido-crowd/internal/service"

	"go.uber.org/zap"
)

// CrowdHandler 上报与人群分析 Handler
type CrowdHandler struct {
	crowdService service.CrowdService
	logger       *zap.Logger
}

// NewCrowdHandler 创建 CrowdHandler
func NewCrowdHandler(crowdService service.CrowdService, logger *zap.Logger) *CrowdHandler {
	return &CrowdHandler{
		crowdService: crowdService,
		logger:       logger,
	}
}

// ingestBody POST /crowd/api/v1/ingest 请求体
type ingestBody struct {
	SensorID    string   `json:"sensor_id"`
	Identifiers []string `json:"identifiers"`
	Tokenized   bool     `json:"tokenized"`
	RSSI        []int    `json:"rssi,omitempty"`
	At          *int64   `json:"at,omitempty"` // unix 秒
}

// Ingest 上报一批观测
func (h *CrowdHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var body ingestBody
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeError(w, h.logger, "Ingest", err)
		return
	}

	req := service.IngestRequest{
		SensorID:    body.SensorID,
		Identifiers: body.Identifiers,
		Tokenized:   body.Tokenized,
		RSSI:        body.RSSI,
	}
	if body.At != nil {
		at := time.Unix(*body.At, 0).UTC()
		req.At = &at
	}

	resp, err := h.crowdService.Ingest(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, "Ingest", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}

// Latest GET /crowd/api/v1/sensors/{id}/latest
func (h *CrowdHandler) Latest(w http.ResponseWriter, r *http.Request, sensorID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	resp, err := h.crowdService.Latest(r.Context(), sensorID)
	if err != nil {
		writeError(w, h.logger, "Latest", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}

// History GET /crowd/api/v1/mobility/history?sensor_id=&limit=
func (h *CrowdHandler) History(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	trends, err := h.history(r)
	if err != nil {
		writeError(w, h.logger, "History", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(trends))
}

// ExportHistory GET /crowd/api/v1/mobility/history/export?sensor_id=&limit= 导出 xlsx
func (h *CrowdHandler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	trends, err := h.history(r)
	if err != nil {
		writeError(w, h.logger, "ExportHistory", err)
		return
	}

	data, err := GenerateMobilityExport(trends)
	if err != nil {
		writeError(w, h.logger, "ExportHistory", err)
		return
	}

	filename := "mobility-history.xlsx"
	if id := r.URL.Query().Get("sensor_id"); id != "" {
		filename = fmt.Sprintf("mobility-history-%s.xlsx", id)
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *CrowdHandler) history(r *http.Request) ([]service.SensorTrend, error) {
	limit, err := parseQueryInt(r, "limit", 0)
	if err != nil {
		return nil, err
	}
	return h.crowdService.History(r.Context(), service.HistoryRequest{
		SensorID: r.URL.Query().Get("sensor_id"),
		Limit:    limit,
	})
}

// Cross GET /crowd/api/v1/mobility/cross?sensor_a=&sensor_b=&window_seconds=
func (h *CrowdHandler) Cross(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	windowSeconds, err := parseQueryInt(r, "window_seconds", 0)
	if err != nil {
		writeError(w, h.logger, "Cross", err)
		return
	}

	resp, err := h.crowdService.CrossSimilarity(r.Context(), service.CrossRequest{
		SensorA:       q.Get("sensor_a"),
		SensorB:       q.Get("sensor_b"),
		WindowSeconds: windowSeconds,
	})
	if err != nil {
		writeError(w, h.logger, "Cross", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}

// ListAlerts GET /crowd/api/v1/alerts?sensor_id=&limit=
func (h *CrowdHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit, err := parseQueryInt(r, "limit", 0)
	if err != nil {
		writeError(w, h.logger, "ListAlerts", err)
		return
	}

	alerts, err := h.crowdService.ListAlerts(r.Context(), service.ListAlertsRequest{
		SensorID: r.URL.Query().Get("sensor_id"),
		Limit:    limit,
	})
	if err != nil {
		writeError(w, h.logger, "ListAlerts", err)
		return
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	writeJSON(w, http.StatusOK, Ok(alerts))
}
