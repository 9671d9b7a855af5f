package httpapi

import (
	"net/http"

	"wisefido-crowd/internal/domain"
	"wisefido-crowd/internal/service"

	"go.uber.org/zap"
)

const (
	sensorsPrefix  = "/crowd/api/v1/sensors"
	webhooksPrefix = "/crowd/api/v1/webhooks"
)

// SensorHandler 传感器管理 Handler
type SensorHandler struct {
	sensorService service.SensorService
	crowd         *CrowdHandler
	logger        *zap.Logger
}

// NewSensorHandler 创建 SensorHandler；crowd 负责 /sensors/{id}/latest
func NewSensorHandler(sensorService service.SensorService, crowd *CrowdHandler, logger *zap.Logger) *SensorHandler {
	return &SensorHandler{
		sensorService: sensorService,
		crowd:         crowd,
		logger:        logger,
	}
}

// ServeHTTP 路由分发
//
//	GET    /sensors                         列表
//	POST   /sensors                         注册
//	GET    /sensors/{id}                    详情（含阈值）
//	GET    /sensors/{id}/latest             当前人数
//	GET    /sensors/{id}/thresholds         阈值
//	PUT    /sensors/{id}/thresholds         更新阈值
//	POST   /sensors/{id}/neighbors          添加邻居 {"neighbor_id"}
//	DELETE /sensors/{id}/neighbors/{nid}    删除邻居
//	GET    /sensors/{id}/webhooks           订阅列表
//	POST   /sensors/{id}/webhooks           订阅 {"url"}
func (h *SensorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, sensorsPrefix)

	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		h.ListSensors(w, r)
	case len(parts) == 0 && r.Method == http.MethodPost:
		h.RegisterSensor(w, r)
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.GetSensor(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "latest":
		h.crowd.Latest(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "thresholds" && r.Method == http.MethodGet:
		h.GetThresholds(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "thresholds" && r.Method == http.MethodPut:
		h.SetThresholds(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "neighbors" && r.Method == http.MethodPost:
		h.AddNeighbor(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "neighbors" && r.Method == http.MethodDelete:
		h.RemoveNeighbor(w, r, parts[0], parts[2])
	case len(parts) == 2 && parts[1] == "webhooks" && r.Method == http.MethodGet:
		h.ListWebhooks(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "webhooks" && r.Method == http.MethodPost:
		h.CreateWebhook(w, r, parts[0])
	default:
		writeJSON(w, http.StatusNotFound, Fail("not found"))
	}
}

// ServeWebhooks GET /webhooks（全部）与 DELETE /webhooks/{id}
func (h *SensorHandler) ServeWebhooks(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, webhooksPrefix)

	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		h.ListWebhooks(w, r, r.URL.Query().Get("sensor_id"))
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := h.sensorService.DeleteWebhook(r.Context(), parts[0]); err != nil {
			writeError(w, h.logger, "DeleteWebhook", err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]any{"webhook_id": parts[0], "deleted": true}))
	default:
		writeJSON(w, http.StatusNotFound, Fail("not found"))
	}
}

func (h *SensorHandler) ListSensors(w http.ResponseWriter, r *http.Request) {
	sensors, err := h.sensorService.ListSensors(r.Context())
	if err != nil {
		writeError(w, h.logger, "ListSensors", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"items": sensors, "total": len(sensors)}))
}

func (h *SensorHandler) RegisterSensor(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterSensorRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeError(w, h.logger, "RegisterSensor", err)
		return
	}
	detail, err := h.sensorService.RegisterSensor(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, "RegisterSensor", err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(detail))
}

func (h *SensorHandler) GetSensor(w http.ResponseWriter, r *http.Request, sensorID string) {
	detail, err := h.sensorService.GetSensor(r.Context(), sensorID)
	if err != nil {
		writeError(w, h.logger, "GetSensor", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(detail))
}

func (h *SensorHandler) GetThresholds(w http.ResponseWriter, r *http.Request, sensorID string) {
	t, err := h.sensorService.GetThresholds(r.Context(), sensorID)
	if err != nil {
		writeError(w, h.logger, "GetThresholds", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(t))
}

func (h *SensorHandler) SetThresholds(w http.ResponseWriter, r *http.Request, sensorID string) {
	var patch domain.ThresholdsPatch
	if err := readBodyJSON(r, maxBodyBytes, &patch); err != nil {
		writeError(w, h.logger, "SetThresholds", err)
		return
	}
	t, err := h.sensorService.SetThresholds(r.Context(), sensorID, patch)
	if err != nil {
		writeError(w, h.logger, "SetThresholds", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(t))
}

func (h *SensorHandler) AddNeighbor(w http.ResponseWriter, r *http.Request, sensorID string) {
	var body struct {
		NeighborID string `json:"neighbor_id"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeError(w, h.logger, "AddNeighbor", err)
		return
	}
	if err := h.sensorService.AddNeighbor(r.Context(), sensorID, body.NeighborID); err != nil {
		writeError(w, h.logger, "AddNeighbor", err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(map[string]any{"sensor_id": sensorID, "neighbor_id": body.NeighborID}))
}

func (h *SensorHandler) RemoveNeighbor(w http.ResponseWriter, r *http.Request, sensorID, neighborID string) {
	if err := h.sensorService.RemoveNeighbor(r.Context(), sensorID, neighborID); err != nil {
		writeError(w, h.logger, "RemoveNeighbor", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"sensor_id": sensorID, "neighbor_id": neighborID, "deleted": true}))
}

func (h *SensorHandler) ListWebhooks(w http.ResponseWriter, r *http.Request, sensorID string) {
	hooks, err := h.sensorService.ListWebhooks(r.Context(), sensorID)
	if err != nil {
		writeError(w, h.logger, "ListWebhooks", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(hooks))
}

func (h *SensorHandler) CreateWebhook(w http.ResponseWriter, r *http.Request, sensorID string) {
	var body struct {
		URL string `json:"url"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeError(w, h.logger, "CreateWebhook", err)
		return
	}
	wh, err := h.sensorService.CreateWebhook(r.Context(), sensorID, body.URL)
	if err != nil {
		writeError(w, h.logger, "CreateWebhook", err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(wh))
}
