package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterCrowdRoutes 上报 / 流动性 / 报警
func (r *Router) RegisterCrowdRoutes(h *CrowdHandler) {
	r.Handle("/crowd/api/v1/ingest", h.Ingest)
	r.Handle("/crowd/api/v1/mobility/history", h.History)
	r.Handle("/crowd/api/v1/mobility/history/export", h.ExportHistory)
	r.Handle("/crowd/api/v1/mobility/cross", h.Cross)
	r.Handle("/crowd/api/v1/alerts", h.ListAlerts)
}

// RegisterSensorRoutes 传感器 / 阈值 / 邻居 / webhook；/sensors/{id}/latest 交给 CrowdHandler
func (r *Router) RegisterSensorRoutes(h *SensorHandler) {
	r.Handle("/crowd/api/v1/sensors", h.ServeHTTP)
	r.Handle("/crowd/api/v1/sensors/", h.ServeHTTP)
	r.Handle("/crowd/api/v1/webhooks", h.ServeWebhooks)
	r.Handle("/crowd/api/v1/webhooks/", h.ServeWebhooks)
}

// RegisterHealthRoutes 健康检查
func (r *Router) RegisterHealthRoutes(h *HealthHandler) {
	r.Handle("/health", h.Health)
}
