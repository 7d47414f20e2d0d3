package httpapi

import (
	"net/http"
	"strings"

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

// HandleHandler 支持 http.Handler 接口（用于 /metrics 等）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterStatusRoutes 注册患者状态路由
func (r *Router) RegisterStatusRoutes(h *StatusHandler) {
	// GET /status/api/v1/patients/{id}/status
	// GET /status/api/v1/patients/{id}/status/export
	r.Handle("/status/api/v1/patients/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		rest := strings.TrimPrefix(req.URL.Path, "/status/api/v1/patients/")
		patientID, op, found := strings.Cut(rest, "/")
		if !found || patientID == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		switch op {
		case "status":
			h.GetStatus(w, req, patientID)
		case "status/export":
			h.ExportStatus(w, req, patientID)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

// RegisterScopeRoutes 注册 scope 控制路由
func (r *Router) RegisterScopeRoutes(h *ScopeHandler) {
	r.Handle("/status/api/v1/scope", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			h.SetScope(w, req)
		case http.MethodGet:
			h.GetScopes(w, req)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

// RegisterOpsRoutes 注册运维路由（健康检查、指标）
func (r *Router) RegisterOpsRoutes(metricsHandler http.Handler) {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
	if metricsHandler != nil {
		r.HandleHandler("/metrics", metricsHandler)
	}
}
