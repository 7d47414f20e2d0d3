package httpapi

import (
	"net/http"

	"retrocare-status/internal/models"

	"go.uber.org/zap"
)

// ScopeHandler 激活 scope 控制 Handler
// 表现层在选中实体变化时调用，驱动订阅的打开与关闭
type ScopeHandler struct {
	service StatusProvider
	logger  *zap.Logger
}

// NewScopeHandler 创建 scope Handler
func NewScopeHandler(service StatusProvider, logger *zap.Logger) *ScopeHandler {
	return &ScopeHandler{
		service: service,
		logger:  logger,
	}
}

type scopeRequest struct {
	Kind string  `json:"kind"`
	ID   *string `json:"id"` // null 表示清除该 kind 的 scope
}

// SetScope 设置某 kind 当前激活的实体
// POST /status/api/v1/scope  {"kind": "patient", "id": "..."|null}
func (h *ScopeHandler) SetScope(w http.ResponseWriter, r *http.Request) {
	var req scopeRequest
	if err := readBodyJSON(r, 4096, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	kind := models.ScopeKind(req.Kind)
	if kind != models.CaregiverScope && kind != models.PatientScope {
		writeJSON(w, http.StatusBadRequest, Fail("unsupported scope kind"))
		return
	}

	if req.ID != nil && *req.ID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("scope id must not be empty"))
		return
	}

	if err := h.service.SetActiveScope(r.Context(), kind, req.ID); err != nil {
		h.logger.Error("Failed to set active scope",
			zap.String("scope_kind", req.Kind),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to set active scope"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"kind": req.Kind,
		"id":   req.ID,
	}))
}

// GetScopes 返回当前激活的 scope 集合
// GET /status/api/v1/scope
func (h *ScopeHandler) GetScopes(w http.ResponseWriter, _ *http.Request) {
	scopes := map[string]any{}
	for _, kind := range []models.ScopeKind{models.CaregiverScope, models.PatientScope} {
		if id, ok := h.service.ActiveScope(kind); ok {
			scopes[string(kind)] = id
		} else {
			scopes[string(kind)] = nil
		}
	}
	writeJSON(w, http.StatusOK, Ok(scopes))
}
