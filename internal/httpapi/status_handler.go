package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"retrocare-status/internal/catalog"
	"retrocare-status/internal/models"
	"retrocare-status/internal/report"

	"go.uber.org/zap"
)

// StatusProvider 状态服务契约（service.StatusService 实现）
type StatusProvider interface {
	GetReconciledStatus(ctx context.Context, patientID, day string) (*models.ReconciledStatusSet, error)
	SetActiveScope(ctx context.Context, kind models.ScopeKind, id *string) error
	ActiveScope(kind models.ScopeKind) (string, bool)
}

// StatusHandler 患者状态 Handler
type StatusHandler struct {
	service StatusProvider
	logger  *zap.Logger
}

// NewStatusHandler 创建状态 Handler
func NewStatusHandler(service StatusProvider, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		service: service,
		logger:  logger,
	}
}

// GetStatus 获取某患者某日的融合用药状态
// GET /status/api/v1/patients/{id}/status?day=YYYY-MM-DD
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request, patientID string) {
	day := r.URL.Query().Get("day")

	set, err := h.service.GetReconciledStatus(r.Context(), patientID, day)
	if err != nil {
		h.writeStatusError(w, patientID, day, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(set))
}

// ExportStatus 导出某患者某日的状态为 Excel
// GET /status/api/v1/patients/{id}/status/export?day=YYYY-MM-DD
func (h *StatusHandler) ExportStatus(w http.ResponseWriter, r *http.Request, patientID string) {
	day := r.URL.Query().Get("day")

	set, err := h.service.GetReconciledStatus(r.Context(), patientID, day)
	if err != nil {
		h.writeStatusError(w, patientID, day, err)
		return
	}

	data, err := report.GenerateAdherenceExport(set)
	if err != nil {
		h.logger.Error("Failed to generate status export",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate export"))
		return
	}

	filename := fmt.Sprintf("medication-status-%s-%s.xlsx", patientID, set.Day)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *StatusHandler) writeStatusError(w http.ResponseWriter, patientID, day string, err error) {
	h.logger.Warn("Failed to get reconciled status",
		zap.String("patient_id", patientID),
		zap.String("day", day),
		zap.Error(err),
	)

	switch {
	case errors.Is(err, catalog.ErrCatalogUnavailable):
		writeJSON(w, http.StatusBadGateway, Fail("medication catalog unavailable"))
	case isDayError(err):
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
	default:
		writeJSON(w, http.StatusInternalServerError, Fail("failed to compute status"))
	}
}

func isDayError(err error) bool {
	var parseErr *models.DayParseError
	return errors.As(err, &parseErr)
}
