package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"retrocare-status/internal/catalog"
	"retrocare-status/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type fakeProvider struct {
	set    *models.ReconciledStatusSet
	err    error
	scopes map[models.ScopeKind]string

	lastKind models.ScopeKind
	lastID   *string
	scopeErr error
}

func (f *fakeProvider) GetReconciledStatus(_ context.Context, patientID, day string) (*models.ReconciledStatusSet, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.set, nil
}

func (f *fakeProvider) SetActiveScope(_ context.Context, kind models.ScopeKind, id *string) error {
	f.lastKind = kind
	f.lastID = id
	return f.scopeErr
}

func (f *fakeProvider) ActiveScope(kind models.ScopeKind) (string, bool) {
	id, ok := f.scopes[kind]
	return id, ok
}

func newTestRouter(provider *fakeProvider) *Router {
	logger := zap.NewNop()
	r := NewRouter(logger)
	r.RegisterStatusRoutes(NewStatusHandler(provider, logger))
	r.RegisterScopeRoutes(NewScopeHandler(provider, logger))
	r.RegisterOpsRoutes(nil)
	return r
}

func sampleSet() *models.ReconciledStatusSet {
	takenAt := time.Date(2026, 8, 30, 9, 15, 0, 0, time.UTC)
	return &models.ReconciledStatusSet{
		PatientID: "patient-1",
		Day:       "2026-08-30",
		Statuses: []models.ReconciledStatus{
			{MedicationName: "Aspirin", Taken: true, TakenAt: &takenAt},
			{MedicationName: "Metformin", Taken: false},
		},
		ComputedAt: takenAt,
	}
}

func TestGetStatus(t *testing.T) {
	router := newTestRouter(&fakeProvider{set: sampleSet()})

	req := httptest.NewRequest(http.MethodGet, "/status/api/v1/patients/patient-1/status?day=2026-08-30", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp Result[models.ReconciledStatusSet]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ResultSuccess, resp.Code)
	assert.Equal(t, "patient-1", resp.Result.PatientID)
	require.Len(t, resp.Result.Statuses, 2)
	assert.Equal(t, "Aspirin", resp.Result.Statuses[0].MedicationName)
}

func TestGetStatus_CatalogUnavailable(t *testing.T) {
	router := newTestRouter(&fakeProvider{
		err: fmt.Errorf("failed to load medication catalog: %w", catalog.ErrCatalogUnavailable),
	})

	req := httptest.NewRequest(http.MethodGet, "/status/api/v1/patients/patient-1/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var resp Result[any]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ResultError, resp.Code)
}

func TestGetStatus_InvalidDay(t *testing.T) {
	router := newTestRouter(&fakeProvider{
		err: &models.DayParseError{Day: "30/08/2026"},
	})

	req := httptest.NewRequest(http.MethodGet, "/status/api/v1/patients/patient-1/status?day=30/08/2026", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStatus_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(&fakeProvider{set: sampleSet()})

	req := httptest.NewRequest(http.MethodPost, "/status/api/v1/patients/patient-1/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGetStatus_UnknownPath(t *testing.T) {
	router := newTestRouter(&fakeProvider{set: sampleSet()})

	req := httptest.NewRequest(http.MethodGet, "/status/api/v1/patients/patient-1/history", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportStatus(t *testing.T) {
	router := newTestRouter(&fakeProvider{set: sampleSet()})

	req := httptest.NewRequest(http.MethodGet, "/status/api/v1/patients/patient-1/status/export?day=2026-08-30", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "medication-status-patient-1-2026-08-30.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Medication Status")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Aspirin", rows[2][0])
}

func TestSetScope(t *testing.T) {
	provider := &fakeProvider{}
	router := newTestRouter(provider)

	body := strings.NewReader(`{"kind": "patient", "id": "patient-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/status/api/v1/scope", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.PatientScope, provider.lastKind)
	require.NotNil(t, provider.lastID)
	assert.Equal(t, "patient-1", *provider.lastID)
}

func TestSetScope_NullIDClearsScope(t *testing.T) {
	provider := &fakeProvider{}
	router := newTestRouter(provider)

	body := strings.NewReader(`{"kind": "patient", "id": null}`)
	req := httptest.NewRequest(http.MethodPost, "/status/api/v1/scope", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.PatientScope, provider.lastKind)
	assert.Nil(t, provider.lastID)
}

func TestSetScope_UnsupportedKind(t *testing.T) {
	router := newTestRouter(&fakeProvider{})

	body := strings.NewReader(`{"kind": "device", "id": "dev-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/status/api/v1/scope", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetScopes(t *testing.T) {
	provider := &fakeProvider{scopes: map[models.ScopeKind]string{
		models.PatientScope: "patient-1",
	}}
	router := newTestRouter(provider)

	req := httptest.NewRequest(http.MethodGet, "/status/api/v1/scope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp Result[map[string]any]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "patient-1", resp.Result["patient"])
	assert.Nil(t, resp.Result["caregiver"])
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(&fakeProvider{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
