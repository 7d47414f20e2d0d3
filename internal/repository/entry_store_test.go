package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"retrocare-status/internal/models"
	"retrocare-status/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testWindow(t *testing.T) models.DayWindow {
	t.Helper()
	w, err := models.ParseDay("2026-08-30", time.UTC)
	require.NoError(t, err)
	return w
}

func TestFetchLogEntries_ScansRowsInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := repository.NewEntryStore(db, zap.NewNop(), nil)
	window := testWindow(t)

	takenAt := time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT\s+medication_name`).
		WithArgs("patient-1", window.Start, window.End).
		WillReturnRows(sqlmock.NewRows([]string{"medication_name", "taken", "taken_at"}).
			AddRow("Aspirin", true, takenAt).
			AddRow("Metformin", false, nil))

	entries, err := store.FetchLogEntries(context.Background(), "patient-1", window)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "Aspirin", entries[0].ItemName)
	assert.True(t, entries[0].Taken)
	require.NotNil(t, entries[0].TakenAt)
	assert.True(t, entries[0].TakenAt.Equal(takenAt))
	assert.Equal(t, 0, entries[0].SourceOrder)
	assert.Equal(t, models.SourceLog, entries[0].Source)

	assert.Equal(t, "Metformin", entries[1].ItemName)
	assert.False(t, entries[1].Taken)
	assert.Nil(t, entries[1].TakenAt)
	assert.Equal(t, 1, entries[1].SourceOrder)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchLogEntries_ZeroRowsIsNotAnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := repository.NewEntryStore(db, zap.NewNop(), nil)
	window := testWindow(t)

	mock.ExpectQuery(`SELECT\s+medication_name`).
		WithArgs("patient-1", window.Start, window.End).
		WillReturnRows(sqlmock.NewRows([]string{"medication_name", "taken", "taken_at"}))

	entries, err := store.FetchLogEntries(context.Background(), "patient-1", window)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchLogEntries_QueryFailureWrapsSourceUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := repository.NewEntryStore(db, zap.NewNop(), nil)
	window := testWindow(t)

	mock.ExpectQuery(`SELECT\s+medication_name`).
		WillReturnError(errors.New("connection refused"))

	_, err = store.FetchLogEntries(context.Background(), "patient-1", window)
	require.Error(t, err)
	assert.True(t, errors.Is(err, repository.ErrSourceUnavailable))

	var srcErr *repository.SourceError
	require.True(t, errors.As(err, &srcErr))
	assert.Equal(t, models.SourceLog, srcErr.Source)
}

func TestFetchEmbeddedEntries_FlattensCallsAndNormalizes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := repository.NewEntryStore(db, zap.NewNop(), nil)
	window := testWindow(t)

	started1 := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	completed1 := time.Date(2026, 8, 30, 9, 5, 0, 0, time.UTC)
	started2 := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT\s+call_id`).
		WithArgs("patient-1", window.Start, window.End).
		WillReturnRows(sqlmock.NewRows([]string{"call_id", "started_at", "completed_at", "medication_statuses"}).
			AddRow("call-1", started1, completed1,
				[]byte(`[{"name": "Aspirin", "taken": true, "taken_at": "2026-08-30T08:00:00Z"}, {"medication": "Metformin", "status": "missed"}]`)).
			AddRow("call-2", started2, nil,
				[]byte(`[{"med_name": "Lisinopril", "status": "taken"}]`)))

	entries, err := store.FetchEmbeddedEntries(context.Background(), "patient-1", window)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// call-1 的第一条带自身时间戳
	assert.Equal(t, "Aspirin", entries[0].ItemName)
	require.NotNil(t, entries[0].TakenAt)

	// call-1 的第二条回退 completed_at
	assert.Equal(t, "Metformin", entries[1].ItemName)
	assert.False(t, entries[1].Taken)
	assert.Nil(t, entries[1].TakenAt)
	require.NotNil(t, entries[1].EffectiveAt)
	assert.True(t, entries[1].EffectiveAt.Equal(completed1))

	// call-2 未完成，回退 started_at；SourceOrder 全局递增
	assert.Equal(t, "Lisinopril", entries[2].ItemName)
	assert.True(t, entries[2].Taken)
	require.NotNil(t, entries[2].EffectiveAt)
	assert.True(t, entries[2].EffectiveAt.Equal(started2))
	assert.Equal(t, 2, entries[2].SourceOrder)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchEmbeddedEntries_MalformedEntriesDoNotAbort(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := repository.NewEntryStore(db, zap.NewNop(), nil)
	window := testWindow(t)

	started := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT\s+call_id`).
		WithArgs("patient-1", window.Start, window.End).
		WillReturnRows(sqlmock.NewRows([]string{"call_id", "started_at", "completed_at", "medication_statuses"}).
			AddRow("call-1", started, nil,
				[]byte(`[{"taken": true}, {"name": "Metformin", "taken": true}]`)))

	entries, err := store.FetchEmbeddedEntries(context.Background(), "patient-1", window)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Metformin", entries[0].ItemName)
}

func TestFetchEmbeddedEntries_QueryFailureWrapsSourceUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := repository.NewEntryStore(db, zap.NewNop(), nil)
	window := testWindow(t)

	mock.ExpectQuery(`SELECT\s+call_id`).
		WillReturnError(errors.New("connection refused"))

	_, err = store.FetchEmbeddedEntries(context.Background(), "patient-1", window)
	require.Error(t, err)
	assert.True(t, errors.Is(err, repository.ErrSourceUnavailable))

	var srcErr *repository.SourceError
	require.True(t, errors.As(err, &srcErr))
	assert.Equal(t, models.SourceEmbedded, srcErr.Source)
}
