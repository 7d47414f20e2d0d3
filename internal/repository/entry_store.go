package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"retrocare-status/internal/metrics"
	"retrocare-status/internal/models"

	"go.uber.org/zap"
)

// ErrSourceUnavailable one of the two entry sources cannot be reached.
// A source returning zero rows is NOT this error.
var ErrSourceUnavailable = errors.New("entry source unavailable")

// SourceError identifies which entry source failed
type SourceError struct {
	Source models.EntrySource
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Is 使 errors.Is(err, ErrSourceUnavailable) 成立
func (e *SourceError) Is(target error) bool { return target == ErrSourceUnavailable }

// EntryStore read-only accessor over the two status sources:
// the medication_logs event log and the calls.medication_statuses embedded arrays.
type EntryStore struct {
	db      *sql.DB
	logger  *zap.Logger
	metrics metrics.Collector
}

// NewEntryStore creates a new entry store
func NewEntryStore(db *sql.DB, logger *zap.Logger, collector metrics.Collector) *EntryStore {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &EntryStore{db: db, logger: logger, metrics: collector}
}

// FetchLogEntries returns the per-event log rows for the patient's day window,
// ordered by assertion time. Zero rows is a valid result.
func (s *EntryStore) FetchLogEntries(ctx context.Context, patientID string, window models.DayWindow) ([]models.StatusEntry, error) {
	query := `
		SELECT medication_name, taken, taken_at
		FROM medication_logs
		WHERE patient_id = $1
		  AND COALESCE(taken_at, created_at) >= $2
		  AND COALESCE(taken_at, created_at) < $3
		ORDER BY COALESCE(taken_at, created_at), created_at
	`

	rows, err := s.db.QueryContext(ctx, query, patientID, window.Start, window.End)
	if err != nil {
		return nil, &SourceError{Source: models.SourceLog, Err: err}
	}
	defer rows.Close()

	var entries []models.StatusEntry
	order := 0
	for rows.Next() {
		var name string
		var taken bool
		var takenAt sql.NullTime

		if err := rows.Scan(&name, &taken, &takenAt); err != nil {
			return nil, &SourceError{Source: models.SourceLog, Err: fmt.Errorf("failed to scan log entry: %w", err)}
		}

		entry := models.StatusEntry{
			ItemName:    name,
			Taken:       taken,
			SourceOrder: order,
			Source:      models.SourceLog,
		}
		if takenAt.Valid {
			t := takenAt.Time
			entry.TakenAt = &t
		}

		entries = append(entries, entry)
		order++
	}
	if err := rows.Err(); err != nil {
		return nil, &SourceError{Source: models.SourceLog, Err: err}
	}

	return entries, nil
}

// FetchEmbeddedEntries flattens the medication_statuses arrays of all calls in
// the day window into normalized StatusEntry values, in call order. Entries the
// decoder cannot resolve are skipped with a warning, not an error.
func (s *EntryStore) FetchEmbeddedEntries(ctx context.Context, patientID string, window models.DayWindow) ([]models.StatusEntry, error) {
	query := `
		SELECT call_id, started_at, completed_at, medication_statuses
		FROM calls
		WHERE patient_id = $1
		  AND started_at >= $2
		  AND started_at < $3
		ORDER BY started_at
	`

	rows, err := s.db.QueryContext(ctx, query, patientID, window.Start, window.End)
	if err != nil {
		return nil, &SourceError{Source: models.SourceEmbedded, Err: err}
	}
	defer rows.Close()

	var entries []models.StatusEntry
	order := 0
	for rows.Next() {
		var callID string
		var startedAt time.Time
		var completedAt sql.NullTime
		var statusesJSON []byte

		if err := rows.Scan(&callID, &startedAt, &completedAt, &statusesJSON); err != nil {
			return nil, &SourceError{Source: models.SourceEmbedded, Err: fmt.Errorf("failed to scan call: %w", err)}
		}

		// 内嵌条目缺少自身时间戳时回退父通话时间（completed_at 优先）
		parentAt := startedAt
		if completedAt.Valid {
			parentAt = completedAt.Time
		}

		decoded, skipped := decodeEmbeddedStatuses(statusesJSON, parentAt, order)
		if skipped > 0 {
			s.logger.Warn("Skipped malformed embedded entries",
				zap.String("call_id", callID),
				zap.Int("skipped", skipped),
			)
			for i := 0; i < skipped; i++ {
				s.metrics.RecordMalformedEntry()
			}
		}

		entries = append(entries, decoded...)
		order += len(decoded)
	}
	if err := rows.Err(); err != nil {
		return nil, &SourceError{Source: models.SourceEmbedded, Err: err}
	}

	return entries, nil
}
