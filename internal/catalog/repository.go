package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// Repository 直连 patient_medications 表的 catalog 来源
type Repository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRepository creates a DB-backed catalog source
func NewRepository(db *sql.DB, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// ExpectedMedications returns the active medication names in catalog order.
// Duplicate names are returned as-is (one prescription per row).
func (r *Repository) ExpectedMedications(ctx context.Context, patientID string) ([]string, error) {
	query := `
		SELECT name
		FROM patient_medications
		WHERE patient_id = $1
		  AND active = TRUE
		ORDER BY position, name
	`

	rows, err := r.db.QueryContext(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: failed to scan medication: %v", ErrCatalogUnavailable, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}

	return names, nil
}
