package diagnostics

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository persists diagnostics history.
type Repository interface {
	Save(ctx context.Context, d Diagnostic) error
	Recent(ctx context.Context, limit int) ([]Diagnostic, error)
}

// SQLiteRepository stores diagnostics in the diagnostics table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an already migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Save inserts d. Saving the same ID twice is a no-op.
func (r *SQLiteRepository) Save(ctx context.Context, d Diagnostic) error {
	autoFix := 0
	if d.CanAutoFix {
		autoFix = 1
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO diagnostics (id, created_at, severity, category, title, description,
		 technical_details, suggested_action, can_auto_fix, fix)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		d.ID, d.Timestamp.UTC().Format(time.RFC3339Nano), string(d.Severity), string(d.Category),
		d.Title, d.Description, d.TechnicalDetails, d.SuggestedAction, autoFix, string(d.Fix),
	)
	if err != nil {
		return fmt.Errorf("inserting diagnostic: %w", err)
	}
	return nil
}

// Recent returns up to limit diagnostics, newest first.
func (r *SQLiteRepository) Recent(ctx context.Context, limit int) ([]Diagnostic, error) {
	if limit <= 0 {
		limit = DefaultMaxEntries
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, created_at, severity, category, title, description, technical_details,
		 suggested_action, can_auto_fix, fix
		 FROM diagnostics ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying diagnostics: %w", err)
	}
	defer rows.Close()

	var out []Diagnostic
	for rows.Next() {
		var (
			d                 Diagnostic
			at, sev, cat, fix string
			autoFix           int
		)
		if err := rows.Scan(&d.ID, &at, &sev, &cat, &d.Title, &d.Description,
			&d.TechnicalDetails, &d.SuggestedAction, &autoFix, &fix); err != nil {
			return nil, fmt.Errorf("scanning diagnostic: %w", err)
		}
		d.Timestamp, _ = time.Parse(time.RFC3339Nano, at) //nolint:errcheck // written by Save
		d.Severity = Severity(sev)
		d.Category = Category(cat)
		d.Fix = Fix(fix)
		d.CanAutoFix = autoFix == 1
		out = append(out, d)
	}
	return out, rows.Err()
}
