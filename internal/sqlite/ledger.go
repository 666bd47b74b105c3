package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rpggio/dugongwatch/internal/repository"
)

// LedgerRepository implements repository.LedgerRepository for SQLite
type LedgerRepository struct {
	db  *DB
	now func() time.Time
}

// NewLedgerRepository creates a new LedgerRepository
func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{db: db, now: time.Now}
}

// Get returns the stored document for a session
func (r *LedgerRepository) Get(ctx context.Context, sessionID string) ([]byte, error) {
	var doc string
	err := r.db.QueryRowContext(ctx,
		`SELECT document FROM ledgers WHERE session_id = ?`, sessionID,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger: %w", err)
	}
	return []byte(doc), nil
}

// Put inserts or replaces the document for a session
func (r *LedgerRepository) Put(ctx context.Context, sessionID string, doc []byte) error {
	if sessionID == "" {
		return repository.ErrInvalidInput
	}

	query := `
		INSERT INTO ledgers (session_id, document, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			document = excluded.document,
			updated_at = excluded.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, sessionID, string(doc), r.now().UTC()); err != nil {
		return fmt.Errorf("failed to put ledger: %w", err)
	}
	return nil
}

// Delete removes the document for a session
func (r *LedgerRepository) Delete(ctx context.Context, sessionID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM ledgers WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete ledger: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// List returns every stored session id in ascending order
func (r *LedgerRepository) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT session_id FROM ledgers ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledgers: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ledger id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger rows: %w", err)
	}
	return ids, nil
}
