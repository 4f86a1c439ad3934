package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fueltek/workorder-api/internal/database"
	"github.com/fueltek/workorder-api/internal/models"
	"github.com/fueltek/workorder-api/pkg/logger"
)

// JournalRepository persists the sync journal in the local SQLite
// database, alongside the records it refers to.
type JournalRepository struct {
	db     *database.Local
	logger logger.Logger
}

// NewJournalRepository creates a new JournalRepository.
func NewJournalRepository(db *database.Local, logger logger.Logger) *JournalRepository {
	return &JournalRepository{db: db, logger: logger}
}

// Enqueue appends a pending entry to the journal.
func (r *JournalRepository) Enqueue(ctx context.Context, entry *models.JournalEntry) error {
	query := `
		INSERT INTO sync_journal (op, number, payload, created_at, attempts, status)
		VALUES (?, ?, ?, ?, 0, ?)
	`

	result, err := r.db.DB.ExecContext(ctx, query,
		string(entry.Op),
		entry.Number,
		entry.Payload,
		entry.CreatedAt.UTC().Format(time.RFC3339),
		string(models.JournalPending),
	)
	if err != nil {
		r.logger.Error("Failed to enqueue journal entry", "error", err, "number", entry.Number)
		return fmt.Errorf("journal enqueue: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("journal enqueue: %w", err)
	}
	entry.ID = id
	entry.Status = models.JournalPending
	return nil
}

// Pending returns up to limit pending entries, oldest first.
func (r *JournalRepository) Pending(ctx context.Context, limit int) ([]*models.JournalEntry, error) {
	query := `
		SELECT id, op, number, payload, created_at, processed_at, attempts, last_error, status
		FROM sync_journal
		WHERE status = ?
		ORDER BY id ASC
		LIMIT ?
	`

	rows, err := r.db.DB.QueryContext(ctx, query, string(models.JournalPending), limit)
	if err != nil {
		return nil, fmt.Errorf("journal pending: %w", err)
	}
	defer rows.Close()

	var entries []*models.JournalEntry
	for rows.Next() {
		entry, err := scanJournalEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal pending: %w", err)
	}
	return entries, nil
}

func scanJournalEntry(rows *sql.Rows) (*models.JournalEntry, error) {
	var (
		entry       models.JournalEntry
		op, status  string
		createdAt   string
		processedAt sql.NullString
		lastError   sql.NullString
		payload     sql.NullString
	)
	err := rows.Scan(&entry.ID, &op, &entry.Number, &payload, &createdAt,
		&processedAt, &entry.Attempts, &lastError, &status)
	if err != nil {
		return nil, fmt.Errorf("journal scan: %w", err)
	}

	entry.Op = models.JournalOp(op)
	entry.Status = models.JournalStatus(status)
	if payload.Valid {
		entry.Payload = []byte(payload.String)
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		entry.CreatedAt = t
	}
	if processedAt.Valid {
		if t, err := time.Parse(time.RFC3339, processedAt.String); err == nil {
			entry.ProcessedAt = &t
		}
	}
	if lastError.Valid {
		entry.LastError = &lastError.String
	}
	return &entry, nil
}

// MarkProcessing claims an entry and bumps its attempt count.
func (r *JournalRepository) MarkProcessing(ctx context.Context, id int64) error {
	query := `UPDATE sync_journal SET status = ?, attempts = attempts + 1 WHERE id = ?`

	if _, err := r.db.DB.ExecContext(ctx, query, string(models.JournalProcessing), id); err != nil {
		return fmt.Errorf("journal mark processing: %w", err)
	}
	return nil
}

// MarkDone finishes an entry after a successful replay.
func (r *JournalRepository) MarkDone(ctx context.Context, id int64) error {
	query := `UPDATE sync_journal SET status = ?, processed_at = ? WHERE id = ?`

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := r.db.DB.ExecContext(ctx, query, string(models.JournalDone), now, id); err != nil {
		return fmt.Errorf("journal mark done: %w", err)
	}
	return nil
}

// MarkFailed retires an entry permanently.
func (r *JournalRepository) MarkFailed(ctx context.Context, id int64, cause string) error {
	query := `UPDATE sync_journal SET status = ?, last_error = ? WHERE id = ?`

	if _, err := r.db.DB.ExecContext(ctx, query, string(models.JournalFailed), cause, id); err != nil {
		return fmt.Errorf("journal mark failed: %w", err)
	}
	return nil
}

// Requeue puts a processing entry back to pending for a later pass.
func (r *JournalRepository) Requeue(ctx context.Context, id int64, cause string) error {
	query := `UPDATE sync_journal SET status = ?, last_error = ? WHERE id = ?`

	if _, err := r.db.DB.ExecContext(ctx, query, string(models.JournalPending), cause, id); err != nil {
		return fmt.Errorf("journal requeue: %w", err)
	}
	return nil
}

// PendingCount counts entries still waiting for replay.
func (r *JournalRepository) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_journal WHERE status = ?`, string(models.JournalPending)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("journal pending count: %w", err)
	}
	return count, nil
}
