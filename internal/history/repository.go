// Package history is the append-only transition ledger. One row per accepted
// transition, creation included. Nothing in the repository (or the schema)
// updates or deletes an entry once written.
package history

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/liwei-chiu/slotbook/internal/model"
	"github.com/liwei-chiu/slotbook/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (r *Repository) Append(ctx context.Context, entry model.HistoryEntry) error {
	return appendEntry(ctx, r.pool, entry)
}

// AppendIn writes the entry inside the caller's transaction. Used by the
// booking create path so the appointment row and its first ledger line
// commit or roll back together.
func (r *Repository) AppendIn(ctx context.Context, tx pgx.Tx, entry model.HistoryEntry) error {
	return appendEntry(ctx, tx, entry)
}

func appendEntry(ctx context.Context, q execer, entry model.HistoryEntry) error {
	_, err := q.Exec(ctx, `
		INSERT INTO appointment_history (appointment_id, status, actor_id, recorded_at)
		VALUES ($1, $2, NULLIF($3, ''), $4)
	`, entry.AppointmentID, string(entry.Status), entry.ActorID, entry.RecordedAt)
	return err
}

// ListFor returns the full trail for one appointment, oldest first. The id
// tiebreak keeps entries written in the same instant in append order.
func (r *Repository) ListFor(ctx context.Context, appointmentID string) ([]model.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, status, COALESCE(actor_id::text, ''), recorded_at
		FROM appointment_history
		WHERE appointment_id = $1
		ORDER BY recorded_at ASC, id ASC
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		var status string
		if err := rows.Scan(&e.ID, &e.AppointmentID, &status, &e.ActorID, &e.RecordedAt); err != nil {
			return nil, err
		}
		e.Status = model.Status(status)
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}
