package slotstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/liwei-chiu/slotbook/internal/engine"
	"github.com/liwei-chiu/slotbook/internal/model"
	"github.com/liwei-chiu/slotbook/libs/db"
)

// ErrNotReserved means a release found the slot's occupancy already at zero.
// The caller treats it as a bookkeeping discrepancy, not a failure of the
// operation that triggered the release.
var ErrNotReserved = errors.New("slot has no occupancy to release")

// Postgres holds slot capacity state. The capacity check and increment run
// as a single conditional UPDATE, so concurrent reservations on the same
// slot are serialized by the row lock and occupancy can never exceed
// max_capacity. Different slots never block each other.
type Postgres struct {
	pool *db.Pool
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) TryReserve(ctx context.Context, slotID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE time_slots
		SET occupancy = occupancy + 1,
			updated_at = now()
		WHERE id = $1
			AND active
			AND occupancy < max_capacity
			AND start_time > now()
	`, slotID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.classifyRejection(ctx, slotID)
}

// classifyRejection distinguishes the reasons a conditional reserve matched
// no row. Checked in precedence order; if the slot looks reservable again by
// the time we re-read it (a release slipped in between), the caller still
// gets ErrSlotFull: losers lose deterministically, there is no silent retry.
func (s *Postgres) classifyRejection(ctx context.Context, slotID string) error {
	var active, started, full bool
	err := s.pool.QueryRow(ctx, `
		SELECT active, start_time <= now(), occupancy >= max_capacity
		FROM time_slots
		WHERE id = $1
	`, slotID).Scan(&active, &started, &full)
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.ErrNotFound
	}
	if err != nil {
		return err
	}
	switch {
	case !active:
		return engine.ErrSlotInactive
	case started:
		return engine.ErrSlotExpired
	default:
		return engine.ErrSlotFull
	}
}

func (s *Postgres) Release(ctx context.Context, slotID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE time_slots
		SET occupancy = occupancy - 1,
			updated_at = now()
		WHERE id = $1
			AND occupancy > 0
	`, slotID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM time_slots WHERE id = $1)
	`, slotID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return engine.ErrNotFound
	}
	return ErrNotReserved
}

// CapacityRemaining is eventually consistent with in-flight reservations.
// Display only; admission is TryReserve's job.
func (s *Postgres) CapacityRemaining(ctx context.Context, slotID string) (int, error) {
	var remaining int
	err := s.pool.QueryRow(ctx, `
		SELECT max_capacity - occupancy
		FROM time_slots
		WHERE id = $1
	`, slotID).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, engine.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Insert provisions a slot carved from a published staff schedule. Idempotent
// over the schedule feed: a slot with the same staff, service and start is
// kept as-is.
func (s *Postgres) Insert(ctx context.Context, slot model.Slot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO time_slots
			(id, staff_id, service_id, start_time, end_time, max_capacity, occupancy, active, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, 0, true, NULLIF($7, ''), NULLIF($7, ''))
		ON CONFLICT (staff_id, service_id, start_time) DO NOTHING
	`, slot.ID, slot.StaffID, slot.ServiceID, slot.StartTime, slot.EndTime, slot.MaxCapacity, slot.CreatedBy)
	return err
}

// DeactivateWindow marks a staff member's future slots inside the window as
// inactive when the underlying schedule is revoked. Existing appointments on
// those slots are untouched; the slots just stop accepting reservations.
func (s *Postgres) DeactivateWindow(ctx context.Context, staffID string, from, to time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE time_slots
		SET active = false,
			updated_at = now()
		WHERE staff_id = $1
			AND start_time >= $2
			AND start_time < $3
			AND start_time > now()
			AND active
	`, staffID, from, to)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
