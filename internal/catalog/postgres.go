// Package catalog is the read side of the schedule catalog: slot lookups for
// the engine and slot provisioning from the published-schedule feed.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/liwei-chiu/slotbook/internal/engine"
	"github.com/liwei-chiu/slotbook/internal/model"
	"github.com/liwei-chiu/slotbook/libs/db"
)

const slotColumns = `
	id, staff_id, service_id, start_time, end_time,
	max_capacity, occupancy, active, created_at, updated_at,
	COALESCE(created_by::text, ''), COALESCE(updated_by::text, '')`

type Postgres struct {
	pool *db.Pool
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (c *Postgres) Slot(ctx context.Context, slotID string) (model.Slot, error) {
	row := c.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE id = $1
	`, slotID)
	slot, err := scanSlot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Slot{}, engine.ErrNotFound
	}
	return slot, err
}

// FindSlots lists active slots for a staff/service pair whose window starts
// inside [from, to). Occupancy in the result is a point-in-time read.
func (c *Postgres) FindSlots(ctx context.Context, staffID, serviceID string, from, to time.Time) ([]model.Slot, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE staff_id = $1
			AND service_id = $2
			AND start_time >= $3
			AND start_time < $4
			AND active
		ORDER BY start_time ASC
	`, staffID, serviceID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []model.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return slots, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSlot(row rowScanner) (model.Slot, error) {
	var slot model.Slot
	err := row.Scan(
		&slot.ID,
		&slot.StaffID,
		&slot.ServiceID,
		&slot.StartTime,
		&slot.EndTime,
		&slot.MaxCapacity,
		&slot.Occupancy,
		&slot.Active,
		&slot.CreatedAt,
		&slot.UpdatedAt,
		&slot.CreatedBy,
		&slot.UpdatedBy,
	)
	return slot, err
}
