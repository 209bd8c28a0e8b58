package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/liwei-chiu/slotbook/internal/engine"
	"github.com/liwei-chiu/slotbook/internal/history"
	"github.com/liwei-chiu/slotbook/internal/model"
	"github.com/liwei-chiu/slotbook/libs/db"
)

const appointmentColumns = `
	id, customer_id, staff_id, service_id, slot_id, status,
	COALESCE(note, ''), created_at, updated_at,
	COALESCE(created_by::text, ''), COALESCE(updated_by::text, '')`

type AppointmentRepository struct {
	pool    *db.Pool
	history *history.Repository
}

func NewAppointmentRepository(pool *db.Pool, history *history.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, history: history}
}

// Create inserts the appointment row and its first history entry in one
// transaction. Either both land or neither does, so a failed booking never
// leaves a row that could later release capacity it does not hold.
func (r *AppointmentRepository) Create(ctx context.Context, appt *model.Appointment, entry model.HistoryEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments
			(id, customer_id, staff_id, service_id, slot_id, status, note, created_at, updated_at, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $8, NULLIF($9, ''), NULLIF($9, ''))
	`, appt.ID, appt.CustomerID, appt.StaffID, appt.ServiceID, appt.SlotID,
		string(appt.Status), appt.Note, appt.CreatedAt, appt.CreatedBy)
	if err != nil {
		return err
	}
	if err := r.history.AppendIn(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, engine.ErrNotFound
	}
	return appt, err
}

// UpdateStatus is a compare-and-set on the status column. When the row's
// status is no longer `from`, a concurrent transition won the race and this
// one fails with ErrInvalidTransition.
func (r *AppointmentRepository) UpdateStatus(ctx context.Context, id string, from, to model.Status, actorID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET status = $3,
			updated_by = NULLIF($4, ''),
			updated_at = $5
		WHERE id = $1
			AND status = $2
	`, id, string(from), string(to), actorID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)
	`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return engine.ErrNotFound
	}
	return engine.ErrInvalidTransition
}

func (r *AppointmentRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *AppointmentRepository) ListByStaff(ctx context.Context, staffID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE staff_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, staffID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

// ListOverdue returns pending appointments whose slot window ended before
// the cutoff, oldest slot first. Confirmed appointments are excluded: past
// the window they are the feedback-eligible state, and closing them out is
// a staff decision, not the sweeper's.
func (r *AppointmentRepository) ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.customer_id, a.staff_id, a.service_id, a.slot_id, a.status,
			COALESCE(a.note, ''), a.created_at, a.updated_at,
			COALESCE(a.created_by::text, ''), COALESCE(a.updated_by::text, '')
		FROM appointments a
		JOIN time_slots s ON s.id = a.slot_id
		WHERE a.status = 'pending'
			AND s.end_time <= $1
		ORDER BY s.end_time ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var appt model.Appointment
	var status string
	err := row.Scan(
		&appt.ID,
		&appt.CustomerID,
		&appt.StaffID,
		&appt.ServiceID,
		&appt.SlotID,
		&status,
		&appt.Note,
		&appt.CreatedAt,
		&appt.UpdatedAt,
		&appt.CreatedBy,
		&appt.UpdatedBy,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.Status(status)
	return appt, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}
