// Package feedback stores one-off customer ratings. A rating can only be
// created once the appointment it belongs to is eligible: confirmed and
// past its slot window.
package feedback

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/liwei-chiu/slotbook/internal/engine"
	"github.com/liwei-chiu/slotbook/internal/model"
	"github.com/liwei-chiu/slotbook/libs/db"
)

var (
	ErrNotEligible      = errors.New("appointment is not eligible for feedback")
	ErrAlreadySubmitted = errors.New("feedback already submitted for this appointment")
	ErrInvalidRating    = errors.New("rating must be between 1 and 5")
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts the rating if and only if the customer's appointment is
// eligible. Eligibility and insert are one statement, so a status change
// racing the submission cannot slip an ineligible rating through.
func (r *Repository) Create(ctx context.Context, fb model.Feedback, customerID string) error {
	if fb.Rating < 1 || fb.Rating > 5 {
		return ErrInvalidRating
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO feedback (id, appointment_id, rating, comment)
		SELECT $1, a.id, $3, NULLIF($4, '')
		FROM appointments a
		JOIN time_slots s ON s.id = a.slot_id
		WHERE a.id = $2
			AND a.customer_id = $5
			AND a.status = 'confirmed'
			AND s.end_time <= now()
	`, fb.ID, fb.AppointmentID, fb.Rating, fb.Comment, customerID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadySubmitted
		}
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1 AND customer_id = $2)
	`, fb.AppointmentID, customerID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return engine.ErrNotFound
	}
	return ErrNotEligible
}

func (r *Repository) GetByAppointment(ctx context.Context, appointmentID string) (model.Feedback, error) {
	var fb model.Feedback
	err := r.pool.QueryRow(ctx, `
		SELECT id, appointment_id, rating, COALESCE(comment, ''), created_at
		FROM feedback
		WHERE appointment_id = $1
	`, appointmentID).Scan(&fb.ID, &fb.AppointmentID, &fb.Rating, &fb.Comment, &fb.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Feedback{}, engine.ErrNotFound
	}
	return fb, err
}
