package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/liwei-chiu/slotbook/internal/model"
)

// SlotStore holds slot capacity state. TryReserve and Release must each be
// atomic per slot: with max_capacity = N, exactly N concurrent TryReserve
// calls succeed before the rest observe ErrSlotFull.
type SlotStore interface {
	TryReserve(ctx context.Context, slotID string) error
	Release(ctx context.Context, slotID string) error
	CapacityRemaining(ctx context.Context, slotID string) (int, error)
}

// AppointmentStore persists appointment rows. Create writes the appointment
// and its initial history entry atomically: on error neither is visible.
// UpdateStatus is a compare-and-set on the status column: it fails with
// ErrInvalidTransition when the row's status is no longer `from`, so a lost
// race never applies a transition twice.
type AppointmentStore interface {
	Create(ctx context.Context, appt *model.Appointment, entry model.HistoryEntry) error
	Get(ctx context.Context, id string) (model.Appointment, error)
	UpdateStatus(ctx context.Context, id string, from, to model.Status, actorID string, at time.Time) error
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]model.Appointment, error)
	ListByStaff(ctx context.Context, staffID string, limit int) ([]model.Appointment, error)
	// ListOverdue returns pending appointments whose slot window ended
	// before the cutoff. Used by the missed sweep; confirmed appointments
	// are left for explicit staff action.
	ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]model.Appointment, error)
}

// HistoryLog is the append-only transition ledger. Append fails only on
// storage unavailability, which is fatal to the enclosing operation.
type HistoryLog interface {
	Append(ctx context.Context, entry model.HistoryEntry) error
	ListFor(ctx context.Context, appointmentID string) ([]model.HistoryEntry, error)
}

// Catalog is the read side of the schedule catalog: slot windows, linked
// staff and service, remaining capacity for display.
type Catalog interface {
	Slot(ctx context.Context, slotID string) (model.Slot, error)
	FindSlots(ctx context.Context, staffID, serviceID string, from, to time.Time) ([]model.Slot, error)
}

// Emitter hands lifecycle events to the notification delivery collaborator.
// Emit errors are logged and swallowed; delivery never rolls back a
// committed transition.
type Emitter interface {
	Emit(ctx context.Context, evt model.LifecycleEvent) error
}

// Engine drives appointments through their lifecycle. It is the sole writer
// of appointment status and the sole caller of slot occupancy mutations.
type Engine struct {
	slots   SlotStore
	appts   AppointmentStore
	history HistoryLog
	catalog Catalog
	emitter Emitter
	logger  *slog.Logger
	now     func() time.Time
}

func New(slots SlotStore, appts AppointmentStore, history HistoryLog, catalog Catalog, emitter Emitter, logger *slog.Logger) *Engine {
	return &Engine{
		slots:   slots,
		appts:   appts,
		history: history,
		catalog: catalog,
		emitter: emitter,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock overrides the engine clock. Tests only.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

type BookRequest struct {
	CustomerID string
	SlotID     string
	Note       string
}

// Book reserves one capacity unit on the requested slot and creates the
// appointment in pending state. The appointment row and its first history
// entry commit atomically; when that write fails the reserved unit is
// released before the error surfaces, so capacity never leaks and no
// half-booked row is left behind.
func (e *Engine) Book(ctx context.Context, actor model.Actor, req BookRequest) (model.Appointment, error) {
	customerID := req.CustomerID
	if customerID == "" {
		customerID = actor.ID
	}
	if actor.Role == model.RoleCustomer && customerID != actor.ID {
		return model.Appointment{}, ErrUnauthorized
	}

	slot, err := e.catalog.Slot(ctx, req.SlotID)
	if err != nil {
		return model.Appointment{}, err
	}

	if err := e.slots.TryReserve(ctx, req.SlotID); err != nil {
		return model.Appointment{}, err
	}

	now := e.now().UTC()
	appt := model.Appointment{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		StaffID:    slot.StaffID,
		ServiceID:  slot.ServiceID,
		SlotID:     slot.ID,
		Status:     model.StatusPending,
		Note:       req.Note,
		CreatedAt:  now,
		UpdatedAt:  now,
		CreatedBy:  actor.ID,
		UpdatedBy:  actor.ID,
	}

	entry := model.HistoryEntry{
		AppointmentID: appt.ID,
		Status:        model.StatusPending,
		ActorID:       actor.ID,
		RecordedAt:    now,
	}
	if err := e.appts.Create(ctx, &appt, entry); err != nil {
		e.compensateReservation(ctx, slot.ID)
		return model.Appointment{}, err
	}

	e.emit(ctx, model.LifecycleEvent{
		EventType:     model.EventCreated,
		AppointmentID: appt.ID,
		CustomerID:    appt.CustomerID,
		StaffID:       appt.StaffID,
		Message:       "Your appointment request was received and is awaiting confirmation.",
		OccurredAt:    now,
	})
	return appt, nil
}

// Confirm moves a pending appointment to confirmed. Staff-side roles only;
// no slot effect.
func (e *Engine) Confirm(ctx context.Context, actor model.Actor, appointmentID string) (model.Appointment, error) {
	if !actor.CanManageAppointments() {
		return model.Appointment{}, ErrUnauthorized
	}
	appt, err := e.appts.Get(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	return e.transition(ctx, actor, appt, model.StatusConfirmed, model.EventConfirmed,
		"Your appointment has been confirmed.")
}

// Cancel moves a pending or confirmed appointment to canceled and returns
// its capacity unit to the slot. Customers may cancel their own
// appointments; staff-side roles may cancel any.
func (e *Engine) Cancel(ctx context.Context, actor model.Actor, appointmentID string) (model.Appointment, error) {
	appt, err := e.appts.Get(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !actor.CanManageAppointments() && appt.CustomerID != actor.ID {
		return model.Appointment{}, ErrUnauthorized
	}
	return e.transition(ctx, actor, appt, model.StatusCanceled, model.EventCanceled,
		"Your appointment has been canceled.")
}

// MarkMissed records a no-show. Allowed only to staff-side roles and only
// once the slot window has ended.
func (e *Engine) MarkMissed(ctx context.Context, actor model.Actor, appointmentID string) (model.Appointment, error) {
	if !actor.CanManageAppointments() {
		return model.Appointment{}, ErrUnauthorized
	}
	appt, err := e.appts.Get(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	// Slots are deactivated, never deleted, so a catalog miss is as
	// anomalous as a read error. Either way the window check cannot run
	// and the transition must not proceed.
	slot, err := e.catalog.Slot(ctx, appt.SlotID)
	if err != nil {
		return model.Appointment{}, err
	}
	if e.now().UTC().Before(slot.EndTime) {
		return model.Appointment{}, fmt.Errorf("%w: slot window has not ended", ErrInvalidTransition)
	}
	return e.transition(ctx, actor, appt, model.StatusMissed, model.EventMissed,
		"You missed your appointment.")
}

// transition applies one state-machine step: guard, compare-and-set status,
// release capacity for terminal statuses, append history, emit the event.
// A release failure is a bookkeeping discrepancy surfaced as a warning; the
// status change stands regardless.
func (e *Engine) transition(ctx context.Context, actor model.Actor, appt model.Appointment, to model.Status, event model.EventType, message string) (model.Appointment, error) {
	if !appt.Status.CanTransitionTo(to) {
		return model.Appointment{}, ErrInvalidTransition
	}

	now := e.now().UTC()
	if err := e.appts.UpdateStatus(ctx, appt.ID, appt.Status, to, actor.ID, now); err != nil {
		return model.Appointment{}, err
	}

	if to.ReleasesCapacity() {
		if err := e.slots.Release(ctx, appt.SlotID); err != nil {
			e.logger.Warn("slot release failed after status change",
				"appointment_id", appt.ID,
				"slot_id", appt.SlotID,
				"status", string(to),
				"err", err,
			)
		}
	}

	if err := e.history.Append(ctx, model.HistoryEntry{
		AppointmentID: appt.ID,
		Status:        to,
		ActorID:       actor.ID,
		RecordedAt:    now,
	}); err != nil {
		return model.Appointment{}, err
	}

	appt.Status = to
	appt.UpdatedAt = now
	appt.UpdatedBy = actor.ID
	e.emit(ctx, model.LifecycleEvent{
		EventType:     event,
		AppointmentID: appt.ID,
		CustomerID:    appt.CustomerID,
		StaffID:       appt.StaffID,
		Message:       message,
		OccurredAt:    now,
	})
	return appt, nil
}

// SweepMissed marks overdue pending appointments as missed under the system
// actor. Confirmed appointments are never swept: past the window they remain
// open for feedback until staff close them out explicitly. Races with
// concurrent manual transitions lose the compare-and-set and are skipped.
func (e *Engine) SweepMissed(ctx context.Context, batchSize int) (int, error) {
	overdue, err := e.appts.ListOverdue(ctx, e.now().UTC(), batchSize)
	if err != nil {
		return 0, err
	}

	actor := model.Actor{ID: "missed-sweep", Role: model.RoleSystem}
	swept := 0
	for _, appt := range overdue {
		if _, err := e.MarkMissed(ctx, actor, appt.ID); err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) {
				continue
			}
			return swept, err
		}
		swept++
	}
	return swept, nil
}

// GetAppointment returns a single appointment. Customers only see their own.
func (e *Engine) GetAppointment(ctx context.Context, actor model.Actor, appointmentID string) (model.Appointment, error) {
	appt, err := e.appts.Get(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !actor.CanManageAppointments() && appt.CustomerID != actor.ID {
		return model.Appointment{}, ErrNotFound
	}
	return appt, nil
}

func (e *Engine) ListAppointmentsForCustomer(ctx context.Context, actor model.Actor, customerID string, limit int) ([]model.Appointment, error) {
	if customerID == "" {
		customerID = actor.ID
	}
	if !actor.CanManageAppointments() && customerID != actor.ID {
		return nil, ErrUnauthorized
	}
	return e.appts.ListByCustomer(ctx, customerID, limit)
}

func (e *Engine) ListAppointmentsForStaff(ctx context.Context, actor model.Actor, staffID string, limit int) ([]model.Appointment, error) {
	if !actor.CanManageAppointments() {
		return nil, ErrUnauthorized
	}
	return e.appts.ListByStaff(ctx, staffID, limit)
}

// ListHistory returns the appointment's transition trail, oldest first.
// Replayed in order it reconstructs the current status.
func (e *Engine) ListHistory(ctx context.Context, actor model.Actor, appointmentID string) ([]model.HistoryEntry, error) {
	if _, err := e.GetAppointment(ctx, actor, appointmentID); err != nil {
		return nil, err
	}
	return e.history.ListFor(ctx, appointmentID)
}

// FindSlots lists bookable slots for a staff/service pair inside a window.
func (e *Engine) FindSlots(ctx context.Context, staffID, serviceID string, from, to time.Time) ([]model.Slot, error) {
	return e.catalog.FindSlots(ctx, staffID, serviceID, from, to)
}

// CapacityRemaining is a display read; it is never used for admission.
func (e *Engine) CapacityRemaining(ctx context.Context, slotID string) (int, error) {
	return e.slots.CapacityRemaining(ctx, slotID)
}

// compensateReservation undoes a reservation whose booking did not complete.
// A failure here is a real capacity leak and is the one slot bookkeeping
// error worth logging loudly.
func (e *Engine) compensateReservation(ctx context.Context, slotID string) {
	if err := e.slots.Release(ctx, slotID); err != nil {
		e.logger.Error("compensating release failed, slot capacity leaked",
			"slot_id", slotID,
			"err", err,
		)
	}
}

func (e *Engine) emit(ctx context.Context, evt model.LifecycleEvent) {
	if err := e.emitter.Emit(ctx, evt); err != nil {
		e.logger.Warn("notification emit failed",
			"event_type", string(evt.EventType),
			"appointment_id", evt.AppointmentID,
			"err", err,
		)
	}
}
