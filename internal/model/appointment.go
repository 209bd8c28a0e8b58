package model

import "time"

// Appointment is one customer's claim on a single capacity unit of a slot.
// Slot, staff and service references never change after creation; only
// Status, UpdatedBy and UpdatedAt move over its life.
type Appointment struct {
	ID         string
	CustomerID string
	StaffID    string
	ServiceID  string
	SlotID     string
	Status     Status
	Note       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	CreatedBy  string
	UpdatedBy  string
}

// HistoryEntry is one immutable line of an appointment's transition trail.
// ActorID is empty when the acting user has since been removed.
type HistoryEntry struct {
	ID            int64
	AppointmentID string
	Status        Status
	ActorID       string
	RecordedAt    time.Time
}

// Feedback is a customer's one-off rating of a finished appointment.
type Feedback struct {
	ID            string
	AppointmentID string
	Rating        int
	Comment       string
	CreatedAt     time.Time
}
