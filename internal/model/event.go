package model

import "time"

// EventType names a lifecycle event emitted for notification delivery.
type EventType string

const (
	EventCreated   EventType = "created"
	EventConfirmed EventType = "confirmed"
	EventCanceled  EventType = "canceled"
	EventMissed    EventType = "missed"
)

// Topic is the Kafka topic the event is relayed to (event per topic).
func (t EventType) Topic() string {
	return "booking.appointment." + string(t) + ".v1"
}

// LifecycleEvent is the record handed to the notification delivery
// collaborator. Delivery transport and formatting are its concern entirely.
type LifecycleEvent struct {
	EventType     EventType
	AppointmentID string
	CustomerID    string
	StaffID       string
	Message       string
	OccurredAt    time.Time
}
