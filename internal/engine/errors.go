package engine

import "errors"

// Expected outcomes returned to the caller for user-facing messaging.
// None of these is ever logged at error level.
var (
	ErrNotFound          = errors.New("not found")
	ErrSlotFull          = errors.New("slot capacity exhausted")
	ErrSlotInactive      = errors.New("slot no longer accepts bookings")
	ErrSlotExpired       = errors.New("slot window already started")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnauthorized      = errors.New("actor not allowed to perform this operation")
)

// SlotUnavailable reports whether err means the slot exists but cannot take
// a new reservation right now. Callers use it to offer slot re-selection
// instead of a generic failure.
func SlotUnavailable(err error) bool {
	return errors.Is(err, ErrSlotFull) || errors.Is(err, ErrSlotInactive) || errors.Is(err, ErrSlotExpired)
}
