package model

// Status is the appointment lifecycle status. The set is closed: transitions
// are decided by CanTransitionTo and nothing else compares statuses ad hoc.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCanceled  Status = "canceled"
	StatusMissed    Status = "missed"
)

func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusPending, StatusConfirmed, StatusCanceled, StatusMissed:
		return Status(raw), true
	}
	return "", false
}

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCanceled, StatusMissed:
		return true
	case StatusPending, StatusConfirmed:
		return false
	}
	return false
}

// CanTransitionTo reports whether s -> next is a legal lifecycle transition.
// Pending is only reachable through booking, never as a transition target.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusCanceled || next == StatusMissed
	case StatusConfirmed:
		return next == StatusCanceled || next == StatusMissed
	case StatusCanceled, StatusMissed:
		return false
	}
	return false
}

// ReleasesCapacity reports whether entering s returns the appointment's
// capacity unit to its slot.
func (s Status) ReleasesCapacity() bool {
	return s == StatusCanceled || s == StatusMissed
}
