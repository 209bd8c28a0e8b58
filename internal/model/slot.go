package model

import "time"

// Slot is a bookable interval for one (staff, service) pair with finite
// capacity. Occupancy is mutated only through the slot store's reserve and
// release operations.
type Slot struct {
	ID          string
	StaffID     string
	ServiceID   string
	StartTime   time.Time
	EndTime     time.Time
	MaxCapacity int
	Occupancy   int
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CreatedBy   string
	UpdatedBy   string
}

// Remaining is the capacity still open on the slot. It is a point-in-time
// read for display; admission is decided by the reserve operation alone.
func (s Slot) Remaining() int {
	r := s.MaxCapacity - s.Occupancy
	if r < 0 {
		return 0
	}
	return r
}

// Bookable reports whether the slot accepts new reservations at ts,
// ignoring capacity.
func (s Slot) Bookable(ts time.Time) bool {
	return s.Active && ts.Before(s.StartTime)
}
