package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/liwei-chiu/slotbook/internal/model"
)

var testBase = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type slotState struct {
	slot model.Slot
}

type fakeSlotStore struct {
	mu    sync.Mutex
	slots map[string]*slotState
	now   func() time.Time

	failRelease error
}

func (f *fakeSlotStore) TryReserve(_ context.Context, slotID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.slots[slotID]
	if !ok {
		return ErrNotFound
	}
	if !st.slot.Active {
		return ErrSlotInactive
	}
	if !f.now().Before(st.slot.StartTime) {
		return ErrSlotExpired
	}
	if st.slot.Occupancy >= st.slot.MaxCapacity {
		return ErrSlotFull
	}
	st.slot.Occupancy++
	return nil
}

func (f *fakeSlotStore) Release(_ context.Context, slotID string) error {
	if f.failRelease != nil {
		return f.failRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.slots[slotID]
	if !ok {
		return ErrNotFound
	}
	if st.slot.Occupancy > 0 {
		st.slot.Occupancy--
	}
	return nil
}

func (f *fakeSlotStore) CapacityRemaining(_ context.Context, slotID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.slots[slotID]
	if !ok {
		return 0, ErrNotFound
	}
	return st.slot.Remaining(), nil
}

func (f *fakeSlotStore) occupancy(slotID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slots[slotID].slot.Occupancy
}

type fakeApptStore struct {
	mu      sync.Mutex
	appts   map[string]model.Appointment
	slots   *fakeSlotStore
	history *fakeHistory

	failCreate error
}

// Create mirrors the repository's all-or-nothing write: a ledger failure
// leaves no appointment behind.
func (f *fakeApptStore) Create(ctx context.Context, appt *model.Appointment, entry model.HistoryEntry) error {
	if f.failCreate != nil {
		return f.failCreate
	}
	if err := f.history.Append(ctx, entry); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appts[appt.ID] = *appt
	return nil
}

func (f *fakeApptStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appts)
}

func (f *fakeApptStore) Get(_ context.Context, id string) (model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return appt, nil
}

func (f *fakeApptStore) UpdateStatus(_ context.Context, id string, from, to model.Status, actorID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt, ok := f.appts[id]
	if !ok {
		return ErrNotFound
	}
	if appt.Status != from {
		return ErrInvalidTransition
	}
	appt.Status = to
	appt.UpdatedBy = actorID
	appt.UpdatedAt = at
	f.appts[id] = appt
	return nil
}

func (f *fakeApptStore) ListByCustomer(_ context.Context, customerID string, _ int) ([]model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Appointment
	for _, appt := range f.appts {
		if appt.CustomerID == customerID {
			out = append(out, appt)
		}
	}
	return out, nil
}

func (f *fakeApptStore) ListByStaff(_ context.Context, staffID string, _ int) ([]model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Appointment
	for _, appt := range f.appts {
		if appt.StaffID == staffID {
			out = append(out, appt)
		}
	}
	return out, nil
}

func (f *fakeApptStore) ListOverdue(_ context.Context, cutoff time.Time, limit int) ([]model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Appointment
	for _, appt := range f.appts {
		if appt.Status != model.StatusPending {
			continue
		}
		st, ok := f.slots.slots[appt.SlotID]
		if !ok || st.slot.EndTime.After(cutoff) {
			continue
		}
		out = append(out, appt)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []model.HistoryEntry

	failAppend error
}

func (f *fakeHistory) Append(_ context.Context, entry model.HistoryEntry) error {
	if f.failAppend != nil {
		return f.failAppend
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeHistory) ListFor(_ context.Context, appointmentID string) ([]model.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.HistoryEntry
	for _, e := range f.entries {
		if e.AppointmentID == appointmentID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeCatalog struct {
	slots *fakeSlotStore

	failSlot error
}

func (f *fakeCatalog) Slot(_ context.Context, slotID string) (model.Slot, error) {
	if f.failSlot != nil {
		return model.Slot{}, f.failSlot
	}
	f.slots.mu.Lock()
	defer f.slots.mu.Unlock()
	st, ok := f.slots.slots[slotID]
	if !ok {
		return model.Slot{}, ErrNotFound
	}
	return st.slot, nil
}

func (f *fakeCatalog) FindSlots(_ context.Context, staffID, serviceID string, from, to time.Time) ([]model.Slot, error) {
	f.slots.mu.Lock()
	defer f.slots.mu.Unlock()
	var out []model.Slot
	for _, st := range f.slots.slots {
		s := st.slot
		if s.StaffID != staffID || s.ServiceID != serviceID || !s.Active {
			continue
		}
		if s.StartTime.Before(from) || !s.StartTime.Before(to) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []model.LifecycleEvent

	failEmit error
}

func (f *fakeEmitter) Emit(_ context.Context, evt model.LifecycleEvent) error {
	if f.failEmit != nil {
		return f.failEmit
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

type harness struct {
	engine  *Engine
	slots   *fakeSlotStore
	appts   *fakeApptStore
	history *fakeHistory
	catalog *fakeCatalog
	emitter *fakeEmitter
	clock   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{clock: testBase}
	h.slots = &fakeSlotStore{
		slots: map[string]*slotState{},
		now:   func() time.Time { return h.clock },
	}
	h.history = &fakeHistory{}
	h.appts = &fakeApptStore{appts: map[string]model.Appointment{}, slots: h.slots, history: h.history}
	h.catalog = &fakeCatalog{slots: h.slots}
	h.emitter = &fakeEmitter{}
	h.engine = New(h.slots, h.appts, h.history, h.catalog, h.emitter,
		slog.New(slog.DiscardHandler)).
		WithClock(func() time.Time { return h.clock })
	return h
}

func (h *harness) addSlot(id string, capacity int, startIn time.Duration) {
	h.slots.slots[id] = &slotState{slot: model.Slot{
		ID:          id,
		StaffID:     "staff-1",
		ServiceID:   "svc-1",
		StartTime:   h.clock.Add(startIn),
		EndTime:     h.clock.Add(startIn + 30*time.Minute),
		MaxCapacity: capacity,
		Active:      true,
	}}
}

var (
	customer = model.Actor{ID: "cust-1", Role: model.RoleCustomer, StoreID: "store-1"}
	staff    = model.Actor{ID: "staff-1", Role: model.RoleStaff, StoreID: "store-1"}
)

func TestBookCreatesPendingAppointment(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 3, time.Hour)

	appt, err := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1", Note: "first visit"})
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}
	if appt.Status != model.StatusPending {
		t.Fatalf("expected pending, got %s", appt.Status)
	}
	if appt.CustomerID != "cust-1" || appt.StaffID != "staff-1" || appt.ServiceID != "svc-1" {
		t.Fatalf("unexpected identifiers on appointment: %+v", appt)
	}
	if got := h.slots.occupancy("slot-1"); got != 1 {
		t.Fatalf("expected occupancy 1, got %d", got)
	}
	if len(h.history.entries) != 1 || h.history.entries[0].Status != model.StatusPending {
		t.Fatalf("expected one pending history entry, got %+v", h.history.entries)
	}
	if len(h.emitter.events) != 1 || h.emitter.events[0].EventType != model.EventCreated {
		t.Fatalf("expected one created event, got %+v", h.emitter.events)
	}
}

func TestBookConcurrentNeverOverbooks(t *testing.T) {
	const capacity = 5
	const attempts = 12

	h := newHarness(t)
	h.addSlot("slot-1", capacity, time.Hour)

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"})
		}(i)
	}
	wg.Wait()

	var booked, full int
	for _, err := range errs {
		switch {
		case err == nil:
			booked++
		case errors.Is(err, ErrSlotFull):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if booked != capacity {
		t.Fatalf("expected %d successful bookings, got %d", capacity, booked)
	}
	if full != attempts-capacity {
		t.Fatalf("expected %d rejections, got %d", attempts-capacity, full)
	}
	if got := h.slots.occupancy("slot-1"); got != capacity {
		t.Fatalf("occupancy %d exceeds or trails capacity %d", got, capacity)
	}
}

func TestBookCancelRebookCycle(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 1, time.Hour)

	first, err := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"})
	if err != nil {
		t.Fatalf("first Book failed: %v", err)
	}
	if _, err := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"}); !errors.Is(err, ErrSlotFull) {
		t.Fatalf("expected ErrSlotFull on full slot, got %v", err)
	}

	if _, err := h.engine.Cancel(context.Background(), customer, first.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if got := h.slots.occupancy("slot-1"); got != 0 {
		t.Fatalf("expected occupancy 0 after cancel, got %d", got)
	}

	if _, err := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"}); err != nil {
		t.Fatalf("rebook after cancel failed: %v", err)
	}
}

func TestConfirmTwiceFailsSecondTime(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 2, time.Hour)

	appt, err := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"})
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}
	if _, err := h.engine.Confirm(context.Background(), staff, appt.ID); err != nil {
		t.Fatalf("first Confirm failed: %v", err)
	}
	if _, err := h.engine.Confirm(context.Background(), staff, appt.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second confirm, got %v", err)
	}
	entries, _ := h.history.ListFor(context.Background(), appt.ID)
	if len(entries) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(entries))
	}
}

func TestConfirmDoesNotTouchCapacity(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 2, time.Hour)

	appt, _ := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"})
	if _, err := h.engine.Confirm(context.Background(), staff, appt.ID); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if got := h.slots.occupancy("slot-1"); got != 1 {
		t.Fatalf("confirm changed occupancy: got %d, want 1", got)
	}
}

func TestBookReleasesReservationWhenCreateFails(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 1, time.Hour)
	h.appts.failCreate = errors.New("insert failed")

	if _, err := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"}); err == nil {
		t.Fatal("expected Book to fail")
	}
	if got := h.slots.occupancy("slot-1"); got != 0 {
		t.Fatalf("reservation leaked: occupancy %d, want 0", got)
	}

	h.appts.failCreate = nil
	if _, err := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"}); err != nil {
		t.Fatalf("Book after recovery failed: %v", err)
	}
}

func TestBookReleasesReservationWhenHistoryFails(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 1, time.Hour)
	h.history.failAppend = errors.New("ledger unavailable")

	if _, err := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"}); err == nil {
		t.Fatal("expected Book to fail")
	}
	if got := h.slots.occupancy("slot-1"); got != 0 {
		t.Fatalf("reservation leaked: occupancy %d, want 0", got)
	}
	if got := h.appts.count(); got != 0 {
		t.Fatalf("failed booking left %d appointment rows", got)
	}
}

// A booking that fails mid-write must leave nothing behind that could later
// release capacity it never held. Otherwise canceling the leftover row frees
// a unit belonging to another appointment and the slot overbooks.
func TestFailedBookingCannotCauseOverbooking(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 1, time.Hour)

	h.history.failAppend = errors.New("ledger unavailable")
	if _, err := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"}); err == nil {
		t.Fatal("expected Book to fail")
	}
	h.history.failAppend = nil

	first, err := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"})
	if err != nil {
		t.Fatalf("Book after failed attempt: %v", err)
	}
	if _, err := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"}); !errors.Is(err, ErrSlotFull) {
		t.Fatalf("expected ErrSlotFull on full slot, got %v", err)
	}

	got, _ := h.engine.GetAppointment(context.Background(), staff, first.ID)
	if got.Status != model.StatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	if live := h.appts.count(); live != 1 {
		t.Fatalf("expected exactly 1 appointment on capacity-1 slot, got %d", live)
	}
	if occ := h.slots.occupancy("slot-1"); occ != 1 {
		t.Fatalf("expected occupancy 1, got %d", occ)
	}
}

func TestEmitFailureDoesNotFailBooking(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 1, time.Hour)
	h.emitter.failEmit = errors.New("outbox down")

	if _, err := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"}); err != nil {
		t.Fatalf("Book failed on emit error: %v", err)
	}
}

func TestReleaseFailureDoesNotFailCancel(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 1, time.Hour)

	appt, _ := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"})
	h.slots.failRelease = errors.New("release failed")

	got, err := h.engine.Cancel(context.Background(), customer, appt.ID)
	if err != nil {
		t.Fatalf("Cancel failed on release error: %v", err)
	}
	if got.Status != model.StatusCanceled {
		t.Fatalf("expected canceled, got %s", got.Status)
	}
}

func TestHistoryReplayMatchesStatus(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 1, time.Hour)

	appt, _ := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"})
	h.clock = h.clock.Add(time.Minute)
	if _, err := h.engine.Confirm(context.Background(), staff, appt.ID); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	h.clock = h.clock.Add(time.Minute)
	if _, err := h.engine.Cancel(context.Background(), staff, appt.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	entries, err := h.engine.ListHistory(context.Background(), staff, appt.ID)
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	want := []model.Status{model.StatusPending, model.StatusConfirmed, model.StatusCanceled}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, e := range entries {
		if e.Status != want[i] {
			t.Fatalf("entry %d: expected %s, got %s", i, want[i], e.Status)
		}
		if i > 0 && entries[i-1].RecordedAt.After(e.RecordedAt) {
			t.Fatalf("history out of order at entry %d", i)
		}
	}

	current, _ := h.engine.GetAppointment(context.Background(), staff, appt.ID)
	if last := entries[len(entries)-1].Status; last != current.Status {
		t.Fatalf("replay ends at %s but appointment is %s", last, current.Status)
	}
}

func TestBookForOtherCustomerDenied(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 1, time.Hour)

	_, err := h.engine.Book(context.Background(), customer, BookRequest{CustomerID: "cust-2", SlotID: "slot-1"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := h.slots.occupancy("slot-1"); got != 0 {
		t.Fatalf("denied booking touched occupancy: %d", got)
	}
}

func TestCustomerCannotConfirm(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 1, time.Hour)

	appt, _ := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"})
	if _, err := h.engine.Confirm(context.Background(), customer, appt.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCustomerCannotCancelOthers(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 2, time.Hour)

	appt, _ := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"})
	other := model.Actor{ID: "cust-2", Role: model.RoleCustomer}
	if _, err := h.engine.Cancel(context.Background(), other, appt.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCustomerCannotSeeOthersAppointment(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 1, time.Hour)

	appt, _ := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"})
	other := model.Actor{ID: "cust-2", Role: model.RoleCustomer}
	if _, err := h.engine.GetAppointment(context.Background(), other, appt.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign appointment, got %v", err)
	}
	if _, err := h.engine.ListHistory(context.Background(), other, appt.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign history, got %v", err)
	}
}

func TestBookExpiredSlot(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 1, -time.Minute)

	if _, err := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"}); !errors.Is(err, ErrSlotExpired) {
		t.Fatalf("expected ErrSlotExpired, got %v", err)
	}
}

func TestBookInactiveSlot(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 1, time.Hour)
	h.slots.slots["slot-1"].slot.Active = false

	if _, err := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"}); !errors.Is(err, ErrSlotInactive) {
		t.Fatalf("expected ErrSlotInactive, got %v", err)
	}
}

func TestMarkMissedBeforeWindowEnds(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 1, time.Hour)

	appt, _ := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"})
	if _, err := h.engine.MarkMissed(context.Background(), staff, appt.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition before window end, got %v", err)
	}

	h.clock = testBase.Add(2 * time.Hour)
	got, err := h.engine.MarkMissed(context.Background(), staff, appt.ID)
	if err != nil {
		t.Fatalf("MarkMissed after window end failed: %v", err)
	}
	if got.Status != model.StatusMissed {
		t.Fatalf("expected missed, got %s", got.Status)
	}
	if occ := h.slots.occupancy("slot-1"); occ != 0 {
		t.Fatalf("missed did not release capacity: occupancy %d", occ)
	}
}

func TestMarkMissedFailsWhenCatalogUnavailable(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 1, time.Hour)

	appt, _ := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"})
	h.catalog.failSlot = errors.New("catalog unavailable")

	if _, err := h.engine.MarkMissed(context.Background(), staff, appt.ID); err == nil {
		t.Fatal("expected MarkMissed to fail when the window cannot be checked")
	}
	got, _ := h.appts.Get(context.Background(), appt.ID)
	if got.Status != model.StatusPending {
		t.Fatalf("guard bypassed on catalog error: status %s", got.Status)
	}
	if occ := h.slots.occupancy("slot-1"); occ != 1 {
		t.Fatalf("capacity released on failed guard: occupancy %d", occ)
	}
}

func TestTerminalStatusRejectsTransitions(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 1, time.Hour)

	appt, _ := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"})
	if _, err := h.engine.Cancel(context.Background(), customer, appt.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if _, err := h.engine.Cancel(context.Background(), staff, appt.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on canceled, got %v", err)
	}
	if _, err := h.engine.Confirm(context.Background(), staff, appt.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on canceled, got %v", err)
	}

	// Canceled exactly once; occupancy stays released.
	if occ := h.slots.occupancy("slot-1"); occ != 0 {
		t.Fatalf("expected occupancy 0, got %d", occ)
	}
}

func TestSweepMissed(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 3, time.Hour)

	a1, _ := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"})
	a2, _ := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"})
	a3, _ := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"})
	if _, err := h.engine.Confirm(context.Background(), staff, a2.ID); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if _, err := h.engine.Cancel(context.Background(), customer, a3.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	h.clock = testBase.Add(3 * time.Hour)
	swept, err := h.engine.SweepMissed(context.Background(), 50)
	if err != nil {
		t.Fatalf("SweepMissed failed: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept, got %d", swept)
	}
	missed, _ := h.appts.Get(context.Background(), a1.ID)
	if missed.Status != model.StatusMissed {
		t.Fatalf("pending appointment: expected missed, got %s", missed.Status)
	}
	if missed.UpdatedBy != "missed-sweep" {
		t.Fatalf("expected sweep actor, got %q", missed.UpdatedBy)
	}
	confirmed, _ := h.appts.Get(context.Background(), a2.ID)
	if confirmed.Status != model.StatusConfirmed {
		t.Fatalf("sweep touched confirmed appointment: %s", confirmed.Status)
	}
	canceled, _ := h.appts.Get(context.Background(), a3.ID)
	if canceled.Status != model.StatusCanceled {
		t.Fatalf("sweep touched canceled appointment: %s", canceled.Status)
	}
	// a2 still holds its unit; a1 and a3 released theirs.
	if occ := h.slots.occupancy("slot-1"); occ != 1 {
		t.Fatalf("expected occupancy 1 after sweep, got %d", occ)
	}
}

// Confirmed past the slot window is the state feedback eligibility reads.
// The sweeper must not collapse it; closing a confirmed appointment as a
// no-show stays an explicit staff call.
func TestSweepSparesConfirmedAppointments(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 1, time.Hour)

	appt, _ := h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"})
	if _, err := h.engine.Confirm(context.Background(), staff, appt.ID); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	h.clock = testBase.Add(3 * time.Hour)
	if swept, err := h.engine.SweepMissed(context.Background(), 50); err != nil || swept != 0 {
		t.Fatalf("sweep over confirmed: swept=%d err=%v", swept, err)
	}
	got, _ := h.appts.Get(context.Background(), appt.ID)
	if got.Status != model.StatusConfirmed {
		t.Fatalf("expected confirmed after sweep, got %s", got.Status)
	}

	// Staff can still record the no-show by hand.
	if _, err := h.engine.MarkMissed(context.Background(), staff, appt.ID); err != nil {
		t.Fatalf("explicit MarkMissed after sweep failed: %v", err)
	}
}

func TestSweepMissedIdempotent(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 1, time.Hour)
	h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"})

	h.clock = testBase.Add(3 * time.Hour)
	if swept, err := h.engine.SweepMissed(context.Background(), 50); err != nil || swept != 1 {
		t.Fatalf("first sweep: swept=%d err=%v", swept, err)
	}
	if swept, err := h.engine.SweepMissed(context.Background(), 50); err != nil || swept != 0 {
		t.Fatalf("second sweep: swept=%d err=%v", swept, err)
	}
}

func TestListAppointmentsAuthorization(t *testing.T) {
	h := newHarness(t)
	h.addSlot("slot-1", 3, time.Hour)
	h.engine.Book(context.Background(), customer, BookRequest{SlotID: "slot-1"})

	if _, err := h.engine.ListAppointmentsForCustomer(context.Background(), customer, "cust-2", 10); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized listing other customer, got %v", err)
	}
	own, err := h.engine.ListAppointmentsForCustomer(context.Background(), customer, "", 10)
	if err != nil || len(own) != 1 {
		t.Fatalf("expected own listing of 1, got %d err=%v", len(own), err)
	}
	if _, err := h.engine.ListAppointmentsForStaff(context.Background(), customer, "staff-1", 10); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for customer staff listing, got %v", err)
	}
	byStaff, err := h.engine.ListAppointmentsForStaff(context.Background(), staff, "staff-1", 10)
	if err != nil || len(byStaff) != 1 {
		t.Fatalf("expected staff listing of 1, got %d err=%v", len(byStaff), err)
	}
}
