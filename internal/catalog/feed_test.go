package catalog

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/liwei-chiu/slotbook/internal/model"
	"github.com/segmentio/kafka-go"
)

type recordingSlotWriter struct {
	inserted    []model.Slot
	deactivated []struct {
		staffID  string
		from, to time.Time
	}
}

func (w *recordingSlotWriter) Insert(_ context.Context, slot model.Slot) error {
	w.inserted = append(w.inserted, slot)
	return nil
}

func (w *recordingSlotWriter) DeactivateWindow(_ context.Context, staffID string, from, to time.Time) (int64, error) {
	w.deactivated = append(w.deactivated, struct {
		staffID  string
		from, to time.Time
	}{staffID, from, to})
	return 3, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestFeedHandlerPublishedProvisionsSlots(t *testing.T) {
	w := &recordingSlotWriter{}
	handler := FeedHandler(testLogger(), w)

	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Hour)
	end := start.Add(2 * time.Hour)
	payload := `{
		"schedule_id": "sched-1",
		"staff_id": "staff-1",
		"service_id": "svc-1",
		"window_start": "` + start.Format(time.RFC3339) + `",
		"window_end": "` + end.Format(time.RFC3339) + `",
		"slot_minutes": 30,
		"capacity": 2
	}`

	err := handler(context.Background(), kafka.Message{Topic: TopicSchedulePublished, Value: []byte(payload)})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if len(w.inserted) != 4 {
		t.Fatalf("expected 4 slots provisioned, got %d", len(w.inserted))
	}
	for i, s := range w.inserted {
		if s.StaffID != "staff-1" || s.ServiceID != "svc-1" {
			t.Fatalf("slot %d has wrong identifiers: %+v", i, s)
		}
		if s.MaxCapacity != 2 || !s.Active {
			t.Fatalf("slot %d has wrong capacity/active: %+v", i, s)
		}
		if s.ID == "" {
			t.Fatalf("slot %d missing id", i)
		}
	}
	if !w.inserted[0].StartTime.Equal(start) {
		t.Fatalf("expected first slot at %s, got %s", start, w.inserted[0].StartTime)
	}
}

func TestFeedHandlerRevokedDeactivates(t *testing.T) {
	w := &recordingSlotWriter{}
	handler := FeedHandler(testLogger(), w)

	payload := `{
		"schedule_id": "sched-1",
		"staff_id": "staff-1",
		"window_start": "2026-03-11T09:00:00Z",
		"window_end": "2026-03-11T12:00:00Z"
	}`

	err := handler(context.Background(), kafka.Message{Topic: TopicScheduleRevoked, Value: []byte(payload)})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if len(w.deactivated) != 1 {
		t.Fatalf("expected 1 deactivation, got %d", len(w.deactivated))
	}
	if w.deactivated[0].staffID != "staff-1" {
		t.Fatalf("wrong staff id: %s", w.deactivated[0].staffID)
	}
}

func TestFeedHandlerDropsMalformedEvents(t *testing.T) {
	w := &recordingSlotWriter{}
	handler := FeedHandler(testLogger(), w)

	cases := []string{
		`not json`,
		`{"schedule_id":"s","staff_id":"","service_id":"svc","window_start":"2026-03-11T09:00:00Z","window_end":"2026-03-11T10:00:00Z","slot_minutes":30}`,
		`{"schedule_id":"s","staff_id":"staff-1","service_id":"svc","window_start":"2026-03-11T10:00:00Z","window_end":"2026-03-11T09:00:00Z","slot_minutes":30}`,
		`{"schedule_id":"s","staff_id":"staff-1","service_id":"svc","window_start":"bad","window_end":"2026-03-11T10:00:00Z","slot_minutes":30}`,
	}
	for i, payload := range cases {
		err := handler(context.Background(), kafka.Message{Topic: TopicSchedulePublished, Value: []byte(payload)})
		if err != nil {
			t.Fatalf("case %d: malformed event should be dropped, got error: %v", i, err)
		}
	}
	if len(w.inserted) != 0 {
		t.Fatalf("malformed events provisioned %d slots", len(w.inserted))
	}
}
