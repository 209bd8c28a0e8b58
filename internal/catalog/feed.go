package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/liwei-chiu/slotbook/internal/consumer"
	"github.com/liwei-chiu/slotbook/internal/model"
	"github.com/segmentio/kafka-go"
)

// Topics of the schedule feed published by the staff-scheduling collaborator.
const (
	TopicSchedulePublished = "catalog.schedule.published.v1"
	TopicScheduleRevoked   = "catalog.schedule.revoked.v1"
)

// SlotWriter is the provisioning half of the slot store: bulk slot creation
// when a schedule is published, deactivation when it is revoked. Occupancy
// is never touched through this interface.
type SlotWriter interface {
	Insert(ctx context.Context, slot model.Slot) error
	DeactivateWindow(ctx context.Context, staffID string, from, to time.Time) (int64, error)
}

type schedulePublished struct {
	ScheduleID  string `json:"schedule_id"`
	StaffID     string `json:"staff_id"`
	ServiceID   string `json:"service_id"`
	WindowStart string `json:"window_start"`
	WindowEnd   string `json:"window_end"`
	SlotMinutes int    `json:"slot_minutes"`
	Capacity    int    `json:"capacity"`
}

type scheduleRevoked struct {
	ScheduleID  string `json:"schedule_id"`
	StaffID     string `json:"staff_id"`
	WindowStart string `json:"window_start"`
	WindowEnd   string `json:"window_end"`
}

// FeedHandler consumes the schedule feed and keeps the slot table in step
// with it: published windows are carved into slots, revoked windows are
// deactivated. Malformed events are logged and dropped, not retried.
func FeedHandler(logger *slog.Logger, slots SlotWriter) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		switch msg.Topic {
		case TopicSchedulePublished:
			return handlePublished(ctx, logger, slots, msg.Value)
		case TopicScheduleRevoked:
			return handleRevoked(ctx, logger, slots, msg.Value)
		default:
			logger.Warn("unexpected schedule feed topic", "topic", msg.Topic)
			return nil
		}
	}
}

func handlePublished(ctx context.Context, logger *slog.Logger, slots SlotWriter, raw []byte) error {
	var evt schedulePublished
	if err := json.Unmarshal(raw, &evt); err != nil {
		logger.Error("invalid schedule published payload", "err", err)
		return nil
	}
	start, end, ok := parseWindow(evt.WindowStart, evt.WindowEnd)
	if !ok || evt.StaffID == "" || evt.ServiceID == "" || evt.SlotMinutes <= 0 {
		logger.Error("schedule published event missing required fields", "schedule_id", evt.ScheduleID)
		return nil
	}
	capacity := evt.Capacity
	if capacity < 1 {
		capacity = 1
	}

	duration := time.Duration(evt.SlotMinutes) * time.Minute
	windows := CarveWindows(Window{Start: start, End: end}, duration, time.Now().UTC())
	for _, w := range windows {
		err := slots.Insert(ctx, model.Slot{
			ID:          uuid.NewString(),
			StaffID:     evt.StaffID,
			ServiceID:   evt.ServiceID,
			StartTime:   w.Start,
			EndTime:     w.End,
			MaxCapacity: capacity,
			Active:      true,
			CreatedBy:   evt.ScheduleID,
		})
		if err != nil {
			return err
		}
	}
	logger.Info("schedule published, slots provisioned",
		"schedule_id", evt.ScheduleID,
		"staff_id", evt.StaffID,
		"slots", len(windows),
	)
	return nil
}

func handleRevoked(ctx context.Context, logger *slog.Logger, slots SlotWriter, raw []byte) error {
	var evt scheduleRevoked
	if err := json.Unmarshal(raw, &evt); err != nil {
		logger.Error("invalid schedule revoked payload", "err", err)
		return nil
	}
	start, end, ok := parseWindow(evt.WindowStart, evt.WindowEnd)
	if !ok || evt.StaffID == "" {
		logger.Error("schedule revoked event missing required fields", "schedule_id", evt.ScheduleID)
		return nil
	}

	deactivated, err := slots.DeactivateWindow(ctx, evt.StaffID, start, end)
	if err != nil {
		return err
	}
	logger.Info("schedule revoked, slots deactivated",
		"schedule_id", evt.ScheduleID,
		"staff_id", evt.StaffID,
		"slots", deactivated,
	)
	return nil
}

func parseWindow(rawStart, rawEnd string) (time.Time, time.Time, bool) {
	start, err := time.Parse(time.RFC3339, rawStart)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(time.RFC3339, rawEnd)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, false
	}
	return start.UTC(), end.UTC(), true
}
