// Package notify hands lifecycle events to the notification delivery
// collaborator through the outbox. Emission is best-effort by contract: the
// engine logs and swallows any error returned from here.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/liwei-chiu/slotbook/internal/model"
	"github.com/liwei-chiu/slotbook/internal/outbox"
	"github.com/liwei-chiu/slotbook/libs/db"
)

type OutboxEmitter struct {
	pool *db.Pool
	repo *outbox.Repository
}

func NewOutboxEmitter(pool *db.Pool, repo *outbox.Repository) *OutboxEmitter {
	return &OutboxEmitter{pool: pool, repo: repo}
}

func (e *OutboxEmitter) Emit(ctx context.Context, evt model.LifecycleEvent) error {
	payload, err := json.Marshal(map[string]any{
		"event_type":     string(evt.EventType),
		"appointment_id": evt.AppointmentID,
		"customer_id":    evt.CustomerID,
		"staff_id":       evt.StaffID,
		"message":        evt.Message,
		"occurred_at":    evt.OccurredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := e.repo.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   evt.AppointmentID,
		EventType:     evt.EventType.Topic(),
		Payload:       payload,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
