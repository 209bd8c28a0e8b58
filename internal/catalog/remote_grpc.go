//go:build protogen

package catalog

import (
	"context"
	"time"

	"github.com/liwei-chiu/slotbook/internal/engine"
	"github.com/liwei-chiu/slotbook/internal/model"
	"github.com/liwei-chiu/slotbook/libs/grpcx"
	catalogv1 "github.com/liwei-chiu/slotbook/protos/gen/catalog/v1"
)

type remoteCatalog struct {
	client catalogv1.ScheduleCatalogClient
}

// NewRemote dials the external schedule catalog service. Empty address means
// no remote catalog is configured.
func NewRemote(addr string) (engine.Catalog, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &remoteCatalog{client: catalogv1.NewScheduleCatalogClient(conn)}, nil
}

func (c *remoteCatalog) Slot(ctx context.Context, slotID string) (model.Slot, error) {
	resp, err := c.client.GetSlot(ctx, &catalogv1.GetSlotRequest{SlotId: slotID})
	if err != nil {
		return model.Slot{}, err
	}
	return slotFromProto(resp.GetSlot()), nil
}

func (c *remoteCatalog) FindSlots(ctx context.Context, staffID, serviceID string, from, to time.Time) ([]model.Slot, error) {
	resp, err := c.client.FindSlots(ctx, &catalogv1.FindSlotsRequest{
		StaffId:   staffID,
		ServiceId: serviceID,
		FromUtc:   from.UTC().Format(time.RFC3339),
		ToUtc:     to.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	slots := make([]model.Slot, 0, len(resp.GetSlots()))
	for _, s := range resp.GetSlots() {
		slots = append(slots, slotFromProto(s))
	}
	return slots, nil
}

func slotFromProto(s *catalogv1.Slot) model.Slot {
	if s == nil {
		return model.Slot{}
	}
	slot := model.Slot{
		ID:          s.GetId(),
		StaffID:     s.GetStaffId(),
		ServiceID:   s.GetServiceId(),
		MaxCapacity: int(s.GetMaxCapacity()),
		Occupancy:   int(s.GetOccupancy()),
		Active:      s.GetActive(),
	}
	if s.GetStartUtc() != nil {
		slot.StartTime = s.GetStartUtc().AsTime()
	}
	if s.GetEndUtc() != nil {
		slot.EndTime = s.GetEndUtc().AsTime()
	}
	return slot
}
