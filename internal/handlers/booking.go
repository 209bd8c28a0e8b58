package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/liwei-chiu/slotbook/internal/engine"
	"github.com/liwei-chiu/slotbook/internal/model"
)

type BookingHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

func NewBookingHandler(eng *engine.Engine, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{engine: eng, logger: logger}
}

type bookRequest struct {
	SlotID     string `json:"slot_id"`
	CustomerID string `json:"customer_id,omitempty"`
	Note       string `json:"note,omitempty"`
}

type transitionRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type appointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	CustomerID    string `json:"customer_id"`
	StaffID       string `json:"staff_id"`
	ServiceID     string `json:"service_id"`
	SlotID        string `json:"slot_id"`
	Status        string `json:"status"`
	Note          string `json:"note,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type historyItem struct {
	Status     string `json:"status"`
	ActorID    string `json:"actor_id,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

type slotItem struct {
	SlotID    string `json:"slot_id"`
	StaffID   string `json:"staff_id"`
	ServiceID string `json:"service_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Capacity  int    `json:"capacity"`
	Remaining int    `json:"remaining"`
	Bookable  bool   `json:"bookable"`
}

func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.SlotID = strings.TrimSpace(req.SlotID)
	if req.SlotID == "" {
		http.Error(w, "slot_id required", http.StatusBadRequest)
		return
	}

	appt, err := h.engine.Book(r.Context(), actor, engine.BookRequest{
		CustomerID: strings.TrimSpace(req.CustomerID),
		SlotID:     req.SlotID,
		Note:       strings.TrimSpace(req.Note),
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentItem(appt))
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Confirm)
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Cancel)
}

func (h *BookingHandler) MarkMissed(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.MarkMissed)
}

type transitionFunc func(ctx context.Context, actor model.Actor, appointmentID string) (model.Appointment, error)

func (h *BookingHandler) transition(w http.ResponseWriter, r *http.Request, apply transitionFunc) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	appt, err := apply(r.Context(), actor, req.AppointmentID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentItem(appt))
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	appt, err := h.engine.GetAppointment(r.Context(), actor, id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentItem(appt))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var appts []model.Appointment
	var err error
	if staffID := strings.TrimSpace(r.URL.Query().Get("staff_id")); staffID != "" {
		appts, err = h.engine.ListAppointmentsForStaff(r.Context(), actor, staffID, limit)
	} else {
		appts, err = h.engine.ListAppointmentsForCustomer(r.Context(), actor, strings.TrimSpace(r.URL.Query().Get("customer_id")), limit)
	}
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toAppointmentItem(appt))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) History(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	entries, err := h.engine.ListHistory(r.Context(), actor, id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	items := make([]historyItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, historyItem{
			Status:     string(e.Status),
			ActorID:    e.ActorID,
			RecordedAt: e.RecordedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	staffID := strings.TrimSpace(r.URL.Query().Get("staff_id"))
	serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
	if staffID == "" || serviceID == "" {
		http.Error(w, "staff_id and service_id required", http.StatusBadRequest)
		return
	}
	from, err := time.Parse(time.RFC3339, strings.TrimSpace(r.URL.Query().Get("from")))
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, strings.TrimSpace(r.URL.Query().Get("to")))
	if err != nil || !to.After(from) {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}

	slots, err := h.engine.FindSlots(r.Context(), staffID, serviceID, from, to)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	now := time.Now().UTC()
	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			SlotID:    s.ID,
			StaffID:   s.StaffID,
			ServiceID: s.ServiceID,
			StartTime: s.StartTime.UTC().Format(time.RFC3339),
			EndTime:   s.EndTime.UTC().Format(time.RFC3339),
			Capacity:  s.MaxCapacity,
			Remaining: s.Remaining(),
			Bookable:  s.Bookable(now),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) Remaining(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	slotID := strings.TrimSpace(r.URL.Query().Get("slot_id"))
	if slotID == "" {
		http.Error(w, "slot_id required", http.StatusBadRequest)
		return
	}

	remaining, err := h.engine.CapacityRemaining(r.Context(), slotID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slot_id": slotID, "remaining": remaining})
}

// writeEngineError maps engine outcomes to HTTP. Full and unavailable slots
// get distinct codes from not-found so callers can offer re-selection.
func (h *BookingHandler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, engine.ErrSlotFull):
		writeError(w, http.StatusConflict, "slot_full", "slot is no longer available")
	case engine.SlotUnavailable(err):
		writeError(w, http.StatusConflict, "slot_unavailable", "slot no longer accepts bookings")
	case errors.Is(err, engine.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", "appointment status does not allow this change")
	case errors.Is(err, engine.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden", "not allowed")
	default:
		h.logger.Error("booking operation failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func toAppointmentItem(appt model.Appointment) appointmentItem {
	return appointmentItem{
		AppointmentID: appt.ID,
		CustomerID:    appt.CustomerID,
		StaffID:       appt.StaffID,
		ServiceID:     appt.ServiceID,
		SlotID:        appt.SlotID,
		Status:        string(appt.Status),
		Note:          appt.Note,
		CreatedAt:     appt.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     appt.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
