package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/liwei-chiu/slotbook/internal/engine"
	"github.com/liwei-chiu/slotbook/internal/feedback"
	"github.com/liwei-chiu/slotbook/internal/model"
)

// FeedbackStore is the slice of the feedback repository the handler needs.
type FeedbackStore interface {
	Create(ctx context.Context, fb model.Feedback, customerID string) error
	GetByAppointment(ctx context.Context, appointmentID string) (model.Feedback, error)
}

type FeedbackHandler struct {
	store  FeedbackStore
	logger *slog.Logger
}

func NewFeedbackHandler(store FeedbackStore, logger *slog.Logger) *FeedbackHandler {
	return &FeedbackHandler{store: store, logger: logger}
}

type createFeedbackRequest struct {
	AppointmentID string `json:"appointment_id"`
	Rating        int    `json:"rating"`
	Comment       string `json:"comment,omitempty"`
}

func (h *FeedbackHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	var req createFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	fb := model.Feedback{
		ID:            uuid.NewString(),
		AppointmentID: req.AppointmentID,
		Rating:        req.Rating,
		Comment:       strings.TrimSpace(req.Comment),
	}
	if err := h.store.Create(r.Context(), fb, actor.ID); err != nil {
		switch {
		case errors.Is(err, feedback.ErrInvalidRating):
			writeError(w, http.StatusBadRequest, "invalid_rating", "rating must be between 1 and 5")
		case errors.Is(err, feedback.ErrNotEligible):
			writeError(w, http.StatusConflict, "not_eligible", "appointment is not finished yet")
		case errors.Is(err, feedback.ErrAlreadySubmitted):
			writeError(w, http.StatusConflict, "already_submitted", "feedback already submitted")
		case errors.Is(err, engine.ErrNotFound):
			writeError(w, http.StatusNotFound, "not_found", "appointment not found")
		default:
			h.logger.Error("feedback create failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "internal error")
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"feedback_id": fb.ID})
}

type feedbackItem struct {
	FeedbackID    string `json:"feedback_id"`
	AppointmentID string `json:"appointment_id"`
	Rating        int    `json:"rating"`
	Comment       string `json:"comment,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// Get returns the rating submitted for one appointment. Staff-side roles
// only; routing enforces that.
func (h *FeedbackHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	appointmentID := strings.TrimSpace(r.URL.Query().Get("appointment_id"))
	if appointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	fb, err := h.store.GetByAppointment(r.Context(), appointmentID)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no feedback for this appointment")
			return
		}
		h.logger.Error("feedback lookup failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, feedbackItem{
		FeedbackID:    fb.ID,
		AppointmentID: fb.AppointmentID,
		Rating:        fb.Rating,
		Comment:       fb.Comment,
		CreatedAt:     fb.CreatedAt.UTC().Format(time.RFC3339),
	})
}
