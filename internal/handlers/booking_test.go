package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/liwei-chiu/slotbook/internal/engine"
)

func TestWriteEngineErrorMapping(t *testing.T) {
	h := &BookingHandler{logger: slog.New(slog.DiscardHandler)}

	cases := []struct {
		err    error
		status int
		code   string
	}{
		{engine.ErrNotFound, 404, "not_found"},
		{engine.ErrSlotFull, 409, "slot_full"},
		{engine.ErrSlotInactive, 409, "slot_unavailable"},
		{engine.ErrSlotExpired, 409, "slot_unavailable"},
		{fmt.Errorf("reserve: %w", engine.ErrSlotExpired), 409, "slot_unavailable"},
		{engine.ErrInvalidTransition, 409, "invalid_transition"},
		{engine.ErrUnauthorized, 403, "forbidden"},
		{errors.New("pg down"), 500, "internal"},
	}
	for _, c := range cases {
		rw := httptest.NewRecorder()
		h.writeEngineError(rw, c.err)
		if rw.Code != c.status {
			t.Errorf("%v: expected status %d, got %d", c.err, c.status, rw.Code)
		}
		var body struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(rw.Body.Bytes(), &body); err != nil {
			t.Fatalf("%v: invalid error body: %v", c.err, err)
		}
		if body.Error != c.code {
			t.Errorf("%v: expected code %q, got %q", c.err, c.code, body.Error)
		}
	}
}
