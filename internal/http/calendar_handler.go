package http

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/facility-booking/internal/application"
	"github.com/example/facility-booking/internal/calendar"
	"github.com/example/facility-booking/internal/logging"
)

type roomCalendarService interface {
	RoomCalendar(ctx context.Context, roomID string) (application.Room, []application.Reservation, error)
}

// CalendarHandler publishes a room's reservations as an iCalendar feed.
type CalendarHandler struct {
	service   roomCalendarService
	now       func() time.Time
	responder responder
	logger    *slog.Logger
}

func NewCalendarHandler(service roomCalendarService, now func() time.Time, logger *slog.Logger) *CalendarHandler {
	if now == nil {
		now = time.Now
	}
	base := logging.OrDefault(logger)
	return &CalendarHandler{service: service, now: now, responder: newResponder(base), logger: base}
}

func (h *CalendarHandler) RoomFeed(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	roomID, ok := RoomIDFromContext(r.Context())
	if !ok || strings.TrimSpace(roomID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidRoomID)
		return
	}

	logger := logging.Scoped(r.Context(), h.logger, "handler", "CalendarHandler", "RoomFeed", "room_id", roomID)
	room, reservations, err := h.service.RoomCalendar(r.Context(), roomID)
	if err != nil {
		logger.ErrorContext(r.Context(), "room calendar lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	events := make([]calendar.Event, 0, len(reservations))
	for _, reservation := range reservations {
		events = append(events, calendar.Event{
			UID:        reservation.ID,
			Summary:    reservation.Title,
			Location:   roomLocation(room),
			Start:      reservation.Start,
			End:        reservation.End,
			Recurrence: reservation.Recurrence,
			Created:    reservation.CreatedAt,
		})
	}

	var buf bytes.Buffer
	if err := calendar.Encode(&buf, room.Name, events, h.now()); err != nil {
		logger.ErrorContext(r.Context(), "failed to encode room calendar", "error", err, "error_kind", "unexpected")
		h.responder.writeError(r.Context(), w, http.StatusInternalServerError, nil)
		return
	}

	logger.With("event_count", len(events)).InfoContext(r.Context(), "room calendar served")
	w.Header().Set("Content-Type", calendar.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func roomLocation(room application.Room) string {
	if room.Location == "" {
		return room.Name
	}
	return room.Name + " (" + room.Location + ")"
}

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether the database is reachable.
type HealthHandler struct {
	db        pinger
	responder responder
}

func NewHealthHandler(db pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, responder: newResponder(logging.OrDefault(logger))}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.db == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if err := h.db.Ping(r.Context()); err != nil {
		h.responder.loggerFor(r.Context()).ErrorContext(r.Context(), "database ping failed", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusServiceUnavailable, errStorageUnavailable)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, healthResponse{Status: "ok"})
}

type healthResponse struct {
	Status string `json:"status"`
}
