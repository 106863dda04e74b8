package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/facility-booking/internal/application"
	"github.com/example/facility-booking/internal/interval"
	"github.com/example/facility-booking/internal/logging"
)

type reservationService interface {
	CreateReservation(ctx context.Context, input application.ReservationInput) (application.Reservation, error)
	CheckReservation(ctx context.Context, input application.ReservationInput) (application.Reservation, error)
	GetReservation(ctx context.Context, id string) (application.Reservation, error)
	CancelReservation(ctx context.Context, id string) error
	ListReservations(ctx context.Context, params application.ListReservationsParams) ([]application.Reservation, error)
}

// ReservationHandler serves booking requests and room reservation listings.
type ReservationHandler struct {
	service   reservationService
	responder responder
	logger    *slog.Logger
}

func NewReservationHandler(service reservationService, logger *slog.Logger) *ReservationHandler {
	base := logging.OrDefault(logger)
	return &ReservationHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *ReservationHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return logging.Scoped(ctx, h.logger, "handler", "ReservationHandler", operation, attrs...)
}

func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	input, ok := h.decodeInput(w, r, "Create")
	if !ok {
		return
	}
	logger := h.log(r.Context(), "Create", "room_id", input.RoomID)

	reservation, err := h.service.CreateReservation(r.Context(), input)
	if err != nil {
		logger.WarnContext(r.Context(), "reservation refused", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("reservation_id", reservation.ID).InfoContext(r.Context(), "reservation created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, reservationResponse{Reservation: toReservationDTO(reservation)})
}

// Check evaluates a booking request without persisting it. Engine rejections
// are reported as a verdict rather than an error status.
func (h *ReservationHandler) Check(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	input, ok := h.decodeInput(w, r, "Check")
	if !ok {
		return
	}
	logger := h.log(r.Context(), "Check", "room_id", input.RoomID)

	candidate, err := h.service.CheckReservation(r.Context(), input)
	var rejected *application.BookingRejectedError
	switch {
	case err == nil:
		dto := toReservationDTO(candidate)
		h.responder.writeJSON(r.Context(), w, http.StatusOK, checkResponse{Accepted: true, Reservation: &dto})
	case errors.As(err, &rejected):
		rejection := toRejectionResponse(rejected)
		h.responder.writeJSON(r.Context(), w, http.StatusOK, checkResponse{Accepted: false, Rejection: &rejection})
	default:
		logger.ErrorContext(r.Context(), "reservation check failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
	}
}

func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id, ok := ReservationIDFromContext(r.Context())
	if !ok || strings.TrimSpace(id) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidReservationID)
		return
	}

	reservation, err := h.service.GetReservation(r.Context(), id)
	if err != nil {
		h.log(r.Context(), "Get", "reservation_id", id).ErrorContext(r.Context(), "reservation lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, reservationResponse{Reservation: toReservationDTO(reservation)})
}

func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id, ok := ReservationIDFromContext(r.Context())
	if !ok || strings.TrimSpace(id) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidReservationID)
		return
	}

	logger := h.log(r.Context(), "Cancel", "reservation_id", id)
	if err := h.service.CancelReservation(r.Context(), id); err != nil {
		logger.ErrorContext(r.Context(), "reservation cancel failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "reservation cancelled")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// ListForRoom serves GET /rooms/{id}/reservations?from=&to=.
func (h *ReservationHandler) ListForRoom(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	roomID, ok := RoomIDFromContext(r.Context())
	if !ok || strings.TrimSpace(roomID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidRoomID)
		return
	}

	params, vErr := buildListParams(roomID, r.URL.Query())
	if vErr != nil {
		h.responder.handleServiceError(r.Context(), w, vErr)
		return
	}

	logger := h.log(r.Context(), "ListForRoom", "room_id", roomID)
	reservations, err := h.service.ListReservations(r.Context(), params)
	if err != nil {
		logger.ErrorContext(r.Context(), "reservation list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("result_count", len(reservations)).InfoContext(r.Context(), "reservations listed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listReservationsResponse{Reservations: toReservationDTOs(reservations)})
}

func (h *ReservationHandler) decodeInput(w http.ResponseWriter, r *http.Request, operation string) (application.ReservationInput, bool) {
	var req reservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), operation, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode reservation request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return application.ReservationInput{}, false
	}
	input, vErr := req.toInput()
	if vErr != nil {
		h.log(r.Context(), operation, "error_kind", "validation").WarnContext(r.Context(), "malformed reservation timestamps", "error", vErr)
		h.responder.handleServiceError(r.Context(), w, vErr)
		return application.ReservationInput{}, false
	}
	return input, true
}

type reservationRequest struct {
	RoomID            string             `json:"room_id"`
	Title             string             `json:"title"`
	Start             string             `json:"start"`
	End               string             `json:"end"`
	Attendees         int                `json:"attendees"`
	RequiredAmenities []string           `json:"required_amenities"`
	Recurrence        *recurrenceRequest `json:"recurrence"`
}

type recurrenceRequest struct {
	Frequency string `json:"frequency"`
	Step      *int   `json:"step"`
	SeriesEnd string `json:"series_end"`
	RRule     string `json:"rrule"`
}

func (r reservationRequest) toInput() (application.ReservationInput, *application.ValidationError) {
	fields := map[string]string{}
	input := application.ReservationInput{
		RoomID:            strings.TrimSpace(r.RoomID),
		Title:             strings.TrimSpace(r.Title),
		Start:             parseTimestamp(r.Start, "start", fields),
		End:               parseTimestamp(r.End, "end", fields),
		Attendees:         r.Attendees,
		RequiredAmenities: append([]string(nil), r.RequiredAmenities...),
	}
	if rec := r.Recurrence; rec != nil {
		input.Recurrence = &application.RecurrenceInput{
			Frequency: strings.TrimSpace(rec.Frequency),
			Step:      rec.Step,
			SeriesEnd: parseTimestamp(rec.SeriesEnd, "recurrence.series_end", fields),
			RRule:     strings.TrimSpace(rec.RRule),
		}
	}
	if len(fields) > 0 {
		return application.ReservationInput{}, &application.ValidationError{FieldErrors: fields}
	}
	return input, nil
}

func buildListParams(roomID string, values url.Values) (application.ListReservationsParams, *application.ValidationError) {
	fields := map[string]string{}
	params := application.ListReservationsParams{
		RoomID: roomID,
		From:   parseTimestamp(values.Get("from"), "from", fields),
		To:     parseTimestamp(values.Get("to"), "to", fields),
	}
	if len(fields) > 0 {
		return application.ListReservationsParams{}, &application.ValidationError{FieldErrors: fields}
	}
	return params, nil
}

// parseTimestamp returns the zero time for blank values and records a field
// error for values that are not RFC 3339.
func parseTimestamp(value, field string, fields map[string]string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		fields[field] = "must be an RFC 3339 timestamp"
		return time.Time{}
	}
	return ts
}

type reservationResponse struct {
	Reservation reservationDTO `json:"reservation"`
}

type listReservationsResponse struct {
	Reservations []reservationDTO `json:"reservations"`
}

type checkResponse struct {
	Accepted    bool            `json:"accepted"`
	Reservation *reservationDTO `json:"reservation,omitempty"`
	Rejection   *errorResponse  `json:"rejection,omitempty"`
}

type reservationDTO struct {
	ID                string          `json:"id,omitempty"`
	RoomID            string          `json:"room_id"`
	Title             string          `json:"title"`
	Start             string          `json:"start"`
	End               string          `json:"end"`
	Attendees         int             `json:"attendees"`
	RequiredAmenities []string        `json:"required_amenities"`
	Recurrence        *recurrenceDTO  `json:"recurrence,omitempty"`
	ActiveUntil       string          `json:"active_until,omitempty"`
	CreatedAt         string          `json:"created_at,omitempty"`
	Occurrences       []occurrenceDTO `json:"occurrences,omitempty"`
}

type recurrenceDTO struct {
	Frequency string `json:"frequency"`
	Step      int    `json:"step"`
	SeriesEnd string `json:"series_end"`
	RRule     string `json:"rrule,omitempty"`
	Count     int    `json:"count,omitempty"`
}

type occurrenceDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func toReservationDTO(reservation application.Reservation) reservationDTO {
	amenities := reservation.RequiredAmenities
	if amenities == nil {
		amenities = []string{}
	}
	dto := reservationDTO{
		ID:                reservation.ID,
		RoomID:            reservation.RoomID,
		Title:             reservation.Title,
		Start:             formatTimestamp(reservation.Start),
		End:               formatTimestamp(reservation.End),
		Attendees:         reservation.Attendees,
		RequiredAmenities: amenities,
		ActiveUntil:       formatTimestamp(reservation.ActiveUntil),
		CreatedAt:         formatTimestamp(reservation.CreatedAt),
		Occurrences:       toOccurrenceDTOs(reservation.Occurrences),
	}
	if rule, ok := reservation.Recurrence.Get(); ok {
		rec := &recurrenceDTO{
			Frequency: rule.Frequency.String(),
			Step:      rule.Step,
			SeriesEnd: formatTimestamp(rule.SeriesEnd),
			Count:     reservation.SeriesLength,
		}
		if value, err := rule.RRule(reservation.Anchor()); err == nil {
			rec.RRule = value
		}
		dto.Recurrence = rec
	}
	return dto
}

func toReservationDTOs(reservations []application.Reservation) []reservationDTO {
	out := make([]reservationDTO, 0, len(reservations))
	for _, reservation := range reservations {
		out = append(out, toReservationDTO(reservation))
	}
	return out
}

func toOccurrenceDTOs(occurrences []interval.Interval) []occurrenceDTO {
	if len(occurrences) == 0 {
		return nil
	}
	out := make([]occurrenceDTO, 0, len(occurrences))
	for _, occ := range occurrences {
		out = append(out, occurrenceDTO{Start: formatTimestamp(occ.Start), End: formatTimestamp(occ.End)})
	}
	return out
}

// formatTimestamp keeps the location the service localized the value to.
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
