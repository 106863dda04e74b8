package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/samber/mo"

	"github.com/example/facility-booking/internal/application"
	"github.com/example/facility-booking/internal/calendar"
	"github.com/example/facility-booking/internal/interval"
	"github.com/example/facility-booking/internal/recurrence"
	"github.com/example/facility-booking/internal/scheduler"
)

var jst = time.FixedZone("JST", 9*60*60)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type roomServiceStub struct {
	createInput application.RoomInput
	createRoom  application.Room
	createErr   error

	getRoom application.Room
	getErr  error

	updateParams application.UpdateRoomParams
	updateErr    error

	deletedID string
	deleteErr error

	listRooms []application.Room
	listErr   error
}

func (s *roomServiceStub) CreateRoom(_ context.Context, input application.RoomInput) (application.Room, error) {
	s.createInput = input
	return s.createRoom, s.createErr
}

func (s *roomServiceStub) GetRoom(_ context.Context, id string) (application.Room, error) {
	if s.getErr != nil {
		return application.Room{}, s.getErr
	}
	return s.getRoom, nil
}

func (s *roomServiceStub) UpdateRoom(_ context.Context, params application.UpdateRoomParams) (application.Room, error) {
	s.updateParams = params
	if s.updateErr != nil {
		return application.Room{}, s.updateErr
	}
	return application.Room{ID: params.RoomID, Name: params.Input.Name, Capacity: params.Input.Capacity}, nil
}

func (s *roomServiceStub) DeleteRoom(_ context.Context, id string) error {
	s.deletedID = id
	return s.deleteErr
}

func (s *roomServiceStub) ListRooms(context.Context) ([]application.Room, error) {
	return s.listRooms, s.listErr
}

type reservationServiceStub struct {
	createInput application.ReservationInput
	createFn    func(application.ReservationInput) (application.Reservation, error)
	checkFn     func(application.ReservationInput) (application.Reservation, error)

	getReservation application.Reservation
	getErr         error

	cancelledID string
	cancelErr   error

	listParams       application.ListReservationsParams
	listReservations []application.Reservation
	listErr          error
}

func (s *reservationServiceStub) CreateReservation(_ context.Context, input application.ReservationInput) (application.Reservation, error) {
	s.createInput = input
	return s.createFn(input)
}

func (s *reservationServiceStub) CheckReservation(_ context.Context, input application.ReservationInput) (application.Reservation, error) {
	return s.checkFn(input)
}

func (s *reservationServiceStub) GetReservation(_ context.Context, id string) (application.Reservation, error) {
	if s.getErr != nil {
		return application.Reservation{}, s.getErr
	}
	return s.getReservation, nil
}

func (s *reservationServiceStub) CancelReservation(_ context.Context, id string) error {
	s.cancelledID = id
	return s.cancelErr
}

func (s *reservationServiceStub) ListReservations(_ context.Context, params application.ListReservationsParams) ([]application.Reservation, error) {
	s.listParams = params
	return s.listReservations, s.listErr
}

type calendarServiceStub struct {
	room         application.Room
	reservations []application.Reservation
	err          error
}

func (s calendarServiceStub) RoomCalendar(context.Context, string) (application.Room, []application.Reservation, error) {
	return s.room, s.reservations, s.err
}

type pingerStub struct{ err error }

func (p pingerStub) Ping(context.Context) error { return p.err }

func newTestRouter(rooms *roomServiceStub, reservations *reservationServiceStub, cal roomCalendarService, health pinger) http.Handler {
	logger := discardLogger()
	cfg := RouterConfig{}
	if rooms != nil {
		cfg.Rooms = NewRoomHandler(rooms, logger)
	}
	if reservations != nil {
		cfg.Reservations = NewReservationHandler(reservations, logger)
	}
	if cal != nil {
		stamp := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		cfg.Calendar = NewCalendarHandler(cal, func() time.Time { return stamp }, logger)
	}
	if health != nil {
		cfg.Health = NewHealthHandler(health, logger)
	}
	return NewRouter(cfg)
}

func serve(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func sampleReservation() application.Reservation {
	start := time.Date(2024, 3, 4, 10, 0, 0, 0, jst)
	return application.Reservation{
		ID:          "res-1",
		RoomID:      "room-1",
		Title:       "Standup",
		Start:       start,
		End:         start.Add(time.Hour),
		Attendees:   4,
		ActiveUntil: start.Add(time.Hour),
		CreatedAt:   time.Date(2024, 3, 1, 9, 0, 0, 0, jst),
	}
}

func TestRoomHandlers(t *testing.T) {
	t.Parallel()

	t.Run("create returns the stored room", func(t *testing.T) {
		t.Parallel()
		stub := &roomServiceStub{createRoom: application.Room{ID: "room-1", Name: "Aoi", Capacity: 8, Amenities: []string{"projector"}}}
		router := newTestRouter(stub, nil, nil, nil)

		rec := serve(t, router, http.MethodPost, "/rooms", `{"name":"Aoi","capacity":8,"amenities":["Projector"]}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		if stub.createInput.Name != "Aoi" || stub.createInput.Amenities[0] != "Projector" {
			t.Fatalf("expected the request to reach the service unchanged, got %+v", stub.createInput)
		}
		resp := decodeBody[roomResponse](t, rec)
		if resp.Room.ID != "room-1" || len(resp.Room.Amenities) != 1 {
			t.Fatalf("unexpected room payload: %+v", resp.Room)
		}
	})

	t.Run("malformed body is a bad request", func(t *testing.T) {
		t.Parallel()
		router := newTestRouter(&roomServiceStub{}, nil, nil, nil)

		rec := serve(t, router, http.MethodPost, "/rooms", `{"name":`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("validation errors are localized", func(t *testing.T) {
		t.Parallel()
		stub := &roomServiceStub{createErr: &application.ValidationError{FieldErrors: map[string]string{
			"name":     "name is required",
			"capacity": "capacity must be positive",
		}}}
		router := newTestRouter(stub, nil, nil, nil)

		rec := serve(t, router, http.MethodPost, "/rooms", `{}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}
		resp := decodeBody[errorResponse](t, rec)
		if resp.Errors["name"] != "会議室名は必須です。" {
			t.Fatalf("expected localized name error, got %+v", resp.Errors)
		}
		if resp.Errors["capacity"] != "収容人数は正の整数で指定してください。" {
			t.Fatalf("expected localized capacity error, got %+v", resp.Errors)
		}
	})

	t.Run("duplicate rooms conflict", func(t *testing.T) {
		t.Parallel()
		router := newTestRouter(&roomServiceStub{createErr: application.ErrAlreadyExists}, nil, nil, nil)

		rec := serve(t, router, http.MethodPost, "/rooms", `{"name":"Aoi","capacity":4}`)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("get maps not found", func(t *testing.T) {
		t.Parallel()
		router := newTestRouter(&roomServiceStub{getErr: application.ErrNotFound}, nil, nil, nil)

		rec := serve(t, router, http.MethodGet, "/rooms/missing", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("update passes the path id", func(t *testing.T) {
		t.Parallel()
		stub := &roomServiceStub{}
		router := newTestRouter(stub, nil, nil, nil)

		rec := serve(t, router, http.MethodPut, "/rooms/room-7", `{"name":"Sora","capacity":12}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if stub.updateParams.RoomID != "room-7" || stub.updateParams.Input.Capacity != 12 {
			t.Fatalf("unexpected update params: %+v", stub.updateParams)
		}
	})

	t.Run("delete responds without content", func(t *testing.T) {
		t.Parallel()
		stub := &roomServiceStub{}
		router := newTestRouter(stub, nil, nil, nil)

		rec := serve(t, router, http.MethodDelete, "/rooms/room-7", "")
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
		if stub.deletedID != "room-7" {
			t.Fatalf("expected room-7 deleted, got %q", stub.deletedID)
		}
	})

	t.Run("list returns an empty array when no rooms exist", func(t *testing.T) {
		t.Parallel()
		router := newTestRouter(&roomServiceStub{}, nil, nil, nil)

		rec := serve(t, router, http.MethodGet, "/rooms", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"rooms":[]`) {
			t.Fatalf("expected empty rooms array, got %s", rec.Body.String())
		}
	})

	t.Run("unsupported methods advertise allowed ones", func(t *testing.T) {
		t.Parallel()
		router := newTestRouter(&roomServiceStub{}, nil, nil, nil)

		rec := serve(t, router, http.MethodPatch, "/rooms/room-1", "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405, got %d", rec.Code)
		}
		if got := rec.Header().Get("Allow"); got != "GET, PUT, DELETE" {
			t.Fatalf("unexpected Allow header %q", got)
		}
	})

	t.Run("unknown room sub-resources are not found", func(t *testing.T) {
		t.Parallel()
		router := newTestRouter(&roomServiceStub{}, nil, nil, nil)

		rec := serve(t, router, http.MethodGet, "/rooms/room-1/occupancy", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
}

func TestReservationHandlers(t *testing.T) {
	t.Parallel()

	const body = `{"room_id":"room-1","title":"Standup","start":"2024-03-04T10:00:00+09:00","end":"2024-03-04T11:00:00+09:00","attendees":4,"recurrence":{"frequency":"weekly","step":1,"series_end":"2024-03-25T00:00:00+09:00"}}`

	t.Run("create decodes recurrence and responds with the reservation", func(t *testing.T) {
		t.Parallel()
		stub := &reservationServiceStub{createFn: func(input application.ReservationInput) (application.Reservation, error) {
			res := sampleReservation()
			res.Recurrence = mo.Some(recurrence.Rule{Frequency: recurrence.FrequencyWeekly, Step: 1, SeriesEnd: input.Recurrence.SeriesEnd})
			res.SeriesLength = 4
			return res, nil
		}}
		router := newTestRouter(nil, stub, nil, nil)

		rec := serve(t, router, http.MethodPost, "/reservations", body)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		if stub.createInput.Recurrence == nil || stub.createInput.Recurrence.Frequency != "weekly" {
			t.Fatalf("expected weekly recurrence input, got %+v", stub.createInput.Recurrence)
		}
		if !stub.createInput.Start.Equal(time.Date(2024, 3, 4, 10, 0, 0, 0, jst)) {
			t.Fatalf("unexpected start %v", stub.createInput.Start)
		}

		resp := decodeBody[reservationResponse](t, rec)
		if resp.Reservation.Start != "2024-03-04T10:00:00+09:00" {
			t.Fatalf("expected start in service location, got %q", resp.Reservation.Start)
		}
		if resp.Reservation.Recurrence == nil || !strings.Contains(resp.Reservation.Recurrence.RRule, "FREQ=WEEKLY") {
			t.Fatalf("expected weekly rrule, got %+v", resp.Reservation.Recurrence)
		}
		if resp.Reservation.Recurrence.Count != 4 {
			t.Fatalf("expected the series length, got %d", resp.Reservation.Recurrence.Count)
		}
	})

	t.Run("an explicit step reaches the service apart from an omitted one", func(t *testing.T) {
		t.Parallel()
		stub := &reservationServiceStub{createFn: func(application.ReservationInput) (application.Reservation, error) {
			return sampleReservation(), nil
		}}
		router := newTestRouter(nil, stub, nil, nil)

		zero := strings.Replace(body, `"step":1`, `"step":0`, 1)
		serve(t, router, http.MethodPost, "/reservations", zero)
		if step := stub.createInput.Recurrence.Step; step == nil || *step != 0 {
			t.Fatalf("expected an explicit zero step, got %v", step)
		}

		omitted := strings.Replace(body, `"step":1,`, ``, 1)
		serve(t, router, http.MethodPost, "/reservations", omitted)
		if step := stub.createInput.Recurrence.Step; step != nil {
			t.Fatalf("expected no step, got %d", *step)
		}
	})

	t.Run("time conflicts carry the blocking reservation", func(t *testing.T) {
		t.Parallel()
		blocking := sampleReservation()
		stub := &reservationServiceStub{createFn: func(application.ReservationInput) (application.Reservation, error) {
			return application.Reservation{}, &application.BookingRejectedError{
				Rejection: &scheduler.Rejection{Reason: scheduler.ReasonTimeConflict, Detail: "overlaps res-1"},
				Conflict:  mo.Some(blocking),
			}
		}}
		router := newTestRouter(nil, stub, nil, nil)

		rec := serve(t, router, http.MethodPost, "/reservations", body)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		resp := decodeBody[errorResponse](t, rec)
		if resp.ErrorCode != "BOOKING_TIME_CONFLICT" || resp.Reason != "time_conflict" {
			t.Fatalf("unexpected rejection payload: %+v", resp)
		}
		if resp.Conflict == nil || resp.Conflict.ID != "res-1" {
			t.Fatalf("expected conflicting reservation res-1, got %+v", resp.Conflict)
		}
	})

	t.Run("other rejections are unprocessable", func(t *testing.T) {
		t.Parallel()
		stub := &reservationServiceStub{createFn: func(application.ReservationInput) (application.Reservation, error) {
			return application.Reservation{}, &application.BookingRejectedError{
				Rejection: &scheduler.Rejection{Reason: scheduler.ReasonAmenityUnavailable, Missing: []string{"projector"}},
			}
		}}
		router := newTestRouter(nil, stub, nil, nil)

		rec := serve(t, router, http.MethodPost, "/reservations", body)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}
		resp := decodeBody[errorResponse](t, rec)
		if len(resp.MissingAmenities) != 1 || resp.MissingAmenities[0] != "projector" {
			t.Fatalf("expected missing projector, got %+v", resp.MissingAmenities)
		}
		if resp.Message != "会議室に必要な設備がありません。" {
			t.Fatalf("unexpected message %q", resp.Message)
		}
	})

	t.Run("busy rooms ask the client to retry", func(t *testing.T) {
		t.Parallel()
		stub := &reservationServiceStub{createFn: func(application.ReservationInput) (application.Reservation, error) {
			return application.Reservation{}, application.ErrRoomBusy
		}}
		router := newTestRouter(nil, stub, nil, nil)

		rec := serve(t, router, http.MethodPost, "/reservations", body)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rec.Code)
		}
		if rec.Header().Get("Retry-After") == "" {
			t.Fatal("expected Retry-After header")
		}
	})

	t.Run("malformed timestamps never reach the service", func(t *testing.T) {
		t.Parallel()
		stub := &reservationServiceStub{createFn: func(application.ReservationInput) (application.Reservation, error) {
			t.Error("service should not be called")
			return application.Reservation{}, nil
		}}
		router := newTestRouter(nil, stub, nil, nil)

		rec := serve(t, router, http.MethodPost, "/reservations", `{"room_id":"room-1","title":"x","start":"tomorrow","end":"2024-03-04T11:00:00+09:00"}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}
		resp := decodeBody[errorResponse](t, rec)
		if resp.Errors["start"] != "日時は RFC 3339 形式で指定してください。" {
			t.Fatalf("unexpected field errors %+v", resp.Errors)
		}
	})

	t.Run("check reports verdicts with status 200", func(t *testing.T) {
		t.Parallel()
		accept := true
		stub := &reservationServiceStub{checkFn: func(application.ReservationInput) (application.Reservation, error) {
			if accept {
				return sampleReservation(), nil
			}
			return application.Reservation{}, &application.BookingRejectedError{
				Rejection: &scheduler.Rejection{Reason: scheduler.ReasonCapacityExceeded, Detail: "12 attendees, capacity 10"},
			}
		}}
		router := newTestRouter(nil, stub, nil, nil)

		rec := serve(t, router, http.MethodPost, "/reservations/check", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if resp := decodeBody[checkResponse](t, rec); !resp.Accepted || resp.Reservation == nil {
			t.Fatalf("expected accepted verdict, got %+v", resp)
		}

		accept = false
		rec = serve(t, router, http.MethodPost, "/reservations/check", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		resp := decodeBody[checkResponse](t, rec)
		if resp.Accepted || resp.Rejection == nil || resp.Rejection.Reason != "capacity_exceeded" {
			t.Fatalf("expected capacity rejection, got %+v", resp)
		}
	})

	t.Run("get and cancel use the path id", func(t *testing.T) {
		t.Parallel()
		stub := &reservationServiceStub{getReservation: sampleReservation()}
		router := newTestRouter(nil, stub, nil, nil)

		rec := serve(t, router, http.MethodGet, "/reservations/res-1", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		rec = serve(t, router, http.MethodDelete, "/reservations/res-1", "")
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
		if stub.cancelledID != "res-1" {
			t.Fatalf("expected res-1 cancelled, got %q", stub.cancelledID)
		}
	})

	t.Run("cancel of an unknown reservation is not found", func(t *testing.T) {
		t.Parallel()
		router := newTestRouter(nil, &reservationServiceStub{cancelErr: application.ErrNotFound}, nil, nil)

		rec := serve(t, router, http.MethodDelete, "/reservations/missing", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("room listing parses the window and returns occurrences", func(t *testing.T) {
		t.Parallel()
		res := sampleReservation()
		res.Occurrences = []interval.Interval{res.Anchor()}
		stub := &reservationServiceStub{listReservations: []application.Reservation{res}}
		router := newTestRouter(&roomServiceStub{}, stub, nil, nil)

		rec := serve(t, router, http.MethodGet, "/rooms/room-1/reservations?from=2024-03-01T00:00:00%2B09:00&to=2024-03-08T00:00:00%2B09:00", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if stub.listParams.RoomID != "room-1" {
			t.Fatalf("expected room-1, got %q", stub.listParams.RoomID)
		}
		if !stub.listParams.From.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, jst)) || !stub.listParams.To.Equal(time.Date(2024, 3, 8, 0, 0, 0, 0, jst)) {
			t.Fatalf("unexpected window %v - %v", stub.listParams.From, stub.listParams.To)
		}
		resp := decodeBody[listReservationsResponse](t, rec)
		if len(resp.Reservations) != 1 || len(resp.Reservations[0].Occurrences) != 1 {
			t.Fatalf("unexpected listing %+v", resp.Reservations)
		}
	})

	t.Run("room listing rejects malformed bounds", func(t *testing.T) {
		t.Parallel()
		router := newTestRouter(&roomServiceStub{}, &reservationServiceStub{}, nil, nil)

		rec := serve(t, router, http.MethodGet, "/rooms/room-1/reservations?from=yesterday", "")
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}
	})
}

func TestCalendarHandler(t *testing.T) {
	t.Parallel()

	t.Run("serves an iCalendar feed", func(t *testing.T) {
		t.Parallel()
		res := sampleReservation()
		res.Recurrence = mo.Some(recurrence.Rule{
			Frequency: recurrence.FrequencyWeekly,
			Step:      1,
			SeriesEnd: time.Date(2024, 3, 25, 0, 0, 0, 0, jst),
		})
		svc := calendarServiceStub{
			room:         application.Room{ID: "room-1", Name: "Aoi", Location: "3F"},
			reservations: []application.Reservation{res},
		}
		router := newTestRouter(&roomServiceStub{}, nil, svc, nil)

		rec := serve(t, router, http.MethodGet, "/rooms/room-1/calendar.ics", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if got := rec.Header().Get("Content-Type"); got != calendar.ContentType {
			t.Fatalf("unexpected content type %q", got)
		}
		feed := rec.Body.String()
		for _, want := range []string{"BEGIN:VCALENDAR", "UID:res-1", "RRULE:", "FREQ=WEEKLY"} {
			if !strings.Contains(feed, want) {
				t.Fatalf("expected feed to contain %q:\n%s", want, feed)
			}
		}
	})

	t.Run("unknown rooms are not found", func(t *testing.T) {
		t.Parallel()
		router := newTestRouter(&roomServiceStub{}, nil, calendarServiceStub{err: application.ErrNotFound}, nil)

		rec := serve(t, router, http.MethodGet, "/rooms/missing/calendar.ics", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
}

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestRouter(nil, nil, nil, pingerStub{}), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = serve(t, newTestRouter(nil, nil, nil, pingerStub{err: errors.New("disk I/O error")}), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
