package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/example/facility-booking/internal/application"
	"github.com/example/facility-booking/internal/config"
	"github.com/example/facility-booking/internal/persistence"
	"github.com/example/facility-booking/internal/recurrence"
	"github.com/example/facility-booking/internal/scheduler"
	"github.com/example/facility-booking/internal/testfixtures"
)

type bookingAPI struct {
	t       *testing.T
	handler http.Handler
}

func newBookingAPI(t *testing.T) *bookingAPI {
	t.Helper()

	harness := testfixtures.NewSQLiteHarness(t)
	clock := testfixtures.NewClock(time.Date(2024, time.March, 1, 0, 0, 0, 0, testfixtures.JST))
	ids := testfixtures.NewIDGenerator("id")

	cfg := config.Default()
	cfg.Location = testfixtures.JST
	cfg.RateLimit = 0

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &bookingAPI{t: t, handler: newHandler(harness.Storage, cfg, ids.NextFunc(), clock.NowFunc(), logger)}
}

func (api *bookingAPI) do(method, target, body string) *httptest.ResponseRecorder {
	api.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, httptest.NewRequest(method, target, reader))
	return rec
}

func (api *bookingAPI) expect(rec *httptest.ResponseRecorder, status int) map[string]any {
	api.t.Helper()
	if rec.Code != status {
		api.t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		return nil
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		api.t.Fatalf("failed to decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestBookingAPIEndToEnd(t *testing.T) {
	api := newBookingAPI(t)

	room := api.expect(api.do(http.MethodPost, "/rooms", `{"name":"Aoi","location":"3F","capacity":6,"amenities":["Projector"]}`), http.StatusCreated)
	roomID := room["room"].(map[string]any)["id"].(string)
	if roomID != "id-1" {
		t.Fatalf("expected room id-1, got %q", roomID)
	}

	// Weekly on Mondays 10:00-11:00 from 4 March through 25 March.
	weekly := `{"room_id":"id-1","title":"Weekly sync","start":"2024-03-04T10:00:00+09:00","end":"2024-03-04T11:00:00+09:00","attendees":5,"required_amenities":["projector"],"recurrence":{"frequency":"weekly","step":1,"series_end":"2024-03-25T00:00:00+09:00"}}`
	series := api.expect(api.do(http.MethodPost, "/reservations", weekly), http.StatusCreated)
	if count := series["reservation"].(map[string]any)["recurrence"].(map[string]any)["count"]; count != float64(4) {
		t.Fatalf("expected four weekly occurrences, got %v", count)
	}

	zeroStep := `{"room_id":"id-1","title":"Never","start":"2024-03-05T10:00:00+09:00","end":"2024-03-05T11:00:00+09:00","attendees":1,"recurrence":{"frequency":"daily","step":0,"series_end":"2024-03-08T00:00:00+09:00"}}`
	if refused := api.expect(api.do(http.MethodPost, "/reservations", zeroStep), http.StatusUnprocessableEntity); refused["reason"] != "invalid_recurrence_rule" {
		t.Fatalf("expected a zero step to be refused, got %v", refused)
	}
	zeroInterval := `{"room_id":"id-1","title":"Never","start":"2024-03-05T10:00:00+09:00","end":"2024-03-05T11:00:00+09:00","attendees":1,"recurrence":{"rrule":"FREQ=DAILY;INTERVAL=0;COUNT=3"}}`
	api.expect(api.do(http.MethodPost, "/reservations", zeroInterval), http.StatusUnprocessableEntity)

	overlapping := `{"room_id":"id-1","title":"Interview","start":"2024-03-18T10:30:00+09:00","end":"2024-03-18T11:30:00+09:00","attendees":2}`
	conflict := api.expect(api.do(http.MethodPost, "/reservations", overlapping), http.StatusConflict)
	if conflict["reason"] != "time_conflict" {
		t.Fatalf("expected time_conflict, got %v", conflict["reason"])
	}
	if blocking := conflict["conflict"].(map[string]any); blocking["id"] != "id-2" {
		t.Fatalf("expected conflict with id-2, got %v", blocking["id"])
	}

	touching := `{"room_id":"id-1","title":"Lunch","start":"2024-03-18T11:00:00+09:00","end":"2024-03-18T12:00:00+09:00","attendees":2}`
	lunch := api.expect(api.do(http.MethodPost, "/reservations", touching), http.StatusCreated)
	lunchID := lunch["reservation"].(map[string]any)["id"].(string)

	crowded := `{"room_id":"id-1","title":"All hands","start":"2024-03-20T10:00:00+09:00","end":"2024-03-20T11:00:00+09:00","attendees":40}`
	verdict := api.expect(api.do(http.MethodPost, "/reservations/check", crowded), http.StatusOK)
	if verdict["accepted"] != false {
		t.Fatalf("expected the check to refuse an over capacity booking, got %v", verdict)
	}
	if rejection := verdict["rejection"].(map[string]any); rejection["reason"] != "capacity_exceeded" {
		t.Fatalf("expected capacity_exceeded, got %v", rejection["reason"])
	}

	listing := api.expect(api.do(http.MethodGet, "/rooms/id-1/reservations?from=2024-03-01T00:00:00%2B09:00&to=2024-04-01T00:00:00%2B09:00", ""), http.StatusOK)
	reservations := listing["reservations"].([]any)
	if len(reservations) != 2 {
		t.Fatalf("expected 2 reservations, got %d", len(reservations))
	}
	first := reservations[0].(map[string]any)
	if first["id"] != "id-2" || len(first["occurrences"].([]any)) != 4 {
		t.Fatalf("expected the weekly series with 4 occurrences first, got %v", first)
	}

	feed := api.do(http.MethodGet, "/rooms/id-1/calendar.ics", "")
	if feed.Code != http.StatusOK || !strings.Contains(feed.Body.String(), "RRULE:") {
		t.Fatalf("expected a feed with a recurrence rule, got %d: %s", feed.Code, feed.Body.String())
	}

	shrink := api.expect(api.do(http.MethodPut, "/rooms/id-1", `{"name":"Aoi","location":"3F","capacity":6}`), http.StatusUnprocessableEntity)
	if _, ok := shrink["errors"].(map[string]any)["amenities"]; !ok {
		t.Fatalf("expected the projector removal to be refused, got %v", shrink)
	}

	api.expect(api.do(http.MethodDelete, "/reservations/id-2", ""), http.StatusNoContent)
	api.expect(api.do(http.MethodPost, "/reservations", overlapping), http.StatusCreated)

	api.expect(api.do(http.MethodGet, "/healthz", ""), http.StatusOK)

	api.expect(api.do(http.MethodDelete, "/rooms/id-1", ""), http.StatusNoContent)
	api.expect(api.do(http.MethodGet, "/reservations/"+lunchID, ""), http.StatusNotFound)
}

func TestBookingAPIRejectsUnknownRoom(t *testing.T) {
	api := newBookingAPI(t)

	body := `{"room_id":"missing","title":"Standup","start":"2024-03-04T10:00:00+09:00","end":"2024-03-04T11:00:00+09:00","attendees":1}`
	api.expect(api.do(http.MethodPost, "/reservations", body), http.StatusNotFound)
}

type storedReservationsStub struct {
	persistence.ReservationRepository
	stored persistence.Reservation
}

func (s storedReservationsStub) GetReservation(context.Context, string) (persistence.Reservation, error) {
	return s.stored, nil
}

func TestReservationAdapterRejectsUnknownFrequency(t *testing.T) {
	stored := testfixtures.NewReservationFixture().Persistence()
	stored.Recurrence = &persistence.RecurrenceRule{Frequency: "yearly", Step: 1, SeriesEnd: stored.End.AddDate(2, 0, 0)}

	adapter := newReservationRepositoryAdapter(storedReservationsStub{stored: stored})
	if _, err := adapter.GetReservation(context.Background(), stored.ID); err == nil {
		t.Fatal("expected an error for an unknown stored frequency")
	}
}

func TestReservationAdapterRoundTripsRecurrence(t *testing.T) {
	fixture := testfixtures.NewReservationFixture(
		testfixtures.WithReservationRecurrence(recurrence.FrequencyMonthly, 2, time.Date(2024, time.December, 31, 0, 0, 0, 0, testfixtures.JST)),
	)
	got, err := toApplicationReservation(toPersistenceReservation(fixture.Application()))
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	rule, ok := got.Recurrence.Get()
	want, _ := fixture.Recurrence.Get()
	if !ok || rule.Frequency != want.Frequency || rule.Step != 2 || !rule.SeriesEnd.Equal(want.SeriesEnd) {
		t.Fatalf("unexpected recurrence %+v", rule)
	}
}

func TestReservationServiceOnFileDatabaseAcceptsOneOfConcurrentCreates(t *testing.T) {
	harness := testfixtures.NewFileSQLiteHarness(t)
	rooms := newRoomRepositoryAdapter(harness.Storage)
	reservations := newReservationRepositoryAdapter(harness.Storage)

	start := time.Date(2024, time.March, 1, 9, 0, 0, 0, testfixtures.JST)
	clock := testfixtures.NewTickingClock(start, time.Second)
	factory := testfixtures.NewServiceFactory(testfixtures.WithClock(clock))
	uuids := testfixtures.NewUUIDGenerator(t.Name())

	roomService := factory.NewRoomService(testfixtures.RoomServiceDeps{Rooms: rooms, Reservations: reservations, IDGenerator: uuids.Next})
	room, err := roomService.CreateRoom(context.Background(), testfixtures.NewRoomFixture(testfixtures.WithRoomCapacity(4)).Input())
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := uuid.Parse(room.ID); err != nil {
		t.Fatalf("expected a UUID room id, got %q", room.ID)
	}

	reservationService := factory.NewReservationService(testfixtures.ReservationServiceDeps{Rooms: rooms, Reservations: reservations})
	monday := time.Date(2024, time.March, 4, 10, 0, 0, 0, testfixtures.JST)
	input := testfixtures.NewReservationFixture(
		testfixtures.WithReservationRoomID(room.ID),
		testfixtures.WithReservationWindow(monday, monday.Add(time.Hour)),
	).Input()

	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reservationService.CreateReservation(context.Background(), input)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		var rejected *application.BookingRejectedError
		switch {
		case err == nil:
			accepted++
		case errors.As(err, &rejected) && rejected.Reason() == scheduler.ReasonTimeConflict:
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	stored, err := harness.Reservations.ListReservations(context.Background(), persistence.ReservationFilter{RoomID: room.ID})
	if err != nil {
		t.Fatalf("ListReservations: %v", err)
	}
	if accepted != 1 || len(stored) != 1 {
		t.Fatalf("expected exactly one accepted booking, got %d (stored %d)", accepted, len(stored))
	}
	if !stored[0].CreatedAt.After(room.CreatedAt) {
		t.Fatalf("expected the ticking clock to stamp the booking after the room, got %v and %v", stored[0].CreatedAt, room.CreatedAt)
	}
}

func TestOpenStorageHonoursMigrationToggle(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.SQLiteDSN = t.TempDir() + "/booking.db"
	cfg.MigrationsEnabled = false

	storage, err := openStorage(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("openStorage: %v", err)
	}
	defer storage.Close()

	if _, err := storage.ListRooms(context.Background()); err == nil {
		t.Fatal("expected queries to fail without migrations")
	}
}
