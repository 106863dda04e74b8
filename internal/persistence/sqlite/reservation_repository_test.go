package sqlite

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/example/facility-booking/internal/persistence"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("invalid time %q: %v", value, err)
	}
	return ts
}

func testReservation(id, roomID string, start time.Time) persistence.Reservation {
	return persistence.Reservation{
		ID:        id,
		RoomID:    roomID,
		Title:     "Standup",
		Attendees: 4,
		Start:     start,
		End:       start.Add(time.Hour),
	}
}

func seedRoom(t *testing.T, storage *Storage, id string) {
	t.Helper()
	if err := storage.CreateRoom(context.Background(), persistence.Room{ID: id, Name: "Room " + id, Capacity: 10}); err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
}

func TestReservationRepository_CreateAndGetSingle(t *testing.T) {
	storage := setupStorage(t)
	seedRoom(t, storage, "room1")
	ctx := context.Background()

	res := testReservation("res1", "room1", mustTime(t, "2024-03-04T10:00:00+09:00"))
	res.RequiredAmenities = []string{"projector"}
	if err := storage.CreateReservation(ctx, res); err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}

	got, err := storage.GetReservation(ctx, "res1")
	if err != nil {
		t.Fatalf("GetReservation failed: %v", err)
	}
	if !got.Start.Equal(res.Start) || !got.End.Equal(res.End) {
		t.Fatalf("expected %v-%v, got %v-%v", res.Start, res.End, got.Start, got.End)
	}
	if !got.ActiveUntil.Equal(res.End) {
		t.Fatalf("expected active_until to default to end, got %v", got.ActiveUntil)
	}
	if got.Recurrence != nil {
		t.Fatalf("expected no recurrence, got %+v", got.Recurrence)
	}
	if !reflect.DeepEqual(got.RequiredAmenities, []string{"projector"}) {
		t.Fatalf("unexpected amenities %v", got.RequiredAmenities)
	}
	if got.Title != "Standup" || got.Attendees != 4 {
		t.Fatalf("unexpected reservation: %+v", got)
	}
}

func TestReservationRepository_CreateRecurring(t *testing.T) {
	storage := setupStorage(t)
	seedRoom(t, storage, "room1")
	ctx := context.Background()

	res := testReservation("res1", "room1", mustTime(t, "2024-03-04T10:00:00Z"))
	res.Recurrence = &persistence.RecurrenceRule{
		Frequency: "weekly",
		Step:      2,
		SeriesEnd: mustTime(t, "2024-06-30T00:00:00Z"),
	}
	res.ActiveUntil = mustTime(t, "2024-06-24T11:00:00Z")
	if err := storage.CreateReservation(ctx, res); err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}

	got, err := storage.GetReservation(ctx, "res1")
	if err != nil {
		t.Fatalf("GetReservation failed: %v", err)
	}
	if got.Recurrence == nil {
		t.Fatal("expected recurrence to be stored")
	}
	if got.Recurrence.Frequency != "weekly" || got.Recurrence.Step != 2 || !got.Recurrence.SeriesEnd.Equal(res.Recurrence.SeriesEnd) {
		t.Fatalf("unexpected recurrence: %+v", got.Recurrence)
	}
	if !got.ActiveUntil.Equal(res.ActiveUntil) {
		t.Fatalf("expected active_until %v, got %v", res.ActiveUntil, got.ActiveUntil)
	}
}

func TestReservationRepository_CreateFailures(t *testing.T) {
	storage := setupStorage(t)
	seedRoom(t, storage, "room1")
	ctx := context.Background()
	start := mustTime(t, "2024-03-04T10:00:00Z")

	if err := storage.CreateReservation(ctx, testReservation("res1", "missing", start)); !errors.Is(err, persistence.ErrForeignKeyViolation) {
		t.Fatalf("expected ErrForeignKeyViolation for unknown room, got %v", err)
	}

	inverted := testReservation("res1", "room1", start)
	inverted.End = start
	if err := storage.CreateReservation(ctx, inverted); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation for empty interval, got %v", err)
	}

	if err := storage.CreateReservation(ctx, testReservation("res1", "room1", start)); err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}
	if err := storage.CreateReservation(ctx, testReservation("res1", "room1", start.Add(24*time.Hour))); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	bad := testReservation("res2", "room1", start)
	bad.Recurrence = &persistence.RecurrenceRule{Frequency: "yearly", Step: 1, SeriesEnd: start}
	if err := storage.CreateReservation(ctx, bad); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation for unknown frequency, got %v", err)
	}
	if _, err := storage.GetReservation(ctx, "res2"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected failed insert to roll back, got %v", err)
	}
}

func TestReservationRepository_ListReservations(t *testing.T) {
	storage := setupStorage(t)
	seedRoom(t, storage, "room1")
	seedRoom(t, storage, "room2")
	ctx := context.Background()

	march := mustTime(t, "2024-03-04T10:00:00Z")
	series := testReservation("series", "room1", march)
	series.Recurrence = &persistence.RecurrenceRule{Frequency: "daily", Step: 1, SeriesEnd: mustTime(t, "2024-03-31T00:00:00Z")}
	series.ActiveUntil = mustTime(t, "2024-03-31T11:00:00Z")

	for _, res := range []persistence.Reservation{
		testReservation("late", "room1", march.Add(48*time.Hour)),
		series,
		testReservation("early", "room1", march.Add(-72*time.Hour)),
		testReservation("other", "room2", march),
	} {
		if err := storage.CreateReservation(ctx, res); err != nil {
			t.Fatalf("CreateReservation %s failed: %v", res.ID, err)
		}
	}

	tests := []struct {
		name   string
		filter persistence.ReservationFilter
		want   []string
	}{
		{name: "all", filter: persistence.ReservationFilter{}, want: []string{"early", "other", "series", "late"}},
		{name: "by room", filter: persistence.ReservationFilter{RoomID: "room1"}, want: []string{"early", "series", "late"}},
		{
			name: "series still active",
			filter: persistence.ReservationFilter{
				RoomID:       "room1",
				ActiveAfter:  mustTime(t, "2024-03-20T00:00:00Z"),
				StartsBefore: mustTime(t, "2024-03-21T00:00:00Z"),
			},
			want: []string{"series"},
		},
		{
			name:   "starts before window end",
			filter: persistence.ReservationFilter{StartsBefore: march},
			want:   []string{"early"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := storage.ListReservations(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListReservations failed: %v", err)
			}
			var ids []string
			for _, res := range got {
				ids = append(ids, res.ID)
			}
			if !reflect.DeepEqual(ids, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, ids)
			}
		})
	}
}

func TestReservationRepository_DeleteReservation(t *testing.T) {
	storage := setupStorage(t)
	seedRoom(t, storage, "room1")
	ctx := context.Background()

	res := testReservation("res1", "room1", mustTime(t, "2024-03-04T10:00:00Z"))
	res.Recurrence = &persistence.RecurrenceRule{Frequency: "daily", Step: 1, SeriesEnd: mustTime(t, "2024-03-10T00:00:00Z")}
	if err := storage.CreateReservation(ctx, res); err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}

	if err := storage.DeleteReservation(ctx, "res1"); err != nil {
		t.Fatalf("DeleteReservation failed: %v", err)
	}
	var count int
	if err := storage.pool.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM recurrences").Scan(&count); err != nil {
		t.Fatalf("failed to count recurrences: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected recurrence rows to cascade, got %d", count)
	}
	if err := storage.DeleteReservation(ctx, "res1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
