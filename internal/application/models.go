package application

import (
	"time"

	"github.com/samber/mo"

	"github.com/example/facility-booking/internal/interval"
	"github.com/example/facility-booking/internal/recurrence"
)

// RoomInput captures caller provided room fields.
type RoomInput struct {
	Name      string
	Location  string
	Capacity  int
	Amenities []string
}

// Room represents a catalog entry for a bookable meeting room.
type Room struct {
	ID        string
	Name      string
	Location  string
	Capacity  int
	Amenities []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpdateRoomParams wraps the data required to update a room.
type UpdateRoomParams struct {
	RoomID string
	Input  RoomInput
}

// RecurrenceInput describes how a requested reservation repeats. Callers set
// either RRule or Frequency with its step and series end. A nil Step means
// every period.
type RecurrenceInput struct {
	Frequency string
	Step      *int
	SeriesEnd time.Time
	RRule     string
}

// ReservationInput captures caller provided reservation fields.
type ReservationInput struct {
	RoomID            string
	Title             string
	Start             time.Time
	End               time.Time
	Attendees         int
	RequiredAmenities []string
	Recurrence        *RecurrenceInput
}

// Reservation represents an accepted booking of a room.
//
// ActiveUntil is the end of the final occurrence. Occurrences is populated
// only by listings and holds the occurrences inside the requested window.
type Reservation struct {
	ID                string
	RoomID            string
	Title             string
	Start             time.Time
	End               time.Time
	Attendees         int
	RequiredAmenities []string
	Recurrence        mo.Option[recurrence.Rule]
	ActiveUntil       time.Time
	CreatedAt         time.Time
	Occurrences       []interval.Interval
	// SeriesLength counts every occurrence of a recurring booking.
	SeriesLength int
}

// Anchor returns the reservation's first occurrence.
func (r Reservation) Anchor() interval.Interval {
	return interval.Interval{Start: r.Start, End: r.End}
}

// ListReservationsParams selects a room's reservations occurring in
// [From, To). Zero bounds fall back to the service defaults.
type ListReservationsParams struct {
	RoomID string
	From   time.Time
	To     time.Time
}

// ReservationFilter narrows queries issued to the reservation repository.
// Zero times leave that side of the window open.
type ReservationFilter struct {
	RoomID       string
	ActiveAfter  time.Time
	StartsBefore time.Time
}
