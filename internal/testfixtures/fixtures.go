package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/samber/mo"

	"github.com/example/facility-booking/internal/application"
	"github.com/example/facility-booking/internal/persistence"
	"github.com/example/facility-booking/internal/recurrence"
	"github.com/example/facility-booking/internal/scheduler"
)

var (
	roomCounter        uint64
	reservationCounter uint64
)

// JST is the fixed Japan Standard Time zone used by fixtures.
var JST = time.FixedZone("JST", 9*60*60)

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- Room fixtures -----------------------------

// RoomFixture represents a deterministic meeting room record.
type RoomFixture struct {
	ID        string
	Name      string
	Location  string
	Capacity  int
	Amenities []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoomOption configures the generated room fixture.
type RoomOption func(*RoomFixture)

// NewRoomFixture returns a deterministic room fixture with optional overrides.
func NewRoomFixture(opts ...RoomOption) RoomFixture {
	idx := atomic.AddUint64(&roomCounter, 1)
	id := fmt.Sprintf("room-%03d", idx)
	created := referenceTime.Add(time.Duration(idx) * time.Hour)
	fixture := RoomFixture{
		ID:        id,
		Name:      fmt.Sprintf("Room %03d", idx),
		Location:  "Main Office",
		Capacity:  int(4 + idx%4),
		Amenities: []string{"whiteboard"},
		CreatedAt: created,
		UpdatedAt: created,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithRoomID overrides the generated room ID.
func WithRoomID(id string) RoomOption {
	return func(f *RoomFixture) {
		f.ID = id
	}
}

// WithRoomName overrides the generated room name.
func WithRoomName(name string) RoomOption {
	return func(f *RoomFixture) {
		f.Name = name
	}
}

// WithRoomCapacity overrides the generated capacity.
func WithRoomCapacity(capacity int) RoomOption {
	return func(f *RoomFixture) {
		f.Capacity = capacity
	}
}

// WithRoomAmenities replaces the amenity list. Values are normalized the way
// the room service stores them.
func WithRoomAmenities(amenities ...string) RoomOption {
	return func(f *RoomFixture) {
		f.Amenities = scheduler.NormalizeAmenities(amenities)
	}
}

// Application returns the fixture as an application.Room value.
func (f RoomFixture) Application() application.Room {
	return application.Room{
		ID:        f.ID,
		Name:      f.Name,
		Location:  f.Location,
		Capacity:  f.Capacity,
		Amenities: append([]string(nil), f.Amenities...),
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

// Input returns the fixture as an application.RoomInput.
func (f RoomFixture) Input() application.RoomInput {
	return application.RoomInput{
		Name:      f.Name,
		Location:  f.Location,
		Capacity:  f.Capacity,
		Amenities: append([]string(nil), f.Amenities...),
	}
}

// Persistence returns the fixture as a persistence.Room value.
func (f RoomFixture) Persistence() persistence.Room {
	return persistence.Room{
		ID:        f.ID,
		Name:      f.Name,
		Location:  f.Location,
		Capacity:  f.Capacity,
		Amenities: append([]string(nil), f.Amenities...),
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

// Scheduler returns the fixture as the booking engine's resource.
func (f RoomFixture) Scheduler() scheduler.Resource {
	return scheduler.Resource{
		ID:        f.ID,
		Capacity:  f.Capacity,
		Amenities: append([]string(nil), f.Amenities...),
	}
}

// --------------------------- Reservation fixtures ------------------------

// ReservationFixture represents a deterministic reservation of a room.
type ReservationFixture struct {
	ID                string
	RoomID            string
	Title             string
	Start             time.Time
	End               time.Time
	Attendees         int
	RequiredAmenities []string
	Recurrence        mo.Option[recurrence.Rule]
	CreatedAt         time.Time
}

// ReservationOption configures the generated reservation fixture.
type ReservationOption func(*ReservationFixture)

// NewReservationFixture returns a one hour single reservation starting at
// 10:00 JST on successive days after the reference time.
func NewReservationFixture(opts ...ReservationOption) ReservationFixture {
	idx := atomic.AddUint64(&reservationCounter, 1)
	start := time.Date(2024, time.March, 1, 10, 0, 0, 0, JST).AddDate(0, 0, int(idx))
	fixture := ReservationFixture{
		ID:        fmt.Sprintf("reservation-%03d", idx),
		RoomID:    "room-001",
		Title:     fmt.Sprintf("Meeting %03d", idx),
		Start:     start,
		End:       start.Add(time.Hour),
		Attendees: 2,
		CreatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithReservationID overrides the generated reservation ID.
func WithReservationID(id string) ReservationOption {
	return func(f *ReservationFixture) {
		f.ID = id
	}
}

// WithReservationRoomID sets the booked room.
func WithReservationRoomID(roomID string) ReservationOption {
	return func(f *ReservationFixture) {
		f.RoomID = roomID
	}
}

// WithReservationTitle overrides the generated title.
func WithReservationTitle(title string) ReservationOption {
	return func(f *ReservationFixture) {
		f.Title = title
	}
}

// WithReservationWindow sets the anchor occurrence.
func WithReservationWindow(start, end time.Time) ReservationOption {
	return func(f *ReservationFixture) {
		f.Start = start
		f.End = end
	}
}

// WithReservationAttendees sets the attendee count.
func WithReservationAttendees(n int) ReservationOption {
	return func(f *ReservationFixture) {
		f.Attendees = n
	}
}

// WithReservationAmenities sets the required amenities.
func WithReservationAmenities(amenities ...string) ReservationOption {
	return func(f *ReservationFixture) {
		f.RequiredAmenities = scheduler.NormalizeAmenities(amenities)
	}
}

// WithReservationRecurrence makes the reservation repeat.
func WithReservationRecurrence(freq recurrence.Frequency, step int, seriesEnd time.Time) ReservationOption {
	return func(f *ReservationFixture) {
		f.Recurrence = mo.Some(recurrence.Rule{Frequency: freq, Step: step, SeriesEnd: seriesEnd})
	}
}

// Input returns the fixture as an application.ReservationInput.
func (f ReservationFixture) Input() application.ReservationInput {
	input := application.ReservationInput{
		RoomID:            f.RoomID,
		Title:             f.Title,
		Start:             f.Start,
		End:               f.End,
		Attendees:         f.Attendees,
		RequiredAmenities: append([]string(nil), f.RequiredAmenities...),
	}
	if rule, ok := f.Recurrence.Get(); ok {
		input.Recurrence = &application.RecurrenceInput{
			Frequency: rule.Frequency.String(),
			Step:      &rule.Step,
			SeriesEnd: rule.SeriesEnd,
		}
	}
	return input
}

// Application returns the fixture as an application.Reservation value.
// ActiveUntil is the anchor end for single reservations and the series end
// otherwise, which is enough for repository round trips.
func (f ReservationFixture) Application() application.Reservation {
	activeUntil := f.End
	if rule, ok := f.Recurrence.Get(); ok {
		activeUntil = rule.SeriesEnd.Add(f.End.Sub(f.Start))
	}
	return application.Reservation{
		ID:                f.ID,
		RoomID:            f.RoomID,
		Title:             f.Title,
		Start:             f.Start,
		End:               f.End,
		Attendees:         f.Attendees,
		RequiredAmenities: append([]string(nil), f.RequiredAmenities...),
		Recurrence:        f.Recurrence,
		ActiveUntil:       activeUntil,
		CreatedAt:         f.CreatedAt,
	}
}

// Persistence returns the fixture as a persistence.Reservation value.
func (f ReservationFixture) Persistence() persistence.Reservation {
	app := f.Application()
	res := persistence.Reservation{
		ID:                app.ID,
		RoomID:            app.RoomID,
		Title:             app.Title,
		Attendees:         app.Attendees,
		RequiredAmenities: app.RequiredAmenities,
		Start:             app.Start,
		End:               app.End,
		ActiveUntil:       app.ActiveUntil,
		CreatedAt:         app.CreatedAt,
	}
	if rule, ok := f.Recurrence.Get(); ok {
		res.Recurrence = &persistence.RecurrenceRule{
			Frequency: rule.Frequency.String(),
			Step:      rule.Step,
			SeriesEnd: rule.SeriesEnd,
		}
	}
	return res
}

// Scheduler returns the fixture in the booking engine's representation.
func (f ReservationFixture) Scheduler() scheduler.Reservation {
	return scheduler.Reservation{
		ID:                f.ID,
		ResourceID:        f.RoomID,
		Title:             f.Title,
		Anchor:            f.Application().Anchor(),
		Recurrence:        f.Recurrence,
		Attendees:         f.Attendees,
		RequiredAmenities: append([]string(nil), f.RequiredAmenities...),
	}
}
