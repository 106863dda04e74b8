package persistence

import "time"

// Room represents a bookable room catalog entry.
type Room struct {
	ID        string
	Name      string
	Location  string
	Capacity  int
	Amenities []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reservation represents an accepted booking stored in persistence.
//
// ActiveUntil is the end of the last occurrence (the anchor end for
// single bookings) and lets range queries skip expired series.
type Reservation struct {
	ID                string
	RoomID            string
	Title             string
	Attendees         int
	RequiredAmenities []string
	Start             time.Time
	End               time.Time
	ActiveUntil       time.Time
	Recurrence        *RecurrenceRule
	CreatedAt         time.Time
}

// RecurrenceRule is the stored form of a reservation's repetition.
type RecurrenceRule struct {
	Frequency string
	Step      int
	SeriesEnd time.Time
}
