package persistence

import (
	"context"
	"time"
)

// RoomRepository exposes CRUD operations for rooms.
type RoomRepository interface {
	CreateRoom(ctx context.Context, room Room) error
	UpdateRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, id string) (Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	DeleteRoom(ctx context.Context, id string) error
}

// ReservationFilter narrows reservation queries. Zero times leave that side
// of the window open.
type ReservationFilter struct {
	RoomID string
	// ActiveAfter keeps reservations whose last occurrence ends after it.
	ActiveAfter time.Time
	// StartsBefore keeps reservations whose anchor starts before it.
	StartsBefore time.Time
}

// ReservationRepository stores reservations and their recurrence rules.
type ReservationRepository interface {
	CreateReservation(ctx context.Context, reservation Reservation) error
	GetReservation(ctx context.Context, id string) (Reservation, error)
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
	DeleteReservation(ctx context.Context, id string) error
}
