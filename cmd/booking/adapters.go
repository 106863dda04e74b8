package main

import (
	"context"
	"fmt"

	"github.com/samber/mo"

	"github.com/example/facility-booking/internal/application"
	"github.com/example/facility-booking/internal/persistence"
	"github.com/example/facility-booking/internal/recurrence"
)

type roomRepositoryAdapter struct {
	repo persistence.RoomRepository
}

func newRoomRepositoryAdapter(repo persistence.RoomRepository) *roomRepositoryAdapter {
	return &roomRepositoryAdapter{repo: repo}
}

func (a *roomRepositoryAdapter) CreateRoom(ctx context.Context, room application.Room) (application.Room, error) {
	if err := a.repo.CreateRoom(ctx, toPersistenceRoom(room)); err != nil {
		return application.Room{}, err
	}
	return room, nil
}

func (a *roomRepositoryAdapter) GetRoom(ctx context.Context, id string) (application.Room, error) {
	room, err := a.repo.GetRoom(ctx, id)
	if err != nil {
		return application.Room{}, err
	}
	return toApplicationRoom(room), nil
}

func (a *roomRepositoryAdapter) UpdateRoom(ctx context.Context, room application.Room) (application.Room, error) {
	if err := a.repo.UpdateRoom(ctx, toPersistenceRoom(room)); err != nil {
		return application.Room{}, err
	}
	return room, nil
}

func (a *roomRepositoryAdapter) DeleteRoom(ctx context.Context, id string) error {
	return a.repo.DeleteRoom(ctx, id)
}

func (a *roomRepositoryAdapter) ListRooms(ctx context.Context) ([]application.Room, error) {
	rooms, err := a.repo.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]application.Room, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, toApplicationRoom(room))
	}
	return out, nil
}

type reservationRepositoryAdapter struct {
	repo persistence.ReservationRepository
}

func newReservationRepositoryAdapter(repo persistence.ReservationRepository) *reservationRepositoryAdapter {
	return &reservationRepositoryAdapter{repo: repo}
}

func (a *reservationRepositoryAdapter) CreateReservation(ctx context.Context, reservation application.Reservation) (application.Reservation, error) {
	if err := a.repo.CreateReservation(ctx, toPersistenceReservation(reservation)); err != nil {
		return application.Reservation{}, err
	}
	return reservation, nil
}

func (a *reservationRepositoryAdapter) GetReservation(ctx context.Context, id string) (application.Reservation, error) {
	reservation, err := a.repo.GetReservation(ctx, id)
	if err != nil {
		return application.Reservation{}, err
	}
	return toApplicationReservation(reservation)
}

func (a *reservationRepositoryAdapter) ListReservations(ctx context.Context, filter application.ReservationFilter) ([]application.Reservation, error) {
	stored, err := a.repo.ListReservations(ctx, persistence.ReservationFilter{
		RoomID:       filter.RoomID,
		ActiveAfter:  filter.ActiveAfter,
		StartsBefore: filter.StartsBefore,
	})
	if err != nil {
		return nil, err
	}
	out := make([]application.Reservation, 0, len(stored))
	for _, reservation := range stored {
		converted, err := toApplicationReservation(reservation)
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}

func (a *reservationRepositoryAdapter) DeleteReservation(ctx context.Context, id string) error {
	return a.repo.DeleteReservation(ctx, id)
}

func toPersistenceRoom(room application.Room) persistence.Room {
	return persistence.Room{
		ID:        room.ID,
		Name:      room.Name,
		Location:  room.Location,
		Capacity:  room.Capacity,
		Amenities: room.Amenities,
		CreatedAt: room.CreatedAt,
		UpdatedAt: room.UpdatedAt,
	}
}

func toApplicationRoom(room persistence.Room) application.Room {
	return application.Room{
		ID:        room.ID,
		Name:      room.Name,
		Location:  room.Location,
		Capacity:  room.Capacity,
		Amenities: room.Amenities,
		CreatedAt: room.CreatedAt,
		UpdatedAt: room.UpdatedAt,
	}
}

func toPersistenceReservation(reservation application.Reservation) persistence.Reservation {
	out := persistence.Reservation{
		ID:                reservation.ID,
		RoomID:            reservation.RoomID,
		Title:             reservation.Title,
		Attendees:         reservation.Attendees,
		RequiredAmenities: reservation.RequiredAmenities,
		Start:             reservation.Start,
		End:               reservation.End,
		ActiveUntil:       reservation.ActiveUntil,
		CreatedAt:         reservation.CreatedAt,
	}
	if rule, ok := reservation.Recurrence.Get(); ok {
		out.Recurrence = &persistence.RecurrenceRule{
			Frequency: rule.Frequency.String(),
			Step:      rule.Step,
			SeriesEnd: rule.SeriesEnd,
		}
	}
	return out
}

func toApplicationReservation(reservation persistence.Reservation) (application.Reservation, error) {
	out := application.Reservation{
		ID:                reservation.ID,
		RoomID:            reservation.RoomID,
		Title:             reservation.Title,
		Start:             reservation.Start,
		End:               reservation.End,
		Attendees:         reservation.Attendees,
		RequiredAmenities: reservation.RequiredAmenities,
		ActiveUntil:       reservation.ActiveUntil,
		CreatedAt:         reservation.CreatedAt,
		Recurrence:        mo.None[recurrence.Rule](),
	}
	if stored := reservation.Recurrence; stored != nil {
		freq, err := recurrence.ParseFrequency(stored.Frequency)
		if err != nil {
			return application.Reservation{}, fmt.Errorf("stored reservation %q: %w", reservation.ID, err)
		}
		out.Recurrence = mo.Some(recurrence.Rule{Frequency: freq, Step: stored.Step, SeriesEnd: stored.SeriesEnd})
	}
	return out, nil
}
