package application

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/example/facility-booking/internal/logging"
	"github.com/example/facility-booking/internal/persistence"
	"github.com/example/facility-booking/internal/scheduler"
)

// RoomRepository captures the persistence operations needed by the service.
type RoomRepository interface {
	CreateRoom(ctx context.Context, room Room) (Room, error)
	GetRoom(ctx context.Context, id string) (Room, error)
	UpdateRoom(ctx context.Context, room Room) (Room, error)
	DeleteRoom(ctx context.Context, id string) error
	ListRooms(ctx context.Context) ([]Room, error)
}

// RoomService maintains the room catalog that reservations are validated
// against.
type RoomService struct {
	rooms        RoomRepository
	reservations ReservationRepository
	idGenerator  func() string
	now          func() time.Time
	logger       *slog.Logger
}

// NewRoomService constructs a room service that logs through slog.Default.
func NewRoomService(rooms RoomRepository, idGenerator func() string, now func() time.Time) *RoomService {
	return NewRoomServiceWithLogger(rooms, idGenerator, now, nil)
}

// NewRoomServiceWithLogger constructs a room service with a specified logger.
func NewRoomServiceWithLogger(rooms RoomRepository, idGenerator func() string, now func() time.Time, logger *slog.Logger) *RoomService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &RoomService{rooms: rooms, idGenerator: idGenerator, now: now, logger: logging.OrDefault(logger)}
}

// GuardActiveReservations makes UpdateRoom refuse changes that would leave an
// active reservation without enough seats or a required amenity.
func (s *RoomService) GuardActiveReservations(reservations ReservationRepository) *RoomService {
	s.reservations = reservations
	return s
}

func (s *RoomService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "RoomService", operation, attrs...)
}

func (s *RoomService) ready() error {
	if s == nil {
		return fmt.Errorf("RoomService is nil")
	}
	if s.rooms == nil {
		return fmt.Errorf("room repository not configured")
	}
	return nil
}

// CreateRoom validates input and persists a new room.
func (s *RoomService) CreateRoom(ctx context.Context, input RoomInput) (room Room, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "CreateRoom")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create room", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "room created", "room_id", room.ID, "capacity", room.Capacity)
	}()

	input = input.normalized()
	if vErr := input.validate(); vErr.HasErrors() {
		err = vErr
		return
	}

	created := s.now()
	room, err = s.rooms.CreateRoom(ctx, input.apply(Room{ID: s.idGenerator(), CreatedAt: created}, created))
	err = mapRoomRepoError(err)
	return
}

// GetRoom returns a single room.
func (s *RoomService) GetRoom(ctx context.Context, roomID string) (Room, error) {
	if err := s.ready(); err != nil {
		return Room{}, err
	}
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return Room{}, mapRoomRepoError(err)
	}
	return room, nil
}

// UpdateRoom replaces a room's attributes. With a reservation guard installed
// the update is refused while it would strand an active reservation.
func (s *RoomService) UpdateRoom(ctx context.Context, params UpdateRoomParams) (room Room, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "UpdateRoom", "room_id", params.RoomID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update room", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "room updated")
	}()

	existing, err := s.rooms.GetRoom(ctx, params.RoomID)
	if err != nil {
		err = mapRoomRepoError(err)
		return
	}

	input := params.Input.normalized()
	if vErr := input.validate(); vErr.HasErrors() {
		err = vErr
		return
	}

	updated := input.apply(existing, s.now())

	stranded, err := s.strandedReservations(ctx, updated)
	if err != nil {
		return
	}
	if stranded.HasErrors() {
		err = stranded
		return
	}

	room, err = s.rooms.UpdateRoom(ctx, updated)
	err = mapRoomRepoError(err)
	return
}

// DeleteRoom removes an existing room together with its reservations.
func (s *RoomService) DeleteRoom(ctx context.Context, roomID string) (err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "DeleteRoom", "room_id", roomID)
	if err = mapRoomRepoError(s.rooms.DeleteRoom(ctx, roomID)); err != nil {
		logger.ErrorContext(ctx, "failed to delete room", "error", err, "error_kind", ErrorKind(err))
		return
	}
	logger.InfoContext(ctx, "room deleted")
	return nil
}

// ListRooms returns the catalog ordered by name, ignoring case, then ID.
func (s *RoomService) ListRooms(ctx context.Context) (rooms []Room, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "ListRooms")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list rooms", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "rooms listed", "result_count", len(rooms))
	}()

	stored, err := s.rooms.ListRooms(ctx)
	if err != nil {
		return nil, err
	}

	rooms = slices.Clone(stored)
	slices.SortFunc(rooms, func(a, b Room) int {
		return cmp.Or(
			strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)),
			strings.Compare(a.ID, b.ID),
		)
	})
	return rooms, nil
}

// strandedReservations reports, as field errors, what the updated room would
// no longer provide to reservations whose series has not ended yet.
func (s *RoomService) strandedReservations(ctx context.Context, room Room) (*ValidationError, error) {
	vErr := &ValidationError{}
	if s.reservations == nil {
		return vErr, nil
	}

	active, err := s.reservations.ListReservations(ctx, ReservationFilter{RoomID: room.ID, ActiveAfter: room.UpdatedAt})
	if err != nil {
		return nil, fmt.Errorf("list active reservations: %w", err)
	}

	resource := scheduler.Resource{ID: room.ID, Capacity: room.Capacity, Amenities: room.Amenities}
	for _, reservation := range active {
		if reservation.Attendees > room.Capacity {
			vErr.add("capacity", "capacity is below an active reservation")
		}
		if len(resource.MissingAmenities(reservation.RequiredAmenities)) > 0 {
			vErr.add("amenities", "amenities are required by an active reservation")
		}
	}
	return vErr, nil
}

func (in RoomInput) normalized() RoomInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Location = strings.TrimSpace(in.Location)
	return in
}

func (in RoomInput) validate() *ValidationError {
	vErr := &ValidationError{}
	if in.Name == "" {
		vErr.add("name", "name is required")
	}
	if in.Capacity <= 0 {
		vErr.add("capacity", "capacity must be positive")
	}
	if slices.ContainsFunc(in.Amenities, func(a string) bool { return strings.Contains(a, ",") }) {
		vErr.add("amenities", "amenity names must not contain commas")
	}
	return vErr
}

// apply copies the input onto room and stamps it as updated at.
func (in RoomInput) apply(room Room, at time.Time) Room {
	room.Name = in.Name
	room.Location = in.Location
	room.Capacity = in.Capacity
	room.Amenities = scheduler.NormalizeAmenities(in.Amenities)
	room.UpdatedAt = at
	return room
}

func mapRoomRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrDuplicate):
		return ErrAlreadyExists
	case errors.Is(err, persistence.ErrConstraintViolation):
		vErr := &ValidationError{}
		vErr.add("capacity", "capacity must be positive")
		return vErr
	}
	return err
}
