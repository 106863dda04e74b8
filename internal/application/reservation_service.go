package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/mo"

	"github.com/example/facility-booking/internal/interval"
	"github.com/example/facility-booking/internal/logging"
	"github.com/example/facility-booking/internal/persistence"
	"github.com/example/facility-booking/internal/recurrence"
	"github.com/example/facility-booking/internal/scheduler"
)

const (
	defaultListWindow  = 30 * 24 * time.Hour
	maxListWindow      = 366 * 24 * time.Hour
	defaultLockTimeout = 5 * time.Second
)

// ReservationRepository captures the persistence interactions needed by the service.
type ReservationRepository interface {
	CreateReservation(ctx context.Context, reservation Reservation) (Reservation, error)
	GetReservation(ctx context.Context, id string) (Reservation, error)
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
	DeleteReservation(ctx context.Context, id string) error
}

// ReservationServiceConfig tunes the reservation service. Zero values select
// the defaults.
type ReservationServiceConfig struct {
	// Location is the calendar recurrences are stepped in. Defaults to Asia/Tokyo.
	Location *time.Location
	// LockTimeout bounds the wait for a room's booking lock.
	LockTimeout time.Duration
	// ListWindow is the listing window used when the caller omits an end.
	ListWindow time.Duration
	// MaxSeriesSpan rejects series ending further than this after their anchor.
	MaxSeriesSpan time.Duration
}

// ReservationService validates bookings against the room catalog and the
// reservations already stored for a room.
type ReservationService struct {
	rooms        RoomRepository
	reservations ReservationRepository
	engine       *recurrence.Engine
	validator    *scheduler.Validator
	locks        *roomLocks
	idGenerator  func() string
	now          func() time.Time
	location     *time.Location
	lockTimeout  time.Duration
	listWindow   time.Duration
	logger       *slog.Logger
}

// NewReservationService wires dependencies for reservation operations.
func NewReservationService(rooms RoomRepository, reservations ReservationRepository, idGenerator func() string, now func() time.Time, cfg ReservationServiceConfig) *ReservationService {
	return NewReservationServiceWithLogger(rooms, reservations, idGenerator, now, cfg, nil)
}

// NewReservationServiceWithLogger wires dependencies with a specified logger.
func NewReservationServiceWithLogger(rooms RoomRepository, reservations ReservationRepository, idGenerator func() string, now func() time.Time, cfg ReservationServiceConfig, logger *slog.Logger) *ReservationService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = tokyoLocation()
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultLockTimeout
	}
	if cfg.ListWindow <= 0 {
		cfg.ListWindow = defaultListWindow
	}

	engine := recurrence.NewEngine(cfg.Location)
	var opts []scheduler.ValidatorOption
	if cfg.MaxSeriesSpan > 0 {
		opts = append(opts, scheduler.WithMaxSeriesSpan(cfg.MaxSeriesSpan))
	}

	return &ReservationService{
		rooms:        rooms,
		reservations: reservations,
		engine:       engine,
		validator:    scheduler.NewValidator(scheduler.NewChecker(engine), opts...),
		locks:        newRoomLocks(),
		idGenerator:  idGenerator,
		now:          now,
		location:     cfg.Location,
		lockTimeout:  cfg.LockTimeout,
		listWindow:   cfg.ListWindow,
		logger:       logging.OrDefault(logger),
	}
}

func (s *ReservationService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ReservationService", operation, attrs...)
}

func (s *ReservationService) ready() error {
	if s == nil {
		return fmt.Errorf("ReservationService is nil")
	}
	if s.rooms == nil || s.reservations == nil {
		return fmt.Errorf("reservation repositories not configured")
	}
	return nil
}

// CreateReservation validates the request against the room's current bookings
// and persists it. Validation and the write happen under the room's lock.
func (s *ReservationService) CreateReservation(ctx context.Context, input ReservationInput) (reservation Reservation, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "CreateReservation", "room_id", input.RoomID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create reservation", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"reservation_id", reservation.ID,
			"recurring", reservation.Recurrence.IsPresent(),
		).InfoContext(ctx, "reservation created")
	}()

	var candidate Reservation
	candidate, err = s.buildCandidate(input)
	if err != nil {
		return
	}
	candidate.ID = s.idGenerator()

	// Unknown rooms never get a lock entry.
	if _, err = s.rooms.GetRoom(ctx, candidate.RoomID); err != nil {
		err = mapRoomRepoError(err)
		return
	}

	var release func()
	release, err = s.locks.acquire(ctx, candidate.RoomID, s.lockTimeout)
	if err != nil {
		return
	}
	defer release()

	candidate, err = s.evaluate(ctx, candidate)
	if err != nil {
		return
	}

	candidate.CreatedAt = s.now()
	reservation, err = s.reservations.CreateReservation(ctx, candidate)
	if err != nil {
		err = mapReservationRepoError(err)
		return
	}
	reservation = s.localize(reservation)
	return
}

// CheckReservation runs the same validation as CreateReservation without
// persisting anything. A nil error means the booking would be accepted.
func (s *ReservationService) CheckReservation(ctx context.Context, input ReservationInput) (candidate Reservation, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "CheckReservation", "room_id", input.RoomID)
	defer func() {
		logger.With("accepted", err == nil, "error_kind", ErrorKind(err)).InfoContext(ctx, "reservation checked")
	}()

	candidate, err = s.buildCandidate(input)
	if err != nil {
		return
	}
	candidate, err = s.evaluate(ctx, candidate)
	return
}

// GetReservation returns a stored reservation.
func (s *ReservationService) GetReservation(ctx context.Context, id string) (Reservation, error) {
	if err := s.ready(); err != nil {
		return Reservation{}, err
	}
	reservation, err := s.reservations.GetReservation(ctx, id)
	if err != nil {
		return Reservation{}, mapReservationRepoError(err)
	}
	return s.localize(reservation), nil
}

// CancelReservation removes a reservation and every remaining occurrence.
func (s *ReservationService) CancelReservation(ctx context.Context, id string) (err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "CancelReservation", "reservation_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to cancel reservation", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "reservation cancelled")
	}()

	var existing Reservation
	existing, err = s.reservations.GetReservation(ctx, id)
	if err != nil {
		err = mapReservationRepoError(err)
		return
	}

	var release func()
	release, err = s.locks.acquire(ctx, existing.RoomID, s.lockTimeout)
	if err != nil {
		return
	}
	defer release()

	if err = s.reservations.DeleteReservation(ctx, id); err != nil {
		err = mapReservationRepoError(err)
	}
	return
}

// ListReservations returns the room's reservations that have at least one
// occurrence in the requested window, each carrying those occurrences.
func (s *ReservationService) ListReservations(ctx context.Context, params ListReservationsParams) (reservations []Reservation, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "ListReservations", "room_id", params.RoomID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list reservations", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(reservations)).InfoContext(ctx, "reservations listed")
	}()

	var window interval.Interval
	window, err = s.listWindowFor(params)
	if err != nil {
		return
	}

	if _, err = s.rooms.GetRoom(ctx, params.RoomID); err != nil {
		err = mapRoomRepoError(err)
		return
	}

	var stored []Reservation
	stored, err = s.reservations.ListReservations(ctx, ReservationFilter{
		RoomID:       params.RoomID,
		ActiveAfter:  window.Start,
		StartsBefore: window.End,
	})
	if err != nil {
		err = mapReservationRepoError(err)
		return
	}

	reservations = make([]Reservation, 0, len(stored))
	for _, reservation := range stored {
		reservation = s.localize(reservation)
		var occurrences []interval.Interval
		occurrences, err = s.occurrencesIn(reservation, window)
		if err != nil {
			err = fmt.Errorf("expand reservation %q: %w", reservation.ID, err)
			return
		}
		if len(occurrences) == 0 {
			continue
		}
		reservation.Occurrences = occurrences
		reservations = append(reservations, reservation)
	}
	return
}

// RoomCalendar returns a room with the reservations that are still running or
// ended within the listing window before now.
func (s *ReservationService) RoomCalendar(ctx context.Context, roomID string) (Room, []Reservation, error) {
	if err := s.ready(); err != nil {
		return Room{}, nil, err
	}

	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return Room{}, nil, mapRoomRepoError(err)
	}

	stored, err := s.reservations.ListReservations(ctx, ReservationFilter{
		RoomID:      roomID,
		ActiveAfter: s.now().Add(-s.listWindow),
	})
	if err != nil {
		return Room{}, nil, mapReservationRepoError(err)
	}
	for i := range stored {
		stored[i] = s.localize(stored[i])
	}
	return room, stored, nil
}

func (s *ReservationService) buildCandidate(input ReservationInput) (Reservation, error) {
	if vErr := validateReservationInput(input); vErr.HasErrors() {
		return Reservation{}, vErr
	}

	candidate := Reservation{
		RoomID:            strings.TrimSpace(input.RoomID),
		Title:             strings.TrimSpace(input.Title),
		Start:             input.Start.In(s.location),
		End:               input.End.In(s.location),
		Attendees:         input.Attendees,
		RequiredAmenities: scheduler.NormalizeAmenities(input.RequiredAmenities),
	}

	// An inverted anchor is reported as an invalid interval by the validator,
	// so the rule is only parsed against a usable anchor.
	if input.Recurrence != nil && candidate.Anchor().Valid() {
		rule, err := s.parseRecurrence(*input.Recurrence, candidate.Anchor())
		if err != nil {
			return Reservation{}, rejectRecurrence(err)
		}
		candidate.Recurrence = mo.Some(rule)
	}
	return candidate, nil
}

func (s *ReservationService) parseRecurrence(input RecurrenceInput, anchor interval.Interval) (recurrence.Rule, error) {
	if rrule := strings.TrimSpace(input.RRule); rrule != "" {
		return recurrence.ParseRRule(rrule, anchor)
	}
	frequency, err := recurrence.ParseFrequency(input.Frequency)
	if err != nil {
		return recurrence.Rule{}, err
	}
	step := 1
	if input.Step != nil {
		step = *input.Step
	}
	if step <= 0 {
		return recurrence.Rule{}, fmt.Errorf("%w: step %d", recurrence.ErrInvalidStep, step)
	}
	return recurrence.Rule{
		Frequency: frequency,
		Step:      step,
		SeriesEnd: input.SeriesEnd.In(s.location),
	}, nil
}

// evaluate validates candidate against the room and the stored reservations
// whose active span intersects the candidate's, filling in ActiveUntil.
func (s *ReservationService) evaluate(ctx context.Context, candidate Reservation) (Reservation, error) {
	room, err := s.rooms.GetRoom(ctx, candidate.RoomID)
	if err != nil {
		return Reservation{}, mapRoomRepoError(err)
	}

	span := s.activeSpan(candidate)
	var stored []Reservation
	if span.Valid() {
		stored, err = s.reservations.ListReservations(ctx, ReservationFilter{
			RoomID:       candidate.RoomID,
			ActiveAfter:  span.Start,
			StartsBefore: span.End,
		})
		if err != nil {
			return Reservation{}, mapReservationRepoError(err)
		}
	}

	existing := make([]scheduler.Reservation, len(stored))
	for i, reservation := range stored {
		stored[i] = s.localize(reservation)
		existing[i] = toSchedulerReservation(stored[i])
	}

	verdict := s.validator.Validate(toSchedulerReservation(candidate), toSchedulerResource(room), existing)
	if verdict.IsError() {
		var rejection *scheduler.Rejection
		if errors.As(verdict.Error(), &rejection) {
			return Reservation{}, rejected(rejection, stored)
		}
		return Reservation{}, fmt.Errorf("evaluate stored reservations: %w", verdict.Error())
	}

	candidate.ActiveUntil = span.End
	return candidate, nil
}

// activeSpan is the candidate's anchor start to the end of its final
// occurrence. Rules the engine refuses fall back to the anchor.
func (s *ReservationService) activeSpan(reservation Reservation) interval.Interval {
	anchor := reservation.Anchor()
	rule, ok := reservation.Recurrence.Get()
	if !ok || !anchor.Valid() {
		return anchor
	}
	span, err := s.engine.ActiveRange(rule, anchor)
	if err != nil {
		return anchor
	}
	return span
}

func (s *ReservationService) occurrencesIn(reservation Reservation, window interval.Interval) ([]interval.Interval, error) {
	anchor := reservation.Anchor()
	if rule, ok := reservation.Recurrence.Get(); ok {
		return s.engine.Occurrences(rule, anchor, window)
	}
	if anchor.Overlaps(window) {
		return []interval.Interval{anchor}, nil
	}
	return nil, nil
}

func (s *ReservationService) listWindowFor(params ListReservationsParams) (interval.Interval, error) {
	vErr := &ValidationError{}
	if strings.TrimSpace(params.RoomID) == "" {
		vErr.add("room_id", "room_id is required")
	}

	from := params.From
	if from.IsZero() {
		from = s.now()
	}
	to := params.To
	if to.IsZero() {
		to = from.Add(s.listWindow)
	}
	switch {
	case !to.After(from):
		vErr.add("to", "to must be after from")
	case to.Sub(from) > maxListWindow:
		vErr.add("to", "window must not exceed 366 days")
	}

	if vErr.HasErrors() {
		return interval.Interval{}, vErr
	}
	return interval.Interval{Start: from, End: to}.In(s.location), nil
}

func (s *ReservationService) localize(reservation Reservation) Reservation {
	reservation.Start = reservation.Start.In(s.location)
	reservation.End = reservation.End.In(s.location)
	reservation.ActiveUntil = reservation.ActiveUntil.In(s.location)
	if rule, ok := reservation.Recurrence.Get(); ok {
		rule.SeriesEnd = rule.SeriesEnd.In(s.location)
		reservation.Recurrence = mo.Some(rule)
		if n, err := s.engine.Count(rule, reservation.Anchor()); err == nil {
			reservation.SeriesLength = n
		}
	}
	return reservation
}

func rejected(rejection *scheduler.Rejection, stored []Reservation) *BookingRejectedError {
	out := &BookingRejectedError{Rejection: rejection}
	if other, ok := rejection.Conflict.Get(); ok {
		for _, reservation := range stored {
			if reservation.ID == other.ID {
				out.Conflict = mo.Some(reservation)
				break
			}
		}
	}
	return out
}

func validateReservationInput(input ReservationInput) *ValidationError {
	vErr := &ValidationError{}

	if strings.TrimSpace(input.RoomID) == "" {
		vErr.add("room_id", "room_id is required")
	}
	if strings.TrimSpace(input.Title) == "" {
		vErr.add("title", "title is required")
	}
	if input.Start.IsZero() {
		vErr.add("start", "start is required")
	}
	if input.End.IsZero() {
		vErr.add("end", "end is required")
	}
	if input.Attendees < 0 {
		vErr.add("attendees", "attendees must not be negative")
	}
	for _, amenity := range input.RequiredAmenities {
		if strings.Contains(amenity, ",") {
			vErr.add("required_amenities", "amenity names must not contain commas")
			break
		}
	}

	vErr.merge(validateRecurrenceInput(input.Recurrence))
	return vErr
}

func validateRecurrenceInput(rec *RecurrenceInput) *ValidationError {
	if rec == nil {
		return nil
	}
	vErr := &ValidationError{}
	hasRRule := strings.TrimSpace(rec.RRule) != ""
	hasFrequency := strings.TrimSpace(rec.Frequency) != ""
	switch {
	case hasRRule && hasFrequency:
		vErr.add("recurrence", "specify either rrule or frequency, not both")
	case !hasRRule && !hasFrequency:
		vErr.add("recurrence", "frequency or rrule is required")
	case hasFrequency && rec.SeriesEnd.IsZero():
		vErr.add("recurrence.series_end", "series_end is required")
	}
	return vErr
}

func toSchedulerReservation(reservation Reservation) scheduler.Reservation {
	return scheduler.Reservation{
		ID:                reservation.ID,
		ResourceID:        reservation.RoomID,
		Title:             reservation.Title,
		Anchor:            reservation.Anchor(),
		Recurrence:        reservation.Recurrence,
		Attendees:         reservation.Attendees,
		RequiredAmenities: reservation.RequiredAmenities,
	}
}

func toSchedulerResource(room Room) scheduler.Resource {
	return scheduler.Resource{
		ID:        room.ID,
		Capacity:  room.Capacity,
		Amenities: room.Amenities,
	}
}

func mapReservationRepoError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrForeignKeyViolation):
		// The room was removed between validation and the write.
		return ErrNotFound
	case errors.Is(err, persistence.ErrDuplicate):
		return ErrAlreadyExists
	case errors.Is(err, persistence.ErrConstraintViolation):
		vErr := &ValidationError{}
		vErr.add("time", "end must be after start")
		return vErr
	}
	return err
}

func tokyoLocation() *time.Location {
	if loc, err := time.LoadLocation("Asia/Tokyo"); err == nil {
		return loc
	}
	return time.FixedZone("JST", 9*60*60)
}
