package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/facility-booking/internal/application"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

func (f *ServiceFactory) defaults(idGen func() string, now func() time.Time) (func() string, func() time.Time) {
	if idGen == nil {
		idGen = f.IDGenerator.NextFunc()
	}
	if now == nil {
		now = f.Clock.NowFunc()
	}
	return idGen, now
}

// RoomServiceDeps captures dependencies for constructing a room service.
type RoomServiceDeps struct {
	Rooms        application.RoomRepository
	Reservations application.ReservationRepository
	IDGenerator  func() string
	Now          func() time.Time
	Logger       *slog.Logger
}

// NewRoomService builds a room service using the supplied dependencies.
func (f *ServiceFactory) NewRoomService(deps RoomServiceDeps) *application.RoomService {
	idGen, now := f.defaults(deps.IDGenerator, deps.Now)
	svc := application.NewRoomServiceWithLogger(deps.Rooms, idGen, now, deps.Logger)
	if deps.Reservations != nil {
		svc.GuardActiveReservations(deps.Reservations)
	}
	return svc
}

// ReservationServiceDeps captures dependencies for constructing a reservation service.
type ReservationServiceDeps struct {
	Rooms        application.RoomRepository
	Reservations application.ReservationRepository
	IDGenerator  func() string
	Now          func() time.Time
	Config       application.ReservationServiceConfig
	Logger       *slog.Logger
}

// NewReservationService builds a reservation service using the supplied
// dependencies. Recurrences are evaluated in JST unless Config names a location.
func (f *ServiceFactory) NewReservationService(deps ReservationServiceDeps) *application.ReservationService {
	idGen, now := f.defaults(deps.IDGenerator, deps.Now)
	cfg := deps.Config
	if cfg.Location == nil {
		cfg.Location = JST
	}
	return application.NewReservationServiceWithLogger(deps.Rooms, deps.Reservations, idGen, now, cfg, deps.Logger)
}
