package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/example/facility-booking/internal/application"
	"github.com/example/facility-booking/internal/config"
	httptransport "github.com/example/facility-booking/internal/http"
	"github.com/example/facility-booking/internal/logging"
	"github.com/example/facility-booking/internal/persistence/sqlite"
	"github.com/example/facility-booking/internal/persistence/sqlite/migration"
)

func main() {
	logger := logging.New(os.Stdout, slog.LevelInfo)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger = logging.New(os.Stdout, cfg.Level)

	storage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := storage.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           newHandler(storage, cfg, uuid.NewString, time.Now, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("booking API listening", "addr", server.Addr, "timezone", cfg.Location.String())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}

// openStorage connects to the configured database and applies migrations.
func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (*sqlite.Storage, error) {
	migrationCfg := migration.DefaultMigrationConfig("")
	migrationCfg.Enabled = cfg.MigrationsEnabled

	storage, err := sqlite.Open(migration.DefaultSQLiteConfig(cfg.SQLiteDSN), migrationCfg, logger)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(ctx); err != nil {
		_ = storage.Close()
		return nil, err
	}
	return storage, nil
}

// newHandler wires services and handlers on top of storage.
func newHandler(storage *sqlite.Storage, cfg config.Config, idGenerator func() string, now func() time.Time, logger *slog.Logger) http.Handler {
	rooms := newRoomRepositoryAdapter(storage)
	reservations := newReservationRepositoryAdapter(storage)

	roomService := application.NewRoomServiceWithLogger(rooms, idGenerator, now, logger).GuardActiveReservations(reservations)
	reservationService := application.NewReservationServiceWithLogger(rooms, reservations, idGenerator, now, application.ReservationServiceConfig{
		Location:      cfg.Location,
		LockTimeout:   cfg.LockTimeout,
		ListWindow:    cfg.ListWindow,
		MaxSeriesSpan: cfg.MaxSeriesSpan,
	}, logger)

	return httptransport.NewRouter(httptransport.RouterConfig{
		Rooms:        httptransport.NewRoomHandler(roomService, logger),
		Reservations: httptransport.NewReservationHandler(reservationService, logger),
		Calendar:     httptransport.NewCalendarHandler(reservationService, now, logger),
		Health:       httptransport.NewHealthHandler(storage, logger),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.Recover(logger),
			httptransport.RateLimit(rate.Limit(cfg.RateLimit), cfg.RateBurst, logger),
		},
	})
}
