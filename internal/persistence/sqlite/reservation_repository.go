package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/facility-booking/internal/persistence"
)

// ReservationRepository implements persistence.ReservationRepository using SQLite
type ReservationRepository struct {
	pool  *ConnectionPool
	retry retrier
}

// NewReservationRepository creates a new SQLite reservation repository
func NewReservationRepository(pool *ConnectionPool) *ReservationRepository {
	return &ReservationRepository{
		pool:  pool,
		retry: defaultRetrier(),
	}
}

const reservationSelect = `
	SELECT r.id, r.room_id, r.title, r.attendees, r.required_amenities,
	       r.start_at, r.end_at, r.active_until, r.created_at,
	       rc.frequency, rc.step, rc.series_end
	FROM reservations r
	LEFT JOIN recurrences rc ON rc.reservation_id = r.id
`

// CreateReservation inserts the reservation and its recurrence rule in one
// transaction.
func (r *ReservationRepository) CreateReservation(ctx context.Context, reservation persistence.Reservation) error {
	if reservation.ID == "" || reservation.RoomID == "" {
		return persistence.ErrConstraintViolation
	}
	if !reservation.End.After(reservation.Start) {
		return persistence.ErrConstraintViolation
	}
	if reservation.ActiveUntil.IsZero() {
		reservation.ActiveUntil = reservation.End
	}
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = time.Now().UTC()
	}

	return r.retry.do(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx querier) error {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO reservations (id, room_id, title, attendees, required_amenities, start_at, end_at, active_until, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				reservation.ID,
				reservation.RoomID,
				reservation.Title,
				reservation.Attendees,
				joinList(reservation.RequiredAmenities),
				formatTime(reservation.Start),
				formatTime(reservation.End),
				formatTime(reservation.ActiveUntil),
				formatTime(reservation.CreatedAt),
			)
			if err != nil {
				return err
			}

			if rule := reservation.Recurrence; rule != nil {
				_, err = tx.ExecContext(ctx, `
					INSERT INTO recurrences (reservation_id, frequency, step, series_end)
					VALUES (?, ?, ?, ?)`,
					reservation.ID,
					rule.Frequency,
					rule.Step,
					formatTime(rule.SeriesEnd),
				)
			}
			return err
		})
	})
}

// GetReservation retrieves a reservation by ID
func (r *ReservationRepository) GetReservation(ctx context.Context, id string) (persistence.Reservation, error) {
	if id == "" {
		return persistence.Reservation{}, persistence.ErrNotFound
	}
	row := r.pool.db.QueryRowContext(ctx, reservationSelect+` WHERE r.id = ?`, id)
	reservation, err := scanReservation(row)
	if err != nil {
		return persistence.Reservation{}, mapError(err)
	}
	return reservation, nil
}

// ListReservations returns reservations matching filter ordered by start time
// then ID.
func (r *ReservationRepository) ListReservations(ctx context.Context, filter persistence.ReservationFilter) ([]persistence.Reservation, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.RoomID != "" {
		conditions = append(conditions, "r.room_id = ?")
		args = append(args, filter.RoomID)
	}
	if !filter.ActiveAfter.IsZero() {
		conditions = append(conditions, "r.active_until > ?")
		args = append(args, formatTime(filter.ActiveAfter))
	}
	if !filter.StartsBefore.IsZero() {
		conditions = append(conditions, "r.start_at < ?")
		args = append(args, formatTime(filter.StartsBefore))
	}

	query := reservationSelect
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY r.start_at ASC, r.id ASC"

	rows, err := r.pool.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var reservations []persistence.Reservation
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, mapError(err)
		}
		reservations = append(reservations, reservation)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return reservations, nil
}

// DeleteReservation removes a reservation; its recurrence rule cascades.
func (r *ReservationRepository) DeleteReservation(ctx context.Context, id string) error {
	if id == "" {
		return persistence.ErrNotFound
	}
	return r.retry.do(ctx, func() error {
		result, err := r.pool.db.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return expectAffected(result)
	})
}

func scanReservation(row rowScanner) (persistence.Reservation, error) {
	var (
		res                              persistence.Reservation
		amenities                        string
		start, end, activeUntil, created string
		frequency, seriesEnd             sql.NullString
		step                             sql.NullInt64
	)
	err := row.Scan(
		&res.ID, &res.RoomID, &res.Title, &res.Attendees, &amenities,
		&start, &end, &activeUntil, &created,
		&frequency, &step, &seriesEnd,
	)
	if err != nil {
		return persistence.Reservation{}, err
	}
	res.RequiredAmenities = splitList(amenities)

	for _, field := range []struct {
		name  string
		value string
		dest  *time.Time
	}{
		{"start_at", start, &res.Start},
		{"end_at", end, &res.End},
		{"active_until", activeUntil, &res.ActiveUntil},
		{"created_at", created, &res.CreatedAt},
	} {
		if *field.dest, err = parseTime(field.value); err != nil {
			return persistence.Reservation{}, fmt.Errorf("failed to parse %s: %w", field.name, err)
		}
	}

	if frequency.Valid {
		rule := &persistence.RecurrenceRule{Frequency: frequency.String, Step: int(step.Int64)}
		if rule.SeriesEnd, err = parseTime(seriesEnd.String); err != nil {
			return persistence.Reservation{}, fmt.Errorf("failed to parse series_end: %w", err)
		}
		res.Recurrence = rule
	}
	return res, nil
}
