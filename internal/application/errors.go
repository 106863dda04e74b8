package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/mo"

	"github.com/example/facility-booking/internal/scheduler"
)

var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrAlreadyExists is returned when a resource with the same identity is already stored.
	ErrAlreadyExists = errors.New("application: already exists")
	// ErrRoomBusy is returned when the room's booking lock could not be taken in time.
	ErrRoomBusy = errors.New("application: room is busy")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

// BookingRejectedError reports that the booking engine refused a reservation.
// Conflict holds the stored reservation that blocked a time conflict.
type BookingRejectedError struct {
	Rejection *scheduler.Rejection
	Conflict  mo.Option[Reservation]
}

func (e *BookingRejectedError) Error() string {
	if e == nil || e.Rejection == nil {
		return "booking rejected"
	}
	return fmt.Sprintf("booking rejected: %v", e.Rejection)
}

// Unwrap exposes the rejection so errors.Is matches the scheduler sentinels.
func (e *BookingRejectedError) Unwrap() error {
	if e == nil || e.Rejection == nil {
		return nil
	}
	return e.Rejection
}

// Reason returns the rejection reason, or an empty reason when unset.
func (e *BookingRejectedError) Reason() scheduler.Reason {
	if e == nil || e.Rejection == nil {
		return ""
	}
	return e.Rejection.Reason
}

func rejectRecurrence(err error) *BookingRejectedError {
	return &BookingRejectedError{Rejection: &scheduler.Rejection{
		Reason: scheduler.ReasonInvalidRecurrenceRule,
		Detail: err.Error(),
	}}
}
