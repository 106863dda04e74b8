package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/mo"
)

// Reason identifies why a booking was rejected.
type Reason string

const (
	ReasonInvalidInterval       Reason = "invalid_interval"
	ReasonInvalidRecurrenceRule Reason = "invalid_recurrence_rule"
	ReasonCapacityExceeded      Reason = "capacity_exceeded"
	ReasonAmenityUnavailable    Reason = "amenity_unavailable"
	ReasonTimeConflict          Reason = "time_conflict"
)

var (
	ErrInvalidInterval       = errors.New("scheduler: reservation must end after it starts")
	ErrInvalidRecurrenceRule = errors.New("scheduler: invalid recurrence rule")
	ErrCapacityExceeded      = errors.New("scheduler: attendees exceed resource capacity")
	ErrAmenityUnavailable    = errors.New("scheduler: required amenity unavailable")
	ErrTimeConflict          = errors.New("scheduler: reservation conflicts with an existing booking")
)

var reasonErrors = map[Reason]error{
	ReasonInvalidInterval:       ErrInvalidInterval,
	ReasonInvalidRecurrenceRule: ErrInvalidRecurrenceRule,
	ReasonCapacityExceeded:      ErrCapacityExceeded,
	ReasonAmenityUnavailable:    ErrAmenityUnavailable,
	ReasonTimeConflict:          ErrTimeConflict,
}

// Rejection is the caller-facing verdict for a refused booking.
type Rejection struct {
	Reason   Reason
	Detail   string
	Missing  []string
	Conflict mo.Option[Reservation]
	cause    error
}

func (r *Rejection) Error() string {
	base := reasonErrors[r.Reason]
	if base == nil {
		base = fmt.Errorf("scheduler: %s", r.Reason)
	}
	if r.Detail == "" {
		return base.Error()
	}
	return base.Error() + ": " + r.Detail
}

// Is matches the sentinel error for the rejection reason.
func (r *Rejection) Is(target error) bool {
	return reasonErrors[r.Reason] == target
}

func (r *Rejection) Unwrap() error {
	return r.cause
}

// Validator is the single entry point combining structural checks with
// conflict detection.
type Validator struct {
	checker       *Checker
	maxSeriesSpan time.Duration
}

// ValidatorOption customizes a Validator.
type ValidatorOption func(*Validator)

// WithMaxSeriesSpan rejects series whose end date lies more than span after
// the anchor start. Zero disables the limit.
func WithMaxSeriesSpan(span time.Duration) ValidatorOption {
	return func(v *Validator) {
		v.maxSeriesSpan = span
	}
}

// NewValidator constructs a Validator delegating collisions to checker.
func NewValidator(checker *Checker, opts ...ValidatorOption) *Validator {
	if checker == nil {
		checker = NewChecker(nil)
	}
	v := &Validator{checker: checker}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs the checks in order and stops at the first failure:
// interval, recurrence rule, capacity, amenities, then time conflicts.
//
// A rejected booking yields a *Rejection. Any other error means an existing
// reservation could not be evaluated.
func (v *Validator) Validate(candidate Reservation, resource Resource, existing []Reservation) mo.Result[Reservation] {
	if !candidate.Anchor.Valid() {
		return reject(&Rejection{Reason: ReasonInvalidInterval})
	}

	if rule, ok := candidate.Recurrence.Get(); ok {
		if err := rule.Validate(candidate.Anchor); err != nil {
			return reject(&Rejection{Reason: ReasonInvalidRecurrenceRule, Detail: err.Error(), cause: err})
		}
		if v.maxSeriesSpan > 0 && rule.SeriesEnd.Sub(candidate.Anchor.Start) > v.maxSeriesSpan {
			return reject(&Rejection{
				Reason: ReasonInvalidRecurrenceRule,
				Detail: fmt.Sprintf("series may not extend beyond %s", v.maxSeriesSpan),
			})
		}
	}

	if candidate.Attendees > resource.Capacity {
		return reject(&Rejection{
			Reason: ReasonCapacityExceeded,
			Detail: fmt.Sprintf("%d attendees, capacity %d", candidate.Attendees, resource.Capacity),
		})
	}

	if missing := resource.MissingAmenities(candidate.RequiredAmenities); len(missing) > 0 {
		return reject(&Rejection{
			Reason:  ReasonAmenityUnavailable,
			Detail:  strings.Join(missing, ", "),
			Missing: missing,
		})
	}

	conflict, err := v.checker.HasConflict(candidate, existing)
	if err != nil {
		return mo.Err[Reservation](err)
	}
	if other, found := conflict.Get(); found {
		detail := other.ID
		if other.Title != "" {
			detail = fmt.Sprintf("%s (%s)", other.ID, other.Title)
		}
		return reject(&Rejection{Reason: ReasonTimeConflict, Detail: detail, Conflict: conflict})
	}

	return mo.Ok(candidate)
}

func reject(r *Rejection) mo.Result[Reservation] {
	return mo.Err[Reservation](r)
}
