// Package interval implements half-open time ranges used by the reservation engine.
package interval

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInterval indicates that an interval does not end after it starts.
var ErrInvalidInterval = errors.New("interval: end must be after start")

// Interval is the half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// New constructs an interval, rejecting ranges whose end is not after the start.
func New(start, end time.Time) (Interval, error) {
	iv := Interval{Start: start, End: end}
	if !iv.Valid() {
		return Interval{}, fmt.Errorf("%w: [%s, %s)", ErrInvalidInterval, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return iv, nil
}

// Valid reports whether Start < End.
func (i Interval) Valid() bool {
	return i.Start.Before(i.End)
}

// Duration returns the length of the interval.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Overlaps reports whether the two intervals share at least one instant.
// Touching endpoints do not overlap.
//
// Both intervals must be valid. Reaching this with a broken interval is a
// defect upstream and panics instead of returning a verdict.
func (i Interval) Overlaps(other Interval) bool {
	mustBeValid(i)
	mustBeValid(other)
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

// Intersect returns the common part of both intervals. The boolean is false
// when they do not overlap.
func (i Interval) Intersect(other Interval) (Interval, bool) {
	start := i.Start
	if other.Start.After(start) {
		start = other.Start
	}
	end := i.End
	if other.End.Before(end) {
		end = other.End
	}
	if !start.Before(end) {
		return Interval{}, false
	}
	return Interval{Start: start, End: end}, true
}

// In converts both endpoints to loc.
func (i Interval) In(loc *time.Location) Interval {
	if loc == nil {
		return i
	}
	return Interval{Start: i.Start.In(loc), End: i.End.In(loc)}
}

// Equal reports whether both endpoints denote the same instants.
func (i Interval) Equal(other Interval) bool {
	return i.Start.Equal(other.Start) && i.End.Equal(other.End)
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", i.Start.Format(time.RFC3339), i.End.Format(time.RFC3339))
}

func mustBeValid(i Interval) {
	if !i.Valid() {
		panic(fmt.Sprintf("interval: invariant violated, start %s is not before end %s",
			i.Start.Format(time.RFC3339Nano), i.End.Format(time.RFC3339Nano)))
	}
}
