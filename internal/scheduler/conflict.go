package scheduler

import (
	"fmt"
	"iter"

	"github.com/samber/mo"

	"github.com/example/facility-booking/internal/interval"
	"github.com/example/facility-booking/internal/recurrence"
)

// Checker decides whether a candidate reservation collides with existing
// reservations on the same resource. It holds no state besides the recurrence
// engine and is safe for concurrent use.
type Checker struct {
	engine *recurrence.Engine
}

// NewChecker constructs a Checker. A nil engine expands series in each anchor's
// own location.
func NewChecker(engine *recurrence.Engine) *Checker {
	if engine == nil {
		engine = recurrence.NewEngine(nil)
	}
	return &Checker{engine: engine}
}

// HasConflict returns the first reservation in existing, in input order, that
// shares the candidate's resource and overlaps any of its occurrences.
//
// Existing reservations with the candidate's own non-empty ID are skipped. An
// error is returned only when a recurrence rule cannot be expanded.
func (c *Checker) HasConflict(candidate Reservation, existing []Reservation) (mo.Option[Reservation], error) {
	for _, other := range existing {
		if other.ResourceID != candidate.ResourceID {
			continue
		}
		if candidate.ID != "" && other.ID == candidate.ID {
			continue
		}

		collides, err := c.collides(candidate, other)
		if err != nil {
			return mo.None[Reservation](), fmt.Errorf("check against reservation %q: %w", other.ID, err)
		}
		if collides {
			return mo.Some(other), nil
		}
	}
	return mo.None[Reservation](), nil
}

func (c *Checker) collides(a, b Reservation) (bool, error) {
	ruleA, recurringA := a.Recurrence.Get()
	ruleB, recurringB := b.Recurrence.Get()

	switch {
	case !recurringA && !recurringB:
		return a.Anchor.Overlaps(b.Anchor), nil
	case recurringA && !recurringB:
		return c.engine.OccurrencesOverlapping(ruleA, a.Anchor, b.Anchor.Start, b.Anchor.End)
	case !recurringA && recurringB:
		return c.engine.OccurrencesOverlapping(ruleB, b.Anchor, a.Anchor.Start, a.Anchor.End)
	default:
		return c.seriesCollide(ruleA, a.Anchor, ruleB, b.Anchor)
	}
}

// seriesCollide compares two recurring series inside the intersection of
// their active ranges, walking both occurrence streams in start order.
func (c *Checker) seriesCollide(ruleA recurrence.Rule, anchorA interval.Interval, ruleB recurrence.Rule, anchorB interval.Interval) (bool, error) {
	rangeA, err := c.engine.ActiveRange(ruleA, anchorA)
	if err != nil {
		return false, err
	}
	rangeB, err := c.engine.ActiveRange(ruleB, anchorB)
	if err != nil {
		return false, err
	}
	window, ok := rangeA.Intersect(rangeB)
	if !ok {
		return false, nil
	}

	seqA, err := c.engine.Expand(ruleA, anchorA, window)
	if err != nil {
		return false, err
	}
	seqB, err := c.engine.Expand(ruleB, anchorB, window)
	if err != nil {
		return false, err
	}
	return sweep(seqA, seqB), nil
}

// sweep reports whether any element of a overlaps any element of b. Both
// sequences must be ordered by start time.
func sweep(a, b iter.Seq[interval.Interval]) bool {
	nextA, stopA := iter.Pull(a)
	defer stopA()
	nextB, stopB := iter.Pull(b)
	defer stopB()

	occA, okA := nextA()
	occB, okB := nextB()
	for okA && okB {
		if occA.Overlaps(occB) {
			return true
		}
		// Neither overlaps, so one ends before the other starts. Later
		// elements of the other stream start even later.
		if !occA.End.After(occB.Start) {
			occA, okA = nextA()
		} else {
			occB, okB = nextB()
		}
	}
	return false
}
