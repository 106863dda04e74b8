package recurrence

import (
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"
	"time"

	"github.com/example/facility-booking/internal/interval"
)

// Frequency represents supported recurrence periods.
type Frequency int

const (
	// FrequencyUnspecified indicates the rule frequency is not set.
	FrequencyUnspecified Frequency = iota
	// FrequencyDaily repeats every Step days.
	FrequencyDaily
	// FrequencyWeekly repeats every 7×Step days.
	FrequencyWeekly
	// FrequencyMonthly repeats on the anchor's day of month every Step months.
	FrequencyMonthly
)

func (f Frequency) String() string {
	switch f {
	case FrequencyDaily:
		return "daily"
	case FrequencyWeekly:
		return "weekly"
	case FrequencyMonthly:
		return "monthly"
	default:
		return ""
	}
}

// ParseFrequency maps the textual representation back to a Frequency.
func ParseFrequency(value string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "daily":
		return FrequencyDaily, nil
	case "weekly":
		return FrequencyWeekly, nil
	case "monthly":
		return FrequencyMonthly, nil
	default:
		return FrequencyUnspecified, fmt.Errorf("%w: %q", ErrInvalidFrequency, value)
	}
}

// MaxStep caps the step count.
const MaxStep = 1000

// Rule describes how an anchor interval repeats.
//
// SeriesEnd is an inclusive date bound: an occurrence belongs to the series when
// it starts on or before the calendar date of SeriesEnd, evaluated in the
// anchor's location.
type Rule struct {
	Frequency Frequency
	Step      int
	SeriesEnd time.Time
}

var (
	// ErrInvalidFrequency indicates the recurrence frequency is not supported.
	ErrInvalidFrequency = errors.New("recurrence: invalid frequency")
	// ErrInvalidStep indicates the step count is outside [1, MaxStep].
	ErrInvalidStep = errors.New("recurrence: step count must be between 1 and 1000")
	// ErrSeriesEndBeforeStart indicates the series ends before its anchor starts.
	ErrSeriesEndBeforeStart = errors.New("recurrence: series end precedes anchor start")
	// ErrInvalidDuration indicates the anchor interval is empty or inverted.
	ErrInvalidDuration = errors.New("recurrence: anchor duration must be positive")
	// ErrInvalidWindow indicates the evaluation window is empty or inverted.
	ErrInvalidWindow = errors.New("recurrence: window end must be after window start")
)

// Validate checks the rule against the anchor it will repeat.
func (r Rule) Validate(anchor interval.Interval) error {
	if err := r.check(); err != nil {
		return err
	}
	if !anchor.Valid() {
		return ErrInvalidDuration
	}
	loc := anchor.Start.Location()
	if startOfDay(r.SeriesEnd.In(loc)).Before(startOfDay(anchor.Start)) {
		return ErrSeriesEndBeforeStart
	}
	return nil
}

func (r Rule) check() error {
	switch r.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	default:
		return ErrInvalidFrequency
	}
	if r.Step <= 0 || r.Step > MaxStep {
		return fmt.Errorf("%w: got %d", ErrInvalidStep, r.Step)
	}
	return nil
}

// Engine expands recurrence rules into occurrence intervals.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine that steps calendars in the provided location.
// If loc is nil, each anchor keeps its own location.
func NewEngine(loc *time.Location) *Engine {
	return &Engine{location: loc}
}

// series is a validated rule bound to a normalized anchor.
type series struct {
	rule     Rule
	anchor   interval.Interval
	duration time.Duration
	cutoff   time.Time
	steps    int
}

func (e *Engine) prepare(rule Rule, anchor interval.Interval) (series, error) {
	if err := rule.check(); err != nil {
		return series{}, err
	}
	if !anchor.Valid() {
		return series{}, ErrInvalidDuration
	}
	if e != nil && e.location != nil {
		anchor = anchor.In(e.location)
	}

	loc := anchor.Start.Location()
	s := series{
		rule:     rule,
		anchor:   anchor,
		duration: anchor.Duration(),
		cutoff:   startOfDay(rule.SeriesEnd.In(loc)).AddDate(0, 0, 1),
		steps:    1,
	}
	if s.cutoff.After(anchor.Start) {
		s.steps = (dayNumber(s.cutoff)-dayNumber(anchor.Start))/minPeriodDays(rule) + 2
	}
	return s, nil
}

// at returns the i-th occurrence; index 0 is the anchor itself.
func (s series) at(i int) interval.Interval {
	start := stepFrom(s.rule, s.anchor.Start, i)
	return interval.Interval{Start: start, End: start.Add(s.duration)}
}

// firstIndex returns a lower bound on the index of the first occurrence that
// ends after from.
func (s series) firstIndex(from time.Time) int {
	if !from.After(s.anchor.End) {
		return 0
	}
	i := max((dayNumber(from.In(s.anchor.End.Location()))-dayNumber(s.anchor.End)-1)/maxPeriodDays(s.rule), 0)
	if i >= s.steps {
		return s.steps
	}
	return i
}

func (s series) within(i int) bool {
	if i == 0 {
		return true
	}
	return i < s.steps && s.at(i).Start.Before(s.cutoff)
}

// last returns the index of the final occurrence of the series.
func (s series) last() int {
	n := sort.Search(s.steps, func(i int) bool { return !s.within(i) })
	if n == 0 {
		return 0
	}
	return n - 1
}

// Expand lazily yields every occurrence overlapping window, in chronological order.
func (e *Engine) Expand(rule Rule, anchor, window interval.Interval) (iter.Seq[interval.Interval], error) {
	if !window.Valid() {
		return nil, ErrInvalidWindow
	}
	s, err := e.prepare(rule, anchor)
	if err != nil {
		return nil, err
	}

	return func(yield func(interval.Interval) bool) {
		for i := s.firstIndex(window.Start); i < s.steps; i++ {
			if !s.within(i) {
				return
			}
			occ := s.at(i)
			if !occ.Start.Before(window.End) {
				return
			}
			if occ.End.After(window.Start) {
				if !yield(occ) {
					return
				}
			}
		}
	}, nil
}

// Occurrences collects the occurrences overlapping window.
func (e *Engine) Occurrences(rule Rule, anchor, window interval.Interval) ([]interval.Interval, error) {
	seq, err := e.Expand(rule, anchor, window)
	if err != nil {
		return nil, err
	}
	occurrences := make([]interval.Interval, 0)
	for occ := range seq {
		occurrences = append(occurrences, occ)
	}
	return occurrences, nil
}

// OccurrencesOverlapping reports whether any occurrence of the series overlaps
// [windowStart, windowEnd).
func (e *Engine) OccurrencesOverlapping(rule Rule, anchor interval.Interval, windowStart, windowEnd time.Time) (bool, error) {
	seq, err := e.Expand(rule, anchor, interval.Interval{Start: windowStart, End: windowEnd})
	if err != nil {
		return false, err
	}
	for range seq {
		return true, nil
	}
	return false, nil
}

// ActiveRange returns the span from the anchor's start to the end of the
// series' final occurrence.
func (e *Engine) ActiveRange(rule Rule, anchor interval.Interval) (interval.Interval, error) {
	s, err := e.prepare(rule, anchor)
	if err != nil {
		return interval.Interval{}, err
	}
	return interval.Interval{Start: s.anchor.Start, End: s.at(s.last()).End}, nil
}

// Count returns the number of occurrences in the series, anchor included.
func (e *Engine) Count(rule Rule, anchor interval.Interval) (int, error) {
	s, err := e.prepare(rule, anchor)
	if err != nil {
		return 0, err
	}
	return s.last() + 1, nil
}

func stepFrom(rule Rule, start time.Time, i int) time.Time {
	if i == 0 {
		return start
	}
	switch rule.Frequency {
	case FrequencyDaily:
		return start.AddDate(0, 0, i*rule.Step)
	case FrequencyWeekly:
		return start.AddDate(0, 0, 7*i*rule.Step)
	case FrequencyMonthly:
		return addMonthsClamped(start, i*rule.Step)
	default:
		return start
	}
}

// addMonthsClamped keeps the day of month, rounding down to the last day of
// shorter target months.
func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	hour, minute, sec := t.Clock()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, hour, minute, sec, t.Nanosecond(), t.Location())
}

func daysIn(monthStart time.Time) int {
	return time.Date(monthStart.Year(), monthStart.Month()+1, 0, 0, 0, 0, 0, monthStart.Location()).Day()
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// dayNumber counts calendar days since the Unix epoch for t's wall-clock
// date. Differences stay exact for any span, unlike time.Duration.
func dayNumber(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

// minPeriodDays and maxPeriodDays bracket the calendar days one step
// advances. Only months vary.
func minPeriodDays(rule Rule) int {
	switch rule.Frequency {
	case FrequencyWeekly:
		return 7 * rule.Step
	case FrequencyMonthly:
		return 28 * rule.Step
	default:
		return rule.Step
	}
}

func maxPeriodDays(rule Rule) int {
	switch rule.Frequency {
	case FrequencyWeekly:
		return 7 * rule.Step
	case FrequencyMonthly:
		return 31 * rule.Step
	default:
		return rule.Step
	}
}
