package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/example/facility-booking/internal/interval"
)

var (
	// ErrUnsupportedRRule indicates an RRULE uses parts the engine cannot honour.
	ErrUnsupportedRRule = errors.New("recurrence: unsupported RRULE")
	// ErrUnboundedRRule indicates an RRULE has neither UNTIL nor COUNT.
	ErrUnboundedRRule = errors.New("recurrence: RRULE must set UNTIL or COUNT")
)

// ParseRRule converts an RFC 5545 recurrence rule into a Rule anchored at anchor.
//
// Only FREQ, INTERVAL, UNTIL and COUNT are accepted. COUNT and UNTIL are
// translated into the date of the final occurrence. An explicit INTERVAL below
// 1 is rejected.
func ParseRRule(value string, anchor interval.Interval) (Rule, error) {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "RRULE:")
	if value == "" {
		return Rule{}, fmt.Errorf("%w: empty rule", ErrUnsupportedRRule)
	}

	opt, err := rrule.StrToROption(value)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrUnsupportedRRule, err)
	}

	rule := Rule{Step: opt.Interval}
	switch opt.Freq {
	case rrule.DAILY:
		rule.Frequency = FrequencyDaily
	case rrule.WEEKLY:
		rule.Frequency = FrequencyWeekly
	case rrule.MONTHLY:
		rule.Frequency = FrequencyMonthly
	default:
		return Rule{}, fmt.Errorf("%w: frequency %s", ErrUnsupportedRRule, opt.Freq)
	}
	// rrule-go reports an absent INTERVAL and INTERVAL=0 alike.
	if rule.Step == 0 {
		if explicit, ok := rawPart(value, "INTERVAL"); ok {
			return Rule{}, fmt.Errorf("%w: INTERVAL=%s", ErrInvalidStep, explicit)
		}
		rule.Step = 1
	}

	if err := rule.check(); err != nil {
		return Rule{}, err
	}
	if !anchor.Valid() {
		return Rule{}, ErrInvalidDuration
	}

	if len(opt.Bymonth) > 0 || len(opt.Byyearday) > 0 || len(opt.Byweekno) > 0 || len(opt.Byweekday) > 0 ||
		len(opt.Byhour) > 0 || len(opt.Byminute) > 0 || len(opt.Bysecond) > 0 || len(opt.Byeaster) > 0 {
		return Rule{}, fmt.Errorf("%w: BY* parts are not supported", ErrUnsupportedRRule)
	}
	if (len(opt.Bymonthday) > 0 || len(opt.Bysetpos) > 0) && !isMonthEndClamp(rule, opt, anchor.Start.Day()) {
		return Rule{}, fmt.Errorf("%w: BYMONTHDAY is only accepted as the month-end clamp", ErrUnsupportedRRule)
	}

	switch {
	case !opt.Until.IsZero():
		rule.SeriesEnd = untilDate(opt.Until, anchor.Start)
	case opt.Count > 0:
		rule.SeriesEnd = stepFrom(rule, anchor.Start, opt.Count-1)
	default:
		return Rule{}, ErrUnboundedRRule
	}

	return rule, nil
}

// ROption renders the rule as an rrule-go option set anchored at anchor.
//
// Anchors after the 28th are expressed with BYMONTHDAY/BYSETPOS=-1 so RFC 5545
// consumers clamp short months the same way the engine does.
func (r Rule) ROption(anchor interval.Interval) (*rrule.ROption, error) {
	if err := r.check(); err != nil {
		return nil, err
	}

	start := anchor.Start
	loc := start.Location()
	until := startOfDay(r.SeriesEnd.In(loc)).AddDate(0, 0, 1).Add(-time.Second)

	opt := &rrule.ROption{
		Interval: r.Step,
		Dtstart:  start,
		Until:    until.UTC(),
	}
	switch r.Frequency {
	case FrequencyDaily:
		opt.Freq = rrule.DAILY
	case FrequencyWeekly:
		opt.Freq = rrule.WEEKLY
	case FrequencyMonthly:
		opt.Freq = rrule.MONTHLY
		if day := start.Day(); day > 28 {
			opt.Bymonthday = clampDays(day)
			opt.Bysetpos = []int{-1}
		}
	}
	return opt, nil
}

// untilDate converts an RFC 5545 UNTIL instant into the inclusive series end
// date. An occurrence on the UNTIL day starts at the anchor's wall clock time,
// so that day only counts when UNTIL is not earlier than that time.
func untilDate(until, anchorStart time.Time) time.Time {
	until = until.In(anchorStart.Location())
	y, m, d := until.Date()
	occurrence := time.Date(y, m, d, anchorStart.Hour(), anchorStart.Minute(), anchorStart.Second(), anchorStart.Nanosecond(), until.Location())
	if until.Before(occurrence) {
		return startOfDay(until).AddDate(0, 0, -1)
	}
	return startOfDay(until)
}

// rawPart returns the value of name in an RRULE body such as "FREQ=DAILY;INTERVAL=2".
func rawPart(value, name string) (string, bool) {
	for part := range strings.SplitSeq(value, ";") {
		key, v, found := strings.Cut(part, "=")
		if found && strings.EqualFold(strings.TrimSpace(key), name) {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func clampDays(day int) []int {
	days := make([]int, 0, day-27)
	for d := 28; d <= day; d++ {
		days = append(days, d)
	}
	return days
}

// isMonthEndClamp reports whether the BYMONTHDAY/BYSETPOS parts are exactly the
// ones ROption emits for an anchor on the given day.
func isMonthEndClamp(rule Rule, opt *rrule.ROption, day int) bool {
	if rule.Frequency != FrequencyMonthly || day <= 28 {
		return false
	}
	if len(opt.Bysetpos) != 1 || opt.Bysetpos[0] != -1 {
		return false
	}
	want := clampDays(day)
	if len(opt.Bymonthday) != len(want) {
		return false
	}
	for i, d := range want {
		if opt.Bymonthday[i] != d {
			return false
		}
	}
	return true
}

// RRule renders the rule without DTSTART, e.g. "FREQ=WEEKLY;INTERVAL=2;UNTIL=...".
func (r Rule) RRule(anchor interval.Interval) (string, error) {
	opt, err := r.ROption(anchor)
	if err != nil {
		return "", err
	}
	return opt.RRuleString(), nil
}
