// Package calendar renders room reservations as an iCalendar feed.
package calendar

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"

	"github.com/example/facility-booking/internal/interval"
	"github.com/example/facility-booking/internal/recurrence"
)

// ContentType is the media type of an encoded feed.
const ContentType = "text/calendar; charset=utf-8"

const productID = "-//facility-booking//Room Calendar//EN"

// Event is a single reservation in a feed.
type Event struct {
	UID        string
	Summary    string
	Location   string
	Start      time.Time
	End        time.Time
	Recurrence mo.Option[recurrence.Rule]
	Created    time.Time
}

// Build assembles a calendar named name holding events. stamp is written as
// each event's DTSTAMP.
func Build(name string, events []Event, stamp time.Time) (*ical.Calendar, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	if name != "" {
		cal.Props.SetText(ical.PropName, name)
	}

	for _, ev := range events {
		component, err := buildEvent(ev, stamp)
		if err != nil {
			return nil, fmt.Errorf("calendar: event %q: %w", ev.UID, err)
		}
		cal.Children = append(cal.Children, component.Component)
	}
	return cal, nil
}

func buildEvent(ev Event, stamp time.Time) (*ical.Event, error) {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, ev.UID)
	event.Props.SetText(ical.PropSummary, ev.Summary)
	if ev.Location != "" {
		event.Props.SetText(ical.PropLocation, ev.Location)
	}
	event.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	if !ev.Created.IsZero() {
		event.Props.SetDateTime(ical.PropCreated, ev.Created.UTC())
	}
	event.Props.SetDateTime(ical.PropDateTimeStart, ev.Start)
	event.Props.SetDateTime(ical.PropDateTimeEnd, ev.End)

	if rule, ok := ev.Recurrence.Get(); ok {
		opt, err := rule.ROption(interval.Interval{Start: ev.Start, End: ev.End})
		if err != nil {
			return nil, err
		}
		event.Props.SetRecurrenceRule(opt)
	}
	return event, nil
}

// Encode writes the feed for events to w.
func Encode(w io.Writer, name string, events []Event, stamp time.Time) error {
	cal, err := Build(name, events, stamp)
	if err != nil {
		return err
	}
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("calendar: encode: %w", err)
	}
	return nil
}
