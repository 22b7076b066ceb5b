package ics

import (
	"fmt"
	"sort"
	"time"

	ical "github.com/arran4/golang-ical"

	"schedmaker/internal/model"
)

// zoneSpan is the range of instants one TZID has to cover.
type zoneSpan struct {
	loc      *time.Location
	from, to time.Time
}

// usedZones collects every non-UTC zone referenced by the events, in name
// order.
func usedZones(events []model.EventDescriptor) []zoneSpan {
	spans := map[string]*zoneSpan{}
	see := func(t time.Time) {
		loc := t.Location()
		if t.IsZero() || loc == time.UTC {
			return
		}
		s, ok := spans[loc.String()]
		if !ok {
			spans[loc.String()] = &zoneSpan{loc: loc, from: t, to: t}
			return
		}
		if t.Before(s.from) {
			s.from = t
		}
		if t.After(s.to) {
			s.to = t
		}
	}
	for _, ev := range events {
		see(ev.Start)
		see(ev.End)
		if ev.Recurrence == nil {
			continue
		}
		see(ev.Recurrence.Until)
		for _, t := range ev.Recurrence.RDates {
			see(t)
		}
		for _, t := range ev.Recurrence.ExDates {
			see(t)
		}
	}

	out := make([]zoneSpan, 0, len(spans))
	for _, s := range spans {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].loc.String() < out[j].loc.String() })
	return out
}

// addTimezone writes a VTIMEZONE for span.loc covering whole calendar years
// around the span. Observances come from Go's zone data, so a zone without
// DST gets a single STANDARD block.
func addTimezone(cal *ical.Calendar, span zoneSpan) {
	loc := span.loc
	start := time.Date(span.from.In(loc).Year(), time.January, 1, 0, 0, 0, 0, loc)
	end := time.Date(span.to.In(loc).Year()+1, time.January, 1, 0, 0, 0, 0, loc)

	tz := cal.AddTimezone(loc.String())

	// The first observance starts the covered range; it changes nothing.
	_, offset := start.Zone()
	addObservance(tz, start, start.Format(localDateTimeLayout), offset)

	at := start
	for {
		_, next := at.ZoneBounds()
		if next.IsZero() || !next.Before(end) {
			break
		}
		_, from := at.Zone()
		// Onset is the wall-clock time just before the change.
		onset := next.In(time.FixedZone("", from)).Format(localDateTimeLayout)
		addObservance(tz, next, onset, from)
		at = next
	}
}

func addObservance(tz *ical.VTimezone, at time.Time, onset string, fromOffset int) {
	name, toOffset := at.Zone()

	var cb *ical.ComponentBase
	if at.IsDST() {
		d := &ical.Daylight{}
		tz.Components = append(tz.Components, d)
		cb = &d.ComponentBase
	} else {
		cb = &tz.AddStandard().ComponentBase
	}

	addProperty(cb, string(ical.ComponentPropertyDtStart), nil, onset)
	addProperty(cb, "TZOFFSETFROM", nil, formatOffset(fromOffset))
	addProperty(cb, "TZOFFSETTO", nil, formatOffset(toOffset))
	if name != "" {
		addProperty(cb, "TZNAME", nil, name)
	}
}

// formatOffset renders seconds east of UTC as +hhmm.
func formatOffset(secs int) string {
	sign := '+'
	if secs < 0 {
		sign = '-'
		secs = -secs
	}
	return fmt.Sprintf("%c%02d%02d", sign, secs/3600, secs%3600/60)
}
