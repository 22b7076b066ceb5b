package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	ical "github.com/arran4/golang-ical"

	appLog "schedmaker/internal/log"
)

// ParsedEvent is the normalized representation of a VEVENT. Recurrence
// expansion operates on this type.
type ParsedEvent struct {
	UID     string
	Summary string

	Start time.Time
	End   time.Time

	RawRRule string
	ExDates  []time.Time
	RDates   []time.Time
}

// ParseICS parses a calendar document into ParsedEvents.
//
//   - DTSTART/DTEND/EXDATE/RDATE honor a TZID parameter and the UTC "Z" form.
//   - RRULE is kept raw; expansion happens in expand.go.
//   - A malformed VEVENT is logged and skipped.
func ParseICS(body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr)
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = unescapeText(p.Value)
	}

	var err error
	start := ve.GetProperty(ical.ComponentPropertyDtStart)
	if start == nil {
		return out, fmt.Errorf("%s: missing DTSTART", out.UID)
	}
	if out.Start, err = parsePropTime(start.Value, start.ICalParameters); err != nil {
		return out, fmt.Errorf("%s: DTSTART: %w", out.UID, err)
	}
	if end := ve.GetProperty(ical.ComponentPropertyDtEnd); end != nil {
		if out.End, err = parsePropTime(end.Value, end.ICalParameters); err != nil {
			return out, fmt.Errorf("%s: DTEND: %w", out.UID, err)
		}
	} else {
		out.End = out.Start
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	// EXDATE and RDATE may repeat and may hold comma-separated lists.
	if out.ExDates, err = parseDateList(ve.GetProperties(ical.ComponentPropertyExdate)); err != nil {
		return out, fmt.Errorf("%s: EXDATE: %w", out.UID, err)
	}
	if out.RDates, err = parseDateList(ve.GetProperties(ical.ComponentPropertyRdate)); err != nil {
		return out, fmt.Errorf("%s: RDATE: %w", out.UID, err)
	}

	return out, nil
}

func parseDateList(props []*ical.IANAProperty) ([]time.Time, error) {
	var out []time.Time
	for _, p := range props {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, err := parsePropTime(part, p.ICalParameters)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// parsePropTime parses DATE-TIME (UTC or with TZID) and DATE values.
// Floating values without TZID are read in UTC.
func parsePropTime(v string, params map[string][]string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	if strings.HasSuffix(v, "Z") {
		return time.Parse(utcDateTimeLayout, v)
	}

	loc := time.UTC
	if tzs, ok := params["TZID"]; ok && len(tzs) > 0 && tzs[0] != "" {
		l, err := time.LoadLocation(tzs[0])
		if err != nil {
			return time.Time{}, fmt.Errorf("unknown TZID %q: %w", tzs[0], err)
		}
		loc = l
	}

	if strings.Contains(v, "T") {
		return time.ParseInLocation(localDateTimeLayout, v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

func unescapeText(s string) string {
	return textUnescaper.Replace(s)
}
