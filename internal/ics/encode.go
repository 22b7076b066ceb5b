package ics

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "schedmaker/internal/log"
	"schedmaker/internal/model"
)

const (
	localDateTimeLayout = "20060102T150405"
	utcDateTimeLayout   = "20060102T150405Z"
)

// uidNamespace scopes event UIDs so regenerating the same timetable yields
// the same UIDs and calendar clients update instead of duplicating.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("schedmaker"))

// EncodeOptions controls calendar-level properties.
type EncodeOptions struct {
	ProductID string
	// Timezone is written as X-WR-TIMEZONE when set.
	Timezone string
	// Now is used for DTSTAMP; zero means time.Now().
	Now time.Time
}

// EncodeError reports descriptors the encoder refused. No document is
// produced when it is returned.
type EncodeError struct {
	Problems []string
}

func (e *EncodeError) Error() string {
	return "ics: invalid events: " + strings.Join(e.Problems, "; ")
}

// Encode serializes descriptors into one VCALENDAR with CRLF line endings.
// Each VEVENT carries DTSTART/DTEND in the event's zone and the recurrence
// lines (RRULE, RDATE, EXDATE) without a second anchor. Each zone gets a
// VTIMEZONE ahead of the events.
func Encode(events []model.EventDescriptor, opts EncodeOptions) ([]byte, error) {
	if err := validate(events); err != nil {
		appLog.Error("ics encode rejected events", err, "event_count", len(events))
		return nil, err
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	cal := ical.NewCalendar()
	if opts.ProductID != "" {
		cal.SetProductId(opts.ProductID)
	}
	cal.SetMethod(ical.MethodPublish)
	if opts.Timezone != "" {
		cal.SetXWRTimezone(opts.Timezone)
	}
	// Every TZID used below needs a matching VTIMEZONE.
	for _, span := range usedZones(events) {
		addTimezone(cal, span)
	}

	for _, ev := range events {
		ve := cal.AddEvent(EventUID(ev))
		ve.SetDtStampTime(now)
		addProperty(&ve.ComponentBase, string(ical.ComponentPropertyDtStart), timeParams(ev.Start), formatTime(ev.Start))
		addProperty(&ve.ComponentBase, string(ical.ComponentPropertyDtEnd), timeParams(ev.End), formatTime(ev.End))
		ve.SetSummary(ev.Title)
		if ev.Slot != "" {
			ve.SetDescription(fmt.Sprintf("Slot %s. %s", ev.Slot, ev.Recurrence.Describe()))
		} else {
			ve.SetDescription(ev.Recurrence.Describe())
		}

		for _, line := range ev.Recurrence.Lines() {
			name, params, value, err := splitContentLine(line)
			if err != nil {
				appLog.Error("ics encode: malformed recurrence line", err, "title", ev.Title, "line", line)
				return nil, &EncodeError{Problems: []string{fmt.Sprintf("%s: %v", ev.Title, err)}}
			}
			addProperty(&ve.ComponentBase, name, params, value)
		}
	}

	out := normalizeCRLF(cal.Serialize())
	appLog.Info("ics encoded", "event_count", len(events), "bytes", len(out))
	return []byte(out), nil
}

// EventUID derives a stable UID from the event's identity.
func EventUID(ev model.EventDescriptor) string {
	key := fmt.Sprintf("%s|%s|%d|%s", ev.Title, ev.Slot, ev.Block, ev.Start.UTC().Format(utcDateTimeLayout))
	return uuid.NewSHA1(uidNamespace, []byte(key)).String()
}

func validate(events []model.EventDescriptor) error {
	var problems []string
	for i, ev := range events {
		label := ev.Title
		if strings.TrimSpace(label) == "" {
			label = fmt.Sprintf("event %d", i+1)
			problems = append(problems, label+": empty title")
		}
		if ev.Start.IsZero() {
			problems = append(problems, label+": missing start")
		}
		if !ev.End.After(ev.Start) {
			problems = append(problems, label+": end is not after start")
		}
		if ev.Recurrence == nil {
			problems = append(problems, label+": missing recurrence")
		}
	}
	if len(problems) > 0 {
		return &EncodeError{Problems: problems}
	}
	return nil
}

func addProperty(cb *ical.ComponentBase, name string, params map[string][]string, value string) {
	cb.Properties = append(cb.Properties, ical.IANAProperty{
		BaseProperty: ical.BaseProperty{
			IANAToken:      name,
			ICalParameters: params,
			Value:          value,
		},
	})
}

func timeParams(t time.Time) map[string][]string {
	if t.Location() == time.UTC {
		return map[string][]string{}
	}
	return map[string][]string{"TZID": {t.Location().String()}}
}

func formatTime(t time.Time) string {
	if t.Location() == time.UTC {
		return t.Format(utcDateTimeLayout)
	}
	return t.Format(localDateTimeLayout)
}

// splitContentLine splits "NAME;P1=V1;P2=V2:VALUE" into its parts.
func splitContentLine(line string) (string, map[string][]string, string, error) {
	head, value, ok := strings.Cut(line, ":")
	if !ok || value == "" {
		return "", nil, "", fmt.Errorf("no value in %q", line)
	}
	parts := strings.Split(head, ";")
	name := strings.ToUpper(parts[0])
	if name == "" {
		return "", nil, "", fmt.Errorf("no property name in %q", line)
	}
	params := map[string][]string{}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return "", nil, "", fmt.Errorf("bad parameter %q", p)
		}
		params[strings.ToUpper(k)] = append(params[strings.ToUpper(k)], v)
	}
	return name, params, value, nil
}

func normalizeCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
