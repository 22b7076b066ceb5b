package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "schedmaker/internal/log"
	"schedmaker/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the timezone to which all occurrences will be converted.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive time window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the expanded occurrences and the UIDs that hit the cap.
type ExpandResult struct {
	Occurrences     []model.Occurrence
	TruncatedEvents []string
}

// ExpandOccurrences expands parsed events into concrete occurrences within
// the configured range, applying RRULE, RDATE and EXDATE.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	all := make([]model.Occurrence, 0)
	for _, ev := range events {
		var (
			occ    []model.Occurrence
			hitCap bool
			err    error
		)
		if ev.RawRRule == "" && len(ev.RDates) == 0 {
			occ = expandSingleEvent(ev, cfg)
		} else {
			occ, hitCap, err = expandRecurringEvent(ev, cfg)
			if err != nil {
				appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
				continue
			}
		}
		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.UID)
			appLog.Error("expand: truncated occurrences for UID due to cap",
				errors.New("max occurrences reached"),
				"uid", ev.UID,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
		all = append(all, occ...)
	}

	result.Occurrences = all
	return result, nil
}

func expandSingleEvent(ev ParsedEvent, cfg ExpandConfig) []model.Occurrence {
	if ev.End.Before(cfg.RangeStart) || cfg.RangeEnd.Before(ev.Start) {
		return nil
	}
	return []model.Occurrence{makeOccurrence(ev, ev.Start, ev.End, cfg.DisplayLocation)}
}

func expandRecurringEvent(ev ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool, error) {
	var set rrule.Set

	if ev.RawRRule != "" {
		r, err := rrule.StrToRRule(ev.RawRRule)
		if err != nil {
			return nil, false, err
		}
		r.DTStart(ev.Start)
		set.RRule(r)
	}
	// DTSTART is always the first instance.
	set.RDate(ev.Start)
	for _, rd := range ev.RDates {
		set.RDate(rd.In(ev.Start.Location()))
	}
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	rangeStart := cfg.RangeStart.In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())
	occTimes := set.Between(rangeStart, rangeEnd, true)

	hitCap := false
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]model.Occurrence, 0, len(occTimes))
	var prev time.Time
	for i, occStart := range occTimes {
		if i > 0 && occStart.Equal(prev) {
			continue
		}
		prev = occStart
		out = append(out, makeOccurrence(ev, occStart, occStart.Add(dur), cfg.DisplayLocation))
	}
	return out, hitCap, nil
}

// makeOccurrence converts a start/end pair into a model.Occurrence in displayLoc.
func makeOccurrence(ev ParsedEvent, start, end time.Time, displayLoc *time.Location) model.Occurrence {
	startLocal := start.In(displayLoc)
	return model.Occurrence{
		UID:         ev.UID,
		InstanceKey: startLocal.Format(time.RFC3339Nano),
		Summary:     ev.Summary,
		Start:       startLocal,
		End:         end.In(displayLoc),
	}
}
