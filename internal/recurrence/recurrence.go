// Package recurrence builds the weekly recurrence of one time block over a
// term, with holidays removed and makeup days added.
package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"schedmaker/internal/timetable"
)

// ErrNoWeekdays is returned when a recurrence is built without any weekday.
var ErrNoWeekdays = errors.New("select at least one day")

var toRRuleDay = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// Recurrence is a weekly rule bounded by a term plus explicit exception
// (EXDATE) and addition (RDATE) instants.
type Recurrence struct {
	set *rrule.Set

	Weekdays []time.Weekday
	// Anchor is the term start date at the block's time of day.
	Anchor time.Time
	// Until is the term end date at the block's time of day, inclusive.
	Until   time.Time
	ExDates []time.Time
	RDates  []time.Time
}

// Build returns the recurrence of a block meeting on weekdays at timeOfDay.
// Only the hour and minute of timeOfDay are used.
//
// Every excluded date becomes an exception whether or not its weekday is in
// weekdays. An extra day becomes an addition only if it substitutes for one
// of weekdays.
func Build(weekdays []time.Weekday, timeOfDay time.Time, term *timetable.TermCalendar) (*Recurrence, error) {
	if len(weekdays) == 0 {
		return nil, ErrNoWeekdays
	}
	if term == nil {
		return nil, errors.New("recurrence: nil term calendar")
	}

	days := mondayFirst(weekdays)
	byDay := make([]rrule.Weekday, 0, len(days))
	uniq := make([]time.Weekday, 0, len(days))
	member := make(map[time.Weekday]bool, len(days))
	for _, wd := range days {
		if member[wd] {
			continue
		}
		member[wd] = true
		uniq = append(uniq, wd)
		byDay = append(byDay, toRRuleDay[wd])
	}

	rec := &Recurrence{
		Weekdays: uniq,
		Anchor:   term.At(term.StartDate, timeOfDay),
		Until:    term.At(term.EndDate, timeOfDay),
	}

	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   rec.Anchor,
		Until:     rec.Until,
		Byweekday: byDay,
	})
	if err != nil {
		return nil, fmt.Errorf("recurrence: %w", err)
	}

	set := &rrule.Set{}
	set.RRule(rule)

	for _, d := range term.ExcludedDates {
		at := term.At(d, timeOfDay)
		set.ExDate(at)
		rec.ExDates = append(rec.ExDates, at)
	}

	for _, extra := range term.ExtraDays {
		if !member[extra.Weekday] {
			continue
		}
		at := term.At(extra.Date, timeOfDay)
		set.RDate(at)
		rec.RDates = append(rec.RDates, at)
	}

	rec.set = set
	return rec, nil
}

// Lines returns the recurrence as iCalendar content lines (RRULE, RDATE,
// EXDATE). The DTSTART anchor is left out; the event carries its own start.
func (r *Recurrence) Lines() []string {
	all := r.set.Recurrence()
	out := make([]string, 0, len(all))
	for _, line := range all {
		if strings.HasPrefix(line, "DTSTART") {
			continue
		}
		if rule, ok := strings.CutPrefix(line, "RRULE:"); ok {
			line = "RRULE:" + stripAnchorPart(rule)
		}
		out = append(out, line)
	}
	return out
}

// stripAnchorPart drops a DTSTART=... part some encoders put inside RRULE.
func stripAnchorPart(rule string) string {
	parts := strings.Split(rule, ";")
	kept := parts[:0]
	for _, p := range parts {
		if strings.HasPrefix(strings.ToUpper(p), "DTSTART") {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, ";")
}

func (r *Recurrence) String() string {
	return strings.Join(r.Lines(), "\n")
}

// All expands every occurrence in ascending order.
func (r *Recurrence) All() []time.Time {
	return dedupe(r.set.All())
}

// First returns the earliest occurrence, or false if every instance was
// excluded.
func (r *Recurrence) First() (time.Time, bool) {
	all := r.All()
	if len(all) == 0 {
		return time.Time{}, false
	}
	return all[0], true
}

// Describe returns a short human-readable summary of the rule.
func (r *Recurrence) Describe() string {
	names := make([]string, len(r.Weekdays))
	for i, wd := range r.Weekdays {
		names[i] = wd.String()[:3]
	}
	s := fmt.Sprintf("Weekly on %s at %s until %s",
		strings.Join(names, ", "),
		r.Anchor.Format("15:04"),
		r.Until.Format("02 Jan 2006"),
	)

	var extras []string
	if n := len(r.ExDates); n > 0 {
		extras = append(extras, plural(n, "exception"))
	}
	if n := len(r.RDates); n > 0 {
		extras = append(extras, plural(n, "addition"))
	}
	if len(extras) > 0 {
		s += " (" + strings.Join(extras, ", ") + ")"
	}
	return s
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// mondayFirst returns a sorted copy, Monday through Sunday.
func mondayFirst(days []time.Weekday) []time.Weekday {
	out := append([]time.Weekday(nil), days...)
	rank := func(wd time.Weekday) int { return (int(wd) + 6) % 7 }
	sort.Slice(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}

func dedupe(ts []time.Time) []time.Time {
	if len(ts) < 2 {
		return ts
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	out := ts[:1]
	for _, t := range ts[1:] {
		if !t.Equal(out[len(out)-1]) {
			out = append(out, t)
		}
	}
	return out
}
