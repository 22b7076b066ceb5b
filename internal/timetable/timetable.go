// Package timetable loads the term calendar and slot pattern documents and
// exposes them as immutable snapshots.
package timetable

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	// DateLayout is the DD/MM/YYYY format used by both documents.
	DateLayout = "02/01/2006"
	// CustomClockLayout is the 24-hour HH:MM format of time pickers.
	CustomClockLayout = "15:04"
)

// clockLayouts are the accepted 12-hour forms, tried in order.
var clockLayouts = []string{"03:04PM", "3:04PM", "03:04 PM", "3:04 PM"}

// TermCalendar bounds every recurrence of a term and carries its holiday and
// makeup-day overrides. All dates are midnight in Location.
type TermCalendar struct {
	Location  *time.Location
	StartDate time.Time
	// EndDate is inclusive.
	EndDate time.Time

	// ExcludedDates holds one entry per day; ranges are already expanded.
	ExcludedDates []time.Time
	ExtraDays     []ExtraDay
}

// ExtraDay is a makeup session held on Date following the timetable of Weekday.
type ExtraDay struct {
	Date    time.Time
	Weekday time.Weekday
}

// Contains reports whether d falls on a day within [StartDate, EndDate].
func (tc *TermCalendar) Contains(d time.Time) bool {
	day := DateOf(d, tc.Location)
	return !day.Before(tc.StartDate) && !day.After(tc.EndDate)
}

// At returns date d at the wall-clock time of clock, in the term's zone.
func (tc *TermCalendar) At(d, clock time.Time) time.Time {
	return Anchor(d, clock, tc.Location)
}

// TimeBlock is one weekday set plus a start/end time within a slot. Start and
// End are anchored on the term start date.
type TimeBlock struct {
	Weekdays []time.Weekday
	Start    time.Time
	End      time.Time
}

// Duration is the length of one meeting.
func (b TimeBlock) Duration() time.Duration {
	return b.End.Sub(b.Start)
}

// SlotTable maps a slot name to its time blocks.
type SlotTable map[string][]TimeBlock

// Names returns the slot names, shortest first, then alphabetically
// (A, B, ..., AA, AB).
func (st SlotTable) Names() []string {
	names := make([]string, 0, len(st))
	for name := range st {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) < len(names[j])
		}
		return names[i] < names[j]
	})
	return names
}

// Pattern returns an anchored alternation matching exactly one slot name,
// suitable for an HTML pattern attribute.
func (st SlotTable) Pattern() string {
	names := st.Names()
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = regexp.QuoteMeta(n)
	}
	return strings.Join(quoted, "|")
}

var weekdayLabels = map[string]time.Weekday{
	"mo": time.Monday, "mon": time.Monday, "monday": time.Monday,
	"tu": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"we": time.Wednesday, "wed": time.Wednesday, "wednesday": time.Wednesday,
	"th": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fr": time.Friday, "fri": time.Friday, "friday": time.Friday,
	"sa": time.Saturday, "sat": time.Saturday, "saturday": time.Saturday,
	"su": time.Sunday, "sun": time.Sunday, "sunday": time.Sunday,
}

// ParseWeekday maps a case-insensitive short or long English day name to a
// time.Weekday.
func ParseWeekday(label string) (time.Weekday, error) {
	wd, ok := weekdayLabels[strings.ToLower(strings.TrimSpace(label))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", label)
	}
	return wd, nil
}

// ShortName is the two-letter label used by the form (Mo..Su).
func ShortName(wd time.Weekday) string {
	return wd.String()[:2]
}

// Week lists the weekdays Monday first.
var Week = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// ParseDate parses a DD/MM/YYYY date at midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
}

// ParseClock parses a 12-hour time of day such as "08:00AM" or "2:30 pm".
// The date part of the result is meaningless; use Anchor.
func ParseClock(s string) (time.Time, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q, want hh:mmAM", s)
}

// DateOf truncates t to midnight of its calendar day in loc.
func DateOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Anchor combines the calendar day of d with the hour and minute of clock.
func Anchor(d, clock time.Time, loc *time.Location) time.Time {
	d = d.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
}

// ExpandRange returns every day from first through last inclusive.
func ExpandRange(first, last time.Time) []time.Time {
	if last.Before(first) {
		return nil
	}
	var out []time.Time
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}
