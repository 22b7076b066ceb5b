// Package assemble turns course entries into recurring event descriptors.
package assemble

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	appLog "schedmaker/internal/log"
	"schedmaker/internal/model"
	"schedmaker/internal/recurrence"
	"schedmaker/internal/timetable"
)

// CourseEntry is one course as entered by the user: either a named slot or a
// custom weekday set with HH:MM start and end times.
type CourseEntry struct {
	Name string `json:"name" yaml:"name" validate:"required,max=200"`
	Slot string `json:"slot,omitempty" yaml:"slot,omitempty" validate:"required_unless=Custom true,max=8"`

	Custom   bool     `json:"custom,omitempty" yaml:"custom,omitempty"`
	Weekdays []string `json:"weekdays,omitempty" yaml:"weekdays,omitempty" validate:"dive,required"`
	Start    string   `json:"start,omitempty" yaml:"start,omitempty" validate:"required_if=Custom true"`
	End      string   `json:"end,omitempty" yaml:"end,omitempty" validate:"required_if=Custom true"`
}

// InputError is a problem with one course entry. It is reported back to the
// user and aborts the whole submission.
type InputError struct {
	Course string
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Course, e.Reason)
}

func (e *InputError) Unwrap() error { return e.Err }

// Message is the user-facing text.
func (e *InputError) Message() string {
	if errors.Is(e.Err, recurrence.ErrNoWeekdays) {
		return "Please select days for " + e.Course
	}
	return fmt.Sprintf("%s: %s", e.Course, e.Reason)
}

// Assemble appends the descriptors of every entry to events and returns the
// result. The first invalid entry aborts with an *InputError and no events.
func Assemble(entries []CourseEntry, snap *timetable.Snapshot, events []model.EventDescriptor) ([]model.EventDescriptor, error) {
	if snap == nil || snap.Term == nil {
		return nil, errors.New("assemble: timetable not loaded")
	}

	// Appends never reach the caller's spare capacity, so a failed
	// submission leaves events untouched.
	out := slices.Clip(events)
	for i, entry := range entries {
		var err error
		if entry.Custom {
			out, err = AddCustomEvent(out, entry, snap.Term)
		} else {
			out, err = AddSlotEvents(out, entry, snap)
		}
		if err != nil {
			var ie *InputError
			if errors.As(err, &ie) && ie.Course == "" {
				ie.Course = fmt.Sprintf("course %d", i+1)
			}
			return nil, err
		}
	}

	appLog.Info("events assembled", "entries", len(entries), "events", len(out)-len(events))
	return out, nil
}

// AddSlotEvents appends one descriptor per time block of the entry's slot.
func AddSlotEvents(events []model.EventDescriptor, entry CourseEntry, snap *timetable.Snapshot) ([]model.EventDescriptor, error) {
	name := strings.TrimSpace(entry.Name)
	if name == "" {
		return nil, &InputError{Reason: "course name is required"}
	}

	slot, blocks, ok := lookupSlot(snap.Slots, entry.Slot)
	if !ok {
		return nil, &InputError{Course: name, Reason: fmt.Sprintf("unknown slot %q", entry.Slot)}
	}

	for i, b := range blocks {
		var err error
		events, err = addBlock(events, entry.Name, slot, i, b, snap.Term)
		if err != nil {
			return nil, &InputError{Course: name, Reason: err.Error(), Err: err}
		}
	}
	return events, nil
}

// AddCustomEvent appends exactly one descriptor built from the entry's own
// weekdays and times.
func AddCustomEvent(events []model.EventDescriptor, entry CourseEntry, term *timetable.TermCalendar) ([]model.EventDescriptor, error) {
	name := strings.TrimSpace(entry.Name)
	if name == "" {
		return nil, &InputError{Reason: "course name is required"}
	}
	if len(entry.Weekdays) == 0 {
		return nil, &InputError{Course: name, Reason: recurrence.ErrNoWeekdays.Error(), Err: recurrence.ErrNoWeekdays}
	}

	days, err := timetable.ParseWeekdays(entry.Weekdays)
	if err != nil {
		return nil, &InputError{Course: name, Reason: err.Error(), Err: err}
	}
	start, err := time.Parse(timetable.CustomClockLayout, strings.TrimSpace(entry.Start))
	if err != nil {
		return nil, &InputError{Course: name, Reason: fmt.Sprintf("invalid start time %q", entry.Start), Err: err}
	}
	end, err := time.Parse(timetable.CustomClockLayout, strings.TrimSpace(entry.End))
	if err != nil {
		return nil, &InputError{Course: name, Reason: fmt.Sprintf("invalid end time %q", entry.End), Err: err}
	}
	block, err := timetable.NewTimeBlock(days, start, end, term)
	if err != nil {
		return nil, &InputError{Course: name, Reason: err.Error(), Err: err}
	}

	events, err = addBlock(events, entry.Name, "", 0, block, term)
	if err != nil {
		return nil, &InputError{Course: name, Reason: err.Error(), Err: err}
	}
	return events, nil
}

// addBlock anchors the descriptor on the first real occurrence so clients
// never see an instance on a day outside the pattern.
func addBlock(events []model.EventDescriptor, title, slot string, idx int, b timetable.TimeBlock, term *timetable.TermCalendar) ([]model.EventDescriptor, error) {
	rec, err := recurrence.Build(b.Weekdays, b.Start, term)
	if err != nil {
		return nil, err
	}

	first, ok := rec.First()
	if !ok {
		appLog.Warn("block has no occurrences in term; skipped", "title", title, "slot", slot, "block", idx)
		return events, nil
	}

	return append(events, model.EventDescriptor{
		Title:      title,
		Slot:       slot,
		Block:      idx,
		Start:      first,
		End:        first.Add(b.Duration()),
		Recurrence: rec,
	}), nil
}

func lookupSlot(slots timetable.SlotTable, name string) (string, []timetable.TimeBlock, bool) {
	name = strings.TrimSpace(name)
	if blocks, ok := slots[name]; ok {
		return name, blocks, true
	}
	upper := strings.ToUpper(name)
	blocks, ok := slots[upper]
	return upper, blocks, ok
}
