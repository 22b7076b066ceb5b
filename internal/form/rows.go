// Package form holds the course-row view models behind the web form.
package form

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"schedmaker/internal/assemble"
	"schedmaker/internal/timetable"
)

// MaxRows bounds the "number of courses" field.
const MaxRows = 30

// Row is one course input row.
type Row struct {
	Name   string
	Slot   string
	Custom bool
	// Days is indexed Monday first, see timetable.Week.
	Days  [7]bool
	Start string
	End   string
}

// Entry converts the row into an assembler entry. Slot fields are ignored
// for custom rows and custom fields for slot rows.
func (r Row) Entry() assemble.CourseEntry {
	if !r.Custom {
		return assemble.CourseEntry{Name: r.Name, Slot: r.Slot}
	}
	var days []string
	for i, on := range r.Days {
		if on {
			days = append(days, timetable.ShortName(timetable.Week[i]))
		}
	}
	return assemble.CourseEntry{
		Name:     r.Name,
		Custom:   true,
		Weekdays: days,
		Start:    r.Start,
		End:      r.End,
	}
}

// SetWeekdays checks exactly the given days.
func (r *Row) SetWeekdays(days ...time.Weekday) {
	r.Days = [7]bool{}
	for _, wd := range days {
		r.Days[(int(wd)+6)%7] = true
	}
}

// Rows is the ordered list of course rows. Rows dropped by shrinking are kept
// aside and restored, in order, when the list grows again.
type Rows struct {
	rows      []Row
	removed   []Row
	listeners []func([]Row)
}

// NewRows returns n empty rows.
func NewRows(n int) *Rows {
	r := &Rows{}
	r.Resize(n)
	return r
}

// OnChange registers fn to be called with a copy of the rows after every
// change.
func (r *Rows) OnChange(fn func([]Row)) {
	r.listeners = append(r.listeners, fn)
}

func (r *Rows) Len() int { return len(r.rows) }

// All returns a copy of the rows.
func (r *Rows) All() []Row {
	return append([]Row(nil), r.rows...)
}

// Stashed returns the rows dropped by shrinking, in the order growth
// restores them.
func (r *Rows) Stashed() []Row {
	out := make([]Row, len(r.removed))
	for i, row := range r.removed {
		out[len(out)-1-i] = row
	}
	return out
}

// Resize grows or shrinks the list to n rows (clamped to [0, MaxRows]) and
// reports whether anything changed.
func (r *Rows) Resize(n int) bool {
	n = clamp(n)
	if n == len(r.rows) {
		return false
	}
	for len(r.rows) < n {
		if k := len(r.removed); k > 0 {
			r.rows = append(r.rows, r.removed[k-1])
			r.removed = r.removed[:k-1]
		} else {
			r.rows = append(r.rows, Row{})
		}
	}
	for len(r.rows) > n {
		last := len(r.rows) - 1
		r.removed = append(r.removed, r.rows[last])
		r.rows = r.rows[:last]
	}
	r.notify()
	return true
}

// Set replaces row i.
func (r *Rows) Set(i int, row Row) error {
	if i < 0 || i >= len(r.rows) {
		return fmt.Errorf("row %d out of range [0, %d)", i, len(r.rows))
	}
	r.rows[i] = row
	r.notify()
	return nil
}

// Entries converts every row.
func (r *Rows) Entries() []assemble.CourseEntry {
	out := make([]assemble.CourseEntry, len(r.rows))
	for i, row := range r.rows {
		out[i] = row.Entry()
	}
	return out
}

func (r *Rows) notify() {
	if len(r.listeners) == 0 {
		return
	}
	snapshot := r.All()
	for _, fn := range r.listeners {
		fn(snapshot)
	}
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxRows {
		return MaxRows
	}
	return n
}

// Field names used by the HTML form.
func NameField(i int) string   { return fmt.Sprintf("name-%d", i) }
func SlotField(i int) string   { return fmt.Sprintf("slot-%d", i) }
func CustomField(i int) string { return fmt.Sprintf("custom-%d", i) }
func StartField(i int) string  { return fmt.Sprintf("start-%d", i) }
func EndField(i int) string    { return fmt.Sprintf("end-%d", i) }
func DayField(i int, wd time.Weekday) string {
	return fmt.Sprintf("day-%d-%s", i, timetable.ShortName(wd))
}

const NumCoursesField = "num-courses"

// RequestedRows returns the num-courses value of a submitted form, or 1 when
// it is missing or malformed.
func RequestedRows(v url.Values) int {
	n, err := strconv.Atoi(strings.TrimSpace(v.Get(NumCoursesField)))
	if err != nil {
		return 1
	}
	return n
}

// ParseRows reads every row present in a submitted form, stashed ones
// included. Callers resize to RequestedRows afterwards so rows past the
// requested count go back to the stash instead of being lost.
func ParseRows(v url.Values) *Rows {
	present := 0
	for i := 0; i < MaxRows; i++ {
		if _, ok := v[NameField(i)]; ok {
			present = i + 1
		}
	}

	r := NewRows(present)
	for i := 0; i < present; i++ {
		row := Row{
			Name:   strings.TrimSpace(v.Get(NameField(i))),
			Slot:   strings.TrimSpace(v.Get(SlotField(i))),
			Custom: v.Get(CustomField(i)) != "",
			Start:  strings.TrimSpace(v.Get(StartField(i))),
			End:    strings.TrimSpace(v.Get(EndField(i))),
		}
		var days []time.Weekday
		for _, wd := range timetable.Week {
			if v.Get(DayField(i, wd)) != "" {
				days = append(days, wd)
			}
		}
		row.SetWeekdays(days...)
		// i is always in range.
		_ = r.Set(i, row)
	}
	return r
}
