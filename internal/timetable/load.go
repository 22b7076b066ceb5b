package timetable

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tailscale/hujson"

	appLog "schedmaker/internal/log"
)

const (
	DocTerm  = "term calendar"
	DocSlots = "slot table"
)

// LoadError reports a malformed configuration document.
type LoadError struct {
	Document string
	Field    string
	Err      error
}

func (e *LoadError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Document, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Document, e.Field, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

type termDocument struct {
	StartingDate  string     `json:"startingDate"`
	EndingDate    string     `json:"endingDate"`
	ExcludedDates [][]string `json:"excludedDates"`
	ExtraDays     [][]string `json:"extraDays"`
}

// blockDocument is one `[[days...], [start, end]]` pair.
type blockDocument struct {
	Days  []string
	Times []string
}

func (b *blockDocument) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("want [weekdays, [start, end]], got %d elements", len(parts))
	}
	if err := json.Unmarshal(parts[0], &b.Days); err != nil {
		return fmt.Errorf("weekdays: %w", err)
	}
	if err := json.Unmarshal(parts[1], &b.Times); err != nil {
		return fmt.Errorf("times: %w", err)
	}
	return nil
}

// decodeJSONC strips comments and trailing commas before decoding.
func decodeJSONC(src []byte, v any) error {
	std, err := hujson.Standardize(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(std, v)
}

// LoadTermCalendar parses a term calendar document. Dates are read as
// DD/MM/YYYY in loc and excluded ranges are expanded into single days.
func LoadTermCalendar(src []byte, loc *time.Location) (*TermCalendar, error) {
	if loc == nil {
		return nil, &LoadError{Document: DocTerm, Err: errors.New("nil location")}
	}

	var doc termDocument
	if err := decodeJSONC(src, &doc); err != nil {
		return nil, &LoadError{Document: DocTerm, Err: err}
	}

	tc := &TermCalendar{Location: loc}
	var err error
	if tc.StartDate, err = ParseDate(doc.StartingDate, loc); err != nil {
		return nil, &LoadError{Document: DocTerm, Field: "startingDate", Err: err}
	}
	if tc.EndDate, err = ParseDate(doc.EndingDate, loc); err != nil {
		return nil, &LoadError{Document: DocTerm, Field: "endingDate", Err: err}
	}
	if tc.EndDate.Before(tc.StartDate) {
		return nil, &LoadError{Document: DocTerm, Field: "endingDate", Err: errors.New("ends before it starts")}
	}

	for i, entry := range doc.ExcludedDates {
		field := fmt.Sprintf("excludedDates[%d]", i)
		days, err := expandExcluded(entry, loc)
		if err != nil {
			return nil, &LoadError{Document: DocTerm, Field: field, Err: err}
		}
		tc.ExcludedDates = append(tc.ExcludedDates, days...)
	}

	for i, entry := range doc.ExtraDays {
		field := fmt.Sprintf("extraDays[%d]", i)
		if len(entry) != 2 {
			return nil, &LoadError{Document: DocTerm, Field: field, Err: fmt.Errorf("want [date, weekday], got %d elements", len(entry))}
		}
		d, err := ParseDate(entry[0], loc)
		if err != nil {
			return nil, &LoadError{Document: DocTerm, Field: field, Err: err}
		}
		wd, err := ParseWeekday(entry[1])
		if err != nil {
			return nil, &LoadError{Document: DocTerm, Field: field, Err: err}
		}
		tc.ExtraDays = append(tc.ExtraDays, ExtraDay{Date: d, Weekday: wd})
	}

	if n := tc.outOfTerm(); n > 0 {
		appLog.Debug("term calendar has dates outside the term; they have no effect", "count", n)
	}

	appLog.Info("term calendar loaded",
		"start", tc.StartDate.Format(time.DateOnly),
		"end", tc.EndDate.Format(time.DateOnly),
		"excluded", len(tc.ExcludedDates),
		"extra_days", len(tc.ExtraDays),
	)
	return tc, nil
}

func expandExcluded(entry []string, loc *time.Location) ([]time.Time, error) {
	switch len(entry) {
	case 1:
		d, err := ParseDate(entry[0], loc)
		if err != nil {
			return nil, err
		}
		return []time.Time{d}, nil
	case 2:
		first, err := ParseDate(entry[0], loc)
		if err != nil {
			return nil, err
		}
		last, err := ParseDate(entry[1], loc)
		if err != nil {
			return nil, err
		}
		if last.Before(first) {
			return nil, fmt.Errorf("range %s..%s is reversed", entry[0], entry[1])
		}
		return ExpandRange(first, last), nil
	default:
		return nil, fmt.Errorf("want 1 or 2 dates, got %d", len(entry))
	}
}

func (tc *TermCalendar) outOfTerm() int {
	n := 0
	for _, d := range tc.ExcludedDates {
		if !tc.Contains(d) {
			n++
		}
	}
	for _, x := range tc.ExtraDays {
		if !tc.Contains(x.Date) {
			n++
		}
	}
	return n
}

// LoadSlotTable parses a slot pattern document. Block times are anchored on
// the term start date.
func LoadSlotTable(src []byte, term *TermCalendar) (SlotTable, error) {
	if term == nil {
		return nil, &LoadError{Document: DocSlots, Err: errors.New("term calendar not loaded")}
	}

	var doc map[string][]blockDocument
	if err := decodeJSONC(src, &doc); err != nil {
		return nil, &LoadError{Document: DocSlots, Err: err}
	}

	table := make(SlotTable, len(doc))
	for name, blocks := range doc {
		if len(blocks) == 0 {
			return nil, &LoadError{Document: DocSlots, Field: name, Err: errors.New("slot has no time blocks")}
		}
		out := make([]TimeBlock, 0, len(blocks))
		for i, raw := range blocks {
			field := fmt.Sprintf("%s[%d]", name, i)
			b, err := buildBlock(raw, term)
			if err != nil {
				return nil, &LoadError{Document: DocSlots, Field: field, Err: err}
			}
			out = append(out, b)
		}
		table[name] = out
	}

	appLog.Info("slot table loaded", "slots", len(table))
	return table, nil
}

func buildBlock(raw blockDocument, term *TermCalendar) (TimeBlock, error) {
	days, err := ParseWeekdays(raw.Days)
	if err != nil {
		return TimeBlock{}, err
	}
	if len(raw.Times) != 2 {
		return TimeBlock{}, fmt.Errorf("want [start, end], got %d times", len(raw.Times))
	}
	start, err := ParseClock(raw.Times[0])
	if err != nil {
		return TimeBlock{}, err
	}
	end, err := ParseClock(raw.Times[1])
	if err != nil {
		return TimeBlock{}, err
	}
	return NewTimeBlock(days, start, end, term)
}

// ParseWeekdays parses a non-empty list of distinct weekday labels.
func ParseWeekdays(labels []string) ([]time.Weekday, error) {
	if len(labels) == 0 {
		return nil, errors.New("no weekdays")
	}
	seen := make(map[time.Weekday]bool, len(labels))
	days := make([]time.Weekday, 0, len(labels))
	for _, label := range labels {
		wd, err := ParseWeekday(label)
		if err != nil {
			return nil, err
		}
		if seen[wd] {
			return nil, fmt.Errorf("weekday %s listed twice", wd)
		}
		seen[wd] = true
		days = append(days, wd)
	}
	return days, nil
}

// NewTimeBlock anchors bare start/end clocks on the term start date.
func NewTimeBlock(days []time.Weekday, start, end time.Time, term *TermCalendar) (TimeBlock, error) {
	b := TimeBlock{
		Weekdays: days,
		Start:    term.At(term.StartDate, start),
		End:      term.At(term.StartDate, end),
	}
	if !b.End.After(b.Start) {
		return TimeBlock{}, fmt.Errorf("end %s is not after start %s", b.End.Format(time.Kitchen), b.Start.Format(time.Kitchen))
	}
	return b, nil
}
