package ics

import (
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedmaker/internal/model"
	"schedmaker/internal/recurrence"
	"schedmaker/internal/timetable"
)

func kolkata(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

func scenarioTerm(loc *time.Location) *timetable.TermCalendar {
	d := func(m time.Month, day int) time.Time { return time.Date(2021, m, day, 0, 0, 0, 0, loc) }
	return &timetable.TermCalendar{
		Location:      loc,
		StartDate:     d(1, 4),
		EndDate:       d(1, 15),
		ExcludedDates: []time.Time{d(1, 11)},
		ExtraDays:     []timetable.ExtraDay{{Date: d(1, 9), Weekday: time.Wednesday}},
	}
}

func descriptor(t *testing.T, title string, days []time.Weekday, hh int, term *timetable.TermCalendar) model.EventDescriptor {
	t.Helper()
	clock := time.Date(2000, 1, 1, hh, 0, 0, 0, time.UTC)
	rec, err := recurrence.Build(days, clock, term)
	require.NoError(t, err)
	first, ok := rec.First()
	require.True(t, ok)
	return model.EventDescriptor{
		Title:      title,
		Slot:       "A",
		Start:      first,
		End:        first.Add(time.Hour),
		Recurrence: rec,
	}
}

func TestEncodeDocumentShape(t *testing.T) {
	loc := kolkata(t)
	ev := descriptor(t, "MTL101 Linear Algebra", []time.Weekday{time.Monday, time.Wednesday}, 9, scenarioTerm(loc))

	out, err := Encode([]model.EventDescriptor{ev}, EncodeOptions{ProductID: "-//schedmaker//EN", Timezone: "Asia/Kolkata"})
	require.NoError(t, err)
	doc := string(out)

	assert.Contains(t, doc, "BEGIN:VCALENDAR")
	assert.Contains(t, doc, "PRODID:-//schedmaker//EN")
	assert.Contains(t, doc, "SUMMARY:MTL101 Linear Algebra")
	assert.Contains(t, doc, "DTSTART;TZID=Asia/Kolkata:20210104T090000")
	assert.Contains(t, doc, "DTEND;TZID=Asia/Kolkata:20210104T100000")
	assert.Contains(t, doc, "RDATE;TZID=Asia/Kolkata:20210109T090000")
	assert.Contains(t, doc, "EXDATE;TZID=Asia/Kolkata:20210111T090000")
	assert.Equal(t, 1, strings.Count(doc, "DTSTART"), "recurrence must not carry its own anchor")

	var rrules []string
	for _, line := range strings.Split(doc, "\r\n") {
		if strings.HasPrefix(line, "RRULE:") {
			rrules = append(rrules, line)
		}
	}
	require.Len(t, rrules, 1)
	assert.Contains(t, rrules[0], "FREQ=WEEKLY")
	assert.Contains(t, rrules[0], "BYDAY=MO,WE")

	for i := 0; i < len(doc); i++ {
		if doc[i] == '\n' {
			require.True(t, i > 0 && doc[i-1] == '\r', "bare LF at byte %d", i)
		}
	}
}

func TestEncodeWritesTimezoneForEveryTZID(t *testing.T) {
	loc := kolkata(t)
	ev := descriptor(t, "Lecture", []time.Weekday{time.Monday, time.Wednesday}, 9, scenarioTerm(loc))

	out, err := Encode([]model.EventDescriptor{ev}, EncodeOptions{Timezone: "Asia/Kolkata"})
	require.NoError(t, err)
	doc := string(out)

	require.Contains(t, doc, "BEGIN:VTIMEZONE\r\nTZID:Asia/Kolkata\r\n")
	assert.Less(t, strings.Index(doc, "BEGIN:VTIMEZONE"), strings.Index(doc, "BEGIN:VEVENT"))
	assert.Equal(t, 1, strings.Count(doc, "BEGIN:VTIMEZONE"))
	assert.Equal(t, 1, strings.Count(doc, "BEGIN:STANDARD"))
	assert.NotContains(t, doc, "BEGIN:DAYLIGHT")
	assert.Contains(t, doc, "TZOFFSETTO:+0530")
	assert.Contains(t, doc, "TZOFFSETFROM:+0530")

	parsed, err := ParseICS(out)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.True(t, parsed[0].Start.Equal(ev.Start))
}

func TestEncodeTimezoneWithDaylightSaving(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	d := func(m time.Month, day int) time.Time { return time.Date(2021, m, day, 0, 0, 0, 0, loc) }
	term := &timetable.TermCalendar{Location: loc, StartDate: d(2, 1), EndDate: d(4, 30)}
	ev := descriptor(t, "Seminar", []time.Weekday{time.Tuesday}, 10, term)

	out, err := Encode([]model.EventDescriptor{ev}, EncodeOptions{})
	require.NoError(t, err)
	doc := string(out)

	assert.Contains(t, doc, "TZID:America/New_York")
	assert.Contains(t, doc, "BEGIN:DAYLIGHT\r\nDTSTART:20210314T020000\r\nTZOFFSETFROM:-0500\r\nTZOFFSETTO:-0400\r\nTZNAME:EDT\r\n")
	assert.Contains(t, doc, "DTSTART:20211107T020000\r\nTZOFFSETFROM:-0400\r\nTZOFFSETTO:-0500\r\nTZNAME:EST\r\n")
}

func TestEncodeUTCNeedsNoTimezone(t *testing.T) {
	ev := descriptor(t, "Lecture", []time.Weekday{time.Monday}, 9, scenarioTerm(time.UTC))
	out, err := Encode([]model.EventDescriptor{ev}, EncodeOptions{})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "VTIMEZONE")
	assert.NotContains(t, string(out), "TZID=")
}

func TestFormatOffset(t *testing.T) {
	assert.Equal(t, "+0530", formatOffset(5*3600+30*60))
	assert.Equal(t, "-0400", formatOffset(-4*3600))
	assert.Equal(t, "+0000", formatOffset(0))
}

func TestEncodeRoundTrip(t *testing.T) {
	loc := kolkata(t)
	term := scenarioTerm(loc)
	events := []model.EventDescriptor{
		descriptor(t, "Lecture", []time.Weekday{time.Monday, time.Wednesday}, 9, term),
		descriptor(t, "Tutorial", []time.Weekday{time.Friday}, 16, term),
	}

	out, err := Encode(events, EncodeOptions{ProductID: "schedmaker"})
	require.NoError(t, err)

	parsed, err := ParseICS(out)
	require.NoError(t, err)
	require.Len(t, parsed, 2)

	res, err := ExpandOccurrences(parsed, ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      term.StartDate,
		RangeEnd:        term.EndDate.AddDate(0, 0, 1),
	})
	require.NoError(t, err)

	var got, want []string
	for _, occ := range res.Occurrences {
		got = append(got, occ.Summary+" "+occ.Start.Format("2006-01-02 15:04"))
		assert.Equal(t, time.Hour, occ.End.Sub(occ.Start))
	}
	for _, ev := range events {
		for _, at := range ev.Recurrence.All() {
			want = append(want, ev.Title+" "+at.In(loc).Format("2006-01-02 15:04"))
		}
	}
	sort.Strings(got)
	sort.Strings(want)
	assert.Equal(t, want, got)
	assert.Contains(t, got, "Lecture 2021-01-09 09:00")
	assert.NotContains(t, got, "Lecture 2021-01-11 09:00")
}

func TestEncodeUIDsAreStable(t *testing.T) {
	loc := kolkata(t)
	ev := descriptor(t, "Lecture", []time.Weekday{time.Monday}, 9, scenarioTerm(loc))
	assert.Equal(t, EventUID(ev), EventUID(ev))

	other := ev
	other.Title = "Other"
	assert.NotEqual(t, EventUID(ev), EventUID(other))
}

func TestEncodeRejectsInvalidEvents(t *testing.T) {
	loc := kolkata(t)
	good := descriptor(t, "Lecture", []time.Weekday{time.Monday}, 9, scenarioTerm(loc))

	noTitle := good
	noTitle.Title = ""
	backwards := good
	backwards.End = good.Start.Add(-time.Minute)
	noRule := good
	noRule.Recurrence = nil

	out, err := Encode([]model.EventDescriptor{good, noTitle, backwards, noRule}, EncodeOptions{})
	assert.Nil(t, out)

	var ee *EncodeError
	require.True(t, errors.As(err, &ee))
	assert.Len(t, ee.Problems, 3)
}

func TestSplitContentLine(t *testing.T) {
	name, params, value, err := splitContentLine("EXDATE;TZID=Asia/Kolkata:20210111T090000")
	require.NoError(t, err)
	assert.Equal(t, "EXDATE", name)
	assert.Equal(t, map[string][]string{"TZID": {"Asia/Kolkata"}}, params)
	assert.Equal(t, "20210111T090000", value)

	_, _, _, err = splitContentLine("RRULE")
	assert.Error(t, err)
	_, _, _, err = splitContentLine("RDATE;TZID:20210101")
	assert.Error(t, err)
}

func TestParsePropTime(t *testing.T) {
	loc := kolkata(t)

	got, err := parsePropTime("20210104T033000Z", nil)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2021, 1, 4, 9, 0, 0, 0, loc)))

	got, err = parsePropTime("20210104T090000", map[string][]string{"TZID": {"Asia/Kolkata"}})
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2021, 1, 4, 9, 0, 0, 0, loc)))

	got, err = parsePropTime("20210104", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Day())

	_, err = parsePropTime("20210104T090000", map[string][]string{"TZID": {"Nowhere/Land"}})
	assert.Error(t, err)
}

func TestParseICSSkipsBrokenEvents(t *testing.T) {
	body := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:test",
		"BEGIN:VEVENT",
		"SUMMARY:no uid",
		"DTSTART:20210104T033000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:ok",
		"SUMMARY:single",
		"DTSTART:20210104T033000Z",
		"DTEND:20210104T043000Z",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")

	events, err := ParseICS([]byte(body))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].UID)

	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:        time.Date(2021, 1, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Len(t, res.Occurrences, 1)

	_, err = ParseICS(nil)
	assert.Error(t, err)
}

func TestExpandRejectsInvertedRange(t *testing.T) {
	_, err := ExpandOccurrences(nil, ExpandConfig{
		RangeStart: time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.Error(t, err)
}

func TestExpandCapsOccurrences(t *testing.T) {
	loc := kolkata(t)
	ev := ParsedEvent{
		UID:      "daily",
		Start:    time.Date(2021, 1, 4, 9, 0, 0, 0, loc),
		End:      time.Date(2021, 1, 4, 10, 0, 0, 0, loc),
		RawRRule: "FREQ=DAILY;COUNT=50",
	}
	res, err := ExpandOccurrences([]ParsedEvent{ev}, ExpandConfig{
		DisplayLocation:        loc,
		RangeStart:             ev.Start,
		RangeEnd:               ev.Start.AddDate(0, 3, 0),
		MaxOccurrencesPerEvent: 10,
	})
	require.NoError(t, err)
	assert.Len(t, res.Occurrences, 10)
	assert.Equal(t, []string{"daily"}, res.TruncatedEvents)
}
