package model

import (
	"time"

	"schedmaker/internal/recurrence"
)

// EventDescriptor is one recurring calendar event handed to the encoder.
// Start and End are the first concrete occurrence; Recurrence generates the
// rest.
type EventDescriptor struct {
	Title string

	// Slot is the slot name the event came from, empty for custom entries.
	Slot string
	// Block is the index of the time block within its slot.
	Block int

	Start time.Time
	End   time.Time

	Recurrence *recurrence.Recurrence
}

// Duration is the length of every occurrence.
func (e EventDescriptor) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Occurrence represents a single concrete instance of an event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	UID string

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, derived from the local start time.
	InstanceKey string

	Summary string

	// Start / End are in the term's timezone.
	Start time.Time
	End   time.Time
}
