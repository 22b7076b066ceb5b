package timetable

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Reader returns the raw bytes of a document given its location (a path or
// URL). internal/source provides the production implementation.
type Reader interface {
	Read(ctx context.Context, location string) ([]byte, error)
}

// Snapshot is one consistent pair of loaded documents. It is never mutated
// after LoadSnapshot returns.
type Snapshot struct {
	Term     *TermCalendar
	Slots    SlotTable
	LoadedAt time.Time
}

// LoadSnapshot reads and parses both documents. The slot table depends on
// the term start date, so the term calendar is loaded first.
func LoadSnapshot(ctx context.Context, r Reader, termSource, slotsSource string, loc *time.Location) (*Snapshot, error) {
	termRaw, err := r.Read(ctx, termSource)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", DocTerm, err)
	}
	term, err := LoadTermCalendar(termRaw, loc)
	if err != nil {
		return nil, err
	}

	slotsRaw, err := r.Read(ctx, slotsSource)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", DocSlots, err)
	}
	slots, err := LoadSlotTable(slotsRaw, term)
	if err != nil {
		return nil, err
	}

	return &Snapshot{Term: term, Slots: slots, LoadedAt: time.Now()}, nil
}

// Store publishes the current snapshot. Reloads replace the whole snapshot,
// so readers always see a matching term and slot table.
type Store struct {
	cur atomic.Pointer[Snapshot]
}

func NewStore(s *Snapshot) *Store {
	st := &Store{}
	if s != nil {
		st.cur.Store(s)
	}
	return st
}

// Current returns the latest snapshot, or nil if none was loaded yet.
func (s *Store) Current() *Snapshot {
	return s.cur.Load()
}

func (s *Store) Replace(snap *Snapshot) {
	s.cur.Store(snap)
}
