package refresh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedmaker/internal/timetable"
)

func snapshotAt(ts time.Time) *timetable.Snapshot {
	return &timetable.Snapshot{
		Term:     &timetable.TermCalendar{Location: time.UTC},
		Slots:    timetable.SlotTable{},
		LoadedAt: ts,
	}
}

func TestReloadKeepsPreviousOnFailure(t *testing.T) {
	first := snapshotAt(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC))
	store := timetable.NewStore(nil)

	fail := false
	r := New(store, func(context.Context) (*timetable.Snapshot, error) {
		if fail {
			return nil, errors.New("source unreachable")
		}
		return first, nil
	})

	require.NoError(t, r.Reload(context.Background()))
	assert.Same(t, first, store.Current())
	assert.NoError(t, r.LastError())

	fail = true
	assert.Error(t, r.Reload(context.Background()))
	assert.Same(t, first, store.Current())
	assert.EqualError(t, r.LastError(), "source unreachable")
}

func TestReloadFirstFailureLeavesStoreEmpty(t *testing.T) {
	store := timetable.NewStore(nil)
	r := New(store, func(context.Context) (*timetable.Snapshot, error) {
		return nil, errors.New("boom")
	})
	assert.Error(t, r.Reload(context.Background()))
	assert.Nil(t, store.Current())
}

func TestStartRejectsBadSchedule(t *testing.T) {
	r := New(timetable.NewStore(nil), func(context.Context) (*timetable.Snapshot, error) {
		return nil, errors.New("unused")
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.Error(t, r.Start(ctx, "not a schedule"))
	assert.NoError(t, r.Start(ctx, "0 */6 * * *"))
}

func TestLastErrorDoesNotWaitForLoad(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	r := New(timetable.NewStore(nil), func(context.Context) (*timetable.Snapshot, error) {
		close(started)
		<-release
		return snapshotAt(time.Now()), nil
	})

	done := make(chan error, 1)
	go func() { done <- r.Reload(context.Background()) }()
	<-started

	got := make(chan error, 1)
	go func() { got <- r.LastError() }()
	select {
	case err := <-got:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("LastError blocked while a reload was running")
	}

	close(release)
	require.NoError(t, <-done)
}
