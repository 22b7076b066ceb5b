// Package refresh reloads the timetable documents on a cron schedule.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "schedmaker/internal/log"
	"schedmaker/internal/timetable"
)

// LoadFunc produces a fresh snapshot.
type LoadFunc func(ctx context.Context) (*timetable.Snapshot, error)

// Refresher swaps new snapshots into a store. A failed load leaves the
// previous snapshot in place.
type Refresher struct {
	store   *timetable.Store
	load    LoadFunc
	timeout time.Duration

	// mu serializes loads; errMu guards lastErr so LastError never waits
	// on a load in progress.
	mu      sync.Mutex
	errMu   sync.Mutex
	lastErr error
}

func New(store *timetable.Store, load LoadFunc) *Refresher {
	return &Refresher{store: store, load: load, timeout: time.Minute}
}

// Reload runs one load and publishes the result on success.
func (r *Refresher) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	snap, err := r.load(ctx)
	r.setLastError(err)
	if err != nil {
		if prev := r.store.Current(); prev != nil {
			appLog.Error("timetable reload failed; keeping previous snapshot", err,
				"loaded_at", prev.LoadedAt.Format(time.RFC3339))
		} else {
			appLog.Error("timetable load failed", err)
		}
		return err
	}

	r.store.Replace(snap)
	appLog.Info("timetable loaded",
		"slots", len(snap.Slots),
		"excluded_dates", len(snap.Term.ExcludedDates),
		"extra_days", len(snap.Term.ExtraDays),
		"took", time.Since(start).Round(time.Millisecond).String(),
	)
	return nil
}

// LastError returns the error of the most recent reload, if it failed.
func (r *Refresher) LastError() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.lastErr
}

func (r *Refresher) setLastError(err error) {
	r.errMu.Lock()
	r.lastErr = err
	r.errMu.Unlock()
}

// Start schedules Reload using a standard five-field cron expression. The
// schedule stops when ctx is canceled.
func (r *Refresher) Start(ctx context.Context, schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { _ = r.Reload(ctx) }); err != nil {
		return fmt.Errorf("invalid reload schedule %q: %w", schedule, err)
	}
	c.Start()
	appLog.Info("timetable reload scheduled", "cron", schedule)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}
