// Package storage persists clipboard history across daemon restarts.
//
// A Driver stores full history snapshots — at 50-odd items a snapshot
// rewrite per mutation burst is cheaper than per-item diffing. Two drivers
// exist behind a factory: sqlite (default) and a plain JSON file.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clipvault/clipvault/internal/store"
)

// Driver is a history snapshot store.
type Driver interface {
	// Load returns the persisted items. Order does not matter; the store
	// re-derives ordering from pin state and timestamps.
	Load() ([]store.Item, error)
	// Save replaces the persisted snapshot.
	Save(items []store.Item) error
	Close() error
}

// Backend names accepted by New.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
	BackendNone   = "none"
)

// New returns the configured driver. path is the database file (sqlite) or
// history file (json). BackendNone returns nil — persistence disabled.
func New(backend, path string) (Driver, error) {
	switch backend {
	case BackendSQLite:
		return newSQLite(path)
	case BackendJSON:
		return newJSON(path)
	case BackendNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// saveDebounce coalesces mutation bursts into one snapshot write.
const saveDebounce = 500 * time.Millisecond

// Persister watches the store and writes snapshots after mutations settle.
type Persister struct {
	drv    Driver
	st     *store.Store
	kickCh chan struct{}
}

// NewPersister wires a Persister. drv must be non-nil.
func NewPersister(drv Driver, st *store.Store) *Persister {
	return &Persister{drv: drv, st: st, kickCh: make(chan struct{}, 1)}
}

// Kick requests a snapshot save for mutations that emit no store event
// (delete, pin toggle).
func (p *Persister) Kick() {
	select {
	case p.kickCh <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled, saving a snapshot whenever the store
// reports a change and the debounce window closes. A final snapshot is
// written on shutdown.
func (p *Persister) Run(ctx context.Context) {
	events := p.st.Subscribe()
	defer p.st.Unsubscribe(events)

	var timer *time.Timer
	var timerCh <-chan time.Time
	arm := func() {
		if timer == nil {
			timer = time.NewTimer(saveDebounce)
			timerCh = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(saveDebounce)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			p.save()
			return
		case <-events:
			arm()
		case <-p.kickCh:
			arm()
		case <-timerCh:
			timer = nil
			timerCh = nil
			p.save()
		}
	}
}

func (p *Persister) save() {
	if err := p.drv.Save(p.st.List()); err != nil {
		slog.Error("history snapshot save failed", "err", err)
	}
}
