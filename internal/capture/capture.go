// Package capture runs the background loop that watches the system
// clipboard and feeds normalized content into the history store.
//
// The loop is a deliberate singleton: constructed once at process init with
// its adapter handle injected, started with Run, stopped via context
// cancellation. A fake adapter slots in for tests.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/clipvault/clipvault/internal/adapter"
	"github.com/clipvault/clipvault/internal/content"
	"github.com/clipvault/clipvault/internal/store"
)

// DefaultSettle is the debounce quiet period: rapid successive clipboard
// writes (apps often set a selection in several steps) coalesce into one
// capture of whatever is present after the clipboard stops changing.
const DefaultSettle = 200 * time.Millisecond

// maxReadBackoff caps the retry delay after consecutive read failures.
const maxReadBackoff = 30 * time.Second

// Options configures a Loop.
type Options struct {
	Settle time.Duration // <=0 means DefaultSettle
	// Notify shows a desktop notification when capture degrades. Enabled
	// by the daemon, off in tests.
	Notify bool
	// CacheDir is the paste engine's pasted-image directory. Text captures
	// that are file:// URIs into it are the daemon's own image-paste
	// artifacts re-offered by the target app, never user content.
	CacheDir string
}

// Loop owns the capture state machine: Idle → Detected → Normalizing →
// (Inserted | Suppressed) → Idle.
type Loop struct {
	ad       adapter.Adapter
	st       *store.Store
	norm     content.Normalizer
	settle   time.Duration
	notify   bool
	cacheDir string

	degraded atomic.Bool
}

// New wires a Loop. The adapter handle is owned by the loop for its
// lifetime but closed by the caller.
func New(ad adapter.Adapter, st *store.Store, norm content.Normalizer, opts Options) *Loop {
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	return &Loop{
		ad:       ad,
		st:       st,
		norm:     norm,
		settle:   opts.Settle,
		notify:   opts.Notify,
		cacheDir: opts.CacheDir,
	}
}

// Run blocks until ctx is cancelled. Transient adapter errors are logged
// and retried with backoff; the loop never terminates on its own except for
// an unrecoverable permission failure, which flips it into degraded mode
// (stored history stays readable, capture stops).
func (l *Loop) Run(ctx context.Context) {
	slog.Info("capture loop started", "backend", l.ad.Name(), "settle", l.settle)

	var settleTimer *time.Timer
	var settleCh <-chan time.Time
	failures := 0

	for {
		select {
		case <-ctx.Done():
			if settleTimer != nil {
				settleTimer.Stop()
			}
			slog.Info("capture loop stopped")
			return

		case <-l.ad.Watch():
			// Detected: (re)arm the settle timer. Another change before
			// it fires pushes the capture out again.
			if settleTimer == nil {
				settleTimer = time.NewTimer(l.settle)
				settleCh = settleTimer.C
			} else {
				if !settleTimer.Stop() {
					select {
					case <-settleTimer.C:
					default:
					}
				}
				settleTimer.Reset(l.settle)
			}

		case <-settleCh:
			settleTimer = nil
			settleCh = nil
			if err := l.captureOnce(ctx); err != nil {
				failures++
				l.handleError(ctx, err, failures)
			} else {
				failures = 0
				l.clearDegraded()
			}
		}
	}
}

// captureOnce reads, normalizes and inserts the settled clipboard state.
func (l *Loop) captureOnce(ctx context.Context) error {
	payload, err := l.ad.Read(ctx)
	if err != nil {
		return err
	}
	if payload.Empty() {
		return nil
	}

	c, err := l.norm.Normalize(payload)
	switch {
	case errors.Is(err, content.ErrEmpty):
		return nil
	case errors.Is(err, content.ErrTooLarge):
		slog.Warn("capture skipped", "reason", err)
		return nil
	case err != nil:
		slog.Warn("capture normalize failed", "err", err)
		return nil
	}

	if l.isOwnCacheURI(c) {
		slog.Debug("capture skipped", "reason", "own pasted-image cache URI")
		return nil
	}

	it, err := l.st.Insert(c)
	if errors.Is(err, store.ErrDuplicate) {
		// Suppressed: duplicate or self-originated write-back.
		slog.Debug("capture suppressed", "kind", c.Kind)
		return nil
	}
	if err != nil {
		return err
	}
	slog.Info("captured", "id", it.ID, "kind", c.Kind, "preview", it.Preview)
	return nil
}

// isOwnCacheURI reports whether a text capture is a file:// URI pointing
// into the pasted-image cache. Some apps re-offer a pasted image's file URI
// as text; recording it would put an internal path into history.
func (l *Loop) isOwnCacheURI(c content.Content) bool {
	if l.cacheDir == "" || c.Kind != content.KindText {
		return false
	}
	text := strings.TrimSpace(c.Text)
	if !strings.HasPrefix(text, "file://") {
		return false
	}
	rel, err := filepath.Rel(l.cacheDir, strings.TrimPrefix(text, "file://"))
	return err == nil && rel != ".." && !strings.HasPrefix(rel, "../")
}

func (l *Loop) handleError(ctx context.Context, err error, failures int) {
	switch {
	case errors.Is(err, adapter.ErrPermission):
		// Not retryable without operator action; degrade once.
		l.setDegraded("clipboard access permission denied")
		return
	case errors.Is(err, adapter.ErrConnection):
		slog.Warn("capture read failed, will retry", "err", err, "failures", failures)
	default:
		slog.Warn("capture error", "err", err, "failures", failures)
	}

	backoff := time.Duration(failures) * time.Second
	if backoff > maxReadBackoff {
		backoff = maxReadBackoff
	}
	if failures >= 5 {
		l.setDegraded("display connection lost")
	}
	select {
	case <-ctx.Done():
	case <-time.After(backoff):
	}
}

// Degraded reports whether capture has stopped due to an unrecoverable
// error. Exposed through the status command.
func (l *Loop) Degraded() bool { return l.degraded.Load() }

func (l *Loop) setDegraded(reason string) {
	if !l.degraded.CompareAndSwap(false, true) {
		return
	}
	slog.Error("capture degraded", "reason", reason)
	if l.notify {
		if err := beeep.Notify("clipvault", "Clipboard capture disabled: "+reason, ""); err != nil {
			slog.Debug("notification failed", "err", err)
		}
	}
}

func (l *Loop) clearDegraded() {
	if l.degraded.CompareAndSwap(true, false) {
		slog.Info("capture recovered")
	}
}
