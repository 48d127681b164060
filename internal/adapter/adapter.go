// Package adapter abstracts the display-protocol specifics of clipboard
// access and paste-keystroke synthesis. Build constraints and runtime
// session detection select the implementation:
//
//	x11_linux.go      — X11 via golang.design/x/clipboard (+ xdotool keystroke)
//	wayland_linux.go  — Wayland via wl-clipboard helpers (+ uinput keystroke)
//	headless.go       — no-display stub, serves stored history read-only
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clipvault/clipvault/internal/content"
)

// ExecTimeout bounds every helper-process clipboard call so a wedged
// compositor or helper cannot hang the daemon.
const ExecTimeout = 500 * time.Millisecond

// ErrPermission reports missing OS permission (typically /dev/uinput access
// for keystroke synthesis). Surfaced once, never retried in a tight loop.
var ErrPermission = errors.New("permission denied")

// ErrConnection reports a lost or unavailable display-server connection.
// The capture loop reacts with bounded reconnect attempts.
var ErrConnection = errors.New("display connection unavailable")

// Adapter is the capability set every display backend provides.
type Adapter interface {
	// Name returns a human-readable backend name for logs.
	Name() string

	// Read returns the current clipboard state as a multi-representation
	// payload. An empty payload (no error) means the clipboard is empty or
	// holds only unsupported types.
	Read(ctx context.Context) (content.Payload, error)

	// Write replaces the clipboard contents. The write must be durable
	// before SimulatePaste is called, else the paste races stale content.
	Write(ctx context.Context, p content.Payload) error

	// SimulatePaste synthesizes the paste chord (Ctrl+V) into the focused
	// window.
	SimulatePaste(ctx context.Context) error

	// Watch returns a channel that signals whenever the clipboard may have
	// changed. The channel is never closed; callers Read on each signal.
	// Backends without native change notification poll.
	Watch() <-chan struct{}

	// Close releases backend resources and stops the watcher.
	Close()
}

// pickRep selects the representation a backend serves for a write: the
// first rep (caller preference order) whose MIME type the backend can write.
// Every backend serves exactly one representation per write — the selection
// tools (wl-copy, xclip) own the whole selection per invocation.
func pickRep(p content.Payload, canWrite func(mime string) bool) (content.Rep, error) {
	for _, r := range p.Reps {
		if canWrite(r.MIME) {
			return r, nil
		}
	}
	return content.Rep{}, fmt.Errorf("no writable representation in payload")
}

// FocusKeeper is an optional interface for backends that can save the
// currently focused window and restore it later. Used around the picker
// window so the paste keystroke lands in the window the user was in.
type FocusKeeper interface {
	SaveFocus(ctx context.Context) error
	RestoreFocus(ctx context.Context) error
}
