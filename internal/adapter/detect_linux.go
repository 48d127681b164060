//go:build linux

package adapter

import (
	"log/slog"
	"os"
	"time"
)

// Options tunes backend construction.
type Options struct {
	// PollInterval is the clipboard poll period for backends without
	// native change notification. <=0 means 250ms.
	PollInterval time.Duration
}

func (o Options) pollInterval() time.Duration {
	if o.PollInterval <= 0 {
		return 250 * time.Millisecond
	}
	return o.PollInterval
}

// New selects a backend for the current session. Wayland is detected via
// WAYLAND_DISPLAY / XDG_SESSION_TYPE; X11 via DISPLAY. Selection happens
// once at startup — there is no live protocol switching.
func New(opts Options) Adapter {
	switch {
	case os.Getenv("WAYLAND_DISPLAY") != "" || os.Getenv("XDG_SESSION_TYPE") == "wayland":
		if b, err := newWayland(opts); err == nil {
			slog.Info("clipboard backend selected", "backend", b.Name())
			return b
		} else {
			slog.Warn("wayland backend unavailable", "err", err)
		}
		fallthrough
	case os.Getenv("DISPLAY") != "":
		if b, err := newX11(opts); err == nil {
			slog.Info("clipboard backend selected", "backend", b.Name())
			return b
		} else {
			slog.Warn("x11 backend unavailable", "err", err)
		}
	}
	slog.Warn("no usable display backend, running headless")
	return newHeadless()
}
