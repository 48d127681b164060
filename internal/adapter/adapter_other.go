//go:build !linux

package adapter

import "time"

// Options tunes backend construction.
type Options struct {
	// PollInterval is the clipboard poll period for backends without
	// native change notification. <=0 means 250ms.
	PollInterval time.Duration
}

// New returns the headless stub on platforms without a supported display
// protocol. History commands keep working; capture and paste do not.
func New(Options) Adapter {
	return newHeadless()
}
