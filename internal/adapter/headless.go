package adapter

import (
	"context"

	"github.com/clipvault/clipvault/internal/content"
)

// headlessBackend is the stub used when no display is available. Reads
// return empty, writes and paste report ErrConnection, the watch channel
// never fires. The daemon keeps serving stored history.
type headlessBackend struct {
	watchCh chan struct{}
}

func newHeadless() *headlessBackend {
	return &headlessBackend{watchCh: make(chan struct{})}
}

func (b *headlessBackend) Name() string { return "headless (no display)" }

func (b *headlessBackend) Read(context.Context) (content.Payload, error) {
	return content.Payload{}, nil
}

func (b *headlessBackend) Write(context.Context, content.Payload) error {
	return ErrConnection
}

func (b *headlessBackend) SimulatePaste(context.Context) error {
	return ErrConnection
}

func (b *headlessBackend) Watch() <-chan struct{} { return b.watchCh }
func (b *headlessBackend) Close()                 {}
