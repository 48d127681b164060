package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/clipvault/clipvault/internal/content"
	"github.com/clipvault/clipvault/internal/store"
)

// fakeAdapter is a scriptable clipboard backend: tests push change signals
// through watch and swap the payload Read returns.
type fakeAdapter struct {
	mu      sync.Mutex
	payload content.Payload
	readErr error
	watch   chan struct{}
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{watch: make(chan struct{}, 8)}
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Read(context.Context) (content.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payload, f.readErr
}

func (f *fakeAdapter) Write(_ context.Context, p content.Payload) error {
	f.mu.Lock()
	f.payload = p
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) SimulatePaste(context.Context) error { return nil }
func (f *fakeAdapter) Watch() <-chan struct{}              { return f.watch }
func (f *fakeAdapter) Close()                              {}

func (f *fakeAdapter) set(text string) {
	f.mu.Lock()
	f.payload = content.TextPayload(text)
	f.mu.Unlock()
}

func (f *fakeAdapter) signal() { f.watch <- struct{}{} }

func startLoop(t *testing.T, ad *fakeAdapter, st *store.Store, settle time.Duration) context.CancelFunc {
	t.Helper()
	return startLoopOpts(t, ad, st, Options{Settle: settle})
}

func startLoopOpts(t *testing.T, ad *fakeAdapter, st *store.Store, opts Options) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	loop := New(ad, st, content.Normalizer{}, opts)
	go loop.Run(ctx)
	return cancel
}

func waitItems(t *testing.T, st *store.Store, n int) []store.Item {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if items := st.List(); len(items) >= n {
			return items
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("store never reached %d items (have %d)", n, len(st.List()))
	return nil
}

func TestCaptureInsertsSettledContent(t *testing.T) {
	ad := newFakeAdapter()
	st := store.New(store.Options{})
	cancel := startLoop(t, ad, st, 10*time.Millisecond)
	defer cancel()

	ad.set("copied text")
	ad.signal()

	items := waitItems(t, st, 1)
	if items[0].Content.Text != "copied text" {
		t.Fatalf("captured %q", items[0].Content.Text)
	}
}

func TestCaptureDebounceCoalescesBursts(t *testing.T) {
	ad := newFakeAdapter()
	st := store.New(store.Options{})
	cancel := startLoop(t, ad, st, 50*time.Millisecond)
	defer cancel()

	// Three rapid signals inside one settle window: only the final state
	// must be captured.
	ad.set("step one")
	ad.signal()
	time.Sleep(10 * time.Millisecond)
	ad.set("step two")
	ad.signal()
	time.Sleep(10 * time.Millisecond)
	ad.set("final state")
	ad.signal()

	items := waitItems(t, st, 1)
	time.Sleep(100 * time.Millisecond) // room for spurious extra captures
	items = st.List()
	if len(items) != 1 {
		t.Fatalf("burst produced %d items, want 1", len(items))
	}
	if items[0].Content.Text != "final state" {
		t.Fatalf("captured %q, want final state", items[0].Content.Text)
	}
}

func TestCaptureSkipsEmptyClipboard(t *testing.T) {
	ad := newFakeAdapter()
	st := store.New(store.Options{})
	cancel := startLoop(t, ad, st, 10*time.Millisecond)
	defer cancel()

	ad.signal() // empty payload
	time.Sleep(100 * time.Millisecond)
	if got := len(st.List()); got != 0 {
		t.Fatalf("empty clipboard produced %d items", got)
	}

	ad.set("   \n ")
	ad.signal()
	time.Sleep(100 * time.Millisecond)
	if got := len(st.List()); got != 0 {
		t.Fatalf("whitespace clipboard produced %d items", got)
	}
}

func TestCaptureSuppressesSelfWrite(t *testing.T) {
	ad := newFakeAdapter()
	st := store.New(store.Options{})
	cancel := startLoop(t, ad, st, 10*time.Millisecond)
	defer cancel()

	st.MarkSelfWrite(content.FingerprintBytes([]byte("pasted back")))

	ad.set("pasted back")
	ad.signal()
	time.Sleep(100 * time.Millisecond)
	if got := len(st.List()); got != 0 {
		t.Fatalf("self-originated write was captured (%d items)", got)
	}
}

func TestCaptureSkipsOwnCacheURI(t *testing.T) {
	ad := newFakeAdapter()
	st := store.New(store.Options{})
	cacheDir := "/home/user/.config/clipvault/pasted"
	cancel := startLoopOpts(t, ad, st, Options{Settle: 10 * time.Millisecond, CacheDir: cacheDir})
	defer cancel()

	// An app re-offering the daemon's own image-paste file as text must not
	// become a history item.
	ad.set("file://" + cacheDir + "/deadbeefdeadbeef.png")
	ad.signal()
	time.Sleep(100 * time.Millisecond)
	if got := st.List(); len(got) != 0 {
		t.Fatalf("own cache URI recorded as history item: %q", got[0].Content.Text)
	}

	// A genuine user copy of some other file URI is still captured.
	ad.set("file:///home/user/Documents/report.pdf")
	ad.signal()
	waitItems(t, st, 1)

	// A sibling directory sharing the cache dir prefix is not ours.
	ad.set("file://" + cacheDir + "-backup/other.png")
	ad.signal()
	waitItems(t, st, 2)
}

func TestCaptureSuppressesDuplicate(t *testing.T) {
	ad := newFakeAdapter()
	st := store.New(store.Options{})
	cancel := startLoop(t, ad, st, 10*time.Millisecond)
	defer cancel()

	ad.set("same thing")
	ad.signal()
	waitItems(t, st, 1)

	ad.signal()
	time.Sleep(100 * time.Millisecond)
	if got := len(st.List()); got != 1 {
		t.Fatalf("duplicate capture grew history to %d", got)
	}
}
