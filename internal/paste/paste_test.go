package paste

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/clipvault/clipvault/internal/content"
	"github.com/clipvault/clipvault/internal/store"
)

// fakeAdapter records the order of clipboard operations so tests can assert
// write-before-keystroke and focus-restore sequencing.
type fakeAdapter struct {
	mu       sync.Mutex
	ops      []string
	written  content.Payload
	writeErr error
	pasteErr error
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Read(context.Context) (content.Payload, error) {
	return content.Payload{}, nil
}

func (f *fakeAdapter) Write(_ context.Context, p content.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.ops = append(f.ops, "write")
	f.written = p
	return nil
}

func (f *fakeAdapter) SimulatePaste(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pasteErr != nil {
		return f.pasteErr
	}
	f.ops = append(f.ops, "paste")
	return nil
}

func (f *fakeAdapter) Watch() <-chan struct{} { return nil }
func (f *fakeAdapter) Close()                 {}

func (f *fakeAdapter) SaveFocus(context.Context) error { return nil }

func (f *fakeAdapter) RestoreFocus(context.Context) error {
	f.mu.Lock()
	f.ops = append(f.ops, "focus")
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) opsSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func TestItemPastesInOrder(t *testing.T) {
	ad := &fakeAdapter{}
	st := store.New(store.Options{})
	it, err := st.Insert(content.Content{Kind: content.KindText, Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}

	e := New(ad, st, "")
	if err := e.Item(context.Background(), it.ID); err != nil {
		t.Fatal(err)
	}

	want := []string{"write", "focus", "paste"}
	got := ad.opsSnapshot()
	if len(got) != len(want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ops = %v, want %v", got, want)
		}
	}
	if string(ad.written.Get(content.MIMEText)) != "hello" {
		t.Fatalf("wrote %q", ad.written.Get(content.MIMEText))
	}
}

func TestItemNotFound(t *testing.T) {
	e := New(&fakeAdapter{}, store.New(store.Options{}), "")
	if err := e.Item(context.Background(), "gone"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPasteDoesNotTouchHistory(t *testing.T) {
	ad := &fakeAdapter{}
	st := store.New(store.Options{})
	old, _ := st.Insert(content.Content{Kind: content.KindText, Text: "old"})
	newer, _ := st.Insert(content.Content{Kind: content.KindText, Text: "newer"})

	e := New(ad, st, "")
	if err := e.Item(context.Background(), old.ID); err != nil {
		t.Fatal(err)
	}

	items := st.List()
	if len(items) != 2 || items[0].ID != newer.ID || items[1].ID != old.ID {
		t.Fatalf("paste reordered history: %+v", items)
	}
}

func TestPasteMarksSelfOriginated(t *testing.T) {
	ad := &fakeAdapter{}
	st := store.New(store.Options{})

	e := New(ad, st, "")
	if err := e.Text(context.Background(), "external snippet"); err != nil {
		t.Fatal(err)
	}

	// The capture loop seeing the write-back must be suppressed.
	_, err := st.Insert(content.Content{Kind: content.KindText, Text: "external snippet"})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("write-back not suppressed: %v", err)
	}
}

func TestTextEmpty(t *testing.T) {
	e := New(&fakeAdapter{}, store.New(store.Options{}), "")
	if err := e.Text(context.Background(), ""); !errors.Is(err, ErrPaste) {
		t.Fatalf("expected ErrPaste, got %v", err)
	}
}

func TestWriteFailureWrapsErrPaste(t *testing.T) {
	ad := &fakeAdapter{writeErr: errors.New("display gone")}
	st := store.New(store.Options{})
	e := New(ad, st, "")
	if err := e.Text(context.Background(), "x"); !errors.Is(err, ErrPaste) {
		t.Fatalf("expected ErrPaste, got %v", err)
	}
}

func TestKeystrokeFailureWrapsErrPaste(t *testing.T) {
	ad := &fakeAdapter{pasteErr: errors.New("no uinput")}
	st := store.New(store.Options{})
	e := New(ad, st, "")
	err := e.Text(context.Background(), "x")
	if !errors.Is(err, ErrPaste) {
		t.Fatalf("expected ErrPaste, got %v", err)
	}
	// The clipboard write itself still happened.
	if string(ad.written.Get(content.MIMEText)) != "x" {
		t.Fatalf("clipboard write missing")
	}
}

func TestImagePasteOffersPNGAndFileURI(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	ad := &fakeAdapter{}
	st := store.New(store.Options{})
	it, err := st.Insert(content.Content{
		Kind:     content.KindImage,
		ImageB64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:    3,
		Height:   3,
	})
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	e := New(ad, st, dir)
	if err := e.Item(context.Background(), it.ID); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(ad.written.Get(content.MIMEPNG), buf.Bytes()) {
		t.Fatalf("PNG representation missing or altered")
	}
	uri := string(ad.written.Get(content.MIMEURIList))
	if uri == "" {
		t.Fatalf("file URI representation missing")
	}
	path := uri[len("file://"):]
	if filepath.Dir(path) != dir {
		t.Fatalf("image file written outside uri dir: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, buf.Bytes()) {
		t.Fatalf("image file contents differ")
	}
}
