// Package paste makes a chosen history item the live clipboard content and
// triggers the OS paste chord into the previously focused window.
package paste

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/clipvault/clipvault/internal/adapter"
	"github.com/clipvault/clipvault/internal/content"
	"github.com/clipvault/clipvault/internal/store"
)

// ErrPaste wraps any clipboard-write or keystroke failure. History is
// unaffected; the user may simply retry.
var ErrPaste = errors.New("paste failed")

const (
	// writeSettle is the pause between the clipboard write and the
	// keystroke. Pasting immediately races the target app reading stale
	// clipboard content.
	writeSettle = 60 * time.Millisecond
	// pasteSettle lets the target app finish reading before the selection
	// owner may change again.
	pasteSettle = 250 * time.Millisecond
)

// Engine converts history items back into clipboard payloads and injects
// the paste keystroke. All operations commit once the clipboard write
// succeeds — the keystroke is always attempted after that point.
type Engine struct {
	ad adapter.Adapter
	st *store.Store
	// uriDir holds PNG files written for image pastes that need a
	// file:// representation.
	uriDir string
}

// New wires an Engine. uriDir may be empty to disable file-URI image pastes.
func New(ad adapter.Adapter, st *store.Store, uriDir string) *Engine {
	return &Engine{ad: ad, st: st, uriDir: uriDir}
}

// Item pastes the history item with the given id. Returns store.ErrNotFound
// if it was deleted since the UI listed it; pasting never re-inserts or
// reorders the item.
func (e *Engine) Item(ctx context.Context, id string) error {
	it, err := e.st.Get(id)
	if err != nil {
		return err
	}

	payload, fp, err := e.encode(it.Content)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPaste, err)
	}
	return e.deliver(ctx, payload, fp)
}

// Text pastes arbitrary text that is not (necessarily) in history — the
// path used by external content catalogs. The text is suppressed from
// capture exactly like a history paste.
func (e *Engine) Text(ctx context.Context, text string) error {
	if text == "" {
		return fmt.Errorf("%w: empty text", ErrPaste)
	}
	fp := content.FingerprintBytes([]byte(text))
	return e.deliver(ctx, content.TextPayload(text), fp)
}

// deliver runs the common tail: mark self-originated, write, restore focus,
// keystroke.
func (e *Engine) deliver(ctx context.Context, payload content.Payload, fp string) error {
	// Mark before the write so a fast capture poll cannot slip in between.
	e.st.MarkSelfWrite(fp)

	if err := e.ad.Write(ctx, payload); err != nil {
		return fmt.Errorf("%w: clipboard write: %v", ErrPaste, err)
	}

	if err := sleepCtx(ctx, writeSettle); err != nil {
		return err
	}

	if fk, ok := e.ad.(adapter.FocusKeeper); ok {
		if err := fk.RestoreFocus(ctx); err != nil {
			slog.Warn("focus restore failed", "err", err)
		}
	}

	if err := e.ad.SimulatePaste(ctx); err != nil {
		return fmt.Errorf("%w: keystroke: %v", ErrPaste, err)
	}
	return sleepCtx(ctx, pasteSettle)
}

// encode converts canonical content back into a payload ordered by
// preference; the backend serves the first representation it can write.
// Text and rich text write the plain representation — target apps negotiate
// formats at paste time from the original owner, which we are not. Images
// are offered as PNG first, with a file:// URI rep behind it so a backend
// without image write support can still paste the image as a file path.
func (e *Engine) encode(c content.Content) (content.Payload, string, error) {
	fp := c.Fingerprint()
	switch c.Kind {
	case content.KindText, content.KindRichText:
		return content.TextPayload(c.Text), fp, nil

	case content.KindImage:
		raw, err := base64.StdEncoding.DecodeString(c.ImageB64)
		if err != nil {
			return content.Payload{}, "", fmt.Errorf("image decode: %w", err)
		}
		p := content.Payload{Reps: []content.Rep{{MIME: content.MIMEPNG, Data: raw}}}
		if e.uriDir != "" {
			if uri, err := e.writeImageFile(fp, raw); err == nil {
				p.Reps = append(p.Reps, content.Rep{MIME: content.MIMEURIList, Data: []byte(uri)})
			} else {
				slog.Debug("image uri rep skipped", "err", err)
			}
		}
		return p, fp, nil

	default:
		return content.Payload{}, "", fmt.Errorf("unknown content kind %q", c.Kind)
	}
}

// writeImageFile persists the image under uriDir (named by fingerprint so
// repeat pastes reuse the file) and returns its file:// URI.
func (e *Engine) writeImageFile(fp string, raw []byte) (string, error) {
	if err := os.MkdirAll(e.uriDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(e.uriDir, fp[:16]+".png")
	if _, err := os.Stat(path); err != nil {
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			return "", err
		}
	}
	return "file://" + path, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
