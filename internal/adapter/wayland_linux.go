//go:build linux

package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	fallbackclip "github.com/atotto/clipboard"

	"github.com/clipvault/clipvault/internal/content"
)

// waylandBackend drives the clipboard through the wl-clipboard helpers
// (wl-paste / wl-copy) — Wayland restricts clipboard access to
// compositor-mediated protocols, so an external helper is the portable
// route. Keystroke synthesis goes through /dev/uinput because the Wayland
// security model rejects synthetic input from arbitrary clients.
//
// When the wl-clipboard binaries are missing the backend degrades to
// text-only operation via atotto/clipboard (which shells out to whatever
// tool it finds).
type waylandBackend struct {
	watchCh chan struct{}
	done    chan struct{}

	haveWlPaste bool
	haveWlCopy  bool

	lastText []byte
	lastImg  []byte
}

func newWayland(opts Options) (*waylandBackend, error) {
	b := &waylandBackend{
		watchCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	_, err := exec.LookPath("wl-paste")
	b.haveWlPaste = err == nil
	_, err = exec.LookPath("wl-copy")
	b.haveWlCopy = err == nil
	if !b.haveWlPaste && fallbackclip.Unsupported {
		return nil, fmt.Errorf("%w: wl-clipboard not installed and no fallback tool found", ErrConnection)
	}
	go b.poll(opts.pollInterval())
	return b, nil
}

func (b *waylandBackend) Name() string {
	if b.haveWlPaste {
		return "Wayland (wl-clipboard, poll)"
	}
	return "Wayland (fallback text-only, poll)"
}

func (b *waylandBackend) poll(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), ExecTimeout)
			text := b.readMIME(ctx, content.MIMEText)
			img := b.readMIME(ctx, content.MIMEPNG)
			cancel()
			if !bytes.Equal(text, b.lastText) || !bytes.Equal(img, b.lastImg) {
				b.lastText = text
				b.lastImg = img
				select {
				case b.watchCh <- struct{}{}:
				default:
				}
			}
		}
	}
}

// readMIME reads one clipboard target via wl-paste. Empty-clipboard exits
// with status 1 and is not an error. Falls back to atotto for plain text.
func (b *waylandBackend) readMIME(ctx context.Context, mime string) []byte {
	if !b.haveWlPaste {
		if mime != content.MIMEText {
			return nil
		}
		s, err := fallbackclip.ReadAll()
		if err != nil {
			return nil
		}
		return []byte(s)
	}
	args := []string{"--no-newline", "--type", mime}
	out, err := exec.CommandContext(ctx, "wl-paste", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil // clipboard empty or target not offered
		}
		return nil
	}
	return out
}

func (b *waylandBackend) Read(ctx context.Context) (content.Payload, error) {
	ctx, cancel := context.WithTimeout(ctx, ExecTimeout)
	defer cancel()

	var p content.Payload
	if img := b.readMIME(ctx, content.MIMEPNG); len(img) > 0 {
		p.Reps = append(p.Reps, content.Rep{MIME: content.MIMEPNG, Data: img})
		return p, nil
	}
	text := b.readMIME(ctx, content.MIMEText)
	if len(text) == 0 {
		return p, nil
	}
	p.Reps = append(p.Reps, content.Rep{MIME: content.MIMEText, Data: text})
	if html := b.readMIME(ctx, content.MIMEHTML); len(html) > 0 {
		p.Reps = append(p.Reps, content.Rep{MIME: content.MIMEHTML, Data: html})
	}
	return p, nil
}

// Write serves one representation. wl-copy takes any MIME type but owns the
// selection per invocation, so the first (preferred) rep wins. Without
// wl-copy the atotto fallback is text-only; a file:// URI rep is still
// served there as plain text, which is how images reach text-only targets.
func (b *waylandBackend) Write(ctx context.Context, p content.Payload) error {
	r, err := pickRep(p, func(mime string) bool {
		if b.haveWlCopy {
			return true
		}
		return mime == content.MIMEText || mime == content.MIMEURIList
	})
	if err != nil {
		return err
	}
	if !b.haveWlCopy {
		if err := fallbackclip.WriteAll(string(r.Data)); err != nil {
			return fmt.Errorf("%w: %v", ErrConnection, err)
		}
		return nil
	}
	return b.wlCopy(ctx, r)
}

func (b *waylandBackend) wlCopy(ctx context.Context, r content.Rep) error {
	ctx, cancel := context.WithTimeout(ctx, ExecTimeout)
	defer cancel()
	// --foreground would block for the selection's lifetime; the default
	// forked wl-copy keeps serving after we return.
	cmd := exec.CommandContext(ctx, "wl-copy", "--type", r.MIME)
	cmd.Stdin = bytes.NewReader(r.Data)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: wl-copy: %v: %s", ErrConnection, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (b *waylandBackend) SimulatePaste(ctx context.Context) error {
	return uinputPaste(ctx)
}

func (b *waylandBackend) Watch() <-chan struct{} { return b.watchCh }
func (b *waylandBackend) Close()                 { close(b.done) }
