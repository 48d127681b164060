//go:build linux

package adapter

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.design/x/clipboard"

	"github.com/clipvault/clipvault/internal/content"
)

// x11Backend drives the X11 clipboard through golang.design/x/clipboard and
// synthesizes keystrokes with xdotool. Change detection is polling only —
// X11 offers no portable clipboard event without XFixes plumbing.
type x11Backend struct {
	watchCh chan struct{}
	done    chan struct{}

	haveXclip   bool // text/html probe
	haveXdotool bool

	lastText []byte
	lastImg  []byte

	savedWindow string // xdotool window id captured by SaveFocus
}

func newX11(opts Options) (*x11Backend, error) {
	if err := clipboard.Init(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	b := &x11Backend{
		watchCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	_, err := exec.LookPath("xclip")
	b.haveXclip = err == nil
	_, err = exec.LookPath("xdotool")
	b.haveXdotool = err == nil
	go b.poll(opts.pollInterval())
	return b, nil
}

func (b *x11Backend) Name() string { return "X11 (golang.design, poll)" }

func (b *x11Backend) poll(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			text := clipboard.Read(clipboard.FmtText)
			img := clipboard.Read(clipboard.FmtImage)
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

func (b *x11Backend) Read(ctx context.Context) (content.Payload, error) {
	var p content.Payload
	if img := clipboard.Read(clipboard.FmtImage); len(img) > 0 {
		p.Reps = append(p.Reps, content.Rep{MIME: content.MIMEPNG, Data: img})
		return p, nil
	}
	text := clipboard.Read(clipboard.FmtText)
	if len(text) == 0 {
		return p, nil
	}
	p.Reps = append(p.Reps, content.Rep{MIME: content.MIMEText, Data: text})
	// golang.design exposes only text and image; probe the HTML target
	// separately so rich text survives normalization.
	if b.haveXclip {
		if html := b.readHTML(ctx); len(html) > 0 {
			p.Reps = append(p.Reps, content.Rep{MIME: content.MIMEHTML, Data: html})
		}
	}
	return p, nil
}

func (b *x11Backend) readHTML(ctx context.Context) []byte {
	ctx, cancel := context.WithTimeout(ctx, ExecTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "xclip", "-out", "-selection", "clipboard", "-t", "text/html").Output()
	if err != nil {
		return nil // target not offered; common and harmless
	}
	return out
}

func (b *x11Backend) Write(ctx context.Context, p content.Payload) error {
	r, err := pickRep(p, func(mime string) bool {
		switch mime {
		case content.MIMEPNG, content.MIMEText:
			return true
		case content.MIMEURIList:
			return b.haveXclip
		}
		return false
	})
	if err != nil {
		return err
	}
	switch r.MIME {
	case content.MIMEPNG:
		clipboard.Write(clipboard.FmtImage, r.Data)
	case content.MIMEText:
		clipboard.Write(clipboard.FmtText, r.Data)
	case content.MIMEURIList:
		return b.xclipWrite(ctx, "text/uri-list", r.Data)
	}
	return nil
}

// xclipWrite serves one non-standard target through xclip, which forks to
// own the selection after the parent exits.
func (b *x11Backend) xclipWrite(ctx context.Context, target string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, ExecTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "xclip", "-in", "-selection", "clipboard", "-t", target)
	cmd.Stdin = bytes.NewReader(data)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("xclip write: %v: %s", err, bytes.TrimSpace(out))
	}
	return nil
}

func (b *x11Backend) SimulatePaste(ctx context.Context) error {
	if !b.haveXdotool {
		return fmt.Errorf("%w: xdotool not installed", ErrConnection)
	}
	ctx, cancel := context.WithTimeout(ctx, ExecTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "xdotool", "key", "--clearmodifiers", "ctrl+v").CombinedOutput()
	if err != nil {
		return fmt.Errorf("xdotool paste: %v: %s", err, bytes.TrimSpace(out))
	}
	return nil
}

// SaveFocus records the currently active window id.
func (b *x11Backend) SaveFocus(ctx context.Context) error {
	if !b.haveXdotool {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, ExecTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "xdotool", "getactivewindow").Output()
	if err != nil {
		return fmt.Errorf("xdotool getactivewindow: %w", err)
	}
	b.savedWindow = strings.TrimSpace(string(out))
	return nil
}

// RestoreFocus re-activates the window recorded by SaveFocus, so the paste
// keystroke lands where the user was typing before the picker appeared.
func (b *x11Backend) RestoreFocus(ctx context.Context) error {
	if b.savedWindow == "" || !b.haveXdotool {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, ExecTimeout)
	defer cancel()
	err := exec.CommandContext(ctx, "xdotool", "windowactivate", "--sync", b.savedWindow).Run()
	b.savedWindow = ""
	if err != nil {
		return fmt.Errorf("xdotool windowactivate: %w", err)
	}
	return nil
}

func (b *x11Backend) Watch() <-chan struct{} { return b.watchCh }
func (b *x11Backend) Close()                 { close(b.done) }
