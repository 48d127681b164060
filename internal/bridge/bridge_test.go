package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/clipvault/clipvault/internal/adapter"
	"github.com/clipvault/clipvault/internal/content"
	"github.com/clipvault/clipvault/internal/message"
	"github.com/clipvault/clipvault/internal/store"
	"github.com/clipvault/clipvault/internal/wire"
)

// fakePaster records paste requests and returns a scripted error.
type fakePaster struct {
	mu    sync.Mutex
	items []string
	texts []string
	err   error
}

func (p *fakePaster) Item(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.items = append(p.items, id)
	return nil
}

func (p *fakePaster) Text(_ context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.texts = append(p.texts, text)
	return nil
}

type fakeFocus struct {
	mu    sync.Mutex
	saves int
}

func (f *fakeFocus) SaveFocus(context.Context) error {
	f.mu.Lock()
	f.saves++
	f.mu.Unlock()
	return nil
}

func (f *fakeFocus) RestoreFocus(context.Context) error { return nil }

// session spins up a Server on one end of a pipe and returns a client conn.
func session(t *testing.T, srv *Server) *wire.Conn {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	go srv.handle(wire.New(serverEnd, nil), "pipe", false)
	t.Cleanup(func() { clientEnd.Close() })
	return wire.New(clientEnd, nil)
}

func roundTrip(t *testing.T, c *wire.Conn, cmd *message.Message) *message.Message {
	t.Helper()
	if err := c.WriteMsg(cmd); err != nil {
		t.Fatalf("write %s: %v", cmd.Command, err)
	}
	c.SetReadDeadline(2 * time.Second)
	resp, err := c.ReadMsg()
	if err != nil {
		t.Fatalf("read %s response: %v", cmd.Command, err)
	}
	return resp
}

func newServer(t *testing.T) (*Server, *store.Store, *fakePaster) {
	t.Helper()
	st := store.New(store.Options{})
	p := &fakePaster{}
	return &Server{St: st, Paste: p}, st, p
}

func insertText(t *testing.T, st *store.Store, text string) store.Item {
	t.Helper()
	it, err := st.Insert(content.Content{Kind: content.KindText, Text: text})
	if err != nil {
		t.Fatal(err)
	}
	return it
}

func TestGetHistory(t *testing.T) {
	srv, st, _ := newServer(t)
	insertText(t, st, "a")
	insertText(t, st, "b")
	c := session(t, srv)

	resp := roundTrip(t, c, message.Command("1", message.CmdGetHistory))
	if !resp.OK || resp.ID != "1" {
		t.Fatalf("response = %+v", resp)
	}
	if len(resp.Items) != 2 || resp.Items[0].Content.Text != "b" {
		t.Fatalf("items = %+v", resp.Items)
	}
}

func TestClearHistoryReportsRemoved(t *testing.T) {
	srv, st, _ := newServer(t)
	insertText(t, st, "a")
	insertText(t, st, "b")
	c := session(t, srv)

	resp := roundTrip(t, c, message.Command("1", message.CmdClearHistory))
	if !resp.OK || resp.Removed != 2 {
		t.Fatalf("response = %+v", resp)
	}
	resp = roundTrip(t, c, message.Command("2", message.CmdClearHistory))
	if !resp.OK || resp.Removed != 0 {
		t.Fatalf("second clear = %+v", resp)
	}
}

func TestDeleteAndTogglePin(t *testing.T) {
	srv, st, _ := newServer(t)
	it := insertText(t, st, "keep me")
	c := session(t, srv)

	pin := message.Command("1", message.CmdTogglePin)
	pin.ItemID = it.ID
	resp := roundTrip(t, c, pin)
	if !resp.OK || resp.Item == nil || !resp.Item.Pinned {
		t.Fatalf("toggle_pin response = %+v", resp)
	}

	del := message.Command("2", message.CmdDeleteItem)
	del.ItemID = it.ID
	if resp := roundTrip(t, c, del); !resp.OK {
		t.Fatalf("delete response = %+v", resp)
	}

	del.ID = "3"
	resp = roundTrip(t, c, del)
	if resp.OK || resp.Err == nil || resp.Err.Code != message.CodeNotFound {
		t.Fatalf("delete of missing item = %+v", resp)
	}
}

func TestPasteItemDispatch(t *testing.T) {
	srv, st, p := newServer(t)
	it := insertText(t, st, "x")
	c := session(t, srv)

	cmd := message.Command("1", message.CmdPasteItem)
	cmd.ItemID = it.ID
	if resp := roundTrip(t, c, cmd); !resp.OK {
		t.Fatalf("paste_item response = %+v", resp)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.items) != 1 || p.items[0] != it.ID {
		t.Fatalf("paster saw %v", p.items)
	}
}

func TestPasteItemNotFoundPushesSync(t *testing.T) {
	srv, st, p := newServer(t)
	insertText(t, st, "still here")
	p.err = store.ErrNotFound
	c := session(t, srv)

	if resp := roundTrip(t, c, message.Command("1", message.CmdSubscribe)); !resp.OK {
		t.Fatalf("subscribe = %+v", resp)
	}

	cmd := message.Command("2", message.CmdPasteItem)
	cmd.ItemID = "stale-id"
	if err := c.WriteMsg(cmd); err != nil {
		t.Fatal(err)
	}

	// Two messages come back in either order: the not_found response and a
	// history-sync event carrying the authoritative list.
	var gotFail, gotSync bool
	c.SetReadDeadline(2 * time.Second)
	for i := 0; i < 2; i++ {
		msg, err := c.ReadMsg()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		switch {
		case msg.Type == message.TypeResponse:
			if msg.Err == nil || msg.Err.Code != message.CodeNotFound {
				t.Fatalf("response = %+v", msg)
			}
			gotFail = true
		case msg.Type == message.TypeEvent && msg.Event == message.EventHistorySync:
			if len(msg.Items) != 1 {
				t.Fatalf("sync items = %+v", msg.Items)
			}
			gotSync = true
		default:
			t.Fatalf("unexpected message %+v", msg)
		}
	}
	if !gotFail || !gotSync {
		t.Fatalf("gotFail=%v gotSync=%v", gotFail, gotSync)
	}
}

func TestPasteErrorCodes(t *testing.T) {
	srv, st, p := newServer(t)
	it := insertText(t, st, "x")
	c := session(t, srv)

	p.err = adapter.ErrPermission
	cmd := message.Command("1", message.CmdPasteItem)
	cmd.ItemID = it.ID
	resp := roundTrip(t, c, cmd)
	if resp.Err == nil || resp.Err.Code != message.CodePermission {
		t.Fatalf("permission failure = %+v", resp)
	}

	p.err = errors.New("keystroke failed")
	cmd.ID = "2"
	resp = roundTrip(t, c, cmd)
	if resp.Err == nil || resp.Err.Code != message.CodePasteError {
		t.Fatalf("generic failure = %+v", resp)
	}
}

func TestPasteTextValidation(t *testing.T) {
	srv, _, p := newServer(t)
	c := session(t, srv)

	resp := roundTrip(t, c, message.Command("1", message.CmdPasteText))
	if resp.Err == nil || resp.Err.Code != message.CodeBadRequest {
		t.Fatalf("empty text accepted: %+v", resp)
	}

	cmd := message.Command("2", message.CmdPasteText)
	cmd.Text = "hello"
	if resp := roundTrip(t, c, cmd); !resp.OK {
		t.Fatalf("paste_text = %+v", resp)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.texts) != 1 || p.texts[0] != "hello" {
		t.Fatalf("paster saw %v", p.texts)
	}
}

func TestSubscribeReceivesChangeEvents(t *testing.T) {
	srv, st, _ := newServer(t)
	c := session(t, srv)

	if resp := roundTrip(t, c, message.Command("1", message.CmdSubscribe)); !resp.OK {
		t.Fatalf("subscribe = %+v", resp)
	}

	it := insertText(t, st, "fresh copy")

	c.SetReadDeadline(2 * time.Second)
	ev, err := c.ReadMsg()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != message.TypeEvent || ev.Event != message.EventClipboardChanged {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Item == nil || ev.Item.ID != it.ID {
		t.Fatalf("event item = %+v", ev.Item)
	}
}

func TestUnsubscribedConnectionGetsNoEvents(t *testing.T) {
	srv, st, _ := newServer(t)
	c := session(t, srv)

	insertText(t, st, "quiet")

	c.SetReadDeadline(100 * time.Millisecond)
	if msg, err := c.ReadMsg(); err == nil {
		t.Fatalf("unexpected message %+v on unsubscribed connection", msg)
	}
}

func TestSetMouseState(t *testing.T) {
	srv, _, _ := newServer(t)
	c := session(t, srv)

	cmd := message.Command("1", message.CmdSetMouseState)
	cmd.Inside = true
	if resp := roundTrip(t, c, cmd); !resp.OK {
		t.Fatalf("set_mouse_state = %+v", resp)
	}
	if !srv.MouseInside() {
		t.Fatalf("mouse state not recorded")
	}

	cmd = message.Command("2", message.CmdSetMouseState)
	if resp := roundTrip(t, c, cmd); !resp.OK {
		t.Fatalf("set_mouse_state = %+v", resp)
	}
	if srv.MouseInside() {
		t.Fatalf("mouse state not cleared")
	}
}

func TestWindowShownSavesFocusAndReturnsItems(t *testing.T) {
	srv, st, _ := newServer(t)
	focus := &fakeFocus{}
	srv.Focus = focus
	insertText(t, st, "a")
	c := session(t, srv)

	resp := roundTrip(t, c, message.Command("1", message.CmdWindowShown))
	if !resp.OK || len(resp.Items) != 1 {
		t.Fatalf("window_shown = %+v", resp)
	}
	focus.mu.Lock()
	defer focus.mu.Unlock()
	if focus.saves != 1 {
		t.Fatalf("focus saves = %d", focus.saves)
	}
}

func TestUnknownCommand(t *testing.T) {
	srv, _, _ := newServer(t)
	c := session(t, srv)

	resp := roundTrip(t, c, message.Command("1", "self_destruct"))
	if resp.Err == nil || resp.Err.Code != message.CodeBadRequest {
		t.Fatalf("unknown command = %+v", resp)
	}
}

func TestPipelinedCommandsLoseNoResponses(t *testing.T) {
	srv, st, _ := newServer(t)
	insertText(t, st, "a")
	c := session(t, srv)

	// Far more in-flight commands than the send buffer holds; every one
	// must still get its response, in order.
	const n = 50
	writeErr := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			if err := c.WriteMsg(message.Command(fmt.Sprintf("c%d", i), message.CmdGetHistory)); err != nil {
				writeErr <- err
				return
			}
		}
		writeErr <- nil
	}()

	c.SetReadDeadline(5 * time.Second)
	for i := 0; i < n; i++ {
		resp, err := c.ReadMsg()
		if err != nil {
			t.Fatalf("response %d: %v", i, err)
		}
		if !resp.OK || resp.ID != fmt.Sprintf("c%d", i) {
			t.Fatalf("response %d = %+v", i, resp)
		}
	}
	if err := <-writeErr; err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestAuthGate(t *testing.T) {
	srv, st, _ := newServer(t)
	srv.Token = "s3cret"
	insertText(t, st, "a")

	clientEnd, serverEnd := net.Pipe()
	go srv.handle(wire.New(serverEnd, nil), "pipe", true)
	t.Cleanup(func() { clientEnd.Close() })
	c := wire.New(clientEnd, nil)

	if err := c.WriteMsg(&message.Message{
		Type:    message.TypeAuth,
		Payload: base64.StdEncoding.EncodeToString([]byte("s3cret")),
	}); err != nil {
		t.Fatal(err)
	}
	resp := roundTrip(t, c, message.Command("1", message.CmdGetHistory))
	if !resp.OK || len(resp.Items) != 1 {
		t.Fatalf("post-auth get_history = %+v", resp)
	}
}

func TestAuthRejectsBadToken(t *testing.T) {
	srv, _, _ := newServer(t)
	srv.Token = "s3cret"

	clientEnd, serverEnd := net.Pipe()
	go srv.handle(wire.New(serverEnd, nil), "pipe", true)
	t.Cleanup(func() { clientEnd.Close() })
	c := wire.New(clientEnd, nil)

	if err := c.WriteMsg(&message.Message{
		Type:    message.TypeAuth,
		Payload: base64.StdEncoding.EncodeToString([]byte("wrong")),
	}); err != nil {
		t.Fatal(err)
	}
	c.SetReadDeadline(2 * time.Second)
	msg, err := c.ReadMsg()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != message.TypeError || msg.Err == nil || msg.Err.Code != message.CodePermission {
		t.Fatalf("bad token reply = %+v", msg)
	}
	// The server hangs up after a failed auth.
	if _, err := c.ReadMsg(); err == nil {
		t.Fatalf("connection stayed open after auth failure")
	}
}

func TestStatus(t *testing.T) {
	srv, st, _ := newServer(t)
	srv.Info = func() message.Status {
		return message.Status{Version: "test", Backend: "fake", Items: len(st.List())}
	}
	insertText(t, st, "a")
	c := session(t, srv)

	resp := roundTrip(t, c, message.Command("1", message.CmdStatus))
	if !resp.OK || resp.Status == nil || resp.Status.Items != 1 || resp.Status.Backend != "fake" {
		t.Fatalf("status = %+v", resp)
	}
}
