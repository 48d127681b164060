// Package bridge exposes the clipvault command surface to UI shells and CLI
// tools, and pushes store change events to subscribed connections.
//
// Three transports carry the same NDJSON envelope: the local Unix socket
// (CLI, trusted), an optional TCP listener and an optional WebSocket
// endpoint (remote or webview UI shells, token-authenticated and
// secretbox-encrypted when a token is configured).
package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/clipvault/clipvault/internal/adapter"
	"github.com/clipvault/clipvault/internal/emoji"
	"github.com/clipvault/clipvault/internal/message"
	"github.com/clipvault/clipvault/internal/store"
	"github.com/clipvault/clipvault/internal/wire"
)

const (
	authTimeout = 10 * time.Second
	// commandTimeout bounds a single command execution, paste keystrokes
	// included. Blocking OS calls must fail rather than hang a session.
	commandTimeout = 5 * time.Second
)

// Paster is the slice of the paste engine the bridge needs; tests inject a
// fake.
type Paster interface {
	Item(ctx context.Context, id string) error
	Text(ctx context.Context, text string) error
}

// Kicker lets the bridge nudge the persister after mutations that emit no
// store event.
type Kicker interface{ Kick() }

// Server dispatches commands against the store and paste engine.
type Server struct {
	St    *store.Store
	Paste Paster
	Emoji *emoji.Tracker      // optional
	Save  Kicker              // optional
	Focus adapter.FocusKeeper // optional, set when the backend supports it
	// Info supplies the status payload; optional.
	Info func() message.Status

	// Token gates the TCP and WebSocket transports. Empty disables auth
	// (and encryption) there; the Unix socket never authenticates.
	Token string

	mouseInside atomic.Bool
}

// MouseInside reports the last set_mouse_state hint from the UI shell.
func (s *Server) MouseInside() bool { return s.mouseInside.Load() }

// Serve accepts bridge connections until ln is closed. requireAuth is true
// for network listeners; key is non-nil when the transport encrypts.
func (s *Server) Serve(ln net.Listener, key *[32]byte, requireAuth bool) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go s.handle(wire.New(conn, key), conn.RemoteAddr().String(), requireAuth)
	}
}

// handle runs one connection session: optional auth, then a read loop
// dispatching commands, with a writer goroutine serializing responses and
// pushed events onto the wire.
func (s *Server) handle(mc msgConn, remote string, requireAuth bool) {
	defer mc.Close()
	log := slog.With("peer", remote)

	if requireAuth && s.Token != "" && !s.authenticate(mc, log) {
		return
	}

	sendCh := make(chan *message.Message, 32)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for msg := range sendCh {
			if err := mc.WriteMsg(msg); err != nil {
				log.Debug("bridge write failed", "err", err)
				mc.Close()
				return
			}
		}
	}()

	var events chan store.Event
	var stopPump chan struct{}
	defer func() {
		if events != nil {
			close(stopPump)
			s.St.Unsubscribe(events)
		}
		close(sendCh)
		<-done
	}()

	for {
		msg, err := mc.ReadMsg()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Debug("bridge connection closed", "err", err)
			}
			return
		}
		if msg.Type != message.TypeCommand {
			reply(sendCh, done, &message.Message{Type: message.TypeError, Err: &message.Error{
				Code: message.CodeBadRequest, Message: "expected COMMAND"}})
			continue
		}

		if msg.Command == message.CmdSubscribe {
			if events == nil {
				events = s.St.Subscribe()
				stopPump = make(chan struct{})
				go s.pumpEvents(events, sendCh, stopPump)
			}
			reply(sendCh, done, message.OKResponse(msg))
			continue
		}

		reply(sendCh, done, s.dispatch(msg, log))
	}
}

func (s *Server) authenticate(mc msgConn, log *slog.Logger) bool {
	mc.SetReadDeadline(authTimeout)
	msg, err := mc.ReadMsg()
	mc.SetReadDeadline(0)
	if err != nil {
		log.Warn("auth read failed", "err", err)
		return false
	}
	tokenBytes, _ := base64.StdEncoding.DecodeString(msg.Payload)
	if msg.Type != message.TypeAuth || string(tokenBytes) != s.Token {
		log.Warn("auth failed")
		_ = mc.WriteMsg(&message.Message{Type: message.TypeError, Err: &message.Error{
			Code: message.CodePermission, Message: "auth failed"}})
		return false
	}
	return true
}

// pumpEvents forwards store events to the connection until it closes.
func (s *Server) pumpEvents(events chan store.Event, sendCh chan *message.Message, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev := <-events:
			m := &message.Message{Type: message.TypeEvent}
			switch ev.Kind {
			case store.EventChanged:
				m.Event = message.EventClipboardChanged
				m.Item = ev.Item
			case store.EventCleared:
				m.Event = message.EventHistoryCleared
			case store.EventSync:
				m.Event = message.EventHistorySync
				m.Items = ev.Items
			default:
				continue
			}
			select {
			case <-stop:
				return
			case sendCh <- m:
			}
		}
	}
}

// dispatch executes one command and builds its response.
func (s *Server) dispatch(cmd *message.Message, log *slog.Logger) *message.Message {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch cmd.Command {
	case message.CmdGetHistory:
		resp := message.OKResponse(cmd)
		resp.Items = s.St.List()
		return resp

	case message.CmdClearHistory:
		resp := message.OKResponse(cmd)
		resp.Removed = s.St.Clear()
		log.Info("history cleared", "removed", resp.Removed)
		return resp

	case message.CmdDeleteItem:
		if err := s.St.Delete(cmd.ItemID); err != nil {
			return message.FailResponse(cmd, message.CodeNotFound, cmd.ItemID)
		}
		s.kick()
		s.St.EmitSync()
		return message.OKResponse(cmd)

	case message.CmdTogglePin:
		it, err := s.St.TogglePin(cmd.ItemID)
		if err != nil {
			return message.FailResponse(cmd, message.CodeNotFound, cmd.ItemID)
		}
		s.kick()
		s.St.EmitSync()
		resp := message.OKResponse(cmd)
		resp.Item = &it
		return resp

	case message.CmdPasteItem:
		err := s.Paste.Item(ctx, cmd.ItemID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// Backstop for UI desync: push the authoritative list.
			s.St.EmitSync()
			return message.FailResponse(cmd, message.CodeNotFound, cmd.ItemID)
		case err != nil:
			return pasteFailure(cmd, err)
		}
		return message.OKResponse(cmd)

	case message.CmdPasteText:
		if cmd.Text == "" {
			return message.FailResponse(cmd, message.CodeBadRequest, "missing text")
		}
		if err := s.Paste.Text(ctx, cmd.Text); err != nil {
			return pasteFailure(cmd, err)
		}
		return message.OKResponse(cmd)

	case message.CmdPasteEmoji:
		if cmd.Char == "" {
			return message.FailResponse(cmd, message.CodeBadRequest, "missing char")
		}
		if err := s.Paste.Text(ctx, cmd.Char); err != nil {
			return pasteFailure(cmd, err)
		}
		if s.Emoji != nil {
			s.Emoji.Record(cmd.Char)
		}
		return message.OKResponse(cmd)

	case message.CmdGetRecentEmojis:
		resp := message.OKResponse(cmd)
		if s.Emoji != nil {
			for _, u := range s.Emoji.Recent() {
				resp.Emojis = append(resp.Emojis, message.EmojiUsage(u))
			}
		}
		return resp

	case message.CmdSetMouseState:
		s.mouseInside.Store(cmd.Inside)
		return message.OKResponse(cmd)

	case message.CmdWindowShown:
		// The picker just appeared: remember which window had focus so the
		// paste keystroke can land back in it, and hand the shell a fresh
		// list in the same round trip.
		if s.Focus != nil {
			if err := s.Focus.SaveFocus(ctx); err != nil {
				log.Debug("focus save failed", "err", err)
			}
		}
		resp := message.OKResponse(cmd)
		resp.Items = s.St.List()
		return resp

	case message.CmdStatus:
		resp := message.OKResponse(cmd)
		if s.Info != nil {
			st := s.Info()
			resp.Status = &st
		}
		return resp

	default:
		return message.FailResponse(cmd, message.CodeBadRequest, "unknown command "+cmd.Command)
	}
}

func (s *Server) kick() {
	if s.Save != nil {
		s.Save.Kick()
	}
}

// pasteFailure maps engine errors: permission problems surface as their own
// code, everything else is a paste_error the user may retry.
func pasteFailure(cmd *message.Message, err error) *message.Message {
	if errors.Is(err, adapter.ErrPermission) {
		return message.FailResponse(cmd, message.CodePermission, err.Error())
	}
	return message.FailResponse(cmd, message.CodePasteError, err.Error())
}

// reply queues a command response. Responses are never dropped — a slow
// client backpressures its own read loop instead of losing results; only
// pushed events share the channel and those ride the same ordering. done
// unblocks the reply when the writer goroutine has died.
func reply(ch chan *message.Message, done chan struct{}, m *message.Message) {
	select {
	case ch <- m:
	case <-done:
	}
}

// msgConn abstracts the stream (wire.Conn) and WebSocket transports.
type msgConn interface {
	ReadMsg() (*message.Message, error)
	WriteMsg(*message.Message) error
	SetReadDeadline(time.Duration)
	Close() error
}
