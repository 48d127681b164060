package bridge

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clipvault/clipvault/internal/message"
	"github.com/clipvault/clipvault/internal/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	// The bridge is origin-agnostic: webview shells report file:// or app
	// origins, and the transport is already token-gated.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WSHandler returns an http.Handler that upgrades to WebSocket and speaks
// the bridge protocol: one envelope per WebSocket message, framed exactly
// like a wire line (encrypted when key is non-nil).
func (s *Server) WSHandler(key *[32]byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Debug("websocket upgrade failed", "err", err)
			return
		}
		s.handle(&wsConn{conn: conn, key: key}, r.RemoteAddr, true)
	})
}

// wsConn adapts a websocket.Conn to msgConn. WebSocket already frames
// messages, so the newline from wire.Frame is stripped on write and
// tolerated on read.
type wsConn struct {
	conn *websocket.Conn
	key  *[32]byte
}

func (c *wsConn) ReadMsg() (*message.Message, error) {
	typ, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
		return nil, fmt.Errorf("unexpected websocket frame type %d", typ)
	}
	if n := len(data); n > 0 && data[n-1] == '\n' {
		data = data[:n-1]
	}
	raw, err := wire.Unframe(data, c.key)
	if err != nil {
		return nil, err
	}
	return message.Decode(raw)
}

func (c *wsConn) WriteMsg(msg *message.Message) error {
	raw, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	line, err := wire.Frame(raw, c.key)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, line[:len(line)-1])
}

func (c *wsConn) SetReadDeadline(d time.Duration) {
	if d == 0 {
		_ = c.conn.SetReadDeadline(time.Time{})
	} else {
		_ = c.conn.SetReadDeadline(time.Now().Add(d))
	}
}

func (c *wsConn) Close() error { return c.conn.Close() }
