// Package message defines the clipvault bridge protocol.
//
// All messages are newline-delimited JSON; each message is exactly one line
// <json>\n. The same envelope travels over the local Unix socket, the
// optional TCP listener, and the WebSocket endpoint. Commands carry a
// caller-chosen ID that the matching response echoes; events carry no ID
// and may arrive at any time on a subscribed connection.
package message

import (
	"encoding/json"
	"fmt"

	"github.com/clipvault/clipvault/internal/store"
)

// Type identifies the kind of message.
type Type string

const (
	TypeCommand  Type = "COMMAND"
	TypeResponse Type = "RESPONSE"
	TypeEvent    Type = "EVENT"
	TypeAuth     Type = "AUTH"
	TypeError    Type = "ERROR"
)

// Command names — the fixed surface invoked by the UI shell and CLI.
const (
	CmdGetHistory      = "get_history"
	CmdClearHistory    = "clear_history"
	CmdDeleteItem      = "delete_item"
	CmdTogglePin       = "toggle_pin"
	CmdPasteItem       = "paste_item"
	CmdPasteText       = "paste_text"
	CmdPasteEmoji      = "paste_emoji"
	CmdSetMouseState   = "set_mouse_state"
	CmdGetRecentEmojis = "get_recent_emojis"
	CmdWindowShown     = "window_shown"
	CmdSubscribe       = "subscribe"
	CmdStatus          = "status"
)

// Event names — pushed core → UI.
const (
	EventClipboardChanged = "clipboard-changed"
	EventHistoryCleared   = "history-cleared"
	EventHistorySync      = "history-sync"
)

// Error codes carried in failure responses.
const (
	CodeNotFound   = "not_found"
	CodePasteError = "paste_error"
	CodePermission = "permission_error"
	CodeBadRequest = "bad_request"
	CodeInternal   = "internal"
)

// Error is a structured command failure.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// EmojiUsage mirrors one tracked recent emoji.
type EmojiUsage struct {
	Char     string `json:"char"`
	UseCount uint32 `json:"use_count"`
	LastUsed int64  `json:"last_used"` // Unix epoch millis
}

// Status summarizes daemon state for the status command.
type Status struct {
	Version  string `json:"version"`
	Backend  string `json:"backend"`
	Items    int    `json:"items"`
	Pinned   int    `json:"pinned"`
	Degraded bool   `json:"degraded,omitempty"`
}

// Message is the top-level wire envelope.
type Message struct {
	Type Type `json:"type"`

	// COMMAND / RESPONSE correlation.
	ID string `json:"id,omitempty"`

	// COMMAND
	Command string `json:"command,omitempty"`
	ItemID  string `json:"item_id,omitempty"`
	Text    string `json:"text,omitempty"`
	Char    string `json:"char,omitempty"`
	Inside  bool   `json:"inside,omitempty"`

	// RESPONSE
	OK      bool   `json:"ok,omitempty"`
	Removed int    `json:"removed,omitempty"`
	Err     *Error `json:"error,omitempty"`

	// EVENT
	Event string `json:"event,omitempty"`

	// Shared payloads.
	Item   *store.Item  `json:"item,omitempty"`
	Items  []store.Item `json:"items,omitempty"`
	Emojis []EmojiUsage `json:"emojis,omitempty"`
	Status *Status      `json:"status,omitempty"`

	// AUTH — token is base64-encoded.
	Payload string `json:"payload,omitempty"`
}

// Command builds a command message.
func Command(id, command string) *Message {
	return &Message{Type: TypeCommand, ID: id, Command: command}
}

// OKResponse builds a success response for cmd.
func OKResponse(cmd *Message) *Message {
	return &Message{Type: TypeResponse, ID: cmd.ID, OK: true}
}

// FailResponse builds a failure response for cmd.
func FailResponse(cmd *Message, code, msg string) *Message {
	return &Message{
		Type: TypeResponse,
		ID:   cmd.ID,
		Err:  &Error{Code: code, Message: msg},
	}
}

// Encode serialises the message to JSON without a trailing newline.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode deserialises a message from raw JSON bytes.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("message decode: %w", err)
	}
	return &m, nil
}
