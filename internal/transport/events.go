package transport

import (
	"encoding/json"

	"github.com/victorivanov/commsync/internal/models"
)

// Op codes for push frames.
const (
	OpDispatch     = 0
	OpHeartbeat    = 1
	OpAction       = 2
	OpAck          = 3
	OpHello        = 10
	OpHeartbeatAck = 11
)

// Events pushed by the server.
const (
	EventMessageNew     = "message:new"
	EventMessageUpdated = "message:updated"
	EventMessageDeleted = "message:deleted"
	EventChannelHistory = "channel:history"
	EventChannelError   = "channel:error"
	EventMessageError   = "message:error"
	EventUserTyping     = "user:typing"
	EventPresence       = "comms:presence"
	EventPresenceUpdate = "presence:update"
	EventCallIncoming   = "call:incoming"
	EventCallEnded      = "call:ended"
)

// Actions emitted by the client.
const (
	ActionChannelJoin    = "channel:join"
	ActionChannelLeave   = "channel:leave"
	ActionMessageSend    = "message:send"
	ActionMessageUpdate  = "message:update"
	ActionMessageDelete  = "message:delete"
	ActionMessageReact   = "message:react"
	ActionMessagePin     = "message:pin"
	ActionUserTyping     = "user:typing"
	ActionPresenceStatus = "presence:status"
	ActionCallStart      = "call:start"
	ActionCallEnd        = "call:end"
)

// Frame is the envelope for everything sent over the push connection. Nonce
// is set on actions that expect an acknowledgment and echoed on the OpAck
// frame that answers them.
type Frame struct {
	Op    int             `json:"op"`
	Data  json.RawMessage `json:"d,omitempty"`
	Event string          `json:"t,omitempty"`
	Nonce string          `json:"n,omitempty"`
}

// Ack is the acknowledgment payload for an action.
type Ack struct {
	Success bool            `json:"success"`
	Message json.RawMessage `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// HasRecord reports whether the ack carries a non-null record.
func (a Ack) HasRecord() bool {
	return len(a.Message) > 0 && string(a.Message) != "null"
}

// HelloData is sent by the server right after the upgrade.
type HelloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

// ChannelRef is the payload of channel:join, channel:leave and call:end.
type ChannelRef struct {
	ChannelID string `json:"channelId"`
}

// SendPayload is the payload of message:send.
type SendPayload struct {
	ChannelID      string              `json:"channelId"`
	Content        string              `json:"content"`
	ThreadParentID *string             `json:"threadParentId,omitempty"`
	Attachments    []models.Attachment `json:"attachments,omitempty"`
	Metadata       models.Metadata     `json:"metadata"`
}

// UpdatePayload is the payload of message:update.
type UpdatePayload struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// MessageIDPayload is the payload of message:delete.
type MessageIDPayload struct {
	MessageID string `json:"messageId"`
}

// ReactPayload is the payload of message:react.
type ReactPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

// PinPayload is the payload of message:pin.
type PinPayload struct {
	MessageID string `json:"messageId"`
	IsPinned  bool   `json:"isPinned"`
}

// TypingPayload is the payload of the client's user:typing action.
type TypingPayload struct {
	ChannelID string `json:"channelId"`
	IsTyping  bool   `json:"isTyping"`
}

// StatusPayload is the payload of presence:status.
type StatusPayload struct {
	Status models.PresenceStatus `json:"status"`
}

// CallStartPayload is the payload of call:start.
type CallStartPayload struct {
	ChannelID string          `json:"channelId"`
	Type      models.CallType `json:"type"`
}

// HistoryData is the payload of channel:history.
type HistoryData struct {
	ChannelID string           `json:"channelId"`
	Messages  []models.Message `json:"messages"`
}

// ErrorData is the payload of channel:error and message:error.
type ErrorData struct {
	ChannelID string `json:"channelId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}
