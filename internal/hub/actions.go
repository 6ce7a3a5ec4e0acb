package hub

import (
	"context"

	"github.com/victorivanov/commsync/internal/models"
	"github.com/victorivanov/commsync/internal/transport"
)

// The methods below are the bound actions handed to the user interface.
// Failures are logged and dropped; what the server confirms shows up in the
// views, what it does not simply never appears.

// SelectChannel makes channelID active and loads its history. The choice
// sticks across directory refreshes.
func (h *Hub) SelectChannel(ctx context.Context, channelID string) {
	if channelID == "" {
		return
	}
	h.explicit.Store(true)
	if err := h.session.Select(ctx, channelID); err != nil {
		h.log.Debug("select channel", "channel", channelID, "error", err)
	}
}

// SetInput replaces the composer text and signals typing in the active
// channel.
func (h *Hub) SetInput(text string) {
	h.actions.Composer().SetInput(text)
	if text != "" {
		h.typist.Keystroke(h.session.Active())
	}
}

// ReplyTo makes the next send a reply to messageID.
func (h *Hub) ReplyTo(messageID string) {
	msg, ok := h.session.Message(messageID)
	if !ok {
		h.log.Debug("reply to unknown message", "message_id", messageID)
		return
	}
	h.actions.Composer().ReplyTo(msg)
}

// StartEdit loads messageID into the composer for editing.
func (h *Hub) StartEdit(messageID string) {
	msg, ok := h.session.Message(messageID)
	if !ok {
		h.log.Debug("edit unknown message", "message_id", messageID)
		return
	}
	h.actions.Composer().Edit(msg)
}

// CancelCompose clears the composer's reply and edit context.
func (h *Hub) CancelCompose() {
	h.actions.Composer().Cancel()
}

// Submit sends or edits from the composer. The input is cleared whatever
// the outcome.
func (h *Hub) Submit(ctx context.Context) {
	h.typist.Stop()
	if err := h.actions.Submit(ctx); err != nil {
		h.log.Debug("submit", "error", err)
	}
}

// Delete removes messageID.
func (h *Hub) Delete(ctx context.Context, messageID string) {
	if _, err := h.actions.Delete(ctx, messageID); err != nil {
		h.log.Debug("delete", "message_id", messageID, "error", err)
	}
}

// React toggles the local user's emoji reaction on messageID.
func (h *Hub) React(ctx context.Context, messageID, emoji string) {
	if _, err := h.actions.React(ctx, messageID, emoji); err != nil {
		h.log.Debug("react", "message_id", messageID, "error", err)
	}
}

// TogglePin flips messageID's pinned flag.
func (h *Hub) TogglePin(ctx context.Context, messageID string) {
	if _, err := h.actions.TogglePin(ctx, messageID); err != nil {
		h.log.Debug("toggle pin", "message_id", messageID, "error", err)
	}
}

// SetStatus announces the local user's presence status. It needs the push
// transport; there is no fallback route.
func (h *Hub) SetStatus(status models.PresenceStatus) {
	if !status.Valid() {
		h.log.Debug("invalid status", "status", status)
		return
	}
	if err := h.client.Emit(transport.ActionPresenceStatus, transport.StatusPayload{Status: status}); err != nil {
		h.log.Debug("set status", "status", status, "error", err)
	}
}
