package hub

import (
	"github.com/victorivanov/commsync/internal/models"
	"github.com/victorivanov/commsync/internal/transport"
)

// Call is the local call state. Media signaling happens elsewhere.
type Call struct {
	Invite    *models.CallInvite
	ChannelID string
	Type      models.CallType
}

// InCall reports whether a call is in progress.
func (c Call) InCall() bool {
	return c.ChannelID != ""
}

// Call returns the current call state.
func (h *Hub) Call() Call {
	h.callMu.Lock()
	defer h.callMu.Unlock()
	c := h.call
	if c.Invite != nil {
		invite := *c.Invite
		c.Invite = &invite
	}
	return c
}

// StartCall starts a call of type t in the active channel.
func (h *Hub) StartCall(t models.CallType) {
	channelID := h.session.Active()
	if channelID == "" {
		return
	}
	if err := h.client.Emit(transport.ActionCallStart, transport.CallStartPayload{ChannelID: channelID, Type: t}); err != nil {
		h.log.Debug("start call", "channel", channelID, "error", err)
		return
	}
	h.setCall(Call{ChannelID: channelID, Type: t})
}

// AcceptCall joins the pending invite's call with the invite's type.
func (h *Hub) AcceptCall() {
	h.callMu.Lock()
	invite := h.call.Invite
	if invite == nil {
		h.callMu.Unlock()
		return
	}
	h.call = Call{ChannelID: invite.ChannelID, Type: invite.Type}
	h.callMu.Unlock()

	h.notify(CallChanged)
}

// DeclineCall drops the pending invite.
func (h *Hub) DeclineCall() {
	h.callMu.Lock()
	had := h.call.Invite != nil
	h.call.Invite = nil
	h.callMu.Unlock()

	if had {
		h.notify(CallChanged)
	}
}

// EndCall hangs up the call in progress.
func (h *Hub) EndCall() {
	h.callMu.Lock()
	channelID := h.call.ChannelID
	h.call.ChannelID = ""
	h.call.Type = ""
	h.callMu.Unlock()

	if channelID == "" {
		return
	}
	if err := h.client.Emit(transport.ActionCallEnd, transport.ChannelRef{ChannelID: channelID}); err != nil {
		h.log.Debug("end call", "channel", channelID, "error", err)
	}
	h.notify(CallChanged)
}

func (h *Hub) setCall(c Call) {
	h.callMu.Lock()
	h.call = c
	h.callMu.Unlock()
	h.notify(CallChanged)
}

func (h *Hub) receiveInvite(invite models.CallInvite) {
	if invite.From.ID == h.self {
		return
	}
	h.callMu.Lock()
	h.call.Invite = &invite
	h.callMu.Unlock()
	h.notify(CallChanged)
}

// endCall handles call:ended. The call in progress ends when it is in
// channelID or channelID is the active channel; a pending invite for
// channelID is dropped too.
func (h *Hub) endCall(channelID string) {
	active := h.session.Active()

	h.callMu.Lock()
	changed := false
	if h.call.ChannelID != "" && (h.call.ChannelID == channelID || channelID == active) {
		h.call.ChannelID = ""
		h.call.Type = ""
		changed = true
	}
	if h.call.Invite != nil && (h.call.Invite.ChannelID == channelID || channelID == active) {
		h.call.Invite = nil
		changed = true
	}
	h.callMu.Unlock()

	if changed {
		h.notify(CallChanged)
	}
}
