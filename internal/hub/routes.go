package hub

import (
	"encoding/json"

	"github.com/victorivanov/commsync/internal/models"
	"github.com/victorivanov/commsync/internal/store"
	"github.com/victorivanov/commsync/internal/transport"
)

// routes registers a handler per push event. Handlers run on the
// transport's read goroutine; anything that needs the network is handed to
// another goroutine.
func (h *Hub) routes() []func() {
	return []func(){
		h.client.On(transport.EventMessageNew, h.onMessageNew),
		h.client.On(transport.EventMessageUpdated, h.onMessageUpdated),
		h.client.On(transport.EventMessageDeleted, h.onMessageDeleted),
		h.client.On(transport.EventChannelHistory, h.onChannelHistory),
		h.client.On(transport.EventUserTyping, h.onUserTyping),
		h.client.On(transport.EventPresence, h.onPresenceSnapshot),
		h.client.On(transport.EventPresenceUpdate, h.onPresenceUpdate),
		h.client.On(transport.EventCallIncoming, h.onCallIncoming),
		h.client.On(transport.EventCallEnded, h.onCallEnded),
		h.client.On(transport.EventChannelError, h.onServerError(transport.EventChannelError)),
		h.client.On(transport.EventMessageError, h.onServerError(transport.EventMessageError)),
	}
}

func (h *Hub) decode(event string, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		h.log.Warn("malformed push event", "event", event, "error", err)
		return false
	}
	return true
}

func (h *Hub) onMessageNew(data json.RawMessage) {
	var msg models.Message
	if !h.decode(transport.EventMessageNew, data, &msg) {
		return
	}
	if h.session.ApplyIfActive(msg.ChannelID, func(st *store.Store) { st.Reconcile(msg) }) {
		go h.refreshDirectory()
	}
}

func (h *Hub) onMessageUpdated(data json.RawMessage) {
	var msg models.Message
	if !h.decode(transport.EventMessageUpdated, data, &msg) {
		return
	}
	h.session.ApplyIfActive(msg.ChannelID, func(st *store.Store) { st.Reconcile(msg) })
}

func (h *Hub) onMessageDeleted(data json.RawMessage) {
	var ref models.MessageRef
	if !h.decode(transport.EventMessageDeleted, data, &ref) || ref.ID == "" {
		return
	}
	remove := func(st *store.Store) { st.Remove(ref.ID) }
	if ref.ChannelID == "" {
		h.session.Apply(remove)
		return
	}
	h.session.ApplyIfActive(ref.ChannelID, remove)
}

func (h *Hub) onChannelHistory(data json.RawMessage) {
	var history transport.HistoryData
	if !h.decode(transport.EventChannelHistory, data, &history) {
		return
	}
	h.session.ApplyHistory(history)
}

func (h *Hub) onUserTyping(data json.RawMessage) {
	var ev models.TypingEvent
	if !h.decode(transport.EventUserTyping, data, &ev) {
		return
	}
	h.presence.ApplyTyping(ev)
}

func (h *Hub) onPresenceSnapshot(data json.RawMessage) {
	var records []models.Presence
	if !h.decode(transport.EventPresence, data, &records) {
		return
	}
	h.presence.ReplaceSnapshot(records)
}

func (h *Hub) onPresenceUpdate(data json.RawMessage) {
	var p models.Presence
	if !h.decode(transport.EventPresenceUpdate, data, &p) || p.UserID == "" {
		return
	}
	h.presence.ApplyDelta(p)
}

func (h *Hub) onCallIncoming(data json.RawMessage) {
	var invite models.CallInvite
	if !h.decode(transport.EventCallIncoming, data, &invite) {
		return
	}
	h.receiveInvite(invite)
}

func (h *Hub) onCallEnded(data json.RawMessage) {
	var ended models.CallEnded
	if !h.decode(transport.EventCallEnded, data, &ended) {
		return
	}
	h.endCall(ended.ChannelID)
}

func (h *Hub) onServerError(event string) func(json.RawMessage) {
	return func(data json.RawMessage) {
		var e transport.ErrorData
		if !h.decode(event, data, &e) {
			return
		}
		h.log.Warn("server error", "event", event, "channel", e.ChannelID, "message_id", e.MessageID, "code", e.Error, "message", e.Message)
	}
}
