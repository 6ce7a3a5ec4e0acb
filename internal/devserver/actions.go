package devserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/victorivanov/commsync/internal/transport"
)

const actionTimeout = 5 * time.Second

// handleAction runs one client action and acknowledges it when the client
// asked for an ack.
func (h *Hub) handleAction(c *Connection, f transport.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	var (
		record any
		err    error
	)
	switch f.Event {
	case transport.ActionChannelJoin:
		err = h.handleJoin(c, f.Data)

	case transport.ActionChannelLeave:
		var p transport.ChannelRef
		if err = decode(f.Data, &p); err == nil {
			h.leave(c, p.ChannelID)
		}

	case transport.ActionMessageSend:
		var p transport.SendPayload
		if err = decode(f.Data, &p); err == nil {
			record, err = h.svc.Send(ctx, c.User, p.ChannelID, transport.NewMessage{
				Content:        p.Content,
				ThreadParentID: p.ThreadParentID,
				Attachments:    p.Attachments,
				Metadata:       p.Metadata,
			})
		}

	case transport.ActionMessageUpdate:
		var p transport.UpdatePayload
		if err = decode(f.Data, &p); err == nil {
			record, err = h.svc.Edit(c.User, p.ID, p.Content)
		}

	case transport.ActionMessageDelete:
		var p transport.MessageIDPayload
		if err = decode(f.Data, &p); err == nil {
			record, err = h.svc.Delete(c.User, p.MessageID)
		}

	case transport.ActionMessageReact:
		var p transport.ReactPayload
		if err = decode(f.Data, &p); err == nil {
			record, err = h.svc.React(c.User, p.MessageID, p.Emoji)
		}

	case transport.ActionMessagePin:
		var p transport.PinPayload
		if err = decode(f.Data, &p); err == nil {
			record, err = h.svc.Pin(p.MessageID, p.IsPinned)
		}

	case transport.ActionUserTyping:
		var p transport.TypingPayload
		if err = decode(f.Data, &p); err == nil {
			err = h.svc.Typing(ctx, c.User, p.ChannelID, p.IsTyping)
		}

	case transport.ActionPresenceStatus:
		var p transport.StatusPayload
		if err = decode(f.Data, &p); err == nil {
			record, err = h.svc.SetStatus(ctx, c, p.Status)
		}

	case transport.ActionCallStart:
		var p transport.CallStartPayload
		if err = decode(f.Data, &p); err == nil {
			err = h.svc.StartCall(c.User, p.ChannelID, p.Type)
		}

	case transport.ActionCallEnd:
		var p transport.ChannelRef
		if err = decode(f.Data, &p); err == nil {
			err = h.svc.EndCall(c.User, p.ChannelID)
		}

	default:
		err = badRequest("UNKNOWN_ACTION", "unknown action "+f.Event)
	}

	if err != nil {
		h.rejectAction(c, f, err)
		return
	}

	ack := transport.Ack{Success: true}
	if record != nil {
		ack.Message = mustMarshal(record)
	}
	c.SendAck(f.Nonce, ack)
}

// handleJoin subscribes c to a channel and pushes its latest history.
func (h *Hub) handleJoin(c *Connection, data json.RawMessage) error {
	var p transport.ChannelRef
	if err := decode(data, &p); err != nil {
		return err
	}
	history, err := h.svc.History(p.ChannelID, time.Time{}, 0)
	if err != nil {
		return err
	}
	h.join(c, p.ChannelID)
	c.SendEvent(transport.EventChannelHistory, transport.HistoryData{
		ChannelID: p.ChannelID,
		Messages:  history,
	})
	return nil
}

// rejectAction fails the action's ack, or pushes an error event when the
// client did not ask for one.
func (h *Hub) rejectAction(c *Connection, f transport.Frame, err error) {
	_, code, message := describe(err)
	c.log.Debug("action rejected", "event", f.Event, "code", code, "error", err)

	if f.Nonce != "" {
		c.SendAck(f.Nonce, transport.Ack{Success: false, Error: message})
		return
	}

	event := transport.EventMessageError
	data := transport.ErrorData{Message: message, Error: code}
	switch f.Event {
	case transport.ActionChannelJoin, transport.ActionChannelLeave:
		event = transport.EventChannelError
		var p transport.ChannelRef
		if decode(f.Data, &p) == nil {
			data.ChannelID = p.ChannelID
		}
	default:
		var p transport.MessageIDPayload
		if decode(f.Data, &p) == nil {
			data.MessageID = p.MessageID
		}
	}
	c.SendEvent(event, data)
}

func decode(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return badRequest("INVALID_PAYLOAD", "invalid action payload")
	}
	return nil
}
