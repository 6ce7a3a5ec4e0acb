package devserver

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/victorivanov/commsync/internal/models"
	"github.com/victorivanov/commsync/internal/transport"
)

const (
	defaultHeartbeatInterval = 41250 * time.Millisecond
	heartbeatTimeout         = 10 * time.Second
	writeWait                = 10 * time.Second
	pongWait                 = 90 * time.Second
	maxMessageSize           = 64 << 10
	sendBufferSize           = 256
)

// Connection is one client's push connection.
type Connection struct {
	User      User
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	hub       *Hub
	log       *slog.Logger

	status atomic.Value // models.PresenceStatus

	closeOnce sync.Once
	done      chan struct{}

	lastHeartbeat atomic.Int64 // unix millis of the last heartbeat from the client
}

func newConnection(ws *websocket.Conn, hub *Hub, user User, sessionID string) *Connection {
	c := &Connection{
		User:      user,
		SessionID: sessionID,
		Conn:      ws,
		Send:      make(chan []byte, sendBufferSize),
		hub:       hub,
		log:       hub.log.With("userID", user.ID, "session", sessionID),
		done:      make(chan struct{}),
	}
	c.status.Store(models.StatusOnline)
	c.lastHeartbeat.Store(time.Now().UnixMilli())
	return c
}

// Status returns the presence status the client last set.
func (c *Connection) Status() models.PresenceStatus {
	return c.status.Load().(models.PresenceStatus)
}

// SendFrame marshals and queues a frame.
func (c *Connection) SendFrame(f transport.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		c.log.Error("marshal error", "error", err)
		return
	}
	select {
	case <-c.done:
	case c.Send <- data:
	default:
		c.log.Warn("send buffer full, dropping frame", "event", f.Event)
	}
}

// SendEvent queues a dispatch frame.
func (c *Connection) SendEvent(name string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.log.Error("marshal event error", "event", name, "error", err)
		return
	}
	c.SendFrame(transport.Frame{Op: transport.OpDispatch, Event: name, Data: raw})
}

// SendAck answers the action carrying nonce. Without a nonce nothing is sent.
func (c *Connection) SendAck(nonce string, ack transport.Ack) {
	if nonce == "" {
		return
	}
	c.SendFrame(transport.Frame{Op: transport.OpAck, Nonce: nonce, Data: mustMarshal(ack)})
}

// Close terminates the connection.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.Conn.Close()
	})
}

// readPump reads frames from the websocket and handles them.
func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Error("read error", "error", err)
			}
			return
		}
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleMessage(message)
	}
}

// writePump writes queued frames to the websocket and sends heartbeats on a
// timer.
func (c *Connection) writePump() {
	interval := c.hub.heartbeatInterval
	heartbeatTicker := time.NewTicker(interval)
	defer func() {
		heartbeatTicker.Stop()
		c.Close()
	}()

	for {
		select {
		case message := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-heartbeatTicker.C:
			lastAck := c.lastHeartbeat.Load()
			if time.Since(time.UnixMilli(lastAck)) > interval+heartbeatTimeout {
				c.log.Warn("heartbeat timeout")
				return
			}
			c.SendFrame(transport.Frame{Op: transport.OpHeartbeat})

		case <-c.done:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// handleMessage processes one frame from the client.
func (c *Connection) handleMessage(data []byte) {
	var f transport.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.log.Error("invalid frame", "error", err)
		return
	}

	switch f.Op {
	case transport.OpHeartbeat:
		c.lastHeartbeat.Store(time.Now().UnixMilli())
		c.SendFrame(transport.Frame{Op: transport.OpHeartbeatAck})
		c.hub.touchPresence(c)

	case transport.OpAction:
		c.hub.handleAction(c, f)

	default:
		c.log.Debug("ignoring frame", "op", f.Op)
	}
}

// mustMarshal marshals v to json.RawMessage, panicking on error.
// Only for statically-known types that cannot fail.
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("devserver: mustMarshal: " + err.Error())
	}
	return data
}
