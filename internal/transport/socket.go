package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/victorivanov/commsync/internal/metrics"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	maxMessageSize    = 1 << 20
	sendBufferSize    = 256
	defaultAckTimeout = 5 * time.Second
)

// Handler receives the raw payload of a dispatched event.
type Handler func(data json.RawMessage)

// SocketConfig configures a Socket.
type SocketConfig struct {
	URL          string
	Token        string
	AckTimeout   time.Duration
	ReconnectMax time.Duration
	Dialer       *websocket.Dialer
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Socket is the push transport: a websocket connection kept alive by Run,
// delivering dispatched events to handlers and correlating acknowledgments
// with the actions that asked for them.
//
// Handlers run on the read goroutine in arrival order. They must not call
// Request, which waits for a frame that same goroutine has to read.
type Socket struct {
	cfg SocketConfig
	log *slog.Logger

	mu   sync.RWMutex
	conn *socketConn

	connected atomic.Bool

	handlersMu sync.RWMutex
	handlers   map[string]map[int]Handler
	status     map[int]func(bool)
	nextID     int

	pendingMu sync.Mutex
	pending   map[string]chan Ack
}

// socketConn is the state of one live connection.
type socketConn struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *socketConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// NewSocket creates a disconnected Socket. Call Run to connect.
func NewSocket(cfg SocketConfig) *Socket {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Socket{
		cfg:      cfg,
		log:      log.With("component", "socket"),
		handlers: make(map[string]map[int]Handler),
		status:   make(map[int]func(bool)),
		pending:  make(map[string]chan Ack),
	}
}

// Connected reports whether a connection is currently established.
func (s *Socket) Connected() bool {
	return s.connected.Load()
}

// On registers h for event and returns a function that removes it.
func (s *Socket) On(event string, h Handler) (off func()) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()

	id := s.nextID
	s.nextID++
	if s.handlers[event] == nil {
		s.handlers[event] = make(map[int]Handler)
	}
	s.handlers[event][id] = h

	return func() {
		s.handlersMu.Lock()
		defer s.handlersMu.Unlock()
		delete(s.handlers[event], id)
	}
}

// OnStatus registers fn to be told about connection health changes.
func (s *Socket) OnStatus(fn func(connected bool)) (off func()) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()

	id := s.nextID
	s.nextID++
	s.status[id] = fn

	return func() {
		s.handlersMu.Lock()
		defer s.handlersMu.Unlock()
		delete(s.status, id)
	}
}

// Run keeps the connection alive until ctx is done, reconnecting with
// exponential backoff. It always returns a non-nil error.
func (s *Socket) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = s.cfg.ReconnectMax
	b.MaxElapsedTime = 0
	b.Reset()

	attempt := 0
	for {
		if attempt > 0 {
			s.cfg.Metrics.Reconnect()
		}
		attempt++

		start := time.Now()
		err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(start) > s.cfg.ReconnectMax {
			b.Reset()
		}

		wait := b.NextBackOff()
		s.log.Warn("push connection lost", "error", err, "retry_in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// connectOnce dials, pumps frames until the connection drops, and returns
// the reason it dropped.
func (s *Socket) connectOnce(ctx context.Context) error {
	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	ws, _, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", s.cfg.URL, err)
	}

	c := &socketConn{
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()

	go s.writePump(c)

	stop := context.AfterFunc(ctx, c.close)
	defer stop()

	s.setConnected(true)
	err = s.readPump(c)

	s.mu.Lock()
	if s.conn == c {
		s.conn = nil
	}
	s.mu.Unlock()

	c.close()
	s.setConnected(false)
	s.failPending()
	return err
}

// Close drops the current connection. Run will reconnect unless its context
// is done.
func (s *Socket) Close() {
	s.mu.RLock()
	c := s.conn
	s.mu.RUnlock()
	if c != nil {
		c.close()
	}
}

func (s *Socket) setConnected(connected bool) {
	if s.connected.Swap(connected) == connected {
		return
	}
	s.cfg.Metrics.SetConnected(connected)
	s.log.Info("push connection status", "connected", connected)

	s.handlersMu.RLock()
	fns := make([]func(bool), 0, len(s.status))
	for _, fn := range s.status {
		fns = append(fns, fn)
	}
	s.handlersMu.RUnlock()

	for _, fn := range fns {
		fn(connected)
	}
}

// failPending releases every waiter whose ack can no longer arrive.
func (s *Socket) failPending() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	for nonce, ch := range s.pending {
		close(ch)
		delete(s.pending, nonce)
	}
}

// readPump reads frames until the connection fails.
func (s *Socket) readPump(c *socketConn) error {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Error("read error", "error", err)
			}
			return err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		s.handleFrame(c, data)
	}
}

// writePump writes queued frames until the connection is closed.
func (s *Socket) writePump(c *socketConn) {
	defer c.close()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Debug("write error", "error", err)
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (s *Socket) handleFrame(c *socketConn, data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		s.log.Error("invalid frame", "error", err)
		return
	}

	switch f.Op {
	case OpHello:
		var hello HelloData
		if err := json.Unmarshal(f.Data, &hello); err == nil {
			s.log.Debug("hello", "heartbeat_interval_ms", hello.HeartbeatInterval)
		}

	case OpHeartbeat:
		_ = s.enqueue(c, Frame{Op: OpHeartbeat})

	case OpHeartbeatAck:

	case OpAck:
		s.resolve(f.Nonce, f.Data)

	case OpDispatch:
		s.cfg.Metrics.PushEvent(f.Event)
		s.dispatch(f.Event, f.Data)
	}
}

func (s *Socket) dispatch(event string, data json.RawMessage) {
	s.handlersMu.RLock()
	hs := make([]Handler, 0, len(s.handlers[event]))
	for _, h := range s.handlers[event] {
		hs = append(hs, h)
	}
	s.handlersMu.RUnlock()

	if len(hs) == 0 {
		s.log.Debug("unhandled event", "event", event)
	}
	for _, h := range hs {
		h(data)
	}
}

func (s *Socket) resolve(nonce string, data json.RawMessage) {
	s.pendingMu.Lock()
	ch, ok := s.pending[nonce]
	delete(s.pending, nonce)
	s.pendingMu.Unlock()

	if !ok {
		s.log.Debug("ack for unknown nonce", "nonce", nonce)
		return
	}

	var ack Ack
	if err := json.Unmarshal(data, &ack); err != nil {
		ack = Ack{Success: false, Error: "invalid ack payload"}
	}
	ch <- ack
}

// Emit sends an action without waiting for an acknowledgment.
func (s *Socket) Emit(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling %s payload: %w", event, err)
	}
	return s.send(Frame{Op: OpAction, Event: event, Data: raw})
}

// Request sends an action and waits for its acknowledgment, the configured
// ack timeout, or ctx, whichever comes first.
func (s *Socket) Request(ctx context.Context, event string, payload any) (Ack, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Ack{}, fmt.Errorf("marshalling %s payload: %w", event, err)
	}

	nonce := uuid.NewString()
	ch := make(chan Ack, 1)

	s.pendingMu.Lock()
	s.pending[nonce] = ch
	s.pendingMu.Unlock()

	forget := func() {
		s.pendingMu.Lock()
		delete(s.pending, nonce)
		s.pendingMu.Unlock()
	}

	if err := s.send(Frame{Op: OpAction, Event: event, Data: raw, Nonce: nonce}); err != nil {
		forget()
		return Ack{}, err
	}

	timer := time.NewTimer(s.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case ack, ok := <-ch:
		if !ok {
			return Ack{}, ErrNotConnected
		}
		return ack, nil
	case <-timer.C:
		forget()
		return Ack{}, fmt.Errorf("%s: %w", event, ErrAckTimeout)
	case <-ctx.Done():
		forget()
		return Ack{}, ctx.Err()
	}
}

func (s *Socket) send(f Frame) error {
	s.mu.RLock()
	c := s.conn
	s.mu.RUnlock()

	if c == nil || !s.Connected() {
		return ErrNotConnected
	}
	return s.enqueue(c, f)
}

func (s *Socket) enqueue(c *socketConn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshalling frame: %w", err)
	}
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrNotConnected
	default:
		s.log.Warn("send buffer full, dropping frame", "event", f.Event)
		return ErrSendBufferFull
	}
}
