// Package transporttest provides in-memory fakes of the push and fallback
// transports for tests.
package transporttest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/victorivanov/commsync/internal/models"
	"github.com/victorivanov/commsync/internal/transport"
)

// ErrUnexpected is returned by fake methods that have no Fn configured.
var ErrUnexpected = errors.New("transporttest: unexpected call")

// Emitted records one fire-and-forget action.
type Emitted struct {
	Event   string
	Payload any
}

// Push is a fake transport.Push. Events are delivered synchronously with
// Deliver; status changes with SetConnected.
type Push struct {
	RequestFn func(ctx context.Context, event string, payload any) (transport.Ack, error)

	mu        sync.Mutex
	connected bool
	emitted   []Emitted
	requests  []Emitted
	handlers  map[string]map[int]transport.Handler
	status    map[int]func(bool)
	nextID    int
}

// NewPush creates a fake push transport with the given initial health.
func NewPush(connected bool) *Push {
	return &Push{
		connected: connected,
		handlers:  make(map[string]map[int]transport.Handler),
		status:    make(map[int]func(bool)),
	}
}

func (p *Push) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Push) Emit(event string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return transport.ErrNotConnected
	}
	p.emitted = append(p.emitted, Emitted{Event: event, Payload: payload})
	return nil
}

func (p *Push) Request(ctx context.Context, event string, payload any) (transport.Ack, error) {
	p.mu.Lock()
	p.requests = append(p.requests, Emitted{Event: event, Payload: payload})
	fn := p.RequestFn
	p.mu.Unlock()

	if fn == nil {
		return transport.Ack{}, ErrUnexpected
	}
	return fn(ctx, event, payload)
}

func (p *Push) On(event string, h transport.Handler) (off func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	if p.handlers[event] == nil {
		p.handlers[event] = make(map[int]transport.Handler)
	}
	p.handlers[event][id] = h
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers[event], id)
	}
}

func (p *Push) OnStatus(fn func(bool)) (off func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.status[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.status, id)
	}
}

// SetConnected changes health and notifies status listeners.
func (p *Push) SetConnected(connected bool) {
	p.mu.Lock()
	p.connected = connected
	fns := make([]func(bool), 0, len(p.status))
	for _, fn := range p.status {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(connected)
	}
}

// Deliver dispatches event to registered handlers as the server would.
func (p *Push) Deliver(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	hs := make([]transport.Handler, 0, len(p.handlers[event]))
	for _, h := range p.handlers[event] {
		hs = append(hs, h)
	}
	p.mu.Unlock()

	for _, h := range hs {
		h(raw)
	}
	return nil
}

// Emitted returns the fire-and-forget actions sent so far.
func (p *Push) Emitted() []Emitted {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Emitted(nil), p.emitted...)
}

// EmittedEvents returns just the event names of Emitted.
func (p *Push) EmittedEvents() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.emitted))
	for i, e := range p.emitted {
		out[i] = e.Event
	}
	return out
}

// Requests returns the acknowledged actions sent so far.
func (p *Push) Requests() []Emitted {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Emitted(nil), p.requests...)
}

// AckMessage builds a successful ack carrying rec.
func AckMessage(rec any) transport.Ack {
	raw, _ := json.Marshal(rec)
	return transport.Ack{Success: true, Message: raw}
}

// Fallback is a fake transport.Fallback. Every method counts its calls.
type Fallback struct {
	ListChannelsFn   func(ctx context.Context) ([]models.ChannelSummary, error)
	HistoryFn        func(ctx context.Context, channelID string, q transport.HistoryQuery) ([]models.Message, error)
	PresenceFn       func(ctx context.Context) ([]models.Presence, error)
	CreateMessageFn  func(ctx context.Context, channelID string, in transport.NewMessage) (*models.Message, error)
	UpdateMessageFn  func(ctx context.Context, messageID, content string) (*models.Message, error)
	DeleteMessageFn  func(ctx context.Context, messageID string) (*models.MessageRef, error)
	ToggleReactionFn func(ctx context.Context, messageID, emoji string) (*models.Message, error)
	SetPinnedFn      func(ctx context.Context, messageID string, pinned bool) (*models.Message, error)

	mu    sync.Mutex
	calls map[string]int
}

func (f *Fallback) count(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

// Calls returns how many times method name was called.
func (f *Fallback) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *Fallback) ListChannels(ctx context.Context) ([]models.ChannelSummary, error) {
	f.count("ListChannels")
	if f.ListChannelsFn == nil {
		return nil, ErrUnexpected
	}
	return f.ListChannelsFn(ctx)
}

func (f *Fallback) History(ctx context.Context, channelID string, q transport.HistoryQuery) ([]models.Message, error) {
	f.count("History")
	if f.HistoryFn == nil {
		return nil, ErrUnexpected
	}
	return f.HistoryFn(ctx, channelID, q)
}

func (f *Fallback) Presence(ctx context.Context) ([]models.Presence, error) {
	f.count("Presence")
	if f.PresenceFn == nil {
		return nil, ErrUnexpected
	}
	return f.PresenceFn(ctx)
}

func (f *Fallback) CreateMessage(ctx context.Context, channelID string, in transport.NewMessage) (*models.Message, error) {
	f.count("CreateMessage")
	if f.CreateMessageFn == nil {
		return nil, ErrUnexpected
	}
	return f.CreateMessageFn(ctx, channelID, in)
}

func (f *Fallback) UpdateMessage(ctx context.Context, messageID, content string) (*models.Message, error) {
	f.count("UpdateMessage")
	if f.UpdateMessageFn == nil {
		return nil, ErrUnexpected
	}
	return f.UpdateMessageFn(ctx, messageID, content)
}

func (f *Fallback) DeleteMessage(ctx context.Context, messageID string) (*models.MessageRef, error) {
	f.count("DeleteMessage")
	if f.DeleteMessageFn == nil {
		return nil, ErrUnexpected
	}
	return f.DeleteMessageFn(ctx, messageID)
}

func (f *Fallback) ToggleReaction(ctx context.Context, messageID, emoji string) (*models.Message, error) {
	f.count("ToggleReaction")
	if f.ToggleReactionFn == nil {
		return nil, ErrUnexpected
	}
	return f.ToggleReactionFn(ctx, messageID, emoji)
}

func (f *Fallback) SetPinned(ctx context.Context, messageID string, pinned bool) (*models.Message, error) {
	f.count("SetPinned")
	if f.SetPinnedFn == nil {
		return nil, ErrUnexpected
	}
	return f.SetPinnedFn(ctx, messageID, pinned)
}

var (
	_ transport.Push     = (*Push)(nil)
	_ transport.Fallback = (*Fallback)(nil)
)
