// Package session owns which channel is active and drives the join, leave
// and history lifecycle around it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/victorivanov/commsync/internal/metrics"
	"github.com/victorivanov/commsync/internal/models"
	"github.com/victorivanov/commsync/internal/store"
	"github.com/victorivanov/commsync/internal/transport"
)

const defaultHistoryLimit = 50

var (
	ErrNoChannel = errors.New("no channel selected")
	ErrStale     = errors.New("response for inactive channel discarded")
)

// State is the selection lifecycle of the active channel.
type State int32

const (
	Unselected State = iota
	Loading
	Active
)

func (s State) String() string {
	switch s {
	case Unselected:
		return "unselected"
	case Loading:
		return "loading"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Channel is the slice of the transport the manager drives.
type Channel interface {
	Connected() bool
	Join(channelID string) error
	Leave(channelID string) error
	API() transport.Fallback
}

// Options tunes a Manager. Zero values pick defaults.
type Options struct {
	HistoryLimit int
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Manager holds the active channel and gates every write to the message
// store on it. mu serializes selection changes and store writes so the
// active-channel check and the mutation it guards are one step. Store
// listeners run while mu is held, so no reader takes it: readers use the
// atomics and errMu.
type Manager struct {
	ch      Channel
	store   *store.Store
	limit   int
	log     *slog.Logger
	metrics *metrics.Metrics

	mu  sync.Mutex
	gen uint64

	errMu      sync.Mutex
	historyErr error

	active atomic.Value // string
	state  atomic.Int32

	switchMu  sync.RWMutex
	onSwitch  map[int]func(channelID string)
	nextSubID int
}

// NewManager creates a Manager with nothing selected.
func NewManager(ch Channel, st *store.Store, opts Options) *Manager {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		ch:       ch,
		store:    st,
		limit:    opts.HistoryLimit,
		log:      log.With("component", "session"),
		metrics:  opts.Metrics,
		onSwitch: make(map[int]func(string)),
	}
	m.active.Store("")
	return m
}

// Active returns the active channel id, or "" when none is selected.
func (m *Manager) Active() string {
	return m.active.Load().(string)
}

// State returns the selection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// HistoryErr returns the error of the last history load for the active
// channel, if it failed.
func (m *Manager) HistoryErr() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.historyErr
}

// Store returns the message store for the active channel.
func (m *Manager) Store() *store.Store {
	return m.store
}

// OnSwitch registers fn to run whenever the active channel changes. fn runs
// on the goroutine that called Select, before history is requested.
func (m *Manager) OnSwitch(fn func(channelID string)) (off func()) {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.onSwitch[id] = fn
	return func() {
		m.switchMu.Lock()
		defer m.switchMu.Unlock()
		delete(m.onSwitch, id)
	}
}

// Select makes channelID active. The previous channel's messages are
// discarded at once; history for the new channel is then fetched over the
// fallback API and merged in, unless another Select has happened meanwhile,
// in which case the result is dropped and ErrStale returned. A failed fetch
// leaves the channel selected with an empty store and is not retried.
// Selecting the channel that is already active does nothing.
func (m *Manager) Select(ctx context.Context, channelID string) error {
	if channelID == "" {
		return ErrNoChannel
	}

	m.mu.Lock()
	prev := m.Active()
	if prev == channelID && m.State() != Unselected {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	m.active.Store(channelID)
	m.state.Store(int32(Loading))
	m.setHistoryErr(nil)
	m.store.Reset(nil)
	m.mu.Unlock()

	m.log.Debug("channel selected", "channel", channelID, "previous", prev)
	m.notifySwitch(channelID)

	if m.ch.Connected() {
		if prev != "" {
			if err := m.ch.Leave(prev); err != nil {
				m.log.Debug("leave failed", "channel", prev, "error", err)
			}
		}
		if err := m.ch.Join(channelID); err != nil {
			m.log.Debug("join failed", "channel", channelID, "error", err)
		}
	}

	messages, err := m.ch.API().History(ctx, channelID, transport.HistoryQuery{Limit: m.limit})

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen {
		m.metrics.StaleResponse("history")
		m.log.Debug("discarding stale history", "channel", channelID, "active", m.Active())
		return fmt.Errorf("history for %s: %w", channelID, ErrStale)
	}
	m.state.Store(int32(Active))
	if err != nil {
		m.setHistoryErr(err)
		m.log.Warn("history load failed", "channel", channelID, "error", err)
		return fmt.Errorf("loading history for %s: %w", channelID, err)
	}
	m.store.Reconcile(messages...)
	return nil
}

// ApplyHistory merges a pushed channel:history payload when it is for the
// active channel.
func (m *Manager) ApplyHistory(data transport.HistoryData) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if data.ChannelID != m.Active() || m.State() == Unselected {
		m.metrics.StaleResponse("history")
		return false
	}
	m.store.Reconcile(data.Messages...)
	m.state.Store(int32(Active))
	return true
}

// ApplyIfActive runs fn against the store only if channelID is the active
// channel, and reports whether it ran. fn must not call back into the
// Manager.
func (m *Manager) ApplyIfActive(channelID string, fn func(*store.Store)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if channelID == "" || channelID != m.Active() {
		m.metrics.StaleResponse("message")
		m.log.Debug("discarding update for inactive channel", "channel", channelID, "active", m.Active())
		return false
	}
	fn(m.store)
	return true
}

// Apply runs fn against the store when any channel is selected. It is for
// updates that only carry a message id, which can only match messages of
// the active channel anyway.
func (m *Manager) Apply(fn func(*store.Store)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() == Unselected {
		return false
	}
	fn(m.store)
	return true
}

// Message looks up a message of the active channel.
func (m *Manager) Message(id string) (models.Message, bool) {
	return m.store.Get(id)
}

// Rejoin re-subscribes to the active channel after the push transport has
// reconnected.
func (m *Manager) Rejoin() {
	id := m.Active()
	if id == "" || !m.ch.Connected() {
		return
	}
	if err := m.ch.Join(id); err != nil {
		m.log.Debug("rejoin failed", "channel", id, "error", err)
		return
	}
	m.log.Debug("rejoined channel", "channel", id)
}

// Close leaves the active channel and clears the selection.
func (m *Manager) Close() {
	m.mu.Lock()
	prev := m.Active()
	m.gen++
	m.active.Store("")
	m.state.Store(int32(Unselected))
	m.setHistoryErr(nil)
	m.store.Reset(nil)
	m.mu.Unlock()

	if prev != "" && m.ch.Connected() {
		if err := m.ch.Leave(prev); err != nil {
			m.log.Debug("leave failed", "channel", prev, "error", err)
		}
	}
}

func (m *Manager) setHistoryErr(err error) {
	m.errMu.Lock()
	m.historyErr = err
	m.errMu.Unlock()
}

func (m *Manager) notifySwitch(channelID string) {
	m.switchMu.RLock()
	fns := make([]func(string), 0, len(m.onSwitch))
	for _, fn := range m.onSwitch {
		fns = append(fns, fn)
	}
	m.switchMu.RUnlock()

	for _, fn := range fns {
		fn(channelID)
	}
}
