// Package hub assembles one client: it routes push events into the session,
// presence and call state, and exposes the read views and bound actions a
// user interface needs.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/victorivanov/commsync/internal/actions"
	"github.com/victorivanov/commsync/internal/metrics"
	"github.com/victorivanov/commsync/internal/models"
	"github.com/victorivanov/commsync/internal/presence"
	"github.com/victorivanov/commsync/internal/session"
	"github.com/victorivanov/commsync/internal/store"
	"github.com/victorivanov/commsync/internal/transport"
)

const defaultPollInterval = 30 * time.Second

// Change tells subscribers which view changed.
type Change int

const (
	MessagesChanged Change = iota + 1
	TypingChanged
	PresenceChanged
	ChannelsChanged
	SelectionChanged
	CallChanged
	ConnectionChanged
)

func (c Change) String() string {
	switch c {
	case MessagesChanged:
		return "messages"
	case TypingChanged:
		return "typing"
	case PresenceChanged:
		return "presence"
	case ChannelsChanged:
		return "channels"
	case SelectionChanged:
		return "selection"
	case CallChanged:
		return "call"
	case ConnectionChanged:
		return "connection"
	default:
		return "unknown"
	}
}

// Options configures a Hub. Zero durations pick each component's default.
type Options struct {
	SelfID          string
	HistoryLimit    int
	TypingDebounce  time.Duration
	TypingTTL       time.Duration
	PollInterval    time.Duration
	RefreshInterval time.Duration
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

// Hub is one signed-in client.
type Hub struct {
	client    *transport.Client
	store     *store.Store
	session   *session.Manager
	directory *session.Directory
	actions   *actions.Coordinator
	presence  *presence.Aggregator
	typist    *presence.Typist
	self      string
	log       *slog.Logger
	pollEvery time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	offs   []func()

	// explicit is set once the user picks a channel; a refresh then keeps
	// the selection even when the directory does not list it.
	explicit atomic.Bool

	callMu sync.Mutex
	call   Call

	listenersMu sync.RWMutex
	listeners   map[int]func(Change)
	nextID      int
}

// New wires a Hub around client. Push handlers are registered at once;
// call Start to load the directory and select a channel.
func New(client *transport.Client, opts Options) *Hub {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	st := store.New()
	sess := session.NewManager(client, st, session.Options{
		HistoryLimit: opts.HistoryLimit,
		Logger:       log,
		Metrics:      opts.Metrics,
	})

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		client:    client,
		store:     st,
		session:   sess,
		directory: session.NewDirectory(client.API(), opts.RefreshInterval, log),
		actions:   actions.NewCoordinator(client, sess, actions.NewComposer(), log),
		presence:  presence.NewAggregator(opts.SelfID, opts.TypingTTL, log),
		self:      opts.SelfID,
		log:       log.With("component", "hub"),
		pollEvery: opts.PollInterval,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[int]func(Change)),
	}
	h.typist = presence.NewTypist(func(channelID string, typing bool) error {
		return client.Emit(transport.ActionUserTyping, transport.TypingPayload{ChannelID: channelID, IsTyping: typing})
	}, opts.TypingDebounce, log)

	h.offs = append(h.offs,
		st.Subscribe(func(store.Change) { h.notify(MessagesChanged) }),
		h.presence.Subscribe(func(k presence.ChangeKind) {
			if k == presence.TypingChanged {
				h.notify(TypingChanged)
				return
			}
			h.notify(PresenceChanged)
		}),
		h.directory.Subscribe(func([]models.ChannelSummary) { h.notify(ChannelsChanged) }),
		sess.OnSwitch(func(channelID string) {
			h.presence.SetActiveChannel(channelID)
			h.notify(SelectionChanged)
		}),
		client.OnStatus(h.onStatus),
	)
	h.offs = append(h.offs, h.routes()...)
	return h
}

// Start loads the channel directory and selects the default channel. Only
// a directory failure is returned; a failed history load shows in
// HistoryErr.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.directory.Refresh(ctx); err != nil {
		return err
	}
	if err := h.ensureSelection(ctx); err != nil {
		h.log.Debug("initial selection failed", "error", err)
	}
	return nil
}

// Run polls presence over the fallback API while the push transport is
// down. It blocks until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	return h.presence.Poll(ctx, h.client.Connected, h.client.API(), h.pollEvery)
}

// Close unregisters every handler, stops timers and leaves the active
// channel.
func (h *Hub) Close() {
	h.cancel()
	for _, off := range h.offs {
		off()
	}
	h.typist.Stop()
	h.presence.Close()
	h.session.Close()
}

// Subscribe registers fn to be told when a view changes. fn may run on the
// transport's read goroutine while the session holds its lock: it may read
// any view, but must hand off rather than call SelectChannel or other
// actions inline.
func (h *Hub) Subscribe(fn func(Change)) (unsubscribe func()) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	return func() {
		h.listenersMu.Lock()
		defer h.listenersMu.Unlock()
		delete(h.listeners, id)
	}
}

func (h *Hub) notify(c Change) {
	h.listenersMu.RLock()
	fns := make([]func(Change), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.listenersMu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

func (h *Hub) onStatus(connected bool) {
	if connected {
		h.session.Rejoin()
	}
	h.notify(ConnectionChanged)
}

// ensureSelection selects the directory's default when nothing is
// selected, or when a defaulted selection is no longer listed.
func (h *Hub) ensureSelection(ctx context.Context) error {
	active := h.session.Active()
	if active != "" && h.explicit.Load() {
		return nil
	}
	want := h.directory.Default(active)
	if want == "" || want == active {
		return nil
	}
	return h.session.Select(ctx, want)
}

// refreshDirectory re-fetches the directory at most once per refresh
// interval. It runs off the transport goroutine.
func (h *Hub) refreshDirectory() {
	ran, err := h.directory.RefreshThrottled(h.ctx)
	if err != nil {
		h.log.Debug("directory refresh failed", "error", err)
		return
	}
	if ran {
		if err := h.ensureSelection(h.ctx); err != nil {
			h.log.Debug("default selection failed", "error", err)
		}
	}
}

// Views.

// Messages returns the active channel's messages in display order.
func (h *Hub) Messages() []models.Message { return h.store.Snapshot() }

// Pinned returns the active channel's pinned messages.
func (h *Hub) Pinned() []models.Message { return h.store.Pinned() }

// Thread returns the loaded replies to parentID.
func (h *Hub) Thread(parentID string) []models.Message { return h.store.Thread(parentID) }

// TypingUsers returns the names typing in the active channel.
func (h *Hub) TypingUsers() []string { return h.presence.TypingNames() }

// Presence returns every known presence record.
func (h *Hub) Presence() []models.Presence { return h.presence.Presence() }

// Channels returns the channel directory.
func (h *Hub) Channels() []models.ChannelSummary { return h.directory.Channels() }

// ActiveChannel returns the selected channel id.
func (h *Hub) ActiveChannel() string { return h.session.Active() }

// State returns the selection state.
func (h *Hub) State() session.State { return h.session.State() }

// HistoryErr returns the last history load failure for the active channel.
func (h *Hub) HistoryErr() error { return h.session.HistoryErr() }

// Connected reports push transport health.
func (h *Hub) Connected() bool { return h.client.Connected() }

// Composer returns the input state.
func (h *Hub) Composer() *actions.Composer { return h.actions.Composer() }

// Actions returns the coordinator for callers that want action results.
func (h *Hub) Actions() *actions.Coordinator { return h.actions }
