// Package presence tracks who is online and who is typing in the active
// channel, and debounces the local user's own typing signal.
package presence

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/victorivanov/commsync/internal/models"
)

const defaultTypingTTL = 10 * time.Second

// ChangeKind tells subscribers which view changed.
type ChangeKind int

const (
	PresenceChanged ChangeKind = iota + 1
	TypingChanged
)

// typist is one remote user typing in the active channel.
type typist struct {
	name  string
	seq   uint64
	timer *time.Timer
}

// Aggregator merges presence snapshots and deltas and holds the typing set
// of the active channel. Typing entries end on an explicit stop, on a
// channel switch, or after the TTL without a fresh start.
type Aggregator struct {
	self string
	ttl  time.Duration
	log  *slog.Logger

	mu       sync.Mutex
	presence []models.Presence
	index    map[string]int
	active   string
	typing   map[string]*typist
	order    []string
	seq      uint64

	listenersMu sync.RWMutex
	listeners   map[int]func(ChangeKind)
	nextID      int
}

// NewAggregator creates an Aggregator for the local user selfID. A
// non-positive ttl uses the default.
func NewAggregator(selfID string, ttl time.Duration, log *slog.Logger) *Aggregator {
	if ttl <= 0 {
		ttl = defaultTypingTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{
		self:      selfID,
		ttl:       ttl,
		log:       log.With("component", "presence"),
		index:     make(map[string]int),
		typing:    make(map[string]*typist),
		listeners: make(map[int]func(ChangeKind)),
	}
}

// ReplaceSnapshot replaces the whole presence mapping.
func (a *Aggregator) ReplaceSnapshot(records []models.Presence) {
	a.mu.Lock()
	a.presence = a.presence[:0]
	clear(a.index)
	for _, p := range records {
		if p.UserID == "" {
			continue
		}
		if i, ok := a.index[p.UserID]; ok {
			a.presence[i] = p
			continue
		}
		a.index[p.UserID] = len(a.presence)
		a.presence = append(a.presence, p)
	}
	a.mu.Unlock()

	a.notify(PresenceChanged)
}

// ApplyDelta updates or adds a single record.
func (a *Aggregator) ApplyDelta(p models.Presence) {
	if p.UserID == "" {
		return
	}
	a.mu.Lock()
	if i, ok := a.index[p.UserID]; ok {
		a.presence[i] = p
	} else {
		a.index[p.UserID] = len(a.presence)
		a.presence = append(a.presence, p)
	}
	a.mu.Unlock()

	a.notify(PresenceChanged)
}

// Presence returns every known record in snapshot order.
func (a *Aggregator) Presence() []models.Presence {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.presence)
}

// Online returns the records whose status is not offline.
func (a *Aggregator) Online() []models.Presence {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.Presence, 0, len(a.presence))
	for _, p := range a.presence {
		if p.Status != models.StatusOffline {
			out = append(out, p)
		}
	}
	return out
}

// Status returns a user's status, offline if unknown.
func (a *Aggregator) Status(userID string) models.PresenceStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i, ok := a.index[userID]; ok {
		return a.presence[i].Status
	}
	return models.StatusOffline
}

// SetActiveChannel scopes typing to channelID and clears the current set.
func (a *Aggregator) SetActiveChannel(channelID string) {
	a.mu.Lock()
	if a.active == channelID {
		a.mu.Unlock()
		return
	}
	a.active = channelID
	hadTyping := len(a.order) > 0
	a.clearTypingLocked()
	a.mu.Unlock()

	if hadTyping {
		a.notify(TypingChanged)
	}
}

// ApplyTyping applies a typing event and reports whether the set changed.
// Events from the local user or for another channel are ignored.
func (a *Aggregator) ApplyTyping(ev models.TypingEvent) bool {
	if ev.UserID == "" || ev.UserID == a.self {
		return false
	}

	a.mu.Lock()
	if ev.ChannelID != a.active {
		a.mu.Unlock()
		return false
	}

	changed := false
	if ev.IsTyping {
		a.seq++
		seq := a.seq
		userID := ev.UserID
		if t, ok := a.typing[userID]; ok {
			t.timer.Stop()
			changed = t.name != ev.UserName
			t.name = ev.UserName
			t.seq = seq
			t.timer = time.AfterFunc(a.ttl, func() { a.expire(userID, seq) })
		} else {
			a.typing[userID] = &typist{
				name:  ev.UserName,
				seq:   seq,
				timer: time.AfterFunc(a.ttl, func() { a.expire(userID, seq) }),
			}
			a.order = append(a.order, userID)
			changed = true
		}
	} else {
		changed = a.removeTypingLocked(ev.UserID)
	}
	a.mu.Unlock()

	if changed {
		a.notify(TypingChanged)
	}
	return changed
}

// TypingNames returns the names of users typing in the active channel, in
// the order they started.
func (a *Aggregator) TypingNames() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.order))
	for _, id := range a.order {
		names = append(names, a.typing[id].name)
	}
	return names
}

// Subscribe registers fn to be told after every change.
func (a *Aggregator) Subscribe(fn func(ChangeKind)) (unsubscribe func()) {
	a.listenersMu.Lock()
	defer a.listenersMu.Unlock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	return func() {
		a.listenersMu.Lock()
		defer a.listenersMu.Unlock()
		delete(a.listeners, id)
	}
}

// Snapshotter fetches a full presence snapshot.
type Snapshotter interface {
	Presence(ctx context.Context) ([]models.Presence, error)
}

// Poll replaces the presence snapshot from src every interval while
// connected reports false, starting immediately. It returns when ctx is
// done.
func (a *Aggregator) Poll(ctx context.Context, connected func() bool, src Snapshotter, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if !connected() {
			records, err := src.Presence(ctx)
			switch {
			case err == nil:
				a.ReplaceSnapshot(records)
			case ctx.Err() == nil:
				a.log.Debug("presence poll failed", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops pending typing timers.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clearTypingLocked()
}

func (a *Aggregator) expire(userID string, seq uint64) {
	a.mu.Lock()
	t, ok := a.typing[userID]
	if !ok || t.seq != seq {
		a.mu.Unlock()
		return
	}
	a.removeTypingLocked(userID)
	a.mu.Unlock()

	a.notify(TypingChanged)
}

func (a *Aggregator) removeTypingLocked(userID string) bool {
	t, ok := a.typing[userID]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(a.typing, userID)
	a.order = slices.DeleteFunc(a.order, func(id string) bool { return id == userID })
	return true
}

func (a *Aggregator) clearTypingLocked() {
	for _, t := range a.typing {
		t.timer.Stop()
	}
	clear(a.typing)
	a.order = a.order[:0]
}

func (a *Aggregator) notify(kind ChangeKind) {
	a.listenersMu.RLock()
	fns := make([]func(ChangeKind), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.listenersMu.RUnlock()

	for _, fn := range fns {
		fn(kind)
	}
}
