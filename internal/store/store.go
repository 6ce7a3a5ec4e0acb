// Package store holds the ordered, deduplicated message list for the active
// channel.
package store

import (
	"slices"
	"sync"

	"github.com/victorivanov/commsync/internal/models"
)

// ChangeKind describes what a store mutation did.
type ChangeKind int

const (
	ChangeReconciled ChangeKind = iota + 1
	ChangeRemoved
	ChangePatched
	ChangeReset
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeReconciled:
		return "reconciled"
	case ChangeRemoved:
		return "removed"
	case ChangePatched:
		return "patched"
	case ChangeReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Change is delivered to listeners after every successful mutation.
type Change struct {
	Kind ChangeKind
	IDs  []string
}

// Listener observes store changes. It runs on the goroutine that mutated the
// store, after the store lock has been released, and may call Snapshot.
type Listener func(Change)

// Store is the message list of one channel, kept sorted ascending by
// CreatedAt. Records with equal CreatedAt keep their insertion order.
type Store struct {
	mu       sync.RWMutex
	messages []models.Message

	listenerMu sync.Mutex
	listeners  map[int]Listener
	nextID     int
}

// New creates an empty Store.
func New() *Store {
	return &Store{listeners: make(map[int]Listener)}
}

// Reconcile merges incoming records by id: any existing record with the same
// id is dropped, the incoming one is appended, and the set is stably re-sorted
// by CreatedAt. Replaying a record is therefore a no-op and the latest values
// always win. Records without an id are ignored.
func (s *Store) Reconcile(incoming ...models.Message) int {
	s.mu.Lock()
	var ids []string
	for _, m := range incoming {
		if m.ID == "" {
			continue
		}
		s.messages = slices.DeleteFunc(s.messages, func(existing models.Message) bool {
			return existing.ID == m.ID
		})
		s.messages = append(s.messages, m.Clone())
		ids = append(ids, m.ID)
	}
	if len(ids) > 0 {
		sortByCreatedAt(s.messages)
	}
	s.mu.Unlock()

	if len(ids) > 0 {
		s.notify(Change{Kind: ChangeReconciled, IDs: ids})
	}
	return len(ids)
}

// Remove deletes the record with id. Removing an absent id is a no-op and
// reports false.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	before := len(s.messages)
	s.messages = slices.DeleteFunc(s.messages, func(m models.Message) bool {
		return m.ID == id
	})
	removed := len(s.messages) != before
	s.mu.Unlock()

	if removed {
		s.notify(Change{Kind: ChangeRemoved, IDs: []string{id}})
	}
	return removed
}

// Patch applies update to a copy of the record with id and stores the result
// in place. The id can't be changed through Patch.
func (s *Store) Patch(id string, update func(*models.Message)) bool {
	s.mu.Lock()
	idx := slices.IndexFunc(s.messages, func(m models.Message) bool { return m.ID == id })
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	patched := s.messages[idx].Clone()
	update(&patched)
	patched.ID = id
	resort := !patched.CreatedAt.Equal(s.messages[idx].CreatedAt)
	s.messages[idx] = patched
	if resort {
		sortByCreatedAt(s.messages)
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangePatched, IDs: []string{id}})
	return true
}

// Reset replaces the whole set. Duplicate ids in messages collapse to the
// last occurrence.
func (s *Store) Reset(messages []models.Message) {
	next := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if m.ID == "" {
			continue
		}
		next = slices.DeleteFunc(next, func(existing models.Message) bool {
			return existing.ID == m.ID
		})
		next = append(next, m.Clone())
	}
	sortByCreatedAt(next)

	s.mu.Lock()
	s.messages = next
	s.mu.Unlock()

	ids := make([]string, len(next))
	for i, m := range next {
		ids[i] = m.ID
	}
	s.notify(Change{Kind: ChangeReset, IDs: ids})
}

// Snapshot returns a copy of the ordered message list.
func (s *Store) Snapshot() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Get returns a copy of the record with id.
func (s *Store) Get(id string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.messages {
		if m.ID == id {
			return m.Clone(), true
		}
	}
	return models.Message{}, false
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Pinned returns the pinned records in display order.
func (s *Store) Pinned() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Message
	for _, m := range s.messages {
		if m.IsPinned {
			out = append(out, m.Clone())
		}
	}
	return out
}

// Thread returns the replies pointing at parentID in display order.
func (s *Store) Thread(parentID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Message
	for _, m := range s.messages {
		if m.ThreadParentID != nil && *m.ThreadParentID == parentID {
			out = append(out, m.Clone())
		}
	}
	return out
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.listenerMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.listenerMu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.listenerMu.Unlock()

	for _, l := range ls {
		l(c)
	}
}

func sortByCreatedAt(messages []models.Message) {
	slices.SortStableFunc(messages, func(a, b models.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
