package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/victorivanov/commsync/internal/models"
)

// ChannelLister fetches the channel directory.
type ChannelLister interface {
	ListChannels(ctx context.Context) ([]models.ChannelSummary, error)
}

// Directory caches the channel list. The sync core never mutates entries;
// it only re-fetches them, at most once per refresh interval when driven by
// message arrivals.
type Directory struct {
	api     ChannelLister
	limiter *rate.Limiter
	log     *slog.Logger

	mu       sync.RWMutex
	channels []models.ChannelSummary

	listenersMu sync.RWMutex
	listeners   map[int]func([]models.ChannelSummary)
	nextID      int
}

// NewDirectory creates an empty Directory. A non-positive interval
// disables throttling.
func NewDirectory(api ChannelLister, interval time.Duration, log *slog.Logger) *Directory {
	if log == nil {
		log = slog.Default()
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Directory{
		api:       api,
		limiter:   rate.NewLimiter(limit, 1),
		log:       log.With("component", "directory"),
		listeners: make(map[int]func([]models.ChannelSummary)),
	}
}

// Refresh fetches the list unconditionally.
func (d *Directory) Refresh(ctx context.Context) error {
	channels, err := d.api.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("listing channels: %w", err)
	}

	d.mu.Lock()
	d.channels = slices.Clone(channels)
	d.mu.Unlock()

	d.notify()
	return nil
}

// RefreshThrottled refreshes unless a refresh already happened within the
// interval. It reports whether a fetch was attempted.
func (d *Directory) RefreshThrottled(ctx context.Context) (bool, error) {
	if !d.limiter.Allow() {
		return false, nil
	}
	return true, d.Refresh(ctx)
}

// Channels returns a copy of the cached list in server order.
func (d *Directory) Channels() []models.ChannelSummary {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.channels)
}

// Lookup returns the summary for id.
func (d *Directory) Lookup(id string) (models.ChannelSummary, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.channels {
		if c.ID == id {
			return c, true
		}
	}
	return models.ChannelSummary{}, false
}

// Default picks the channel to show: selected if it is still listed,
// otherwise the first entry. It returns "" for an empty list. The result
// depends only on the list and selected, so repeated calls agree.
func (d *Directory) Default(selected string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(d.channels) == 0 {
		return ""
	}
	if selected != "" {
		for _, c := range d.channels {
			if c.ID == selected {
				return selected
			}
		}
	}
	return d.channels[0].ID
}

// Subscribe registers fn to receive the list after every refresh.
func (d *Directory) Subscribe(fn func([]models.ChannelSummary)) (unsubscribe func()) {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	return func() {
		d.listenersMu.Lock()
		defer d.listenersMu.Unlock()
		delete(d.listeners, id)
	}
}

func (d *Directory) notify() {
	channels := d.Channels()

	d.listenersMu.RLock()
	fns := make([]func([]models.ChannelSummary), 0, len(d.listeners))
	for _, fn := range d.listeners {
		fns = append(fns, fn)
	}
	d.listenersMu.RUnlock()

	for _, fn := range fns {
		fn(channels)
	}
}
