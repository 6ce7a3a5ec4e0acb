package presence

import (
	"log/slog"
	"sync"
	"time"
)

const defaultDebounce = time.Second

// EmitFunc sends the local user's typing state for a channel.
type EmitFunc func(channelID string, typing bool) error

// Typist debounces the local user's typing signal. The first keystroke
// emits a start; later keystrokes only push back a single trailing timer,
// which emits the stop once input has been idle for the delay.
type Typist struct {
	emit  EmitFunc
	delay time.Duration
	log   *slog.Logger

	mu      sync.Mutex
	typing  bool
	channel string
	timer   *time.Timer
	gen     uint64
}

// NewTypist creates a Typist. A non-positive delay uses one second.
func NewTypist(emit EmitFunc, delay time.Duration, log *slog.Logger) *Typist {
	if delay <= 0 {
		delay = defaultDebounce
	}
	if log == nil {
		log = slog.Default()
	}
	return &Typist{emit: emit, delay: delay, log: log.With("component", "typist")}
}

// Keystroke records input in channelID. Typing in a different channel than
// the one currently flagged ends the old one first.
func (t *Typist) Keystroke(channelID string) {
	if channelID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.typing && t.channel != channelID {
		t.send(t.channel, false)
		t.typing = false
	}
	if !t.typing {
		t.typing = true
		t.channel = channelID
		t.send(channelID, true)
	}

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.delay, func() { t.idle(gen) })
}

// Typing reports whether the local user is flagged as typing.
func (t *Typist) Typing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing
}

// Stop ends typing now, emitting the stop if one is owed.
func (t *Typist) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	if t.typing {
		t.typing = false
		t.send(t.channel, false)
	}
}

func (t *Typist) idle(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.gen || !t.typing {
		return
	}
	t.typing = false
	t.timer = nil
	t.send(t.channel, false)
}

func (t *Typist) send(channelID string, typing bool) {
	if err := t.emit(channelID, typing); err != nil {
		t.log.Debug("typing emit failed", "channel", channelID, "typing", typing, "error", err)
	}
}
