package presence

import (
	"slices"
	"sync"
	"testing"
	"time"
)

type emission struct {
	channel string
	typing  bool
}

type recorder struct {
	mu  sync.Mutex
	got []emission
}

func (r *recorder) emit(channelID string, typing bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, emission{channelID, typing})
	return nil
}

func (r *recorder) events() []emission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.got)
}

func TestTypist_RapidKeystrokesEmitOneStartOneStop(t *testing.T) {
	rec := &recorder{}
	typ := NewTypist(rec.emit, 100*time.Millisecond, nil)

	for i := 0; i < 5; i++ {
		typ.Keystroke("general")
		time.Sleep(10 * time.Millisecond)
	}
	if got := rec.events(); !slices.Equal(got, []emission{{"general", true}}) {
		t.Fatalf("during burst: %v", got)
	}
	if !typ.Typing() {
		t.Fatal("should be flagged typing during burst")
	}

	time.Sleep(300 * time.Millisecond)

	want := []emission{{"general", true}, {"general", false}}
	if got := rec.events(); !slices.Equal(got, want) {
		t.Fatalf("after pause: %v, want %v", got, want)
	}
	if typ.Typing() {
		t.Fatal("flag not cleared after stop")
	}
}

func TestTypist_TimerResetNotStacked(t *testing.T) {
	rec := &recorder{}
	typ := NewTypist(rec.emit, 80*time.Millisecond, nil)

	typ.Keystroke("general")
	time.Sleep(50 * time.Millisecond)
	typ.Keystroke("general")
	time.Sleep(50 * time.Millisecond)

	// 100ms after the first keystroke but only 50ms after the last: no stop yet.
	if got := rec.events(); len(got) != 1 {
		t.Fatalf("stop fired from the first timer: %v", got)
	}

	time.Sleep(200 * time.Millisecond)
	if got := rec.events(); len(got) != 2 {
		t.Fatalf("events = %v, want exactly start and stop", got)
	}
}

func TestTypist_ChannelSwitchStopsOldFirst(t *testing.T) {
	rec := &recorder{}
	typ := NewTypist(rec.emit, time.Hour, nil)

	typ.Keystroke("a")
	typ.Keystroke("b")
	typ.Stop()

	want := []emission{{"a", true}, {"a", false}, {"b", true}, {"b", false}}
	if got := rec.events(); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestTypist_StopWhenIdleEmitsNothing(t *testing.T) {
	rec := &recorder{}
	typ := NewTypist(rec.emit, time.Hour, nil)

	typ.Stop()
	typ.Keystroke("")
	if got := rec.events(); len(got) != 0 {
		t.Fatalf("events = %v", got)
	}
}
