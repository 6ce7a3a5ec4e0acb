package presence

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/victorivanov/commsync/internal/models"
)

func online(id, name string) models.Presence {
	return models.Presence{UserID: id, UserName: name, Status: models.StatusOnline}
}

func userIDs(ps []models.Presence) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.UserID
	}
	return out
}

func TestAggregator_SnapshotReplacesWholesale(t *testing.T) {
	a := NewAggregator("me", 0, nil)
	a.ReplaceSnapshot([]models.Presence{online("u1", "Ann"), online("u2", "Bo")})
	a.ReplaceSnapshot([]models.Presence{online("u3", "Cy")})

	if got := userIDs(a.Presence()); !slices.Equal(got, []string{"u3"}) {
		t.Fatalf("presence = %v", got)
	}
	if a.Status("u1") != models.StatusOffline {
		t.Fatal("u1 should be unknown after replacement")
	}
}

func TestAggregator_DeltaUpdatesInPlace(t *testing.T) {
	a := NewAggregator("me", 0, nil)
	a.ReplaceSnapshot([]models.Presence{online("u1", "Ann"), online("u2", "Bo")})

	away := online("u1", "Ann")
	away.Status = models.StatusOffline
	a.ApplyDelta(away)
	a.ApplyDelta(online("u3", "Cy"))

	if got := userIDs(a.Presence()); !slices.Equal(got, []string{"u1", "u2", "u3"}) {
		t.Fatalf("presence = %v", got)
	}
	if got := userIDs(a.Online()); !slices.Equal(got, []string{"u2", "u3"}) {
		t.Fatalf("online = %v", got)
	}
}

func TestAggregator_TypingScopedToActiveChannel(t *testing.T) {
	a := NewAggregator("me", time.Hour, nil)
	defer a.Close()
	a.SetActiveChannel("general")

	a.ApplyTyping(models.TypingEvent{ChannelID: "general", UserID: "u1", UserName: "Ann", IsTyping: true})
	a.ApplyTyping(models.TypingEvent{ChannelID: "random", UserID: "u2", UserName: "Bo", IsTyping: true})
	a.ApplyTyping(models.TypingEvent{ChannelID: "general", UserID: "me", UserName: "Me", IsTyping: true})
	a.ApplyTyping(models.TypingEvent{ChannelID: "general", UserID: "u3", UserName: "Cy", IsTyping: true})

	if got := a.TypingNames(); !slices.Equal(got, []string{"Ann", "Cy"}) {
		t.Fatalf("typing = %v", got)
	}

	a.ApplyTyping(models.TypingEvent{ChannelID: "general", UserID: "u1", IsTyping: false})
	if got := a.TypingNames(); !slices.Equal(got, []string{"Cy"}) {
		t.Fatalf("typing after stop = %v", got)
	}

	a.SetActiveChannel("random")
	if got := a.TypingNames(); len(got) != 0 {
		t.Fatalf("typing after switch = %v", got)
	}
}

func TestAggregator_RepeatedStartKeepsOrder(t *testing.T) {
	a := NewAggregator("me", time.Hour, nil)
	defer a.Close()
	a.SetActiveChannel("general")

	a.ApplyTyping(models.TypingEvent{ChannelID: "general", UserID: "u1", UserName: "Ann", IsTyping: true})
	a.ApplyTyping(models.TypingEvent{ChannelID: "general", UserID: "u2", UserName: "Bo", IsTyping: true})
	if changed := a.ApplyTyping(models.TypingEvent{ChannelID: "general", UserID: "u1", UserName: "Ann", IsTyping: true}); changed {
		t.Fatal("repeated start should not count as a change")
	}
	if got := a.TypingNames(); !slices.Equal(got, []string{"Ann", "Bo"}) {
		t.Fatalf("typing = %v", got)
	}
}

func TestAggregator_TypingExpires(t *testing.T) {
	a := NewAggregator("me", 50*time.Millisecond, nil)
	defer a.Close()
	a.SetActiveChannel("general")

	var changes atomic.Int32
	a.Subscribe(func(k ChangeKind) {
		if k == TypingChanged {
			changes.Add(1)
		}
	})

	a.ApplyTyping(models.TypingEvent{ChannelID: "general", UserID: "u1", UserName: "Ann", IsTyping: true})
	time.Sleep(30 * time.Millisecond)
	a.ApplyTyping(models.TypingEvent{ChannelID: "general", UserID: "u1", UserName: "Ann", IsTyping: true})
	time.Sleep(30 * time.Millisecond)
	if got := a.TypingNames(); len(got) != 1 {
		t.Fatalf("refreshed entry expired early: %v", got)
	}

	time.Sleep(100 * time.Millisecond)
	if got := a.TypingNames(); len(got) != 0 {
		t.Fatalf("typing = %v, want expired", got)
	}
	if got := changes.Load(); got != 2 {
		t.Fatalf("typing changes = %d, want 2 (start, expiry)", got)
	}
}

type fakeSnapshotter struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSnapshotter) Presence(context.Context) ([]models.Presence, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []models.Presence{online("u9", "Polled")}, nil
}

func TestAggregator_PollOnlyWhileDisconnected(t *testing.T) {
	a := NewAggregator("me", 0, nil)
	src := &fakeSnapshotter{}

	var connected atomic.Bool
	connected.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Poll(ctx, connected.Load, src, 10*time.Millisecond) }()

	time.Sleep(50 * time.Millisecond)
	if got := src.calls.Load(); got != 0 {
		t.Fatalf("polled %d times while connected", got)
	}

	connected.Store(false)
	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Poll returned %v", err)
	}

	if src.calls.Load() == 0 {
		t.Fatal("never polled while disconnected")
	}
	if got := userIDs(a.Presence()); !slices.Equal(got, []string{"u9"}) {
		t.Fatalf("presence = %v", got)
	}
}

func TestAggregator_PollErrorKeepsSnapshot(t *testing.T) {
	a := NewAggregator("me", 0, nil)
	a.ReplaceSnapshot([]models.Presence{online("u1", "Ann")})
	src := &fakeSnapshotter{err: errors.New("down")}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = a.Poll(ctx, func() bool { return false }, src, 5*time.Millisecond)

	if got := userIDs(a.Presence()); !slices.Equal(got, []string{"u1"}) {
		t.Fatalf("presence = %v", got)
	}
}
