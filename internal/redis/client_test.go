package redis

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/victorivanov/commsync/internal/models"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewClient("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("creating test redis client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestPresence_SetGetList(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	for _, p := range []models.Presence{
		{UserID: "u2", UserName: "Bo", Status: models.StatusAway},
		{UserID: "u1", UserName: "Ann", Status: models.StatusOnline},
	} {
		if err := c.SetPresence(ctx, p); err != nil {
			t.Fatalf("SetPresence: %v", err)
		}
	}

	got, err := c.GetPresence(ctx, "u2")
	if err != nil || got == nil || got.Status != models.StatusAway {
		t.Fatalf("GetPresence = %+v, %v", got, err)
	}

	list, err := c.ListPresence(ctx)
	if err != nil {
		t.Fatalf("ListPresence: %v", err)
	}
	if len(list) != 2 || list[0].UserName != "Ann" || list[1].UserName != "Bo" {
		t.Fatalf("list = %+v", list)
	}

	missing, err := c.GetPresence(ctx, "nobody")
	if err != nil || missing != nil {
		t.Fatalf("GetPresence(nobody) = %+v, %v", missing, err)
	}
}

func TestPresence_ExpiredRecordsPruned(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	_ = c.SetPresence(ctx, models.Presence{UserID: "u1", UserName: "Ann", Status: models.StatusOnline})
	mr.FastForward(presenceTTL + time.Second)
	_ = c.SetPresence(ctx, models.Presence{UserID: "u2", UserName: "Bo", Status: models.StatusOnline})

	list, err := c.ListPresence(ctx)
	if err != nil {
		t.Fatalf("ListPresence: %v", err)
	}
	if len(list) != 1 || list[0].UserID != "u2" {
		t.Fatalf("list = %+v", list)
	}
	if ok, _ := mr.SIsMember(presenceSet, "u1"); ok {
		t.Fatal("expired id still indexed")
	}
}

func TestPresence_Delete(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_ = c.SetPresence(ctx, models.Presence{UserID: "u1", Status: models.StatusOnline})
	if err := c.DeletePresence(ctx, "u1"); err != nil {
		t.Fatalf("DeletePresence: %v", err)
	}
	list, _ := c.ListPresence(ctx)
	if len(list) != 0 {
		t.Fatalf("list = %+v", list)
	}
}

func TestTyping(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	_ = c.SetTyping(ctx, "general", "u2")
	_ = c.SetTyping(ctx, "general", "u1")
	_ = c.SetTyping(ctx, "random", "u3")

	got, err := c.GetTyping(ctx, "general")
	if err != nil {
		t.Fatalf("GetTyping: %v", err)
	}
	if !slices.Equal(got, []string{"u1", "u2"}) {
		t.Fatalf("typing = %v", got)
	}

	_ = c.ClearTyping(ctx, "general", "u1")
	mr.FastForward(typingTTL + time.Second)
	got, _ = c.GetTyping(ctx, "general")
	if len(got) != 0 {
		t.Fatalf("typing after clear and expiry = %v", got)
	}
}

func TestCheckRateLimit(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := c.CheckRateLimit(ctx, "rl:u1", 3, time.Second)
		if err != nil || !ok {
			t.Fatalf("request %d: ok = %v err = %v", i, ok, err)
		}
	}
	if ok, _ := c.CheckRateLimit(ctx, "rl:u1", 3, time.Second); ok {
		t.Fatal("fourth request should be limited")
	}

	mr.FastForward(2 * time.Second)
	if ok, _ := c.CheckRateLimit(ctx, "rl:u1", 3, time.Second); !ok {
		t.Fatal("window should have reset")
	}
}
