package actions

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/victorivanov/commsync/internal/models"
	"github.com/victorivanov/commsync/internal/session"
	"github.com/victorivanov/commsync/internal/store"
	"github.com/victorivanov/commsync/internal/transport"
	"github.com/victorivanov/commsync/internal/transport/transporttest"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	push  *transporttest.Push
	api   *transporttest.Fallback
	store *store.Store
	mgr   *session.Manager
	coord *Coordinator
}

// newFixture builds a coordinator with "general" selected.
func newFixture(t *testing.T, connected bool, seed ...models.Message) *fixture {
	t.Helper()
	f := &fixture{
		push:  transporttest.NewPush(connected),
		api:   &transporttest.Fallback{},
		store: store.New(),
	}
	client := transport.NewClient(f.push, f.api, nil, nil)
	f.mgr = session.NewManager(client, f.store, session.Options{})
	f.coord = NewCoordinator(client, f.mgr, NewComposer(), nil)

	f.api.HistoryFn = func(_ context.Context, channelID string, _ transport.HistoryQuery) ([]models.Message, error) {
		if channelID == "general" {
			return seed, nil
		}
		return nil, nil
	}
	if err := f.mgr.Select(context.Background(), "general"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	return f
}

func message(id, content string, offset time.Duration) models.Message {
	return models.Message{ID: id, ChannelID: "general", AuthorID: "u1", Content: content, CreatedAt: t0.Add(offset)}
}

func ids(messages []models.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}

// ---------------------------------------------------------------------------
// Send
// ---------------------------------------------------------------------------

func TestSubmit_DisconnectedClearsInputBeforeFallback(t *testing.T) {
	f := newFixture(t, false)

	called := make(chan struct{})
	release := make(chan struct{})
	f.api.CreateMessageFn = func(_ context.Context, channelID string, in transport.NewMessage) (*models.Message, error) {
		close(called)
		<-release
		m := message("99", in.Content, time.Second)
		return &m, nil
	}

	f.coord.Composer().SetInput("hello")
	errc := make(chan error, 1)
	go func() { errc <- f.coord.Submit(context.Background()) }()

	<-called
	if got := f.coord.Composer().Input(); got != "" {
		t.Fatalf("input = %q while fallback in flight, want cleared", got)
	}
	close(release)

	if err := <-errc; err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := ids(f.store.Snapshot()); !slices.Equal(got, []string{"99"}) {
		t.Fatalf("snapshot = %v", got)
	}

	// A pushed echo of the same record does not duplicate it.
	f.store.Reconcile(message("99", "hello", time.Second))
	if f.store.Len() != 1 {
		t.Fatalf("store len = %d after echo, want 1", f.store.Len())
	}
	if len(f.push.Requests()) != 0 {
		t.Fatal("push used while disconnected")
	}
}

func TestSend_AckRecordReconciled(t *testing.T) {
	f := newFixture(t, true)
	f.push.RequestFn = func(_ context.Context, event string, payload any) (transport.Ack, error) {
		p := payload.(transport.SendPayload)
		return transporttest.AckMessage(message("42", p.Content, time.Second)), nil
	}

	got, err := f.coord.Send(context.Background(), "general", Draft{Content: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.ID != "42" {
		t.Fatalf("record = %+v", got)
	}
	if stored, ok := f.store.Get("42"); !ok || stored.Content != "hi" {
		t.Fatalf("stored = %+v %v", stored, ok)
	}
	if f.api.Calls("CreateMessage") != 0 {
		t.Fatal("fallback used after successful ack")
	}
}

func TestSend_RejectedAckFallsBackOnce(t *testing.T) {
	f := newFixture(t, true)
	f.push.RequestFn = func(context.Context, string, any) (transport.Ack, error) {
		return transport.Ack{Success: false}, nil
	}
	f.api.CreateMessageFn = func(_ context.Context, _ string, in transport.NewMessage) (*models.Message, error) {
		m := message("7", in.Content, 0)
		return &m, nil
	}

	if _, err := f.coord.Send(context.Background(), "general", Draft{Content: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := f.api.Calls("CreateMessage"); got != 1 {
		t.Fatalf("CreateMessage called %d times, want 1", got)
	}
	if f.store.Len() != 1 {
		t.Fatalf("store len = %d", f.store.Len())
	}
}

func TestSend_DoubleFailureDrops(t *testing.T) {
	f := newFixture(t, true, message("1", "a", 0))
	f.push.RequestFn = func(context.Context, string, any) (transport.Ack, error) {
		return transport.Ack{}, transport.ErrAckTimeout
	}
	f.api.CreateMessageFn = func(context.Context, string, transport.NewMessage) (*models.Message, error) {
		return nil, &transport.APIError{Status: 503, Message: "unavailable"}
	}

	_, err := f.coord.Send(context.Background(), "general", Draft{Content: "lost"})
	if !errors.Is(err, ErrDropped) {
		t.Fatalf("err = %v, want ErrDropped", err)
	}
	if got := ids(f.store.Snapshot()); !slices.Equal(got, []string{"1"}) {
		t.Fatalf("snapshot = %v, store should be untouched", got)
	}
}

func TestSend_StaleChannelDiscarded(t *testing.T) {
	f := newFixture(t, true)

	requested := make(chan struct{})
	release := make(chan struct{})
	f.push.RequestFn = func(context.Context, string, any) (transport.Ack, error) {
		close(requested)
		<-release
		return transporttest.AckMessage(message("late", "x", 0)), nil
	}

	errc := make(chan error, 1)
	go func() {
		_, err := f.coord.Send(context.Background(), "general", Draft{Content: "x"})
		errc <- err
	}()
	<-requested

	if err := f.mgr.Select(context.Background(), "random"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	close(release)

	if err := <-errc; !errors.Is(err, session.ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
	if f.store.Len() != 0 {
		t.Fatalf("stale record leaked into %q", f.mgr.Active())
	}
}

func TestSubmit_ReplySetsThreadParent(t *testing.T) {
	parent := message("p", "parent", 0)
	f := newFixture(t, false, parent)

	var got transport.NewMessage
	f.api.CreateMessageFn = func(_ context.Context, _ string, in transport.NewMessage) (*models.Message, error) {
		got = in
		m := message("r", in.Content, time.Second)
		m.ThreadParentID = in.ThreadParentID
		return &m, nil
	}

	f.coord.Composer().ReplyTo(parent)
	f.coord.Composer().SetInput("  answer  ")
	if err := f.coord.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.Content != "answer" || got.ThreadParentID == nil || *got.ThreadParentID != "p" {
		t.Fatalf("create body = %+v", got)
	}
	if reply, _ := f.coord.Composer().Context(); reply != nil {
		t.Fatal("reply context not cleared")
	}
}

func TestSubmit_EmptyInput(t *testing.T) {
	f := newFixture(t, false)
	f.coord.Composer().SetInput("   ")

	if err := f.coord.Submit(context.Background()); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
	if f.api.Calls("CreateMessage") != 0 {
		t.Fatal("empty input was sent")
	}
}

// ---------------------------------------------------------------------------
// Edit, delete, react, pin
// ---------------------------------------------------------------------------

func TestSubmit_EditReplacesRecord(t *testing.T) {
	orig := message("1", "typo", 0)
	orig.Reactions = []models.Reaction{{Emoji: "👍", Users: []models.ReactionUser{{ID: "u2"}}}}
	f := newFixture(t, true, orig)

	f.push.RequestFn = func(_ context.Context, event string, payload any) (transport.Ack, error) {
		if event != transport.ActionMessageUpdate {
			t.Errorf("event = %q", event)
		}
		p := payload.(transport.UpdatePayload)
		edited := message(p.ID, p.Content, 0)
		now := t0.Add(time.Minute)
		edited.EditedAt = &now
		return transporttest.AckMessage(edited), nil
	}

	f.coord.Composer().Edit(orig)
	if got := f.coord.Composer().Input(); got != "typo" {
		t.Fatalf("input = %q, want original content", got)
	}
	f.coord.Composer().SetInput("fixed")
	if err := f.coord.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got, _ := f.store.Get("1")
	if got.Content != "fixed" || got.EditedAt == nil {
		t.Fatalf("stored = %+v", got)
	}
	if len(got.Reactions) != 0 {
		t.Fatal("edit should replace the whole record, not merge fields")
	}
	if f.store.Len() != 1 {
		t.Fatalf("store len = %d", f.store.Len())
	}
}

func TestDelete_RemovesByRef(t *testing.T) {
	f := newFixture(t, false, message("1", "a", 0), message("2", "b", time.Second))
	f.api.DeleteMessageFn = func(_ context.Context, id string) (*models.MessageRef, error) {
		return &models.MessageRef{ID: id, ChannelID: "general"}, nil
	}

	if _, err := f.coord.Delete(context.Background(), "1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := ids(f.store.Snapshot()); !slices.Equal(got, []string{"2"}) {
		t.Fatalf("snapshot = %v", got)
	}

	// Deleting again is tolerated by the store.
	if _, err := f.coord.Delete(context.Background(), "1"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestDelete_RefWithoutChannel(t *testing.T) {
	f := newFixture(t, true, message("1", "a", 0))
	f.push.RequestFn = func(context.Context, string, any) (transport.Ack, error) {
		return transporttest.AckMessage(map[string]string{"id": "1"}), nil
	}

	if _, err := f.coord.Delete(context.Background(), "1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if f.store.Len() != 0 {
		t.Fatalf("store len = %d", f.store.Len())
	}
}

func TestReact_ReconcilesServerRecord(t *testing.T) {
	f := newFixture(t, true, message("1", "a", 0))
	f.push.RequestFn = func(_ context.Context, _ string, payload any) (transport.Ack, error) {
		p := payload.(transport.ReactPayload)
		m := message(p.MessageID, "a", 0)
		m.Reactions = []models.Reaction{{Emoji: p.Emoji, Users: []models.ReactionUser{{ID: "u1", Name: "me"}}}}
		return transporttest.AckMessage(m), nil
	}

	if _, err := f.coord.React(context.Background(), "1", "🎉"); err != nil {
		t.Fatalf("React: %v", err)
	}
	got, _ := f.store.Get("1")
	r, ok := got.Reaction("🎉")
	if !ok || !r.Has("u1") {
		t.Fatalf("reactions = %+v", got.Reactions)
	}
}

func TestTogglePin_FlipsCurrentState(t *testing.T) {
	pinned := message("1", "a", 0)
	pinned.IsPinned = true
	f := newFixture(t, false, pinned)

	var sent []bool
	f.api.SetPinnedFn = func(_ context.Context, id string, p bool) (*models.Message, error) {
		sent = append(sent, p)
		m := message(id, "a", 0)
		m.IsPinned = p
		return &m, nil
	}

	if _, err := f.coord.TogglePin(context.Background(), "1"); err != nil {
		t.Fatalf("TogglePin: %v", err)
	}
	if _, err := f.coord.TogglePin(context.Background(), "1"); err != nil {
		t.Fatalf("TogglePin: %v", err)
	}
	if !slices.Equal(sent, []bool{false, true}) {
		t.Fatalf("sent = %v", sent)
	}
}

func TestTogglePin_UnknownMessage(t *testing.T) {
	f := newFixture(t, false)
	if _, err := f.coord.TogglePin(context.Background(), "nope"); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("err = %v, want ErrUnknownMessage", err)
	}
}
