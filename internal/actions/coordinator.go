// Package actions runs user-initiated message mutations transport-first with
// an API fallback and reconciles the confirmed records into the store.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/victorivanov/commsync/internal/models"
	"github.com/victorivanov/commsync/internal/session"
	"github.com/victorivanov/commsync/internal/store"
	"github.com/victorivanov/commsync/internal/transport"
)

var (
	ErrDropped        = errors.New("action dropped")
	ErrEmptyMessage   = errors.New("nothing to send")
	ErrUnknownMessage = errors.New("message not loaded")
)

// Target is where confirmed records land. *session.Manager implements it.
type Target interface {
	Active() string
	ApplyIfActive(channelID string, fn func(*store.Store)) bool
	Apply(fn func(*store.Store)) bool
	Message(id string) (models.Message, bool)
}

// Draft is a new message.
type Draft struct {
	Content        string
	ThreadParentID *string
	Attachments    []models.Attachment
	Metadata       models.Metadata
}

// Coordinator executes send, edit, delete, react and pin. Nothing is put in
// the store before the server confirms it; a confirmed record always
// replaces whatever the store held for that id.
type Coordinator struct {
	client   *transport.Client
	target   Target
	composer *Composer
	log      *slog.Logger
}

// NewCoordinator creates a Coordinator. composer may be nil if Submit is not
// used.
func NewCoordinator(client *transport.Client, target Target, composer *Composer, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if composer == nil {
		composer = NewComposer()
	}
	return &Coordinator{
		client:   client,
		target:   target,
		composer: composer,
		log:      log.With("component", "actions"),
	}
}

// Composer returns the input state Submit reads from.
func (c *Coordinator) Composer() *Composer {
	return c.composer
}

// Submit sends or edits from the composer. The composer is cleared before
// any network call so the input empties whatever the outcome.
func (c *Coordinator) Submit(ctx context.Context) error {
	channelID := c.target.Active()
	if channelID == "" {
		return session.ErrNoChannel
	}
	p, ok := c.composer.Take()
	if !ok {
		return ErrEmptyMessage
	}

	if p.EditingID != "" {
		_, err := c.Edit(ctx, p.EditingID, p.Content)
		return err
	}
	_, err := c.Send(ctx, channelID, Draft{
		Content:        p.Content,
		ThreadParentID: p.ReplyTo,
		Attachments:    p.Attachments,
		Metadata:       p.Metadata,
	})
	return err
}

// Send creates a message in channelID.
func (c *Coordinator) Send(ctx context.Context, channelID string, d Draft) (*models.Message, error) {
	payload := transport.SendPayload{
		ChannelID:      channelID,
		Content:        d.Content,
		ThreadParentID: d.ThreadParentID,
		Attachments:    d.Attachments,
		Metadata:       d.Metadata,
	}
	res, err := transport.Do(ctx, c.client, transport.ActionMessageSend, payload, func(ctx context.Context, api transport.Fallback) (*models.Message, error) {
		return api.CreateMessage(ctx, channelID, transport.NewMessage{
			Content:        d.Content,
			ThreadParentID: d.ThreadParentID,
			Attachments:    d.Attachments,
			Metadata:       d.Metadata,
		})
	})
	if err != nil {
		return nil, c.dropped(transport.ActionMessageSend, err)
	}
	return c.reconcile(res, channelID)
}

// Edit replaces a message's content.
func (c *Coordinator) Edit(ctx context.Context, messageID, content string) (*models.Message, error) {
	payload := transport.UpdatePayload{ID: messageID, Content: content}
	res, err := transport.Do(ctx, c.client, transport.ActionMessageUpdate, payload, func(ctx context.Context, api transport.Fallback) (*models.Message, error) {
		return api.UpdateMessage(ctx, messageID, content)
	})
	if err != nil {
		return nil, c.dropped(transport.ActionMessageUpdate, err)
	}
	return c.reconcile(res, "")
}

// Delete removes a message.
func (c *Coordinator) Delete(ctx context.Context, messageID string) (*models.MessageRef, error) {
	payload := transport.MessageIDPayload{MessageID: messageID}
	res, err := transport.Do(ctx, c.client, transport.ActionMessageDelete, payload, func(ctx context.Context, api transport.Fallback) (*models.MessageRef, error) {
		return api.DeleteMessage(ctx, messageID)
	})
	if err != nil {
		return nil, c.dropped(transport.ActionMessageDelete, err)
	}

	ref := res.Record
	if ref.ID == "" {
		ref.ID = messageID
	}
	remove := func(s *store.Store) { s.Remove(ref.ID) }
	if ref.ChannelID == "" {
		c.target.Apply(remove)
		return ref, nil
	}
	if !c.target.ApplyIfActive(ref.ChannelID, remove) {
		return ref, fmt.Errorf("delete %s: %w", ref.ID, session.ErrStale)
	}
	return ref, nil
}

// React toggles the local user's emoji reaction on a message.
func (c *Coordinator) React(ctx context.Context, messageID, emoji string) (*models.Message, error) {
	payload := transport.ReactPayload{MessageID: messageID, Emoji: emoji}
	res, err := transport.Do(ctx, c.client, transport.ActionMessageReact, payload, func(ctx context.Context, api transport.Fallback) (*models.Message, error) {
		return api.ToggleReaction(ctx, messageID, emoji)
	})
	if err != nil {
		return nil, c.dropped(transport.ActionMessageReact, err)
	}
	return c.reconcile(res, "")
}

// TogglePin flips the pinned flag of a loaded message.
func (c *Coordinator) TogglePin(ctx context.Context, messageID string) (*models.Message, error) {
	current, ok := c.target.Message(messageID)
	if !ok {
		return nil, fmt.Errorf("pin %s: %w", messageID, ErrUnknownMessage)
	}
	return c.SetPinned(ctx, messageID, !current.IsPinned)
}

// SetPinned pins or unpins a message.
func (c *Coordinator) SetPinned(ctx context.Context, messageID string, pinned bool) (*models.Message, error) {
	payload := transport.PinPayload{MessageID: messageID, IsPinned: pinned}
	res, err := transport.Do(ctx, c.client, transport.ActionMessagePin, payload, func(ctx context.Context, api transport.Fallback) (*models.Message, error) {
		return api.SetPinned(ctx, messageID, pinned)
	})
	if err != nil {
		return nil, c.dropped(transport.ActionMessagePin, err)
	}
	return c.reconcile(res, "")
}

// reconcile merges a confirmed record if its channel is still active.
// fallbackChannel is used when the record does not name its channel.
func (c *Coordinator) reconcile(res transport.Result[models.Message], fallbackChannel string) (*models.Message, error) {
	rec := res.Record
	channelID := rec.ChannelID
	if channelID == "" {
		channelID = fallbackChannel
	}
	if channelID == "" {
		channelID = c.target.Active()
	}
	if rec.ChannelID == "" {
		rec.ChannelID = channelID
	}

	applied := c.target.ApplyIfActive(channelID, func(s *store.Store) {
		s.Reconcile(*rec)
	})
	if !applied {
		return rec, fmt.Errorf("message %s: %w", rec.ID, session.ErrStale)
	}
	c.log.Debug("action confirmed", "message", rec.ID, "via", res.Via)
	return rec, nil
}

func (c *Coordinator) dropped(action string, err error) error {
	if !errors.Is(err, context.Canceled) {
		c.log.Warn("action dropped", "action", action, "error", err)
	}
	return fmt.Errorf("%w: %w", ErrDropped, err)
}
