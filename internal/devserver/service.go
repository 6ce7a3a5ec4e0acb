package devserver

import (
	"context"
	"log/slog"
	"time"

	"github.com/victorivanov/commsync/internal/models"
	"github.com/victorivanov/commsync/internal/redis"
	"github.com/victorivanov/commsync/internal/transport"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	sendLimit           = 20
	sendWindow          = 10 * time.Second
)

// Service applies actions to the state and fans the results out to
// connections. Push actions and fallback routes both go through it, so the
// two paths behave the same.
type Service struct {
	state *State
	hub   *Hub
	redis *redis.Client
	log   *slog.Logger
}

// Channels returns the directory with live member counts.
func (s *Service) Channels() []models.ChannelSummary {
	channels := s.state.Channels()
	for i := range channels {
		channels[i].Members = s.hub.RoomSize(channels[i].ID)
	}
	return channels
}

// History returns a page of channelID's messages. limit is clamped to
// [1, maxHistoryLimit], with zero meaning the default.
func (s *Service) History(channelID string, before time.Time, limit int) ([]models.Message, error) {
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	return s.state.History(channelID, before, limit)
}

// Send creates a message and broadcasts it to the channel, sender included.
func (s *Service) Send(ctx context.Context, user User, channelID string, in transport.NewMessage) (models.Message, error) {
	allowed, err := s.redis.CheckRateLimit(ctx, "rl:send:"+user.ID, sendLimit, sendWindow)
	if err != nil {
		// On Redis failure, allow the request through rather than blocking users.
		s.log.Warn("rate limit check failed", "userID", user.ID, "error", err)
	} else if !allowed {
		return models.Message{}, rateLimited()
	}

	msg, parent, err := s.state.Create(channelID, user, in)
	if err != nil {
		return models.Message{}, err
	}

	s.hub.DispatchToChannel(channelID, transport.EventMessageNew, msg)
	if parent != nil {
		s.hub.DispatchToChannel(channelID, transport.EventMessageUpdated, parent)
	}
	s.clearTyping(ctx, user, channelID)
	return msg, nil
}

// Edit replaces a message's content.
func (s *Service) Edit(user User, messageID, content string) (models.Message, error) {
	msg, err := s.state.Update(messageID, user, content)
	if err != nil {
		return models.Message{}, err
	}
	s.hub.DispatchToChannel(msg.ChannelID, transport.EventMessageUpdated, msg)
	return msg, nil
}

// Delete removes a message.
func (s *Service) Delete(user User, messageID string) (models.MessageRef, error) {
	ref, parent, err := s.state.Delete(messageID, user)
	if err != nil {
		return models.MessageRef{}, err
	}
	s.hub.DispatchToChannel(ref.ChannelID, transport.EventMessageDeleted, ref)
	if parent != nil {
		s.hub.DispatchToChannel(ref.ChannelID, transport.EventMessageUpdated, parent)
	}
	return ref, nil
}

// React toggles the user's reaction with emoji.
func (s *Service) React(user User, messageID, emoji string) (models.Message, error) {
	msg, err := s.state.ToggleReaction(messageID, user, emoji)
	if err != nil {
		return models.Message{}, err
	}
	s.hub.DispatchToChannel(msg.ChannelID, transport.EventMessageUpdated, msg)
	return msg, nil
}

// Pin sets a message's pinned flag.
func (s *Service) Pin(messageID string, pinned bool) (models.Message, error) {
	msg, err := s.state.SetPinned(messageID, pinned)
	if err != nil {
		return models.Message{}, err
	}
	s.hub.DispatchToChannel(msg.ChannelID, transport.EventMessageUpdated, msg)
	return msg, nil
}

// Typing records the typing marker and relays it to the rest of the channel.
func (s *Service) Typing(ctx context.Context, user User, channelID string, typing bool) error {
	if !s.state.HasChannel(channelID) {
		return notFound("UNKNOWN_CHANNEL", "channel not found")
	}
	if typing {
		if err := s.redis.SetTyping(ctx, channelID, user.ID); err != nil {
			s.log.Error("failed to set typing", "userID", user.ID, "error", err)
		}
	} else if err := s.redis.ClearTyping(ctx, channelID, user.ID); err != nil {
		s.log.Error("failed to clear typing", "userID", user.ID, "error", err)
	}

	s.hub.DispatchToChannelExcept(channelID, user.ID, transport.EventUserTyping, models.TypingEvent{
		ChannelID: channelID,
		UserID:    user.ID,
		UserName:  user.Name,
		IsTyping:  typing,
	})
	return nil
}

func (s *Service) clearTyping(ctx context.Context, user User, channelID string) {
	typing, err := s.redis.GetTyping(ctx, channelID)
	if err != nil {
		return
	}
	for _, id := range typing {
		if id == user.ID {
			_ = s.Typing(ctx, user, channelID, false)
			return
		}
	}
}

// Presence returns every known presence record.
func (s *Service) Presence(ctx context.Context) ([]models.Presence, error) {
	records, err := s.redis.ListPresence(ctx)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []models.Presence{}
	}
	return records, nil
}

// SetStatus stores a user's status and pushes the delta to everyone.
func (s *Service) SetStatus(ctx context.Context, c *Connection, status models.PresenceStatus) (models.Presence, error) {
	if !status.Valid() {
		return models.Presence{}, badRequest("INVALID_STATUS", "status must be online, away, busy or offline")
	}
	c.status.Store(status)

	p := s.record(c.User, status)
	if err := s.redis.SetPresence(ctx, p); err != nil {
		return models.Presence{}, err
	}
	s.hub.DispatchToAll(transport.EventPresenceUpdate, p)
	return p, nil
}

// StartCall invites the rest of the channel to a call.
func (s *Service) StartCall(user User, channelID string, callType models.CallType) error {
	if !s.state.HasChannel(channelID) {
		return notFound("UNKNOWN_CHANNEL", "channel not found")
	}
	if callType != models.CallAudio && callType != models.CallVideo {
		return badRequest("INVALID_CALL_TYPE", "call type must be audio or video")
	}
	s.hub.DispatchToChannelExcept(channelID, user.ID, transport.EventCallIncoming, models.CallInvite{
		ChannelID: channelID,
		Type:      callType,
		From:      models.CallParty{ID: user.ID, Name: user.Name},
		StartedAt: time.Now().UTC(),
	})
	return nil
}

// EndCall tells the rest of the channel the call is over.
func (s *Service) EndCall(user User, channelID string) error {
	if !s.state.HasChannel(channelID) {
		return notFound("UNKNOWN_CHANNEL", "channel not found")
	}
	s.hub.DispatchToChannelExcept(channelID, user.ID, transport.EventCallEnded, models.CallEnded{
		ChannelID: channelID,
		EndedBy:   user.ID,
	})
	return nil
}

// connected marks a new connection online and pushes the snapshot.
func (s *Service) connected(ctx context.Context, c *Connection) {
	if err := s.redis.SetPresence(ctx, s.record(c.User, c.Status())); err != nil {
		s.log.Error("failed to set presence", "userID", c.User.ID, "error", err)
	}
	s.broadcastSnapshot(ctx)
}

// disconnected marks a user offline and pushes the snapshot.
func (s *Service) disconnected(ctx context.Context, user User) {
	if err := s.redis.SetPresence(ctx, s.record(user, models.StatusOffline)); err != nil {
		s.log.Error("failed to clear presence", "userID", user.ID, "error", err)
	}
	s.broadcastSnapshot(ctx)
}

// touch refreshes a live connection's presence TTL.
func (s *Service) touch(ctx context.Context, c *Connection) {
	if err := s.redis.SetPresence(ctx, s.record(c.User, c.Status())); err != nil {
		s.log.Debug("failed to refresh presence", "userID", c.User.ID, "error", err)
	}
}

func (s *Service) broadcastSnapshot(ctx context.Context) {
	records, err := s.Presence(ctx)
	if err != nil {
		s.log.Error("failed to list presence", "error", err)
		return
	}
	s.hub.DispatchToAll(transport.EventPresence, records)
}

func (s *Service) record(user User, status models.PresenceStatus) models.Presence {
	return models.Presence{
		UserID:     user.ID,
		UserName:   user.Name,
		Status:     status,
		LastActive: time.Now().UTC(),
	}
}
