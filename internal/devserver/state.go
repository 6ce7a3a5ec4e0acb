package devserver

import (
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/victorivanov/commsync/internal/models"
	"github.com/victorivanov/commsync/internal/snowflake"
	"github.com/victorivanov/commsync/internal/transport"
)

const maxContentLength = 4000

// User is the authenticated caller of an action.
type User struct {
	ID   string
	Name string
}

// DefaultChannels is the directory a fresh dev server starts with.
func DefaultChannels() []models.ChannelSummary {
	return []models.ChannelSummary{
		{ID: "general", Name: "general", Slug: "general", Type: models.ChannelTypeChannel},
		{ID: "random", Name: "random", Slug: "random", Type: models.ChannelTypeChannel},
		{ID: "engineering", Name: "engineering", Slug: "engineering", Type: models.ChannelTypeChannel},
	}
}

// State holds channels and their messages in memory.
type State struct {
	mu       sync.RWMutex
	ids      *snowflake.Generator
	channels []models.ChannelSummary
	messages map[string][]models.Message // channelID → ordered by createdAt
	index    map[string]string           // messageID → channelID
	now      func() time.Time
}

// NewState creates a State with the given channel directory.
func NewState(ids *snowflake.Generator, channels []models.ChannelSummary) *State {
	s := &State{
		ids:      ids,
		channels: slices.Clone(channels),
		messages: make(map[string][]models.Message, len(channels)),
		index:    make(map[string]string),
		now:      time.Now,
	}
	for _, ch := range channels {
		s.messages[ch.ID] = nil
	}
	return s
}

// HasChannel reports whether channelID is in the directory.
func (s *State) HasChannel(channelID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.messages[channelID]
	return ok
}

// Channels returns the directory with each channel's latest message filled in.
func (s *State) Channels() []models.ChannelSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ChannelSummary, len(s.channels))
	for i, ch := range s.channels {
		if msgs := s.messages[ch.ID]; len(msgs) > 0 {
			last := msgs[len(msgs)-1].Clone()
			ch.LastMessage = &last
		}
		out[i] = ch
	}
	return out
}

// History returns up to limit messages older than before (all when before is
// zero), oldest first.
func (s *State) History(channelID string, before time.Time, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs, ok := s.messages[channelID]
	if !ok {
		return nil, notFound("UNKNOWN_CHANNEL", "channel not found")
	}

	end := len(msgs)
	if !before.IsZero() {
		end, _ = slices.BinarySearchFunc(msgs, before, func(m models.Message, t time.Time) int {
			return m.CreatedAt.Compare(t)
		})
	}
	start := max(0, end-limit)

	out := make([]models.Message, 0, end-start)
	for _, m := range msgs[start:end] {
		out = append(out, m.Clone())
	}
	return out, nil
}

// Get returns a message by id.
func (s *State) Get(messageID string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, msgs := s.locateLocked(messageID)
	if i < 0 {
		return models.Message{}, false
	}
	return msgs[i].Clone(), true
}

// Create appends a message to channelID. When the message replies to a
// parent, the parent's updated record is returned too.
func (s *State) Create(channelID string, author User, in transport.NewMessage) (models.Message, *models.Message, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" && len(in.Attachments) == 0 {
		return models.Message{}, nil, badRequest("EMPTY_MESSAGE", "message must have content or attachments")
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return models.Message{}, nil, badRequest("INVALID_CONTENT", "message content is too long")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[channelID]; !ok {
		return models.Message{}, nil, notFound("UNKNOWN_CHANNEL", "channel not found")
	}

	var parent *models.Message
	if in.ThreadParentID != nil && *in.ThreadParentID != "" {
		i, msgs := s.locateLocked(*in.ThreadParentID)
		if i < 0 || msgs[i].ChannelID != channelID {
			return models.Message{}, nil, notFound("UNKNOWN_PARENT", "thread parent not found")
		}
		msgs[i].ThreadCount++
		p := msgs[i].Clone()
		parent = &p
	}

	now := s.now().UTC()
	msg := models.Message{
		ID:          s.ids.Next(),
		ChannelID:   channelID,
		AuthorID:    author.ID,
		AuthorName:  author.Name,
		Content:     content,
		CreatedAt:   now,
		UpdatedAt:   now,
		Reactions:   []models.Reaction{},
		Attachments: append([]models.Attachment{}, in.Attachments...),
		Metadata:    in.Metadata,
	}
	if parent != nil {
		id := parent.ID
		msg.ThreadParentID = &id
	}

	s.messages[channelID] = append(s.messages[channelID], msg)
	s.index[msg.ID] = channelID
	return msg.Clone(), parent, nil
}

// Update replaces a message's content. Only the author may edit.
func (s *State) Update(messageID string, user User, content string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, badRequest("EMPTY_MESSAGE", "message content must not be empty")
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return models.Message{}, badRequest("INVALID_CONTENT", "message content is too long")
	}

	return s.mutate(messageID, func(m *models.Message) error {
		if m.AuthorID != user.ID {
			return forbidden("NOT_AUTHOR", "only the author can edit a message")
		}
		now := s.now().UTC()
		m.Content = content
		m.EditedAt = &now
		m.UpdatedAt = now
		return nil
	})
}

// Delete removes a message. Only the author may delete. When the message
// replied to a parent, the parent's updated record is returned too.
func (s *State) Delete(messageID string, user User) (models.MessageRef, *models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, msgs := s.locateLocked(messageID)
	if i < 0 {
		return models.MessageRef{}, nil, notFound("UNKNOWN_MESSAGE", "message not found")
	}
	msg := msgs[i]
	if msg.AuthorID != user.ID {
		return models.MessageRef{}, nil, forbidden("NOT_AUTHOR", "only the author can delete a message")
	}

	s.messages[msg.ChannelID] = slices.Delete(msgs, i, i+1)
	delete(s.index, messageID)

	var parent *models.Message
	if msg.IsReply() {
		if j, rest := s.locateLocked(*msg.ThreadParentID); j >= 0 {
			rest[j].ThreadCount = max(0, rest[j].ThreadCount-1)
			p := rest[j].Clone()
			parent = &p
		}
	}
	return msg.Ref(), parent, nil
}

// ToggleReaction adds user to the emoji's reaction group, or removes them if
// already present. An emptied group is dropped.
func (s *State) ToggleReaction(messageID string, user User, emoji string) (models.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return models.Message{}, badRequest("INVALID_EMOJI", "emoji must not be empty")
	}

	return s.mutate(messageID, func(m *models.Message) error {
		for i, r := range m.Reactions {
			if r.Emoji != emoji {
				continue
			}
			if r.Has(user.ID) {
				r.Users = slices.DeleteFunc(r.Users, func(u models.ReactionUser) bool { return u.ID == user.ID })
			} else {
				r.Users = append(r.Users, models.ReactionUser{ID: user.ID, Name: user.Name})
			}
			if len(r.Users) == 0 {
				m.Reactions = slices.Delete(m.Reactions, i, i+1)
			} else {
				m.Reactions[i] = r
			}
			return nil
		}
		m.Reactions = append(m.Reactions, models.Reaction{
			Emoji: emoji,
			Users: []models.ReactionUser{{ID: user.ID, Name: user.Name}},
		})
		return nil
	})
}

// SetPinned sets a message's pinned flag.
func (s *State) SetPinned(messageID string, pinned bool) (models.Message, error) {
	return s.mutate(messageID, func(m *models.Message) error {
		m.IsPinned = pinned
		return nil
	})
}

func (s *State) mutate(messageID string, fn func(*models.Message) error) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, msgs := s.locateLocked(messageID)
	if i < 0 {
		return models.Message{}, notFound("UNKNOWN_MESSAGE", "message not found")
	}
	m := msgs[i].Clone()
	if err := fn(&m); err != nil {
		return models.Message{}, err
	}
	msgs[i] = m
	return m.Clone(), nil
}

// locateLocked returns the index of messageID in its channel's slice, or -1.
func (s *State) locateLocked(messageID string) (int, []models.Message) {
	channelID, ok := s.index[messageID]
	if !ok {
		return -1, nil
	}
	msgs := s.messages[channelID]
	i := slices.IndexFunc(msgs, func(m models.Message) bool { return m.ID == messageID })
	return i, msgs
}
