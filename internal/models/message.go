package models

import "time"

// Message is one record in a channel's message list. IDs are opaque strings
// assigned by the server and unique within a channel's history.
type Message struct {
	ID             string       `json:"id"`
	ChannelID      string       `json:"channelId"`
	AuthorID       string       `json:"authorId"`
	AuthorName     string       `json:"authorName"`
	AuthorAvatar   *string      `json:"authorAvatar,omitempty"`
	Content        string       `json:"content"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt,omitzero"`
	EditedAt       *time.Time   `json:"editedAt,omitempty"`
	IsPinned       bool         `json:"isPinned"`
	IsRead         bool         `json:"isRead"`
	Reactions      []Reaction   `json:"reactions"`
	ThreadParentID *string      `json:"threadParentId,omitempty"`
	ThreadCount    int          `json:"threadCount"`
	Attachments    []Attachment `json:"attachments"`
	Metadata       Metadata     `json:"metadata"`
}

// MessageRef identifies a message without carrying its content. The server
// returns it for deletions.
type MessageRef struct {
	ID        string `json:"id"`
	ChannelID string `json:"channelId"`
}

// Ref returns the message's reference.
func (m Message) Ref() MessageRef {
	return MessageRef{ID: m.ID, ChannelID: m.ChannelID}
}

// IsReply reports whether the message points at a thread parent.
func (m Message) IsReply() bool {
	return m.ThreadParentID != nil && *m.ThreadParentID != ""
}

// Reaction returns the reaction group for emoji, if any.
func (m Message) Reaction(emoji string) (Reaction, bool) {
	for _, r := range m.Reactions {
		if r.Emoji == emoji {
			return r, true
		}
	}
	return Reaction{}, false
}

// Clone returns a deep copy so callers can't alias slices held by a store.
func (m Message) Clone() Message {
	out := m
	if m.AuthorAvatar != nil {
		v := *m.AuthorAvatar
		out.AuthorAvatar = &v
	}
	if m.EditedAt != nil {
		v := *m.EditedAt
		out.EditedAt = &v
	}
	if m.ThreadParentID != nil {
		v := *m.ThreadParentID
		out.ThreadParentID = &v
	}
	if m.Reactions != nil {
		out.Reactions = make([]Reaction, len(m.Reactions))
		for i, r := range m.Reactions {
			out.Reactions[i] = Reaction{Emoji: r.Emoji, Users: append([]ReactionUser(nil), r.Users...)}
		}
	}
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	out.Metadata = m.Metadata.clone()
	return out
}
