package models

type ChannelType string

const (
	ChannelTypeChannel ChannelType = "channel"
	ChannelTypeDirect  ChannelType = "direct"
	ChannelTypeGroup   ChannelType = "group"
	ChannelTypeThread  ChannelType = "thread"
)

// ChannelSummary is a directory entry. The sync core only reads it.
type ChannelSummary struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Slug        string      `json:"slug,omitempty"`
	Type        ChannelType `json:"type"`
	IsPrivate   bool        `json:"isPrivate"`
	Topic       *string     `json:"topic,omitempty"`
	Members     int         `json:"members"`
	UnreadCount int         `json:"unreadCount"`
	LastMessage *Message    `json:"lastMessage,omitempty"`
	IsPinned    bool        `json:"isPinned"`
	IsMuted     bool        `json:"isMuted"`
}
