package models

import "time"

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
	StatusOffline PresenceStatus = "offline"
)

// Valid reports whether s is a status a client may set.
func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// Presence is one user's online state. No history is kept.
type Presence struct {
	UserID     string         `json:"userId"`
	UserName   string         `json:"userName"`
	Avatar     *string        `json:"avatar,omitempty"`
	Status     PresenceStatus `json:"status"`
	LastActive time.Time      `json:"lastActive"`
	Channels   []string       `json:"channels,omitempty"`
}

// TypingEvent is pushed when a user starts or stops typing in a channel.
type TypingEvent struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	IsTyping  bool   `json:"isTyping"`
}
