package models

import "time"

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

// CallParty identifies who started a call.
type CallParty struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Avatar *string `json:"avatar,omitempty"`
}

// CallInvite is pushed as call:incoming. Signaling itself happens elsewhere.
type CallInvite struct {
	ChannelID string    `json:"channelId"`
	Type      CallType  `json:"type"`
	From      CallParty `json:"from"`
	StartedAt time.Time `json:"startedAt,omitzero"`
}

// CallEnded is pushed as call:ended.
type CallEnded struct {
	ChannelID string `json:"channelId"`
	EndedBy   string `json:"endedBy,omitempty"`
}
