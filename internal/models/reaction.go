package models

// ReactionUser is one user who reacted with a given emoji.
type ReactionUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Reaction groups every user that reacted to a message with one emoji.
// Emoji is unique per message.
type Reaction struct {
	Emoji string         `json:"emoji"`
	Users []ReactionUser `json:"users"`
}

// UserIDs returns the ids of the reacting users in server order.
func (r Reaction) UserIDs() []string {
	ids := make([]string, len(r.Users))
	for i, u := range r.Users {
		ids[i] = u.ID
	}
	return ids
}

// Has reports whether userID is among the reacting users.
func (r Reaction) Has(userID string) bool {
	for _, u := range r.Users {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// Count is the number of users in the group.
func (r Reaction) Count() int {
	return len(r.Users)
}
