package models

import "time"

const GlobalRoom = "global"

// Message is a chat message. Exactly one of Room and RecipientID is set:
// room messages go to everyone in the room, direct messages to one account.
type Message struct {
	ID          string     `json:"id"`
	AuthorID    string     `json:"authorId"`
	AuthorName  string     `json:"authorName,omitempty"`
	Room        string     `json:"room,omitempty"`
	RecipientID string     `json:"recipientId,omitempty"`
	Content     string     `json:"content"`
	CreatedAt   time.Time  `json:"createdAt"`
	EditedAt    *time.Time `json:"editedAt,omitempty"`
}

func (m *Message) IsDirect() bool {
	return m.RecipientID != ""
}
