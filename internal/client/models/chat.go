package models

import "time"

type ConversationSummary struct {
	ID            string     `json:"id"`
	ListingID     string     `json:"listing_id"`
	ListingTitle  string     `json:"listing_title"`
	OtherUser     User       `json:"other_user"`
	LastMessage   *string    `json:"last_message,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	UnreadCount   int        `json:"unread_count"`
}

type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Body           string     `json:"body"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}
