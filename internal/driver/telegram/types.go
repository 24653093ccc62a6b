package telegram

import (
	"time"

	"ex-mimic/pkg/otogi"
)

// UpdateType identifies the Telegram update semantic category.
type UpdateType string

const (
	// UpdateTypeMessage identifies new message updates.
	UpdateTypeMessage UpdateType = "message"
)

// Update is the adapter DTO between gotd mapping and neutral decoding.
type Update struct {
	ID         string
	Type       UpdateType
	OccurredAt time.Time
	Chat       ChatRef
	Actor      ActorRef
	Message    *MessagePayload
	Metadata   map[string]string
}

// ChatRef identifies Telegram chat context.
type ChatRef struct {
	ID    string
	Title string
	Type  otogi.ConversationType
}

// ActorRef identifies Telegram actor context.
type ActorRef struct {
	ID          string
	Username    string
	DisplayName string
	IsBot       bool
}

// MessagePayload is the projection of one Telegram text message.
type MessagePayload struct {
	ID        string
	ReplyToID string
	// ReplyToSelf is set when the parent message was sent by this account.
	ReplyToSelf bool
	// MentionsSelf mirrors Telegram's mentioned flag for this account.
	MentionsSelf bool
	Text         string
	Entities     []otogi.TextEntity
}
