package otogi

import (
	"fmt"
	"time"
)

// EventKind identifies a neutral domain event type.
type EventKind string

const (
	// EventKindMessageCreated is emitted when a new message is posted.
	EventKindMessageCreated EventKind = "message.created"
	// EventKindCommandReceived is derived by the kernel from an ordinary `/` command message.
	EventKindCommandReceived EventKind = "command.received"
	// EventKindSystemCommandReceived is derived by the kernel from a system `~` command message.
	EventKindSystemCommandReceived EventKind = "system_command.received"
)

// Platform identifies an external chat platform source.
type Platform string

const (
	// PlatformTelegram is Telegram.
	PlatformTelegram Platform = "telegram"
)

// ConversationType identifies conversation scope.
type ConversationType string

const (
	// ConversationTypePrivate is a direct/private conversation.
	ConversationTypePrivate ConversationType = "private"
	// ConversationTypeGroup is a group conversation.
	ConversationTypeGroup ConversationType = "group"
	// ConversationTypeChannel is a channel-style conversation.
	ConversationTypeChannel ConversationType = "channel"
)

// EventSource identifies which configured driver instance produced an event.
type EventSource struct {
	// Platform is the upstream platform of the driver.
	Platform Platform
	// ID is the configured driver instance name.
	ID string
}

// Event is the neutral protocol envelope that all drivers publish and modules consume.
//
// Message is set for message events and for derived command events; Command is
// set only for derived command events.
type Event struct {
	// ID is a stable identifier for this event instance.
	ID string
	// Kind selects which payload branch is expected.
	Kind EventKind
	// OccurredAt is the source-platform timestamp for the event.
	OccurredAt time.Time
	// Platform identifies the upstream platform that produced the event.
	Platform Platform
	// Source identifies the driver instance that produced the event.
	Source EventSource
	// Conversation identifies where the event happened.
	Conversation Conversation
	// Actor identifies who initiated the event when available.
	Actor Actor
	// Message carries message content.
	Message *Message
	// Command carries the bound command invocation for derived command events.
	Command *CommandInvocation
	// Metadata stores optional driver-provided key/value context.
	Metadata map[string]string
}

// Conversation identifies the neutral destination where an event occurred.
type Conversation struct {
	// ID is the stable conversation identifier on the source platform.
	ID string
	// Type describes the conversation scope.
	Type ConversationType
	// Title is a best-effort display label for the conversation.
	Title string
}

// Actor identifies the user/account that initiated an event.
type Actor struct {
	// ID is the stable actor identifier on the source platform.
	ID string
	// Username is the platform handle when available.
	Username string
	// DisplayName is the human-readable actor name.
	DisplayName string
	// IsBot reports whether the actor is an automated account.
	IsBot bool
}

// Message holds neutral message content.
type Message struct {
	// ID is the message identifier on the source platform.
	ID string
	// ReplyToID is the parent message identifier when this is a reply.
	ReplyToID string
	// ReplyToText is the parent message text when the driver could resolve it.
	ReplyToText string
	// ReplyToSelf reports whether the parent message was sent by this account.
	ReplyToSelf bool
	// MentionsSelf reports whether the message addresses this account.
	MentionsSelf bool
	// Text is the normalized message text body.
	Text string
	// Entities describes formatted ranges inside Text.
	Entities []TextEntity
}

// TextEntityType identifies rich text fragment classes.
type TextEntityType string

const (
	// TextEntityTypeMention is an @username mention.
	TextEntityTypeMention TextEntityType = "mention"
	// TextEntityTypeMentionName is a mention bound to a user id without a username.
	TextEntityTypeMentionName TextEntityType = "mention_name"
	// TextEntityTypeBotCommand is a /command token.
	TextEntityTypeBotCommand TextEntityType = "bot_command"
	// TextEntityTypeURL is a bare URL.
	TextEntityTypeURL TextEntityType = "url"
	// TextEntityTypeOther covers every other formatting class.
	TextEntityTypeOther TextEntityType = "other"
)

// TextEntity marks a rich text fragment.
type TextEntity struct {
	// Type identifies the entity class.
	Type TextEntityType
	// Offset is the zero-based character offset in the message text.
	Offset int
	// Length is the character span of the entity.
	Length int
	// UserID is the mentioned user for mention_name entities.
	UserID string
}

// Mentions returns every user reference carried by message entities.
//
// Username mentions are returned with their leading @, id-bound mentions as the raw id.
func (m *Message) Mentions() []string {
	if m == nil || len(m.Entities) == 0 {
		return nil
	}

	runes := []rune(m.Text)
	mentions := make([]string, 0, len(m.Entities))
	for _, entity := range m.Entities {
		switch entity.Type {
		case TextEntityTypeMention:
			end := entity.Offset + entity.Length
			if entity.Offset < 0 || end > len(runes) || entity.Length <= 0 {
				continue
			}
			mentions = append(mentions, string(runes[entity.Offset:end]))
		case TextEntityTypeMentionName:
			if entity.UserID != "" {
				mentions = append(mentions, entity.UserID)
			}
		default:
		}
	}
	if len(mentions) == 0 {
		return nil
	}

	return mentions
}

// Validate checks event envelope and payload coherence.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	}
	if e.Conversation.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidEvent)
	}

	switch e.Kind {
	case EventKindMessageCreated:
		if e.Message == nil {
			return fmt.Errorf("%w: message.created requires message payload", ErrInvalidEvent)
		}
	case EventKindCommandReceived, EventKindSystemCommandReceived:
		if e.Message == nil || e.Command == nil {
			return fmt.Errorf("%w: %s requires message and command payloads", ErrInvalidEvent, e.Kind)
		}
		if err := e.Command.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidEvent, e.Kind)
	}

	return nil
}
