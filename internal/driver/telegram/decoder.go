package telegram

import (
	"context"
	"fmt"
	"slices"
	"time"

	"ex-mimic/pkg/otogi"
)

// Decoder converts Telegram update DTOs into neutral events.
type Decoder interface {
	Decode(ctx context.Context, update Update) (*otogi.Event, error)
}

// DefaultDecoder maps message updates into message.created events.
type DefaultDecoder struct{}

// NewDefaultDecoder creates a default decoder.
func NewDefaultDecoder() DefaultDecoder {
	return DefaultDecoder{}
}

// Decode converts one Telegram update into a validated neutral event.
func (DefaultDecoder) Decode(_ context.Context, update Update) (*otogi.Event, error) {
	if update.Type != UpdateTypeMessage {
		return nil, fmt.Errorf("decode update %s: unsupported type", update.Type)
	}
	if update.Message == nil {
		return nil, fmt.Errorf("decode update %s: missing message payload", update.Type)
	}

	occurredAt := update.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	payload := update.Message
	event := &otogi.Event{
		ID:         update.ID,
		Kind:       otogi.EventKindMessageCreated,
		OccurredAt: occurredAt,
		Platform:   DriverPlatform,
		Conversation: otogi.Conversation{
			ID:    update.Chat.ID,
			Type:  update.Chat.Type,
			Title: update.Chat.Title,
		},
		Actor: otogi.Actor{
			ID:          update.Actor.ID,
			Username:    update.Actor.Username,
			DisplayName: update.Actor.DisplayName,
			IsBot:       update.Actor.IsBot,
		},
		Message: &otogi.Message{
			ID:           payload.ID,
			ReplyToID:    payload.ReplyToID,
			ReplyToSelf:  payload.ReplyToSelf,
			MentionsSelf: payload.MentionsSelf,
			Text:         payload.Text,
			Entities:     slices.Clone(payload.Entities),
		},
		Metadata: update.Metadata,
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("decode update %s: %w", update.Type, err)
	}

	return event, nil
}
