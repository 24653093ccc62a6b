package otogi

import (
	"context"
	"fmt"
)

// ServiceSinkDispatcher is the canonical service registry key for outbound messaging.
const ServiceSinkDispatcher = "otogi.sink_dispatcher"

// ServiceReactionCatalog is the canonical service registry key for reaction discovery.
const ServiceReactionCatalog = "otogi.reaction_catalog"

// SinkDispatcher sends neutral outbound operations to one platform adapter.
type SinkDispatcher interface {
	// SendMessage publishes a new outbound message to a destination conversation.
	SendMessage(ctx context.Context, request SendMessageRequest) (*OutboundMessage, error)
	// SetReaction adds a reaction to an existing message.
	SetReaction(ctx context.Context, request SetReactionRequest) error
	// SendTyping shows a typing indicator in the destination conversation.
	SendTyping(ctx context.Context, request SendTypingRequest) error
}

// ReactionCatalog lists reaction symbols usable in one conversation.
type ReactionCatalog interface {
	// ListReactions returns the active reaction symbols for target.
	ListReactions(ctx context.Context, target OutboundTarget) ([]string, error)
}

// OutboundTarget identifies where an outbound operation should be delivered.
type OutboundTarget struct {
	// Conversation identifies the destination conversation.
	Conversation Conversation
	// Source optionally pins the driver instance that should deliver the operation.
	Source EventSource
}

// Validate checks target identity fields used for outbound routing.
func (t OutboundTarget) Validate() error {
	if t.Conversation.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidOutboundRequest)
	}
	if t.Conversation.Type == "" {
		return fmt.Errorf("%w: missing conversation type", ErrInvalidOutboundRequest)
	}

	return nil
}

// OutboundTargetFromEvent derives a destination target from an inbound event.
func OutboundTargetFromEvent(event *Event) (OutboundTarget, error) {
	if event == nil {
		return OutboundTarget{}, fmt.Errorf("%w: nil event", ErrInvalidOutboundRequest)
	}
	target := OutboundTarget{
		Conversation: event.Conversation,
		Source:       event.Source,
	}
	if target.Source.Platform == "" {
		target.Source.Platform = event.Platform
	}
	if err := target.Validate(); err != nil {
		return OutboundTarget{}, fmt.Errorf("derive target from event %s: %w", event.Kind, err)
	}

	return target, nil
}

// OutboundMessage identifies a message successfully emitted by the dispatcher.
type OutboundMessage struct {
	// ID is the destination-platform message identifier.
	ID string
	// Target is the destination where this message was delivered.
	Target OutboundTarget
}

// SendMessageRequest describes a new outbound text message.
type SendMessageRequest struct {
	Target OutboundTarget
	Text   string
	// ReplyToMessageID optionally links this message as a reply.
	ReplyToMessageID string
	// Silent suppresses destination-side notifications when supported.
	Silent bool
}

// Validate checks the request envelope before dispatch.
func (r SendMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate send message target: %w", err)
	}
	if r.Text == "" {
		return fmt.Errorf("%w: missing message text", ErrInvalidOutboundRequest)
	}

	return nil
}

// SetReactionRequest describes one reaction addition.
type SetReactionRequest struct {
	Target    OutboundTarget
	MessageID string
	// Emoji is the reaction symbol to apply.
	Emoji string
}

// Validate checks the request envelope before dispatch.
func (r SetReactionRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate set reaction target: %w", err)
	}
	if r.MessageID == "" {
		return fmt.Errorf("%w: missing message id", ErrInvalidOutboundRequest)
	}
	if r.Emoji == "" {
		return fmt.Errorf("%w: missing reaction emoji", ErrInvalidOutboundRequest)
	}

	return nil
}

// SendTypingRequest describes one typing indicator.
type SendTypingRequest struct {
	Target OutboundTarget
}

// Validate checks the request envelope before dispatch.
func (r SendTypingRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate send typing target: %w", err)
	}

	return nil
}
