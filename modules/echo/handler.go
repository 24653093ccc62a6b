package echo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ex-mimic/internal/mimic"
	"ex-mimic/pkg/otogi"
)

func (m *Module) handleMessage(ctx context.Context, event *otogi.Event) error {
	if event == nil || event.Message == nil || event.Kind != otogi.EventKindMessageCreated {
		return nil
	}
	m.recent.remember(event.Conversation.ID, event.Message.ID, event.Message.Text)
	if event.Conversation.Type == otogi.ConversationTypePrivate {
		return nil
	}
	if m.dispatcher == nil {
		return fmt.Errorf("echo handle message: sink dispatcher not configured")
	}

	target, err := otogi.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("echo derive outbound target: %w", err)
	}
	in := inboundFromEvent(event)
	in.Emotes = m.listEmotes(ctx, target)

	observation, err := m.coordinator.Observe(ctx, in, &conversationEmitter{
		dispatcher: m.dispatcher,
		recent:     m.recent,
		target:     target,
	})
	if observation.Snapshot != nil {
		m.persistSnapshot(ctx, observation.Snapshot)
	}
	for _, observed := range observation.Errors {
		m.logObservationError(ctx, in.ScopeID, observed)
	}
	if err != nil {
		return fmt.Errorf("echo observe scope %s: %w", in.ScopeID, err)
	}
	if len(observation.Emitted) > 0 {
		m.logger.DebugContext(ctx, "echo emitted",
			"scope", in.ScopeID,
			"count", len(observation.Emitted),
			"forced", observation.Decision.Forced,
		)
	}

	return nil
}

func (m *Module) logObservationError(ctx context.Context, scope mimic.ScopeID, err error) {
	var transportErr *mimic.TransportError
	switch {
	case errors.Is(err, mimic.ErrEmptyCorpus):
		m.logger.DebugContext(ctx, "echo emission skipped", "scope", scope, "error", err)
	case errors.As(err, &transportErr):
		m.logger.WarnContext(ctx, "echo transport failure", "scope", scope, "step", transportErr.Step, "error", err)
	default:
		m.logger.ErrorContext(ctx, "echo observation failure", "scope", scope, "error", err)
	}
}

// listEmotes returns the reaction set of the target conversation; failures yield none.
func (m *Module) listEmotes(ctx context.Context, target otogi.OutboundTarget) []string {
	if m.reactions == nil {
		return nil
	}
	emotes, err := m.reactions.ListReactions(ctx, target)
	if err != nil {
		m.logger.WarnContext(ctx, "echo list reactions failed", "conversation", target.Conversation.ID, "error", err)
		return nil
	}

	return emotes
}

func inboundFromEvent(event *otogi.Event) mimic.Inbound {
	message := event.Message
	mentions := message.Mentions()
	ids := make([]mimic.UserID, 0, len(mentions))
	for _, mention := range mentions {
		ids = append(ids, mimic.UserID(strings.TrimPrefix(mention, "@")))
	}

	return mimic.Inbound{
		ScopeID:      scopeOf(event),
		AuthorID:     mimic.UserID(event.Actor.ID),
		AuthorIsBot:  event.Actor.IsBot,
		Text:         message.Text,
		Mentions:     ids,
		MentionsSelf: message.MentionsSelf,
		ReplyToSelf:  message.ReplyToSelf,
		MessageID:    message.ID,
	}
}

func scopeOf(event *otogi.Event) mimic.ScopeID {
	return mimic.ScopeID(event.Conversation.ID)
}

// conversationEmitter delivers one observation's output into its conversation.
type conversationEmitter struct {
	dispatcher otogi.SinkDispatcher
	recent     *recentMessages
	target     otogi.OutboundTarget
}

// Emit sends one emission and records it as the newest message of the conversation.
func (e *conversationEmitter) Emit(ctx context.Context, emission mimic.Emission) (string, error) {
	sent, err := e.dispatcher.SendMessage(ctx, otogi.SendMessageRequest{
		Target:           e.target,
		Text:             emission.Text,
		ReplyToMessageID: emission.ReplyToID,
	})
	if err != nil {
		return "", err
	}
	e.recent.remember(e.target.Conversation.ID, sent.ID, emission.Text)

	return sent.ID, nil
}

// IsLatest reports whether no other message arrived after messageID.
func (e *conversationEmitter) IsLatest(_ context.Context, scope mimic.ScopeID, messageID string) bool {
	return e.recent.isLatest(string(scope), messageID)
}

// Typing shows the typing indicator.
func (e *conversationEmitter) Typing(ctx context.Context, _ mimic.ScopeID) error {
	return e.dispatcher.SendTyping(ctx, otogi.SendTypingRequest{Target: e.target})
}

// React adds one reaction to the observed message.
func (e *conversationEmitter) React(ctx context.Context, _ mimic.ScopeID, messageID string, emoji string) error {
	return e.dispatcher.SetReaction(ctx, otogi.SetReactionRequest{
		Target:    e.target,
		MessageID: messageID,
		Emoji:     emoji,
	})
}

var (
	_ mimic.Emitter = (*conversationEmitter)(nil)
	_ mimic.Typist  = (*conversationEmitter)(nil)
	_ mimic.Reactor = (*conversationEmitter)(nil)
)
