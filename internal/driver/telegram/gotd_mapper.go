package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gotd/td/tg"

	"ex-mimic/pkg/otogi"
)

const gotdUnknownID = "unknown"

// DefaultGotdUpdateMapper maps gotd message envelopes into adapter updates.
//
// Messages authored by this account are recorded in the sent log and dropped.
type DefaultGotdUpdateMapper struct {
	peers *PeerCache
	sent  *SentLog
}

// GotdUpdateMapperOption mutates DefaultGotdUpdateMapper.
type GotdUpdateMapperOption func(*DefaultGotdUpdateMapper)

// WithPeerCache records inbound peers for outbound dispatch.
func WithPeerCache(cache *PeerCache) GotdUpdateMapperOption {
	return func(mapper *DefaultGotdUpdateMapper) {
		if cache != nil {
			mapper.peers = cache
		}
	}
}

// WithSentLog shares the log of self-authored message ids.
func WithSentLog(log *SentLog) GotdUpdateMapperOption {
	return func(mapper *DefaultGotdUpdateMapper) {
		if log != nil {
			mapper.sent = log
		}
	}
}

// NewDefaultGotdUpdateMapper creates the default gotd mapper.
func NewDefaultGotdUpdateMapper(options ...GotdUpdateMapperOption) DefaultGotdUpdateMapper {
	mapper := DefaultGotdUpdateMapper{}
	for _, option := range options {
		option(&mapper)
	}
	if mapper.sent == nil {
		mapper.sent = NewSentLog(0)
	}

	return mapper
}

// Map converts one raw gotd value into an adapter update.
func (m DefaultGotdUpdateMapper) Map(ctx context.Context, raw any) (Update, bool, error) {
	if err := ctx.Err(); err != nil {
		return Update{}, false, fmt.Errorf("map gotd update: %w", err)
	}

	var envelope gotdUpdateEnvelope
	switch typed := raw.(type) {
	case gotdUpdateEnvelope:
		envelope = typed
	case *gotdUpdateEnvelope:
		if typed == nil {
			return Update{}, false, fmt.Errorf("map gotd update: nil envelope")
		}
		envelope = *typed
	default:
		return Update{}, false, fmt.Errorf("map gotd update: unsupported raw type %T", raw)
	}
	m.peers.RememberEnvelope(envelope)

	message, ok := envelope.message.(*tg.Message)
	if !ok || message == nil {
		return Update{}, false, nil
	}

	return m.mapMessage(message, envelope)
}

func (m DefaultGotdUpdateMapper) mapMessage(message *tg.Message, envelope gotdUpdateEnvelope) (Update, bool, error) {
	chat := resolveChatFromPeer(message.PeerID, envelope)
	messageID := strconv.Itoa(message.ID)
	m.peers.RememberConversation(chat, resolveInputPeerFromPeer(message.PeerID, envelope))

	if message.Out {
		m.sent.Record(chat.ID, messageID)
		return Update{}, false, nil
	}
	if m.sent.Contains(chat.ID, messageID) {
		return Update{}, false, nil
	}

	actor := resolveActorFromPeer(message.FromID, envelope)
	if actor.ID == gotdUnknownID {
		actor = resolveActorFromPeer(message.PeerID, envelope)
	}

	payload := &MessagePayload{
		ID:           messageID,
		MentionsSelf: message.Mentioned,
		Text:         message.Message,
		Entities:     mapTextEntities(message.Entities),
	}
	if replyTo, ok := message.GetReplyTo(); ok {
		if header, ok := replyTo.(*tg.MessageReplyHeader); ok {
			if parentID, ok := header.GetReplyToMsgID(); ok {
				payload.ReplyToID = strconv.Itoa(parentID)
				payload.ReplyToSelf = m.sent.Contains(chat.ID, payload.ReplyToID)
			}
		}
	}

	occurredAt := intToTimeUTC(message.Date)
	if occurredAt.IsZero() {
		occurredAt = envelope.occurredAt
	}

	return Update{
		ID:         composeUpdateID(chat.ID, messageID),
		Type:       UpdateTypeMessage,
		OccurredAt: occurredAt,
		Chat:       chat,
		Actor:      actor,
		Message:    payload,
		Metadata:   newGotdMetadata(envelope),
	}, true, nil
}

func resolveChatFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) ChatRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		actor := resolveActorByUserID(typed.UserID, envelope)
		return ChatRef{ID: actor.ID, Type: otogi.ConversationTypePrivate, Title: actor.DisplayName}
	case *tg.PeerChat:
		return resolveChatByID(typed.ChatID, otogi.ConversationTypeGroup, envelope)
	case *tg.PeerChannel:
		return resolveChatByID(typed.ChannelID, otogi.ConversationTypeChannel, envelope)
	default:
		return ChatRef{ID: gotdUnknownID, Type: otogi.ConversationTypePrivate}
	}
}

func resolveChatByID(id int64, fallback otogi.ConversationType, envelope gotdUpdateEnvelope) ChatRef {
	chat := ChatRef{ID: strconv.FormatInt(id, 10), Type: fallback}
	if info, ok := envelope.chatsByID[id]; ok {
		chat.Title = info.title
		chat.Type = info.kind
	}

	return chat
}

func resolveActorFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) ActorRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return resolveActorByUserID(typed.UserID, envelope)
	case *tg.PeerChat:
		return ActorRef{ID: strconv.FormatInt(typed.ChatID, 10), DisplayName: envelope.chatsByID[typed.ChatID].title}
	case *tg.PeerChannel:
		return ActorRef{ID: strconv.FormatInt(typed.ChannelID, 10), DisplayName: envelope.chatsByID[typed.ChannelID].title}
	default:
		return ActorRef{ID: gotdUnknownID}
	}
}

func resolveActorByUserID(userID int64, envelope gotdUpdateEnvelope) ActorRef {
	if userID == 0 {
		return ActorRef{ID: gotdUnknownID}
	}
	id := strconv.FormatInt(userID, 10)
	user, ok := envelope.usersByID[userID]
	if !ok || user == nil {
		return ActorRef{ID: id}
	}

	username, _ := user.GetUsername()
	firstName, _ := user.GetFirstName()
	lastName, _ := user.GetLastName()
	displayName := strings.TrimSpace(firstName + " " + lastName)
	if displayName == "" {
		displayName = username
	}
	if displayName == "" {
		displayName = id
	}

	return ActorRef{ID: id, Username: username, DisplayName: displayName, IsBot: user.Bot}
}

func resolveInputPeerFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		if user, ok := envelope.usersByID[typed.UserID]; ok && user != nil {
			return user.AsInputPeer()
		}
	case *tg.PeerChat:
		if typed.ChatID != 0 {
			return &tg.InputPeerChat{ChatID: typed.ChatID}
		}
	case *tg.PeerChannel:
		if info, ok := envelope.chatsByID[typed.ChannelID]; ok && info.inputPeer != nil {
			return cloneInputPeer(info.inputPeer)
		}
	}

	return nil
}

// mapTextEntities keeps the entity classes the echo logic cares about and folds the rest into other.
func mapTextEntities(entities []tg.MessageEntityClass) []otogi.TextEntity {
	if len(entities) == 0 {
		return nil
	}

	out := make([]otogi.TextEntity, 0, len(entities))
	for _, entity := range entities {
		if entity == nil {
			continue
		}
		mapped := otogi.TextEntity{
			Type:   otogi.TextEntityTypeOther,
			Offset: entity.GetOffset(),
			Length: entity.GetLength(),
		}
		switch typed := entity.(type) {
		case *tg.MessageEntityMention:
			mapped.Type = otogi.TextEntityTypeMention
		case *tg.MessageEntityMentionName:
			mapped.Type = otogi.TextEntityTypeMentionName
			mapped.UserID = strconv.FormatInt(typed.UserID, 10)
		case *tg.MessageEntityBotCommand:
			mapped.Type = otogi.TextEntityTypeBotCommand
		case *tg.MessageEntityURL:
			mapped.Type = otogi.TextEntityTypeURL
		}
		out = append(out, mapped)
	}

	return out
}

func composeUpdateID(chatID string, messageID string) string {
	return strings.Join([]string{"tg", string(UpdateTypeMessage), chatID, messageID}, ":")
}

func newGotdMetadata(envelope gotdUpdateEnvelope) map[string]string {
	if envelope.updateClass == "" {
		return nil
	}

	return map[string]string{"gotd_update": envelope.updateClass}
}
