package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/td/tg"

	"ex-mimic/pkg/otogi"
)

const defaultGotdUpdateBuffer = 1024

// gotdUpdateEnvelope carries one new-message update with the entities sent alongside it.
type gotdUpdateEnvelope struct {
	message     tg.MessageClass
	occurredAt  time.Time
	usersByID   map[int64]*tg.User
	chatsByID   map[int64]gotdChatInfo
	updateClass string
}

type gotdChatInfo struct {
	title     string
	kind      otogi.ConversationType
	inputPeer tg.InputPeerClass
}

// GotdUpdateChannel bridges gotd's update handler callback to a buffered stream.
type GotdUpdateChannel struct {
	updates chan any
}

// NewGotdUpdateChannel creates a stream with the given buffer size.
func NewGotdUpdateChannel(buffer int) *GotdUpdateChannel {
	if buffer <= 0 {
		buffer = defaultGotdUpdateBuffer
	}

	return &GotdUpdateChannel{updates: make(chan any, buffer)}
}

// Updates returns the stream channel.
func (s *GotdUpdateChannel) Updates(context.Context) (<-chan any, error) {
	if s == nil || s.updates == nil {
		return nil, fmt.Errorf("gotd update channel: not initialized")
	}

	return s.updates, nil
}

// Handle implements gotd's telegram.UpdateHandler. Only new messages are forwarded.
func (s *GotdUpdateChannel) Handle(ctx context.Context, updates tg.UpdatesClass) error {
	batch, err := flattenGotdUpdates(updates)
	if err != nil {
		return fmt.Errorf("handle gotd updates: %w", err)
	}

	for _, item := range batch {
		select {
		case <-ctx.Done():
			return fmt.Errorf("handle gotd updates: %w", ctx.Err())
		case s.updates <- item:
		}
	}

	return nil
}

func flattenGotdUpdates(updates tg.UpdatesClass) ([]gotdUpdateEnvelope, error) {
	if updates == nil {
		return nil, fmt.Errorf("flatten gotd updates: nil updates")
	}

	switch typed := updates.(type) {
	case *tg.Updates:
		return flattenGotdBatch(typed.Updates, typed.Date, typed.Users, typed.Chats), nil
	case *tg.UpdatesCombined:
		return flattenGotdBatch(typed.Updates, typed.Date, typed.Users, typed.Chats), nil
	case *tg.UpdateShort:
		return flattenGotdBatch([]tg.UpdateClass{typed.Update}, typed.Date, nil, nil), nil
	case *tg.UpdateShortMessage:
		return []gotdUpdateEnvelope{shortMessageEnvelope(typed)}, nil
	case *tg.UpdateShortChatMessage:
		return []gotdUpdateEnvelope{shortChatMessageEnvelope(typed)}, nil
	case *tg.UpdatesTooLong, *tg.UpdateShortSentMessage:
		return nil, nil
	default:
		return nil, fmt.Errorf("flatten gotd updates %s: unsupported container", updates.TypeName())
	}
}

func flattenGotdBatch(
	updates []tg.UpdateClass,
	date int,
	users []tg.UserClass,
	chats []tg.ChatClass,
) []gotdUpdateEnvelope {
	occurredAt := intToTimeUTC(date)
	usersByID := indexGotdUsers(users)
	chatsByID := indexGotdChats(chats)

	batch := make([]gotdUpdateEnvelope, 0, len(updates))
	for _, update := range updates {
		var message tg.MessageClass
		switch typed := update.(type) {
		case *tg.UpdateNewMessage:
			message = typed.Message
		case *tg.UpdateNewChannelMessage:
			message = typed.Message
		default:
			continue
		}
		batch = append(batch, gotdUpdateEnvelope{
			message:     message,
			occurredAt:  occurredAt,
			usersByID:   usersByID,
			chatsByID:   chatsByID,
			updateClass: update.TypeName(),
		})
	}

	return batch
}

func shortMessageEnvelope(update *tg.UpdateShortMessage) gotdUpdateEnvelope {
	message := &tg.Message{
		ID:        update.ID,
		Out:       update.Out,
		Mentioned: update.Mentioned,
		PeerID:    &tg.PeerUser{UserID: update.UserID},
		Date:      update.Date,
		Message:   update.Message,
	}
	if !update.Out {
		message.SetFromID(&tg.PeerUser{UserID: update.UserID})
	}
	if replyTo, ok := update.GetReplyTo(); ok {
		message.SetReplyTo(replyTo)
	}
	if entities, ok := update.GetEntities(); ok {
		message.SetEntities(entities)
	}

	return gotdUpdateEnvelope{
		message:     message,
		occurredAt:  intToTimeUTC(update.Date),
		updateClass: update.TypeName(),
	}
}

func shortChatMessageEnvelope(update *tg.UpdateShortChatMessage) gotdUpdateEnvelope {
	message := &tg.Message{
		ID:        update.ID,
		Out:       update.Out,
		Mentioned: update.Mentioned,
		PeerID:    &tg.PeerChat{ChatID: update.ChatID},
		Date:      update.Date,
		Message:   update.Message,
	}
	message.SetFromID(&tg.PeerUser{UserID: update.FromID})
	if replyTo, ok := update.GetReplyTo(); ok {
		message.SetReplyTo(replyTo)
	}
	if entities, ok := update.GetEntities(); ok {
		message.SetEntities(entities)
	}

	return gotdUpdateEnvelope{
		message:     message,
		occurredAt:  intToTimeUTC(update.Date),
		updateClass: update.TypeName(),
	}
}

func indexGotdUsers(users []tg.UserClass) map[int64]*tg.User {
	if len(users) == 0 {
		return nil
	}

	out := make(map[int64]*tg.User, len(users))
	for _, user := range users {
		if notEmpty, ok := user.AsNotEmpty(); ok && notEmpty != nil {
			out[notEmpty.ID] = notEmpty
		}
	}

	return out
}

func indexGotdChats(chats []tg.ChatClass) map[int64]gotdChatInfo {
	if len(chats) == 0 {
		return nil
	}

	out := make(map[int64]gotdChatInfo, len(chats))
	for _, chat := range chats {
		switch typed := chat.(type) {
		case *tg.Chat:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      otogi.ConversationTypeGroup,
				inputPeer: &tg.InputPeerChat{ChatID: typed.ID},
			}
		case *tg.ChatForbidden:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      otogi.ConversationTypeGroup,
				inputPeer: &tg.InputPeerChat{ChatID: typed.ID},
			}
		case *tg.Channel:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      channelKind(typed.Megagroup),
				inputPeer: &tg.InputPeerChannel{ChannelID: typed.ID, AccessHash: typed.AccessHash},
			}
		case *tg.ChannelForbidden:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      channelKind(typed.Megagroup),
				inputPeer: &tg.InputPeerChannel{ChannelID: typed.ID, AccessHash: typed.AccessHash},
			}
		}
	}

	return out
}

// channelKind maps megagroups to neutral groups; broadcast channels stay channels.
func channelKind(megagroup bool) otogi.ConversationType {
	if megagroup {
		return otogi.ConversationTypeGroup
	}
	return otogi.ConversationTypeChannel
}

func intToTimeUTC(value int) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(value), 0).UTC()
}
