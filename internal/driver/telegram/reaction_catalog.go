package telegram

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gotd/td/tg"
)

const defaultReactionCacheTTL = 10 * time.Minute

type gotdReactionsAPI interface {
	MessagesGetAvailableReactions(ctx context.Context, hash int) (tg.MessagesAvailableReactionsClass, error)
	MessagesGetFullChat(ctx context.Context, chatID int64) (*tg.MessagesChatFull, error)
	ChannelsGetFullChannel(ctx context.Context, channel tg.InputChannelClass) (*tg.MessagesChatFull, error)
}

// ReactionCatalog resolves which plain emoji reactions a chat accepts.
//
// Results are cached per chat for the TTL. The global list is refreshed with
// Telegram's hash protocol so unchanged lists cost a NotModified round trip.
type ReactionCatalog struct {
	api gotdReactionsAPI
	ttl time.Duration
	now func() time.Time

	mu         sync.Mutex
	globalHash int
	global     []string
	globalAt   time.Time
	byChat     map[string]cachedReactions
}

type cachedReactions struct {
	reactions []string
	loadedAt  time.Time
}

// NewReactionCatalog creates a catalog backed by a gotd tg.Client compatible API.
func NewReactionCatalog(api gotdReactionsAPI) (*ReactionCatalog, error) {
	if api == nil {
		return nil, fmt.Errorf("new reaction catalog: nil api")
	}

	return &ReactionCatalog{
		api:    api,
		ttl:    defaultReactionCacheTTL,
		now:    time.Now,
		byChat: make(map[string]cachedReactions),
	}, nil
}

// Available returns the reactions allowed in the chat identified by chatID and peer.
func (c *ReactionCatalog) Available(ctx context.Context, chatID string, peer tg.InputPeerClass) ([]string, error) {
	c.mu.Lock()
	cached, ok := c.byChat[chatID]
	c.mu.Unlock()
	if ok && c.now().Sub(cached.loadedAt) < c.ttl {
		return slices.Clone(cached.reactions), nil
	}

	settings, err := c.chatReactions(ctx, peer)
	if err != nil {
		return nil, err
	}

	var reactions []string
	switch typed := settings.(type) {
	case nil, *tg.ChatReactionsAll:
		if reactions, err = c.globalReactions(ctx); err != nil {
			return nil, err
		}
	case *tg.ChatReactionsSome:
		reactions = emojiReactions(typed.Reactions)
	case *tg.ChatReactionsNone:
		reactions = []string{}
	}

	c.mu.Lock()
	c.byChat[chatID] = cachedReactions{reactions: reactions, loadedAt: c.now()}
	c.mu.Unlock()

	return slices.Clone(reactions), nil
}

// chatReactions returns nil for private chats, which accept the global list.
func (c *ReactionCatalog) chatReactions(ctx context.Context, peer tg.InputPeerClass) (tg.ChatReactionsClass, error) {
	var (
		full *tg.MessagesChatFull
		err  error
	)
	switch typed := peer.(type) {
	case *tg.InputPeerChat:
		full, err = c.api.MessagesGetFullChat(ctx, typed.ChatID)
	case *tg.InputPeerChannel:
		full, err = c.api.ChannelsGetFullChannel(ctx, &tg.InputChannel{
			ChannelID:  typed.ChannelID,
			AccessHash: typed.AccessHash,
		})
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get full chat: %w", err)
	}

	switch chat := full.FullChat.(type) {
	case *tg.ChatFull:
		settings, _ := chat.GetAvailableReactions()
		return settings, nil
	case *tg.ChannelFull:
		settings, _ := chat.GetAvailableReactions()
		return settings, nil
	default:
		return nil, nil
	}
}

func (c *ReactionCatalog) globalReactions(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	hash, global, loadedAt := c.globalHash, c.global, c.globalAt
	c.mu.Unlock()
	if global != nil && c.now().Sub(loadedAt) < c.ttl {
		return global, nil
	}

	response, err := c.api.MessagesGetAvailableReactions(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("messages.getAvailableReactions: %w", err)
	}
	if available, ok := response.(*tg.MessagesAvailableReactions); ok {
		global = make([]string, 0, len(available.Reactions))
		for _, reaction := range available.Reactions {
			if reaction.Inactive || reaction.Premium {
				continue
			}
			global = append(global, reaction.Reaction)
		}
		hash = available.Hash
	}
	if global == nil {
		global = []string{}
	}

	c.mu.Lock()
	c.globalHash, c.global, c.globalAt = hash, global, c.now()
	c.mu.Unlock()

	return global, nil
}

// emojiReactions keeps plain emoji; custom emoji and paid reactions need extra
// entitlements a userbot may not hold.
func emojiReactions(reactions []tg.ReactionClass) []string {
	out := make([]string, 0, len(reactions))
	for _, reaction := range reactions {
		if emoji, ok := reaction.(*tg.ReactionEmoji); ok && emoji.Emoticon != "" {
			out = append(out, emoji.Emoticon)
		}
	}

	return out
}
