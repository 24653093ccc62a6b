package telegram

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/gotd/td/tg"

	"ex-mimic/pkg/otogi"
)

// PeerCache resolves neutral conversations back into Telegram input peers.
//
// Entries are learned from inbound updates. A nil cache ignores writes.
type PeerCache struct {
	mu    sync.RWMutex
	peers map[string]tg.InputPeerClass
}

// NewPeerCache creates an empty peer cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{peers: make(map[string]tg.InputPeerClass)}
}

// RememberEnvelope stores the users and chats attached to one update batch.
func (c *PeerCache) RememberEnvelope(envelope gotdUpdateEnvelope) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for userID, user := range envelope.usersByID {
		if user == nil {
			continue
		}
		c.peers[strconv.FormatInt(userID, 10)] = user.AsInputPeer()
	}
	for chatID, chat := range envelope.chatsByID {
		if chat.inputPeer != nil {
			c.peers[strconv.FormatInt(chatID, 10)] = cloneInputPeer(chat.inputPeer)
		}
	}
}

// RememberConversation stores one explicit conversation to peer mapping.
func (c *PeerCache) RememberConversation(chat ChatRef, peer tg.InputPeerClass) {
	if c == nil || peer == nil || chat.ID == "" {
		return
	}

	c.mu.Lock()
	c.peers[chat.ID] = cloneInputPeer(peer)
	c.mu.Unlock()
}

// Resolve returns the input peer for conversation.
//
// Telegram user, chat and channel ids never collide, so the id alone is the key.
func (c *PeerCache) Resolve(conversation otogi.Conversation) (tg.InputPeerClass, error) {
	if c == nil {
		return nil, fmt.Errorf("resolve peer: nil cache")
	}
	if conversation.ID == "" {
		return nil, fmt.Errorf("resolve peer: empty conversation id")
	}

	c.mu.RLock()
	peer, ok := c.peers[conversation.ID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("resolve peer: conversation %s/%s not seen", conversation.Type, conversation.ID)
	}

	return cloneInputPeer(peer), nil
}

func cloneInputPeer(peer tg.InputPeerClass) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.InputPeerUser:
		clone := *typed
		return &clone
	case *tg.InputPeerChat:
		clone := *typed
		return &clone
	case *tg.InputPeerChannel:
		clone := *typed
		return &clone
	default:
		return peer
	}
}
