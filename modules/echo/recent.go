package echo

import (
	"container/list"
	"sync"
	"time"
)

const (
	defaultRecentEntries = 4096
	defaultRecentTTL     = 6 * time.Hour
)

type recentKey struct {
	conversationID string
	messageID      string
}

type recentEntry struct {
	key       recentKey
	text      string
	expiresAt time.Time
}

// recentMessages remembers the text of recent messages and the newest message id
// of each conversation, for reply lookups and continuation threading.
type recentMessages struct {
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	mu      sync.Mutex
	lru     *list.List
	index   map[recentKey]*list.Element
	latests map[string]string
}

func newRecentMessages(maxEntries int, ttl time.Duration, now func() time.Time) *recentMessages {
	if maxEntries <= 0 {
		maxEntries = defaultRecentEntries
	}
	if ttl <= 0 {
		ttl = defaultRecentTTL
	}
	if now == nil {
		now = time.Now
	}

	return &recentMessages{
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        now,
		lru:        list.New(),
		index:      make(map[recentKey]*list.Element),
		latests:    make(map[string]string),
	}
}

// remember records one message and marks it as the newest of its conversation.
func (r *recentMessages) remember(conversationID, messageID, text string) {
	if conversationID == "" || messageID == "" {
		return
	}
	key := recentKey{conversationID: conversationID, messageID: messageID}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.latests[conversationID] = messageID
	entry := &recentEntry{key: key, text: text, expiresAt: r.now().Add(r.ttl)}
	if element, ok := r.index[key]; ok {
		element.Value = entry
		r.lru.MoveToFront(element)
		return
	}
	r.index[key] = r.lru.PushFront(entry)
	for r.lru.Len() > r.maxEntries {
		r.removeLocked(r.lru.Back())
	}
}

// text returns the remembered text of one message.
func (r *recentMessages) text(conversationID, messageID string) (string, bool) {
	key := recentKey{conversationID: conversationID, messageID: messageID}

	r.mu.Lock()
	defer r.mu.Unlock()

	element, ok := r.index[key]
	if !ok {
		return "", false
	}
	entry := element.Value.(*recentEntry)
	if !r.now().Before(entry.expiresAt) {
		r.removeLocked(element)
		return "", false
	}
	r.lru.MoveToFront(element)

	return entry.text, true
}

// isLatest reports whether messageID is the newest message seen in the conversation.
func (r *recentMessages) isLatest(conversationID, messageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.latests[conversationID] == messageID
}

func (r *recentMessages) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lru.Len()
}

func (r *recentMessages) removeLocked(element *list.Element) {
	if element == nil {
		return
	}
	entry := element.Value.(*recentEntry)
	r.lru.Remove(element)
	delete(r.index, entry.key)
	if r.latests[entry.key.conversationID] == entry.key.messageID {
		delete(r.latests, entry.key.conversationID)
	}
}
