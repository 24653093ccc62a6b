package telegram

import "sync"

const defaultSentLogLimit = 512

// SentLog remembers recent message ids authored by this account, per chat.
//
// Each chat keeps at most limit ids; the oldest are forgotten first.
type SentLog struct {
	mu     sync.Mutex
	limit  int
	byChat map[string]*sentRing
}

type sentRing struct {
	order []string
	ids   map[string]struct{}
}

// NewSentLog creates a sent log keeping limit ids per chat.
func NewSentLog(limit int) *SentLog {
	if limit <= 0 {
		limit = defaultSentLogLimit
	}

	return &SentLog{limit: limit, byChat: make(map[string]*sentRing)}
}

// Record marks messageID in chatID as authored by this account.
func (l *SentLog) Record(chatID, messageID string) {
	if l == nil || chatID == "" || messageID == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ring, ok := l.byChat[chatID]
	if !ok {
		ring = &sentRing{ids: make(map[string]struct{})}
		l.byChat[chatID] = ring
	}
	if _, seen := ring.ids[messageID]; seen {
		return
	}
	if len(ring.order) >= l.limit {
		delete(ring.ids, ring.order[0])
		ring.order = ring.order[1:]
	}
	ring.order = append(ring.order, messageID)
	ring.ids[messageID] = struct{}{}
}

// Contains reports whether messageID in chatID was authored by this account.
func (l *SentLog) Contains(chatID, messageID string) bool {
	if l == nil {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ring, ok := l.byChat[chatID]
	if !ok {
		return false
	}
	_, found := ring.ids[messageID]

	return found
}
