package coachlink

import (
	"sync"
	"time"
)

// DefaultTypingTTL bounds how long a typing indicator stays visible without
// a refresh. A peer that crashes mid-keystroke never sends stopTyping, so
// stale entries expire on their own.
const DefaultTypingTTL = 10 * time.Second

// PresenceTracker tracks who is typing in which chat and the last known
// online/offline state of peers. All updates are last-write-wins; there is
// no history.
type PresenceTracker struct {
	*notifier
	em  Emitter
	ttl time.Duration

	mu       sync.Mutex
	typing   map[string]map[string]time.Time // chatID -> userID -> expiry
	statuses map[string]UserStatus
}

// NewPresenceTracker creates a tracker bound to the given emitter. A zero
// ttl means DefaultTypingTTL.
func NewPresenceTracker(em Emitter, ttl time.Duration) *PresenceTracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &PresenceTracker{
		notifier: newNotifier(),
		em:       em,
		ttl:      ttl,
		typing:   make(map[string]map[string]time.Time),
		statuses: make(map[string]UserStatus),
	}
}

// StartTyping announces that the current user is typing in a chat. Typing
// indicators are never queued: when the connection is down the call fails
// with ErrNotConnected and nothing is retried.
func (t *PresenceTracker) StartTyping(chatID, userID string) error {
	if t.em.Status() != StatusConnected {
		return ErrNotConnected
	}
	return t.em.Emit("typing", map[string]string{"chatId": chatID, "userId": userID})
}

// StopTyping announces that the current user stopped typing.
func (t *PresenceTracker) StopTyping(chatID, userID string) error {
	if t.em.Status() != StatusConnected {
		return ErrNotConnected
	}
	return t.em.Emit("stopTyping", map[string]string{"chatId": chatID, "userId": userID})
}

// ApplyTyping records a peer typing in a chat, refreshing the expiry if the
// entry already exists.
func (t *PresenceTracker) ApplyTyping(chatID, userID string) {
	t.mu.Lock()
	chat := t.typing[chatID]
	if chat == nil {
		chat = make(map[string]time.Time)
		t.typing[chatID] = chat
	}
	chat[userID] = time.Now().Add(t.ttl)
	t.mu.Unlock()
	t.notify("typing.start", map[string]string{"chatId": chatID, "userId": userID})
}

// ApplyStopTyping removes a peer's typing entry. Unknown entries are
// ignored.
func (t *PresenceTracker) ApplyStopTyping(chatID, userID string) {
	t.mu.Lock()
	removed := false
	if chat := t.typing[chatID]; chat != nil {
		if _, ok := chat[userID]; ok {
			delete(chat, userID)
			removed = true
		}
		if len(chat) == 0 {
			delete(t.typing, chatID)
		}
	}
	t.mu.Unlock()
	if removed {
		t.notify("typing.stop", map[string]string{"chatId": chatID, "userId": userID})
	}
}

// ApplyUserStatus records a peer's online/offline state, overwriting any
// previous state.
func (t *PresenceTracker) ApplyUserStatus(s UserStatus) {
	t.mu.Lock()
	t.statuses[s.UserID] = s
	t.mu.Unlock()
	t.notify("presence.changed", s)
}

// TypingUsers returns the ids of peers currently typing in a chat, pruning
// expired entries as a side effect.
func (t *PresenceTracker) TypingUsers(chatID string) []string {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	chat := t.typing[chatID]
	var users []string
	for userID, expiry := range chat {
		if now.After(expiry) {
			delete(chat, userID)
			continue
		}
		users = append(users, userID)
	}
	if len(chat) == 0 {
		delete(t.typing, chatID)
	}
	return users
}

// StatusOf returns the last known state of a peer. Peers never seen report
// offline with no last-seen time.
func (t *PresenceTracker) StatusOf(userID string) UserStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.statuses[userID]; ok {
		return s
	}
	return UserStatus{UserID: userID, Status: PresenceOffline}
}

// Clear drops all typing and presence state, for teardown.
func (t *PresenceTracker) Clear() {
	t.mu.Lock()
	t.typing = make(map[string]map[string]time.Time)
	t.statuses = make(map[string]UserStatus)
	t.mu.Unlock()
	t.notify("presence.cleared", nil)
}
