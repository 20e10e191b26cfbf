package coachlink

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helpers
// ============================================================================

type emittedEvent struct {
	event string
	data  any
}

// fakeEmitter records emitted events and reports a configurable status.
type fakeEmitter struct {
	mu      sync.Mutex
	status  ConnectionStatus
	events  []emittedEvent
	emitErr error
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{status: StatusConnected}
}

func (f *fakeEmitter) Emit(event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.events = append(f.events, emittedEvent{event: event, data: data})
	return nil
}

func (f *fakeEmitter) Status() ConnectionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeEmitter) setStatus(s ConnectionStatus) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

func (f *fakeEmitter) emitted() []emittedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emittedEvent{}, f.events...)
}

func (f *fakeEmitter) lastEvent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return ""
	}
	return f.events[len(f.events)-1].event
}

var testIdentity = Identity{UserID: "user-1", Role: RoleClient, Token: "tok", DisplayName: "Alex"}

// ============================================================================
// Send
// ============================================================================

func TestMessageStoreSend(t *testing.T) {
	t.Run("optimistic append", func(t *testing.T) {
		em := newFakeEmitter()
		store := NewMessageStore(em, testIdentity)

		msg, err := store.Send(SendMessageInput{ReceiverID: "trainer-1", Text: "hello"})
		require.NoError(t, err)

		assert.NotEmpty(t, msg.TempID)
		assert.Empty(t, msg.ID)
		assert.Equal(t, MessageSent, msg.Status)
		assert.Equal(t, "user-1", msg.SenderID)

		require.Equal(t, 1, store.Len())
		assert.Equal(t, "sendMessage", em.lastEvent())
	})

	t.Run("disconnected send is rejected without inserting", func(t *testing.T) {
		em := newFakeEmitter()
		em.setStatus(StatusDisconnected)
		store := NewMessageStore(em, testIdentity)

		_, err := store.Send(SendMessageInput{ReceiverID: "trainer-1", Text: "hello"})
		assert.ErrorIs(t, err, ErrNotConnected)
		assert.Equal(t, 0, store.Len())
		assert.Empty(t, em.emitted())
	})

	t.Run("distinct temp ids", func(t *testing.T) {
		em := newFakeEmitter()
		store := NewMessageStore(em, testIdentity)

		a, err := store.Send(SendMessageInput{ReceiverID: "t", Text: "a"})
		require.NoError(t, err)
		b, err := store.Send(SendMessageInput{ReceiverID: "t", Text: "b"})
		require.NoError(t, err)
		assert.NotEqual(t, a.TempID, b.TempID)
	})
}

// ============================================================================
// Reconciliation
// ============================================================================

func TestMessageStoreReconciliation(t *testing.T) {
	t.Run("echo replaces optimistic copy in place", func(t *testing.T) {
		em := newFakeEmitter()
		store := NewMessageStore(em, testIdentity)

		first, err := store.Send(SendMessageInput{ReceiverID: "trainer-1", Text: "one"})
		require.NoError(t, err)
		_, err = store.Send(SendMessageInput{ReceiverID: "trainer-1", Text: "two"})
		require.NoError(t, err)

		store.ApplyIncoming(Message{
			ID:         "srv-1",
			TempID:     first.TempID,
			SenderID:   "user-1",
			ReceiverID: "trainer-1",
			Text:       "one",
			Status:     MessageDelivered,
			Timestamp:  time.Now(),
		})

		msgs := store.Snapshot()
		require.Len(t, msgs, 2)
		assert.Equal(t, "srv-1", msgs[0].ID)
		assert.Equal(t, MessageDelivered, msgs[0].Status)
		assert.Equal(t, "two", msgs[1].Text)
	})

	t.Run("unknown message appends", func(t *testing.T) {
		em := newFakeEmitter()
		store := NewMessageStore(em, testIdentity)

		store.ApplyIncoming(Message{ID: "srv-9", SenderID: "trainer-1", ReceiverID: "user-1", Text: "hi"})
		require.Equal(t, 1, store.Len())
	})

	t.Run("redelivery of same id does not duplicate", func(t *testing.T) {
		em := newFakeEmitter()
		store := NewMessageStore(em, testIdentity)

		m := Message{ID: "srv-9", SenderID: "trainer-1", ReceiverID: "user-1", Text: "hi"}
		store.ApplyIncoming(m)
		m.Text = "hi (edited)"
		store.ApplyIncoming(m)

		msgs := store.Snapshot()
		require.Len(t, msgs, 1)
		assert.Equal(t, "hi (edited)", msgs[0].Text)
	})

	t.Run("matches by tempId against id", func(t *testing.T) {
		a := Message{TempID: "temp-1"}
		b := Message{ID: "temp-1"}
		assert.True(t, a.Matches(b))
	})
}

// ============================================================================
// Delete
// ============================================================================

func TestMessageStoreDelete(t *testing.T) {
	t.Run("soft delete keeps tombstone in order", func(t *testing.T) {
		em := newFakeEmitter()
		store := NewMessageStore(em, testIdentity)

		store.ApplyIncoming(Message{ID: "m-1", SenderID: "user-1", ReceiverID: "t", Text: "a"})
		store.ApplyIncoming(Message{ID: "m-2", SenderID: "user-1", ReceiverID: "t", Text: "b"})

		require.NoError(t, store.Delete("m-1", "trainer-1"))

		msgs := store.Snapshot()
		require.Len(t, msgs, 2)
		assert.True(t, msgs[0].Deleted)
		assert.False(t, msgs[1].Deleted)
		assert.Equal(t, "deleteMessage", em.emitted()[0].event)
	})

	t.Run("unknown id is ignored", func(t *testing.T) {
		em := newFakeEmitter()
		store := NewMessageStore(em, testIdentity)
		store.ApplyDeleted("nope")
		assert.Equal(t, 0, store.Len())
	})
}

// ============================================================================
// Reactions
// ============================================================================

func TestMessageStoreReactions(t *testing.T) {
	t.Run("add and remove only emit", func(t *testing.T) {
		em := newFakeEmitter()
		store := NewMessageStore(em, testIdentity)
		store.ApplyIncoming(Message{ID: "m-1", SenderID: "t", ReceiverID: "user-1", Text: "x"})

		require.NoError(t, store.AddReaction("m-1", "💪"))
		require.NoError(t, store.RemoveReaction("m-1", "💪"))

		assert.Empty(t, store.Snapshot()[0].Reactions)
		events := em.emitted()
		require.Len(t, events, 2)
		assert.Equal(t, "addReaction", events[0].event)
		assert.Equal(t, "removeReaction", events[1].event)
	})

	t.Run("server list replaces wholesale", func(t *testing.T) {
		em := newFakeEmitter()
		store := NewMessageStore(em, testIdentity)
		store.ApplyIncoming(Message{
			ID: "m-1", SenderID: "t", ReceiverID: "user-1",
			Reactions: []Reaction{{UserID: "u2", Emoji: "🔥"}},
		})

		store.ApplyReactions("m-1", []Reaction{
			{UserID: "user-1", Emoji: "💪"},
			{UserID: "user-1", Emoji: "💪"}, // duplicate from redelivery
		})

		got := store.Snapshot()[0].Reactions
		require.Len(t, got, 1)
		assert.Equal(t, "💪", got[0].Emoji)
	})
}

// ============================================================================
// Read receipts
// ============================================================================

func TestMessageStoreMarkRead(t *testing.T) {
	t.Run("messagesRead flips matching direction only", func(t *testing.T) {
		em := newFakeEmitter()
		store := NewMessageStore(em, testIdentity)

		store.ApplyIncoming(Message{ID: "m-1", SenderID: "trainer-1", ReceiverID: "user-1", Status: MessageDelivered})
		store.ApplyIncoming(Message{ID: "m-2", SenderID: "user-1", ReceiverID: "trainer-1", Status: MessageDelivered})
		store.ApplyIncoming(Message{ID: "m-3", SenderID: "trainer-1", ReceiverID: "user-1", Status: MessageRead})

		at := time.Now().UTC()
		store.ApplyMessagesRead("trainer-1", "user-1", &at)

		msgs := store.Snapshot()
		assert.Equal(t, MessageRead, msgs[0].Status)
		require.NotNil(t, msgs[0].ReadAt)
		assert.Equal(t, at, *msgs[0].ReadAt)
		// Opposite direction untouched.
		assert.Equal(t, MessageDelivered, msgs[1].Status)
		assert.Nil(t, msgs[1].ReadAt)
	})

	t.Run("MarkRead emits markAsRead for the partner direction", func(t *testing.T) {
		em := newFakeEmitter()
		store := NewMessageStore(em, testIdentity)

		require.NoError(t, store.MarkRead("trainer-1"))
		events := em.emitted()
		require.Len(t, events, 1)
		assert.Equal(t, "markAsRead", events[0].event)
		payload := events[0].data.(map[string]string)
		assert.Equal(t, "trainer-1", payload["senderId"])
		assert.Equal(t, "user-1", payload["receiverId"])
	})
}

func TestMessageStoreClear(t *testing.T) {
	em := newFakeEmitter()
	store := NewMessageStore(em, testIdentity)
	store.ApplyIncoming(Message{ID: "m-1", SenderID: "t", ReceiverID: "user-1"})

	store.Clear()
	assert.Equal(t, 0, store.Len())
}

func TestMessageStoreSubscribe(t *testing.T) {
	em := newFakeEmitter()
	store := NewMessageStore(em, testIdentity)

	var changes []string
	store.Subscribe("*", func(change string, payload any) {
		changes = append(changes, change)
	})

	store.ApplyIncoming(Message{ID: "m-1", SenderID: "t", ReceiverID: "user-1"})
	store.ApplyDeleted("m-1")

	assert.Equal(t, []string{"message.new", "message.deleted"}, changes)
}
