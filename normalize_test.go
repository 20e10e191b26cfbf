package coachlink

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayload(t *testing.T) {
	t.Run("valid message", func(t *testing.T) {
		raw := json.RawMessage(`{"id":"m-1","senderId":"u2","text":"hi"}`)
		p, err := decodePayload[wireMessage]("receiveMessage", raw)
		require.NoError(t, err)
		assert.Equal(t, "m-1", p.ID)
	})

	t.Run("missing required field", func(t *testing.T) {
		raw := json.RawMessage(`{"id":"m-1","text":"hi"}`)
		_, err := decodePayload[wireMessage]("receiveMessage", raw)
		assert.ErrorContains(t, err, "receiveMessage")
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := decodePayload[wireMessage]("receiveMessage", json.RawMessage(`{`))
		assert.ErrorContains(t, err, "malformed")
	})

	t.Run("userStatus rejects unknown states", func(t *testing.T) {
		raw := json.RawMessage(`{"userId":"u2","status":"away"}`)
		_, err := decodePayload[wireUserStatus]("userStatus", raw)
		assert.Error(t, err)
	})
}

func TestNormalizeMessage(t *testing.T) {
	t.Run("defaults applied once at the boundary", func(t *testing.T) {
		m := normalizeMessage(&wireMessage{SenderID: "u2"})
		assert.Equal(t, MessageSent, m.Status)
		assert.False(t, m.Timestamp.IsZero())
	})

	t.Run("unknown status maps to sent", func(t *testing.T) {
		m := normalizeMessage(&wireMessage{SenderID: "u2", Status: "PENDING"})
		assert.Equal(t, MessageSent, m.Status)
	})

	t.Run("known fields pass through", func(t *testing.T) {
		ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		m := normalizeMessage(&wireMessage{
			SenderID: "u2", Status: "READ", Timestamp: ts,
			Reactions: []Reaction{{UserID: "u1", Emoji: "x"}, {UserID: "u1", Emoji: "x"}},
		})
		assert.Equal(t, MessageRead, m.Status)
		assert.Equal(t, ts, m.Timestamp)
		assert.Len(t, m.Reactions, 1)
	})
}

func TestNormalizePost(t *testing.T) {
	t.Run("category normalized and hasLiked computed", func(t *testing.T) {
		p := normalizePost(&wirePost{
			AuthorID: "u2",
			Category: "yoga",
			Likes:    []string{"user-1", "u3"},
		}, "user-1")
		assert.Equal(t, CategoryGeneral, p.Category)
		assert.True(t, p.HasLiked)
	})

	t.Run("case insensitive category", func(t *testing.T) {
		p := normalizePost(&wirePost{AuthorID: "u2", Category: "workout"}, "user-1")
		assert.Equal(t, CategoryWorkout, p.Category)
	})

	t.Run("nil likes become empty list", func(t *testing.T) {
		p := normalizePost(&wirePost{AuthorID: "u2"}, "user-1")
		assert.NotNil(t, p.Likes)
		assert.False(t, p.HasLiked)
	})
}

func TestNormalizeNotification(t *testing.T) {
	t.Run("unknown type maps to info", func(t *testing.T) {
		n := normalizeNotification(&wireNotification{ID: "n-1", Type: "URGENT"})
		assert.Equal(t, NotificationInfo, n.Type)
	})

	t.Run("zero createdAt defaults to now", func(t *testing.T) {
		n := normalizeNotification(&wireNotification{ID: "n-1"})
		assert.WithinDuration(t, time.Now(), n.CreatedAt, time.Minute)
	})
}
