package coachlink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedStoreSnapshot(t *testing.T) {
	em := newFakeEmitter()
	store := NewFeedStore(em, testIdentity)

	store.ApplyNewPost(CommunityPost{ID: "p-old", AuthorID: "u2"})
	store.ApplySnapshot([]CommunityPost{
		{ID: "p-1", AuthorID: "u2"},
		{ID: "p-2", AuthorID: "u3"},
	})

	posts := store.Snapshot()
	require.Len(t, posts, 2)
	assert.Equal(t, "p-1", posts[0].ID)
}

func TestFeedStoreNewPost(t *testing.T) {
	t.Run("broadcast prepends", func(t *testing.T) {
		em := newFakeEmitter()
		store := NewFeedStore(em, testIdentity)
		store.ApplySnapshot([]CommunityPost{{ID: "p-1", AuthorID: "u2"}})

		store.ApplyNewPost(CommunityPost{ID: "p-2", AuthorID: "u3"})

		posts := store.Snapshot()
		require.Len(t, posts, 2)
		assert.Equal(t, "p-2", posts[0].ID)
	})

	t.Run("echo reconciles optimistic post in place", func(t *testing.T) {
		em := newFakeEmitter()
		store := NewFeedStore(em, testIdentity)

		local, err := store.AddLocalPost(NewPostInput{TextContent: "leg day", Category: CategoryWorkout})
		require.NoError(t, err)
		require.NotEmpty(t, local.TempID)

		store.ApplyNewPost(CommunityPost{
			ID:          "p-srv",
			TempID:      local.TempID,
			AuthorID:    "user-1",
			TextContent: "leg day",
			Category:    CategoryWorkout,
			CreatedAt:   time.Now(),
		})

		posts := store.Snapshot()
		require.Len(t, posts, 1)
		assert.Equal(t, "p-srv", posts[0].ID)
	})

	t.Run("redelivery does not duplicate", func(t *testing.T) {
		em := newFakeEmitter()
		store := NewFeedStore(em, testIdentity)
		p := CommunityPost{ID: "p-1", AuthorID: "u2"}
		store.ApplyNewPost(p)
		store.ApplyNewPost(p)
		assert.Len(t, store.Snapshot(), 1)
	})

	t.Run("disconnected local post is rejected", func(t *testing.T) {
		em := newFakeEmitter()
		em.setStatus(StatusDisconnected)
		store := NewFeedStore(em, testIdentity)
		_, err := store.AddLocalPost(NewPostInput{TextContent: "x"})
		assert.ErrorIs(t, err, ErrNotConnected)
		assert.Empty(t, store.Snapshot())
	})
}

func TestFeedStorePostDeleted(t *testing.T) {
	em := newFakeEmitter()
	store := NewFeedStore(em, testIdentity)
	store.ApplySnapshot([]CommunityPost{{ID: "p-1", AuthorID: "u2"}})

	store.ApplyPostDeleted("p-1")

	posts := store.Snapshot()
	require.Len(t, posts, 1)
	assert.True(t, posts[0].IsDeleted)
}

func TestFeedStorePostLiked(t *testing.T) {
	t.Run("like list replaces wholesale and recomputes hasLiked", func(t *testing.T) {
		em := newFakeEmitter()
		store := NewFeedStore(em, testIdentity)
		store.ApplySnapshot([]CommunityPost{
			{ID: "p-1", AuthorID: "u2", Likes: []string{"u3"}},
			{ID: "p-2", AuthorID: "u2", Likes: []string{"user-1"}, HasLiked: true},
		})

		store.ApplyPostLiked("p-1", []string{"u3", "user-1"})

		posts := store.Snapshot()
		assert.Equal(t, []string{"u3", "user-1"}, posts[0].Likes)
		assert.True(t, posts[0].HasLiked)
		// Other posts untouched.
		assert.True(t, posts[1].HasLiked)
	})

	t.Run("unlike clears hasLiked", func(t *testing.T) {
		em := newFakeEmitter()
		store := NewFeedStore(em, testIdentity)
		store.ApplySnapshot([]CommunityPost{{ID: "p-1", AuthorID: "u2", Likes: []string{"user-1"}, HasLiked: true}})

		store.ApplyPostLiked("p-1", []string{})

		posts := store.Snapshot()
		assert.Empty(t, posts[0].Likes)
		assert.False(t, posts[0].HasLiked)
	})
}

func TestFeedStoreComments(t *testing.T) {
	t.Run("optimistic comment reconciles", func(t *testing.T) {
		em := newFakeEmitter()
		store := NewFeedStore(em, testIdentity)

		local, err := store.SendCommunityMessage("p-1", "nice work")
		require.NoError(t, err)
		assert.Equal(t, "sendCommunityMessage", em.lastEvent())

		store.ApplyCommunityMessage("p-1", Message{
			ID:       "c-srv",
			TempID:   local.TempID,
			SenderID: "user-1",
			Text:     "nice work",
		})

		comments := store.Comments("p-1")
		require.Len(t, comments, 1)
		assert.Equal(t, "c-srv", comments[0].ID)
	})

	t.Run("streams are per post", func(t *testing.T) {
		em := newFakeEmitter()
		store := NewFeedStore(em, testIdentity)

		store.ApplyCommunityMessage("p-1", Message{ID: "c-1", SenderID: "u2", Text: "a"})
		store.ApplyCommunityMessage("p-2", Message{ID: "c-2", SenderID: "u2", Text: "b"})

		assert.Len(t, store.Comments("p-1"), 1)
		assert.Len(t, store.Comments("p-2"), 1)
	})

	t.Run("disconnected comment is rejected", func(t *testing.T) {
		em := newFakeEmitter()
		em.setStatus(StatusDisconnected)
		store := NewFeedStore(em, testIdentity)
		_, err := store.SendCommunityMessage("p-1", "x")
		assert.ErrorIs(t, err, ErrNotConnected)
		assert.Empty(t, store.Comments("p-1"))
	})
}

func TestFeedStoreClear(t *testing.T) {
	em := newFakeEmitter()
	store := NewFeedStore(em, testIdentity)
	store.ApplySnapshot([]CommunityPost{{ID: "p-1", AuthorID: "u2"}})
	store.ApplyCommunityMessage("p-1", Message{ID: "c-1", SenderID: "u2"})

	store.Clear()
	assert.Empty(t, store.Snapshot())
	assert.Empty(t, store.Comments("p-1"))
}
