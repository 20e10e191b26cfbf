package coachlink

import (
	"sync"
	"time"
)

// NewPostInput describes an outgoing community post.
type NewPostInput struct {
	TextContent string
	MediaURL    string
	Category    PostCategory
}

// FeedStore holds the community feed: posts newest-first, plus the comment
// stream of any post the user has opened. Like message sends, local writes
// are optimistic and reconciled against the server broadcast.
type FeedStore struct {
	*notifier
	em   Emitter
	self Identity

	mu       sync.Mutex
	posts    []CommunityPost
	comments map[string][]Message
}

// NewFeedStore creates an empty feed store bound to the given emitter.
func NewFeedStore(em Emitter, self Identity) *FeedStore {
	return &FeedStore{
		notifier: newNotifier(),
		em:       em,
		self:     self,
		comments: make(map[string][]Message),
	}
}

// ApplySnapshot replaces the whole feed with a server snapshot, as
// delivered after joining the community room.
func (s *FeedStore) ApplySnapshot(posts []CommunityPost) {
	s.mu.Lock()
	s.posts = make([]CommunityPost, len(posts))
	copy(s.posts, posts)
	s.mu.Unlock()
	s.notify("feed.snapshot", s.Snapshot())
}

// AddLocalPost prepends an optimistic post authored by the current user.
// Returns ErrNotConnected without inserting when the connection is down.
func (s *FeedStore) AddLocalPost(in NewPostInput) (CommunityPost, error) {
	if s.em.Status() != StatusConnected {
		return CommunityPost{}, ErrNotConnected
	}

	post := CommunityPost{
		TempID:      newTempID(),
		AuthorID:    s.self.UserID,
		Author:      &AuthorProfile{ID: s.self.UserID, Name: s.self.DisplayName},
		TextContent: in.TextContent,
		MediaURL:    in.MediaURL,
		Category:    NormalizeCategory(string(in.Category)),
		Likes:       []string{},
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.posts = append([]CommunityPost{post}, s.posts...)
	s.mu.Unlock()
	s.notify("post.new", post)
	return post, nil
}

// ApplyNewPost reconciles a broadcast post. A post matching an existing
// entry (by id or temp id) replaces it in place; new posts are prepended so
// the feed stays newest-first.
func (s *FeedStore) ApplyNewPost(p CommunityPost) {
	s.mu.Lock()
	replaced := false
	for i := range s.posts {
		if s.posts[i].Matches(p) {
			s.posts[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		s.posts = append([]CommunityPost{p}, s.posts...)
	}
	s.mu.Unlock()

	if replaced {
		s.notify("post.updated", p)
	} else {
		s.notify("post.new", p)
	}
}

// ApplyPostDeleted soft-deletes the matching post. The entry stays in the
// feed so comment streams referencing it remain resolvable.
func (s *FeedStore) ApplyPostDeleted(postID string) {
	s.mu.Lock()
	var deleted *CommunityPost
	for i := range s.posts {
		if s.posts[i].ID == postID || s.posts[i].TempID == postID {
			s.posts[i].IsDeleted = true
			d := s.posts[i]
			deleted = &d
			break
		}
	}
	s.mu.Unlock()
	if deleted != nil {
		s.notify("post.deleted", *deleted)
	}
}

// ApplyPostLiked replaces the like list of the matching post wholesale and
// recomputes HasLiked for the current user. Other posts are untouched.
func (s *FeedStore) ApplyPostLiked(postID string, likes []string) {
	if likes == nil {
		likes = []string{}
	}
	s.mu.Lock()
	var updated *CommunityPost
	for i := range s.posts {
		if s.posts[i].ID == postID || s.posts[i].TempID == postID {
			s.posts[i].Likes = likes
			s.posts[i].HasLiked = containsString(likes, s.self.UserID)
			u := s.posts[i]
			updated = &u
			break
		}
	}
	s.mu.Unlock()
	if updated != nil {
		s.notify("post.liked", *updated)
	}
}

// SendCommunityMessage appends an optimistic comment under a post and emits
// it. Returns ErrNotConnected without inserting when the connection is
// down.
func (s *FeedStore) SendCommunityMessage(postID, text string) (Message, error) {
	if s.em.Status() != StatusConnected {
		return Message{}, ErrNotConnected
	}

	msg := Message{
		TempID:    newTempID(),
		SenderID:  s.self.UserID,
		Text:      text,
		Status:    MessageSent,
		Timestamp: time.Now().UTC(),
	}

	if err := s.em.Emit("sendCommunityMessage", map[string]any{
		"postId":   postID,
		"tempId":   msg.TempID,
		"senderId": msg.SenderID,
		"role":     string(s.self.Role),
		"text":     msg.Text,
	}); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	s.comments[postID] = append(s.comments[postID], msg)
	s.mu.Unlock()
	s.notify("comment.new", msg)
	return msg, nil
}

// ApplyCommunityMessage reconciles a broadcast comment into the per-post
// stream, matching by id or temp id like the direct-message timeline.
func (s *FeedStore) ApplyCommunityMessage(postID string, m Message) {
	s.mu.Lock()
	stream := s.comments[postID]
	replaced := false
	for i := range stream {
		if stream[i].Matches(m) {
			stream[i] = m
			replaced = true
			break
		}
	}
	if !replaced {
		s.comments[postID] = append(stream, m)
	}
	s.mu.Unlock()

	if replaced {
		s.notify("comment.updated", m)
	} else {
		s.notify("comment.new", m)
	}
}

// Snapshot returns a copy of the feed, newest-first.
func (s *FeedStore) Snapshot() []CommunityPost {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CommunityPost, len(s.posts))
	copy(out, s.posts)
	return out
}

// Comments returns a copy of the comment stream for a post.
func (s *FeedStore) Comments(postID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream := s.comments[postID]
	out := make([]Message, len(stream))
	copy(out, stream)
	return out
}

// Clear empties the feed and all comment streams.
func (s *FeedStore) Clear() {
	s.mu.Lock()
	s.posts = nil
	s.comments = make(map[string][]Message)
	s.mu.Unlock()
	s.notify("feed.cleared", nil)
}
