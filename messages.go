package coachlink

import (
	"sync"
	"time"
)

// SendMessageInput describes an outgoing direct message.
type SendMessageInput struct {
	ReceiverID string
	Text       string
	Media      *Media
	ReplyToID  string
}

// MessageStore holds the direct-message timeline for the active chat and
// reconciles optimistic local copies with server-confirmed ones.
//
// Sends are optimistic: the message appears in the store immediately with a
// temp id, and the confirmed copy replaces it in place when the server
// echoes the send back.
type MessageStore struct {
	*notifier
	em   Emitter
	self Identity

	mu       sync.Mutex
	messages []Message
}

// NewMessageStore creates an empty message store bound to the given emitter.
func NewMessageStore(em Emitter, self Identity) *MessageStore {
	return &MessageStore{
		notifier: newNotifier(),
		em:       em,
		self:     self,
	}
}

// Send appends an optimistic message and emits it. When the connection is
// down the message is NOT inserted and ErrNotConnected is returned; the
// caller decides whether to queue or surface the failure.
func (s *MessageStore) Send(in SendMessageInput) (Message, error) {
	if s.em.Status() != StatusConnected {
		return Message{}, ErrNotConnected
	}

	msg := Message{
		TempID:     newTempID(),
		SenderID:   s.self.UserID,
		ReceiverID: in.ReceiverID,
		Text:       in.Text,
		Media:      in.Media,
		ReplyToID:  in.ReplyToID,
		Status:     MessageSent,
		Timestamp:  time.Now().UTC(),
	}

	payload := map[string]any{
		"tempId":     msg.TempID,
		"senderId":   msg.SenderID,
		"receiverId": msg.ReceiverID,
		"text":       msg.Text,
	}
	if msg.Media != nil {
		payload["media"] = msg.Media
	}
	if msg.ReplyToID != "" {
		payload["replyToId"] = msg.ReplyToID
	}
	if err := s.em.Emit("sendMessage", payload); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.notify("message.new", msg)
	return msg, nil
}

// ApplyIncoming reconciles a server-delivered message with the timeline.
// A message matching an existing entry (by id or temp id) replaces it in
// place, preserving position; anything else is appended.
func (s *MessageStore) ApplyIncoming(m Message) {
	s.mu.Lock()
	replaced := false
	for i := range s.messages {
		if s.messages[i].Matches(m) {
			s.messages[i] = m
			replaced = true
			break
		}
	}
	if !replaced {
		s.messages = append(s.messages, m)
	}
	s.mu.Unlock()

	if replaced {
		s.notify("message.updated", m)
	} else {
		s.notify("message.new", m)
	}
}

// Delete soft-deletes a message locally and announces the deletion. The
// entry stays in the timeline with its Deleted flag set so the tombstone
// renders in order.
func (s *MessageStore) Delete(messageID, receiverID string) error {
	if err := s.em.Emit("deleteMessage", map[string]string{
		"messageId":  messageID,
		"receiverId": receiverID,
	}); err != nil {
		return err
	}
	s.ApplyDeleted(messageID)
	return nil
}

// ApplyDeleted marks the matching message as deleted. Unknown ids are
// ignored; the deletion may race a timeline that never held the message.
func (s *MessageStore) ApplyDeleted(messageID string) {
	s.mu.Lock()
	var deleted *Message
	for i := range s.messages {
		if s.messages[i].ID == messageID || s.messages[i].TempID == messageID {
			s.messages[i].Deleted = true
			d := s.messages[i]
			deleted = &d
			break
		}
	}
	s.mu.Unlock()
	if deleted != nil {
		s.notify("message.deleted", *deleted)
	}
}

// AddReaction announces a reaction. The store does not update locally; the
// server broadcasts the authoritative reaction list back.
func (s *MessageStore) AddReaction(messageID, emoji string) error {
	return s.em.Emit("addReaction", map[string]string{
		"messageId": messageID,
		"userId":    s.self.UserID,
		"emoji":     emoji,
	})
}

// RemoveReaction announces a reaction removal.
func (s *MessageStore) RemoveReaction(messageID, emoji string) error {
	return s.em.Emit("removeReaction", map[string]string{
		"messageId": messageID,
		"userId":    s.self.UserID,
		"emoji":     emoji,
	})
}

// ApplyReactions replaces the reaction list of the matching message
// wholesale with the server's authoritative copy.
func (s *MessageStore) ApplyReactions(messageID string, reactions []Reaction) {
	s.mu.Lock()
	var updated *Message
	for i := range s.messages {
		if s.messages[i].ID == messageID || s.messages[i].TempID == messageID {
			s.messages[i].Reactions = dedupeReactions(reactions)
			u := s.messages[i]
			updated = &u
			break
		}
	}
	s.mu.Unlock()
	if updated != nil {
		s.notify("message.reactions", *updated)
	}
}

// MarkRead announces that messages from partnerID to the current user have
// been read. The local flip happens when the server broadcasts
// messagesRead back, so both sides converge on the same read state.
func (s *MessageStore) MarkRead(partnerID string) error {
	return s.em.Emit("markAsRead", map[string]string{
		"senderId":   partnerID,
		"receiverId": s.self.UserID,
	})
}

// ApplyMessagesRead flips every not-yet-read message in the sender→receiver
// direction to READ.
func (s *MessageStore) ApplyMessagesRead(senderID, receiverID string, readAt *time.Time) {
	at := time.Now().UTC()
	if readAt != nil {
		at = *readAt
	}

	s.mu.Lock()
	changed := 0
	for i := range s.messages {
		m := &s.messages[i]
		if m.SenderID == senderID && m.ReceiverID == receiverID && m.Status != MessageRead {
			m.Status = MessageRead
			t := at
			m.ReadAt = &t
			changed++
		}
	}
	s.mu.Unlock()
	if changed > 0 {
		s.notify("message.read", map[string]any{
			"senderId":   senderID,
			"receiverId": receiverID,
			"count":      changed,
		})
	}
}

// Snapshot returns a copy of the timeline in insertion order.
func (s *MessageStore) Snapshot() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages in the timeline, tombstones included.
func (s *MessageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Clear empties the timeline, for chat switches and teardown.
func (s *MessageStore) Clear() {
	s.mu.Lock()
	s.messages = nil
	s.mu.Unlock()
	s.notify("message.cleared", nil)
}
