package coachlink

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// The channel boundary is the only place wire payloads are decoded. Every
// inbound event is validated and defaulted here into a fully-typed record;
// call sites downstream never see raw JSON or missing fields.

var validate = validator.New(validator.WithRequiredStructEnabled())

// Envelope is the wire format for all realtime events in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID string          `json:"ackId,omitempty"`
}

// decodePayload unmarshals and validates a wire payload.
func decodePayload[T any](event string, raw json.RawMessage) (*T, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%s: malformed payload: %w", event, err)
	}
	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("%s: invalid payload: %w", event, err)
	}
	return &p, nil
}

// ============================================================================
// Wire payload shapes
// ============================================================================

type wireMessage struct {
	ID         string     `json:"id"`
	TempID     string     `json:"tempId"`
	SenderID   string     `json:"senderId" validate:"required"`
	ReceiverID string     `json:"receiverId"`
	Text       string     `json:"text"`
	Status     string     `json:"status"`
	Timestamp  time.Time  `json:"timestamp"`
	Media      *Media     `json:"media"`
	ReplyToID  string     `json:"replyToId"`
	Reactions  []Reaction `json:"reactions"`
	Deleted    bool       `json:"deleted"`
	ReadAt     *time.Time `json:"readAt"`
}

type wirePost struct {
	ID           string         `json:"id"`
	TempID       string         `json:"tempId"`
	AuthorID     string         `json:"authorId" validate:"required"`
	Author       *AuthorProfile `json:"author"`
	TextContent  string         `json:"textContent"`
	MediaURL     string         `json:"mediaUrl"`
	Category     string         `json:"category"`
	Likes        []string       `json:"likes"`
	CommentCount int            `json:"commentCount"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	IsDeleted    bool           `json:"isDeleted"`
	Reports      int            `json:"reports"`
}

type wireNotification struct {
	ID        string    `json:"id" validate:"required"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

type wireTyping struct {
	ChatID string `json:"chatId" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

type wireUserStatus struct {
	UserID   string     `json:"userId" validate:"required"`
	Status   string     `json:"status" validate:"required,oneof=online offline"`
	LastSeen *time.Time `json:"lastSeen"`
}

type wireMessagesRead struct {
	SenderID   string     `json:"senderId" validate:"required"`
	ReceiverID string     `json:"receiverId" validate:"required"`
	ReadAt     *time.Time `json:"readAt"`
}

type wireReactionUpdate struct {
	MessageID string     `json:"messageId" validate:"required"`
	Reactions []Reaction `json:"reactions"`
}

type wireMessageDeleted struct {
	MessageID string `json:"messageId" validate:"required"`
}

type wirePostDeleted struct {
	PostID string `json:"postId" validate:"required"`
}

type wirePostLiked struct {
	PostID string   `json:"postId" validate:"required"`
	Likes  []string `json:"likes"`
}

type wireCommunityMessage struct {
	PostID  string      `json:"postId" validate:"required"`
	Message wireMessage `json:"message" validate:"required"`
}

type wireVideoCallEvent struct {
	SlotID   string `json:"slotId" validate:"required"`
	RoomName string `json:"roomName"`
	Status   string `json:"videoCallStatus"`
}

type wireRegisterSuccess struct {
	UserID string `json:"userId" validate:"required"`
}

type wireError struct {
	Message string `json:"message"`
}

// ============================================================================
// Normalization
// ============================================================================

func normalizeMessage(w *wireMessage) Message {
	status := MessageStatus(w.Status)
	switch status {
	case MessageSent, MessageDelivered, MessageRead:
	default:
		status = MessageSent
	}
	ts := w.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return Message{
		ID:         w.ID,
		TempID:     w.TempID,
		SenderID:   w.SenderID,
		ReceiverID: w.ReceiverID,
		Text:       w.Text,
		Status:     status,
		Timestamp:  ts,
		Media:      w.Media,
		ReplyToID:  w.ReplyToID,
		Reactions:  dedupeReactions(w.Reactions),
		Deleted:    w.Deleted,
		ReadAt:     w.ReadAt,
	}
}

func normalizePost(w *wirePost, currentUserID string) CommunityPost {
	createdAt := w.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	likes := w.Likes
	if likes == nil {
		likes = []string{}
	}
	return CommunityPost{
		ID:           w.ID,
		TempID:       w.TempID,
		AuthorID:     w.AuthorID,
		Author:       w.Author,
		TextContent:  w.TextContent,
		MediaURL:     w.MediaURL,
		Category:     NormalizeCategory(w.Category),
		Likes:        likes,
		HasLiked:     containsString(likes, currentUserID),
		CommentCount: w.CommentCount,
		CreatedAt:    createdAt,
		UpdatedAt:    w.UpdatedAt,
		IsDeleted:    w.IsDeleted,
		Reports:      w.Reports,
	}
}

func normalizeNotification(w *wireNotification) Notification {
	ntype := NotificationType(w.Type)
	switch ntype {
	case NotificationInfo, NotificationWarning, NotificationError, NotificationSuccess:
	default:
		ntype = NotificationInfo
	}
	createdAt := w.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return Notification{
		ID:        w.ID,
		UserID:    w.UserID,
		Title:     w.Title,
		Message:   w.Message,
		Type:      ntype,
		IsRead:    w.IsRead,
		CreatedAt: createdAt,
	}
}

// dedupeReactions drops duplicate (userId, emoji) pairs from a redelivered
// reaction list, keeping first occurrence order.
func dedupeReactions(in []Reaction) []Reaction {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[Reaction]struct{}, len(in))
	out := make([]Reaction, 0, len(in))
	for _, r := range in {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
