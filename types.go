package coachlink

import (
	"encoding/json"
	"strings"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Result is the generic API response envelope.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Meta  map[string]any  `json:"meta,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Identity
// ============================================================================

// Role is the authenticated role of a session.
type Role string

const (
	RoleClient  Role = "client"
	RoleTrainer Role = "trainer"
	RoleAdmin   Role = "admin"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleTrainer, RoleAdmin:
		return true
	}
	return false
}

// Identity is the authenticated identity a session is bound to.
// Token is optional; when empty the raw UserID is announced instead.
type Identity struct {
	UserID      string
	Role        Role
	Token       string
	DisplayName string
}

// ConnectionStatus represents the realtime connection state.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// ============================================================================
// Messages
// ============================================================================

// MessageStatus is the delivery state of a direct message.
type MessageStatus string

const (
	MessageSent      MessageStatus = "SENT"
	MessageDelivered MessageStatus = "DELIVERED"
	MessageRead      MessageStatus = "READ"
)

// Media describes an attachment on a message.
type Media struct {
	Type string `json:"type"`
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

// Reaction is a single emoji reaction on a message, keyed by (UserID, Emoji).
type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

// Message is a direct message. A locally created message carries only TempID
// until the server confirms it, at which point the confirmed record replaces
// it in place (same logical message, never a second row).
type Message struct {
	ID         string        `json:"id,omitempty"`
	TempID     string        `json:"tempId,omitempty"`
	SenderID   string        `json:"senderId"`
	ReceiverID string        `json:"receiverId,omitempty"`
	Text       string        `json:"text,omitempty"`
	Status     MessageStatus `json:"status"`
	Timestamp  time.Time     `json:"timestamp"`
	Media      *Media        `json:"media,omitempty"`
	ReplyToID  string        `json:"replyToId,omitempty"`
	Reactions  []Reaction    `json:"reactions,omitempty"`
	Deleted    bool          `json:"deleted,omitempty"`
	ReadAt     *time.Time    `json:"readAt,omitempty"`
}

// Matches reports whether incoming describes the same logical message as m.
func (m *Message) Matches(incoming Message) bool {
	if incoming.ID != "" && incoming.ID == m.ID {
		return true
	}
	if incoming.TempID != "" && (incoming.TempID == m.ID || incoming.TempID == m.TempID) {
		return true
	}
	return false
}

// ============================================================================
// Community Feed
// ============================================================================

// PostCategory classifies a community post. Unknown categories normalize to
// CategoryGeneral at the channel boundary.
type PostCategory string

const (
	CategoryGeneral      PostCategory = "GENERAL"
	CategoryWorkout      PostCategory = "WORKOUT"
	CategoryNutrition    PostCategory = "NUTRITION"
	CategoryProgress     PostCategory = "PROGRESS"
	CategoryMotivation   PostCategory = "MOTIVATION"
	CategoryAnnouncement PostCategory = "ANNOUNCEMENT"
)

// NormalizeCategory maps arbitrary wire values onto the fixed enumeration,
// case-insensitively.
func NormalizeCategory(v string) PostCategory {
	switch PostCategory(strings.ToUpper(v)) {
	case CategoryGeneral, CategoryWorkout, CategoryNutrition,
		CategoryProgress, CategoryMotivation, CategoryAnnouncement:
		return PostCategory(strings.ToUpper(v))
	}
	return CategoryGeneral
}

// AuthorProfile is a denormalized snapshot of a post author.
type AuthorProfile struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// CommunityPost is a post in the community feed. The optimistic/confirmed
// reconciliation rules mirror Message.
type CommunityPost struct {
	ID           string         `json:"id,omitempty"`
	TempID       string         `json:"tempId,omitempty"`
	AuthorID     string         `json:"authorId"`
	Author       *AuthorProfile `json:"author,omitempty"`
	TextContent  string         `json:"textContent"`
	MediaURL     string         `json:"mediaUrl,omitempty"`
	Category     PostCategory   `json:"category"`
	Likes        []string       `json:"likes"`
	HasLiked     bool           `json:"hasLiked"`
	CommentCount int            `json:"commentCount"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt,omitempty"`
	IsDeleted    bool           `json:"isDeleted,omitempty"`
	Reports      int            `json:"reports,omitempty"`
}

// Matches reports whether incoming describes the same logical post as p.
func (p *CommunityPost) Matches(incoming CommunityPost) bool {
	if incoming.ID != "" && incoming.ID == p.ID {
		return true
	}
	if incoming.TempID != "" && (incoming.TempID == p.ID || incoming.TempID == p.TempID) {
		return true
	}
	return false
}

// ============================================================================
// Notifications
// ============================================================================

// NotificationType is the severity class of a notification.
type NotificationType string

const (
	NotificationInfo    NotificationType = "INFO"
	NotificationWarning NotificationType = "WARNING"
	NotificationError   NotificationType = "ERROR"
	NotificationSuccess NotificationType = "SUCCESS"
)

// Notification is a single user notification. IsTemporary marks a
// client-originated record awaiting its server-confirmed counterpart.
type Notification struct {
	ID          string           `json:"id"`
	UserID      string           `json:"userId,omitempty"`
	Title       string           `json:"title"`
	Message     string           `json:"message,omitempty"`
	Type        NotificationType `json:"type"`
	IsRead      bool             `json:"isRead"`
	CreatedAt   time.Time        `json:"createdAt"`
	IsTemporary bool             `json:"isTemporary,omitempty"`
}

// NotificationPage is the REST response for a paginated notification fetch.
type NotificationPage struct {
	Notifications []Notification `json:"notifications"`
	TotalCount    int            `json:"totalCount"`
	UnreadCount   int            `json:"unreadCount"`
	HasMore       bool           `json:"hasMore"`
}

// ============================================================================
// Presence
// ============================================================================

// PresenceState is the online/offline state of a user.
type PresenceState string

const (
	PresenceOnline  PresenceState = "online"
	PresenceOffline PresenceState = "offline"
)

// UserStatus is the last known presence of a user, last-write-wins per user.
type UserStatus struct {
	UserID   string        `json:"userId"`
	Status   PresenceState `json:"status"`
	LastSeen *time.Time    `json:"lastSeen,omitempty"`
}

// ============================================================================
// Video Calls
// ============================================================================

// VideoCallStatus is the server-side state of a booked video call.
type VideoCallStatus string

const (
	VideoCallScheduled VideoCallStatus = "SCHEDULED"
	VideoCallStarted   VideoCallStatus = "STARTED"
	VideoCallEnded     VideoCallStatus = "ENDED"
)

// VideoCall is the REST representation of a bookable video call slot.
type VideoCall struct {
	SlotID    string          `json:"slotId"`
	TrainerID string          `json:"trainerId,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
	RoomName  string          `json:"roomName,omitempty"`
	Status    VideoCallStatus `json:"videoCallStatus"`
	StartsAt  time.Time       `json:"startsAt,omitempty"`
}
