package coachlink

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	typingTTL      time.Duration
	unreadStrategy UnreadStrategy
	toast          ToastFunc
	connConfig     ConnConfig
}

// WithTypingTTL overrides the typing indicator expiry.
func WithTypingTTL(ttl time.Duration) SessionOption {
	return func(c *sessionConfig) { c.typingTTL = ttl }
}

// WithSessionUnreadStrategy selects the unread counting strategy.
func WithSessionUnreadStrategy(s UnreadStrategy) SessionOption {
	return func(c *sessionConfig) { c.unreadStrategy = s }
}

// WithSessionToast registers the toast callback for notifications.
func WithSessionToast(fn ToastFunc) SessionOption {
	return func(c *sessionConfig) { c.toast = fn }
}

// WithConnConfig overrides the realtime connection settings. Identity and
// BaseURL are filled in by NewSession.
func WithConnConfig(cc ConnConfig) SessionOption {
	return func(c *sessionConfig) { c.connConfig = cc }
}

// Session is the top-level realtime session: one connection, one set of
// stores, wired together. Events flowing in from the connection update the
// stores; store writes flow back out through the connection.
//
//	api := coachlink.NewClient(token)
//	sess, err := coachlink.NewSession(api, coachlink.Identity{
//		UserID: "u-1", Role: coachlink.RoleClient, Token: token,
//	})
//	if err != nil { ... }
//	defer sess.Close()
//	if err := sess.Start(ctx); err != nil { ... }
type Session struct {
	API           *Client
	Conn          *Conn
	Messages      *MessageStore
	Feed          *FeedStore
	Presence      *PresenceTracker
	Notifications *NotificationStore

	identity Identity

	mu    sync.Mutex
	calls map[string]*CallSession
}

// NewSession builds a session for the identity. It validates the identity,
// constructs the connection and stores, and wires the event handlers; the
// socket is not dialed until Start.
func NewSession(api *Client, identity Identity, opts ...SessionOption) (*Session, error) {
	if identity.UserID == "" {
		return nil, fmt.Errorf("coachlink: identity userId is required")
	}
	if !identity.Role.Valid() {
		return nil, fmt.Errorf("coachlink: invalid role %q", identity.Role)
	}

	cfg := sessionConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.connConfig.Identity = identity
	if cfg.connConfig.BaseURL == "" {
		cfg.connConfig.BaseURL = api.BaseURL()
	}
	cfg.connConfig.AutoReconnect = true

	conn, err := NewConn(cfg.connConfig)
	if err != nil {
		return nil, err
	}

	s := &Session{
		API:      api,
		Conn:     conn,
		identity: identity,
		calls:    make(map[string]*CallSession),
	}
	s.Messages = NewMessageStore(conn, identity)
	s.Feed = NewFeedStore(conn, identity)
	s.Presence = NewPresenceTracker(conn, cfg.typingTTL)

	var nopts []NotificationOption
	nopts = append(nopts, WithUnreadStrategy(cfg.unreadStrategy))
	if cfg.toast != nil {
		nopts = append(nopts, WithToast(cfg.toast))
	}
	s.Notifications = NewNotificationStore(api, conn, identity, nopts...)

	s.wire()
	return s, nil
}

// wire connects every inbound event to its store. Handlers run on the read
// loop, so stores see events in arrival order.
func (s *Session) wire() {
	c := s.Conn

	c.OnMessage(s.Messages.ApplyIncoming)
	c.OnMessageDeleted(s.Messages.ApplyDeleted)
	c.OnReactions(s.Messages.ApplyReactions)
	c.OnMessagesRead(s.Messages.ApplyMessagesRead)

	c.OnPosts(s.Feed.ApplySnapshot)
	c.OnNewPost(s.Feed.ApplyNewPost)
	c.OnPostDeleted(s.Feed.ApplyPostDeleted)
	c.OnPostLiked(s.Feed.ApplyPostLiked)
	c.OnCommunityMessage(s.Feed.ApplyCommunityMessage)

	c.OnTyping(s.Presence.ApplyTyping)
	c.OnStopTyping(s.Presence.ApplyStopTyping)
	c.OnUserStatus(s.Presence.ApplyUserStatus)

	c.OnNotification(s.Notifications.ApplyIncoming)
	c.OnMissedNotifications(s.Notifications.ApplyMissed)
	c.OnProtocolError(s.Notifications.HandleTransportError)

	c.OnVideoCallStarted(func(slotID, roomName string) {
		if call := s.call(slotID); call != nil {
			call.HandleStarted(slotID, roomName)
		}
	})
	c.OnVideoCallJoined(func(slotID string) {
		if call := s.call(slotID); call != nil {
			call.HandleJoined(slotID)
		}
	})
	c.OnVideoCallEnded(func(slotID string, status VideoCallStatus) {
		if call := s.call(slotID); call != nil {
			call.HandleEnded(slotID, status)
		}
	})
}

// Start dials the realtime connection and loads the first notification
// page. Safe to call once; reconnects after that are automatic.
func (s *Session) Start(ctx context.Context) error {
	if err := s.Conn.Connect(ctx); err != nil {
		return err
	}
	if _, err := s.Notifications.Fetch(ctx, 1, 10); err != nil {
		// The socket is up; notifications converge on the next fetch or
		// via live delivery.
		return nil
	}
	return nil
}

// OpenCall returns the call session for a slot, creating it on first use.
func (s *Session) OpenCall(slotID string, opts ...CallOption) *CallSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if call, ok := s.calls[slotID]; ok {
		return call
	}
	call := NewCallSession(s.API, s.Conn, s.identity, slotID, opts...)
	s.calls[slotID] = call
	return call
}

func (s *Session) call(slotID string) *CallSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[slotID]
}

// Close tears the session down: close the socket, stop call sessions, and
// clear every store so no state leaks into the next login.
func (s *Session) Close() error {
	err := s.Conn.Close()

	s.mu.Lock()
	calls := make([]*CallSession, 0, len(s.calls))
	for _, c := range s.calls {
		calls = append(calls, c)
	}
	s.calls = make(map[string]*CallSession)
	s.mu.Unlock()
	for _, c := range calls {
		c.Close()
	}

	s.Messages.Clear()
	s.Feed.Clear()
	s.Presence.Clear()
	s.Notifications.Clear()
	s.Messages.removeAll()
	s.Feed.removeAll()
	s.Presence.removeAll()
	s.Notifications.removeAll()
	return err
}
