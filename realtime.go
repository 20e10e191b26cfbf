package coachlink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ErrNotConnected is returned by socket operations attempted while the
// connection is down. Callers decide whether to surface it or drop the
// operation silently (typing indicators do the latter).
var ErrNotConnected = errors.New("coachlink: not connected")

// Emitter is the narrow socket capability handed to stores. Stores never
// hold a *Conn; they only need to push events out and ask whether the
// connection is up.
type Emitter interface {
	Emit(event string, data any) error
	Status() ConnectionStatus
}

// ============================================================================
// Configuration
// ============================================================================

// DialFunc opens a socket to the realtime endpoint. Overridable for tests.
type DialFunc func(ctx context.Context, url string) (socket, error)

// ConnConfig configures the realtime connection.
type ConnConfig struct {
	BaseURL            string
	Identity           Identity
	AutoReconnect      bool
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	HandshakeTimeout   time.Duration
	AckTimeout         time.Duration
	Dial               DialFunc
}

func (c *ConnConfig) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.Dial == nil {
		c.Dial = dialWebsocket
	}
}

// ============================================================================
// Socket
// ============================================================================

// socket abstracts the underlying transport so the connection logic can be
// driven by a fake in tests.
type socket interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

type wsSocket struct {
	conn *websocket.Conn
}

func dialWebsocket(ctx context.Context, url string) (socket, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsSocket{conn: conn}, nil
}

func (s *wsSocket) Read(ctx context.Context) ([]byte, error) {
	_, data, err := s.conn.Read(ctx)
	return data, err
}

func (s *wsSocket) Write(ctx context.Context, data []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *wsSocket) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

// ============================================================================
// Event Dispatcher
// ============================================================================

// EventHandler is the generic event callback type.
type EventHandler func(event string, data json.RawMessage)

type eventDispatcher struct {
	mu      sync.RWMutex
	generic map[string][]EventHandler

	onStatus           []func(ConnectionStatus)
	onConnected        []func(reconnect bool)
	onDisconnected     []func(reason string)
	onRegisterSuccess  []func(userID string)
	onNotification     []func(Notification)
	onMissed           []func([]Notification)
	onMessage          []func(Message)
	onMessageDeleted   []func(messageID string)
	onReactions        []func(messageID string, reactions []Reaction)
	onMessagesRead     []func(senderID, receiverID string, readAt *time.Time)
	onTyping           []func(chatID, userID string)
	onStopTyping       []func(chatID, userID string)
	onUserStatus       []func(UserStatus)
	onPosts            []func([]CommunityPost)
	onNewPost          []func(CommunityPost)
	onPostDeleted      []func(postID string)
	onPostLiked        []func(postID string, likes []string)
	onCommunityMessage []func(postID string, msg Message)
	onCallStarted      []func(slotID, roomName string)
	onCallJoined       []func(slotID string)
	onCallEnded        []func(slotID string, status VideoCallStatus)
	onProtocolError    []func(message string)
}

func newEventDispatcher() *eventDispatcher {
	return &eventDispatcher{
		generic: make(map[string][]EventHandler),
	}
}

// dispatch decodes and delivers one inbound event. Handlers run on the read
// loop goroutine so events for the same entity are always observed in
// arrival order; a handler that blocks stalls the whole connection.
func (d *eventDispatcher) dispatch(env Envelope, selfID string) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch env.Event {
	case "registerSuccess":
		if p, err := decodePayload[wireRegisterSuccess](env.Event, env.Data); err == nil {
			for _, h := range d.onRegisterSuccess {
				h(p.UserID)
			}
		} else {
			d.protocolError(err)
		}
	case "notification":
		if p, err := decodePayload[wireNotification](env.Event, env.Data); err == nil {
			n := normalizeNotification(p)
			for _, h := range d.onNotification {
				h(n)
			}
		} else {
			d.protocolError(err)
		}
	case "missedNotifications":
		var raw []wireNotification
		if json.Unmarshal(env.Data, &raw) == nil {
			batch := make([]Notification, 0, len(raw))
			for i := range raw {
				if validate.Struct(&raw[i]) == nil {
					batch = append(batch, normalizeNotification(&raw[i]))
				}
			}
			for _, h := range d.onMissed {
				h(batch)
			}
		} else {
			d.protocolError(fmt.Errorf("missedNotifications: malformed payload"))
		}
	case "receiveMessage":
		if p, err := decodePayload[wireMessage](env.Event, env.Data); err == nil {
			m := normalizeMessage(p)
			for _, h := range d.onMessage {
				h(m)
			}
		} else {
			d.protocolError(err)
		}
	case "messageDeleted":
		if p, err := decodePayload[wireMessageDeleted](env.Event, env.Data); err == nil {
			for _, h := range d.onMessageDeleted {
				h(p.MessageID)
			}
		} else {
			d.protocolError(err)
		}
	case "reactionAdded", "reactionRemoved":
		if p, err := decodePayload[wireReactionUpdate](env.Event, env.Data); err == nil {
			reactions := dedupeReactions(p.Reactions)
			for _, h := range d.onReactions {
				h(p.MessageID, reactions)
			}
		} else {
			d.protocolError(err)
		}
	case "messagesRead":
		if p, err := decodePayload[wireMessagesRead](env.Event, env.Data); err == nil {
			for _, h := range d.onMessagesRead {
				h(p.SenderID, p.ReceiverID, p.ReadAt)
			}
		} else {
			d.protocolError(err)
		}
	case "typing":
		if p, err := decodePayload[wireTyping](env.Event, env.Data); err == nil {
			for _, h := range d.onTyping {
				h(p.ChatID, p.UserID)
			}
		} else {
			d.protocolError(err)
		}
	case "stopTyping":
		if p, err := decodePayload[wireTyping](env.Event, env.Data); err == nil {
			for _, h := range d.onStopTyping {
				h(p.ChatID, p.UserID)
			}
		} else {
			d.protocolError(err)
		}
	case "userStatus":
		if p, err := decodePayload[wireUserStatus](env.Event, env.Data); err == nil {
			s := UserStatus{UserID: p.UserID, Status: PresenceState(p.Status), LastSeen: p.LastSeen}
			for _, h := range d.onUserStatus {
				h(s)
			}
		} else {
			d.protocolError(err)
		}
	case "posts":
		var raw []wirePost
		if json.Unmarshal(env.Data, &raw) == nil {
			snapshot := make([]CommunityPost, 0, len(raw))
			for i := range raw {
				if validate.Struct(&raw[i]) == nil {
					snapshot = append(snapshot, normalizePost(&raw[i], selfID))
				}
			}
			for _, h := range d.onPosts {
				h(snapshot)
			}
		} else {
			d.protocolError(fmt.Errorf("posts: malformed payload"))
		}
	case "newPost":
		if p, err := decodePayload[wirePost](env.Event, env.Data); err == nil {
			post := normalizePost(p, selfID)
			for _, h := range d.onNewPost {
				h(post)
			}
		} else {
			d.protocolError(err)
		}
	case "postDeleted":
		if p, err := decodePayload[wirePostDeleted](env.Event, env.Data); err == nil {
			for _, h := range d.onPostDeleted {
				h(p.PostID)
			}
		} else {
			d.protocolError(err)
		}
	case "postLiked":
		if p, err := decodePayload[wirePostLiked](env.Event, env.Data); err == nil {
			for _, h := range d.onPostLiked {
				h(p.PostID, p.Likes)
			}
		} else {
			d.protocolError(err)
		}
	case "receiveCommunityMessage":
		if p, err := decodePayload[wireCommunityMessage](env.Event, env.Data); err == nil {
			m := normalizeMessage(&p.Message)
			for _, h := range d.onCommunityMessage {
				h(p.PostID, m)
			}
		} else {
			d.protocolError(err)
		}
	case "videoCallStarted":
		if p, err := decodePayload[wireVideoCallEvent](env.Event, env.Data); err == nil {
			for _, h := range d.onCallStarted {
				h(p.SlotID, p.RoomName)
			}
		} else {
			d.protocolError(err)
		}
	case "videoCallJoined":
		if p, err := decodePayload[wireVideoCallEvent](env.Event, env.Data); err == nil {
			for _, h := range d.onCallJoined {
				h(p.SlotID)
			}
		} else {
			d.protocolError(err)
		}
	case "videoCallEnded":
		if p, err := decodePayload[wireVideoCallEvent](env.Event, env.Data); err == nil {
			status := VideoCallStatus(p.Status)
			if status == "" {
				status = VideoCallEnded
			}
			for _, h := range d.onCallEnded {
				h(p.SlotID, status)
			}
		} else {
			d.protocolError(err)
		}
	case "error":
		var p wireError
		_ = json.Unmarshal(env.Data, &p)
		if p.Message == "" {
			p.Message = "server error"
		}
		for _, h := range d.onProtocolError {
			h(p.Message)
		}
	}

	for _, h := range d.generic[env.Event] {
		h(env.Event, env.Data)
	}
}

// protocolError is called under the dispatch read lock.
func (d *eventDispatcher) protocolError(err error) {
	for _, h := range d.onProtocolError {
		h(err.Error())
	}
}

func (d *eventDispatcher) emitStatus(s ConnectionStatus) {
	d.mu.RLock()
	handlers := append([]func(ConnectionStatus){}, d.onStatus...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(s)
	}
}

func (d *eventDispatcher) emitConnected(reconnect bool) {
	d.mu.RLock()
	handlers := append([]func(bool){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(reconnect)
	}
}

func (d *eventDispatcher) emitDisconnected(reason string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(reason)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *ConnConfig) *reconnector {
	return &reconnector{
		baseDelay: config.ReconnectBaseDelay,
		maxDelay:  config.ReconnectMaxDelay,
	}
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}

// ============================================================================
// Conn
// ============================================================================

// Conn is the realtime connection: it dials the socket, runs the register
// and room-join handshake, delivers inbound events to registered handlers
// in arrival order, and reconnects with exponential backoff after an
// unexpected drop.
type Conn struct {
	config     *ConnConfig
	dispatcher *eventDispatcher
	recon      *reconnector

	mu               sync.Mutex
	sock             socket
	status           ConnectionStatus
	intentionalClose bool
	everConnected    bool
	reconnecting     bool
	lastConnectedAt  time.Time
	cancelFn         context.CancelFunc

	ackCounter  int
	pendingAcks map[string]chan json.RawMessage
	pendingMu   sync.Mutex
}

// NewConn creates a realtime connection for the given identity. It does not
// dial; call Connect.
func NewConn(config ConnConfig) (*Conn, error) {
	if config.Identity.UserID == "" {
		return nil, fmt.Errorf("coachlink: identity userId is required")
	}
	if !config.Identity.Role.Valid() {
		return nil, fmt.Errorf("coachlink: invalid role %q", config.Identity.Role)
	}
	config.defaults()
	return &Conn{
		config:      &config,
		dispatcher:  newEventDispatcher(),
		recon:       newReconnector(&config),
		status:      StatusDisconnected,
		pendingAcks: make(map[string]chan json.RawMessage),
	}, nil
}

// Handler registration. Handlers run on the read loop goroutine, in event
// arrival order, and must not block.

func (c *Conn) OnStatus(h func(ConnectionStatus)) { c.register(func(d *eventDispatcher) { d.onStatus = append(d.onStatus, h) }) }

// OnConnected fires after the handshake completes. reconnect is false for
// the first successful connection, true for every automatic reconnect.
func (c *Conn) OnConnected(h func(reconnect bool)) {
	c.register(func(d *eventDispatcher) { d.onConnected = append(d.onConnected, h) })
}

func (c *Conn) OnDisconnected(h func(reason string)) {
	c.register(func(d *eventDispatcher) { d.onDisconnected = append(d.onDisconnected, h) })
}

func (c *Conn) OnRegisterSuccess(h func(userID string)) {
	c.register(func(d *eventDispatcher) { d.onRegisterSuccess = append(d.onRegisterSuccess, h) })
}

func (c *Conn) OnNotification(h func(Notification)) {
	c.register(func(d *eventDispatcher) { d.onNotification = append(d.onNotification, h) })
}

func (c *Conn) OnMissedNotifications(h func([]Notification)) {
	c.register(func(d *eventDispatcher) { d.onMissed = append(d.onMissed, h) })
}

func (c *Conn) OnMessage(h func(Message)) {
	c.register(func(d *eventDispatcher) { d.onMessage = append(d.onMessage, h) })
}

func (c *Conn) OnMessageDeleted(h func(messageID string)) {
	c.register(func(d *eventDispatcher) { d.onMessageDeleted = append(d.onMessageDeleted, h) })
}

// OnReactions fires for both reactionAdded and reactionRemoved; the server
// sends the authoritative reaction list either way.
func (c *Conn) OnReactions(h func(messageID string, reactions []Reaction)) {
	c.register(func(d *eventDispatcher) { d.onReactions = append(d.onReactions, h) })
}

func (c *Conn) OnMessagesRead(h func(senderID, receiverID string, readAt *time.Time)) {
	c.register(func(d *eventDispatcher) { d.onMessagesRead = append(d.onMessagesRead, h) })
}

func (c *Conn) OnTyping(h func(chatID, userID string)) {
	c.register(func(d *eventDispatcher) { d.onTyping = append(d.onTyping, h) })
}

func (c *Conn) OnStopTyping(h func(chatID, userID string)) {
	c.register(func(d *eventDispatcher) { d.onStopTyping = append(d.onStopTyping, h) })
}

func (c *Conn) OnUserStatus(h func(UserStatus)) {
	c.register(func(d *eventDispatcher) { d.onUserStatus = append(d.onUserStatus, h) })
}

func (c *Conn) OnPosts(h func([]CommunityPost)) {
	c.register(func(d *eventDispatcher) { d.onPosts = append(d.onPosts, h) })
}

func (c *Conn) OnNewPost(h func(CommunityPost)) {
	c.register(func(d *eventDispatcher) { d.onNewPost = append(d.onNewPost, h) })
}

func (c *Conn) OnPostDeleted(h func(postID string)) {
	c.register(func(d *eventDispatcher) { d.onPostDeleted = append(d.onPostDeleted, h) })
}

func (c *Conn) OnPostLiked(h func(postID string, likes []string)) {
	c.register(func(d *eventDispatcher) { d.onPostLiked = append(d.onPostLiked, h) })
}

func (c *Conn) OnCommunityMessage(h func(postID string, msg Message)) {
	c.register(func(d *eventDispatcher) { d.onCommunityMessage = append(d.onCommunityMessage, h) })
}

func (c *Conn) OnVideoCallStarted(h func(slotID, roomName string)) {
	c.register(func(d *eventDispatcher) { d.onCallStarted = append(d.onCallStarted, h) })
}

func (c *Conn) OnVideoCallJoined(h func(slotID string)) {
	c.register(func(d *eventDispatcher) { d.onCallJoined = append(d.onCallJoined, h) })
}

func (c *Conn) OnVideoCallEnded(h func(slotID string, status VideoCallStatus)) {
	c.register(func(d *eventDispatcher) { d.onCallEnded = append(d.onCallEnded, h) })
}

// OnProtocolError fires for server-sent error events and for inbound
// payloads that fail validation.
func (c *Conn) OnProtocolError(h func(message string)) {
	c.register(func(d *eventDispatcher) { d.onProtocolError = append(d.onProtocolError, h) })
}

// On registers a generic handler for a raw event name.
func (c *Conn) On(event string, h EventHandler) {
	c.register(func(d *eventDispatcher) { d.generic[event] = append(d.generic[event], h) })
}

func (c *Conn) register(fn func(*eventDispatcher)) {
	c.dispatcher.mu.Lock()
	fn(c.dispatcher)
	c.dispatcher.mu.Unlock()
}

// Status returns the current connection status.
func (c *Conn) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Conn) setStatus(s ConnectionStatus) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	c.mu.Unlock()
	if changed {
		c.dispatcher.emitStatus(s)
	}
}

// Connect dials the socket and runs the handshake. On success the read loop
// starts and the method returns; inbound events flow to handlers from then
// on. With AutoReconnect set, a failed attempt also starts the background
// retry loop, so the session converges to connected without the caller
// dialing again.
func (c *Conn) Connect(ctx context.Context) error {
	err := c.connect(ctx)
	if err != nil && c.config.AutoReconnect {
		c.kickReconnect()
	}
	return err
}

func (c *Conn) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusConnected || c.status == StatusConnecting {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusConnecting
	c.intentionalClose = false
	reconnect := c.everConnected
	since := c.lastConnectedAt
	c.mu.Unlock()
	c.dispatcher.emitStatus(StatusConnecting)

	wsURL := strings.Replace(c.config.BaseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/realtime?token=" + c.config.Identity.Token

	sock, err := c.config.Dial(ctx, wsURL)
	if err != nil {
		c.setStatus(StatusDisconnected)
		return err
	}

	if err := c.handshake(ctx, sock); err != nil {
		sock.Close()
		c.setStatus(StatusDisconnected)
		return err
	}

	c.mu.Lock()
	c.sock = sock
	c.status = StatusConnected
	c.everConnected = true
	c.lastConnectedAt = time.Now()
	c.mu.Unlock()
	c.recon.markConnected()
	c.dispatcher.emitStatus(StatusConnected)
	c.dispatcher.emitConnected(reconnect)

	if reconnect {
		// Ask the server to replay anything delivered while we were down.
		_ = c.Emit("requestMissedNotifications", map[string]any{
			"userId": c.config.Identity.UserID,
			"since":  since.UTC().Format(time.RFC3339),
		})
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancelFn = cancel
	c.mu.Unlock()

	go c.readLoop(connCtx, sock)

	return nil
}

// handshake registers the identity and joins the standing rooms. The room
// joins trigger server pushes of their own (the community posts snapshot,
// replayed notifications), so the handshake reads cannot assume the next
// frame is the reply it is waiting for.
func (c *Conn) handshake(ctx context.Context, sock socket) error {
	hsCtx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	defer cancel()

	id := c.config.Identity
	announce := map[string]string{
		"userId": id.UserID,
		"role":   string(id.Role),
	}
	if id.Token != "" {
		announce["token"] = id.Token
	}
	if err := writeEnvelope(hsCtx, sock, "register", announce, ""); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	env, err := c.awaitFrame(hsCtx, sock, func(e Envelope) bool {
		return e.Event == "registerSuccess"
	})
	if err != nil {
		return fmt.Errorf("read register reply: %w", err)
	}
	c.dispatcher.dispatch(env, id.UserID)

	for _, join := range []struct {
		event string
		data  any
	}{
		{"joinNotificationsRoom", map[string]string{"userId": id.UserID}},
		{"joinUserRoom", map[string]string{"userId": id.UserID}},
		{"joinCommunity", map[string]string{"userId": id.UserID}},
	} {
		if err := writeEnvelope(hsCtx, sock, join.event, join.data, ""); err != nil {
			return fmt.Errorf("%s: %w", join.event, err)
		}
	}

	return c.verifyRooms(hsCtx, sock)
}

// verifyRooms asks the server which rooms this socket is in and rejoins any
// of the standing rooms that are missing. Join frames can be lost during the
// handshake race on some proxies.
func (c *Conn) verifyRooms(ctx context.Context, sock socket) error {
	ackID := c.nextAckID()
	if err := writeEnvelope(ctx, sock, "getRooms", nil, ackID); err != nil {
		return fmt.Errorf("getRooms: %w", err)
	}

	env, err := c.awaitFrame(ctx, sock, func(e Envelope) bool {
		return e.AckID == ackID
	})
	if err != nil {
		return fmt.Errorf("read getRooms reply: %w", err)
	}
	var rooms []string
	if err := json.Unmarshal(env.Data, &rooms); err != nil {
		return fmt.Errorf("getRooms: malformed room list")
	}

	id := c.config.Identity
	required := map[string]struct {
		event string
		data  any
	}{
		"notifications:" + id.UserID: {"joinNotificationsRoom", map[string]string{"userId": id.UserID}},
		"user:" + id.UserID:          {"joinUserRoom", map[string]string{"userId": id.UserID}},
		"community":                  {"joinCommunity", map[string]string{"userId": id.UserID}},
	}
	for _, room := range rooms {
		delete(required, room)
	}
	for _, join := range required {
		if err := writeEnvelope(ctx, sock, join.event, join.data, ""); err != nil {
			return fmt.Errorf("rejoin %s: %w", join.event, err)
		}
	}
	return nil
}

// awaitFrame reads frames until match reports the one a handshake step is
// waiting for. Anything else is dispatched in arrival order so events
// interleaved with the handshake replies are not lost.
func (c *Conn) awaitFrame(ctx context.Context, sock socket, match func(Envelope) bool) (Envelope, error) {
	for {
		data, err := sock.Read(ctx)
		if err != nil {
			return Envelope{}, err
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return Envelope{}, fmt.Errorf("malformed frame")
		}
		if match(env) {
			return env, nil
		}
		c.dispatcher.dispatch(env, c.config.Identity.UserID)
	}
}

// Close shuts the connection down for good: no reconnect, pending acks
// failed, socket closed.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.intentionalClose = true
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	sock := c.sock
	c.sock = nil
	c.status = StatusDisconnected
	c.mu.Unlock()

	c.failPendingAcks()
	c.dispatcher.emitStatus(StatusDisconnected)
	c.dispatcher.emitDisconnected("client disconnect")

	if sock != nil {
		return sock.Close()
	}
	return nil
}

// Emit sends an event without waiting for acknowledgement.
func (c *Conn) Emit(event string, data any) error {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.config.AckTimeout)
	defer cancel()
	return writeEnvelope(ctx, sock, event, data, "")
}

// EmitWithAck sends an event and waits for the server frame carrying the
// same ackId.
func (c *Conn) EmitWithAck(ctx context.Context, event string, data any) (json.RawMessage, error) {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return nil, ErrNotConnected
	}

	ackID := c.nextAckID()
	ch := make(chan json.RawMessage, 1)
	c.pendingMu.Lock()
	c.pendingAcks[ackID] = ch
	c.pendingMu.Unlock()

	if err := writeEnvelope(ctx, sock, event, data, ackID); err != nil {
		c.dropPendingAck(ackID)
		return nil, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		return reply, nil
	case <-time.After(c.config.AckTimeout):
		c.dropPendingAck(ackID)
		return nil, fmt.Errorf("%s: ack timeout", event)
	case <-ctx.Done():
		c.dropPendingAck(ackID)
		return nil, ctx.Err()
	}
}

func (c *Conn) nextAckID() string {
	c.pendingMu.Lock()
	c.ackCounter++
	n := c.ackCounter
	c.pendingMu.Unlock()
	return fmt.Sprintf("ack-%d", n)
}

func (c *Conn) dropPendingAck(ackID string) {
	c.pendingMu.Lock()
	delete(c.pendingAcks, ackID)
	c.pendingMu.Unlock()
}

func (c *Conn) failPendingAcks() {
	c.pendingMu.Lock()
	for k, ch := range c.pendingAcks {
		close(ch)
		delete(c.pendingAcks, k)
	}
	c.pendingMu.Unlock()
}

func (c *Conn) readLoop(ctx context.Context, sock socket) {
	for {
		data, err := sock.Read(ctx)
		if err != nil {
			c.mu.Lock()
			intentional := c.intentionalClose
			c.mu.Unlock()
			if intentional {
				return
			}

			c.mu.Lock()
			c.status = StatusDisconnected
			c.sock = nil
			c.mu.Unlock()

			c.failPendingAcks()
			c.dispatcher.emitStatus(StatusDisconnected)
			c.dispatcher.emitDisconnected(err.Error())

			if c.config.AutoReconnect {
				c.kickReconnect()
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			c.dispatcher.mu.RLock()
			c.dispatcher.protocolError(fmt.Errorf("malformed frame"))
			c.dispatcher.mu.RUnlock()
			continue
		}

		// Frames answering an EmitWithAck are routed to the waiter and
		// not dispatched as events.
		if env.AckID != "" {
			c.pendingMu.Lock()
			ch, ok := c.pendingAcks[env.AckID]
			if ok {
				delete(c.pendingAcks, env.AckID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- env.Data
				continue
			}
		}

		c.dispatcher.dispatch(env, c.config.Identity.UserID)
	}
}

// kickReconnect starts the retry loop unless one is already running or the
// connection was closed on purpose.
func (c *Conn) kickReconnect() {
	c.mu.Lock()
	if c.intentionalClose || c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()
	go c.scheduleReconnect()
}

// scheduleReconnect retries forever until Close. The backoff doubles per
// attempt, capped at the configured max, and resets after the connection
// stays up for a minute.
func (c *Conn) scheduleReconnect() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()
	for {
		delay := c.recon.nextDelay()
		c.setStatus(StatusConnecting)

		time.Sleep(delay)

		c.mu.Lock()
		intentional := c.intentionalClose
		c.mu.Unlock()
		if intentional {
			return
		}

		c.mu.Lock()
		c.status = StatusDisconnected
		c.mu.Unlock()
		if err := c.connect(context.Background()); err == nil {
			return
		}
	}
}

func writeEnvelope(ctx context.Context, sock socket, event string, data any, ackID string) error {
	env := Envelope{Event: event, AckID: ackID}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		env.Data = raw
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return sock.Write(ctx, frame)
}
