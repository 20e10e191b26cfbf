package coachlink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Device probe failures, classified so callers can show the right prompt.
var (
	ErrPermissionDenied = errors.New("coachlink: camera/microphone permission denied")
	ErrDeviceNotFound   = errors.New("coachlink: no camera or microphone found")
	ErrDeviceBusy       = errors.New("coachlink: camera or microphone in use by another application")
)

// DeviceProber checks that camera and microphone are usable before a call.
// Implementations should return one of the classified errors above.
type DeviceProber interface {
	Probe(ctx context.Context) error
}

// RoomHandle is a live connection to a video room.
type RoomHandle interface {
	Leave() error
}

// VideoSDK joins video rooms. The production implementation wraps the
// platform's WebRTC provider; tests inject a fake.
type VideoSDK interface {
	Join(ctx context.Context, roomName, token string) (RoomHandle, error)
}

// CallState is the client-side progress of one video call session. It is
// distinct from VideoCallStatus, which is the server's view of the slot.
type CallState string

const (
	CallIdle               CallState = "idle"
	CallWaitingPermissions CallState = "waiting_permissions"
	CallWaitingRoomStart   CallState = "waiting_room_start"
	CallWaitingJoinConfirm CallState = "waiting_join_confirm"
	CallActive             CallState = "active"
	CallFinished           CallState = "ended"
	CallFailed             CallState = "failed"
)

// DefaultCallPollInterval is how often the coordinator polls the REST API
// for slot state while waiting. Socket events usually arrive first; the
// poll covers sessions whose socket dropped mid-wait.
const DefaultCallPollInterval = 5 * time.Second

// RoomTokenTTL bounds how long a minted room token stays valid.
const RoomTokenTTL = 3600 * time.Second

// RoomToken mints the signed token the video provider expects for joining
// a room.
func RoomToken(secret []byte, roomName, userID, displayName string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"room": roomName,
		"sub":  userID,
		"name": displayName,
		"iat":  now.Unix(),
		"exp":  now.Add(RoomTokenTTL).Unix(),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign room token: %w", err)
	}
	return signed, nil
}

// CallOption configures a CallSession.
type CallOption func(*CallSession)

// WithDeviceProber sets the device preflight check.
func WithDeviceProber(p DeviceProber) CallOption {
	return func(c *CallSession) { c.prober = p }
}

// WithVideoSDK sets the room-joining implementation.
func WithVideoSDK(sdk VideoSDK) CallOption {
	return func(c *CallSession) { c.sdk = sdk }
}

// WithRoomSecret sets the signing secret for room tokens.
func WithRoomSecret(secret []byte) CallOption {
	return func(c *CallSession) { c.roomSecret = secret }
}

// WithPollInterval overrides the REST poll cadence.
func WithPollInterval(d time.Duration) CallOption {
	return func(c *CallSession) { c.pollInterval = d }
}

// CallSession coordinates one booked video call slot from both sides: the
// trainer starts the room, the client waits for it and joins. State is fed
// from two sources, the REST poll and socket events, and every transition
// is idempotent so the duplicate delivery of the same fact is harmless.
type CallSession struct {
	*notifier
	api  *Client
	em   Emitter
	self Identity

	slotID       string
	prober       DeviceProber
	sdk          VideoSDK
	roomSecret   []byte
	pollInterval time.Duration

	mu            sync.Mutex
	state         CallState
	roomName      string
	room          RoomHandle
	lastErr       error
	joinRequested bool
	stopPoll      context.CancelFunc
}

// NewCallSession creates a coordinator for one slot. It starts in CallIdle;
// call Prepare (client) or StartRoom (trainer).
func NewCallSession(api *Client, em Emitter, self Identity, slotID string, opts ...CallOption) *CallSession {
	c := &CallSession{
		notifier:     newNotifier(),
		api:          api,
		em:           em,
		self:         self,
		slotID:       slotID,
		pollInterval: DefaultCallPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SlotID returns the booked slot this session coordinates.
func (c *CallSession) SlotID() string { return c.slotID }

// State returns the current client-side call state.
func (c *CallSession) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RoomName returns the room once known, empty before.
func (c *CallSession) RoomName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomName
}

// Err returns the error that moved the session to CallFailed, if any.
func (c *CallSession) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Prepare runs the device preflight and starts waiting for the room. A
// permission failure is terminal; device-busy and not-found keep the
// session in CallWaitingPermissions so the user can retry after fixing the
// device.
func (c *CallSession) Prepare(ctx context.Context) error {
	c.setState(CallWaitingPermissions)

	if c.prober != nil {
		if err := c.prober.Probe(ctx); err != nil {
			if errors.Is(err, ErrPermissionDenied) {
				c.fail(err)
			} else {
				c.mu.Lock()
				c.lastErr = err
				c.mu.Unlock()
			}
			return err
		}
	}

	c.setState(CallWaitingRoomStart)
	c.startPolling()

	// The REST fetch covers the case where the trainer started the room
	// before this side got here.
	call, err := c.api.FetchVideoCall(ctx, c.slotID)
	if err == nil {
		c.applyServerState(call)
	}
	return nil
}

// StartRoom starts the call as the trainer: persist via REST, announce over
// the socket, then join the room directly.
func (c *CallSession) StartRoom(ctx context.Context) error {
	call, err := c.api.StartVideoCall(ctx, c.slotID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.roomName = call.RoomName
	c.mu.Unlock()

	if c.em != nil && c.em.Status() == StatusConnected {
		_ = c.em.Emit("startVideoCall", map[string]string{
			"slotId":   c.slotID,
			"userId":   c.self.UserID,
			"role":     string(c.self.Role),
			"roomName": call.RoomName,
		})
	}
	return c.join(ctx, call.RoomName)
}

// Join joins the call as the client. The room must have started; callers
// normally invoke this from the CallWaitingRoomStart→ready transition. A
// join failure leaves the confirmed progress in place so the user can
// retry.
func (c *CallSession) Join(ctx context.Context) error {
	c.mu.Lock()
	room := c.roomName
	state := c.state
	c.mu.Unlock()

	if state == CallActive {
		return nil
	}
	if room == "" {
		return fmt.Errorf("coachlink: room for slot %s has not started", c.slotID)
	}

	if _, err := c.api.JoinVideoCall(ctx, c.slotID); err != nil {
		return err
	}
	c.mu.Lock()
	c.joinRequested = true
	c.mu.Unlock()
	if c.em != nil && c.em.Status() == StatusConnected {
		_ = c.em.Emit("joinVideoCall", map[string]string{
			"slotId": c.slotID,
			"userId": c.self.UserID,
			"role":   string(c.self.Role),
		})
	}
	return c.join(ctx, room)
}

func (c *CallSession) join(ctx context.Context, roomName string) error {
	c.setState(CallWaitingJoinConfirm)

	if c.sdk == nil {
		c.activate(nil)
		return nil
	}
	token, err := RoomToken(c.roomSecret, roomName, c.self.UserID, c.self.DisplayName)
	if err != nil {
		return err
	}
	room, err := c.sdk.Join(ctx, roomName, token)
	if err != nil {
		// No state regression: the server-side join is confirmed, only
		// the media connection failed.
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		return err
	}
	c.activate(room)
	return nil
}

// End ends the call for both sides: persist via REST, announce, tear down
// the media connection, and stop the poll.
func (c *CallSession) End(ctx context.Context) error {
	if _, err := c.api.EndVideoCall(ctx, c.slotID); err != nil {
		return err
	}
	if c.em != nil && c.em.Status() == StatusConnected {
		_ = c.em.Emit("endVideoCall", map[string]string{
			"slotId": c.slotID,
			"userId": c.self.UserID,
			"role":   string(c.self.Role),
		})
	}
	c.finish()
	return nil
}

// HandleStarted ingests a videoCallStarted event, from the socket or the
// REST poll. Events for other slots are ignored; a session waiting for the
// room advances to CallWaitingJoinConfirm exactly once, on whichever source
// delivers the fact first, and repeats are no-ops.
func (c *CallSession) HandleStarted(slotID, roomName string) {
	if slotID != c.slotID {
		return
	}
	c.mu.Lock()
	if c.state == CallActive || c.state == CallFinished {
		c.mu.Unlock()
		return
	}
	if roomName != "" {
		c.roomName = roomName
	}
	advanced := c.state == CallWaitingRoomStart && c.roomName != ""
	if advanced {
		c.state = CallWaitingJoinConfirm
	}
	c.mu.Unlock()
	if advanced {
		c.notify("call.state", CallWaitingJoinConfirm)
		c.notify("call.room_started", roomName)
	}
}

// HandleJoined ingests a videoCallJoined confirmation. The broadcast carries
// no user id, so it only confirms a join this side actually requested; the
// trainer's own join echo must not activate a client that never joined.
func (c *CallSession) HandleJoined(slotID string) {
	if slotID != c.slotID {
		return
	}
	c.mu.Lock()
	confirm := c.joinRequested && c.state == CallWaitingJoinConfirm
	c.mu.Unlock()
	if confirm {
		c.activate(nil)
	}
}

// HandleEnded ingests a videoCallEnded event, tearing the session down.
func (c *CallSession) HandleEnded(slotID string, status VideoCallStatus) {
	if slotID != c.slotID {
		return
	}
	c.finish()
}

// Close tears the session down without ending the call server-side, for
// teardown paths where the call may continue on other devices.
func (c *CallSession) Close() {
	c.mu.Lock()
	if c.stopPoll != nil {
		c.stopPoll()
		c.stopPoll = nil
	}
	room := c.room
	c.room = nil
	if c.state != CallFinished && c.state != CallFailed {
		c.state = CallIdle
	}
	c.mu.Unlock()
	if room != nil {
		_ = room.Leave()
	}
}

func (c *CallSession) startPolling() {
	c.mu.Lock()
	if c.stopPoll != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.stopPoll = cancel
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				state := c.state
				c.mu.Unlock()
				if state == CallActive || state == CallFinished || state == CallFailed {
					return
				}
				fetchCtx, cancelFetch := context.WithTimeout(ctx, DefaultCallPollInterval)
				call, err := c.api.FetchVideoCall(fetchCtx, c.slotID)
				cancelFetch()
				if err == nil {
					c.applyServerState(call)
				}
			}
		}
	}()
}

// applyServerState folds a REST snapshot into the state machine. The same
// transitions as the socket handlers, so either source alone is enough.
func (c *CallSession) applyServerState(call *VideoCall) {
	switch call.Status {
	case VideoCallStarted:
		c.HandleStarted(call.SlotID, call.RoomName)
	case VideoCallEnded:
		c.HandleEnded(call.SlotID, call.Status)
	}
}

func (c *CallSession) setState(s CallState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.notify("call.state", s)
	}
}

func (c *CallSession) activate(room RoomHandle) {
	c.mu.Lock()
	if c.state == CallActive {
		if room != nil {
			c.room = room
		}
		c.mu.Unlock()
		return
	}
	c.state = CallActive
	if room != nil {
		c.room = room
	}
	stop := c.stopPoll
	c.stopPoll = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
	c.notify("call.state", CallActive)
}

func (c *CallSession) finish() {
	c.mu.Lock()
	if c.state == CallFinished {
		c.mu.Unlock()
		return
	}
	c.state = CallFinished
	room := c.room
	c.room = nil
	stop := c.stopPoll
	c.stopPoll = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
	if room != nil {
		_ = room.Leave()
	}
	c.notify("call.state", CallFinished)
}

func (c *CallSession) fail(err error) {
	c.mu.Lock()
	c.state = CallFailed
	c.lastErr = err
	stop := c.stopPoll
	c.stopPoll = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
	c.notify("call.state", CallFailed)
}
