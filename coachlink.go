// Package coachlink provides the Go client SDK for the CoachLink
// fitness-coaching platform.
//
// Covers the role-prefixed REST API (video calls, notifications, push
// tokens) and the realtime channel that multiplexes chat, community feed
// events, presence, and notifications over one persistent connection.
//
// Example:
//
//	api := coachlink.NewClient("jwt-token", coachlink.WithRole(coachlink.RoleClient))
//
//	session, _ := coachlink.NewSession(api, coachlink.Identity{
//		UserID: "u-42", Role: coachlink.RoleClient,
//	})
//	defer session.Close()
//
//	_ = session.Start(ctx)
//	_, _ = session.Messages.Send(coachlink.SendMessageInput{
//		ReceiverID: "t-7", Text: "ready for today's workout",
//	})
package coachlink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ============================================================================
// Environment
// ============================================================================

const (
	DefaultBaseURL = "https://api.coachlink.app"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST API client. It is safe for concurrent use.
type Client struct {
	token      string
	baseURL    string
	role       Role
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithRole sets the role prefix used for all REST paths. Defaults to client.
func WithRole(role Role) ClientOption {
	return func(c *Client) { c.role = role }
}

// NewClient creates a new CoachLink REST client.
// token may be empty for endpoints that accept anonymous access.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		role:    RoleClient,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets or updates the auth token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Role returns the role prefix this client addresses.
func (c *Client) Role() Role {
	return c.role
}

// rolePath prepends the role segment: "/client/notifications" etc.
func (c *Client) rolePath(path string) string {
	return "/" + string(c.role) + path
}

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*Result, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Result](data)
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// resultErr converts a non-OK Result into an error.
func resultErr(r *Result, fallback string) error {
	if r.OK {
		return nil
	}
	if r.Error != nil {
		return r.Error
	}
	return fmt.Errorf("%s", fallback)
}

// ============================================================================
// Video Call API
// ============================================================================

// FetchVideoCall returns the current server-side state of a call slot.
func (c *Client) FetchVideoCall(ctx context.Context, slotID string) (*VideoCall, error) {
	result, err := c.do(ctx, "GET", c.rolePath("/video-calls/"+slotID), nil, nil)
	if err != nil {
		return nil, err
	}
	if err := resultErr(result, "video call lookup failed"); err != nil {
		return nil, err
	}
	var call VideoCall
	if err := result.Decode(&call); err != nil {
		return nil, fmt.Errorf("failed to decode video call: %w", err)
	}
	return &call, nil
}

// StartVideoCall asks the server to start the room for a slot (trainer role).
func (c *Client) StartVideoCall(ctx context.Context, slotID string) (*VideoCall, error) {
	return c.callAction(ctx, slotID, "start")
}

// JoinVideoCall records the caller as joined on the server.
func (c *Client) JoinVideoCall(ctx context.Context, slotID string) (*VideoCall, error) {
	return c.callAction(ctx, slotID, "join")
}

// EndVideoCall ends the call for everyone.
func (c *Client) EndVideoCall(ctx context.Context, slotID string) (*VideoCall, error) {
	return c.callAction(ctx, slotID, "end")
}

func (c *Client) callAction(ctx context.Context, slotID, action string) (*VideoCall, error) {
	result, err := c.do(ctx, "POST", c.rolePath("/video-calls/"+slotID+"/"+action), nil, nil)
	if err != nil {
		return nil, err
	}
	if err := resultErr(result, "video call "+action+" failed"); err != nil {
		return nil, err
	}
	var call VideoCall
	if err := result.Decode(&call); err != nil {
		return nil, fmt.Errorf("failed to decode video call: %w", err)
	}
	return &call, nil
}

// ============================================================================
// Notification API
// ============================================================================

// FetchNotifications returns one page of notifications, most recent first.
func (c *Client) FetchNotifications(ctx context.Context, page, limit int) (*NotificationPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	result, err := c.do(ctx, "GET", c.rolePath("/notifications"), nil, map[string]string{
		"page":  fmt.Sprintf("%d", page),
		"limit": fmt.Sprintf("%d", limit),
	})
	if err != nil {
		return nil, err
	}
	if err := resultErr(result, "notification fetch failed"); err != nil {
		return nil, err
	}
	var pageData NotificationPage
	if err := result.Decode(&pageData); err != nil {
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}
	return &pageData, nil
}

// MarkNotificationRead flips one notification to read on the server.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	result, err := c.do(ctx, "PATCH", c.rolePath("/notifications/"+id+"/read"), nil, nil)
	if err != nil {
		return err
	}
	return resultErr(result, "mark notification read failed")
}

// UpdatePushToken registers or refreshes the device push-delivery token.
func (c *Client) UpdatePushToken(ctx context.Context, token, platform string) error {
	result, err := c.do(ctx, "PUT", c.rolePath("/push-token"), map[string]string{
		"token":    token,
		"platform": platform,
	}, nil)
	if err != nil {
		return err
	}
	return resultErr(result, "push token update failed")
}

// ============================================================================
// Health
// ============================================================================

// Health checks API availability.
func (c *Client) Health(ctx context.Context) (*Result, error) {
	return c.do(ctx, "GET", "/health", nil, nil)
}
